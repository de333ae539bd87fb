package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pribylovaa/exam-auth/internal/metrics"
	"github.com/pribylovaa/exam-auth/internal/models"
	"github.com/pribylovaa/exam-auth/internal/pkg/log"
	"github.com/pribylovaa/exam-auth/internal/ratelimit"
	"github.com/pribylovaa/exam-auth/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

// capHandler - тестовый slog.Handler, который:
//   - аккумулирует базовые attrs, приходящие через Logger.With(...);
//   - собирает attrs из каждой записи в map[string]any.
type capHandler struct {
	base    []slog.Attr
	lastMsg string
	attrs   map[string]any
	count   int
}

func (h *capHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *capHandler) Handle(_ context.Context, r slog.Record) error {
	out := make(map[string]any, len(h.base)+8)

	for _, a := range h.base {
		out[a.Key] = a.Value.Any()
	}

	r.Attrs(func(a slog.Attr) bool {
		out[a.Key] = a.Value.Any()
		return true
	})

	h.count++
	h.lastMsg = r.Message
	h.attrs = out

	return nil
}

func (h *capHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) > 0 {
		h.base = append(h.base, attrs...)
	}

	return h
}

func (h *capHandler) WithGroup(string) slog.Handler { return h }

func makeReq(target string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.RemoteAddr = (&net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 12345}).String()
	return req
}

type errEnvelope struct {
	Success          bool   `json:"success"`
	Error            string `json:"error"`
	Code             string `json:"code"`
	RequestID        string `json:"request_id"`
	SecondsRemaining int    `json:"seconds_remaining"`
}

func decodeErr(t *testing.T, rr *httptest.ResponseRecorder) errEnvelope {
	t.Helper()
	var env errEnvelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	return env
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestChain_Order(t *testing.T) {
	order := []string{}

	m1 := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			order = append(order, "m1-begin")
			next.ServeHTTP(w, r)
			order = append(order, "m1-end")
		})
	}

	m2 := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			order = append(order, "m2-begin")
			next.ServeHTTP(w, r)
			order = append(order, "m2-end")
		})
	}

	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
		w.WriteHeader(http.StatusTeapot)
	})

	chain := Chain(final, m1, m2)
	rr := httptest.NewRecorder()
	chain.ServeHTTP(rr, makeReq("/chain"))

	require.Equal(t, []string{"m1-begin", "m2-begin", "handler", "m2-end", "m1-end"}, order)
	require.Equal(t, http.StatusTeapot, rr.Code)
}

func TestRequestID_GenerateAndPropagate(t *testing.T) {
	var seenID, seenCtxID string

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = r.Header.Get(HeaderRequestID)
		seenCtxID = RequestIDFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	rr := httptest.NewRecorder()
	Chain(h, RequestID()).ServeHTTP(rr, makeReq("/rid"))

	respID := rr.Header().Get(HeaderRequestID)
	_, err := uuid.Parse(respID)
	require.NoError(t, err)
	require.Equal(t, respID, seenID)
	require.Equal(t, respID, seenCtxID)
}

func TestRequestID_UseExisting(t *testing.T) {
	const given = "abc123-existing-id"
	var seenCtxID string

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenCtxID = RequestIDFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	rr := httptest.NewRecorder()
	req := makeReq("/rid2")
	req.Header.Set(HeaderRequestID, given)
	Chain(h, RequestID()).ServeHTTP(rr, req)

	require.Equal(t, given, rr.Header().Get(HeaderRequestID))
	require.Equal(t, given, seenCtxID)
}

func TestTimeout_SetsDeadline_WhenAbsent(t *testing.T) {
	var hasDeadline bool

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasDeadline = r.Context().Deadline()
		w.WriteHeader(http.StatusOK)
	})

	rr := httptest.NewRecorder()
	Chain(h, Timeout(50*time.Millisecond)).ServeHTTP(rr, makeReq("/timeout"))

	require.True(t, hasDeadline)
}

func TestTimeout_DoesNotOverrideExistingDeadline(t *testing.T) {
	var childDL time.Time

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		childDL, _ = r.Context().Deadline()
		w.WriteHeader(http.StatusOK)
	})

	parent, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req := makeReq("/timeout2").WithContext(parent)

	rr := httptest.NewRecorder()
	Chain(h, Timeout(time.Second)).ServeHTTP(rr, req)

	parentDL, _ := parent.Deadline()
	require.WithinDuration(t, parentDL, childDL, time.Millisecond)
}

func TestTimeout_LogsWhenDeadlineExceeded(t *testing.T) {
	h := &capHandler{}

	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	rr := httptest.NewRecorder()
	Chain(slow, Logging(slog.New(h)), Timeout(10*time.Millisecond)).ServeHTTP(rr, makeReq("/auth/login"))

	require.Equal(t, 2, h.count)
	require.Equal(t, "http", h.lastMsg)
	require.Equal(t, true, h.attrs["deadline_exceeded"])
	require.Equal(t, "/auth/login", h.attrs["path"])
	require.EqualValues(t, http.StatusServiceUnavailable, h.attrs["status"])
}

func TestTimeout_SilentWhenHandlerInTime(t *testing.T) {
	h := &capHandler{}

	rr := httptest.NewRecorder()
	Chain(okHandler, Logging(slog.New(h)), Timeout(time.Second)).ServeHTTP(rr, makeReq("/fast"))

	require.Equal(t, 1, h.count)
	_, tagged := h.attrs["deadline_exceeded"]
	require.False(t, tagged)
}

func TestRealIP_OnlyFromTrustedProxies(t *testing.T) {
	var seen string
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = clientIP(r)
	})

	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}

	cases := []struct {
		name    string
		trusted []netip.Prefix
		remote  string
		want    string
	}{
		{"no trusted list", nil, "10.1.1.1:4000", "10.1.1.1"},
		{"untrusted socket", trusted, "192.0.2.7:4000", "192.0.2.7"},
		{"trusted proxy", trusted, "10.1.1.1:4000", "203.0.113.5"},
		{"mapped ipv4 proxy", trusted, "[::ffff:10.1.1.1]:4000", "203.0.113.5"},
	}

	for _, tc := range cases {
		req := makeReq("/auth/login")
		req.RemoteAddr = tc.remote
		req.Header.Set("X-Forwarded-For", "203.0.113.5")

		Chain(h, RealIP(tc.trusted)).ServeHTTP(httptest.NewRecorder(), req)
		require.Equal(t, tc.want, seen, tc.name)
	}
}

func TestRecover_ConvertsPanicTo500(t *testing.T) {
	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	rr := httptest.NewRecorder()
	Chain(panicHandler, Recover()).ServeHTTP(rr, makeReq("/panic"))

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	env := decodeErr(t, rr)
	require.False(t, env.Success)
	require.Equal(t, "internal", env.Code)
	require.NotContains(t, env.Error, "boom")
}

func TestLogging_WritesRecord_WithStatusDurBytesAndRequestID(t *testing.T) {
	h := &capHandler{}
	logger := slog.New(h)

	const rid = "rid-456"
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("0123456789"))
	})

	handler := Chain(final, RequestID(), Logging(logger))

	rr := httptest.NewRecorder()
	req := makeReq("/log")
	req.Header.Set(HeaderRequestID, rid)
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 1, h.count)
	require.Equal(t, "http", h.lastMsg)

	require.Equal(t, http.MethodGet, h.attrs["method"])
	require.Equal(t, "/log", h.attrs["path"])
	require.EqualValues(t, http.StatusOK, h.attrs["status"])
	require.EqualValues(t, 10, h.attrs["bytes"])
	require.Equal(t, rid, h.attrs["request_id"])
	require.Equal(t, "127.0.0.1", h.attrs["ip"])

	_, hasDur := h.attrs["dur"]
	require.True(t, hasDur)
}

func TestStatusWriter_CountsBytes_AndDefaultStatus200(t *testing.T) {
	rr := httptest.NewRecorder()
	sw := newStatusWriter(rr)

	_, _ = sw.Write([]byte("abcd"))

	require.Equal(t, http.StatusOK, sw.Status())
	require.Equal(t, 4, sw.count)
	require.Same(t, sw, newStatusWriter(sw))
}

func TestRateLimit_RejectsOverLimitPerClient(t *testing.T) {
	clk := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l := ratelimit.NewMemory(2, 15*time.Minute, func() time.Time { return clk })
	reg := prometheus.NewRegistry()

	handler := Chain(okHandler, RateLimit("auth", l, metrics.New(reg)))

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, makeReq("/auth/login"))
		require.Equal(t, http.StatusOK, rr.Code)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, makeReq("/auth/login"))
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	require.Equal(t, "900", rr.Header().Get("Retry-After"))

	env := decodeErr(t, rr)
	require.Equal(t, "rate_limited", env.Code)
	require.Equal(t, 900, env.SecondsRemaining)
	require.Equal(t, 1.0, counterValue(t, reg, "exam_auth_rate_limited_total", "scope", "auth"))

	// Другой клиент считается отдельно.
	other := makeReq("/auth/login")
	other.RemoteAddr = "10.0.0.2:5555"
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, other)
	require.Equal(t, http.StatusOK, rr.Code)
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (ratelimit.Result, error) {
	return ratelimit.Result{}, errors.New("redis down")
}

func TestRateLimit_FailsOpen(t *testing.T) {
	rr := httptest.NewRecorder()
	Chain(okHandler, RateLimit("codes", failingLimiter{}, nil)).ServeHTTP(rr, makeReq("/otp/send-otp"))
	require.Equal(t, http.StatusOK, rr.Code)
}

type fakeAuth struct {
	token string
	p     *models.Principal
	err   error
}

func (f *fakeAuth) Authenticate(_ context.Context, token string) (*models.Principal, error) {
	f.token = token
	return f.p, f.err
}

type fakeRoles struct {
	admins map[uuid.UUID]bool
}

func (f fakeRoles) RequireRole(_ context.Context, id uuid.UUID, role string) error {
	if role == models.RoleAdmin && f.admins[id] {
		return nil
	}
	return service.ErrForbidden
}

func TestAuthenticate_AttachesPrincipal(t *testing.T) {
	p := &models.Principal{UserID: uuid.New(), Email: "a@x.com", SessionID: uuid.New()}
	a := &fakeAuth{p: p}

	var seen *models.Principal
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = PrincipalFrom(r.Context())
		log.From(r.Context()).Info("inside")
		w.WriteHeader(http.StatusOK)
	})

	capLog := &capHandler{}
	req := makeReq("/user/profile")
	req.Header.Set("Authorization", "Bearer tok-123")
	req = req.WithContext(log.Into(req.Context(), slog.New(capLog)))

	rr := httptest.NewRecorder()
	Chain(h, Authenticate(a)).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "tok-123", a.token)
	require.Equal(t, p, seen)
	require.Equal(t, p.UserID.String(), capLog.attrs["user_id"])
}

func TestLogging_FinalRecordCarriesPrincipal(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	p := &models.Principal{UserID: uuid.New(), Email: "a@x.com", SessionID: uuid.New()}
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	req := makeReq("/user/profile")
	req.Header.Set("Authorization", "Bearer tok")

	rr := httptest.NewRecorder()
	Chain(final, Logging(logger), Authenticate(&fakeAuth{p: p})).ServeHTTP(rr, req)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	var rec map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &rec))

	require.Equal(t, "http", rec["msg"])
	require.Equal(t, p.UserID.String(), rec["user_id"])
	require.Equal(t, p.SessionID.String(), rec["session_id"])
}

func TestLogging_LevelByStatus(t *testing.T) {
	require.Equal(t, slog.LevelInfo, levelFor(http.StatusOK))
	require.Equal(t, slog.LevelWarn, levelFor(http.StatusUnauthorized))
	require.Equal(t, slog.LevelError, levelFor(http.StatusInternalServerError))
}

func TestAuthenticate_Rejections(t *testing.T) {
	tcs := []struct {
		name   string
		header string
		err    error
		code   string
	}{
		{"no header", "", service.ErrMissingToken, "missing_token"},
		{"basic auth", "Basic abc", service.ErrMissingToken, "missing_token"},
		{"superseded", "Bearer t", service.ErrSessionInvalid, "session_invalid"},
		{"expired", "Bearer t", service.ErrSessionExpired, "session_expired"},
		{"wrong type", "Bearer t", service.ErrWrongTokenType, "wrong_token_type"},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			a := &fakeAuth{err: tc.err}
			req := makeReq("/user/profile")
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}

			rr := httptest.NewRecorder()
			Chain(okHandler, Authenticate(a)).ServeHTTP(rr, req)

			require.Equal(t, http.StatusUnauthorized, rr.Code)
			require.Equal(t, tc.code, decodeErr(t, rr).Code)
			if tc.header == "" || tc.header == "Basic abc" {
				require.Empty(t, a.token)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	admin := &models.Principal{UserID: uuid.New()}
	student := &models.Principal{UserID: uuid.New()}
	roles := fakeRoles{admins: map[uuid.UUID]bool{admin.UserID: true}}

	handler := Chain(okHandler, RequireRole(roles, models.RoleAdmin))

	rr := httptest.NewRecorder()
	req := makeReq("/admin")
	handler.ServeHTTP(rr, req.WithContext(WithPrincipal(req.Context(), admin)))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req.WithContext(WithPrincipal(req.Context(), student)))
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, makeReq("/admin"))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestMetrics_UsesRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()

	r := chi.NewRouter()
	r.Use(Metrics(metrics.New(reg)))
	r.Get("/admin/users/{id}/sessions", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, makeReq("/admin/users/"+uuid.NewString()+"/sessions"))
	require.Equal(t, http.StatusNoContent, rr.Code)

	require.Equal(t, 1.0, counterValue(t, reg, "exam_auth_http_requests_total",
		"route", "/admin/users/{id}/sessions"))
}

// counterValue ищет в реестре счётчик name с меткой label=value.
func counterValue(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()

	mfs, err := reg.Gather()
	require.NoError(t, err)

	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}

	return 0
}
