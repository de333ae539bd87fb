package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/pribylovaa/exam-auth/internal/mocks"
	"github.com/pribylovaa/exam-auth/internal/models"
	"github.com/pribylovaa/exam-auth/internal/storage"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newMockSvc(t *testing.T) (*Service, *mocks.MockStorage, *mocks.MockCodeManager) {
	t.Helper()
	ctrl := gomock.NewController(t)
	st := mocks.NewMockStorage(ctrl)
	cm := mocks.NewMockCodeManager(ctrl)
	clk := newFakeClock()
	svc := New(st, cm, testCfg(), WithClock(clk.Now))
	t.Cleanup(svc.Wait)
	return svc, st, cm
}

func mustHashPW(t *testing.T, pw string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func TestSignup_Validation(t *testing.T) {
	t.Parallel()

	svc, _, _ := newMockSvc(t)

	cases := []struct {
		name   string
		mutate func(*SignupInput)
		want   error
	}{
		{"empty name", func(in *SignupInput) { in.Name = "  " }, ErrNameRequired},
		{"bad email", func(in *SignupInput) { in.Email = "not-an-email" }, ErrInvalidEmail},
		{"display name email", func(in *SignupInput) { in.Email = "Bob <a@x.com>" }, ErrInvalidEmail},
		{"short username", func(in *SignupInput) { in.Username = "bo" }, ErrInvalidUsername},
		{"empty phone", func(in *SignupInput) { in.Phone = "" }, ErrPhoneRequired},
		{"short password", func(in *SignupInput) { in.Password = "12345" }, ErrWeakPassword},
	}

	for _, tc := range cases {
		in := bob()
		tc.mutate(&in)

		_, err := svc.Signup(context.Background(), in, ClientInfo{})
		require.ErrorIs(t, err, tc.want, tc.name)
		require.ErrorIs(t, err, ErrValidation, tc.name)
	}
}

func TestSignup_ConflictOnLookup(t *testing.T) {
	t.Parallel()

	existing := &models.Account{ID: uuid.New()}

	t.Run("email", func(t *testing.T) {
		svc, st, _ := newMockSvc(t)
		st.EXPECT().AccountByEmail(gomock.Any(), "a@x.com").Return(existing, nil)

		_, err := svc.Signup(context.Background(), bob(), ClientInfo{})
		require.ErrorIs(t, err, ErrEmailTaken)
	})

	t.Run("username", func(t *testing.T) {
		svc, st, _ := newMockSvc(t)
		st.EXPECT().AccountByEmail(gomock.Any(), "a@x.com").Return(nil, storage.ErrNotFound)
		st.EXPECT().AccountByUsername(gomock.Any(), "bob").Return(existing, nil)

		_, err := svc.Signup(context.Background(), bob(), ClientInfo{})
		require.ErrorIs(t, err, ErrUsernameTaken)
	})

	t.Run("phone", func(t *testing.T) {
		svc, st, _ := newMockSvc(t)
		st.EXPECT().AccountByEmail(gomock.Any(), "a@x.com").Return(nil, storage.ErrNotFound)
		st.EXPECT().AccountByUsername(gomock.Any(), "bob").Return(nil, storage.ErrNotFound)
		st.EXPECT().AccountByPhone(gomock.Any(), "111").Return(existing, nil)

		_, err := svc.Signup(context.Background(), bob(), ClientInfo{})
		require.ErrorIs(t, err, ErrPhoneTaken)
	})
}

func TestSignup_DuplicateOnInsert_MappedByField(t *testing.T) {
	t.Parallel()

	svc, st, _ := newMockSvc(t)

	st.EXPECT().AccountByEmail(gomock.Any(), gomock.Any()).Return(nil, storage.ErrNotFound)
	st.EXPECT().AccountByUsername(gomock.Any(), gomock.Any()).Return(nil, storage.ErrNotFound)
	st.EXPECT().AccountByPhone(gomock.Any(), gomock.Any()).Return(nil, storage.ErrNotFound)
	// Параллельная регистрация успела занять username между проверкой и вставкой.
	st.EXPECT().SaveAccount(gomock.Any(), gomock.Any()).
		Return(&storage.DuplicateError{Field: storage.FieldUsername})

	_, err := svc.Signup(context.Background(), bob(), ClientInfo{})
	require.ErrorIs(t, err, ErrUsernameTaken)
}

func TestSignup_StorageError_Propagated(t *testing.T) {
	t.Parallel()

	svc, st, _ := newMockSvc(t)
	dbErr := errors.New("db down")
	st.EXPECT().AccountByEmail(gomock.Any(), "a@x.com").Return(nil, dbErr)

	_, err := svc.Signup(context.Background(), bob(), ClientInfo{})
	require.ErrorIs(t, err, dbErr)
}

func TestSignup_OK_NormalizesAndDispatchesCode(t *testing.T) {
	t.Parallel()

	svc, st, cm := newMockSvc(t)

	in := bob()
	in.Email = "  A@X.com "
	in.Username = "Bob"

	st.EXPECT().AccountByEmail(gomock.Any(), "a@x.com").Return(nil, storage.ErrNotFound)
	st.EXPECT().AccountByUsername(gomock.Any(), "bob").Return(nil, storage.ErrNotFound)
	st.EXPECT().AccountByPhone(gomock.Any(), "111").Return(nil, storage.ErrNotFound)

	var saved *models.Account
	st.EXPECT().SaveAccount(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, acc *models.Account) error {
			saved = acc
			return nil
		})

	var sess *models.Session
	st.EXPECT().ReplaceSessions(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, s *models.Session) (int64, error) {
			sess = s
			return 0, nil
		})

	cm.EXPECT().Issue(gomock.Any(), models.PurposeVerification, "a@x.com", "Bob").
		Return(nil, errors.New("smtp down"))

	res, err := svc.Signup(context.Background(), in, ClientInfo{UserAgent: "ua", IP: "10.0.0.1"})
	require.NoError(t, err)
	svc.Wait()

	require.Equal(t, "a@x.com", saved.Email)
	require.Equal(t, "bob", saved.Username)
	require.Equal(t, models.RoleStudent, saved.Role)
	require.False(t, saved.EmailVerified)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(saved.PasswordHash), []byte("secret1")))

	require.Equal(t, res.SessionID, sess.ID)
	require.Equal(t, saved.ID, sess.UserID)
	require.Equal(t, hashToken(res.Tokens.RefreshToken), sess.RefreshTokenHash)
	require.Equal(t, "ua", sess.UserAgent)
	require.Equal(t, "10.0.0.1", sess.IPAddress)
	require.NotEmpty(t, res.Tokens.AccessToken)
}

// Вход, успевший между вставкой учётной записи и открытием сессии, не ломает
// регистрацию: его сессия вытесняется.
func TestSignup_SupersedesConcurrentLoginSession(t *testing.T) {
	t.Parallel()

	svc, st, cm := newMockSvc(t)

	st.EXPECT().AccountByEmail(gomock.Any(), "a@x.com").Return(nil, storage.ErrNotFound)
	st.EXPECT().AccountByUsername(gomock.Any(), "bob").Return(nil, storage.ErrNotFound)
	st.EXPECT().AccountByPhone(gomock.Any(), "111").Return(nil, storage.ErrNotFound)
	st.EXPECT().SaveAccount(gomock.Any(), gomock.Any()).Return(nil)
	st.EXPECT().ReplaceSessions(gomock.Any(), gomock.Any()).Return(int64(1), nil)
	cm.EXPECT().Issue(gomock.Any(), models.PurposeVerification, "a@x.com", "Bob").Return(nil, nil).AnyTimes()

	res, err := svc.Signup(context.Background(), bob(), ClientInfo{})
	require.NoError(t, err)
	require.NotEmpty(t, res.Tokens.RefreshToken)
}

func TestLogin_InvalidCredentials_Undifferentiated(t *testing.T) {
	t.Parallel()

	svc, st, _ := newMockSvc(t)
	acc := &models.Account{ID: uuid.New(), Email: "a@x.com", PasswordHash: mustHashPW(t, "secret1")}

	st.EXPECT().AccountByEmail(gomock.Any(), "ghost@x.com").Return(nil, storage.ErrNotFound)
	_, errMissing := svc.Login(context.Background(), "ghost@x.com", "secret1", ClientInfo{})

	st.EXPECT().AccountByEmail(gomock.Any(), "a@x.com").Return(acc, nil)
	_, errWrong := svc.Login(context.Background(), "A@x.com", "wrong-pw", ClientInfo{})

	require.ErrorIs(t, errMissing, ErrInvalidCredentials)
	require.ErrorIs(t, errWrong, ErrInvalidCredentials)
	require.Equal(t, errMissing.Error(), errWrong.Error())
}

// Для несуществующего логина bcrypt тоже выполняется, поэтому промах по
// учётной записи по времени не отличается от неверного пароля.
func TestLogin_UnknownAccount_SpendsBcrypt(t *testing.T) {
	ctrl := gomock.NewController(t)
	st := mocks.NewMockStorage(ctrl)
	cfg := testCfg()
	cfg.BcryptCost = 10
	svc := New(st, nil, cfg)
	t.Cleanup(svc.Wait)

	cost, err := bcrypt.Cost(svc.dummyHash)
	require.NoError(t, err)
	require.Equal(t, cfg.BcryptCost, cost)

	hash, err := bcrypt.GenerateFromPassword([]byte("secret1"), cfg.BcryptCost)
	require.NoError(t, err)
	acc := &models.Account{ID: uuid.New(), Email: "a@x.com", PasswordHash: string(hash)}

	st.EXPECT().AccountByEmail(gomock.Any(), "a@x.com").Return(acc, nil)
	start := time.Now()
	_, err = svc.Login(context.Background(), "a@x.com", "wrong-pw", ClientInfo{})
	wrongPW := time.Since(start)
	require.ErrorIs(t, err, ErrInvalidCredentials)

	st.EXPECT().AccountByEmail(gomock.Any(), "ghost@x.com").Return(nil, storage.ErrNotFound)
	start = time.Now()
	_, err = svc.Login(context.Background(), "ghost@x.com", "wrong-pw", ClientInfo{})
	missing := time.Since(start)
	require.ErrorIs(t, err, ErrInvalidCredentials)

	require.Greater(t, missing, wrongPW/4)
}

func TestLogin_ByUsername_ReplacesSessions(t *testing.T) {
	t.Parallel()

	svc, st, _ := newMockSvc(t)
	acc := &models.Account{ID: uuid.New(), Email: "a@x.com", Username: "bob", PasswordHash: mustHashPW(t, "secret1")}

	st.EXPECT().AccountByUsername(gomock.Any(), "bob").Return(acc, nil)
	st.EXPECT().ReplaceSessions(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, s *models.Session) (int64, error) {
			require.Equal(t, acc.ID, s.UserID)
			return 2, nil
		})

	res, err := svc.Login(context.Background(), " BOB ", "secret1", ClientInfo{})
	require.NoError(t, err)
	require.Equal(t, acc.ID, res.Account.ID)
}

func TestLogin_MissingFields(t *testing.T) {
	t.Parallel()

	svc, _, _ := newMockSvc(t)

	_, err := svc.Login(context.Background(), "  ", "secret1", ClientInfo{})
	require.ErrorIs(t, err, ErrIdentifierRequired)

	_, err = svc.Login(context.Background(), "bob", "", ClientInfo{})
	require.ErrorIs(t, err, ErrPasswordRequired)
}

func TestLogout_FallbackByRefreshHash(t *testing.T) {
	t.Parallel()

	svc, st, _ := newMockSvc(t)

	st.EXPECT().DeleteSessionByRefreshHash(gomock.Any(), hashToken("garbage")).Return(false, nil)
	svc.Logout(context.Background(), "garbage")

	// Пустой токен хранилище не трогает.
	svc.Logout(context.Background(), "")
}

func TestLogout_StorageErrorSwallowed(t *testing.T) {
	t.Parallel()

	svc, st, _ := newMockSvc(t)

	uid, sid := uuid.New(), uuid.New()
	tok, _, err := svc.IssueRefresh(uid, "a@x.com", sid)
	require.NoError(t, err)

	st.EXPECT().DeleteSession(gomock.Any(), sid).Return(false, errors.New("db down"))
	svc.Logout(context.Background(), tok)
}

func TestResetPassword_RequiresVerifiedCode(t *testing.T) {
	t.Parallel()

	svc, st, cm := newMockSvc(t)
	acc := &models.Account{ID: uuid.New(), Email: "a@x.com"}

	st.EXPECT().AccountByEmail(gomock.Any(), "a@x.com").Return(acc, nil)
	cm.EXPECT().Verified(gomock.Any(), models.PurposeOTP, "a@x.com").Return(false, nil)

	err := svc.ResetPassword(context.Background(), "a@x.com", "newpass")
	require.ErrorIs(t, err, ErrResetNotAuthorized)
}

// Код гасится только после того, как новый пароль записан.
func TestResetPassword_ConsumesCodeAfterUpdate(t *testing.T) {
	t.Parallel()

	svc, st, cm := newMockSvc(t)
	acc := &models.Account{ID: uuid.New(), Email: "a@x.com"}

	st.EXPECT().AccountByEmail(gomock.Any(), "a@x.com").Return(acc, nil)
	gomock.InOrder(
		cm.EXPECT().Verified(gomock.Any(), models.PurposeOTP, "a@x.com").Return(true, nil),
		st.EXPECT().UpdatePasswordHash(gomock.Any(), "a@x.com", gomock.Any(), gomock.Any()).Return(nil),
		cm.EXPECT().Consume(gomock.Any(), models.PurposeOTP, "a@x.com").Return(true, nil),
	)

	require.NoError(t, svc.ResetPassword(context.Background(), "a@x.com", "newpass"))
}

// Если пароль не удалось записать, подтверждённый код остаётся в силе.
func TestResetPassword_UpdateFailure_KeepsCode(t *testing.T) {
	t.Parallel()

	svc, st, cm := newMockSvc(t)
	acc := &models.Account{ID: uuid.New(), Email: "a@x.com"}
	dbErr := errors.New("db down")

	st.EXPECT().AccountByEmail(gomock.Any(), "a@x.com").Return(acc, nil)
	cm.EXPECT().Verified(gomock.Any(), models.PurposeOTP, "a@x.com").Return(true, nil)
	st.EXPECT().UpdatePasswordHash(gomock.Any(), "a@x.com", gomock.Any(), gomock.Any()).Return(dbErr)
	cm.EXPECT().Consume(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	err := svc.ResetPassword(context.Background(), "a@x.com", "newpass")
	require.ErrorIs(t, err, dbErr)
}

// Параллельный сброс успел погасить код: пароль уже сменён, ошибки нет.
func TestResetPassword_ConsumeLostRace_StillSucceeds(t *testing.T) {
	t.Parallel()

	svc, st, cm := newMockSvc(t)
	acc := &models.Account{ID: uuid.New(), Email: "a@x.com"}

	st.EXPECT().AccountByEmail(gomock.Any(), "a@x.com").Return(acc, nil)
	cm.EXPECT().Verified(gomock.Any(), models.PurposeOTP, "a@x.com").Return(true, nil)
	st.EXPECT().UpdatePasswordHash(gomock.Any(), "a@x.com", gomock.Any(), gomock.Any()).Return(nil)
	cm.EXPECT().Consume(gomock.Any(), models.PurposeOTP, "a@x.com").Return(false, nil)

	require.NoError(t, svc.ResetPassword(context.Background(), "a@x.com", "newpass"))
}

func TestResetPassword_UnknownUser(t *testing.T) {
	t.Parallel()

	svc, st, _ := newMockSvc(t)
	st.EXPECT().AccountByEmail(gomock.Any(), "ghost@x.com").Return(nil, storage.ErrNotFound)

	err := svc.ResetPassword(context.Background(), "ghost@x.com", "newpass")
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestResetPassword_Validation(t *testing.T) {
	t.Parallel()

	svc, _, _ := newMockSvc(t)

	require.ErrorIs(t, svc.ResetPassword(context.Background(), "nope", "newpass"), ErrInvalidEmail)
	require.ErrorIs(t, svc.ResetPassword(context.Background(), "a@x.com", "123"), ErrWeakPassword)
}

func TestUpdateProfile_Rules(t *testing.T) {
	t.Parallel()

	svc, st, _ := newMockSvc(t)
	uid := uuid.New()
	blank, short, taken := "   ", "ab", "Taken"

	_, err := svc.UpdateProfile(context.Background(), uid, models.ProfileUpdate{Name: &blank})
	require.ErrorIs(t, err, ErrEmptyProfileUpdate)

	_, err = svc.UpdateProfile(context.Background(), uid, models.ProfileUpdate{Username: &short})
	require.ErrorIs(t, err, ErrInvalidUsername)

	st.EXPECT().UpdateProfile(gomock.Any(), uid, gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ uuid.UUID, upd models.ProfileUpdate, _ time.Time) (*models.Account, error) {
			require.Equal(t, "taken", *upd.Username)
			return nil, &storage.DuplicateError{Field: storage.FieldUsername}
		})

	_, err = svc.UpdateProfile(context.Background(), uid, models.ProfileUpdate{Username: &taken})
	require.ErrorIs(t, err, ErrUsernameTaken)
}

func TestRequireRole(t *testing.T) {
	t.Parallel()

	svc, st, _ := newMockSvc(t)
	admin := &models.Account{ID: uuid.New(), Role: models.RoleAdmin}
	student := &models.Account{ID: uuid.New(), Role: models.RoleStudent, Username: "admin"}

	st.EXPECT().AccountByID(gomock.Any(), admin.ID).Return(admin, nil)
	st.EXPECT().AccountByID(gomock.Any(), student.ID).Return(student, nil)

	require.NoError(t, svc.RequireRole(context.Background(), admin.ID, models.RoleAdmin))
	// Слово admin в username прав не даёт.
	require.ErrorIs(t, svc.RequireRole(context.Background(), student.ID, models.RoleAdmin), ErrForbidden)
}

func TestVerifyCode_FormatCheckedBeforeStore(t *testing.T) {
	t.Parallel()

	svc, _, _ := newMockSvc(t)

	for _, code := range []string{"", "12345", "1234567", "12a456"} {
		err := svc.VerifyCode(context.Background(), models.PurposeOTP, "a@x.com", code)
		require.ErrorIs(t, err, ErrInvalidCodeFormat, code)
	}
}
