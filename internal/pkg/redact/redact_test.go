package redact

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmail(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "long_local", in: "student@exam.edu", want: "st***@exam.edu"},
		{name: "short_local", in: "ab@ex.com", want: "***@ex.com"},
		{name: "no_at", in: "no-at", want: "***"},
		{name: "two_at", in: "a@b@c", want: "***"},
		{name: "empty", in: "", want: "***"},
		{name: "unicode", in: "юзер@пример.рф", want: "юз***@пример.рф"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, Email(tt.in))
		})
	}
}

func TestPhone(t *testing.T) {
	t.Parallel()

	require.Equal(t, "***67", Phone("+7 900 123-45-67"))
	require.Equal(t, "***", Phone("12"))
	require.Equal(t, "***", Phone("  "))
}

func TestIdentifier(t *testing.T) {
	t.Parallel()

	require.Equal(t, "st***@exam.edu", Identifier("student@exam.edu"))
	require.Equal(t, "bo***", Identifier("bobby"))
	require.Equal(t, "***", Identifier("bo"))
}

func TestLiterals(t *testing.T) {
	t.Parallel()

	require.Equal(t, "[REDACTED_TOKEN]", Token())
	require.Equal(t, "[REDACTED_PASSWORD]", Password())
}
