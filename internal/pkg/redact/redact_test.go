package redact

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmail_Table(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "ascii", in: "founder@startup.io", want: "fo***@startup.io"},
		{name: "short_local", in: "ab@ex.com", want: "***@ex.com"},
		{name: "no_at", in: "no-at-here", want: "***"},
		{name: "multiple_at", in: "a@b@c", want: "***"},
		{name: "empty", in: "", want: "***"},
		{name: "unicode", in: "юзер@пример.рф", want: "юз***@пример.рф"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, Email(tt.in))
		})
	}
}

func TestAPIKey(t *testing.T) {
	t.Parallel()

	require.Equal(t, "cms_AbCd***", APIKey("cms_AbCdEfGhIjKlMnOpQrStUvWxYz012345"))
	require.Equal(t, "***", APIKey("cms_"))
	require.Equal(t, "***", APIKey(""))
}

func TestLiterals(t *testing.T) {
	t.Parallel()

	require.Equal(t, "[REDACTED_TOKEN]", Token())
	require.Equal(t, "[REDACTED_PASSWORD]", Password())
}
