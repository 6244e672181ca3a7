package identity

import (
	"net/http"
	"strings"
)

const (
	// AccessCookie — cookie с access-токеном, выставляемая при входе.
	AccessCookie = "access_token"
	// RefreshCookie — cookie с refresh-токеном.
	RefreshCookie = "refresh_token"
	// APIKeyHeader — заголовок с долгоживущим API-ключом.
	APIKeyHeader = "X-API-Key"
)

// CredentialKind — форма, в которой пришли учётные данные.
type CredentialKind string

const (
	CredentialBearer CredentialKind = "bearer"
	CredentialCookie CredentialKind = "cookie"
	CredentialAPIKey CredentialKind = "api_key"
)

// Credential — учётные данные, извлечённые из запроса.
type Credential struct {
	Kind  CredentialKind
	Value string
}

// IsToken сообщает, что значение — токен (bearer или cookie), а не API-ключ.
func (c Credential) IsToken() bool {
	return c.Kind == CredentialBearer || c.Kind == CredentialCookie
}

// ExtractCredential выбирает первую присутствующую форму:
// Authorization: Bearer → cookie access_token → X-API-Key.
// Формы не комбинируются.
func ExtractCredential(r *http.Request) (Credential, bool) {
	if tok, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return Credential{Kind: CredentialBearer, Value: tok}, true
	}

	if c, err := r.Cookie(AccessCookie); err == nil {
		if v := strings.TrimSpace(c.Value); v != "" {
			return Credential{Kind: CredentialCookie, Value: v}, true
		}
	}

	if key := strings.TrimSpace(r.Header.Get(APIKeyHeader)); key != "" {
		return Credential{Kind: CredentialAPIKey, Value: key}, true
	}

	return Credential{}, false
}

func bearerToken(header string) (string, bool) {
	scheme, tok, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}

	tok = strings.TrimSpace(tok)
	if tok == "" {
		return "", false
	}

	return tok, true
}
