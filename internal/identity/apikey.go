package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

const (
	// APIKeyPrefix — обязательный префикс API-ключа.
	APIKeyPrefix = "cms_"
	// apiKeyBodyLen — число алфавитно-цифровых символов после префикса.
	apiKeyBodyLen = 32
	// displayPrefixLen — сколько первых символов ключа хранится для отображения.
	displayPrefixLen = 8

	apiKeyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// GeneratedKey — новый ключ: Plain отдаётся клиенту один раз,
// в БД попадают только Prefix и Hash.
type GeneratedKey struct {
	Plain  string
	Prefix string
	Hash   string
}

// GenerateAPIKey создаёт ключ вида cms_<32 символа [A-Za-z0-9]>.
func GenerateAPIKey() (GeneratedKey, error) {
	const op = "identity.apikey.GenerateAPIKey"

	var b strings.Builder
	b.Grow(len(APIKeyPrefix) + apiKeyBodyLen)
	b.WriteString(APIKeyPrefix)

	max := big.NewInt(int64(len(apiKeyAlphabet)))
	for i := 0; i < apiKeyBodyLen; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return GeneratedKey{}, fmt.Errorf("%s: %w", op, err)
		}
		b.WriteByte(apiKeyAlphabet[n.Int64()])
	}

	plain := b.String()

	return GeneratedKey{
		Plain:  plain,
		Prefix: plain[:displayPrefixLen],
		Hash:   HashAPIKey(plain),
	}, nil
}

// HashAPIKey возвращает sha256 ключа в hex.
func HashAPIKey(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

// ValidAPIKeyFormat проверяет префикс и алфавит ключа.
func ValidAPIKeyFormat(key string) bool {
	body, ok := strings.CutPrefix(key, APIKeyPrefix)
	if !ok || len(body) != apiKeyBodyLen {
		return false
	}

	for i := 0; i < len(body); i++ {
		if strings.IndexByte(apiKeyAlphabet, body[i]) < 0 {
			return false
		}
	}

	return true
}
