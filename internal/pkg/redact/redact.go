// redact предоставляет утилиты безопасного редактирования чувствительных
// данных для логов (e-mail, токены, пароли, API-ключи).
package redact

import "strings"

// Email маскирует e-mail для логирования.
//
// Правила:
//   - строка должна содержать ровно один '@', иначе "***";
//   - локальная часть заменяется на первые два символа (по рунам) + "***";
//   - при локальной части ≤ 2 символов возвращается "***@<domain>".
func Email(s string) string {
	if strings.Count(s, "@") != 1 {
		return "***"
	}

	i := strings.IndexByte(s, '@')
	local, domain := s[:i], s[i+1:]

	lr := []rune(local)
	if len(lr) > 2 {
		local = string(lr[:2]) + "***"
	} else {
		local = "***"
	}

	return local + "@" + domain
}

// APIKey оставляет от ключа только публичный префикс (первые 8 символов),
// который и так виден пользователю в списке ключей.
func APIKey(key string) string {
	const visible = 8
	if len(key) <= visible {
		return "***"
	}

	return key[:visible] + "***"
}

// Token возвращает литерал-заглушку для токена в логах.
func Token() string { return "[REDACTED_TOKEN]" }

// Password возвращает литерал-заглушку для пароля в логах.
func Password() string { return "[REDACTED_PASSWORD]" }
