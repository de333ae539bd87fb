// redact маскирует чувствительные данные перед записью в логи:
// e-mail, телефоны, логины и секреты (токены, пароли, одноразовые коды).
// Домен e-mail и хвост телефона сохраняются, чтобы по логам можно было
// сопоставить обращение пользователя.
package redact

import "strings"

// Email маскирует e-mail для логирования.
//
// Правила:
//   - строка должна содержать РОВНО один '@', иначе возвращается "***";
//   - локальная часть заменяется на первые два символа (по рунам) + "***";
//   - если локальная часть ≤ 2 символов - возвращается "***@<domain>";
//   - домен возвращается без изменений.
//
// Примеры:
//
//	"foobar@example.com"   -> "fo***@example.com"
//	"ab@ex.com"            -> "***@ex.com"
//	"no-at"                -> "***"
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

// Phone оставляет только последние две цифры номера.
func Phone(s string) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= 2 {
		return "***"
	}

	return "***" + string(r[len(r)-2:])
}

// Identifier маскирует логин: e-mail через Email, username - первые два символа.
func Identifier(s string) string {
	if strings.Contains(s, "@") {
		return Email(s)
	}

	r := []rune(s)
	if len(r) > 2 {
		return string(r[:2]) + "***"
	}

	return "***"
}

func Token() string    { return "[REDACTED_TOKEN]" }
func Password() string { return "[REDACTED_PASSWORD]" }
