package utils

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	codePattern  = regexp.MustCompile(`^[0-9]{4}$`)
	stripMarkup  = bluemonday.StrictPolicy()
)

// NormalizeEmail trims and lower-cases an email so it can be used as a lookup key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsValidEmail performs the loose shape check used for verification requests.
func IsValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// IsVerificationCode reports whether code is exactly four ASCII digits.
func IsVerificationCode(code string) bool {
	return codePattern.MatchString(code)
}

// DisplayNameFromEmail turns "john.doe@example.com" into "John Doe".
func DisplayNameFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")
	local = strings.TrimSpace(strings.ReplaceAll(local, ".", " "))
	if local == "" {
		return ""
	}
	return cases.Title(language.Und).String(local)
}

// PlainText removes any markup from user-supplied text and decodes entities.
func PlainText(value string) string {
	return strings.TrimSpace(html.UnescapeString(stripMarkup.Sanitize(value)))
}

// Truncate shortens value to at most limit runes.
func Truncate(value string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}
