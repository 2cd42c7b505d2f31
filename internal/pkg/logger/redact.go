package logger

import (
	"regexp"
	"strings"
)

var botTokenRegex = regexp.MustCompile(`(\d{5,})(:[A-Za-z0-9_-]{20,})`)

// RedactToken masks a bot token for safe logging.
// "123456789:AAH...xyz" → "123456789:***"
func RedactToken(token string) string {
	i := strings.IndexByte(token, ':')
	if i <= 0 {
		return "***"
	}
	return token[:i] + ":***"
}

// RedactRecipient masks all but the last three characters of a recipient id.
// Short ids (≤3 chars) are fully masked.
func RedactRecipient(id string) string {
	if len(id) <= 3 {
		return "***"
	}
	return "***" + id[len(id)-3:]
}

func redactPIIValue(key, val string) string {
	key = strings.ToLower(key)
	if strings.Contains(key, "token") {
		return RedactToken(val)
	}
	if strings.Contains(key, "recipient") || strings.Contains(key, "chat_id") {
		return RedactRecipient(val)
	}
	// Redact any embedded bot tokens in generic fields, e.g. API URLs in errors.
	return botTokenRegex.ReplaceAllString(val, "$1:***")
}
