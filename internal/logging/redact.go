package logging

import (
	"regexp"
	"strings"
)

// Field names whose values never reach the log.
var sensitiveFields = []string{
	"password",
	"passphrase",
	"secret",
	"token",
	"authorization",
	"credential",
	"private_key",
	"privatekey",
	"encryption_key",
}

var secretPatterns = []*regexp.Regexp{
	// PEM blocks pasted into commands or errors
	regexp.MustCompile(`(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`),

	// Bearer tokens
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9._-]{16,}`),

	// Stored ciphertext in <iv>:<ct> form
	regexp.MustCompile(`\b[0-9a-f]{32}:[0-9a-f]{32,}\b`),

	// Inline credentials in shell commands: sshpass -p x, mysql -pX, --password=x
	regexp.MustCompile(`(sshpass\s+-p\s*)\S+`),
	regexp.MustCompile(`(?i)(--password[= ])\S+`),
	regexp.MustCompile(`(\s-p)[^\s\d]\S*`),

	// key=value assignments
	regexp.MustCompile(`(?i)((?:key|token|secret|password|passwd)\s*[=:]\s*)["']?[^\s"']+["']?`),
}

// RedactedValue is the replacement for sensitive values.
const RedactedValue = "[REDACTED]"

// Redact replaces sensitive information in a string.
func Redact(s string) string {
	result := s
	for _, pattern := range secretPatterns {
		if pattern.NumSubexp() > 0 {
			result = pattern.ReplaceAllString(result, "${1}"+RedactedValue)
			continue
		}
		result = pattern.ReplaceAllString(result, RedactedValue)
	}
	return result
}

// RedactMap redacts sensitive fields in a decoded JSON object.
func RedactMap(m map[string]any) map[string]any {
	result := make(map[string]any, len(m))
	for k, v := range m {
		switch {
		case IsSensitiveField(k):
			result[k] = RedactedValue
		default:
			switch typed := v.(type) {
			case map[string]any:
				result[k] = RedactMap(typed)
			case string:
				result[k] = Redact(typed)
			default:
				result[k] = v
			}
		}
	}
	return result
}

// IsSensitiveField checks if a field name is considered sensitive.
func IsSensitiveField(name string) bool {
	lowerName := strings.ToLower(name)
	lowerName = strings.ReplaceAll(lowerName, "-", "_")
	for _, field := range sensitiveFields {
		if strings.Contains(lowerName, field) || strings.Contains(lowerName, strings.ReplaceAll(field, "_", "")) {
			return true
		}
	}
	return false
}
