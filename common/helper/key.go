package helper

const (
	// RequestIdKey stores the gin context key used to persist the current request identifier.
	RequestIdKey = "X-Request-Id"
)

// RedactKey returns a redacted form of an upstream credential for safe logging
// and status endpoints. Long keys keep the first and last 6 characters, short
// keys only 3 on each side. Empty input stays empty.
func RedactKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 12 {
		head, tail := 3, 3
		if len(key) < 6 {
			head, tail = 1, 1
		}
		return key[:head] + "..." + key[len(key)-tail:]
	}
	return key[:6] + "..." + key[len(key)-6:]
}
