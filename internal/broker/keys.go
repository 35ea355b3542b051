package broker

import (
	"encoding/base64"
	"strings"
)

// NATS KV keys are limited to [-/_=.a-zA-Z0-9], so application keys such as
// "recommended_users:<id>" are stored base64url encoded.
func encodeKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

func decodeKey(s string) (string, bool) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return "", false
	}
	return string(b), true
}

// scoreBucket maps a score-set name to its KV bucket name.
func scoreBucket(set string) string {
	var b strings.Builder
	b.WriteString("SCORES_")
	for _, r := range set {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
