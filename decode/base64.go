package decode

import "encoding/base64"

// DecodeBase64 decodes a Base64 string leniently: bytes outside the
// standard alphabet are dropped before decoding rather than treated as a
// hard error, matching observed behavior of LDIF producers that wrap
// attribute values with stray whitespace or line-noise (spec §4.1).
func DecodeBase64(s string) ([]byte, error) {
	filtered := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isBase64Alphabet(c) {
			filtered = append(filtered, c)
		}
	}
	return base64.StdEncoding.DecodeString(string(filtered))
}

func isBase64Alphabet(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z':
		return true
	case c >= 'a' && c <= 'z':
		return true
	case c >= '0' && c <= '9':
		return true
	case c == '+' || c == '/' || c == '=':
		return true
	default:
		return false
	}
}
