package xades

import (
	"encoding/base64"
	"strings"
)

// lineLength is the base64 line width used for embedded binary evidence.
const lineLength = 76

// EncodeBase64 encodes data as base64 wrapped at 76 characters with "\n"
// separators and no trailing newline.
func EncodeBase64(data []byte) string {
	enc := base64.StdEncoding.EncodeToString(data)
	if len(enc) <= lineLength {
		return enc
	}
	var b strings.Builder
	b.Grow(len(enc) + len(enc)/lineLength)
	for i := 0; i < len(enc); i += lineLength {
		if i > 0 {
			b.WriteByte('\n')
		}
		end := min(i+lineLength, len(enc))
		b.WriteString(enc[i:end])
	}
	return b.String()
}

// DecodeBase64 decodes base64 text, ignoring any whitespace.
func DecodeBase64(s string) ([]byte, error) {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r':
			return -1
		}
		return r
	}, s)
	return base64.StdEncoding.DecodeString(clean)
}
