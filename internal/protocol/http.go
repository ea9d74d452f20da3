package protocol

import (
	"fmt"
	"net/http"
	"strings"
)

// CleanGoErrorMessage removes Go HTTP client prefixes like `Get "http://...": `.
func CleanGoErrorMessage(msg string) string {
	for _, method := range []string{"Get", "Post"} {
		prefix := method + " \""
		if strings.HasPrefix(msg, prefix) {
			if idx := strings.Index(msg[len(prefix):], "\": "); idx >= 0 {
				return msg[len(prefix)+idx+3:]
			}
		}
	}
	return msg
}

// FormatHTTPStatusLine formats "HTTP/1.1 200 OK".
func FormatHTTPStatusLine(statusCode int) string {
	return fmt.Sprintf("HTTP/1.1 %d %s", statusCode, http.StatusText(statusCode))
}
