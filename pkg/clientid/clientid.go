// Package clientid derives the best-effort caller key used for rate limiting.
// The key comes from client-controlled headers and can be spoofed; it is a
// fairness signal, not a security control.
package clientid

import (
	"net/http"
	"strings"
)

const Fallback = "unknown"

// Identify returns the first X-Forwarded-For hop, else the User-Agent, else Fallback.
func Identify(h http.Header) string {
	if fwd := h.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if ua := strings.TrimSpace(h.Get("User-Agent")); ua != "" {
		return ua
	}
	return Fallback
}
