package middleware

import (
	"net"
	"net/http"
	"strings"
)

// RealIP sets RemoteAddr from X-Forwarded-For, counting hops from the right.
// Each trusted proxy appends the address it saw, so the entry hops places
// from the end is the last one a client cannot forge. With hops 0 the header
// is ignored and RemoteAddr is the socket peer.
func RealIP(hops int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if hops <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ip := forwardedFor(r.Header.Values("X-Forwarded-For"), hops); ip != "" {
				r.RemoteAddr = net.JoinHostPort(ip, "0")
			}
			next.ServeHTTP(w, r)
		})
	}
}

func forwardedFor(headers []string, hops int) string {
	var chain []string
	for _, h := range headers {
		for _, part := range strings.Split(h, ",") {
			chain = append(chain, strings.TrimSpace(part))
		}
	}
	if len(chain) < hops {
		return ""
	}
	ip := net.ParseIP(chain[len(chain)-hops])
	if ip == nil {
		return ""
	}
	return ip.String()
}
