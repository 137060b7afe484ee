package httpx

import (
	"net/http"
	"time"
)

type Middleware func(http.Handler) http.Handler

// Chain applies middleware so Chain(h, a, b) serves as a(b(h)).
func Chain(h http.Handler, m ...Middleware) http.Handler {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

// WithBodyLimit rejects declared oversized bodies up front and caps the rest
// while they are read.
func WithBodyLimit(limitBytes int64) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limitBytes > 0 && r.ContentLength > limitBytes {
				WriteError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large")
				return
			}
			if limitBytes > 0 && r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, limitBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

const timeoutBody = `{"error":"request timed out","code":"TIMEOUT"}`

// WithTimeout bounds handler time; on expiry the client gets 503 with the JSON
// error envelope.
func WithTimeout(d time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		return http.TimeoutHandler(next, d, timeoutBody)
	}
}
