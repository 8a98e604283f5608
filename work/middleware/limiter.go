package middleware

import (
	"net/http"

	"ytgrab-proxy/work/logger"
)

// ConnectionLimiter caps the number of requests its wrapped handlers serve
// concurrently, across every route that shares the limiter. Media delivery
// routes hold their connection open for the whole transfer, so an unbounded
// route can exhaust file handles and upstream goodwill long before CPU
// becomes the problem.
type ConnectionLimiter struct {
	sem      chan struct{}
	maxConns int
}

// NewConnectionLimiter creates a limiter admitting at most maxConns
// concurrent requests. A non-positive maxConns disables limiting.
func NewConnectionLimiter(maxConns int) *ConnectionLimiter {
	l := &ConnectionLimiter{maxConns: maxConns}
	if maxConns > 0 {
		l.sem = make(chan struct{}, maxConns)
	}
	return l
}

// Wrap guards a handler with the shared cap. Requests beyond it are
// rejected immediately with 503 rather than queued; a download client
// retries, a stalled queue just ties up sockets.
func (l *ConnectionLimiter) Wrap(next http.HandlerFunc) http.HandlerFunc {
	if l.sem == nil {
		return next
	}

	return func(w http.ResponseWriter, r *http.Request) {
		select {
		case l.sem <- struct{}{}:
			defer func() { <-l.sem }()
			next(w, r)
		default:
			logger.Warn("{limiter - Wrap} connection limit %d reached, rejecting %s %s", l.maxConns, r.Method, r.URL.Path)
			http.Error(w, "too many concurrent downloads", http.StatusServiceUnavailable)
		}
	}
}
