package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Timeout caps how long a handler may run. When the deadline passes before
// the handler has written anything, the client gets a 504 and any late
// handler output is discarded; if the handler wrote first, the response is
// left alone and the handler keeps the cancelled context.
func Timeout(limit time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), limit)
			defer cancel()

			guard := &guardedWriter{ResponseWriter: w}
			finished := make(chan struct{})
			go func() {
				defer close(finished)
				next.ServeHTTP(guard, r.WithContext(ctx))
			}()

			select {
			case <-finished:
			case <-ctx.Done():
				if guard.expire() {
					slog.Warn("request deadline exceeded",
						"method", r.Method, "path", r.URL.Path, "limit", limit)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusGatewayTimeout)
					w.Write([]byte(`{"error":"request timeout"}`))
				}
			}
		})
	}
}

// guardedWriter serializes the race between the handler goroutine and the
// timeout path: whichever touches the response first owns it, and the
// loser's writes are dropped.
type guardedWriter struct {
	http.ResponseWriter
	mu       sync.Mutex
	wrote    bool
	timedOut bool
}

// expire hands ownership to the timeout path. It returns false when the
// handler already wrote, in which case the response must be left alone.
func (g *guardedWriter) expire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.wrote {
		return false
	}
	g.timedOut = true
	return true
}

// handlerOwns records the handler's write attempt and reports whether it
// still owns the response.
func (g *guardedWriter) handlerOwns() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.timedOut {
		return false
	}
	g.wrote = true
	return true
}

func (g *guardedWriter) WriteHeader(code int) {
	if g.handlerOwns() {
		g.ResponseWriter.WriteHeader(code)
	}
}

func (g *guardedWriter) Write(b []byte) (int, error) {
	if !g.handlerOwns() {
		return len(b), nil
	}
	return g.ResponseWriter.Write(b)
}
