package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

const DefaultRequestTimeout = 10 * time.Second

// Timeout bounds request contexts that carry no deadline of their own.
func Timeout(d time.Duration) mux.MiddlewareFunc {
	if d <= 0 {
		d = DefaultRequestTimeout
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := r.Context().Deadline(); ok {
				next.ServeHTTP(w, r)
				return
			}
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
