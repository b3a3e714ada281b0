package api

import (
	"fmt"
	"log/slog"
	"net/http"
)

// Recoverer catches panics from downstream handlers and reports them as a
// generic JSON server-failure payload instead of tearing down the
// connection.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				slog.Error("Panic in handler", "path", r.URL.Path, "panic", rec)
				JSON(w, http.StatusInternalServerError, map[string]string{
					"error":   "internal server error",
					"details": fmt.Sprint(rec),
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
