package middleware

import (
	"net/http"

	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

// MaxBodyBytes caps request bodies at limit bytes. Requests that declare a larger
// Content-Length are rejected up front; for the rest, reads past the cap fail with
// *http.MaxBytesError, which handlers turn into 413.
func MaxBodyBytes(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				logrus.WithFields(logrus.Fields{
					"path":           r.URL.Path,
					"content_length": r.ContentLength,
					"limit":          limit,
				}).Warn("Rejected oversized request")
				render.Status(r, http.StatusRequestEntityTooLarge)
				render.JSON(w, r, map[string]string{"error": "Request body too large"})
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
