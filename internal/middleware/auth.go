package middleware

import (
	"net/http"
	"time"

	"infinite-experiment/logbook/internal/auth"
	"infinite-experiment/logbook/internal/common"
	"infinite-experiment/logbook/internal/logging"
)

// AuthMiddleware rejects requests without a valid session and stores the
// caller's claims in the request context.
func AuthMiddleware(validator auth.SessionValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, err := validator.Validate(r)
			if err != nil {
				logging.Debug("session rejected", "path", r.URL.Path, "error", err)
				common.RespondError(w, time.Now(), err, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := auth.SetUserClaims(r.Context(), session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
