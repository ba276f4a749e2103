package middleware

import (
	"net/http"

	"github.com/dukerupert/pratiche/internal/auth"
)

// Account reports the connected calendar account, if any.
type Account interface {
	AccountEmail() string
	Authenticated() bool
}

// Identify attaches the acting user to each request: the connected calendar
// account when there is one, otherwise defaultUserID.
func Identify(account Account, defaultUserID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := auth.Identity{UserID: defaultUserID}
			if account.Authenticated() {
				if email := account.AccountEmail(); email != "" {
					id = auth.Identity{UserID: email, Email: email}
				}
			}
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
		})
	}
}
