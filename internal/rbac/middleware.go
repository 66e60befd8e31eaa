package rbac

import (
	"log/slog"
	"net/http"

	"github.com/facilityops/housekeeping/internal/access"
	"github.com/facilityops/housekeeping/internal/platform/httpx"
)

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Authorizer *Authorizer
	Logger     *slog.Logger
}

// Require ensures the caller's role may perform action on object.
func (m Middleware) Require(object, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := access.ClaimsFromContext(r.Context())
			if !ok {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
				return
			}
			allowed, err := m.Authorizer.Authorize(string(claims.Role), object, action)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("rbac require", slog.String("object", object), slog.String("action", action), slog.Any("error", err))
				}
				httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
				return
			}
			if !allowed {
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
