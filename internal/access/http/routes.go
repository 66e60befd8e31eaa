package accesshttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/facilityops/housekeeping/internal/access"
	"github.com/facilityops/housekeeping/internal/platform/httpx"
	"github.com/facilityops/housekeeping/internal/rbac"
)

const mutationRateLimit = 60
const mutationRateWindow = time.Minute

// MountRoutes registers the permission endpoints on r. Callers mount r under
// /permissions behind access.Authenticate.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(mutationRateLimit, mutationRateWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "slow down")
		}),
	)

	r.Group(func(gr chi.Router) {
		gr.Use(h.rbac.Require(rbac.ObjectPermissionMatrix, rbac.ActionRead))
		gr.Get("/", h.handleList)
	})
	r.Group(func(gr chi.Router) {
		gr.Use(h.rbac.Require(rbac.ObjectPermissionMatrix, rbac.ActionWrite))
		gr.Use(limiter)
		gr.Patch("/{id}", h.handleSet)
		gr.Post("/{id}/toggle", h.handleToggle)
		gr.Put("/bulk", h.handleBulk)
		gr.Post("/reconcile", h.handleReconcile)
	})
	r.Group(func(gr chi.Router) {
		gr.Use(h.rbac.Require(rbac.ObjectPermissionSelf, rbac.ActionRead))
		gr.Get("/check", h.handleCheck)
		gr.Get("/me", h.handleMe)
		gr.Get("/events", h.handleEvents)
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if claims, ok := access.ClaimsFromContext(r.Context()); ok && claims.Subject != "" {
		return "subject:" + claims.Subject, nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
