package access

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/facilityops/housekeeping/internal/platform/httpx"
)

// DecisionObserver receives guard outcomes, typically for metrics.
type DecisionObserver interface {
	ObserveDecision(allowed bool)
}

// Guard is the enforcement point consulted before every gated page load or
// action. It fails closed.
type Guard struct {
	query    *QueryService
	logger   *slog.Logger
	observer DecisionObserver
}

// NewGuard constructs a Guard.
func NewGuard(query *QueryService, logger *slog.Logger, observer DecisionObserver) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{query: query, logger: logger, observer: observer}
}

// CanAccess decides whether the caller may use page. A nil Guard only admits
// superadmin.
func (g *Guard) CanAccess(ctx context.Context, claims Claims, page string) bool {
	allowed := g.decide(ctx, claims, page)
	if g != nil && g.observer != nil {
		g.observer.ObserveDecision(allowed)
	}
	return allowed
}

func (g *Guard) decide(ctx context.Context, claims Claims, page string) bool {
	if claims.IsSuperadmin() {
		return true
	}
	if !claims.HasFacility() || !claims.Role.Gated() {
		return false
	}
	if g == nil || g.query == nil {
		return false
	}
	enabled, err := g.query.IsEnabled(ctx, claims.Facility, claims.Role, page)
	if err != nil {
		g.logger.Error("access guard lookup",
			slog.String("facility", string(claims.Facility)),
			slog.String("role", string(claims.Role)),
			slog.String("page", page),
			slog.Any("error", err))
		return false
	}
	return enabled
}

// RequirePage rejects requests whose claims cannot access page.
func (g *Guard) RequirePage(page string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "credential required")
				return
			}
			if !g.CanAccess(r.Context(), claims, page) {
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "page "+page+" is not enabled")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
