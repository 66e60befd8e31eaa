package access

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/facilityops/housekeeping/internal/platform/httpx"
)

// QueryTokenParam carries the credential of event stream requests.
const QueryTokenParam = "access_token"

// Authenticate resolves the bearer credential of each request into Claims
// stored in the request context. Requests without a credential pass through
// without claims; a credential that fails to resolve is rejected so the
// client re-authenticates. The query credential is only read on event stream
// paths.
func Authenticate(resolver *ClaimsResolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			credential := BearerToken(r.Header.Get("Authorization"))
			if credential == "" && strings.HasSuffix(r.URL.Path, "/events") {
				// EventSource clients cannot set headers.
				credential = r.URL.Query().Get(QueryTokenParam)
			}
			if credential == "" {
				next.ServeHTTP(w, r)
				return
			}
			claims, err := resolver.Resolve(credential)
			if err != nil {
				detail := "credential is invalid; re-authenticate"
				if errors.Is(err, ErrExpired) {
					detail = "credential expired; re-authenticate"
				}
				if logger != nil {
					logger.Debug("reject credential", slog.String("path", r.URL.Path), slog.Any("error", err))
				}
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", detail)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
		})
	}
}
