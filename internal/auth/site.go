package auth

import (
	"context"
	"errors"
)

var (
	// ErrSiteForbidden indicates the caller's token does not cover the site.
	ErrSiteForbidden = errors.New("site not in token scope")
)

// EnsureSiteScope verifies the context's site scope covers the requested
// site. An empty scope is unscoped and passes.
func EnsureSiteScope(ctx context.Context, siteID string) error {
	if siteID == "" {
		return nil
	}
	scope := SiteScopeFromContext(ctx)
	if len(scope) == 0 {
		return nil
	}
	for _, allowed := range scope {
		if allowed == siteID {
			return nil
		}
	}
	return ErrSiteForbidden
}
