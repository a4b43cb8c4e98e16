package auth

import "context"

type contextKey string

const (
	contextKeySites   contextKey = "auth.site_ids"
	contextKeyRole    contextKey = "auth.role"
	contextKeySubject contextKey = "auth.subject"
)

// WithIdentity stores auth identity details in context. An empty site list
// means the caller is unscoped (all sites).
func WithIdentity(ctx context.Context, siteIDs []string, role Role, subject string) context.Context {
	ctx = context.WithValue(ctx, contextKeySites, siteIDs)
	ctx = context.WithValue(ctx, contextKeyRole, role)
	ctx = context.WithValue(ctx, contextKeySubject, subject)
	return ctx
}

// SiteScopeFromContext extracts the caller's site scope from context.
func SiteScopeFromContext(ctx context.Context) []string {
	if ctx == nil {
		return nil
	}
	value := ctx.Value(contextKeySites)
	if sites, ok := value.([]string); ok {
		return sites
	}
	return nil
}

// RoleFromContext extracts role from context.
func RoleFromContext(ctx context.Context) Role {
	if ctx == nil {
		return ""
	}
	value := ctx.Value(contextKeyRole)
	if role, ok := value.(Role); ok {
		return role
	}
	if role, ok := value.(string); ok {
		if normalized, valid := NormalizeRole(role); valid {
			return normalized
		}
	}
	return ""
}

// SubjectFromContext extracts subject from context.
func SubjectFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value := ctx.Value(contextKeySubject)
	if subject, ok := value.(string); ok {
		return subject
	}
	return ""
}
