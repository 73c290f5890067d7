package accounts

import (
	"context"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
)

// TokenValidator validates tokens and extracts claims without tying callers
// to a specific signing implementation.
type TokenValidator interface {
	Validate(tokenString string) (AuthClaims, error)
}

// TokenValidatorFunc adapts a function into a TokenValidator.
type TokenValidatorFunc func(tokenString string) (AuthClaims, error)

// Validate satisfies the TokenValidator interface.
func (f TokenValidatorFunc) Validate(tokenString string) (AuthClaims, error) {
	if f == nil {
		return nil, goerrors.New("no token validator configured", goerrors.CategoryAuth).
			WithCode(goerrors.CodeUnauthorized)
	}
	return f(tokenString)
}

type claimsContextKey struct{}

// WithClaimsContext stores validated claims in the context.
func WithClaimsContext(ctx context.Context, claims AuthClaims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// ClaimsFromContext retrieves claims stored by RequireAuth.
func ClaimsFromContext(ctx context.Context) (AuthClaims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(AuthClaims)
	return claims, ok
}

// ClaimsFromRouterContext retrieves claims from a request context.
func ClaimsFromRouterContext(ctx router.Context) (AuthClaims, bool) {
	return ClaimsFromContext(ctx.Context())
}

// RequireAuth guards routes behind a bearer access token. Validated claims
// are injected into the request context for downstream handlers. Refresh
// tokens are rejected here; they are only good at the refresh endpoint.
func RequireAuth(validator TokenValidator) router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			token := bearerToken(ctx)
			if token == "" {
				return ctx.JSON(router.StatusUnauthorized, map[string]string{
					"error": "missing bearer token",
				})
			}

			claims, err := validator.Validate(token)
			if err != nil {
				return ctx.JSON(router.StatusUnauthorized, map[string]string{
					"error": "invalid or expired token",
				})
			}

			if claims.Use() != TokenUseAccess {
				return ctx.JSON(router.StatusUnauthorized, map[string]string{
					"error": "invalid or expired token",
				})
			}

			ctx.SetContext(WithClaimsContext(ctx.Context(), claims))

			return next(ctx)
		}
	}
}

// RequireRole rejects authenticated requests whose role is below minRole.
// It must run after RequireAuth.
func RequireRole(minRole UserRole) router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			claims, ok := ClaimsFromRouterContext(ctx)
			if !ok {
				return ctx.JSON(router.StatusUnauthorized, map[string]string{
					"error": "missing bearer token",
				})
			}

			if !RoleIsAtLeast(claims.Role(), minRole) {
				return ctx.JSON(router.StatusForbidden, map[string]string{
					"error": "insufficient permissions",
				})
			}

			return next(ctx)
		}
	}
}

func bearerToken(ctx router.Context) string {
	header := ctx.GetString("Authorization", "")
	if header == "" {
		return ""
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
