package auth

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"

	"github.com/frahmantamala/spotpay-billing/internal"
	"github.com/frahmantamala/spotpay-billing/internal/transport"
	"github.com/frahmantamala/spotpay-billing/pkg/logger"
)

type claimsKey struct{}

func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok
}

type Middleware struct {
	*transport.BaseHandler
	tokens TokenValidator
}

func NewMiddleware(tokens TokenValidator, lg *slog.Logger) *Middleware {
	return &Middleware{
		BaseHandler: transport.NewBaseHandler(lg),
		tokens:      tokens,
	}
}

// RequireVendor rejects requests whose bearer token cannot act for the vendor
// named by the URL parameter param.
func (m *Middleware) RequireVendor(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := m.ExtractTokenFromHeader(r)
			if token == "" {
				m.HandleError(w, internal.ErrInvalidToken.WithMessage("missing authorization token"))
				return
			}

			claims, err := m.tokens.ValidateToken(token)
			if err != nil {
				m.Logger.Warn("token validation failed", "error", err, "path", r.URL.Path)
				m.HandleServiceError(w, err)
				return
			}

			vendorID := chi.URLParam(r, param)
			if !claims.CanActFor(vendorID) {
				m.Logger.Warn("vendor access denied",
					"subject", claims.Subject,
					"role", claims.Role,
					"vendor_id", vendorID)
				m.HandleError(w, internal.ErrVendorAccess)
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey{}, claims)
			ctx = internal.ContextWithVendorID(ctx, vendorID)
			ctx = logger.With(ctx, "vendor_id", vendorID, "caller", claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
