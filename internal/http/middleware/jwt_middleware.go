package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/atlalli/redemption/internal/http/response"
	"github.com/atlalli/redemption/internal/platform/auth"
	"github.com/atlalli/redemption/pkg/logger"
)

type ctxKey string

const CtxClaims ctxKey = "claims"

// RequireStaff guards the scanner endpoints. Only bartenders and managers
// carry scanner tokens; the venue baked into the claims is what scans are
// matched against.
func RequireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz := r.Header.Get("Authorization")
		if !strings.HasPrefix(authz, "Bearer ") {
			response.Unauthorized(w, "missing authorization header")
			return
		}
		raw := strings.TrimPrefix(authz, "Bearer ")
		claims, err := auth.Parse(raw)
		if err != nil {
			response.Unauthorized(w, "invalid authorization token")
			return
		}
		if claims.Role != "bartender" && claims.Role != "manager" {
			response.Forbidden(w, "staff role required")
			return
		}

		ctx := context.WithValue(r.Context(), CtxClaims, claims)
		ctx = context.WithValue(ctx, logger.StaffIDKey, claims.Sub)
		ctx = context.WithValue(ctx, logger.VenueIDKey, claims.VenueID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func Claims(r *http.Request) *auth.Claims {
	v := r.Context().Value(CtxClaims)
	if v == nil {
		return nil
	}
	return v.(*auth.Claims)
}
