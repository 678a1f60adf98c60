package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/dgrijalva/jwt-go"
	"golang.org/x/time/rate"

	"marketplace-catalog-service/internal/domain"
	"marketplace-catalog-service/internal/store"
)

type contextKey string

const partnerContextKey contextKey = "partner"

// PartnerFromContext returns the tenant identity resolved by
// RequireVerifiedPartner, if any.
func PartnerFromContext(ctx context.Context) (domain.Partner, bool) {
	partner, ok := ctx.Value(partnerContextKey).(domain.Partner)
	return partner, ok
}

// TenantMiddleware resolves the caller's partner identity from a JWT
// bearer token and gates the tenant write surface on verification.
type TenantMiddleware struct {
	partners store.PartnerStorer
	secret   []byte
}

// NewTenantMiddleware creates a TenantMiddleware.
func NewTenantMiddleware(partners store.PartnerStorer, secret []byte) *TenantMiddleware {
	return &TenantMiddleware{partners: partners, secret: secret}
}

// RequireVerifiedPartner rejects requests without a resolvable tenant
// identity (401) or from unverified partners (403), and stores the
// partner in the request context otherwise.
func (m *TenantMiddleware) RequireVerifiedPartner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		partnerID, err := m.partnerIDFromToken(r)
		if err != nil {
			respondWithError(w, http.StatusUnauthorized, "Tenant context missing or invalid")
			return
		}

		partner, err := m.partners.GetPartnerByID(r.Context(), partnerID)
		if err != nil {
			log.Printf("WARN: Tenant resolution failed for partner %d: %v", partnerID, err)
			respondWithError(w, http.StatusUnauthorized, "Tenant context missing or invalid")
			return
		}
		if !partner.IsVerified() {
			respondWithError(w, http.StatusForbidden, "Partner account is not verified")
			return
		}

		ctx := context.WithValue(r.Context(), partnerContextKey, *partner)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *TenantMiddleware) partnerIDFromToken(r *http.Request) (int64, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return 0, fmt.Errorf("missing bearer token")
	}
	raw := strings.TrimPrefix(header, "Bearer ")

	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || !token.Valid {
		return 0, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, fmt.Errorf("unexpected claims type")
	}
	id, ok := claims["partner_id"].(float64)
	if !ok || id <= 0 {
		return 0, fmt.Errorf("partner_id claim missing")
	}
	return int64(id), nil
}

// RateLimit applies a process-wide token bucket to the wrapped routes.
func RateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				respondWithError(w, http.StatusTooManyRequests, "Rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
