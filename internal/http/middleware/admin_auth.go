package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const adminClaimsKey contextKey = "adminClaims"

// Clock skew tolerated when checking exp/nbf.
const tokenLeeway = 30 * time.Second

// AdminClaims identifies an operator. A non-empty CompanyID limits the
// operator to that company's leads, listings and settings.
type AdminClaims struct {
	CompanyID string `json:"company_id,omitempty"`
	Role      string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Allows reports whether the operator may act on companyID.
func (c AdminClaims) Allows(companyID string) bool {
	return c.CompanyID == "" || c.CompanyID == companyID
}

// AdminJWT requires an HMAC-signed bearer token with an expiry. With no
// secret configured every admin request is refused.
func AdminJWT(secret string) func(http.Handler) http.Handler {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(tokenLeeway),
	)
	key := func(*jwt.Token) (any, error) { return []byte(secret), nil }

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				authError(w, http.StatusUnauthorized, "admin auth disabled")
				return
			}
			raw, ok := bearerToken(r)
			if !ok {
				authError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			var claims AdminClaims
			if _, err := parser.ParseWithClaims(raw, &claims, key); err != nil {
				authError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAdminClaims(r.Context(), claims)))
		})
	}
}

// RequireCompanyScope rejects company-scoped operators whose token names a
// different company than the URL parameter param.
func RequireCompanyScope(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := AdminClaimsFromContext(r.Context())
			switch {
			case !ok:
				authError(w, http.StatusUnauthorized, "unauthorized")
			case !claims.Allows(chi.URLParam(r, param)):
				authError(w, http.StatusForbidden, "forbidden")
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func AdminClaimsFromContext(ctx context.Context) (AdminClaims, bool) {
	claims, ok := ctx.Value(adminClaimsKey).(AdminClaims)
	return claims, ok
}

func WithAdminClaims(ctx context.Context, claims AdminClaims) context.Context {
	return context.WithValue(ctx, adminClaimsKey, claims)
}

// CompanyAllowed reports whether the operator on ctx may act on companyID.
// Requests that never passed AdminJWT are refused.
func CompanyAllowed(ctx context.Context, companyID string) bool {
	claims, ok := AdminClaimsFromContext(ctx)
	return ok && claims.Allows(companyID)
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func authError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
