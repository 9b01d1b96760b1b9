package jwtverify

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	commonerrors "github.com/AlibekovAA/crm-realtime/internal/common/errors"
	commonhttp "github.com/AlibekovAA/crm-realtime/internal/common/http"
	"github.com/AlibekovAA/crm-realtime/internal/common/logger"
)

// Claims is the subset of a CRM access token the realtime server reads.
type Claims struct {
	UserID      string
	Email       string
	DisplayName string
	Roles       []string
}

func (c Claims) HasRole(role string) bool {
	return slices.Contains(c.Roles, role)
}

type contextKey string

const claimsKey contextKey = "jwt_claims"

const accessTokenQueryParam = "access_token"

func Middleware(secret string, log *logger.Logger) func(next http.Handler) http.Handler {
	secretBytes := []byte(secret)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := ExtractTokenFromRequest(r)
			if !ok {
				log.Warnf("jwt auth failed path=%s: missing or invalid authorization header", r.URL.Path)
				commonhttp.HandleError(w, r, commonerrors.ErrInvalidToken.WithMessage("missing or invalid authorization"), log)
				return
			}

			claims, err := ParseToken(tokenString, secretBytes)
			if err != nil {
				log.Warnf("jwt auth failed path=%s: %v", r.URL.Path, err)
				commonhttp.HandleError(w, r, err, log)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// RequireRole must run after Middleware.
func RequireRole(role string, log *logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := FromContext(r.Context())
			if !ok || !claims.HasRole(role) {
				commonhttp.HandleError(w, r, commonerrors.ErrForbidden, log)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ExtractTokenFromRequest reads a bearer token from the Authorization header,
// falling back to the access_token query parameter that browsers use for
// WebSocket handshakes.
func ExtractTokenFromRequest(r *http.Request) (string, bool) {
	if raw := r.Header.Get("Authorization"); raw != "" {
		if !strings.HasPrefix(raw, "Bearer ") {
			return "", false
		}
		token := strings.TrimSpace(strings.TrimPrefix(raw, "Bearer "))
		return token, token != ""
	}
	token := r.URL.Query().Get(accessTokenQueryParam)
	return token, token != ""
}

func WithClaims(ctx context.Context, claims Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

func FromContext(ctx context.Context) (Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(Claims)
	return claims, ok
}

func ParseToken(tokenString string, secret []byte) (Claims, error) {
	parsed, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, commonerrors.ErrInvalidTokenSigningMethod
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Claims{}, commonerrors.ErrInvalidToken.WithCause(err)
	}
	if !parsed.Valid {
		return Claims{}, commonerrors.ErrInvalidToken
	}

	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, commonerrors.ErrInvalidTokenClaims
	}

	sub, _ := mapClaims["sub"].(string)
	if sub == "" {
		return Claims{}, commonerrors.ErrMissingTokenClaims
	}

	email, _ := mapClaims["email"].(string)
	name, _ := mapClaims["name"].(string)

	return Claims{
		UserID:      sub,
		Email:       email,
		DisplayName: name,
		Roles:       stringSlice(mapClaims["roles"]),
	}, nil
}

func stringSlice(v any) []string {
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	default:
		return nil
	}
}
