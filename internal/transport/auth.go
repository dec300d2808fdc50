package transport

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/pitabwire/dastyar/internal/config"
	"github.com/pitabwire/dastyar/internal/store"
	"github.com/pitabwire/dastyar/model"
)

// Operator-facing auth messages.
const (
	MsgUnauthorized = "لطفاً دوباره وارد شوید."
	MsgForbidden    = "شما به این بخش دسترسی ندارید."
)

// tokenLeeway tolerates clock skew between replicas.
const tokenLeeway = 30 * time.Second

// TokenIssuer signs and verifies HS256 session tokens.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates an issuer from the auth config.
func NewTokenIssuer(cfg config.AuthConfig) *TokenIssuer {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &TokenIssuer{
		secret: []byte(cfg.JWTSecret),
		issuer: cfg.Issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue signs a token for op. Every token carries a fresh jti so it can be
// revoked on its own.
func (t *TokenIssuer) Issue(op store.Operator) (token string, expiresAt time.Time, err error) {
	now := t.now()
	expiresAt = now.Add(t.ttl)
	claims := jwt.MapClaims{
		"sub":   op.ID,
		"email": op.Email,
		"roles": op.Roles,
		"iss":   t.issuer,
		"iat":   now.Unix(),
		"exp":   expiresAt.Unix(),
		"jti":   uuid.NewString(),
	}
	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: signing token: %w", err)
	}
	return token, expiresAt, nil
}

// Parse verifies a token and returns its claims.
func (t *TokenIssuer) Parse(token string) (jwt.MapClaims, error) {
	parsed, err := jwt.Parse(token,
		func(*jwt.Token) (any, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithLeeway(tokenLeeway),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, errors.New("auth: invalid token")
	}
	return claims, nil
}

// JWTAuthenticator returns middleware that verifies the bearer token of the
// Authorization header, refuses revoked tokens and stores the claims in the
// request context.
func JWTAuthenticator(tokens *TokenIssuer, deny Denylist) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if auth == "" {
				WriteRequestError(w, r, model.NewUnauthorizedError(MsgUnauthorized))
				return
			}
			tokenStr, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok {
				WriteRequestError(w, r, model.NewUnauthorizedError(MsgUnauthorized))
				return
			}

			claims, err := tokens.Parse(tokenStr)
			if err != nil {
				WriteRequestError(w, r, model.NewUnauthorizedError(classifyJWTError(err)))
				return
			}

			if deny != nil {
				jti, _ := claims["jti"].(string)
				revoked, err := deny.Revoked(r.Context(), jti)
				if err != nil {
					WriteRequestError(w, r, model.NewBackendUnavailableError())
					return
				}
				if revoked {
					WriteRequestError(w, r, model.NewUnauthorizedError(MsgUnauthorized))
					return
				}
			}

			ctx := WithClaims(r.Context(), map[string]any(claims))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func classifyJWTError(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "نشست شما منقضی شده است. لطفاً دوباره وارد شوید."
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenInvalidIssuer),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return "توکن نامعتبر است."
	default:
		return MsgUnauthorized
	}
}

// claimExpiry reads the exp claim.
func claimExpiry(claims map[string]any) time.Time {
	switch v := claims["exp"].(type) {
	case float64:
		return time.Unix(int64(v), 0)
	case int64:
		return time.Unix(v, 0)
	}
	return time.Time{}
}
