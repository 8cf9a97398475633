package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"beds4crew/internal/config"
	"beds4crew/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

var (
	errUnauthenticated = errors.New("authentication required")
	errInvalidToken    = errors.New("invalid token")
)

// Claims carry the identity asserted by the identity service. Subject is the user id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator verifies HS256 bearer tokens. With auth disabled the caller
// identity is taken from the X-User-ID and X-User-Role headers of a trusted gateway.
type Authenticator struct {
	enabled bool
	secret  []byte
	issuer  string
	now     func() time.Time
}

const (
	headerUserID   = "X-User-ID"
	headerUserRole = "X-User-Role"
)

func NewAuthenticator(cfg config.APIAuthConfig) *Authenticator {
	return &Authenticator{
		enabled: cfg.Enabled,
		secret:  []byte(cfg.JWTSecret),
		issuer:  cfg.Issuer,
		now:     time.Now,
	}
}

// Issue signs a token for the actor. Used by tooling and tests; production
// tokens come from the identity service.
func (a *Authenticator) Issue(actor models.Actor, ttl time.Duration) (string, error) {
	now := a.now()
	claims := &Claims{
		Role: actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(actor.UserID, 10),
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *Authenticator) Verify(tokenString string) (models.Actor, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return models.Actor{}, fmt.Errorf("%w: %v", errInvalidToken, err)
	}
	if !token.Valid {
		return models.Actor{}, errInvalidToken
	}

	return actorFromClaims(claims.Subject, claims.Role)
}

func actorFromClaims(subject, role string) (models.Actor, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(subject), 10, 64)
	if err != nil || id <= 0 {
		return models.Actor{}, fmt.Errorf("%w: bad subject %q", errInvalidToken, subject)
	}
	switch role {
	case models.RoleGuest, models.RoleHost:
	default:
		return models.Actor{}, fmt.Errorf("%w: bad role %q", errInvalidToken, role)
	}
	return models.Actor{UserID: id, Role: role}, nil
}

// actorFromRequest reports ok=false when the request carries no identity at all.
func (a *Authenticator) actorFromRequest(r *http.Request) (models.Actor, bool, error) {
	if !a.enabled {
		id := r.Header.Get(headerUserID)
		if id == "" {
			return models.Actor{}, false, nil
		}
		role := r.Header.Get(headerUserRole)
		if role == "" {
			role = models.RoleGuest
		}
		actor, err := actorFromClaims(id, role)
		return actor, err == nil, err
	}

	header := r.Header.Get("Authorization")
	if header == "" {
		return models.Actor{}, false, nil
	}
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || strings.TrimSpace(token) == "" {
		return models.Actor{}, false, fmt.Errorf("%w: expected bearer token", errInvalidToken)
	}
	actor, err := a.Verify(strings.TrimSpace(token))
	return actor, err == nil, err
}

// Middleware places the verified actor in the request context. Anonymous
// requests pass through; handlers that need an identity call requireActor.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok, err := a.actorFromRequest(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		if ok {
			r = r.WithContext(WithActor(r.Context(), actor))
		}
		next.ServeHTTP(w, r)
	})
}

type actorKey struct{}

func WithActor(ctx context.Context, actor models.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func ActorFromContext(ctx context.Context) (models.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(models.Actor)
	return actor, ok
}
