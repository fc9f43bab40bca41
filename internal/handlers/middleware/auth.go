package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/sorcerlabs/auctionflow/internal/apperrors"
	"github.com/sorcerlabs/auctionflow/internal/handlers/render"
	"github.com/sorcerlabs/auctionflow/internal/handlers/userctx"
	"github.com/sorcerlabs/auctionflow/internal/models"
)

// AccessTokenClaims is the token shape issued by the identity provider.
type AccessTokenClaims struct {
	jwt.RegisteredClaims
	UserID uuid.UUID `json:"uid"`
}

type userDirectory interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (models.User, error)
}

// Authenticator verifies bearer tokens and resolves the user behind them.
// Token issuance lives with the identity provider, not here.
type Authenticator struct {
	key   string
	alg   jwt.SigningMethod
	users userDirectory
}

func NewAuthenticator(key string, users userDirectory) *Authenticator {
	return &Authenticator{
		key:   key,
		alg:   jwt.SigningMethodHS256,
		users: users,
	}
}

func (a *Authenticator) Auth(ctx context.Context, r *http.Request) (models.User, error) {
	var user models.User

	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return user, errors.New("missing bearer token")
	}

	claims := &AccessTokenClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (any, error) { return []byte(a.key), nil },
		jwt.WithValidMethods([]string{a.alg.Alg()}),
	)
	if err != nil || !parsed.Valid {
		return user, fmt.Errorf("error parsing token. Err: %w", err)
	}

	user, err = a.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return user, fmt.Errorf("error resolving token user. Err: %w", err)
	}

	if !user.IsActive {
		return user, apperrors.ErrUserInactive
	}

	return user, nil
}

type authService interface {
	Auth(ctx context.Context, r *http.Request) (models.User, error)
}

func AuthMiddleware(as authService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := as.Auth(r.Context(), r)
			if err != nil {
				if errors.Is(err, apperrors.ErrUserInactive) {
					render.ServiceError(w, "Account is not active", http.StatusForbidden)
					return
				}
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			ctx := userctx.New(r.Context(), user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireCapability guards a handler with the role capability table.
// Must run after AuthMiddleware.
func RequireCapability(cap models.Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := userctx.FromContext(r.Context())
			if !ok {
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			if !user.Role.Can(cap) {
				render.ServiceError(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
