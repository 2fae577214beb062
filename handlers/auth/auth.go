package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"devsync-server/core"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultTTL matches the lifetime of tokens minted by the account service.
const DefaultTTL = 7 * 24 * time.Hour

// AppClaims represents the custom claims for the JWT.
type AppClaims struct {
	jwt.RegisteredClaims
	// UserID is what the account service puts in its tokens; Subject wins when both are set.
	UserID string `json:"userId,omitempty"`
	Role   string `json:"role,omitempty"`
	Login  string `json:"login,omitempty"`
	Name   string `json:"name,omitempty"`
}

// Authenticator issues and verifies HS256 tokens signed with a shared secret.
type Authenticator struct {
	secret []byte
	now    func() time.Time
}

func NewAuthenticator(secret string) *Authenticator {
	if secret == "" {
		logrus.Warn("JWT_SECRET is not set. Authentication will not work.")
	}
	return &Authenticator{secret: []byte(secret), now: time.Now}
}

// Issue signs a token for identity valid for ttl.
func (a *Authenticator) Issue(identity *core.Identity, ttl time.Duration) (string, error) {
	if len(a.secret) == 0 {
		return "", errors.New("jwt secret is not configured")
	}
	if identity == nil || identity.UserID == "" {
		return "", fmt.Errorf("%w: user id is required", core.ErrInvalidPayload)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	now := a.now()
	claims := AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   identity.UserID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Login: identity.Login,
		Name:  identity.Name,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *Authenticator) ParseJWT(tokenString string) (*AppClaims, error) {
	if len(a.secret) == 0 {
		return nil, errors.New("jwt secret is not configured")
	}
	token, err := jwt.ParseWithClaims(tokenString, &AppClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now))

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*AppClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, fmt.Errorf("invalid token")
}

// Verify implements core.IdentityVerifier. Every failure wraps core.ErrUnauthorized.
func (a *Authenticator) Verify(_ context.Context, tokenString string) (*core.Identity, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: token is required", core.ErrUnauthorized)
	}
	claims, err := a.ParseJWT(tokenString)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrUnauthorized, err)
	}

	userID := claims.Subject
	if userID == "" {
		userID = claims.UserID
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: token has no subject", core.ErrUnauthorized)
	}
	return &core.Identity{UserID: userID, Login: claims.Login, Name: claims.Name}, nil
}
