// Package auth verifies the bearer credential a client presents when opening
// its signaling connection.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dkeye/tripsync/internal/config"
	"github.com/dkeye/tripsync/internal/domain"
)

var ErrNoSecret = errors.New("jwt secret not configured")

// Claims represents JWT payload for authenticated users.
type Claims struct {
	UserID   domain.UserID `json:"uid"`
	Username string        `json:"uname,omitempty"`
	jwt.RegisteredClaims
}

type Verifier struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

func NewVerifier(cfg config.AuthConfig) *Verifier {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Verifier{secret: []byte(cfg.JWTSecret), issuer: cfg.Issuer, ttl: ttl}
}

// Enabled reports whether tokens can be checked at all.
func (v *Verifier) Enabled() bool { return len(v.secret) > 0 }

// NewToken issues an HS256 token whose subject is uid.
func (v *Verifier) NewToken(uid domain.UserID, username string) (string, error) {
	if !v.Enabled() {
		return "", ErrNoSecret
	}
	now := time.Now()
	claims := Claims{
		UserID:   uid,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(v.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    v.issuer,
			Subject:   string(uid),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// Verify validates the token and returns the user id it was issued for.
// Every failure wraps domain.ErrInvalid.
func (v *Verifier) Verify(tokenString string) (domain.UserID, error) {
	if !v.Enabled() {
		return "", fmt.Errorf("%w: %w", domain.ErrInvalid, ErrNoSecret)
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrInvalid, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("%w: %w", domain.ErrInvalid, jwt.ErrTokenInvalidClaims)
	}
	uid := claims.UserID
	if uid == "" {
		uid = domain.UserID(claims.Subject)
	}
	if err := domain.ValidateUserID(uid); err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrInvalid, err)
	}
	return uid, nil
}
