package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Identity is the authenticated principal carried by a token. The
// upstream auth service issues tokens; this service only verifies them.
type Identity struct {
	UserID   int
	Username string
}

type claims struct {
	UserID   int    `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Service verifies and (for tooling and tests) issues HMAC-signed JWTs.
type Service struct {
	secret    []byte
	expiresIn time.Duration
}

// NewService constructs a Service.
func NewService(secret []byte, expiresIn time.Duration) *Service {
	return &Service{secret: secret, expiresIn: expiresIn}
}

// GenerateToken signs a token for the identity.
func (s *Service) GenerateToken(id Identity) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		UserID:   id.UserID,
		Username: id.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiresIn)),
		},
	})
	return token.SignedString(s.secret)
}

// ParseToken verifies the token and extracts the identity.
func (s *Service) ParseToken(tokenString string) (Identity, error) {
	var c claims
	token, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return Identity{}, ErrInvalidToken
	}
	if c.UserID == 0 || c.Username == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{UserID: c.UserID, Username: c.Username}, nil
}
