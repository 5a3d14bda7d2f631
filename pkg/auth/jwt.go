package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

type contextKey string

const UserKey contextKey = "user"

// Identity is what the client core needs to know about itself: who the bearer
// token says it is. The token is otherwise opaque to the client.
type Identity struct {
	UserID string
	Email  string
}

// IdentityFromToken extracts the caller's identity from a bearer token without
// verifying the signature. Verification is the backend's job; the client only
// needs the claims to filter its own typing echoes and label outbound events.
func IdentityFromToken(tokenString string) (Identity, error) {
	claims := &Claims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		return Identity{}, err
	}
	if claims.UserID == "" {
		return Identity{}, errors.New("token carries no user_id claim")
	}
	return Identity{UserID: claims.UserID, Email: claims.Email}, nil
}

// Manager signs and validates dev-gateway tokens.
type Manager struct {
	secret []byte
	ttl    time.Duration
}

func NewManager(secret string, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{secret: []byte(secret), ttl: ttl}
}

// Generate creates a new signed token for the given user.
func (m *Manager) Generate(userID, email string) (string, error) {
	claims := &Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Validate parses and validates a token.
func (m *Manager) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return m.secret, nil
	})
	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	return claims, nil
}
