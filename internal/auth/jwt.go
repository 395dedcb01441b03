package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/drleavio/chatapp/internal/logger"
	"github.com/drleavio/chatapp/internal/models"
)

// SessionTTL is the lifetime of every issued session token.
const SessionTTL = 24 * time.Hour

var (
	// ErrInvalidSession covers every reason a token is rejected.
	ErrInvalidSession = errors.New("invalid session")
	ErrEmptyKey       = errors.New("session signing key cannot be empty")

	log = logger.New("auth")
)

// Claims is the identity carried by a session token
type Claims struct {
	UserID   string `json:"userId"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
	jwt.RegisteredClaims
}

// UUID parses the embedded user id.
func (c *Claims) UUID() (uuid.UUID, error) {
	if c == nil {
		return uuid.Nil, errors.New("claims cannot be nil")
	}
	return uuid.Parse(c.UserID)
}

// ClaimsForUser builds the identity part of a session for user.
func ClaimsForUser(user *models.User) (*Claims, error) {
	if user == nil {
		return nil, errors.New("user cannot be nil")
	}
	if user.ID == uuid.Nil {
		return nil, errors.New("user ID cannot be empty")
	}
	return &Claims{
		UserID:   user.ID.String(),
		Email:    user.Email,
		Username: user.Username,
		Avatar:   user.AvatarURL,
	}, nil
}

// Codec signs and verifies HS256 session tokens with a symmetric key.
type Codec struct {
	key []byte
	now func() time.Time
}

// NewCodec creates a codec for the given signing key.
func NewCodec(key []byte) (*Codec, error) {
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}
	return &Codec{key: key, now: time.Now}, nil
}

// GenerateToken signs claims with a fresh issued-at and a fixed expiry.
func (c *Codec) GenerateToken(claims *Claims) (string, time.Time, error) {
	if claims == nil || claims.UserID == "" {
		return "", time.Time{}, errors.New("claims must carry a user ID")
	}

	issuedAt := c.now()
	expiresAt := issuedAt.Add(SessionTTL)

	signed := *claims
	signed.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   claims.UserID,
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &signed)
	tokenString, err := token.SignedString(c.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign session: %w", err)
	}

	return tokenString, expiresAt, nil
}

// ValidateToken verifies signature and expiry and returns the embedded claims.
func (c *Codec) ValidateToken(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrInvalidSession
	}

	claims := &Claims{}
	parser := jwt.Parser{ValidMethods: []string{jwt.SigningMethodHS256.Alg()}}

	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return c.key, nil
	})
	if err != nil {
		log.Debug("Token validation error: %v", err)
		return nil, ErrInvalidSession
	}
	if !token.Valid || claims.ExpiresAt == nil || !claims.ExpiresAt.After(c.now()) {
		return nil, ErrInvalidSession
	}
	if _, err := claims.UUID(); err != nil {
		return nil, ErrInvalidSession
	}

	return claims, nil
}

// RefreshToken re-signs a still-valid session with a new expiry.
func (c *Codec) RefreshToken(claims *Claims) (string, time.Time, error) {
	return c.GenerateToken(claims)
}

// NeedsRefresh reports whether less than half of the session lifetime remains.
func (c *Codec) NeedsRefresh(claims *Claims) bool {
	if claims == nil || claims.ExpiresAt == nil {
		return false
	}
	return claims.ExpiresAt.Sub(c.now()) < SessionTTL/2
}
