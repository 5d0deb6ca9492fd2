package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/dhruv-khokhar/ChatterNet/internal/core/domain"
)

var (
	// ErrInvalidAccessToken covers malformed tokens and bad signatures.
	ErrInvalidAccessToken = errors.New("jwt: invalid access token")
	// ErrExpiredAccessToken is returned for well-signed tokens past exp.
	ErrExpiredAccessToken = errors.New("jwt: access token expired")
	errEmptySecret        = errors.New("jwt: signing secret is empty")
)

// AccessTokenClaims are the claims carried by an access token.
type AccessTokenClaims struct {
	UserID   string `json:"uid"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// TokenManager issues and verifies HS256 access tokens with a shared secret.
type TokenManager struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenManager(secret, issuer string, ttl time.Duration) (*TokenManager, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errEmptySecret
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenManager{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}, nil
}

// WithClock replaces the time source used for iat, exp and validation.
func (m *TokenManager) WithClock(now func() time.Time) *TokenManager {
	if now != nil {
		m.now = now
	}
	return m
}

// TTL is the lifetime of issued tokens.
func (m *TokenManager) TTL() time.Duration {
	return m.ttl
}

// Issue signs an access token for p.
func (m *TokenManager) Issue(p domain.Principal) (string, error) {
	now := m.now()
	claims := AccessTokenClaims{
		UserID:   p.UserID,
		Username: p.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   p.UserID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// Parse verifies the signature and expiry of raw and returns its principal.
func (m *TokenManager) Parse(raw string) (domain.Principal, error) {
	claims := &AccessTokenClaims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.Principal{}, ErrExpiredAccessToken
		}
		return domain.Principal{}, fmt.Errorf("%w: %v", ErrInvalidAccessToken, err)
	}

	if claims.UserID == "" {
		return domain.Principal{}, fmt.Errorf("%w: missing uid claim", ErrInvalidAccessToken)
	}
	return domain.Principal{UserID: claims.UserID, Username: claims.Username}, nil
}
