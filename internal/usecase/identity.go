package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dhruv-khokhar/ChatterNet/internal/core/domain"
	"github.com/dhruv-khokhar/ChatterNet/internal/core/port"
	"github.com/dhruv-khokhar/ChatterNet/internal/infra/logger"
	"github.com/dhruv-khokhar/ChatterNet/internal/infra/security"
	"github.com/dhruv-khokhar/ChatterNet/internal/repository"
)

const (
	minUsernameLength = 3
	maxUsernameLength = 50
	minPasswordLength = 6
)

var (
	// ErrInvalidRegistration indicates the registration payload failed validation.
	ErrInvalidRegistration = errors.New("invalid registration")
	// ErrUserExists indicates the username or email is taken.
	ErrUserExists = errors.New("user already exists")
	// ErrInvalidCredentials indicates an unknown email or a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrRefreshTokenRequired indicates the request carried no refresh token.
	ErrRefreshTokenRequired = errors.New("refresh token required")
	// ErrInvalidRefreshToken indicates an unknown, expired or already rotated refresh token.
	ErrInvalidRefreshToken = errors.New("invalid or expired refresh token")
)

// PasswordHasher hashes and verifies passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) (bool, error)
}

// AccessTokenIssuer signs access tokens for a principal.
type AccessTokenIssuer interface {
	Issue(p domain.Principal) (string, error)
}

// TokenPair is returned by every operation that authenticates a user.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	UserID       string
}

// IdentityService registers users and manages their credentials.
type IdentityService struct {
	users      port.UserRepository
	tokens     port.RefreshTokenRepository
	hasher     PasswordHasher
	issuer     AccessTokenIssuer
	refreshTTL time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

func NewIdentityService(users port.UserRepository, tokens port.RefreshTokenRepository, hasher PasswordHasher, issuer AccessTokenIssuer, refreshTTL time.Duration, log *zap.Logger) *IdentityService {
	if log == nil {
		log = zap.NewNop()
	}
	if refreshTTL <= 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	return &IdentityService{
		users:      users,
		tokens:     tokens,
		hasher:     hasher,
		issuer:     issuer,
		refreshTTL: refreshTTL,
		logger:     log,
		now:        time.Now,
	}
}

// RegisterInput is the registration payload.
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

func (in RegisterInput) validate() error {
	if n := utf8.RuneCountInString(in.Username); n < minUsernameLength || n > maxUsernameLength {
		return fmt.Errorf("%w: username must be between %d and %d characters", ErrInvalidRegistration, minUsernameLength, maxUsernameLength)
	}
	if addr, err := mail.ParseAddress(in.Email); err != nil || addr.Address != in.Email {
		return fmt.Errorf("%w: email is invalid", ErrInvalidRegistration)
	}
	if utf8.RuneCountInString(in.Password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidRegistration, minPasswordLength)
	}
	return nil
}

// Register creates an account and signs the user in.
func (s *IdentityService) Register(ctx context.Context, in RegisterInput) (TokenPair, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := in.validate(); err != nil {
		return TokenPair{}, err
	}

	exists, err := s.users.ExistsByUsernameOrEmail(ctx, in.Username, in.Email)
	if err != nil {
		return TokenPair{}, fmt.Errorf("check existing user: %w", err)
	}
	if exists {
		s.logger.Warn("registration for existing user", zap.String("email", logger.MaskEmail(in.Email)))
		return TokenPair{}, ErrUserExists
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return TokenPair{}, fmt.Errorf("hash password: %w", err)
	}

	user := domain.User{
		ID:           uuid.NewString(),
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return TokenPair{}, ErrUserExists
		}
		return TokenPair{}, fmt.Errorf("create user: %w", err)
	}

	s.logger.Info("user registered", zap.String("user_id", user.ID))
	return s.issue(ctx, user)
}

// Login verifies credentials and issues a new token pair.
func (s *IdentityService) Login(ctx context.Context, email, password string) (TokenPair, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return TokenPair{}, ErrInvalidCredentials
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("login for unknown user", zap.String("email", logger.MaskEmail(email)))
			return TokenPair{}, ErrInvalidCredentials
		}
		return TokenPair{}, fmt.Errorf("load user: %w", err)
	}

	ok, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		return TokenPair{}, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		s.logger.Warn("invalid password", zap.String("user_id", user.ID))
		return TokenPair{}, ErrInvalidCredentials
	}

	return s.issue(ctx, *user)
}

// Refresh rotates a refresh token: the presented token is consumed and a
// new pair is issued.
func (s *IdentityService) Refresh(ctx context.Context, raw string) (TokenPair, error) {
	if raw = strings.TrimSpace(raw); raw == "" {
		return TokenPair{}, ErrRefreshTokenRequired
	}

	hash := security.HashToken(raw)
	stored, err := s.tokens.GetByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return TokenPair{}, ErrInvalidRefreshToken
		}
		return TokenPair{}, fmt.Errorf("load refresh token: %w", err)
	}

	removed, err := s.tokens.DeleteByHash(ctx, hash)
	if err != nil {
		return TokenPair{}, fmt.Errorf("consume refresh token: %w", err)
	}
	if !removed || stored.Expired(s.now()) {
		return TokenPair{}, ErrInvalidRefreshToken
	}

	user, err := s.users.GetByID(ctx, stored.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return TokenPair{}, ErrInvalidRefreshToken
		}
		return TokenPair{}, fmt.Errorf("load user: %w", err)
	}

	return s.issue(ctx, *user)
}

// Logout revokes a refresh token. Unknown tokens are ignored.
func (s *IdentityService) Logout(ctx context.Context, raw string) error {
	if raw = strings.TrimSpace(raw); raw == "" {
		return ErrRefreshTokenRequired
	}
	if _, err := s.tokens.DeleteByHash(ctx, security.HashToken(raw)); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

func (s *IdentityService) issue(ctx context.Context, user domain.User) (TokenPair, error) {
	access, err := s.issuer.Issue(domain.Principal{UserID: user.ID, Username: user.Username})
	if err != nil {
		return TokenPair{}, fmt.Errorf("issue access token: %w", err)
	}

	refresh, err := security.GenerateRefreshToken()
	if err != nil {
		return TokenPair{}, err
	}

	now := s.now().UTC()
	if err := s.tokens.Create(ctx, domain.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		TokenHash: security.HashToken(refresh),
		ExpiresAt: now.Add(s.refreshTTL),
		CreatedAt: now,
	}); err != nil {
		return TokenPair{}, fmt.Errorf("store refresh token: %w", err)
	}

	return TokenPair{AccessToken: access, RefreshToken: refresh, UserID: user.ID}, nil
}
