package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Encoded hashes look like argon2id$v=19$m=65536,t=3,p=4$<salt>$<key>.
const argon2Prefix = "argon2id$v=19$"

var (
	errInvalidHashFormat = errors.New("argon2: invalid encoded hash format")
	errInvalidConfig     = errors.New("argon2: invalid configuration")
)

// Argon2Config holds the Argon2id cost parameters.
type Argon2Config struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func (c Argon2Config) validate() error {
	switch {
	case c.Memory < 8*1024:
		return fmt.Errorf("%w: memory must be at least 8192 KiB", errInvalidConfig)
	case c.Iterations == 0:
		return fmt.Errorf("%w: iterations must be positive", errInvalidConfig)
	case c.Parallelism == 0:
		return fmt.Errorf("%w: parallelism must be positive", errInvalidConfig)
	case c.SaltLength < 8:
		return fmt.Errorf("%w: salt must be at least 8 bytes", errInvalidConfig)
	case c.KeyLength < 16:
		return fmt.Errorf("%w: key must be at least 16 bytes", errInvalidConfig)
	}
	return nil
}

func (c Argon2Config) key(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, c.Iterations, c.Memory, c.Parallelism, c.KeyLength)
}

// PasswordHasher stores user passwords for the identity service.
type PasswordHasher struct {
	cfg Argon2Config
}

// NewPasswordHasher rejects parameter sets too weak to ship.
func NewPasswordHasher(cfg Argon2Config) (*PasswordHasher, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &PasswordHasher{cfg: cfg}, nil
}

// Hash derives a key under a fresh random salt and encodes both with the parameters used.
func (h *PasswordHasher) Hash(password string) (string, error) {
	salt := make([]byte, h.cfg.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("argon2: generate salt: %w", err)
	}

	enc := base64.RawStdEncoding
	return fmt.Sprintf("%sm=%d,t=%d,p=%d$%s$%s", argon2Prefix,
		h.cfg.Memory, h.cfg.Iterations, h.cfg.Parallelism,
		enc.EncodeToString(salt), enc.EncodeToString(h.cfg.key(password, salt)),
	), nil
}

// Verify re-derives the key with the parameters embedded in encoded, so
// hashes written under older settings keep verifying.
func (h *PasswordHasher) Verify(password, encoded string) (bool, error) {
	if password == "" || encoded == "" {
		return false, nil
	}

	cfg, salt, want, err := decodeArgon2(encoded)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(cfg.key(password, salt), want) == 1, nil
}

func decodeArgon2(encoded string) (Argon2Config, []byte, []byte, error) {
	rest, ok := strings.CutPrefix(encoded, argon2Prefix)
	if !ok {
		return Argon2Config{}, nil, nil, errInvalidHashFormat
	}
	parts := strings.Split(rest, "$")
	if len(parts) != 3 {
		return Argon2Config{}, nil, nil, errInvalidHashFormat
	}

	var cfg Argon2Config
	if _, err := fmt.Sscanf(parts[0], "m=%d,t=%d,p=%d", &cfg.Memory, &cfg.Iterations, &cfg.Parallelism); err != nil {
		return Argon2Config{}, nil, nil, fmt.Errorf("%w: %v", errInvalidHashFormat, err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[1])
	if err != nil {
		return Argon2Config{}, nil, nil, fmt.Errorf("argon2: decode salt: %w", err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil {
		return Argon2Config{}, nil, nil, fmt.Errorf("argon2: decode key: %w", err)
	}

	cfg.SaltLength = uint32(len(salt))
	cfg.KeyLength = uint32(len(key))
	if err := cfg.validate(); err != nil {
		return Argon2Config{}, nil, nil, err
	}
	return cfg, salt, key, nil
}
