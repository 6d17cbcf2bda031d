// Package auth manages user credentials and API keys.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"neuron/internal/domain"
	"neuron/internal/repo"
)

const (
	MinPasswordLength = 8
	MaxPasswordLength = 72
)

// ErrInvalidCredentials is returned for an unknown email, a wrong password or
// an unknown API key. Callers must not reveal which.
var ErrInvalidCredentials = errors.New("invalid credentials")

type Service struct {
	Repo repo.Repo
	Now  func() time.Time
	// Cost is the bcrypt cost; zero means bcrypt.DefaultCost.
	Cost int
}

func New(r repo.Repo) Service {
	return Service{Repo: r, Now: time.Now}
}

func (s Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s Service) cost() int {
	if s.Cost == 0 {
		return bcrypt.DefaultCost
	}
	return s.Cost
}

// ValidatePassword checks length bounds. bcrypt ignores bytes past 72.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return domain.Invalid("password", fmt.Sprintf("must be at least %d characters", MinPasswordLength))
	}
	if len(password) > MaxPasswordLength {
		return domain.Invalid("password", fmt.Sprintf("must be at most %d bytes", MaxPasswordLength))
	}
	return nil
}

func HashPassword(password string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Register creates a user with a bcrypt password hash.
func (s Service) Register(ctx context.Context, email, name, password string) (domain.User, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return domain.User{}, domain.Invalid("email", "is not a valid address")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = addr.Address
	}
	if err := ValidatePassword(password); err != nil {
		return domain.User{}, err
	}
	hash, err := HashPassword(password, s.cost())
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	if _, err := s.Repo.GetUserByEmail(ctx, addr.Address); err == nil {
		return domain.User{}, domain.Invalid("email", "is already registered")
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, domain.Storage("lookup user", err)
	}
	u := domain.User{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(addr.Address),
		Name:         name,
		PasswordHash: hash,
		CreatedAt:    s.now().UTC().Format(time.RFC3339),
	}
	if err := s.Repo.InsertUser(ctx, nil, u); err != nil {
		return domain.User{}, domain.Storage("insert user", err)
	}
	return u, nil
}

// Verify checks an email/password pair.
func (s Service) Verify(ctx context.Context, email, password string) (domain.User, error) {
	u, err := s.Repo.GetUserByEmail(ctx, email)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return domain.User{}, domain.Storage("lookup user", err)
	}
	if !CheckPassword(password, u.PasswordHash) {
		return domain.User{}, ErrInvalidCredentials
	}
	return u, nil
}

// SetPassword replaces a user's password.
func (s Service) SetPassword(ctx context.Context, userID, password string) error {
	if err := ValidatePassword(password); err != nil {
		return err
	}
	hash, err := HashPassword(password, s.cost())
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return domain.Storage("update password", s.Repo.UpdateUserPassword(ctx, userID, hash))
}

// GenerateKey returns a new random API key with an "nk_" prefix.
func GenerateKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "nk_" + hex.EncodeToString(b), nil
}

// CreateAPIKey issues a key for the user. The plaintext is returned once;
// only its hash is stored.
func (s Service) CreateAPIKey(ctx context.Context, userID, name string) (domain.APIKey, string, error) {
	if _, err := s.Repo.GetUser(ctx, userID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.APIKey{}, "", fmt.Errorf("user %s: %w", userID, domain.ErrNotFound)
		}
		return domain.APIKey{}, "", domain.Storage("lookup user", err)
	}
	plain, err := GenerateKey()
	if err != nil {
		return domain.APIKey{}, "", fmt.Errorf("generate key: %w", err)
	}
	key := domain.APIKey{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: s.now().UTC().Format(time.RFC3339),
	}
	if err := s.Repo.InsertAPIKey(ctx, nil, key); err != nil {
		return domain.APIKey{}, "", domain.Storage("insert api key", err)
	}
	return key, plain, nil
}

// VerifyAPIKey resolves a presented key to its owner.
func (s Service) VerifyAPIKey(ctx context.Context, plain string) (domain.User, error) {
	if strings.TrimSpace(plain) == "" {
		return domain.User{}, ErrInvalidCredentials
	}
	key, err := s.Repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(plain))
	if errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return domain.User{}, domain.Storage("lookup api key", err)
	}
	u, err := s.Repo.GetUser(ctx, key.UserID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return domain.User{}, domain.Storage("lookup user", err)
	}
	return u, nil
}
