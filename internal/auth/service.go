package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultAccessTTL       = 15 * time.Minute
	defaultLockoutAttempts = 5
	defaultLockoutDuration = 30 * time.Minute
)

var (
	ErrInvalidFormat      = errors.New("invalid username or password format")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrAccountLocked      = errors.New("account temporarily locked")
	ErrAccountNotFound    = errors.New("account not found")
)

// Store is the persistence contract the service orchestrates over. All
// cross-request coordination happens here: failed-attempt counting and
// signup uniqueness must be atomic at the store.
type Store interface {
	AccountExists(ctx context.Context, username string) (bool, error)
	CreateAccount(ctx context.Context, username, passwordHash string) error
	GetByUsername(ctx context.Context, username string) (User, error)
	DeleteAccount(ctx context.Context, userID string) (int64, error)
	GetLoginAttempt(ctx context.Context, username string) (LoginAttempt, error)
	RegisterFailedAttempt(ctx context.Context, username string, threshold int, lockDuration time.Duration, now time.Time) (LoginAttempt, error)
	ResetLoginAttempts(ctx context.Context, username string) error
}

type Service struct {
	store           Store
	jwtSecret       []byte
	accessTTL       time.Duration
	lockoutAttempts int
	lockoutDuration time.Duration
	now             func() time.Time
}

func NewService(store Store, jwtSecret string) *Service {
	return &Service{
		store:           store,
		jwtSecret:       []byte(jwtSecret),
		accessTTL:       defaultAccessTTL,
		lockoutAttempts: defaultLockoutAttempts,
		lockoutDuration: defaultLockoutDuration,
		now:             time.Now,
	}
}

func (s *Service) WithSecurityConfig(lockoutAttempts int, lockoutDuration, accessTTL time.Duration) {
	if lockoutAttempts > 0 {
		s.lockoutAttempts = lockoutAttempts
	}
	if lockoutDuration > 0 {
		s.lockoutDuration = lockoutDuration
	}
	if accessTTL > 0 {
		s.accessTTL = accessTTL
	}
}

func (s *Service) Signup(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	password = strings.TrimSpace(password)

	if !ValidateUsername(username) || !ValidatePassword(password) {
		return ErrInvalidFormat
	}

	// Cheap early answer before paying for bcrypt. Uniqueness is still
	// enforced by the insert itself.
	exists, err := s.store.AccountExists(ctx, username)
	if err != nil {
		return err
	}
	if exists {
		return ErrUsernameTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	return s.store.CreateAccount(ctx, username, string(hash))
}

func (s *Service) Login(ctx context.Context, username, password string) (Tokens, error) {
	username = strings.TrimSpace(username)
	password = strings.TrimSpace(password)

	// Malformed input is rejected before any lockout bookkeeping, so junk
	// requests can never advance the counter of a real username.
	if !ValidateUsername(username) || !ValidatePassword(password) {
		return Tokens{}, ErrInvalidFormat
	}

	now := s.now().UTC()

	// A store failure here aborts the request. Defaulting to "unlocked"
	// would turn an outage into a brute-force window.
	attempt, err := s.store.GetLoginAttempt(ctx, username)
	if err != nil {
		return Tokens{}, err
	}
	if attempt.LockedAt(now, s.lockoutAttempts) {
		return Tokens{}, ErrAccountLocked
	}

	user, err := s.store.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Unknown usernames accumulate failures too and answer
			// exactly like a wrong password.
			return Tokens{}, s.registerFailure(ctx, username, now)
		}
		return Tokens{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return Tokens{}, s.registerFailure(ctx, username, now)
	}

	if err := s.store.ResetLoginAttempts(ctx, username); err != nil {
		return Tokens{}, err
	}

	return s.issueAccessToken(user.ID)
}

func (s *Service) DeleteAccount(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrAccountNotFound
	}

	deleted, err := s.store.DeleteAccount(ctx, userID)
	if err != nil {
		return err
	}
	if deleted == 0 {
		return ErrAccountNotFound
	}

	return nil
}

// registerFailure records one failed attempt and reports the failure as
// invalid credentials. The attempt that crosses the threshold still answers
// invalid credentials; only later attempts observe the lock.
func (s *Service) registerFailure(ctx context.Context, username string, now time.Time) error {
	if _, err := s.store.RegisterFailedAttempt(ctx, username, s.lockoutAttempts, s.lockoutDuration, now); err != nil {
		return err
	}
	return ErrInvalidCredentials
}

func (s *Service) issueAccessToken(userID string) (Tokens, error) {
	now := s.now().UTC()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(s.accessTTL).Unix(),
		"typ": "access",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	encoded, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return Tokens{}, fmt.Errorf("sign jwt: %w", err)
	}

	return Tokens{
		AccessToken: encoded,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.accessTTL.Seconds()),
	}, nil
}
