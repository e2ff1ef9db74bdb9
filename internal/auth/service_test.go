package auth

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// memStore mirrors the repository's semantics in memory: one mutex stands in
// for the database's per-statement atomicity.
type memStore struct {
	mu       sync.Mutex
	users    map[string]User
	attempts map[string]LoginAttempt
	failWith error
}

func newMemStore() *memStore {
	return &memStore{
		users:    make(map[string]User),
		attempts: make(map[string]LoginAttempt),
	}
}

func (m *memStore) AccountExists(_ context.Context, username string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return false, m.failWith
	}
	_, ok := m.users[username]
	return ok, nil
}

func (m *memStore) CreateAccount(_ context.Context, username, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	if _, ok := m.users[username]; ok {
		return ErrUsernameTaken
	}
	id, err := uuid.NewV7()
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	m.users[username] = User{
		ID:           id.String(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	return nil
}

func (m *memStore) GetByUsername(_ context.Context, username string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return User{}, m.failWith
	}
	user, ok := m.users[username]
	if !ok {
		return User{}, sql.ErrNoRows
	}
	return user, nil
}

func (m *memStore) DeleteAccount(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return 0, m.failWith
	}
	for username, user := range m.users {
		if user.ID == userID {
			delete(m.users, username)
			return 1, nil
		}
	}
	return 0, nil
}

func (m *memStore) GetLoginAttempt(_ context.Context, username string) (LoginAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return LoginAttempt{}, m.failWith
	}
	attempt, ok := m.attempts[username]
	if !ok {
		return LoginAttempt{Username: username}, nil
	}
	return attempt, nil
}

func (m *memStore) RegisterFailedAttempt(_ context.Context, username string, threshold int, lockDuration time.Duration, now time.Time) (LoginAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return LoginAttempt{}, m.failWith
	}
	attempt := m.attempts[username]
	attempt.Username = username
	attempt.FailedAttempts++
	stillLocked := attempt.LockoutUntil != nil && attempt.LockoutUntil.After(now)
	if !stillLocked && attempt.FailedAttempts >= threshold {
		until := now.UTC().Add(lockDuration)
		attempt.LockoutUntil = &until
	}
	m.attempts[username] = attempt
	return attempt, nil
}

func (m *memStore) ResetLoginAttempts(_ context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	attempt, ok := m.attempts[username]
	if !ok {
		return nil
	}
	attempt.FailedAttempts = 0
	attempt.LockoutUntil = nil
	m.attempts[username] = attempt
	return nil
}

func (m *memStore) attemptCount(username string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts[username].FailedAttempts
}

func (m *memStore) hasAttemptRecord(username string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.attempts[username]
	return ok
}

const (
	testPassword  = "correcthorse123"
	wrongPassword = "wrongwrong1234"
)

func newTestService(store Store) *Service {
	return NewService(store, "test-secret")
}

func mustSignup(t *testing.T, store *memStore, username, password string) User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, store.CreateAccount(context.Background(), username, string(hash)))
	return store.users[username]
}

func TestSignup(t *testing.T) {
	ctx := context.Background()

	t.Run("duplicate username conflicts", func(t *testing.T) {
		store := newMemStore()
		service := newTestService(store)

		require.NoError(t, service.Signup(ctx, "alice", testPassword))
		assert.ErrorIs(t, service.Signup(ctx, "alice", testPassword), ErrUsernameTaken)
	})

	t.Run("rejects malformed input", func(t *testing.T) {
		store := newMemStore()
		service := newTestService(store)

		assert.ErrorIs(t, service.Signup(ctx, "ab", testPassword), ErrInvalidFormat)
		assert.ErrorIs(t, service.Signup(ctx, "alice", "short1!"), ErrInvalidFormat)
		assert.Empty(t, store.users)
	})

	t.Run("stores a hash, not the password", func(t *testing.T) {
		store := newMemStore()
		service := newTestService(store)

		require.NoError(t, service.Signup(ctx, "alice", testPassword))
		user := store.users["alice"]
		assert.NotEqual(t, testPassword, user.PasswordHash)
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(testPassword)))
	})
}

func TestLogin(t *testing.T) {
	ctx := context.Background()

	t.Run("valid credentials issue a token", func(t *testing.T) {
		store := newMemStore()
		service := newTestService(store)
		mustSignup(t, store, "alice", testPassword)

		tokens, err := service.Login(ctx, "alice", testPassword)
		require.NoError(t, err)
		assert.NotEmpty(t, tokens.AccessToken)
		assert.Equal(t, "Bearer", tokens.TokenType)
	})

	t.Run("wrong password advances the counter", func(t *testing.T) {
		store := newMemStore()
		service := newTestService(store)
		mustSignup(t, store, "alice", testPassword)

		_, err := service.Login(ctx, "alice", wrongPassword)
		assert.ErrorIs(t, err, ErrInvalidCredentials)
		assert.Equal(t, 1, store.attemptCount("alice"))
	})

	t.Run("unknown username looks like wrong password", func(t *testing.T) {
		store := newMemStore()
		service := newTestService(store)
		mustSignup(t, store, "alice", testPassword)

		_, knownErr := service.Login(ctx, "alice", wrongPassword)
		_, unknownErr := service.Login(ctx, "nobody_here", testPassword)
		assert.ErrorIs(t, knownErr, ErrInvalidCredentials)
		assert.ErrorIs(t, unknownErr, ErrInvalidCredentials)
		assert.Equal(t, 1, store.attemptCount("nobody_here"))
	})

	t.Run("malformed input never touches the store", func(t *testing.T) {
		store := newMemStore()
		service := newTestService(store)

		_, err := service.Login(ctx, "ab", testPassword)
		assert.ErrorIs(t, err, ErrInvalidFormat)
		_, err = service.Login(ctx, "alice", "short1!")
		assert.ErrorIs(t, err, ErrInvalidFormat)
		assert.Empty(t, store.attempts)
	})

	t.Run("success with no prior record creates none", func(t *testing.T) {
		store := newMemStore()
		service := newTestService(store)
		mustSignup(t, store, "alice", testPassword)

		_, err := service.Login(ctx, "alice", testPassword)
		require.NoError(t, err)
		assert.False(t, store.hasAttemptRecord("alice"))
	})

	t.Run("store failure on lockout check aborts the login", func(t *testing.T) {
		store := newMemStore()
		service := newTestService(store)
		mustSignup(t, store, "alice", testPassword)
		store.failWith = assert.AnError

		_, err := service.Login(ctx, "alice", testPassword)
		assert.ErrorIs(t, err, assert.AnError)
	})
}

func TestLoginLockout(t *testing.T) {
	ctx := context.Background()

	store := newMemStore()
	service := newTestService(store)
	mustSignup(t, store, "bob", testPassword)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := base
	service.now = func() time.Time { return current }

	for i := 0; i < 5; i++ {
		_, err := service.Login(ctx, "bob", wrongPassword)
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	}
	assert.Equal(t, 5, store.attemptCount("bob"))

	// Even the correct password is refused while the lock holds.
	_, err := service.Login(ctx, "bob", testPassword)
	assert.ErrorIs(t, err, ErrAccountLocked)

	// Still locked just before the expiry.
	current = base.Add(1799 * time.Second)
	_, err = service.Login(ctx, "bob", testPassword)
	assert.ErrorIs(t, err, ErrAccountLocked)

	// Past the expiry the record reads as open again and a success resets it.
	current = base.Add(1801 * time.Second)
	tokens, err := service.Login(ctx, "bob", testPassword)
	require.NoError(t, err)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.Equal(t, 0, store.attemptCount("bob"))
}

func TestLoginLockoutRearmsAfterExpiry(t *testing.T) {
	ctx := context.Background()

	store := newMemStore()
	service := newTestService(store)
	mustSignup(t, store, "bob", testPassword)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := base
	service.now = func() time.Time { return current }

	for i := 0; i < 5; i++ {
		_, _ = service.Login(ctx, "bob", wrongPassword)
	}

	// A failure after the lock expired counts again and re-arms the lock.
	current = base.Add(1801 * time.Second)
	_, err := service.Login(ctx, "bob", wrongPassword)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = service.Login(ctx, "bob", testPassword)
	assert.ErrorIs(t, err, ErrAccountLocked)
}

func TestConcurrentFailuresCountExactly(t *testing.T) {
	ctx := context.Background()

	store := newMemStore()
	service := newTestService(store)
	service.WithSecurityConfig(10, 30*time.Minute, 0)
	mustSignup(t, store, "alice", testPassword)

	const workers = 4
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = service.Login(ctx, "alice", wrongPassword)
		}()
	}
	wg.Wait()

	assert.Equal(t, workers, store.attemptCount("alice"))
}

func TestDeleteAccount(t *testing.T) {
	ctx := context.Background()

	store := newMemStore()
	service := newTestService(store)
	user := mustSignup(t, store, "alice", testPassword)

	require.NoError(t, service.DeleteAccount(ctx, user.ID))
	assert.ErrorIs(t, service.DeleteAccount(ctx, user.ID), ErrAccountNotFound)
	assert.ErrorIs(t, service.DeleteAccount(ctx, ""), ErrAccountNotFound)
}
