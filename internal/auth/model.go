package auth

import "time"

type User struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// LoginAttempt is the per-username lockout record. A username with no row
// behaves as the zero value: no failures, not locked.
type LoginAttempt struct {
	Username       string
	FailedAttempts int
	LockoutUntil   *time.Time
}

// LockedAt reports whether the record denies logins at the given instant.
// An expired lockout leaves the attempt count in place; the record simply
// reads as unlocked again without any write.
func (a LoginAttempt) LockedAt(now time.Time, threshold int) bool {
	if a.FailedAttempts < threshold {
		return false
	}
	return a.LockoutUntil != nil && now.Before(*a.LockoutUntil)
}

type Tokens struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}
