// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RealmGate Contributors

package auth

import (
	"context"
	"regexp"
	"time"

	"github.com/samber/oops"
)

// Username validation constraints.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 30
)

// usernameRegex matches usernames that:
// - Start with a letter (a-z, A-Z)
// - Contain only letters, numbers, and underscores
var usernameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// Account is a persistent player account. The ID is assigned by the store on
// insert; Username is unique (case-insensitive) and immutable after creation.
type Account struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
	LastLoginAt  *time.Time
}

// NewAccount creates an Account pending insertion. The store assigns ID and
// CreatedAt.
func NewAccount(username, passwordHash string) *Account {
	return &Account{
		Username:     username,
		PasswordHash: passwordHash,
	}
}

// ValidateUsername validates a username against rules.
// Username requirements:
// - Length: MinUsernameLength to MaxUsernameLength characters
// - Must start with a letter
// - Can contain only letters (a-z, A-Z), numbers (0-9), and underscores (_)
func ValidateUsername(username string) error {
	if username == "" {
		return oops.Code(CodeInvalidArgument).Errorf("username cannot be empty")
	}
	if len(username) < MinUsernameLength {
		return oops.Code(CodeInvalidArgument).
			With("min", MinUsernameLength).
			Errorf("username must be at least %d characters", MinUsernameLength)
	}
	if len(username) > MaxUsernameLength {
		return oops.Code(CodeInvalidArgument).
			With("max", MaxUsernameLength).
			Errorf("username must be at most %d characters", MaxUsernameLength)
	}
	if !usernameRegex.MatchString(username) {
		return oops.Code(CodeInvalidArgument).
			Errorf("username must start with a letter and contain only letters, numbers, and underscores")
	}
	return nil
}

// AccountRepository manages account persistence. All operations may fail
// with infrastructure errors; the service maps those to CodeUnavailable.
type AccountRepository interface {
	// Exists reports whether an account with the username exists
	// (case-insensitive).
	Exists(ctx context.Context, username string) (bool, error)

	// GetByUsername retrieves an account by username (case-insensitive).
	// Returns ErrNotFound if no account has the given username.
	GetByUsername(ctx context.Context, username string) (*Account, error)

	// Insert stores a new account, assigning ID and CreatedAt. Returns
	// ErrDuplicate if the username is already taken.
	Insert(ctx context.Context, account *Account) error

	// UpdateLastLogin sets the last-login timestamp for an account.
	UpdateLastLogin(ctx context.Context, id int64, at time.Time) error

	// Delete removes an account by ID and returns its username so callers
	// can invalidate username-keyed caches. Returns ErrNotFound if absent.
	Delete(ctx context.Context, id int64) (string, error)
}
