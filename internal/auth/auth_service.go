// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RealmGate Contributors

package auth

import (
	"context"
	"crypto/sha256"
	"errors"
	"log/slog"
	"time"

	"github.com/gobwas/glob"
	"github.com/samber/oops"

	"github.com/realmgate/realmgate/internal/gate"
	"github.com/realmgate/realmgate/internal/keylock"
	"github.com/realmgate/realmgate/internal/ttlcache"
)

// Default cache lifetimes.
const (
	DefaultExistenceTTL = 4 * time.Second
	DefaultLoginTTL     = 5 * time.Second
)

// dummyPasswordHash is used when a user doesn't exist to prevent timing
// attacks. We still run password verification to make response time
// consistent. This is NOT a real credential - it's a fake hash that will
// never match any password.
//
//nolint:gosec // G101: This is an intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// loginKey is the composite login-cache key. The password component is a
// SHA-256 digest of the presented password, not the stored argon2id hash:
// the stored hash is salted, so the digest is the only value both a hit and
// a miss can be keyed on before the account is resolved.
type loginKey struct {
	username string
	digest   [sha256.Size]byte
}

// loginOutcome is a resolved login, cached for hits and misses alike so a
// client hammering the endpoint with either correct or wrong credentials is
// served from cache within the TTL window.
type loginOutcome struct {
	accountID int64
	denied    bool
}

// ServiceConfig configures an authentication Service.
type ServiceConfig struct {
	// ExistenceTTL is the lifetime of "this username exists" cache entries.
	// Defaults to DefaultExistenceTTL if zero.
	ExistenceTTL time.Duration

	// LoginTTL is the lifetime of cached login outcomes.
	// Defaults to DefaultLoginTTL if zero.
	LoginTTL time.Duration

	// ReservedUsernames lists glob patterns (e.g. "admin*") that cannot be
	// registered.
	ReservedUsernames []string
}

// Service orchestrates account registration, login, and removal. It owns all
// cache and lock state: one instance per server process, no package globals.
//
// Known limitation: Remove locks on account ID while Register and Login lock
// on username, so a removal (or future password change) is not guaranteed to
// invalidate an in-flight login cache entry. The staleness window is bounded
// by LoginTTL.
type Service struct {
	accounts AccountRepository
	hasher   PasswordHasher
	selector *gate.Selector
	logger   *slog.Logger
	metrics  *Metrics

	locks     *keylock.KeyedMutex
	existence *ttlcache.Cache[string, struct{}]
	logins    *ttlcache.Cache[loginKey, loginOutcome]

	existenceTTL time.Duration
	loginTTL     time.Duration
	reserved     []glob.Glob
}

// NewService creates a Service with a no-op logger.
// Returns an error if any required dependency is nil or a reserved-username
// pattern does not compile.
func NewService(accounts AccountRepository, hasher PasswordHasher, selector *gate.Selector, cfg ServiceConfig) (*Service, error) {
	return NewServiceWithLogger(accounts, hasher, selector, cfg, slog.New(slog.DiscardHandler))
}

// NewServiceWithLogger creates a Service with the provided logger.
func NewServiceWithLogger(accounts AccountRepository, hasher PasswordHasher, selector *gate.Selector, cfg ServiceConfig, logger *slog.Logger) (*Service, error) {
	if accounts == nil {
		return nil, oops.Errorf("accounts repository is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if selector == nil {
		return nil, oops.Errorf("gateway selector is required")
	}
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}

	existenceTTL := cfg.ExistenceTTL
	if existenceTTL <= 0 {
		existenceTTL = DefaultExistenceTTL
	}
	loginTTL := cfg.LoginTTL
	if loginTTL <= 0 {
		loginTTL = DefaultLoginTTL
	}

	reserved := make([]glob.Glob, 0, len(cfg.ReservedUsernames))
	for _, pattern := range cfg.ReservedUsernames {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, oops.Code("AUTH_BAD_RESERVED_PATTERN").
				With("pattern", pattern).
				Wrap(err)
		}
		reserved = append(reserved, g)
	}

	return &Service{
		accounts:     accounts,
		hasher:       hasher,
		selector:     selector,
		logger:       logger,
		locks:        keylock.New(),
		existence:    ttlcache.New[string, struct{}](),
		logins:       ttlcache.New[loginKey, loginOutcome](),
		existenceTTL: existenceTTL,
		loginTTL:     loginTTL,
		reserved:     reserved,
	}, nil
}

// SetMetrics attaches Prometheus metrics. Must be called before the service
// starts handling requests.
func (s *Service) SetMetrics(m *Metrics) {
	s.metrics = m
}

// Close drops all cache state and cancels pending eviction timers.
func (s *Service) Close() {
	s.existence.Close()
	s.logins.Close()
}

// Register creates a new account. source is a free-text label identifying
// the caller, used only for logging. Concurrent registrations of the same
// username serialize on a register-domain lock; the winner inserts, the rest
// see CodeAlreadyExists.
func (s *Service) Register(ctx context.Context, username, password, source string) error {
	if err := s.validateCredentials(username, password); err != nil {
		s.metrics.recordRequest("register", "invalid_argument")
		return err
	}

	handle, err := s.locks.Acquire(ctx, keylock.DomainRegister, keylock.HashString(username))
	if err != nil {
		s.metrics.recordRequest("register", "unavailable")
		return oops.Code(CodeUnavailable).
			With("operation", "acquire register lock").
			Wrap(err)
	}
	defer handle.Release()

	// Known-to-exist short-circuit. Absence proves nothing; the store is
	// re-checked below.
	if _, ok := s.existence.TryGet(username); ok {
		s.metrics.recordCacheHit("existence")
		s.metrics.recordRequest("register", "already_exists")
		return oops.Code(CodeAlreadyExists).Errorf("username is already taken")
	}

	exists, err := s.accounts.Exists(ctx, username)
	if err != nil {
		s.metrics.recordRequest("register", "unavailable")
		return oops.Code(CodeUnavailable).
			With("operation", "check account existence").
			Wrap(err)
	}
	if exists {
		s.existence.Put(username, struct{}{}, s.existenceTTL)
		s.metrics.recordRequest("register", "already_exists")
		return oops.Code(CodeAlreadyExists).Errorf("username is already taken")
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		s.metrics.recordRequest("register", "unavailable")
		return oops.Code(CodeUnavailable).
			With("operation", "hash password").
			Wrap(err)
	}

	account := NewAccount(username, hash)
	if err := s.accounts.Insert(ctx, account); err != nil {
		if errors.Is(err, ErrDuplicate) {
			// Race lost despite the lock. Should be rare; the unique index
			// makes it harmless.
			s.existence.Put(username, struct{}{}, s.existenceTTL)
			s.metrics.recordRequest("register", "already_exists")
			return oops.Code(CodeAlreadyExists).Errorf("username is already taken")
		}
		s.metrics.recordRequest("register", "unavailable")
		return oops.Code(CodeUnavailable).
			With("operation", "insert account").
			Wrap(err)
	}

	s.existence.Put(username, struct{}{}, s.existenceTTL)
	s.metrics.recordRequest("register", "success")
	s.logger.Info("account registered",
		"username", username,
		"account_id", account.ID,
		"source", source,
	)
	return nil
}

// Login authenticates an account and returns its ID. An unknown username
// and a wrong password produce the same CodeInvalidCredentials outcome, and
// both outcomes are cached so repeated attempts inside the TTL window skip
// the store entirely.
func (s *Service) Login(ctx context.Context, username, password string) (int64, error) {
	if username == "" || password == "" {
		s.metrics.recordRequest("login", "invalid_argument")
		return 0, oops.Code(CodeInvalidArgument).Errorf("username and password are required")
	}

	handle, err := s.locks.Acquire(ctx, keylock.DomainLogin, keylock.HashString(username))
	if err != nil {
		s.metrics.recordRequest("login", "unavailable")
		return 0, oops.Code(CodeUnavailable).
			With("operation", "acquire login lock").
			Wrap(err)
	}
	defer handle.Release()

	key := loginKey{username: username, digest: sha256.Sum256([]byte(password))}
	if outcome, ok := s.logins.TryGet(key); ok {
		s.metrics.recordCacheHit("login")
		if outcome.denied {
			s.metrics.recordRequest("login", "invalid_credentials")
			return 0, oops.Code(CodeInvalidCredentials).Errorf("invalid username or password")
		}
		s.metrics.recordRequest("login", "success")
		return outcome.accountID, nil
	}

	account, denied, err := s.resolveCredentials(ctx, username, password)
	if err != nil {
		s.metrics.recordRequest("login", "unavailable")
		return 0, err
	}
	if denied {
		s.logins.Put(key, loginOutcome{denied: true}, s.loginTTL)
		s.metrics.recordRequest("login", "invalid_credentials")
		return 0, oops.Code(CodeInvalidCredentials).Errorf("invalid username or password")
	}

	// Best effort: a login should succeed even if the timestamp write fails.
	if err := s.accounts.UpdateLastLogin(ctx, account.ID, time.Now()); err != nil {
		s.logger.Warn("failed to update last login",
			"account_id", account.ID,
			"error", err,
		)
	}

	s.logins.Put(key, loginOutcome{accountID: account.ID}, s.loginTTL)
	s.metrics.recordRequest("login", "success")
	s.logger.Debug("login resolved", "username", username, "account_id", account.ID)
	return account.ID, nil
}

// Remove deletes an account by ID. The lock key space is deliberately the
// account ID, not the username hash: deletion is identified by ID, and
// unifying the domains would serialize removals against every login for the
// same name. The resulting staleness window is bounded by the cache TTLs.
func (s *Service) Remove(ctx context.Context, accountID int64, source string) error {
	handle, err := s.locks.Acquire(ctx, keylock.DomainRemove, uint64(accountID))
	if err != nil {
		s.metrics.recordRequest("remove", "unavailable")
		return oops.Code(CodeUnavailable).
			With("operation", "acquire remove lock").
			Wrap(err)
	}
	defer handle.Release()

	username, err := s.accounts.Delete(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.metrics.recordRequest("remove", "not_found")
			return oops.Code(CodeNotFound).
				With("account_id", accountID).
				Errorf("account does not exist")
		}
		s.metrics.recordRequest("remove", "unavailable")
		return oops.Code(CodeUnavailable).
			With("operation", "delete account").
			Wrap(err)
	}

	s.existence.Remove(username)
	s.metrics.recordRequest("remove", "success")
	s.logger.Info("account removed",
		"username", username,
		"account_id", accountID,
		"source", source,
	)
	return nil
}

// SelectGateway returns the gateway endpoint for an authenticated account.
func (s *Service) SelectGateway(accountID int64) gate.Endpoint {
	return s.selector.Select(accountID)
}

// resolveCredentials looks up the account and verifies the password.
// denied is true for both an unknown username and a wrong password; the
// dummy-hash verification keeps the two paths close in timing.
func (s *Service) resolveCredentials(ctx context.Context, username, password string) (account *Account, denied bool, err error) {
	account, lookupErr := s.accounts.GetByUsername(ctx, username)

	targetHash := dummyPasswordHash
	exists := false
	if lookupErr != nil {
		if !errors.Is(lookupErr, ErrNotFound) {
			return nil, false, oops.Code(CodeUnavailable).
				With("operation", "get account by username").
				Wrap(lookupErr)
		}
	} else {
		targetHash = account.PasswordHash
		exists = true
	}

	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil {
		if !exists {
			// The dummy hash was only there to burn cycles.
			return nil, true, nil
		}
		return nil, false, oops.Code(CodeUnavailable).
			With("operation", "verify password").
			Wrap(verifyErr)
	}

	if !exists || !valid {
		return nil, true, nil
	}
	return account, false, nil
}

// validateCredentials applies the registration input rules: non-empty
// fields, username charset and length, and the reserved-name patterns.
func (s *Service) validateCredentials(username, password string) error {
	if username == "" || password == "" {
		return oops.Code(CodeInvalidArgument).Errorf("username and password are required")
	}
	if err := ValidateUsername(username); err != nil {
		return err
	}
	for _, g := range s.reserved {
		if g.Match(username) {
			return oops.Code(CodeInvalidArgument).
				With("username", username).
				Errorf("username is reserved")
		}
	}
	return nil
}
