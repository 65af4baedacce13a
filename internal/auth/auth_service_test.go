// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RealmGate Contributors

package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/realmgate/realmgate/internal/auth"
	"github.com/realmgate/realmgate/internal/auth/mocks"
	"github.com/realmgate/realmgate/internal/gate"
	"github.com/realmgate/realmgate/pkg/errutil"
)

func testSelector(t *testing.T) *gate.Selector {
	t.Helper()
	s, err := gate.NewSelector([]gate.Endpoint{
		{Host: "g0.example.com", Port: 4301},
		{Host: "g1.example.com", Port: 4302},
		{Host: "g2.example.com", Port: 4303},
	})
	require.NoError(t, err)
	return s
}

func newTestService(t *testing.T, accounts auth.AccountRepository, hasher auth.PasswordHasher, cfg auth.ServiceConfig) *auth.Service {
	t.Helper()
	svc, err := auth.NewService(accounts, hasher, testSelector(t), cfg)
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return svc
}

func TestNewService_NilDependencies(t *testing.T) {
	tests := []struct {
		name        string
		accounts    auth.AccountRepository
		hasher      auth.PasswordHasher
		selector    bool
		expectError string
	}{
		{
			name:        "nil accounts repository",
			accounts:    nil,
			hasher:      mocks.NewMockPasswordHasher(t),
			selector:    true,
			expectError: "accounts repository is required",
		},
		{
			name:        "nil password hasher",
			accounts:    mocks.NewMockAccountRepository(t),
			hasher:      nil,
			selector:    true,
			expectError: "password hasher is required",
		},
		{
			name:        "nil gateway selector",
			accounts:    mocks.NewMockAccountRepository(t),
			hasher:      mocks.NewMockPasswordHasher(t),
			selector:    false,
			expectError: "gateway selector is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var selector *gate.Selector
			if tt.selector {
				selector = testSelector(t)
			}
			svc, err := auth.NewService(tt.accounts, tt.hasher, selector, auth.ServiceConfig{})
			require.Error(t, err)
			assert.Nil(t, svc)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestNewServiceWithLogger_NilLogger(t *testing.T) {
	svc, err := auth.NewServiceWithLogger(
		mocks.NewMockAccountRepository(t),
		mocks.NewMockPasswordHasher(t),
		testSelector(t),
		auth.ServiceConfig{},
		nil,
	)
	require.Error(t, err)
	assert.Nil(t, svc)
	assert.Contains(t, err.Error(), "logger")
}

func TestNewService_BadReservedPattern(t *testing.T) {
	svc, err := auth.NewService(
		mocks.NewMockAccountRepository(t),
		mocks.NewMockPasswordHasher(t),
		testSelector(t),
		auth.ServiceConfig{ReservedUsernames: []string{"[invalid"}},
	)
	require.Error(t, err)
	assert.Nil(t, svc)
	errutil.AssertErrorCode(t, err, "AUTH_BAD_RESERVED_PATTERN")
}

func TestService_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("successful registration", func(t *testing.T) {
		repo := mocks.NewMockAccountRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc := newTestService(t, repo, hasher, auth.ServiceConfig{})

		repo.On("Exists", ctx, "alice").Return(false, nil).Once()
		hasher.On("Hash", "password123").Return("$argon2id$hash", nil).Once()
		repo.On("Insert", ctx, mock.AnythingOfType("*auth.Account")).Return(nil).Once()

		err := svc.Register(ctx, "alice", "password123", "test")
		require.NoError(t, err)
	})

	t.Run("duplicate from store existence check", func(t *testing.T) {
		repo := mocks.NewMockAccountRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc := newTestService(t, repo, hasher, auth.ServiceConfig{})

		repo.On("Exists", ctx, "alice").Return(true, nil).Once()

		err := svc.Register(ctx, "alice", "password123", "test")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeAlreadyExists)
	})

	t.Run("second attempt within TTL is served from the existence cache", func(t *testing.T) {
		repo := mocks.NewMockAccountRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc := newTestService(t, repo, hasher, auth.ServiceConfig{ExistenceTTL: time.Minute})

		// The store is consulted exactly once; the repeat hits the cache.
		repo.On("Exists", ctx, "alice").Return(true, nil).Once()

		err := svc.Register(ctx, "alice", "password123", "test")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeAlreadyExists)

		err = svc.Register(ctx, "alice", "password123", "test")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeAlreadyExists)
	})

	t.Run("successful registration populates the existence cache", func(t *testing.T) {
		repo := mocks.NewMockAccountRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc := newTestService(t, repo, hasher, auth.ServiceConfig{ExistenceTTL: time.Minute})

		repo.On("Exists", ctx, "alice").Return(false, nil).Once()
		hasher.On("Hash", "password123").Return("$argon2id$hash", nil).Once()
		repo.On("Insert", ctx, mock.AnythingOfType("*auth.Account")).Return(nil).Once()

		require.NoError(t, svc.Register(ctx, "alice", "password123", "test"))

		// The duplicate is rejected without another Exists call.
		err := svc.Register(ctx, "alice", "other_password", "test")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeAlreadyExists)
	})

	t.Run("insert loses uniqueness race", func(t *testing.T) {
		repo := mocks.NewMockAccountRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc := newTestService(t, repo, hasher, auth.ServiceConfig{})

		repo.On("Exists", ctx, "alice").Return(false, nil).Once()
		hasher.On("Hash", "password123").Return("$argon2id$hash", nil).Once()
		repo.On("Insert", ctx, mock.AnythingOfType("*auth.Account")).Return(auth.ErrDuplicate).Once()

		err := svc.Register(ctx, "alice", "password123", "test")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeAlreadyExists)
	})

	t.Run("store failure maps to unavailable", func(t *testing.T) {
		repo := mocks.NewMockAccountRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc := newTestService(t, repo, hasher, auth.ServiceConfig{})

		repo.On("Exists", ctx, "alice").Return(false, errors.New("connection refused")).Once()

		err := svc.Register(ctx, "alice", "password123", "test")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeUnavailable)
	})

	t.Run("invalid input", func(t *testing.T) {
		tests := []struct {
			name     string
			username string
			password string
		}{
			{name: "empty username", username: "", password: "password123"},
			{name: "empty password", username: "alice", password: ""},
			{name: "too short", username: "ab", password: "password123"},
			{name: "leading digit", username: "1alice", password: "password123"},
			{name: "illegal character", username: "al ice", password: "password123"},
		}

		repo := mocks.NewMockAccountRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc := newTestService(t, repo, hasher, auth.ServiceConfig{})

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := svc.Register(ctx, tt.username, tt.password, "test")
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, auth.CodeInvalidArgument)
			})
		}
	})

	t.Run("reserved username", func(t *testing.T) {
		repo := mocks.NewMockAccountRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc := newTestService(t, repo, hasher, auth.ServiceConfig{
			ReservedUsernames: []string{"admin*", "system"},
		})

		for _, username := range []string{"admin", "administrator", "system"} {
			err := svc.Register(ctx, username, "password123", "test")
			require.Error(t, err, "username %q should be reserved", username)
			errutil.AssertErrorCode(t, err, auth.CodeInvalidArgument)
		}
	})

	t.Run("lock released after failure", func(t *testing.T) {
		repo := mocks.NewMockAccountRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc := newTestService(t, repo, hasher, auth.ServiceConfig{})

		repo.On("Exists", ctx, "alice").Return(false, errors.New("down")).Twice()

		// If the first failure leaked the register lock, the second call
		// would block on Acquire instead of reaching the store.
		for range 2 {
			err := svc.Register(ctx, "alice", "password123", "test")
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, auth.CodeUnavailable)
		}
	})
}

func TestService_Login(t *testing.T) {
	ctx := context.Background()
	storedHash := "$argon2id$v=19$m=65536,t=1,p=4$salt$hash"

	account := func() *auth.Account {
		return &auth.Account{
			ID:           7,
			Username:     "alice",
			PasswordHash: storedHash,
			CreatedAt:    time.Now(),
		}
	}

	t.Run("successful login", func(t *testing.T) {
		repo := mocks.NewMockAccountRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc := newTestService(t, repo, hasher, auth.ServiceConfig{})

		repo.On("GetByUsername", ctx, "alice").Return(account(), nil).Once()
		hasher.On("Verify", "password123", storedHash).Return(true, nil).Once()
		repo.On("UpdateLastLogin", ctx, int64(7), mock.AnythingOfType("time.Time")).Return(nil).Once()

		id, err := svc.Login(ctx, "alice", "password123")
		require.NoError(t, err)
		assert.Equal(t, int64(7), id)
	})

	t.Run("unknown user gets the same error as wrong password", func(t *testing.T) {
		repo := mocks.NewMockAccountRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc := newTestService(t, repo, hasher, auth.ServiceConfig{})

		repo.On("GetByUsername", ctx, "ghost").Return(nil, auth.ErrNotFound).Once()
		// Verify still runs against the dummy hash to keep timing flat.
		hasher.On("Verify", "password123", mock.AnythingOfType("string")).Return(false, nil).Once()

		_, unknownErr := svc.Login(ctx, "ghost", "password123")
		require.Error(t, unknownErr)
		errutil.AssertErrorCode(t, unknownErr, auth.CodeInvalidCredentials)

		repo.On("GetByUsername", ctx, "alice").Return(account(), nil).Once()
		hasher.On("Verify", "wrong", storedHash).Return(false, nil).Once()

		_, wrongErr := svc.Login(ctx, "alice", "wrong")
		require.Error(t, wrongErr)
		errutil.AssertErrorCode(t, wrongErr, auth.CodeInvalidCredentials)

		assert.Equal(t, unknownErr.Error(), wrongErr.Error(),
			"unknown-user and wrong-password messages must be indistinguishable")
	})

	t.Run("repeated success within TTL is served from cache", func(t *testing.T) {
		repo := mocks.NewMockAccountRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc := newTestService(t, repo, hasher, auth.ServiceConfig{LoginTTL: time.Minute})

		repo.On("GetByUsername", ctx, "alice").Return(account(), nil).Once()
		hasher.On("Verify", "password123", storedHash).Return(true, nil).Once()
		repo.On("UpdateLastLogin", ctx, int64(7), mock.AnythingOfType("time.Time")).Return(nil).Once()

		id, err := svc.Login(ctx, "alice", "password123")
		require.NoError(t, err)
		require.Equal(t, int64(7), id)

		// No further store or hasher calls; the .Once() expectations above
		// fail the test if the cache is bypassed.
		for range 3 {
			id, err := svc.Login(ctx, "alice", "password123")
			require.NoError(t, err)
			assert.Equal(t, int64(7), id)
		}
	})

	t.Run("repeated denial within TTL is served from cache", func(t *testing.T) {
		repo := mocks.NewMockAccountRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc := newTestService(t, repo, hasher, auth.ServiceConfig{LoginTTL: time.Minute})

		repo.On("GetByUsername", ctx, "alice").Return(account(), nil).Once()
		hasher.On("Verify", "wrong", storedHash).Return(false, nil).Once()

		for range 3 {
			_, err := svc.Login(ctx, "alice", "wrong")
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, auth.CodeInvalidCredentials)
		}
	})

	t.Run("different password misses the cache", func(t *testing.T) {
		repo := mocks.NewMockAccountRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc := newTestService(t, repo, hasher, auth.ServiceConfig{LoginTTL: time.Minute})

		repo.On("GetByUsername", ctx, "alice").Return(account(), nil).Twice()
		hasher.On("Verify", "first", storedHash).Return(false, nil).Once()
		hasher.On("Verify", "second", storedHash).Return(false, nil).Once()

		_, err := svc.Login(ctx, "alice", "first")
		require.Error(t, err)
		_, err = svc.Login(ctx, "alice", "second")
		require.Error(t, err)
	})

	t.Run("cached outcome expires", func(t *testing.T) {
		repo := mocks.NewMockAccountRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc := newTestService(t, repo, hasher, auth.ServiceConfig{LoginTTL: 20 * time.Millisecond})

		repo.On("GetByUsername", ctx, "alice").Return(account(), nil).Twice()
		hasher.On("Verify", "password123", storedHash).Return(true, nil).Twice()
		repo.On("UpdateLastLogin", ctx, int64(7), mock.AnythingOfType("time.Time")).Return(nil).Twice()

		_, err := svc.Login(ctx, "alice", "password123")
		require.NoError(t, err)

		lookups := func() int {
			n := 0
			for _, c := range repo.Calls {
				if c.Method == "GetByUsername" {
					n++
				}
			}
			return n
		}

		require.Eventually(t, func() bool {
			_, err := svc.Login(ctx, "alice", "password123")
			return err == nil && lookups() == 2
		}, time.Second, 25*time.Millisecond, "expired entry should force a store round trip")
	})

	t.Run("last-login write failure does not fail the login", func(t *testing.T) {
		repo := mocks.NewMockAccountRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc := newTestService(t, repo, hasher, auth.ServiceConfig{})

		repo.On("GetByUsername", ctx, "alice").Return(account(), nil).Once()
		hasher.On("Verify", "password123", storedHash).Return(true, nil).Once()
		repo.On("UpdateLastLogin", ctx, int64(7), mock.AnythingOfType("time.Time")).
			Return(errors.New("write timeout")).Once()

		id, err := svc.Login(ctx, "alice", "password123")
		require.NoError(t, err)
		assert.Equal(t, int64(7), id)
	})

	t.Run("store failure maps to unavailable and is not cached", func(t *testing.T) {
		repo := mocks.NewMockAccountRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc := newTestService(t, repo, hasher, auth.ServiceConfig{LoginTTL: time.Minute})

		repo.On("GetByUsername", ctx, "alice").Return(nil, errors.New("connection refused")).Twice()

		_, err := svc.Login(ctx, "alice", "password123")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeUnavailable)

		// The failure must not poison the cache: the retry reaches the store.
		_, err = svc.Login(ctx, "alice", "password123")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeUnavailable)
	})

	t.Run("empty input", func(t *testing.T) {
		repo := mocks.NewMockAccountRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc := newTestService(t, repo, hasher, auth.ServiceConfig{})

		_, err := svc.Login(ctx, "", "password123")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeInvalidArgument)

		_, err = svc.Login(ctx, "alice", "")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeInvalidArgument)
	})
}

func TestService_Remove(t *testing.T) {
	ctx := context.Background()

	t.Run("successful removal", func(t *testing.T) {
		repo := mocks.NewMockAccountRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc := newTestService(t, repo, hasher, auth.ServiceConfig{})

		repo.On("Delete", ctx, int64(7)).Return("alice", nil).Once()

		require.NoError(t, svc.Remove(ctx, 7, "admin"))
	})

	t.Run("unknown account", func(t *testing.T) {
		repo := mocks.NewMockAccountRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc := newTestService(t, repo, hasher, auth.ServiceConfig{})

		repo.On("Delete", ctx, int64(99)).Return("", auth.ErrNotFound).Once()

		err := svc.Remove(ctx, 99, "admin")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeNotFound)
	})

	t.Run("removal invalidates the existence cache", func(t *testing.T) {
		repo := mocks.NewMockAccountRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc := newTestService(t, repo, hasher, auth.ServiceConfig{ExistenceTTL: time.Minute})

		// Seed the existence cache via a rejected duplicate registration.
		repo.On("Exists", ctx, "alice").Return(true, nil).Once()
		err := svc.Register(ctx, "alice", "password123", "test")
		require.Error(t, err)

		repo.On("Delete", ctx, int64(7)).Return("alice", nil).Once()
		require.NoError(t, svc.Remove(ctx, 7, "admin"))

		// The name is registrable again immediately, no TTL wait.
		repo.On("Exists", ctx, "alice").Return(false, nil).Once()
		hasher.On("Hash", "password123").Return("$argon2id$hash", nil).Once()
		repo.On("Insert", ctx, mock.AnythingOfType("*auth.Account")).Return(nil).Once()

		require.NoError(t, svc.Register(ctx, "alice", "password123", "test"))
	})

	t.Run("store failure maps to unavailable", func(t *testing.T) {
		repo := mocks.NewMockAccountRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc := newTestService(t, repo, hasher, auth.ServiceConfig{})

		repo.On("Delete", ctx, int64(7)).Return("", errors.New("down")).Once()

		err := svc.Remove(ctx, 7, "admin")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeUnavailable)
	})
}

func TestService_SelectGateway(t *testing.T) {
	repo := mocks.NewMockAccountRepository(t)
	hasher := mocks.NewMockPasswordHasher(t)
	svc := newTestService(t, repo, hasher, auth.ServiceConfig{})

	assert.Equal(t, "g1.example.com", svc.SelectGateway(7).Host)
	assert.Equal(t, "g0.example.com", svc.SelectGateway(0).Host)
	assert.Equal(t, svc.SelectGateway(7), svc.SelectGateway(7))
}

// fakeRepo is an in-memory AccountRepository for concurrency tests, where
// call counts are nondeterministic and mock expectations would be brittle.
type fakeRepo struct {
	mu       sync.Mutex
	nextID   int64
	accounts map[string]*auth.Account
	inserts  int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{nextID: 1, accounts: make(map[string]*auth.Account)}
}

func (r *fakeRepo) Exists(_ context.Context, username string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.accounts[username]
	return ok, nil
}

func (r *fakeRepo) GetByUsername(_ context.Context, username string) (*auth.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[username]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *fakeRepo) Insert(_ context.Context, account *auth.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[account.Username]; ok {
		return auth.ErrDuplicate
	}
	account.ID = r.nextID
	r.nextID++
	account.CreatedAt = time.Now()
	cp := *account
	r.accounts[account.Username] = &cp
	r.inserts++
	return nil
}

func (r *fakeRepo) UpdateLastLogin(_ context.Context, id int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if a.ID == id {
			t := at
			a.LastLoginAt = &t
			return nil
		}
	}
	return auth.ErrNotFound
}

func (r *fakeRepo) Delete(_ context.Context, id int64) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for username, a := range r.accounts {
		if a.ID == id {
			delete(r.accounts, username)
			return username, nil
		}
	}
	return "", auth.ErrNotFound
}

type passthroughHasher struct{}

func (passthroughHasher) Hash(password string) (string, error) { return "hash:" + password, nil }

func (passthroughHasher) Verify(password, hash string) (bool, error) {
	return hash == "hash:"+password, nil
}

func TestService_ConcurrentRegisterSameUsername(t *testing.T) {
	repo := newFakeRepo()
	svc, err := auth.NewService(repo, passthroughHasher{}, testSelector(t), auth.ServiceConfig{})
	require.NoError(t, err)
	defer svc.Close()

	const attempts = 16
	errs := make(chan error, attempts)
	var wg sync.WaitGroup

	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- svc.Register(context.Background(), "alice", "password123", "race")
		}()
	}
	wg.Wait()
	close(errs)

	var succeeded, rejected int
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errutil.HasCode(err, auth.CodeAlreadyExists):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, succeeded, "exactly one concurrent registration should win")
	assert.Equal(t, attempts-1, rejected)
	assert.Equal(t, 1, repo.inserts, "the store should see exactly one insert")
}

func TestService_ConcurrentRegisterDistinctUsernames(t *testing.T) {
	repo := newFakeRepo()
	svc, err := auth.NewService(repo, passthroughHasher{}, testSelector(t), auth.ServiceConfig{})
	require.NoError(t, err)
	defer svc.Close()

	usernames := []string{"alice", "bob", "carol", "dave", "erin"}
	var wg sync.WaitGroup
	for _, username := range usernames {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := svc.Register(context.Background(), username, "password123", "race"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, len(usernames), repo.inserts)
}

func TestService_RegisterThenLogin(t *testing.T) {
	repo := newFakeRepo()
	svc, err := auth.NewService(repo, passthroughHasher{}, testSelector(t), auth.ServiceConfig{})
	require.NoError(t, err)
	defer svc.Close()

	ctx := context.Background()
	require.NoError(t, svc.Register(ctx, "alice", "password123", "test"))

	id, err := svc.Login(ctx, "alice", "password123")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	_, err = svc.Login(ctx, "alice", "wrong")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, auth.CodeInvalidCredentials)

	account, err := repo.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, account.LastLoginAt, "successful login should record a last-login timestamp")
}
