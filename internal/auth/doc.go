// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RealmGate Contributors

// Package auth implements the account authentication subsystem: account
// registration, login with cached outcomes, administrative removal, and
// gateway assignment after a successful login.
//
// # Consistency model
//
// All Register attempts for one username serialize on a register-domain
// keyed lock, and all Login attempts on a login-domain lock; the two domains
// do not contend with each other, and unrelated usernames never contend at
// all. Existence and login outcomes are cached with timer-driven TTL expiry,
// so cached state can lag the store by at most one TTL window. Removal locks
// on account ID rather than username, which leaves a bounded inconsistency
// window between a removal and cached login state; this is a deliberate
// scope-narrowing, not an oversight.
//
// # Services
//
// Service is constructed once per server process with NewService or
// NewServiceWithLogger and owns every cache and lock table it uses.
package auth
