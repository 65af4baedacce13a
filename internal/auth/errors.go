// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RealmGate Contributors

package auth

import "errors"

// Sentinel errors used by repository implementations. The service maps them
// to coded errors before they cross the service boundary.
var (
	// ErrNotFound is returned when a requested account does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when an insert loses a uniqueness race on
	// username. The register lock makes this rare but cannot make it
	// impossible; the store's unique index is the last line of defense.
	ErrDuplicate = errors.New("duplicate key")
)

// Error codes crossing the service boundary. Duplicate registrations and bad
// credentials are expected outcomes, not incidents; only CodeUnavailable
// marks an infrastructure fault worth an error-level log.
const (
	// CodeInvalidArgument marks empty or malformed input. Never retried.
	CodeInvalidArgument = "AUTH_INVALID_ARGUMENT"

	// CodeAlreadyExists marks a duplicate registration, including the rare
	// case where the store reports ErrDuplicate despite the register lock.
	CodeAlreadyExists = "AUTH_ALREADY_EXISTS"

	// CodeInvalidCredentials marks a failed login. It deliberately conflates
	// "no such user" with "wrong password" so the endpoint cannot be used
	// for username enumeration.
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"

	// CodeNotFound marks removal of a nonexistent account.
	CodeNotFound = "AUTH_NOT_FOUND"

	// CodeUnavailable marks transient infrastructure faults: store errors
	// and lock-wait cancellations. Callers may retry with backoff.
	CodeUnavailable = "AUTH_UNAVAILABLE"
)
