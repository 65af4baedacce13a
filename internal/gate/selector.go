// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RealmGate Contributors

// Package gate assigns authenticated accounts to gateway endpoints.
package gate

import (
	"fmt"

	"github.com/samber/oops"
)

// Endpoint is a gateway address a client connects to after authenticating.
type Endpoint struct {
	Host string
	Port int
}

// Addr returns the endpoint in host:port form.
func (e Endpoint) Addr() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// Selector maps account IDs onto a fixed gateway list. Selection is a pure
// function of its inputs: the same account always lands on the same gateway
// as long as the list is unchanged, so returning players are steered to the
// same shard across logins and process restarts.
type Selector struct {
	endpoints []Endpoint
}

// NewSelector creates a Selector. An empty endpoint list is a configuration
// error and fails here, at startup, rather than per-call.
func NewSelector(endpoints []Endpoint) (*Selector, error) {
	if len(endpoints) == 0 {
		return nil, oops.Code("GATE_NO_ENDPOINTS").Errorf("gateway endpoint list cannot be empty")
	}
	eps := make([]Endpoint, len(endpoints))
	copy(eps, endpoints)
	return &Selector{endpoints: eps}, nil
}

// Select returns the gateway for accountID: endpoints[accountID mod N].
// Deterministic, no randomness.
func (s *Selector) Select(accountID int64) Endpoint {
	n := int64(len(s.endpoints))
	idx := accountID % n
	if idx < 0 {
		idx += n
	}
	return s.endpoints[idx]
}

// Endpoints returns a copy of the configured gateway list.
func (s *Selector) Endpoints() []Endpoint {
	eps := make([]Endpoint, len(s.endpoints))
	copy(eps, s.endpoints)
	return eps
}
