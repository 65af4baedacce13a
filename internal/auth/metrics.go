// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RealmGate Contributors

package auth

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains Prometheus metrics for the authentication service.
// A nil *Metrics is a valid no-op recorder.
type Metrics struct {
	Requests  *prometheus.CounterVec
	CacheHits *prometheus.CounterVec
}

// NewMetrics creates and registers authentication metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "realmgate_auth_requests_total",
				Help: "Total number of authentication requests by operation and outcome",
			},
			[]string{"op", "outcome"},
		),
		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "realmgate_auth_cache_hits_total",
				Help: "Total number of authentication cache hits by cache",
			},
			[]string{"cache"},
		),
	}

	reg.MustRegister(m.Requests)
	reg.MustRegister(m.CacheHits)

	return m
}

func (m *Metrics) recordRequest(op, outcome string) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) recordCacheHit(cache string) {
	if m == nil {
		return
	}
	m.CacheHits.WithLabelValues(cache).Inc()
}
