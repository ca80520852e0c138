// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parapet Contributors

package policy

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/parapet/parapet/internal/policy/types"
)

// Metrics for policy evaluation and cache health.
var (
	// decideDuration tracks the latency of Decide() calls.
	decideDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "parapet_decide_duration_seconds",
		Help:    "Histogram of policy decision latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// decisionsTotal counts decisions by their stable code string.
	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parapet_decisions_total",
		Help: "Total number of policy decisions",
	}, []string{"code"})

	// cacheRefreshTotal counts cache refresh attempts by result.
	cacheRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parapet_policy_cache_refresh_total",
		Help: "Total number of policy cache refresh attempts",
	}, []string{"result"})

	// cacheFailOpenTotal counts refreshes that failed and served the
	// last good snapshot instead.
	cacheFailOpenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parapet_policy_cache_fail_open_total",
		Help: "Total number of stale snapshots served after a failed refresh",
	})

	// cacheLastUpdate records when the cache last refreshed successfully.
	cacheLastUpdate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parapet_policy_cache_last_update",
		Help: "Unix timestamp of the last successful policy cache refresh",
	})

	// cachePolicies records the number of policies in the live snapshot.
	cachePolicies = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parapet_policy_cache_policies",
		Help: "Number of compiled policies in the live cache snapshot",
	})
)

// recordDecisionMetrics records metrics for one completed decision.
func recordDecisionMetrics(duration time.Duration, code types.Code) {
	decideDuration.Observe(duration.Seconds())
	decisionsTotal.WithLabelValues(code.String()).Inc()
}
