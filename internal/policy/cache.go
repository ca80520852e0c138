// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parapet Contributors

package policy

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/samber/oops"

	"github.com/parapet/parapet/internal/policy/expression"
	"github.com/parapet/parapet/internal/policy/store"
	"github.com/parapet/parapet/internal/policy/types"
)

// DefaultTTL is how long a snapshot stays fresh when no TTL is
// configured.
const DefaultTTL = 60 * time.Second

// globMeta are the characters that mark a declared action as a glob
// pattern rather than an exact name.
const globMeta = "*?[{"

// CachedPolicy pairs a policy's metadata with its compiled rule.
type CachedPolicy struct {
	Meta *types.Policy
	Rule *expression.Rule

	// actionGlobs holds the compiled patterns for glob-shaped entries
	// in Meta.Actions.
	actionGlobs []glob.Glob
}

// AppliesToAction reports whether the policy targets the action. A
// policy declaring no actions targets every action.
func (cp *CachedPolicy) AppliesToAction(action string) bool {
	if len(cp.Meta.Actions) == 0 {
		return true
	}
	if cp.Meta.HasAction(action) {
		return true
	}
	for _, g := range cp.actionGlobs {
		if g.Match(action) {
			return true
		}
	}
	return false
}

// Snapshot is an immutable view of the compiled policy set. It is safe
// for concurrent reads without locking; the cache swaps whole
// snapshots and never mutates one in place.
type Snapshot struct {
	Policies  []*CachedPolicy
	CreatedAt time.Time

	// byAction indexes policies by their exact declared actions;
	// universal holds policies declaring no actions, and globbed those
	// with pattern-shaped actions. ForAction merges the three.
	byAction  map[string][]*CachedPolicy
	universal []*CachedPolicy
	globbed   []*CachedPolicy
}

// ForAction returns the policies targeting the action, ordered by name.
func (s *Snapshot) ForAction(action string) []*CachedPolicy {
	var out []*CachedPolicy
	out = append(out, s.universal...)
	out = append(out, s.byAction[action]...)
	for _, cp := range s.globbed {
		if cp.Meta.HasAction(action) {
			continue // already in the exact index
		}
		for _, g := range cp.actionGlobs {
			if g.Match(action) {
				out = append(out, cp)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Meta.Name < out[j].Meta.Name })
	return out
}

// ByName returns the cached policy with the given name, or nil.
func (s *Snapshot) ByName(name string) *CachedPolicy {
	for _, cp := range s.Policies {
		if cp.Meta.Name == name {
			return cp
		}
	}
	return nil
}

// CacheOption configures Cache behavior.
type CacheOption func(*Cache)

// WithTTL sets how long a snapshot stays fresh before the next read
// triggers a refresh.
func WithTTL(d time.Duration) CacheOption {
	return func(c *Cache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithClock substitutes the time source, letting tests control
// snapshot expiry without sleeping.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger for refresh diagnostics.
func WithLogger(logger *slog.Logger) CacheOption {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Cache loads policies from the store, compiles them, and serves
// immutable snapshots with TTL-based expiry. A refresh that fails
// after a successful load serves the last good snapshot instead of
// failing the decision; only a cache that has never loaded reports the
// backend error to the caller.
type Cache struct {
	store   store.Store
	builder *expression.Builder
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger

	mu        sync.Mutex
	snapshot  *Snapshot
	expiresAt time.Time

	// inflight is non-nil while one goroutine refreshes; concurrent
	// readers wait on it instead of issuing duplicate loads.
	inflight chan struct{}
}

// NewCache creates a Cache over the given store. Call Prime before
// serving decisions.
func NewCache(s store.Store, opts ...CacheOption) *Cache {
	c := &Cache{
		store:   s,
		builder: expression.NewBuilder(),
		ttl:     DefaultTTL,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Prime performs the initial synchronous load. A malformed policy or
// an unreachable backend fails here, before any decision is served.
func (c *Cache) Prime(ctx context.Context) error {
	snap, err := c.load(ctx)
	if err != nil {
		cacheRefreshTotal.WithLabelValues("failure").Inc()
		return err
	}
	c.install(snap)
	return nil
}

// Current returns a snapshot, refreshing first when the TTL has
// elapsed. Only the one goroutine elected to refresh blocks on the
// store; concurrent callers keep reading the prior snapshot until the
// new one is installed. A caller may wait only when no snapshot has
// ever been installed.
func (c *Cache) Current(ctx context.Context) (*Snapshot, error) {
	c.mu.Lock()
	if c.snapshot != nil && c.now().Before(c.expiresAt) {
		snap := c.snapshot
		c.mu.Unlock()
		return snap, nil
	}

	if c.inflight != nil {
		wait := c.inflight
		snap := c.snapshot
		c.mu.Unlock()
		if snap != nil {
			// Expired but still the last good view; the refresher will
			// swap in the new snapshot when the load finishes.
			return snap, nil
		}
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, oops.Code("BACKEND_UNAVAILABLE").Wrap(ctx.Err())
		}
		// The refresher already applied fail-open; whatever snapshot is
		// installed now is the answer.
		c.mu.Lock()
		snap = c.snapshot
		c.mu.Unlock()
		if snap == nil {
			return nil, oops.Code("BACKEND_UNAVAILABLE").Errorf("no policy snapshot available")
		}
		return snap, nil
	}

	done := make(chan struct{})
	c.inflight = done
	c.mu.Unlock()

	snap, err := c.load(ctx)

	c.mu.Lock()
	c.inflight = nil
	if err == nil {
		c.installLocked(snap)
	}
	last := c.snapshot
	c.mu.Unlock()
	close(done)

	if err != nil {
		cacheRefreshTotal.WithLabelValues("failure").Inc()
		if last != nil {
			cacheFailOpenTotal.Inc()
			c.logger.WarnContext(ctx, "policy refresh failed, serving last good snapshot",
				"error", err,
				"snapshot_age", c.now().Sub(last.CreatedAt).String(),
			)
			return last, nil
		}
		return nil, err
	}
	return snap, nil
}

// Invalidate forces the next Current call to refresh.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}

func (c *Cache) install(snap *Snapshot) {
	c.mu.Lock()
	c.installLocked(snap)
	c.mu.Unlock()
}

func (c *Cache) installLocked(snap *Snapshot) {
	c.snapshot = snap
	c.expiresAt = c.now().Add(c.ttl)
	cacheRefreshTotal.WithLabelValues("success").Inc()
	cacheLastUpdate.Set(float64(snap.CreatedAt.Unix()))
	cachePolicies.Set(float64(len(snap.Policies)))
}

// load fetches and compiles the full policy set without holding the
// lock. One malformed policy fails the whole load; the previous
// snapshot stays installed.
func (c *Cache) load(ctx context.Context) (*Snapshot, error) {
	docs, err := c.store.LoadAll(ctx)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Policies:  make([]*CachedPolicy, 0, len(docs)),
		CreatedAt: c.now(),
		byAction:  make(map[string][]*CachedPolicy),
	}
	for _, doc := range docs {
		cp, compileErr := c.compile(doc)
		if compileErr != nil {
			return nil, compileErr
		}
		snap.Policies = append(snap.Policies, cp)
	}
	sort.Slice(snap.Policies, func(i, j int) bool {
		return snap.Policies[i].Meta.Name < snap.Policies[j].Meta.Name
	})

	for _, cp := range snap.Policies {
		if len(cp.Meta.Actions) == 0 {
			snap.universal = append(snap.universal, cp)
			continue
		}
		hasGlob := false
		for _, action := range cp.Meta.Actions {
			if strings.ContainsAny(action, globMeta) {
				hasGlob = true
				continue
			}
			snap.byAction[action] = append(snap.byAction[action], cp)
		}
		if hasGlob {
			snap.globbed = append(snap.globbed, cp)
		}
	}
	return snap, nil
}

// compile turns one document into its cached form: validated metadata,
// a built rule tree, and compiled action globs.
func (c *Cache) compile(doc *store.PolicyDocument) (*CachedPolicy, error) {
	meta, err := doc.Meta()
	if err != nil {
		return nil, err
	}
	rule, err := c.builder.BuildRule(doc.Name, doc.Rules.Condition, doc.Rules.Expressions)
	if err != nil {
		return nil, err
	}

	cp := &CachedPolicy{Meta: meta, Rule: rule}
	for _, action := range meta.Actions {
		if !strings.ContainsAny(action, globMeta) {
			continue
		}
		g, globErr := glob.Compile(action)
		if globErr != nil {
			return nil, oops.
				Code("POLICY_MALFORMED").
				With("policy", meta.Name).
				With("action", action).
				Wrapf(globErr, "invalid action pattern")
		}
		cp.actionGlobs = append(cp.actionGlobs, g)
	}
	return cp, nil
}
