// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parapet Contributors

package policy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/parapet/parapet/internal/policy/store"
	"github.com/parapet/parapet/pkg/errutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stubStore is a controllable Store for cache tests: documents can be
// swapped and failures injected between loads.
type stubStore struct {
	mu    sync.Mutex
	docs  []*store.PolicyDocument
	err   error
	loads int

	// loading, if non-nil, is closed when a load starts; release blocks
	// the load until closed. Used to hold a refresh open.
	loading chan struct{}
	release chan struct{}
}

func (s *stubStore) set(docs ...*store.PolicyDocument) {
	s.mu.Lock()
	s.docs = docs
	s.err = nil
	s.mu.Unlock()
}

func (s *stubStore) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *stubStore) LoadAll(ctx context.Context) ([]*store.PolicyDocument, error) {
	s.mu.Lock()
	s.loads++
	docs, err := s.docs, s.err
	loading, release := s.loading, s.release
	s.mu.Unlock()

	if loading != nil {
		close(loading)
		s.mu.Lock()
		s.loading = nil
		s.mu.Unlock()
		<-release
	}
	if err != nil {
		return nil, err
	}
	return docs, nil
}

func (s *stubStore) LoadByName(ctx context.Context, name string) (*store.PolicyDocument, error) {
	docs, err := s.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		if doc.Name == name {
			return doc, nil
		}
	}
	return nil, oops.Code("POLICY_NOT_FOUND").Errorf("policy not found")
}

func (s *stubStore) loadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads
}

// fakeClock is an injectable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func permitDoc(name string, actions ...string) *store.PolicyDocument {
	return &store.PolicyDocument{
		Name:    name,
		Effect:  "permit",
		Actions: actions,
		Rules: store.RuleDocument{
			Condition: "AND",
			Expressions: []map[string]any{
				{"operator": "not_null", "actor_attribute": "id"},
			},
		},
	}
}

func TestCachePrimeCompiles(t *testing.T) {
	st := &stubStore{}
	st.set(permitDoc("p1", "edit-post"))

	cache := NewCache(st)
	require.NoError(t, cache.Prime(context.Background()))

	snap, err := cache.Current(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Policies, 1)
	assert.Equal(t, "p1", snap.Policies[0].Meta.Name)
	assert.NotNil(t, snap.Policies[0].Rule)
	assert.Equal(t, 1, st.loadCount())
}

func TestCachePrimeFailsOnMalformedPolicy(t *testing.T) {
	bad := permitDoc("bad", "edit-post")
	bad.Rules.Expressions = []map[string]any{{"operator": "almost_eq", "actor_attribute": "id", "value": 1}}
	st := &stubStore{}
	st.set(bad)

	cache := NewCache(st)
	err := cache.Prime(context.Background())
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "POLICY_MALFORMED")
}

func TestCachePrimeFailsOnBadActionPattern(t *testing.T) {
	bad := permitDoc("bad", "doc:[")
	st := &stubStore{}
	st.set(bad)

	cache := NewCache(st)
	err := cache.Prime(context.Background())
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "POLICY_MALFORMED")
}

func TestCacheTTLWindow(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	st := &stubStore{}
	st.set(permitDoc("p1", "edit-post"))

	cache := NewCache(st, WithTTL(time.Second), WithClock(clock.Now))
	require.NoError(t, cache.Prime(ctx))

	// Backend changes mid-window; the snapshot stays pinned.
	st.set(permitDoc("p2", "edit-post"))
	clock.Advance(500 * time.Millisecond)
	snap, err := cache.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "p1", snap.Policies[0].Meta.Name)
	assert.Equal(t, 1, st.loadCount())

	// Past the TTL the next read refreshes.
	clock.Advance(time.Second)
	snap, err = cache.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "p2", snap.Policies[0].Meta.Name)
	assert.Equal(t, 2, st.loadCount())
}

func TestCacheFailOpenToLastGood(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	st := &stubStore{}
	st.set(permitDoc("p1", "edit-post"))

	cache := NewCache(st, WithTTL(time.Second), WithClock(clock.Now))
	require.NoError(t, cache.Prime(ctx))

	st.fail(oops.Code("BACKEND_UNAVAILABLE").Errorf("connection refused"))
	clock.Advance(2 * time.Second)

	// Refresh fails; the last good snapshot still serves.
	snap, err := cache.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "p1", snap.Policies[0].Meta.Name)

	// Once the backend recovers the next expired read picks it up.
	st.set(permitDoc("p2", "edit-post"))
	clock.Advance(2 * time.Second)
	snap, err = cache.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "p2", snap.Policies[0].Meta.Name)
}

func TestCacheNeverPrimedSurfacesBackendError(t *testing.T) {
	st := &stubStore{}
	st.fail(oops.Code("BACKEND_UNAVAILABLE").Errorf("connection refused"))

	cache := NewCache(st)
	_, err := cache.Current(context.Background())
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "BACKEND_UNAVAILABLE")
}

func TestCacheSingleFlightRefresh(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	st := &stubStore{}
	st.set(permitDoc("p1", "edit-post"))

	cache := NewCache(st, WithTTL(time.Second), WithClock(clock.Now))
	require.NoError(t, cache.Prime(ctx))
	st.set(permitDoc("p2", "edit-post"))
	clock.Advance(2 * time.Second)

	// Hold the next load open with one refresher blocked inside the
	// store.
	loading := make(chan struct{})
	release := make(chan struct{})
	st.mu.Lock()
	st.loading = loading
	st.release = release
	st.mu.Unlock()

	refreshed := make(chan *Snapshot, 1)
	go func() {
		snap, err := cache.Current(ctx)
		assert.NoError(t, err)
		refreshed <- snap
	}()
	<-loading // refresh is in flight

	// Readers arriving during the refresh do not wait for it: each gets
	// the last good snapshot back immediately.
	for range 4 {
		readCtx, cancel := context.WithTimeout(ctx, time.Second)
		snap, err := cache.Current(readCtx)
		cancel()
		require.NoError(t, err)
		assert.Equal(t, "p1", snap.Policies[0].Meta.Name)
	}

	close(release)
	snap := <-refreshed
	assert.Equal(t, "p2", snap.Policies[0].Meta.Name)

	// Prime plus exactly one shared refresh; the piled-up readers issued
	// no loads of their own.
	assert.Equal(t, 2, st.loadCount())
}

func TestCacheInvalidate(t *testing.T) {
	ctx := context.Background()
	st := &stubStore{}
	st.set(permitDoc("p1", "edit-post"))

	cache := NewCache(st)
	require.NoError(t, cache.Prime(ctx))

	st.set(permitDoc("p2", "edit-post"))
	cache.Invalidate()

	snap, err := cache.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "p2", snap.Policies[0].Meta.Name)
}

func TestSnapshotForAction(t *testing.T) {
	ctx := context.Background()
	st := &stubStore{}
	st.set(
		permitDoc("exact", "edit-post"),
		permitDoc("globbed", "doc:*"),
		permitDoc("universal"),
	)

	cache := NewCache(st)
	require.NoError(t, cache.Prime(ctx))
	snap, err := cache.Current(ctx)
	require.NoError(t, err)

	names := func(cps []*CachedPolicy) []string {
		out := make([]string, len(cps))
		for i, cp := range cps {
			out[i] = cp.Meta.Name
		}
		return out
	}

	assert.Equal(t, []string{"exact", "universal"}, names(snap.ForAction("edit-post")))
	assert.Equal(t, []string{"globbed", "universal"}, names(snap.ForAction("doc:read")))
	assert.Equal(t, []string{"universal"}, names(snap.ForAction("publish")))
}
