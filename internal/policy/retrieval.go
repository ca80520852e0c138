// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parapet Contributors

package policy

import (
	"context"

	"github.com/parapet/parapet/internal/policy/types"
)

// Retriever narrows the cached policy set down to the candidates for
// one request: the action must be targeted and the actor and subject
// categories must match the policy's declared sets.
type Retriever struct {
	cache       *Cache
	categorizer types.Categorizer
}

// NewRetriever creates a Retriever. A nil categorizer maps every value
// to the empty category, so only policies without actor or subject
// constraints apply.
func NewRetriever(cache *Cache, categorizer types.Categorizer) *Retriever {
	return &Retriever{cache: cache, categorizer: categorizer}
}

// Candidates returns the policies applicable to the request, ordered
// by name. Evaluation order is therefore stable across identical
// snapshots.
func (r *Retriever) Candidates(ctx context.Context, action string, pctx *types.PolicyContext) ([]*CachedPolicy, error) {
	snap, err := r.cache.Current(ctx)
	if err != nil {
		return nil, err
	}

	actorCategory := ""
	var subjectCategories []string
	if r.categorizer != nil {
		actorCategory = r.categorizer.ActorCategory(pctx.Actor)
		subjectCategories = make([]string, 0, len(pctx.Subjects))
		for _, subject := range pctx.Subjects {
			subjectCategories = append(subjectCategories, r.categorizer.SubjectCategory(subject))
		}
	}

	byAction := snap.ForAction(action)
	candidates := make([]*CachedPolicy, 0, len(byAction))
	for _, cp := range byAction {
		if !appliesToActor(cp.Meta, actorCategory) {
			continue
		}
		if !appliesToSubjects(cp.Meta, subjectCategories) {
			continue
		}
		candidates = append(candidates, cp)
	}
	return candidates, nil
}

// appliesToActor checks the actor dimension: an empty declared set
// matches any actor.
func appliesToActor(meta *types.Policy, category string) bool {
	if len(meta.Actors) == 0 {
		return true
	}
	return meta.HasActor(category)
}

// appliesToSubjects checks the subject dimension: an empty declared
// set matches anything; otherwise at least one request subject must
// fall into a declared category.
func appliesToSubjects(meta *types.Policy, categories []string) bool {
	if len(meta.Subjects) == 0 {
		return true
	}
	for _, category := range categories {
		if meta.HasSubject(category) {
			return true
		}
	}
	return false
}
