// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parapet Contributors

package store

import (
	"context"
	"sort"
	"sync"

	"github.com/samber/oops"
)

// MemoryStore is an in-process Store and Writer, used for tests and for
// embedding the engine without external persistence.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]*PolicyDocument
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]*PolicyDocument)}
}

// Seed creates a MemoryStore pre-populated with docs. Duplicate names
// are rejected.
func Seed(docs ...*PolicyDocument) (*MemoryStore, error) {
	s := NewMemoryStore()
	for _, doc := range docs {
		if err := s.Save(context.Background(), doc); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// LoadAll implements Store. Documents are returned ordered by name.
func (s *MemoryStore) LoadAll(ctx context.Context) ([]*PolicyDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, oops.Code("BACKEND_UNAVAILABLE").Wrap(err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]*PolicyDocument, 0, len(s.docs))
	for _, doc := range s.docs {
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Name < docs[j].Name })
	return docs, nil
}

// LoadByName implements Store.
func (s *MemoryStore) LoadByName(ctx context.Context, name string) (*PolicyDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, oops.Code("BACKEND_UNAVAILABLE").Wrap(err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[name]
	if !ok {
		return nil, notFound(name)
	}
	return doc, nil
}

// Save implements Writer. A document with a name already present is
// rejected with POLICY_EXISTS; use Delete first to replace.
func (s *MemoryStore) Save(ctx context.Context, doc *PolicyDocument) error {
	if err := ctx.Err(); err != nil {
		return oops.Code("BACKEND_UNAVAILABLE").Wrap(err)
	}
	if doc == nil || doc.Name == "" {
		return oops.Code("POLICY_MALFORMED").Errorf("policy name must be non-empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.docs[doc.Name]; exists {
		return oops.Code("POLICY_EXISTS").With("name", doc.Name).Errorf("policy already exists")
	}
	s.docs[doc.Name] = doc
	return nil
}

// Delete implements Writer.
func (s *MemoryStore) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return oops.Code("BACKEND_UNAVAILABLE").Wrap(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.docs[name]; !exists {
		return notFound(name)
	}
	delete(s.docs, name)
	return nil
}
