// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/AleutianAI/DataNexus/services/embeddings"
)

type memoryEntry struct {
	text   string
	userID string
	vector []float32
}

// MemoryStore is a brute-force, process-local Store. It backs tests and the
// lightweight mode where no Weaviate is running.
type MemoryStore struct {
	embedder embeddings.Embedder

	mu          sync.RWMutex
	collections map[string]map[string]memoryEntry
}

// NewMemoryStore returns an empty store.
func NewMemoryStore(embedder embeddings.Embedder) *MemoryStore {
	return &MemoryStore{
		embedder:    embedder,
		collections: make(map[string]map[string]memoryEntry),
	}
}

func (m *MemoryStore) EnsureCollections(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, name := range Collections() {
		if _, ok := m.collections[name]; !ok {
			m.collections[name] = make(map[string]memoryEntry)
		}
	}
	return nil
}

func (m *MemoryStore) AddDocuments(ctx context.Context, collection string, texts []string, metadata []map[string]any) (int, error) {
	if err := checkCollection(collection); err != nil {
		return 0, err
	}
	docs := prepareDocuments(collection, texts, metadata)
	if len(docs) == 0 {
		slog.Warn("No documents to add", "collection", collection)
		return 0, nil
	}
	vecs, err := embedTexts(ctx, m.embedder, docs)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	coll, ok := m.collections[collection]
	if !ok {
		coll = make(map[string]memoryEntry)
		m.collections[collection] = coll
	}
	for i, d := range docs {
		coll[d.id] = memoryEntry{text: d.text, userID: metaString(d.metadata, MetaUserID), vector: vecs[i]}
	}
	return len(docs), nil
}

func (m *MemoryStore) SimilaritySearch(ctx context.Context, collection, query string, topK int, filter *Filter) ([]SearchResult, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}
	qv, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
	}

	m.mu.RLock()
	results := make([]SearchResult, 0, len(m.collections[collection]))
	for _, e := range m.collections[collection] {
		if filter != nil && filter.UserID != "" && e.userID != filter.UserID {
			continue
		}
		if len(e.vector) != len(qv) {
			continue
		}
		results = append(results, SearchResult{Text: e.text, Score: l2(qv, e.vector)})
	}
	m.mu.RUnlock()

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score == results[j].Score {
			return results[i].Text < results[j].Text
		}
		return results[i].Score < results[j].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (m *MemoryStore) Count(_ context.Context, collection string) (int, error) {
	if err := checkCollection(collection); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.collections[collection]), nil
}

func (m *MemoryStore) DeleteByUser(_ context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, e := range m.collections[CollectionMemory] {
		if e.userID == userID {
			delete(m.collections[CollectionMemory], id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Health(context.Context) error { return nil }

func l2(a, b []float32) float64 {
	var s float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		s += d * d
	}
	return math.Sqrt(s)
}

var _ Store = (*MemoryStore)(nil)
