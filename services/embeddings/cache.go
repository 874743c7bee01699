// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"golang.org/x/sync/singleflight"
)

// CacheConfig configures CachedEmbedder.
type CacheConfig struct {
	// Path is the BadgerDB directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps the cache in RAM only. Used by tests.
	InMemory bool
}

// CacheStats are cumulative counters.
type CacheStats struct {
	Hits   int64
	Misses int64
}

// CachedEmbedder memoises vectors in BadgerDB.
//
// # Description
//
// Keys are sha256(model + "\x00" + text), so switching models never serves
// stale vectors. Concurrent misses for the same text share one backend
// call through singleflight.
//
// # Thread Safety
//
// Safe for concurrent use.
type CachedEmbedder struct {
	inner  Embedder
	db     *badger.DB
	group  singleflight.Group
	hits   atomic.Int64
	misses atomic.Int64
}

// NewCachedEmbedder opens the cache and wraps inner.
//
// # Inputs
//
//   - inner: The embedder to call on a miss.
//   - cfg: Cache location.
//
// # Outputs
//
//   - *CachedEmbedder: Call Close when done.
//   - error: Non-nil if the database cannot be opened.
func NewCachedEmbedder(inner Embedder, cfg CacheConfig) (*CachedEmbedder, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("embedding cache path is required")
		}
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create embedding cache directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithLogger(nil).WithNumVersionsToKeep(1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open embedding cache: %w", err)
	}
	slog.Info("Embedding cache opened", "path", cfg.Path, "in_memory", cfg.InMemory, "model", inner.Model())
	return &CachedEmbedder{inner: inner, db: db}, nil
}

func (c *CachedEmbedder) Dimension() int { return c.inner.Dimension() }
func (c *CachedEmbedder) Model() string  { return c.inner.Model() }

// Stats returns hit and miss counts since construction.
func (c *CachedEmbedder) Stats() CacheStats {
	return CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// Close releases the database.
func (c *CachedEmbedder) Close() error {
	return c.db.Close()
}

func (c *CachedEmbedder) key(text string) []byte {
	sum := sha256.Sum256([]byte(c.inner.Model() + "\x00" + text))
	return []byte("emb:" + hex.EncodeToString(sum[:]))
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)
	if vec, ok := c.lookup(key); ok {
		c.hits.Add(1)
		return vec, nil
	}

	v, err, _ := c.group.Do(string(key), func() (any, error) {
		// A concurrent caller may have filled the entry.
		if vec, ok := c.lookup(key); ok {
			c.hits.Add(1)
			return vec, nil
		}
		c.misses.Add(1)
		vec, err := c.inner.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		c.store(key, vec)
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, text := range texts {
		if vec, ok := c.lookup(c.key(text)); ok {
			c.hits.Add(1)
			out[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	c.misses.Add(int64(len(missTexts)))
	vecs, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(missTexts))
	}
	for j, idx := range missIdx {
		out[idx] = vecs[j]
		c.store(c.key(missTexts[j]), vecs[j])
	}
	return out, nil
}

func (c *CachedEmbedder) lookup(key []byte) ([]float32, bool) {
	var vec []float32
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			vec = decodeVector(val)
			return nil
		})
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			slog.Warn("Embedding cache read failed", "error", err)
		}
		return nil, false
	}
	return vec, vec != nil
}

func (c *CachedEmbedder) store(key []byte, vec []float32) {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, encodeVector(vec))
	})
	if err != nil {
		slog.Warn("Embedding cache write failed", "error", err)
	}
}

// encodeVector stores float32 values little-endian.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	if len(buf) == 0 || len(buf)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

var _ Embedder = (*CachedEmbedder)(nil)
