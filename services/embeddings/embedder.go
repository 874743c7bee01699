// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package embeddings turns text into vectors for the vector store.
//
// Two backends are provided: an HTTP embedding service exposing /embed and
// /batch_embed (the sentence-transformers sidecar shipped with the stack),
// and OpenAI's embeddings endpoint. Either can be wrapped in CachedEmbedder,
// which persists vectors in BadgerDB so that re-ingesting an unchanged
// schema, or repeating a question, costs no model call.
package embeddings

import (
	"context"
	"errors"
	"fmt"

	"github.com/AleutianAI/DataNexus/services/config"
)

// ErrDimensionMismatch is returned when a backend yields vectors of an
// unexpected size.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Embedder converts text to vectors. Implementations must be safe for
// concurrent use.
type Embedder interface {
	// Embed returns the vector for one text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per input, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension is the vector length, or 0 if unknown.
	Dimension() int

	// Model identifies the embedding model for cache keys.
	Model() string
}

// NewFromSettings builds the configured embedder, wrapped in the disk cache
// when a cache directory is set. The returned close function releases the
// cache and is never nil.
func NewFromSettings(cfg config.EmbeddingConfig, openAIKey string) (Embedder, func() error, error) {
	var base Embedder
	switch cfg.Backend {
	case "", "service":
		base = NewServiceEmbedder(cfg.ServiceURL, cfg.Model, cfg.Dimension)
	case "hash":
		base = NewHashEmbedder(cfg.Dimension)
	case "openai":
		e, err := NewOpenAIEmbedder(openAIKey, cfg.Model, cfg.Dimension)
		if err != nil {
			return nil, nil, err
		}
		base = e
	default:
		return nil, nil, fmt.Errorf("unknown embedding backend %q", cfg.Backend)
	}

	noop := func() error { return nil }
	if cfg.CacheDir == "" {
		return base, noop, nil
	}
	cached, err := NewCachedEmbedder(base, CacheConfig{Path: cfg.CacheDir})
	if err != nil {
		return nil, nil, err
	}
	return cached, cached.Close, nil
}

func checkDimension(vec []float32, want int) error {
	if want > 0 && len(vec) != want {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), want)
	}
	return nil
}
