// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vectorstore holds the three retrieval collections the agent reads
// from: database schema descriptions, few-shot question/SQL pairs, and
// per-user long-term memories.
//
// Vectors are computed client side by an embeddings.Embedder, so both the
// Weaviate and the in-memory backends store plain text plus a vector.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/AleutianAI/DataNexus/services/config"
	"github.com/AleutianAI/DataNexus/services/embeddings"
	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"
)

// Collection names.
const (
	CollectionSchema  = "db_schema_metadata"
	CollectionFewShot = "few_shot_sql_examples"
	CollectionMemory  = "long_term_user_memory"
)

// MaxTextLength is the longest text stored in a single object, in runes.
const MaxTextLength = 4096

// Metadata keys understood by every backend.
const (
	MetaUserID = "user_id"
	MetaSource = "source"
)

var (
	// ErrUnknownCollection is returned for a collection name outside the
	// three known collections.
	ErrUnknownCollection = errors.New("unknown vector store collection")

	// ErrEmbedding wraps failures of the embedder.
	ErrEmbedding = errors.New("embedding failed")
)

// SearchResult is one hit. Score is a distance: lower is closer.
type SearchResult struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// Filter restricts a search. A zero Filter matches everything.
type Filter struct {
	UserID string
}

// Store is the retrieval backend used by the agent tools and ingestion.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Store interface {
	// EnsureCollections creates missing collections. Safe to call repeatedly.
	EnsureCollections(ctx context.Context) error

	// AddDocuments embeds and stores texts. metadata is applied only when it
	// has exactly one entry per text. Returns the number of stored objects.
	AddDocuments(ctx context.Context, collection string, texts []string, metadata []map[string]any) (int, error)

	// SimilaritySearch returns up to topK nearest texts to query.
	SimilaritySearch(ctx context.Context, collection, query string, topK int, filter *Filter) ([]SearchResult, error)

	// Count returns the number of objects in a collection.
	Count(ctx context.Context, collection string) (int, error)

	// DeleteByUser removes every memory owned by userID.
	DeleteByUser(ctx context.Context, userID string) (int, error)

	// Health reports whether the backend is reachable.
	Health(ctx context.Context) error
}

// Collections lists the known collection names in a stable order.
func Collections() []string {
	return []string{CollectionSchema, CollectionFewShot, CollectionMemory}
}

func checkCollection(name string) error {
	switch name {
	case CollectionSchema, CollectionFewShot, CollectionMemory:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownCollection, name)
}

// NewFromSettings builds the configured store.
func NewFromSettings(cfg config.VectorStoreConfig, embedder embeddings.Embedder) (Store, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemoryStore(embedder), nil
	case "", "weaviate":
		return NewWeaviateStore(WeaviateOptions{URL: cfg.WeaviateURL, APIKey: cfg.APIKey}, embedder)
	default:
		return nil, fmt.Errorf("unknown vector store backend %q", cfg.Backend)
	}
}

// document is a text ready for insertion.
type document struct {
	id       string
	text     string
	metadata map[string]any
}

// prepareDocuments aligns metadata with texts, drops empty texts and splits
// anything longer than MaxTextLength.
func prepareDocuments(collection string, texts []string, metadata []map[string]any) []document {
	if len(metadata) != 0 && len(metadata) != len(texts) {
		slog.Warn("Metadata length does not match texts, ignoring metadata",
			"collection", collection, "texts", len(texts), "metadata", len(metadata))
		metadata = nil
	}

	docs := make([]document, 0, len(texts))
	for i, text := range texts {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		var meta map[string]any
		if metadata != nil {
			meta = metadata[i]
		}
		for _, chunk := range splitText(text) {
			docs = append(docs, document{
				id:       documentID(collection, chunk, meta),
				text:     chunk,
				metadata: meta,
			})
		}
	}
	return docs
}

func splitText(text string) []string {
	if utf8.RuneCountInString(text) <= MaxTextLength {
		return []string{text}
	}
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(MaxTextLength-96),
		textsplitter.WithChunkOverlap(64),
	)
	chunks, err := splitter.SplitText(text)
	if err != nil || len(chunks) == 0 {
		slog.Warn("Text splitting failed, truncating", "error", err)
		return []string{string([]rune(text)[:MaxTextLength])}
	}
	out := chunks[:0]
	for _, c := range chunks {
		if r := []rune(c); len(r) > MaxTextLength {
			c = string(r[:MaxTextLength])
		}
		out = append(out, c)
	}
	return out
}

// documentID derives a stable object id so re-ingesting identical content
// overwrites instead of duplicating.
func documentID(collection, text string, meta map[string]any) string {
	var b strings.Builder
	b.WriteString(collection)
	b.WriteByte(0)
	b.WriteString(text)
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\x00%s=%v", k, meta[k])
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(b.String())).String()
}

func metaString(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	if v, ok := meta[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

func embedTexts(ctx context.Context, e embeddings.Embedder, docs []document) ([][]float32, error) {
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.text
	}
	vecs, err := e.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
	}
	if len(vecs) != len(docs) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbedding, len(vecs), len(docs))
	}
	return vecs, nil
}
