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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/AleutianAI/DataNexus/services/embeddings"
	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("datanexus.vectorstore")

// WeaviateOptions locates the Weaviate instance.
type WeaviateOptions struct {
	// URL is scheme://host[:port], e.g. http://weaviate:8080.
	URL    string
	APIKey string
}

// WeaviateStore implements Store on Weaviate with client supplied vectors.
//
// # Description
//
// Each collection maps to one class with Vectorizer "none". Object ids are
// derived from the content, so batch imports are upserts.
//
// # Thread Safety
//
// Safe for concurrent use; the Weaviate client is.
type WeaviateStore struct {
	client   *weaviate.Client
	embedder embeddings.Embedder
}

// NewWeaviateStore builds a client. No request is made until first use.
func NewWeaviateStore(opts WeaviateOptions, embedder embeddings.Embedder) (*WeaviateStore, error) {
	raw := strings.Trim(opts.URL, "\"' ")
	parsedURL, err := url.Parse(raw)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid Weaviate URL %q", raw)
	}
	cfg := weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	}
	if opts.APIKey != "" {
		cfg.AuthConfig = auth.ApiKey{Value: opts.APIKey}
	}
	client, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create Weaviate client: %w", err)
	}
	return &WeaviateStore{client: client, embedder: embedder}, nil
}

// EnsureCollections creates any class that does not exist yet.
func (w *WeaviateStore) EnsureCollections(ctx context.Context) error {
	for _, class := range allClasses() {
		if _, err := w.client.Schema().ClassGetter().WithClassName(class.Class).Do(ctx); err == nil {
			slog.Debug("Schema already exists", "class", class.Class)
			continue
		}
		slog.Info("Schema not found, creating it", "class", class.Class)
		if err := w.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
			return fmt.Errorf("create class %s: %w", class.Class, err)
		}
	}
	return nil
}

func (w *WeaviateStore) AddDocuments(ctx context.Context, collection string, texts []string, metadata []map[string]any) (int, error) {
	class, err := className(collection)
	if err != nil {
		return 0, err
	}
	ctx, span := tracer.Start(ctx, "vectorstore.AddDocuments")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection), attribute.Int("texts", len(texts)))

	docs := prepareDocuments(collection, texts, metadata)
	if len(docs) == 0 {
		slog.Warn("No documents to add", "collection", collection)
		return 0, nil
	}
	vecs, err := embedTexts(ctx, w.embedder, docs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		return 0, err
	}

	objects := buildObjects(class, docs, vecs, time.Now())
	resp, err := w.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch import failed")
		return 0, fmt.Errorf("batch import into %s: %w", class, err)
	}

	stored := 0
	for _, item := range resp {
		if item.Result != nil && item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
			for _, e := range item.Result.Errors.Error {
				slog.Warn("Weaviate batch item failed", "class", class, "id", item.ID, "error", e.Message)
			}
			continue
		}
		stored++
	}
	if stored < len(objects) {
		slog.Warn("Errors encountered during batch import", "class", class,
			"stored", stored, "attempted", len(objects))
	}
	slog.Info("Stored documents", "collection", collection, "count", stored)
	return stored, nil
}

func buildObjects(class string, docs []document, vecs [][]float32, now time.Time) []*models.Object {
	objects := make([]*models.Object, len(docs))
	for i, d := range docs {
		props := map[string]any{
			"text":       d.text,
			"created_at": now.UnixMilli(),
		}
		if s := metaString(d.metadata, MetaSource); s != "" {
			props["source"] = s
		}
		if class == ClassMemory {
			props["user_id"] = metaString(d.metadata, MetaUserID)
		}
		objects[i] = &models.Object{
			Class:      class,
			ID:         strfmt.UUID(d.id),
			Vector:     vecs[i],
			Properties: props,
		}
	}
	return objects
}

// searchResponse mirrors Get { <Class> { text _additional { distance } } }.
type searchResponse struct {
	Get map[string][]struct {
		Text       string `json:"text"`
		Additional struct {
			Distance *float64 `json:"distance"`
		} `json:"_additional"`
	} `json:"Get"`
}

func (w *WeaviateStore) SimilaritySearch(ctx context.Context, collection, query string, topK int, filter *Filter) ([]SearchResult, error) {
	class, err := className(collection)
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}
	ctx, span := tracer.Start(ctx, "vectorstore.SimilaritySearch")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection), attribute.Int("top_k", topK))

	vec, err := w.embedder.Embed(ctx, query)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
	}

	nearVector := w.client.GraphQL().NearVectorArgBuilder().WithVector(vec)
	get := w.client.GraphQL().Get().
		WithClassName(class).
		WithFields(
			graphql.Field{Name: "text"},
			graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
		).
		WithNearVector(nearVector).
		WithLimit(topK)
	if filter != nil && filter.UserID != "" {
		get = get.WithWhere(userFilter(filter.UserID))
	}

	resp, err := get.Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
		return nil, fmt.Errorf("search %s: %w", class, err)
	}
	results, err := parseSearchResponse(resp, class)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("hits", len(results)))
	return results, nil
}

func userFilter(userID string) *filters.WhereBuilder {
	return filters.Where().
		WithPath([]string{"user_id"}).
		WithOperator(filters.Equal).
		WithValueString(userID)
}

func graphQLError(resp *models.GraphQLResponse) error {
	if resp == nil {
		return errors.New("nil GraphQL response")
	}
	if len(resp.Errors) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(resp.Errors))
	for _, e := range resp.Errors {
		if e != nil {
			msgs = append(msgs, e.Message)
		}
	}
	return fmt.Errorf("graphql: %s", strings.Join(msgs, "; "))
}

// parseGraphQL decodes resp.Data into T.
func parseGraphQL[T any](resp *models.GraphQLResponse) (*T, error) {
	if err := graphQLError(resp); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal GraphQL response: %w", err)
	}
	return &out, nil
}

func parseSearchResponse(resp *models.GraphQLResponse, class string) ([]SearchResult, error) {
	parsed, err := parseGraphQL[searchResponse](resp)
	if err != nil {
		return nil, err
	}
	hits := parsed.Get[class]
	results := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		r := SearchResult{Text: h.Text}
		if h.Additional.Distance != nil {
			r.Score = *h.Additional.Distance
		}
		results = append(results, r)
	}
	return results, nil
}

// aggregateResponse mirrors Aggregate { <Class> { meta { count } } }.
type aggregateResponse struct {
	Aggregate map[string][]struct {
		Meta struct {
			Count int `json:"count"`
		} `json:"meta"`
	} `json:"Aggregate"`
}

func (w *WeaviateStore) Count(ctx context.Context, collection string) (int, error) {
	class, err := className(collection)
	if err != nil {
		return 0, err
	}
	resp, err := w.client.GraphQL().Aggregate().
		WithClassName(class).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", class, err)
	}
	return parseCount(resp, class)
}

func parseCount(resp *models.GraphQLResponse, class string) (int, error) {
	parsed, err := parseGraphQL[aggregateResponse](resp)
	if err != nil {
		return 0, err
	}
	rows := parsed.Aggregate[class]
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Meta.Count, nil
}

func (w *WeaviateStore) DeleteByUser(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, nil
	}
	resp, err := w.client.Batch().ObjectsBatchDeleter().
		WithClassName(ClassMemory).
		WithOutput("minimal").
		WithWhere(userFilter(userID)).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete memories for user: %w", err)
	}
	if resp == nil || resp.Results == nil {
		return 0, nil
	}
	if resp.Results.Failed > 0 {
		slog.Warn("Some memories could not be deleted", "user_id", userID, "failed", resp.Results.Failed)
	}
	return int(resp.Results.Successful), nil
}

func (w *WeaviateStore) Health(ctx context.Context) error {
	ready, err := w.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate readiness: %w", err)
	}
	if !ready {
		return errors.New("weaviate is not ready")
	}
	return nil
}

var _ Store = (*WeaviateStore)(nil)
