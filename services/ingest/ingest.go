// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ingest loads the knowledge base the agent retrieves from: one
// document per database table and the curated question/SQL examples.
package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/AleutianAI/DataNexus/services/database"
	"github.com/AleutianAI/DataNexus/services/vectorstore"
)

// SchemaSource describes the tables of a schema. Implemented by
// *database.Pool.
type SchemaSource interface {
	IntrospectSchema(ctx context.Context, schema string) ([]database.TableDoc, error)
}

// FetchSchemaDocs renders one document per table of schema.
func FetchSchemaDocs(ctx context.Context, src SchemaSource, schema string) ([]string, error) {
	slog.InfoContext(ctx, "Fetching database schema", "schema", schema)
	tables, err := src.IntrospectSchema(ctx, schema)
	if err != nil {
		return nil, fmt.Errorf("fetch schema %q: %w", schema, err)
	}
	docs := make([]string, 0, len(tables))
	for _, t := range tables {
		docs = append(docs, strings.TrimSpace(t.Render()))
	}
	slog.InfoContext(ctx, "Fetched schema", "tables", len(docs))
	return docs, nil
}

// LoadFewShotExamples reads question/SQL pairs from a CSV file.
//
// # Description
//
// The first row is a header. Every following row with exactly two fields
// becomes "Question: <q>\nSQL Query: <sql>"; other rows are skipped. A
// missing file yields no examples and no error.
func LoadFewShotExamples(path string) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("Few-shot examples file not found", "path", path)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open few-shot examples: %w", err)
	}
	defer f.Close()
	return parseFewShot(f, path)
}

func parseFewShot(r io.Reader, source string) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var examples []string
	skipped := 0
	header := true
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read few-shot examples %s: %w", source, err)
		}
		if header {
			header = false
			continue
		}
		if len(row) != 2 || strings.TrimSpace(row[0]) == "" || strings.TrimSpace(row[1]) == "" {
			skipped++
			continue
		}
		examples = append(examples, fmt.Sprintf("Question: %s\nSQL Query: %s",
			strings.TrimSpace(row[0]), strings.TrimSpace(row[1])))
	}
	slog.Info("Loaded few-shot examples", "path", source, "count", len(examples), "skipped", skipped)
	return examples, nil
}

// Options selects what Run ingests.
type Options struct {
	// Schema is the database schema to document. Empty skips schema
	// ingestion.
	Schema string

	// FewShotFile is the examples CSV. Empty skips examples.
	FewShotFile string
}

// Report counts what Run stored.
type Report struct {
	SchemaDocs      int           `json:"schema_docs"`
	FewShotExamples int           `json:"few_shot_examples"`
	Duration        time.Duration `json:"duration"`
}

// Ingester writes knowledge base documents to a vector store.
type Ingester struct {
	store  vectorstore.Store
	source SchemaSource
}

// New returns an Ingester. source may be nil when only examples are
// ingested.
func New(store vectorstore.Store, source SchemaSource) *Ingester {
	return &Ingester{store: store, source: source}
}

// Run ingests the schema documents and the few-shot examples.
//
// # Description
//
// Collections are created first. Document ids are derived from content,
// so running again over unchanged input stores nothing new.
//
// # Outputs
//
//   - Report: Documents stored per collection.
//   - error: Store or database failures; a missing examples file is not
//     an error.
func (i *Ingester) Run(ctx context.Context, opts Options) (Report, error) {
	start := time.Now()
	slog.InfoContext(ctx, "Starting knowledge base ingestion")
	if err := i.store.EnsureCollections(ctx); err != nil {
		return Report{}, fmt.Errorf("ensure collections: %w", err)
	}

	var report Report
	if opts.Schema != "" {
		n, err := i.ingestSchema(ctx, opts.Schema)
		if err != nil {
			return report, err
		}
		report.SchemaDocs = n
	}
	if opts.FewShotFile != "" {
		n, err := i.IngestFewShot(ctx, opts.FewShotFile)
		if err != nil {
			return report, err
		}
		report.FewShotExamples = n
	}
	report.Duration = time.Since(start)
	slog.InfoContext(ctx, "Knowledge base ingestion complete",
		"schema_docs", report.SchemaDocs, "few_shot_examples", report.FewShotExamples, "duration", report.Duration)
	return report, nil
}

func (i *Ingester) ingestSchema(ctx context.Context, schema string) (int, error) {
	if i.source == nil {
		return 0, fmt.Errorf("schema ingestion requires a database")
	}
	docs, err := FetchSchemaDocs(ctx, i.source, schema)
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		slog.WarnContext(ctx, "No schema documents to ingest", "schema", schema)
		return 0, nil
	}
	n, err := i.store.AddDocuments(ctx, vectorstore.CollectionSchema, docs, nil)
	if err != nil {
		return 0, fmt.Errorf("store schema documents: %w", err)
	}
	return n, nil
}

// IngestFewShot stores the examples in path.
func (i *Ingester) IngestFewShot(ctx context.Context, path string) (int, error) {
	examples, err := LoadFewShotExamples(path)
	if err != nil {
		return 0, err
	}
	if len(examples) == 0 {
		slog.WarnContext(ctx, "No few-shot examples to ingest", "path", path)
		return 0, nil
	}
	n, err := i.store.AddDocuments(ctx, vectorstore.CollectionFewShot, examples, nil)
	if err != nil {
		return 0, fmt.Errorf("store few-shot examples: %w", err)
	}
	return n, nil
}
