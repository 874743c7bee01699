// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package database

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Column describes one table column.
type Column struct {
	Name     string
	DataType string
	Nullable bool
	Default  string
}

// ForeignKey is column -> table(column).
type ForeignKey struct {
	Column           string
	ReferencedTable  string
	ReferencedColumn string
}

// Index is a pg_indexes row.
type Index struct {
	Name       string
	Definition string
}

// TableDoc is everything the agent is told about a table.
type TableDoc struct {
	Schema      string
	Name        string
	Columns     []Column
	PrimaryKey  []string
	ForeignKeys []ForeignKey
	Indexes     []Index
}

// Render produces the text stored in the schema collection:
//
//	Table: orders
//	Columns:
//	  - id integer NOT NULL (default: nextval('orders_id_seq'::regclass))
//	Primary Key: id
//	Foreign Keys:
//	  - customer_id references customers(id)
//	Indexes:
//	  - orders_pkey: CREATE UNIQUE INDEX ...
func (t TableDoc) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Table: %s\n", t.Name)
	b.WriteString("Columns:\n")
	for _, c := range t.Columns {
		null := "NOT NULL"
		if c.Nullable {
			null = "NULL"
		}
		fmt.Fprintf(&b, "  - %s %s %s", c.Name, c.DataType, null)
		if c.Default != "" {
			fmt.Fprintf(&b, " (default: %s)", c.Default)
		}
		b.WriteByte('\n')
	}
	if len(t.PrimaryKey) > 0 {
		fmt.Fprintf(&b, "Primary Key: %s\n", strings.Join(t.PrimaryKey, ", "))
	}
	if len(t.ForeignKeys) > 0 {
		b.WriteString("Foreign Keys:\n")
		for _, fk := range t.ForeignKeys {
			fmt.Fprintf(&b, "  - %s references %s(%s)\n", fk.Column, fk.ReferencedTable, fk.ReferencedColumn)
		}
	}
	if len(t.Indexes) > 0 {
		b.WriteString("Indexes:\n")
		for _, idx := range t.Indexes {
			fmt.Fprintf(&b, "  - %s: %s\n", idx.Name, idx.Definition)
		}
	}
	return strings.TrimSpace(b.String())
}

const (
	tablesQuery = `SELECT table_name FROM information_schema.tables
WHERE table_schema = $1 ORDER BY table_name`

	columnsQuery = `SELECT column_name, data_type, is_nullable, COALESCE(column_default, '')
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2
ORDER BY ordinal_position`

	primaryKeyQuery = `SELECT kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
WHERE tc.table_schema = $1 AND tc.table_name = $2 AND tc.constraint_type = 'PRIMARY KEY'
ORDER BY kcu.ordinal_position`

	foreignKeyQuery = `SELECT kcu.column_name, ccu.table_name, ccu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
JOIN information_schema.constraint_column_usage ccu
  ON tc.constraint_name = ccu.constraint_name AND tc.table_schema = ccu.table_schema
WHERE tc.table_schema = $1 AND tc.table_name = $2 AND tc.constraint_type = 'FOREIGN KEY'
ORDER BY kcu.column_name`

	indexQuery = `SELECT indexname, indexdef FROM pg_indexes
WHERE schemaname = $1 AND tablename = $2 ORDER BY indexname`
)

// IntrospectSchema reads table definitions from information_schema.
func (p *Pool) IntrospectSchema(ctx context.Context, schema string) ([]TableDoc, error) {
	if p == nil || p.pool == nil {
		return nil, ErrPoolNotInitialized
	}
	slog.Info("Fetching schema", "schema", schema)

	tables, err := queryStrings(ctx, p, tablesQuery, schema)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	slog.Info("Found tables", "count", len(tables), "tables", tables)

	docs := make([]TableDoc, 0, len(tables))
	for _, table := range tables {
		doc := TableDoc{Schema: schema, Name: table}

		rows, err := p.pool.Query(ctx, columnsQuery, schema, table)
		if err != nil {
			return nil, fmt.Errorf("columns of %s: %w", table, err)
		}
		doc.Columns, err = pgx.CollectRows(rows, func(r pgx.CollectableRow) (Column, error) {
			var c Column
			var nullable string
			err := r.Scan(&c.Name, &c.DataType, &nullable, &c.Default)
			c.Nullable = nullable == "YES"
			return c, err
		})
		if err != nil {
			return nil, fmt.Errorf("columns of %s: %w", table, err)
		}

		if doc.PrimaryKey, err = queryStrings(ctx, p, primaryKeyQuery, schema, table); err != nil {
			return nil, fmt.Errorf("primary key of %s: %w", table, err)
		}

		rows, err = p.pool.Query(ctx, foreignKeyQuery, schema, table)
		if err != nil {
			return nil, fmt.Errorf("foreign keys of %s: %w", table, err)
		}
		doc.ForeignKeys, err = pgx.CollectRows(rows, func(r pgx.CollectableRow) (ForeignKey, error) {
			var fk ForeignKey
			err := r.Scan(&fk.Column, &fk.ReferencedTable, &fk.ReferencedColumn)
			return fk, err
		})
		if err != nil {
			return nil, fmt.Errorf("foreign keys of %s: %w", table, err)
		}

		rows, err = p.pool.Query(ctx, indexQuery, schema, table)
		if err != nil {
			return nil, fmt.Errorf("indexes of %s: %w", table, err)
		}
		doc.Indexes, err = pgx.CollectRows(rows, func(r pgx.CollectableRow) (Index, error) {
			var idx Index
			err := r.Scan(&idx.Name, &idx.Definition)
			return idx, err
		})
		if err != nil {
			return nil, fmt.Errorf("indexes of %s: %w", table, err)
		}

		docs = append(docs, doc)
	}
	return docs, nil
}

func queryStrings(ctx context.Context, p *Pool, sql string, args ...any) ([]string, error) {
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
