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
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("datanexus.database")

// Rows is a query result with JSON-safe values.
type Rows struct {
	Columns []string         `json:"columns"`
	Records []map[string]any `json:"records"`

	// Truncated is set when the result was cut at the row cap.
	Truncated bool `json:"truncated,omitempty"`
}

// Len returns the number of records.
func (r *Rows) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Records)
}

// Querier runs read-only SQL. Implemented by *Pool and by test fakes.
type Querier interface {
	QueryRows(ctx context.Context, sql string) (*Rows, error)
}

// QueryRows executes sql in a READ ONLY transaction.
//
// # Description
//
// The statement timeout is set with set_config(..., true) so it lasts for
// this transaction only. A statement that produces no columns returns an
// empty Rows. The transaction is always rolled back.
//
// # Outputs
//
//   - *Rows: Columns in select order, one map per row.
//   - error: The driver error, whose text is fit to show to the LLM.
func (p *Pool) QueryRows(ctx context.Context, sql string) (*Rows, error) {
	if p == nil || p.pool == nil {
		return nil, ErrPoolNotInitialized
	}
	ctx, span := tracer.Start(ctx, "database.QueryRows")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, p.timeout+time.Second)
	defer cancel()

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "begin failed")
		return nil, err
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	timeout := fmt.Sprintf("%dms", p.timeout.Milliseconds())
	if _, err := tx.Exec(ctx, "SELECT set_config('statement_timeout', $1, true)", timeout); err != nil {
		span.RecordError(err)
		return nil, err
	}

	rows, err := tx.Query(ctx, sql)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		return nil, err
	}
	result, err := collect(rows, p.maxRows)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("rows", len(result.Records)), attribute.Bool("truncated", result.Truncated))
	slog.Info("Query executed", "rows", len(result.Records), "truncated", result.Truncated)
	return result, nil
}

func collect(rows pgx.Rows, maxRows int) (*Rows, error) {
	defer rows.Close()

	fields := rows.FieldDescriptions()
	result := &Rows{Columns: make([]string, len(fields)), Records: []map[string]any{}}
	for i, f := range fields {
		result.Columns[i] = f.Name
	}
	if len(fields) == 0 {
		return result, rows.Err()
	}

	for rows.Next() {
		if len(result.Records) >= maxRows {
			result.Truncated = true
			break
		}
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		rec := make(map[string]any, len(values))
		for i, v := range values {
			rec[result.Columns[i]] = JSONValue(v)
		}
		result.Records = append(result.Records, rec)
	}
	return result, rows.Err()
}

// JSONValue converts a driver value into something encoding/json renders
// faithfully: numerics become float64, times RFC 3339 strings, UUIDs and
// byte strings text.
func JSONValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case pgtype.Numeric:
		if !x.Valid || x.NaN {
			return nil
		}
		f, err := x.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return finite(f.Float64)
	case float64:
		return finite(x)
	case float32:
		return finite(float64(x))
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case [16]byte:
		return uuid.UUID(x).String()
	case []byte:
		return string(x)
	case pgtype.Interval:
		if !x.Valid {
			return nil
		}
		return formatInterval(x)
	case pgtype.Time:
		if !x.Valid {
			return nil
		}
		d := time.Duration(x.Microseconds) * time.Microsecond
		return fmt.Sprintf("%02d:%02d:%02d", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = JSONValue(e)
		}
		return out
	case string, bool, int, int8, int16, int32, int64, uint8, uint16, uint32, uint64, map[string]any:
		return x
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func finite(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

func formatInterval(iv pgtype.Interval) string {
	d := time.Duration(iv.Microseconds) * time.Microsecond
	switch {
	case iv.Months != 0 && iv.Days != 0:
		return fmt.Sprintf("%d mons %d days %s", iv.Months, iv.Days, d)
	case iv.Months != 0:
		return fmt.Sprintf("%d mons %s", iv.Months, d)
	case iv.Days != 0:
		return fmt.Sprintf("%d days %s", iv.Days, d)
	}
	return d.String()
}
