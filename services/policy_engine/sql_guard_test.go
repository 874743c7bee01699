// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package policy_engine

import (
	"errors"
	"testing"
)

func TestValidateSQL(t *testing.T) {
	engine, err := NewPolicyEngine()
	if err != nil {
		t.Fatalf("Failed to initialize engine: %v", err)
	}

	tests := []struct {
		name string
		sql  string
		want error
	}{
		{"simple select", "SELECT * FROM orders", nil},
		{"lowercase with trailing semicolon", "select id from users;", nil},
		{"cte", "WITH t AS (SELECT 1 AS x) SELECT x FROM t", nil},
		{"parenthesised union", "(SELECT 1) UNION (SELECT 2)", nil},
		{"keyword inside literal", "SELECT * FROM audit WHERE action = 'DELETE'", nil},
		{"keyword inside quoted identifier", `SELECT "update" FROM t`, nil},
		{"keyword in comment", "-- drop everything\nSELECT 1", nil},
		{"keyword in block comment", "SELECT /* insert */ 1", nil},
		{"dollar quoted", "SELECT $$ DROP TABLE x $$ AS s", nil},
		{"escaped quote", "SELECT 'it''s; DELETE' AS s", nil},
		{"e-string escape", `SELECT E'a\'; DROP TABLE t; --' AS s`, nil},
		{"column suffix not keyword", "SELECT last_update, created_at FROM t", nil},
		{"replace function", "SELECT replace(name, 'a', 'b') FROM t", nil},
		{"positional parameter", "SELECT * FROM t WHERE id = $1", nil},
		{"table named call", "SELECT id FROM call", nil},
		{"columns named set and do", "SELECT set, do FROM t", nil},
		{"column named analyze", "SELECT analyze FROM t", nil},
		{"session words as identifiers", "SELECT lock, reset, copy FROM t ORDER BY listen", nil},

		{"empty", "   ", ErrEmptyQuery},
		{"only semicolon", " ; ", ErrEmptyQuery},
		{"insert", "INSERT INTO t VALUES (1)", ErrWriteStatement},
		{"delete", "DELETE FROM orders", ErrWriteStatement},
		{"two statements", "SELECT 1; DROP TABLE orders", ErrWriteStatement},
		{"data modifying cte", "WITH d AS (DELETE FROM t RETURNING *) SELECT * FROM d", ErrWriteStatement},
		{"select into", "SELECT * INTO backup FROM orders", ErrWriteStatement},
		{"row lock across lines", "SELECT * FROM t FOR\nUPDATE", ErrWriteStatement},
		{"sleep", "SELECT pg_sleep(10)", ErrWriteStatement},
		{"set config", "SELECT set_config('statement_timeout', '0', false)", ErrWriteStatement},
		{"explain analyze", "EXPLAIN ANALYZE SELECT 1", ErrWriteStatement},
		{"unterminated literal", "SELECT 'abc", ErrMalformedSQL},
		{"unterminated comment", "SELECT 1 /* oops", ErrMalformedSQL},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := engine.ValidateSQL(tc.sql)
			if tc.want == nil {
				if got != nil {
					t.Errorf("ValidateSQL(%q) = %v, want nil", tc.sql, got)
				}
				return
			}
			if !errors.Is(got, tc.want) {
				t.Errorf("ValidateSQL(%q) = %v, want %v", tc.sql, got, tc.want)
			}
		})
	}
}

func TestValidateSQL_Messages(t *testing.T) {
	engine, _ := NewPolicyEngine()
	if err := engine.ValidateSQL(""); err.Error() != "Invalid or empty SQL query provided." {
		t.Errorf("unexpected empty message %q", err)
	}
	if err := engine.ValidateSQL("DROP TABLE x"); err.Error() != "Security Error: Only SELECT queries are allowed." {
		t.Errorf("unexpected write message %q", err)
	}
}

func TestStripSQL(t *testing.T) {
	got, err := StripSQL("SELECT 'x' AS \"Name\" -- c\nFROM t /* a /* nested */ b */ WHERE y = $tag$z$tag$")
	if err != nil {
		t.Fatal(err)
	}
	want := "SELECT '' AS \"_\"  \nFROM t   WHERE y = ''"
	if got != want {
		t.Errorf("StripSQL:\n got %q\nwant %q", got, want)
	}
}

func TestSQLRules_StatementCommandsAnchored(t *testing.T) {
	engine, err := NewPolicyEngine()
	if err != nil {
		t.Fatalf("Failed to initialize engine: %v", err)
	}
	for _, stmt := range []string{"LOCK TABLE t", "SET search_path = x", "(CALL proc()", "  vacuum t", "DO $$ $$"} {
		findings := scanLines(engine.sqlRules, stmt)
		if len(findings) == 0 {
			t.Errorf("no sql rule matched %q", stmt)
		}
	}
	for _, stmt := range []string{"SELECT id FROM call", "SELECT set, do FROM t WHERE lock"} {
		if findings := scanLines(engine.sqlRules, stmt); len(findings) != 0 {
			t.Errorf("%q matched %s", stmt, findings[0].PatternId)
		}
	}
}
