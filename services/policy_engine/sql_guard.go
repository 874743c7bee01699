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
	"fmt"
	"log/slog"
	"strings"
	"unicode"
)

var (
	// ErrEmptyQuery is returned for blank SQL.
	ErrEmptyQuery = errors.New("Invalid or empty SQL query provided.")

	// ErrWriteStatement is returned for anything other than a single
	// read-only SELECT or WITH statement.
	ErrWriteStatement = errors.New("Security Error: Only SELECT queries are allowed.")

	// ErrMalformedSQL is returned when a literal or comment is not closed.
	ErrMalformedSQL = errors.New("malformed SQL")
)

// ValidateSQL accepts only a single SELECT or WITH statement that matches
// no sql-scoped rule.
//
// # Description
//
// Comments are removed and the contents of string literals, dollar-quoted
// strings and quoted identifiers are blanked before any rule runs, so
// WHERE status = 'DELETE' is allowed while DELETE FROM t is not. A single
// trailing semicolon is tolerated.
//
// # Outputs
//
//   - error: nil, ErrEmptyQuery, ErrMalformedSQL or ErrWriteStatement.
func (e *PolicyEngine) ValidateSQL(sql string) error {
	if strings.TrimSpace(sql) == "" {
		return ErrEmptyQuery
	}
	code, err := StripSQL(sql)
	if err != nil {
		return err
	}
	code = strings.TrimSpace(code)
	for strings.HasSuffix(code, ";") {
		code = strings.TrimSpace(strings.TrimSuffix(code, ";"))
	}
	if code == "" {
		return ErrEmptyQuery
	}
	if strings.Contains(code, ";") {
		slog.Warn("Rejected SQL with multiple statements")
		return ErrWriteStatement
	}

	switch leadingKeyword(code) {
	case "SELECT", "WITH":
	default:
		slog.Warn("Rejected SQL not starting with SELECT or WITH", "keyword", leadingKeyword(code))
		return ErrWriteStatement
	}

	// One line so multi-word rules match across line breaks.
	code = strings.Join(strings.Fields(code), " ")
	if findings := scanLines(e.sqlRules, code); len(findings) > 0 {
		f := findings[0]
		slog.Warn("Rejected SQL by policy",
			"classification", f.ClassificationName, "pattern", f.PatternId, "match", f.MatchedContent)
		return ErrWriteStatement
	}
	return nil
}

func leadingKeyword(code string) string {
	code = strings.TrimLeft(code, "( \t\r\n")
	end := strings.IndexFunc(code, func(r rune) bool { return !unicode.IsLetter(r) })
	if end < 0 {
		end = len(code)
	}
	return strings.ToUpper(code[:end])
}

// StripSQL removes comments and blanks literal contents, keeping the
// surrounding quotes so token boundaries survive.
func StripSQL(sql string) (string, error) {
	var b strings.Builder
	b.Grow(len(sql))
	n := len(sql)

	for i := 0; i < n; {
		c := sql[i]
		switch {
		case c == '-' && i+1 < n && sql[i+1] == '-':
			j := strings.IndexByte(sql[i:], '\n')
			if j < 0 {
				i = n
			} else {
				i += j
			}
			b.WriteByte(' ')

		case c == '/' && i+1 < n && sql[i+1] == '*':
			// Postgres block comments nest.
			depth, j := 1, i+2
			for j < n && depth > 0 {
				switch {
				case sql[j] == '/' && j+1 < n && sql[j+1] == '*':
					depth++
					j += 2
				case sql[j] == '*' && j+1 < n && sql[j+1] == '/':
					depth--
					j += 2
				default:
					j++
				}
			}
			if depth > 0 {
				return "", fmt.Errorf("%w: unterminated block comment", ErrMalformedSQL)
			}
			b.WriteByte(' ')
			i = j

		case c == '\'':
			escapes := i > 0 && (sql[i-1] == 'E' || sql[i-1] == 'e') && (i < 2 || !isIdentByte(sql[i-2]))
			j, ok := skipQuoted(sql, i, '\'', escapes)
			if !ok {
				return "", fmt.Errorf("%w: unterminated string literal", ErrMalformedSQL)
			}
			b.WriteString("''")
			i = j

		case c == '"':
			j, ok := skipQuoted(sql, i, '"', false)
			if !ok {
				return "", fmt.Errorf("%w: unterminated quoted identifier", ErrMalformedSQL)
			}
			b.WriteString(`"_"`)
			i = j

		case c == '$':
			tag, ok := dollarTag(sql[i:])
			if !ok {
				b.WriteByte(c)
				i++
				continue
			}
			end := strings.Index(sql[i+len(tag):], tag)
			if end < 0 {
				return "", fmt.Errorf("%w: unterminated dollar-quoted string", ErrMalformedSQL)
			}
			b.WriteString("''")
			i += len(tag) + end + len(tag)

		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String(), nil
}

// skipQuoted returns the index just past the closing quote. Doubled quotes
// are an escaped quote; backslash escapes apply to E'' strings only.
func skipQuoted(s string, start int, quote byte, backslash bool) (int, bool) {
	for j := start + 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			if backslash {
				j++
			}
		case quote:
			if j+1 < len(s) && s[j+1] == quote {
				j++
				continue
			}
			return j + 1, true
		}
	}
	return 0, false
}

// dollarTag recognises $$ or $tag$ at the start of s.
func dollarTag(s string) (string, bool) {
	if len(s) < 2 {
		return "", false
	}
	for j := 1; j < len(s); j++ {
		c := s[j]
		if c == '$' {
			return s[:j+1], true
		}
		if !(c == '_' || unicode.IsLetter(rune(c)) || (j > 1 && c >= '0' && c <= '9')) {
			return "", false
		}
	}
	return "", false
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
