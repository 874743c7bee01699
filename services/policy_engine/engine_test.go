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
	"strings"
	"testing"
)

func TestPolicyEngine(t *testing.T) {
	engine, err := NewPolicyEngine()
	if err != nil {
		t.Fatalf("Failed to initialize engine: %v", err)
	}

	tests := []struct {
		name            string
		input           string
		shouldFind      bool
		expectedClass   string
		expectedPattern string
	}{
		{
			name:       "Safe Question",
			input:      "What were the total sales per region last quarter? Please update me.",
			shouldFind: false,
		},
		{
			name:            "AWS Access Key (Secret)",
			input:           "My aws key is AKIA1234567890123456 for the prod account.",
			shouldFind:      true,
			expectedClass:   "secret",
			expectedPattern: "AWS_ACCESS_KEY_ID",
		},
		{
			name:            "Email Address (PII)",
			input:           "Show orders placed by jdoe@example.com this month.",
			shouldFind:      true,
			expectedClass:   "pii",
			expectedPattern: "EMAIL_ADDRESS",
		},
		{
			name:            "Connection string with password",
			input:           "use postgres://admin:hunter2@db:5432/sales",
			shouldFind:      true,
			expectedClass:   "secret",
			expectedPattern: "POSTGRES_URL_WITH_PASSWORD",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			findings := engine.ScanFileContent(tc.input)

			if !tc.shouldFind {
				if len(findings) > 0 {
					t.Errorf("Expected 0 findings, got %d. First match: %s", len(findings), findings[0].PatternId)
				}
				if fastClass := engine.ClassifyData([]byte(tc.input)); fastClass != ClassPublic {
					t.Errorf("Expected 'public' for safe string, got '%s'", fastClass)
				}
				return
			}

			if len(findings) == 0 {
				t.Fatalf("Expected to find '%s' but got 0 findings.", tc.expectedPattern)
			}
			first := findings[0]
			if first.ClassificationName != tc.expectedClass {
				t.Errorf("Expected classification '%s', got '%s'", tc.expectedClass, first.ClassificationName)
			}
			if first.PatternId != tc.expectedPattern {
				t.Errorf("Expected pattern ID '%s', got '%s'", tc.expectedPattern, first.PatternId)
			}
			if fastClass := engine.ClassifyData([]byte(tc.input)); fastClass != tc.expectedClass {
				t.Errorf("ClassifyData mismatch. Expected '%s', got '%s'", tc.expectedClass, fastClass)
			}
		})
	}
}

func TestScanFileContent_LineNumbers(t *testing.T) {
	engine, err := NewPolicyEngine()
	if err != nil {
		t.Fatalf("Failed to init: %v", err)
	}
	findings := engine.ScanFileContent("first line\nkey AKIA1234567890123456\nthird")
	if len(findings) != 1 || findings[0].LineNumber != 2 {
		t.Fatalf("expected one finding on line 2, got %+v", findings)
	}
	if !HasClassification(findings, ClassSecret) || HasClassification(findings, ClassPII) {
		t.Errorf("HasClassification disagrees with findings %+v", findings)
	}
}

func TestEngineInitializationProperties(t *testing.T) {
	engine, err := NewPolicyEngine()
	if err != nil {
		t.Fatalf("Failed to init: %v", err)
	}
	if len(engine.Classifiers) < 2 {
		t.Fatal("Not enough message classifiers loaded to test sorting.")
	}
	first := engine.Classifiers[0]
	last := engine.Classifiers[len(engine.Classifiers)-1]
	if first.Priority < last.Priority {
		t.Errorf("Classifiers are not sorted by priority! First: %d, Last: %d", first.Priority, last.Priority)
	}
	if first.Name != ClassSecret {
		t.Errorf("expected 'secret' first, got %s", first.Name)
	}
	for _, c := range engine.Classifiers {
		if c.Scope == ScopeSQL {
			t.Errorf("sql classification %s leaked into message classifiers", c.Name)
		}
	}
	if len(engine.sqlRules) == 0 {
		t.Error("no sql rules loaded")
	}
}

func TestNewPolicyEngine_RejectsBadPolicy(t *testing.T) {
	bad := []string{
		"classifications: [ {name: x, patterns: [ {id: a, regex: '(', confidence: high} ] } ]",
		"classifications: [ {name: x, patterns: [ {id: a, regex: 'a', confidence: extreme} ] } ]",
		"classifications: [ {name: x, scope: everywhere} ]",
	}
	for _, raw := range bad {
		if _, err := newPolicyEngine([]byte(raw)); err == nil {
			t.Errorf("expected error for %q", raw)
		}
	}
}

func TestRedact(t *testing.T) {
	engine, _ := NewPolicyEngine()
	got := engine.Redact("key AKIA1234567890123456 and mail a@b.io")
	if strings.Contains(got, "AKIA") {
		t.Errorf("secret survived redaction: %s", got)
	}
	if !strings.Contains(got, "[REDACTED:AWS_ACCESS_KEY_ID]") || !strings.Contains(got, "a@b.io") {
		t.Errorf("unexpected redaction: %s", got)
	}
}

func TestPolicyEngine_Concurrency(t *testing.T) {
	engine, _ := NewPolicyEngine()
	input := "My fake key is AKIA1234567890123456"

	t.Run("ParallelScanning", func(t *testing.T) {
		t.Parallel()
		for i := 0; i < 100; i++ {
			t.Run("Worker", func(t *testing.T) {
				t.Parallel()
				if len(engine.ScanFileContent(input)) == 0 {
					t.Error("Concurrent scan failed to find secret")
				}
				if err := engine.ValidateSQL("SELECT 1"); err != nil {
					t.Errorf("concurrent validate failed: %v", err)
				}
			})
		}
	})
}

func BenchmarkScanSafeString(b *testing.B) {
	engine, _ := NewPolicyEngine()
	input := "This is a standard question with no secrets in it whatsoever."
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		engine.ScanFileContent(input)
	}
}

func BenchmarkValidateSQL(b *testing.B) {
	engine, _ := NewPolicyEngine()
	input := "SELECT region, SUM(total) FROM orders WHERE status = 'shipped' GROUP BY region ORDER BY 2 DESC"
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = engine.ValidateSQL(input)
	}
}
