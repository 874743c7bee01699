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
	"fmt"
	"strings"

	"github.com/AleutianAI/DataNexus/services/policy_engine/enforcement"
	"gopkg.in/yaml.v3"
)

// Classification names used by callers.
const (
	ClassSecret         = "secret"
	ClassPII            = "pii"
	ClassWriteStatement = "write_statement"
	ClassPublic         = "public"
)

// PolicyEngine classifies chat messages and vets generated SQL.
//
// # Description
//
// Rules come from the embedded sql_policy.yaml. Message-scoped
// classifications are used by ClassifyData and ScanFileContent; SQL-scoped
// ones by ValidateSQL.
//
// # Thread Safety
//
// Immutable after construction; safe for concurrent use.
type PolicyEngine struct {
	Classifiers []Classification
	sqlRules    []Classification
}

// NewPolicyEngine loads, compiles and sorts the embedded rules.
//
// Returns an error if the embedded YAML is malformed or contains invalid regex.
func NewPolicyEngine() (*PolicyEngine, error) {
	return newPolicyEngine(enforcement.SQLPolicy)
}

func newPolicyEngine(raw []byte) (*PolicyEngine, error) {
	var file PolicyFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the embedded policy file: %w", err)
	}
	if err := file.CompileRegexes(); err != nil {
		return nil, fmt.Errorf("failed to compile a regex: %w", err)
	}
	file.SortByPriority()

	engine := &PolicyEngine{}
	for _, c := range file.Classifications {
		if c.Scope == ScopeSQL {
			engine.sqlRules = append(engine.sqlRules, c)
		} else {
			engine.Classifiers = append(engine.Classifiers, c)
		}
	}
	return engine, nil
}

// ClassifyData returns the name of the highest priority message
// classification matching data, or "public".
func (e *PolicyEngine) ClassifyData(data []byte) string {
	for _, classifier := range e.Classifiers {
		for _, re := range classifier.CompiledPatterns {
			if re.Match(data) {
				return classifier.Name
			}
		}
	}
	return ClassPublic
}

// ScanFileContent checks every line of content against every message
// pattern and reports each match with its line number.
func (e *PolicyEngine) ScanFileContent(content string) []ScanFinding {
	return scanLines(e.Classifiers, content)
}

func scanLines(classes []Classification, content string) []ScanFinding {
	var findings []ScanFinding
	for lineNum, line := range strings.Split(content, "\n") {
		for _, classifier := range classes {
			for _, pattern := range classifier.Patterns {
				match := pattern.compiledPattern.FindString(line)
				if match == "" {
					continue
				}
				findings = append(findings, ScanFinding{
					LineNumber:         lineNum + 1,
					MatchedContent:     strings.TrimSpace(match),
					ClassificationName: classifier.Name,
					PatternId:          pattern.Id,
					PatternDescription: pattern.Description,
					Confidence:         pattern.Confidence,
				})
			}
		}
	}
	return findings
}

// Redact replaces every secret match in text with [REDACTED:<pattern id>].
func (e *PolicyEngine) Redact(text string) string {
	for _, classifier := range e.Classifiers {
		if classifier.Name != ClassSecret {
			continue
		}
		for _, pattern := range classifier.Patterns {
			text = pattern.compiledPattern.ReplaceAllString(text, "[REDACTED:"+pattern.Id+"]")
		}
	}
	return text
}
