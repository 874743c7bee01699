// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package enforcement

import (
	"testing"

	"gopkg.in/yaml.v3"
)

func TestEmbeddedPolicyIntegrity(t *testing.T) {
	if len(SQLPolicy) == 0 {
		t.Fatal("Embedded policy is empty. Did the build fail to include 'sql_policy.yaml'?")
	}

	var dump struct {
		Classifications []struct {
			Name  string `yaml:"name"`
			Scope string `yaml:"scope"`
		} `yaml:"classifications"`
	}
	if err := yaml.Unmarshal(SQLPolicy, &dump); err != nil {
		t.Fatalf("Embedded policy is not valid YAML: %v", err)
	}

	scopes := map[string]int{}
	for _, c := range dump.Classifications {
		scopes[c.Scope]++
	}
	if scopes["sql"] == 0 || scopes["message"] == 0 {
		t.Errorf("expected both sql and message classifications, got %v", scopes)
	}

	if h := PolicyHash(); len(h) != 64 {
		t.Errorf("expected a 64 char hex hash, got %q", h)
	}
	t.Logf("Current Policy Hash: %s", PolicyHash())
}
