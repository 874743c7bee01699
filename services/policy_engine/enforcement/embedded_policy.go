// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package enforcement embeds the policy rules into the binary so they cannot
// be changed on a running host without a rebuild.
package enforcement

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
)

// SQLPolicy is the raw content of sql_policy.yaml.
//
// Usage:
//
//	err := yaml.Unmarshal(enforcement.SQLPolicy, &targetStruct)
//
//go:embed sql_policy.yaml
var SQLPolicy []byte

// PolicyHash returns the hex sha256 of the embedded policy, logged at startup
// so deployments can be matched to a policy revision.
func PolicyHash() string {
	sum := sha256.Sum256(SQLPolicy)
	return hex.EncodeToString(sum[:])
}
