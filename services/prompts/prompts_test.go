// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package prompts

import (
	"testing"

	"github.com/AleutianAI/DataNexus/services/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_AllKinds(t *testing.T) {
	data := Data{
		Question:  "How many orders shipped in May?",
		History:   "user: hi",
		Schema:    "Table: orders",
		FewShot:   "Question: q\nSQL Query: SELECT 1",
		Memory:    "User's region is EMEA.",
		FailedSQL: "SELECT * FROM order",
		Error:     `relation "order" does not exist`,
		Data:      `[{"n": 1}]`,
		MaxCharts: 3,
	}
	for kind, marker := range Markers {
		msgs, err := Build(kind, data)
		require.NoError(t, err, kind)
		require.Len(t, msgs, 2)
		assert.Equal(t, llm.RoleSystem, msgs[0].Role)
		assert.Equal(t, llm.RoleUser, msgs[1].Role)
		assert.Contains(t, msgs[0].Content, marker, kind)
		for other, m := range Markers {
			if other != kind {
				assert.NotContains(t, msgs[0].Content, m, "%s system prompt contains %s marker", kind, other)
			}
		}
	}
}

func TestBuild_Fields(t *testing.T) {
	msgs, err := Build(SQLCorrection, Data{
		Question:  "q?",
		Schema:    "Table: t",
		FailedSQL: "SELECT x FROM t",
		Error:     "column x does not exist",
	})
	require.NoError(t, err)
	assert.Contains(t, msgs[1].Content, "SELECT x FROM t")
	assert.Contains(t, msgs[1].Content, "column x does not exist")
	assert.Contains(t, msgs[1].Content, "Table: t")

	msgs, err = Build(Visualization, Data{Question: "q", Data: "{}", MaxCharts: 3})
	require.NoError(t, err)
	assert.Contains(t, msgs[0].Content, "at most 3 charts")
}

func TestBuild_UnknownKind(t *testing.T) {
	_, err := Build(Kind("nope"), Data{})
	assert.Error(t, err)
}

func TestFormatHistory(t *testing.T) {
	got := FormatHistory([]llm.Message{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi there"},
	})
	assert.Equal(t, "user: hello\nassistant: hi there", got)
	assert.Equal(t, "", FormatHistory(nil))
}
