// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/AleutianAI/DataNexus/services/charts"
	"github.com/AleutianAI/DataNexus/services/database"
	"github.com/AleutianAI/DataNexus/services/embeddings"
	"github.com/AleutianAI/DataNexus/services/llm/llmtest"
	"github.com/AleutianAI/DataNexus/services/policy_engine"
	"github.com/AleutianAI/DataNexus/services/prompts"
	"github.com/AleutianAI/DataNexus/services/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockQuerier struct {
	mock.Mock
}

func (m *mockQuerier) QueryRows(ctx context.Context, sql string) (*database.Rows, error) {
	args := m.Called(ctx, sql)
	rows, _ := args.Get(0).(*database.Rows)
	return rows, args.Error(1)
}

type failingStore struct {
	vectorstore.Store
	err error
}

func (f failingStore) SimilaritySearch(context.Context, string, string, int, *vectorstore.Filter) ([]vectorstore.SearchResult, error) {
	return nil, f.err
}

func (f failingStore) AddDocuments(context.Context, string, []string, []map[string]any) (int, error) {
	return 0, f.err
}

type fixture struct {
	tools *Toolbox
	store *vectorstore.MemoryStore
	db    *mockQuerier
	llm   *llmtest.ScriptedClient
	sql   []string
	saved int
}

func newFixture(t *testing.T, rules ...llmtest.Rule) *fixture {
	t.Helper()
	f := &fixture{
		store: vectorstore.NewMemoryStore(embeddings.NewHashEmbedder(128)),
		db:    &mockQuerier{},
		llm:   llmtest.New(rules...),
	}
	tb, err := New(Deps{
		Store: f.store,
		DB:    f.db,
		LLM:   f.llm,
		Observer: Observer{
			SQLExecuted: func(o string) { f.sql = append(f.sql, o) },
			MemorySaved: func() { f.saved++ },
		},
	})
	require.NoError(t, err)
	f.tools = tb
	return f
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)

	f := newFixture(t)
	assert.Equal(t, 5, f.tools.retrieval.SchemaTopK)
	assert.Equal(t, 3, f.tools.retrieval.FewShotTopK)
	assert.Equal(t, 5, f.tools.retrieval.MemoryTopK)
	require.NotNil(t, f.tools.Params().Temperature)
	assert.NotNil(t, f.tools.Policy())
}

func TestRelevantSchema(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	assert.Equal(t, NoSchemaFound, f.tools.RelevantSchema(ctx, "orders per customer"))

	_, err := f.store.AddDocuments(ctx, vectorstore.CollectionSchema,
		[]string{"Table: orders\nColumns:\n  - id integer", "Table: customers\nColumns:\n  - id integer"}, nil)
	require.NoError(t, err)

	got := f.tools.RelevantSchema(ctx, "orders")
	parts := strings.Split(got, DocSeparator)
	require.Len(t, parts, 2)
	assert.True(t, strings.HasPrefix(parts[0], "Table: orders"))
}

func TestFewShotExamples(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	assert.Equal(t, NoExamplesFound, f.tools.FewShotExamples(ctx, "anything"))

	texts := []string{"Question: a\nSQL Query: SELECT 1", "Question: b\nSQL Query: SELECT 2",
		"Question: c\nSQL Query: SELECT 3", "Question: d\nSQL Query: SELECT 4"}
	_, err := f.store.AddDocuments(ctx, vectorstore.CollectionFewShot, texts, nil)
	require.NoError(t, err)
	assert.Len(t, strings.Split(f.tools.FewShotExamples(ctx, "question"), DocSeparator), 3)
}

func TestRetrievalErrorsDegrade(t *testing.T) {
	tb, err := New(Deps{Store: failingStore{err: errors.New("weaviate down")}, DB: &mockQuerier{}, LLM: llmtest.New()})
	require.NoError(t, err)
	ctx := context.Background()

	assert.Equal(t, "Error: Failed to retrieve database schema. Details: weaviate down", tb.RelevantSchema(ctx, "q"))
	assert.Equal(t, "Error: Failed to retrieve few-shot examples. Details: weaviate down", tb.FewShotExamples(ctx, "q"))
	assert.Equal(t, "Error: Failed to load long-term memory. Details: weaviate down", tb.LoadMemory(ctx, "u1", "q"))
	assert.Equal(t, "Error: Failed to save memory. Details: weaviate down", tb.SaveMemory(ctx, "u1", "fact"))
}

func TestExecuteSQL(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rows := &database.Rows{Columns: []string{"n"}, Records: []map[string]any{{"n": int64(3)}}}
	f.db.On("QueryRows", mock.Anything, "SELECT count(*) AS n FROM orders").Return(rows, nil)
	f.db.On("QueryRows", mock.Anything, "SELECT nope FROM orders").Return(nil, errors.New(`column "nope" does not exist`))

	res := f.tools.ExecuteSQL(ctx, "SELECT count(*) AS n FROM orders")
	assert.Empty(t, res.Error)
	assert.Equal(t, rows, res.Rows)

	res = f.tools.ExecuteSQL(ctx, "SELECT nope FROM orders")
	assert.Nil(t, res.Rows)
	assert.Equal(t, `column "nope" does not exist`, res.Error)

	res = f.tools.ExecuteSQL(ctx, "DELETE FROM orders")
	assert.Equal(t, policy_engine.ErrWriteStatement.Error(), res.Error)
	assert.Equal(t, "Security Error: Only SELECT queries are allowed.", res.Error)

	res = f.tools.ExecuteSQL(ctx, "   ")
	assert.Equal(t, "Invalid or empty SQL query provided.", res.Error)

	f.db.AssertNumberOfCalls(t, "QueryRows", 2)
	assert.Equal(t, []string{OutcomeOK, OutcomeError, OutcomeRejected, OutcomeRejected}, f.sql)
}

func TestExecuteSQL_NoColumns(t *testing.T) {
	f := newFixture(t)
	f.db.On("QueryRows", mock.Anything, "SELECT").Return(nil, nil)
	res := f.tools.ExecuteSQL(context.Background(), "SELECT")
	require.NotNil(t, res.Rows)
	assert.Equal(t, 0, res.Rows.Len())
	assert.Empty(t, res.Error)
}

func TestCleanSQL(t *testing.T) {
	tests := map[string]string{
		"SELECT 1":                        "SELECT 1",
		"```sql\nSELECT 1\n```":           "SELECT 1",
		"  ```\nSELECT *\nFROM t\n```  \n": "SELECT *\nFROM t",
		"```SQL SELECT 2```":              "SELECT 2",
	}
	for in, want := range tests {
		assert.Equal(t, want, CleanSQL(in), in)
	}
}

func TestSummarize(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, llmtest.Rule{Match: prompts.Markers[prompts.Summarization], Reply: "  Revenue grew 12%.  "})

	assert.Equal(t, NothingToSummarize, f.tools.Summarize(ctx, "q", nil))
	assert.Equal(t, NothingToSummarize, f.tools.Summarize(ctx, "q", &database.Rows{}))

	rows := &database.Rows{Columns: []string{"rev"}, Records: []map[string]any{{"rev": 1.5}}}
	assert.Equal(t, "Revenue grew 12%.", f.tools.Summarize(ctx, "How did revenue change?", rows))

	calls := f.llm.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Messages[1].Content, `[{"rev":1.5}]`)
	assert.Contains(t, calls[0].Messages[1].Content, "How did revenue change?")
	assert.False(t, calls[0].Params.JSONMode)
}

func TestSummarize_Errors(t *testing.T) {
	ctx := context.Background()
	rows := &database.Rows{Records: []map[string]any{{"a": 1}}}

	f := newFixture(t, llmtest.Rule{Match: prompts.Markers[prompts.Summarization], Err: errors.New("rate limited")})
	assert.Equal(t, "Error: Failed to generate summary. Details: rate limited", f.tools.Summarize(ctx, "q", rows))

	f = newFixture(t, llmtest.Rule{Match: prompts.Markers[prompts.Summarization], Reply: "   "})
	assert.Equal(t, "Error: Failed to generate summary. Details: LLM failed to generate a summary", f.tools.Summarize(ctx, "q", rows))
}

func TestSummarize_CapsRows(t *testing.T) {
	f := newFixture(t, llmtest.Rule{Match: prompts.Markers[prompts.Summarization], Reply: "ok"})
	records := make([]map[string]any, summaryRowLimit+5)
	for i := range records {
		records[i] = map[string]any{"i": i}
	}
	f.tools.Summarize(context.Background(), "q", &database.Rows{Records: records})
	content := f.llm.Calls()[0].Messages[1].Content
	assert.Contains(t, content, "(showing the first 200 of 205 rows)")
	assert.NotContains(t, content, `{"i":200}`)
}

func TestPlanVisualizations(t *testing.T) {
	ctx := context.Background()
	plan := `{"charts":[{"chart_type":"bar","title":"Sales by region","x_axis":"region","y_axis":"sales","explanation":"compare"}]}`
	f := newFixture(t, llmtest.Rule{Match: prompts.Markers[prompts.Visualization], Reply: plan})

	_, err := f.tools.PlanVisualizations(ctx, "q", &database.Rows{})
	assert.ErrorIs(t, err, ErrNoData)

	rows := &database.Rows{
		Columns: []string{"region", "sales"},
		Records: []map[string]any{
			{"region": "a", "sales": 1}, {"region": "b", "sales": 2},
			{"region": "c", "sales": 3}, {"region": "d", "sales": 4},
		},
	}
	got, err := f.tools.PlanVisualizations(ctx, "Sales by region?", rows)
	require.NoError(t, err)
	require.Len(t, got.Charts, 1)
	assert.Equal(t, charts.TypeBar, got.Charts[0].ChartType)

	call := f.llm.Calls()[0]
	assert.True(t, call.Params.JSONMode)
	assert.Contains(t, call.Messages[1].Content, `"preview_rows"`)
	assert.Contains(t, call.Messages[1].Content, `"region": "c"`)
	assert.NotContains(t, call.Messages[1].Content, `"region": "d"`)
}

func TestPlanVisualizations_Invalid(t *testing.T) {
	f := newFixture(t, llmtest.Rule{Match: prompts.Markers[prompts.Visualization], Reply: `{"charts":[{"chart_type":"bar"}]}`})
	rows := &database.Rows{Columns: []string{"a"}, Records: []map[string]any{{"a": 1}}}
	_, err := f.tools.PlanVisualizations(context.Background(), "q", rows)
	assert.ErrorIs(t, err, charts.ErrInvalidPlan)

	f = newFixture(t, llmtest.Rule{Match: prompts.Markers[prompts.Visualization], Err: errors.New("boom")})
	_, err = f.tools.PlanVisualizations(context.Background(), "q", rows)
	assert.Error(t, err)
}

func TestMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	assert.Equal(t, MemoryUserUnknown, f.tools.LoadMemory(ctx, "", "region"))
	assert.Equal(t, NoMemoriesFound, f.tools.LoadMemory(ctx, "alice", "region"))

	assert.Equal(t, SaveMissingInput, f.tools.SaveMemory(ctx, "", "fact"))
	assert.Equal(t, SaveMissingInput, f.tools.SaveMemory(ctx, "alice", "  "))

	assert.Equal(t, "Successfully saved memory: 'Alice works in the EMEA region.'",
		f.tools.SaveMemory(ctx, "alice", "Alice works in the EMEA region."))
	f.tools.SaveMemory(ctx, "bob", "Bob prefers reports in USD.")
	assert.Equal(t, 2, f.saved)

	got := f.tools.LoadMemory(ctx, "alice", "which region")
	assert.Equal(t, MemoryPreamble+"\n- Alice works in the EMEA region.", got)
	assert.NotContains(t, got, "Bob")

	n, err := f.tools.ForgetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, NoMemoriesFound, f.tools.LoadMemory(ctx, "alice", "which region"))

	_, err = f.tools.ForgetUser(ctx, "")
	assert.Error(t, err)
}
