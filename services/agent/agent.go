// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agent wires the text-to-SQL workflow onto the graph engine.
//
// A question is routed either to a direct conversational reply or through
// memory loading, schema linking, SQL generation and execution with
// bounded self-correction, summarization and chart building. Both paths
// end by curating and saving durable facts about the user.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/DataNexus/services/agent/graph"
	"github.com/AleutianAI/DataNexus/services/checkpoint"
	"github.com/AleutianAI/DataNexus/services/config"
	"github.com/AleutianAI/DataNexus/services/llm"
	"github.com/AleutianAI/DataNexus/services/tools"
	"github.com/google/uuid"
)

// GraphName identifies the workflow in traces and logs.
const GraphName = "datanexus"

var (
	// ErrNoUserMessage is returned when a request has no user turn.
	ErrNoUserMessage = errors.New("no user message found")

	// ErrNoCheckpointer is returned by thread operations without a Saver.
	ErrNoCheckpointer = errors.New("checkpointer is not configured")
)

var displayNames = map[string]string{
	NodeRouter:            "Routing Query...",
	NodeDirectResponse:    "Generating Response...",
	NodeSchemaLinking:     "Analyzing Database Schema...",
	NodeLoadMemory:        "Loading Personal Memory...",
	NodeQueryGeneration:   "Writing SQL Query...",
	NodeQueryExecution:    "Executing SQL Query...",
	NodeSelfCorrection:    "Attempting to Correct SQL Error...",
	NodeSummarization:     "Summarizing Results...",
	NodePlanVisualization: "Planning Visualizations...",
	NodeFigureGeneration:  "Generating Charts...",
	NodeCurateMemory:      "Analyzing Conversation...",
	NodeSaveMemory:        "Saving Key Facts to Memory...",
}

// DisplayName returns the progress text shown to users for node.
func DisplayName(node string) string {
	if name, ok := displayNames[node]; ok {
		return name
	}
	return fmt.Sprintf("Executing %s...", node)
}

// Observer receives run events for metrics. Every field may be nil.
type Observer struct {
	NodeDone       func(node string, status graph.NodeStatus, took time.Duration)
	SelfCorrection func()
}

// Deps are the collaborators of an Agent.
type Deps struct {
	Tools    *tools.Toolbox
	Saver    checkpoint.Saver
	Config   config.AgentConfig
	Observer Observer
}

// Agent runs the workflow.
//
// # Thread Safety
//
// Safe for concurrent use; every Run works on its own State.
type Agent struct {
	tools    *tools.Toolbox
	saver    checkpoint.Saver
	cfg      config.AgentConfig
	observer Observer
	graph    *graph.Graph[*State]
}

// New builds the workflow graph.
//
// # Description
//
// The wiring is:
//
//	router ─general_conversation─▶ direct_response ─▶ curate_memory
//	router ─sql_query─▶ load_memory ▶ schema_linking ▶ query_generation ▶ query_execution
//	query_execution ─error, attempts left─▶ self_correction ▶ query_execution
//	query_execution ─otherwise─▶ summarization
//	summarization ─rows─▶ plan_visualization ▶ figure_generation ▶ curate_memory
//	summarization ─no rows─▶ curate_memory
//	curate_memory ▶ save_memory ▶ END
//
// # Inputs
//
//   - deps: Tools is required. A nil Saver disables checkpointing.
//
// # Outputs
//
//   - *Agent: Ready to Run.
//   - error: Missing tools or a wiring error.
func New(deps Deps) (*Agent, error) {
	if deps.Tools == nil {
		return nil, fmt.Errorf("agent: toolbox is required")
	}
	if deps.Config.MaxCorrectionAttempts < 0 {
		deps.Config.MaxCorrectionAttempts = 0
	}
	a := &Agent{
		tools:    deps.Tools,
		saver:    deps.Saver,
		cfg:      deps.Config,
		observer: deps.Observer,
	}

	g, err := graph.NewBuilder[*State](GraphName).
		AddNode(NodeRouter, a.router).
		AddNode(NodeDirectResponse, a.directResponse).
		AddNode(NodeLoadMemory, a.loadMemory).
		AddNode(NodeSchemaLinking, a.schemaLinking).
		AddNode(NodeQueryGeneration, a.queryGeneration).
		AddNode(NodeQueryExecution, a.queryExecution).
		AddNode(NodeSelfCorrection, a.selfCorrection).
		AddNode(NodeSummarization, a.summarization).
		AddNode(NodePlanVisualization, a.planVisualization).
		AddNode(NodeFigureGeneration, a.figureGeneration).
		AddNode(NodeCurateMemory, a.curateMemory).
		AddNode(NodeSaveMemory, a.saveMemory).
		SetEntryPoint(NodeRouter).
		AddConditionalEdges(NodeRouter, routeFromRouter, map[string]string{
			RouteGeneral: NodeDirectResponse,
			RouteSQL:     NodeLoadMemory,
		}).
		AddEdge(NodeDirectResponse, NodeCurateMemory).
		AddEdge(NodeLoadMemory, NodeSchemaLinking).
		AddEdge(NodeSchemaLinking, NodeQueryGeneration).
		AddEdge(NodeQueryGeneration, NodeQueryExecution).
		AddConditionalEdges(NodeQueryExecution, a.routeAfterExecution, map[string]string{
			NodeSelfCorrection: NodeSelfCorrection,
			NodeSummarization:  NodeSummarization,
		}).
		AddEdge(NodeSelfCorrection, NodeQueryExecution).
		AddConditionalEdges(NodeSummarization, routeAfterSummary, map[string]string{
			NodePlanVisualization: NodePlanVisualization,
			NodeCurateMemory:      NodeCurateMemory,
		}).
		AddEdge(NodePlanVisualization, NodeFigureGeneration).
		AddEdge(NodeFigureGeneration, NodeCurateMemory).
		AddEdge(NodeCurateMemory, NodeSaveMemory).
		AddEdge(NodeSaveMemory, graph.END).
		Build()
	if err != nil {
		return nil, err
	}
	a.graph = g
	return a, nil
}

// Tools returns the toolbox the nodes use.
func (a *Agent) Tools() *tools.Toolbox { return a.tools }

// Request is one question from a conversation.
type Request struct {
	// ThreadID keys checkpoints. A new id is generated when empty.
	ThreadID string

	// UserID scopes long-term memory. Empty disables memory.
	UserID string

	// Messages is the conversation; the last user message is the question.
	Messages []llm.Message
}

// Event is a node transition reported while a run progresses.
type Event struct {
	Node        string           `json:"node"`
	DisplayName string           `json:"display_name"`
	Step        int              `json:"step"`
	Status      graph.NodeStatus `json:"status"`
	Duration    time.Duration    `json:"duration"`
	Error       string           `json:"error,omitempty"`
}

// RunResult is the outcome of Run.
type RunResult struct {
	ThreadID     string `json:"thread_id"`
	CheckpointID string `json:"checkpoint_id,omitempty"`
	Steps        int    `json:"steps"`
	State        *State `json:"state"`
}

// Run answers the last user message of req.
//
// # Description
//
// Each run starts from fresh state built from the request; the thread's
// checkpoints only continue the step numbering. emit, when non-nil, is
// called synchronously after every node.
//
// # Outputs
//
//   - *RunResult: Always non-nil once the request is valid, carrying the
//     state reached even when err is set.
//   - error: ErrNoUserMessage, or a graph failure.
func (a *Agent) Run(ctx context.Context, req Request, emit func(Event)) (*RunResult, error) {
	question, history := splitRequest(req.Messages)
	if question == "" {
		return nil, ErrNoUserMessage
	}
	threadID := req.ThreadID
	if threadID == "" {
		threadID = uuid.NewString()
	}

	state := &State{
		Question:    question,
		ChatHistory: history,
		UserID:      req.UserID,
	}
	logger := slog.With("thread_id", threadID, "user_id", req.UserID)
	logger.InfoContext(ctx, "Agent run started", "question", clip(question, 200))

	res, err := a.graph.Run(ctx, state, graph.RunOptions{
		ThreadID:       threadID,
		Saver:          a.saver,
		RecursionLimit: a.cfg.RecursionLimit,
		Emit: func(ev graph.Event) {
			if a.observer.NodeDone != nil {
				a.observer.NodeDone(ev.Node, ev.Status, ev.Duration)
			}
			if emit != nil {
				emit(Event{
					Node:        ev.Node,
					DisplayName: DisplayName(ev.Node),
					Step:        ev.Step,
					Status:      ev.Status,
					Duration:    ev.Duration,
					Error:       ev.Error,
				})
			}
		},
	})
	out := &RunResult{ThreadID: threadID, CheckpointID: res.CheckpointID, Steps: res.Steps, State: state}
	if err != nil {
		logger.ErrorContext(ctx, "Agent run failed", "error", err, "last_node", res.LastNode)
		return out, err
	}
	logger.InfoContext(ctx, "Agent run finished", "steps", res.Steps, "duration", res.Duration)
	return out, nil
}

// splitRequest returns the last non-empty user message and the filtered
// conversation.
func splitRequest(msgs []llm.Message) (string, []llm.Message) {
	history := llm.FilterMessages(msgs)
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == llm.RoleUser && strings.TrimSpace(history[i].Content) != "" {
			return strings.TrimSpace(history[i].Content), history
		}
	}
	return "", history
}

// ThreadState returns the latest checkpoint of threadID and its decoded
// state.
func (a *Agent) ThreadState(ctx context.Context, threadID string) (*checkpoint.Checkpoint, *State, error) {
	if a.saver == nil {
		return nil, nil, ErrNoCheckpointer
	}
	cp, err := a.saver.Latest(ctx, threadID)
	if err != nil {
		return nil, nil, err
	}
	var st State
	if err := json.Unmarshal(cp.State, &st); err != nil {
		return cp, nil, fmt.Errorf("decode checkpoint %s: %w", cp.CheckpointID, err)
	}
	return cp, &st, nil
}

// History lists checkpoints of threadID, newest first.
func (a *Agent) History(ctx context.Context, threadID string, limit int) ([]checkpoint.Checkpoint, error) {
	if a.saver == nil {
		return nil, ErrNoCheckpointer
	}
	return a.saver.List(ctx, threadID, limit)
}

// DeleteThread removes every checkpoint of threadID.
func (a *Agent) DeleteThread(ctx context.Context, threadID string) (int, error) {
	if a.saver == nil {
		return 0, ErrNoCheckpointer
	}
	return a.saver.DeleteThread(ctx, threadID)
}
