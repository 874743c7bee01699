// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/DataNexus/services/checkpoint"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("datanexus.agent.graph")

// DefaultRecursionLimit caps node executions per run.
const DefaultRecursionLimit = 25

// NodeStatus is the outcome carried by an Event.
type NodeStatus string

const (
	NodeStatusCompleted NodeStatus = "completed"
	NodeStatusFailed    NodeStatus = "failed"
)

// Event reports one finished node.
type Event struct {
	Node     string        `json:"node"`
	Step     int           `json:"step"`
	Status   NodeStatus    `json:"status"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// RunOptions configures one Run.
type RunOptions struct {
	// ThreadID keys checkpoints. Required when Saver is set.
	ThreadID string

	// Saver receives a checkpoint after every node. Nil disables persistence.
	Saver checkpoint.Saver

	// RecursionLimit caps node executions. <= 0 means DefaultRecursionLimit.
	RecursionLimit int

	// Emit is called synchronously after every node. May be nil.
	Emit func(Event)
}

// Result summarises a finished run.
type Result struct {
	Steps        int           `json:"steps"`
	LastNode     string        `json:"last_node"`
	CheckpointID string        `json:"checkpoint_id,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// Graph is a built, immutable workflow over state S.
type Graph[S any] struct {
	name  string
	nodes map[string]NodeFunc[S]
	order []string
	edges map[string]string
	conds map[string]conditional[S]
	entry string
}

// Name returns the graph name.
func (g *Graph[S]) Name() string { return g.name }

// Nodes returns node names in registration order.
func (g *Graph[S]) Nodes() []string { return append([]string(nil), g.order...) }

// Run executes the graph from its entry point until END.
//
// # Description
//
// After each node the state is marshalled to JSON and saved as a
// checkpoint before the next node is chosen. Step numbers continue from
// the thread's latest checkpoint, so repeated runs on a thread form one
// history. The run stops with ErrRecursionLimit when the limit is reached
// before END, and with the context error when ctx is cancelled between
// nodes.
//
// # Inputs
//
//   - ctx: Cancellation for the whole run; passed to every node.
//   - state: Mutated in place by the nodes.
//   - opts: Checkpointing, recursion limit and event sink.
//
// # Outputs
//
//   - Result: Steps executed in this run and the last node.
//   - error: *NodeError wrapping a node failure, ErrRecursionLimit,
//     ErrCheckpoint or ErrUnknownRoute.
func (g *Graph[S]) Run(ctx context.Context, state S, opts RunOptions) (Result, error) {
	start := time.Now()
	limit := opts.RecursionLimit
	if limit <= 0 {
		limit = DefaultRecursionLimit
	}
	if opts.Saver != nil && opts.ThreadID == "" {
		return Result{}, fmt.Errorf("thread id is required for checkpointing")
	}

	ctx, span := tracer.Start(ctx, "graph.Run")
	span.SetAttributes(attribute.String("graph.name", g.name), attribute.String("graph.thread_id", opts.ThreadID))
	defer span.End()

	step, parent, err := g.resume(ctx, opts)
	if err != nil {
		return Result{}, err
	}

	res := Result{}
	current := g.entry
	for current != END {
		if res.Steps >= limit {
			span.SetStatus(codes.Error, "recursion limit")
			return g.finish(res, start), fmt.Errorf("%w: limit %d", ErrRecursionLimit, limit)
		}
		if err := ctx.Err(); err != nil {
			return g.finish(res, start), err
		}

		step++
		res.Steps++
		res.LastNode = current

		took, nodeErr := g.runNode(ctx, current, state)
		if nodeErr != nil {
			emit(opts, Event{Node: current, Step: step, Status: NodeStatusFailed, Duration: took, Error: nodeErr.Error()})
			span.RecordError(nodeErr)
			span.SetStatus(codes.Error, "node failed")
			return g.finish(res, start), &NodeError{NodeName: current, Err: nodeErr}
		}

		if opts.Saver != nil {
			id, err := g.save(ctx, opts, state, current, step, parent)
			if err != nil {
				span.SetStatus(codes.Error, "checkpoint failed")
				return g.finish(res, start), err
			}
			parent = id
			res.CheckpointID = id
		}
		emit(opts, Event{Node: current, Step: step, Status: NodeStatusCompleted, Duration: took})

		next, err := g.next(current, state)
		if err != nil {
			span.SetStatus(codes.Error, "routing failed")
			return g.finish(res, start), err
		}
		current = next
	}

	span.SetAttributes(attribute.Int("graph.steps", res.Steps))
	return g.finish(res, start), nil
}

func (g *Graph[S]) finish(res Result, start time.Time) Result {
	res.Duration = time.Since(start)
	return res
}

// resume returns the thread's last step and checkpoint id.
func (g *Graph[S]) resume(ctx context.Context, opts RunOptions) (int, string, error) {
	if opts.Saver == nil {
		return 0, "", nil
	}
	latest, err := opts.Saver.Latest(ctx, opts.ThreadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", fmt.Errorf("%w: load latest: %v", ErrCheckpoint, err)
	}
	return latest.Step, latest.CheckpointID, nil
}

func (g *Graph[S]) runNode(ctx context.Context, name string, state S) (took time.Duration, err error) {
	ctx, span := tracer.Start(ctx, "graph.node."+name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("graph.node", name)))
	defer span.End()
	slog.InfoContext(ctx, "Running node", "graph", g.name, "node", name)

	begin := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		took = time.Since(begin)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()
	err = g.nodes[name](ctx, state)
	return took, err
}

func (g *Graph[S]) save(ctx context.Context, opts RunOptions, state S, node string, step int, parent string) (string, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("%w: encode state after %q: %v", ErrCheckpoint, node, err)
	}
	cp := &checkpoint.Checkpoint{
		ThreadID: opts.ThreadID,
		ParentID: parent,
		Step:     step,
		Node:     node,
		State:    raw,
	}
	if err := opts.Saver.Put(ctx, cp); err != nil {
		return "", fmt.Errorf("%w: after %q: %v", ErrCheckpoint, node, err)
	}
	return cp.CheckpointID, nil
}

func (g *Graph[S]) next(current string, state S) (string, error) {
	if to, ok := g.edges[current]; ok {
		return to, nil
	}
	c := g.conds[current]
	key := c.route(state)
	to, ok := c.routes[key]
	if !ok {
		return "", fmt.Errorf("%w: %q from %q", ErrUnknownRoute, key, current)
	}
	return to, nil
}

func emit(opts RunOptions, ev Event) {
	if opts.Emit != nil {
		opts.Emit(ev)
	}
}
