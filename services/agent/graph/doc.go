// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph provides a small state-machine executor for agent workflows.
//
// A graph is a set of named nodes that mutate a shared state, joined by
// direct edges and conditional edges. Unlike a DAG, cycles are allowed
// (a retry loop is a cycle); termination is guaranteed by a recursion limit.
//
// The executor:
//   - Runs exactly one node at a time, following edges from the entry point
//   - Checkpoints the state after every node before moving on
//   - Emits a progress Event per node
//   - Traces each node with OpenTelemetry
//
// # Thread Safety
//
// A built Graph is immutable and safe for concurrent Run calls, each with
// its own state.
//
// # Example
//
//	g, err := graph.NewBuilder[*State]("agent").
//	    AddNode("router", routerFn).
//	    AddNode("answer", answerFn).
//	    SetEntryPoint("router").
//	    AddConditionalEdges("router", pickRoute, map[string]string{"chat": "answer"}).
//	    AddEdge("answer", graph.END).
//	    Build()
//
//	res, err := g.Run(ctx, state, graph.RunOptions{ThreadID: "t1", Saver: saver})
package graph
