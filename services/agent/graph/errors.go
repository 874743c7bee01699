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
	"errors"
	"fmt"
)

var (
	// ErrNilNode is returned when a node function is nil.
	ErrNilNode = errors.New("node function must not be nil")

	// ErrDuplicateNode is returned when a node name is registered twice.
	ErrDuplicateNode = errors.New("node with this name already exists")

	// ErrNodeNotFound is returned when an edge references an unknown node.
	ErrNodeNotFound = errors.New("node not found")

	// ErrNoEntryPoint is returned when Build is called without an entry point.
	ErrNoEntryPoint = errors.New("graph has no entry point")

	// ErrNoOutgoingEdge is returned when a node has no way forward.
	ErrNoOutgoingEdge = errors.New("node has no outgoing edge")

	// ErrMultipleEdges is returned when a node has more than one way forward.
	ErrMultipleEdges = errors.New("node has more than one outgoing edge")

	// ErrUnknownRoute is returned when a route function returns a key that is
	// not in its route map.
	ErrUnknownRoute = errors.New("route not in route map")

	// ErrRecursionLimit is returned when a run executes more nodes than the
	// recursion limit allows.
	ErrRecursionLimit = errors.New("recursion limit reached without hitting END")

	// ErrCheckpoint is returned when a checkpoint cannot be written.
	ErrCheckpoint = errors.New("checkpoint failed")
)

// NodeError wraps an error with the node that caused it.
type NodeError struct {
	NodeName string
	Err      error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %q: %v", e.NodeName, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}
