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
	"errors"
	"fmt"
	"sort"
)

// END is the terminal pseudo-node.
const END = "__end__"

// NodeFunc mutates the state. S is normally a pointer type.
type NodeFunc[S any] func(ctx context.Context, state S) error

// RouteFunc picks a key from a conditional edge's route map.
type RouteFunc[S any] func(state S) string

type conditional[S any] struct {
	route  RouteFunc[S]
	routes map[string]string
}

// Builder assembles a Graph. Errors are collected and reported by Build.
type Builder[S any] struct {
	name  string
	nodes map[string]NodeFunc[S]
	order []string
	edges map[string]string
	conds map[string]conditional[S]
	entry string
	errs  []error
}

// NewBuilder starts a graph called name.
func NewBuilder[S any](name string) *Builder[S] {
	return &Builder[S]{
		name:  name,
		nodes: make(map[string]NodeFunc[S]),
		edges: make(map[string]string),
		conds: make(map[string]conditional[S]),
	}
}

// AddNode registers fn under name.
func (b *Builder[S]) AddNode(name string, fn NodeFunc[S]) *Builder[S] {
	switch {
	case fn == nil:
		b.errs = append(b.errs, fmt.Errorf("%w: %q", ErrNilNode, name))
	case name == "" || name == END:
		b.errs = append(b.errs, fmt.Errorf("invalid node name %q", name))
	case b.nodes[name] != nil:
		b.errs = append(b.errs, fmt.Errorf("%w: %q", ErrDuplicateNode, name))
	default:
		b.nodes[name] = fn
		b.order = append(b.order, name)
	}
	return b
}

// AddEdge makes to run after from.
func (b *Builder[S]) AddEdge(from, to string) *Builder[S] {
	if _, dup := b.edges[from]; dup {
		b.errs = append(b.errs, fmt.Errorf("%w: %q", ErrMultipleEdges, from))
		return b
	}
	b.edges[from] = to
	return b
}

// AddConditionalEdges routes from from to routes[route(state)].
func (b *Builder[S]) AddConditionalEdges(from string, route RouteFunc[S], routes map[string]string) *Builder[S] {
	if route == nil || len(routes) == 0 {
		b.errs = append(b.errs, fmt.Errorf("conditional edge from %q needs a route function and routes", from))
		return b
	}
	if _, dup := b.conds[from]; dup {
		b.errs = append(b.errs, fmt.Errorf("%w: %q", ErrMultipleEdges, from))
		return b
	}
	copied := make(map[string]string, len(routes))
	for k, v := range routes {
		copied[k] = v
	}
	b.conds[from] = conditional[S]{route: route, routes: copied}
	return b
}

// SetEntryPoint names the first node.
func (b *Builder[S]) SetEntryPoint(name string) *Builder[S] {
	b.entry = name
	return b
}

// Build validates the wiring.
//
// # Description
//
// Every node must have exactly one outgoing edge, direct or conditional,
// and every edge target must be a registered node or END.
//
// # Outputs
//
//   - *Graph[S]: Immutable, runnable graph.
//   - error: All wiring problems joined.
func (b *Builder[S]) Build() (*Graph[S], error) {
	errs := append([]error(nil), b.errs...)

	if b.entry == "" {
		errs = append(errs, ErrNoEntryPoint)
	} else if b.nodes[b.entry] == nil {
		errs = append(errs, fmt.Errorf("%w: entry point %q", ErrNodeNotFound, b.entry))
	}

	known := func(name string) bool { return name == END || b.nodes[name] != nil }

	for _, from := range sortedKeys(b.edges) {
		if b.nodes[from] == nil {
			errs = append(errs, fmt.Errorf("%w: edge source %q", ErrNodeNotFound, from))
		}
		if to := b.edges[from]; !known(to) {
			errs = append(errs, fmt.Errorf("%w: edge %q -> %q", ErrNodeNotFound, from, to))
		}
	}
	for _, from := range sortedKeys(b.conds) {
		if b.nodes[from] == nil {
			errs = append(errs, fmt.Errorf("%w: conditional edge source %q", ErrNodeNotFound, from))
		}
		routes := b.conds[from].routes
		for _, key := range sortedKeys(routes) {
			if !known(routes[key]) {
				errs = append(errs, fmt.Errorf("%w: route %q from %q -> %q", ErrNodeNotFound, key, from, routes[key]))
			}
		}
	}
	for _, name := range b.order {
		_, direct := b.edges[name]
		_, cond := b.conds[name]
		switch {
		case direct && cond:
			errs = append(errs, fmt.Errorf("%w: %q", ErrMultipleEdges, name))
		case !direct && !cond:
			errs = append(errs, fmt.Errorf("%w: %q", ErrNoOutgoingEdge, name))
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("build graph %q: %w", b.name, errors.Join(errs...))
	}
	return &Graph[S]{
		name:  b.name,
		nodes: b.nodes,
		order: b.order,
		edges: b.edges,
		conds: b.conds,
		entry: b.entry,
	}, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
