// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dag

import (
	"fmt"
)

// BuildGraph derives adjacency and in-degree maps from nodes and edges.
//
// Description:
//
//	Every node id is a key in both maps even when it has no edges.
//	Adjacency lists keep edge-array order.
//
// Inputs:
//
//	nodes - Workflow nodes.
//	edges - Workflow edges. Endpoints are expected to exist (see CheckReferences).
//
// Outputs:
//
//	Graph - Adjacency and in-degree maps.
func BuildGraph(nodes []Node, edges []Edge) Graph {
	g := Graph{
		Adjacency: make(map[string][]string, len(nodes)),
		InDegree:  make(map[string]int, len(nodes)),
	}

	for _, n := range nodes {
		g.Adjacency[n.ID] = []string{}
		g.InDegree[n.ID] = 0
	}

	for _, e := range edges {
		g.Adjacency[e.Source] = append(g.Adjacency[e.Source], e.Target)
		g.InDegree[e.Target]++
	}

	return g
}

// TopologicalSort orders node ids so every edge points forward.
//
// Description:
//
//	Kahn's algorithm. The queue is seeded with in-degree 0 nodes in input
//	order, which is the only tie-break. Children are visited in adjacency
//	order and appended to the back of the queue when their in-degree drops
//	to zero.
//
//	A cyclic graph is an expected validation outcome, not a failure of this
//	function, so it is reported through ok rather than an error.
//
// Outputs:
//
//	[]string - Node ids in execution order. Nil when ok is false.
//	bool - False when the edges induce a cycle.
func TopologicalSort(nodes []Node, edges []Edge) ([]string, bool) {
	order := kahn(nodes, edges)
	if len(order) < len(nodes) {
		return nil, false
	}
	return order, true
}

// kahn returns the ids Kahn's algorithm could place. On a cyclic graph the
// result is shorter than nodes.
func kahn(nodes []Node, edges []Edge) []string {
	g := BuildGraph(nodes, edges)
	inDegree := g.InDegree

	queue := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if inDegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}

	order := make([]string, 0, len(nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		for _, child := range g.Adjacency[id] {
			inDegree[child]--
			if inDegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}
	return order
}

// unorderedNodes lists the nodes a failed sort could not place, in input order.
func unorderedNodes(nodes []Node, edges []Edge) []string {
	placed := make(map[string]bool, len(nodes))
	for _, id := range kahn(nodes, edges) {
		placed[id] = true
	}

	remaining := make([]string, 0)
	for _, n := range nodes {
		if !placed[n.ID] {
			remaining = append(remaining, n.ID)
		}
	}
	return remaining
}

// CheckReferences verifies the structural preconditions the algorithms rely on.
//
// Description:
//
//	Node ids must be non-empty and unique, edge ids unique when set, and every
//	edge endpoint must name an existing node. The graph algorithms in this
//	package assume these hold; loaders and the HTTP layer call this first.
//
// Outputs:
//
//	error - A *NodeError wrapping ErrDuplicateNode or ErrNodeNotFound, or an
//	        ErrInvalidInput/ErrDuplicateEdge wrap. Nil when consistent.
func CheckReferences(nodes []Node, edges []Edge) error {
	ids := make(map[string]bool, len(nodes))
	for i, n := range nodes {
		if n.ID == "" {
			return fmt.Errorf("%w: node %d has an empty id", ErrInvalidInput, i)
		}
		if ids[n.ID] {
			return NewNodeError(n.ID, ErrDuplicateNode)
		}
		ids[n.ID] = true
	}

	edgeIDs := make(map[string]bool, len(edges))
	for i, e := range edges {
		if e.ID != "" {
			if edgeIDs[e.ID] {
				return fmt.Errorf("%w: %q", ErrDuplicateEdge, e.ID)
			}
			edgeIDs[e.ID] = true
		}
		if !ids[e.Source] {
			return fmt.Errorf("edge %d (%s): %w", i, e.ID, NewNodeError(e.Source, ErrNodeNotFound))
		}
		if !ids[e.Target] {
			return fmt.Errorf("edge %d (%s): %w", i, e.ID, NewNodeError(e.Target, ErrNodeNotFound))
		}
	}
	return nil
}
