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

// InputNodes returns the nodes with no incoming edges, in node order.
// With no edges every node qualifies.
func InputNodes(nodes []Node, edges []Edge) []Node {
	g := BuildGraph(nodes, edges)
	out := make([]Node, 0)
	for _, n := range nodes {
		if g.InDegree[n.ID] == 0 {
			out = append(out, n)
		}
	}
	return out
}

// OutputNodes returns the nodes that are never the source of an edge, in node order.
func OutputNodes(nodes []Node, edges []Edge) []Node {
	sources := make(map[string]bool, len(edges))
	for _, e := range edges {
		sources[e.Source] = true
	}
	out := make([]Node, 0)
	for _, n := range nodes {
		if !sources[n.ID] {
			out = append(out, n)
		}
	}
	return out
}

// ParentNodes returns the source ids of edges targeting nodeID, in edge order.
func ParentNodes(nodeID string, edges []Edge) []string {
	parents := make([]string, 0)
	for _, e := range edges {
		if e.Target == nodeID {
			parents = append(parents, e.Source)
		}
	}
	return parents
}

// ChildNodes returns the target ids of edges leaving nodeID, in edge order.
func ChildNodes(nodeID string, edges []Edge) []string {
	children := make([]string, 0)
	for _, e := range edges {
		if e.Source == nodeID {
			children = append(children, e.Target)
		}
	}
	return children
}

// nodeIndex maps node ids to their position in nodes.
func nodeIndex(nodes []Node) map[string]int {
	idx := make(map[string]int, len(nodes))
	for i, n := range nodes {
		idx[n.ID] = i
	}
	return idx
}
