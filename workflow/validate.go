//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package workflow

// Validate normalizes w and checks its structure: at least one node, unique
// non-empty node IDs and types, at least one entry node, edges that reference
// existing nodes, and no cycles outside loop constructs.
func (w *Workflow) Validate() error {
	if len(w.Nodes) == 0 {
		return &ValidationError{Reason: MsgNoNodes}
	}
	w.Normalize()

	ids := make(map[string]struct{}, len(w.Nodes))
	hasEntry := false
	for _, n := range w.Nodes {
		if n.ID == "" {
			return invalidf("node without id")
		}
		if _, dup := ids[n.ID]; dup {
			return &ValidationError{Reason: "duplicate node id " + n.ID, NodeID: n.ID}
		}
		if n.Type == "" {
			return &ValidationError{Reason: "node " + n.ID + " has no type", NodeID: n.ID}
		}
		ids[n.ID] = struct{}{}
		hasEntry = hasEntry || n.IsEntry
	}
	if !hasEntry {
		return &ValidationError{Reason: MsgNoEntries}
	}
	for _, e := range w.Edges {
		if _, ok := ids[e.Source]; !ok {
			return &ValidationError{
				Reason: "edge " + e.ID + " references unknown source node " + e.Source,
				EdgeID: e.ID,
			}
		}
		if _, ok := ids[e.Target]; !ok {
			return &ValidationError{
				Reason: "edge " + e.ID + " references unknown target node " + e.Target,
				EdgeID: e.ID,
			}
		}
	}
	if id, ok := w.findCycle(); ok {
		return &ValidationError{Reason: "workflow contains a cycle through node " + id, NodeID: id}
	}
	return nil
}

// findCycle runs Kahn's algorithm and returns a node left on a cycle.
func (w *Workflow) findCycle() (string, bool) {
	indeg := make(map[string]int, len(w.Nodes))
	adj := make(map[string][]string, len(w.Nodes))
	for _, n := range w.Nodes {
		indeg[n.ID] = 0
	}
	for _, e := range w.Edges {
		adj[e.Source] = append(adj[e.Source], e.Target)
		indeg[e.Target]++
	}
	var queue []string
	for _, n := range w.Nodes {
		if indeg[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}
	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, t := range adj[id] {
			indeg[t]--
			if indeg[t] == 0 {
				queue = append(queue, t)
			}
		}
	}
	if visited == len(w.Nodes) {
		return "", false
	}
	for _, n := range w.Nodes {
		if indeg[n.ID] > 0 {
			return n.ID, true
		}
	}
	return "", false
}
