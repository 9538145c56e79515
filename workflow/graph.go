//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package workflow

// Graph is the validated, indexed form of a Workflow used by the executor.
type Graph struct {
	wf       *Workflow
	nodes    map[string]*Node
	order    map[string]int
	incoming map[string][]*Edge
	outgoing map[string][]*Edge
	entries  []*Node
	loops    map[string]*Loop
}

// Loop pairs a loop-start with its loop-end and lists the body between them.
type Loop struct {
	Start string
	End   string
	// Body holds the IDs of nodes strictly between Start and End, in
	// definition order.
	Body []string
}

// Contains reports whether id belongs to the loop body or its end node.
func (l *Loop) Contains(id string) bool {
	if id == l.End {
		return true
	}
	for _, b := range l.Body {
		if b == id {
			return true
		}
	}
	return false
}

// loopEndConfig is the part of a loop-end config used for pairing.
type loopEndConfig struct {
	LoopStart string `json:"loopStart"`
}

// Compile validates w and builds its index. The workflow is normalized in
// place first.
func Compile(w *Workflow) (*Graph, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	g := &Graph{
		wf:       w,
		nodes:    make(map[string]*Node, len(w.Nodes)),
		order:    make(map[string]int, len(w.Nodes)),
		incoming: make(map[string][]*Edge),
		outgoing: make(map[string][]*Edge),
		loops:    make(map[string]*Loop),
	}
	for i := range w.Nodes {
		n := &w.Nodes[i]
		g.nodes[n.ID] = n
		g.order[n.ID] = i
		if n.IsEntry {
			g.entries = append(g.entries, n)
		}
	}
	for i := range w.Edges {
		e := &w.Edges[i]
		g.outgoing[e.Source] = append(g.outgoing[e.Source], e)
		g.incoming[e.Target] = append(g.incoming[e.Target], e)
	}
	if err := g.pairLoops(); err != nil {
		return nil, err
	}
	return g, nil
}

// Workflow returns the underlying workflow.
func (g *Graph) Workflow() *Workflow { return g.wf }

// Node returns the node with the given ID.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns all nodes in definition order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, len(g.wf.Nodes))
	for i := range g.wf.Nodes {
		out[i] = &g.wf.Nodes[i]
	}
	return out
}

// Entries returns the entry nodes in definition order.
func (g *Graph) Entries() []*Node { return g.entries }

// Incoming returns the edges targeting id, in definition order.
func (g *Graph) Incoming(id string) []*Edge { return g.incoming[id] }

// Outgoing returns the edges leaving id, in definition order.
func (g *Graph) Outgoing(id string) []*Edge { return g.outgoing[id] }

// Order returns the definition index of a node.
func (g *Graph) Order(id string) int { return g.order[id] }

// Loop returns the loop whose start node is id.
func (g *Graph) Loop(startID string) (*Loop, bool) {
	l, ok := g.loops[startID]
	return l, ok
}

// LoopForEnd returns the loop closed by the given loop-end node.
func (g *Graph) LoopForEnd(endID string) (*Loop, bool) {
	for _, l := range g.loops {
		if l.End == endID {
			return l, true
		}
	}
	return nil, false
}

func (g *Graph) pairLoops() error {
	claimed := make(map[string]string)
	// Explicit pairings first.
	for _, n := range g.Nodes() {
		if n.Type != TypeLoopEnd {
			continue
		}
		var cfg loopEndConfig
		if err := DecodeConfig(n, &cfg); err != nil {
			return &ValidationError{Reason: err.Error(), NodeID: n.ID}
		}
		if cfg.LoopStart == "" {
			continue
		}
		start, ok := g.nodes[cfg.LoopStart]
		if !ok || start.Type != TypeLoopStart {
			return &ValidationError{
				Reason: "loop-end " + n.ID + " references unknown loop-start " + cfg.LoopStart,
				NodeID: n.ID,
			}
		}
		claimed[n.ID] = start.ID
	}
	for _, n := range g.Nodes() {
		if n.Type != TypeLoopStart {
			continue
		}
		end := ""
		for endID, startID := range claimed {
			if startID == n.ID {
				end = endID
			}
		}
		if end == "" {
			end = g.nearestLoopEnd(n.ID, claimed)
		}
		if end == "" {
			return &ValidationError{Reason: "loop-start " + n.ID + " has no reachable loop-end", NodeID: n.ID}
		}
		claimed[end] = n.ID
		g.loops[n.ID] = &Loop{Start: n.ID, End: end, Body: g.between(n.ID, end)}
	}
	return nil
}

// nearestLoopEnd does a breadth-first search for an unclaimed loop-end.
func (g *Graph) nearestLoopEnd(start string, claimed map[string]string) string {
	seen := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, e := range g.outgoing[id] {
			if seen[e.Target] {
				continue
			}
			seen[e.Target] = true
			t := g.nodes[e.Target]
			if t.Type == TypeLoopEnd {
				if _, taken := claimed[t.ID]; !taken {
					return t.ID
				}
			}
			queue = append(queue, e.Target)
		}
	}
	return ""
}

// between returns the nodes reachable from start without passing through end.
func (g *Graph) between(start, end string) []string {
	seen := map[string]bool{start: true, end: true}
	queue := []string{start}
	var body []string
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, e := range g.outgoing[id] {
			if seen[e.Target] {
				continue
			}
			seen[e.Target] = true
			body = append(body, e.Target)
			queue = append(queue, e.Target)
		}
	}
	// Keep definition order.
	ordered := make([]string, 0, len(body))
	for _, n := range g.wf.Nodes {
		for _, b := range body {
			if b == n.ID {
				ordered = append(ordered, b)
				break
			}
		}
	}
	return ordered
}
