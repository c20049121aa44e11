package workflow

import (
	"errors"
	"fmt"
	"sort"

	"k8s.io/apimachinery/pkg/util/sets"
)

// ErrUnsupportedShape is returned for state types and graph shapes the
// optimizer cannot model.
var ErrUnsupportedShape = errors.New("unsupported workflow shape")

type NodeType string

const (
	NodeTask     NodeType = "Task"
	NodeParallel NodeType = "Parallel"
	NodeTerminal NodeType = "Terminal"
	// NodePass covers states that do not invoke anything, such as Pass and Wait.
	NodePass NodeType = "Pass"
)

// Node is one state of the flattened definition.
type Node struct {
	Name string
	// ResourceID is the compute function the state invokes, if any.
	ResourceID string
	Type       NodeType
	// IsStart marks the StartAt state of the top-level definition or of a
	// branch.
	IsStart bool
	IsEnd   bool
	// Successors of a Parallel node are the start nodes of its branches.
	Successors []*Node
	// Join is the node a Parallel state continues with once its branches
	// finish. Nil when the Parallel state ends its own definition at the top
	// level.
	Join *Node
}

// Transition is one edge of the graph.
type Transition struct {
	From string
	To   string
}

// Graph owns its nodes. It is read-only once built.
type Graph struct {
	Start *Node
	// Nodes lists every state, reachable ones first in depth-first order.
	Nodes []*Node
	index map[string]*Node
}

// Node returns the node named name.
func (g *Graph) Node(name string) (*Node, bool) {
	n, ok := g.index[name]
	return n, ok
}

// BuildGraph flattens def, including nested branches, into a graph. Nodes
// are allocated in a first pass and wired in a second one, so Next may
// refer to states declared anywhere in the document.
func BuildGraph(def *Definition) (*Graph, error) {
	b := &builder{index: make(map[string]*Node)}
	if err := b.allocate(def); err != nil {
		return nil, err
	}
	if err := b.wire(def, nil); err != nil {
		return nil, err
	}

	start, ok := b.index[def.StartAt]
	if !ok {
		return nil, fmt.Errorf("StartAt %q is not a state", def.StartAt)
	}

	g := &Graph{Start: start, index: b.index}
	g.Nodes = g.order()
	return g, nil
}

type builder struct {
	index map[string]*Node
}

func (b *builder) allocate(def *Definition) error {
	for name, state := range def.States {
		if _, dup := b.index[name]; dup {
			return fmt.Errorf("duplicate state name %q", name)
		}

		node := &Node{
			Name:       name,
			ResourceID: state.FunctionID(),
			IsStart:    name == def.StartAt,
			IsEnd:      state.End,
		}
		switch state.Type {
		case "Task":
			node.Type = NodeTask
		case "Parallel":
			node.Type = NodeParallel
		case "Succeed", "Fail":
			node.Type = NodeTerminal
			node.IsEnd = true
		case "Pass", "Wait":
			node.Type = NodePass
		default:
			return fmt.Errorf("%w: state %q has type %q", ErrUnsupportedShape, name, state.Type)
		}
		b.index[name] = node

		for i := range state.Branches {
			if err := b.allocate(&state.Branches[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

// wire connects the states of def. after is the node following the
// enclosing Parallel state, nil at the top level.
func (b *builder) wire(def *Definition, after *Node) error {
	if _, ok := def.States[def.StartAt]; !ok {
		return fmt.Errorf("StartAt %q is not a state of its definition", def.StartAt)
	}

	for name, state := range def.States {
		node := b.index[name]

		next, err := b.lookup(name, state.Next)
		if err != nil {
			return err
		}

		if node.Type == NodeParallel {
			join := next
			if join == nil && node.IsEnd {
				join = after
			}
			node.Join = join
			for i := range state.Branches {
				branch := &state.Branches[i]
				if err := b.wire(branch, join); err != nil {
					return err
				}
				node.Successors = append(node.Successors, b.index[branch.StartAt])
			}
			continue
		}

		switch {
		case next != nil:
			node.Successors = []*Node{next}
		case node.IsEnd && after != nil:
			node.Successors = []*Node{after}
		case !node.IsEnd:
			return fmt.Errorf("state %q has neither Next nor End", name)
		}
	}
	return nil
}

func (b *builder) lookup(from, name string) (*Node, error) {
	if name == "" {
		return nil, nil
	}
	node, ok := b.index[name]
	if !ok {
		return nil, fmt.Errorf("state %q refers to unknown state %q", from, name)
	}
	return node, nil
}

// order returns reachable nodes depth-first from Start, then the
// unreachable ones by name.
func (g *Graph) order() []*Node {
	nodes, seen := g.reachable()
	rest := sets.KeySet(g.index).Difference(seen)
	for _, name := range sets.List(rest) {
		nodes = append(nodes, g.index[name])
	}
	return nodes
}

// reachable returns the nodes reachable from Start, depth-first, and their
// names.
func (g *Graph) reachable() ([]*Node, sets.Set[string]) {
	seen := sets.New[string]()
	nodes := make([]*Node, 0, len(g.index))

	var visit func(n *Node)
	visit = func(n *Node) {
		if seen.Has(n.Name) {
			return
		}
		seen.Insert(n.Name)
		nodes = append(nodes, n)
		for _, s := range n.Successors {
			visit(s)
		}
	}
	visit(g.Start)
	return nodes, seen
}

// ComputeResources lists the distinct functions reachable from Start,
// breadth first.
func (g *Graph) ComputeResources() []string {
	var resources []string
	found := sets.New[string]()
	seen := sets.New[string](g.Start.Name)

	queue := []*Node{g.Start}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if n.ResourceID != "" && !found.Has(n.ResourceID) {
			found.Insert(n.ResourceID)
			resources = append(resources, n.ResourceID)
		}
		for _, s := range n.Successors {
			if !seen.Has(s.Name) {
				seen.Insert(s.Name)
				queue = append(queue, s)
			}
		}
	}
	return resources
}

// Transitions lists every edge between reachable nodes, sorted.
func (g *Graph) Transitions() []Transition {
	var transitions []Transition
	nodes, _ := g.reachable()
	for _, n := range nodes {
		for _, s := range n.Successors {
			transitions = append(transitions, Transition{From: n.Name, To: s.Name})
		}
	}
	sort.Slice(transitions, func(i, j int) bool {
		if transitions[i].From != transitions[j].From {
			return transitions[i].From < transitions[j].From
		}
		return transitions[i].To < transitions[j].To
	})
	return transitions
}

// IsChain reports whether the reachable graph is purely sequential.
func (g *Graph) IsChain() bool {
	nodes, _ := g.reachable()
	for _, n := range nodes {
		if n.Type == NodeParallel || len(n.Successors) > 1 {
			return false
		}
	}
	return true
}
