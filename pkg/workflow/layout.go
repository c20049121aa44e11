package workflow

import (
	"fmt"

	"k8s.io/apimachinery/pkg/util/sets"
)

// Layout is the sequence of compute nodes of a graph with at most one
// parallel split: the chain before the split, one chain per branch, and the
// chain after the branches join. A purely sequential graph has everything
// in Entry.
type Layout struct {
	Entry    []*Node
	Branches [][]*Node
	Exit     []*Node
}

// Nodes lists every compute node: entry, branches in order, exit.
func (l *Layout) Nodes() []*Node {
	nodes := append([]*Node(nil), l.Entry...)
	for _, branch := range l.Branches {
		nodes = append(nodes, branch...)
	}
	return append(nodes, l.Exit...)
}

// Parallel reports whether the layout has a split.
func (l *Layout) Parallel() bool {
	return len(l.Branches) > 0
}

// Layout walks the graph from Start. Nested or successive parallel splits
// return ErrUnsupportedShape.
func (g *Graph) Layout() (*Layout, error) {
	layout := &Layout{}
	seen := sets.New[string]()

	entry, split, err := walk(g.Start, nil, seen)
	if err != nil {
		return nil, err
	}
	layout.Entry = entry
	if split == nil {
		return layout, nil
	}

	for _, start := range split.Successors {
		branch, nested, err := walk(start, split.Join, seen)
		if err != nil {
			return nil, err
		}
		if nested != nil {
			return nil, fmt.Errorf("%w: parallel state %q nested in %q", ErrUnsupportedShape, nested.Name, split.Name)
		}
		layout.Branches = append(layout.Branches, branch)
	}

	if split.Join == nil {
		return layout, nil
	}
	exit, second, err := walk(split.Join, nil, seen)
	if err != nil {
		return nil, err
	}
	if second != nil {
		return nil, fmt.Errorf("%w: more than one parallel state (%q, %q)", ErrUnsupportedShape, split.Name, second.Name)
	}
	layout.Exit = exit
	return layout, nil
}

// walk follows single successors from n until stop, the end of the chain
// or a Parallel node, which is returned.
func walk(n, stop *Node, seen sets.Set[string]) ([]*Node, *Node, error) {
	var chain []*Node
	for n != nil && n != stop {
		if seen.Has(n.Name) {
			return nil, nil, fmt.Errorf("%w: state %q is reached twice", ErrUnsupportedShape, n.Name)
		}
		seen.Insert(n.Name)

		if n.Type == NodeParallel {
			return chain, n, nil
		}
		if n.ResourceID != "" {
			chain = append(chain, n)
		}

		switch len(n.Successors) {
		case 0:
			n = nil
		case 1:
			n = n.Successors[0]
		default:
			return nil, nil, fmt.Errorf("%w: state %q has %d successors", ErrUnsupportedShape, n.Name, len(n.Successors))
		}
	}
	return chain, nil, nil
}
