package graph

import (
	"container/heap"
	"sort"

	"github.com/warriorguo/dagflow/types"
)

// Plan is an index-based view of a DAG. Node indices follow the sorted node
// names, so every traversal built on it is deterministic.
type Plan struct {
	Names    []string
	Index    map[string]int
	Outgoing [][]int
	Incoming [][]int
	InDegree []int
}

// NewPlan indexes the DAG. Edges to unknown nodes are ignored; Validate
// reports them.
func NewPlan(dag *types.DAG) *Plan {
	names := dag.NodeNames()
	p := &Plan{
		Names:    names,
		Index:    make(map[string]int, len(names)),
		Outgoing: make([][]int, len(names)),
		Incoming: make([][]int, len(names)),
		InDegree: make([]int, len(names)),
	}
	for i, name := range names {
		p.Index[name] = i
	}

	// several slots may link the same pair, the plan keeps one arc
	arcs := make(map[[2]int]bool)
	for _, e := range dag.Edges {
		src, ok1 := p.Index[e.Source]
		dst, ok2 := p.Index[e.Destination]
		if !ok1 || !ok2 || arcs[[2]int{src, dst}] {
			continue
		}
		arcs[[2]int{src, dst}] = true
		p.Outgoing[src] = append(p.Outgoing[src], dst)
		p.Incoming[dst] = append(p.Incoming[dst], src)
		p.InDegree[dst]++
	}
	for i := range p.Outgoing {
		sort.Ints(p.Outgoing[i])
		sort.Ints(p.Incoming[i])
	}
	return p
}

type intMinHeap []int

func (h intMinHeap) Len() int           { return len(h) }
func (h intMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Order returns Kahn's order with a min-ordered ready set. It is shorter
// than Names when the graph has a cycle.
func (p *Plan) Order() []int {
	indeg := make([]int, len(p.InDegree))
	copy(indeg, p.InDegree)

	ready := &intMinHeap{}
	for i := range indeg {
		if indeg[i] == 0 {
			heap.Push(ready, i)
		}
	}

	out := make([]int, 0, len(indeg))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		out = append(out, n)
		for _, m := range p.Outgoing[n] {
			indeg[m]--
			if indeg[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	return out
}

// TopologicalOrder returns the node names producers-first.
func TopologicalOrder(dag *types.DAG) ([]string, error) {
	p := NewPlan(dag)
	order := p.Order()
	if len(order) != len(p.Names) {
		path := p.findCycle()
		return nil, &types.ValidationError{Kind: types.KindCycle, DAG: dag.Name, Node: path[0], Path: path, Msg: "dag contains a cycle"}
	}
	names := make([]string, 0, len(order))
	for _, idx := range order {
		names = append(names, p.Names[idx])
	}
	return names, nil
}

// FindCycle returns one cycle as node names with the first node repeated at
// the end, or nil for an acyclic DAG.
func FindCycle(dag *types.DAG) []string {
	return NewPlan(dag).findCycle()
}

func (p *Plan) findCycle() []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	color := make([]int, len(p.Names))
	stack := make([]int, 0, len(p.Names))
	var cycle []int

	var dfs func(u int) bool
	dfs = func(u int) bool {
		color[u] = gray
		stack = append(stack, u)
		for _, v := range p.Outgoing[u] {
			switch color[v] {
			case white:
				if dfs(v) {
					return true
				}
			case gray:
				// back edge u -> v, the stack holds v ... u
				for i := len(stack) - 1; i >= 0; i-- {
					if stack[i] == v {
						cycle = append(cycle, stack[i:]...)
						break
					}
				}
				cycle = append(cycle, v)
				return true
			}
		}
		stack = stack[:len(stack)-1]
		color[u] = black
		return false
	}

	for i := range p.Names {
		if color[i] == white && dfs(i) {
			break
		}
	}
	if len(cycle) == 0 {
		return nil
	}

	out := make([]string, 0, len(cycle))
	for _, idx := range cycle {
		out = append(out, p.Names[idx])
	}
	return out
}
