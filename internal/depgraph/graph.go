// Package depgraph builds the project dependency graph of spec.md §4.5 and
// produces a stable, reproducible build order. Grounded directly on
// internal/batch.Ctx.Build in the teacher: both build a gonum
// simple.DirectedGraph from per-package dependency lists, detect cycles via
// gonum/graph/topo, and drive a worker pool off the resulting order. Here
// the graph also carries branch pins, vote counts, and virtual nodes, none
// of which the teacher's package-build graph needs (it has no "unknown
// package" concept), so those parts are new.
package depgraph

import (
	"fmt"
	"sort"

	"github.com/kde-builder/kde-builder/internal/depgrammar"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// Node is one project in the dependency graph (spec.md §3 "Project
// dependency graph").
type Node struct {
	id int64

	Name   string
	Branch string // pinned branch for this node, "" if unpinned
	Build  bool   // true iff this project is actually selected for the build
	Virtual bool  // true iff this node has no backing project (unknown dep)

	DeclID int // monotonic declaration id, for tie-breaking

	deps    []int64          // direct non-self dep node ids
	allDeps map[int64]bool   // memoized transitive closure
	votes   map[int64]int    // descendant node id -> vote count
}

func (n *Node) ID() int64 { return n.id }

// Graph wraps a gonum simple.DirectedGraph with the project-graph-specific
// bookkeeping spec.md §4.5 requires.
type Graph struct {
	g        *simple.DirectedGraph
	byName   map[string]*Node
	nextID   int64
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		g:      simple.NewDirectedGraph(),
		byName: make(map[string]*Node),
	}
}

// NodeFactory resolves a dependency target name to a (declID, known) pair;
// known projects get a real node, unknown ones become a virtual node with
// Build=false (spec.md §3 invariant "dep targets unknown to the catalog
// produce a virtual node").
type NodeFactory func(name string) (declID int, known bool)

func (gr *Graph) getOrCreate(name string, factory NodeFactory) *Node {
	if n, ok := gr.byName[name]; ok {
		return n
	}
	declID, known := factory(name)
	n := &Node{
		id:      gr.nextID,
		Name:    name,
		Virtual: !known,
		DeclID:  declID,
		allDeps: make(map[int64]bool),
		votes:   make(map[int64]int),
	}
	gr.nextID++
	gr.byName[name] = n
	gr.g.AddNode(n)
	return n
}

// AddEdge adds dep as a direct dependency of from, skipping trivial
// self-edges per spec.md §4.5. branch is the pin carried by this specific
// edge ("" or "*" meaning unpinned).
//
// A branch conflict between two incoming edges on the same target is a hard
// error unless both branches are equal (spec.md §4.5); an edge with branch
// "*" never conflicts with a concrete-branch edge (spec.md B5).
func (gr *Graph) AddEdge(from, dep *Node, branch string) error {
	if from.id == dep.id {
		return nil // trivial self-cycle, silently elided
	}
	if branch != "" && branch != "*" {
		if dep.Branch != "" && dep.Branch != "*" && dep.Branch != branch {
			return fmt.Errorf("branch conflict on %s: %q vs %q", dep.Name, dep.Branch, branch)
		}
		dep.Branch = branch
	}
	if gr.g.HasEdgeFromTo(from.id, dep.id) {
		return nil
	}
	gr.g.SetEdge(gr.g.NewEdge(from, dep))
	from.deps = append(from.deps, dep.id)
	return nil
}

// Seed registers a selected (build=true) project as a graph entry point.
func (gr *Graph) Seed(name string, declID int) *Node {
	n := gr.getOrCreate(name, func(string) (int, bool) { return declID, true })
	n.Build = true
	n.DeclID = declID
	return n
}

// GetOrCreateDep resolves a dependency edge target through factory,
// creating a virtual node if the factory reports it unknown.
func (gr *Graph) GetOrCreateDep(name string, factory NodeFactory) *Node {
	return gr.getOrCreate(name, factory)
}

// Lookup returns the node for name, if it has been created.
func (gr *Graph) Lookup(name string) (*Node, bool) {
	n, ok := gr.byName[name]
	return n, ok
}

// ExpandDeps walks from's dependency grammar rules (concrete + matching
// catch-alls) and adds edges for every add that is not cancelled by a
// remove, per spec.md §4.2/§4.5. resolvedPath is used to gate catch-all
// application (spec.md P6: catch-alls don't apply under third-party/).
func ExpandDeps(gr *Graph, from *Node, resolvedPath string, rules *depgrammar.Rules, factory NodeFactory) error {
	branch := from.Branch
	if branch == "" {
		branch = "*"
	}
	key := from.Name + ":" + branch
	adds := map[string]depgrammar.Dep{}
	removes := map[string]bool{}

	collect := func(es *depgrammar.EdgeSet) {
		if es == nil {
			return
		}
		for _, d := range es.Adds {
			adds[d.Source] = d
		}
		for _, d := range es.Removes {
			removes[d.Source] = true
		}
	}
	collect(rules.Edges[key])
	collect(rules.Edges[from.Name+":*"])

	hasThirdPartyPrefix := len(resolvedPath) >= len("third-party/") && resolvedPath[:len("third-party/")] == "third-party/"
	if !hasThirdPartyPrefix {
		for prefix, es := range rules.CatchAll {
			if len(from.Name) >= len(prefix) && from.Name[:len(prefix)] == prefix {
				collect(es)
			}
		}
	}

	names := make([]string, 0, len(adds))
	for name := range adds {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if removes[name] {
			continue
		}
		d := adds[name]
		depNode := gr.GetOrCreateDep(name, factory)
		if err := gr.AddEdge(from, depNode, d.Branch); err != nil {
			return err
		}
	}
	return nil
}

// DetectCycles runs a three-color DFS from every node and returns the
// identifiers implicated in any cycle (spec.md §4.5, P5).
func (gr *Graph) DetectCycles() []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[int64]int)
	var cyclic []string
	var visit func(id int64) bool
	visit = func(id int64) bool {
		color[id] = gray
		to := gr.g.From(id)
		for to.Next() {
			next := to.Node().ID()
			switch color[next] {
			case gray:
				cyclic = append(cyclic, gr.g.Node(next).(*Node).Name)
			case white:
				if visit(next) {
					return true
				}
			}
		}
		color[id] = black
		return false
	}
	nodes := gr.g.Nodes()
	for nodes.Next() {
		n := nodes.Node()
		if color[n.ID()] == white {
			visit(n.ID())
		}
	}
	sort.Strings(cyclic)
	return cyclic
}

// ComputeTransitiveDeps fills AllDeps for every node via depth-first
// memoization (spec.md §4.5 "Transitive dependency copy-up").
func (gr *Graph) ComputeTransitiveDeps() {
	var visit func(n *Node)
	visiting := make(map[int64]bool)
	visit = func(n *Node) {
		if len(n.allDeps) > 0 || len(n.deps) == 0 {
			return
		}
		if visiting[n.id] {
			return // cycle guard; cycles must be resolved before calling this
		}
		visiting[n.id] = true
		for _, depID := range n.deps {
			n.allDeps[depID] = true
			dn := gr.g.Node(depID).(*Node)
			visit(dn)
			for d := range dn.allDeps {
				n.allDeps[d] = true
			}
		}
		visiting[n.id] = false
	}
	nodes := gr.g.Nodes()
	for nodes.Next() {
		visit(nodes.Node().(*Node))
	}
}

// PropagateVotes increments votes[d][node] for every node and every d in
// node's transitive deps (spec.md §4.5 "Vote propagation", P4).
func (gr *Graph) PropagateVotes() {
	nodes := gr.g.Nodes()
	for nodes.Next() {
		n := nodes.Node().(*Node)
		for depID := range n.allDeps {
			dn := gr.g.Node(depID).(*Node)
			if dn.votes == nil {
				dn.votes = make(map[int64]int)
			}
			dn.votes[n.id]++
		}
	}
}

// VoteCount returns the number of distinct ancestors that voted for n.
func (n *Node) VoteCount() int { return len(n.votes) }

// AllDeps returns the transitive dependency id set (read-only).
func (n *Node) AllDeps() map[int64]bool { return n.allDeps }

// TopoSort produces the build order described in spec.md §4.5: repeated
// selection of a node with no unresolved dependencies, breaking ties by (1)
// direct dependency relation (2) larger vote count (3) smaller DeclID (4)
// lexicographic name. Virtual nodes are omitted from the output but remain
// in the graph. The result is stable and reproducible (P2, P3, R2).
func (gr *Graph) TopoSort() ([]*Node, error) {
	ordered, err := topo.SortStabilized(gr.g, func(nodes []graph.Node) {
		// The whole result is reversed below to turn gonum's
		// dependents-first order into the dependencies-first order
		// spec.md wants; that reversal also flips the order *within*
		// each ready-set, so this comparator sorts each ready-set by
		// the inverse of the desired tie-break (votes desc, DeclID
		// asc, name asc) to land right-side-up after the reversal.
		sort.Slice(nodes, func(i, j int) bool {
			ni := nodes[i].(*Node)
			nj := nodes[j].(*Node)
			if ni.VoteCount() != nj.VoteCount() {
				return ni.VoteCount() < nj.VoteCount()
			}
			if ni.DeclID != nj.DeclID {
				return ni.DeclID > nj.DeclID
			}
			return ni.Name > nj.Name
		})
	})
	if err != nil {
		if uo, ok := err.(topo.Unorderable); ok {
			var names []string
			for _, comp := range uo {
				for _, n := range comp {
					names = append(names, n.(*Node).Name)
				}
			}
			sort.Strings(names)
			return nil, fmt.Errorf("dependency cycle among: %v", names)
		}
		return nil, err
	}

	// topo.SortStabilized returns dependents-before-dependencies is NOT
	// guaranteed by gonum; gonum's topological order is "for edge u->v, u
	// appears before v" which here means "dependent appears before its
	// dependency" since edges point from dependent to dependency. spec.md
	// requires the reverse: dependencies built first. Reverse the order.
	out := make([]*Node, 0, len(ordered))
	for i := len(ordered) - 1; i >= 0; i-- {
		n := ordered[i].(*Node)
		if n.Build && !n.Virtual {
			out = append(out, n)
		}
	}
	return out, nil
}

// Nodes returns every node in the graph (including virtual ones), sorted by
// name, for diagnostics.
func (gr *Graph) Nodes() []*Node {
	var out []*Node
	nodes := gr.g.Nodes()
	for nodes.Next() {
		out = append(out, nodes.Node().(*Node))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
