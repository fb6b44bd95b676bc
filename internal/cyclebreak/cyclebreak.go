// Package cyclebreak implements the cycle breaker (spec §4.5 component
// H): a colour-marked DFS over the install-time dependency graph that
// cuts exactly one edge per discovered cycle, preferring an edge whose
// depender has no postinst script.
//
// Grounded directly on internal/batch/batch.go's cycle-handling block:
// that code calls topo.Sort(g), catches topo.Unorderable (gonum's cyclic-
// component report), and removes edges out of each cyclic node. We reuse
// exactly that detect-via-topo.Sort-then-edit-the-graph shape, but replace
// the teacher's "remove every outgoing edge from every node in the
// component" (too coarse for spec §4.5, which requires cutting exactly
// one edge per cycle with a documented preference) with a walk of the
// topo.Unorderable component that picks one edge per spec's rule and
// marks it Cyclebreak instead of deleting it — the solver, not the graph,
// must treat it as satisfied (spec invariant 3, §8).
package cyclebreak

import (
	"github.com/dpkg-go/dpkg/internal/depgraph"
	"github.com/dpkg-go/dpkg/internal/model"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// Cut describes one edge chosen to break a cycle.
type Cut struct {
	From *model.Pkginfo
	To   *model.Pkginfo
}

// Break runs the cycle breaker over arena's installed-time dependency
// graph once, returning every edge it cut (spec §4.5 invariant: "at most
// one edge is cut per discovered cycle per pass"). infoDir is the
// admindir's info/ directory, consulted for the no-postinst preference.
//
// Break is repeatable: BuildInstallGraph rebuilds the graph fresh on each
// call and does not leave out edges whose DepPossi is already marked
// Cyclebreak, so a second call against the same arena finds the same
// cycles and returns the same cuts again (deterministic node/edge ordering
// below is what keeps them identical).
func Break(arena *model.Arena, infoDir string) []Cut {
	g, byID, _ := depgraph.BuildInstallGraph(arena)

	var cuts []Cut
	for {
		cut := findAndCutOneCycle(g, byID, infoDir)
		if cut == nil {
			break
		}
		cuts = append(cuts, *cut)
	}

	markColours(arena, g, byID)
	return cuts
}

// markColours records the DFS colour spec §3/§4.5 describe (white/grey/
// black) on each graph node's Pkginfo clientdata: every node is black when
// the graph left after the cuts can be topologically sorted, and every node
// is grey when it cannot. White is never assigned here, and Pkginfos outside
// the install-time graph are left untouched.
func markColours(arena *model.Arena, g *simple.DirectedGraph, byID map[int64]*model.Pkginfo) {
	order, err := topo.Sort(g)
	ordered := make(map[int64]bool)
	if err == nil {
		for _, n := range order {
			ordered[n.ID()] = true
		}
	}
	for id, pkg := range byID {
		cd := arena.ClientData(pkg)
		if ordered[id] {
			cd.Colour = model.Black
		} else {
			cd.Colour = model.Grey
		}
	}
}

// findAndCutOneCycle locates one cyclic component via topo.Sort, picks one
// edge to cut within it per spec §4.5's preference rule, removes that edge
// from g (so the next topo.Sort call can make progress) and returns it.
// Returns nil once g is acyclic.
func findAndCutOneCycle(g *simple.DirectedGraph, byID map[int64]*model.Pkginfo, infoDir string) *Cut {
	_, err := topo.Sort(g)
	if err == nil {
		return nil
	}
	uo, ok := err.(topo.Unorderable)
	if !ok || len(uo) == 0 {
		return nil
	}

	// Smallest non-trivial component first, for determinism independent of
	// gonum's internal map iteration order.
	component := smallestComponent(uo)
	edge := chooseCutEdge(g, component, byID, infoDir)
	if edge == nil {
		return nil
	}

	g.RemoveEdge(edge.From().ID(), edge.To().ID())
	from := byID[edge.From().ID()]
	to := byID[edge.To().ID()]
	markCyclebreak(from, to)
	return &Cut{From: from, To: to}
}

func smallestComponent(uo topo.Unorderable) []graph.Node {
	best := uo[0]
	for _, c := range uo[1:] {
		if len(c) < len(best) {
			best = c
		}
	}
	return best
}

// chooseCutEdge walks component (a DFS recursion-stack style cycle
// witness per spec §4.5 step 1) and returns the edge to cut: it prefers
// an edge whose depender has no postinst script (step 2), falling back to
// the first stack edge that returns to the target (step 3).
func chooseCutEdge(g *simple.DirectedGraph, component []graph.Node, byID map[int64]*model.Pkginfo, infoDir string) graph.Edge {
	sortNodesByID(component)

	var fallback graph.Edge
	for _, n := range component {
		to := g.From(n.ID())
		for to.Next() {
			candidateTo := to.Node()
			if !inComponent(component, candidateTo.ID()) {
				continue
			}
			e := g.Edge(n.ID(), candidateTo.ID())
			if e == nil {
				continue
			}
			if fallback == nil {
				fallback = e
			}
			pkg := byID[n.ID()]
			if pkg != nil && !depgraph.HasPostinst(infoDir, pkg) {
				return e
			}
		}
	}
	return fallback
}

func inComponent(component []graph.Node, id int64) bool {
	for _, n := range component {
		if n.ID() == id {
			return true
		}
	}
	return false
}

func sortNodesByID(nodes []graph.Node) {
	for i := 1; i < len(nodes); i++ {
		for j := i; j > 0 && nodes[j-1].ID() > nodes[j].ID(); j-- {
			nodes[j-1], nodes[j] = nodes[j], nodes[j-1]
		}
	}
}

// markCyclebreak sets Cyclebreak on the first depends/pre-depends DepPossi
// in from's installed snapshot that resolves to to's set, so the solver
// treats it as satisfied for the remainder of the run (spec §4.5 step 4).
func markCyclebreak(from, to *model.Pkginfo) {
	if from == nil || to == nil {
		return
	}
	for _, d := range from.Installed.Deps {
		if d.Type != model.DepDepends && d.Type != model.DepPreDepends {
			continue
		}
		for _, possi := range d.Possi {
			if possi.Target() == to.Set {
				possi.Cyclebreak = true
				return
			}
		}
	}
}
