package routing

import (
	"container/heap"
	"fmt"
	"strings"

	"github.com/rcenet/rce/src/common"
	"github.com/rcenet/rce/src/identity"
)

// TieBreak selects how routes of equal cost and hop count are ordered.
type TieBreak string

const (
	// TieBreakFirstHopChannel prefers the route whose first channel has the
	// lexicographically smaller id.
	TieBreakFirstHopChannel TieBreak = "first-hop-channel"
	// TieBreakPathNodes prefers the route whose sequence of node ids is
	// lexicographically smaller.
	TieBreakPathNodes TieBreak = "path-nodes"
)

// ParseTieBreak validates a tie-break name. The empty name selects
// TieBreakFirstHopChannel.
func ParseTieBreak(name string) (TieBreak, error) {
	switch TieBreak(name) {
	case "", TieBreakFirstHopChannel:
		return TieBreakFirstHopChannel, nil
	case TieBreakPathNodes:
		return TieBreakPathNodes, nil
	}
	return "", fmt.Errorf("unknown route tie-break %q", name)
}

// Hop is one step of a route: the channel taken and the node it leads to.
type Hop struct {
	ChannelID string
	Node      identity.InstanceNodeSessionID
}

// Route is a path from the local node to a destination.
type Route struct {
	Source      identity.InstanceNodeSessionID
	Destination identity.InstanceNodeSessionID
	Hops        []Hop
	Cost        int
}

// IsLocal reports whether the destination is the source itself.
func (r Route) IsLocal() bool {
	return len(r.Hops) == 0
}

// FirstHop returns the first step of the route. It must not be called on a
// local route.
func (r Route) FirstHop() Hop {
	return r.Hops[0]
}

// String renders the route as a list of nodes.
func (r Route) String() string {
	parts := []string{r.Source.RawID()}
	for _, h := range r.Hops {
		parts = append(parts, h.Node.RawID())
	}
	return strings.Join(parts, " -> ")
}

// NoRouteFoundError is returned when a destination is not reachable.
type NoRouteFoundError struct {
	Source      identity.InstanceNodeSessionID
	Destination identity.InstanceNodeSessionID
}

// Error implements the error interface.
func (e *NoRouteFoundError) Error() string {
	return fmt.Sprintf("no route from %s to %s", e.Source.RawID(), e.Destination.RawID())
}

// ErrType implements common.Typed.
func (e *NoRouteFoundError) ErrType() common.ErrType {
	return common.NoRoute
}

// IsNoRouteFound reports whether err is a NoRouteFoundError.
func IsNoRouteFound(err error) bool {
	return common.Is(err, common.NoRoute)
}

// label is the tentative distance of a node in Dijkstra's algorithm.
type label struct {
	node identity.InstanceNodeSessionID
	cost int
	hops []Hop
	// tie-break key, fixed by the first hop or grown with the path
	key string
}

func (l *label) less(o *label) bool {
	if l.cost != o.cost {
		return l.cost < o.cost
	}
	if len(l.hops) != len(o.hops) {
		return len(l.hops) < len(o.hops)
	}
	if l.key != o.key {
		return l.key < o.key
	}
	return l.node.RawID() < o.node.RawID()
}

func (l *label) extend(e Edge, tb TieBreak) *label {
	hops := make([]Hop, len(l.hops), len(l.hops)+1)
	copy(hops, l.hops)
	hops = append(hops, Hop{ChannelID: e.ChannelID, Node: e.To})

	key := l.key
	switch tb {
	case TieBreakPathNodes:
		key += e.To.RawID() + "/" + e.ChannelID + ";"
	default:
		if len(l.hops) == 0 {
			key = e.ChannelID
		}
	}

	return &label{node: e.To, cost: l.cost + e.Weight, hops: hops, key: key}
}

type labelQueue []*label

func (q labelQueue) Len() int            { return len(q) }
func (q labelQueue) Less(i, j int) bool  { return q[i].less(q[j]) }
func (q labelQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *labelQueue) Push(x interface{}) { *q = append(*q, x.(*label)) }
func (q *labelQueue) Pop() interface{} {
	old := *q
	n := len(old)
	x := old[n-1]
	*q = old[:n-1]
	return x
}

// ShortestRoute computes the best route from the local node of the graph to
// dest. The result only depends on the nodes and edges of the graph.
func (g *NetworkGraph) ShortestRoute(dest identity.InstanceNodeSessionID, tb TieBreak) (Route, error) {
	if dest == g.local {
		return Route{Source: g.local, Destination: dest}, nil
	}
	if !g.Contains(dest) {
		return Route{}, &NoRouteFoundError{Source: g.local, Destination: dest}
	}

	best := make(map[identity.InstanceNodeSessionID]*label)
	done := make(map[identity.InstanceNodeSessionID]bool)

	start := &label{node: g.local}
	best[g.local] = start
	q := &labelQueue{start}

	for q.Len() > 0 {
		cur := heap.Pop(q).(*label)
		if done[cur.node] || best[cur.node] != cur {
			continue
		}
		done[cur.node] = true

		if cur.node == dest {
			return Route{
				Source:      g.local,
				Destination: dest,
				Hops:        cur.hops,
				Cost:        cur.cost,
			}, nil
		}

		for _, e := range g.edges[cur.node] {
			if done[e.To] {
				continue
			}
			next := cur.extend(e, tb)
			if prev, ok := best[e.To]; !ok || next.less(prev) {
				best[e.To] = next
				heap.Push(q, next)
			}
		}
	}

	return Route{}, &NoRouteFoundError{Source: g.local, Destination: dest}
}
