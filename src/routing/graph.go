package routing

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rcenet/rce/src/identity"
)

// Edge is a directed link between two nodes, as advertised by From.
type Edge struct {
	From      identity.InstanceNodeSessionID
	To        identity.InstanceNodeSessionID
	ChannelID string
	Weight    int
}

// NetworkGraph is an immutable snapshot of the known topology.
type NetworkGraph struct {
	local identity.InstanceNodeSessionID
	nodes []identity.InstanceNodeSessionID
	// outgoing edges per node, ordered by channel id
	edges map[identity.InstanceNodeSessionID][]Edge
}

// NewNetworkGraph builds a graph from the links advertised by each node. The
// local node is always part of the graph.
func NewNetworkGraph(local identity.InstanceNodeSessionID, lsas map[identity.InstanceNodeSessionID][]Link) *NetworkGraph {
	g := &NetworkGraph{
		local: local,
		edges: make(map[identity.InstanceNodeSessionID][]Edge),
	}

	nodes := map[identity.InstanceNodeSessionID]struct{}{local: {}}

	for from, links := range lsas {
		nodes[from] = struct{}{}
		for _, l := range links {
			to, err := identity.ParseInstanceNodeSessionID(l.Node)
			if err != nil || to == from {
				continue
			}
			nodes[to] = struct{}{}
			g.edges[from] = append(g.edges[from], Edge{
				From:      from,
				To:        to,
				ChannelID: l.ChannelID,
				Weight:    l.Weight,
			})
		}
	}

	for n := range nodes {
		g.nodes = append(g.nodes, n)
	}
	sortNodes(g.nodes)

	for from := range g.edges {
		sortEdges(g.edges[from])
	}

	return g
}

// Local returns the node from which the graph is seen.
func (g *NetworkGraph) Local() identity.InstanceNodeSessionID {
	return g.local
}

// Nodes returns the nodes of the graph, ordered by raw id.
func (g *NetworkGraph) Nodes() []identity.InstanceNodeSessionID {
	return append([]identity.InstanceNodeSessionID(nil), g.nodes...)
}

// Contains reports whether the node is part of the graph.
func (g *NetworkGraph) Contains(node identity.InstanceNodeSessionID) bool {
	i := sort.Search(len(g.nodes), func(i int) bool { return g.nodes[i].RawID() >= node.RawID() })
	return i < len(g.nodes) && g.nodes[i] == node
}

// Edges returns all edges, ordered by source node then channel id.
func (g *NetworkGraph) Edges() []Edge {
	var res []Edge
	for _, n := range g.nodes {
		res = append(res, g.edges[n]...)
	}
	return res
}

// OutgoingEdges returns the edges advertised by a node.
func (g *NetworkGraph) OutgoingEdges(node identity.InstanceNodeSessionID) []Edge {
	return append([]Edge(nil), g.edges[node]...)
}

// Reachable returns the subgraph of the nodes that can be reached from the
// local node, following edges in their direction.
func (g *NetworkGraph) Reachable() *NetworkGraph {
	seen := map[identity.InstanceNodeSessionID]struct{}{g.local: {}}
	queue := []identity.InstanceNodeSessionID{g.local}

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, e := range g.edges[n] {
			if _, ok := seen[e.To]; !ok {
				seen[e.To] = struct{}{}
				queue = append(queue, e.To)
			}
		}
	}

	r := &NetworkGraph{
		local: g.local,
		edges: make(map[identity.InstanceNodeSessionID][]Edge),
	}
	for _, n := range g.nodes {
		if _, ok := seen[n]; !ok {
			continue
		}
		r.nodes = append(r.nodes, n)
		for _, e := range g.edges[n] {
			if _, ok := seen[e.To]; ok {
				r.edges[n] = append(r.edges[n], e)
			}
		}
	}
	return r
}

// Fingerprint returns a string that is equal for graphs with the same nodes
// and edges.
func (g *NetworkGraph) Fingerprint() string {
	var b strings.Builder
	for _, n := range g.nodes {
		b.WriteString(n.RawID())
		b.WriteByte(';')
	}
	for _, e := range g.Edges() {
		fmt.Fprintf(&b, "%s>%s/%s/%d;", e.From.RawID(), e.To.RawID(), e.ChannelID, e.Weight)
	}
	return b.String()
}

// Len returns the number of nodes.
func (g *NetworkGraph) Len() int {
	return len(g.nodes)
}

func sortNodes(nodes []identity.InstanceNodeSessionID) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].RawID() < nodes[j].RawID() })
}

func sortEdges(edges []Edge) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].ChannelID != edges[j].ChannelID {
			return edges[i].ChannelID < edges[j].ChannelID
		}
		return edges[i].To.RawID() < edges[j].To.RawID()
	})
}
