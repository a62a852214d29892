package schedule

import "github.com/meshtdma/tdmh/proto"

// graph is the minimal read side of uplink.Graph this package needs,
// kept as an interface so computation.go does not force every caller to
// depend on uplink's concrete Graph type.
type graph interface {
	HasEdge(a, b proto.NodeID) bool
	Neighbors(node proto.NodeID) []proto.NodeID
}

// route finds the path a stream's data takes from src to dst over g
// (spec §4.6 step 3: "if hasEdge(src, dst), one-hop. Otherwise BFS from
// src; reconstruct a path"). The returned path starts at src and ends at
// dst; consecutive pairs (path[i], path[i+1]) become the Tx/Rx of one
// implicit schedule element.
func route(g graph, src, dst proto.NodeID) ([]proto.NodeID, bool) {
	if src == dst {
		return nil, false
	}
	if g.HasEdge(src, dst) {
		return []proto.NodeID{src, dst}, true
	}

	visited := map[proto.NodeID]bool{src: true}
	parent := map[proto.NodeID]proto.NodeID{}
	queue := []proto.NodeID{src}

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, nb := range g.Neighbors(n) {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			parent[nb] = n
			if nb == dst {
				return reconstruct(parent, src, dst), true
			}
			queue = append(queue, nb)
		}
	}
	return nil, false
}

func reconstruct(parent map[proto.NodeID]proto.NodeID, src, dst proto.NodeID) []proto.NodeID {
	path := []proto.NodeID{dst}
	for path[len(path)-1] != src {
		path = append(path, parent[path[len(path)-1]])
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}
