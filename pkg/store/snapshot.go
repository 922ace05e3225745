package store

import (
	"cmp"
	"slices"

	"github.com/OFFIS-RIT/maintkg/backend/pkg/common"
)

// Snapshot is a read-only view of the graph pinned at one committed version.
// It stays consistent while later versions are committed.
type Snapshot struct {
	g       *Graph
	version int64
}

// Version returns the pinned version.
func (s *Snapshot) Version() int64 {
	return s.version
}

// Node returns the node with the given id, in any state.
func (s *Snapshot) Node(id string) (common.Node, bool) {
	s.g.mu.RLock()
	defer s.g.mu.RUnlock()
	return s.g.nodeAt(id, s.version)
}

// NodesByType returns every node of type t, including retracted ones,
// ordered by id.
func (s *Snapshot) NodesByType(t common.EntityType) []common.Node {
	s.g.mu.RLock()
	defer s.g.mu.RUnlock()

	ids := slices.Sorted(slices.Values(s.g.byType[t]))
	out := make([]common.Node, 0, len(ids))
	for _, id := range ids {
		if n, ok := s.g.nodeAt(id, s.version); ok {
			out = append(out, n)
		}
	}
	return out
}

// Edge returns the edge with the given key, in any state.
func (s *Snapshot) Edge(key common.EdgeKey) (common.Edge, bool) {
	s.g.mu.RLock()
	defer s.g.mu.RUnlock()
	id, ok := s.g.edgeKeys[key]
	if !ok {
		return common.Edge{}, false
	}
	return s.g.edgeAt(id, s.version)
}

// EdgeByID returns the edge with the given id, in any state.
func (s *Snapshot) EdgeByID(id string) (common.Edge, bool) {
	s.g.mu.RLock()
	defer s.g.mu.RUnlock()
	return s.g.edgeAt(id, s.version)
}

// Out returns the active edges leaving id.
func (s *Snapshot) Out(id string) []common.Edge {
	s.g.mu.RLock()
	defer s.g.mu.RUnlock()
	return s.activeEdges(s.g.bySource[id])
}

// In returns the active edges pointing at id.
func (s *Snapshot) In(id string) []common.Edge {
	s.g.mu.RLock()
	defer s.g.mu.RUnlock()
	return s.activeEdges(s.g.byTarget[id])
}

func (s *Snapshot) activeEdges(ids []string) []common.Edge {
	out := make([]common.Edge, 0, len(ids))
	for _, id := range ids {
		if e, ok := s.g.edgeAt(id, s.version); ok && e.Active() {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b common.Edge) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Graph materializes the snapshot. Retracted items are only included when
// includeRetracted is set.
func (s *Snapshot) Graph(includeRetracted bool) common.Graph {
	s.g.mu.RLock()
	defer s.g.mu.RUnlock()

	out := common.Graph{Version: s.version, Nodes: []common.Node{}, Edges: []common.Edge{}}
	for id := range s.g.nodes {
		if n, ok := s.g.nodeAt(id, s.version); ok && (includeRetracted || n.Active()) {
			out.Nodes = append(out.Nodes, n)
		}
	}
	for id := range s.g.edges {
		if e, ok := s.g.edgeAt(id, s.version); ok && (includeRetracted || e.Active()) {
			out.Edges = append(out.Edges, e)
		}
	}
	slices.SortFunc(out.Nodes, func(a, b common.Node) int { return cmp.Compare(a.ID, b.ID) })
	slices.SortFunc(out.Edges, func(a, b common.Edge) int { return cmp.Compare(a.ID, b.ID) })
	return out
}
