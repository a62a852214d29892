package uplink

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meshtdma/tdmh/proto"
)

func TestGraphAddRemoveEdge(t *testing.T) {
	g := NewGraph()
	g.AddEdge(1, 2)
	require.True(t, g.HasEdge(1, 2))
	require.True(t, g.HasEdge(2, 1))
	require.True(t, g.Modified())
	require.False(t, g.Modified(), "Modified() should clear the flag")

	g.RemoveEdge(1, 2)
	require.False(t, g.HasEdge(1, 2))
	require.True(t, g.Modified())
}

func TestGraphAddEdgeTwiceIsNotModified(t *testing.T) {
	g := NewGraph()
	g.AddEdge(1, 2)
	g.Modified()
	g.AddEdge(1, 2)
	require.False(t, g.Modified())
}

func TestGraphReplaceNeighbors(t *testing.T) {
	const maxNodes = 8
	g := NewGraph()
	g.AddEdge(1, 9)

	table := proto.NewNeighborTable(maxNodes)
	require.NoError(t, table.Set(2))
	require.NoError(t, table.Set(3))
	g.ReplaceNeighbors(1, table, maxNodes)

	require.False(t, g.HasEdge(1, 9))
	require.True(t, g.HasEdge(1, 2))
	require.True(t, g.HasEdge(1, 3))
}

func TestSMEMapPutRemove(t *testing.T) {
	m := NewSMEMap()
	sme := proto.SME{ID: proto.StreamID{Src: 1, Dst: 0, DstPort: 2}}
	m.Put(sme)
	require.True(t, m.Modified())
	got, ok := m.Get(sme.ID)
	require.True(t, ok)
	require.Equal(t, sme, got)

	m.Remove(sme.ID)
	_, ok = m.Get(sme.ID)
	require.False(t, ok)
}

func TestNeighborSetPurgeStale(t *testing.T) {
	s := NewNeighborSet()
	s.Observe(5, 1, -40)
	s.MarkUnseen(5)
	s.MarkUnseen(5)
	removed := s.Purge(2)
	require.Equal(t, []NodeType{5}, removed)
}

func TestBestPredecessorPrefersHigherRSSI(t *testing.T) {
	s := NewNeighborSet()
	s.Observe(1, 0, -70) // closer to master (hop 0 < selfHop 2), weak signal
	s.Observe(2, 1, -30) // closer to master (hop 1 < selfHop 2), strong signal
	s.Observe(3, 2, -20) // same hop as self, not a predecessor candidate

	best, ok := s.BestPredecessor(2, 5)
	require.True(t, ok)
	require.Equal(t, NodeType(2), best)
}

func TestBestPredecessorIgnoresStale(t *testing.T) {
	s := NewNeighborSet()
	s.Observe(2, 0, -10)
	s.MarkUnseen(2)
	s.MarkUnseen(2)
	_, ok := s.BestPredecessor(1, 2)
	require.False(t, ok)
}
