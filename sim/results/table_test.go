package results

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTable() *Table {
	tb := NewTable()
	tb.RecordNode(NodeRecord{Node: "R1", Kind: "reservoir", Timestep: 0, Head: 100, Demand: 0.01})
	tb.RecordNode(NodeRecord{Node: "J1", Kind: "junction", Timestep: 0, Head: 99.9, Pressure: 99.9, Demand: 0.01})
	tb.RecordNode(NodeRecord{Node: "J1", Kind: "junction", Timestep: 1, TimeSec: 3600, Head: 99.8, Pressure: 99.8, Demand: 0.015})
	tb.RecordLink(LinkRecord{Link: "P1", Kind: "pipe", Timestep: 0, Flow: 0.01, Velocity: 0.14})
	tb.RecordLink(LinkRecord{Link: "P1", Kind: "pipe", Timestep: 1, TimeSec: 3600, Flow: 0.015, Velocity: 0.21})
	return tb
}

func TestTable_Lookups_ByNameAndTimestep(t *testing.T) {
	tb := sampleTable()

	r, ok := tb.Link("P1", 1)
	require.True(t, ok)
	assert.Equal(t, 0.015, r.Flow)

	n, ok := tb.Node("J1", 0)
	require.True(t, ok)
	assert.Equal(t, 99.9, n.Head)

	_, ok = tb.Link("P9", 0)
	assert.False(t, ok)
	_, ok = tb.Node("J1", 7)
	assert.False(t, ok)

	// Convenience accessors fall back to zero for absent records.
	assert.Equal(t, 0.01, tb.Flow("P1", 0))
	assert.Equal(t, 0.0, tb.Flow("P9", 0))
	assert.Equal(t, 99.8, tb.Head("J1", 1))
	assert.Equal(t, 0.0, tb.Head("nope", 0))
}

func TestTable_WriteCSV_EmitsHeaderAndAllRecords(t *testing.T) {
	tb := sampleTable()

	var sb strings.Builder
	require.NoError(t, tb.WriteCSV(&sb))

	lines := strings.Split(strings.TrimSpace(sb.String()), "\n")
	require.Len(t, lines, 6) // header + 3 node rows + 2 link rows
	assert.Equal(t, "entity,name,type,timestep,time_sec,head,pressure,demand,flowrate,velocity", lines[0])
	assert.Contains(t, lines[1], "node,R1,reservoir,0")
	assert.Contains(t, lines[4], "link,P1,pipe,0")
	assert.Contains(t, lines[5], "0.015")
}

func TestSummarize_Extremes_SkipReservoirs(t *testing.T) {
	tb := sampleTable()
	s := Summarize(tb)

	assert.Equal(t, 2, s.Instants)
	assert.Equal(t, 3, s.NodeRecords)
	assert.Equal(t, 2, s.LinkRecords)

	// The reservoir's conventional zero pressure must not win the minimum.
	assert.Equal(t, 99.8, s.MinPressure)
	assert.Equal(t, "J1", s.MinPressureNode)
	assert.Equal(t, 99.9, s.MaxPressure)
	assert.Equal(t, 0.21, s.MaxVelocity)
	assert.Equal(t, "P1", s.MaxVelocityLink)

	assert.Equal(t, 2, s.KindCounts["junction"])
	assert.Equal(t, 1, s.KindCounts["reservoir"])
	assert.Equal(t, 2, s.KindCounts["pipe"])
}

func TestSummarize_NilAndEmptyTables_Safe(t *testing.T) {
	s := Summarize(nil)
	assert.Equal(t, 0, s.Instants)

	s = Summarize(NewTable())
	assert.Equal(t, 0, s.Instants)
	assert.Equal(t, 0.0, s.MinPressure)
}
