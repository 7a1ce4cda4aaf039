package results

import (
	"encoding/csv"
	"fmt"
	"io"
)

// Accumulator receives solved per-(entity, instant) records from the
// simulation driver.
type Accumulator interface {
	RecordLink(LinkRecord)
	RecordNode(NodeRecord)
}

type linkKey struct {
	name     string
	timestep int
}

type nodeKey struct {
	name     string
	timestep int
}

// Table is an in-memory Accumulator with per-entity time series lookups.
type Table struct {
	Links []LinkRecord
	Nodes []NodeRecord

	linkIdx map[linkKey]int
	nodeIdx map[nodeKey]int
}

// NewTable creates an empty results table.
func NewTable() *Table {
	return &Table{
		linkIdx: make(map[linkKey]int),
		nodeIdx: make(map[nodeKey]int),
	}
}

// RecordLink appends a link record.
func (tb *Table) RecordLink(r LinkRecord) {
	tb.linkIdx[linkKey{r.Link, r.Timestep}] = len(tb.Links)
	tb.Links = append(tb.Links, r)
}

// RecordNode appends a node record.
func (tb *Table) RecordNode(r NodeRecord) {
	tb.nodeIdx[nodeKey{r.Node, r.Timestep}] = len(tb.Nodes)
	tb.Nodes = append(tb.Nodes, r)
}

// Link looks up a link's record at a timestep.
func (tb *Table) Link(name string, timestep int) (LinkRecord, bool) {
	i, ok := tb.linkIdx[linkKey{name, timestep}]
	if !ok {
		return LinkRecord{}, false
	}
	return tb.Links[i], true
}

// Node looks up a node's record at a timestep.
func (tb *Table) Node(name string, timestep int) (NodeRecord, bool) {
	i, ok := tb.nodeIdx[nodeKey{name, timestep}]
	if !ok {
		return NodeRecord{}, false
	}
	return tb.Nodes[i], true
}

// Flow returns a link's solved flow at a timestep, or zero when absent.
func (tb *Table) Flow(name string, timestep int) float64 {
	r, _ := tb.Link(name, timestep)
	return r.Flow
}

// Head returns a node's solved head at a timestep, or zero when absent.
func (tb *Table) Head(name string, timestep int) float64 {
	r, _ := tb.Node(name, timestep)
	return r.Head
}

// WriteCSV emits two stacked CSV sections: node records then link records.
func (tb *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"entity", "name", "type", "timestep", "time_sec", "head", "pressure", "demand", "flowrate", "velocity"}); err != nil {
		return fmt.Errorf("writing results header: %w", err)
	}
	f := func(v float64) string { return fmt.Sprintf("%.9g", v) }
	for _, r := range tb.Nodes {
		row := []string{"node", r.Node, r.Kind, fmt.Sprintf("%d", r.Timestep), f(r.TimeSec), f(r.Head), f(r.Pressure), f(r.Demand), "", ""}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing node record: %w", err)
		}
	}
	for _, r := range tb.Links {
		row := []string{"link", r.Link, r.Kind, fmt.Sprintf("%d", r.Timestep), f(r.TimeSec), "", "", "", f(r.Flow), f(r.Velocity)}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing link record: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
