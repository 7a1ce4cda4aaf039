package results

// Summary aggregates a completed run's records.
type Summary struct {
	Instants        int
	NodeRecords     int
	LinkRecords     int
	MinPressure     float64
	MinPressureNode string
	MaxPressure     float64
	MaxPressureNode string
	MaxVelocity     float64
	MaxVelocityLink string
	KindCounts      map[string]int // variant tag → record count
}

// Summarize computes aggregate statistics from a results table. Safe for
// nil or empty tables. Reservoirs are skipped for the pressure extrema
// since their pressure is reported as zero by convention.
func Summarize(tb *Table) *Summary {
	s := &Summary{KindCounts: make(map[string]int)}
	if tb == nil {
		return s
	}
	s.NodeRecords = len(tb.Nodes)
	s.LinkRecords = len(tb.Links)

	maxStep := -1
	first := true
	for _, r := range tb.Nodes {
		s.KindCounts[r.Kind]++
		if r.Timestep > maxStep {
			maxStep = r.Timestep
		}
		if r.Kind == "reservoir" {
			continue
		}
		if first || r.Pressure < s.MinPressure {
			s.MinPressure = r.Pressure
			s.MinPressureNode = r.Node
		}
		if first || r.Pressure > s.MaxPressure {
			s.MaxPressure = r.Pressure
			s.MaxPressureNode = r.Node
		}
		first = false
	}
	for _, r := range tb.Links {
		s.KindCounts[r.Kind]++
		if r.Timestep > maxStep {
			maxStep = r.Timestep
		}
		if r.Velocity > s.MaxVelocity {
			s.MaxVelocity = r.Velocity
			s.MaxVelocityLink = r.Link
		}
	}
	s.Instants = maxStep + 1
	return s
}
