// Package results receives and stores solved per-timestep simulation
// records. It holds pure data and has no dependency on the sim package.
package results

// LinkRecord captures one link's solved state at one instant.
type LinkRecord struct {
	Link     string
	Kind     string // "pipe", "pump", "valve"
	Timestep int
	TimeSec  float64
	Flow     float64 // m^3/s, signed
	Velocity float64 // m/s; zero for pumps and valves
}

// NodeRecord captures one node's solved state at one instant.
type NodeRecord struct {
	Node     string
	Kind     string // "junction", "tank", "reservoir"
	Timestep int
	TimeSec  float64
	Head     float64 // m
	Pressure float64 // m of head above elevation; zero for reservoirs
	Demand   float64 // junction actual demand, tank net inflow, or reservoir outflow
}
