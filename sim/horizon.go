package sim

import (
	"fmt"
	"math"

	"github.com/hydronet-sim/hydronet-sim/sim/nls"
	"github.com/hydronet-sim/hydronet-sim/sim/results"
)

// HorizonSystem is the full time-series formulation: every instant's
// variables and constraints in one system, with tank dynamics chaining
// consecutive instants. Index maps are keyed by name, then timestep.
type HorizonSystem struct {
	Sys *nls.System
	N   int // number of instants

	FlowIdx         map[string][]int
	HeadIdx         map[string][]int
	DemandIdx       map[string][]int
	TankInflowIdx   map[string][]int
	ReservoirOutIdx map[string][]int

	wn *Network
}

// Flow reads a link's solved flow at instant t.
func (hs *HorizonSystem) Flow(x []float64, link string, t int) float64 {
	return x[hs.FlowIdx[link][t]]
}

// Head reads a node's solved head at instant t.
func (hs *HorizonSystem) Head(x []float64, node string, t int) float64 {
	return x[hs.HeadIdx[node][t]]
}

// BuildHorizon assembles the whole-horizon system: nInstants copies of the
// per-instant variables and relations, junction head floors and tank level
// bounds as box constraints, reservoir heads pinned at every instant, tank
// heads pinned to the initial level at the first instant, and tank dynamics
// linking each instant to the next. Scheduled-closed links have their flow
// pinned to zero for the affected instants; valves that are open follow the
// open-valve resistance law (the PRV state machine only participates in the
// stepped path). decoupled lists junctions whose actual demand is left free
// for calibration.
func (b *Builder) BuildHorizon(nInstants int, demands map[string][]float64, decoupled map[string]bool) (*HorizonSystem, error) {
	if err := b.checkSupported(); err != nil {
		return nil, err
	}
	if nInstants < 1 {
		return nil, fmt.Errorf("horizon needs at least one instant, got %d", nInstants)
	}

	hs := &HorizonSystem{
		Sys:             nls.NewSystem(),
		N:               nInstants,
		FlowIdx:         make(map[string][]int),
		HeadIdx:         make(map[string][]int),
		DemandIdx:       make(map[string][]int),
		TankInflowIdx:   make(map[string][]int),
		ReservoirOutIdx: make(map[string][]int),
		wn:              b.wn,
	}
	sys := hs.Sys

	at := func(name string, t int) string { return fmt.Sprintf("%s,%d", name, t) }

	// Variables, all instants.
	for _, name := range b.wn.LinkNames(-1) {
		l, _ := b.wn.GetLink(name)
		idx := make([]int, nInstants)
		for t := 0; t < nInstants; t++ {
			idx[t] = b.addFlowVariable(sys, l, "flow["+at(name, t)+"]")
		}
		hs.FlowIdx[name] = idx
	}
	for _, name := range b.wn.NodeNames(-1) {
		n, _ := b.wn.GetNode(name)
		idx := make([]int, nInstants)
		for t := 0; t < nInstants; t++ {
			idx[t] = b.addHeadVariable(sys, n, "head["+at(name, t)+"]", true)
		}
		hs.HeadIdx[name] = idx

		switch n.Kind {
		case JunctionNode:
			di := make([]int, nInstants)
			for t := 0; t < nInstants; t++ {
				di[t] = sys.AddVariable("demand["+at(name, t)+"]", demands[name][t])
			}
			hs.DemandIdx[name] = di
		case TankNode:
			ti := make([]int, nInstants)
			for t := 0; t < nInstants; t++ {
				ti[t] = sys.AddVariable("tankin["+at(name, t)+"]", seedExchange)
			}
			hs.TankInflowIdx[name] = ti
		case ReservoirNode:
			ri := make([]int, nInstants)
			for t := 0; t < nInstants; t++ {
				ri[t] = sys.AddVariable("resout["+at(name, t)+"]", seedExchange)
			}
			hs.ReservoirOutIdx[name] = ri
		}
	}

	// Link relations per instant; closed instants pin the flow instead.
	for _, name := range b.wn.LinkNames(-1) {
		l, _ := b.wn.GetLink(name)
		for t := 0; t < nInstants; t++ {
			if !b.wn.IsLinkOpen(name, float64(t)*b.stepSec) {
				sys.Fix(hs.FlowIdx[name][t], 0)
				continue
			}
			fi := hs.FlowIdx[name][t]
			si := hs.HeadIdx[l.StartNode][t]
			ei := hs.HeadIdx[l.EndNode][t]
			switch l.Kind {
			case PipeLink:
				k := PipeResistance(l.Pipe)
				modified := b.cfg.ModifiedHazenWilliams
				sys.AddEquation("pipe_headloss["+at(name, t)+"]", []int{fi, si, ei}, func(x []float64) float64 {
					if modified {
						return PipeHeadloss(k, x[fi]) - (x[si] - x[ei])
					}
					return PipeHeadlossUnmodified(k, x[fi]) - (x[si] - x[ei])
				})
			case PumpLink:
				switch l.Pump.InfoType {
				case PumpHeadCurve:
					a, bb, c := l.Pump.A, l.Pump.B, l.Pump.C
					sys.AddEquation("pump_headgain["+at(name, t)+"]", []int{fi, si, ei}, func(x []float64) float64 {
						return (x[si] - x[ei]) - (-a + bb*math.Pow(math.Abs(x[fi]), c))
					})
				case PumpFixedPower:
					power := l.Pump.Power
					sys.AddEquation("pump_power["+at(name, t)+"]", []int{fi, si, ei}, func(x []float64) float64 {
						return (x[si]-x[ei])*x[fi]*Grav*1000 + power
					})
				default:
					return nil, fmt.Errorf("pump %q: characterization %q not recognized", name, l.Pump.InfoType)
				}
			case ValveLink:
				k := ValveResistance(l.Valve)
				sys.AddEquation("valve_headloss["+at(name, t)+"]", []int{fi, si, ei}, func(x []float64) float64 {
					return k*x[fi]*x[fi] - (x[si] - x[ei])
				})
			}
		}
	}

	// Mass balance and demand coupling per instant.
	for t := 0; t < nInstants; t++ {
		flowIdxAt := make(map[string]int, len(hs.FlowIdx))
		for name, idx := range hs.FlowIdx {
			flowIdxAt[name] = idx[t]
		}
		for _, name := range b.wn.NodeNames(-1) {
			n, _ := b.wn.GetNode(name)
			var termIdx int
			switch n.Kind {
			case JunctionNode:
				termIdx = hs.DemandIdx[name][t]
			case TankNode:
				termIdx = hs.TankInflowIdx[name][t]
			default:
				termIdx = hs.ReservoirOutIdx[name][t]
			}
			if err := b.addMassBalance(sys, flowIdxAt, name, termIdx); err != nil {
				return nil, err
			}
		}
		for _, name := range b.wn.NodeNames(JunctionNode) {
			if decoupled[name] {
				continue
			}
			di := hs.DemandIdx[name][t]
			required := demands[name][t]
			sys.AddEquation("demand_coupling["+at(name, t)+"]", []int{di}, func(x []float64) float64 {
				return x[di] - required
			})
		}
	}

	// Reservoir heads are pinned at every instant; tank heads at the first.
	for _, name := range b.wn.NodeNames(ReservoirNode) {
		n, _ := b.wn.GetNode(name)
		for t := 0; t < nInstants; t++ {
			sys.Fix(hs.HeadIdx[name][t], n.Reservoir.BaseHead)
		}
	}
	for _, name := range b.wn.NodeNames(TankNode) {
		n, _ := b.wn.GetNode(name)
		sys.Fix(hs.HeadIdx[name][0], n.Tank.Elevation+n.Tank.InitLevel)
	}

	// Tank dynamics chain each instant to the next; the final instant's net
	// inflow only appears in its mass balance.
	for _, name := range b.wn.NodeNames(TankNode) {
		n, _ := b.wn.GetNode(name)
		area := math.Pi * n.Tank.Diameter * n.Tank.Diameter
		dt := b.stepSec
		for t := 0; t < nInstants-1; t++ {
			ti := hs.TankInflowIdx[name][t]
			h0 := hs.HeadIdx[name][t]
			h1 := hs.HeadIdx[name][t+1]
			sys.AddEquation("tank_dynamics["+at(name, t)+"]", []int{ti, h0, h1}, func(x []float64) float64 {
				return x[ti]*dt*4/area - (x[h1] - x[h0])
			})
		}
	}

	return hs, nil
}

// RunHorizon solves the full time-series formulation in a single system and
// emits the same records the stepped driver would. It supports no valve
// state machine and no conditional controls; it exists for control-free
// networks and as the substrate of the calibration mode.
func RunHorizon(wn *Network, cfg DriverConfig, solver Solver, acc results.Accumulator) error {
	nInstants := int(math.Round(cfg.DurationSec/cfg.HydraulicStepSec)) + 1
	b := NewBuilder(wn, cfg.HydraulicStepSec, cfg.Build)
	demands, err := expandDemands(wn, nInstants)
	if err != nil {
		return err
	}
	hs, err := b.BuildHorizon(nInstants, demands, nil)
	if err != nil {
		return err
	}
	x, err := solver.Solve(hs.Sys, nil)
	if err != nil {
		return fmt.Errorf("horizon solve: %w", err)
	}
	hs.emit(x, cfg.HydraulicStepSec, acc)
	return nil
}

func expandDemands(wn *Network, nInstants int) (map[string][]float64, error) {
	demands := make(map[string][]float64)
	for _, name := range wn.NodeNames(JunctionNode) {
		series, err := wn.DemandSeries(name, nInstants)
		if err != nil {
			return nil, err
		}
		demands[name] = series
	}
	return demands, nil
}

// emit records every entity's solved state at every instant.
func (hs *HorizonSystem) emit(x []float64, stepSec float64, acc results.Accumulator) {
	if acc == nil {
		return
	}
	for t := 0; t < hs.N; t++ {
		timeSec := float64(t) * stepSec
		for _, name := range hs.wn.LinkNames(-1) {
			l, _ := hs.wn.GetLink(name)
			flow := hs.Flow(x, name, t)
			velocity := 0.0
			if l.Kind == PipeLink {
				velocity = 4 * math.Abs(flow) / (math.Pi * l.Pipe.Diameter * l.Pipe.Diameter)
			}
			acc.RecordLink(results.LinkRecord{
				Link: name, Kind: l.Kind.String(), Timestep: t, TimeSec: timeSec,
				Flow: flow, Velocity: velocity,
			})
		}
		for _, name := range hs.wn.NodeNames(-1) {
			n, _ := hs.wn.GetNode(name)
			head := hs.Head(x, name, t)
			pressure := 0.0
			demand := 0.0
			switch n.Kind {
			case JunctionNode:
				pressure = head - n.Junction.Elevation
				demand = x[hs.DemandIdx[name][t]]
			case TankNode:
				pressure = head - n.Tank.Elevation
				demand = x[hs.TankInflowIdx[name][t]]
			case ReservoirNode:
				demand = x[hs.ReservoirOutIdx[name][t]]
			}
			acc.RecordNode(results.NodeRecord{
				Node: name, Kind: n.Kind.String(), Timestep: t, TimeSec: timeSec,
				Head: head, Pressure: pressure, Demand: demand,
			})
		}
	}
}
