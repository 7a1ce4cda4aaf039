package sim

import (
	"fmt"
	"math"

	"github.com/hydronet-sim/hydronet-sim/sim/nls"
)

// Solver is the external collaborator that solves a declared equation
// system: a feasible assignment over the system's variables, or a typed
// failure. warm carries a prior solve's assignment for warm starting.
type Solver interface {
	Solve(sys *nls.System, warm []float64) ([]float64, error)
}

// BuildConfig selects formulation options.
type BuildConfig struct {
	// ModifiedHazenWilliams selects the smoothed loss curve (default).
	// When false the raw Q*|Q|^0.852 law is used; it is exact but its
	// Jacobian degenerates near zero flow.
	ModifiedHazenWilliams bool

	// EnforceBounds activates junction head floors and tank level bounds
	// on the per-instant path. The full-horizon path always enforces them.
	EnforceBounds bool
}

// DefaultBuildConfig returns the smoothed formulation without per-instant
// bounds, matching the stepped driver's default behavior.
func DefaultBuildConfig() BuildConfig {
	return BuildConfig{ModifiedHazenWilliams: true}
}

// pipe and valve flows are seeded at roughly 1 ft/s of velocity; node heads
// at elevation (reservoirs at a nominal 100 m); storage exchange terms at a
// small nonzero value.
const (
	seedFlow          = 0.3048
	seedReservoirHead = 100.0
	seedExchange      = 0.1
)

// Builder assembles nonlinear equation systems for a network, either one
// instant at a time or over the whole horizon. It only reads the network.
type Builder struct {
	wn      *Network
	stepSec float64
	cfg     BuildConfig
}

// NewBuilder creates a builder for the given network and hydraulic timestep.
func NewBuilder(wn *Network, stepSec float64, cfg BuildConfig) *Builder {
	return &Builder{wn: wn, stepSec: stepSec, cfg: cfg}
}

// checkSupported rejects unsupported topology before any variable is
// created. Check valves are not modeled.
func (b *Builder) checkSupported() error {
	for _, name := range b.wn.LinkNames(-1) {
		l, _ := b.wn.GetLink(name)
		if l.BaseStatus == StatusCheckValve {
			return fmt.Errorf("link %q: check valves are not supported", name)
		}
	}
	return nil
}

// InstantSystem is one timestep's assembled equation system together with
// the variable index maps needed to read a solution.
type InstantSystem struct {
	Sys *nls.System

	FlowIdx         map[string]int // per link
	HeadIdx         map[string]int // per node
	DemandIdx       map[string]int // per junction: actual demand
	TankInflowIdx   map[string]int // per tank: net inflow
	ReservoirOutIdx map[string]int // per reservoir: outflow

	wn *Network
}

// Flow reads a link's solved flow out of an assignment.
func (is *InstantSystem) Flow(x []float64, link string) float64 { return x[is.FlowIdx[link]] }

// Head reads a node's solved head out of an assignment.
func (is *InstantSystem) Head(x []float64, node string) float64 { return x[is.HeadIdx[node]] }

// BuildInstant assembles the equation system for a single instant: one flow
// per link, one head per node, demand/net-inflow/outflow terms per node
// kind, head-loss relations for open pipes and pumps, mass balance at every
// node, and tank dynamics against the previous instant's tank heads.
// Reservoir pins, tank initial pins, closed-flow pins, and valve constraints
// are applied afterwards by the driver (see PinReservoirs and friends).
func (b *Builder) BuildInstant(lastTankHead map[string]float64, demands map[string]float64, firstTimestep bool, linksClosed map[string]bool) (*InstantSystem, error) {
	if err := b.checkSupported(); err != nil {
		return nil, err
	}

	is := &InstantSystem{
		Sys:             nls.NewSystem(),
		FlowIdx:         make(map[string]int),
		HeadIdx:         make(map[string]int),
		DemandIdx:       make(map[string]int),
		TankInflowIdx:   make(map[string]int),
		ReservoirOutIdx: make(map[string]int),
		wn:              b.wn,
	}
	sys := is.Sys

	// Variables.
	for _, name := range b.wn.LinkNames(-1) {
		l, _ := b.wn.GetLink(name)
		is.FlowIdx[name] = b.addFlowVariable(sys, l, "flow["+name+"]")
	}
	for _, name := range b.wn.NodeNames(-1) {
		n, _ := b.wn.GetNode(name)
		is.HeadIdx[name] = b.addHeadVariable(sys, n, "head["+name+"]", b.cfg.EnforceBounds)
		switch n.Kind {
		case JunctionNode:
			is.DemandIdx[name] = sys.AddVariable("demand["+name+"]", demands[name])
		case TankNode:
			is.TankInflowIdx[name] = sys.AddVariable("tankin["+name+"]", seedExchange)
		case ReservoirNode:
			is.ReservoirOutIdx[name] = sys.AddVariable("resout["+name+"]", seedExchange)
		}
	}

	// Head-loss and head-gain relations for open links. Valves contribute
	// status-dependent constraints added by the driver.
	for _, name := range b.wn.LinkNames(-1) {
		if linksClosed[name] {
			continue
		}
		l, _ := b.wn.GetLink(name)
		switch l.Kind {
		case PipeLink:
			b.addPipeEquation(sys, is, l)
		case PumpLink:
			if err := b.addPumpEquation(sys, is, l); err != nil {
				return nil, err
			}
		}
	}

	// Mass balance at every node.
	for _, name := range b.wn.NodeNames(-1) {
		if err := b.addMassBalance(sys, is.FlowIdx, name, b.nodeTermIdx(is, name)); err != nil {
			return nil, err
		}
	}

	// Actual demand follows required demand unless a calibration run
	// decouples it.
	for _, name := range b.wn.NodeNames(JunctionNode) {
		di := is.DemandIdx[name]
		required := demands[name]
		sys.AddEquation("demand_coupling["+name+"]", []int{di}, func(x []float64) float64 {
			return x[di] - required
		})
	}

	// Tank dynamics against the previous instant. The first instant pins
	// tank heads to the initial level instead (driver responsibility).
	if !firstTimestep {
		for _, name := range b.wn.NodeNames(TankNode) {
			n, _ := b.wn.GetNode(name)
			ti := is.TankInflowIdx[name]
			hi := is.HeadIdx[name]
			prev := lastTankHead[name]
			area := math.Pi * n.Tank.Diameter * n.Tank.Diameter
			dt := b.stepSec
			sys.AddEquation("tank_dynamics["+name+"]", []int{ti, hi}, func(x []float64) float64 {
				return x[ti]*dt*4/area - (x[hi] - prev)
			})
		}
	}

	return is, nil
}

func (b *Builder) addFlowVariable(sys *nls.System, l *Link, name string) int {
	switch l.Kind {
	case PumpLink:
		init := seedFlow
		if l.Pump.InfoType == PumpHeadCurve {
			init = l.Pump.DesignFlow
		}
		// Pump flow is one-directional; the bound also keeps the head
		// curve's power law in its real domain during iteration.
		return sys.AddBoundedVariable(name, init, 0, math.Inf(1))
	default:
		return sys.AddVariable(name, seedFlow)
	}
}

func (b *Builder) addHeadVariable(sys *nls.System, n *Node, name string, bounded bool) int {
	switch n.Kind {
	case ReservoirNode:
		return sys.AddVariable(name, seedReservoirHead)
	case TankNode:
		if bounded {
			return sys.AddBoundedVariable(name, n.Tank.Elevation,
				n.Tank.Elevation+n.Tank.MinLevel, n.Tank.Elevation+n.Tank.MaxLevel)
		}
		return sys.AddVariable(name, n.Tank.Elevation)
	default:
		if bounded {
			return sys.AddBoundedVariable(name, n.Junction.Elevation, n.Junction.Elevation, math.Inf(1))
		}
		return sys.AddVariable(name, n.Junction.Elevation)
	}
}

func (b *Builder) addPipeEquation(sys *nls.System, is *InstantSystem, l *Link) {
	k := PipeResistance(l.Pipe)
	fi := is.FlowIdx[l.Name]
	si := is.HeadIdx[l.StartNode]
	ei := is.HeadIdx[l.EndNode]
	modified := b.cfg.ModifiedHazenWilliams
	sys.AddEquation("pipe_headloss["+l.Name+"]", []int{fi, si, ei}, func(x []float64) float64 {
		if modified {
			return PipeHeadloss(k, x[fi]) - (x[si] - x[ei])
		}
		return PipeHeadlossUnmodified(k, x[fi]) - (x[si] - x[ei])
	})
}

func (b *Builder) addPumpEquation(sys *nls.System, is *InstantSystem, l *Link) error {
	fi := is.FlowIdx[l.Name]
	si := is.HeadIdx[l.StartNode]
	ei := is.HeadIdx[l.EndNode]
	p := l.Pump
	switch p.InfoType {
	case PumpHeadCurve:
		a, bb, c := p.A, p.B, p.C
		sys.AddEquation("pump_headgain["+l.Name+"]", []int{fi, si, ei}, func(x []float64) float64 {
			return (x[si] - x[ei]) - (-a + bb*math.Pow(math.Abs(x[fi]), c))
		})
	case PumpFixedPower:
		power := p.Power
		sys.AddEquation("pump_power["+l.Name+"]", []int{fi, si, ei}, func(x []float64) float64 {
			return (x[si]-x[ei])*x[fi]*Grav*1000 + power
		})
	default:
		return fmt.Errorf("pump %q: characterization %q not recognized", l.Name, p.InfoType)
	}
	return nil
}

// addMassBalance writes the nodal balance: flow entering minus flow leaving
// equals the node's exchange term (demand, tank net inflow, or negated
// reservoir outflow). A link incident to a node that is neither its start
// nor its end indicates corrupted topology and fails immediately.
func (b *Builder) addMassBalance(sys *nls.System, flowIdx map[string]int, node string, termIdx int) error {
	type signedFlow struct {
		idx  int
		sign float64
	}
	flows := make([]signedFlow, 0, 4)
	vars := make([]int, 0, 5)
	for _, linkName := range b.wn.LinksForNode(node) {
		l, _ := b.wn.GetLink(linkName)
		switch node {
		case l.StartNode:
			flows = append(flows, signedFlow{flowIdx[linkName], -1})
		case l.EndNode:
			flows = append(flows, signedFlow{flowIdx[linkName], +1})
		default:
			return fmt.Errorf("node %q: incident link %q has endpoints %q-%q", node, linkName, l.StartNode, l.EndNode)
		}
		vars = append(vars, flowIdx[linkName])
	}
	vars = append(vars, termIdx)

	n, _ := b.wn.GetNode(node)
	termSign := -1.0
	if n.Kind == ReservoirNode {
		// Reservoir outflow is positive when the reservoir supplies the
		// network, so it enters the balance with the opposite sign of
		// demand and tank inflow.
		termSign = +1.0
	}
	sys.AddEquation("mass_balance["+node+"]", vars, func(x []float64) float64 {
		expr := 0.0
		for _, f := range flows {
			expr += f.sign * x[f.idx]
		}
		return expr + termSign*x[termIdx]
	})
	return nil
}

func (b *Builder) nodeTermIdx(is *InstantSystem, node string) int {
	n, _ := b.wn.GetNode(node)
	switch n.Kind {
	case JunctionNode:
		return is.DemandIdx[node]
	case TankNode:
		return is.TankInflowIdx[node]
	default:
		return is.ReservoirOutIdx[node]
	}
}

// PinReservoirs fixes every reservoir's head to its base head.
func (is *InstantSystem) PinReservoirs() {
	for _, name := range is.wn.NodeNames(ReservoirNode) {
		n, _ := is.wn.GetNode(name)
		is.Sys.Fix(is.HeadIdx[name], n.Reservoir.BaseHead)
	}
}

// PinInitialTankHeads fixes tank heads to elevation + initial level. Used
// only on the first timestep, where tank dynamics have no previous instant.
func (is *InstantSystem) PinInitialTankHeads() {
	for _, name := range is.wn.NodeNames(TankNode) {
		n, _ := is.wn.GetNode(name)
		is.Sys.Fix(is.HeadIdx[name], n.Tank.Elevation+n.Tank.InitLevel)
	}
}

// FixClosedFlows pins closed links' flow to exactly zero and releases every
// other link's flow.
func (is *InstantSystem) FixClosedFlows(linksClosed map[string]bool) {
	for _, name := range is.wn.LinkNames(-1) {
		if linksClosed[name] {
			is.Sys.Fix(is.FlowIdx[name], 0)
		} else {
			is.Sys.Unfix(is.FlowIdx[name])
		}
	}
}

// ApplyValveConstraints adds each PRV's status-dependent relation: CLOSED
// pins the flow to zero, OPEN imposes the open-valve resistance law, ACTIVE
// pins the downstream head to the pressure setting above the downstream
// elevation and leaves the flow free. A valve in linksClosed already has its
// flow pinned by FixClosedFlows and behaves as CLOSED for the instant no
// matter what the state machine says; adding its status relation on top
// would leave the system non-square.
func (is *InstantSystem) ApplyValveConstraints(valveStatus map[string]ValveStatus, linksClosed map[string]bool) {
	for _, name := range is.wn.LinkNames(ValveLink) {
		if linksClosed[name] {
			continue
		}
		l, _ := is.wn.GetLink(name)
		switch valveStatus[name] {
		case ValveClosed:
			is.Sys.Fix(is.FlowIdx[name], 0)
		case ValveOpen:
			k := ValveResistance(l.Valve)
			fi := is.FlowIdx[name]
			si := is.HeadIdx[l.StartNode]
			ei := is.HeadIdx[l.EndNode]
			is.Sys.AddEquation("valve_headloss["+name+"]", []int{fi, si, ei}, func(x []float64) float64 {
				return k*x[fi]*x[fi] - (x[si] - x[ei])
			})
		case ValveActive:
			end, _ := is.wn.GetNode(l.EndNode)
			is.Sys.Fix(is.HeadIdx[l.EndNode], l.Valve.Setting+end.Elevation())
		}
	}
}
