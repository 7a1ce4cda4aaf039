package sim

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/hydronet-sim/hydronet-sim/sim/results"
)

// maxStepRetries bounds how often one timestep may be re-solved while valve
// states settle before the run is declared non-convergent.
const maxStepRetries = 10

// DriverConfig holds the run parameters of a stepped simulation.
type DriverConfig struct {
	DurationSec      float64
	HydraulicStepSec float64
	Build            BuildConfig
}

// SimulationState is the mutable state carried across timesteps. It is
// owned exclusively by the driver; the valve state machine and the control
// engine only return proposals against it.
type SimulationState struct {
	FirstTimestep bool
	LastTankHead  map[string]float64
	ValveStatus   map[string]ValveStatus

	// LinkStatus is the scheduled open/closed series per link, one entry
	// per timestep. Conditional controls may permanently override it.
	LinkStatus map[string][]bool

	// PumpsClosed carries conditional-control closures between timesteps.
	PumpsClosed []string
}

// Driver orchestrates the timestep loop: gather demands and controls, build
// the instant's system, invoke the solver, settle valve states, advance.
type Driver struct {
	wn      *Network
	builder *Builder
	solver  Solver
	acc     results.Accumulator
	cfg     DriverConfig

	nTimesteps int
	demands    map[string][]float64
}

// NewDriver prepares a stepped simulation: expands demand series, snapshots
// the scheduled link status per timestep, and validates conditional
// controls. The accumulator receives one record per entity per solved
// instant.
func NewDriver(wn *Network, cfg DriverConfig, solver Solver, acc results.Accumulator) (*Driver, error) {
	if cfg.HydraulicStepSec <= 0 {
		return nil, fmt.Errorf("hydraulic step must be positive, got %g", cfg.HydraulicStepSec)
	}
	if err := wn.VerifyConditionalControls(); err != nil {
		return nil, err
	}

	d := &Driver{
		wn:         wn,
		builder:    NewBuilder(wn, cfg.HydraulicStepSec, cfg.Build),
		solver:     solver,
		acc:        acc,
		cfg:        cfg,
		nTimesteps: int(math.Round(cfg.DurationSec/cfg.HydraulicStepSec)) + 1,
		demands:    make(map[string][]float64),
	}
	for _, name := range wn.NodeNames(JunctionNode) {
		series, err := wn.DemandSeries(name, d.nTimesteps)
		if err != nil {
			return nil, err
		}
		d.demands[name] = series
	}
	return d, nil
}

// NumTimesteps reports how many instants the run covers.
func (d *Driver) NumTimesteps() int { return d.nTimesteps }

// newState initializes the carried simulation state: tanks at their initial
// level, every valve ACTIVE, schedule snapshot from the network's time
// controls.
func (d *Driver) newState() *SimulationState {
	st := &SimulationState{
		FirstTimestep: true,
		LastTankHead:  make(map[string]float64),
		ValveStatus:   make(map[string]ValveStatus),
		LinkStatus:    make(map[string][]bool),
	}
	for _, name := range d.wn.NodeNames(TankNode) {
		n, _ := d.wn.GetNode(name)
		st.LastTankHead[name] = n.Tank.Elevation + n.Tank.InitLevel
	}
	for _, name := range d.wn.LinkNames(ValveLink) {
		st.ValveStatus[name] = ValveActive
	}
	for _, name := range d.wn.LinkNames(-1) {
		series := make([]bool, d.nTimesteps)
		for t := 0; t < d.nTimesteps; t++ {
			series[t] = d.wn.IsLinkOpen(name, float64(t)*d.cfg.HydraulicStepSec)
		}
		st.LinkStatus[name] = series
	}
	return st
}

// Run executes the whole horizon. It terminates with an error on the first
// timestep whose solve fails or whose valve states refuse to settle within
// maxStepRetries re-solves.
func (d *Driver) Run() error {
	st := d.newState()

	t := 0
	stepIter := 0
	var warm []float64

	for t < d.nTimesteps {
		st.FirstTimestep = t == 0

		// Required demands for this instant.
		current := make(map[string]float64, len(d.demands))
		for name, series := range d.demands {
			current[name] = series[t]
		}

		// Scheduled closures, then conditional overrides (additive).
		pipesClosed := []string{}
		for _, name := range d.wn.LinkNames(-1) {
			if !st.LinkStatus[name][t] {
				pipesClosed = append(pipesClosed, name)
			}
		}
		if !st.FirstTimestep {
			out := ApplyConditionalControls(d.wn, st.PumpsClosed, pipesClosed, func(tank string) float64 {
				n, _ := d.wn.GetNode(tank)
				return st.LastTankHead[tank] - n.Tank.Elevation
			})
			st.PumpsClosed = out.PumpsClosed
			pipesClosed = out.PipesClosed
			for _, link := range out.PermanentOpen {
				for tt := t; tt < d.nTimesteps; tt++ {
					st.LinkStatus[link][tt] = true
				}
				logrus.Infof("conditional control permanently opened %s from timestep %d", link, t)
			}
		}
		closed := make(map[string]bool)
		for _, name := range pipesClosed {
			closed[name] = true
		}
		for _, name := range st.PumpsClosed {
			closed[name] = true
		}

		logrus.Infof("[t %04d] solving hydraulic instant at %.0fs (%d closed links)", t, float64(t)*d.cfg.HydraulicStepSec, len(closed))

		is, err := d.builder.BuildInstant(st.LastTankHead, current, st.FirstTimestep, closed)
		if err != nil {
			return err
		}
		is.PinReservoirs()
		if st.FirstTimestep {
			is.PinInitialTankHeads()
		}
		is.FixClosedFlows(closed)
		is.ApplyValveConstraints(st.ValveStatus, closed)

		seed := warm
		if st.FirstTimestep {
			seed = nil
		}
		x, err := d.solver.Solve(is.Sys, seed)
		if err != nil {
			return fmt.Errorf("timestep %d: %w", t, err)
		}
		warm = x

		if d.wn.NumValves() > 0 {
			next, changed := EvaluateValves(d.wn, is, x, st.ValveStatus)
			st.ValveStatus = next
			if changed {
				stepIter++
				if stepIter >= maxStepRetries {
					return fmt.Errorf("simulation did not converge at timestep %d: valve states still changing after %d re-solves", t, stepIter)
				}
				logrus.Debugf("[t %04d] valve status changed, re-solving (retry %d)", t, stepIter)
				continue
			}
		}

		stepIter = 0
		for _, name := range d.wn.NodeNames(TankNode) {
			st.LastTankHead[name] = is.Head(x, name)
		}
		d.emit(is, x, t)
		t++
	}
	logrus.Infof("simulation finished: %d instants", d.nTimesteps)
	return nil
}

// emit records every entity's solved state for one instant.
func (d *Driver) emit(is *InstantSystem, x []float64, t int) {
	timeSec := float64(t) * d.cfg.HydraulicStepSec
	for _, name := range d.wn.LinkNames(-1) {
		l, _ := d.wn.GetLink(name)
		flow := is.Flow(x, name)
		velocity := 0.0
		if l.Kind == PipeLink {
			velocity = 4 * math.Abs(flow) / (math.Pi * l.Pipe.Diameter * l.Pipe.Diameter)
		}
		d.acc.RecordLink(results.LinkRecord{
			Link:     name,
			Kind:     l.Kind.String(),
			Timestep: t,
			TimeSec:  timeSec,
			Flow:     flow,
			Velocity: velocity,
		})
	}
	for _, name := range d.wn.NodeNames(-1) {
		n, _ := d.wn.GetNode(name)
		head := is.Head(x, name)
		pressure := 0.0
		demand := 0.0
		switch n.Kind {
		case JunctionNode:
			pressure = head - n.Junction.Elevation
			demand = x[is.DemandIdx[name]]
		case TankNode:
			pressure = head - n.Tank.Elevation
			demand = x[is.TankInflowIdx[name]]
		case ReservoirNode:
			demand = x[is.ReservoirOutIdx[name]]
		}
		d.acc.RecordNode(results.NodeRecord{
			Node:     name,
			Kind:     n.Kind.String(),
			Timestep: t,
			TimeSec:  timeSec,
			Head:     head,
			Pressure: pressure,
			Demand:   demand,
		})
	}
}
