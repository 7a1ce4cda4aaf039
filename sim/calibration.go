package sim

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/hydronet-sim/hydronet-sim/sim/nls"
	"github.com/hydronet-sim/hydronet-sim/sim/results"
)

// Measurement is one field observation to fit during calibration.
type Measurement struct {
	Entity   string // "node" or "link"
	Name     string
	Timestep int
	Field    string // "head", "pressure", "demand", "flowrate"
	Value    float64
}

// CalibrationWeights scales each measurement family's contribution to the
// fit objective.
type CalibrationWeights struct {
	TankLevel float64
	Pressure  float64
	Flowrate  float64
	Demand    float64
}

// DefaultCalibrationWeights weighs every family equally.
func DefaultCalibrationWeights() CalibrationWeights {
	return CalibrationWeights{TankLevel: 1, Pressure: 1, Flowrate: 1, Demand: 1}
}

// LeastSquaresSolver is the collaborator for objective-bearing systems: it
// minimizes the squared norm of the objective terms subject to the system's
// equations.
type LeastSquaresSolver interface {
	Minimize(sys *nls.System, objective []nls.Equation, warm []float64) ([]float64, error)
}

// RunCalibration fits the full-horizon formulation to field measurements:
// junctions with demand measurements have their actual demand decoupled
// from the required schedule, and the weighted squared misfit over all
// usable measurements is minimized. Measurements referencing unknown
// entities or instants outside the horizon are skipped with a warning,
// matching the permissive behavior of field datasets. Solved records go to
// acc when non-nil.
func RunCalibration(wn *Network, cfg DriverConfig, measurements []Measurement, weights CalibrationWeights, solver LeastSquaresSolver, acc results.Accumulator) error {
	nInstants := int(math.Round(cfg.DurationSec/cfg.HydraulicStepSec)) + 1
	b := NewBuilder(wn, cfg.HydraulicStepSec, cfg.Build)
	demands, err := expandDemands(wn, nInstants)
	if err != nil {
		return err
	}

	// Junctions with demand measurements calibrate their actual demand.
	decoupled := make(map[string]bool)
	for _, m := range measurements {
		if m.Entity != "node" || m.Field != "demand" {
			continue
		}
		if n, err := wn.GetNode(m.Name); err == nil && n.Kind == JunctionNode {
			decoupled[m.Name] = true
		}
	}

	hs, err := b.BuildHorizon(nInstants, demands, decoupled)
	if err != nil {
		return err
	}

	objective := make([]nls.Equation, 0, len(measurements))
	for _, m := range measurements {
		term, ok := measurementTerm(wn, hs, m, weights)
		if !ok {
			logrus.Warnf("ignoring measurement %s %s field %s at timestep %d: outside the model", m.Entity, m.Name, m.Field, m.Timestep)
			continue
		}
		objective = append(objective, term)
	}
	if len(objective) == 0 {
		return fmt.Errorf("no usable measurements")
	}

	x, err := solver.Minimize(hs.Sys, objective, nil)
	if err != nil {
		return fmt.Errorf("calibration solve: %w", err)
	}
	hs.emit(x, cfg.HydraulicStepSec, acc)
	return nil
}

// measurementTerm maps one measurement onto a weighted objective residual.
func measurementTerm(wn *Network, hs *HorizonSystem, m Measurement, weights CalibrationWeights) (nls.Equation, bool) {
	if m.Timestep < 0 || m.Timestep >= hs.N {
		return nls.Equation{}, false
	}
	name := fmt.Sprintf("fit[%s %s %s,%d]", m.Entity, m.Name, m.Field, m.Timestep)

	residual := func(idx int, target, weight float64) (nls.Equation, bool) {
		w := math.Sqrt(weight)
		return nls.Equation{
			Name: name,
			Vars: []int{idx},
			Residual: func(x []float64) float64 {
				return w * (target - x[idx])
			},
		}, true
	}

	switch m.Entity {
	case "link":
		if _, err := wn.GetLink(m.Name); err != nil || m.Field != "flowrate" {
			return nls.Equation{}, false
		}
		return residual(hs.FlowIdx[m.Name][m.Timestep], m.Value, weights.Flowrate)
	case "node":
		n, err := wn.GetNode(m.Name)
		if err != nil {
			return nls.Equation{}, false
		}
		switch {
		case n.Kind == JunctionNode && m.Field == "pressure":
			// Pressure measurements compare against head via the
			// junction's elevation.
			return residual(hs.HeadIdx[m.Name][m.Timestep], m.Value+n.Junction.Elevation, weights.Pressure)
		case n.Kind == JunctionNode && m.Field == "demand":
			return residual(hs.DemandIdx[m.Name][m.Timestep], m.Value, weights.Demand)
		case n.Kind == TankNode && m.Field == "head":
			return residual(hs.HeadIdx[m.Name][m.Timestep], m.Value, weights.TankLevel)
		case n.Kind == ReservoirNode && m.Field == "demand":
			return residual(hs.ReservoirOutIdx[m.Name][m.Timestep], m.Value, weights.Demand)
		}
	}
	return nls.Equation{}, false
}
