package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydronet-sim/hydronet-sim/sim/nls"
)

// onePipeNetwork is a reservoir at 100 m feeding one junction through a
// single reference pipe (K ~ 457.18).
func onePipeNetwork(t *testing.T) *Network {
	t.Helper()
	wn := NewNetwork("one-pipe")
	require.NoError(t, wn.AddNode(reservoirNode("R1", 100)))
	require.NoError(t, wn.AddNode(junctionNode("J1", 0, 0.01, "")))
	require.NoError(t, wn.AddLink(pipeLink("P1", "R1", "J1", 1000, 0.3, 130)))
	return wn
}

func TestBuildInstant_CheckValve_Rejected(t *testing.T) {
	wn := onePipeNetwork(t)
	l := pipeLink("P2", "R1", "J1", 500, 0.3, 130)
	l.Name = "CVPIPE"
	l.BaseStatus = StatusCheckValve
	require.NoError(t, wn.AddLink(l))

	b := NewBuilder(wn, 3600, DefaultBuildConfig())
	_, err := b.BuildInstant(nil, map[string]float64{"J1": 0.01}, true, nil)
	assert.ErrorContains(t, err, "check valves are not supported")
}

func TestBuildInstant_UnknownPumpCharacterization_Rejected(t *testing.T) {
	wn := onePipeNetwork(t)
	require.NoError(t, wn.AddLink(&Link{
		Name: "PU1", Kind: PumpLink, StartNode: "R1", EndNode: "J1",
		Pump: &Pump{InfoType: "BOGUS"},
	}))

	b := NewBuilder(wn, 3600, DefaultBuildConfig())
	_, err := b.BuildInstant(nil, map[string]float64{"J1": 0.01}, true, nil)
	assert.ErrorContains(t, err, "not recognized")
}

func TestBuildInstant_CorruptedIncidence_Rejected(t *testing.T) {
	// GIVEN a network whose incidence list names a link that does not touch
	// the node
	wn := onePipeNetwork(t)
	require.NoError(t, wn.AddNode(junctionNode("J2", 0, 0, "")))
	require.NoError(t, wn.AddLink(pipeLink("P2", "R1", "J2", 500, 0.3, 130)))
	wn.incident["J1"] = append(wn.incident["J1"], "P2")

	// THEN assembly fails instead of writing a wrong balance
	b := NewBuilder(wn, 3600, DefaultBuildConfig())
	_, err := b.BuildInstant(nil, map[string]float64{"J1": 0.01, "J2": 0}, true, nil)
	assert.ErrorContains(t, err, "incident link")
}

func TestBuildInstant_PinnedSystem_IsSquare(t *testing.T) {
	wn := onePipeNetwork(t)
	require.NoError(t, wn.AddNode(tankNode("T1", 50, 5, 0, 8, 2)))
	require.NoError(t, wn.AddLink(pipeLink("P2", "J1", "T1", 500, 0.3, 130)))

	b := NewBuilder(wn, 3600, DefaultBuildConfig())

	// First instant: tank heads pinned, no dynamics equation.
	is, err := b.BuildInstant(nil, map[string]float64{"J1": 0.01}, true, nil)
	require.NoError(t, err)
	is.PinReservoirs()
	is.PinInitialTankHeads()
	assert.Equal(t, is.Sys.NumEquations(), is.Sys.NumFree())

	// Later instant: tank head free, dynamics equation added.
	is, err = b.BuildInstant(map[string]float64{"T1": 52}, map[string]float64{"J1": 0.01}, false, nil)
	require.NoError(t, err)
	is.PinReservoirs()
	assert.Equal(t, is.Sys.NumEquations(), is.Sys.NumFree())
}

func TestBuildInstant_ValveStatuses_KeepSystemSquare(t *testing.T) {
	wn := NewNetwork("valved")
	require.NoError(t, wn.AddNode(reservoirNode("R1", 100)))
	require.NoError(t, wn.AddNode(junctionNode("J1", 0, 0, "")))
	require.NoError(t, wn.AddNode(junctionNode("J2", 0, 0.01, "")))
	require.NoError(t, wn.AddLink(pipeLink("P1", "R1", "J1", 1000, 0.3, 130)))
	require.NoError(t, wn.AddLink(&Link{
		Name: "V1", Kind: ValveLink, StartNode: "J1", EndNode: "J2",
		Valve: &Valve{Diameter: 0.2, Setting: 20},
	}))

	b := NewBuilder(wn, 3600, DefaultBuildConfig())
	demands := map[string]float64{"J1": 0, "J2": 0.01}

	for _, status := range []ValveStatus{ValveOpen, ValveActive, ValveClosed} {
		is, err := b.BuildInstant(nil, demands, true, nil)
		require.NoError(t, err)
		is.PinReservoirs()
		is.ApplyValveConstraints(map[string]ValveStatus{"V1": status}, nil)
		assert.Equal(t, is.Sys.NumEquations(), is.Sys.NumFree(), "status %s", status)
	}
}

func TestBuildInstant_ScheduleClosedValve_StaysSquare(t *testing.T) {
	wn := NewNetwork("valved")
	require.NoError(t, wn.AddNode(reservoirNode("R1", 100)))
	require.NoError(t, wn.AddNode(junctionNode("J1", 0, 0, "")))
	require.NoError(t, wn.AddNode(junctionNode("J2", 0, 0.01, "")))
	require.NoError(t, wn.AddLink(pipeLink("P1", "R1", "J1", 1000, 0.3, 130)))
	require.NoError(t, wn.AddLink(&Link{
		Name: "V1", Kind: ValveLink, StartNode: "J1", EndNode: "J2",
		Valve: &Valve{Diameter: 0.2, Setting: 20},
	}))

	b := NewBuilder(wn, 3600, DefaultBuildConfig())
	demands := map[string]float64{"J1": 0, "J2": 0.01}
	closed := map[string]bool{"V1": true}

	// The flow pin from FixClosedFlows must stand alone: layering the
	// status relation on top would drop an unknown without dropping an
	// equation.
	for _, status := range []ValveStatus{ValveOpen, ValveActive, ValveClosed} {
		is, err := b.BuildInstant(nil, demands, true, nil)
		require.NoError(t, err)
		is.PinReservoirs()
		is.FixClosedFlows(closed)
		is.ApplyValveConstraints(map[string]ValveStatus{"V1": status}, closed)
		assert.Equal(t, is.Sys.NumEquations(), is.Sys.NumFree(), "status %s", status)
	}
}

func TestBuildInstant_SolvedSteadyState_MatchesHandComputation(t *testing.T) {
	// GIVEN the reference one-pipe network with a 0.01 m^3/s demand
	wn := onePipeNetwork(t)
	b := NewBuilder(wn, 3600, DefaultBuildConfig())
	is, err := b.BuildInstant(nil, map[string]float64{"J1": 0.01}, true, nil)
	require.NoError(t, err)
	is.PinReservoirs()

	// WHEN the instant is solved
	x, err := nls.NewNewton(nls.DefaultOptions()).Solve(is.Sys, nil)
	require.NoError(t, err)

	// THEN flow equals demand and the junction head sits one friction loss
	// below the reservoir
	assert.InDelta(t, 0.01, is.Flow(x, "P1"), 1e-7)
	assert.InDelta(t, 100.0, is.Head(x, "R1"), 1e-12)
	assert.InDelta(t, 99.90961763540479, is.Head(x, "J1"), 1e-6)
}

func TestBuildInstant_UnmodifiedLossLaw_SameSteadyState(t *testing.T) {
	wn := onePipeNetwork(t)
	cfg := BuildConfig{ModifiedHazenWilliams: false}
	b := NewBuilder(wn, 3600, cfg)
	is, err := b.BuildInstant(nil, map[string]float64{"J1": 0.01}, true, nil)
	require.NoError(t, err)
	is.PinReservoirs()

	x, err := nls.NewNewton(nls.DefaultOptions()).Solve(is.Sys, nil)
	require.NoError(t, err)
	// 0.01 m^3/s is above the smoothing band, so both laws agree.
	assert.InDelta(t, 0.01, is.Flow(x, "P1"), 1e-7)
	assert.InDelta(t, 99.90961763540479, is.Head(x, "J1"), 1e-6)
}

func TestFixClosedFlows_PinsAndReleases(t *testing.T) {
	wn := onePipeNetwork(t)
	b := NewBuilder(wn, 3600, DefaultBuildConfig())
	is, err := b.BuildInstant(nil, map[string]float64{"J1": 0}, true, map[string]bool{"P1": true})
	require.NoError(t, err)

	is.FixClosedFlows(map[string]bool{"P1": true})
	assert.True(t, is.Sys.Var(is.FlowIdx["P1"]).Fixed)
	assert.Equal(t, 0.0, is.Sys.Var(is.FlowIdx["P1"]).Init)

	is.FixClosedFlows(nil)
	assert.False(t, is.Sys.Var(is.FlowIdx["P1"]).Fixed)
}
