package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sim "github.com/hydronet-sim/hydronet-sim/sim"
)

const sampleNetworkYAML = `
name: demo
reservoirs:
  - name: R1
    base_head: 100
junctions:
  - name: J1
    elevation: 5
    base_demand: 0.01
    pattern: diurnal
tanks:
  - name: T1
    elevation: 90
    diameter: 5
    min_level: 0
    max_level: 8
    init_level: 2
pipes:
  - name: P1
    start: R1
    end: J1
    length: 1000
    diameter: 0.3
    roughness: 130
  - name: P2
    start: J1
    end: T1
    length: 500
    diameter: 0.25
    roughness: 120
    status: CLOSED
pumps:
  - name: PU1
    start: R1
    end: J1
    curve: [30, 20, 2]
    design_flow: 0.02
valves:
  - name: V1
    start: J1
    end: T1
    diameter: 0.2
    setting: 20
patterns:
  diurnal: [1.0, 1.5, 0.5]
time_controls:
  - link: P1
    time_sec: 3600
    status: closed
conditional_controls:
  - link: P2
    open_below:
      - tank: T1
        level: 1.0
`

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "network.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadNetworkConfig_ParsesAllSections(t *testing.T) {
	cfg, err := LoadNetworkConfig(writeTempConfig(t, sampleNetworkYAML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "demo", cfg.Name)
	require.Len(t, cfg.Pipes, 2)
	assert.Equal(t, "CLOSED", cfg.Pipes[1].Status)
	require.Len(t, cfg.Pumps, 1)
	require.NotNil(t, cfg.Pumps[0].Curve)
	assert.Equal(t, [3]float64{30, 20, 2}, *cfg.Pumps[0].Curve)
	assert.Len(t, cfg.Patterns["diurnal"], 3)
	require.Len(t, cfg.ConditionalControls, 1)
	assert.Equal(t, "P2", cfg.ConditionalControls[0].Link)
}

func TestLoadNetworkConfig_MissingFile(t *testing.T) {
	_, err := LoadNetworkConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "reading network config")
}

func TestNetworkConfig_BuildNetwork_WiresEverything(t *testing.T) {
	cfg, err := LoadNetworkConfig(writeTempConfig(t, sampleNetworkYAML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	wn, err := cfg.BuildNetwork()
	require.NoError(t, err)

	assert.Equal(t, []string{"J1", "R1", "T1"}, wn.NodeNames(-1))
	assert.Equal(t, []string{"P1", "P2", "PU1", "V1"}, wn.LinkNames(-1))
	assert.Equal(t, 1, wn.NumValves())

	// Base statuses and the schedule survive the translation.
	p2, err := wn.GetLink("P2")
	require.NoError(t, err)
	assert.Equal(t, sim.StatusClosed, p2.BaseStatus)
	assert.True(t, wn.IsLinkOpen("P1", 0))
	assert.False(t, wn.IsLinkOpen("P1", 3600))

	pump, err := wn.GetLink("PU1")
	require.NoError(t, err)
	assert.Equal(t, sim.PumpHeadCurve, pump.Pump.InfoType)
	assert.Equal(t, 30.0, pump.Pump.A)

	series, err := wn.DemandSeries("J1", 4)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.01, 0.015, 0.005, 0.01}, series, 1e-12)
}

func TestNetworkConfig_Validate_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*NetworkConfig)
		wantErr string
	}{
		{"unnamed junction", func(c *NetworkConfig) { c.Junctions[0].Name = "" }, "junction without a name"},
		{"unknown pattern", func(c *NetworkConfig) { c.Junctions[0].Pattern = "ghost" }, "unknown pattern"},
		{"inverted tank levels", func(c *NetworkConfig) { c.Tanks[0].MinLevel = 9 }, "exceeds max_level"},
		{"init level outside range", func(c *NetworkConfig) { c.Tanks[0].InitLevel = 99 }, "outside"},
		{"nonpositive pipe", func(c *NetworkConfig) { c.Pipes[0].Length = 0 }, "must be positive"},
		{"bad pipe status", func(c *NetworkConfig) { c.Pipes[0].Status = "STUCK" }, "unknown status"},
		{"pump with both characterizations", func(c *NetworkConfig) {
			p := 700.0
			c.Pumps[0].Power = &p
		}, "exactly one of curve or power"},
		{"pump with neither characterization", func(c *NetworkConfig) { c.Pumps[0].Curve = nil }, "exactly one of curve or power"},
		{"nonpositive valve diameter", func(c *NetworkConfig) { c.Valves[0].Diameter = 0 }, "diameter must be positive"},
		{"bad time control status", func(c *NetworkConfig) { c.TimeControls[0].Status = "maybe" }, "must be open or closed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadNetworkConfig(writeTempConfig(t, sampleNetworkYAML))
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}
}

func TestNetworkConfig_BuildNetwork_RejectsStructuralErrors(t *testing.T) {
	cfg, err := LoadNetworkConfig(writeTempConfig(t, sampleNetworkYAML))
	require.NoError(t, err)

	cfg.Pipes[0].End = "nowhere"
	_, err = cfg.BuildNetwork()
	assert.ErrorContains(t, err, "unknown end node")
}
