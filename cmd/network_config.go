package cmd

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	sim "github.com/hydronet-sim/hydronet-sim/sim"
)

// NetworkConfig is the YAML description of a water network: nodes, links,
// demand patterns, and operational controls.
type NetworkConfig struct {
	Name       string            `yaml:"name"`
	Junctions  []JunctionConfig  `yaml:"junctions"`
	Tanks      []TankConfig      `yaml:"tanks"`
	Reservoirs []ReservoirConfig `yaml:"reservoirs"`
	Pipes      []PipeConfig      `yaml:"pipes"`
	Pumps      []PumpConfig      `yaml:"pumps"`
	Valves     []ValveConfig     `yaml:"valves"`

	Patterns            map[string][]float64       `yaml:"patterns"`
	TimeControls        []TimeControlConfig        `yaml:"time_controls"`
	ConditionalControls []ConditionalControlConfig `yaml:"conditional_controls"`
}

// JunctionConfig describes a demand node.
type JunctionConfig struct {
	Name       string  `yaml:"name"`
	Elevation  float64 `yaml:"elevation"`
	BaseDemand float64 `yaml:"base_demand"`
	Pattern    string  `yaml:"pattern"`
}

// TankConfig describes a storage node.
type TankConfig struct {
	Name      string  `yaml:"name"`
	Elevation float64 `yaml:"elevation"`
	Diameter  float64 `yaml:"diameter"`
	MinLevel  float64 `yaml:"min_level"`
	MaxLevel  float64 `yaml:"max_level"`
	InitLevel float64 `yaml:"init_level"`
}

// ReservoirConfig describes a fixed-head source.
type ReservoirConfig struct {
	Name     string  `yaml:"name"`
	BaseHead float64 `yaml:"base_head"`
}

// PipeConfig describes a friction link.
type PipeConfig struct {
	Name      string  `yaml:"name"`
	Start     string  `yaml:"start"`
	End       string  `yaml:"end"`
	Length    float64 `yaml:"length"`
	Diameter  float64 `yaml:"diameter"`
	Roughness float64 `yaml:"roughness"`
	Status    string  `yaml:"status"` // OPEN (default), CLOSED, or CV
}

// PumpConfig describes a pump link: either head-curve coefficients or a
// fixed power draw.
type PumpConfig struct {
	Name       string      `yaml:"name"`
	Start      string      `yaml:"start"`
	End        string      `yaml:"end"`
	Curve      *[3]float64 `yaml:"curve"` // A, B, C of H = A - B*Q^C
	Power      *float64    `yaml:"power"` // W
	DesignFlow float64     `yaml:"design_flow"`
	Status     string      `yaml:"status"`
}

// ValveConfig describes a pressure-regulating valve.
type ValveConfig struct {
	Name     string  `yaml:"name"`
	Start    string  `yaml:"start"`
	End      string  `yaml:"end"`
	Diameter float64 `yaml:"diameter"`
	Setting  float64 `yaml:"setting"` // downstream pressure target, m of head
}

// TimeControlConfig schedules a link status change.
type TimeControlConfig struct {
	Link    string  `yaml:"link"`
	TimeSec float64 `yaml:"time_sec"`
	Status  string  `yaml:"status"` // "open" or "closed"
}

// TriggerConfig pairs a tank and a level threshold.
type TriggerConfig struct {
	Tank  string  `yaml:"tank"`
	Level float64 `yaml:"level"`
}

// ConditionalControlConfig holds the tank-level rules for one link.
type ConditionalControlConfig struct {
	Link        string          `yaml:"link"`
	OpenBelow   []TriggerConfig `yaml:"open_below"`
	OpenAbove   []TriggerConfig `yaml:"open_above"`
	ClosedAbove []TriggerConfig `yaml:"closed_above"`
	ClosedBelow []TriggerConfig `yaml:"closed_below"`
}

// LoadNetworkConfig reads and parses a YAML network description.
func LoadNetworkConfig(path string) (*NetworkConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading network config: %w", err)
	}
	var cfg NetworkConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing network config: %w", err)
	}
	return &cfg, nil
}

// validStatuses maps accepted link status strings.
var validStatuses = map[string]bool{"": true, "OPEN": true, "CLOSED": true, "CV": true}

// Validate checks names, positive geometry, and status strings before any
// network object is built.
func (c *NetworkConfig) Validate() error {
	for _, j := range c.Junctions {
		if j.Name == "" {
			return fmt.Errorf("junction without a name")
		}
		if j.Pattern != "" {
			if _, ok := c.Patterns[j.Pattern]; !ok {
				return fmt.Errorf("junction %q references unknown pattern %q", j.Name, j.Pattern)
			}
		}
	}
	for _, t := range c.Tanks {
		if t.Diameter <= 0 {
			return fmt.Errorf("tank %q: diameter must be positive, got %g", t.Name, t.Diameter)
		}
		if t.MinLevel > t.MaxLevel {
			return fmt.Errorf("tank %q: min_level %g exceeds max_level %g", t.Name, t.MinLevel, t.MaxLevel)
		}
		if t.InitLevel < t.MinLevel || t.InitLevel > t.MaxLevel {
			return fmt.Errorf("tank %q: init_level %g outside [%g, %g]", t.Name, t.InitLevel, t.MinLevel, t.MaxLevel)
		}
	}
	for _, p := range c.Pipes {
		if p.Length <= 0 || p.Diameter <= 0 || p.Roughness <= 0 {
			return fmt.Errorf("pipe %q: length, diameter, and roughness must be positive", p.Name)
		}
		if !validStatuses[strings.ToUpper(p.Status)] {
			return fmt.Errorf("pipe %q: unknown status %q", p.Name, p.Status)
		}
	}
	for _, p := range c.Pumps {
		if (p.Curve == nil) == (p.Power == nil) {
			return fmt.Errorf("pump %q: exactly one of curve or power must be set", p.Name)
		}
		if !validStatuses[strings.ToUpper(p.Status)] {
			return fmt.Errorf("pump %q: unknown status %q", p.Name, p.Status)
		}
	}
	for _, v := range c.Valves {
		if v.Diameter <= 0 {
			return fmt.Errorf("valve %q: diameter must be positive, got %g", v.Name, v.Diameter)
		}
	}
	for _, tc := range c.TimeControls {
		s := strings.ToLower(tc.Status)
		if s != "open" && s != "closed" {
			return fmt.Errorf("time control for %q: status must be open or closed, got %q", tc.Link, tc.Status)
		}
	}
	return nil
}

// BuildNetwork assembles a sim.Network from a validated config.
func (c *NetworkConfig) BuildNetwork() (*sim.Network, error) {
	wn := sim.NewNetwork(c.Name)

	for _, j := range c.Junctions {
		err := wn.AddNode(&sim.Node{
			Name: j.Name, Kind: sim.JunctionNode,
			Junction: &sim.Junction{Elevation: j.Elevation, BaseDemand: j.BaseDemand, Pattern: j.Pattern},
		})
		if err != nil {
			return nil, err
		}
	}
	for _, t := range c.Tanks {
		err := wn.AddNode(&sim.Node{
			Name: t.Name, Kind: sim.TankNode,
			Tank: &sim.Tank{Elevation: t.Elevation, Diameter: t.Diameter, MinLevel: t.MinLevel, MaxLevel: t.MaxLevel, InitLevel: t.InitLevel},
		})
		if err != nil {
			return nil, err
		}
	}
	for _, r := range c.Reservoirs {
		err := wn.AddNode(&sim.Node{
			Name: r.Name, Kind: sim.ReservoirNode,
			Reservoir: &sim.Reservoir{BaseHead: r.BaseHead},
		})
		if err != nil {
			return nil, err
		}
	}

	for _, p := range c.Pipes {
		err := wn.AddLink(&sim.Link{
			Name: p.Name, Kind: sim.PipeLink, StartNode: p.Start, EndNode: p.End,
			BaseStatus: sim.LinkStatus(strings.ToUpper(p.Status)),
			Pipe:       &sim.Pipe{Roughness: p.Roughness, Diameter: p.Diameter, Length: p.Length},
		})
		if err != nil {
			return nil, err
		}
	}
	for _, p := range c.Pumps {
		pump := &sim.Pump{DesignFlow: p.DesignFlow}
		if p.Curve != nil {
			pump.InfoType = sim.PumpHeadCurve
			pump.A, pump.B, pump.C = p.Curve[0], p.Curve[1], p.Curve[2]
		} else {
			pump.InfoType = sim.PumpFixedPower
			pump.Power = *p.Power
		}
		err := wn.AddLink(&sim.Link{
			Name: p.Name, Kind: sim.PumpLink, StartNode: p.Start, EndNode: p.End,
			BaseStatus: sim.LinkStatus(strings.ToUpper(p.Status)),
			Pump:       pump,
		})
		if err != nil {
			return nil, err
		}
	}
	for _, v := range c.Valves {
		err := wn.AddLink(&sim.Link{
			Name: v.Name, Kind: sim.ValveLink, StartNode: v.Start, EndNode: v.End,
			Valve: &sim.Valve{Diameter: v.Diameter, Setting: v.Setting},
		})
		if err != nil {
			return nil, err
		}
	}

	for name, multipliers := range c.Patterns {
		wn.AddPattern(name, multipliers)
	}
	for _, tc := range c.TimeControls {
		change := sim.StatusChange{TimeSec: tc.TimeSec, Open: strings.EqualFold(tc.Status, "open")}
		if err := wn.AddTimeControl(tc.Link, change); err != nil {
			return nil, err
		}
	}
	for _, cc := range c.ConditionalControls {
		rule := &sim.ConditionalRule{
			OpenBelow:   triggers(cc.OpenBelow),
			OpenAbove:   triggers(cc.OpenAbove),
			ClosedAbove: triggers(cc.ClosedAbove),
			ClosedBelow: triggers(cc.ClosedBelow),
		}
		if err := wn.AddConditionalControl(cc.Link, rule); err != nil {
			return nil, err
		}
	}
	if err := wn.VerifyConditionalControls(); err != nil {
		return nil, err
	}
	return wn, nil
}

func triggers(cfgs []TriggerConfig) []sim.ConditionalTrigger {
	out := make([]sim.ConditionalTrigger, len(cfgs))
	for i, c := range cfgs {
		out[i] = sim.ConditionalTrigger{Node: c.Tank, Level: c.Level}
	}
	return out
}
