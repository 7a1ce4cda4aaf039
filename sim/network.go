package sim

import (
	"fmt"
	"sort"
)

// NodeKind discriminates the node variants.
type NodeKind int

const (
	JunctionNode NodeKind = iota
	TankNode
	ReservoirNode
)

// String returns the lowercase variant tag used in result records.
func (k NodeKind) String() string {
	switch k {
	case JunctionNode:
		return "junction"
	case TankNode:
		return "tank"
	case ReservoirNode:
		return "reservoir"
	}
	return "unknown"
}

// LinkKind discriminates the link variants.
type LinkKind int

const (
	PipeLink LinkKind = iota
	PumpLink
	ValveLink
)

func (k LinkKind) String() string {
	switch k {
	case PipeLink:
		return "pipe"
	case PumpLink:
		return "pump"
	case ValveLink:
		return "valve"
	}
	return "unknown"
}

// PumpInfoType selects how a pump is characterized.
type PumpInfoType string

const (
	PumpHeadCurve  PumpInfoType = "HEAD"
	PumpFixedPower PumpInfoType = "POWER"
)

// Junction is a demand-consuming node with fixed elevation.
type Junction struct {
	Elevation  float64
	BaseDemand float64
	Pattern    string // name of a demand multiplier pattern, empty = constant
}

// Tank is a storage node. Head is bounded by elevation+min/max level and
// evolves with net inflow.
type Tank struct {
	Elevation float64
	Diameter  float64
	MinLevel  float64
	MaxLevel  float64
	InitLevel float64
}

// Reservoir is an infinite-capacity source or sink with fixed head.
type Reservoir struct {
	BaseHead float64
}

// Node is a tagged union: exactly one of the variant pointers is non-nil,
// matching Kind.
type Node struct {
	Name      string
	Kind      NodeKind
	Junction  *Junction
	Tank      *Tank
	Reservoir *Reservoir
}

// Elevation returns the node's elevation; reservoirs report their base head
// since pressure is not defined for them.
func (n *Node) Elevation() float64 {
	switch n.Kind {
	case JunctionNode:
		return n.Junction.Elevation
	case TankNode:
		return n.Tank.Elevation
	case ReservoirNode:
		return n.Reservoir.BaseHead
	}
	return 0
}

// Pipe is a passive link obeying the Hazen-Williams friction law.
type Pipe struct {
	Roughness float64 // Hazen-Williams C factor
	Diameter  float64 // m
	Length    float64 // m
}

// Pump adds head, characterized either by a head curve H = A - B*Q^C or
// by a fixed power draw.
type Pump struct {
	InfoType   PumpInfoType
	A, B, C    float64 // head curve coefficients (HEAD type)
	Power      float64 // W, consumed positive (POWER type)
	DesignFlow float64 // m^3/s, seed value for the solver
}

// Valve is a pressure-regulating valve (PRV).
type Valve struct {
	Diameter float64
	Setting  float64 // downstream pressure setting, m of head
}

// LinkStatus is a link's declared base operating status.
type LinkStatus string

const (
	StatusOpen       LinkStatus = "OPEN"
	StatusClosed     LinkStatus = "CLOSED"
	StatusCheckValve LinkStatus = "CV"
)

// Link is a tagged union over {Pipe, Pump, Valve}.
type Link struct {
	Name       string
	Kind       LinkKind
	StartNode  string
	EndNode    string
	BaseStatus LinkStatus
	Pipe       *Pipe
	Pump       *Pump
	Valve      *Valve
}

// StatusChange is one scheduled status flip for a link.
type StatusChange struct {
	TimeSec float64
	Open    bool
}

// ConditionalTrigger pairs a tank with a level threshold.
type ConditionalTrigger struct {
	Node  string
	Level float64
}

// ConditionalRule holds the four trigger categories for one controllable link.
type ConditionalRule struct {
	OpenBelow   []ConditionalTrigger
	OpenAbove   []ConditionalTrigger
	ClosedAbove []ConditionalTrigger
	ClosedBelow []ConditionalTrigger
}

// Network is the topology and schedule store. It is built once and only
// queried afterwards; no simulation component mutates it.
type Network struct {
	Name string

	nodes map[string]*Node
	links map[string]*Link

	// incident holds, per node, the names of links touching it.
	incident map[string][]string

	// patterns maps pattern name to per-timestep demand multipliers,
	// applied cyclically.
	patterns map[string][]float64

	// timeControls holds scheduled status changes per link, sorted by time.
	timeControls map[string][]StatusChange

	// conditionalControls holds tank-level rules keyed by link name.
	conditionalControls map[string]*ConditionalRule
}

// NewNetwork creates an empty network.
func NewNetwork(name string) *Network {
	return &Network{
		Name:                name,
		nodes:               make(map[string]*Node),
		links:               make(map[string]*Link),
		incident:            make(map[string][]string),
		patterns:            make(map[string][]float64),
		timeControls:        make(map[string][]StatusChange),
		conditionalControls: make(map[string]*ConditionalRule),
	}
}

// AddNode registers a node. Duplicate names are rejected.
func (wn *Network) AddNode(n *Node) error {
	if _, ok := wn.nodes[n.Name]; ok {
		return fmt.Errorf("duplicate node %q", n.Name)
	}
	wn.nodes[n.Name] = n
	return nil
}

// AddLink registers a link. Both endpoints must already exist.
func (wn *Network) AddLink(l *Link) error {
	if _, ok := wn.links[l.Name]; ok {
		return fmt.Errorf("duplicate link %q", l.Name)
	}
	if _, ok := wn.nodes[l.StartNode]; !ok {
		return fmt.Errorf("link %q: unknown start node %q", l.Name, l.StartNode)
	}
	if _, ok := wn.nodes[l.EndNode]; !ok {
		return fmt.Errorf("link %q: unknown end node %q", l.Name, l.EndNode)
	}
	if l.StartNode == l.EndNode {
		return fmt.Errorf("link %q connects node %q to itself", l.Name, l.StartNode)
	}
	if l.BaseStatus == "" {
		l.BaseStatus = StatusOpen
	}
	wn.links[l.Name] = l
	wn.incident[l.StartNode] = append(wn.incident[l.StartNode], l.Name)
	wn.incident[l.EndNode] = append(wn.incident[l.EndNode], l.Name)
	return nil
}

// AddPattern registers a demand multiplier pattern.
func (wn *Network) AddPattern(name string, multipliers []float64) {
	wn.patterns[name] = multipliers
}

// AddTimeControl appends a scheduled status change for a link.
func (wn *Network) AddTimeControl(link string, change StatusChange) error {
	if _, ok := wn.links[link]; !ok {
		return fmt.Errorf("time control references unknown link %q", link)
	}
	changes := append(wn.timeControls[link], change)
	sort.SliceStable(changes, func(i, j int) bool { return changes[i].TimeSec < changes[j].TimeSec })
	wn.timeControls[link] = changes
	return nil
}

// AddConditionalControl registers the tank-level rule set for a link.
func (wn *Network) AddConditionalControl(link string, rule *ConditionalRule) error {
	if _, ok := wn.links[link]; !ok {
		return fmt.Errorf("conditional control references unknown link %q", link)
	}
	wn.conditionalControls[link] = rule
	return nil
}

// GetNode fetches a node by name.
func (wn *Network) GetNode(name string) (*Node, error) {
	n, ok := wn.nodes[name]
	if !ok {
		return nil, fmt.Errorf("unknown node %q", name)
	}
	return n, nil
}

// GetLink fetches a link by name.
func (wn *Network) GetLink(name string) (*Link, error) {
	l, ok := wn.links[name]
	if !ok {
		return nil, fmt.Errorf("unknown link %q", name)
	}
	return l, nil
}

// NodeNames lists node names in deterministic order, optionally filtered
// by kind. Pass a negative kind for all nodes.
func (wn *Network) NodeNames(kind NodeKind) []string {
	names := make([]string, 0, len(wn.nodes))
	for name, n := range wn.nodes {
		if kind < 0 || n.Kind == kind {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// LinkNames lists link names in deterministic order, optionally filtered
// by kind. Pass a negative kind for all links.
func (wn *Network) LinkNames(kind LinkKind) []string {
	names := make([]string, 0, len(wn.links))
	for name, l := range wn.links {
		if kind < 0 || l.Kind == kind {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// LinksForNode returns the names of links incident to the node, in
// insertion order.
func (wn *Network) LinksForNode(node string) []string {
	return wn.incident[node]
}

// NumValves reports how many PRVs the network contains.
func (wn *Network) NumValves() int {
	count := 0
	for _, l := range wn.links {
		if l.Kind == ValveLink {
			count++
		}
	}
	return count
}

// ConditionalControls returns the rule map keyed by link name.
func (wn *Network) ConditionalControls() map[string]*ConditionalRule {
	return wn.conditionalControls
}

// IsLinkOpen reports whether a link is scheduled open at the given elapsed
// time: the base status, with every time control at or before elapsedSec
// applied in order. A CV base status counts as open here; the builder
// rejects it separately.
func (wn *Network) IsLinkOpen(link string, elapsedSec float64) bool {
	l := wn.links[link]
	open := l.BaseStatus != StatusClosed
	for _, c := range wn.timeControls[link] {
		if c.TimeSec > elapsedSec {
			break
		}
		open = c.Open
	}
	return open
}

// DemandSeries expands a junction's base demand and pattern into one value
// per timestep. Patterns repeat cyclically.
func (wn *Network) DemandSeries(junction string, nTimesteps int) ([]float64, error) {
	n, err := wn.GetNode(junction)
	if err != nil {
		return nil, err
	}
	if n.Kind != JunctionNode {
		return nil, fmt.Errorf("node %q is a %s, not a junction", junction, n.Kind)
	}
	series := make([]float64, nTimesteps)
	pattern := wn.patterns[n.Junction.Pattern]
	for t := 0; t < nTimesteps; t++ {
		mult := 1.0
		if len(pattern) > 0 {
			mult = pattern[t%len(pattern)]
		}
		series[t] = n.Junction.BaseDemand * mult
	}
	return series, nil
}

// VerifyConditionalControls checks that every conditional trigger references
// an existing tank. Rules keyed on other node kinds cannot be evaluated.
func (wn *Network) VerifyConditionalControls() error {
	for link, rule := range wn.conditionalControls {
		for _, triggers := range [][]ConditionalTrigger{rule.OpenBelow, rule.OpenAbove, rule.ClosedAbove, rule.ClosedBelow} {
			for _, trig := range triggers {
				n, err := wn.GetNode(trig.Node)
				if err != nil {
					return fmt.Errorf("conditional control for link %q: %w", link, err)
				}
				if n.Kind != TankNode {
					return fmt.Errorf("conditional control for link %q references %s %q; only tank triggers are supported",
						link, n.Kind, trig.Node)
				}
			}
		}
	}
	return nil
}
