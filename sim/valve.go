package sim

import "github.com/sirupsen/logrus"

// ValveStatus is a PRV's operating state.
type ValveStatus string

const (
	// ValveOpen passes flow subject to the open-valve resistance law.
	ValveOpen ValveStatus = "OPEN"
	// ValveActive regulates the downstream head to the pressure setting.
	ValveActive ValveStatus = "ACTIVE"
	// ValveClosed blocks flow entirely.
	ValveClosed ValveStatus = "CLOSED"
)

// ValveDecision is the state machine's verdict for one valve.
type ValveDecision struct {
	Status  ValveStatus
	Changed bool
}

// NextValveStatus applies the PRV hysteresis table to one valve given the
// latest solved flow and heads. target is the pressure setting converted to
// a head target at the upstream node. Absent a matching transition the
// status stays put.
func NextValveStatus(status ValveStatus, flow, upstreamHead, downstreamHead, target float64) ValveDecision {
	next := status
	switch status {
	case ValveActive:
		if flow < -Qtol {
			next = ValveClosed
		} else if upstreamHead < target-Htol {
			next = ValveOpen
		}
	case ValveOpen:
		if flow < -Qtol {
			next = ValveClosed
		} else if upstreamHead > target+Htol {
			next = ValveActive
		}
	case ValveClosed:
		if upstreamHead > downstreamHead+Htol && upstreamHead < target-Htol {
			next = ValveOpen
		} else if upstreamHead > downstreamHead+Htol && downstreamHead < target-Htol {
			next = ValveActive
		}
	}
	return ValveDecision{Status: next, Changed: next != status}
}

// EvaluateValves runs the state machine over every PRV against a solved
// instant and returns the proposed status map plus whether anything changed.
// The caller owns the status map; this function does not mutate it.
func EvaluateValves(wn *Network, is *InstantSystem, x []float64, status map[string]ValveStatus) (map[string]ValveStatus, bool) {
	next := make(map[string]ValveStatus, len(status))
	changed := false
	for _, name := range wn.LinkNames(ValveLink) {
		l, _ := wn.GetLink(name)
		start, _ := wn.GetNode(l.StartNode)
		target := l.Valve.Setting + start.Elevation()
		d := NextValveStatus(status[name],
			is.Flow(x, name), is.Head(x, l.StartNode), is.Head(x, l.EndNode), target)
		next[name] = d.Status
		if d.Changed {
			logrus.Debugf("valve %s: %s -> %s", name, status[name], d.Status)
			changed = true
		}
	}
	return next, changed
}
