package sim

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// ControlOutcome is the conditional-control engine's proposal for one
// instant: the updated closed sets plus links whose schedule should be
// forced open for every remaining timestep. The driver applies it; the
// engine mutates nothing.
type ControlOutcome struct {
	PumpsClosed []string
	PipesClosed []string

	// PermanentOpen lists links whose base status is CLOSED but which a
	// trigger re-opened; their status schedule is overridden to open from
	// the current timestep onward.
	PermanentOpen []string
}

// ApplyConditionalControls evaluates every conditional rule against the
// current solved tank levels. Categories are evaluated in a fixed order per
// rule — open_below, closed_above, open_above, closed_below — and are not
// re-run to a fixed point within one call. tankLevel returns a tank's level
// (head minus elevation) from the latest solve.
func ApplyConditionalControls(wn *Network, pumpsClosed, pipesClosed []string, tankLevel func(tank string) float64) ControlOutcome {
	out := ControlOutcome{
		PumpsClosed: append([]string(nil), pumpsClosed...),
		PipesClosed: append([]string(nil), pipesClosed...),
	}

	for _, link := range sortedRuleLinks(wn) {
		rule := wn.ConditionalControls()[link]

		// Closed link, tank fell to or below threshold: open it.
		for _, trig := range rule.OpenBelow {
			if out.isClosed(link) && tankLevel(trig.Node) <= trig.Level {
				out.reopen(wn, link)
			}
		}
		// Open link, tank rose to or above threshold: close it.
		for _, trig := range rule.ClosedAbove {
			if !out.isClosed(link) && tankLevel(trig.Node) >= trig.Level {
				out.PumpsClosed = append(out.PumpsClosed, link)
				logrus.Debugf("conditional control closed %s (tank %s above %g)", link, trig.Node, trig.Level)
			}
		}
		// Closed link, tank rose to or above threshold: open it.
		for _, trig := range rule.OpenAbove {
			if out.isClosed(link) && tankLevel(trig.Node) >= trig.Level {
				out.reopen(wn, link)
			}
		}
		// Open link, tank fell to or below threshold: close it.
		for _, trig := range rule.ClosedBelow {
			if !out.isClosed(link) && tankLevel(trig.Node) <= trig.Level {
				out.PumpsClosed = append(out.PumpsClosed, link)
				logrus.Debugf("conditional control closed %s (tank %s below %g)", link, trig.Node, trig.Level)
			}
		}
	}
	return out
}

func (out *ControlOutcome) isClosed(link string) bool {
	return contains(out.PumpsClosed, link) || contains(out.PipesClosed, link)
}

// reopen removes a link from both closed sets, and if the link's base status
// is CLOSED the reopening is proposed as permanent so the schedule stops
// re-closing it.
func (out *ControlOutcome) reopen(wn *Network, link string) {
	out.PumpsClosed = remove(out.PumpsClosed, link)
	logrus.Debugf("conditional control opened %s", link)
	if contains(out.PipesClosed, link) {
		out.PipesClosed = remove(out.PipesClosed, link)
		l, _ := wn.GetLink(link)
		if l.BaseStatus == StatusClosed {
			out.PermanentOpen = append(out.PermanentOpen, link)
		}
	}
}

func sortedRuleLinks(wn *Network) []string {
	names := make([]string, 0, len(wn.ConditionalControls()))
	for _, name := range wn.LinkNames(-1) {
		if _, ok := wn.ConditionalControls()[name]; ok {
			names = append(names, name)
		}
	}
	if len(names) != len(wn.ConditionalControls()) {
		// Rules keyed on unknown links should have been rejected at
		// registration; guard anyway.
		panic(fmt.Sprintf("conditional rules reference %d links, resolved %d", len(wn.ConditionalControls()), len(names)))
	}
	return names
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func remove(list []string, s string) []string {
	kept := list[:0]
	for _, v := range list {
		if v != s {
			kept = append(kept, v)
		}
	}
	return kept
}
