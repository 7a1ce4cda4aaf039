// Package sim provides the quasi-steady hydraulic simulation core for
// piped water distribution networks.
//
// # Reading Guide
//
// Start with these three files to understand the simulation kernel:
//   - network.go: the topology store — node and link variants, schedules, rules
//   - builder.go: per-instant equation-system assembly from the network state
//   - driver.go: the timestep loop, valve-state settling, and state carry
//
// # Architecture
//
// Each timestep is posed as a square system of nonlinear algebraic
// equations (mass balance, friction and pump relations, tank dynamics,
// valve relations) and handed to a solver collaborator:
//   - sim/nls/: system declaration plus the Newton and Gauss-Newton solvers
//   - sim/results/: per-(entity, instant) record accumulation and summary
//
// Pressure-regulating valves make the system shape state-dependent: the
// driver re-solves a timestep until the valve state machine (valve.go)
// reports no transition, and tank-level conditional controls (controls.go)
// may override the scheduled link status, sometimes permanently.
//
// The full time-series formulation (horizon.go) poses every instant in one
// system; it backs the measurement-fit calibration mode (calibration.go).
package sim
