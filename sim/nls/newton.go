package nls

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// Options configures the iterative solvers.
type Options struct {
	Tolerance     float64 // residual infinity-norm target
	MaxIterations int
	BoundsTol     float64 // slack when verifying box bounds
}

// DefaultOptions returns solver settings suitable for well-scaled hydraulic
// systems.
func DefaultOptions() Options {
	return Options{
		Tolerance:     1e-8,
		MaxIterations: 200,
		BoundsTol:     1e-6,
	}
}

// Newton solves square systems of nonlinear equations with a damped Newton
// iteration: finite-difference Jacobian, dense LU step, backtracking line
// search, and projection of iterates onto variable bounds.
type Newton struct {
	Opts Options
}

// NewNewton creates a Newton solver with the given options.
func NewNewton(opts Options) *Newton {
	return &Newton{Opts: opts}
}

const fdEps = 1e-7

// Solve finds an assignment satisfying every equation of sys, seeded from
// warm when non-nil. It returns the full variable vector, pinned values
// included, or a typed error: ErrNotSquare, ErrSingular, ErrNotConverged,
// or ErrInfeasible.
func (n *Newton) Solve(sys *System, warm []float64) ([]float64, error) {
	x := sys.InitialValues(warm)

	// Map free variables to Jacobian columns.
	cols := make([]int, sys.NumVariables())
	free := make([]int, 0, sys.NumVariables())
	for i := 0; i < sys.NumVariables(); i++ {
		cols[i] = -1
		v := sys.Var(i)
		if v.Fixed {
			continue
		}
		x[i] = clamp(x[i], v.Lo, v.Hi)
		cols[i] = len(free)
		free = append(free, i)
	}

	m := sys.NumEquations()
	if m != len(free) {
		return nil, fmt.Errorf("%w: %d equations, %d unknowns", ErrNotSquare, m, len(free))
	}

	resid := make([]float64, m)
	sys.Residuals(x, resid)
	norm := infNorm(resid)
	if m == 0 {
		if err := sys.CheckBounds(x, n.Opts.BoundsTol); err != nil {
			return nil, err
		}
		return x, nil
	}

	jac := mat.NewDense(m, m, nil)
	step := mat.NewVecDense(m, nil)
	trial := make([]float64, len(x))
	trialResid := make([]float64, m)

	for iter := 0; iter < n.Opts.MaxIterations; iter++ {
		if norm < n.Opts.Tolerance {
			if err := sys.CheckBounds(x, n.Opts.BoundsTol); err != nil {
				return nil, err
			}
			logrus.Debugf("newton converged in %d iterations, residual %.3e", iter, norm)
			return x, nil
		}

		n.jacobian(sys, x, resid, cols, jac)

		negF := mat.NewVecDense(m, nil)
		for i, r := range resid {
			negF.SetVec(i, -r)
		}
		if err := step.SolveVec(jac, negF); err != nil {
			// Retry once with light Tikhonov regularization before
			// declaring the Jacobian unusable.
			for i := 0; i < m; i++ {
				jac.Set(i, i, jac.At(i, i)+1e-10)
			}
			if err := step.SolveVec(jac, negF); err != nil {
				return nil, fmt.Errorf("%w at iteration %d: %v", ErrSingular, iter, err)
			}
		}

		// Backtracking line search on the residual norm, projecting each
		// trial onto the variable bounds.
		alpha := 1.0
		bestNorm := math.Inf(1)
		bestAlpha := 0.0
		accepted := false
		for ls := 0; ls < 30; ls++ {
			copy(trial, x)
			for k, vi := range free {
				v := sys.Var(vi)
				trial[vi] = clamp(x[vi]+alpha*step.AtVec(k), v.Lo, v.Hi)
			}
			sys.Residuals(trial, trialResid)
			tn := infNorm(trialResid)
			if tn < bestNorm {
				bestNorm = tn
				bestAlpha = alpha
			}
			if tn <= norm*(1-1e-4*alpha) {
				accepted = true
				break
			}
			alpha /= 2
		}
		if !accepted {
			if bestNorm >= norm {
				return nil, fmt.Errorf("%w: stalled at iteration %d, residual %.3e", ErrNotConverged, iter, norm)
			}
			alpha = bestAlpha
		}
		for k, vi := range free {
			v := sys.Var(vi)
			x[vi] = clamp(x[vi]+alpha*step.AtVec(k), v.Lo, v.Hi)
		}
		sys.Residuals(x, resid)
		norm = infNorm(resid)
	}

	if norm < n.Opts.Tolerance {
		if err := sys.CheckBounds(x, n.Opts.BoundsTol); err != nil {
			return nil, err
		}
		return x, nil
	}
	return nil, fmt.Errorf("%w after %d iterations, residual %.3e", ErrNotConverged, n.Opts.MaxIterations, norm)
}

// jacobian fills jac with central finite differences. Only the variables an
// equation declares are perturbed.
func (n *Newton) jacobian(sys *System, x, resid []float64, cols []int, jac *mat.Dense) {
	jac.Zero()
	for i := 0; i < sys.NumEquations(); i++ {
		eq := sys.equations[i]
		for _, vi := range eq.Vars {
			c := cols[vi]
			if c < 0 {
				continue
			}
			h := fdEps * math.Max(1, math.Abs(x[vi]))
			orig := x[vi]
			x[vi] = orig + h
			fp := eq.Residual(x)
			x[vi] = orig - h
			fm := eq.Residual(x)
			x[vi] = orig
			jac.Set(i, c, (fp-fm)/(2*h))
		}
	}
}

func infNorm(v []float64) float64 {
	worst := 0.0
	for _, r := range v {
		if a := math.Abs(r); a > worst {
			worst = a
		}
	}
	return worst
}
