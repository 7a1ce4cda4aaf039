package nls

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// GaussNewton minimizes a weighted sum-of-squares objective subject to a
// system's equations, treated as heavily weighted residuals (quadratic
// penalty). The step is Levenberg-Marquardt regularized.
type GaussNewton struct {
	Opts Options

	// ConstraintWeight scales equation residuals relative to objective
	// terms. Zero selects the default.
	ConstraintWeight float64
}

// NewGaussNewton creates a least-squares solver with the given options.
func NewGaussNewton(opts Options) *GaussNewton {
	return &GaussNewton{Opts: opts}
}

const defaultConstraintWeight = 1e4

// Minimize finds an assignment minimizing the squared norm of the objective
// terms while satisfying the system's equations. Objective terms are
// Equations whose residuals are driven as close to zero as the constraints
// allow rather than exactly to zero.
func (g *GaussNewton) Minimize(sys *System, objective []Equation, warm []float64) ([]float64, error) {
	cw := g.ConstraintWeight
	if cw == 0 {
		cw = defaultConstraintWeight
	}

	x := sys.InitialValues(warm)
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
	nf := len(free)
	if nf == 0 {
		return x, nil
	}

	// Stacked residual: weighted constraints first, then objective terms.
	terms := make([]Equation, 0, sys.NumEquations()+len(objective))
	terms = append(terms, sys.equations...)
	terms = append(terms, objective...)
	weight := func(i int) float64 {
		if i < sys.NumEquations() {
			return cw
		}
		return 1.0
	}
	mTot := len(terms)

	eval := func(x []float64, out []float64) float64 {
		sum := 0.0
		for i, eq := range terms {
			r := weight(i) * eq.Residual(x)
			out[i] = r
			sum += r * r
		}
		return sum
	}

	resid := make([]float64, mTot)
	trialResid := make([]float64, mTot)
	trial := make([]float64, len(x))
	cost := eval(x, resid)

	jac := mat.NewDense(mTot, nf, nil)
	lambda := 1e-3

	// Constraint residuals and their derivatives both carry the penalty
	// weight, so the gradient scales with its square.
	gradTol := g.Opts.Tolerance * math.Max(1, cw*cw)

	for iter := 0; iter < g.Opts.MaxIterations; iter++ {
		// Weighted finite-difference Jacobian of the stacked residual.
		jac.Zero()
		for i, eq := range terms {
			w := weight(i)
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
				jac.Set(i, c, w*(fp-fm)/(2*h))
			}
		}

		// Gradient Jᵀr; converged when it vanishes.
		grad := mat.NewVecDense(nf, nil)
		grad.MulVec(jac.T(), mat.NewVecDense(mTot, resid))
		if infNormVec(grad) < gradTol {
			if err := sys.CheckBounds(x, g.Opts.BoundsTol); err != nil {
				return nil, err
			}
			logrus.Debugf("gauss-newton converged in %d iterations, cost %.3e", iter, cost)
			return x, nil
		}

		// (JᵀJ + λI) d = -Jᵀr
		var jtj mat.Dense
		jtj.Mul(jac.T(), jac)
		improved := false
		for try := 0; try < 25; try++ {
			var damped mat.Dense
			damped.CloneFrom(&jtj)
			for i := 0; i < nf; i++ {
				damped.Set(i, i, damped.At(i, i)+lambda*(1+damped.At(i, i)))
			}
			step := mat.NewVecDense(nf, nil)
			negGrad := mat.NewVecDense(nf, nil)
			negGrad.ScaleVec(-1, grad)
			if err := step.SolveVec(&damped, negGrad); err != nil {
				lambda *= 10
				continue
			}
			copy(trial, x)
			for k, vi := range free {
				v := sys.Var(vi)
				trial[vi] = clamp(x[vi]+step.AtVec(k), v.Lo, v.Hi)
			}
			trialCost := eval(trial, trialResid)
			if trialCost < cost {
				copy(x, trial)
				copy(resid, trialResid)
				cost = trialCost
				lambda = math.Max(lambda*0.3, 1e-12)
				improved = true
				break
			}
			lambda *= 10
		}
		if !improved {
			// Flat: treat the current point as the minimizer if the
			// constraints are met.
			if constraintNorm(sys, x) < 1e-6 {
				if err := sys.CheckBounds(x, g.Opts.BoundsTol); err != nil {
					return nil, err
				}
				return x, nil
			}
			return nil, fmt.Errorf("%w: least-squares stalled at iteration %d, cost %.3e", ErrNotConverged, iter, cost)
		}
	}
	return nil, fmt.Errorf("%w after %d iterations, cost %.3e", ErrNotConverged, g.Opts.MaxIterations, cost)
}

func constraintNorm(sys *System, x []float64) float64 {
	worst := 0.0
	for _, eq := range sys.equations {
		if a := math.Abs(eq.Residual(x)); a > worst {
			worst = a
		}
	}
	return worst
}

func infNormVec(v *mat.VecDense) float64 {
	worst := 0.0
	for i := 0; i < v.Len(); i++ {
		if a := math.Abs(v.AtVec(i)); a > worst {
			worst = a
		}
	}
	return worst
}
