package nls

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewton_Scalar_FindsBoundedRoot(t *testing.T) {
	sys := NewSystem()
	xi := sys.AddBoundedVariable("x", 1, 0, math.Inf(1))
	sys.AddEquation("square", []int{xi}, func(x []float64) float64 { return x[xi]*x[xi] - 4 })

	x, err := NewNewton(DefaultOptions()).Solve(sys, nil)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, x[xi], 1e-6)
}

func TestNewton_CoupledSystem_Converges(t *testing.T) {
	// x^2 + y^2 = 25, x - y = 1; the seed selects the (4, 3) root.
	sys := NewSystem()
	xi := sys.AddVariable("x", 4.5)
	yi := sys.AddVariable("y", 2.5)
	sys.AddEquation("circle", []int{xi, yi}, func(x []float64) float64 { return x[xi]*x[xi] + x[yi]*x[yi] - 25 })
	sys.AddEquation("line", []int{xi, yi}, func(x []float64) float64 { return x[xi] - x[yi] - 1 })

	x, err := NewNewton(DefaultOptions()).Solve(sys, nil)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, x[xi], 1e-6)
	assert.InDelta(t, 3.0, x[yi], 1e-6)
}

func TestNewton_RectangularSystem_ErrNotSquare(t *testing.T) {
	sys := NewSystem()
	xi := sys.AddVariable("x", 0)
	sys.AddVariable("y", 0)
	sys.AddEquation("only", []int{xi}, func(x []float64) float64 { return x[xi] })

	_, err := NewNewton(DefaultOptions()).Solve(sys, nil)
	assert.ErrorIs(t, err, ErrNotSquare)
}

func TestNewton_RootOutsideBounds_ErrNotConverged(t *testing.T) {
	// The only root is x=5 but the variable is capped at 3; iterates are
	// projected onto the bound and the residual cannot reach zero.
	sys := NewSystem()
	xi := sys.AddBoundedVariable("x", 1, 0, 3)
	sys.AddEquation("shifted", []int{xi}, func(x []float64) float64 { return x[xi] - 5 })

	_, err := NewNewton(DefaultOptions()).Solve(sys, nil)
	assert.ErrorIs(t, err, ErrNotConverged)
}

func TestNewton_PinnedVariable_KeptAndExcluded(t *testing.T) {
	sys := NewSystem()
	xi := sys.AddVariable("x", 0)
	yi := sys.AddVariable("y", 1)
	sys.Fix(xi, 7)
	sys.AddEquation("couples", []int{xi, yi}, func(x []float64) float64 { return x[yi] - 2*x[xi] })

	x, err := NewNewton(DefaultOptions()).Solve(sys, nil)
	require.NoError(t, err)
	assert.Equal(t, 7.0, x[xi])
	assert.InDelta(t, 14.0, x[yi], 1e-6)
}

func TestNewton_PinnedOutsideBounds_ErrInfeasible(t *testing.T) {
	sys := NewSystem()
	xi := sys.AddBoundedVariable("x", 1, 0, 3)
	sys.Fix(xi, 5)

	_, err := NewNewton(DefaultOptions()).Solve(sys, nil)
	assert.ErrorIs(t, err, ErrInfeasible)
}

func TestNewton_WarmStart_SelectsNearbyRoot(t *testing.T) {
	// x^2 = 4 has roots at +-2; the declared init leads to -2, the warm
	// start overrides it and leads to +2.
	sys := NewSystem()
	xi := sys.AddVariable("x", -1)
	sys.AddEquation("square", []int{xi}, func(x []float64) float64 { return x[xi]*x[xi] - 4 })

	solver := NewNewton(DefaultOptions())

	x, err := solver.Solve(sys, nil)
	require.NoError(t, err)
	assert.InDelta(t, -2.0, x[xi], 1e-6)

	x, err = solver.Solve(sys, []float64{1})
	require.NoError(t, err)
	assert.InDelta(t, 2.0, x[xi], 1e-6)
}

func TestSystem_InitialValues_WarmSkipsPinned(t *testing.T) {
	sys := NewSystem()
	xi := sys.AddVariable("x", 1)
	yi := sys.AddVariable("y", 2)
	sys.Fix(xi, 9)

	x := sys.InitialValues([]float64{5, 6})
	assert.Equal(t, 9.0, x[xi])
	assert.Equal(t, 6.0, x[yi])
}
