package nls

import "errors"

var (
	// ErrNotSquare reports an equation count that does not match the
	// unknown count; Newton needs a square system.
	ErrNotSquare = errors.New("system is not square")

	// ErrNotConverged reports iteration exhaustion without reaching the
	// residual tolerance.
	ErrNotConverged = errors.New("solver did not converge")

	// ErrSingular reports an unsolvable Jacobian.
	ErrSingular = errors.New("singular jacobian")

	// ErrInfeasible reports a converged assignment that violates variable
	// bounds.
	ErrInfeasible = errors.New("solution violates variable bounds")
)
