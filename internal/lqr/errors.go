package lqr

import "errors"

// Domain errors for trajectory optimization.
var (
	// ErrShape indicates inconsistent problem tensor shapes.
	ErrShape = errors.New("lqr: inconsistent problem shapes")

	// ErrBatchSize indicates the batch size could not be inferred.
	ErrBatchSize = errors.New("lqr: batch size not given and not inferable")

	// ErrCostSpec indicates a cost specification with zero or both variants set.
	ErrCostSpec = errors.New("lqr: cost must be exactly one of quadratic or callable")

	// ErrDxSpec indicates a dynamics specification with zero or both variants set.
	ErrDxSpec = errors.New("lqr: dynamics must be exactly one of linear or callable")

	// ErrBounds indicates malformed control bounds.
	ErrBounds = errors.New("lqr: lower bound exceeds upper bound")

	// ErrUnconverged indicates the solve exited without reaching a fixed
	// point while the fail-fast policy was configured.
	ErrUnconverged = errors.New("lqr: solve did not converge to a fixed point")

	// ErrNoBackward indicates a gradient request on a solve that was run
	// with backprop disabled.
	ErrNoBackward = errors.New("lqr: solve was run with backprop disabled")
)
