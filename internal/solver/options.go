package solver

import (
	"github.com/san-kum/ilqr/internal/approx"
	"github.com/san-kum/ilqr/internal/lqr"
)

// Bound is a control bound given as a single scalar, one value per control
// dimension, or a full per-step per-batch tensor.
type Bound struct {
	scalar *float64
	perDim []float64
	full   [][][]float64
}

// ScalarBound bounds every control component by the same value.
func ScalarBound(v float64) *Bound { return &Bound{scalar: &v} }

// PerDimBound bounds each control dimension separately, shared across time
// and batch.
func PerDimBound(v []float64) *Bound { return &Bound{perDim: v} }

// FullBound is a complete [T][n_batch][n_ctrl] bound tensor. A batch axis
// of length one is broadcast.
func FullBound(v [][][]float64) *Bound { return &Bound{full: v} }

// expand materializes the bound as [T][nb][m].
func (b *Bound) expand(T, nb, m int) ([][][]float64, error) {
	out := make([][][]float64, T)
	switch {
	case b.scalar != nil:
		row := make([]float64, m)
		for i := range row {
			row[i] = *b.scalar
		}
		for t := 0; t < T; t++ {
			out[t] = make([][]float64, nb)
			for j := 0; j < nb; j++ {
				out[t][j] = row
			}
		}
	case b.perDim != nil:
		if len(b.perDim) != m {
			return nil, lqr.ErrBounds
		}
		for t := 0; t < T; t++ {
			out[t] = make([][]float64, nb)
			for j := 0; j < nb; j++ {
				out[t][j] = b.perDim
			}
		}
	case b.full != nil:
		if len(b.full) != T {
			return nil, lqr.ErrBounds
		}
		for t := 0; t < T; t++ {
			row, err := broadcastBatch(b.full[t], nb)
			if err != nil || len(row[0]) != m {
				return nil, lqr.ErrBounds
			}
			out[t] = row
		}
	default:
		return nil, lqr.ErrBounds
	}
	return out, nil
}

// broadcastBatch accepts a batch axis of length nb or 1 and returns one of
// length nb, sharing the underlying slices on broadcast.
func broadcastBatch[S any](in []S, nb int) ([]S, error) {
	switch len(in) {
	case nb:
		return in, nil
	case 1:
		out := make([]S, nb)
		for j := range out {
			out[j] = in[0]
		}
		return out, nil
	}
	return nil, lqr.ErrBatchSize
}

// Iteration is the per-outer-iteration progress record passed to the
// OnIteration hook and printed at LogIter verbosity.
type Iteration struct {
	Iter       int
	Costs      []float64 // best cost per batch element so far
	MeanCost   float64
	FullDuNorm []float64 // latest candidate's full control-update norm
	QPIters    int
	LSIters    int
}

// Options configure a Solver. Use DefaultOptions and override fields;
// the zero value is not a valid configuration.
type Options struct {
	NState, NCtrl, T int

	// NBatch checks the batch size of the inputs when nonzero; the batch
	// size is otherwise inferred from the initial state.
	NBatch int

	ULower, UUpper *Bound
	// UZero forces control components to zero, indexed [t][b][i]. A batch
	// axis of length one is broadcast.
	UZero [][][]bool
	// UInit warm-starts the nominal controls, indexed [t][b]. Nil starts
	// from zero controls.
	UInit [][]lqr.Control

	LQRIter    int
	GradMethod approx.Method
	FDEps      float64 // finite-difference perturbation for approximations

	// DeltaU caps each control component's change per iteration. 0 = uncapped.
	DeltaU float64

	Eps               float64 // outer convergence threshold on the update norm
	BackEps           float64 // per-step QP convergence threshold
	LinesearchDecay   float64
	MaxLinesearchIter int

	ExitUnconverged   bool
	DetachUnconverged bool
	Backprop          bool

	NotImprovedLim int
	BestCostEps    float64

	// SlewRatePenalty > 0 penalizes consecutive control differences by
	// 0.5 * penalty * ||u_t - u_{t-1}||^2, reformulating the problem over
	// an augmented state. Requires a quadratic cost.
	SlewRatePenalty float64
	// PrevCtrl is the control preceding the horizon, indexed [b], used as
	// the slew reference at t = 0. Nil means zero.
	PrevCtrl []lqr.Control

	Log *lqr.Logger
	// OnIteration is called after every outer iteration.
	OnIteration func(Iteration)
}

// DefaultOptions returns the standard configuration for the given problem
// dimensions. Approximations default to analytic Jacobians; callers whose
// models lack them select approx.Auto or approx.FiniteDiff explicitly.
func DefaultOptions(nState, nCtrl, T int) Options {
	return Options{
		NState:            nState,
		NCtrl:             nCtrl,
		T:                 T,
		LQRIter:           10,
		GradMethod:        approx.Analytic,
		Eps:               1e-7,
		BackEps:           1e-7,
		LinesearchDecay:   0.2,
		MaxLinesearchIter: 10,
		ExitUnconverged:   true,
		DetachUnconverged: true,
		Backprop:          true,
		NotImprovedLim:    3,
		BestCostEps:       1e-3,
	}
}
