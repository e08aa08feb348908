// Package solver implements the outer iterative-LQR loop: it repeatedly
// builds affine/quadratic approximations around the nominal trajectory,
// solves the resulting box-constrained LQR subproblem, tracks the best
// trajectory found per batch element, and applies the configured stopping
// and non-convergence policy. Gradients with respect to the problem data
// are available through an explicit Backward call on the solve result.
package solver

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/ilqr/internal/approx"
	"github.com/san-kum/ilqr/internal/lqr"
)

// ErrSlewCost indicates a slew-rate penalty was configured with a
// non-quadratic cost, which the reformulation does not support.
var ErrSlewCost = errors.New("solver: slew-rate penalty requires a quadratic cost")

// Solver runs the outer iLQR loop for a fixed problem configuration.
// A Solver is safe for sequential reuse across solves; concurrent solves
// need separate Loggers.
type Solver struct {
	opts Options
}

// New validates the configuration and returns a Solver.
func New(opts Options) (*Solver, error) {
	if opts.NState <= 0 || opts.NCtrl <= 0 || opts.T < 1 {
		return nil, fmt.Errorf("solver: bad problem dimensions: %w", lqr.ErrShape)
	}
	if (opts.ULower == nil) != (opts.UUpper == nil) {
		return nil, fmt.Errorf("solver: bounds must be given together: %w", lqr.ErrBounds)
	}
	if opts.LQRIter < 1 {
		opts.LQRIter = 1
	}
	return &Solver{opts: opts}, nil
}

// Result is the outcome of one Solve call.
type Result struct {
	X [][]lqr.State   // best state trajectory, indexed [t][b]
	U [][]lqr.Control // best control trajectory, indexed [t][b]

	Costs      []float64 // best total cost per batch element
	FullDuNorm []float64 // final full control-update norm per batch element
	Converged  []bool
	Iters      int

	back *back
}

// back holds everything Backward needs: the subproblem rebuilt around the
// returned trajectory, in its own (possibly slew-augmented) coordinates.
type back struct {
	step *lqr.Step
	raw  *lqr.StepResult
	C    [][]*mat.Dense
	c    [][][]float64
	F    [][]*mat.Dense
	f    [][][]float64
	slew bool
}

// problem is the validated, batch-expanded form of one solve's inputs.
type problem struct {
	nb           int
	cost         lqr.CostSpec
	dx           lqr.DxSpec
	lower, upper [][][]float64
	uzero        [][][]bool
}

func (s *Solver) prepare(xInit []lqr.State, cost lqr.CostSpec, dx lqr.DxSpec) (*problem, error) {
	opts := s.opts
	nb := len(xInit)
	if nb == 0 || (opts.NBatch != 0 && opts.NBatch != nb) {
		return nil, fmt.Errorf("solver: batch size %d: %w", nb, lqr.ErrBatchSize)
	}
	for _, x0 := range xInit {
		if len(x0) != opts.NState {
			return nil, fmt.Errorf("solver: initial state dimension %d, want %d: %w", len(x0), opts.NState, lqr.ErrShape)
		}
	}

	p := &problem{nb: nb}

	switch {
	case cost.Quad != nil && cost.Fn == nil:
		q, err := expandQuad(cost.Quad, opts.T, nb, opts.NState+opts.NCtrl)
		if err != nil {
			return nil, err
		}
		p.cost = lqr.CostSpec{Quad: q}
	case cost.Quad == nil && cost.Fn != nil:
		p.cost = cost
	default:
		return nil, fmt.Errorf("solver: exactly one cost representation required: %w", lqr.ErrCostSpec)
	}

	switch {
	case dx.Lin != nil && dx.Fn == nil:
		l, err := expandLin(dx.Lin, opts.T, nb, opts.NState, opts.NState+opts.NCtrl)
		if err != nil {
			return nil, err
		}
		p.dx = lqr.DxSpec{Lin: l}
	case dx.Lin == nil && dx.Fn != nil:
		if dx.Fn.StateDim() != opts.NState || dx.Fn.ControlDim() != opts.NCtrl {
			return nil, fmt.Errorf("solver: dynamics dimensions (%d, %d): %w", dx.Fn.StateDim(), dx.Fn.ControlDim(), lqr.ErrShape)
		}
		p.dx = dx
	default:
		return nil, fmt.Errorf("solver: exactly one dynamics representation required: %w", lqr.ErrDxSpec)
	}

	if opts.SlewRatePenalty > 0 && !p.cost.IsQuad() {
		return nil, ErrSlewCost
	}

	if opts.ULower != nil {
		var err error
		if p.lower, err = opts.ULower.expand(opts.T, nb, opts.NCtrl); err != nil {
			return nil, fmt.Errorf("solver: lower bound: %w", err)
		}
		if p.upper, err = opts.UUpper.expand(opts.T, nb, opts.NCtrl); err != nil {
			return nil, fmt.Errorf("solver: upper bound: %w", err)
		}
	}
	if opts.UZero != nil {
		if len(opts.UZero) != opts.T {
			return nil, fmt.Errorf("solver: u_zero horizon %d, want %d: %w", len(opts.UZero), opts.T, lqr.ErrShape)
		}
		p.uzero = make([][][]bool, opts.T)
		for t := 0; t < opts.T; t++ {
			row, err := broadcastBatch(opts.UZero[t], nb)
			if err != nil {
				return nil, fmt.Errorf("solver: u_zero batch: %w", err)
			}
			p.uzero[t] = row
		}
	}
	return p, nil
}

// expandQuad broadcasts a batch axis of length one and checks shapes.
func expandQuad(q *lqr.QuadCost, T, nb, nTau int) (*lqr.QuadCost, error) {
	if len(q.C) != T || len(q.Lin) != T {
		return nil, fmt.Errorf("solver: quadratic cost horizon: %w", lqr.ErrShape)
	}
	out := &lqr.QuadCost{C: make([][]*mat.Dense, T), Lin: make([][][]float64, T)}
	for t := 0; t < T; t++ {
		Cr, err := broadcastBatch(q.C[t], nb)
		if err != nil {
			return nil, fmt.Errorf("solver: cost batch: %w", err)
		}
		lr, err := broadcastBatch(q.Lin[t], nb)
		if err != nil {
			return nil, fmt.Errorf("solver: cost batch: %w", err)
		}
		for b := range Cr {
			if r, c := Cr[b].Dims(); r != nTau || c != nTau || len(lr[b]) != nTau {
				return nil, fmt.Errorf("solver: cost blocks at step %d: %w", t, lqr.ErrShape)
			}
		}
		out.C[t], out.Lin[t] = Cr, lr
	}
	return out, nil
}

func expandLin(l *lqr.LinDx, T, nb, n, nTau int) (*lqr.LinDx, error) {
	if len(l.F) != T-1 {
		return nil, fmt.Errorf("solver: dynamics horizon: %w", lqr.ErrShape)
	}
	if l.Bias != nil && len(l.Bias) != T-1 {
		return nil, fmt.Errorf("solver: dynamics bias horizon: %w", lqr.ErrShape)
	}
	out := &lqr.LinDx{F: make([][]*mat.Dense, T-1)}
	if l.Bias != nil {
		out.Bias = make([][][]float64, T-1)
	}
	for t := 0; t < T-1; t++ {
		Fr, err := broadcastBatch(l.F[t], nb)
		if err != nil {
			return nil, fmt.Errorf("solver: dynamics batch: %w", err)
		}
		for b := range Fr {
			if r, c := Fr[b].Dims(); r != n || c != nTau {
				return nil, fmt.Errorf("solver: dynamics blocks at step %d: %w", t, lqr.ErrShape)
			}
		}
		out.F[t] = Fr
		if l.Bias != nil {
			br, err := broadcastBatch(l.Bias[t], nb)
			if err != nil {
				return nil, fmt.Errorf("solver: dynamics bias batch: %w", err)
			}
			out.Bias[t] = br
		}
	}
	return out, nil
}

// Solve runs the outer loop from the given initial states and returns the
// best trajectory found per batch element. With ExitUnconverged set, a
// result is still returned alongside lqr.ErrUnconverged when any element's
// final update norm exceeds Eps.
func (s *Solver) Solve(xInit []lqr.State, cost lqr.CostSpec, dx lqr.DxSpec) (*Result, error) {
	opts := s.opts
	p, err := s.prepare(xInit, cost, dx)
	if err != nil {
		return nil, err
	}
	nb := p.nb

	u, err := s.initialControls(nb)
	if err != nil {
		return nil, err
	}

	if opts.Log != nil {
		x0 := lqr.Rollout(opts.T, xInit, u, p.dx)
		opts.Log.Iterf("initial mean(cost): %.4e", mean(lqr.TrajCost(x0, u, p.cost)))
	}

	bestX := make([][]lqr.State, opts.T)
	bestU := make([][]lqr.Control, opts.T)
	for t := 0; t < opts.T; t++ {
		bestX[t] = make([]lqr.State, nb)
		bestU[t] = make([]lqr.Control, nb)
	}
	bestCosts := make([]float64, nb)
	for j := range bestCosts {
		bestCosts[j] = math.Inf(1)
	}
	notImproved := make([]int, nb)
	lastDu := make([]float64, nb)

	iters := 0
	for i := 0; i < opts.LQRIter; i++ {
		iters = i + 1

		x := lqr.Rollout(opts.T, xInit, u, p.dx)
		C, c, F, f, err := s.approximations(p, x, u)
		if err != nil {
			return nil, err
		}
		sub, err := s.subproblem(p, xInit, C, c, F, f, x, u, false)
		if err != nil {
			return nil, err
		}

		for j := 0; j < nb; j++ {
			notImproved[j]++
			if sub.res.Costs[j] <= bestCosts[j]-opts.BestCostEps {
				notImproved[j] = 0
				bestCosts[j] = sub.res.Costs[j]
				for t := 0; t < opts.T; t++ {
					bestX[t][j] = sub.x[t][j]
					bestU[t][j] = sub.u[t][j]
				}
			}
		}
		copy(lastDu, sub.res.FullDuNorm)

		if opts.Log != nil {
			opts.Log.Table("lqr", [][2]string{
				{"iter", fmt.Sprintf("%d", i)},
				{"mean(cost)", fmt.Sprintf("%.4e", mean(bestCosts))},
				{"||full_du||_max", fmt.Sprintf("%.2e", maxOf(lastDu))},
				{"total_qp_iters", fmt.Sprintf("%d", sub.res.QPIters)},
			})
		}
		if opts.OnIteration != nil {
			opts.OnIteration(Iteration{
				Iter:       i,
				Costs:      append([]float64(nil), bestCosts...),
				MeanCost:   mean(bestCosts),
				FullDuNorm: append([]float64(nil), lastDu...),
				QPIters:    sub.res.QPIters,
				LSIters:    sub.res.LSIters,
			})
		}

		if maxOf(lastDu) < opts.Eps || minIntOf(notImproved) > opts.NotImprovedLim {
			break
		}

		// The next nominal is the best trajectory so far, not necessarily
		// the latest candidate.
		u = shallowControls(bestU)
	}

	res := &Result{
		X:          bestX,
		U:          bestU,
		Costs:      bestCosts,
		FullDuNorm: append([]float64(nil), lastDu...),
		Converged:  make([]bool, nb),
		Iters:      iters,
	}
	allConverged := true
	for j := range lastDu {
		res.Converged[j] = lastDu[j] < opts.Eps
		if !res.Converged[j] {
			allConverged = false
		}
	}

	if opts.Backprop {
		C, c, F, f, err := s.approximations(p, bestX, bestU)
		if err != nil {
			return nil, err
		}
		sub, err := s.subproblem(p, xInit, C, c, F, f, bestX, bestU, true)
		if err != nil {
			return nil, err
		}
		res.back = &back{
			step: sub.step, raw: sub.res,
			C: sub.C, c: sub.c, F: sub.F, f: sub.f,
			slew: sub.slew,
		}
	}

	if !allConverged {
		if opts.ExitUnconverged {
			return res, fmt.Errorf("solver: update norm above %v after %d iterations: %w", opts.Eps, iters, lqr.ErrUnconverged)
		}
		if opts.DetachUnconverged {
			opts.Log.Warnf("not all batch elements converged; their gradients are dropped")
		} else {
			opts.Log.Warnf("not all batch elements converged")
		}
	}
	return res, nil
}

func (s *Solver) initialControls(nb int) ([][]lqr.Control, error) {
	opts := s.opts
	u := make([][]lqr.Control, opts.T)
	if opts.UInit == nil {
		for t := 0; t < opts.T; t++ {
			u[t] = make([]lqr.Control, nb)
			for b := 0; b < nb; b++ {
				u[t][b] = make(lqr.Control, opts.NCtrl)
			}
		}
		return u, nil
	}
	if len(opts.UInit) != opts.T {
		return nil, fmt.Errorf("solver: warm-start horizon %d, want %d: %w", len(opts.UInit), opts.T, lqr.ErrShape)
	}
	for t := 0; t < opts.T; t++ {
		row, err := broadcastBatch(opts.UInit[t], nb)
		if err != nil {
			return nil, fmt.Errorf("solver: warm-start batch: %w", err)
		}
		u[t] = make([]lqr.Control, nb)
		for b := 0; b < nb; b++ {
			if len(row[b]) != opts.NCtrl {
				return nil, fmt.Errorf("solver: warm-start control dimension: %w", lqr.ErrShape)
			}
			u[t][b] = row[b].Clone()
		}
	}
	return u, nil
}

// approximations returns the problem's quadratic cost and affine dynamics,
// building them around the nominal trajectory when the caller supplied
// callables instead of closed forms.
func (s *Solver) approximations(p *problem, x [][]lqr.State, u [][]lqr.Control) (C [][]*mat.Dense, c [][][]float64, F [][]*mat.Dense, f [][][]float64, err error) {
	aopts := approx.Options{Method: s.opts.GradMethod, Eps: s.opts.FDEps, Log: s.opts.Log}

	if p.cost.IsQuad() {
		C, c = p.cost.Quad.C, p.cost.Quad.Lin
	} else {
		quad, _, qerr := approx.QuadratizeCost(p.cost.Fn, x, u, aopts)
		if qerr != nil {
			return nil, nil, nil, nil, qerr
		}
		C, c = quad.C, quad.Lin
	}

	if p.dx.IsLin() {
		F, f = p.dx.Lin.F, p.dx.Lin.Bias
	} else {
		lin, lerr := approx.LinearizeDynamics(p.dx.Fn, x, u, aopts)
		if lerr != nil {
			return nil, nil, nil, nil, lerr
		}
		F, f = lin.F, lin.Bias
	}
	return C, c, F, f, nil
}

// subResult is one LQR subproblem solve, keeping both the step's own
// coordinates (augmented under slew) and the projected trajectory.
type subResult struct {
	step *lqr.Step
	res  *lqr.StepResult
	x    [][]lqr.State
	u    [][]lqr.Control

	C    [][]*mat.Dense
	c    [][][]float64
	F    [][]*mat.Dense
	f    [][][]float64
	slew bool
}

func (s *Solver) subproblem(p *problem, xInit []lqr.State, C [][]*mat.Dense, c [][][]float64, F [][]*mat.Dense, f [][][]float64, x [][]lqr.State, u [][]lqr.Control, noOp bool) (*subResult, error) {
	opts := s.opts
	if opts.SlewRatePenalty > 0 {
		return s.slewSubproblem(p, xInit, C, c, F, f, x, u, noOp)
	}

	step := &lqr.Step{
		NState: opts.NState, NCtrl: opts.NCtrl, T: opts.T,
		ULower: p.lower, UUpper: p.upper, UZero: p.uzero,
		DeltaU:            opts.DeltaU,
		LinesearchDecay:   opts.LinesearchDecay,
		MaxLinesearchIter: opts.MaxLinesearchIter,
		DeltaSpace:        true,
		TrueCost:          p.cost,
		TrueDx:            p.dx,
		CurrentX:          x,
		CurrentU:          u,
		BackEps:           opts.BackEps,
		NoOpForward:       noOp,
		Log:               opts.Log,
	}
	res, err := step.Solve(xInit, C, c, F, f)
	if err != nil {
		return nil, err
	}
	return &subResult{step: step, res: res, x: res.X, u: res.U, C: C, c: c, F: F, f: f}, nil
}

// Backward computes gradients of a scalar loss with respect to the problem
// data of the Solve that produced res, given the loss gradients with
// respect to the returned trajectory. Requires Backprop. Under
// DetachUnconverged, non-converged batch elements contribute zero gradient.
func (s *Solver) Backward(res *Result, g lqr.Grads) (*lqr.ParamGrads, error) {
	if !s.opts.Backprop || res.back == nil {
		return nil, lqr.ErrNoBackward
	}
	bc := res.back

	var skip []bool
	if s.opts.DetachUnconverged {
		for j, conv := range res.Converged {
			if !conv {
				if skip == nil {
					skip = make([]bool, len(res.Converged))
				}
				skip[j] = true
			}
		}
	}

	gg := g
	if bc.slew {
		gg = augmentGrads(g, s.opts.NCtrl)
	}
	pg, err := bc.step.Backward(bc.raw, bc.C, bc.c, bc.F, bc.f, gg, skip)
	if err != nil {
		return nil, err
	}
	if bc.slew {
		pg = projectParamGrads(pg, s.opts.NState, s.opts.NCtrl)
	}
	return pg, nil
}

func shallowControls(u [][]lqr.Control) [][]lqr.Control {
	out := make([][]lqr.Control, len(u))
	for t := range u {
		out[t] = append([]lqr.Control(nil), u[t]...)
	}
	return out
}

func mean(v []float64) float64 {
	s := 0.0
	for _, x := range v {
		s += x
	}
	return s / float64(len(v))
}

func maxOf(v []float64) float64 {
	m := math.Inf(-1)
	for _, x := range v {
		if x > m {
			m = x
		}
	}
	return m
}

func minIntOf(v []int) int {
	m := v[0]
	for _, x := range v[1:] {
		if x < m {
			m = x
		}
	}
	return m
}
