package lqr

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/ilqr/internal/boxqp"
	"github.com/san-kum/ilqr/internal/linalg"
)

// Step solves one box-constrained LQR subproblem around a nominal
// trajectory: a backward Riccati recursion producing a time-varying affine
// policy, then a forward rollout of that policy through the true dynamics
// with bound clamping and a backtracking line search.
type Step struct {
	NState, NCtrl, T int

	// Expanded bounds, indexed [t][b][i]. Nil means unconstrained.
	ULower, UUpper [][][]float64
	// UZero forces control components to zero (fixed actuators).
	UZero [][][]bool
	// DeltaU caps each control component's change per iteration. 0 = uncapped.
	DeltaU float64

	LinesearchDecay   float64
	MaxLinesearchIter int

	// DeltaSpace runs the recursion and rollout in deviation coordinates
	// around CurrentX/CurrentU. Bounded problems require it.
	DeltaSpace bool

	TrueCost CostSpec
	TrueDx   DxSpec
	CurrentX [][]State
	CurrentU [][]Control

	// BackEps is the convergence threshold of the per-step QP solves.
	BackEps float64

	// NoOpForward skips the rollout and returns the nominal trajectory,
	// for callers that only want the backward-pass policy.
	NoOpForward bool

	Log *Logger
}

// Policy is the output of the backward recursion: per step and batch
// element, a feedback gain and a feedforward term. The control update is
// du_t = Gain_t dx_t + alpha * Feed_t.
type Policy struct {
	Gain [][]*mat.Dense
	Feed [][][]float64
}

// StepResult is one improved trajectory plus diagnostics.
type StepResult struct {
	X [][]State
	U [][]Control

	Costs       []float64 // total trajectory cost per batch element
	FullDuNorm  []float64 // norm of the full (alpha=1) control update
	AlphaDuNorm []float64 // norm of the accepted control update
	Alphas      []float64 // accepted line-search step sizes
	Improved    []bool    // line search found an improving step
	Degenerate  []bool    // QP degeneracy was hit for this element

	Policy  *Policy
	QPIters int
	LSIters int
}

func (s *Step) nBatch() int { return len(s.CurrentU[0]) }

func (s *Step) validate(xInit []State, C [][]*mat.Dense, c [][][]float64, F [][]*mat.Dense, f [][][]float64) error {
	nb := s.nBatch()
	if len(xInit) != nb || len(C) != s.T || len(c) != s.T || len(F) != s.T-1 {
		return ErrShape
	}
	if f != nil && len(f) != s.T-1 {
		return ErrShape
	}
	if len(s.CurrentX) != s.T || len(s.CurrentU) != s.T {
		return ErrShape
	}
	nTau := s.NState + s.NCtrl
	for t := 0; t < s.T; t++ {
		if len(C[t]) != nb || len(c[t]) != nb {
			return ErrShape
		}
		if r, cc := C[t][0].Dims(); r != nTau || cc != nTau {
			return ErrShape
		}
	}
	if (s.ULower == nil) != (s.UUpper == nil) {
		return ErrBounds
	}
	if s.ULower != nil && !s.DeltaSpace {
		return ErrBounds
	}
	return nil
}

// Solve runs the backward and forward passes and returns the improved
// trajectory. The linear cost c and dynamics F describe the problem around
// (CurrentX, CurrentU); f may be nil for zero dynamics offset.
func (s *Step) Solve(xInit []State, C [][]*mat.Dense, c [][][]float64, F [][]*mat.Dense, f [][][]float64) (*StepResult, error) {
	if err := s.validate(xInit, C, c, F, f); err != nil {
		return nil, err
	}

	pol, qpIters, degenerate := s.backwardPass(C, c, F, f)
	out := s.forwardPass(xInit, pol)

	out.Policy = pol
	out.QPIters = qpIters
	out.Degenerate = degenerate
	return out, nil
}

// backwardPass runs the Riccati recursion per batch element. Elements are
// independent, so large batches fan out across goroutines.
func (s *Step) backwardPass(C [][]*mat.Dense, c [][][]float64, F [][]*mat.Dense, f [][][]float64) (*Policy, int, []bool) {
	nb := s.nBatch()
	n, m := s.NState, s.NCtrl

	pol := &Policy{
		Gain: make([][]*mat.Dense, s.T),
		Feed: make([][][]float64, s.T),
	}
	for t := 0; t < s.T; t++ {
		pol.Gain[t] = make([]*mat.Dense, nb)
		pol.Feed[t] = make([][]float64, nb)
	}
	degenerate := make([]bool, nb)
	qpIters := make([]int, nb)

	qpOpts := boxqp.Options{RelTol: s.BackEps}

	linalg.ParallelFor(nb, 4, func(start, end int) {
		for b := start; b < end; b++ {
			var V *mat.Dense
			var v []float64
			var prevFeed []float64

			for t := s.T - 1; t >= 0; t-- {
				Q, q := s.stateActionValue(C, c, F, f, t, b, V, v)

				Qxx := denseSlice(Q, 0, n, 0, n)
				Qxu := denseSlice(Q, 0, n, n, n+m)
				Qux := denseSlice(Q, n, n+m, 0, n)
				Quu := denseSlice(Q, n, n+m, n, n+m)
				qx := q[:n]
				qu := q[n:]

				var K *mat.Dense
				var k []float64

				if s.ULower != nil {
					lb := linalg.Sub(s.ULower[t][b], s.CurrentU[t][b])
					ub := linalg.Sub(s.UUpper[t][b], s.CurrentU[t][b])
					if s.DeltaU > 0 {
						lb = boundBelow(lb, -s.DeltaU)
						ub = boundAbove(ub, s.DeltaU)
					}
					if s.UZero != nil {
						for i, z := range s.UZero[t][b] {
							if z {
								lb[i] = -s.CurrentU[t][b][i]
								ub[i] = -s.CurrentU[t][b][i]
							}
						}
					}

					res, err := boxqp.Solve(Quu, qu, lb, ub, prevFeed, qpOpts)
					if err != nil || res.Degenerate {
						degenerate[b] = true
						K = mat.NewDense(m, n, nil)
						k = make([]float64, m)
					} else {
						qpIters[b] += res.Iters
						k = res.X
						prevFeed = k
						K = negSolveMaskedMatrix(res.Chol, Qux, res.Free)
					}
				} else {
					free := make([]bool, m)
					for i := range free {
						free[i] = s.UZero == nil || !s.UZero[t][b][i]
					}
					chol, _, ok := boxqp.FreeFactor(Quu, free, qpOpts)
					if !ok {
						degenerate[b] = true
						K = mat.NewDense(m, n, nil)
						k = make([]float64, m)
					} else {
						k = linalg.Scale(-1, boxqp.SolveMasked(chol, qu, free))
						K = negSolveMaskedMatrix(chol, Qux, free)
					}
				}

				pol.Gain[t][b] = K
				pol.Feed[t][b] = k

				// Closed-loop value propagation:
				//   V = Qxx + Qxu K + Kᵀ Qux + Kᵀ Quu K
				//   v = qx + Qxu k + Kᵀ qu + Kᵀ Quu k
				var t1, t2, t3, t4 mat.Dense
				t1.Mul(Qxu, K)
				t2.Mul(K.T(), Qux)
				t3.Mul(Quu, K)
				t4.Mul(K.T(), &t3)
				Vn := mat.NewDense(n, n, nil)
				Vn.Add(Qxx, &t1)
				Vn.Add(Vn, &t2)
				Vn.Add(Vn, &t4)
				V = linalg.Symmetrize(Vn)

				Kqu := linalg.MulVecT(K, qu)
				Quuk := linalg.MulVec(Quu, k)
				v = linalg.Add(linalg.Add(qx, linalg.MulVec(Qxu, k)), linalg.Add(Kqu, linalg.MulVecT(K, Quuk)))
			}
		}
	})

	total := 0
	for _, it := range qpIters {
		total += it
	}
	return pol, total, degenerate
}

// stateActionValue combines the stage cost with the propagated value
// function. In absolute coordinates Q = C_t + F_tᵀ V F_t and
// q = c_t + F_tᵀ (V f_t + v). In deviation coordinates the linear term is
// shifted by C_t τ̄_t and the value function enters through the rollout
// residual F_t τ̄_t + f_t - x̄_{t+1}, which vanishes whenever the nominal
// is consistent with the linearized dynamics.
func (s *Step) stateActionValue(C [][]*mat.Dense, c [][][]float64, F [][]*mat.Dense, f [][][]float64, t, b int, V *mat.Dense, v []float64) (*mat.Dense, []float64) {
	nTau := s.NState + s.NCtrl
	Q := mat.NewDense(nTau, nTau, nil)
	Q.Copy(C[t][b])
	q := make([]float64, nTau)
	copy(q, c[t][b])

	var tau []float64
	if s.DeltaSpace {
		tau = linalg.Concat(s.CurrentX[t][b], s.CurrentU[t][b])
		q = linalg.Add(q, linalg.MulVec(C[t][b], tau))
	}

	if t == s.T-1 || V == nil {
		return Q, q
	}

	Ft := F[t][b]
	var vf, ftf mat.Dense
	vf.Mul(V, Ft)
	ftf.Mul(Ft.T(), &vf)
	Q.Add(Q, &ftf)

	vv := v
	if s.DeltaSpace {
		r := linalg.Sub(linalg.MulVec(Ft, tau), s.CurrentX[t+1][b])
		if f != nil {
			r = linalg.Add(r, f[t][b])
		}
		vv = linalg.Add(linalg.MulVec(V, r), v)
	} else if f != nil {
		vv = linalg.Add(linalg.MulVec(V, f[t][b]), v)
	}
	q = linalg.Add(q, linalg.MulVecT(Ft, vv))
	return Q, q
}

// forwardPass rolls the policy forward with per-batch-element backtracking:
// an element whose rollout fails to improve on the nominal cost retries
// with a geometrically smaller feedforward step.
func (s *Step) forwardPass(xInit []State, pol *Policy) *StepResult {
	nb := s.nBatch()
	nominalCosts := TrajCost(s.CurrentX, s.CurrentU, s.TrueCost)

	out := &StepResult{
		Costs:       make([]float64, nb),
		FullDuNorm:  make([]float64, nb),
		AlphaDuNorm: make([]float64, nb),
		Alphas:      make([]float64, nb),
		Improved:    make([]bool, nb),
	}

	if s.NoOpForward {
		out.X = cloneStates(s.CurrentX)
		out.U = cloneControls(s.CurrentU)
		out.Costs = nominalCosts
		for b := 0; b < nb; b++ {
			out.Alphas[b] = 0
			sum := 0.0
			for t := 0; t < s.T; t++ {
				for _, d := range pol.Feed[t][b] {
					sum += d * d
				}
			}
			out.FullDuNorm[b] = math.Sqrt(sum)
		}
		return out
	}

	type rollout struct {
		x    []State
		u    []Control
		cost float64
	}
	best := make([]*rollout, nb)
	alphas := make([]float64, nb)
	active := make([]bool, nb)
	for b := range alphas {
		alphas[b] = 1
		active[b] = true
	}

	for ls := 0; ls < s.MaxLinesearchIter; ls++ {
		anyActive := false
		for _, a := range active {
			if a {
				anyActive = true
				break
			}
		}
		if !anyActive {
			break
		}
		out.LSIters = ls + 1

		for b := 0; b < nb; b++ {
			if !active[b] {
				continue
			}

			r := &rollout{x: make([]State, s.T), u: make([]Control, s.T)}
			x := xInit[b].Clone()
			diverged := false
			duSq := 0.0

			for t := 0; t < s.T; t++ {
				r.x[t] = x

				var du []float64
				if s.DeltaSpace {
					dx := linalg.Sub(x, s.CurrentX[t][b])
					du = linalg.Add(linalg.MulVec(pol.Gain[t][b], dx), linalg.Scale(alphas[b], pol.Feed[t][b]))
				} else {
					du = linalg.Add(linalg.MulVec(pol.Gain[t][b], x), linalg.Scale(alphas[b], pol.Feed[t][b]))
				}
				if ls == 0 {
					for _, d := range du {
						duSq += d * d
					}
				}

				var u Control
				if s.DeltaSpace {
					u = Control(linalg.Add(s.CurrentU[t][b], du))
				} else {
					u = Control(du)
				}
				if s.UZero != nil {
					for i, z := range s.UZero[t][b] {
						if z {
							u[i] = 0
						}
					}
				}
				if s.ULower != nil {
					lb := s.ULower[t][b]
					ub := s.UUpper[t][b]
					if s.DeltaU > 0 {
						lb = maxSlices(lb, addScalar(s.CurrentU[t][b], -s.DeltaU))
						ub = minSlices(ub, addScalar(s.CurrentU[t][b], s.DeltaU))
					}
					u = Control(linalg.Clamp(u, lb, ub))
				}
				r.u[t] = u

				if t < s.T-1 {
					next := stepDynamics(s.TrueDx, t, b, x, u)
					if !next.IsValid() {
						diverged = true
						break
					}
					x = next
				}
			}

			if ls == 0 {
				out.FullDuNorm[b] = math.Sqrt(duSq)
			}

			if diverged {
				// Keep the returned trajectory well-formed by padding the
				// unreached tail with the nominal.
				for t := 0; t < s.T; t++ {
					if r.x[t] == nil {
						r.x[t] = s.CurrentX[t][b].Clone()
					}
					if r.u[t] == nil {
						r.u[t] = s.CurrentU[t][b].Clone()
					}
				}
				r.cost = math.Inf(1)
			} else {
				r.cost = trajCostSingle(r.x, r.u, s.TrueCost, b)
			}

			if best[b] == nil || r.cost < best[b].cost {
				best[b] = r
			}

			if r.cost <= nominalCosts[b] {
				out.Improved[b] = true
				out.Alphas[b] = alphas[b]
				active[b] = false
			} else {
				alphas[b] *= s.LinesearchDecay
			}
		}
	}

	out.X = make([][]State, s.T)
	out.U = make([][]Control, s.T)
	for t := 0; t < s.T; t++ {
		out.X[t] = make([]State, nb)
		out.U[t] = make([]Control, nb)
	}
	for b := 0; b < nb; b++ {
		r := best[b]
		for t := 0; t < s.T; t++ {
			out.X[t][b] = r.x[t]
			out.U[t][b] = r.u[t]
		}
		out.Costs[b] = r.cost
		if !out.Improved[b] {
			out.Alphas[b] = alphas[b]
			s.Log.Debugf("lqr: element %d: no improving step after %d line-search attempts (cost %.4e)", b, out.LSIters, r.cost)
		}
		sum := 0.0
		for t := 0; t < s.T; t++ {
			d := linalg.Sub(r.u[t], s.CurrentU[t][b])
			for _, dd := range d {
				sum += dd * dd
			}
		}
		out.AlphaDuNorm[b] = math.Sqrt(sum)
	}
	return out
}

func trajCostSingle(x []State, u []Control, cost CostSpec, b int) float64 {
	total := 0.0
	for t := range x {
		tau := linalg.Concat(x[t], u[t])
		if cost.IsQuad() {
			total += 0.5*linalg.Quad(tau, cost.Quad.C[t][b]) + linalg.Dot(cost.Quad.Lin[t][b], tau)
		} else {
			total += cost.Fn.Evaluate(tau)
		}
	}
	return total
}

// negSolveMaskedMatrix returns -chol⁻¹ rhs with clamped rows of rhs zeroed,
// so clamped rows of the result are zero.
func negSolveMaskedMatrix(chol *mat.Cholesky, rhs *mat.Dense, free []bool) *mat.Dense {
	r, c := rhs.Dims()
	masked := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		if free[i] {
			for j := 0; j < c; j++ {
				masked.Set(i, j, rhs.At(i, j))
			}
		}
	}
	out := mat.NewDense(r, c, nil)
	if err := chol.SolveTo(out, masked); err != nil {
		return mat.NewDense(r, c, nil)
	}
	out.Scale(-1, out)
	return out
}

func denseSlice(m *mat.Dense, r0, r1, c0, c1 int) *mat.Dense {
	return m.Slice(r0, r1, c0, c1).(*mat.Dense)
}

func boundBelow(v []float64, lo float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = math.Max(x, lo)
	}
	return out
}

func boundAbove(v []float64, hi float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = math.Min(x, hi)
	}
	return out
}

func addScalar(v []float64, s float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x + s
	}
	return out
}

func maxSlices(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = math.Max(a[i], b[i])
	}
	return out
}

func minSlices(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = math.Min(a[i], b[i])
	}
	return out
}

func cloneStates(x [][]State) [][]State {
	out := make([][]State, len(x))
	for t := range x {
		out[t] = make([]State, len(x[t]))
		for b := range x[t] {
			out[t][b] = x[t][b].Clone()
		}
	}
	return out
}

func cloneControls(u [][]Control) [][]Control {
	out := make([][]Control, len(u))
	for t := range u {
		out[t] = make([]Control, len(u[t]))
		for b := range u[t] {
			out[t][b] = u[t][b].Clone()
		}
	}
	return out
}
