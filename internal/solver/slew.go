package solver

import (
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/ilqr/internal/linalg"
	"github.com/san-kum/ilqr/internal/lqr"
)

// The slew-rate penalty 0.5 * gamma * ||u_t - u_{t-1}||^2 is handled by
// reformulating the problem over the augmented state [u_{t-1}; x_t]: the
// penalty becomes a time-invariant quadratic block over (u_{t-1}, u_t),
// the dynamics copy u_t into the next augmented state's first block, and
// the solved states are projected back by dropping that block.

// slewSubproblem builds and solves the augmented subproblem around the
// nominal (x, u).
func (s *Solver) slewSubproblem(p *problem, xInit []lqr.State, C [][]*mat.Dense, c [][][]float64, F [][]*mat.Dense, f [][][]float64, x [][]lqr.State, u [][]lqr.Control, noOp bool) (*subResult, error) {
	opts := s.opts
	n, m, T := opts.NState, opts.NCtrl, opts.T
	nb := p.nb
	na := n + m       // augmented state dimension
	nTauA := na + m   // augmented tau dimension
	gamma := opts.SlewRatePenalty

	aC := make([][]*mat.Dense, T)
	ac := make([][][]float64, T)
	for t := 0; t < T; t++ {
		aC[t] = make([]*mat.Dense, nb)
		ac[t] = make([][]float64, nb)
		for b := 0; b < nb; b++ {
			M := mat.NewDense(nTauA, nTauA, nil)
			for i := 0; i < m; i++ {
				M.Set(i, i, gamma)
				M.Set(na+i, na+i, gamma)
				M.Set(i, na+i, -gamma)
				M.Set(na+i, i, -gamma)
			}
			for i := 0; i < n+m; i++ {
				for j := 0; j < n+m; j++ {
					M.Set(m+i, m+j, M.At(m+i, m+j)+C[t][b].At(i, j))
				}
			}
			aC[t][b] = M
			ac[t][b] = linalg.Concat(make([]float64, m), c[t][b])
		}
	}

	aF := make([][]*mat.Dense, T-1)
	var af [][][]float64
	if f != nil {
		af = make([][][]float64, T-1)
	}
	for t := 0; t < T-1; t++ {
		aF[t] = make([]*mat.Dense, nb)
		if af != nil {
			af[t] = make([][]float64, nb)
		}
		for b := 0; b < nb; b++ {
			M := mat.NewDense(na, nTauA, nil)
			for i := 0; i < m; i++ {
				M.Set(i, na+i, 1) // next prev-control block is u_t
			}
			M.Slice(m, na, m, nTauA).(*mat.Dense).Copy(F[t][b])
			aF[t][b] = M
			if af != nil {
				af[t][b] = linalg.Concat(make([]float64, m), f[t][b])
			}
		}
	}

	prev := make([]lqr.Control, nb)
	for b := 0; b < nb; b++ {
		if opts.PrevCtrl != nil {
			prev[b] = opts.PrevCtrl[b]
		} else {
			prev[b] = make(lqr.Control, m)
		}
	}

	aX := make([][]lqr.State, T)
	for t := 0; t < T; t++ {
		aX[t] = make([]lqr.State, nb)
		for b := 0; b < nb; b++ {
			utm1 := []float64(prev[b])
			if t > 0 {
				utm1 = u[t-1][b]
			}
			aX[t][b] = lqr.State(linalg.Concat(utm1, x[t][b]))
		}
	}
	aXInit := make([]lqr.State, nb)
	for b := 0; b < nb; b++ {
		aXInit[b] = lqr.State(linalg.Concat(prev[b], xInit[b]))
	}

	var trueDx lqr.DxSpec
	if p.dx.IsLin() {
		trueDx = lqr.DxSpec{Lin: &lqr.LinDx{F: aF, Bias: af}}
	} else {
		trueDx = lqr.DxSpec{Fn: ctrlPassthrough{p.dx.Fn}}
	}

	step := &lqr.Step{
		NState: na, NCtrl: m, T: T,
		ULower: p.lower, UUpper: p.upper, UZero: p.uzero,
		DeltaU:            opts.DeltaU,
		LinesearchDecay:   opts.LinesearchDecay,
		MaxLinesearchIter: opts.MaxLinesearchIter,
		DeltaSpace:        true,
		TrueCost:          lqr.CostSpec{Quad: &lqr.QuadCost{C: aC, Lin: ac}},
		TrueDx:            trueDx,
		CurrentX:          aX,
		CurrentU:          u,
		BackEps:           opts.BackEps,
		NoOpForward:       noOp,
		Log:               opts.Log,
	}
	res, err := step.Solve(aXInit, aC, ac, aF, af)
	if err != nil {
		return nil, err
	}

	// Project the augmented states back to the original dimension.
	px := make([][]lqr.State, T)
	for t := 0; t < T; t++ {
		px[t] = make([]lqr.State, nb)
		for b := 0; b < nb; b++ {
			px[t][b] = lqr.State(res.X[t][b][m:]).Clone()
		}
	}
	return &subResult{
		step: step, res: res, x: px, u: res.U,
		C: aC, c: ac, F: aF, f: af, slew: true,
	}, nil
}

// ctrlPassthrough advances the augmented state [u_{t-1}; x] by copying the
// control into the first block and applying the wrapped dynamics to the rest.
type ctrlPassthrough struct {
	inner lqr.Dynamics
}

func (d ctrlPassthrough) Apply(x lqr.State, u lqr.Control) lqr.State {
	m := d.inner.ControlDim()
	next := d.inner.Apply(lqr.State(x[m:]).Clone(), u)
	return lqr.State(linalg.Concat(u, next))
}

func (d ctrlPassthrough) StateDim() int   { return d.inner.StateDim() + d.inner.ControlDim() }
func (d ctrlPassthrough) ControlDim() int { return d.inner.ControlDim() }

// augmentGrads lifts trajectory gradients into augmented coordinates: the
// copied previous-control block carries no direct loss dependence.
func augmentGrads(g lqr.Grads, m int) lqr.Grads {
	out := lqr.Grads{X: make([][][]float64, len(g.X)), U: g.U}
	for t := range g.X {
		out.X[t] = make([][]float64, len(g.X[t]))
		for b := range g.X[t] {
			out.X[t][b] = linalg.Concat(make([]float64, m), g.X[t][b])
		}
	}
	return out
}

// projectParamGrads maps gradients of the augmented problem data back to
// the original problem's blocks. The slew blocks and the passthrough rows
// of the augmented dynamics are constants of the reformulation.
func projectParamGrads(pg *lqr.ParamGrads, n, m int) *lqr.ParamGrads {
	nTau := n + m
	out := &lqr.ParamGrads{
		XInit: make([][]float64, len(pg.XInit)),
		C:     make([][]*mat.Dense, len(pg.C)),
		Lin:   make([][][]float64, len(pg.Lin)),
		F:     make([][]*mat.Dense, len(pg.F)),
	}
	if pg.Bias != nil {
		out.Bias = make([][][]float64, len(pg.Bias))
	}
	for b := range pg.XInit {
		out.XInit[b] = append([]float64(nil), pg.XInit[b][m:]...)
	}
	for t := range pg.C {
		out.C[t] = make([]*mat.Dense, len(pg.C[t]))
		out.Lin[t] = make([][]float64, len(pg.Lin[t]))
		for b := range pg.C[t] {
			dC := mat.NewDense(nTau, nTau, nil)
			dC.Copy(pg.C[t][b].Slice(m, m+nTau, m, m+nTau))
			out.C[t][b] = dC
			out.Lin[t][b] = append([]float64(nil), pg.Lin[t][b][m:]...)
		}
	}
	for t := range pg.F {
		out.F[t] = make([]*mat.Dense, len(pg.F[t]))
		if out.Bias != nil {
			out.Bias[t] = make([][]float64, len(pg.F[t]))
		}
		for b := range pg.F[t] {
			dF := mat.NewDense(n, nTau, nil)
			dF.Copy(pg.F[t][b].Slice(m, m+n, m, m+nTau))
			out.F[t][b] = dF
			if out.Bias != nil {
				out.Bias[t][b] = append([]float64(nil), pg.Bias[t][b][m:]...)
			}
		}
	}
	return out
}
