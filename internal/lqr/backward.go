package lqr

import (
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/ilqr/internal/linalg"
)

// boundTol decides whether a solved control component sits on a bound when
// reconstructing the clamped set for differentiation.
const boundTol = 1e-8

// Backward computes gradients of a scalar loss with respect to the problem
// data (C, c, F, f, x_init) at a solved trajectory, without replaying the
// solver iterations. At the solution the policy satisfies the first-order
// optimality conditions of the per-step QP restricted to the free control
// indices; differentiating those conditions reduces to one more LQR solve
// of the same problem with linear cost -r (r being the incoming trajectory
// gradients), zero initial state and the clamped components frozen, followed
// by closed-form outer products with the costates.
//
// Elements flagged in skip contribute zero gradient (detached).
func (s *Step) Backward(res *StepResult, C [][]*mat.Dense, c [][][]float64, F [][]*mat.Dense, f [][][]float64, g Grads, skip []bool) (*ParamGrads, error) {
	nb := s.nBatch()
	n, m := s.NState, s.NCtrl
	nTau := n + m
	if len(g.X) != s.T || len(g.U) != s.T {
		return nil, ErrShape
	}

	// Trajectory gradients, with detached elements zeroed.
	negr := make([][][]float64, s.T)
	for t := 0; t < s.T; t++ {
		negr[t] = make([][]float64, nb)
		for b := 0; b < nb; b++ {
			r := linalg.Concat(g.X[t][b], g.U[t][b])
			if skip != nil && skip[b] {
				r = make([]float64, nTau)
			}
			negr[t][b] = linalg.Scale(-1, r)
		}
	}

	// Clamped set at the solution: components pinned at a bound hold their
	// value regardless of parameter perturbations, so they are frozen at
	// zero in the differential problem.
	var mask [][][]bool
	if s.ULower != nil || s.UZero != nil {
		mask = make([][][]bool, s.T)
		for t := 0; t < s.T; t++ {
			mask[t] = make([][]bool, nb)
			for b := 0; b < nb; b++ {
				mask[t][b] = make([]bool, m)
				for i := 0; i < m; i++ {
					if s.UZero != nil && s.UZero[t][b][i] {
						mask[t][b][i] = true
					}
					if s.ULower != nil {
						u := res.U[t][b][i]
						if abs(u-s.ULower[t][b][i]) <= boundTol || abs(u-s.UUpper[t][b][i]) <= boundTol {
							mask[t][b][i] = true
						}
					}
				}
			}
		}
	}

	zeroX := make([][]State, s.T)
	zeroU := make([][]Control, s.T)
	for t := 0; t < s.T; t++ {
		zeroX[t] = make([]State, nb)
		zeroU[t] = make([]Control, nb)
		for b := 0; b < nb; b++ {
			zeroX[t][b] = make(State, n)
			zeroU[t][b] = make(Control, m)
		}
	}
	zeroInit := make([]State, nb)
	for b := range zeroInit {
		zeroInit[b] = make(State, n)
	}

	diffCost := &QuadCost{C: C, Lin: negr}
	inner := &Step{
		NState: n, NCtrl: m, T: s.T,
		UZero:             mask,
		LinesearchDecay:   s.LinesearchDecay,
		MaxLinesearchIter: 1,
		DeltaSpace:        true,
		TrueCost:          CostSpec{Quad: diffCost},
		TrueDx:            DxSpec{Lin: &LinDx{F: F}},
		CurrentX:          zeroX,
		CurrentU:          zeroU,
		BackEps:           s.BackEps,
	}
	dres, err := inner.Solve(zeroInit, C, negr, F, nil)
	if err != nil {
		return nil, err
	}

	out := &ParamGrads{
		XInit: make([][]float64, nb),
		C:     make([][]*mat.Dense, s.T),
		Lin:   make([][][]float64, s.T),
		F:     make([][]*mat.Dense, s.T-1),
	}
	if f != nil {
		out.Bias = make([][][]float64, s.T-1)
	}

	// dC = -0.5 (dtau tauᵀ + tau dtauᵀ), dc = -dtau.
	dxu := make([][][]float64, s.T)
	xu := make([][][]float64, s.T)
	for t := 0; t < s.T; t++ {
		out.C[t] = make([]*mat.Dense, nb)
		out.Lin[t] = make([][]float64, nb)
		dxu[t] = make([][]float64, nb)
		xu[t] = make([][]float64, nb)
		for b := 0; b < nb; b++ {
			d := linalg.Concat(dres.X[t][b], dres.U[t][b])
			if skip != nil && skip[b] {
				d = make([]float64, nTau)
			}
			tau := linalg.Concat(res.X[t][b], res.U[t][b])
			dxu[t][b] = d
			xu[t][b] = tau

			dC := mat.NewDense(nTau, nTau, nil)
			dC.Add(linalg.Outer(d, tau), linalg.Outer(tau, d))
			dC.Scale(-0.5, dC)
			out.C[t][b] = dC
			out.Lin[t][b] = linalg.Scale(-1, d)
		}
	}

	// Costates of the solved problem and of the differential problem,
	// recursed backward through the state rows of F.
	for t := 0; t < s.T-1; t++ {
		out.F[t] = make([]*mat.Dense, nb)
		if out.Bias != nil {
			out.Bias[t] = make([][]float64, nb)
		}
	}
	for b := 0; b < nb; b++ {
		lams := make([][]float64, s.T)
		dlams := make([][]float64, s.T)
		for t := s.T - 1; t >= 0; t-- {
			Cxx := denseSlice(C[t][b], 0, n, 0, n)
			Cxu := denseSlice(C[t][b], 0, n, n, nTau)
			cx := c[t][b][:n]

			lam := linalg.Add(linalg.Add(linalg.MulVec(Cxx, res.X[t][b]), linalg.MulVec(Cxu, res.U[t][b])), cx)
			dlam := linalg.Sub(linalg.Add(linalg.MulVec(Cxx, dres.X[t][b]), linalg.MulVec(Cxu, dres.U[t][b])), linalg.Scale(-1, negr[t][b])[:n])
			if t < s.T-1 {
				Fx := denseSlice(F[t][b], 0, n, 0, n)
				lam = linalg.Add(lam, linalg.MulVecT(Fx, lams[t+1]))
				dlam = linalg.Add(dlam, linalg.MulVecT(Fx, dlams[t+1]))
			}
			lams[t] = lam
			dlams[t] = dlam
		}

		if skip != nil && skip[b] {
			out.XInit[b] = make([]float64, n)
			for t := 0; t < s.T-1; t++ {
				out.F[t][b] = mat.NewDense(n, nTau, nil)
				if out.Bias != nil {
					out.Bias[t][b] = make([]float64, n)
				}
			}
			continue
		}

		for t := 0; t < s.T-1; t++ {
			dF := mat.NewDense(n, nTau, nil)
			dF.Add(linalg.Outer(dlams[t+1], xu[t][b]), linalg.Outer(lams[t+1], dxu[t][b]))
			dF.Scale(-1, dF)
			out.F[t][b] = dF
			if out.Bias != nil {
				out.Bias[t][b] = linalg.Scale(-1, dlams[t+1])
			}
		}
		out.XInit[b] = linalg.Scale(-1, dlams[0])
	}

	return out, nil
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
