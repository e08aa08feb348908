// Package approx builds local affine and quadratic models of nonlinear
// dynamics and costs around a nominal trajectory, using analytic Jacobians
// when the model provides them and symmetric finite differences otherwise.
package approx

import (
	"errors"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/ilqr/internal/linalg"
	"github.com/san-kum/ilqr/internal/lqr"
)

// ErrMethod indicates the requested differentiation method is unavailable
// for the given model.
var ErrMethod = errors.New("approx: analytic jacobians unavailable")

// Method selects how Jacobians of the dynamics are obtained.
type Method int

const (
	// Auto uses analytic Jacobians when the model implements
	// lqr.Differentiable and finite differences otherwise.
	Auto Method = iota
	// Analytic requires lqr.Differentiable.
	Analytic
	// FiniteDiff always uses finite differences.
	FiniteDiff
	// AnalyticCheck uses analytic Jacobians but compares them against
	// finite differences and warns on disagreement.
	AnalyticCheck
)

// Options tune the model building.
type Options struct {
	Method   Method
	Eps      float64 // finite-difference perturbation, default 1e-3
	CheckTol float64 // disagreement threshold for AnalyticCheck, default 1e-2
	Log      *lqr.Logger
}

func (o Options) withDefaults() Options {
	if o.Eps == 0 {
		o.Eps = 1e-3
	}
	if o.CheckTol == 0 {
		o.CheckTol = 1e-2
	}
	return o
}

// LinearizeDynamics expands the dynamics around each trajectory point into
// the affine model x_{t+1} = F_t [x; u] + f_t with
//
//	F_t = [df/dx  df/du],  f_t = dyn(x_t, u_t) - F_t [x_t; u_t]
//
// so that evaluating the model at the expansion point reproduces the
// dynamics exactly. The result covers steps 0..T-2.
func LinearizeDynamics(dyn lqr.Dynamics, x [][]lqr.State, u [][]lqr.Control, opts Options) (*lqr.LinDx, error) {
	opts = opts.withDefaults()
	T := len(x)
	nb := len(x[0])

	diff, hasDiff := dyn.(lqr.Differentiable)
	switch opts.Method {
	case Analytic, AnalyticCheck:
		if !hasDiff {
			return nil, ErrMethod
		}
	case FiniteDiff:
		hasDiff = false
	}

	out := &lqr.LinDx{
		F:    make([][]*mat.Dense, T-1),
		Bias: make([][][]float64, T-1),
	}
	for t := 0; t < T-1; t++ {
		out.F[t] = make([]*mat.Dense, nb)
		out.Bias[t] = make([][]float64, nb)
	}

	linalg.ParallelFor(nb, 2, func(start, end int) {
		for b := start; b < end; b++ {
			for t := 0; t < T-1; t++ {
				xt, ut := x[t][b], u[t][b]

				var F *mat.Dense
				if hasDiff {
					jx, ju := diff.Jacobian(xt, ut)
					F = hcat(jx, ju)
					if opts.Method == AnalyticCheck {
						fd := fdJacobian(dyn, xt, ut, opts.Eps)
						if d := matMaxDiff(F, fd); d > opts.CheckTol {
							opts.Log.Warnf("analytic jacobian differs from finite differences by %.3g at step %d", d, t)
						}
					}
				} else {
					F = fdJacobian(dyn, xt, ut, opts.Eps)
				}

				tau := linalg.Concat(xt, ut)
				next := dyn.Apply(xt, ut)
				bias := linalg.Sub(next, linalg.MulVec(F, tau))

				out.F[t][b] = F
				out.Bias[t][b] = bias
			}
		}
	})
	return out, nil
}

// QuadratizeCost expands the stage cost around each trajectory point into
// the quadratic model 0.5 tauᵀ C_t tau + c_tᵀ tau with
//
//	C_t = d²cost/dtau²,  c_t = dcost/dtau - C_t tau_t
//
// centered so the model's gradient at the expansion point matches the true
// gradient. Returns the model and the true stage costs along the trajectory.
func QuadratizeCost(cost lqr.Cost, x [][]lqr.State, u [][]lqr.Control, opts Options) (*lqr.QuadCost, [][]float64, error) {
	opts = opts.withDefaults()
	T := len(x)
	nb := len(x[0])

	gradFn := func(tau []float64) []float64 {
		if gc, ok := cost.(lqr.GradCost); ok {
			return gc.Grad(tau)
		}
		return linalg.Gradient(cost.Evaluate, tau, opts.Eps)
	}

	out := &lqr.QuadCost{
		C:   make([][]*mat.Dense, T),
		Lin: make([][][]float64, T),
	}
	costs := make([][]float64, T)
	for t := 0; t < T; t++ {
		out.C[t] = make([]*mat.Dense, nb)
		out.Lin[t] = make([][]float64, nb)
		costs[t] = make([]float64, nb)
	}

	linalg.ParallelFor(nb, 2, func(start, end int) {
		for b := start; b < end; b++ {
			for t := 0; t < T; t++ {
				tau := linalg.Concat(x[t][b], u[t][b])

				var H *mat.Dense
				if hc, ok := cost.(lqr.HessCost); ok {
					H = hc.Hess(tau)
				} else {
					H = linalg.Jacobian(gradFn, tau, opts.Eps)
				}
				H = linalg.Symmetrize(H)

				grad := gradFn(tau)
				out.C[t][b] = H
				out.Lin[t][b] = linalg.Sub(grad, linalg.MulVec(H, tau))
				costs[t][b] = cost.Evaluate(tau)
			}
		}
	})
	return out, costs, nil
}

func fdJacobian(dyn lqr.Dynamics, x lqr.State, u lqr.Control, eps float64) *mat.Dense {
	n := dyn.StateDim()
	tau := linalg.Concat(x, u)
	return linalg.Jacobian(func(v []float64) []float64 {
		return dyn.Apply(lqr.State(v[:n]), lqr.Control(v[n:]))
	}, tau, eps)
}

func hcat(a, b *mat.Dense) *mat.Dense {
	r, ca := a.Dims()
	_, cb := b.Dims()
	out := mat.NewDense(r, ca+cb, nil)
	out.Slice(0, r, 0, ca).(*mat.Dense).Copy(a)
	out.Slice(0, r, ca, ca+cb).(*mat.Dense).Copy(b)
	return out
}

func matMaxDiff(a, b *mat.Dense) float64 {
	r, c := a.Dims()
	max := 0.0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			d := a.At(i, j) - b.At(i, j)
			if d < 0 {
				d = -d
			}
			if d > max {
				max = d
			}
		}
	}
	return max
}
