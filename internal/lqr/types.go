// Package lqr contains the core types and the single-iteration solver for
// box-constrained linear-quadratic trajectory optimization: a backward
// Riccati recursion with per-step box-QP solves, a forward rollout with a
// backtracking line search, and an explicit gradient (backward) pass built
// on the KKT conditions at the converged solution.
package lqr

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// State is a system state vector.
type State []float64

// Control is a control input vector.
type Control []float64

func (s State) Clone() State {
	c := make(State, len(s))
	copy(c, s)
	return c
}

func (s State) IsValid() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (s State) Norm() float64 {
	sum := 0.0
	for _, v := range s {
		sum += v * v
	}
	return math.Sqrt(sum)
}

func (u Control) Clone() Control {
	c := make(Control, len(u))
	copy(c, u)
	return c
}

// QuadCost is a per-step, per-batch quadratic stage cost
//
//	cost_t(tau) = 0.5 tauᵀ C_t tau + c_tᵀ tau,  tau = [x; u]
//
// indexed [t][b]. C blocks are (n_state+n_ctrl) square; the linear terms
// have length n_state+n_ctrl.
type QuadCost struct {
	C   [][]*mat.Dense
	Lin [][][]float64
}

// LinDx is a per-step, per-batch affine dynamics approximation
//
//	x_{t+1} = F_t [x_t; u_t] + f_t
//
// indexed [t][b] for t in [0, T-2]. Bias is optional; nil means a zero
// offset.
type LinDx struct {
	F    [][]*mat.Dense
	Bias [][][]float64
}

// Dynamics is a discrete-time model advancing the state one step.
type Dynamics interface {
	Apply(x State, u Control) State
	StateDim() int
	ControlDim() int
}

// Differentiable dynamics expose analytic Jacobians of Apply with respect
// to the state and the control.
type Differentiable interface {
	Jacobian(x State, u Control) (jx, ju *mat.Dense)
}

// Cost evaluates a scalar stage cost over tau = [x; u].
type Cost interface {
	Evaluate(tau []float64) float64
}

// GradCost is a cost that also exposes its gradient.
type GradCost interface {
	Cost
	Grad(tau []float64) []float64
}

// HessCost is a cost that also exposes its Hessian.
type HessCost interface {
	GradCost
	Hess(tau []float64) *mat.Dense
}

// CostSpec is a tagged variant: exactly one of Quad or Fn is set. The
// branch on representation happens once at the solver boundary.
type CostSpec struct {
	Quad *QuadCost
	Fn   Cost
}

// IsQuad reports whether the closed quadratic form is set.
func (cs CostSpec) IsQuad() bool { return cs.Quad != nil }

// DxSpec is a tagged variant: exactly one of Lin or Fn is set.
type DxSpec struct {
	Lin *LinDx
	Fn  Dynamics
}

// IsLin reports whether the closed affine form is set.
func (ds DxSpec) IsLin() bool { return ds.Lin != nil }

// Grads are upstream gradients of a scalar loss with respect to a solved
// trajectory, indexed [t][b].
type Grads struct {
	X [][][]float64
	U [][][]float64
}

// ParamGrads are gradients of the loss with respect to the LQR problem
// data, with the same indexing as the corresponding inputs. Bias is nil
// when the forward problem carried no dynamics offset.
type ParamGrads struct {
	XInit [][]float64
	C     [][]*mat.Dense
	Lin   [][][]float64
	F     [][]*mat.Dense
	Bias  [][][]float64
}
