package models

import (
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/ilqr/internal/linalg"
	"github.com/san-kum/ilqr/internal/lqr"
)

// LinearSystem is the discrete-time system x_{t+1} = A x + B u.
type LinearSystem struct {
	A *mat.Dense
	B *mat.Dense
}

// NewDoubleIntegrator builds a position/velocity integrator with force
// input, discretized at step dt.
func NewDoubleIntegrator(dt float64) *LinearSystem {
	return &LinearSystem{
		A: mat.NewDense(2, 2, []float64{1, dt, 0, 1}),
		B: mat.NewDense(2, 1, []float64{0.5 * dt * dt, dt}),
	}
}

func (s *LinearSystem) StateDim() int {
	r, _ := s.A.Dims()
	return r
}

func (s *LinearSystem) ControlDim() int {
	_, c := s.B.Dims()
	return c
}

func (s *LinearSystem) Apply(x lqr.State, u lqr.Control) lqr.State {
	return linalg.Add(linalg.MulVec(s.A, x), linalg.MulVec(s.B, u))
}

func (s *LinearSystem) Jacobian(x lqr.State, u lqr.Control) (jx, ju *mat.Dense) {
	return mat.DenseCopyOf(s.A), mat.DenseCopyOf(s.B)
}
