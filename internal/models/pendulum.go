package models

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/ilqr/internal/lqr"
)

// Pendulum is a damped torque-driven pendulum with state (theta, omega),
// theta = 0 hanging down. Discretized with a forward Euler step so its
// Jacobians stay analytic.
type Pendulum struct {
	Mass    float64
	Length  float64
	Damping float64
	Gravity float64
	DT      float64
}

func NewPendulum(dt float64) *Pendulum {
	return &Pendulum{
		Mass:    1.0,
		Length:  1.0,
		Damping: 0.1,
		Gravity: 9.81,
		DT:      dt,
	}
}

func (p *Pendulum) StateDim() int {
	return 2
}

func (p *Pendulum) ControlDim() int {
	return 1
}

func (p *Pendulum) Derivative(x lqr.State, u lqr.Control) lqr.State {
	theta := x[0]
	omega := x[1]

	torque := 0.0
	if len(u) > 0 {
		torque = u[0]
	}
	inertia := p.Mass * p.Length * p.Length
	alpha := (-p.Damping*omega - p.Mass*p.Gravity*p.Length*math.Sin(theta) + torque) / inertia

	return lqr.State{omega, alpha}
}

func (p *Pendulum) Apply(x lqr.State, u lqr.Control) lqr.State {
	d := p.Derivative(x, u)
	return lqr.State{x[0] + p.DT*d[0], x[1] + p.DT*d[1]}
}

func (p *Pendulum) Jacobian(x lqr.State, u lqr.Control) (jx, ju *mat.Dense) {
	theta := x[0]
	inertia := p.Mass * p.Length * p.Length

	dadTheta := -p.Gravity * math.Cos(theta) / p.Length
	dadOmega := -p.Damping / inertia

	jx = mat.NewDense(2, 2, []float64{
		1, p.DT,
		p.DT * dadTheta, 1 + p.DT*dadOmega,
	})
	ju = mat.NewDense(2, 1, []float64{0, p.DT / inertia})
	return jx, ju
}

// Energy is the total mechanical energy relative to the hanging rest state.
func (p *Pendulum) Energy(x lqr.State) float64 {
	kinetic := 0.5 * p.Mass * p.Length * p.Length * x[1] * x[1]
	potential := p.Mass * p.Gravity * p.Length * (1 - math.Cos(x[0]))
	return kinetic + potential
}
