// Package models contains example dynamics for the trajectory optimizer: a
// generic discrete-time linear system, a damped pendulum and a cartpole.
// The nonlinear models expose continuous-time derivatives and are
// discretized with a fixed-step integrator.
package models

import (
	"github.com/san-kum/ilqr/internal/lqr"
)

// Continuous is a continuous-time model exposing its state derivative.
type Continuous interface {
	Derivative(x lqr.State, u lqr.Control) lqr.State
	StateDim() int
	ControlDim() int
}

// rk4Step advances x by one fourth-order Runge-Kutta step of size dt under
// a zero-order hold on u.
func rk4Step(m Continuous, x lqr.State, u lqr.Control, dt float64) lqr.State {
	n := len(x)
	k1 := m.Derivative(x, u)

	mid := make(lqr.State, n)
	for i := 0; i < n; i++ {
		mid[i] = x[i] + dt*0.5*k1[i]
	}
	k2 := m.Derivative(mid, u)

	for i := 0; i < n; i++ {
		mid[i] = x[i] + dt*0.5*k2[i]
	}
	k3 := m.Derivative(mid, u)

	end := make(lqr.State, n)
	for i := 0; i < n; i++ {
		end[i] = x[i] + dt*k3[i]
	}
	k4 := m.Derivative(end, u)

	next := make(lqr.State, n)
	dt6 := dt / 6.0
	for i := 0; i < n; i++ {
		next[i] = x[i] + dt6*(k1[i]+2*k2[i]+2*k3[i]+k4[i])
	}
	return next
}
