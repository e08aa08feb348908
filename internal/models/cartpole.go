package models

import (
	"math"

	"github.com/san-kum/ilqr/internal/lqr"
)

// CartPole is a cart with an unactuated pole, state
// (position, velocity, theta, omega) with theta = 0 upright. The force
// input acts on the cart. Discretized with an RK4 step; Jacobians come
// from finite differences.
type CartPole struct {
	CartMass   float64
	PoleMass   float64
	PoleLength float64
	Gravity    float64
	DT         float64
}

func NewCartPole(dt float64) *CartPole {
	return &CartPole{
		CartMass:   1.0,
		PoleMass:   0.1,
		PoleLength: 1.0,
		Gravity:    9.81,
		DT:         dt,
	}
}

func (c *CartPole) StateDim() int {
	return 4
}

func (c *CartPole) ControlDim() int {
	return 1
}

func (c *CartPole) Derivative(x lqr.State, u lqr.Control) lqr.State {
	vel := x[1]
	theta := x[2]
	omega := x[3]

	force := 0.0
	if len(u) > 0 {
		force = u[0]
	}

	mc := c.CartMass
	mp := c.PoleMass
	l := c.PoleLength
	g := c.Gravity

	sint := math.Sin(theta)
	cost := math.Cos(theta)

	temp := (force + mp*l*omega*omega*sint) / (mc + mp)
	thetaAcc := (g*sint - cost*temp) / (l * (4.0/3.0 - mp*cost*cost/(mc+mp)))
	xAcc := temp - mp*l*thetaAcc*cost/(mc+mp)

	return lqr.State{vel, xAcc, omega, thetaAcc}
}

func (c *CartPole) Apply(x lqr.State, u lqr.Control) lqr.State {
	return rk4Step(c, x, u, c.DT)
}
