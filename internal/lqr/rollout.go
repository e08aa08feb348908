package lqr

import (
	"github.com/san-kum/ilqr/internal/linalg"
)

// Rollout rolls a control sequence forward from the initial states through
// the dynamics. The result is indexed [t][b] with x[0] = xInit.
func Rollout(T int, xInit []State, u [][]Control, dx DxSpec) [][]State {
	nb := len(xInit)
	x := make([][]State, T)
	x[0] = make([]State, nb)
	for b := range xInit {
		x[0][b] = xInit[b].Clone()
	}
	for t := 0; t < T-1; t++ {
		x[t+1] = make([]State, nb)
		for b := 0; b < nb; b++ {
			x[t+1][b] = stepDynamics(dx, t, b, x[t][b], u[t][b])
		}
	}
	return x
}

// stepDynamics advances one state through either the affine model at (t, b)
// or the dynamics callable.
func stepDynamics(dx DxSpec, t, b int, x State, u Control) State {
	if dx.IsLin() {
		tau := linalg.Concat(x, u)
		next := linalg.MulVec(dx.Lin.F[t][b], tau)
		if dx.Lin.Bias != nil {
			next = linalg.Add(next, dx.Lin.Bias[t][b])
		}
		return next
	}
	return dx.Fn.Apply(x, u)
}

// TrajCost sums the stage costs of a trajectory per batch element.
func TrajCost(x [][]State, u [][]Control, cost CostSpec) []float64 {
	T := len(x)
	nb := len(x[0])
	total := make([]float64, nb)
	for t := 0; t < T; t++ {
		for b := 0; b < nb; b++ {
			tau := linalg.Concat(x[t][b], u[t][b])
			if cost.IsQuad() {
				total[b] += 0.5*linalg.Quad(tau, cost.Quad.C[t][b]) + linalg.Dot(cost.Quad.Lin[t][b], tau)
			} else {
				total[b] += cost.Fn.Evaluate(tau)
			}
		}
	}
	return total
}
