package lqr

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestRolloutAffine(t *testing.T) {
	// x_{t+1} = x_t + u_t + 0.5 with x_0 = 1, u = 0.25 everywhere.
	T, nb := 4, 2
	F := make([][]*mat.Dense, T-1)
	bias := make([][][]float64, T-1)
	for i := 0; i < T-1; i++ {
		F[i] = make([]*mat.Dense, nb)
		bias[i] = make([][]float64, nb)
		for b := 0; b < nb; b++ {
			F[i][b] = mat.NewDense(1, 2, []float64{1, 1})
			bias[i][b] = []float64{0.5}
		}
	}
	xInit := []State{{1}, {1}}
	u := make([][]Control, T)
	for i := range u {
		u[i] = []Control{{0.25}, {0.25}}
	}

	x := Rollout(T, xInit, u, DxSpec{Lin: &LinDx{F: F, Bias: bias}})
	for b := 0; b < nb; b++ {
		want := 1.0
		for i := 0; i < T; i++ {
			if math.Abs(x[i][b][0]-want) > 1e-12 {
				t.Errorf("batch %d step %d: got %v, want %v", b, i, x[i][b][0], want)
			}
			want += 0.75
		}
	}
}

type doubleDx struct{}

func (doubleDx) Apply(x State, u Control) State { return State{2*x[0] + u[0]} }
func (doubleDx) StateDim() int                  { return 1 }
func (doubleDx) ControlDim() int                { return 1 }

func TestRolloutCallable(t *testing.T) {
	u := [][]Control{{{0}}, {{1}}, {{0}}}
	x := Rollout(3, []State{{1}}, u, DxSpec{Fn: doubleDx{}})
	want := []float64{1, 2, 5}
	for i, w := range want {
		if math.Abs(x[i][0][0]-w) > 1e-12 {
			t.Errorf("step %d: got %v, want %v", i, x[i][0][0], w)
		}
	}
}

func TestTrajCostQuadratic(t *testing.T) {
	// One step, identity C, lin = [1, -1], tau = [2, 3].
	C := [][]*mat.Dense{{mat.NewDense(2, 2, []float64{1, 0, 0, 1})}}
	lin := [][][]float64{{{1, -1}}}
	x := [][]State{{{2}}}
	u := [][]Control{{{3}}}
	got := TrajCost(x, u, CostSpec{Quad: &QuadCost{C: C, Lin: lin}})
	want := 0.5*(4+9) + (2 - 3)
	if math.Abs(got[0]-want) > 1e-12 {
		t.Errorf("got %v, want %v", got[0], want)
	}
}
