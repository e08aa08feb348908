package lqr

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// scalarLQ builds the scalar problem x_{t+1} = x_t + u_t with stage cost
// 0.5 x^2 + 0.5 u^2 over T steps for nb batch elements.
func scalarLQ(T, nb int) (C [][]*mat.Dense, c [][][]float64, F [][]*mat.Dense) {
	C = make([][]*mat.Dense, T)
	c = make([][][]float64, T)
	for t := 0; t < T; t++ {
		C[t] = make([]*mat.Dense, nb)
		c[t] = make([][]float64, nb)
		for b := 0; b < nb; b++ {
			C[t][b] = mat.NewDense(2, 2, []float64{1, 0, 0, 1})
			c[t][b] = []float64{0, 0}
		}
	}
	F = make([][]*mat.Dense, T-1)
	for t := 0; t < T-1; t++ {
		F[t] = make([]*mat.Dense, nb)
		for b := 0; b < nb; b++ {
			F[t][b] = mat.NewDense(1, 2, []float64{1, 1})
		}
	}
	return C, c, F
}

func zeroNominal(T, nb, n, m int) ([][]State, [][]Control) {
	x := make([][]State, T)
	u := make([][]Control, T)
	for t := 0; t < T; t++ {
		x[t] = make([]State, nb)
		u[t] = make([]Control, nb)
		for b := 0; b < nb; b++ {
			x[t][b] = make(State, n)
			u[t][b] = make(Control, m)
		}
	}
	return x, u
}

func scalarStep(T, nb int, C [][]*mat.Dense, c [][][]float64, F [][]*mat.Dense) *Step {
	x, u := zeroNominal(T, nb, 1, 1)
	return &Step{
		NState: 1, NCtrl: 1, T: T,
		LinesearchDecay:   0.2,
		MaxLinesearchIter: 10,
		DeltaSpace:        true,
		TrueCost:          CostSpec{Quad: &QuadCost{C: C, Lin: c}},
		TrueDx:            DxSpec{Lin: &LinDx{F: F}},
		CurrentX:          x,
		CurrentU:          u,
		BackEps:           1e-10,
	}
}

func TestStepImprovesScalarProblem(t *testing.T) {
	T := 5
	C, c, F := scalarLQ(T, 1)
	s := scalarStep(T, 1, C, c, F)
	res, err := s.Solve([]State{{1}}, C, c, F, nil)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	// Nominal is zero controls from x=1, costing T/2.
	if !res.Improved[0] {
		t.Error("expected an improving step")
	}
	if res.Costs[0] >= float64(T)/2 {
		t.Errorf("cost %v did not improve on nominal %v", res.Costs[0], float64(T)/2)
	}
	if res.Alphas[0] != 1 {
		t.Errorf("exact problem should accept the full step, alpha = %v", res.Alphas[0])
	}
	if res.Degenerate[0] {
		t.Error("unexpected degeneracy")
	}
	if res.FullDuNorm[0] <= 0 {
		t.Errorf("FullDuNorm = %v, want > 0", res.FullDuNorm[0])
	}
}

func TestStepExactOnQuadraticProblem(t *testing.T) {
	// One step lands on the optimum, so a second step around the solution
	// produces a vanishing control update.
	T := 5
	C, c, F := scalarLQ(T, 1)
	s := scalarStep(T, 1, C, c, F)
	res, err := s.Solve([]State{{1}}, C, c, F, nil)
	if err != nil {
		t.Fatalf("first Solve: %v", err)
	}

	s2 := scalarStep(T, 1, C, c, F)
	s2.CurrentX = res.X
	s2.CurrentU = res.U
	res2, err := s2.Solve([]State{{1}}, C, c, F, nil)
	if err != nil {
		t.Fatalf("second Solve: %v", err)
	}
	if res2.FullDuNorm[0] > 1e-8 {
		t.Errorf("update norm at the optimum = %v, want ~0", res2.FullDuNorm[0])
	}
	if res2.Costs[0] > res.Costs[0]+1e-10 {
		t.Errorf("second step worsened cost: %v -> %v", res.Costs[0], res2.Costs[0])
	}
}

func TestStepExactFromShiftedNominal(t *testing.T) {
	// On a linear-quadratic problem a single step is exact from any nominal
	// that is a rollout of the dynamics, not just the zero trajectory. The
	// shifted expansion must reproduce the same optimum the zero-nominal
	// step finds, and a further step from it must not move.
	T := 5
	C, c, F := scalarLQ(T, 1)

	s := scalarStep(T, 1, C, c, F)
	ref, err := s.Solve([]State{{1}}, C, c, F, nil)
	if err != nil {
		t.Fatalf("reference Solve: %v", err)
	}

	s2 := scalarStep(T, 1, C, c, F)
	x := 1.0
	for i := 0; i < T; i++ {
		s2.CurrentX[i][0][0] = x
		s2.CurrentU[i][0][0] = -0.3
		x += -0.3
	}
	res, err := s2.Solve([]State{{1}}, C, c, F, nil)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if res.Alphas[0] != 1 {
		t.Errorf("exact problem should accept the full step, alpha = %v", res.Alphas[0])
	}
	if math.Abs(res.Costs[0]-ref.Costs[0]) > 1e-9 {
		t.Errorf("cost from shifted nominal = %v, want %v", res.Costs[0], ref.Costs[0])
	}
	for i := 0; i < T; i++ {
		if math.Abs(res.U[i][0][0]-ref.U[i][0][0]) > 1e-9 {
			t.Errorf("u[%d] = %v, want %v", i, res.U[i][0][0], ref.U[i][0][0])
		}
	}

	s3 := scalarStep(T, 1, C, c, F)
	s3.CurrentX = res.X
	s3.CurrentU = res.U
	res3, err := s3.Solve([]State{{1}}, C, c, F, nil)
	if err != nil {
		t.Fatalf("Solve at the optimum: %v", err)
	}
	if res3.FullDuNorm[0] > 1e-8 {
		t.Errorf("update norm at the optimum = %v, want ~0", res3.FullDuNorm[0])
	}
}

func TestStepRespectsBounds(t *testing.T) {
	T, nb := 5, 2
	C, c, F := scalarLQ(T, nb)
	s := scalarStep(T, nb, C, c, F)

	lim := 0.075
	s.ULower = make([][][]float64, T)
	s.UUpper = make([][][]float64, T)
	for i := 0; i < T; i++ {
		s.ULower[i] = make([][]float64, nb)
		s.UUpper[i] = make([][]float64, nb)
		for b := 0; b < nb; b++ {
			s.ULower[i][b] = []float64{-lim}
			s.UUpper[i][b] = []float64{lim}
		}
	}

	res, err := s.Solve([]State{{1}, {-2}}, C, c, F, nil)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	for i := 0; i < T; i++ {
		for b := 0; b < nb; b++ {
			if u := res.U[i][b][0]; u < -lim-1e-9 || u > lim+1e-9 {
				t.Errorf("u[%d][%d] = %v outside [%v, %v]", i, b, u, -lim, lim)
			}
		}
	}
	// The unconstrained first move from x=1 exceeds the limit, so at least
	// one control should sit on a bound.
	onBound := false
	for i := 0; i < T; i++ {
		if math.Abs(math.Abs(res.U[i][0][0])-lim) < 1e-9 {
			onBound = true
		}
	}
	if !onBound {
		t.Error("expected an active bound for the x=1 element")
	}
}

func TestStepZeroedControls(t *testing.T) {
	T := 4
	C, c, F := scalarLQ(T, 1)
	s := scalarStep(T, 1, C, c, F)
	s.UZero = make([][][]bool, T)
	for i := 0; i < T; i++ {
		s.UZero[i] = [][]bool{{i == 1}}
	}

	res, err := s.Solve([]State{{1}}, C, c, F, nil)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if res.U[1][0][0] != 0 {
		t.Errorf("zeroed control = %v, want 0", res.U[1][0][0])
	}
	if res.U[0][0][0] == 0 {
		t.Error("free control unexpectedly zero")
	}
}

type nanDx struct{}

func (nanDx) Apply(x State, u Control) State { return State{math.NaN()} }
func (nanDx) StateDim() int                  { return 1 }
func (nanDx) ControlDim() int                { return 1 }

func TestStepDivergentRollout(t *testing.T) {
	T := 3
	C, c, F := scalarLQ(T, 1)
	s := scalarStep(T, 1, C, c, F)
	s.TrueDx = DxSpec{Fn: nanDx{}}

	res, err := s.Solve([]State{{1}}, C, c, F, nil)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if !math.IsInf(res.Costs[0], 1) {
		t.Errorf("diverged rollout cost = %v, want +Inf", res.Costs[0])
	}
	if res.Improved[0] {
		t.Error("diverged rollout reported as improved")
	}
	for i := 0; i < T; i++ {
		if res.X[i][0] == nil || res.U[i][0] == nil {
			t.Fatalf("trajectory has nil entries at step %d", i)
		}
	}
}

func TestStepLogsFailedLineSearch(t *testing.T) {
	T := 3
	C, c, F := scalarLQ(T, 1)
	s := scalarStep(T, 1, C, c, F)
	s.TrueDx = DxSpec{Fn: nanDx{}}
	var buf bytes.Buffer
	s.Log = &Logger{Level: LogDebug, Out: &buf}

	if _, err := s.Solve([]State{{1}}, C, c, F, nil); err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if !strings.Contains(buf.String(), "no improving step") {
		t.Errorf("debug log missing line-search report, got %q", buf.String())
	}
}

func TestStepNoOpForward(t *testing.T) {
	T := 4
	C, c, F := scalarLQ(T, 1)
	s := scalarStep(T, 1, C, c, F)
	s.CurrentX[0][0][0] = 1 // nominal starts at the initial state
	s.NoOpForward = true

	res, err := s.Solve([]State{{1}}, C, c, F, nil)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	for i := 0; i < T; i++ {
		if res.U[i][0][0] != s.CurrentU[i][0][0] {
			t.Errorf("controls changed under NoOpForward at step %d", i)
		}
	}
	if res.FullDuNorm[0] <= 0 {
		t.Errorf("FullDuNorm = %v, want the feedforward norm", res.FullDuNorm[0])
	}
}

func TestStepShapeValidation(t *testing.T) {
	T := 3
	C, c, F := scalarLQ(T, 1)
	s := scalarStep(T, 1, C, c, F)

	if _, err := s.Solve([]State{{1}, {2}}, C, c, F, nil); err != ErrShape {
		t.Errorf("batch mismatch: got %v, want ErrShape", err)
	}
	if _, err := s.Solve([]State{{1}}, C[:T-1], c[:T-1], F, nil); err != ErrShape {
		t.Errorf("short horizon: got %v, want ErrShape", err)
	}

	s.ULower = make([][][]float64, T)
	s.UUpper = nil
	if _, err := s.Solve([]State{{1}}, C, c, F, nil); err != ErrBounds {
		t.Errorf("one-sided bounds: got %v, want ErrBounds", err)
	}
}
