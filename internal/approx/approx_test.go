package approx

import (
	"math"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/ilqr/internal/linalg"
	"github.com/san-kum/ilqr/internal/lqr"
)

// affineDx is x_{t+1} = A x + B u + d with analytic Jacobians.
type affineDx struct {
	A, B *mat.Dense
	d    []float64
	skew float64 // deliberate Jacobian error for the check test
}

func (s *affineDx) Apply(x lqr.State, u lqr.Control) lqr.State {
	next := linalg.Add(linalg.Add(linalg.MulVec(s.A, x), linalg.MulVec(s.B, u)), s.d)
	return next
}

func (s *affineDx) StateDim() int   { return 2 }
func (s *affineDx) ControlDim() int { return 1 }

func (s *affineDx) Jacobian(x lqr.State, u lqr.Control) (jx, ju *mat.Dense) {
	jx = mat.DenseCopyOf(s.A)
	jx.Set(0, 0, jx.At(0, 0)+s.skew)
	ju = mat.DenseCopyOf(s.B)
	return jx, ju
}

func testAffine() *affineDx {
	return &affineDx{
		A: mat.NewDense(2, 2, []float64{1, 0.1, -0.2, 0.9}),
		B: mat.NewDense(2, 1, []float64{0, 0.5}),
		d: []float64{0.01, -0.03},
	}
}

func testTraj() ([][]lqr.State, [][]lqr.Control) {
	x := [][]lqr.State{
		{{1, 0.5}},
		{{0.8, -0.2}},
		{{0.3, 0.1}},
	}
	u := [][]lqr.Control{
		{{0.4}},
		{{-0.1}},
		{{0}},
	}
	return x, u
}

func TestLinearizeDynamicsExactOnAffineModel(t *testing.T) {
	dyn := testAffine()
	x, u := testTraj()

	for _, method := range []Method{Analytic, FiniteDiff} {
		lin, err := LinearizeDynamics(dyn, x, u, Options{Method: method})
		if err != nil {
			t.Fatalf("method %d: %v", method, err)
		}
		for i := 0; i < len(x)-1; i++ {
			// The affine model must reproduce the dynamics at the
			// expansion point and everywhere else.
			probe := []float64{0.2, -0.7, 0.9}
			got := linalg.Add(linalg.MulVec(lin.F[i][0], probe), lin.Bias[i][0])
			want := dyn.Apply(lqr.State(probe[:2]), lqr.Control(probe[2:]))
			for j := range want {
				if math.Abs(got[j]-want[j]) > 1e-6 {
					t.Errorf("method %d step %d out %d: got %v, want %v", method, i, j, got[j], want[j])
				}
			}
		}
	}
}

func TestLinearizeDynamicsBiasAtExpansionPoint(t *testing.T) {
	dyn := testAffine()
	x, u := testTraj()
	lin, err := LinearizeDynamics(dyn, x, u, Options{})
	if err != nil {
		t.Fatalf("LinearizeDynamics: %v", err)
	}
	tau := linalg.Concat(x[0][0], u[0][0])
	got := linalg.Add(linalg.MulVec(lin.F[0][0], tau), lin.Bias[0][0])
	want := dyn.Apply(x[0][0], u[0][0])
	for j := range want {
		if math.Abs(got[j]-want[j]) > 1e-9 {
			t.Errorf("out %d: got %v, want %v", j, got[j], want[j])
		}
	}
}

func TestLinearizeDynamicsRequiresAnalytic(t *testing.T) {
	base := struct{ lqr.Dynamics }{testAffine()}
	x, u := testTraj()
	if _, err := LinearizeDynamics(base, x, u, Options{Method: Analytic}); err != ErrMethod {
		t.Errorf("got %v, want ErrMethod", err)
	}
}

func TestLinearizeDynamicsAnalyticCheckWarns(t *testing.T) {
	dyn := testAffine()
	dyn.skew = 0.5
	x, u := testTraj()

	var buf strings.Builder
	log := &lqr.Logger{Level: lqr.LogWarn, Out: &buf}
	if _, err := LinearizeDynamics(dyn, x, u, Options{Method: AnalyticCheck, Log: log}); err != nil {
		t.Fatalf("LinearizeDynamics: %v", err)
	}
	if !strings.Contains(buf.String(), "differs from finite differences") {
		t.Errorf("expected a jacobian mismatch warning, got %q", buf.String())
	}
}

// quadCost is 0.5 tauᵀ H tau + cᵀ tau. The Hessian interface is exercised
// through hessQuadCost below; the bare version forces finite differences.
type quadCost struct {
	H *mat.Dense
	c []float64
}

func (q *quadCost) Evaluate(tau []float64) float64 {
	return 0.5*linalg.Quad(tau, q.H) + linalg.Dot(q.c, tau)
}

type hessQuadCost struct{ quadCost }

func (q *hessQuadCost) Grad(tau []float64) []float64 {
	return linalg.Add(linalg.MulVec(q.H, tau), q.c)
}

func (q *hessQuadCost) Hess(tau []float64) *mat.Dense { return mat.DenseCopyOf(q.H) }

func TestQuadratizeCostRecoversQuadratic(t *testing.T) {
	H := mat.NewDense(3, 3, []float64{2, 0.1, 0, 0.1, 1.5, 0.2, 0, 0.2, 1})
	c := []float64{0.3, -0.1, 0.05}
	x, u := testTraj()

	for name, cost := range map[string]lqr.Cost{
		"analytic":   &hessQuadCost{quadCost{H: H, c: c}},
		"finitediff": &quadCost{H: H, c: c},
	} {
		quad, costs, err := QuadratizeCost(cost, x, u, Options{})
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		for i := 0; i < len(x); i++ {
			if d := matMaxDiff(quad.C[i][0], H); d > 1e-5 {
				t.Errorf("%s step %d: Hessian differs by %v", name, i, d)
			}
			for j := range c {
				if math.Abs(quad.Lin[i][0][j]-c[j]) > 1e-5 {
					t.Errorf("%s step %d lin %d: got %v, want %v", name, i, j, quad.Lin[i][0][j], c[j])
				}
			}
			tau := linalg.Concat(x[i][0], u[i][0])
			if want := cost.Evaluate(tau); math.Abs(costs[i][0]-want) > 1e-12 {
				t.Errorf("%s step %d: cost %v, want %v", name, i, costs[i][0], want)
			}
		}
	}
}
