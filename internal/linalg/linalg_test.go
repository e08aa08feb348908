package linalg

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestMulVec(t *testing.T) {
	m := mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})
	v := []float64{1, 0, -1}

	got := MulVec(m, v)
	want := []float64{-2, -2}

	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Errorf("MulVec[%d]: got %f, want %f", i, got[i], want[i])
		}
	}
}

func TestMulVecT(t *testing.T) {
	m := mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})
	v := []float64{1, 1}

	got := MulVecT(m, v)
	want := []float64{5, 7, 9}

	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Errorf("MulVecT[%d]: got %f, want %f", i, got[i], want[i])
		}
	}
}

func TestQuad(t *testing.T) {
	m := mat.NewDense(2, 2, []float64{2, 0, 0, 3})
	v := []float64{1, 2}

	got := Quad(v, m)
	if math.Abs(got-14) > 1e-12 {
		t.Errorf("Quad: got %f, want 14", got)
	}
}

func TestOuter(t *testing.T) {
	o := Outer([]float64{1, 2}, []float64{3, 4, 5})
	r, c := o.Dims()
	if r != 2 || c != 3 {
		t.Fatalf("Outer dims: got (%d,%d), want (2,3)", r, c)
	}
	if o.At(1, 2) != 10 {
		t.Errorf("Outer[1][2]: got %f, want 10", o.At(1, 2))
	}
}

func TestClamp(t *testing.T) {
	x := []float64{-2, 0.5, 2}
	lower := []float64{-1, -1, -1}
	upper := []float64{1, 1, 1}

	got := Clamp(x, lower, upper)
	want := []float64{-1, 0.5, 1}

	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Clamp[%d]: got %f, want %f", i, got[i], want[i])
		}
	}
	if x[0] != -2 {
		t.Error("Clamp mutated its input")
	}
}

func TestClampDegenerateBounds(t *testing.T) {
	x := []float64{0.3}
	got := Clamp(x, []float64{0.7}, []float64{0.7})
	if got[0] != 0.7 {
		t.Errorf("Clamp with lower==upper: got %f, want 0.7", got[0])
	}
}

func TestDiag(t *testing.T) {
	d := Diag([]float64{2, 3})
	r, c := d.Dims()
	if r != 2 || c != 2 {
		t.Fatalf("Diag dims: got (%d,%d), want (2,2)", r, c)
	}
	if d.At(0, 0) != 2 || d.At(1, 1) != 3 || d.At(0, 1) != 0 {
		t.Error("Diag entries wrong")
	}
}

func TestBlockDiag(t *testing.T) {
	a := mat.NewDense(1, 1, []float64{2})
	b := mat.NewDense(2, 2, []float64{1, 2, 3, 4})

	d := BlockDiag(a, b)
	r, c := d.Dims()
	if r != 3 || c != 3 {
		t.Fatalf("BlockDiag dims: got (%d,%d), want (3,3)", r, c)
	}
	if d.At(0, 0) != 2 || d.At(2, 1) != 3 || d.At(0, 2) != 0 {
		t.Error("BlockDiag entries wrong")
	}
}

func TestJacobian(t *testing.T) {
	f := func(x []float64) []float64 {
		return []float64{math.Sin(x[0]), x[0] * x[1]}
	}
	x := []float64{0.3, 0.7}

	jac := Jacobian(f, x, 1e-5)

	if math.Abs(jac.At(0, 0)-math.Cos(0.3)) > 1e-6 {
		t.Errorf("d sin/dx: got %f, want %f", jac.At(0, 0), math.Cos(0.3))
	}
	if math.Abs(jac.At(1, 0)-0.7) > 1e-6 {
		t.Errorf("d(xy)/dx: got %f, want 0.7", jac.At(1, 0))
	}
	if math.Abs(jac.At(1, 1)-0.3) > 1e-6 {
		t.Errorf("d(xy)/dy: got %f, want 0.3", jac.At(1, 1))
	}
}

func TestGradient(t *testing.T) {
	f := func(x []float64) float64 { return x[0]*x[0] + 3*x[1] }
	g := Gradient(f, []float64{2, 5}, 1e-5)

	if math.Abs(g[0]-4) > 1e-6 {
		t.Errorf("grad[0]: got %f, want 4", g[0])
	}
	if math.Abs(g[1]-3) > 1e-6 {
		t.Errorf("grad[1]: got %f, want 3", g[1])
	}
}

func TestParallelFor(t *testing.T) {
	n := 1000
	out := make([]int, n)
	ParallelFor(n, 16, func(start, end int) {
		for i := start; i < end; i++ {
			out[i] = i * 2
		}
	})
	for i := range out {
		if out[i] != i*2 {
			t.Fatalf("out[%d] = %d, want %d", i, out[i], i*2)
		}
	}
}
