// Package linalg provides small dense linear-algebra helpers shared by the
// trajectory optimizer: matrix-vector products, quadratic forms, outer
// products, block assembly, elementwise clamping and a finite-difference
// Jacobian. Everything is value-returning; inputs are never mutated.
package linalg

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// MulVec returns m * v as a fresh slice.
func MulVec(m *mat.Dense, v []float64) []float64 {
	r, _ := m.Dims()
	out := mat.NewVecDense(r, nil)
	out.MulVec(m, mat.NewVecDense(len(v), v))
	return out.RawVector().Data
}

// MulVecT returns mᵀ * v as a fresh slice.
func MulVecT(m *mat.Dense, v []float64) []float64 {
	_, c := m.Dims()
	out := mat.NewVecDense(c, nil)
	out.MulVec(m.T(), mat.NewVecDense(len(v), v))
	return out.RawVector().Data
}

// Quad returns the quadratic form vᵀ m v.
func Quad(v []float64, m *mat.Dense) float64 {
	mv := MulVec(m, v)
	return Dot(v, mv)
}

// Dot returns the inner product of a and b.
func Dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// Outer returns the outer product a bᵀ.
func Outer(a, b []float64) *mat.Dense {
	out := mat.NewDense(len(a), len(b), nil)
	for i, ai := range a {
		for j, bj := range b {
			out.Set(i, j, ai*bj)
		}
	}
	return out
}

// Norm returns the Euclidean norm of v.
func Norm(v []float64) float64 {
	s := 0.0
	for _, x := range v {
		s += x * x
	}
	return math.Sqrt(s)
}

// Scale returns s * v as a fresh slice.
func Scale(s float64, v []float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = s * x
	}
	return out
}

// Add returns a + b as a fresh slice.
func Add(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] + b[i]
	}
	return out
}

// Sub returns a - b as a fresh slice.
func Sub(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] - b[i]
	}
	return out
}

// Concat returns the concatenation of a and b as a fresh slice.
func Concat(a, b []float64) []float64 {
	out := make([]float64, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

// Clamp returns x limited elementwise to [lower, upper]. A nil bound slice
// leaves that side unconstrained.
func Clamp(x, lower, upper []float64) []float64 {
	out := make([]float64, len(x))
	copy(out, x)
	for i := range out {
		if lower != nil && out[i] < lower[i] {
			out[i] = lower[i]
		}
		if upper != nil && out[i] > upper[i] {
			out[i] = upper[i]
		}
	}
	return out
}

// Diag returns a square matrix with d on the diagonal.
func Diag(d []float64) *mat.Dense {
	n := len(d)
	out := mat.NewDense(n, n, nil)
	for i, v := range d {
		out.Set(i, i, v)
	}
	return out
}

// BlockDiag assembles the square blocks into one block-diagonal matrix.
func BlockDiag(blocks ...*mat.Dense) *mat.Dense {
	total := 0
	for _, b := range blocks {
		n, m := b.Dims()
		if n != m {
			panic("linalg: BlockDiag requires square blocks")
		}
		total += n
	}
	out := mat.NewDense(total, total, nil)
	off := 0
	for _, b := range blocks {
		n, _ := b.Dims()
		out.Slice(off, off+n, off, off+n).(*mat.Dense).Copy(b)
		off += n
	}
	return out
}

// Symmetrize returns (m + mᵀ)/2.
func Symmetrize(m *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.Set(i, j, 0.5*(m.At(i, j)+m.At(j, i)))
		}
	}
	return out
}

// Jacobian estimates df/dx at x by symmetric finite differences with
// perturbation size eps. The result has one row per output component.
func Jacobian(f func([]float64) []float64, x []float64, eps float64) *mat.Dense {
	n := len(x)
	var out *mat.Dense
	for i := 0; i < n; i++ {
		xp := make([]float64, n)
		xm := make([]float64, n)
		copy(xp, x)
		copy(xm, x)
		xp[i] += eps
		xm[i] -= eps
		fp := f(xp)
		fm := f(xm)
		if out == nil {
			out = mat.NewDense(len(fp), n, nil)
		}
		for j := range fp {
			out.Set(j, i, (fp[j]-fm[j])/(2*eps))
		}
	}
	return out
}

// Gradient estimates df/dx of a scalar function by symmetric finite
// differences with perturbation size eps.
func Gradient(f func([]float64) float64, x []float64, eps float64) []float64 {
	n := len(x)
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		xp := make([]float64, n)
		xm := make([]float64, n)
		copy(xp, x)
		copy(xm, x)
		xp[i] += eps
		xm[i] -= eps
		out[i] = (f(xp) - f(xm)) / (2 * eps)
	}
	return out
}
