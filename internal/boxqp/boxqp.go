// Package boxqp solves small box-constrained quadratic programs
//
//	min_u 0.5 uᵀ H u + qᵀ u   s.t.  lower <= u <= upper
//
// with a projected-Newton active-set method: indices pushing against a
// bound are clamped there, the remaining free block is solved with a
// Cholesky factorization, and the step is backtracked until the
// objective decreases. Indefinite H is handled by adding a small
// diagonal regularization and retrying.
package boxqp

import (
	"errors"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/ilqr/internal/linalg"
)

// ErrDimension indicates mismatched problem dimensions.
var ErrDimension = errors.New("boxqp: dimension mismatch")

// Options tune the active-set iteration.
type Options struct {
	MaxIter       int     // active-set iteration cap
	RelTol        float64 // Newton-step norm below which the solve is converged
	Armijo        float64 // sufficient-decrease constant for the backtracking step
	StepDecay     float64 // multiplicative backtracking decay
	MaxStepIter   int     // backtracking budget per Newton step
	RegInit       float64 // first diagonal regularization tried on an indefinite H
	RegGrow       float64 // regularization escalation factor per retry
	MaxRegRetries int     // retries before the solve is declared degenerate
}

func (o Options) withDefaults() Options {
	if o.MaxIter == 0 {
		o.MaxIter = 20
	}
	if o.RelTol == 0 {
		o.RelTol = 1e-4
	}
	if o.Armijo == 0 {
		o.Armijo = 0.1
	}
	if o.StepDecay == 0 {
		o.StepDecay = 0.1
	}
	if o.MaxStepIter == 0 {
		o.MaxStepIter = 10
	}
	if o.RegInit == 0 {
		o.RegInit = 1e-8
	}
	if o.RegGrow == 0 {
		o.RegGrow = 10
	}
	if o.MaxRegRetries == 0 {
		o.MaxRegRetries = 3
	}
	return o
}

// Result is the outcome of one box-QP solve.
type Result struct {
	X    []float64 // solution, always within [lower, upper]
	Free []bool    // per-index free (unclamped) status at the solution

	// Chol factors the free-masked Hessian: clamped rows and columns are
	// zeroed and their diagonal set to one, so solves against it leave
	// clamped components untouched. Nil when the solve was degenerate.
	Chol *mat.Cholesky

	Iters      int
	Converged  bool
	Reg        float64 // diagonal regularization applied, 0 if none
	Degenerate bool    // regularization retries exhausted
}

// Solve minimizes 0.5 uᵀ H u + qᵀ u subject to lower <= u <= upper,
// starting from xInit (nil starts from the unconstrained minimizer).
// Degenerate curvature is reported through Result, not as an error.
func Solve(H *mat.Dense, q, lower, upper, xInit []float64, opts Options) (*Result, error) {
	n := len(q)
	if r, c := H.Dims(); r != n || c != n || len(lower) != n || len(upper) != n {
		return nil, ErrDimension
	}
	if xInit != nil && len(xInit) != n {
		return nil, ErrDimension
	}
	opts = opts.withDefaults()

	var x []float64
	if xInit == nil {
		free := make([]bool, n)
		for i := range free {
			free[i] = true
		}
		chol, reg, ok := FreeFactor(H, free, opts)
		if !ok {
			return &Result{X: linalg.Clamp(make([]float64, n), lower, upper), Free: free, Reg: reg, Degenerate: true}, nil
		}
		x = SolveMasked(chol, linalg.Scale(-1, q), free)
	} else {
		x = make([]float64, n)
		copy(x, xInit)
	}
	x = linalg.Clamp(x, lower, upper)

	obj := func(v []float64) float64 {
		return 0.5*linalg.Quad(v, H) + linalg.Dot(q, v)
	}

	res := &Result{X: x}
	for iter := 0; iter < opts.MaxIter; iter++ {
		res.Iters = iter + 1

		g := linalg.Add(linalg.MulVec(H, x), q)

		free := make([]bool, n)
		numFree := 0
		for i := range free {
			clamped := (x[i] == lower[i] && g[i] > 0) || (x[i] == upper[i] && g[i] < 0)
			free[i] = !clamped
			if free[i] {
				numFree++
			}
		}
		res.Free = free

		if numFree == 0 {
			res.X = x
			res.Converged = true
			chol, reg, ok := FreeFactor(H, free, opts)
			res.Reg = reg
			if !ok {
				res.Degenerate = true
			} else {
				res.Chol = chol
			}
			return res, nil
		}

		chol, reg, ok := FreeFactor(H, free, opts)
		res.Reg = reg
		if !ok {
			res.X = x
			res.Degenerate = true
			return res, nil
		}
		res.Chol = chol

		gf := make([]float64, n)
		for i := range gf {
			if free[i] {
				gf[i] = g[i]
			}
		}
		dx := SolveMasked(chol, linalg.Scale(-1, gf), free)

		if linalg.Norm(dx) < opts.RelTol {
			res.X = x
			res.Converged = true
			return res, nil
		}

		gd := linalg.Dot(g, dx)
		alpha := 1.0
		cand := linalg.Clamp(linalg.Add(x, dx), lower, upper)
		for ls := 0; ls < opts.MaxStepIter && obj(cand) > obj(x)+opts.Armijo*alpha*gd; ls++ {
			alpha *= opts.StepDecay
			cand = linalg.Clamp(linalg.Add(x, linalg.Scale(alpha, dx)), lower, upper)
		}
		x = cand
		res.X = x
	}

	return res, nil
}

// FreeFactor factors the free block of H, with clamped rows and columns
// replaced by identity. Retries with growing diagonal regularization when
// the factorization fails.
func FreeFactor(H *mat.Dense, free []bool, opts Options) (chol *mat.Cholesky, reg float64, ok bool) {
	opts = opts.withDefaults()
	n := len(free)
	for try := 0; try <= opts.MaxRegRetries; try++ {
		sym := mat.NewSymDense(n, nil)
		for i := 0; i < n; i++ {
			if !free[i] {
				sym.SetSym(i, i, 1)
				continue
			}
			sym.SetSym(i, i, H.At(i, i)+reg)
			for j := i + 1; j < n; j++ {
				if free[j] {
					sym.SetSym(i, j, 0.5*(H.At(i, j)+H.At(j, i)))
				}
			}
		}
		chol = &mat.Cholesky{}
		if chol.Factorize(sym) {
			return chol, reg, true
		}
		if reg == 0 {
			reg = opts.RegInit
		} else {
			reg *= opts.RegGrow
		}
	}
	return nil, reg, false
}

// SolveMasked solves the factored system for rhs, zeroing clamped entries
// of the right-hand side first so clamped components come back zero.
func SolveMasked(chol *mat.Cholesky, rhs []float64, free []bool) []float64 {
	n := len(rhs)
	masked := make([]float64, n)
	for i := range masked {
		if free[i] {
			masked[i] = rhs[i]
		}
	}
	out := mat.NewVecDense(n, nil)
	if err := chol.SolveVecTo(out, mat.NewVecDense(n, masked)); err != nil {
		return make([]float64, n)
	}
	return out.RawVector().Data
}
