// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.18
//

// Implements an envelope (profile) Cholesky factorization for the sparse symmetric
// positive definite systems of the solver.
//
// Row i of the lower triangle is stored from its first nonzero column first[i] up to the
// diagonal. Cholesky fill stays inside this envelope, so with a bandwidth reducing ordering
// the storage and work stay close to the sparsity of the normal equations.

package gopose

import (
	"math"

	"github.com/pkg/errors"
)

// A pivot at or below pivotTol times the largest diagonal of the matrix is treated as zero.
// Rounding leaves a rank deficient pivot near eps times that diagonal.
const pivotTol = 64 * 2.220446049250313e-16

var errNotPositiveDefinite = errors.New("matrix is not positive definite")

type envelope struct {
	n     int
	first []int     // First stored column of each row
	start []int     // Offset of each row in vals
	vals  []float64 // Row-major lower envelope, diagonal last in each row
}

// newEnvelope allocates an envelope for n rows whose first columns are given
func newEnvelope(first []int) *envelope {
	n := len(first)
	e := &envelope{
		n:     n,
		first: first,
		start: make([]int, n+1),
	}
	for i := 0; i < n; i++ {
		e.start[i+1] = e.start[i] + i - first[i] + 1
	}
	e.vals = make([]float64, e.start[n])
	return e
}

// at returns a pointer to element (i, j), j <= i, j >= first[i]
func (e *envelope) at(i, j int) *float64 {
	return &e.vals[e.start[i]+j-e.first[i]]
}

// add accumulates v into the lower triangle position of (i, j)
func (e *envelope) add(i, j int, v float64) {
	if j > i {
		i, j = j, i
	}
	*e.at(i, j) += v
}

// factorize overwrites the envelope with its Cholesky factor L (A = L L^T).
// It returns the first row whose pivot is not positive.
func (e *envelope) factorize() (int, error) {
	maxDiag := 0.0
	for i := 0; i < e.n; i++ {
		maxDiag = max(maxDiag, math.Abs(*e.at(i, i)))
	}
	tol := pivotTol * maxDiag
	for i := 0; i < e.n; i++ {
		fi := e.first[i]
		ri := e.vals[e.start[i]:e.start[i+1]]
		for j := fi; j < i; j++ {
			fj := e.first[j]
			rj := e.vals[e.start[j]:e.start[j+1]]
			s := ri[j-fi]
			for k := max(fi, fj); k < j; k++ {
				s -= ri[k-fi] * rj[k-fj]
			}
			ri[j-fi] = s / rj[j-fj]
		}
		d := ri[i-fi]
		for k := fi; k < i; k++ {
			d -= ri[k-fi] * ri[k-fi]
		}
		if !(d > tol) || math.IsInf(d, 0) {
			return i, errors.Wrapf(errNotPositiveDefinite, "pivot %d is %g", i, d)
		}
		ri[i-fi] = math.Sqrt(d)
	}
	return -1, nil
}

// solve solves L L^T x = b in place for a factorized envelope
func (e *envelope) solve(b []float64) {
	// L y = b
	for i := 0; i < e.n; i++ {
		fi := e.first[i]
		ri := e.vals[e.start[i]:e.start[i+1]]
		s := b[i]
		for k := fi; k < i; k++ {
			s -= ri[k-fi] * b[k]
		}
		b[i] = s / ri[i-fi]
	}
	// L^T x = y
	for i := e.n - 1; i >= 0; i-- {
		fi := e.first[i]
		ri := e.vals[e.start[i]:e.start[i+1]]
		b[i] /= ri[i-fi]
		for k := fi; k < i; k++ {
			b[k] -= ri[k-fi] * b[i]
		}
	}
}
