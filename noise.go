// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.12
//

package gopose

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Diagonal is a noise model with independent per-component standard deviations
type Diagonal struct {
	sigmas []float64
}

// NewDiagonal validates the sigmas. Zero, negative, NaN and infinite sigmas are rejected.
func NewDiagonal(sigmas ...float64) (*Diagonal, error) {
	if len(sigmas) == 0 {
		return nil, constructionErrorf("noise model needs at least one sigma")
	}
	for i, s := range sigmas {
		if !isValidSigma(s) {
			return nil, constructionErrorf("sigma[%d]=%g must be positive and finite", i, s)
		}
	}
	return &Diagonal{sigmas: append([]float64(nil), sigmas...)}, nil
}

// DiagonalFromInformation builds a noise model from an n x n information matrix given as its
// upper triangle in row order (I11 I12 .. I1n I22 .. Inn). Only the diagonal is used.
func DiagonalFromInformation(n int, upper []float64) (*Diagonal, error) {
	if len(upper) != n*(n+1)/2 {
		return nil, constructionErrorf("information upper triangle has %d values, want %d", len(upper), n*(n+1)/2)
	}
	sigmas := make([]float64, n)
	idx := 0
	for i := 0; i < n; i++ {
		info := upper[idx]
		if !(info > 0) {
			return nil, constructionErrorf("information I%d%d=%g must be positive", i+1, i+1, info)
		}
		sigmas[i] = 1 / math.Sqrt(info)
		idx += n - i
	}
	return NewDiagonal(sigmas...)
}

func (d *Diagonal) Dim() int {
	return len(d.sigmas)
}

// Sigmas returns a copy of the standard deviations
func (d *Diagonal) Sigmas() []float64 {
	return append([]float64(nil), d.sigmas...)
}

// Information returns the diagonal of the information matrix, 1/sigma^2
func (d *Diagonal) Information() []float64 {
	info := make([]float64, len(d.sigmas))
	for i, s := range d.sigmas {
		info[i] = 1 / SQ(s)
	}
	return info
}

// Whiten divides r component-wise by sigma in place
func (d *Diagonal) Whiten(r []float64) {
	for i := range r {
		r[i] /= d.sigmas[i]
	}
}

// WhitenJacobian divides row i of J by sigma_i in place
func (d *Diagonal) WhitenJacobian(J *mat.Dense) {
	r, c := J.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			J.Set(i, j, J.At(i, j)/d.sigmas[i])
		}
	}
}
