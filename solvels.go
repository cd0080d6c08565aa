// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.16
//

// Implements the dense least squares solver for the normal equations (gonum Cholesky).

package gopose

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Solve the normal equations A dx = b
// - A = J^T J (+ damping) must be symmetric positive definite
// - Failure to factorize returns an error wrapping errNotPositiveDefinite
func SolveLS(A *mat.SymDense, b mat.Vector) (*mat.VecDense, error) {

	n := A.SymmetricDim()
	if b.Len() != n {
		return nil, errors.Errorf("invalid matrix size. A(%d x %d), b(%d x 1)", n, n, b.Len())
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(A); !ok {
		return nil, errors.Wrap(errNotPositiveDefinite, "dense cholesky")
	}

	// Solve for x (x = A^-1 b)
	var x mat.VecDense
	if err := chol.SolveVecTo(&x, b); err != nil {
		return nil, errors.Wrap(errNotPositiveDefinite, err.Error())
	}
	return &x, nil
}

// Return A^-1 as the covariance matrix of the normal equations A
func CovLS(A *mat.SymDense) (*mat.SymDense, error) {

	var chol mat.Cholesky
	if ok := chol.Factorize(A); !ok {
		return nil, errors.Wrap(errNotPositiveDefinite, "dense cholesky")
	}

	var cov mat.SymDense
	if err := chol.InverseTo(&cov); err != nil {
		return nil, errors.Wrap(errNotPositiveDefinite, err.Error())
	}
	return &cov, nil
}
