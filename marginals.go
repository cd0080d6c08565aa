// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.18
//

// Implements extraction of marginal covariances from the information matrix J^T J at a
// solution.
//
// Each connected component of the variable graph is factorized on its own, so a singular
// (unanchored) component only fails for its own variables.

package gopose

import (
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"
)

// Marginals holds the covariance block of each variable in its local parameterization
type Marginals struct {
	values *Values
	cov    map[Key]*mat.SymDense
	errs   map[Key]error
}

// ExtractMarginals relinearizes g at v and computes the covariance block of every variable.
// Only Workers, LinearSolver and Logger of opt are used. On failure the returned Marginals
// still holds the blocks of the components that could be factorized, and the error wraps
// ErrSingularInformation.
func ExtractMarginals(g *Graph, v *Values, opt *LMOpt) (*Marginals, error) {
	if opt == nil {
		opt = NewLMOpt()
	}
	log := loggerOrNop(opt.Logger)

	if err := g.checkValues(v); err != nil {
		return nil, err
	}
	st := newStructure(g)
	sys, err := linearize(g, v, st, opt.Workers)
	if err != nil {
		return nil, errors.Wrap(err, "linearize")
	}

	m := &Marginals{
		values: v,
		cov:    map[Key]*mat.SymDense{},
		errs:   map[Key]error{},
	}
	if opt.LinearSolver == DenseCholesky {
		err = m.extractDense(sys)
	} else {
		err = m.extractSparse(sys)
	}
	if err != nil {
		log.Debugw("covariance extraction incomplete", "ok", len(m.cov), "failed", len(m.errs), "err", err)
	}
	for _, k := range sortedKeys(m.cov) {
		logMat(log, fmt.Sprintf("cov %d", k), m.cov[k])
	}
	return m, err
}

// extractSparse solves for the block columns of each variable with the envelope factor of
// its component
func (m *Marginals) extractSparse(sys *normalSystem) error {
	st := sys.st
	ord := st.ord
	var errs error
	for c, comp := range st.comps {
		env := sys.envelope(c, damping{})
		if _, err := env.factorize(); err != nil {
			errs = multierr.Append(errs, m.fail(ord, comp, err))
			continue
		}
		col := make([]float64, st.compDim[c])
		for _, a := range comp {
			d := ord.dim(a)
			o := st.localOff[a]
			C := mat.NewDense(d, d, nil)
			for j := 0; j < d; j++ {
				clear(col)
				col[o+j] = 1
				env.solve(col)
				for i := 0; i < d; i++ {
					C.Set(i, j, col[o+i])
				}
			}
			m.cov[ord.keys[a]] = symmetrize(C)
		}
	}
	return errs
}

// extractDense inverts the full information matrix. A failure applies to every variable.
func (m *Marginals) extractDense(sys *normalSystem) error {
	ord := sys.st.ord
	cov, err := CovLS(sys.dense(damping{}))
	if err != nil {
		all := make([]int, len(ord.keys))
		for i := range all {
			all[i] = i
		}
		return m.fail(ord, all, err)
	}
	for a, k := range ord.keys {
		o, d := ord.offs[a], ord.dim(a)
		m.cov[k] = mat.NewSymDense(d, nil)
		m.cov[k].CopySym(cov.SliceSym(o, o+d))
	}
	return nil
}

func (m *Marginals) fail(ord *ordering, vars []int, cause error) error {
	keys := make([]Key, len(vars))
	for i, a := range vars {
		keys[i] = ord.keys[a]
	}
	err := errors.Wrapf(ErrSingularInformation, "keys %v: %v", keys, cause)
	for _, k := range keys {
		m.errs[k] = err
	}
	return err
}

// Pose returns the 3x3 covariance of pose k as (x, y, theta) in the pose's own frame
func (m *Marginals) Pose(k Key) (*mat.SymDense, error) {
	return m.block(k, KindPose)
}

// GlobalPosition returns the 2x2 position covariance of pose k rotated into the global
// frame, R(theta) Cov_xy R(theta)^T
func (m *Marginals) GlobalPosition(k Key) (*mat.SymDense, error) {
	C, err := m.block(k, KindPose)
	if err != nil {
		return nil, err
	}
	R := m.values.Pose(k).Rotation()
	var RC, G mat.Dense
	RC.Mul(R, C.SliceSym(0, 2))
	G.Mul(&RC, R.T())
	return symmetrize(&G), nil
}

// Point returns the 2x2 covariance of landmark k
func (m *Marginals) Point(k Key) (*mat.SymDense, error) {
	return m.block(k, KindPoint)
}

func (m *Marginals) block(k Key, want VarKind) (*mat.SymDense, error) {
	kind, ok := m.values.Kind(k)
	if !ok {
		return nil, constructionErrorf("no variable with key %d", k)
	}
	if kind != want {
		return nil, constructionErrorf("key %d is a %s, want a %s", k, kind, want)
	}
	if err, ok := m.errs[k]; ok {
		return nil, err
	}
	C, ok := m.cov[k]
	if !ok {
		return nil, constructionErrorf("no covariance for key %d", k)
	}
	c := mat.NewSymDense(C.SymmetricDim(), nil)
	c.CopySym(C)
	return c, nil
}

// symmetrize returns (A + A^T) / 2
func symmetrize(A mat.Matrix) *mat.SymDense {
	n, _ := A.Dims()
	S := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			S.SetSym(i, j, 0.5*(A.At(i, j)+A.At(j, i)))
		}
	}
	return S
}
