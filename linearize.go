// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.16
//

// Implements linearization of the factor graph and assembly of the block-sparse normal
// equations (J^T J) dx = -J^T r.
//
// Factors are linearized in parallel, each into its own slot. The reduction into the normal
// equations and the error sum then runs in factor order, so the result does not depend on
// the number of workers.

package gopose

import (
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// LinearSolver selects how the normal equations are factorized
type LinearSolver int

const (
	SparseCholesky LinearSolver = iota // Envelope Cholesky per connected component, RCM ordered
	DenseCholesky                      // gonum dense Cholesky of the full system
)

func (s LinearSolver) String() string {
	switch s {
	case SparseCholesky:
		return "sparse"
	case DenseCholesky:
		return "dense"
	default:
		return "UNKNOWN!"
	}
}

// structure is the sparsity layout of a graph. It does not change between iterations.
type structure struct {
	ord      *ordering
	adj      [][]int // Variable adjacency
	comps    [][]int // Connected components in RCM order
	compOf   []int   // Component of each variable
	localOff []int   // Scalar offset of each variable inside its component
	compDim  []int   // Scalar dimension of each component
}

func newStructure(g *Graph) *structure {
	ord := newOrdering(g)
	adj := adjacency(g, ord)
	st := &structure{
		ord:      ord,
		adj:      adj,
		comps:    components(adj),
		compOf:   make([]int, len(ord.keys)),
		localOff: make([]int, len(ord.keys)),
	}
	st.compDim = make([]int, len(st.comps))
	for c, comp := range st.comps {
		for _, v := range comp {
			st.compOf[v] = c
			st.localOff[v] = st.compDim[c]
			st.compDim[c] += ord.dim(v)
		}
	}
	return st
}

// linearFactor is one factor linearized and whitened at the current values
type linearFactor struct {
	vars []int        // Variable indices
	J    []*mat.Dense // Whitened Jacobian block per variable
	r    []float64    // Whitened residual
}

func linearizeFactor(f Factor, v *Values, ord *ordering) linearFactor {
	keys := f.Keys()
	noise := f.Noise()
	lf := linearFactor{
		vars: make([]int, len(keys)),
		J:    f.Jacobians(v),
		r:    f.Residual(v),
	}
	for i, k := range keys {
		lf.vars[i] = ord.index[k]
		noise.WhitenJacobian(lf.J[i])
	}
	noise.Whiten(lf.r)
	return lf
}

type blockIdx struct {
	row, col int // Variable indices, row >= col
}

// normalSystem holds the lower block triangle of J^T J, the gradient J^T r and the error
type normalSystem struct {
	st     *structure
	blocks map[blockIdx]*mat.Dense
	grad   []float64
	err    float64
}

func (s *normalSystem) block(a, b int) *mat.Dense {
	idx := blockIdx{a, b}
	blk, ok := s.blocks[idx]
	if !ok {
		blk = mat.NewDense(s.st.ord.dim(a), s.st.ord.dim(b), nil)
		s.blocks[idx] = blk
	}
	return blk
}

// linearize evaluates all factors at v and assembles the normal equations
func linearize(g *Graph, v *Values, st *structure, workers int) (*normalSystem, error) {
	factors := g.Factors()
	lfs := make([]linearFactor, len(factors))
	err := parallelChunks(len(factors), workers, func(from, to int) error {
		for i := from; i < to; i++ {
			lfs[i] = linearizeFactor(factors[i], v, st.ord)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sys := &normalSystem{
		st:     st,
		blocks: map[blockIdx]*mat.Dense{},
		grad:   make([]float64, st.ord.n),
	}
	for _, lf := range lfs {
		r := mat.NewVecDense(len(lf.r), lf.r)
		for a, ia := range lf.vars {
			var gv mat.VecDense
			gv.MulVec(lf.J[a].T(), r)
			o := st.ord.offs[ia]
			for i := 0; i < gv.Len(); i++ {
				sys.grad[o+i] += gv.AtVec(i)
			}
			for b, ib := range lf.vars {
				if ia < ib {
					continue
				}
				var H mat.Dense
				H.Mul(lf.J[a].T(), lf.J[b])
				blk := sys.block(ia, ib)
				blk.Add(blk, &H)
			}
		}
		e := 0.0
		for _, x := range lf.r {
			e += x * x
		}
		sys.err += 0.5 * e
	}
	return sys, nil
}

// evalError returns the total error at v, summed in factor order
func evalError(g *Graph, v *Values, workers int) float64 {
	factors := g.Factors()
	errs := make([]float64, len(factors))
	parallelChunks(len(factors), workers, func(from, to int) error {
		for i := from; i < to; i++ {
			errs[i] = Error(factors[i], v)
		}
		return nil
	})
	e := 0.0
	for _, x := range errs {
		e += x
	}
	return e
}

// parallelChunks splits [0, n) into at most workers contiguous ranges and runs fn on each
func parallelChunks(n, workers int, fn func(from, to int) error) error {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers == 1 || n < 2*workers {
		return fn(0, n)
	}
	size := (n + workers - 1) / workers
	var eg errgroup.Group
	for from := 0; from < n; from += size {
		from, to := from, min(from+size, n)
		eg.Go(func() error {
			return fn(from, to)
		})
	}
	return eg.Wait()
}

// damping is the Levenberg-Marquardt term lambda * clamp(diag(J^T J))
type damping struct {
	lambda  float64
	minDiag float64
	maxDiag float64
}

func (d damping) apply(h float64) float64 {
	if d.lambda == 0 {
		return h
	}
	return h + d.lambda*min(max(h, d.minDiag), d.maxDiag)
}

// envelope builds the damped matrix of component c in its RCM order
func (s *normalSystem) envelope(c int, d damping) *envelope {
	st := s.st
	comp := st.comps[c]
	first := make([]int, st.compDim[c])
	for i := range first {
		first[i] = i
	}
	// Structural pattern from the variable adjacency
	for _, a := range comp {
		for _, b := range append([]int{a}, st.adj[a]...) {
			for i := 0; i < st.ord.dim(a); i++ {
				for j := 0; j < st.ord.dim(b); j++ {
					pa, pb := st.localOff[a]+i, st.localOff[b]+j
					if pb < pa {
						first[pa] = min(first[pa], pb)
					}
				}
			}
		}
	}
	env := newEnvelope(first)
	for _, a := range comp {
		for _, b := range append([]int{a}, st.adj[a]...) {
			if b > a {
				continue
			}
			blk, ok := s.blocks[blockIdx{a, b}]
			if !ok {
				continue
			}
			for i := 0; i < st.ord.dim(a); i++ {
				for j := 0; j < st.ord.dim(b); j++ {
					if a == b && j > i {
						continue
					}
					v := blk.At(i, j)
					if a == b && i == j {
						v = d.apply(v)
					}
					env.add(st.localOff[a]+i, st.localOff[b]+j, v)
				}
			}
		}
		// A variable that appears in no factor still needs its diagonal damped
		if _, ok := s.blocks[blockIdx{a, a}]; !ok {
			for i := 0; i < st.ord.dim(a); i++ {
				*env.at(st.localOff[a]+i, st.localOff[a]+i) = d.apply(0)
			}
		}
	}
	return env
}

// dense builds the full damped matrix in ordering layout
func (s *normalSystem) dense(d damping) *mat.SymDense {
	ord := s.st.ord
	A := mat.NewSymDense(ord.n, nil)
	for idx, blk := range s.blocks {
		oa, ob := ord.offs[idx.row], ord.offs[idx.col]
		r, c := blk.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				if idx.row == idx.col && j > i {
					continue
				}
				A.SetSym(oa+i, ob+j, blk.At(i, j))
			}
		}
	}
	for i := 0; i < ord.n; i++ {
		A.SetSym(i, i, d.apply(A.At(i, i)))
	}
	return A
}

// solveDamped solves (J^T J + lambda D) dx = -J^T r
func (s *normalSystem) solveDamped(kind LinearSolver, d damping) ([]float64, error) {
	ord := s.st.ord
	b := make([]float64, ord.n)
	for i, g := range s.grad {
		b[i] = -g
	}
	if kind == DenseCholesky {
		dx, err := SolveLS(s.dense(d), mat.NewVecDense(ord.n, b))
		if err != nil {
			return nil, err
		}
		return dx.RawVector().Data, nil
	}

	dx := make([]float64, ord.n)
	for c, comp := range s.st.comps {
		env := s.envelope(c, d)
		if _, err := env.factorize(); err != nil {
			return nil, err
		}
		bc := make([]float64, s.st.compDim[c])
		for _, v := range comp {
			copy(bc[s.st.localOff[v]:], b[ord.offs[v]:ord.offs[v]+ord.dim(v)])
		}
		env.solve(bc)
		for _, v := range comp {
			copy(dx[ord.offs[v]:ord.offs[v]+ord.dim(v)], bc[s.st.localOff[v]:])
		}
	}
	return dx, nil
}
