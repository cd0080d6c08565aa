// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.17
//

package gopose

import (
	"sync/atomic"
	"testing"

	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func TestLinearizeWorkerDeterminism(t *testing.T) {
	cg := newCircleGraph(t, 40, 1)
	st := newStructure(cg.g)
	v := cg.g.Initial()

	ref, err := linearize(cg.g, v, st, 1)
	test.That(t, err, test.ShouldBeNil)
	for _, workers := range []int{2, 3, 8, 0} {
		sys, err := linearize(cg.g, v, st, workers)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, sys.err, test.ShouldEqual, ref.err)
		test.That(t, sys.grad, test.ShouldResemble, ref.grad)
		test.That(t, len(sys.blocks), test.ShouldEqual, len(ref.blocks))
		for idx, blk := range ref.blocks {
			test.That(t, mat.Equal(sys.blocks[idx], blk), test.ShouldBeTrue)
		}
		test.That(t, evalError(cg.g, v, workers), test.ShouldEqual, evalError(cg.g, v, 1))
	}

	// The linearized error matches the direct evaluation
	test.That(t, ref.err, test.ShouldAlmostEqual, cg.g.Error(v), 1e-9)
}

func TestParallelChunks(t *testing.T) {
	for _, tc := range []struct {
		n, workers int
	}{
		{0, 4}, {5, 4}, {100, 1}, {100, 7}, {101, 4},
	} {
		seen := make([]int32, tc.n)
		var calls int32
		err := parallelChunks(tc.n, tc.workers, func(from, to int) error {
			atomic.AddInt32(&calls, 1)
			for i := from; i < to; i++ {
				atomic.AddInt32(&seen[i], 1)
			}
			return nil
		})
		test.That(t, err, test.ShouldBeNil)
		for i := range seen {
			test.That(t, seen[i], test.ShouldEqual, int32(1))
		}
		test.That(t, int(calls), test.ShouldBeLessThanOrEqualTo, max(tc.workers, 1))
	}
}

func TestStructure(t *testing.T) {
	cg := newCircleGraph(t, 10, 2)
	// One isolated pose makes a second component
	test.That(t, cg.g.AddPose(99, Pose2{}), test.ShouldBeNil)
	st := newStructure(cg.g)

	test.That(t, st.comps, test.ShouldHaveLength, 2)
	test.That(t, st.comps[1], test.ShouldResemble, []int{st.ord.index[99]})
	test.That(t, st.compDim[0], test.ShouldEqual, 10*PoseDim+4*PointDim)
	test.That(t, st.compDim[1], test.ShouldEqual, PoseDim)

	// Every variable appears once, with offsets packed inside its component
	count := 0
	for c, comp := range st.comps {
		off := 0
		for _, a := range comp {
			test.That(t, st.compOf[a], test.ShouldEqual, c)
			test.That(t, st.localOff[a], test.ShouldEqual, off)
			off += st.ord.dim(a)
			count++
		}
	}
	test.That(t, count, test.ShouldEqual, cg.g.VariableCount())
}

func TestSolveDampedSparseVsDense(t *testing.T) {
	cg := newCircleGraph(t, 24, 4)
	st := newStructure(cg.g)
	sys, err := linearize(cg.g, cg.g.Initial(), st, 0)
	test.That(t, err, test.ShouldBeNil)

	for _, lambda := range []float64{0, 1e-3, 10} {
		d := damping{lambda: lambda, minDiag: 1e-6, maxDiag: 1e32}
		sparse, err := sys.solveDamped(SparseCholesky, d)
		test.That(t, err, test.ShouldBeNil)
		dense, err := sys.solveDamped(DenseCholesky, d)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, sparse, test.ShouldHaveLength, st.ord.n)
		for i := range sparse {
			test.That(t, sparse[i], test.ShouldAlmostEqual, dense[i], 1e-8)
		}

		// The step solves the damped normal equations
		A := sys.dense(d)
		var r mat.VecDense
		r.MulVec(A, mat.NewVecDense(len(sparse), sparse))
		for i := range sparse {
			test.That(t, r.AtVec(i), test.ShouldAlmostEqual, -sys.grad[i], 1e-6)
		}
	}
}
