// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.18
//

package gopose

import (
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func TestMarginalsTwoPoses(t *testing.T) {
	for _, solver := range []LinearSolver{SparseCholesky, DenseCholesky} {
		t.Run(solver.String(), func(t *testing.T) {
			g := twoPoseGraph(t, NewPose2(1, 0, 0))
			opt := NewLMOpt()
			opt.LinearSolver = solver
			m, err := ExtractMarginals(g, g.Initial(), opt)
			test.That(t, err, test.ShouldBeNil)

			C1, err := m.Pose(1)
			test.That(t, err, test.ShouldBeNil)
			want1 := mat.NewSymDense(3, []float64{
				0.09, 0, 0,
				0, 0.09, 0,
				0, 0, 0.01,
			})
			test.That(t, mat.EqualApprox(C1, want1, 1e-12), test.ShouldBeTrue)

			// Prior covariance carried through the odometry, in the frame of pose 2
			C2, err := m.Pose(2)
			test.That(t, err, test.ShouldBeNil)
			want2 := mat.NewSymDense(3, []float64{
				0.1, 0, 0,
				0, 0.11, 0.01,
				0, 0.01, 0.0125,
			})
			test.That(t, mat.EqualApprox(C2, want2, 1e-12), test.ShouldBeTrue)

			_, err = m.Point(1)
			test.That(t, errors.Is(err, ErrConstruction), test.ShouldBeTrue)
			_, err = m.Pose(42)
			test.That(t, errors.Is(err, ErrConstruction), test.ShouldBeTrue)
		})
	}
}

func TestMarginalsGlobalPosition(t *testing.T) {
	g := NewGraph()
	p := NewPose2(1, 2, math.Pi/2)
	test.That(t, g.AddPose(0, p), test.ShouldBeNil)
	prior, err := NewPriorPose2(0, p, mustDiagonal(t, 0.3, 0.1, 0.1))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, g.AddFactor(prior), test.ShouldBeNil)

	m, err := ExtractMarginals(g, g.Initial(), nil)
	test.That(t, err, test.ShouldBeNil)
	G, err := m.GlobalPosition(0)
	test.That(t, err, test.ShouldBeNil)
	// A quarter turn swaps the along-track and cross-track variances
	test.That(t, G.At(0, 0), test.ShouldAlmostEqual, 0.01, 1e-12)
	test.That(t, G.At(1, 1), test.ShouldAlmostEqual, 0.09, 1e-12)
	test.That(t, G.At(0, 1), test.ShouldAlmostEqual, 0, 1e-12)
}

func TestMarginalsSingularInformation(t *testing.T) {
	for _, tc := range []struct {
		name  string
		build func(t *testing.T, g *Graph)
	}{
		{
			"isolated pose",
			func(t *testing.T, g *Graph) {
				test.That(t, g.AddPose(5, NewPose2(3, 3, 0)), test.ShouldBeNil)
			},
		},
		{
			"unanchored pair",
			func(t *testing.T, g *Graph) {
				test.That(t, g.AddPose(5, NewPose2(3, 3, 0)), test.ShouldBeNil)
				test.That(t, g.AddPose(6, NewPose2(4, 3, 0)), test.ShouldBeNil)
				f, err := NewBetweenPose2(5, 6, NewPose2(1, 0, 0), mustDiagonal(t, 0.1, 0.1, 0.05))
				test.That(t, err, test.ShouldBeNil)
				test.That(t, g.AddFactor(f), test.ShouldBeNil)
			},
		},
		{
			"unanchored landmark",
			func(t *testing.T, g *Graph) {
				test.That(t, g.AddPoint(5, r2.Point{X: 3, Y: 3}), test.ShouldBeNil)
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			g := twoPoseGraph(t, NewPose2(1, 0, 0))
			tc.build(t, g)
			m, err := ExtractMarginals(g, g.Initial(), nil)
			test.That(t, errors.Is(err, ErrSingularInformation), test.ShouldBeTrue)
			test.That(t, m, test.ShouldNotBeNil)

			// The failure is confined to the unconstrained component
			kind, _ := g.Kind(5)
			if kind == KindPose {
				_, err = m.Pose(5)
			} else {
				_, err = m.Point(5)
			}
			test.That(t, errors.Is(err, ErrSingularInformation), test.ShouldBeTrue)
			C, err := m.Pose(2)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, C.At(0, 0), test.ShouldAlmostEqual, 0.1, 1e-12)
		})
	}
}

func TestMarginalsSparseVsDense(t *testing.T) {
	cg := newCircleGraph(t, 20, 9)
	sol, err := Optimize(cg.g, cg.g.Initial(), nil)
	test.That(t, err, test.ShouldBeNil)

	opt := NewLMOpt()
	sparse, err := ExtractMarginals(cg.g, sol.Values, opt)
	test.That(t, err, test.ShouldBeNil)
	opt.LinearSolver = DenseCholesky
	dense, err := ExtractMarginals(cg.g, sol.Values, opt)
	test.That(t, err, test.ShouldBeNil)

	for _, k := range cg.poses {
		a, err := sparse.Pose(k)
		test.That(t, err, test.ShouldBeNil)
		b, err := dense.Pose(k)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, mat.EqualApprox(a, b, 1e-10), test.ShouldBeTrue)

		// Covariance blocks are symmetric positive definite
		var chol mat.Cholesky
		test.That(t, chol.Factorize(a), test.ShouldBeTrue)
	}
	for _, k := range cg.points {
		a, err := sparse.Point(k)
		test.That(t, err, test.ShouldBeNil)
		b, err := dense.Point(k)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, mat.EqualApprox(a, b, 1e-10), test.ShouldBeTrue)
	}
}

func TestMarginalsLooseAnchor(t *testing.T) {
	// A loose prior next to tight odometry is badly conditioned but still positive definite
	for _, s := range []float64{10, 100, 1000} {
		g := NewGraph()
		test.That(t, g.AddPose(1, Pose2{}), test.ShouldBeNil)
		test.That(t, g.AddPose(2, NewPose2(1, 0, 0)), test.ShouldBeNil)
		prior, err := NewPriorPose2(1, Pose2{}, mustDiagonal(t, s, s, s))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, g.AddFactor(prior), test.ShouldBeNil)
		odo, err := NewBetweenPose2(1, 2, NewPose2(1, 0, 0), mustDiagonal(t, 1e-3, 1e-3, 1e-3))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, g.AddFactor(odo), test.ShouldBeNil)

		opt := NewLMOpt()
		sparse, err := ExtractMarginals(g, g.Initial(), opt)
		test.That(t, err, test.ShouldBeNil)
		opt.LinearSolver = DenseCholesky
		dense, err := ExtractMarginals(g, g.Initial(), opt)
		test.That(t, err, test.ShouldBeNil)

		for _, k := range []Key{1, 2} {
			a, err := sparse.Pose(k)
			test.That(t, err, test.ShouldBeNil)
			b, err := dense.Pose(k)
			test.That(t, err, test.ShouldBeNil)
			for i := 0; i < 3; i++ {
				test.That(t, a.At(i, i), test.ShouldAlmostEqual, b.At(i, i), 1e-2*b.At(i, i))
			}
		}
		C, err := sparse.Pose(1)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, C.At(0, 0), test.ShouldAlmostEqual, s*s, 1e-2*s*s)
	}
}

func TestMarginalsDebugLog(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	g := twoPoseGraph(t, NewPose2(1, 0, 0))
	opt := NewLMOpt()
	opt.Logger = zap.New(core).Sugar()
	_, err := ExtractMarginals(g, g.Initial(), opt)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, logs.FilterMessageSnippet("cov 1 (3 x 3)").Len(), test.ShouldEqual, 1)
	test.That(t, logs.FilterMessageSnippet("cov 2 (3 x 3)").Len(), test.ShouldEqual, 1)

	// Nothing is formatted above debug level
	core, logs = observer.New(zap.InfoLevel)
	opt.Logger = zap.New(core).Sugar()
	_, err = ExtractMarginals(g, g.Initial(), opt)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, logs.Len(), test.ShouldEqual, 0)
}
