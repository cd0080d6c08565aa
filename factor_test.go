// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.17
//

package gopose

import (
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func mustDiagonal(t *testing.T, sigmas ...float64) *Diagonal {
	t.Helper()
	d, err := NewDiagonal(sigmas...)
	test.That(t, err, test.ShouldBeNil)
	return d
}

func TestAnalyticJacobians(t *testing.T) {
	v := NewValues()
	v.SetPose(1, NewPose2(1.2, -0.7, 2.9))
	v.SetPose(2, NewPose2(3.1, 0.4, -2.8))
	v.SetPoint(10, r2.Point{X: -1.5, Y: 2.2})

	n3 := mustDiagonal(t, 0.1, 0.1, 0.05)
	n2 := mustDiagonal(t, 0.1, 0.2)
	n1 := mustDiagonal(t, 0.01)

	prior, err := NewPriorPose2(1, NewPose2(0.9, -0.5, -3.0), n3)
	test.That(t, err, test.ShouldBeNil)
	between, err := NewBetweenPose2(1, 2, NewPose2(1.5, 0.3, 0.6), n3)
	test.That(t, err, test.ShouldBeNil)
	xy, err := NewPoseToPointXY(2, 10, r2.Point{X: 1, Y: -2}, n2)
	test.That(t, err, test.ShouldBeNil)
	br, err := NewBearingRange(1, 10, 0.4, 3.5, n2)
	test.That(t, err, test.ShouldBeNil)
	heading, err := NewOrientationPrior(2, 3.0, n1)
	test.That(t, err, test.ShouldBeNil)

	for _, tc := range []struct {
		name string
		f    Factor
	}{
		{"prior", prior},
		{"between", between},
		{"pose to point", xy},
		{"bearing range", br},
		{"orientation", heading},
	} {
		t.Run(tc.name, func(t *testing.T) {
			Ja := tc.f.Jacobians(v)
			Jn := NumericJacobians(tc.f, v, 1e-6)
			test.That(t, len(Ja), test.ShouldEqual, len(tc.f.Keys()))
			for i := range Ja {
				r, c := Ja[i].Dims()
				test.That(t, r, test.ShouldEqual, tc.f.Dim())
				kind, _ := v.Kind(tc.f.Keys()[i])
				test.That(t, c, test.ShouldEqual, kind.Dim())
				test.That(t, mat.EqualApprox(Ja[i], Jn[i], 1e-6), test.ShouldBeTrue)
			}
		})
	}
}

func TestBetweenResidualAtMeasurement(t *testing.T) {
	p1 := NewPose2(2, 1, 3.0)
	p2 := p1.Compose(NewPose2(1, 0.5, 0.4))
	v := NewValues()
	v.SetPose(1, p1)
	v.SetPose(2, p2)
	f, err := NewBetweenPose2(1, 2, p1.Between(p2), mustDiagonal(t, 0.1, 0.1, 0.05))
	test.That(t, err, test.ShouldBeNil)
	for _, r := range f.Residual(v) {
		test.That(t, r, test.ShouldAlmostEqual, 0, 1e-12)
	}
	test.That(t, Error(f, v), test.ShouldAlmostEqual, 0, 1e-20)
}

func TestOrientationResidualWrap(t *testing.T) {
	f, err := NewOrientationPrior(1, math.Pi-0.01, mustDiagonal(t, 0.01))
	test.That(t, err, test.ShouldBeNil)

	for _, tc := range []struct {
		name  string
		theta float64
		want  float64
	}{
		{"across pi", -math.Pi + 0.01, 0.02},
		{"same side", math.Pi - 0.03, -0.02},
		{"exact", math.Pi - 0.01, 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			v := NewValues()
			v.SetPose(1, NewPose2(0, 0, tc.theta))
			r := f.Residual(v)
			test.That(t, r, test.ShouldHaveLength, 1)
			test.That(t, r[0], test.ShouldAlmostEqual, tc.want, 1e-12)
			test.That(t, r[0], test.ShouldBeGreaterThan, -math.Pi)
			test.That(t, r[0], test.ShouldBeLessThanOrEqualTo, math.Pi)
		})
	}

	// Measured headings many turns away give the same residual
	g, err := NewOrientationPrior(1, 0.5+20*math.Pi, mustDiagonal(t, 0.01))
	test.That(t, err, test.ShouldBeNil)
	v := NewValues()
	v.SetPose(1, NewPose2(0, 0, 0.6))
	test.That(t, g.Residual(v)[0], test.ShouldAlmostEqual, 0.1, 1e-9)
}

func TestBearingRangeResidual(t *testing.T) {
	v := NewValues()
	v.SetPose(1, NewPose2(1, 1, math.Pi/2))
	v.SetPoint(2, r2.Point{X: 1, Y: 3})

	f, err := NewBearingRange(1, 2, 0.1, 1.5, mustDiagonal(t, 0.01, 0.1))
	test.That(t, err, test.ShouldBeNil)
	r := f.Residual(v)
	// The landmark is straight ahead at range 2
	test.That(t, r[0], test.ShouldAlmostEqual, -0.1, 1e-12)
	test.That(t, r[1], test.ShouldAlmostEqual, 0.5, 1e-12)

	_, err = NewBearingRange(1, 2, 0, -1, mustDiagonal(t, 0.01, 0.1))
	test.That(t, err, test.ShouldNotBeNil)
}
