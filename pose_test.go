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
)

func TestWrapAngle(t *testing.T) {
	for _, tc := range []struct {
		in, want float64
	}{
		{0, 0},
		{math.Pi, math.Pi},
		{-math.Pi, math.Pi},
		{3 * math.Pi / 2, -math.Pi / 2},
		{-3 * math.Pi / 2, math.Pi / 2},
		{10*math.Pi + 0.1, 0.1},
		{-10*math.Pi - 0.1, -0.1},
	} {
		test.That(t, WrapAngle(tc.in), test.ShouldAlmostEqual, tc.want, 1e-12)
	}
}

func TestPose2Algebra(t *testing.T) {
	p := NewPose2(1, 2, 0.3)
	q := NewPose2(-0.5, 4, -2.9)

	// p * p^-1 = identity
	id := p.Compose(p.Inverse())
	test.That(t, id.X, test.ShouldAlmostEqual, 0, 1e-12)
	test.That(t, id.Y, test.ShouldAlmostEqual, 0, 1e-12)
	test.That(t, id.Theta, test.ShouldAlmostEqual, 0, 1e-12)

	// p * (p^-1 q) = q
	r := p.Compose(p.Between(q))
	test.That(t, r.X, test.ShouldAlmostEqual, q.X, 1e-12)
	test.That(t, r.Y, test.ShouldAlmostEqual, q.Y, 1e-12)
	test.That(t, r.Theta, test.ShouldAlmostEqual, q.Theta, 1e-12)

	pt := r2.Point{X: 3, Y: -1}
	back := p.TransformFrom(p.TransformTo(pt))
	test.That(t, back.X, test.ShouldAlmostEqual, pt.X, 1e-12)
	test.That(t, back.Y, test.ShouldAlmostEqual, pt.Y, 1e-12)

	// A quarter turn maps the local x axis to the global y axis
	a := NewPose2(1, 1, math.Pi/2).TransformFrom(r2.Point{X: 1})
	test.That(t, a.X, test.ShouldAlmostEqual, 1, 1e-12)
	test.That(t, a.Y, test.ShouldAlmostEqual, 2, 1e-12)
}

func TestPose2RetractLocal(t *testing.T) {
	p := NewPose2(1, 2, 3.1)
	d := [3]float64{0.2, -0.1, 0.3}
	q := p.Retract(d[0], d[1], d[2])

	// Theta crossed pi and was wrapped
	test.That(t, q.Theta, test.ShouldAlmostEqual, 3.4-2*math.Pi, 1e-12)

	// The translation increment is in the pose frame
	s, c := math.Sincos(3.1)
	test.That(t, q.X, test.ShouldAlmostEqual, 1+c*0.2+s*0.1, 1e-12)
	test.That(t, q.Y, test.ShouldAlmostEqual, 2+s*0.2-c*0.1, 1e-12)

	l := p.Local(q)
	for i := range d {
		test.That(t, l[i], test.ShouldAlmostEqual, d[i], 1e-12)
	}
}
