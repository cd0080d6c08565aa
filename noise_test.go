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

	"github.com/pkg/errors"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func TestNewDiagonal(t *testing.T) {
	for _, tc := range []struct {
		name   string
		sigmas []float64
		ok     bool
	}{
		{"valid", []float64{0.1, 0.2, 0.05}, true},
		{"empty", nil, false},
		{"zero", []float64{0.1, 0}, false},
		{"negative", []float64{-0.1}, false},
		{"nan", []float64{math.NaN()}, false},
		{"inf", []float64{0.1, math.Inf(1)}, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			d, err := NewDiagonal(tc.sigmas...)
			if tc.ok {
				test.That(t, err, test.ShouldBeNil)
				test.That(t, d.Dim(), test.ShouldEqual, len(tc.sigmas))
				test.That(t, d.Sigmas(), test.ShouldResemble, tc.sigmas)
			} else {
				test.That(t, errors.Is(err, ErrConstruction), test.ShouldBeTrue)
			}
		})
	}
}

func TestDiagonalFromInformation(t *testing.T) {
	// I11 I12 I13 I22 I23 I33
	d, err := DiagonalFromInformation(3, []float64{100, 1, 2, 25, 3, 400})
	test.That(t, err, test.ShouldBeNil)
	s := d.Sigmas()
	test.That(t, s[0], test.ShouldAlmostEqual, 0.1, 1e-15)
	test.That(t, s[1], test.ShouldAlmostEqual, 0.2, 1e-15)
	test.That(t, s[2], test.ShouldAlmostEqual, 0.05, 1e-15)
	test.That(t, d.Information()[2], test.ShouldAlmostEqual, 400, 1e-9)

	_, err = DiagonalFromInformation(2, []float64{1, 0, 0, 1})
	test.That(t, errors.Is(err, ErrConstruction), test.ShouldBeTrue)
	_, err = DiagonalFromInformation(2, []float64{1, 0, 0})
	test.That(t, errors.Is(err, ErrConstruction), test.ShouldBeTrue)
}

func TestWhiten(t *testing.T) {
	d, err := NewDiagonal(0.5, 2)
	test.That(t, err, test.ShouldBeNil)

	r := []float64{1, 1}
	d.Whiten(r)
	test.That(t, r, test.ShouldResemble, []float64{2, 0.5})

	J := mat.NewDense(2, 3, []float64{1, 2, 3, 4, 6, 8})
	d.WhitenJacobian(J)
	test.That(t, J.RawRowView(0), test.ShouldResemble, []float64{2, 4, 6})
	test.That(t, J.RawRowView(1), test.ShouldResemble, []float64{2, 3, 4})
}
