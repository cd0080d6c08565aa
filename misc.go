// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.12
//

package gopose

import (
	"math"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// ------------------------------------
// Mini functions
// ------------------------------------

func SQ(x float64) float64 {
	return x * x
}

func ToDeg(rad float64) float64 {
	return rad / PI * 180.0
}

func ToRad(deg float64) float64 {
	return deg / 180.0 * PI
}

// WrapAngle normalizes an angle into (-pi, pi]
func WrapAngle(a float64) float64 {
	if a > -PI && a <= PI {
		return a
	}
	a = math.Mod(a+PI, 2*PI)
	if a <= 0 {
		a += 2 * PI
	}
	return a - PI
}

func isValidSigma(s float64) bool {
	return s > 0 && !math.IsInf(s, 0) && !math.IsNaN(s)
}

// ------------------------------------
// Others
// ------------------------------------

// sortedKeys returns map keys in ascending order
func sortedKeys[V any](m map[Key]V) []Key {
	keys := maps.Keys(m)
	slices.Sort(keys)
	return keys
}
