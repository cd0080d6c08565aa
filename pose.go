// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.12
//

// Implements SE(2) rigid-body pose arithmetic.

package gopose

import (
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"
)

// Pose2 is a 2D rigid-body pose. Theta is kept in (-pi, pi].
type Pose2 struct {
	X     float64
	Y     float64
	Theta float64
}

func NewPose2(x, y, theta float64) Pose2 {
	return Pose2{X: x, Y: y, Theta: WrapAngle(theta)}
}

func (p Pose2) String() string {
	return fmt.Sprintf("(%.6f, %.6f, %.6f)", p.X, p.Y, p.Theta)
}

// Trans returns the translation part
func (p Pose2) Trans() r2.Point {
	return r2.Point{X: p.X, Y: p.Y}
}

// Rotation returns R(theta) as a 2x2 matrix
func (p Pose2) Rotation() *mat.Dense {
	return rot2(p.Theta)
}

// Compose returns p * q
func (p Pose2) Compose(q Pose2) Pose2 {
	t := p.Trans().Add(rotate(q.Trans(), p.Theta))
	return NewPose2(t.X, t.Y, p.Theta+q.Theta)
}

// Inverse returns p^-1
func (p Pose2) Inverse() Pose2 {
	t := rotate(p.Trans(), -p.Theta)
	return NewPose2(-t.X, -t.Y, -p.Theta)
}

// Between returns p^-1 * q, the pose of q seen from p
func (p Pose2) Between(q Pose2) Pose2 {
	d := p.TransformTo(q.Trans())
	return NewPose2(d.X, d.Y, q.Theta-p.Theta)
}

// TransformTo expresses a global point in the frame of p
func (p Pose2) TransformTo(pt r2.Point) r2.Point {
	return rotate(pt.Sub(p.Trans()), -p.Theta)
}

// TransformFrom maps a point in the frame of p to the global frame
func (p Pose2) TransformFrom(pt r2.Point) r2.Point {
	return p.Trans().Add(rotate(pt, p.Theta))
}

// Retract applies a local increment (dx, dy, dtheta).
// The translation increment is expressed in the pose's own frame.
func (p Pose2) Retract(dx, dy, dtheta float64) Pose2 {
	t := p.Trans().Add(rotate(r2.Point{X: dx, Y: dy}, p.Theta))
	return NewPose2(t.X, t.Y, p.Theta+dtheta)
}

// Local returns the increment d such that p.Retract(d) == q
func (p Pose2) Local(q Pose2) [3]float64 {
	d := p.TransformTo(q.Trans())
	return [3]float64{d.X, d.Y, WrapAngle(q.Theta - p.Theta)}
}

func rotate(v r2.Point, theta float64) r2.Point {
	s, c := math.Sincos(theta)
	return r2.Point{X: c*v.X - s*v.Y, Y: s*v.X + c*v.Y}
}

func rot2(theta float64) *mat.Dense {
	s, c := math.Sincos(theta)
	return mat.NewDense(2, 2, []float64{
		c, -s,
		s, c,
	})
}
