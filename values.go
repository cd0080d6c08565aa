// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.18
//

package gopose

import (
	"github.com/golang/geo/r2"
)

// Key identifies a variable. It is the vertex id of the graph file.
type Key int

// VarKind distinguishes the two variable types
type VarKind int

const (
	KindPose  VarKind = iota // Pose2, local dimension 3
	KindPoint                // r2.Point landmark, local dimension 2
)

// Dim returns the dimension of the local parameterization
func (k VarKind) Dim() int {
	if k == KindPose {
		return PoseDim
	}
	return PointDim
}

func (k VarKind) String() string {
	switch k {
	case KindPose:
		return "pose"
	case KindPoint:
		return "point"
	default:
		return "UNKNOWN!"
	}
}

// Values is an assignment of poses and landmarks to keys
type Values struct {
	poses  map[Key]Pose2
	points map[Key]r2.Point
}

func NewValues() *Values {
	return &Values{
		poses:  map[Key]Pose2{},
		points: map[Key]r2.Point{},
	}
}

func (v *Values) SetPose(k Key, p Pose2) {
	delete(v.points, k)
	v.poses[k] = p
}

func (v *Values) SetPoint(k Key, p r2.Point) {
	delete(v.poses, k)
	v.points[k] = p
}

// Pose returns the pose stored under k. The zero pose is returned for unknown keys.
func (v *Values) Pose(k Key) Pose2 {
	return v.poses[k]
}

// Point returns the landmark stored under k. The origin is returned for unknown keys.
func (v *Values) Point(k Key) r2.Point {
	return v.points[k]
}

// Kind reports the variable type under k
func (v *Values) Kind(k Key) (VarKind, bool) {
	if _, ok := v.poses[k]; ok {
		return KindPose, true
	}
	if _, ok := v.points[k]; ok {
		return KindPoint, true
	}
	return 0, false
}

func (v *Values) Len() int {
	return len(v.poses) + len(v.points)
}

// PoseKeys returns pose keys in ascending order
func (v *Values) PoseKeys() []Key {
	return sortedKeys(v.poses)
}

// PointKeys returns landmark keys in ascending order
func (v *Values) PointKeys() []Key {
	return sortedKeys(v.points)
}

func (v *Values) Clone() *Values {
	c := &Values{
		poses:  make(map[Key]Pose2, len(v.poses)),
		points: make(map[Key]r2.Point, len(v.points)),
	}
	for k, p := range v.poses {
		c.poses[k] = p
	}
	for k, p := range v.points {
		c.points[k] = p
	}
	return c
}

// retract applies the stacked increment dx laid out by ord and returns new values.
// Keys not in ord are carried over unchanged.
func (v *Values) retract(ord *ordering, dx []float64) *Values {
	c := v.Clone()
	for i, k := range ord.keys {
		o := ord.offs[i]
		switch ord.kinds[i] {
		case KindPose:
			c.poses[k] = v.poses[k].Retract(dx[o], dx[o+1], dx[o+2])
		case KindPoint:
			p := v.points[k]
			c.points[k] = r2.Point{X: p.X + dx[o], Y: p.Y + dx[o+1]}
		}
	}
	return c
}
