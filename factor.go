// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.14
//

// Implements the constraint types of the pose graph and their analytic Jacobians.
//
// All Jacobians are taken with respect to the local parameterization of each variable:
// a pose is perturbed by Pose2.Retract (translation increment in the pose frame), a landmark
// is perturbed additively in the global frame.

package gopose

import (
	"math"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"
)

// Factor is one residual block of the least-squares problem
type Factor interface {
	// Keys returns the variables this factor depends on
	Keys() []Key
	// Kinds returns the expected variable type of each key
	Kinds() []VarKind
	// Dim returns the residual dimension
	Dim() int
	// Noise returns the noise model used to whiten the residual
	Noise() *Diagonal
	// Residual evaluates the unwhitened residual. Angular components are in (-pi, pi].
	Residual(v *Values) []float64
	// Jacobians returns one unwhitened Dim x key-dim block per key
	Jacobians(v *Values) []*mat.Dense
}

// Error returns 0.5 * ||whitened residual||^2
func Error(f Factor, v *Values) float64 {
	r := f.Residual(v)
	f.Noise().Whiten(r)
	e := 0.0
	for _, x := range r {
		e += x * x
	}
	return 0.5 * e
}

func checkNoiseDim(n *Diagonal, dim int) error {
	if n == nil {
		return constructionErrorf("noise model is nil")
	}
	if n.Dim() != dim {
		return constructionErrorf("noise model has dimension %d, want %d", n.Dim(), dim)
	}
	return nil
}

//-------------------------------------------------------------------
// PriorPose2
//-------------------------------------------------------------------

// PriorPose2 anchors a pose near a mean
type PriorPose2 struct {
	Key   Key
	Mean  Pose2
	noise *Diagonal
}

func NewPriorPose2(key Key, mean Pose2, noise *Diagonal) (*PriorPose2, error) {
	if err := checkNoiseDim(noise, 3); err != nil {
		return nil, err
	}
	return &PriorPose2{Key: key, Mean: mean, noise: noise}, nil
}

func (f *PriorPose2) Keys() []Key      { return []Key{f.Key} }
func (f *PriorPose2) Kinds() []VarKind { return []VarKind{KindPose} }
func (f *PriorPose2) Dim() int         { return 3 }
func (f *PriorPose2) Noise() *Diagonal { return f.noise }

func (f *PriorPose2) Residual(v *Values) []float64 {
	p := v.Pose(f.Key)
	d := f.Mean.TransformTo(p.Trans())
	return []float64{d.X, d.Y, WrapAngle(p.Theta - f.Mean.Theta)}
}

func (f *PriorPose2) Jacobians(v *Values) []*mat.Dense {
	p := v.Pose(f.Key)
	var R mat.Dense
	R.Mul(f.Mean.Rotation().T(), p.Rotation())
	J := mat.NewDense(3, 3, nil)
	J.Slice(0, 2, 0, 2).(*mat.Dense).Copy(&R)
	J.Set(2, 2, 1)
	return []*mat.Dense{J}
}

//-------------------------------------------------------------------
// BetweenPose2
//-------------------------------------------------------------------

// BetweenPose2 relates two poses by a measured relative transform (odometry or loop closure)
type BetweenPose2 struct {
	Key1, Key2 Key
	Measured   Pose2
	noise      *Diagonal
}

func NewBetweenPose2(key1, key2 Key, measured Pose2, noise *Diagonal) (*BetweenPose2, error) {
	if key1 == key2 {
		return nil, constructionErrorf("between factor connects pose %d to itself", key1)
	}
	if err := checkNoiseDim(noise, 3); err != nil {
		return nil, err
	}
	return &BetweenPose2{Key1: key1, Key2: key2, Measured: measured, noise: noise}, nil
}

func (f *BetweenPose2) Keys() []Key      { return []Key{f.Key1, f.Key2} }
func (f *BetweenPose2) Kinds() []VarKind { return []VarKind{KindPose, KindPose} }
func (f *BetweenPose2) Dim() int         { return 3 }
func (f *BetweenPose2) Noise() *Diagonal { return f.noise }

// Residual is measured^-1 * (p1^-1 * p2) written as (x, y, theta)
func (f *BetweenPose2) Residual(v *Values) []float64 {
	p1, p2 := v.Pose(f.Key1), v.Pose(f.Key2)
	d := p1.TransformTo(p2.Trans())
	e := f.Measured.TransformTo(d)
	return []float64{e.X, e.Y, WrapAngle(p2.Theta - p1.Theta - f.Measured.Theta)}
}

func (f *BetweenPose2) Jacobians(v *Values) []*mat.Dense {
	p1, p2 := v.Pose(f.Key1), v.Pose(f.Key2)
	d := p1.TransformTo(p2.Trans())
	Rm := f.Measured.Rotation()

	// d(p1^-1 * t2) with respect to the local increments of p1 and p2
	A1 := mat.NewDense(2, 3, []float64{
		-1, 0, d.Y,
		0, -1, -d.X,
	})
	A2 := mat.NewDense(2, 3, nil)
	A2.Slice(0, 2, 0, 2).(*mat.Dense).Copy(rot2(p2.Theta - p1.Theta))

	J1 := mat.NewDense(3, 3, nil)
	J2 := mat.NewDense(3, 3, nil)
	J1.Slice(0, 2, 0, 3).(*mat.Dense).Mul(Rm.T(), A1)
	J2.Slice(0, 2, 0, 3).(*mat.Dense).Mul(Rm.T(), A2)
	J1.Set(2, 2, -1)
	J2.Set(2, 2, 1)
	return []*mat.Dense{J1, J2}
}

//-------------------------------------------------------------------
// PoseToPointXY
//-------------------------------------------------------------------

// PoseToPointXY observes a landmark at a relative position in the pose frame
type PoseToPointXY struct {
	PoseKey, PointKey Key
	Measured          r2.Point
	noise             *Diagonal
}

func NewPoseToPointXY(poseKey, pointKey Key, measured r2.Point, noise *Diagonal) (*PoseToPointXY, error) {
	if err := checkNoiseDim(noise, 2); err != nil {
		return nil, err
	}
	return &PoseToPointXY{PoseKey: poseKey, PointKey: pointKey, Measured: measured, noise: noise}, nil
}

func (f *PoseToPointXY) Keys() []Key      { return []Key{f.PoseKey, f.PointKey} }
func (f *PoseToPointXY) Kinds() []VarKind { return []VarKind{KindPose, KindPoint} }
func (f *PoseToPointXY) Dim() int         { return 2 }
func (f *PoseToPointXY) Noise() *Diagonal { return f.noise }

func (f *PoseToPointXY) Residual(v *Values) []float64 {
	q := v.Pose(f.PoseKey).TransformTo(v.Point(f.PointKey))
	e := q.Sub(f.Measured)
	return []float64{e.X, e.Y}
}

func (f *PoseToPointXY) Jacobians(v *Values) []*mat.Dense {
	p := v.Pose(f.PoseKey)
	q := p.TransformTo(v.Point(f.PointKey))
	Jp := mat.NewDense(2, 3, []float64{
		-1, 0, q.Y,
		0, -1, -q.X,
	})
	Jl := mat.DenseCopyOf(p.Rotation().T())
	return []*mat.Dense{Jp, Jl}
}

//-------------------------------------------------------------------
// BearingRange
//-------------------------------------------------------------------

// BearingRange observes a landmark by bearing (relative to the pose heading) and range
type BearingRange struct {
	PoseKey, PointKey Key
	Bearing, Range    float64
	noise             *Diagonal
}

// Below this range the bearing is undefined and its Jacobian is zeroed
const minBearingRange = 1e-9

func NewBearingRange(poseKey, pointKey Key, bearing, rng float64, noise *Diagonal) (*BearingRange, error) {
	if err := checkNoiseDim(noise, 2); err != nil {
		return nil, err
	}
	if rng < 0 {
		return nil, constructionErrorf("negative range %g", rng)
	}
	return &BearingRange{PoseKey: poseKey, PointKey: pointKey, Bearing: WrapAngle(bearing), Range: rng, noise: noise}, nil
}

func (f *BearingRange) Keys() []Key      { return []Key{f.PoseKey, f.PointKey} }
func (f *BearingRange) Kinds() []VarKind { return []VarKind{KindPose, KindPoint} }
func (f *BearingRange) Dim() int         { return 2 }
func (f *BearingRange) Noise() *Diagonal { return f.noise }

func (f *BearingRange) Residual(v *Values) []float64 {
	q := v.Pose(f.PoseKey).TransformTo(v.Point(f.PointKey))
	return []float64{
		WrapAngle(math.Atan2(q.Y, q.X) - f.Bearing),
		q.Norm() - f.Range,
	}
}

func (f *BearingRange) Jacobians(v *Values) []*mat.Dense {
	p := v.Pose(f.PoseKey)
	q := p.TransformTo(v.Point(f.PointKey))
	r := q.Norm()
	Jp := mat.NewDense(2, 3, nil)
	Jl := mat.NewDense(2, 2, nil)
	if r < minBearingRange {
		return []*mat.Dense{Jp, Jl}
	}
	rr := r * r
	Jp.SetRow(0, []float64{q.Y / rr, -q.X / rr, -1})
	Jp.SetRow(1, []float64{-q.X / r, -q.Y / r, 0})

	// d(bearing, range)/dq times dq/dl = R^T
	Dq := mat.NewDense(2, 2, []float64{
		-q.Y / rr, q.X / rr,
		q.X / r, q.Y / r,
	})
	Jl.Mul(Dq, p.Rotation().T())
	return []*mat.Dense{Jp, Jl}
}

//-------------------------------------------------------------------
// OrientationPrior
//-------------------------------------------------------------------

// OrientationPrior constrains only the heading of a pose to an absolute angle
type OrientationPrior struct {
	Key     Key
	Heading float64
	noise   *Diagonal
}

func NewOrientationPrior(key Key, heading float64, noise *Diagonal) (*OrientationPrior, error) {
	if err := checkNoiseDim(noise, 1); err != nil {
		return nil, err
	}
	return &OrientationPrior{Key: key, Heading: heading, noise: noise}, nil
}

func (f *OrientationPrior) Keys() []Key      { return []Key{f.Key} }
func (f *OrientationPrior) Kinds() []VarKind { return []VarKind{KindPose} }
func (f *OrientationPrior) Dim() int         { return 1 }
func (f *OrientationPrior) Noise() *Diagonal { return f.noise }

func (f *OrientationPrior) Residual(v *Values) []float64 {
	return []float64{WrapAngle(v.Pose(f.Key).Theta - f.Heading)}
}

func (f *OrientationPrior) Jacobians(v *Values) []*mat.Dense {
	return []*mat.Dense{mat.NewDense(1, 3, []float64{0, 0, 1})}
}

//-------------------------------------------------------------------
// Numeric differentiation
//-------------------------------------------------------------------

// NumericJacobians differentiates f by central differences with step h in the local
// parameterization of each key. It is slower than the analytic Jacobians but needs only
// Residual, so it serves as a check and as a fallback for new factor types.
func NumericJacobians(f Factor, v *Values, h float64) []*mat.Dense {
	keys := f.Keys()
	dim := f.Dim()
	out := make([]*mat.Dense, len(keys))
	for i, k := range keys {
		kind, _ := v.Kind(k)
		n := kind.Dim()
		J := mat.NewDense(dim, n, nil)
		for j := 0; j < n; j++ {
			plus := perturb(v, k, kind, j, h)
			minus := perturb(v, k, kind, j, -h)
			rp, rm := f.Residual(plus), f.Residual(minus)
			for r := 0; r < dim; r++ {
				J.Set(r, j, WrapAngle(rp[r]-rm[r])/(2*h))
			}
		}
		out[i] = J
	}
	return out
}

func perturb(v *Values, k Key, kind VarKind, axis int, h float64) *Values {
	c := v.Clone()
	switch kind {
	case KindPose:
		var d [3]float64
		d[axis] = h
		c.SetPose(k, v.Pose(k).Retract(d[0], d[1], d[2]))
	case KindPoint:
		p := v.Point(k)
		if axis == 0 {
			p.X += h
		} else {
			p.Y += h
		}
		c.SetPoint(k, p)
	}
	return c
}
