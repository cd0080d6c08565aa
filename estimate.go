// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.16
//

// Implements the estimation pipeline: graph file -> factor graph -> optimization ->
// marginal covariances -> result.

package gopose

import (
	"time"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// EstimateOpt contains options of the estimation pipeline
type EstimateOpt struct {
	AnchorSigmas [3]float64 // Prior sigmas (x, y, theta) on the first pose
	UseHeadings  bool       // Add HD2 heading records as orientation priors
	LM           *LMOpt     // Solver options, also used for covariance extraction
}

// NewEstimateOpt creates a new EstimateOpt with default values
func NewEstimateOpt() *EstimateOpt {
	return &EstimateOpt{
		AnchorSigmas: [3]float64{0.3, 0.3, 0.1}, // [m], [m], [rad]
		UseHeadings:  true,
		LM:           NewLMOpt(),
	}
}

// PoseEstimate is one estimated pose
type PoseEstimate struct {
	Key  Key
	Pose Pose2
}

// LandmarkEstimate is one estimated landmark
type LandmarkEstimate struct {
	Key   Key
	Point r2.Point
}

// Result is the outcome of Estimate. Covariance slices are parallel to Poses and Landmarks;
// an entry is nil when its covariance could not be computed.
type Result struct {
	Poses       []PoseEstimate     // By ascending key
	Landmarks   []LandmarkEstimate // By ascending key
	PoseCov     []*mat.SymDense    // 3x3 (x, y, theta) in the pose frame
	GlobalCov   []*mat.SymDense    // 2x2 position in the global frame
	LandmarkCov []*mat.SymDense    // 2x2
	Values      *Values            // Estimated values
	Duration    time.Duration      // Solver wall-clock time

	Status        Status
	Iterations    int
	InitialError  float64
	FinalError    float64
	Factors       int   // Factors in the solved graph, anchor and heading priors included
	HeadingPriors int   // Orientation priors added from heading records
	SolveErr      error // Set when the damped system became singular
	CovErr        error // Set when some covariances could not be computed
}

func (r *Result) Converged() bool {
	return r.Status == StatusConverged
}

// Estimate runs the whole pipeline on a parsed graph file.
//
// Construction errors abort. A solver that does not converge still yields a Result with the
// best values found; a covariance failure still yields the point estimates.
func Estimate(gf *GraphFile, opt *EstimateOpt) (*Result, error) {
	if opt == nil {
		opt = NewEstimateOpt()
	}
	lm := opt.LM
	if lm == nil {
		lm = NewLMOpt()
	}
	log := loggerOrNop(lm.Logger)

	// Build the factor graph
	g, err := BuildGraph(gf)
	if err != nil {
		return nil, errors.Wrap(err, "build graph")
	}
	if err := g.AddAnchor(opt.AnchorSigmas); err != nil {
		return nil, errors.Wrap(err, "anchor")
	}
	nh := 0
	if opt.UseHeadings {
		if nh, err = g.AddHeadingPriors(gf.Headings); err != nil {
			return nil, errors.Wrap(err, "heading priors")
		}
	}
	log.Infof("graph: %d variables, %d factors (%d heading priors)", g.VariableCount(), g.FactorCount(), nh)

	// Optimize
	t0 := time.Now()
	sol, err := Optimize(g, g.Initial(), lm)
	dur := time.Since(t0)
	if sol == nil {
		return nil, errors.Wrap(err, "optimize")
	}
	rslt := &Result{
		Values:        sol.Values,
		Duration:      dur,
		Status:        sol.Status,
		Iterations:    sol.Iterations,
		InitialError:  sol.InitialError,
		FinalError:    sol.FinalError,
		Factors:       g.FactorCount(),
		HeadingPriors: nh,
		SolveErr:      err,
	}
	if err != nil {
		log.Warnf("solver stopped: %v", err)
	}
	log.Infof("solver %s after %d iterations: error %.6g -> %.6g (%v)",
		sol.Status, sol.Iterations, sol.InitialError, sol.FinalError, dur)

	// Marginal covariances
	m, err := ExtractMarginals(g, sol.Values, lm)
	rslt.CovErr = err
	if err != nil {
		log.Warnf("covariance: %v", rslt.CovErr)
	}

	for _, k := range sol.Values.PoseKeys() {
		rslt.Poses = append(rslt.Poses, PoseEstimate{Key: k, Pose: sol.Values.Pose(k)})
		var C, G *mat.SymDense
		if m != nil {
			C, _ = m.Pose(k)
			G, _ = m.GlobalPosition(k)
		}
		rslt.PoseCov = append(rslt.PoseCov, C)
		rslt.GlobalCov = append(rslt.GlobalCov, G)
	}
	for _, k := range sol.Values.PointKeys() {
		rslt.Landmarks = append(rslt.Landmarks, LandmarkEstimate{Key: k, Point: sol.Values.Point(k)})
		var C *mat.SymDense
		if m != nil {
			C, _ = m.Point(k)
		}
		rslt.LandmarkCov = append(rslt.LandmarkCov, C)
	}
	return rslt, nil
}
