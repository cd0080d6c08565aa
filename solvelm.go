// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.18
//

// Implements the Levenberg-Marquardt nonlinear least squares solver for the factor graph.
//
// Each outer iteration linearizes at the current values, then solves the damped normal
// equations, retracts and re-evaluates the error until a step lowers the error or the retry
// budget runs out. Accepted steps shrink lambda, rejected ones grow it.

package gopose

import (
	"math"
	"runtime"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Status is the state of the solver
type Status int

const (
	StatusInit Status = iota
	StatusIterating
	StatusConverged
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusInit:
		return "init"
	case StatusIterating:
		return "iterating"
	case StatusConverged:
		return "converged"
	case StatusFailed:
		return "failed"
	default:
		return "UNKNOWN!"
	}
}

//-------------------------------------------------------------------
// Options
//-------------------------------------------------------------------

// LMOpt contains the parameters of the Levenberg-Marquardt solver
type LMOpt struct {
	AbsoluteErrorTol float64            // Converged when the error drops by less than this
	RelativeErrorTol float64            // Converged when the error drops by less than this fraction
	MaxIterations    int                // Outer iterations before giving up
	LambdaInitial    float64            // Initial damping
	LambdaFactor     float64            // Damping is multiplied / divided by this on reject / accept
	LambdaLowerBound float64            // Damping never drops below this
	LambdaUpperBound float64            // Damping never exceeds this
	MinDiagonal      float64            // Clamp of diag(J^T J) used for damping
	MaxDiagonal      float64            // Clamp of diag(J^T J) used for damping
	MaxRetries       int                // Rejected steps allowed per outer iteration
	Workers          int                // Linearization workers, 0 for GOMAXPROCS
	LinearSolver     LinearSolver       // Factorization of the damped normal equations
	Logger           *zap.SugaredLogger // Debug output, nil for none
}

// NewLMOpt creates a new LMOpt with default values
func NewLMOpt() *LMOpt {
	return &LMOpt{
		AbsoluteErrorTol: 1e-5,
		RelativeErrorTol: 1e-5,
		MaxIterations:    100,
		LambdaInitial:    1e-5,
		LambdaFactor:     10,
		LambdaLowerBound: 0,
		LambdaUpperBound: 1e10,
		MinDiagonal:      1e-6,
		MaxDiagonal:      1e32,
		MaxRetries:       20,
		Workers:          runtime.GOMAXPROCS(0),
		LinearSolver:     SparseCholesky,
	}
}

// validate rejects option values the solver cannot work with
func (opt *LMOpt) validate() error {
	switch {
	case !(opt.AbsoluteErrorTol >= 0) || !(opt.RelativeErrorTol >= 0):
		return constructionErrorf("error tolerances must not be negative (abs %g, rel %g)", opt.AbsoluteErrorTol, opt.RelativeErrorTol)
	case opt.MaxIterations < 0 || opt.MaxRetries < 0:
		return constructionErrorf("iteration limits must not be negative (iterations %d, retries %d)", opt.MaxIterations, opt.MaxRetries)
	case !(opt.LambdaFactor > 1) || math.IsInf(opt.LambdaFactor, 0):
		return constructionErrorf("lambda factor %g must be finite and greater than 1", opt.LambdaFactor)
	case !(opt.LambdaInitial >= 0) || !(opt.LambdaLowerBound >= 0) || !(opt.LambdaUpperBound >= opt.LambdaLowerBound):
		return constructionErrorf("lambda %g with bounds [%g, %g] is out of range", opt.LambdaInitial, opt.LambdaLowerBound, opt.LambdaUpperBound)
	case !(opt.MinDiagonal >= 0) || !(opt.MaxDiagonal >= opt.MinDiagonal):
		return constructionErrorf("diagonal clamp [%g, %g] is out of range", opt.MinDiagonal, opt.MaxDiagonal)
	}
	return nil
}

// Solution is the outcome of Optimize
type Solution struct {
	Values       *Values   // Best values found
	Status       Status    // StatusConverged or StatusFailed
	Iterations   int       // Outer iterations run
	InitialError float64   // Error at the initial values
	FinalError   float64   // Error at Values
	Lambda       float64   // Damping when the solver stopped
	ErrorHistory []float64 // Initial error followed by the error after each accepted step
}

func (s *Solution) Converged() bool {
	return s.Status == StatusConverged
}

//-------------------------------------------------------------------
// Solver
//-------------------------------------------------------------------

// Optimize minimizes the total error of g starting from initial.
//
// Not converging within MaxIterations or MaxRetries is not an error: the best values are
// returned with StatusFailed. When the damped system cannot be factorized even at the largest
// damping, the best values are returned with StatusFailed and an error wrapping
// ErrSingularSystem.
func Optimize(g *Graph, initial *Values, opt *LMOpt) (*Solution, error) {
	if opt == nil {
		opt = NewLMOpt()
	}
	log := loggerOrNop(opt.Logger)

	if err := opt.validate(); err != nil {
		return nil, err
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if err := g.checkValues(initial); err != nil {
		return nil, err
	}

	st := newStructure(g)
	cur := initial.Clone()
	sys, err := linearize(g, cur, st, opt.Workers)
	if err != nil {
		return nil, errors.Wrap(err, "linearize")
	}

	sol := &Solution{
		Values:       cur,
		Status:       StatusInit,
		InitialError: sys.err,
		FinalError:   sys.err,
		Lambda:       opt.LambdaInitial,
		ErrorHistory: []float64{sys.err},
	}
	log.Debugw("start", "variables", len(st.ord.keys), "factors", g.FactorCount(),
		"components", len(st.comps), "error", sys.err, "solver", opt.LinearSolver)

	if sys.err == 0 {
		sol.Status = StatusConverged
		return sol, nil
	}
	sol.Status = StatusIterating

	lambda := opt.LambdaInitial
	for sol.Iterations < opt.MaxIterations {
		sol.Iterations++

		accepted, done := false, false
		var solveErr error
		for retry := 0; retry <= opt.MaxRetries; retry++ {
			d := damping{lambda: lambda, minDiag: opt.MinDiagonal, maxDiag: opt.MaxDiagonal}
			dx, err := sys.solveDamped(opt.LinearSolver, d)
			if err != nil {
				solveErr = err
				log.Debugw("damped system not solvable", "iter", sol.Iterations, "lambda", lambda, "err", err)
				if lambda >= opt.LambdaUpperBound {
					break
				}
				lambda = increaseLambda(lambda, opt)
				continue
			}
			solveErr = nil

			next := cur.retract(st.ord, dx)
			e := evalError(g, next, opt.Workers)
			delta := sys.err - e

			if e < sys.err {
				log.Debugw("accept", "iter", sol.Iterations, "error", e, "lambda", lambda)
				cur = next
				lambda = max(lambda/opt.LambdaFactor, opt.LambdaLowerBound)
				sol.ErrorHistory = append(sol.ErrorHistory, e)
				done = delta < opt.AbsoluteErrorTol || delta/sys.err < opt.RelativeErrorTol
				sys.err = e
				accepted = true
				break
			}

			log.Debugw("reject", "iter", sol.Iterations, "error", e, "lambda", lambda)
			if math.Abs(delta) < opt.AbsoluteErrorTol {
				done = true
				break
			}
			if lambda >= opt.LambdaUpperBound {
				break
			}
			lambda = increaseLambda(lambda, opt)
		}

		sol.Values = cur
		sol.FinalError = sys.err
		sol.Lambda = lambda

		if done {
			sol.Status = StatusConverged
			log.Debugw("converged", "iter", sol.Iterations, "error", sys.err)
			return sol, nil
		}
		if !accepted {
			sol.Status = StatusFailed
			if solveErr != nil {
				return sol, errors.Wrapf(ErrSingularSystem, "iteration %d, lambda %g: %v", sol.Iterations, lambda, solveErr)
			}
			log.Debugw("no step lowers the error", "iter", sol.Iterations, "error", sys.err)
			return sol, nil
		}

		// Relinearize at the accepted values
		if sys, err = linearize(g, cur, st, opt.Workers); err != nil {
			return sol, errors.Wrap(err, "linearize")
		}
	}

	sol.Status = StatusFailed
	log.Debugw("iteration limit reached", "iter", sol.Iterations, "error", sol.FinalError)
	return sol, nil
}

func increaseLambda(lambda float64, opt *LMOpt) float64 {
	if lambda <= 0 {
		lambda = 1e-5
		if opt.LambdaInitial > 0 {
			lambda = opt.LambdaInitial
		}
		return min(lambda, opt.LambdaUpperBound)
	}
	return min(lambda*opt.LambdaFactor, opt.LambdaUpperBound)
}
