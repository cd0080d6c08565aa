// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.17
//

package main

import (
	"fmt"
	"io"
	"math"
	"path/filepath"

	"gonum.org/v1/gonum/mat"

	m "github.com/mkhts/gopose"
)

// Print result header
func printResultHeader(out io.Writer, cmd string, args cmdOpt, rslt *m.Result) {
	fmt.Fprintf(out, "%% program   : %s\n", filepath.Base(cmd))
	fmt.Fprintf(out, "%% inp file  : %s\n", args.graphFn)
	fmt.Fprintf(out, "%% anchor    : %.4g %.4g %.4g\n", args.anchorSigmas[0], args.anchorSigmas[1], args.anchorSigmas[2])
	fmt.Fprintf(out, "%% factors   : %d (heading priors %d)\n", rslt.Factors, rslt.HeadingPriors)
	fmt.Fprintf(out, "%% solver    : %s, %s after %d iterations\n", args.solver, rslt.Status, rslt.Iterations)
	fmt.Fprintf(out, "%% error     : %.6g -> %.6g\n", rslt.InitialError, rslt.FinalError)
	fmt.Fprintf(out, "%% duration  : %.6f s\n", rslt.Duration.Seconds())
	if rslt.CovErr != nil {
		fmt.Fprintf(out, "%% cov error : %v\n", rslt.CovErr)
	}
	fmt.Fprintf(out, "%%  pose            x(m)           y(m)  theta(deg)      sx(m)      sy(m)  sth(deg)     sE(m)     sN(m)    rho_EN\n")
}

// Print poses and landmarks
func printResult(out io.Writer, rslt *m.Result) {
	for i, p := range rslt.Poses {
		sx, sy, sth := math.NaN(), math.NaN(), math.NaN()
		if C := rslt.PoseCov[i]; C != nil {
			sx, sy, sth = math.Sqrt(C.At(0, 0)), math.Sqrt(C.At(1, 1)), m.ToDeg(math.Sqrt(C.At(2, 2)))
		}
		se, sn, rho := sigmas2(rslt.GlobalCov[i])
		fmt.Fprintf(out, "P %6d %14.4f %14.4f %11.5f %10.4f %10.4f %9.5f %9.4f %9.4f %9.4f\n",
			p.Key, p.Pose.X, p.Pose.Y, m.ToDeg(p.Pose.Theta), sx, sy, sth, se, sn, rho)
	}
	if len(rslt.Landmarks) == 0 {
		return
	}
	fmt.Fprintf(out, "%%  landmark        x(m)           y(m)      sx(m)      sy(m)    rho_xy\n")
	for i, l := range rslt.Landmarks {
		sx, sy, rho := sigmas2(rslt.LandmarkCov[i])
		fmt.Fprintf(out, "L %6d %14.4f %14.4f %10.4f %10.4f %9.4f\n", l.Key, l.Point.X, l.Point.Y, sx, sy, rho)
	}
}

// Standard deviations and correlation coefficient of a 2x2 covariance, NaN when unavailable
func sigmas2(C *mat.SymDense) (float64, float64, float64) {
	if C == nil {
		return math.NaN(), math.NaN(), math.NaN()
	}
	s0, s1 := math.Sqrt(C.At(0, 0)), math.Sqrt(C.At(1, 1))
	return s0, s1, C.At(0, 1) / (s0 * s1)
}
