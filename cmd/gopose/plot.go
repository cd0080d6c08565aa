// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.17
//

package main

import (
	"image/color"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	m "github.com/mkhts/gopose"
)

const ellipseSteps = 36

var (
	colorInitial  = color.RGBA{R: 160, G: 160, B: 160, A: 255}
	colorEstimate = color.RGBA{R: 0, G: 90, B: 200, A: 255}
	colorLandmark = color.RGBA{R: 220, G: 50, B: 30, A: 255}
	colorEllipse  = color.RGBA{R: 0, G: 160, B: 80, A: 255}
)

// Plot the initial and estimated trajectories, landmarks and 2-sigma position ellipses.
// The image format follows the file extension.
func plotResult(fn string, gf *m.GraphFile, rslt *m.Result) error {
	p := plot.New()
	p.Title.Text = "pose graph"
	p.X.Label.Text = "x (m)"
	p.Y.Label.Text = "y (m)"
	p.Add(plotter.NewGrid())

	// Initial trajectory
	iv := gf.InitialValues()
	initPts := make(plotter.XYs, 0, len(rslt.Poses))
	for _, k := range iv.PoseKeys() {
		q := iv.Pose(k)
		initPts = append(initPts, plotter.XY{X: q.X, Y: q.Y})
	}
	if err := addLine(p, "initial", initPts, colorInitial); err != nil {
		return err
	}

	// Estimated trajectory
	estPts := make(plotter.XYs, len(rslt.Poses))
	for i, pe := range rslt.Poses {
		estPts[i] = plotter.XY{X: pe.Pose.X, Y: pe.Pose.Y}
	}
	if err := addLine(p, "estimate", estPts, colorEstimate); err != nil {
		return err
	}

	// 2-sigma ellipses
	for i, pe := range rslt.Poses {
		if rslt.GlobalCov[i] == nil {
			continue
		}
		if err := addEllipse(p, pe.Pose.X, pe.Pose.Y, rslt.GlobalCov[i]); err != nil {
			return err
		}
	}

	// Landmarks
	if len(rslt.Landmarks) > 0 {
		lmPts := make(plotter.XYs, len(rslt.Landmarks))
		for i, le := range rslt.Landmarks {
			lmPts[i] = plotter.XY{X: le.Point.X, Y: le.Point.Y}
			if C := rslt.LandmarkCov[i]; C != nil {
				if err := addEllipse(p, le.Point.X, le.Point.Y, C); err != nil {
					return err
				}
			}
		}
		s, err := plotter.NewScatter(lmPts)
		if err != nil {
			return err
		}
		s.GlyphStyle.Shape = draw.CrossGlyph{}
		s.GlyphStyle.Color = colorLandmark
		s.GlyphStyle.Radius = vg.Points(3)
		p.Add(s)
		p.Legend.Add("landmark", s)
	}

	return p.Save(8*vg.Inch, 8*vg.Inch, fn)
}

func addLine(p *plot.Plot, name string, pts plotter.XYs, c color.Color) error {
	if len(pts) == 0 {
		return nil
	}
	l, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	l.LineStyle.Color = c
	l.LineStyle.Width = vg.Points(1)
	p.Add(l)
	p.Legend.Add(name, l)
	return nil
}

// addEllipse draws the 2-sigma ellipse of the 2x2 covariance C centered at (x, y)
func addEllipse(p *plot.Plot, x, y float64, C *mat.SymDense) error {
	var eig mat.EigenSym
	if ok := eig.Factorize(C, true); !ok {
		return nil
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	a := 2 * math.Sqrt(math.Max(vals[0], 0))
	b := 2 * math.Sqrt(math.Max(vals[1], 0))
	pts := make(plotter.XYs, ellipseSteps+1)
	for i := range pts {
		t := 2 * math.Pi * float64(i) / ellipseSteps
		u, v := a*math.Cos(t), b*math.Sin(t)
		pts[i].X = x + u*vecs.At(0, 0) + v*vecs.At(0, 1)
		pts[i].Y = y + u*vecs.At(1, 0) + v*vecs.At(1, 1)
	}
	l, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	l.LineStyle.Color = colorEllipse
	l.LineStyle.Width = vg.Points(0.5)
	p.Add(l)
	return nil
}
