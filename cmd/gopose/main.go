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
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	m "github.com/mkhts/gopose"
)

const (
	// Flags.
	flagAnchorSigmas = "anchor-sigmas"
	flagAbsTol       = "abs-tol"
	flagRelTol       = "rel-tol"
	flagMaxIter      = "max-iter"
	flagWorkers      = "workers"
	flagSolver       = "solver"
	flagNoHeadings   = "no-headings"
	flagOut          = "out"
	flagGraphOut     = "graph-out"
	flagPlot         = "plot"
	flagNoHeader     = "no-header"
	flagVerbose      = "verbose"
)

func main() {
	eOpt := m.NewEstimateOpt()
	lOpt := eOpt.LM

	app := &cli.App{
		Name:            "gopose",
		Usage:           "optimize a 2D pose graph and report poses, landmarks and covariances",
		ArgsUsage:       "graph_file",
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.Float64SliceFlag{
				Name:  flagAnchorSigmas,
				Value: cli.NewFloat64Slice(eOpt.AnchorSigmas[:]...),
				Usage: "sigmas x[m],y[m],theta[rad] of the prior anchoring the first pose",
			},
			&cli.Float64Flag{
				Name:  flagAbsTol,
				Value: lOpt.AbsoluteErrorTol,
				Usage: "absolute error decrease below which the solver stops",
			},
			&cli.Float64Flag{
				Name:  flagRelTol,
				Value: lOpt.RelativeErrorTol,
				Usage: "relative error decrease below which the solver stops",
			},
			&cli.IntFlag{
				Name:  flagMaxIter,
				Value: lOpt.MaxIterations,
				Usage: "maximum number of solver iterations",
			},
			&cli.IntFlag{
				Name:  flagWorkers,
				Value: 0,
				Usage: "number of linearization workers, 0 for one per CPU",
			},
			&cli.StringFlag{
				Name:  flagSolver,
				Value: m.SparseCholesky.String(),
				Usage: "linear solver, sparse or dense",
			},
			&cli.BoolFlag{
				Name:  flagNoHeadings,
				Usage: "ignore HD2 heading records",
			},
			&cli.StringFlag{
				Name:    flagOut,
				Aliases: []string{"o"},
				Usage:   "write the result report to `FILE` instead of stdout",
			},
			&cli.StringFlag{
				Name:  flagGraphOut,
				Usage: "write the optimized graph to `FILE`",
			},
			&cli.StringFlag{
				Name:  flagPlot,
				Usage: "plot trajectory, landmarks and 2-sigma ellipses to `FILE` (png, svg, pdf)",
			},
			&cli.BoolFlag{
				Name:  flagNoHeader,
				Usage: "do not write the header section of the report",
			},
			&cli.BoolFlag{
				Name:    flagVerbose,
				Aliases: []string{"v"},
				Usage:   "enable debug logging",
			},
		},
		Action: runApplication,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "gopose: %v\n", err)
		os.Exit(1)
	}
}

// Main application processing
func runApplication(c *cli.Context) error {

	// Parse command line arguments
	args, err := parseArgs(c)
	if err != nil {
		cli.ShowAppHelp(c)
		return err
	}

	verbosity := 0
	if args.verbose {
		verbosity = 1
	}
	logger, err := m.NewLogger("gopose", verbosity)
	if err != nil {
		return errors.Wrap(err, "failed to create logger")
	}
	defer logger.Sync()

	// Load input file
	gf, err := m.LoadGraph(args.graphFn, logger)
	if err != nil {
		return errors.Wrap(err, "failed to load graph file")
	}
	logger.Debugf("%s: %d vertices, %d edges", args.graphFn, len(gf.Vertices), len(gf.Edges))

	// Estimate
	rslt, err := m.Estimate(gf, setEstimateOpt(args, logger))
	if err != nil {
		return errors.Wrap(err, "failed to estimate")
	}
	if !rslt.Converged() {
		logger.Warnf("solver did not converge (%s), writing best values", rslt.Status)
	}

	// Prepare output file
	out, err := prepareOutput(args.outFn)
	if err != nil {
		return errors.Wrap(err, "failed to prepare output")
	}
	defer closeOutput(out)

	// Print result
	if !args.noHeader {
		printResultHeader(out, c.App.Name, args, rslt)
	}
	printResult(out, rslt)

	// Optimized graph
	if len(args.graphOutFn) > 0 {
		if err := writeGraphFile(args.graphOutFn, gf.WithValues(rslt.Values)); err != nil {
			return errors.Wrap(err, "failed to write optimized graph")
		}
	}

	// Plot
	if len(args.plotFn) > 0 {
		if err := plotResult(args.plotFn, gf, rslt); err != nil {
			return errors.Wrap(err, "failed to plot")
		}
	}
	return nil
}

// Prepare output file
func prepareOutput(fn string) (io.WriteCloser, error) {

	// Use stdout if no output file is specified
	if len(fn) == 0 {
		return &nopCloser{os.Stdout}, nil
	}

	// Create output file
	f, err := os.Create(fn)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Close output file
func closeOutput(out io.WriteCloser) {
	if out != nil {
		out.Close()
	}
}

// nopCloser - WriteCloser that ignores close operations
type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// Structure to hold command line argument information
type cmdOpt struct {
	graphFn      string
	outFn        string
	graphOutFn   string
	plotFn       string
	anchorSigmas [3]float64
	absTol       float64
	relTol       float64
	maxIter      int
	workers      int
	solver       m.LinearSolver
	noHeadings   bool
	noHeader     bool
	verbose      bool
}

// Parse command line arguments
func parseArgs(c *cli.Context) (a cmdOpt, err error) {
	if c.NArg() != 1 {
		return a, errors.Errorf("expected one graph file, got %d arguments", c.NArg())
	}
	a.graphFn = c.Args().First()

	sigmas := c.Float64Slice(flagAnchorSigmas)
	if len(sigmas) != 3 {
		return a, errors.Errorf("--%s needs 3 values, got %d", flagAnchorSigmas, len(sigmas))
	}
	copy(a.anchorSigmas[:], sigmas)

	switch s := c.String(flagSolver); s {
	case m.SparseCholesky.String():
		a.solver = m.SparseCholesky
	case m.DenseCholesky.String():
		a.solver = m.DenseCholesky
	default:
		return a, errors.Errorf("unknown --%s %q, want sparse or dense", flagSolver, s)
	}

	a.absTol = c.Float64(flagAbsTol)
	a.relTol = c.Float64(flagRelTol)
	a.maxIter = c.Int(flagMaxIter)
	a.workers = c.Int(flagWorkers)
	a.noHeadings = c.Bool(flagNoHeadings)
	a.outFn = c.String(flagOut)
	a.graphOutFn = c.String(flagGraphOut)
	a.plotFn = c.String(flagPlot)
	a.noHeader = c.Bool(flagNoHeader)
	a.verbose = c.Bool(flagVerbose)
	return a, nil
}

func setEstimateOpt(args cmdOpt, logger *zap.SugaredLogger) *m.EstimateOpt {
	opt := m.NewEstimateOpt()
	opt.AnchorSigmas = args.anchorSigmas
	opt.UseHeadings = !args.noHeadings
	opt.LM.AbsoluteErrorTol = args.absTol
	opt.LM.RelativeErrorTol = args.relTol
	opt.LM.MaxIterations = args.maxIter
	opt.LM.Workers = args.workers
	opt.LM.LinearSolver = args.solver
	opt.LM.Logger = logger
	return opt
}

// Write the graph file
func writeGraphFile(fn string, gf *m.GraphFile) error {
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	if err := m.WriteGraph(f, gf); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
