package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	sim "github.com/hydronet-sim/hydronet-sim/sim"
	"github.com/hydronet-sim/hydronet-sim/sim/nls"
	"github.com/hydronet-sim/hydronet-sim/sim/results"
)

var (
	// Shared flags
	networkPath string  // YAML network description
	logLevel    string  // Log verbosity level
	durationSec float64 // Simulation duration (seconds)
	stepSec     float64 // Hydraulic timestep (seconds)
	outputPath  string  // Results CSV destination ("" = skip)

	// Formulation flags
	modifiedHW    bool // Smoothed Hazen-Williams loss curve
	enforceBounds bool // Junction/tank head bounds on the stepped path
	useHorizon    bool // Solve the whole horizon as one system

	// Solver flags
	solverTol     float64 // Residual tolerance
	solverMaxIter int     // Newton iteration cap

	// Calibration flags
	measurementsPath string  // Measurements CSV
	weightTankLevel  float64 // Tank level misfit weight
	weightPressure   float64 // Pressure misfit weight
	weightFlowrate   float64 // Flowrate misfit weight
	weightDemand     float64 // Demand misfit weight
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "hydronet",
	Short: "Quasi-steady hydraulic simulator for water distribution networks",
}

// setup parses common flags into a network, driver config, and results table.
func setup() (*sim.Network, sim.DriverConfig, *results.Table) {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", logLevel)
	}
	logrus.SetLevel(level)

	if networkPath == "" {
		logrus.Fatalf("Network description not provided. Use --network.")
	}
	cfg, err := LoadNetworkConfig(networkPath)
	if err != nil {
		logrus.Fatalf("Loading network: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("Invalid network: %v", err)
	}
	wn, err := cfg.BuildNetwork()
	if err != nil {
		logrus.Fatalf("Building network: %v", err)
	}

	driverCfg := sim.DriverConfig{
		DurationSec:      durationSec,
		HydraulicStepSec: stepSec,
		Build: sim.BuildConfig{
			ModifiedHazenWilliams: modifiedHW,
			EnforceBounds:         enforceBounds,
		},
	}
	return wn, driverCfg, results.NewTable()
}

func solverOptions() nls.Options {
	opts := nls.DefaultOptions()
	opts.Tolerance = solverTol
	opts.MaxIterations = solverMaxIter
	return opts
}

func writeResults(table *results.Table) {
	summary := results.Summarize(table)
	logrus.Infof("solved %d instants: min pressure %.3f m at %s, max velocity %.3f m/s in %s",
		summary.Instants, summary.MinPressure, summary.MinPressureNode, summary.MaxVelocity, summary.MaxVelocityLink)

	if outputPath == "" {
		return
	}
	f, err := os.Create(outputPath)
	if err != nil {
		logrus.Fatalf("Creating results file: %v", err)
	}
	defer f.Close()
	if err := table.WriteCSV(f); err != nil {
		logrus.Fatalf("Writing results: %v", err)
	}
	logrus.Infof("results written to %s", outputPath)
}

// runCmd executes the stepped (or whole-horizon) simulation.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the hydraulic simulation",
	Run: func(cmd *cobra.Command, args []string) {
		wn, driverCfg, table := setup()
		solver := nls.NewNewton(solverOptions())

		if useHorizon {
			if err := sim.RunHorizon(wn, driverCfg, solver, table); err != nil {
				logrus.Fatalf("Simulation failed: %v", err)
			}
		} else {
			driver, err := sim.NewDriver(wn, driverCfg, solver, table)
			if err != nil {
				logrus.Fatalf("Preparing simulation: %v", err)
			}
			if err := driver.Run(); err != nil {
				logrus.Fatalf("Simulation failed: %v", err)
			}
		}
		writeResults(table)
	},
}

// calibrateCmd fits the full-horizon formulation to field measurements.
var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Calibrate the network against field measurements",
	Run: func(cmd *cobra.Command, args []string) {
		wn, driverCfg, table := setup()
		if measurementsPath == "" {
			logrus.Fatalf("Measurements not provided. Use --measurements.")
		}
		measurements, err := LoadMeasurements(measurementsPath)
		if err != nil {
			logrus.Fatalf("Loading measurements: %v", err)
		}

		weights := sim.CalibrationWeights{
			TankLevel: weightTankLevel,
			Pressure:  weightPressure,
			Flowrate:  weightFlowrate,
			Demand:    weightDemand,
		}
		solver := nls.NewGaussNewton(solverOptions())
		if err := sim.RunCalibration(wn, driverCfg, measurements, weights, solver, table); err != nil {
			logrus.Fatalf("Calibration failed: %v", err)
		}
		writeResults(table)
	},
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	for _, c := range []*cobra.Command{runCmd, calibrateCmd} {
		c.Flags().StringVar(&networkPath, "network", "", "Path to the YAML network description")
		c.Flags().StringVar(&logLevel, "log", "error", "Log level (trace, debug, info, warn, error, fatal, panic)")
		c.Flags().Float64Var(&durationSec, "duration", 86400, "Simulation duration in seconds")
		c.Flags().Float64Var(&stepSec, "step", 3600, "Hydraulic timestep in seconds")
		c.Flags().StringVar(&outputPath, "output", "", "Write per-instant results to this CSV file")
		c.Flags().BoolVar(&modifiedHW, "modified-hw", true, "Use the smoothed Hazen-Williams loss curve")
		c.Flags().Float64Var(&solverTol, "tol", 1e-8, "Solver residual tolerance")
		c.Flags().IntVar(&solverMaxIter, "max-solver-iters", 200, "Solver iteration cap")
	}

	runCmd.Flags().BoolVar(&enforceBounds, "enforce-bounds", false, "Enforce junction/tank head bounds on the stepped path")
	runCmd.Flags().BoolVar(&useHorizon, "horizon", false, "Solve the whole time horizon as one system (no valve or conditional controls)")

	calibrateCmd.Flags().StringVar(&measurementsPath, "measurements", "", "Path to the measurements CSV")
	calibrateCmd.Flags().Float64Var(&weightTankLevel, "weight-tank-level", 1.0, "Tank level misfit weight")
	calibrateCmd.Flags().Float64Var(&weightPressure, "weight-pressure", 1.0, "Pressure misfit weight")
	calibrateCmd.Flags().Float64Var(&weightFlowrate, "weight-flowrate", 1.0, "Flowrate misfit weight")
	calibrateCmd.Flags().Float64Var(&weightDemand, "weight-demand", 1.0, "Demand misfit weight")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(calibrateCmd)
}
