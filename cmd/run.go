package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/layeredqueuing/lqsim/sim/engine"
	"github.com/layeredqueuing/lqsim/sim/loader"
	"github.com/layeredqueuing/lqsim/sim/model"
	"github.com/layeredqueuing/lqsim/sim/sink"
)

type runOptions struct {
	output      string
	metricsFile string
	vars        []string
	pragmas     pragmaFlags
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	runCmd := &cobra.Command{
		Use:   "run MODEL",
		Short: "Simulate a model and print its results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, args[0])
		},
	}
	runCmd.Flags().StringVar(&opts.output, "output", "", "Write the results as YAML to this file")
	runCmd.Flags().StringVar(&opts.metricsFile, "metrics-file", "", "Write the results as a Prometheus textfile")
	runCmd.Flags().StringArrayVar(&opts.vars, "var", nil, "HCL variable as NAME=VALUE (repeatable)")
	opts.pragmas.register(runCmd.Flags())
	return runCmd
}

func (o *runOptions) run(cmd *cobra.Command, path string) error {
	m, err := loadModel(cmd, path, o.vars, &o.pragmas)
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	log := logrus.WithField("run", runID)
	log.Infof("Starting simulation of %s with seed=%d, block period=%g, max blocks=%d",
		path, m.Pragmas.Seed, m.Pragmas.BlockPeriod, m.Pragmas.MaxBlocks)

	rec := sink.NewRecord()
	prom := sink.NewPrometheus()
	logSink := &sink.Log{Entry: log}
	startTime := time.Now()

	sum, runErr := engine.New(m,
		engine.WithSink(sink.Multi{rec, logSink, prom}),
		engine.WithLogger(log),
	).Run(cmd.Context())
	if runErr != nil && sum.Batches == 0 {
		return fmt.Errorf("simulation failed: %w", runErr)
	}

	printResults(cmd.OutOrStdout(), runID, sum, rec, time.Since(startTime))
	if o.output != "" {
		if err := rec.SaveYAML(o.output); err != nil {
			return err
		}
	}
	if o.metricsFile != "" {
		if err := prom.WriteTextfile(o.metricsFile); err != nil {
			return err
		}
	}
	if runErr != nil {
		return fmt.Errorf("simulation failed: %w", runErr)
	}
	log.Info("Simulation complete.")
	return nil
}

// loadModel reads and builds the model at path with pragma overrides from
// the environment and then from flags set on cmd.
func loadModel(cmd *cobra.Command, path string, rawVars []string, flags *pragmaFlags) (*model.Model, error) {
	vars, err := parseVars(rawVars)
	if err != nil {
		return nil, err
	}
	spec, err := loader.Load(path, vars)
	if err != nil {
		return nil, err
	}
	env, err := loadEnv(nil)
	if err != nil {
		return nil, err
	}
	env.apply(&spec.Pragmas)
	if flags != nil {
		flags.apply(&spec.Pragmas, cmd.Flags())
	}
	m, err := model.Build(spec)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", path, err)
	}
	return m, nil
}

func parseVars(raw []string) (map[string]string, error) {
	vars := make(map[string]string, len(raw))
	for _, kv := range raw {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("--var %q: expected NAME=VALUE", kv)
		}
		vars[name] = value
	}
	return vars, nil
}

// printResults writes a human-readable summary of a run.
func printResults(w io.Writer, runID string, sum *engine.Summary, rec *sink.Record, elapsed time.Duration) {
	status := "max blocks reached"
	if sum.Converged {
		status = "converged"
	}
	fmt.Fprintln(w, "=== Simulation Results ===")
	fmt.Fprintf(w, "Run ID               : %s\n", runID)
	fmt.Fprintf(w, "Batches              : %d (%s)\n", sum.Batches, status)
	fmt.Fprintf(w, "RMS Confidence       : %.3f%%\n", sum.RMSConfidence)
	fmt.Fprintf(w, "Simulated Time       : %.2f\n", sum.SimulatedTime)
	fmt.Fprintf(w, "Runtime Errors       : %d\n", sum.RuntimeErrors)
	fmt.Fprintf(w, "Wall Time            : %s\n", elapsed.Round(time.Millisecond))

	section(w, "Throughput", rec.Throughput)
	section(w, "Utilization", rec.Utilization)
	section(w, "Waiting Time", rec.Waiting)
	section(w, "Join Delay", rec.JoinDelay)
	section(w, "Loss Probability", rec.Loss)
	for _, a := range sum.Advisories {
		fmt.Fprintf(w, "advisory: %s\n", a)
	}
}

func section(w io.Writer, title string, stats map[string]sink.Stat) {
	if len(stats) == 0 {
		return
	}
	fmt.Fprintf(w, "--- %s ---\n", title)
	for _, name := range sink.Names(stats) {
		s := stats[name]
		fmt.Fprintf(w, "%-32s : %.6g ± %.3g\n", name, s.Mean, s.Confidence95)
	}
}
