package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const defaultLogLevel = "warn"

// newRootCmd builds the base command with every subcommand attached.
func newRootCmd() *cobra.Command {
	var logLevel string

	rootCmd := &cobra.Command{
		Use:           "lqsim",
		Short:         "Discrete-event simulator for layered queueing networks",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := defaultLogLevel
			env, err := loadEnv(nil)
			if err != nil {
				return err
			}
			if env.LogLevel != "" {
				level = env.LogLevel
			}
			if cmd.Flags().Changed("log") {
				level = logLevel
			}
			parsed, err := logrus.ParseLevel(level)
			if err != nil {
				return err
			}
			logrus.SetLevel(parsed)
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", defaultLogLevel, "Log level (trace, debug, info, warn, error, fatal, panic)")

	rootCmd.AddCommand(newRunCmd(), newValidateCmd())
	return rootCmd
}

// Execute runs the CLI root command. An interrupt cancels the simulation
// at the next batch boundary.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		logrus.Error(err)
		stop()
		os.Exit(1)
	}
}
