package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	var vars []string
	validateCmd := &cobra.Command{
		Use:   "validate MODEL",
		Short: "Load and resolve a model without simulating it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadModel(cmd, args[0], vars, nil)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s: %d processors, %d tasks, %d entries\n",
				args[0], len(m.Processors), len(m.Tasks), len(m.Entries()))
			for _, warning := range m.Warnings {
				fmt.Fprintf(w, "warning: %s\n", warning)
			}
			return nil
		},
	}
	validateCmd.Flags().StringArrayVar(&vars, "var", nil, "HCL variable as NAME=VALUE (repeatable)")
	return validateCmd
}
