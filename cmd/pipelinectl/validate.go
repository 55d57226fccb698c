package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flowforge/pipelinectl/internal/config"
	"github.com/flowforge/pipelinectl/internal/logging"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <pipeline.yaml>",
		Short: "Validate a pipeline definition file without registering it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := config.NewYAMLLoader(&logging.NoOpLogger{})
			if err := loader.Validate(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", args[0])
			return nil
		},
	}
}
