package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

type triggerOptions struct {
	apiAddr    string
	pipelineID string
}

func newTriggerCmd(root *rootFlags) *cobra.Command {
	opts := &triggerOptions{}

	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Start an execution of a registered pipeline via the Trigger API",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := json.Marshal(map[string]string{
				"pipeline_id":    opts.pipelineID,
				"trigger_source": "cli",
			})
			if err != nil {
				return err
			}

			resp, err := http.Post(opts.apiAddr+"/executions/", "application/json", bytes.NewReader(body))
			if err != nil {
				return fmt.Errorf("call trigger API: %w", err)
			}
			defer resp.Body.Close()

			out, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if resp.StatusCode >= 300 {
				return fmt.Errorf("trigger API returned %s: %s", resp.Status, out)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.apiAddr, "api-addr", "http://localhost:8080", "Trigger API base address")
	cmd.Flags().StringVar(&opts.pipelineID, "pipeline-id", "", "Pipeline to trigger")
	cmd.MarkFlagRequired("pipeline-id") //nolint:errcheck

	return cmd
}
