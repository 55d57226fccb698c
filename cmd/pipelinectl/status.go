package main

import (
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

func newStatusCmd(root *rootFlags) *cobra.Command {
	var apiAddr string

	cmd := &cobra.Command{
		Use:   "status <execution-id>",
		Short: "Print the current status of an execution via the Trigger API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := http.Get(apiAddr + "/executions/" + args[0])
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

	cmd.Flags().StringVar(&apiAddr, "api-addr", "http://localhost:8080", "Trigger API base address")
	return cmd
}
