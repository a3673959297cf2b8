package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/abia-desktop/abia/llm"
	"github.com/abia-desktop/abia/usage"
	"github.com/spf13/cobra"
)

var errConnectionFailed = errors.New("connection check failed")

func newCheckCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Probe the DeepSeek API",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.deepseekClient()
			if err != nil {
				return err
			}
			ok := client.CheckConnection(cmd.Context())
			status := client.ConnectionStatus()

			if asJSON {
				if err := writeJSON(cmd.OutOrStdout(), status); err != nil {
					return err
				}
			} else {
				printStatus(cmd.OutOrStdout(), status)
			}
			if !ok {
				return errConnectionFailed
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the status as JSON")
	return cmd
}

func printStatus(w io.Writer, status llm.ConnectionStatus) {
	if status.State == llm.StateConnected {
		fmt.Fprintln(w, "Connected")
		return
	}
	fmt.Fprintf(w, "Status: %s\n", status.State)
	if status.LastError != nil {
		fmt.Fprintf(w, "Error: %s\n", status.LastError.Message)
		if status.LastError.Code != "" {
			fmt.Fprintf(w, "Code: %s\n", status.LastError.Code)
		}
		if status.LastError.StatusCode != 0 {
			fmt.Fprintf(w, "HTTP status: %d\n", status.LastError.StatusCode)
		}
	}
}

func newStatsCommand(ctx *commandContext) *cobra.Command {
	var asJSON, reset bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show recorded token usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.usageStore()
			if err != nil {
				return err
			}
			if store == nil {
				return fmt.Errorf("token usage recording is disabled")
			}
			if reset {
				if err := store.Reset(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Token usage reset")
				return nil
			}
			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), stats)
			}
			printStats(cmd.OutOrStdout(), stats)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the statistics as JSON")
	cmd.Flags().BoolVar(&reset, "reset", false, "Delete all recorded usage")
	return cmd
}

func printStats(w io.Writer, stats usage.Stats) {
	row := func(label string, u llm.Usage) {
		fmt.Fprintf(w, "%-8s input %8d  output %8d  total %8d\n", label, u.InputTokens, u.OutputTokens, u.Total())
	}
	row("Today", stats.Today)
	row("Month", stats.Month)
	row("Total", stats.Total)
	fmt.Fprintf(w, "Calls    %d\n", stats.Calls)
	if !stats.LastCall.IsZero() {
		fmt.Fprintf(w, "Last     %s (%s)\n", stats.LastCall.Format(time.RFC3339), stats.LastModel)
	}
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
