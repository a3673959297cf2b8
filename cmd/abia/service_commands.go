package main

import (
	"github.com/abia-desktop/abia/mcp"
	"github.com/abia-desktop/abia/monitor"
	"github.com/spf13/cobra"
)

func newMonitorCommand(ctx *commandContext) *cobra.Command {
	var schedule string
	var quiet bool
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Probe the API on a schedule and notify on connection changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.deepseekClient()
			if err != nil {
				return err
			}
			if schedule == "" {
				schedule = ctx.config.Monitor.Schedule
			}
			var notifier monitor.Notifier = monitor.DesktopNotifier{}
			if quiet || !ctx.config.Monitor.NotifyEnabled() {
				notifier = monitor.NopNotifier{}
			}
			m, err := monitor.New(client, schedule, notifier, ctx.logger)
			if err != nil {
				return err
			}
			m.Run(cmd.Context())
			return nil
		},
	}
	cmd.Flags().StringVar(&schedule, "schedule", "", "Probe schedule: cron expression or duration (default from config)")
	cmd.Flags().BoolVar(&quiet, "quiet", false, "Disable desktop notifications")
	return cmd
}

func newMCPCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the assistant operations as MCP tools over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.deepseekClient()
			if err != nil {
				return err
			}
			var stats mcp.StatsSource
			if store, err := ctx.usageStore(); err == nil && store != nil {
				stats = store
			}
			return mcp.NewServer(client, stats, ctx.logger).ServeStdio()
		},
	}
}
