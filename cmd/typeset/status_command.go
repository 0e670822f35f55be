package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"typeset/internal/api"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and pipeline health",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			status, err := ctx.client().Status(cmd.Context())
			if err != nil {
				fmt.Fprintln(out, renderSectionHeader("Daemon", colorize))
				fmt.Fprintln(out, renderStatusLine("Daemon", statusError, "not reachable at "+ctx.apiAddr(), colorize))
				return nil
			}

			printDaemonSection(out, status, colorize)
			printStageSection(out, status, colorize)
			return nil
		},
	}
}

func printDaemonSection(out io.Writer, status *api.DaemonStatus, colorize bool) {
	fmt.Fprintln(out, renderSectionHeader("Daemon", colorize))

	kind := statusOK
	message := fmt.Sprintf("pid %d", status.PID)
	if !status.Running {
		kind = statusWarn
		message = "not running"
	}
	fmt.Fprintln(out, renderStatusLine("Daemon", kind, message, colorize))
	if !status.StartedAt.IsZero() {
		fmt.Fprintln(out, renderStatusLine("Started", statusInfo, status.StartedAt.Local().Format("2006-01-02 15:04:05"), colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Job database", statusInfo, status.JobDBPath, colorize))
	fmt.Fprintln(out, renderStatusLine("Lock file", statusInfo, status.LockFilePath, colorize))
	fmt.Fprintln(out, renderStatusLine("Render queue", statusInfo, fmt.Sprintf("%d waiting", status.QueueDepth), colorize))
	if len(status.ActiveWorkers) > 0 {
		fmt.Fprintln(out, renderStatusLine("Active workers", statusInfo, strings.Join(status.ActiveWorkers, ", "), colorize))
	}
}

func printStageSection(out io.Writer, status *api.DaemonStatus, colorize bool) {
	if len(status.Stages) == 0 {
		return
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, renderSectionHeader("Stages", colorize))
	for _, health := range status.Stages {
		kind := statusOK
		if !health.Ready {
			kind = statusError
		}
		fmt.Fprintln(out, renderStatusLine(health.Name, kind, health.Detail, colorize))
	}
}
