package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"typeset/internal/api"
	"typeset/internal/jobs"
	"typeset/internal/stage"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage preview jobs",
	}

	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsShowCommand(ctx))
	jobsCmd.AddCommand(newJobsSubmitCommand(ctx))
	jobsCmd.AddCommand(newJobsCancelCommand(ctx))
	jobsCmd.AddCommand(newJobsDeleteCommand(ctx))
	jobsCmd.AddCommand(newJobsFileCommand(ctx))

	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List jobs known to the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			listed, err := ctx.client().List(cmd.Context())
			if err != nil {
				return err
			}
			if len(listed) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
				return nil
			}
			rows := make([][]string, 0, len(listed))
			for i := range listed {
				rows = append(rows, jobListRow(&listed[i]))
			}
			out := renderTable(
				[]string{"ID", "Project", "State", "Submitted", "Error"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
			)
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
}

func jobListRow(job *jobs.Job) []string {
	state := "unknown"
	if current, ok := job.CurrentState(); ok {
		state = string(current.State)
	}
	errText := ""
	if job.IsError {
		errText = job.ErrorMessage
	}
	return []string{
		job.ID,
		job.ProjectName,
		state,
		formatTimePtr(job.SubmittedAt),
		errText,
	}
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := ctx.client().Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Job:       %s\n", job.ID)
			fmt.Fprintf(out, "Project:   %s\n", job.ProjectName)
			if job.User != "" {
				fmt.Fprintf(out, "User:      %s\n", job.User)
			}
			if current, ok := job.CurrentState(); ok {
				fmt.Fprintf(out, "State:     %s (%s)\n", current.State, current.State.Label())
			}
			fmt.Fprintf(out, "Submitted: %s\n", formatTimePtr(job.SubmittedAt))
			fmt.Fprintf(out, "Started:   %s\n", formatTimePtr(job.StartedAt))
			fmt.Fprintf(out, "Completed: %s\n", formatTimePtr(job.CompletedAt))
			fmt.Fprintf(out, "Cancelled: %s\n", formatTimePtr(job.CancelledAt))
			if job.IsError {
				fmt.Fprintf(out, "Error:     %s\n", job.ErrorMessage)
				if detail := strings.TrimSpace(job.ErrorDetail); detail != "" {
					fmt.Fprintf(out, "Detail:    %s\n", detail)
				}
			}
			if job.Layout.BookFormat != "" {
				fmt.Fprintf(out, "Format:    %s\n", job.Layout.BookFormat)
			}

			if len(job.StateHistory) > 0 {
				rows := make([][]string, 0, len(job.StateHistory))
				for _, entry := range job.StateHistory {
					rows = append(rows, []string{
						string(entry.State),
						stage.DisplayName(string(entry.Source)),
						entry.Timestamp.Format(time.RFC3339),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"State", "Source", "At"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft},
				))
			}
			return nil
		},
	}
}

func newJobsSubmitCommand(ctx *commandContext) *cobra.Command {
	var user string
	var bookFormat string
	var fontSize float64
	var fontLeading float64
	var pageWidth float64
	var pageHeight float64
	var pageHeader float64
	var customFootnotes bool
	var projectFont bool

	cmd := &cobra.Command{
		Use:   "submit <project-name>",
		Short: "Submit a preview job for a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			layout := jobs.LayoutParams{
				BookFormat:         bookFormat,
				UseCustomFootnotes: customFootnotes,
				UseProjectFont:     projectFont,
			}
			flags := cmd.Flags()
			if flags.Changed("font-size") {
				layout.FontSizeInPts = &fontSize
			}
			if flags.Changed("leading") {
				layout.FontLeadingInPts = &fontLeading
			}
			if flags.Changed("page-width") {
				layout.PageWidthInPts = &pageWidth
			}
			if flags.Changed("page-height") {
				layout.PageHeightInPts = &pageHeight
			}
			if flags.Changed("page-header") {
				layout.PageHeaderInPts = &pageHeader
			}

			job, err := ctx.client().Submit(cmd.Context(), api.SubmitRequest{
				ProjectName: args[0],
				User:        strings.TrimSpace(user),
				Layout:      layout,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Submitted job %s for %s\n", job.ID, job.ProjectName)
			return nil
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", "", "Submitting user")
	cmd.Flags().StringVar(&bookFormat, "book-format", "", "Page format name (e.g. A4, A5)")
	cmd.Flags().Float64Var(&fontSize, "font-size", 0, "Body font size in points")
	cmd.Flags().Float64Var(&fontLeading, "leading", 0, "Line leading in points")
	cmd.Flags().Float64Var(&pageWidth, "page-width", 0, "Page width in points")
	cmd.Flags().Float64Var(&pageHeight, "page-height", 0, "Page height in points")
	cmd.Flags().Float64Var(&pageHeader, "page-header", 0, "Header height in points")
	cmd.Flags().BoolVar(&customFootnotes, "custom-footnotes", false, "Use the project's custom footnote style")
	cmd.Flags().BoolVar(&projectFont, "project-font", false, "Render with the project's own font")
	return cmd
}

func newJobsCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a job's in-flight work",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := ctx.client().Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			state := "cancelled"
			if current, ok := job.CurrentState(); ok {
				state = string(current.State)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %s is now %s\n", job.ID, state)
			return nil
		},
	}
}

func newJobsDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <job-id>",
		Short: "Remove a job and its record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := ctx.client().Delete(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted job %s\n", job.ID)
			return nil
		},
	}
}

func newJobsFileCommand(ctx *commandContext) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "file <job-id>",
		Short: "Download a job's rendered preview",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dest := strings.TrimSpace(output)
			if dest == "" {
				dest = fmt.Sprintf("preview-%s.pdf", args[0])
			}
			if err := ctx.client().DownloadPreview(cmd.Context(), args[0], dest); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved preview to %s\n", dest)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination path for the PDF")
	return cmd
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
