package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newProjectsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "projects",
		Short: "List projects available for preview",
		RunE: func(cmd *cobra.Command, args []string) error {
			listed, err := ctx.client().Projects(cmd.Context())
			if err != nil {
				return err
			}
			if len(listed) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No projects found")
				return nil
			}
			rows := make([][]string, 0, len(listed))
			for _, project := range listed {
				rows = append(rows, []string{
					project.Name,
					strconv.Itoa(project.SourceFiles),
					project.UpdatedAt.Local().Format("2006-01-02 15:04:05"),
				})
			}
			out := renderTable(
				[]string{"Project", "Sources", "Updated"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignLeft},
			)
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
}
