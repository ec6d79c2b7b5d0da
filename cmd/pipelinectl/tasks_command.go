package main

import (
	"fmt"

	"github.com/cuongbtq/media-pipeline/internal/storage"
	"github.com/spf13/cobra"
)

func newTasksCommand(ctx *commandContext) *cobra.Command {
	tasksCmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect review tasks",
	}
	tasksCmd.AddCommand(newTasksListCommand(ctx))
	return tasksCmd
}

func newTasksListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list <recording-id>",
		Short: "List the review tasks of a recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd.Context(), func(store *storage.Storage) error {
				if _, err := store.GetRecording(cmd.Context(), args[0]); err != nil {
					return err
				}
				tasks, err := store.ListReviewTasksForRecording(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if len(tasks) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No review tasks")
					return nil
				}

				rows := make([][]string, 0, len(tasks))
				for _, task := range tasks {
					rows = append(rows, []string{
						task.ID,
						string(task.TaskType),
						string(task.TargetKind) + ":" + task.TargetID,
						string(task.Status),
						deref(task.AssignedTo),
						formatTime(&task.UpdatedAt),
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Type", "Target", "Status", "Assignee", "Updated"},
					rows,
					nil,
				))
				return nil
			})
		},
	}
}
