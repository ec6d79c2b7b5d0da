package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/cuongbtq/media-pipeline/internal/bootstrap"
	"github.com/cuongbtq/media-pipeline/internal/domain"
	"github.com/cuongbtq/media-pipeline/internal/queue"
	"github.com/cuongbtq/media-pipeline/internal/storage"
	"github.com/cuongbtq/media-pipeline/internal/sweeper"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and maintain processing jobs",
	}

	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsShowCommand(ctx))
	jobsCmd.AddCommand(newJobsRedispatchCommand(ctx))
	jobsCmd.AddCommand(newJobsExpireCommand(ctx))
	jobsCmd.AddCommand(newJobsSweepCommand(ctx))

	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var jobType, status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := jobFilter(jobType, status)
			if err != nil {
				return err
			}
			filter.PageSize = limit

			return ctx.withQueue(cmd.Context(), false, func(q *queue.Queue) error {
				page, err := q.List(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if len(page.Jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
					return nil
				}

				rows := make([][]string, 0, len(page.Jobs))
				for _, job := range page.Jobs {
					rows = append(rows, []string{
						job.ID,
						string(job.Type),
						string(job.Status),
						strconv.Itoa(job.Attempts),
						deref(job.WorkerID),
						formatTime(&job.CreatedAt),
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Type", "Status", "Attempts", "Worker", "Created"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				))
				if page.NextCursor != nil {
					fmt.Fprintln(cmd.OutOrStdout(), "More jobs available; raise --limit to see them")
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&jobType, "type", "", "Filter by job type (transcription, dubbing)")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (queued, running, completed, failed, timed_out)")
	cmd.Flags().IntVar(&limit, "limit", queue.DefaultPageSize, "Maximum jobs to show")
	return cmd
}

func jobFilter(jobType, status string) (storage.JobFilter, error) {
	var filter storage.JobFilter
	switch jt := domain.JobType(jobType); jt {
	case "":
	case domain.JobTypeTranscription, domain.JobTypeDubbing:
		filter.JobType = jt
	default:
		return filter, fmt.Errorf("unknown job type %q", jobType)
	}

	switch st := domain.JobStatus(status); st {
	case "":
	case domain.JobStatusQueued, domain.JobStatusRunning, domain.JobStatusCompleted,
		domain.JobStatusFailed, domain.JobStatusTimedOut:
		filter.Status = st
	default:
		return filter, fmt.Errorf("unknown job status %q", status)
	}
	return filter, nil
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := uuid.Parse(args[0]); err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}

			return ctx.withQueue(cmd.Context(), false, func(q *queue.Queue) error {
				job, err := q.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}

				fmt.Fprint(cmd.OutOrStdout(), renderPairs([][2]string{
					{"ID", job.ID},
					{"Type", string(job.Type)},
					{"Status", string(job.Status)},
					{"Attempts", strconv.Itoa(job.Attempts)},
					{"Worker", deref(job.WorkerID)},
					{"Dedupe key", job.DedupeKey},
					{"Payload", job.Payload},
					{"Result", deref(job.Result)},
					{"Error", deref(job.ErrorMessage)},
					{"Created", formatTime(&job.CreatedAt)},
					{"Started", formatTime(job.StartedAt)},
					{"Last heartbeat", formatTime(job.LastHeartbeatAt)},
					{"Completed", formatTime(job.CompletedAt)},
				}))
				return nil
			})
		},
	}
}

func newJobsRedispatchCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration
	var limit int

	cmd := &cobra.Command{
		Use:   "redispatch",
		Short: "Re-publish queued jobs whose broker message may have been lost",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(cmd.Context(), true, func(q *queue.Queue) error {
				n, err := q.Redispatch(cmd.Context(), olderThan, limit)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Redispatched %d job(s)\n", n)
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", sweeper.DefaultRedispatchAfter, "Only jobs queued longer than this")
	cmd.Flags().IntVar(&limit, "limit", queue.DefaultRedispatchLimit, "Maximum jobs to publish")
	return cmd
}

func newJobsExpireCommand(ctx *commandContext) *cobra.Command {
	var leaseTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "expire",
		Short: "Mark running jobs with a stale heartbeat as timed out",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(cmd.Context(), false, func(q *queue.Queue) error {
				n, err := q.ExpireLeases(cmd.Context(), leaseTimeout)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Timed out %d job(s)\n", n)
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&leaseTimeout, "lease-timeout", sweeper.DefaultLeaseTimeout, "Heartbeat age after which a running job is dead")
	return cmd
}

func newJobsSweepCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one sweeper pass with the configured settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(cmd.Context(), true, func(q *queue.Queue) error {
				s, err := sweeper.New(q, bootstrap.SweeperConfig(&ctx.config.Sweeper), ctx.logger())
				if err != nil {
					return err
				}
				report, err := s.RunOnce(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"Action", "Jobs"},
					[][]string{
						{"Timed out", strconv.Itoa(report.Expired)},
						{"Redispatched", strconv.Itoa(report.Redispatched)},
					},
					[]columnAlignment{alignLeft, alignRight},
				))
				return nil
			})
		},
	}
}
