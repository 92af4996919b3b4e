package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/supplier-ledger/cmd/odyssey/cli"
	"github.com/odyssey-erp/supplier-ledger/jobs"
)

func newJobsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Background job operations",
	}

	connect := func() *cli.JobsCLI {
		return cli.NewJobsCLI(asynq.RedisClientOpt{
			Addr:     opts.cfg.RedisAddr,
			Password: opts.cfg.RedisPassword,
			DB:       opts.cfg.RedisDB,
		})
	}

	var suppliers []int64
	var retention time.Duration
	triggerCmd := &cobra.Command{
		Use:       "trigger <task>",
		Short:     "Enqueue a job now",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{jobs.TaskStatementWarmup, jobs.TaskIdempotencyCleanup},
		RunE: func(cmd *cobra.Command, args []string) error {
			c := connect()
			defer c.Close()
			if retention <= 0 {
				retention = opts.cfg.IdempotencyRetention
			}
			ids := suppliers
			if len(ids) == 0 {
				ids = opts.cfg.WarmupSupplierIDs
			}
			info, err := c.Trigger(cmd.Context(), args[0], cli.TriggerOptions{SupplierIDs: ids, Retention: retention})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
			return nil
		},
	}
	triggerCmd.Flags().Int64SliceVar(&suppliers, "supplier", nil, "supplier ids to warm (default: configured list, then all with open balance)")
	triggerCmd.Flags().DurationVar(&retention, "retention", 0, "idempotency key retention (default: IDEMPOTENCY_RETENTION)")

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show queue statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := connect()
			defer c.Close()
			stats, err := c.InspectQueue()
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		},
	}

	var size int
	scheduledCmd := &cobra.Command{
		Use:   "scheduled",
		Short: "List scheduled tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := connect()
			defer c.Close()
			tasks, err := c.ListScheduled(size)
			if err != nil {
				return err
			}
			for _, t := range tasks {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", t.ID, t.Type, t.NextProcessAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	scheduledCmd.Flags().IntVar(&size, "limit", 10, "page size")

	cmd.AddCommand(triggerCmd, statsCmd, scheduledCmd)
	return cmd
}
