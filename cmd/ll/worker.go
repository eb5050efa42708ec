package main

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

func newWorkerCmd() *cobra.Command {
	var (
		interval  int
		batchSize int
		schedule  string
	)

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the follow-up task executor loop",
		Long:  "Periodically fires due follow-up tasks. The core holds no timer; this loop is the external driver.",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := buildDeps(cmd)
			if err != nil {
				return err
			}
			if interval == 0 {
				interval = d.cfg.Worker.IntervalSeconds
			}
			if batchSize == 0 {
				batchSize = d.cfg.Worker.BatchSize
			}
			if schedule == "" {
				schedule = d.cfg.Worker.Schedule
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			d.pool.Start(ctx)
			defer d.pool.Wait()

			out := cmd.OutOrStdout()
			c := cron.New(cron.WithSeconds())
			spec := schedule
			if spec == "" {
				spec = fmt.Sprintf("@every %ds", interval)
			}
			_, err = c.AddFunc(spec, func() {
				report, err := d.seq.ExecuteDueTasks(batchSize)
				if err != nil {
					fmt.Fprintf(out, "worker: %v\n", err)
					return
				}
				if report.Executed+report.Failed+report.Skipped > 0 {
					fmt.Fprintf(out, "worker: executed=%d failed=%d skipped=%d\n",
						report.Executed, report.Failed, report.Skipped)
				}
			})
			if err != nil {
				return fmt.Errorf("worker: schedule: %w", err)
			}

			fmt.Fprintf(out, "Worker running (%s, batch %d)...\n", spec, batchSize)
			c.Start()
			<-ctx.Done()
			<-c.Stop().Done()
			fmt.Fprintln(out, "Worker stopped.")
			return nil
		},
	}

	cmd.Flags().IntVar(&interval, "interval", 0, "seconds between executor passes (overrides config)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "max tasks per pass (overrides config)")
	cmd.Flags().StringVar(&schedule, "schedule", "", "cron expression for executor passes (overrides --interval)")
	return cmd
}
