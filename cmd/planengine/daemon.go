package main

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"planengine/internal/daemon"
)

func newDaemonCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run scheduled jobs",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Schedule and run jobs until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := flags.load()
			if err != nil {
				return err
			}
			e, err := openEngine(cmd.Context(), rt)
			if err != nil {
				return err
			}
			defer e.Close()
			d, err := e.daemon()
			if err != nil {
				return fmt.Errorf("create daemon: %w", err)
			}
			printf(cmd, "Starting daemon for workspace: %s\n", rt.ws.Root)
			printf(cmd, "Poll interval: %s, Lease: %s\n", rt.cfg.Daemon.PollInterval, rt.cfg.Daemon.Lease)
			return d.Run(cmd.Context())
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "tick",
		Short: "Schedule due slots and drain the queue once",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := flags.load()
			if err != nil {
				return err
			}
			e, err := openEngine(cmd.Context(), rt)
			if err != nil {
				return err
			}
			defer e.Close()
			d, err := e.daemon()
			if err != nil {
				return fmt.Errorf("create daemon: %w", err)
			}
			ran, err := d.Tick(cmd.Context())
			if err != nil {
				return err
			}
			printf(cmd, "Ran %d job(s)\n", ran)
			return nil
		},
	})
	return cmd
}

func jobNames() []string {
	var names []string
	for _, spec := range daemon.DefaultSchedule() {
		names = append(names, spec.Name)
	}
	return names
}

func newJobsCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and enqueue jobs",
	}

	var (
		status string
		limit  int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List jobs in the run ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := flags.load()
			if err != nil {
				return err
			}
			e, err := openEngine(cmd.Context(), rt)
			if err != nil {
				return err
			}
			defer e.Close()
			jobs, err := e.store.ListJobs(cmd.Context(), status, limit)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				printf(cmd, "No jobs found.\n")
				return nil
			}
			for _, job := range jobs {
				printf(cmd, "%s  %-26s %-8s %-10s scheduled=%s\n",
					job.ID, job.Name, job.ScopeKey, job.Status, job.ScheduledAt.In(e.loc).Format(time.RFC3339))
			}
			return nil
		},
	}
	list.Flags().StringVar(&status, "status", "", "Filter by status (queued, running, succeeded, failed)")
	list.Flags().IntVar(&limit, "limit", 50, "Maximum jobs to show")

	var company string
	enqueue := &cobra.Command{
		Use:   "enqueue <job>",
		Short: "Queue a job now for one or every company",
		Long:  "Queue a job now. Known jobs: " + strings.Join(jobNames(), ", "),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if !slices.Contains(jobNames(), name) {
				return fmt.Errorf("unknown job %q", name)
			}
			rt, err := flags.load()
			if err != nil {
				return err
			}
			e, err := openEngine(cmd.Context(), rt)
			if err != nil {
				return err
			}
			defer e.Close()

			companies := []string{company}
			if company == "" {
				if companies, err = e.companies(cmd.Context()); err != nil {
					return err
				}
			}
			now := time.Now()
			slot := "manual-" + daemon.SlotKey(now, e.loc)
			for _, c := range companies {
				id, created, err := e.store.EnqueueUnique(cmd.Context(), name, c, slot, now, map[string]string{"source": "cli"})
				if err != nil {
					return fmt.Errorf("enqueue %s for %s: %w", name, c, err)
				}
				if created {
					printf(cmd, "Queued %s for %s: %s\n", name, c, id)
				} else {
					printf(cmd, "Already queued %s for %s\n", name, c)
				}
			}
			return nil
		},
	}
	enqueue.Flags().StringVar(&company, "company", "", "Company id (default: every company)")

	cmd.AddCommand(list, enqueue)
	return cmd
}
