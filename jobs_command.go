package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/storytailor/storytailor/config"
	"github.com/storytailor/storytailor/database"
	"github.com/storytailor/storytailor/jobs"
	"github.com/storytailor/storytailor/storage"
)

func newJobsCommand(loadConfig func() (*config.Config, error)) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and maintain video render jobs",
	}

	jobsCmd.AddCommand(newJobsListCommand(loadConfig))
	jobsCmd.AddCommand(newJobsPruneCommand(loadConfig))

	return jobsCmd
}

func openManager(cmd *cobra.Command, loadConfig func() (*config.Config, error)) (*jobs.Manager, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, nil, err
	}
	store, err := storage.New(cmd.Context(), cfg)
	if err != nil {
		return nil, nil, err
	}
	return jobs.NewManager(db, store), cfg, nil
}

func newJobsListCommand(loadConfig func() (*config.Config, error)) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show the most recent render jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, _, err := openManager(cmd, loadConfig)
			if err != nil {
				return err
			}
			list, err := manager.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
				return nil
			}

			const stampLayout = "2006-01-02 15:04"
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTORY\tSTATUS\tPROGRESS\tCREATED\tERROR")
			for _, j := range list {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%d%%\t%s\t%s\n",
					j.ID, j.StoryID, j.Status, j.Progress, j.CreatedAt.Local().Format(stampLayout), j.Error)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of jobs to show")
	return cmd
}

func newJobsPruneCommand(loadConfig func() (*config.Config, error)) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete finished jobs older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, cfg, err := openManager(cmd, loadConfig)
			if err != nil {
				return err
			}
			if olderThan <= 0 {
				olderThan = cfg.JobRetention
			}
			n, err := manager.Prune(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d jobs older than %s\n", n, olderThan)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Retention period (defaults to JOB_RETENTION)")
	return cmd
}
