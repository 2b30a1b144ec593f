package main

import (
	"github.com/spf13/cobra"

	"github.com/storytailor/storytailor/config"
)

func newRootCommand() *cobra.Command {
	var cfg *config.Config

	loadConfig := func() (*config.Config, error) {
		if cfg != nil {
			return cfg, nil
		}
		c, err := config.Load()
		if err != nil {
			return nil, err
		}
		cfg = c
		return cfg, nil
	}

	serveCmd := newServeCommand(loadConfig)
	rootCmd := &cobra.Command{
		Use:           "storytailor",
		Short:         "Turn a story idea into a narrated, illustrated video",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serveCmd.RunE,
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(newJobsCommand(loadConfig))
	return rootCmd
}
