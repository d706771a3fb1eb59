package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"roadscan/internal/adapters/filestore"
	"roadscan/internal/workers/sweeper"
)

func sweepCommand(e *env) *cobra.Command {
	var minAge time.Duration
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove stored images that no detection record references",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, closeStore, err := openStore(ctx, e.cfg, e.log)
			if err != nil {
				return err
			}
			defer closeStore()
			images, err := filestore.New(e.cfg.UploadDir)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("min-age") {
				minAge = e.cfg.SweepMinAge
			}

			sw := &sweeper.Sweeper{Images: images, Refs: s, MinAge: minAge, Log: e.log}
			res, err := sw.Sweep(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scanned %d, removed %d, kept %d\n", res.Scanned, res.Removed, res.Kept)
			return nil
		},
	}
	cmd.Flags().DurationVar(&minAge, "min-age", 0, "Only remove images older than this (default SWEEP_MIN_AGE)")
	return cmd
}
