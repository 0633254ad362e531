package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	civservice "github.com/smallbiznis/pantheon/internal/civilization/service"
	"github.com/smallbiznis/pantheon/internal/config"
	"github.com/smallbiznis/pantheon/internal/identity"
	religionservice "github.com/smallbiznis/pantheon/internal/religion/service"
	"github.com/smallbiznis/pantheon/internal/seed"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func newSeedCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the demo religions and civilization in the configured store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			if cfg.IsProduction() {
				return errors.New("refusing to seed a production store")
			}

			var (
				log           *zap.Logger
				dir           *identity.Directory
				religions     *religionservice.Registry
				civilizations *civservice.Registry
			)
			app := fx.New(
				appOptions(cfg, false),
				fx.Populate(&log, &dir, &religions, &civilizations),
				fx.NopLogger,
			)

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if err := app.Start(ctx); err != nil {
				return err
			}

			summary, seedErr := seed.EnsureDemoWorld(ctx, log, dir, religions, civilizations)
			// stopping stores the final checkpoint
			if err := app.Stop(ctx); err != nil {
				return errors.Join(seedErr, err)
			}
			if seedErr != nil {
				return seedErr
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "religions created: %d, civilizations created: %d\n",
				summary.ReligionsCreated, summary.CivilizationsCreated)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "start, seed and stop deadline")
	return cmd
}
