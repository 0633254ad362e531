package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pantheon/internal/civilization"
	"github.com/smallbiznis/pantheon/internal/clock"
	"github.com/smallbiznis/pantheon/internal/config"
	"github.com/smallbiznis/pantheon/internal/identity"
	"github.com/smallbiznis/pantheon/internal/migration"
	"github.com/smallbiznis/pantheon/internal/observability"
	"github.com/smallbiznis/pantheon/internal/persistence"
	"github.com/smallbiznis/pantheon/internal/religion"
	"github.com/smallbiznis/pantheon/internal/server"
	"github.com/smallbiznis/pantheon/internal/world"
	"github.com/smallbiznis/pantheon/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func newServeCmd() *cobra.Command {
	var withoutHTTP bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Load governance state, run checkpoints and expose the ops endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			app := fx.New(appOptions(cfg, !withoutHTTP))
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
	cmd.Flags().BoolVar(&withoutHTTP, "no-http", false, "skip the ops HTTP server")
	return cmd
}

func appOptions(cfg config.Config, withHTTP bool) fx.Option {
	opts := []fx.Option{
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		clock.Module,
		identity.Module,
	}

	if cfg.PersistBackend == config.BackendSQL {
		opts = append(opts, db.Module, migration.Module)
	}

	opts = append(opts,
		persistence.Module,

		// Governance
		religion.Module,
		civilization.Module,
		world.Module,
	)

	if withHTTP {
		opts = append(opts, server.Module)
	}
	return fx.Options(opts...)
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
