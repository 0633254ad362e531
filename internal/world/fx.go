package world

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("world",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
	fx.Invoke(RegisterHooks),
)

// RegisterHooks maps the host lifecycle onto the checkpointer: restore on start,
// final checkpoint on stop.
func RegisterHooks(lc fx.Lifecycle, c *Checkpointer) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := c.Loaded(ctx); err != nil {
				return err
			}
			return c.Start()
		},
		OnStop: func(ctx context.Context) error {
			return c.Stop(ctx)
		},
	})
}
