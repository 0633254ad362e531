// Package world drives the host lifecycle hooks of the governance core: the
// world-loaded hook restores both registries and the checkpoint hook stores them.
package world

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	civservice "github.com/smallbiznis/pantheon/internal/civilization/service"
	"github.com/smallbiznis/pantheon/internal/clock"
	obscontext "github.com/smallbiznis/pantheon/internal/observability/context"
	obslogger "github.com/smallbiznis/pantheon/internal/observability/logger"
	"github.com/smallbiznis/pantheon/internal/observability/metrics"
	"github.com/smallbiznis/pantheon/internal/persistence"
	religionservice "github.com/smallbiznis/pantheon/internal/religion/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var ErrInvalidConfig = errors.New("invalid_world_config")

type Params struct {
	fx.In

	Log           *zap.Logger
	Clock         clock.Clock
	Religions     *religionservice.Registry
	Civilizations *civservice.Registry
	Config        Config                `optional:"true"`
	Lease         persistence.Lease     `optional:"true"`
	Metrics       *metrics.Metrics      `optional:"true"`
	World         *metrics.WorldMetrics `optional:"true"`
}

// Checkpointer owns the load and checkpoint cycle of both registries.
type Checkpointer struct {
	log           *zap.Logger
	cfg           Config
	clock         clock.Clock
	religions     *religionservice.Registry
	civilizations *civservice.Registry
	lease         persistence.Lease
	metrics       *metrics.Metrics
	world         *metrics.WorldMetrics
	leaseLost     atomic.Bool

	mu      sync.Mutex
	cron    *cron.Cron
	entryID cron.EntryID
}

func New(p Params) (*Checkpointer, error) {
	if p.Log == nil || p.Clock == nil || p.Religions == nil || p.Civilizations == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	if _, err := cron.ParseStandard(cfg.Spec); err != nil {
		return nil, fmt.Errorf("%w: checkpoint schedule %q: %v", ErrInvalidConfig, cfg.Spec, err)
	}
	lease := p.Lease
	if lease == nil {
		lease = persistence.LocalLease{}
	}
	return &Checkpointer{
		log:           p.Log.Named("world").With(zap.String("component", "checkpointer")),
		cfg:           cfg,
		clock:         p.Clock,
		religions:     p.Religions,
		civilizations: p.Civilizations,
		lease:         lease,
		metrics:       p.Metrics,
		world:         p.World,
	}, nil
}

// Loaded is the world-loaded hook. It takes the store lease, then loads religions
// before civilizations because civilization repair reads them.
func (c *Checkpointer) Loaded(ctx context.Context) error {
	ctx = withSystemActor(ctx)
	start := c.clock.Now()
	if err := c.lease.Acquire(ctx); err != nil {
		return fmt.Errorf("acquire world lease: %w", err)
	}
	c.leaseLost.Store(false)
	if err := c.religions.Load(ctx); err != nil {
		return err
	}
	if err := c.civilizations.Load(ctx); err != nil {
		return err
	}
	c.civilizations.UpdateMemberCounts(ctx)
	c.logger(ctx).Info("world loaded", zap.Duration("took", c.clock.Now().Sub(start)))
	return nil
}

// Checkpoint is the checkpoint hook. Both registries are stored concurrently;
// they hold separate locks and write separate keys.
func (c *Checkpointer) Checkpoint(ctx context.Context) error {
	ctx = withSystemActor(ctx)
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.religions.Checkpoint(gctx) })
	g.Go(func() error { return c.civilizations.Checkpoint(gctx) })
	err := g.Wait()

	c.world.ObserveCheckpoint(time.Since(start), err)
	c.metrics.RecordCheckpoint(ctx, err)
	if err != nil {
		c.logger(ctx).Error("checkpoint failed", zap.Error(err))
		return err
	}
	c.logger(ctx).Debug("checkpoint stored", zap.Duration("took", time.Since(start)))
	return nil
}

// LeaseLost reports whether another process took over the store since Loaded.
func (c *Checkpointer) LeaseLost() bool {
	return c.leaseLost.Load()
}

// Dirty reports whether either registry has an unsaved change.
func (c *Checkpointer) Dirty() bool {
	return c.religions.Dirty() || c.civilizations.Dirty()
}

func (c *Checkpointer) runJob(parent context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, c.cfg.JobTimeout)
	defer cancel()

	err := fn(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		c.logger(ctx).Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", c.cfg.JobTimeout),
			zap.Error(err),
		)
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce renews the store lease, sweeps expired invites, refreshes civilization
// aggregates and stores both registries.
func (c *Checkpointer) RunOnce(parent context.Context) error {
	parent = withSystemActor(parent)

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{"lease_renew", func(ctx context.Context) error {
			err := c.lease.Renew(ctx)
			if errors.Is(err, persistence.ErrLeaseLost) {
				c.leaseLost.Store(true)
				c.logger(ctx).Error("world lease lost, skipping checkpoint")
			}
			return err
		}},
		{"invite_cleanup", func(ctx context.Context) error {
			religion := c.religions.CleanupExpiredInvites(ctx)
			civilization := c.civilizations.CleanupExpiredInvites(ctx)
			if religion+civilization > 0 {
				c.logger(ctx).Info("expired invites removed",
					zap.Int("religion", religion),
					zap.Int("civilization", civilization),
				)
			}
			return nil
		}},
		{"member_counts", func(ctx context.Context) error {
			c.civilizations.UpdateMemberCounts(ctx)
			return nil
		}},
		{"checkpoint", func(ctx context.Context) error {
			// another process owns the store now
			if c.leaseLost.Load() {
				return nil
			}
			return c.Checkpoint(ctx)
		}},
	}

	var err error
	for _, job := range jobs {
		err = errors.Join(err, c.runJob(parent, job.Name, job.Run))
	}
	return err
}

// Start schedules RunOnce on the configured cron spec.
func (c *Checkpointer) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron != nil {
		return nil
	}

	sched := cron.New()
	id, err := sched.AddFunc(c.cfg.Spec, func() {
		if err := c.RunOnce(context.Background()); err != nil {
			c.log.Warn("checkpoint run failed", zap.Error(err), zap.Bool("dirty", c.Dirty()))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule checkpoint: %w", err)
	}
	sched.Start()
	c.cron = sched
	c.entryID = id
	c.log.Info("checkpoint scheduler started", zap.String("schedule", c.cfg.Spec))
	return nil
}

// Stop waits for a running job to finish, stores a final checkpoint and gives the lease up.
func (c *Checkpointer) Stop(ctx context.Context) error {
	c.mu.Lock()
	sched := c.cron
	c.cron = nil
	c.mu.Unlock()

	if sched != nil {
		sched.Remove(c.entryID)
		select {
		case <-sched.Stop().Done():
		case <-ctx.Done():
			return ctx.Err()
		}
		c.log.Info("checkpoint scheduler stopped")
	}
	if c.leaseLost.Load() {
		return nil
	}
	err := c.Checkpoint(ctx)
	return errors.Join(err, c.lease.Release(ctx))
}

// NextRun returns when the scheduled checkpoint fires next, or zero if not started.
func (c *Checkpointer) NextRun() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron == nil {
		return time.Time{}
	}
	return c.cron.Entry(c.entryID).Next
}

func withSystemActor(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if obscontext.ActorFromContext(ctx) != "" {
		return ctx
	}
	return obscontext.WithActor(ctx, "system:world")
}

func (c *Checkpointer) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, c.log)
}
