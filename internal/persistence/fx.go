package persistence

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/pantheon/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Lc  fx.Lifecycle
	Cfg config.Config
	Log *zap.Logger
	DB  *gorm.DB `optional:"true"`
}

type Result struct {
	fx.Out

	Gateway Gateway
	Lease   Lease
}

// NewGateway selects the backend named by PERSISTENCE_BACKEND.
func NewGateway(p Params) (Result, error) {
	log := p.Log.Named("persistence")
	switch p.Cfg.PersistBackend {
	case config.BackendMemory:
		log.Warn("memory persistence selected, state will not survive a restart")
		return Result{Gateway: NewMemoryGateway(), Lease: LocalLease{}}, nil
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     p.Cfg.Redis.Addr,
			Password: p.Cfg.Redis.Password,
			DB:       p.Cfg.Redis.DB,
		})
		p.Lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return client.Ping(ctx).Err()
			},
			OnStop: func(context.Context) error {
				return client.Close()
			},
		})
		log.Info("redis persistence selected", zap.String("addr", p.Cfg.Redis.Addr))
		return Result{
			Gateway: NewRedisGateway(client, p.Cfg.Redis.KeyPrefix),
			Lease:   NewRedisLease(client, p.Cfg.Redis.KeyPrefix, time.Duration(p.Cfg.LeaseTTLSeconds)*time.Second),
		}, nil
	default:
		if p.DB == nil {
			return Result{}, fmt.Errorf("sql persistence requires a database connection")
		}
		log.Info("sql persistence selected", zap.String("dialect", p.DB.Dialector.Name()))
		return Result{Gateway: NewSQLGateway(p.DB), Lease: LocalLease{}}, nil
	}
}

var Module = fx.Module("persistence",
	fx.Provide(NewGateway),
)
