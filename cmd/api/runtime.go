package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"parley/api/internal/config"
	"parley/api/internal/metrics"
	"parley/api/internal/store"
	"parley/api/internal/tenant"
)

// tenants is the registry plus manager wiring shared by serve and the tenant
// subcommands.
type tenants struct {
	files   *tenant.FileSource
	redis   *tenant.RedisSource
	manager *tenant.Manager
}

func buildTenants(cfg config.Config, logger *zap.Logger, m *metrics.Metrics) (*tenants, error) {
	out := &tenants{}
	var sources []tenant.Source
	if cfg.TenantConfigDir != "" {
		out.files = tenant.NewFileSource(cfg.TenantConfigDir)
		sources = append(sources, out.files)
	}
	if cfg.TenantRedisURL != "" {
		redisSource, err := tenant.NewRedisSource(cfg.TenantRedisURL)
		if err != nil {
			return nil, fmt.Errorf("tenant redis source: %w", err)
		}
		out.redis = redisSource
		sources = append(sources, redisSource)
	}

	registry := tenant.NewRegistry(logger, sources...)
	opener := tenant.DefaultOpener(store.PoolConfig{
		MaxOpenConns: cfg.DBMaxOpenConns,
		MaxIdleConns: cfg.DBMaxIdleConns,
	})
	out.manager = tenant.NewManager(registry, opener, cfg.TenantOpenTimeout, logger, m)
	return out, nil
}

// watch logs descriptor changes until ctx is done. A missing directory is
// not fatal; Redis-only deployments have none.
func (t *tenants) watch(ctx context.Context, logger *zap.Logger) {
	if t.files == nil {
		return
	}
	if err := t.files.Watch(ctx, t.manager.DescriptorChanged); err != nil {
		logger.Warn("Tenant descriptor watch disabled", zap.Error(err))
	}
}

func (t *tenants) Close() error {
	err := t.manager.Close()
	if t.redis != nil {
		if closeErr := t.redis.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}
