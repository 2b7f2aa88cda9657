package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/ajitpratap0/deanslist-sync/pkg/archive"
	"github.com/ajitpratap0/deanslist-sync/pkg/config"
	"github.com/ajitpratap0/deanslist-sync/pkg/entity"
	"github.com/ajitpratap0/deanslist-sync/pkg/metrics"
	"github.com/ajitpratap0/deanslist-sync/pkg/notify"
	"github.com/ajitpratap0/deanslist-sync/pkg/source"
	"github.com/ajitpratap0/deanslist-sync/pkg/warehouse"
)

// NewFromConfig connects every collaborator described by cfg. The caller
// must Close the returned Runner.
func NewFromConfig(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	catalog := entity.DefaultCatalog()

	fetcher, err := source.NewDeansList(cfg.Source, log)
	if err != nil {
		return nil, err
	}

	arch, err := archive.New(ctx, cfg.Archive, log)
	if err != nil {
		fetcher.Close()
		return nil, err
	}

	store, err := warehouse.Open(ctx, cfg.Warehouse, log)
	if err != nil {
		fetcher.Close()
		return nil, err
	}

	return NewRunner(Deps{
		Store:    store,
		Fetcher:  fetcher,
		Catalog:  catalog,
		Notifier: notify.New(cfg.NotifyConfig(), log),
		Archiver: arch,
		Metrics:  metrics.NewRecorder(),
	}, RunnerConfig{
		Roster:        cfg.Tenants,
		Workers:       cfg.Run.Workers,
		TablePrefix:   cfg.Warehouse.TablePrefix,
		Transactional: cfg.Warehouse.Transactional,
		Metrics:       cfg.Metrics,
	}, log), nil
}
