package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/opensource-clinical/heron/internal/bus"
	"github.com/opensource-clinical/heron/internal/cache"
	"github.com/opensource-clinical/heron/internal/calculation"
	"github.com/opensource-clinical/heron/internal/catalog"
	"github.com/opensource-clinical/heron/internal/domain"
	"github.com/opensource-clinical/heron/internal/procedure"
	"github.com/opensource-clinical/heron/internal/repository"
	"github.com/opensource-clinical/heron/internal/rules"
)

// app is the wired component graph shared by serve and worker.
type app struct {
	cfg        *domain.Config
	repo       domain.Repository
	cache      domain.Cache
	bus        domain.EventBus
	registry   *rules.Registry
	calc       *calculation.Calculator
	procedures *procedure.Service
}

func newApp(ctx context.Context, cfg *domain.Config) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.repo, err = repository.New(cfg.Repository); err != nil {
		return nil, fmt.Errorf("failed to initialize repository: %w", err)
	}
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	if a.cache, err = cache.New(cfg.Cache); err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	slog.Info("cache initialized", "type", cfg.Cache.Type, "two_phase", cfg.Cache.EnableTwoPhase)

	if a.bus, err = bus.New(cfg.EventBus); err != nil {
		return nil, fmt.Errorf("failed to initialize event bus: %w", err)
	}
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	compiler, err := rules.NewCompiler()
	if err != nil {
		return nil, err
	}

	if cfg.Catalog.SeedPath != "" {
		if _, err := catalog.Seed(ctx, a.repo, compiler, cfg.Catalog.SeedPath); err != nil {
			return nil, err
		}
	}

	a.registry = rules.NewRegistry(compiler)
	if err := loadCatalogFromDatabase(ctx, a.repo, a.registry); err != nil {
		return nil, err
	}

	a.calc = calculation.NewCalculator(a.registry, a.repo, a.cache, a.bus, cfg.Engine)
	a.calc.CacheTTL = cfg.Cache.CalculationTTL
	a.procedures = procedure.NewService(a.repo, a.cache, 0)

	return a, nil
}

// loadCatalogFromDatabase activates the stored catalog. An empty database is
// not an error: the catalog can be seeded and reloaded later.
func loadCatalogFromDatabase(ctx context.Context, repo domain.Repository, registry *rules.Registry) error {
	cat, err := repo.LoadCatalog(ctx)
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}
	if len(cat.Models) == 0 {
		slog.Warn("no models in database - seed a catalog and POST /catalog/reload")
		return nil
	}
	return registry.Load(cat)
}

// Close releases every component that was opened.
func (a *app) Close() error {
	var errs []error
	if a.bus != nil {
		errs = append(errs, a.bus.Close())
	}
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	if a.repo != nil {
		errs = append(errs, a.repo.Close())
	}
	if a.registry != nil {
		errs = append(errs, a.registry.Close())
	}
	return errors.Join(errs...)
}
