// Package procedure serves the surgical procedure list from the repository
// through the cache.
package procedure

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/opensource-clinical/heron/internal/domain"
	"golang.org/x/sync/singleflight"
)

// CacheKey is where the full procedure list is cached.
const CacheKey = "procedures:all"

const defaultTTL = 10 * time.Minute

// Store is the persistence the service reads through to.
type Store interface {
	ListProcedures(ctx context.Context) ([]domain.Procedure, error)
	SaveProcedure(ctx context.Context, p *domain.Procedure) error
}

// Service is a read-through cache of the procedure list. Cache failures
// fall back to the store.
type Service struct {
	store Store
	cache domain.Cache
	ttl   time.Duration
	group singleflight.Group
}

// NewService creates a procedure service. A zero ttl uses ten minutes.
func NewService(store Store, cache domain.Cache, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Service{store: store, cache: cache, ttl: ttl}
}

// List returns every procedure ordered by CPT code.
func (s *Service) List(ctx context.Context) ([]domain.Procedure, error) {
	if cached, ok := s.cached(ctx); ok {
		return cached, nil
	}

	// Concurrent misses share one store read. It runs detached from the
	// first caller's cancellation; each caller still honors its own ctx.
	loadCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(CacheKey, func() (any, error) {
		procedures, err := s.store.ListProcedures(loadCtx)
		if err != nil {
			return nil, fmt.Errorf("list procedures: %w", err)
		}
		slices.SortFunc(procedures, func(a, b domain.Procedure) int {
			return strings.Compare(a.CptCode, b.CptCode)
		})
		s.fill(loadCtx, procedures)
		return procedures, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]domain.Procedure), nil
	}
}

// Lookup finds a procedure by CPT code.
func (s *Service) Lookup(ctx context.Context, cptCode string) (domain.Procedure, error) {
	procedures, err := s.List(ctx)
	if err != nil {
		return domain.Procedure{}, err
	}
	i, found := slices.BinarySearchFunc(procedures, cptCode, func(p domain.Procedure, code string) int {
		return strings.Compare(p.CptCode, code)
	})
	if !found {
		return domain.Procedure{}, fmt.Errorf("%w: %q", domain.ErrUnknownProcedure, cptCode)
	}
	return procedures[i], nil
}

// Save stores a procedure and drops the cached list.
func (s *Service) Save(ctx context.Context, p *domain.Procedure) error {
	if err := s.store.SaveProcedure(ctx, p); err != nil {
		return err
	}
	return s.Invalidate(ctx)
}

// Invalidate drops the cached list.
func (s *Service) Invalidate(ctx context.Context) error {
	return s.cache.Delete(ctx, CacheKey)
}

func (s *Service) cached(ctx context.Context) ([]domain.Procedure, bool) {
	data, err := s.cache.Get(ctx, CacheKey)
	if err != nil {
		slog.Warn("procedure cache read failed", "error", err)
		return nil, false
	}
	if data == nil {
		return nil, false
	}

	var procedures []domain.Procedure
	if err := json.Unmarshal(data, &procedures); err != nil {
		slog.Warn("procedure cache entry corrupt", "error", err)
		return nil, false
	}
	return procedures, true
}

func (s *Service) fill(ctx context.Context, procedures []domain.Procedure) {
	data, err := json.Marshal(procedures)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, CacheKey, data, s.ttl); err != nil {
		slog.Warn("procedure cache write failed", "error", err)
	}
}
