// Package calculation scores patient values against the loaded risk models
// and records the outcome.
package calculation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-clinical/heron/internal/domain"
	"github.com/opensource-clinical/heron/internal/repository"
	"github.com/opensource-clinical/heron/internal/rules"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// EngineVersion is recorded in every calculation's metadata.
const EngineVersion = "heron-1.0"

var (
	// ErrNoCatalog is returned before any catalog has been loaded.
	ErrNoCatalog = errors.New("no catalog loaded")

	// ErrUnknownModel is returned for a requested model name that is not
	// in the loaded catalog.
	ErrUnknownModel = errors.New("unknown model")

	// ErrNotFound is returned by Get for an unknown calculation ID.
	ErrNotFound = errors.New("calculation not found")
)

var tracer = otel.Tracer("heron-calculation")

// Request is one calculation request.
type Request struct {
	PatientID string `json:"patientId,omitempty" validate:"max=64"`

	// Models to evaluate; empty means every loaded model.
	Models []string `json:"models,omitempty" validate:"dive,required"`

	// Values keyed by variable key, as decoded from JSON.
	Values map[string]any `json:"values" validate:"required"`

	TraceID string `json:"traceId,omitempty"`
}

// Calculator converts inputs, evaluates models and records the result.
// The repository, cache and bus are optional.
type Calculator struct {
	registry *rules.Registry
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	cfg      domain.EngineConfig

	// CacheTTL is how long results stay cached
	CacheTTL time.Duration
}

// NewCalculator creates a calculator over registry.
func NewCalculator(registry *rules.Registry, repo domain.Repository, cache domain.Cache, bus domain.EventBus, cfg domain.EngineConfig) *Calculator {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	return &Calculator{
		registry: registry,
		repo:     repo,
		cache:    cache,
		bus:      bus,
		cfg:      cfg,
		CacheTTL: time.Hour,
	}
}

// Calculate scores req.Values against the requested models. A model that
// lacks values yields a result listing every missing key rather than an
// error; invalid inputs fail the whole request with an *InputError.
func (c *Calculator) Calculate(ctx context.Context, req *Request) (*domain.Calculation, error) {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "calculation.Calculate",
		trace.WithAttributes(attribute.Int("heron.models_requested", len(req.Models))),
	)
	defer span.End()

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	calc, err := c.calculate(ctx, req, start, traceID(span, req))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.String("heron.calculation_id", calc.ID),
		attribute.String("heron.status", calc.Status),
	)

	c.record(ctx, calc)
	return calc, nil
}

func (c *Calculator) calculate(ctx context.Context, req *Request, start time.Time, traceID string) (*domain.Calculation, error) {
	cfg := c.registry.Current()
	if cfg == nil || len(cfg.Models()) == 0 {
		return nil, ErrNoCatalog
	}

	models, err := selectModels(cfg, req.Models)
	if err != nil {
		return nil, err
	}

	values, err := ConvertValues(cfg, req.Values)
	if err != nil {
		return nil, err
	}
	convertMs := time.Since(start).Milliseconds()

	evalStart := time.Now()
	results, err := c.evaluate(ctx, models, values)
	if err != nil {
		return nil, err
	}

	status := domain.StatusComplete
	for _, r := range results {
		if r.Score == nil {
			status = domain.StatusIncomplete
			break
		}
	}

	display := make(map[string]string, len(values))
	for key, v := range values {
		display[key] = v.DisplayString()
	}

	return &domain.Calculation{
		ID:        uuid.New().String(),
		PatientID: req.PatientID,
		Status:    status,
		Timestamp: time.Now().UTC(),
		Inputs:    req.Values,
		Values:    display,
		Results:   results,
		Metadata: domain.CalculationMetadata{
			TraceID:         traceID,
			ConvertMs:       convertMs,
			EvaluateMs:      time.Since(evalStart).Milliseconds(),
			TotalMs:         time.Since(start).Milliseconds(),
			ModelsEvaluated: len(results),
			EngineVersion:   EngineVersion,
		},
	}, nil
}

// evaluate runs every model concurrently, bounded by MaxConcurrency.
// Results keep the order of models.
func (c *Calculator) evaluate(ctx context.Context, models []*rules.RiskModel, values domain.ValueMap) ([]domain.ModelResult, error) {
	results := make([]domain.ModelResult, len(models))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.MaxConcurrency)

	for i, m := range models {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := c.evaluateModel(m, values)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (c *Calculator) evaluateModel(m *rules.RiskModel, values domain.ValueMap) (domain.ModelResult, error) {
	start := time.Now()
	result := domain.ModelResult{Model: m.Name()}

	contributions, err := m.Explain(values)
	var missing *domain.MissingValuesError
	switch {
	case errors.As(err, &missing):
		result.Missing = missing.Keys()
	case err != nil:
		return result, err
	default:
		var score float64
		for _, tc := range contributions {
			score += tc.Summand
		}
		result.Score = &score
		if c.cfg.Explain {
			result.Contributions = contributions
		}
	}

	result.ProcessMs = time.Since(start).Milliseconds()
	return result, nil
}

// record persists, caches and publishes calc. Failures are logged; the
// calculation itself already succeeded.
func (c *Calculator) record(ctx context.Context, calc *domain.Calculation) {
	if c.repo != nil && c.cfg.Persist {
		if err := c.repo.SaveCalculation(ctx, calc); err != nil {
			slog.Error("failed to save calculation",
				"calculation_id", calc.ID,
				"error", err,
			)
		}
	}

	if c.cache != nil {
		if err := c.cache.SetCalculation(ctx, calc, c.CacheTTL); err != nil {
			slog.Warn("failed to cache calculation",
				"calculation_id", calc.ID,
				"error", err,
			)
		}
	}

	if c.bus != nil {
		payload, err := json.Marshal(calc.ToResponse())
		if err != nil {
			slog.Error("failed to encode calculation event",
				"calculation_id", calc.ID,
				"error", err,
			)
		} else if err := c.bus.Publish(ctx, domain.TopicCalculationCompleted, payload); err != nil {
			slog.Error("failed to publish calculation",
				"calculation_id", calc.ID,
				"error", err,
			)
		}
	}

	slog.Info("calculation processed",
		"calculation_id", calc.ID,
		"status", calc.Status,
		"models", calc.Metadata.ModelsEvaluated,
		"duration_ms", calc.Metadata.TotalMs,
	)
}

// Get returns a calculation from the cache, falling back to the repository.
func (c *Calculator) Get(ctx context.Context, id string) (*domain.Calculation, error) {
	if c.cache != nil {
		calc, err := c.cache.GetCalculation(ctx, id)
		if err != nil {
			slog.Warn("calculation cache read failed", "calculation_id", id, "error", err)
		}
		if calc != nil {
			return calc, nil
		}
	}

	if c.repo == nil {
		return nil, ErrNotFound
	}
	calc, err := c.repo.GetCalculation(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get calculation %s: %w", id, err)
	}
	return calc, nil
}

func selectModels(cfg *rules.Configuration, names []string) ([]*rules.RiskModel, error) {
	if len(names) == 0 {
		return cfg.Models(), nil
	}

	seen := make(map[string]bool, len(names))
	models := make([]*rules.RiskModel, 0, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		m, ok := cfg.Model(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownModel, name)
		}
		models = append(models, m)
	}
	return models, nil
}

func traceID(span trace.Span, req *Request) string {
	if sc := span.SpanContext(); sc.TraceID().IsValid() {
		return sc.TraceID().String()
	}
	if req.TraceID != "" {
		return req.TraceID
	}
	return uuid.New().String()
}
