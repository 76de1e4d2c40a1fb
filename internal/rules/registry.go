package rules

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/opensource-clinical/heron/internal/domain"
)

// Registry holds the active Configuration and swaps it atomically on reload.
// Evaluations keep the configuration they started with.
type Registry struct {
	mu       sync.RWMutex
	compiler *Compiler
	current  *Configuration
}

// NewRegistry creates an empty registry.
func NewRegistry(compiler *Compiler) *Registry {
	return &Registry{compiler: compiler, current: &Configuration{}}
}

// Load builds cat and makes it active. On error the previous configuration
// stays in place.
func (r *Registry) Load(cat *domain.Catalog) error {
	cfg, err := r.compiler.Build(cat)
	if err != nil {
		return fmt.Errorf("failed to build catalog: %w", err)
	}

	r.mu.Lock()
	r.current = cfg
	r.mu.Unlock()

	slog.Info("catalog loaded",
		"variables", len(cfg.variables),
		"rules", len(cfg.rules),
		"models", len(cfg.models),
		"procedures", len(cfg.procedures),
	)
	return nil
}

// Reload replaces the active configuration (hot reload).
func (r *Registry) Reload(cat *domain.Catalog) error {
	return r.Load(cat)
}

// Current returns the active configuration.
func (r *Registry) Current() *Configuration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

func (r *Registry) Model(name string) (*RiskModel, bool) {
	return r.Current().Model(name)
}

func (r *Registry) Models() []*RiskModel {
	return r.Current().Models()
}

func (r *Registry) Variable(key string) (domain.Variable, bool) {
	return r.Current().Variable(key)
}

func (r *Registry) Variables() []domain.Variable {
	return r.Current().Variables()
}

// ModelCount returns the number of loaded models.
func (r *Registry) ModelCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.current.models)
}

// Close unloads the active configuration.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = &Configuration{}
	return nil
}
