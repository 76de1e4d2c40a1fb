// Package catalog reads catalog seed files: the variables, rules, models and
// procedures Heron evaluates, written as YAML.
//
// Rule expressions are CEL. Numeric literals in them must be doubles
// ("65.0", "10.0"): an int literal next to a coefficient or a numeric value
// is rejected when the catalog is built.
package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/opensource-clinical/heron/internal/domain"
	"github.com/opensource-clinical/heron/internal/rules"
	"gopkg.in/yaml.v3"
)

// Parse decodes a catalog. Unknown fields are rejected so a misspelt key
// fails loudly instead of being dropped.
func Parse(r io.Reader) (*domain.Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var cat domain.Catalog
	if err := dec.Decode(&cat); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: catalog is empty", domain.ErrInvalidConfig)
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidConfig, err)
	}
	if err := domain.Validate(&cat); err != nil {
		return nil, err
	}
	return &cat, nil
}

// LoadFile reads and parses the catalog at path.
func LoadFile(path string) (*domain.Catalog, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	cat, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return cat, nil
}

// Check builds cat without activating it, reporting every authoring error
// the builder finds first.
func Check(compiler *rules.Compiler, cat *domain.Catalog) (*rules.Configuration, error) {
	return compiler.Build(cat)
}

// Store is where Seed writes a catalog.
type Store interface {
	SaveCatalog(ctx context.Context, cat *domain.Catalog) error
}

// Seed loads the catalog at path, checks that it builds and writes it to
// store in one transaction. Definitions with the same names are replaced.
func Seed(ctx context.Context, store Store, compiler *rules.Compiler, path string) (*domain.Catalog, error) {
	cat, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	if _, err := Check(compiler, cat); err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	if err := store.SaveCatalog(ctx, cat); err != nil {
		return nil, fmt.Errorf("seed catalog: %w", err)
	}

	slog.Info("catalog seeded",
		"path", path,
		"variables", len(cat.Variables),
		"rules", len(cat.Rules),
		"models", len(cat.Models),
		"procedures", len(cat.Procedures),
	)
	return cat, nil
}
