// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/opensource-clinical/heron/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite", "":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := NewWithDB(db, cfg.Driver)

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

// NewWithDB wraps an open database without running migrations.
func NewWithDB(db *sql.DB, driver string) *SQLRepository {
	return &SQLRepository{db: db, driver: driver}
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveGroup upserts a variable group.
func (r *SQLRepository) SaveGroup(ctx context.Context, group *domain.VariableGroup) error {
	return r.saveGroup(ctx, r.db, group)
}

func (r *SQLRepository) saveGroup(ctx context.Context, q dbtx, group *domain.VariableGroup) error {
	if err := domain.Validate(group); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	query := `
		INSERT INTO variable_groups (name, display_order) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET display_order = excluded.display_order
	`
	_, err := q.ExecContext(ctx, r.rebind(query), group.Name, group.DisplayOrder)
	return err
}

// ListGroups returns every group ordered for display.
func (r *SQLRepository) ListGroups(ctx context.Context) ([]domain.VariableGroup, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name, display_order FROM variable_groups ORDER BY display_order, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []domain.VariableGroup
	for rows.Next() {
		var g domain.VariableGroup
		if err := rows.Scan(&g.Name, &g.DisplayOrder); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// SaveVariable upserts a variable definition keyed by its variable key.
func (r *SQLRepository) SaveVariable(ctx context.Context, def *domain.VariableDefinition) error {
	return r.saveVariable(ctx, r.db, def)
}

func (r *SQLRepository) saveVariable(ctx context.Context, q dbtx, def *domain.VariableDefinition) error {
	if err := domain.Validate(def); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	body, err := json.Marshal(def)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO variables (key, group_name, kind, definition, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			group_name = excluded.group_name,
			kind = excluded.kind,
			definition = excluded.definition,
			enabled = 1,
			updated_at = excluded.updated_at
	`
	_, err = q.ExecContext(ctx, r.rebind(query), def.Key, def.Group, def.Type, string(body), now, now)
	return err
}

// ListVariables returns every enabled variable definition ordered by key.
func (r *SQLRepository) ListVariables(ctx context.Context) ([]domain.VariableDefinition, error) {
	return listDefinitions[domain.VariableDefinition](ctx, r.db,
		`SELECT definition FROM variables WHERE enabled = 1 ORDER BY key`)
}

// SaveRule upserts a rule definition keyed by its name.
func (r *SQLRepository) SaveRule(ctx context.Context, def *domain.RuleDefinition) error {
	return r.saveRule(ctx, r.db, def)
}

func (r *SQLRepository) saveRule(ctx context.Context, q dbtx, def *domain.RuleDefinition) error {
	if err := domain.Validate(def); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return r.upsertNamed(ctx, q, "rules", def.Name, def)
}

// ListRules returns every enabled rule definition ordered by name.
func (r *SQLRepository) ListRules(ctx context.Context) ([]domain.RuleDefinition, error) {
	return listDefinitions[domain.RuleDefinition](ctx, r.db,
		`SELECT definition FROM rules WHERE enabled = 1 ORDER BY name`)
}

// SaveModel upserts a model definition keyed by its name. Saving a deleted
// model enables it again.
func (r *SQLRepository) SaveModel(ctx context.Context, def *domain.ModelDefinition) error {
	return r.saveModel(ctx, r.db, def)
}

func (r *SQLRepository) saveModel(ctx context.Context, q dbtx, def *domain.ModelDefinition) error {
	if err := domain.Validate(def); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return r.upsertNamed(ctx, q, "models", def.Name, def)
}

// GetModel retrieves an enabled model definition by name.
func (r *SQLRepository) GetModel(ctx context.Context, name string) (*domain.ModelDefinition, error) {
	var body string
	err := r.db.QueryRowContext(ctx,
		r.rebind(`SELECT definition FROM models WHERE name = ? AND enabled = 1`), name,
	).Scan(&body)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var def domain.ModelDefinition
	if err := json.Unmarshal([]byte(body), &def); err != nil {
		return nil, fmt.Errorf("failed to parse model %s: %w", name, err)
	}
	return &def, nil
}

// ListModels returns every enabled model definition ordered by name.
func (r *SQLRepository) ListModels(ctx context.Context) ([]domain.ModelDefinition, error) {
	return listDefinitions[domain.ModelDefinition](ctx, r.db,
		`SELECT definition FROM models WHERE enabled = 1 ORDER BY name`)
}

// DeleteModel soft-deletes a model by setting enabled = 0.
func (r *SQLRepository) DeleteModel(ctx context.Context, name string) error {
	query := `
		UPDATE models
		SET enabled = 0, updated_at = ?
		WHERE name = ? AND enabled = 1
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), name)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// SaveProcedure upserts a procedure keyed by CPT code.
func (r *SQLRepository) SaveProcedure(ctx context.Context, p *domain.Procedure) error {
	return r.saveProcedure(ctx, r.db, p)
}

func (r *SQLRepository) saveProcedure(ctx context.Context, q dbtx, p *domain.Procedure) error {
	if err := domain.Validate(p); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	query := `
		INSERT INTO procedures (cpt_code, rvu, short_description, long_description, complexity)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(cpt_code) DO UPDATE SET
			rvu = excluded.rvu,
			short_description = excluded.short_description,
			long_description = excluded.long_description,
			complexity = excluded.complexity
	`
	_, err := q.ExecContext(ctx, r.rebind(query),
		p.CptCode, p.RVU, p.ShortDescription, p.LongDescription, p.Complexity,
	)
	return err
}

// GetProcedure retrieves a procedure by CPT code.
func (r *SQLRepository) GetProcedure(ctx context.Context, cptCode string) (*domain.Procedure, error) {
	query := `
		SELECT cpt_code, rvu, short_description, long_description, complexity
		FROM procedures
		WHERE cpt_code = ?
	`

	var p domain.Procedure
	err := r.db.QueryRowContext(ctx, r.rebind(query), cptCode).Scan(
		&p.CptCode, &p.RVU, &p.ShortDescription, &p.LongDescription, &p.Complexity,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProcedures returns every procedure ordered by CPT code.
func (r *SQLRepository) ListProcedures(ctx context.Context) ([]domain.Procedure, error) {
	query := `
		SELECT cpt_code, rvu, short_description, long_description, complexity
		FROM procedures
		ORDER BY cpt_code
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var procedures []domain.Procedure
	for rows.Next() {
		var p domain.Procedure
		if err := rows.Scan(&p.CptCode, &p.RVU, &p.ShortDescription, &p.LongDescription, &p.Complexity); err != nil {
			return nil, err
		}
		procedures = append(procedures, p)
	}
	return procedures, rows.Err()
}

// LoadCatalog assembles every enabled definition into a Catalog.
func (r *SQLRepository) LoadCatalog(ctx context.Context) (*domain.Catalog, error) {
	var cat domain.Catalog
	var err error

	if cat.Groups, err = r.ListGroups(ctx); err != nil {
		return nil, fmt.Errorf("load groups: %w", err)
	}
	if cat.Variables, err = r.ListVariables(ctx); err != nil {
		return nil, fmt.Errorf("load variables: %w", err)
	}
	if cat.Rules, err = r.ListRules(ctx); err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	if cat.Models, err = r.ListModels(ctx); err != nil {
		return nil, fmt.Errorf("load models: %w", err)
	}
	if cat.Procedures, err = r.ListProcedures(ctx); err != nil {
		return nil, fmt.Errorf("load procedures: %w", err)
	}
	return &cat, nil
}

// SaveCatalog upserts every definition of cat in a single transaction.
// Nothing is written if any definition fails.
func (r *SQLRepository) SaveCatalog(ctx context.Context, cat *domain.Catalog) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for i := range cat.Groups {
		if err = r.saveGroup(ctx, tx, &cat.Groups[i]); err != nil {
			return fmt.Errorf("group %q: %w", cat.Groups[i].Name, err)
		}
	}
	for i := range cat.Procedures {
		if err = r.saveProcedure(ctx, tx, &cat.Procedures[i]); err != nil {
			return fmt.Errorf("procedure %q: %w", cat.Procedures[i].CptCode, err)
		}
	}
	for i := range cat.Variables {
		if err = r.saveVariable(ctx, tx, &cat.Variables[i]); err != nil {
			return fmt.Errorf("variable %q: %w", cat.Variables[i].Key, err)
		}
	}
	for i := range cat.Rules {
		if err = r.saveRule(ctx, tx, &cat.Rules[i]); err != nil {
			return fmt.Errorf("rule %q: %w", cat.Rules[i].Name, err)
		}
	}
	for i := range cat.Models {
		if err = r.saveModel(ctx, tx, &cat.Models[i]); err != nil {
			return fmt.Errorf("model %q: %w", cat.Models[i].Name, err)
		}
	}

	return tx.Commit()
}

// SaveCalculation stores a calculation result.
func (r *SQLRepository) SaveCalculation(ctx context.Context, calc *domain.Calculation) error {
	if calc.ID == "" {
		return fmt.Errorf("%w: calculation id is required", ErrInvalidInput)
	}

	inputs, err := json.Marshal(calc.Inputs)
	if err != nil {
		return fmt.Errorf("marshal inputs: %w", err)
	}
	values, _ := json.Marshal(calc.Values)
	results, _ := json.Marshal(calc.Results)
	metadata, _ := json.Marshal(calc.Metadata)

	query := `
		INSERT INTO calculations (
			id, patient_id, status, timestamp, inputs, value_display, results, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		calc.ID, calc.PatientID, calc.Status, calc.Timestamp,
		string(inputs), string(values), string(results), string(metadata),
	)
	return err
}

const calculationColumns = `id, patient_id, status, timestamp, inputs, value_display, results, metadata`

// GetCalculation retrieves a calculation by ID.
func (r *SQLRepository) GetCalculation(ctx context.Context, id string) (*domain.Calculation, error) {
	query := `SELECT ` + calculationColumns + ` FROM calculations WHERE id = ?`

	calc, err := scanCalculation(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return calc, err
}

// ListCalculationsByPatient returns a patient's calculations, newest first.
// A non-positive limit returns all of them.
func (r *SQLRepository) ListCalculationsByPatient(ctx context.Context, patientID string, limit int) ([]*domain.Calculation, error) {
	if patientID == "" {
		return nil, fmt.Errorf("%w: patient id is required", ErrInvalidInput)
	}

	query := `SELECT ` + calculationColumns + ` FROM calculations WHERE patient_id = ? ORDER BY timestamp DESC`
	if limit > 0 {
		query += ` LIMIT ` + strconv.Itoa(limit)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calcs []*domain.Calculation
	for rows.Next() {
		calc, err := scanCalculation(rows)
		if err != nil {
			return nil, err
		}
		calcs = append(calcs, calc)
	}
	return calcs, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCalculation(row scanner) (*domain.Calculation, error) {
	var calc domain.Calculation
	var inputs, values, results, metadata string

	if err := row.Scan(
		&calc.ID, &calc.PatientID, &calc.Status, &calc.Timestamp,
		&inputs, &values, &results, &metadata,
	); err != nil {
		return nil, err
	}

	for _, col := range []struct {
		raw string
		dst any
	}{
		{inputs, &calc.Inputs},
		{values, &calc.Values},
		{results, &calc.Results},
		{metadata, &calc.Metadata},
	} {
		if err := json.Unmarshal([]byte(col.raw), col.dst); err != nil {
			return nil, fmt.Errorf("failed to parse calculation %s: %w", calc.ID, err)
		}
	}
	return &calc, nil
}

// upsertNamed stores a JSON definition in a table keyed by name.
func (r *SQLRepository) upsertNamed(ctx context.Context, q dbtx, table, name string, def any) error {
	body, err := json.Marshal(def)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO ` + table + ` (name, definition, enabled, created_at, updated_at)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			definition = excluded.definition,
			enabled = 1,
			updated_at = excluded.updated_at
	`
	_, err = q.ExecContext(ctx, r.rebind(query), name, string(body), now, now)
	return err
}

func listDefinitions[T any](ctx context.Context, q dbtx, query string) ([]T, error) {
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []T
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var def T
		if err := json.Unmarshal([]byte(body), &def); err != nil {
			return nil, fmt.Errorf("failed to parse definition: %w", err)
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = strconv.AppendInt(result, int64(n), 10)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
