package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-clinical/heron/internal/calculation"
	"github.com/opensource-clinical/heron/internal/domain"
	"github.com/opensource-clinical/heron/internal/procedure"
	"github.com/opensource-clinical/heron/internal/rules"
)

// Handler holds dependencies for API handlers. repo, cache, bus and
// procedures may be nil.
type Handler struct {
	registry   *rules.Registry
	calc       *calculation.Calculator
	procedures *procedure.Service
	repo       domain.Repository
	cache      domain.Cache
	bus        domain.EventBus
	version    string
}

// NewHandler creates a new API handler.
func NewHandler(registry *rules.Registry, calc *calculation.Calculator, procedures *procedure.Service, repo domain.Repository, cache domain.Cache, bus domain.EventBus, version string) *Handler {
	return &Handler{
		registry:   registry,
		calc:       calc,
		procedures: procedures,
		repo:       repo,
		cache:      cache,
		bus:        bus,
		version:    version,
	}
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string                   `json:"error"`
	Fields  []calculation.FieldError `json:"fields,omitempty"`
	Missing []string                 `json:"missing,omitempty"`
}

// Calculate handles POST /calculations. A complete calculation answers 200;
// one with missing values answers 422 and still carries the partial result.
func (h *Handler) Calculate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req calculation.Request
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if err := domain.Validate(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.TraceID == "" {
		req.TraceID = GetTraceID(ctx)
	}

	calc, err := h.calc.Calculate(ctx, &req)
	if err != nil {
		h.writeCalculationError(w, err)
		return
	}

	resp := calc.ToResponse()
	status := http.StatusOK
	if calc.Status == domain.StatusIncomplete {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, resp)
}

func (h *Handler) writeCalculationError(w http.ResponseWriter, err error) {
	var inputErr *calculation.InputError
	switch {
	case errors.As(err, &inputErr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid input", Fields: inputErr.Fields})
	case errors.Is(err, calculation.ErrUnknownModel):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, calculation.ErrNoCatalog):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		slog.Error("calculation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "calculation failed")
	}
}

// GetCalculation handles GET /calculations/{id}.
func (h *Handler) GetCalculation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	calc, err := h.calc.Get(r.Context(), id)
	if errors.Is(err, calculation.ErrNotFound) {
		writeError(w, http.StatusNotFound, "calculation not found")
		return
	}
	if err != nil {
		slog.Error("failed to get calculation", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load calculation")
		return
	}

	writeJSON(w, http.StatusOK, calc)
}

// ListCalculations handles GET /calculations?patientId=...&limit=N, newest
// first. limit defaults to 50.
func (h *Handler) ListCalculations(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "calculation history is not available")
		return
	}

	patientID := r.URL.Query().Get("patientId")
	if patientID == "" {
		writeError(w, http.StatusBadRequest, "patientId is required")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	calcs, err := h.repo.ListCalculationsByPatient(r.Context(), patientID, limit)
	if err != nil {
		slog.Error("failed to list calculations", "patient_id", patientID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list calculations")
		return
	}
	if calcs == nil {
		calcs = []*domain.Calculation{}
	}

	writeJSON(w, http.StatusOK, calcs)
}

// ModelResponse describes one loaded model.
type ModelResponse struct {
	Name              string                  `json:"name"`
	Terms             []domain.TermDefinition `json:"terms"`
	RequiredVariables []string                `json:"requiredVariables"`
}

func describeModel(m *rules.RiskModel) ModelResponse {
	terms := m.Terms()
	resp := ModelResponse{
		Name:              m.Name(),
		Terms:             make([]domain.TermDefinition, len(terms)),
		RequiredVariables: make([]string, 0),
	}
	for i, t := range terms {
		resp.Terms[i] = t.Definition()
	}
	for _, v := range m.RequiredVariables() {
		resp.RequiredVariables = append(resp.RequiredVariables, v.Key())
	}
	return resp
}

// ListModels handles GET /models.
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	models := h.registry.Models()
	out := make([]ModelResponse, len(models))
	for i, m := range models {
		out[i] = describeModel(m)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"models": out,
		"count":  len(out),
	})
}

// GetModel handles GET /models/{name}.
func (h *Handler) GetModel(w http.ResponseWriter, r *http.Request) {
	m, ok := h.registry.Model(chi.URLParam(r, "name"))
	if !ok {
		writeError(w, http.StatusNotFound, "model not found")
		return
	}
	writeJSON(w, http.StatusOK, describeModel(m))
}

// RequiredVariables handles GET /models/{name}/required-variables. It lists
// the full definition of every variable the model reads, in key order.
func (h *Handler) RequiredVariables(w http.ResponseWriter, r *http.Request) {
	m, ok := h.registry.Model(chi.URLParam(r, "name"))
	if !ok {
		writeError(w, http.StatusNotFound, "model not found")
		return
	}

	vars := m.RequiredVariables()
	out := make([]domain.VariableDefinition, len(vars))
	for i, v := range vars {
		out[i] = domain.DescribeVariable(v)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"model":     m.Name(),
		"variables": out,
		"count":     len(out),
	})
}

// ListVariables handles GET /variables.
func (h *Handler) ListVariables(w http.ResponseWriter, r *http.Request) {
	vars := h.registry.Variables()
	out := make([]domain.VariableDefinition, len(vars))
	for i, v := range vars {
		out[i] = domain.DescribeVariable(v)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"variables": out,
		"count":     len(out),
	})
}

// ListProcedures handles GET /procedures. Without a procedure service the
// list attached to the loaded catalog is served.
func (h *Handler) ListProcedures(w http.ResponseWriter, r *http.Request) {
	var procs []domain.Procedure
	if h.procedures != nil {
		var err error
		procs, err = h.procedures.List(r.Context())
		if err != nil {
			slog.Error("failed to list procedures", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to list procedures")
			return
		}
	} else {
		procs = h.registry.Current().Procedures()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"procedures": procs,
		"count":      len(procs),
	})
}

// GetProcedure handles GET /procedures/{code}.
func (h *Handler) GetProcedure(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	if h.procedures == nil {
		for _, p := range h.registry.Current().Procedures() {
			if p.CptCode == code {
				writeJSON(w, http.StatusOK, p)
				return
			}
		}
		writeError(w, http.StatusNotFound, "procedure not found")
		return
	}

	p, err := h.procedures.Lookup(r.Context(), code)
	if errors.Is(err, domain.ErrUnknownProcedure) {
		writeError(w, http.StatusNotFound, "procedure not found")
		return
	}
	if err != nil {
		slog.Error("failed to look up procedure", "cpt_code", code, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to look up procedure")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ReloadCatalog handles POST /catalog/reload. The catalog is rebuilt from the
// repository; on a build failure the previous catalog stays active.
func (h *Handler) ReloadCatalog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	cat, err := h.repo.LoadCatalog(ctx)
	if err != nil {
		slog.Error("failed to load catalog from database", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load catalog from database")
		return
	}

	if err := h.registry.Reload(cat); err != nil {
		slog.Error("failed to reload catalog", "error", err)
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrInvalidConfig) {
			status = http.StatusUnprocessableEntity
		}
		writeError(w, status, err.Error())
		return
	}

	if h.procedures != nil {
		if err := h.procedures.Invalidate(ctx); err != nil {
			slog.Warn("failed to invalidate procedure cache", "error", err)
		}
	}

	if h.bus != nil {
		payload, _ := json.Marshal(map[string]int{"models": h.registry.ModelCount()})
		if err := h.bus.Publish(ctx, domain.TopicCatalogReloaded, payload); err != nil {
			slog.Error("failed to publish catalog reload", "error", err)
		}
	}

	slog.Info("catalog reloaded from database", "models", h.registry.ModelCount())
	writeJSON(w, http.StatusOK, map[string]any{
		"message":   "catalog reloaded successfully",
		"models":    h.registry.ModelCount(),
		"variables": len(cat.Variables),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "healthy"
	checks := map[string]string{}

	check := func(name string, ping func() error) {
		if err := ping(); err != nil {
			status = "degraded"
			checks[name] = err.Error()
			return
		}
		checks[name] = "ok"
	}

	if h.repo != nil {
		check("repository", func() error { return h.repo.Ping(ctx) })
	}
	if h.cache != nil {
		check("cache", func() error { return h.cache.Ping(ctx) })
	}
	if h.bus != nil {
		check("bus", func() error { return h.bus.Ping(ctx) })
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": h.version,
		"checks":  checks,
	})
}

// Ready reports whether a catalog with at least one model is loaded.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	models := h.registry.ModelCount()
	if models == 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"ready":  false,
			"reason": "no catalog loaded",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ready":  true,
		"models": models,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
