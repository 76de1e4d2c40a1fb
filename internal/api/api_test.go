package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-clinical/heron/internal/bus"
	"github.com/opensource-clinical/heron/internal/cache"
	"github.com/opensource-clinical/heron/internal/calculation"
	"github.com/opensource-clinical/heron/internal/domain"
	"github.com/opensource-clinical/heron/internal/procedure"
	"github.com/opensource-clinical/heron/internal/repository"
	"github.com/opensource-clinical/heron/internal/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCatalog() *domain.Catalog {
	return &domain.Catalog{
		Groups: []domain.VariableGroup{{Name: "Demographics", DisplayOrder: 1}},
		Variables: []domain.VariableDefinition{
			{Key: "asaClassification", DisplayName: "ASA Class", Type: "multiSelect", Group: "Demographics",
				Options: []string{"Class 1", "Class 2", "Class 3", "Class 4", "Class 5"}},
			{Key: "smoker", DisplayName: "Current smoker", Type: "boolean", Group: "Demographics"},
			{Key: "procedure", DisplayName: "Procedure", Type: "procedure", Group: "Demographics"},
		},
		Rules: []domain.RuleDefinition{
			{Name: "always", Summand: "#coefficient"},
		},
		Models: []domain.ModelDefinition{
			{Name: "Mortality", Terms: []domain.TermDefinition{
				{Type: domain.TermConstant, Coefficient: -1.23},
				{Type: domain.TermDiscrete, Variable: "asaClassification", Option: "Class 5", Coefficient: 0.5},
				{Type: domain.TermDerived, Rule: "always", Coefficient: 1.5},
			}},
			{Name: "Pneumonia", Terms: []domain.TermDefinition{
				{Type: domain.TermConstant, Coefficient: -3},
				{Type: domain.TermBoolean, Variable: "smoker", Coefficient: 0.4},
				{Type: domain.TermProcedure, Variable: "procedure", Coefficient: 0.01},
			}},
		},
		Procedures: []domain.Procedure{
			{CptCode: "44140", RVU: 22.5, ShortDescription: "Partial colectomy"},
			{CptCode: "47562", RVU: 11.1, ShortDescription: "Laparoscopic cholecystectomy"},
		},
	}
}

type testEnv struct {
	server   *Server
	repo     domain.Repository
	bus      *bus.ChannelBus
	registry *rules.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "api.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	require.NoError(t, repo.SaveCatalog(ctx, testCatalog()))

	cat, err := repo.LoadCatalog(ctx)
	require.NoError(t, err)

	compiler, err := rules.NewCompiler()
	require.NoError(t, err)
	registry := rules.NewRegistry(compiler)
	require.NoError(t, registry.Load(cat))

	lru := cache.NewLRUCache(100, time.Minute)
	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	calc := calculation.NewCalculator(registry, repo, lru, eventBus, domain.EngineConfig{
		MaxConcurrency: 2,
		Explain:        true,
		Persist:        true,
	})
	procs := procedure.NewService(repo, lru, time.Minute)

	handler := NewHandler(registry, calc, procs, repo, lru, eventBus, "test-v1")
	cfg := domain.ServerConfig{Host: "localhost", Port: 8080, ReadTimeout: 30, WriteTimeout: 30}

	return &testEnv{
		server:   NewServer(cfg, handler),
		repo:     repo,
		bus:      eventBus,
		registry: registry,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func TestCalculateEndpoint(t *testing.T) {
	env := newTestEnv(t)

	t.Run("Complete", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/calculations", calculation.Request{
			Models: []string{"Mortality"},
			Values: map[string]any{"asaClassification": "Class 5"},
		})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.NotEmpty(t, rr.Header().Get(RequestIDHeader))
		assert.NotEmpty(t, rr.Header().Get(TraceIDHeader))

		resp := decode[domain.CalculationResponse](t, rr)
		assert.Equal(t, domain.StatusComplete, resp.Status)
		assert.InDelta(t, 0.77, resp.Scores["Mortality"], 1e-9)
		assert.NotEmpty(t, resp.CalculationID)
	})

	t.Run("MissingValues", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/calculations", calculation.Request{
			Values: map[string]any{"asaClassification": "Class 1"},
		})
		require.Equal(t, http.StatusUnprocessableEntity, rr.Code, rr.Body.String())

		resp := decode[domain.CalculationResponse](t, rr)
		assert.Equal(t, domain.StatusIncomplete, resp.Status)
		assert.Equal(t, []string{"procedure", "smoker"}, resp.Missing)
		assert.Contains(t, resp.Scores, "Mortality")
	})

	t.Run("ProcedureValue", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/calculations", calculation.Request{
			Models: []string{"Pneumonia"},
			Values: map[string]any{"smoker": true, "procedure": map[string]any{"cptCode": "44140"}},
		})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		resp := decode[domain.CalculationResponse](t, rr)
		assert.InDelta(t, -3+0.4+0.225, resp.Scores["Pneumonia"], 1e-9)
	})

	t.Run("InvalidValues", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/calculations", calculation.Request{
			Values: map[string]any{"asaClassification": "Class 9", "smoker": "maybe", "height": 180},
		})
		require.Equal(t, http.StatusBadRequest, rr.Code)

		resp := decode[ErrorResponse](t, rr)
		require.Len(t, resp.Fields, 3)
		assert.Equal(t, calculation.CodeUnknownOption, resp.Fields[0].Code)
		assert.Equal(t, calculation.CodeUnknownVariable, resp.Fields[1].Code)
		assert.Equal(t, calculation.CodeInvalidType, resp.Fields[2].Code)
	})

	t.Run("UnknownModel", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/calculations", calculation.Request{
			Models: []string{"Readmission"},
			Values: map[string]any{},
		})
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("MalformedBody", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/calculations", bytes.NewBufferString("{"))
		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("ValuesRequired", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/calculations", map[string]any{"models": []string{"Mortality"}})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestGetCalculationEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/calculations", calculation.Request{
		PatientID: "patient-1",
		Models:    []string{"Mortality"},
		Values:    map[string]any{"asaClassification": "Class 2"},
	})
	require.Equal(t, http.StatusOK, rr.Code)
	created := decode[domain.CalculationResponse](t, rr)

	rr = env.do(t, http.MethodGet, "/calculations/"+created.CalculationID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	got := decode[domain.Calculation](t, rr)
	assert.Equal(t, "patient-1", got.PatientID)
	assert.Equal(t, "Class 2", got.Values["asaClassification"])

	rr = env.do(t, http.MethodGet, "/calculations/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestListCalculationsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	for _, class := range []string{"Class 1", "Class 5"} {
		rr := env.do(t, http.MethodPost, "/calculations", calculation.Request{
			PatientID: "patient-7",
			Models:    []string{"Mortality"},
			Values:    map[string]any{"asaClassification": class},
		})
		require.Equal(t, http.StatusOK, rr.Code)
	}

	t.Run("ByPatient", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/calculations?patientId=patient-7", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Len(t, decode[[]domain.Calculation](t, rr), 2)
	})

	t.Run("Limit", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/calculations?patientId=patient-7&limit=1", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Len(t, decode[[]domain.Calculation](t, rr), 1)
	})

	t.Run("UnknownPatient", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/calculations?patientId=nobody", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Empty(t, decode[[]domain.Calculation](t, rr))
	})

	t.Run("PatientRequired", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/calculations", nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("BadLimit", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/calculations?patientId=patient-7&limit=0", nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestCatalogEndpoints(t *testing.T) {
	env := newTestEnv(t)

	t.Run("ListModels", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/models", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		resp := decode[struct {
			Models []ModelResponse `json:"models"`
			Count  int             `json:"count"`
		}](t, rr)
		assert.Equal(t, 2, resp.Count)
		assert.Equal(t, "Mortality", resp.Models[0].Name)
	})

	t.Run("GetModel", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/models/Pneumonia", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		resp := decode[ModelResponse](t, rr)
		assert.Len(t, resp.Terms, 3)
		assert.Equal(t, []string{"procedure", "smoker"}, resp.RequiredVariables)

		rr = env.do(t, http.MethodGet, "/models/Nope", nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("RequiredVariables", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/models/Mortality/required-variables", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		resp := decode[struct {
			Variables []domain.VariableDefinition `json:"variables"`
		}](t, rr)
		require.Len(t, resp.Variables, 1)
		assert.Equal(t, "asaClassification", resp.Variables[0].Key)
		assert.Len(t, resp.Variables[0].Options, 5)
	})

	t.Run("ListVariables", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/variables", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		resp := decode[struct {
			Count int `json:"count"`
		}](t, rr)
		assert.Equal(t, 3, resp.Count)
	})

	t.Run("Procedures", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/procedures", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		resp := decode[struct {
			Procedures []domain.Procedure `json:"procedures"`
		}](t, rr)
		require.Len(t, resp.Procedures, 2)
		assert.Equal(t, "44140", resp.Procedures[0].CptCode)

		rr = env.do(t, http.MethodGet, "/procedures/47562", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, 11.1, decode[domain.Procedure](t, rr).RVU)

		rr = env.do(t, http.MethodGet, "/procedures/00000", nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestReloadCatalogEndpoint(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	reloaded := make(chan struct{}, 1)
	_, err := env.bus.Subscribe(ctx, domain.TopicCatalogReloaded, func(ctx context.Context, msg *domain.Message) error {
		reloaded <- struct{}{}
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, env.repo.DeleteModel(ctx, "Pneumonia"))

	rr := env.do(t, http.MethodPost, "/catalog/reload", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, 1, env.registry.ModelCount())

	select {
	case <-reloaded:
	case <-time.After(time.Second):
		t.Fatal("catalog reload not published")
	}

	rr = env.do(t, http.MethodGet, "/models/Pneumonia", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	health := decode[map[string]any](t, rr)
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, "test-v1", health["version"])

	rr = env.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	require.NoError(t, env.registry.Close())
	rr = env.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = env.do(t, http.MethodPost, "/calculations", calculation.Request{Values: map[string]any{}})
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestMiddleware(t *testing.T) {
	env := newTestEnv(t)

	t.Run("RequestIDPropagates", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(RequestIDHeader, "req-123")
		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		assert.Equal(t, "req-123", rr.Header().Get(RequestIDHeader))
		assert.Equal(t, "req-123", rr.Header().Get(TraceIDHeader), "request ID doubles as trace ID without a tracer provider")
	})

	t.Run("CORSPreflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/calculations", nil)
		req.Header.Set("Origin", "https://clinic.example")
		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		assert.Equal(t, http.StatusNoContent, rr.Code)
		assert.Equal(t, "https://clinic.example", rr.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("RecoverFromPanic", func(t *testing.T) {
		h := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		}))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})
}
