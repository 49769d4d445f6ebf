package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/healthsync/connector-engine/pkg/adapters/connector"
	_ "github.com/healthsync/connector-engine/pkg/adapters/connector/dhis2"
	_ "github.com/healthsync/connector-engine/pkg/adapters/connector/sqlite"
	"github.com/healthsync/connector-engine/pkg/auth"
	"github.com/healthsync/connector-engine/pkg/cache"
	"github.com/healthsync/connector-engine/pkg/config"
	"github.com/healthsync/connector-engine/pkg/crypto"
	"github.com/healthsync/connector-engine/pkg/models"
	"github.com/healthsync/connector-engine/pkg/repositories/memory"
	"github.com/healthsync/connector-engine/pkg/retry"
	"github.com/healthsync/connector-engine/pkg/services"
	"github.com/healthsync/connector-engine/pkg/testhelpers"
)

const (
	testSecret        = "handler-test-secret"
	testCredentialKey = "dGVzdC1rZXktZm9yLXVuaXQtdGVzdHMtMzItYnl0ZXM="
)

// testServer runs every handler over an in-memory store and the real
// connector dispatcher.
type testServer struct {
	t       *testing.T
	store   *memory.Store
	handler http.Handler
	token   string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zaptest.NewLogger(t)

	store := memory.NewStore()
	enc, err := crypto.NewCredentialEncryptor(testCredentialKey)
	require.NoError(t, err)

	dispatcher := connector.NewDispatcher(connector.DispatcherConfig{Logger: logger})
	schemas := cache.NoopSchemaCache{}

	connections := services.NewConnectionService(store, enc, schemas, logger)
	integration := services.NewIntegrationService(connections, dispatcher, schemas, logger)
	fields := services.NewWorkflowFieldService(store, logger)
	mappings := services.NewFieldMappingService(store, logger)
	configurations := services.NewWorkflowConfigurationService(store, logger)
	push := services.NewPushService(store, connections, dispatcher, &retry.Config{
		MaxRetries:   1,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Multiplier:   1,
	}, logger)

	authService, err := auth.NewAuthService(auth.Config{EnableVerification: true, Secret: testSecret}, logger)
	require.NoError(t, err)
	authMiddleware := auth.NewMiddleware(authService, logger)

	mux := http.NewServeMux()
	NewHealthHandler(&config.Config{Version: "test", Env: "test"}, logger).RegisterRoutes(mux)
	NewConnectionsHandler(connections, integration, logger).RegisterRoutes(mux, authMiddleware)
	NewCatalogHandler(integration, logger).RegisterRoutes(mux, authMiddleware)
	NewWorkflowsHandler(fields, mappings, configurations, logger).RegisterRoutes(mux, authMiddleware)
	NewSubmissionsHandler(push, logger).RegisterRoutes(mux, authMiddleware)

	return &testServer{
		t:       t,
		store:   store,
		handler: mux,
		token:   testhelpers.GenerateAdminTokenWithBearer(testSecret, "admin"),
	}
}

func (s *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", s.token)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) createWorkflow(name string) *models.Workflow {
	s.t.Helper()
	w := &models.Workflow{Name: name}
	require.NoError(s.t, s.store.Repos().Workflows.Create(context.Background(), w))
	return w
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

// fakeDHIS2 answers /api/me and the org units of program IpHINAT79UW for the
// given token.
func fakeDHIS2(t *testing.T, token string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "ApiToken "+token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body string
		switch r.URL.Path {
		case "/api/me":
			body = `{"id":"xE7jOejl9FI","username":"admin"}`
		case "/api/programs/IpHINAT79UW.json":
			body = `{"id":"IpHINAT79UW","organisationUnits":[{"id":"DiszpKrYNg8","displayName":"Ngelehun CHC","parent":{"id":"BGGmAwx33dj","displayName":"Bumpe NLeh"}}]}`
		default:
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}
