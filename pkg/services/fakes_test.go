package services

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/healthsync/connector-engine/pkg/adapters/connector"
	_ "github.com/healthsync/connector-engine/pkg/adapters/connector/dhis2"
	_ "github.com/healthsync/connector-engine/pkg/adapters/connector/postgres"
	_ "github.com/healthsync/connector-engine/pkg/adapters/connector/sqlite"
	"github.com/healthsync/connector-engine/pkg/cache"
	"github.com/healthsync/connector-engine/pkg/crypto"
	"github.com/healthsync/connector-engine/pkg/models"
	"github.com/healthsync/connector-engine/pkg/repositories/memory"
)

// 32 bytes, base64 encoded.
const testEncryptionKey = "dGVzdC1rZXktZm9yLXVuaXQtdGVzdHMtMzItYnl0ZXM="

func newTestEncryptor(t *testing.T) *crypto.CredentialEncryptor {
	t.Helper()
	enc, err := crypto.NewCredentialEncryptor(testEncryptionKey)
	require.NoError(t, err)
	return enc
}

func createWorkflow(t *testing.T, store *memory.Store, name string) *models.Workflow {
	t.Helper()
	w := &models.Workflow{Name: name}
	require.NoError(t, store.Repos().Workflows.Create(context.Background(), w))
	return w
}

func createField(t *testing.T, store *memory.Store, workflowID uuid.UUID, name string, fieldType models.FieldType) *models.WorkflowField {
	t.Helper()
	f := &models.WorkflowField{WorkflowID: workflowID, FieldName: name, Label: name, FieldType: fieldType}
	require.NoError(t, store.Repos().Fields.Create(context.Background(), f))
	return f
}

func createConnection(t *testing.T, svc ConnectionService, connectorType string, cfg map[string]any) *models.Connection {
	t.Helper()
	conn, err := svc.Create(context.Background(), CreateConnectionRequest{
		Name:          connectorType + " connection",
		Type:          connectorType,
		Configuration: cfg,
	})
	require.NoError(t, err)
	return conn
}

// pushCall records one PushData invocation.
type pushCall struct {
	Type    models.ConnectorType
	Config  map[string]any
	Payload *connector.Payload
}

// fakeDispatcher is a scripted connector.Dispatcher.
type fakeDispatcher struct {
	mu sync.Mutex

	testResult models.TestResult
	testCalls  int

	schemas     []models.SchemaElement
	schemaErr   error
	schemaCalls int

	// pushErrs are returned by successive PushData calls; nil entries succeed.
	pushErrs   []error
	pushResult *connector.PushResult
	pushes     []pushCall

	programs *connector.CatalogPage
	orgUnits []connector.OrgUnit
	lastPage connector.Page
	lastSel  models.SchemaSelector
}

var _ connector.Dispatcher = (*fakeDispatcher)(nil)

func (f *fakeDispatcher) Resolve(models.ConnectorType) (connector.Strategy, error) {
	return nil, nil
}

func (f *fakeDispatcher) TestConnection(_ context.Context, _ models.ConnectorType, _ map[string]any) models.TestResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.testCalls++
	return f.testResult
}

func (f *fakeDispatcher) FetchSchemas(_ context.Context, _ models.ConnectorType, _ map[string]any, _ models.SchemaSelector) ([]models.SchemaElement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.schemaCalls++
	return f.schemas, f.schemaErr
}

func (f *fakeDispatcher) PushData(_ context.Context, t models.ConnectorType, cfg map[string]any, payload *connector.Payload) (*connector.PushResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, pushCall{Type: t, Config: cfg, Payload: payload})
	if len(f.pushErrs) > 0 {
		err := f.pushErrs[0]
		f.pushErrs = f.pushErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if f.pushResult != nil {
		return f.pushResult, nil
	}
	return &connector.PushResult{Accepted: 1, Message: "ok"}, nil
}

func (f *fakeDispatcher) GetPrograms(_ context.Context, _ models.ConnectorType, _ map[string]any, page connector.Page) (*connector.CatalogPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastPage = page
	return f.programs, nil
}

func (f *fakeDispatcher) GetDatasets(_ context.Context, _ models.ConnectorType, _ map[string]any, page connector.Page) (*connector.CatalogPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastPage = page
	return f.programs, nil
}

func (f *fakeDispatcher) GetOrgUnits(_ context.Context, _ models.ConnectorType, _ map[string]any, sel models.SchemaSelector) ([]connector.OrgUnit, error) {
	f.lastSel = sel
	return f.orgUnits, nil
}

func (f *fakeDispatcher) Connectors() []connector.ConnectorInfo {
	return connector.RegisteredConnectors()
}

// mapSchemaCache keeps schemas in a map and counts invalidations.
type mapSchemaCache struct {
	mu            sync.Mutex
	entries       map[string][]models.SchemaElement
	invalidations []string
}

var _ cache.SchemaCache = (*mapSchemaCache)(nil)

func newMapSchemaCache() *mapSchemaCache {
	return &mapSchemaCache{entries: make(map[string][]models.SchemaElement)}
}

func (c *mapSchemaCache) Get(_ context.Context, connectionID string, sel models.SchemaSelector) ([]models.SchemaElement, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[cache.SchemaKey(connectionID, sel)]
	return e, ok
}

func (c *mapSchemaCache) Set(_ context.Context, connectionID string, sel models.SchemaSelector, elements []models.SchemaElement) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cache.SchemaKey(connectionID, sel)] = elements
}

func (c *mapSchemaCache) Invalidate(_ context.Context, connectionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidations = append(c.invalidations, connectionID)
	prefix := "schemas:" + connectionID + ":"
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
	return nil
}

// testEnv wires every service over one in-memory store.
type testEnv struct {
	store       *memory.Store
	dispatcher  *fakeDispatcher
	schemas     *mapSchemaCache
	connections ConnectionService
	integration IntegrationService
	fields      WorkflowFieldService
	mappings    FieldMappingService
	configs     WorkflowConfigurationService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	env := &testEnv{
		store:      memory.NewStore(),
		dispatcher: &fakeDispatcher{},
		schemas:    newMapSchemaCache(),
	}
	env.connections = NewConnectionService(env.store, newTestEncryptor(t), env.schemas, logger)
	env.integration = NewIntegrationService(env.connections, env.dispatcher, env.schemas, logger)
	env.fields = NewWorkflowFieldService(env.store, logger)
	env.mappings = NewFieldMappingService(env.store, logger)
	env.configs = NewWorkflowConfigurationService(env.store, logger)
	return env
}
