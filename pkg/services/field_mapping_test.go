package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/healthsync/connector-engine/pkg/apperrors"
	"github.com/healthsync/connector-engine/pkg/models"
)

func TestFieldMappingService_Upsert_CreatesInInputOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	w := createWorkflow(t, env.store, "ANC visit")
	age := createField(t, env.store, w.ID, "age", models.FieldNumber)
	name := createField(t, env.store, w.ID, "name", models.FieldText)

	saved, err := env.mappings.UpsertFieldMappings(ctx, w.ID, []FieldMappingInput{
		{WorkflowFieldID: name.ID, TargetType: "postgres", Target: map[string]any{"column": "patient_name"}},
		{WorkflowFieldID: age.ID, TargetType: "dhis2", Target: map[string]any{"dataElement": "qrur9Dvnyt5"}},
	})
	require.NoError(t, err)
	require.Len(t, saved, 2)

	assert.Equal(t, name.ID, saved[0].WorkflowFieldID)
	assert.Equal(t, models.ConnectorPostgres, saved[0].TargetType)
	assert.Equal(t, "patient_name", saved[0].Column())
	assert.Equal(t, age.ID, saved[1].WorkflowFieldID)
	assert.Equal(t, "qrur9Dvnyt5", saved[1].DataElement())
	assert.Equal(t, 1, env.store.Transactions())

	listed, err := env.mappings.GetWorkflowFieldMappings(ctx, w.ID)
	require.NoError(t, err)
	assert.Len(t, listed, 2)
}

func TestFieldMappingService_Upsert_UpdatesInPlace(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	w := createWorkflow(t, env.store, "ANC visit")
	age := createField(t, env.store, w.ID, "age", models.FieldNumber)

	first, err := env.mappings.UpsertFieldMappings(ctx, w.ID, []FieldMappingInput{
		{WorkflowFieldID: age.ID, TargetType: "dhis2", Target: map[string]any{"dataElement": "old"}},
	})
	require.NoError(t, err)

	second, err := env.mappings.UpsertFieldMappings(ctx, w.ID, []FieldMappingInput{
		{WorkflowFieldID: age.ID, TargetType: "DHIS2", Target: map[string]any{"dataElement": "new"}},
	})
	require.NoError(t, err)

	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, "new", second[0].DataElement())

	listed, err := env.mappings.GetWorkflowFieldMappings(ctx, w.ID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "new", listed[0].DataElement())
}

func TestFieldMappingService_Upsert_Empty(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.mappings.UpsertFieldMappings(context.Background(), uuid.New(), nil)
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)
	assert.Equal(t, "field mappings cannot be empty", apperrors.Message(err))
	assert.Equal(t, 0, env.store.Transactions())
}

func TestFieldMappingService_Upsert_WorkflowNotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.mappings.UpsertFieldMappings(context.Background(), uuid.New(), []FieldMappingInput{
		{WorkflowFieldID: uuid.New(), TargetType: "dhis2", Target: map[string]any{"dataElement": "x"}},
	})

	var nf *apperrors.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "Workflow", nf.Resource)
}

func TestFieldMappingService_Upsert_ReportsEveryMissingField(t *testing.T) {
	env := newTestEnv(t)
	w := createWorkflow(t, env.store, "ANC visit")
	age := createField(t, env.store, w.ID, "age", models.FieldNumber)
	missingA, missingB := uuid.New(), uuid.New()
	ctx := context.Background()

	_, err := env.mappings.UpsertFieldMappings(ctx, w.ID, []FieldMappingInput{
		{WorkflowFieldID: age.ID, TargetType: "dhis2", Target: map[string]any{"dataElement": "keep"}},
	})
	require.NoError(t, err)

	// A field of another workflow counts as missing too.
	other := createWorkflow(t, env.store, "Other")
	foreign := createField(t, env.store, other.ID, "age", models.FieldNumber)

	_, err = env.mappings.UpsertFieldMappings(ctx, w.ID, []FieldMappingInput{
		{WorkflowFieldID: missingA, TargetType: "dhis2", Target: map[string]any{"dataElement": "a"}},
		{WorkflowFieldID: age.ID, TargetType: "dhis2", Target: map[string]any{"dataElement": "b"}},
		{WorkflowFieldID: missingB, TargetType: "dhis2", Target: map[string]any{"dataElement": "c"}},
		{WorkflowFieldID: foreign.ID, TargetType: "dhis2", Target: map[string]any{"dataElement": "d"}},
	})

	var nf *apperrors.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "Field", nf.Resource)
	assert.Equal(t, []string{missingA.String(), missingB.String(), foreign.ID.String()}, nf.IDs)
	assert.Equal(t, 1, env.store.Transactions(), "a rejected batch never opens a transaction")

	listed, err := env.mappings.GetWorkflowFieldMappings(ctx, w.ID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, age.ID, listed[0].WorkflowFieldID)
	assert.Equal(t, "keep", listed[0].DataElement())
}

func TestFieldMappingService_Upsert_CollectsItemErrors(t *testing.T) {
	env := newTestEnv(t)
	w := createWorkflow(t, env.store, "ANC visit")
	f := createField(t, env.store, w.ID, "age", models.FieldNumber)
	g := createField(t, env.store, w.ID, "weight", models.FieldNumber)
	h := createField(t, env.store, w.ID, "height", models.FieldNumber)

	_, err := env.mappings.UpsertFieldMappings(context.Background(), w.ID, []FieldMappingInput{
		{WorkflowFieldID: f.ID, TargetType: "dhis2", Target: map[string]any{"dataElement": "  "}},
		{WorkflowFieldID: g.ID, TargetType: "postgres", Target: map[string]any{"table": "visits"}},
		{WorkflowFieldID: h.ID, TargetType: "mysql", Target: map[string]any{}},
	})

	var ve *apperrors.ValidationError
	require.ErrorAs(t, err, &ve)
	require.Len(t, ve.Items, 3)
	assert.Equal(t, apperrors.ItemError{Index: 0, Field: "target", Message: `For DHIS2, target must contain a non-empty "dataElement" property`}, ve.Items[0])
	assert.Equal(t, apperrors.ItemError{Index: 1, Field: "target", Message: `For POSTGRES, target must contain a non-empty "column" property`}, ve.Items[1])
	assert.Equal(t, apperrors.ItemError{Index: 2, Field: "target", Message: "target cannot be an empty object"}, ve.Items[2])

	mappings, err := env.mappings.GetWorkflowFieldMappings(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Empty(t, mappings, "nothing is written when validation fails")
}

func TestFieldMappingService_Upsert_RejectsUnsafeAndDuplicate(t *testing.T) {
	env := newTestEnv(t)
	w := createWorkflow(t, env.store, "ANC visit")
	f := createField(t, env.store, w.ID, "age", models.FieldNumber)

	_, err := env.mappings.UpsertFieldMappings(context.Background(), w.ID, []FieldMappingInput{
		{WorkflowFieldID: f.ID, TargetType: "postgres", Target: map[string]any{"column": "age; DROP TABLE visits"}},
		{WorkflowFieldID: f.ID, TargetType: "postgres", Target: map[string]any{"column": "age"}},
		{WorkflowFieldID: f.ID, TargetType: "sqlite", Target: map[string]any{"column": "age", "table": "bad table;"}},
		{WorkflowFieldID: f.ID, TargetType: "fhir", Target: map[string]any{"resource": "Observation"}},
	})

	var ve *apperrors.ValidationError
	require.ErrorAs(t, err, &ve)
	require.Len(t, ve.Items, 4)
	assert.Equal(t, 0, ve.Items[0].Index)
	assert.Contains(t, ve.Items[0].Message, "invalid column name")
	assert.Equal(t, 1, ve.Items[1].Index)
	assert.Contains(t, ve.Items[1].Message, "duplicate mapping")
	assert.Equal(t, 2, ve.Items[2].Index)
	assert.Contains(t, ve.Items[2].Message, "invalid table name")
	assert.Equal(t, 3, ve.Items[3].Index)
	assert.Equal(t, "targetType", ve.Items[3].Field)
}

func TestFieldMappingService_Upsert_AuditsUnsafeIdentifiers(t *testing.T) {
	env := newTestEnv(t)
	w := createWorkflow(t, env.store, "ANC visit")
	f := createField(t, env.store, w.ID, "age", models.FieldNumber)

	core, logs := observer.New(zapcore.DebugLevel)
	svc := NewFieldMappingService(env.store, zap.New(core))

	_, err := svc.UpsertFieldMappings(context.Background(), w.ID, []FieldMappingInput{
		{WorkflowFieldID: f.ID, TargetType: "postgres", Target: map[string]any{"column": "age; DROP TABLE visits", "table": "visits"}},
		{WorkflowFieldID: f.ID, TargetType: "dhis2", Target: map[string]any{"dataElement": "x; DROP"}},
	})
	require.Error(t, err)

	audited := logs.FilterLoggerName("security_audit").All()
	require.Len(t, audited, 1)
	assert.Equal(t, "Unsafe identifier rejected", audited[0].Message)
	assert.Equal(t, "column", audited[0].ContextMap()["kind"])
	assert.Equal(t, w.ID.String(), audited[0].ContextMap()["workflow_id"])
}

func TestFieldMappingService_Upsert_TargetTypeMustMatchConfiguration(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	w := createWorkflow(t, env.store, "ANC visit")
	f := createField(t, env.store, w.ID, "age", models.FieldNumber)

	_, err := env.configs.UpsertWorkflowConfigurations(ctx, w.ID, []WorkflowConfigurationInput{
		{Type: "dhis2", Configuration: map[string]any{"program": "IpHINAT79UW"}},
	})
	require.NoError(t, err)

	_, err = env.mappings.UpsertFieldMappings(ctx, w.ID, []FieldMappingInput{
		{WorkflowFieldID: f.ID, TargetType: "postgres", Target: map[string]any{"column": "age"}},
	})
	var ve *apperrors.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "workflow has no POSTGRES configuration", ve.Items[0].Message)

	_, err = env.mappings.UpsertFieldMappings(ctx, w.ID, []FieldMappingInput{
		{WorkflowFieldID: f.ID, TargetType: "dhis2", Target: map[string]any{"dataElement": "qrur9Dvnyt5"}},
	})
	assert.NoError(t, err)
}

func TestFieldMappingService_Upsert_RejectsSharedTargetInBatch(t *testing.T) {
	env := newTestEnv(t)
	w := createWorkflow(t, env.store, "ANC visit")
	age := createField(t, env.store, w.ID, "age", models.FieldNumber)
	years := createField(t, env.store, w.ID, "age_years", models.FieldNumber)
	weight := createField(t, env.store, w.ID, "weight", models.FieldNumber)

	_, err := env.mappings.UpsertFieldMappings(context.Background(), w.ID, []FieldMappingInput{
		{WorkflowFieldID: age.ID, TargetType: "sqlite", Target: map[string]any{"column": "age"}},
		{WorkflowFieldID: years.ID, TargetType: "sqlite", Target: map[string]any{"column": "Age"}},
		{WorkflowFieldID: age.ID, TargetType: "dhis2", Target: map[string]any{"dataElement": "qrur9Dvnyt5"}},
		{WorkflowFieldID: weight.ID, TargetType: "dhis2", Target: map[string]any{"dataElement": "qrur9Dvnyt5"}},
		// Another connector type has its own namespace.
		{WorkflowFieldID: years.ID, TargetType: "postgres", Target: map[string]any{"column": "age"}},
	})

	var ve *apperrors.ValidationError
	require.ErrorAs(t, err, &ve)
	require.Len(t, ve.Items, 2)
	assert.Equal(t, apperrors.ItemError{
		Index:   1,
		Field:   "target",
		Message: fmt.Sprintf(`column "Age" is already mapped from field %s for SQLITE`, age.ID),
	}, ve.Items[0])
	assert.Equal(t, apperrors.ItemError{
		Index:   3,
		Field:   "target",
		Message: fmt.Sprintf(`dataElement "qrur9Dvnyt5" is already mapped from field %s for DHIS2`, age.ID),
	}, ve.Items[1])
	assert.Equal(t, 0, env.store.Transactions())
}

func TestFieldMappingService_Upsert_RejectsTargetTakenByStoredMapping(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	w := createWorkflow(t, env.store, "ANC visit")
	age := createField(t, env.store, w.ID, "age", models.FieldNumber)
	years := createField(t, env.store, w.ID, "age_years", models.FieldNumber)

	_, err := env.mappings.UpsertFieldMappings(ctx, w.ID, []FieldMappingInput{
		{WorkflowFieldID: age.ID, TargetType: "postgres", Target: map[string]any{"column": "age"}},
	})
	require.NoError(t, err)

	_, err = env.mappings.UpsertFieldMappings(ctx, w.ID, []FieldMappingInput{
		{WorkflowFieldID: years.ID, TargetType: "postgres", Target: map[string]any{"column": "AGE"}},
	})
	var ve *apperrors.ValidationError
	require.ErrorAs(t, err, &ve)
	require.Len(t, ve.Items, 1)
	assert.Contains(t, ve.Items[0].Message, "is already mapped from field "+age.ID.String())

	// Moving the owner off the column frees it within the same batch.
	saved, err := env.mappings.UpsertFieldMappings(ctx, w.ID, []FieldMappingInput{
		{WorkflowFieldID: age.ID, TargetType: "postgres", Target: map[string]any{"column": "age_at_visit"}},
		{WorkflowFieldID: years.ID, TargetType: "postgres", Target: map[string]any{"column": "age"}},
	})
	require.NoError(t, err)
	require.Len(t, saved, 2)

	// Re-saving a mapping onto its own column is not a collision.
	_, err = env.mappings.UpsertFieldMappings(ctx, w.ID, []FieldMappingInput{
		{WorkflowFieldID: years.ID, TargetType: "postgres", Target: map[string]any{"column": "age"}},
	})
	require.NoError(t, err)

	listed, err := env.mappings.GetWorkflowFieldMappings(ctx, w.ID)
	require.NoError(t, err)
	columns := map[uuid.UUID]string{}
	for _, m := range listed {
		columns[m.WorkflowFieldID] = m.Column()
	}
	assert.Equal(t, map[uuid.UUID]string{age.ID: "age_at_visit", years.ID: "age"}, columns)
}

func TestFieldMappingService_Upsert_StoresTrimmedTargets(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	w := createWorkflow(t, env.store, "ANC visit")
	age := createField(t, env.store, w.ID, "age", models.FieldNumber)
	years := createField(t, env.store, w.ID, "age_years", models.FieldNumber)

	target := map[string]any{"column": " age ", "table": "\tvisits "}
	saved, err := env.mappings.UpsertFieldMappings(ctx, w.ID, []FieldMappingInput{
		{WorkflowFieldID: age.ID, TargetType: "postgres", Target: target},
		{WorkflowFieldID: age.ID, TargetType: "dhis2", Target: map[string]any{"dataElement": " qrur9Dvnyt5\n"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "age", saved[0].Column())
	assert.Equal(t, "visits", saved[0].Table())
	assert.Equal(t, "qrur9Dvnyt5", saved[1].DataElement())
	assert.Equal(t, " age ", target["column"], "the caller's target is not modified")

	// Padding does not hide a collision with the stored name.
	_, err = env.mappings.UpsertFieldMappings(ctx, w.ID, []FieldMappingInput{
		{WorkflowFieldID: years.ID, TargetType: "postgres", Target: map[string]any{"column": "age  "}},
	})
	var ve *apperrors.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, fmt.Sprintf(`column "age" is already mapped from field %s for POSTGRES`, age.ID), ve.Items[0].Message)
}

func TestFieldMappingService_Upsert_RollsBackOnWriteFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	w := createWorkflow(t, env.store, "ANC visit")
	age := createField(t, env.store, w.ID, "age", models.FieldNumber)
	weight := createField(t, env.store, w.ID, "weight", models.FieldNumber)

	_, err := env.mappings.UpsertFieldMappings(ctx, w.ID, []FieldMappingInput{
		{WorkflowFieldID: age.ID, TargetType: "dhis2", Target: map[string]any{"dataElement": "original"}},
	})
	require.NoError(t, err)

	env.store.FailNext("mappings.Create", errors.New("connection reset by peer"))
	_, err = env.mappings.UpsertFieldMappings(ctx, w.ID, []FieldMappingInput{
		{WorkflowFieldID: age.ID, TargetType: "dhis2", Target: map[string]any{"dataElement": "changed"}},
		{WorkflowFieldID: weight.ID, TargetType: "dhis2", Target: map[string]any{"dataElement": "new"}},
	})
	require.Error(t, err)

	listed, err := env.mappings.GetWorkflowFieldMappings(ctx, w.ID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "original", listed[0].DataElement(), "the update of the first item is rolled back")
}

func TestFieldMappingService_Upsert_ConcurrentWriterConflict(t *testing.T) {
	env := newTestEnv(t)
	w := createWorkflow(t, env.store, "ANC visit")
	age := createField(t, env.store, w.ID, "age", models.FieldNumber)

	env.store.FailNext("mappings.Create", apperrors.Conflict("a mapping for this field and target type already exists"))
	_, err := env.mappings.UpsertFieldMappings(context.Background(), w.ID, []FieldMappingInput{
		{WorkflowFieldID: age.ID, TargetType: "dhis2", Target: map[string]any{"dataElement": "x"}},
	})
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestFieldMappingService_Get(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.mappings.GetWorkflowFieldMappings(ctx, uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	w := createWorkflow(t, env.store, "Empty")
	mappings, err := env.mappings.GetWorkflowFieldMappings(ctx, w.ID)
	require.NoError(t, err)
	assert.NotNil(t, mappings)
	assert.Empty(t, mappings)
}

func TestFieldMappingService_Delete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	w := createWorkflow(t, env.store, "ANC visit")
	age := createField(t, env.store, w.ID, "age", models.FieldNumber)

	saved, err := env.mappings.UpsertFieldMappings(ctx, w.ID, []FieldMappingInput{
		{WorkflowFieldID: age.ID, TargetType: "dhis2", Target: map[string]any{"dataElement": "x"}},
	})
	require.NoError(t, err)

	require.NoError(t, env.mappings.DeleteFieldMapping(ctx, w.ID, saved[0].ID))
	err = env.mappings.DeleteFieldMapping(ctx, w.ID, saved[0].ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestTargetProblem(t *testing.T) {
	tests := []struct {
		name   string
		t      models.ConnectorType
		target map[string]any
		want   string
	}{
		{"dhis2 ok", models.ConnectorDHIS2, map[string]any{"dataElement": "qrur9Dvnyt5"}, ""},
		{"dhis2 wrong key", models.ConnectorDHIS2, map[string]any{"column": "age"}, `For DHIS2, target must contain a non-empty "dataElement" property`},
		{"dhis2 non-string", models.ConnectorDHIS2, map[string]any{"dataElement": 42}, `For DHIS2, target must contain a non-empty "dataElement" property`},
		{"oracle label", models.ConnectorOracle, map[string]any{"dataElement": "x"}, `For ORACLE, target must contain a non-empty "column" property`},
		{"sql with table", models.ConnectorMSSQL, map[string]any{"column": "age", "table": "dbo.visits"}, ""},
		{"sql empty table", models.ConnectorMySQL, map[string]any{"column": "age", "table": ""}, `"table" must be a non-empty string when present`},
		{"nil target", models.ConnectorSQLite, nil, "target cannot be an empty object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, targetProblem(tt.t, tt.target))
		})
	}
}

var sqlTypes = []any{
	models.ConnectorPostgres,
	models.ConnectorMySQL,
	models.ConnectorSQLite,
	models.ConnectorMSSQL,
	models.ConnectorOracle,
}

func TestTargetProblem_Properties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("SQL targets with a plain column name always pass", prop.ForAll(
		func(ct models.ConnectorType, column string) bool {
			return targetProblem(ct, map[string]any{"column": "col_" + column}) == ""
		},
		gen.OneConstOf(sqlTypes...),
		gen.Identifier(),
	))

	properties.Property("SQL targets with a blank column always fail with the typed message", prop.ForAll(
		func(ct models.ConnectorType, blanks int) bool {
			want := fmt.Sprintf(`For %s, target must contain a non-empty "column" property`, strings.ToUpper(string(ct)))
			return targetProblem(ct, map[string]any{"column": strings.Repeat(" ", blanks), "table": "visits"}) == want
		},
		gen.OneConstOf(sqlTypes...),
		gen.IntRange(0, 8),
	))

	properties.Property("DHIS2 targets pass exactly when dataElement is non-blank", prop.ForAll(
		func(dataElement string) bool {
			got := targetProblem(models.ConnectorDHIS2, map[string]any{"dataElement": dataElement})
			return (got == "") == (strings.TrimSpace(dataElement) != "")
		},
		gen.OneGenOf(gen.AlphaString(), gen.Const("   ")),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestUpsertFieldMappings_CountProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("upserting n distinct mappings twice stores exactly n", prop.ForAll(
		func(n int) bool {
			env := newTestEnv(t)
			ctx := context.Background()
			w := createWorkflow(t, env.store, "property")

			items := make([]FieldMappingInput, 0, n)
			for i := 0; i < n; i++ {
				f := createField(t, env.store, w.ID, fmt.Sprintf("field_%d", i), models.FieldText)
				items = append(items, FieldMappingInput{
					WorkflowFieldID: f.ID,
					TargetType:      "sqlite",
					Target:          map[string]any{"column": fmt.Sprintf("column_%d", i)},
				})
			}

			for round := 0; round < 2; round++ {
				saved, err := env.mappings.UpsertFieldMappings(ctx, w.ID, items)
				if err != nil || len(saved) != n {
					return false
				}
			}
			listed, err := env.mappings.GetWorkflowFieldMappings(ctx, w.ID)
			return err == nil && len(listed) == n
		},
		gen.IntRange(1, 12),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
