package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthsync/connector-engine/pkg/apperrors"
	"github.com/healthsync/connector-engine/pkg/models"
)

func TestWorkflowFieldService_CreateWorkflow(t *testing.T) {
	env := newTestEnv(t)

	w, err := env.fields.CreateWorkflow(context.Background(), " Immunization ")
	require.NoError(t, err)
	assert.Equal(t, "Immunization", w.Name)

	_, err = env.fields.CreateWorkflow(context.Background(), "")
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)
}

func TestWorkflowFieldService_UpsertAndFind(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	w := createWorkflow(t, env.store, "ANC visit")

	created, err := env.fields.UpsertWorkflowFields(ctx, w.ID, []WorkflowFieldInput{
		{FieldName: "age", Label: "Age", FieldType: "number", IsRequired: true},
		{FieldName: "visit_date", Label: "Visit date", FieldType: "date"},
	})
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.Equal(t, 0, created[0].DisplayOrder)
	assert.Equal(t, 1, created[1].DisplayOrder)

	order := 5
	updated, err := env.fields.UpsertWorkflowFields(ctx, w.ID, []WorkflowFieldInput{
		{ID: &created[0].ID, FieldName: "age_years", Label: "Age (years)", FieldType: "number", DisplayOrder: &order},
	})
	require.NoError(t, err)
	assert.Equal(t, created[0].ID, updated[0].ID)
	assert.Equal(t, "age_years", updated[0].FieldName)
	assert.Equal(t, 5, updated[0].DisplayOrder)

	found, err := env.fields.Find(ctx, []uuid.UUID{created[0].ID, uuid.New()}, w.ID)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "age_years", found[0].FieldName)

	listed, err := env.fields.GetWorkflowFields(ctx, w.ID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "visit_date", listed[0].FieldName, "fields are ordered by display order")
}

func TestWorkflowFieldService_Upsert_Errors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	w := createWorkflow(t, env.store, "ANC visit")

	_, err := env.fields.UpsertWorkflowFields(ctx, w.ID, nil)
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)

	_, err = env.fields.UpsertWorkflowFields(ctx, uuid.New(), []WorkflowFieldInput{{FieldName: "a", Label: "A", FieldType: "text"}})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	a, b := uuid.New(), uuid.New()
	_, err = env.fields.UpsertWorkflowFields(ctx, w.ID, []WorkflowFieldInput{
		{ID: &a, FieldName: "a", Label: "A", FieldType: "text"},
		{ID: &b, FieldName: "b", Label: "B", FieldType: "text"},
	})
	var nf *apperrors.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, []string{a.String(), b.String()}, nf.IDs)

	_, err = env.fields.UpsertWorkflowFields(ctx, w.ID, []WorkflowFieldInput{
		{FieldName: "", Label: "", FieldType: "colour"},
	})
	var ve *apperrors.ValidationError
	require.ErrorAs(t, err, &ve)
	require.Len(t, ve.Items, 3)
	assert.Equal(t, "fieldName", ve.Items[0].Field)
	assert.Equal(t, "label", ve.Items[1].Field)
	assert.Equal(t, `fieldType "colour" is not supported`, ve.Items[2].Message)

	_, err = env.fields.UpsertWorkflowFields(ctx, w.ID, []WorkflowFieldInput{
		{FieldName: "dup", Label: "Dup", FieldType: "text"},
		{FieldName: "dup", Label: "Dup again", FieldType: "text"},
	})
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	listed, err := env.fields.GetWorkflowFields(ctx, w.ID)
	require.NoError(t, err)
	assert.Empty(t, listed, "the conflicting batch is rolled back")
}

func TestWorkflowFieldService_Remove_CascadesToMappings(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	w := createWorkflow(t, env.store, "ANC visit")
	f := createField(t, env.store, w.ID, "age", models.FieldNumber)

	_, err := env.mappings.UpsertFieldMappings(ctx, w.ID, []FieldMappingInput{
		{WorkflowFieldID: f.ID, TargetType: "dhis2", Target: map[string]any{"dataElement": "x"}},
	})
	require.NoError(t, err)

	require.NoError(t, env.fields.RemoveWorkflowField(ctx, w.ID, f.ID))

	mappings, err := env.mappings.GetWorkflowFieldMappings(ctx, w.ID)
	require.NoError(t, err)
	assert.Empty(t, mappings)

	assert.ErrorIs(t, env.fields.RemoveWorkflowField(ctx, w.ID, f.ID), apperrors.ErrNotFound)
}
