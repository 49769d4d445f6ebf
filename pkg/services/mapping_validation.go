package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/healthsync/connector-engine/pkg/apperrors"
	"github.com/healthsync/connector-engine/pkg/audit"
	"github.com/healthsync/connector-engine/pkg/models"
	sqlcheck "github.com/healthsync/connector-engine/pkg/sql"
)

const msgEmptyTarget = "target cannot be an empty object"

// targetProblem returns the first problem with a mapping target, or "" when
// the target is usable for the connector type.
func targetProblem(t models.ConnectorType, target map[string]any) string {
	if len(target) == 0 {
		return msgEmptyTarget
	}

	switch {
	case t == models.ConnectorDHIS2:
		if strings.TrimSpace(models.TargetString(target, "dataElement")) == "" {
			return `For DHIS2, target must contain a non-empty "dataElement" property`
		}
	case t.IsSQL():
		column := strings.TrimSpace(models.TargetString(target, "column"))
		if column == "" {
			return fmt.Sprintf(`For %s, target must contain a non-empty "column" property`, t.Label())
		}
		if err := sqlcheck.CheckIdentifier("column", column); err != nil {
			return err.Error()
		}
		if _, ok := target["table"]; ok {
			return tableProblem(target["table"])
		}
	default:
		return fmt.Sprintf("targetType %s is not supported", quoteOrEmpty(string(t)))
	}
	return ""
}

// tableProblem checks the optional table override of a SQL target, which may
// be schema qualified.
func tableProblem(v any) string {
	table, ok := v.(string)
	if !ok || strings.TrimSpace(table) == "" {
		return `"table" must be a non-empty string when present`
	}
	schema, name := "", table
	if i := strings.IndexByte(table, '.'); i >= 0 {
		schema, name = table[:i], table[i+1:]
	}
	if err := sqlcheck.CheckQualifiedName(schema, name); err != nil {
		return err.Error()
	}
	return ""
}

// trimmedTargetKeys are the target properties whose surrounding whitespace is
// dropped before validation and storage.
var trimmedTargetKeys = []string{"dataElement", "column", "table"}

// normalizeMappingInputs returns items with trimmed target names. Targets are
// copied so the caller's maps are left alone.
func normalizeMappingInputs(items []FieldMappingInput) []FieldMappingInput {
	out := make([]FieldMappingInput, len(items))
	for i, item := range items {
		out[i] = item
		if item.Target == nil {
			continue
		}
		target := make(map[string]any, len(item.Target))
		for k, v := range item.Target {
			target[k] = v
		}
		for _, k := range trimmedTargetKeys {
			if v, ok := target[k].(string); ok {
				target[k] = strings.TrimSpace(v)
			}
		}
		out[i].Target = target
	}
	return out
}

type mappingKey struct {
	fieldID    uuid.UUID
	targetType models.ConnectorType
}

// targetKey identifies what a mapping writes to. All SQL mappings of one type
// end up in the same row, so the column alone must be unique; SQL names
// compare case-insensitively since SQLite and MySQL fold them.
type targetKey struct {
	targetType models.ConnectorType
	name       string
}

func targetKeyOf(t models.ConnectorType, target map[string]any) (targetKey, string, bool) {
	switch {
	case t == models.ConnectorDHIS2:
		if de := strings.TrimSpace(models.TargetString(target, "dataElement")); de != "" {
			return targetKey{t, de}, "dataElement", true
		}
	case t.IsSQL():
		if c := strings.TrimSpace(models.TargetString(target, "column")); c != "" {
			return targetKey{t, strings.ToLower(c)}, "column", true
		}
	}
	return targetKey{}, "", false
}

// validateMappings checks every item and returns all problems in one
// ValidationError. configured holds the connector types the workflow has
// configurations for; when it is empty any known type is accepted. stored
// are the workflow's saved mappings; those the batch replaces are ignored.
func validateMappings(items []FieldMappingInput, configured map[models.ConnectorType]bool, stored []*models.FieldMapping) error {
	var problems []apperrors.ItemError
	seen := make(map[mappingKey]int, len(items))

	replaced := make(map[mappingKey]bool, len(items))
	for _, item := range items {
		replaced[mappingKey{item.WorkflowFieldID, models.ParseConnectorType(item.TargetType)}] = true
	}
	owners := make(map[targetKey]uuid.UUID, len(stored)+len(items))
	for _, m := range stored {
		if replaced[mappingKey{m.WorkflowFieldID, m.TargetType}] {
			continue
		}
		if k, _, ok := targetKeyOf(m.TargetType, m.Target); ok {
			owners[k] = m.WorkflowFieldID
		}
	}

	for i, item := range items {
		t := models.ParseConnectorType(item.TargetType)
		if !t.Known() {
			problems = append(problems, apperrors.ItemError{
				Index:   i,
				Field:   "targetType",
				Message: fmt.Sprintf("targetType %s is not supported", quoteOrEmpty(item.TargetType)),
			})
			continue
		}

		msg := targetProblem(t, item.Target)
		if msg != "" {
			problems = append(problems, apperrors.ItemError{Index: i, Field: "target", Message: msg})
		}

		key := mappingKey{fieldID: item.WorkflowFieldID, targetType: t}
		if first, dup := seen[key]; dup {
			problems = append(problems, apperrors.ItemError{
				Index:   i,
				Field:   "workflowFieldId",
				Message: fmt.Sprintf("duplicate mapping for field %s and target type %s (first at item %d)", item.WorkflowFieldID, t, first),
			})
		} else {
			seen[key] = i
			if msg == "" {
				if tk, kind, ok := targetKeyOf(t, item.Target); ok {
					if owner, taken := owners[tk]; taken {
						problems = append(problems, apperrors.ItemError{
							Index: i,
							Field: "target",
							Message: fmt.Sprintf("%s %q is already mapped from field %s for %s",
								kind, models.TargetString(item.Target, kind), owner, t.Label()),
						})
					} else {
						owners[tk] = item.WorkflowFieldID
					}
				}
			}
		}

		if len(configured) > 0 && !configured[t] {
			problems = append(problems, apperrors.ItemError{
				Index:   i,
				Field:   "targetType",
				Message: fmt.Sprintf("workflow has no %s configuration", t.Label()),
			})
		}
	}

	if len(problems) > 0 {
		return &apperrors.ValidationError{Items: problems}
	}
	return nil
}

// unsafeIdentifiers lists the SQL column and table names in items that the
// identifier screen refuses, for the security audit log.
func unsafeIdentifiers(items []FieldMappingInput) []audit.IdentifierDetails {
	var found []audit.IdentifierDetails
	for i, item := range items {
		t := models.ParseConnectorType(item.TargetType)
		if !t.IsSQL() {
			continue
		}
		var check []error
		if column := strings.TrimSpace(models.TargetString(item.Target, "column")); column != "" {
			check = append(check, sqlcheck.CheckIdentifier("column", column))
		}
		if table, ok := item.Target["table"].(string); ok && strings.TrimSpace(table) != "" {
			schema, name := "", table
			if dot := strings.IndexByte(table, '.'); dot >= 0 {
				schema, name = table[:dot], table[dot+1:]
			}
			check = append(check, sqlcheck.CheckQualifiedName(schema, name))
		}
		for _, err := range check {
			var idErr *sqlcheck.IdentifierError
			if errors.As(err, &idErr) {
				found = append(found, audit.IdentifierDetails{
					ItemIndex:   i,
					TargetType:  string(t),
					Kind:        idErr.Kind,
					Name:        idErr.Name,
					Reason:      idErr.Reason,
					Fingerprint: idErr.Fingerprint,
				})
			}
		}
	}
	return found
}
