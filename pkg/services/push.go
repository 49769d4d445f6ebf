package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/healthsync/connector-engine/pkg/adapters/connector"
	"github.com/healthsync/connector-engine/pkg/apperrors"
	"github.com/healthsync/connector-engine/pkg/logging"
	"github.com/healthsync/connector-engine/pkg/models"
	"github.com/healthsync/connector-engine/pkg/repositories"
	"github.com/healthsync/connector-engine/pkg/retry"
)

// Submission is one completed workflow: the values entered for each field,
// keyed by field name. A submission may carry several entries.
type Submission struct {
	WorkflowID uuid.UUID        `json:"workflowId"`
	Entries    []map[string]any `json:"entries"`
}

// PushOutcome reports the delivery of a submission to one workflow configuration.
type PushOutcome struct {
	ConfigurationID uuid.UUID             `json:"configurationId"`
	Type            models.ConnectorType  `json:"type"`
	Success         bool                  `json:"success"`
	Message         string                `json:"message"`
	Attempts        int                   `json:"attempts"`
	Result          *connector.PushResult `json:"result,omitempty"`
}

// PushService delivers submissions to every active configuration of their workflow.
type PushService interface {
	// PushSubmission returns one outcome per active configuration. A failing
	// configuration does not stop the others; only problems with the workflow
	// setup itself are returned as an error.
	PushSubmission(ctx context.Context, sub Submission) ([]PushOutcome, error)
}

type pushService struct {
	store       repositories.Transactor
	connections ConnectionService
	dispatcher  connector.Dispatcher
	retry       *retry.Config
	now         func() time.Time
	logger      *zap.Logger
}

var _ PushService = (*pushService)(nil)

// NewPushService creates a push orchestrator. A nil retry config uses retry.DefaultConfig.
func NewPushService(
	store repositories.Transactor,
	connections ConnectionService,
	dispatcher connector.Dispatcher,
	retryCfg *retry.Config,
	logger *zap.Logger,
) PushService {
	if retryCfg == nil {
		retryCfg = retry.DefaultConfig()
	}
	return &pushService{
		store:       store,
		connections: connections,
		dispatcher:  dispatcher,
		retry:       retryCfg,
		now:         time.Now,
		logger:      logger.Named("push"),
	}
}

// pushPlan is everything loaded for one submission.
type pushPlan struct {
	fields   []*models.WorkflowField
	mappings map[mappingKey]*models.FieldMapping
	configs  []*models.WorkflowConfiguration
}

func (s *pushService) PushSubmission(ctx context.Context, sub Submission) ([]PushOutcome, error) {
	if len(sub.Entries) == 0 {
		return nil, apperrors.BadRequest("submission has no entries")
	}

	plan, err := s.load(ctx, sub.WorkflowID)
	if err != nil {
		return nil, err
	}

	outcomes := make([]PushOutcome, 0, len(plan.configs))
	for _, cfg := range plan.configs {
		outcome := s.push(ctx, plan, cfg, sub.Entries)
		if outcome.Success {
			s.logger.Info("Pushed submission",
				zap.String("workflow_id", sub.WorkflowID.String()),
				zap.String("configuration_id", cfg.ID.String()),
				zap.String("type", string(cfg.Type)),
				zap.Int("attempts", outcome.Attempts),
			)
		} else {
			s.logger.Warn("Submission push failed",
				zap.String("workflow_id", sub.WorkflowID.String()),
				zap.String("configuration_id", cfg.ID.String()),
				zap.String("type", string(cfg.Type)),
				zap.Int("attempts", outcome.Attempts),
				zap.String("error", outcome.Message),
			)
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

func (s *pushService) load(ctx context.Context, workflowID uuid.UUID) (*pushPlan, error) {
	repos := s.store.Repos()
	if err := requireWorkflow(ctx, repos, workflowID); err != nil {
		return nil, err
	}

	configs, err := repos.Configurations.ListByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	plan := &pushPlan{mappings: make(map[mappingKey]*models.FieldMapping)}
	for _, c := range configs {
		if c.IsActive {
			plan.configs = append(plan.configs, c)
		}
	}
	if len(plan.configs) == 0 {
		return plan, nil
	}

	mappings, err := repos.Mappings.ListByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if len(mappings) == 0 {
		return nil, apperrors.BadRequest("Field Mappings not set")
	}
	for _, m := range mappings {
		plan.mappings[mappingKey{fieldID: m.WorkflowFieldID, targetType: m.TargetType}] = m
	}

	if plan.fields, err = repos.Fields.ListByWorkflow(ctx, workflowID); err != nil {
		return nil, err
	}
	for _, c := range plan.configs {
		for _, f := range plan.fields {
			if _, ok := plan.mappings[mappingKey{fieldID: f.ID, targetType: c.Type}]; !ok {
				return nil, apperrors.BadRequest("Field mappings for %s missing", c.Type)
			}
		}
	}
	return plan, nil
}

func (s *pushService) push(ctx context.Context, plan *pushPlan, cfg *models.WorkflowConfiguration, entries []map[string]any) PushOutcome {
	outcome := PushOutcome{ConfigurationID: cfg.ID, Type: cfg.Type}

	if cfg.ExternalConnectionID == nil {
		outcome.Message = "configuration has no connection"
		return outcome
	}
	conn, err := s.connections.FindOne(ctx, *cfg.ExternalConnectionID)
	if err != nil {
		outcome.Message = apperrors.Message(err)
		return outcome
	}
	if !conn.IsActive {
		outcome.Message = "connection is inactive"
		return outcome
	}

	payload, err := s.buildPayload(plan, cfg, entries)
	if err != nil {
		outcome.Message = apperrors.Message(err)
		return outcome
	}

	err = retry.DoIfRetryable(ctx, s.retry, func(attempt int) error {
		outcome.Attempts = attempt
		result, err := s.dispatcher.PushData(ctx, conn.Type, conn.Config, payload)
		if err != nil {
			s.logger.Debug("Push attempt failed",
				zap.String("configuration_id", cfg.ID.String()),
				zap.Int("attempt", attempt),
				zap.String("category", retry.Category(err)),
				logging.SafeError(err),
			)
			return err
		}
		outcome.Result = result
		return nil
	})
	if err != nil {
		outcome.Message = apperrors.Message(err)
		return outcome
	}

	outcome.Success = true
	if outcome.Result != nil {
		outcome.Message = outcome.Result.Message
	}
	return outcome
}

func (s *pushService) buildPayload(plan *pushPlan, cfg *models.WorkflowConfiguration, entries []map[string]any) (*connector.Payload, error) {
	switch {
	case cfg.Type == models.ConnectorDHIS2:
		return s.dhis2Payload(plan, cfg, entries)
	case cfg.Type.IsSQL():
		return sqlPayload(plan, cfg, entries)
	}
	return nil, apperrors.Unsupported(string(cfg.Type))
}

func (s *pushService) dhis2Payload(plan *pushPlan, cfg *models.WorkflowConfiguration, entries []map[string]any) (*connector.Payload, error) {
	now := s.now()
	today := now.Format("2006-01-02")

	if program := cfg.Param("program"); program != "" {
		events := make([]connector.Event, 0, len(entries))
		for _, entry := range entries {
			events = append(events, connector.Event{
				Program:      program,
				ProgramStage: cfg.Param("programStage"),
				OrgUnit:      cfg.Param("orgUnit"),
				OccurredAt:   today,
				Status:       "ACTIVE",
				DataValues:   dataValues(plan, entry),
			})
		}
		return &connector.Payload{Events: events}, nil
	}

	if dataset := cfg.Param("dataset"); dataset != "" {
		period := cfg.Param("period")
		if period == "" {
			period = now.Format("200601")
		}
		var values []connector.DataValue
		for _, entry := range entries {
			values = append(values, dataValues(plan, entry)...)
		}
		return &connector.Payload{DataValueSet: &connector.DataValueSet{
			DataSet:      dataset,
			OrgUnit:      cfg.Param("orgUnit"),
			Period:       period,
			CompleteDate: today,
			DataValues:   values,
		}}, nil
	}

	return nil, apperrors.BadRequest("DHIS2 configuration must set either a program or a dataset")
}

// dataValues maps the non-empty values of one entry to DHIS2 data elements.
func dataValues(plan *pushPlan, entry map[string]any) []connector.DataValue {
	values := make([]connector.DataValue, 0, len(plan.fields))
	for _, f := range plan.fields {
		v, ok := entry[f.FieldName]
		if !ok || v == nil {
			continue
		}
		m := plan.mappings[mappingKey{fieldID: f.ID, targetType: models.ConnectorDHIS2}]
		values = append(values, connector.DataValue{DataElement: m.DataElement(), Value: v})
	}
	return values
}

func sqlPayload(plan *pushPlan, cfg *models.WorkflowConfiguration, entries []map[string]any) (*connector.Payload, error) {
	schema, table := cfg.Param("schema"), cfg.Param("table")

	// A mapping may redirect the rows to another table; all mappings must agree.
	override := ""
	for _, f := range plan.fields {
		m := plan.mappings[mappingKey{fieldID: f.ID, targetType: cfg.Type}]
		if t := m.Table(); t != "" {
			if override != "" && override != t {
				return nil, apperrors.BadRequest("field mappings target more than one table (%s, %s)", override, t)
			}
			override = t
		}
	}
	if override != "" {
		if i := strings.IndexByte(override, '.'); i >= 0 {
			schema, table = override[:i], override[i+1:]
		} else {
			table = override
		}
	}
	if table == "" {
		return nil, apperrors.BadRequest("%s configuration must set a table", cfg.Type.Label())
	}

	rows := make([][]connector.ColumnValue, 0, len(entries))
	for _, entry := range entries {
		row := make([]connector.ColumnValue, 0, len(plan.fields))
		for _, f := range plan.fields {
			m := plan.mappings[mappingKey{fieldID: f.ID, targetType: cfg.Type}]
			row = append(row, connector.ColumnValue{
				Column: m.Column(),
				Value:  entry[f.FieldName],
				Type:   f.FieldType,
			})
		}
		rows = append(rows, row)
	}
	return &connector.Payload{Table: &connector.TableRows{Schema: schema, Table: table, Rows: rows}}, nil
}
