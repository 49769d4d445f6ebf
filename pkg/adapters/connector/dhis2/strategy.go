package dhis2

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/healthsync/connector-engine/pkg/adapters/connector"
	"github.com/healthsync/connector-engine/pkg/apperrors"
	"github.com/healthsync/connector-engine/pkg/logging"
	"github.com/healthsync/connector-engine/pkg/models"
)

const (
	programFields = "id,name,programStages[id,displayName,programStageDataElements[dataElement[id,name,displayName,valueType]]]"
	dataSetFields = "id,name,dataSetElements[dataElement[id,name,displayName,valueType]]"

	defaultEventStatus = "ACTIVE"
)

var errBadResponse = errors.New("unexpected response from DHIS2")

// Strategy talks to the DHIS2 Web API.
type Strategy struct {
	timeouts   connector.Timeouts
	httpClient *http.Client
	logger     *zap.Logger
}

var (
	_ connector.Strategy       = (*Strategy)(nil)
	_ connector.ProgramCatalog = (*Strategy)(nil)
)

// New creates a DHIS2 strategy.
func New(deps connector.Deps) *Strategy {
	timeouts := deps.Timeouts
	if timeouts.Connect <= 0 {
		timeouts.Connect = connector.DefaultTimeouts.Connect
	}
	if timeouts.Read <= 0 {
		timeouts.Read = connector.DefaultTimeouts.Read
	}
	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = newHTTPClient(timeouts.Connect, timeouts.Read)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Strategy{
		timeouts:   timeouts,
		httpClient: httpClient,
		logger:     logger.Named("dhis2"),
	}
}

func (s *Strategy) client(raw map[string]any) (*client, *Config, error) {
	cfg, err := FromMap(raw, s.timeouts)
	if err != nil {
		return nil, nil, err
	}
	return &client{http: s.httpClient, cfg: cfg, logger: s.logger}, cfg, nil
}

// TestConnection checks the credentials against /api/me.
func (s *Strategy) TestConnection(ctx context.Context, raw map[string]any) models.TestResult {
	start := time.Now()
	failed := func(category, message string) models.TestResult {
		return models.TestResult{
			Success:   false,
			Message:   message,
			LatencyMs: time.Since(start).Milliseconds(),
			Category:  category,
			TestedAt:  time.Now().UTC(),
		}
	}

	c, cfg, err := s.client(raw)
	if err != nil {
		return failed("configuration", apperrors.Message(err))
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	var user me
	err = c.get(ctx, "me", url.Values{"fields": {"id,username"}}, &user)
	if err == nil && user.ID == "" {
		err = errBadResponse
	}
	if err != nil {
		mapped := s.translate(err, "", "")
		s.logger.Info("connection test failed",
			zap.String("base_url", cfg.BaseURL),
			logging.SafeError(err))
		category := apperrors.CategoryRemote
		var ce *apperrors.ConnectivityError
		if errors.As(mapped, &ce) {
			category = ce.Category
		}
		return failed(category, "Connection failed: "+apperrors.Message(mapped))
	}

	name := user.Username
	if name == "" {
		name = user.ID
	}
	return models.TestResult{
		Success:   true,
		Message:   "Connected to DHIS2 as " + name,
		LatencyMs: time.Since(start).Milliseconds(),
		TestedAt:  time.Now().UTC(),
	}
}

// FetchSchemas lists the data elements of a program (across all stages) or a data set.
func (s *Strategy) FetchSchemas(ctx context.Context, raw map[string]any, sel models.SchemaSelector) ([]models.SchemaElement, error) {
	kind := strings.ToLower(sel.Type)
	if kind != "program" && kind != "dataset" {
		return nil, apperrors.BadRequest("unsupported schema type %q for DHIS2: expected program or dataSet", sel.Type)
	}
	if strings.TrimSpace(sel.ID) == "" {
		return nil, apperrors.BadRequest("a %s id is required", sel.Type)
	}

	c, cfg, err := s.client(raw)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.ReadTimeout)
	defer cancel()

	var elements []dataElement
	if kind == "program" {
		var program programSchema
		if err := c.get(ctx, "programs/"+url.PathEscape(sel.ID)+".json", url.Values{"fields": {programFields}}, &program); err != nil {
			return nil, s.fail("fetch program schema", err, "Program", sel.ID)
		}
		for _, stage := range program.ProgramStages {
			for _, psde := range stage.ProgramStageDataElements {
				elements = append(elements, psde.DataElement)
			}
		}
	} else {
		var dataSet dataSetSchema
		if err := c.get(ctx, "dataSets/"+url.PathEscape(sel.ID)+".json", url.Values{"fields": {dataSetFields}}, &dataSet); err != nil {
			return nil, s.fail("fetch data set schema", err, "DataSet", sel.ID)
		}
		for _, dse := range dataSet.DataSetElements {
			elements = append(elements, dse.DataElement)
		}
	}

	return toSchema(elements), nil
}

// toSchema drops duplicate data elements. A data element shared by several
// program stages keeps its first occurrence.
func toSchema(elements []dataElement) []models.SchemaElement {
	seen := make(map[string]bool, len(elements))
	out := make([]models.SchemaElement, 0, len(elements))
	for _, de := range elements {
		if de.ID == "" || seen[de.ID] {
			continue
		}
		seen[de.ID] = true
		name := de.DisplayName
		if name == "" {
			name = de.Name
		}
		out = append(out, models.SchemaElement{ID: de.ID, Name: name, ValueType: normalizeValueType(de.ValueType)})
	}
	return out
}

// PushData sends tracker events or an aggregate data value set.
func (s *Strategy) PushData(ctx context.Context, raw map[string]any, payload *connector.Payload) (*connector.PushResult, error) {
	if payload == nil || (len(payload.Events) == 0 && payload.DataValueSet == nil) {
		return nil, apperrors.BadRequest("Unknown DHIS2 payload type: expected events or a data value set")
	}

	c, cfg, err := s.client(raw)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.ReadTimeout)
	defer cancel()

	if len(payload.Events) > 0 {
		return s.pushEvents(ctx, c, payload.Events)
	}
	return s.pushDataValueSet(ctx, c, payload.DataValueSet)
}

func (s *Strategy) pushEvents(ctx context.Context, c *client, events []connector.Event) (*connector.PushResult, error) {
	body := struct {
		Events []wireEvent `json:"events"`
	}{Events: make([]wireEvent, 0, len(events))}

	for i, ev := range events {
		if ev.Program == "" || ev.OrgUnit == "" {
			return nil, apperrors.BadRequest("event %d requires program and orgUnit", i)
		}
		status := ev.Status
		if status == "" {
			status = defaultEventStatus
		}
		body.Events = append(body.Events, wireEvent{
			Program:      ev.Program,
			ProgramStage: ev.ProgramStage,
			OrgUnit:      ev.OrgUnit,
			OccurredAt:   ev.OccurredAt,
			Status:       status,
			DataValues:   wireValues(ev.DataValues),
		})
	}

	s.logger.Info("pushing events to DHIS2",
		zap.String("base_url", c.cfg.BaseURL),
		zap.Int("events", len(body.Events)))

	var report trackerReport
	if err := c.post(ctx, "tracker", url.Values{"async": {"false"}}, body, &report); err != nil {
		return nil, s.fail("push events", err, "", "")
	}
	r := report.unwrap()

	if strings.EqualFold(r.Status, "ERROR") {
		items := make([]apperrors.ItemError, 0, len(r.ValidationReport.ErrorReports))
		for i, rep := range r.ValidationReport.ErrorReports {
			items = append(items, apperrors.ItemError{Index: i, Field: rep.UID, Message: rep.Message})
		}
		if len(items) == 0 {
			items = append(items, apperrors.ItemError{Message: "DHIS2 rejected the events"})
		}
		return nil, &apperrors.ValidationError{Items: items}
	}

	accepted := r.Stats.Created + r.Stats.Updated
	return &connector.PushResult{
		Accepted: accepted,
		Ignored:  r.Stats.Ignored,
		Message:  fmt.Sprintf("Imported %d event(s) into DHIS2", accepted),
	}, nil
}

func (s *Strategy) pushDataValueSet(ctx context.Context, c *client, set *connector.DataValueSet) (*connector.PushResult, error) {
	if set.DataSet == "" || set.OrgUnit == "" || set.Period == "" {
		return nil, apperrors.BadRequest("data value set requires dataSet, orgUnit and period")
	}
	body := wireDataValueSet{
		DataSet:      set.DataSet,
		OrgUnit:      set.OrgUnit,
		Period:       set.Period,
		CompleteDate: set.CompleteDate,
		DataValues:   wireValues(set.DataValues),
	}

	s.logger.Info("pushing data value set to DHIS2",
		zap.String("base_url", c.cfg.BaseURL),
		zap.String("data_set", set.DataSet),
		zap.Int("values", len(body.DataValues)))

	var summary importSummary
	if err := c.post(ctx, "dataValueSets", nil, body, &summary); err != nil {
		return nil, s.fail("push data value set", err, "", "")
	}
	sum := summary.unwrap()

	if strings.EqualFold(sum.Status, "ERROR") {
		items := make([]apperrors.ItemError, 0, len(sum.Conflicts))
		for i, conflict := range sum.Conflicts {
			items = append(items, apperrors.ItemError{Index: i, Field: conflict.Object, Message: conflict.Value})
		}
		if len(items) == 0 {
			msg := sum.Description
			if msg == "" {
				msg = "DHIS2 rejected the data value set"
			}
			items = append(items, apperrors.ItemError{Message: msg})
		}
		return nil, &apperrors.ValidationError{Items: items}
	}

	accepted := sum.ImportCount.Imported + sum.ImportCount.Updated
	return &connector.PushResult{
		Accepted:  accepted,
		Ignored:   sum.ImportCount.Ignored,
		Reference: sum.Reference,
		Message:   fmt.Sprintf("Imported %d data value(s) into DHIS2", accepted),
	}, nil
}

func wireValues(values []connector.DataValue) []wireDataValue {
	out := make([]wireDataValue, 0, len(values))
	for _, dv := range values {
		out = append(out, wireDataValue{DataElement: dv.DataElement, Value: NormalizeValue(dv.Value)})
	}
	return out
}

// GetPrograms lists one page of programs.
func (s *Strategy) GetPrograms(ctx context.Context, raw map[string]any, page connector.Page) (*connector.CatalogPage, error) {
	var list programList
	p, err := s.catalog(ctx, raw, "programs.json", page, &list)
	if err != nil {
		return nil, s.fail("list programs", err, "", "")
	}
	return catalogPage(list.Programs, list.Pager, p), nil
}

// GetDatasets lists one page of data sets.
func (s *Strategy) GetDatasets(ctx context.Context, raw map[string]any, page connector.Page) (*connector.CatalogPage, error) {
	var list dataSetList
	p, err := s.catalog(ctx, raw, "dataSets.json", page, &list)
	if err != nil {
		return nil, s.fail("list data sets", err, "", "")
	}
	return catalogPage(list.DataSets, list.Pager, p), nil
}

func (s *Strategy) catalog(ctx context.Context, raw map[string]any, path string, page connector.Page, out any) (connector.Page, error) {
	page = page.Normalize()
	c, cfg, err := s.client(raw)
	if err != nil {
		return page, err
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.ReadTimeout)
	defer cancel()

	q := url.Values{
		"fields":   {"id,name,displayName"},
		"page":     {strconv.Itoa(page.Page)},
		"pageSize": {strconv.Itoa(page.PageSize)},
		"order":    {"name:asc"},
	}
	return page, c.get(ctx, path, q, out)
}

func catalogPage(objects []namedObject, pg pager, page connector.Page) *connector.CatalogPage {
	items := make([]connector.CatalogItem, 0, len(objects))
	for _, o := range objects {
		items = append(items, connector.CatalogItem{ID: o.ID, Name: o.label()})
	}
	total := pg.Total
	if total == 0 {
		total = len(items)
	}
	return &connector.CatalogPage{Items: items, Page: page.Page, PageSize: page.PageSize, Total: total}
}

// GetOrgUnits lists the organisation units a program or data set is assigned
// to, each with its parent when it has one.
func (s *Strategy) GetOrgUnits(ctx context.Context, raw map[string]any, sel models.SchemaSelector) ([]connector.OrgUnit, error) {
	var path, resource string
	switch strings.ToLower(sel.Type) {
	case "program":
		path, resource = "programs/", "Program"
	case "dataset":
		path, resource = "dataSets/", "DataSet"
	default:
		return nil, apperrors.BadRequest("unsupported org unit source %q for DHIS2: expected program or dataSet", sel.Type)
	}
	id := strings.TrimSpace(sel.ID)
	if id == "" {
		return nil, apperrors.BadRequest("a %s id is required", sel.Type)
	}

	c, cfg, err := s.client(raw)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.ReadTimeout)
	defer cancel()

	var assigned assignedOrgUnits
	if err := c.get(ctx, path+url.PathEscape(id)+".json", url.Values{"fields": {orgUnitFields}}, &assigned); err != nil {
		return nil, s.fail("list organisation units", err, resource, id)
	}

	out := make([]connector.OrgUnit, 0, len(assigned.OrganisationUnits))
	for _, ou := range assigned.OrganisationUnits {
		unit := connector.OrgUnit{ID: ou.ID, Name: ou.label()}
		if ou.Parent != nil && ou.Parent.ID != "" {
			unit.Parent = &connector.OrgUnitRef{ID: ou.Parent.ID, Name: ou.Parent.label()}
		}
		out = append(out, unit)
	}
	return out, nil
}

func (s *Strategy) fail(op string, err error, resource, id string) error {
	mapped := s.translate(err, resource, id)
	s.logger.Warn("DHIS2 call failed",
		zap.String("operation", op),
		logging.SafeError(err))
	return mapped
}

// translate converts transport and HTTP failures into application errors.
// Configuration errors pass through unchanged.
func (s *Strategy) translate(err error, resource, id string) error {
	if errors.Is(err, apperrors.ErrBadRequest) {
		return err
	}

	var se *statusError
	if errors.As(err, &se) {
		switch {
		case se.Status == http.StatusUnauthorized:
			return apperrors.Connectivity(apperrors.CategoryAuth, "Invalid credentials for DHIS2", nil)
		case se.Status == http.StatusForbidden:
			return apperrors.Connectivity(apperrors.CategoryAuth, "You do not have permission to access DHIS2", nil)
		case se.Status == http.StatusNotFound && resource != "":
			return apperrors.NotFound(resource, id)
		case se.Status == http.StatusNotFound:
			return apperrors.Connectivity(apperrors.CategoryRemote, "Endpoint not found, please verify the DHIS2 URL", nil)
		case se.Status == http.StatusBadRequest || se.Status == http.StatusConflict || se.Status == http.StatusUnprocessableEntity:
			msg := se.remoteMessage()
			if msg == "" {
				msg = fmt.Sprintf("DHIS2 rejected the request (status %d)", se.Status)
			}
			return apperrors.Validation(msg)
		}
		return apperrors.Connectivity(apperrors.CategoryRemote, fmt.Sprintf("DHIS2 returned status %d", se.Status), nil)
	}

	if errors.Is(err, errBadResponse) {
		return apperrors.Connectivity(apperrors.CategoryRemote, "Connected to server, but it does not appear to be a valid DHIS2 instance", nil)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Connectivity(apperrors.CategoryTimeout, "Timed out while reaching DHIS2", context.DeadlineExceeded)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperrors.Connectivity(apperrors.CategoryTimeout, "Timed out while reaching DHIS2", context.DeadlineExceeded)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return apperrors.Connectivity(apperrors.CategoryUnreachable, "DHIS2 server is unreachable", nil)
}
