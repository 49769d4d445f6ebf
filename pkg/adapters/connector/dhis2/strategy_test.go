package dhis2_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/healthsync/connector-engine/pkg/adapters/connector"
	"github.com/healthsync/connector-engine/pkg/adapters/connector/dhis2"
	"github.com/healthsync/connector-engine/pkg/apperrors"
	"github.com/healthsync/connector-engine/pkg/models"
)

const testToken = "d2pat_test"

// fakeDHIS2 serves canned Web API responses and records the last request body.
type fakeDHIS2 struct {
	t        *testing.T
	server   *httptest.Server
	mux      *http.ServeMux
	lastBody []byte
}

func newFakeDHIS2(t *testing.T) *fakeDHIS2 {
	t.Helper()
	f := &fakeDHIS2{t: t, mux: http.NewServeMux()}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "ApiToken "+testToken {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"httpStatus":"Unauthorized","httpStatusCode":401,"status":"ERROR"}`))
			return
		}
		if r.Body != nil {
			f.lastBody, _ = io.ReadAll(r.Body)
		}
		f.mux.ServeHTTP(w, r)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeDHIS2) json(pattern string, status int, body string) {
	f.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
}

func (f *fakeDHIS2) config() map[string]any {
	return map[string]any{"baseUrl": f.server.URL + "/api/", "token": testToken}
}

func newStrategy(t *testing.T) *dhis2.Strategy {
	return dhis2.New(connector.Deps{Timeouts: connector.DefaultTimeouts, Logger: zaptest.NewLogger(t)})
}

func TestTestConnection_Success(t *testing.T) {
	f := newFakeDHIS2(t)
	f.json("GET /api/me", http.StatusOK, `{"id":"xE7jOejl9FI","username":"admin"}`)

	result := newStrategy(t).TestConnection(context.Background(), f.config())
	assert.True(t, result.Success, result.Message)
	assert.Equal(t, "Connected to DHIS2 as admin", result.Message)
	assert.False(t, result.TestedAt.IsZero())
}

func TestTestConnection_Failures(t *testing.T) {
	t.Run("bad token", func(t *testing.T) {
		f := newFakeDHIS2(t)
		cfg := f.config()
		cfg["token"] = "wrong"

		result := newStrategy(t).TestConnection(context.Background(), cfg)
		assert.False(t, result.Success)
		assert.Equal(t, apperrors.CategoryAuth, result.Category)
		assert.Equal(t, "Connection failed: Invalid credentials for DHIS2", result.Message)
	})

	t.Run("not a DHIS2 server", func(t *testing.T) {
		f := newFakeDHIS2(t)
		f.mux.HandleFunc("GET /api/me", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`<html>hello</html>`))
		})

		result := newStrategy(t).TestConnection(context.Background(), f.config())
		assert.False(t, result.Success)
		assert.Equal(t, apperrors.CategoryRemote, result.Category)
	})

	t.Run("unreachable", func(t *testing.T) {
		f := newFakeDHIS2(t)
		cfg := f.config()
		f.server.Close()

		result := newStrategy(t).TestConnection(context.Background(), cfg)
		assert.False(t, result.Success)
		assert.Equal(t, apperrors.CategoryUnreachable, result.Category)
	})

	t.Run("timeout", func(t *testing.T) {
		f := newFakeDHIS2(t)
		f.mux.HandleFunc("GET /api/me", func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		})
		cfg := f.config()
		cfg["connectionTimeout"] = float64(50)

		result := newStrategy(t).TestConnection(context.Background(), cfg)
		assert.False(t, result.Success)
		assert.Equal(t, apperrors.CategoryTimeout, result.Category)
	})

	t.Run("invalid configuration", func(t *testing.T) {
		result := newStrategy(t).TestConnection(context.Background(), map[string]any{"baseUrl": "http://dhis2"})
		assert.False(t, result.Success)
		assert.Equal(t, "configuration", result.Category)
	})
}

func TestTestConnection_BasicAuth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "district" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"id":"u1","username":"admin"}`))
	}))
	defer server.Close()

	result := newStrategy(t).TestConnection(context.Background(), map[string]any{
		"baseUrl": server.URL, "username": "admin", "password": "district",
	})
	assert.True(t, result.Success, result.Message)
}

const programBody = `{
  "id": "IpHINAT79UW",
  "name": "Child Programme",
  "programStages": [
    {"id": "A03MvHHogjR", "displayName": "Birth", "programStageDataElements": [
      {"dataElement": {"id": "a3kGcGDCuk6", "name": "MCH Apgar Score", "displayName": "Apgar Score", "valueType": "NUMBER"}},
      {"dataElement": {"id": "wQLfBvPrXqq", "name": "MCH ARV at birth", "valueType": "TEXT"}}
    ]},
    {"id": "ZzYYXq4fJie", "displayName": "Baby Postnatal", "programStageDataElements": [
      {"dataElement": {"id": "a3kGcGDCuk6", "name": "MCH Apgar Score (again)", "valueType": "INTEGER"}},
      {"dataElement": {"id": "HLmTEmupdX0", "name": "MCH Vit A", "valueType": "BOOLEAN"}}
    ]}
  ]
}`

func TestFetchSchemas_ProgramFlattensStages(t *testing.T) {
	f := newFakeDHIS2(t)
	f.mux.HandleFunc("GET /api/programs/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/programs/IpHINAT79UW.json", r.URL.Path)
		assert.Contains(t, r.URL.Query().Get("fields"), "programStageDataElements")
		_, _ = w.Write([]byte(programBody))
	})

	elements, err := newStrategy(t).FetchSchemas(context.Background(), f.config(), models.SchemaSelector{Type: models.SelectorProgram, ID: "IpHINAT79UW"})
	require.NoError(t, err)
	assert.Equal(t, []models.SchemaElement{
		{ID: "a3kGcGDCuk6", Name: "Apgar Score", ValueType: models.ValueNumber},
		{ID: "wQLfBvPrXqq", Name: "MCH ARV at birth", ValueType: models.ValueText},
		{ID: "HLmTEmupdX0", Name: "MCH Vit A", ValueType: models.ValueBoolean},
	}, elements)
}

func TestFetchSchemas_ProgramWithoutStagesIsEmpty(t *testing.T) {
	f := newFakeDHIS2(t)
	f.json("GET /api/programs/", http.StatusOK, `{"id":"p1","name":"Registry"}`)

	elements, err := newStrategy(t).FetchSchemas(context.Background(), f.config(), models.SchemaSelector{Type: models.SelectorProgram, ID: "p1"})
	require.NoError(t, err)
	assert.NotNil(t, elements)
	assert.Empty(t, elements)
}

func TestFetchSchemas_DataSet(t *testing.T) {
	f := newFakeDHIS2(t)
	f.json("GET /api/dataSets/", http.StatusOK, `{"id":"BfMAe6Itzgt","name":"Child Health","dataSetElements":[
		{"dataElement":{"id":"s46m5MS0hxu","name":"BCG doses given","valueType":"INTEGER_ZERO_OR_POSITIVE"}}]}`)

	for _, selType := range []string{models.SelectorDataSet, "dataset"} {
		elements, err := newStrategy(t).FetchSchemas(context.Background(), f.config(), models.SchemaSelector{Type: selType, ID: "BfMAe6Itzgt"})
		require.NoError(t, err)
		assert.Equal(t, []models.SchemaElement{{ID: "s46m5MS0hxu", Name: "BCG doses given", ValueType: models.ValueInteger}}, elements)
	}
}

func TestFetchSchemas_Errors(t *testing.T) {
	f := newFakeDHIS2(t)
	f.json("GET /api/programs/", http.StatusNotFound, `{"httpStatusCode":404,"message":"Program not found"}`)
	s := newStrategy(t)
	ctx := context.Background()

	_, err := s.FetchSchemas(ctx, f.config(), models.SchemaSelector{Type: models.SelectorProgram, ID: "missing"})
	var nf *apperrors.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "Program", nf.Resource)
	assert.Equal(t, []string{"missing"}, nf.IDs)

	_, err = s.FetchSchemas(ctx, f.config(), models.SchemaSelector{Type: models.SelectorTable, ID: "x"})
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)

	_, err = s.FetchSchemas(ctx, f.config(), models.SchemaSelector{Type: models.SelectorProgram})
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)
}

func TestPushData_Events(t *testing.T) {
	f := newFakeDHIS2(t)
	f.mux.HandleFunc("POST /api/tracker", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "false", r.URL.Query().Get("async"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_, _ = w.Write([]byte(`{"status":"OK","stats":{"created":2,"updated":0,"ignored":0,"total":2}}`))
	})

	payload := &connector.Payload{Events: []connector.Event{
		{Program: "IpHINAT79UW", ProgramStage: "A03MvHHogjR", OrgUnit: "DiszpKrYNg8", OccurredAt: "2024-03-01",
			DataValues: []connector.DataValue{{DataElement: "a3kGcGDCuk6", Value: float64(8)}, {DataElement: "sym", Value: []any{"fever", "cough"}}}},
		{Program: "IpHINAT79UW", ProgramStage: "A03MvHHogjR", OrgUnit: "DiszpKrYNg8", OccurredAt: "2024-03-01", Status: "COMPLETED",
			DataValues: []connector.DataValue{{DataElement: "HLmTEmupdX0", Value: true}}},
	}}

	result, err := newStrategy(t).PushData(context.Background(), f.config(), payload)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Accepted)

	var sent struct {
		Events []map[string]any `json:"events"`
	}
	require.NoError(t, json.Unmarshal(f.lastBody, &sent))
	require.Len(t, sent.Events, 2)
	assert.Equal(t, "ACTIVE", sent.Events[0]["status"])
	assert.Equal(t, "COMPLETED", sent.Events[1]["status"])
	assert.Equal(t, []any{
		map[string]any{"dataElement": "a3kGcGDCuk6", "value": "8"},
		map[string]any{"dataElement": "sym", "value": "fever, cough"},
	}, sent.Events[0]["dataValues"])
	assert.Equal(t, []any{map[string]any{"dataElement": "HLmTEmupdX0", "value": "true"}}, sent.Events[1]["dataValues"])
}

func TestPushData_EventsRejected(t *testing.T) {
	f := newFakeDHIS2(t)
	f.json("POST /api/tracker", http.StatusConflict, `{"status":"ERROR","validationReport":{"errorReports":[
		{"message":"Event: ev1, Program: IpHINAT79UW is not assigned to orgUnit","errorCode":"E1029","uid":"ev1"},
		{"message":"Value 'x' is not a valid number","errorCode":"E1302","uid":"ev2"}]},
		"stats":{"created":0,"ignored":2,"total":2}}`)

	payload := &connector.Payload{Events: []connector.Event{{Program: "IpHINAT79UW", OrgUnit: "ou"}}}
	_, err := newStrategy(t).PushData(context.Background(), f.config(), payload)

	var ve *apperrors.ValidationError
	require.True(t, errors.As(err, &ve))
	require.Len(t, ve.Items, 2)
	assert.Equal(t, "ev1", ve.Items[0].Field)
	assert.Contains(t, ve.Items[1].Message, "not a valid number")
}

func TestPushData_DataValueSet(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"wrapped summary", `{"httpStatus":"OK","status":"OK","response":{"status":"SUCCESS","importCount":{"imported":2,"updated":1,"ignored":0}}}`},
		{"flat summary", `{"status":"SUCCESS","importCount":{"imported":2,"updated":1,"ignored":0}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeDHIS2(t)
			f.json("POST /api/dataValueSets", http.StatusOK, tt.body)

			payload := &connector.Payload{DataValueSet: &connector.DataValueSet{
				DataSet: "BfMAe6Itzgt", OrgUnit: "DiszpKrYNg8", Period: "202403", CompleteDate: "2024-03-31",
				DataValues: []connector.DataValue{{DataElement: "s46m5MS0hxu", Value: float64(12)}},
			}}
			result, err := newStrategy(t).PushData(context.Background(), f.config(), payload)
			require.NoError(t, err)
			assert.Equal(t, 3, result.Accepted)

			var sent map[string]any
			require.NoError(t, json.Unmarshal(f.lastBody, &sent))
			assert.Equal(t, "202403", sent["period"])
			assert.Equal(t, "2024-03-31", sent["completeDate"])
		})
	}
}

func TestPushData_DataValueSetConflicts(t *testing.T) {
	f := newFakeDHIS2(t)
	f.json("POST /api/dataValueSets", http.StatusConflict, `{"httpStatus":"Conflict","status":"WARNING","response":{
		"status":"ERROR","importCount":{"imported":0,"ignored":1},
		"conflicts":[{"object":"s46m5MS0hxu","value":"Data element not found or not accessible"}]}}`)

	payload := &connector.Payload{DataValueSet: &connector.DataValueSet{DataSet: "ds", OrgUnit: "ou", Period: "202403",
		DataValues: []connector.DataValue{{DataElement: "s46m5MS0hxu", Value: "1"}}}}
	_, err := newStrategy(t).PushData(context.Background(), f.config(), payload)

	assert.ErrorIs(t, err, apperrors.ErrValidation)
	assert.Contains(t, err.Error(), "Data element not found")
}

func TestPushData_RejectsUnknownPayload(t *testing.T) {
	f := newFakeDHIS2(t)
	s := newStrategy(t)

	_, err := s.PushData(context.Background(), f.config(), &connector.Payload{Table: &connector.TableRows{Table: "x"}})
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)

	_, err = s.PushData(context.Background(), f.config(), &connector.Payload{DataValueSet: &connector.DataValueSet{DataSet: "ds"}})
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)
}

func TestPushData_ServerErrorIsRetryable(t *testing.T) {
	f := newFakeDHIS2(t)
	f.json("POST /api/tracker", http.StatusBadGateway, `bad gateway`)

	_, err := newStrategy(t).PushData(context.Background(), f.config(), &connector.Payload{Events: []connector.Event{{Program: "p", OrgUnit: "ou"}}})
	var ce *apperrors.ConnectivityError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, apperrors.CategoryRemote, ce.Category)
	assert.True(t, ce.IsRetryable())
}

func TestGetPrograms(t *testing.T) {
	f := newFakeDHIS2(t)
	f.mux.HandleFunc("GET /api/programs.json", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "10", r.URL.Query().Get("pageSize"))
		_, _ = w.Write([]byte(`{"pager":{"page":2,"pageSize":10,"total":14},"programs":[
			{"id":"IpHINAT79UW","name":"Child Programme","displayName":"Child Programme"},
			{"id":"uy2gU8kT1jF","name":"MNCH / PNC"}]}`))
	})

	page, err := newStrategy(t).GetPrograms(context.Background(), f.config(), connector.Page{Page: 2, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 14, page.Total)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, []connector.CatalogItem{{ID: "IpHINAT79UW", Name: "Child Programme"}, {ID: "uy2gU8kT1jF", Name: "MNCH / PNC"}}, page.Items)
}

func TestGetDatasets_DefaultsPaging(t *testing.T) {
	f := newFakeDHIS2(t)
	f.mux.HandleFunc("GET /api/dataSets.json", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("page"))
		assert.Equal(t, "50", r.URL.Query().Get("pageSize"))
		_, _ = w.Write([]byte(`{"dataSets":[{"id":"BfMAe6Itzgt","displayName":"Child Health"}]}`))
	})

	page, err := newStrategy(t).GetDatasets(context.Background(), f.config(), connector.Page{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, "Child Health", page.Items[0].Name)
}

func TestGetOrgUnits(t *testing.T) {
	f := newFakeDHIS2(t)
	f.mux.HandleFunc("GET /api/programs/IpHINAT79UW.json", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "id,displayName,organisationUnits[id,displayName,parent[id,displayName]]", r.URL.Query().Get("fields"))
		_, _ = w.Write([]byte(`{"id":"IpHINAT79UW","displayName":"Child Programme","organisationUnits":[
			{"id":"DiszpKrYNg8","displayName":"Ngelehun CHC","parent":{"id":"BGGmAwx33dj","displayName":"Bumpe NLeh"}},
			{"id":"ImspTQPwCqd","displayName":"Sierra Leone"}]}`))
	})
	f.json("GET /api/dataSets/BfMAe6Itzgt.json", http.StatusOK,
		`{"id":"BfMAe6Itzgt","displayName":"Child Health","organisationUnits":[{"id":"Rp268JB6Ne4","name":"Adonkia CHP","parent":{"id":"qtr8GGlm4gg","name":"Rural Western Area"}}]}`)
	s := newStrategy(t)
	ctx := context.Background()

	units, err := s.GetOrgUnits(ctx, f.config(), models.SchemaSelector{Type: models.SelectorProgram, ID: "IpHINAT79UW"})
	require.NoError(t, err)
	assert.Equal(t, []connector.OrgUnit{
		{ID: "DiszpKrYNg8", Name: "Ngelehun CHC", Parent: &connector.OrgUnitRef{ID: "BGGmAwx33dj", Name: "Bumpe NLeh"}},
		{ID: "ImspTQPwCqd", Name: "Sierra Leone"},
	}, units)

	units, err = s.GetOrgUnits(ctx, f.config(), models.SchemaSelector{Type: "dataset", ID: " BfMAe6Itzgt "})
	require.NoError(t, err)
	assert.Equal(t, []connector.OrgUnit{
		{ID: "Rp268JB6Ne4", Name: "Adonkia CHP", Parent: &connector.OrgUnitRef{ID: "qtr8GGlm4gg", Name: "Rural Western Area"}},
	}, units)
}

func TestGetOrgUnits_Errors(t *testing.T) {
	f := newFakeDHIS2(t)
	f.json("GET /api/dataSets/", http.StatusNotFound, `{"httpStatusCode":404,"message":"DataSet not found"}`)
	f.json("GET /api/programs/empty.json", http.StatusOK, `{"id":"empty","displayName":"No units"}`)
	s := newStrategy(t)
	ctx := context.Background()

	_, err := s.GetOrgUnits(ctx, f.config(), models.SchemaSelector{Type: models.SelectorDataSet, ID: "missing"})
	var nf *apperrors.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "DataSet", nf.Resource)
	assert.Equal(t, []string{"missing"}, nf.IDs)

	units, err := s.GetOrgUnits(ctx, f.config(), models.SchemaSelector{Type: models.SelectorProgram, ID: "empty"})
	require.NoError(t, err)
	assert.Empty(t, units)

	_, err = s.GetOrgUnits(ctx, f.config(), models.SchemaSelector{Type: models.SelectorTable, ID: "visits"})
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)

	_, err = s.GetOrgUnits(ctx, f.config(), models.SchemaSelector{Type: models.SelectorProgram, ID: " "})
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)
}

func TestRegistered(t *testing.T) {
	assert.True(t, connector.IsRegistered(models.ConnectorDHIS2))
}
