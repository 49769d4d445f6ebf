package dhis2

import "strings"

// Wire types for the DHIS2 Web API. Only the fields the connector reads are declared.

type dataElement struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	ValueType   string `json:"valueType"`
}

type programSchema struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ProgramStages []struct {
		ID                       string `json:"id"`
		DisplayName              string `json:"displayName"`
		ProgramStageDataElements []struct {
			DataElement dataElement `json:"dataElement"`
		} `json:"programStageDataElements"`
	} `json:"programStages"`
}

type dataSetSchema struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	DataSetElements []struct {
		DataElement dataElement `json:"dataElement"`
	} `json:"dataSetElements"`
}

type me struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type pager struct {
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
	Total    int `json:"total"`
}

type namedObject struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

func (o namedObject) label() string {
	if o.DisplayName != "" {
		return o.DisplayName
	}
	return o.Name
}

type programList struct {
	Pager    pager         `json:"pager"`
	Programs []namedObject `json:"programs"`
}

type dataSetList struct {
	Pager    pager         `json:"pager"`
	DataSets []namedObject `json:"dataSets"`
}

const orgUnitFields = "id,displayName,organisationUnits[id,displayName,parent[id,displayName]]"

// assignedOrgUnits is a program or data set reduced to its organisation
// units.
type assignedOrgUnits struct {
	OrganisationUnits []struct {
		namedObject
		Parent *namedObject `json:"parent"`
	} `json:"organisationUnits"`
}

type wireDataValue struct {
	DataElement string `json:"dataElement"`
	Value       string `json:"value"`
}

type wireEvent struct {
	Program      string          `json:"program"`
	ProgramStage string          `json:"programStage,omitempty"`
	OrgUnit      string          `json:"orgUnit"`
	OccurredAt   string          `json:"occurredAt"`
	Status       string          `json:"status"`
	DataValues   []wireDataValue `json:"dataValues"`
}

type wireDataValueSet struct {
	DataSet      string          `json:"dataSet"`
	OrgUnit      string          `json:"orgUnit"`
	Period       string          `json:"period"`
	CompleteDate string          `json:"completeDate,omitempty"`
	DataValues   []wireDataValue `json:"dataValues"`
}

// trackerReport is the synchronous response of POST /api/tracker.
// Older servers wrap it in "response".
type trackerReport struct {
	Status           string `json:"status"`
	ValidationReport struct {
		ErrorReports []struct {
			Message   string `json:"message"`
			ErrorCode string `json:"errorCode"`
			UID       string `json:"uid"`
		} `json:"errorReports"`
	} `json:"validationReport"`
	Stats struct {
		Created int `json:"created"`
		Updated int `json:"updated"`
		Ignored int `json:"ignored"`
		Total   int `json:"total"`
	} `json:"stats"`
	Response *trackerReport `json:"response,omitempty"`
}

func (r *trackerReport) unwrap() *trackerReport {
	if r.Response != nil {
		return r.Response
	}
	return r
}

// importSummary is the response of POST /api/dataValueSets. From 2.38 the
// summary is nested in "response" under a web message envelope.
type importSummary struct {
	Status      string `json:"status"`
	Description string `json:"description"`
	ImportCount struct {
		Imported int `json:"imported"`
		Updated  int `json:"updated"`
		Ignored  int `json:"ignored"`
		Deleted  int `json:"deleted"`
	} `json:"importCount"`
	Conflicts []struct {
		Object string `json:"object"`
		Value  string `json:"value"`
	} `json:"conflicts"`
	Reference string         `json:"reference"`
	Response  *importSummary `json:"response,omitempty"`
}

func (s *importSummary) unwrap() *importSummary {
	if s.Response != nil {
		return s.Response
	}
	return s
}

// normalizeValueType folds the DHIS2 value types onto the shared set.
func normalizeValueType(vt string) string {
	switch strings.ToUpper(vt) {
	case "NUMBER", "PERCENTAGE", "UNIT_INTERVAL":
		return "NUMBER"
	case "INTEGER", "INTEGER_POSITIVE", "INTEGER_NEGATIVE", "INTEGER_ZERO_OR_POSITIVE":
		return "INTEGER"
	case "BOOLEAN", "TRUE_ONLY":
		return "BOOLEAN"
	case "DATE", "AGE":
		return "DATE"
	case "DATETIME":
		return "DATETIME"
	}
	return "TEXT"
}
