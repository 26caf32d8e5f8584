package domain

import (
	"errors"
	"time"

	"github.com/featurestore/featurestore-go-sdk/api"
	"github.com/featurestore/featurestore-go-sdk/constants"
)

// EntitySource is the anchor of a historical retrieval: an in-memory table
// or a query the offline store can run. Either way it carries the entity join
// keys and an event timestamp column.
type EntitySource struct {
	Table          *api.Table
	Query          string
	TimestampField string
}

func NewEntitySourceFromTable(table *api.Table) EntitySource {
	return EntitySource{Table: table, TimestampField: constants.Default_Entity_Timestamp_Field}
}

func NewEntitySourceFromQuery(query string) EntitySource {
	return EntitySource{Query: query, TimestampField: constants.Default_Entity_Timestamp_Field}
}

func (s EntitySource) GetTimestampField() string {
	if s.TimestampField == "" {
		return constants.Default_Entity_Timestamp_Field
	}
	return s.TimestampField
}

func (s EntitySource) validate() error {
	if (s.Table == nil) == (s.Query == "") {
		return errors.New("entity source needs exactly one of a table or a query")
	}
	return nil
}

// checkSchema verifies the entity input carries the join keys, the timestamp
// and the request fields the plan needs.
func checkSchema(schema *api.Schema, tsField string, plan *featurePlan) error {
	var missing []string
	for _, k := range plan.joinKeys {
		if !schema.Has(k) {
			missing = append(missing, k)
		}
	}
	if !schema.Has(tsField) {
		missing = append(missing, tsField)
	}
	if len(missing) > 0 {
		return &api.SchemaMismatchError{Table: "entity input", Missing: missing}
	}
	for _, r := range plan.onDemands {
		for _, f := range r.view.RequestFields() {
			if !schema.Has(f.Name) {
				return &api.OnDemandTransformError{View: r.view.Name, Cause: &api.SchemaMismatchError{Table: "entity input", Missing: []string{f.Name}}}
			}
		}
	}
	return nil
}

// normalizeTable returns the table with its timestamp column typed as a
// timestamp.
func normalizeTable(table *api.Table, tsField string) (*api.Table, error) {
	col, ok := table.Schema().Lookup(tsField)
	if !ok || col.Type == constants.FS_TIMESTAMP {
		return table, nil
	}
	columns := table.Schema().Columns()
	for i := range columns {
		if columns[i].Name == tsField {
			columns[i].Type = constants.FS_TIMESTAMP
		}
	}
	schema, err := api.NewSchema(columns...)
	if err != nil {
		return nil, err
	}
	return api.NewTableFromRecords(schema, table.Records())
}

// timeRange is the smallest and largest timestamp of a column, ignoring nulls.
func timeRange(table *api.Table, tsField string) (min, max time.Time, ok bool) {
	values, err := table.Column(tsField)
	if err != nil {
		return
	}
	for _, v := range values {
		t, isTime := v.(time.Time)
		if !isTime {
			continue
		}
		if !ok || t.Before(min) {
			min = t
		}
		if !ok || t.After(max) {
			max = t
		}
		ok = true
	}
	return
}
