package domain

import (
	"context"
	"time"

	"github.com/featurestore/featurestore-go-sdk/api"
	"golang.org/x/sync/errgroup"
)

// OnlineResponse holds one value and one status per entity row for every
// output column. Join key columns come first, then features in request order.
type OnlineResponse struct {
	columns  []string
	values   map[string][]interface{}
	statuses map[string][]FieldStatus
	rowCount int
}

func (r *OnlineResponse) ColumnNames() []string {
	return append([]string(nil), r.columns...)
}

// ToDict returns column name to values, one per entity row in input order.
func (r *OnlineResponse) ToDict() map[string][]interface{} {
	dict := make(map[string][]interface{}, len(r.columns))
	for _, c := range r.columns {
		dict[c] = append([]interface{}(nil), r.values[c]...)
	}
	return dict
}

func (r *OnlineResponse) Statuses() map[string][]FieldStatus {
	statuses := make(map[string][]FieldStatus, len(r.columns))
	for _, c := range r.columns {
		statuses[c] = append([]FieldStatus(nil), r.statuses[c]...)
	}
	return statuses
}

func (r *OnlineResponse) Rows() []map[string]interface{} {
	rows := make([]map[string]interface{}, r.rowCount)
	for i := range rows {
		row := make(map[string]interface{}, len(r.columns))
		for _, c := range r.columns {
			row[c] = r.values[c][i]
		}
		rows[i] = row
	}
	return rows
}

// GetOnlineFeatures serves the requested features for every entity row.
// Entity rows name their keys by join key or by entity name and also carry
// request fields of on demand views. Absent and expired values are nulls.
func GetOnlineFeatures(ctx context.Context, p *Project, refs []api.FeatureRef, entityRows []map[string]interface{}, fullNames bool, now time.Time) (*OnlineResponse, error) {
	return getOnlineFeatures(ctx, p, refs, entityRows, fullNames, now, nil)
}

func getOnlineFeatures(ctx context.Context, p *Project, refs []api.FeatureRef, entityRows []map[string]interface{}, fullNames bool, now time.Time, aliases map[string]string) (*OnlineResponse, error) {
	plan, err := resolveFeatures(p, refs, fullNames, aliases)
	if err != nil {
		return nil, err
	}
	if err := checkReservedNames(plan, plan.joinKeys); err != nil {
		return nil, err
	}

	entityNames := make(map[string][]string)
	for _, r := range plan.views {
		for _, name := range r.view.GetFeatureEntityNames() {
			if entity := p.GetFeatureEntity(name); entity != nil {
				entityNames[entity.GetJoinKey()] = append(entityNames[entity.GetJoinKey()], name)
			}
		}
	}
	keyColumns := make(map[string][]interface{}, len(plan.joinKeys))
	var missing []string
	for _, k := range plan.joinKeys {
		column := make([]interface{}, len(entityRows))
		for i, row := range entityRows {
			v, ok := lookupKey(row, k, entityNames[k])
			if !ok {
				missing = append(missing, k)
				break
			}
			column[i] = v
		}
		keyColumns[k] = column
	}
	if len(missing) > 0 {
		return nil, &api.SchemaMismatchError{Table: "entity rows", Missing: missing}
	}

	type viewResult struct {
		values   [][]interface{}
		statuses []FieldStatus
	}
	results := make([]viewResult, len(plan.views))
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range plan.views {
		i, r := i, r
		g.Go(func() error {
			keys := make([][]interface{}, len(entityRows))
			for row := range entityRows {
				key := make([]interface{}, 0, len(r.view.GetJoinKeys()))
				for _, k := range r.view.GetJoinKeys() {
					key = append(key, keyColumns[k][row])
				}
				keys[row] = key
			}
			values, statuses, err := r.view.GetOnlineFeatures(gctx, keys, r.features, now)
			if err != nil {
				return err
			}
			results[i] = viewResult{values: values, statuses: statuses}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// internal column name to values and statuses
	values := make(map[string][]interface{})
	statuses := make(map[string][]FieldStatus)
	for i, r := range plan.views {
		for k, name := range r.internalNames() {
			column := make([]interface{}, len(entityRows))
			status := make([]FieldStatus, len(entityRows))
			for row := range entityRows {
				column[row] = results[i].values[row][k]
				status[row] = results[i].statuses[row]
			}
			values[name] = column
			statuses[name] = status
		}
	}

	for _, r := range plan.onDemands {
		for _, f := range r.features {
			values[f] = make([]interface{}, len(entityRows))
			statuses[f] = make([]FieldStatus, len(entityRows))
		}
		for row, entityRow := range entityRows {
			sourceValues := make(map[string]interface{})
			for _, source := range r.view.Sources() {
				for _, f := range source.GetFields() {
					name := fullFeatureName(source.GetName(), f.Name)
					if column, ok := values[name]; ok {
						sourceValues[name] = column[row]
					}
				}
			}
			inputs, err := r.view.BuildInputs(sourceValues, entityRow)
			if err != nil {
				return nil, err
			}
			outputs, err := r.view.Apply(inputs)
			if err != nil {
				return nil, err
			}
			for _, f := range r.features {
				values[f][row] = outputs[f]
				if outputs[f] == nil {
					statuses[f][row] = FieldStatusNotFound
				}
			}
		}
	}

	response := &OnlineResponse{
		values:   make(map[string][]interface{}),
		statuses: make(map[string][]FieldStatus),
		rowCount: len(entityRows),
	}
	for _, k := range plan.joinKeys {
		response.columns = append(response.columns, k)
		response.values[k] = keyColumns[k]
		response.statuses[k] = make([]FieldStatus, len(entityRows))
	}
	for _, c := range plan.columns {
		response.columns = append(response.columns, c.name)
		response.values[c.name] = values[c.internalName()]
		response.statuses[c.name] = statuses[c.internalName()]
	}
	return response, nil
}

func lookupKey(row map[string]interface{}, joinKey string, entityNames []string) (interface{}, bool) {
	if v, ok := row[joinKey]; ok {
		return v, true
	}
	for _, name := range entityNames {
		if v, ok := row[name]; ok {
			return v, true
		}
	}
	return nil, false
}
