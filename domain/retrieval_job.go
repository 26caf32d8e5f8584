package domain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/featurestore/featurestore-go-sdk/api"
	"github.com/featurestore/featurestore-go-sdk/constants"
	"github.com/featurestore/featurestore-go-sdk/dao"
	"golang.org/x/sync/errgroup"
)

// RetrievalJob is a lazy handle over a historical retrieval. Nothing runs
// until the first ToTable call; the first successful result is kept and
// returned by every later call. Failed runs are not remembered.
type RetrievalJob struct {
	project  *Project
	source   EntitySource
	plan     *featurePlan
	strategy string

	mu     sync.Mutex
	result *api.Table
}

type RetrievalMetadata struct {
	Features          []string
	FullFeatureNames  bool
	Strategy          string
	MinEventTimestamp time.Time
	MaxEventTimestamp time.Time
}

// GetHistoricalFeatures resolves the request and returns a job. strategy is
// constants.Retrieval_Strategy_Memory, constants.Retrieval_Strategy_Pushdown
// or empty to pick pushdown whenever the offline store supports it.
func GetHistoricalFeatures(p *Project, source EntitySource, refs []api.FeatureRef, fullNames bool, strategy string) (*RetrievalJob, error) {
	return getHistoricalFeatures(p, source, refs, fullNames, strategy, nil)
}

func getHistoricalFeatures(p *Project, source EntitySource, refs []api.FeatureRef, fullNames bool, strategy string, aliases map[string]string) (*RetrievalJob, error) {
	if err := source.validate(); err != nil {
		return nil, err
	}
	switch strategy {
	case "":
		strategy = constants.Retrieval_Strategy_Memory
		if p.SupportsPushdown() {
			strategy = constants.Retrieval_Strategy_Pushdown
		}
	case constants.Retrieval_Strategy_Memory:
	case constants.Retrieval_Strategy_Pushdown:
		if !p.SupportsPushdown() {
			return nil, fmt.Errorf("offline store %s does not support pushdown", p.OfflineStore.Type)
		}
	default:
		return nil, fmt.Errorf("unknown retrieval strategy %s", strategy)
	}
	if source.Query != "" && !p.SupportsPushdown() {
		return nil, fmt.Errorf("offline store %s cannot run entity queries", p.OfflineStore.Type)
	}

	plan, err := resolveFeatures(p, refs, fullNames, aliases)
	if err != nil {
		return nil, err
	}
	if source.Table != nil {
		if err := checkSchema(source.Table.Schema(), source.GetTimestampField(), plan); err != nil {
			return nil, err
		}
		if err := checkReservedNames(plan, source.Table.Schema().Names()); err != nil {
			return nil, err
		}
	}

	return &RetrievalJob{
		project:  p,
		source:   source,
		plan:     plan,
		strategy: strategy,
	}, nil
}

func (j *RetrievalJob) Strategy() string {
	return j.strategy
}

// ToTable runs the retrieval and returns the canonical table: join keys,
// entity timestamp, other entity columns, requested features in request
// order, then on demand features. Rows are sorted by join keys and timestamp.
// Every call returns a separate copy of the result.
func (j *RetrievalJob) ToTable(ctx context.Context) (*api.Table, error) {
	table, err := j.run(ctx)
	if err != nil {
		return nil, err
	}
	return table.Copy(), nil
}

// run executes the job once and caches a successful result.
func (j *RetrievalJob) run(ctx context.Context) (*api.Table, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.result != nil {
		return j.result, nil
	}
	result, err := j.execute(ctx)
	if err != nil {
		return nil, err
	}
	j.result = result
	return result, nil
}

// ToRecords returns the rows of ToTable as column name to value maps.
func (j *RetrievalJob) ToRecords(ctx context.Context) ([]map[string]interface{}, error) {
	table, err := j.run(ctx)
	if err != nil {
		return nil, err
	}
	return table.Records(), nil
}

func (j *RetrievalJob) Metadata(ctx context.Context) (*RetrievalMetadata, error) {
	table, err := j.run(ctx)
	if err != nil {
		return nil, err
	}
	meta := &RetrievalMetadata{
		FullFeatureNames: j.plan.fullNames,
		Strategy:         j.strategy,
	}
	for _, ref := range j.plan.refs {
		meta.Features = append(meta.Features, ref.String())
	}
	meta.MinEventTimestamp, meta.MaxEventTimestamp, _ = timeRange(table, j.source.GetTimestampField())
	return meta, nil
}

func (j *RetrievalJob) execute(ctx context.Context) (*api.Table, error) {
	tsField := j.source.GetTimestampField()

	var pushdown dao.PushdownDao
	if j.strategy == constants.Retrieval_Strategy_Pushdown || j.source.Query != "" {
		var err error
		if pushdown, err = dao.NewPushdownDao(j.project.OfflineStore.Type, j.project.OfflineStore.Name); err != nil {
			return nil, err
		}
	}

	var spine *api.Table
	var spineSchema *api.Schema
	if j.source.Table != nil {
		var err error
		if spine, err = normalizeTable(j.source.Table, tsField); err != nil {
			return nil, err
		}
		spineSchema = spine.Schema()
	} else {
		var err error
		if spineSchema, err = pushdown.DescribeQuery(ctx, j.source.Query, tsField); err != nil {
			return nil, err
		}
		if err := checkSchema(spineSchema, tsField, j.plan); err != nil {
			return nil, err
		}
		if err := checkReservedNames(j.plan, spineSchema.Names()); err != nil {
			return nil, err
		}
	}

	var joined *api.Table
	var err error
	switch j.strategy {
	case constants.Retrieval_Strategy_Pushdown:
		plans := make([]*dao.JoinPlan, 0, len(j.plan.views))
		for _, r := range j.plan.views {
			plans = append(plans, &dao.JoinPlan{
				Config:      r.view.OfflineDaoConfig(r.features),
				OutputNames: r.internalNames(),
			})
		}
		source := dao.SpineSource{Table: spine, Query: j.source.Query, TimestampField: tsField}
		joined, err = pushdown.AsofJoin(ctx, source, spineSchema, plans)
	default:
		if spine == nil {
			if spine, err = pushdown.ReadQuery(ctx, j.source.Query, tsField); err != nil {
				return nil, err
			}
		}
		joined, err = j.joinInMemory(ctx, spine, tsField)
	}
	if err != nil {
		return nil, err
	}

	if joined, err = applyOnDemandToTable(joined, j.plan); err != nil {
		return nil, err
	}
	return canonicalize(joined, spineSchema, tsField, j.plan)
}

// joinInMemory scans every view over the spine's time range and joins it,
// one goroutine per view.
func (j *RetrievalJob) joinInMemory(ctx context.Context, spine *api.Table, tsField string) (*api.Table, error) {
	minTs, maxTs, hasRows := timeRange(spine, tsField)
	results := make([][][]interface{}, len(j.plan.views))

	g, gctx := errgroup.WithContext(ctx)
	for i, r := range j.plan.views {
		i, r := i, r
		g.Go(func() error {
			if !hasRows {
				results[i] = make([][]interface{}, len(r.features))
				for k := range results[i] {
					results[i][k] = make([]interface{}, spine.NumRows())
				}
				return nil
			}
			var start time.Time
			if ttl := r.view.GetTTL(); ttl > 0 {
				start = minTs.Add(-ttl)
			}
			records, err := r.view.ScanRecords(gctx, r.features, start, maxTs)
			if err != nil {
				return err
			}
			columns, err := pointInTimeJoin(gctx, spine, tsField, r.view, len(r.features), records)
			if err != nil {
				return err
			}
			results[i] = columns
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var columns []api.Column
	var values [][]interface{}
	for i, r := range j.plan.views {
		for k, f := range r.features {
			feature, _ := r.view.GetFeature(f)
			columns = append(columns, api.Column{Name: fullFeatureName(r.view.GetName(), f), Type: feature.Type})
			values = append(values, results[i][k])
		}
	}
	return spine.WithColumns(columns, values)
}

// applyOnDemandToTable appends the requested on demand features, computed
// row by row from the joined source features and entity columns.
func applyOnDemandToTable(table *api.Table, plan *featurePlan) (*api.Table, error) {
	if len(plan.onDemands) == 0 {
		return table, nil
	}
	schema := table.Schema()
	var columns []api.Column
	var values [][]interface{}
	for _, r := range plan.onDemands {
		outputs := make([][]interface{}, len(r.features))
		for k := range outputs {
			outputs[k] = make([]interface{}, table.NumRows())
		}
		for row := 0; row < table.NumRows(); row++ {
			rowValues := table.Row(row)
			sourceValues := make(map[string]interface{})
			for _, source := range r.view.Sources() {
				for _, f := range source.GetFields() {
					name := fullFeatureName(source.GetName(), f.Name)
					if idx := schema.Index(name); idx >= 0 {
						sourceValues[name] = rowValues[idx]
					}
				}
			}
			request := make(map[string]interface{})
			for _, f := range r.view.RequestFields() {
				if idx := schema.Index(f.Name); idx >= 0 {
					request[f.Name] = rowValues[idx]
				}
			}
			inputs, err := r.view.BuildInputs(sourceValues, request)
			if err != nil {
				return nil, err
			}
			result, err := r.view.Apply(inputs)
			if err != nil {
				return nil, err
			}
			for k, f := range r.features {
				outputs[k][row] = result[f]
			}
		}
		for k, f := range r.features {
			feature, _ := r.view.GetFeature(f)
			columns = append(columns, api.Column{Name: f, Type: feature.Type})
			values = append(values, outputs[k])
		}
	}
	return table.WithColumns(columns, values)
}

// canonicalize selects and renames the output columns and sorts the rows.
func canonicalize(table *api.Table, spineSchema *api.Schema, tsField string, plan *featurePlan) (*api.Table, error) {
	isKey := make(map[string]bool, len(plan.joinKeys))
	for _, k := range plan.joinKeys {
		isKey[k] = true
	}
	var keys, passthrough []string
	for _, name := range spineSchema.Names() {
		switch {
		case isKey[name]:
			keys = append(keys, name)
		case name != tsField:
			passthrough = append(passthrough, name)
		}
	}

	selected := append(append(append([]string(nil), keys...), tsField), passthrough...)
	names := append([]string(nil), selected...)
	for _, c := range plan.columns {
		selected = append(selected, c.internalName())
		names = append(names, c.name)
	}

	out, err := table.Select(selected...)
	if err != nil {
		return nil, err
	}
	if out, err = out.Rename(names...); err != nil {
		return nil, err
	}
	out.SortBy(append(keys, tsField)...)
	return out, nil
}
