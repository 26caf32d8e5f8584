package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/featurestore/featurestore-go-sdk/api"
	"github.com/featurestore/featurestore-go-sdk/constants"
	"github.com/featurestore/featurestore-go-sdk/dao"
)

type BaseFeatureView struct {
	*api.FeatureView
	Project         *Project
	FeatureEntities []*FeatureEntity

	joinKeys     []string
	featureIndex map[string]int
	fieldTypeMap map[string]constants.FSType

	onlineDao dao.OnlineFeatureViewDao
}

func NewBaseFeatureView(view *api.FeatureView, p *Project, entities []*FeatureEntity) (*BaseFeatureView, error) {
	featureView := &BaseFeatureView{
		FeatureView:     view,
		Project:         p,
		FeatureEntities: entities,
		featureIndex:    make(map[string]int, len(view.Features)),
		fieldTypeMap:    make(map[string]constants.FSType, len(view.Features)+len(entities)),
	}
	for _, entity := range entities {
		joinKey := entity.GetJoinKey()
		featureView.joinKeys = append(featureView.joinKeys, joinKey)
		featureView.fieldTypeMap[joinKey] = entity.ValueType
	}
	for i, field := range view.Features {
		featureView.featureIndex[field.Name] = i
		featureView.fieldTypeMap[field.Name] = field.Type
	}

	if p.OnlineStore.Type != "" {
		daoConfig := featureView.daoConfig(view.FeatureNames())
		daoConfig.DatasourceType = p.OnlineStore.Type
		daoConfig.DatasourceName = p.OnlineStore.Name
		daoConfig.OnlineTableName = p.GetTableName(featureView)
		onlineDao, err := dao.NewOnlineFeatureViewDao(daoConfig)
		if err != nil {
			return nil, fmt.Errorf("feature view %s: %w", view.Name, err)
		}
		featureView.onlineDao = onlineDao
	}

	return featureView, nil
}

func (f *BaseFeatureView) daoConfig(fields []string) dao.DaoConfig {
	return dao.DaoConfig{
		FeatureViewName:  f.Name,
		JoinKeys:         f.joinKeys,
		Fields:           fields,
		FieldTypeMap:     f.fieldTypeMap,
		EventTimeField:   f.Source.EventTimestampColumn,
		CreatedTimeField: f.Source.CreatedTimestampColumn,
		OrdinalField:     f.Source.OrdinalColumn,
		TTL:              f.Ttl,
		TableName:        f.Source.Table,
		Query:            f.Source.Query,
	}
}

func (f *BaseFeatureView) OfflineDaoConfig(fields []string) dao.DaoConfig {
	config := f.daoConfig(fields)
	config.DatasourceType = f.Project.OfflineStore.Type
	config.DatasourceName = f.Project.OfflineStore.Name
	return config
}

func (f *BaseFeatureView) ScanRecords(ctx context.Context, fields []string, start, end time.Time) ([]*dao.Record, error) {
	offlineDao, err := dao.NewOfflineFeatureViewDao(f.OfflineDaoConfig(fields))
	if err != nil {
		return nil, fmt.Errorf("feature view %s: %w", f.Name, err)
	}
	return offlineDao.ScanRecords(ctx, start, end)
}

func (f *BaseFeatureView) GetOnlineFeatures(ctx context.Context, keys [][]interface{}, features []string, now time.Time) ([][]interface{}, []FieldStatus, error) {
	if f.onlineDao == nil {
		return nil, nil, &api.OnlineStoreUnavailableError{Store: "none", Op: "read", Cause: fmt.Errorf("project %s has no online store", f.Project.Name)}
	}

	selectIdx := make([]int, len(features))
	for i, featureName := range features {
		idx, ok := f.featureIndex[featureName]
		if !ok {
			return nil, nil, &api.FeatureNotFoundError{Ref: f.Name + constants.Feature_Ref_Separator + featureName,
				Reason: "feature name not found in the featureview fields"}
		}
		selectIdx[i] = idx
	}

	entries, err := f.onlineDao.GetFeatures(ctx, keys)
	if err != nil {
		return nil, nil, err
	}

	values := make([][]interface{}, len(keys))
	statuses := make([]FieldStatus, len(keys))
	for i, entry := range entries {
		row := make([]interface{}, len(features))
		values[i] = row
		switch {
		case entry == nil:
			statuses[i] = FieldStatusNotFound
			continue
		case f.HasTTL() && now.Sub(entry.EventTime) > f.Ttl:
			statuses[i] = FieldStatusOutsideMaxAge
			continue
		}
		statuses[i] = FieldStatusPresent
		for j, idx := range selectIdx {
			if idx < len(entry.Values) {
				row[j] = entry.Values[idx]
			}
		}
	}
	return values, statuses, nil
}

func (f *BaseFeatureView) WriteOnlineFeatures(ctx context.Context, entries []*dao.OnlineEntry) []error {
	if f.onlineDao == nil {
		errs := make([]error, len(entries))
		for i := range errs {
			errs[i] = &api.OnlineStoreUnavailableError{Store: "none", Op: "write", Cause: fmt.Errorf("project %s has no online store", f.Project.Name)}
		}
		return errs
	}
	return f.onlineDao.WriteFeatures(ctx, entries)
}

func (f *BaseFeatureView) GetName() string {
	return f.Name
}

func (f *BaseFeatureView) GetFeatureEntityNames() []string {
	return f.Entities
}

func (f *BaseFeatureView) GetJoinKeys() []string {
	return f.joinKeys
}

func (f *BaseFeatureView) GetFields() []*api.Feature {
	return f.Features
}

func (f *BaseFeatureView) GetFeature(name string) (*api.Feature, bool) {
	return f.FeatureView.GetFeature(name)
}

func (f *BaseFeatureView) GetTTL() time.Duration {
	return f.Ttl
}

func (f *BaseFeatureView) IsOnline() bool {
	return f.Online
}
