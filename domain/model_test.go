package domain

import (
	"context"
	"errors"
	"testing"

	"fortio.org/assert"
	"github.com/featurestore/featurestore-go-sdk/api"
	"github.com/featurestore/featurestore-go-sdk/constants"
)

func TestModel(t *testing.T) {
	p := materializedProject(t)
	assert.NoError(t, p.RegisterModel(&api.Model{
		Name: "driver_activity",
		Features: []*api.ModelFeature{
			{FeatureViewName: "driver_hourly_stats", Name: "conv_rate", AliasName: "hourly_conv"},
			{FeatureViewName: "driver_daily_stats", Name: "conv_rate", AliasName: "daily_conv"},
			{FeatureViewName: "customer_profile", Name: "current_balance"},
			{Name: "conv_rate_plus_100", AliasName: "boosted"},
		},
	}))
	model := p.GetModel("driver_activity")
	assert.NotEqual(t, nil, model)
	assert.Equal(t, 4, len(model.FeatureRefs()))

	job, err := model.GetHistoricalFeatures(NewEntitySourceFromTable(spineTable(t)), false, "")
	assert.NoError(t, err)
	table, err := job.ToTable(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, []string{
		"driver_id", "customer_id", "event_timestamp", "val_to_add", "order_id",
		"hourly_conv", "daily_conv", "current_balance", "boosted",
	}, table.Schema().Names())
	assert.Equal(t, 0.5, table.Value(0, "hourly_conv"))
	assert.Equal(t, 0.55, table.Value(0, "daily_conv"))
	assert.Equal(t, 100.5, table.Value(0, "boosted"))

	// full names apply to features without an alias
	job, err = model.GetHistoricalFeatures(NewEntitySourceFromTable(spineTable(t)), true, "")
	assert.NoError(t, err)
	table, err = job.ToTable(context.Background())
	assert.NoError(t, err)
	assert.True(t, table.Schema().Has("customer_profile__current_balance"))
	assert.True(t, table.Schema().Has("hourly_conv"))

	response, err := model.GetOnlineFeatures(context.Background(), []map[string]interface{}{
		{"driver_id": 5, "customer_id": 9, "val_to_add": 1},
	}, false, t0)
	assert.NoError(t, err)
	assert.Equal(t, []interface{}{0.5}, response.ToDict()["hourly_conv"])
	// driver_daily_stats is never materialized
	assert.Equal(t, []interface{}{nil}, response.ToDict()["daily_conv"])
	assert.Equal(t, []interface{}{100.5}, response.ToDict()["boosted"])
}

func TestModelValidation(t *testing.T) {
	p := newDemoProject(t, constants.Datasource_Type_Memory)

	err := p.RegisterModel(&api.Model{Name: "broken", Features: []*api.ModelFeature{{FeatureViewName: "driver_hourly_stats", Name: "nope"}}})
	assert.True(t, errors.Is(err, api.ErrFeatureNotFound))

	err = p.RegisterModel(&api.Model{Name: "clash", Features: []*api.ModelFeature{
		{FeatureViewName: "driver_hourly_stats", Name: "conv_rate", AliasName: "x"},
		{FeatureViewName: "driver_hourly_stats", Name: "acc_rate", AliasName: "x"},
	}})
	assert.True(t, errors.Is(err, api.ErrAmbiguousFeatureName))

	err = p.RegisterModel(&api.Model{Name: "wildcard", Features: []*api.ModelFeature{
		{FeatureViewName: "driver_hourly_stats", Name: "*", AliasName: "x"},
	}})
	assert.NotEqual(t, nil, err)

	assert.NotEqual(t, nil, p.RegisterModel(&api.Model{Name: "empty"}))

	assert.NoError(t, p.RegisterModel(&api.Model{Name: "ok", Features: []*api.ModelFeature{{FeatureViewName: "driver_hourly_stats", Name: "*"}}}))
	assert.NotEqual(t, nil, p.RegisterModel(&api.Model{Name: "ok", Features: []*api.ModelFeature{{FeatureViewName: "driver_hourly_stats", Name: "*"}}}))
}
