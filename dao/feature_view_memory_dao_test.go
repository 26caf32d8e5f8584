package dao

import (
	"context"
	"testing"
	"time"

	"fortio.org/assert"
	"github.com/featurestore/featurestore-go-sdk/api"
	"github.com/featurestore/featurestore-go-sdk/constants"
	"github.com/featurestore/featurestore-go-sdk/datasource/memory"
	"github.com/google/uuid"
)

func memoryConfig(name string) DaoConfig {
	cfg := driverStatsConfig(name, 0)
	cfg.DatasourceType = constants.Datasource_Type_Memory
	return cfg
}

func TestMemoryOfflineDaoScanRecords(t *testing.T) {
	name := "memory_" + uuid.NewString()
	m := memory.RegisterMemory(name)
	defer memory.RemoveMemory(name)

	table := api.NewTable(api.MustSchema(
		api.Column{Name: "driver_id", Type: constants.FS_INT64},
		api.Column{Name: "conv_rate", Type: constants.FS_DOUBLE},
		api.Column{Name: "acc_rate", Type: constants.FS_DOUBLE},
		api.Column{Name: "event_timestamp", Type: constants.FS_TIMESTAMP},
		api.Column{Name: "created", Type: constants.FS_TIMESTAMP},
	))
	assert.NoError(t, table.Append(1001, 0.1, 0.9, base.Add(-time.Hour), base))
	assert.NoError(t, table.Append(1001, 0.2, 0.8, nil, base))
	assert.NoError(t, table.Append(1002, 0.3, 0.7, base.Add(time.Hour), nil))
	m.PutTable("driver_stats", table)

	d, err := NewOfflineFeatureViewDao(memoryConfig(name))
	assert.NoError(t, err)
	records, err := d.ScanRecords(context.Background(), time.Time{}, base)
	assert.NoError(t, err)
	// null event times are skipped, future rows filtered
	assert.Equal(t, 1, len(records))
	assert.Equal(t, int64(1001), records[0].Keys[0])
	assert.Equal(t, int64(0), records[0].Ordinal)

	cfg := memoryConfig(name)
	cfg.TableName = "missing"
	d, err = NewOfflineFeatureViewDao(cfg)
	assert.NoError(t, err)
	_, err = d.ScanRecords(context.Background(), time.Time{}, base)
	assert.True(t, err != nil)
}

func TestMemoryOnlineDaoMonotonicUpsert(t *testing.T) {
	name := "memory_" + uuid.NewString()
	memory.RegisterMemory(name)
	defer memory.RemoveMemory(name)

	d, err := NewOnlineFeatureViewDao(memoryConfig(name))
	assert.NoError(t, err)
	ctx := context.Background()

	errs := d.WriteFeatures(ctx, []*OnlineEntry{
		{Keys: []interface{}{1001}, EventTime: base, CreatedTime: base, Values: []interface{}{0.5, 0.9}},
		{Keys: []interface{}{int64(1001)}, EventTime: base.Add(-time.Minute), Values: []interface{}{0.1, 0.1}},
		{Keys: []interface{}{int64(1001)}, EventTime: base, CreatedTime: base, Values: []interface{}{0.2, 0.2}},
	})
	for _, err := range errs {
		assert.NoError(t, err)
	}

	entries, err := d.GetFeatures(ctx, [][]interface{}{{int64(1001)}, {"1001"}, {1002}})
	assert.NoError(t, err)
	assert.Equal(t, 0.5, entries[0].Values[0])
	assert.Equal(t, 0.5, entries[1].Values[0])
	assert.True(t, entries[2] == nil)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = d.GetFeatures(cancelled, [][]interface{}{{1001}})
	assert.True(t, err != nil)
}
