package domain

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"fortio.org/assert"
	"github.com/featurestore/featurestore-go-sdk/api"
	"github.com/featurestore/featurestore-go-sdk/constants"
	"github.com/featurestore/featurestore-go-sdk/datasource/memory"
	"github.com/featurestore/featurestore-go-sdk/datasource/sqlite"
	"github.com/google/uuid"
)

var t0 = time.Date(2021, 4, 12, 10, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

func col(name string, t constants.FSType) api.Column {
	return api.Column{Name: name, Type: t}
}

func mustTable(t *testing.T, columns []api.Column, rows ...[]interface{}) *api.Table {
	table := api.NewTable(api.MustSchema(columns...))
	for _, row := range rows {
		assert.NoError(t, table.Append(row...))
	}
	return table
}

func driverStatsTable(t *testing.T) *api.Table {
	return mustTable(t, []api.Column{
		col("driver_id", constants.FS_INT64),
		col("conv_rate", constants.FS_DOUBLE),
		col("acc_rate", constants.FS_DOUBLE),
		col("avg_daily_trips", constants.FS_INT64),
		col("event_timestamp", constants.FS_TIMESTAMP),
		col("created", constants.FS_TIMESTAMP),
	},
		[]interface{}{5, 0.9, 0.1, 10, t0.Add(-10 * day), t0.Add(-10 * day)},
		[]interface{}{5, 0.5, 0.2, 20, t0.Add(-3 * day), t0.Add(-3 * day)},
		[]interface{}{5, 0.8, 0.3, 30, t0.Add(time.Hour), t0.Add(time.Hour)},
		[]interface{}{6, 0.25, 0.4, 40, t0.Add(-day), t0.Add(-day)},
		[]interface{}{6, 0.75, 0.5, 50, t0.Add(-day), t0.Add(-day + time.Minute)},
		[]interface{}{7, 0.125, 0.6, 60, t0.Add(-7 * day), t0.Add(-7 * day)},
		[]interface{}{8, 0.375, 0.7, 70, t0.Add(-7*day - time.Second), t0.Add(-7*day - time.Second)},
	)
}

func customerProfileTable(t *testing.T) *api.Table {
	return mustTable(t, []api.Column{
		col("customer_id", constants.FS_INT64),
		col("current_balance", constants.FS_DOUBLE),
		col("lifetime_trip_count", constants.FS_INT64),
		col("event_timestamp", constants.FS_TIMESTAMP),
		col("created", constants.FS_TIMESTAMP),
	},
		[]interface{}{9, 100.0, 200, t0.Add(-30 * day), t0.Add(-30 * day)},
		[]interface{}{9, 150.0, 210, t0.Add(-2 * day), t0.Add(-2 * day)},
		[]interface{}{10, 50.0, 5, t0.Add(day), t0.Add(day)},
	)
}

func driverDailyTable(t *testing.T) *api.Table {
	return mustTable(t, []api.Column{
		col("driver_id", constants.FS_INT64),
		col("conv_rate", constants.FS_DOUBLE),
		col("event_timestamp", constants.FS_TIMESTAMP),
	},
		[]interface{}{5, 0.55, t0.Add(-day)},
	)
}

func spineTable(t *testing.T) *api.Table {
	return mustTable(t, []api.Column{
		col("driver_id", constants.FS_INT64),
		col("customer_id", constants.FS_INT64),
		col("event_timestamp", constants.FS_TIMESTAMP),
		col("val_to_add", constants.FS_INT64),
		col("order_id", constants.FS_STRING),
	},
		[]interface{}{5, 9, t0, 1, "a"},
		[]interface{}{6, 9, t0, 2, "b"},
		[]interface{}{7, 10, t0, 3, "c"},
		[]interface{}{8, 10, t0, 4, "d"},
		[]interface{}{9999, 9, t0, 5, "e"},
	)
}

// loadTable makes a table available to the offline store under name.
func loadTable(t *testing.T, store Store, name string, table *api.Table) {
	switch store.Type {
	case constants.Datasource_Type_Memory:
		m, err := memory.GetMemory(store.Name)
		assert.NoError(t, err)
		m.PutTable(name, table)
	case constants.Datasource_Type_Sqlite:
		instance, err := sqlite.GetSqlite(store.Name)
		assert.NoError(t, err)
		defs := make([]string, 0, table.Schema().Len())
		marks := make([]string, 0, table.Schema().Len())
		for _, c := range table.Schema().Columns() {
			sqlType := "TEXT"
			switch c.Type {
			case constants.FS_INT32, constants.FS_INT64, constants.FS_BOOLEAN, constants.FS_TIMESTAMP:
				sqlType = "INTEGER"
			case constants.FS_FLOAT, constants.FS_DOUBLE:
				sqlType = "REAL"
			}
			defs = append(defs, fmt.Sprintf(`"%s" %s`, c.Name, sqlType))
			marks = append(marks, "?")
		}
		_, err = instance.DB.Exec(fmt.Sprintf(`CREATE TABLE "%s" (%s)`, name, strings.Join(defs, ", ")))
		assert.NoError(t, err)
		insert := fmt.Sprintf(`INSERT INTO "%s" VALUES (%s)`, name, strings.Join(marks, ", "))
		for i := 0; i < table.NumRows(); i++ {
			args := make([]interface{}, 0, table.Schema().Len())
			for _, v := range table.Row(i) {
				if ts, ok := v.(time.Time); ok {
					v = ts.UnixMicro()
				}
				args = append(args, v)
			}
			_, err = instance.DB.Exec(insert, args...)
			assert.NoError(t, err)
		}
	default:
		t.Fatalf("unsupported offline store %s", store.Type)
	}
}

func newStore(t *testing.T, datasourceType string) Store {
	name := fmt.Sprintf("%s_%s", datasourceType, strings.ReplaceAll(uuid.NewString(), "-", ""))
	switch datasourceType {
	case constants.Datasource_Type_Memory:
		memory.RegisterMemory(name)
		t.Cleanup(func() { memory.RemoveMemory(name) })
	case constants.Datasource_Type_Sqlite:
		ds := api.Datasource{Type: datasourceType, Name: name}
		assert.NoError(t, sqlite.RegisterSqlite(name, ds.GenerateDSN(datasourceType)))
		t.Cleanup(func() { sqlite.RemoveSqlite(name) })
	default:
		t.Fatalf("unsupported store %s", datasourceType)
	}
	return Store{Type: datasourceType, Name: name}
}

func source(table string) *api.BatchSource {
	return &api.BatchSource{
		Name:                   table,
		Table:                  table,
		EventTimestampColumn:   "event_timestamp",
		CreatedTimestampColumn: "created",
	}
}

// newDemoProject registers the driver and customer views over the given
// offline store, with a memory online store.
func newDemoProject(t *testing.T, offlineType string) *Project {
	offline := newStore(t, offlineType)
	online := newStore(t, constants.Datasource_Type_Memory)
	p := NewProject("demo", offline, online)

	loadTable(t, offline, "driver_stats", driverStatsTable(t))
	loadTable(t, offline, "customer_profile", customerProfileTable(t))
	loadTable(t, offline, "driver_daily", driverDailyTable(t))

	assert.NoError(t, p.RegisterFeatureEntity(&api.FeatureEntity{Name: "driver", JoinKey: "driver_id", ValueType: constants.FS_INT64}))
	assert.NoError(t, p.RegisterFeatureEntity(&api.FeatureEntity{Name: "customer", JoinKey: "customer_id", ValueType: constants.FS_INT64}))

	assert.NoError(t, p.RegisterFeatureView(&api.FeatureView{
		Name:     "driver_hourly_stats",
		Entities: []string{"driver"},
		Features: []*api.Feature{
			{Name: "conv_rate", Type: constants.FS_DOUBLE},
			{Name: "acc_rate", Type: constants.FS_DOUBLE},
			{Name: "avg_daily_trips", Type: constants.FS_INT64},
		},
		Ttl:    7 * day,
		Source: source("driver_stats"),
		Online: true,
	}))
	assert.NoError(t, p.RegisterFeatureView(&api.FeatureView{
		Name:     "customer_profile",
		Entities: []string{"customer"},
		Features: []*api.Feature{
			{Name: "current_balance", Type: constants.FS_DOUBLE},
			{Name: "lifetime_trip_count", Type: constants.FS_INT64},
		},
		Source: source("customer_profile"),
		Online: true,
	}))
	dailySource := source("driver_daily")
	dailySource.CreatedTimestampColumn = ""
	assert.NoError(t, p.RegisterFeatureView(&api.FeatureView{
		Name:     "driver_daily_stats",
		Entities: []string{"driver"},
		Features: []*api.Feature{{Name: "conv_rate", Type: constants.FS_DOUBLE}},
		Ttl:      2 * day,
		Source:   dailySource,
	}))
	assert.NoError(t, p.RegisterOnDemandFeatureView(&api.OnDemandFeatureView{
		Name:    "transformed_conv_rate",
		Sources: []string{"driver_hourly_stats"},
		RequestSources: []*api.RequestSource{{
			Name:   "vals_to_add",
			Schema: []*api.Feature{{Name: "val_to_add", Type: constants.FS_INT64}},
		}},
		Features: []*api.Feature{
			{Name: "conv_rate_plus_100", Type: constants.FS_DOUBLE},
			{Name: "conv_rate_plus_val_to_add", Type: constants.FS_DOUBLE},
		},
		Expressions: map[string]string{
			"conv_rate_plus_100":        "conv_rate + 100",
			"conv_rate_plus_val_to_add": "driver_hourly_stats__conv_rate + val_to_add",
		},
	}))
	return p
}

var demoRefs = []string{
	"driver_hourly_stats:conv_rate",
	"driver_hourly_stats:acc_rate",
	"customer_profile:current_balance",
	"conv_rate_plus_100",
	"conv_rate_plus_val_to_add",
}

func mustRefs(t *testing.T, refs ...string) []api.FeatureRef {
	parsed, err := api.ParseFeatureRefs(refs)
	assert.NoError(t, err)
	return parsed
}
