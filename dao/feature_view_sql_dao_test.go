package dao

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"fortio.org/assert"
	"github.com/featurestore/featurestore-go-sdk/api"
	"github.com/featurestore/featurestore-go-sdk/constants"
	"github.com/featurestore/featurestore-go-sdk/datasource/sqlite"
	"github.com/google/uuid"
)

var base = time.Date(2021, 4, 12, 10, 0, 0, 0, time.UTC)

func registerSqlite(t *testing.T) string {
	name := "dao_test_" + uuid.NewString()
	ds := api.Datasource{Type: constants.Datasource_Type_Sqlite, Name: name}
	assert.NoError(t, sqlite.RegisterSqlite(name, ds.GenerateDSN(constants.Datasource_Type_Sqlite)))
	t.Cleanup(func() { sqlite.RemoveSqlite(name) })
	return name
}

func execSqlite(t *testing.T, name string, query string, args ...interface{}) {
	instance, err := sqlite.GetSqlite(name)
	assert.NoError(t, err)
	_, err = instance.DB.Exec(query, args...)
	assert.NoError(t, err)
}

// driver_stats rows, timestamps in unix micros
func createDriverStats(t *testing.T, name string) {
	execSqlite(t, name, `CREATE TABLE driver_stats (driver_id INTEGER, conv_rate REAL, acc_rate REAL, event_timestamp INTEGER, created INTEGER)`)
	rows := []struct {
		driver  int64
		conv    float64
		acc     float64
		event   time.Time
		created time.Time
	}{
		{1001, 0.1, 0.9, base.Add(-2 * time.Hour), base.Add(-2 * time.Hour)},
		{1001, 0.5, 0.8, base.Add(-1 * time.Hour), base.Add(-1 * time.Hour)},
		{1001, 0.7, 0.7, base.Add(1 * time.Hour), base.Add(1 * time.Hour)},
		// same event time as the row before, created later
		{1002, 0.2, 0.6, base.Add(-30 * time.Minute), base.Add(-30 * time.Minute)},
		{1002, 0.3, 0.5, base.Add(-30 * time.Minute), base.Add(-10 * time.Minute)},
		// full tie, the first row wins
		{1003, 0.4, 0.4, base.Add(-20 * time.Minute), base.Add(-20 * time.Minute)},
		{1003, 0.6, 0.3, base.Add(-20 * time.Minute), base.Add(-20 * time.Minute)},
		// only visible without a ttl
		{1004, 0.8, 0.2, base.Add(-48 * time.Hour), base.Add(-48 * time.Hour)},
	}
	for _, r := range rows {
		execSqlite(t, name, `INSERT INTO driver_stats VALUES (?, ?, ?, ?, ?)`,
			r.driver, r.conv, r.acc, r.event.UnixMicro(), r.created.UnixMicro())
	}
}

func driverStatsConfig(name string, ttl time.Duration) DaoConfig {
	return DaoConfig{
		DatasourceType:  constants.Datasource_Type_Sqlite,
		DatasourceName:  name,
		FeatureViewName: "driver_hourly_stats",
		JoinKeys:        []string{"driver_id"},
		Fields:          []string{"conv_rate", "acc_rate"},
		FieldTypeMap: map[string]constants.FSType{
			"driver_id": constants.FS_INT64,
			"conv_rate": constants.FS_DOUBLE,
			"acc_rate":  constants.FS_DOUBLE,
		},
		EventTimeField:   "event_timestamp",
		CreatedTimeField: "created",
		TTL:              ttl,
		TableName:        "driver_stats",
		OnlineTableName:  "demo_driver_hourly_stats_online",
	}
}

func TestSQLOfflineDaoScanRecords(t *testing.T) {
	name := registerSqlite(t)
	createDriverStats(t, name)

	d, err := NewOfflineFeatureViewDao(driverStatsConfig(name, 0))
	assert.NoError(t, err)

	records, err := d.ScanRecords(context.Background(), base.Add(-3*time.Hour), base)
	assert.NoError(t, err)
	assert.Equal(t, 6, len(records))
	assert.Equal(t, int64(1001), records[0].Keys[0])
	assert.Equal(t, 0.1, records[0].Values[0])
	assert.True(t, records[0].EventTime.Equal(base.Add(-2*time.Hour)))
	// rowid order
	for i := 1; i < len(records); i++ {
		assert.True(t, records[i-1].Ordinal < records[i].Ordinal)
	}

	records, err = d.ScanRecords(context.Background(), time.Time{}, base)
	assert.NoError(t, err)
	assert.Equal(t, 7, len(records))
}

func TestSQLPushdownAsofJoin(t *testing.T) {
	name := registerSqlite(t)
	createDriverStats(t, name)

	spine := api.NewTable(api.MustSchema(
		api.Column{Name: "driver_id", Type: constants.FS_INT64},
		api.Column{Name: "event_timestamp", Type: constants.FS_TIMESTAMP},
		api.Column{Name: "order_id", Type: constants.FS_STRING},
	))
	assert.NoError(t, spine.Append(int64(1001), base, "o1"))
	assert.NoError(t, spine.Append(int64(1001), base.Add(2*time.Hour), "o2"))
	assert.NoError(t, spine.Append(int64(1002), base, "o3"))
	assert.NoError(t, spine.Append(int64(1003), base, "o4"))
	assert.NoError(t, spine.Append(int64(1004), base, "o5"))
	assert.NoError(t, spine.Append(int64(9999), base, "o6"))
	// duplicate spine rows stay duplicated
	assert.NoError(t, spine.Append(int64(1001), base, "o7"))

	d, err := NewPushdownDao(constants.Datasource_Type_Sqlite, name)
	assert.NoError(t, err)

	plan := &JoinPlan{
		Config:      driverStatsConfig(name, 24*time.Hour),
		OutputNames: []string{"driver_hourly_stats__conv_rate", "driver_hourly_stats__acc_rate"},
	}
	out, err := d.AsofJoin(context.Background(), SpineSource{Table: spine, TimestampField: "event_timestamp"}, spine.Schema(), []*JoinPlan{plan})
	assert.NoError(t, err)
	assert.Equal(t, 7, out.NumRows())
	assert.Equal(t, []string{"driver_id", "event_timestamp", "order_id",
		"driver_hourly_stats__conv_rate", "driver_hourly_stats__acc_rate"}, out.Schema().Names())

	got := make(map[string]interface{})
	for _, r := range out.Records() {
		got[r["order_id"].(string)] = r["driver_hourly_stats__conv_rate"]
	}
	assert.Equal(t, 0.5, got["o1"])
	assert.Equal(t, 0.7, got["o2"])
	assert.Equal(t, 0.3, got["o3"])
	assert.Equal(t, 0.4, got["o4"])
	assert.Equal(t, nil, got["o5"])
	assert.Equal(t, nil, got["o6"])
	assert.Equal(t, 0.5, got["o7"])

	// the spine table is dropped after the join
	instance, err := sqlite.GetSqlite(name)
	assert.NoError(t, err)
	var n int
	assert.NoError(t, instance.DB.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name LIKE '__spine_%'`).Scan(&n))
	assert.Equal(t, 0, n)
}

func TestSQLPushdownTTLBoundary(t *testing.T) {
	name := registerSqlite(t)
	createDriverStats(t, name)
	d, err := NewPushdownDao(constants.Datasource_Type_Sqlite, name)
	assert.NoError(t, err)

	spine := api.NewTable(api.MustSchema(
		api.Column{Name: "driver_id", Type: constants.FS_INT64},
		api.Column{Name: "event_timestamp", Type: constants.FS_TIMESTAMP},
	))
	// exactly ttl after the 1001 record at base-1h
	assert.NoError(t, spine.Append(int64(1001), base.Add(time.Hour)))
	assert.NoError(t, spine.Append(int64(1001), base.Add(time.Hour+time.Second)))

	plan := &JoinPlan{
		Config:      driverStatsConfig(name, 2*time.Hour),
		OutputNames: []string{"conv_rate", "acc_rate"},
	}
	out, err := d.AsofJoin(context.Background(), SpineSource{Table: spine, TimestampField: "event_timestamp"}, spine.Schema(), []*JoinPlan{plan})
	assert.NoError(t, err)
	out.SortBy("event_timestamp")
	// the record at base+1h wins at both timestamps
	assert.Equal(t, 0.7, out.Value(0, "conv_rate"))
	assert.Equal(t, 0.7, out.Value(1, "conv_rate"))

	cfg := driverStatsConfig(name, 2*time.Hour)
	cfg.Query = "SELECT * FROM driver_stats WHERE driver_id = 1001 AND conv_rate < 0.6"
	cfg.TableName = ""
	plan = &JoinPlan{Config: cfg, OutputNames: []string{"conv_rate", "acc_rate"}}
	out, err = d.AsofJoin(context.Background(), SpineSource{Table: spine, TimestampField: "event_timestamp"}, spine.Schema(), []*JoinPlan{plan})
	assert.NoError(t, err)
	out.SortBy("event_timestamp")
	// base-1h is inside [t-ttl, t] at t=base+1h and outside one second later
	assert.Equal(t, 0.5, out.Value(0, "conv_rate"))
	assert.Equal(t, nil, out.Value(1, "conv_rate"))
}

func TestSQLPushdownReadQuery(t *testing.T) {
	name := registerSqlite(t)
	createDriverStats(t, name)
	d, err := NewPushdownDao(constants.Datasource_Type_Sqlite, name)
	assert.NoError(t, err)

	q := "SELECT driver_id, event_timestamp FROM driver_stats WHERE driver_id = 1002"
	schema, err := d.DescribeQuery(context.Background(), q, "event_timestamp")
	assert.NoError(t, err)
	assert.Equal(t, []string{"driver_id", "event_timestamp"}, schema.Names())
	col, _ := schema.Lookup("event_timestamp")
	assert.Equal(t, constants.FS_TIMESTAMP, col.Type)

	table, err := d.ReadQuery(context.Background(), q, "event_timestamp")
	assert.NoError(t, err)
	assert.Equal(t, 2, table.NumRows())
	assert.True(t, table.Value(0, "event_timestamp").(time.Time).Equal(base.Add(-30*time.Minute)))

	_, err = d.DescribeQuery(context.Background(), q, "ts")
	assert.True(t, errors.Is(err, api.ErrSchemaMismatch))
}

func TestSQLOnlineDaoMonotonicUpsert(t *testing.T) {
	name := registerSqlite(t)
	d, err := NewOnlineFeatureViewDao(driverStatsConfig(name, 0))
	assert.NoError(t, err)
	ctx := context.Background()

	write := func(event, created time.Time, conv interface{}) {
		errs := d.WriteFeatures(ctx, []*OnlineEntry{{
			Keys:        []interface{}{int64(1001)},
			EventTime:   event,
			CreatedTime: created,
			Values:      []interface{}{conv, 0.9},
		}})
		assert.NoError(t, errs[0])
	}
	read := func() *OnlineEntry {
		entries, err := d.GetFeatures(ctx, [][]interface{}{{int64(1001)}, {int64(42)}})
		assert.NoError(t, err)
		assert.Equal(t, 2, len(entries))
		assert.True(t, entries[1] == nil)
		return entries[0]
	}

	write(base, base, 0.5)
	assert.Equal(t, 0.5, read().Values[0])

	// older event time is ignored
	write(base.Add(-time.Hour), base.Add(time.Hour), 0.1)
	assert.Equal(t, 0.5, read().Values[0])

	// equal pair is a no-op
	write(base, base, 0.2)
	assert.Equal(t, 0.5, read().Values[0])

	// same event, later created
	write(base, base.Add(time.Minute), 0.3)
	assert.Equal(t, 0.3, read().Values[0])

	// null value with a newer event
	write(base.Add(time.Hour), time.Time{}, nil)
	e := read()
	assert.Equal(t, nil, e.Values[0])
	assert.Equal(t, 0.9, e.Values[1])
	assert.True(t, e.EventTime.Equal(base.Add(time.Hour)))
	assert.True(t, e.CreatedTime.IsZero())
}

func TestSQLOnlineDaoRejectsBadValues(t *testing.T) {
	name := registerSqlite(t)
	d, err := NewOnlineFeatureViewDao(driverStatsConfig(name, 0))
	assert.NoError(t, err)
	errs := d.WriteFeatures(context.Background(), []*OnlineEntry{
		{Keys: []interface{}{int64(1)}, EventTime: base, Values: []interface{}{"not a number", 0.1}},
		{Keys: []interface{}{int64(2)}, EventTime: base, Values: []interface{}{0.2, 0.1}},
	})
	assert.True(t, errs[0] != nil)
	assert.NoError(t, errs[1])
}

func TestDecodeValuesToleratesAppendedFields(t *testing.T) {
	cfg := driverStatsConfig("unused", 0)
	payload, err := encodeValues(&cfg, []interface{}{0.5, nil})
	assert.NoError(t, err)

	cfg.Fields = append(cfg.Fields, "avg_daily_trips")
	cfg.FieldTypeMap["avg_daily_trips"] = constants.FS_INT32
	values, err := decodeValues(&cfg, payload)
	assert.NoError(t, err)
	assert.Equal(t, []interface{}{0.5, nil, nil}, values)
}

func TestSortableTimeKey(t *testing.T) {
	keys := []int64{timeKey(time.Time{}), -5, 0, 7, base.UnixNano()}
	for i := 1; i < len(keys); i++ {
		assert.True(t, sortableTimeKey(keys[i-1]) < sortableTimeKey(keys[i]), fmt.Sprint(keys[i]))
		back, err := parseSortableTimeKey(sortableTimeKey(keys[i]))
		assert.NoError(t, err)
		assert.Equal(t, keys[i], back)
	}
}
