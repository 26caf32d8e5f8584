package dao

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/featurestore/featurestore-go-sdk/api"
	"github.com/featurestore/featurestore-go-sdk/constants"
	"github.com/featurestore/featurestore-go-sdk/utils"
)

// Record is one changelog row of a batch source.
type Record struct {
	Keys        []interface{}
	EventTime   time.Time
	CreatedTime time.Time
	Values      []interface{}

	// Ordinal is the position in source scan order.
	Ordinal int64
}

// Newer reports whether r should replace o: a later event timestamp, then a
// later created timestamp. Full ties keep o.
func (r *Record) Newer(o *Record) bool {
	return newerPair(r.EventTime, r.CreatedTime, o.EventTime, o.CreatedTime)
}

// OnlineEntry is the value of one entity key in the online projection.
type OnlineEntry struct {
	Keys        []interface{}
	EventTime   time.Time
	CreatedTime time.Time
	Values      []interface{}
}

func (e *OnlineEntry) Newer(o *OnlineEntry) bool {
	return newerPair(e.EventTime, e.CreatedTime, o.EventTime, o.CreatedTime)
}

func newerPair(e1, c1, e2, c2 time.Time) bool {
	if !e1.Equal(e2) {
		return e1.After(e2)
	}
	return c1.After(c2)
}

// OfflineFeatureViewDao scans the batch source of one feature view.
type OfflineFeatureViewDao interface {
	// ScanRecords returns records with start <= event time <= end in scan
	// order. A zero start is unbounded.
	ScanRecords(ctx context.Context, start, end time.Time) ([]*Record, error)
}

// OnlineFeatureViewDao reads and writes the online projection of one feature view.
type OnlineFeatureViewDao interface {
	// GetFeatures returns one entry per key, nil where the key has no value.
	GetFeatures(ctx context.Context, keys [][]interface{}) ([]*OnlineEntry, error)

	// WriteFeatures upserts entries monotonically. The returned slice is
	// parallel to entries and holds the write error of each entry.
	WriteFeatures(ctx context.Context, entries []*OnlineEntry) []error
}

// SpineSource is the anchor of an offline join: a table or a query.
type SpineSource struct {
	Table          *api.Table
	Query          string
	TimestampField string
}

// JoinPlan asks for the features of one view under the given output names.
type JoinPlan struct {
	Config      DaoConfig
	OutputNames []string
}

// PushdownDao executes point-in-time joins inside the datasource.
type PushdownDao interface {
	DescribeQuery(ctx context.Context, query, timestampField string) (*api.Schema, error)
	ReadQuery(ctx context.Context, query, timestampField string) (*api.Table, error)
	AsofJoin(ctx context.Context, spine SpineSource, spineSchema *api.Schema, plans []*JoinPlan) (*api.Table, error)
}

func NewOfflineFeatureViewDao(config DaoConfig) (OfflineFeatureViewDao, error) {
	switch config.DatasourceType {
	case constants.Datasource_Type_Memory:
		return NewFeatureViewMemoryOfflineDao(config)
	case constants.Datasource_Type_Sqlite, constants.Datasource_Type_MySQL, constants.Datasource_Type_Hologres:
		return NewFeatureViewSQLOfflineDao(config)
	}
	return nil, fmt.Errorf("offline store type %s is not supported", config.DatasourceType)
}

func NewOnlineFeatureViewDao(config DaoConfig) (OnlineFeatureViewDao, error) {
	switch config.DatasourceType {
	case constants.Datasource_Type_Memory:
		return NewFeatureViewMemoryOnlineDao(config)
	case constants.Datasource_Type_Sqlite, constants.Datasource_Type_MySQL, constants.Datasource_Type_Hologres:
		return NewFeatureViewSQLOnlineDao(config)
	case constants.Datasource_Type_Redis:
		return NewFeatureViewRedisDao(config)
	}
	return nil, fmt.Errorf("online store type %s is not supported", config.DatasourceType)
}

func NewPushdownDao(datasourceType, datasourceName string) (PushdownDao, error) {
	switch datasourceType {
	case constants.Datasource_Type_Sqlite, constants.Datasource_Type_MySQL, constants.Datasource_Type_Hologres:
		return NewSQLPushdownDao(datasourceType, datasourceName)
	}
	return nil, fmt.Errorf("datasource type %s does not support pushdown", datasourceType)
}

// timeKey maps a timestamp to a sortable integer, the zero time sorting first.
func timeKey(t time.Time) int64 {
	if t.IsZero() {
		return math.MinInt64
	}
	return t.UnixNano()
}

func fromTimeKey(k int64) time.Time {
	if k == math.MinInt64 {
		return time.Time{}
	}
	return time.Unix(0, k).UTC()
}

const (
	fieldNotNull = uint8(0)
	fieldIsNull  = uint8(1)
)

// encodeValues writes every field as a null flag followed by its little
// endian value.
func encodeValues(config *DaoConfig, values []interface{}) ([]byte, error) {
	w := utils.NewByteWriter(16 * len(values))
	for i, field := range config.Fields {
		var v interface{}
		if i < len(values) {
			v = values[i]
		}
		cv, err := api.CoerceValue(config.fieldType(field), v)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field, err)
		}
		if cv == nil {
			w.WriteUint8(fieldIsNull)
			continue
		}
		w.WriteUint8(fieldNotNull)
		switch val := cv.(type) {
		case int32:
			w.WriteInt32(val)
		case int64:
			w.WriteInt64(val)
		case float32:
			w.WriteFloat32(val)
		case float64:
			w.WriteFloat64(val)
		case string:
			w.WriteString(val)
		case bool:
			w.WriteBool(val)
		case time.Time:
			w.WriteInt64(val.UnixNano())
		default:
			return nil, fmt.Errorf("field %s: unsupported value type %T", field, cv)
		}
	}
	return w.Bytes(), nil
}

func decodeValues(config *DaoConfig, data []byte) ([]interface{}, error) {
	cursor := utils.NewByteCursor(data)
	values := make([]interface{}, len(config.Fields))
	for i, field := range config.Fields {
		if !cursor.HasMore() {
			// fields appended to the view after the entry was written
			break
		}
		if cursor.ReadUint8() == fieldIsNull {
			continue
		}
		switch config.fieldType(field) {
		case constants.FS_INT32:
			values[i] = cursor.ReadInt32()
		case constants.FS_INT64:
			values[i] = cursor.ReadInt64()
		case constants.FS_FLOAT:
			values[i] = cursor.ReadFloat32()
		case constants.FS_DOUBLE:
			values[i] = cursor.ReadFloat64()
		case constants.FS_STRING:
			values[i] = cursor.ReadString()
		case constants.FS_BOOLEAN:
			values[i] = cursor.ReadBool()
		case constants.FS_TIMESTAMP:
			values[i] = time.Unix(0, cursor.ReadInt64()).UTC()
		default:
			return nil, fmt.Errorf("field %s: unsupported type %s", field, config.fieldType(field))
		}
	}
	if cursor.Err != nil {
		return nil, cursor.Err
	}
	return values, nil
}
