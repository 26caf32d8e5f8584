package dao

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/featurestore/featurestore-go-sdk/api"
	"github.com/featurestore/featurestore-go-sdk/constants"
	"github.com/featurestore/featurestore-go-sdk/utils"
	"github.com/huandu/go-sqlbuilder"
)

const sqlOnlineReadBatch = 200

// FeatureViewSQLOnlineDao keeps the online projection in a key value table:
// (entity_key, event_ts, created_ts, value). The table is created on first
// use. Upserts only replace a row when the new (event_ts, created_ts) pair is
// strictly greater, which the database decides atomically per row.
type FeatureViewSQLOnlineDao struct {
	db      *sql.DB
	dialect *sqlDialect
	config  DaoConfig

	table     string
	initOnce  sync.Once
	initError error
}

func NewFeatureViewSQLOnlineDao(config DaoConfig) (*FeatureViewSQLOnlineDao, error) {
	dialect, err := newSQLDialect(config.DatasourceType)
	if err != nil {
		return nil, err
	}
	db, err := getSQLDB(config.DatasourceType, config.DatasourceName)
	if err != nil {
		return nil, err
	}
	return &FeatureViewSQLOnlineDao{
		db:      db,
		dialect: dialect,
		config:  config,
		table:   dialect.quote(config.OnlineTableName),
	}, nil
}

func (d *FeatureViewSQLOnlineDao) unavailable(op string, err error) error {
	return &api.OnlineStoreUnavailableError{Store: d.config.DatasourceType, Op: op, Cause: err}
}

func (d *FeatureViewSQLOnlineDao) ensureTable(ctx context.Context) error {
	d.initOnce.Do(func() {
		ctb := sqlbuilder.NewCreateTableBuilder()
		ctb.CreateTable(d.table).IfNotExists()
		ctb.Define("entity_key", d.dialect.keyType(), "NOT NULL", "PRIMARY KEY")
		ctb.Define("event_ts", "BIGINT", "NOT NULL")
		ctb.Define("created_ts", "BIGINT", "NOT NULL")
		ctb.Define("value", d.dialect.blobType())
		ddl, _ := ctb.BuildWithFlavor(d.dialect.flavor)
		_, d.initError = d.db.ExecContext(ctx, ddl)
	})
	return d.initError
}

func (d *FeatureViewSQLOnlineDao) GetFeatures(ctx context.Context, keys [][]interface{}) ([]*OnlineEntry, error) {
	if err := d.ensureTable(ctx); err != nil {
		return nil, d.unavailable("create table", err)
	}

	index := make(map[string][]int, len(keys))
	unique := make([]interface{}, 0, len(keys))
	for i, key := range keys {
		k := utils.JoinKey(key)
		if _, ok := index[k]; !ok {
			unique = append(unique, k)
		}
		index[k] = append(index[k], i)
	}

	result := make([]*OnlineEntry, len(keys))
	for start := 0; start < len(unique); start += sqlOnlineReadBatch {
		end := start + sqlOnlineReadBatch
		if end > len(unique) {
			end = len(unique)
		}
		sb := sqlbuilder.NewSelectBuilder()
		sb.Select("entity_key", "event_ts", "created_ts", "value").From(d.table)
		sb.Where(sb.In("entity_key", unique[start:end]...))
		query, args := sb.BuildWithFlavor(d.dialect.flavor)

		if err := d.readBatch(ctx, query, args, keys, index, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (d *FeatureViewSQLOnlineDao) readBatch(ctx context.Context, query string, args []interface{},
	keys [][]interface{}, index map[string][]int, result []*OnlineEntry) error {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return d.unavailable("read", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			key            string
			event, created int64
			payload        []byte
		)
		if err := rows.Scan(&key, &event, &created, &payload); err != nil {
			return d.unavailable("read", err)
		}
		values, err := decodeValues(&d.config, payload)
		if err != nil {
			return fmt.Errorf("feature view %s key %s: %w", d.config.FeatureViewName, key, err)
		}
		for _, i := range index[key] {
			result[i] = &OnlineEntry{
				Keys:        keys[i],
				EventTime:   fromTimeKey(event),
				CreatedTime: fromTimeKey(created),
				Values:      values,
			}
		}
	}
	if err := rows.Err(); err != nil {
		return d.unavailable("read", err)
	}
	return nil
}

func (d *FeatureViewSQLOnlineDao) WriteFeatures(ctx context.Context, entries []*OnlineEntry) []error {
	errs := make([]error, len(entries))
	if err := d.ensureTable(ctx); err != nil {
		for i := range errs {
			errs[i] = d.unavailable("create table", err)
		}
		return errs
	}

	suffix := d.upsertSuffix()
	for i, entry := range entries {
		payload, err := encodeValues(&d.config, entry.Values)
		if err != nil {
			errs[i] = err
			continue
		}
		ib := sqlbuilder.NewInsertBuilder()
		ib.InsertInto(d.table)
		ib.Cols("entity_key", "event_ts", "created_ts", "value")
		ib.Values(utils.JoinKey(entry.Keys), timeKey(entry.EventTime), timeKey(entry.CreatedTime), payload)
		insert, args := ib.BuildWithFlavor(d.dialect.flavor)
		if _, err := d.db.ExecContext(ctx, insert+suffix, args...); err != nil {
			errs[i] = d.unavailable("write", err)
		}
	}
	return errs
}

// upsertSuffix renders the conflict clause that keeps the newer row.
func (d *FeatureViewSQLOnlineDao) upsertSuffix() string {
	if d.dialect.datasourceType == constants.Datasource_Type_MySQL {
		// event_ts is assigned last, the conditions before it still see the
		// old value
		cond := "(VALUES(event_ts) > event_ts OR (VALUES(event_ts) = event_ts AND VALUES(created_ts) > created_ts))"
		assign := make([]string, 0, 3)
		for _, col := range []string{"value", "created_ts", "event_ts"} {
			assign = append(assign, fmt.Sprintf("%s = IF(%s, VALUES(%s), %s)", col, cond, col, col))
		}
		return " ON DUPLICATE KEY UPDATE " + strings.Join(assign, ", ")
	}
	return fmt.Sprintf(" ON CONFLICT (entity_key) DO UPDATE SET event_ts = excluded.event_ts, created_ts = excluded.created_ts, value = excluded.value"+
		" WHERE excluded.event_ts > %[1]s.event_ts OR (excluded.event_ts = %[1]s.event_ts AND excluded.created_ts > %[1]s.created_ts)", d.table)
}
