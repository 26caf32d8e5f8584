package dao

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/featurestore/featurestore-go-sdk/api"
	"github.com/featurestore/featurestore-go-sdk/constants"
	"github.com/huandu/go-sqlbuilder"
)

// FeatureViewSQLOfflineDao scans a batch source table or query in any of the
// sql datasources.
type FeatureViewSQLOfflineDao struct {
	db      *sql.DB
	dialect *sqlDialect
	config  DaoConfig
}

func NewFeatureViewSQLOfflineDao(config DaoConfig) (*FeatureViewSQLOfflineDao, error) {
	dialect, err := newSQLDialect(config.DatasourceType)
	if err != nil {
		return nil, err
	}
	db, err := getSQLDB(config.DatasourceType, config.DatasourceName)
	if err != nil {
		return nil, err
	}
	return &FeatureViewSQLOfflineDao{db: db, dialect: dialect, config: config}, nil
}

func (d *FeatureViewSQLOfflineDao) ScanRecords(ctx context.Context, start, end time.Time) ([]*Record, error) {
	q := d.dialect.quote
	cols := make([]string, 0, len(d.config.JoinKeys)+len(d.config.Fields)+3)
	for _, k := range d.config.JoinKeys {
		cols = append(cols, "src."+q(k))
	}
	for _, f := range d.config.Fields {
		cols = append(cols, "src."+q(f))
	}
	event := "src." + q(d.config.EventTimeField)
	cols = append(cols, event)
	hasCreated := d.config.CreatedTimeField != ""
	if hasCreated {
		cols = append(cols, "src."+q(d.config.CreatedTimeField))
	}
	ordinal := d.dialect.ordinalExpr(&d.config, "src")
	if ordinal != "" {
		cols = append(cols, ordinal)
	}

	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(cols...)
	sb.From(d.dialect.sourceRef(d.config.TableName, d.config.Query, "src"))
	sb.Where(sb.IsNotNull(event), sb.LessEqualThan(event, d.dialect.encodeTime(end)))
	if !start.IsZero() {
		sb.Where(sb.GreaterEqualThan(event, d.dialect.encodeTime(start)))
	}
	if ordinal != "" {
		sb.OrderBy(ordinal).Asc()
	}
	sqlQuery, args := sb.BuildWithFlavor(d.dialect.flavor)

	rows, err := d.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("feature view %s scan: %w", d.config.FeatureViewName, err)
	}
	defer rows.Close()

	nKeys, nFields := len(d.config.JoinKeys), len(d.config.Fields)
	var records []*Record
	for rows.Next() {
		values, err := scanValues(rows, len(cols))
		if err != nil {
			return nil, err
		}
		record := &Record{
			Keys:    make([]interface{}, nKeys),
			Values:  make([]interface{}, nFields),
			Ordinal: int64(len(records)),
		}
		for i, k := range d.config.JoinKeys {
			if record.Keys[i], err = d.dialect.decodeValue(d.config.fieldType(k), values[i]); err != nil {
				return nil, fmt.Errorf("join key %s: %w", k, err)
			}
		}
		for i, f := range d.config.Fields {
			if record.Values[i], err = d.dialect.decodeValue(d.config.fieldType(f), values[nKeys+i]); err != nil {
				return nil, fmt.Errorf("field %s: %w", f, err)
			}
		}
		pos := nKeys + nFields
		eventTime, err := d.decodeTime(values[pos])
		if err != nil {
			return nil, fmt.Errorf("event timestamp: %w", err)
		}
		record.EventTime = eventTime
		pos++
		if hasCreated {
			if record.CreatedTime, err = d.decodeTime(values[pos]); err != nil {
				return nil, fmt.Errorf("created timestamp: %w", err)
			}
			pos++
		}
		if ordinal != "" {
			if o, err := coerceOrdinal(values[pos]); err == nil {
				record.Ordinal = o
			}
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (d *FeatureViewSQLOfflineDao) decodeTime(v interface{}) (time.Time, error) {
	if v == nil {
		return time.Time{}, nil
	}
	tv, err := d.dialect.decodeValue(constants.FS_TIMESTAMP, v)
	if err != nil {
		return time.Time{}, err
	}
	return tv.(time.Time), nil
}

func coerceOrdinal(v interface{}) (int64, error) {
	ov, err := api.CoerceValue(constants.FS_INT64, v)
	if err != nil || ov == nil {
		return 0, fmt.Errorf("ordinal %v is not an integer", v)
	}
	return ov.(int64), nil
}
