package dao

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/featurestore/featurestore-go-sdk/api"
	"github.com/featurestore/featurestore-go-sdk/constants"
	"github.com/featurestore/featurestore-go-sdk/datasource/hologres"
	"github.com/featurestore/featurestore-go-sdk/datasource/mysql"
	"github.com/featurestore/featurestore-go-sdk/datasource/sqlite"
	"github.com/huandu/go-sqlbuilder"
)

// sqlDialect hides the differences between the supported SQL datasources.
// SQLite keeps timestamps as INTEGER unix microseconds, the others use their
// native timestamp types.
type sqlDialect struct {
	datasourceType string
	flavor         sqlbuilder.Flavor
}

func newSQLDialect(datasourceType string) (*sqlDialect, error) {
	switch datasourceType {
	case constants.Datasource_Type_Sqlite:
		return &sqlDialect{datasourceType: datasourceType, flavor: sqlbuilder.SQLite}, nil
	case constants.Datasource_Type_MySQL:
		return &sqlDialect{datasourceType: datasourceType, flavor: sqlbuilder.MySQL}, nil
	case constants.Datasource_Type_Hologres:
		return &sqlDialect{datasourceType: datasourceType, flavor: sqlbuilder.PostgreSQL}, nil
	}
	return nil, fmt.Errorf("datasource type %s is not a sql datasource", datasourceType)
}

func getSQLDB(datasourceType, name string) (*sql.DB, error) {
	switch datasourceType {
	case constants.Datasource_Type_Sqlite:
		instance, err := sqlite.GetSqlite(name)
		if err != nil {
			return nil, err
		}
		return instance.DB, nil
	case constants.Datasource_Type_MySQL:
		instance, err := mysql.GetMySQL(name)
		if err != nil {
			return nil, err
		}
		return instance.DB, nil
	case constants.Datasource_Type_Hologres:
		instance, err := hologres.GetHologres(name)
		if err != nil {
			return nil, err
		}
		return instance.DB, nil
	}
	return nil, fmt.Errorf("datasource type %s is not a sql datasource", datasourceType)
}

func (d *sqlDialect) quote(name string) string {
	return d.flavor.Quote(name)
}

func (d *sqlDialect) quoteAll(names []string) []string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = d.quote(n)
	}
	return quoted
}

func (d *sqlDialect) columnType(t constants.FSType) string {
	switch d.datasourceType {
	case constants.Datasource_Type_Sqlite:
		switch t {
		case constants.FS_INT32, constants.FS_INT64, constants.FS_BOOLEAN, constants.FS_TIMESTAMP:
			return "INTEGER"
		case constants.FS_FLOAT, constants.FS_DOUBLE:
			return "REAL"
		}
		return "TEXT"
	case constants.Datasource_Type_MySQL:
		switch t {
		case constants.FS_INT32:
			return "INT"
		case constants.FS_INT64:
			return "BIGINT"
		case constants.FS_FLOAT:
			return "FLOAT"
		case constants.FS_DOUBLE:
			return "DOUBLE"
		case constants.FS_BOOLEAN:
			return "BOOLEAN"
		case constants.FS_TIMESTAMP:
			return "DATETIME(6)"
		}
		return "VARCHAR(255)"
	default:
		switch t {
		case constants.FS_INT32:
			return "INTEGER"
		case constants.FS_INT64:
			return "BIGINT"
		case constants.FS_FLOAT:
			return "REAL"
		case constants.FS_DOUBLE:
			return "DOUBLE PRECISION"
		case constants.FS_BOOLEAN:
			return "BOOLEAN"
		case constants.FS_TIMESTAMP:
			return "TIMESTAMPTZ"
		}
		return "TEXT"
	}
}

func (d *sqlDialect) blobType() string {
	switch d.datasourceType {
	case constants.Datasource_Type_MySQL:
		return "LONGBLOB"
	case constants.Datasource_Type_Hologres:
		return "BYTEA"
	}
	return "BLOB"
}

func (d *sqlDialect) keyType() string {
	if d.datasourceType == constants.Datasource_Type_MySQL {
		return "VARCHAR(255)"
	}
	return "TEXT"
}

// encodeArg prepares a typed value as a statement argument.
func (d *sqlDialect) encodeArg(t constants.FSType, v interface{}) (interface{}, error) {
	cv, err := api.CoerceValue(t, v)
	if err != nil || cv == nil {
		return nil, err
	}
	if ts, ok := cv.(time.Time); ok {
		return d.encodeTime(ts), nil
	}
	return cv, nil
}

func (d *sqlDialect) encodeTime(t time.Time) interface{} {
	if d.datasourceType == constants.Datasource_Type_Sqlite {
		return t.UnixMicro()
	}
	return t.UTC()
}

// decodeValue turns a scanned value into the canonical Go type of t.
func (d *sqlDialect) decodeValue(t constants.FSType, v interface{}) (interface{}, error) {
	if t == constants.FS_TIMESTAMP {
		switch n := v.(type) {
		case int64:
			return time.UnixMicro(n).UTC(), nil
		case int:
			return time.UnixMicro(int64(n)).UTC(), nil
		}
	}
	return api.CoerceValue(t, v)
}

// subtractDuration renders "expr - ttl" for a timestamp expression.
func (d *sqlDialect) subtractDuration(expr string, ttl time.Duration) string {
	micros := ttl.Microseconds()
	switch d.datasourceType {
	case constants.Datasource_Type_Sqlite:
		return fmt.Sprintf("(%s - %d)", expr, micros)
	case constants.Datasource_Type_MySQL:
		return fmt.Sprintf("DATE_SUB(%s, INTERVAL %d MICROSECOND)", expr, micros)
	}
	return fmt.Sprintf("(%s - INTERVAL '%d microseconds')", expr, micros)
}

// fsTypeOf maps a database column type name to a feature type.
func (d *sqlDialect) fsTypeOf(databaseType string) constants.FSType {
	t := strings.ToUpper(databaseType)
	switch {
	case strings.Contains(t, "BOOL"):
		return constants.FS_BOOLEAN
	case strings.Contains(t, "INT"):
		return constants.FS_INT64
	case strings.Contains(t, "REAL"), strings.Contains(t, "FLOA"), strings.Contains(t, "DOUB"),
		strings.Contains(t, "NUMERIC"), strings.Contains(t, "DECIMAL"):
		return constants.FS_DOUBLE
	case strings.Contains(t, "TIME"), strings.Contains(t, "DATE"):
		return constants.FS_TIMESTAMP
	}
	return constants.FS_STRING
}

func (d *sqlDialect) sourceRef(table, query, alias string) string {
	if query != "" {
		return fmt.Sprintf("(%s) AS %s", query, alias)
	}
	return fmt.Sprintf("%s AS %s", d.quote(table), alias)
}

// ordinalExpr is the tie breaker column of a source, SQLite tables fall back
// to their rowid.
func (d *sqlDialect) ordinalExpr(config *DaoConfig, alias string) string {
	if config.OrdinalField != "" {
		return alias + "." + d.quote(config.OrdinalField)
	}
	if d.datasourceType == constants.Datasource_Type_Sqlite && config.Query == "" {
		return alias + ".rowid"
	}
	return ""
}

func scanValues(rows *sql.Rows, n int) ([]interface{}, error) {
	values := make([]interface{}, n)
	holders := make([]interface{}, n)
	for i := range values {
		holders[i] = &values[i]
	}
	if err := rows.Scan(holders...); err != nil {
		return nil, err
	}
	return values, nil
}
