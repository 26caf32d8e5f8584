package dao

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/featurestore/featurestore-go-sdk/api"
	"github.com/featurestore/featurestore-go-sdk/constants"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
)

const spineInsertBatch = 200

// SQLPushdownDao runs point-in-time joins as window queries inside a sql
// datasource. A spine table is uploaded to a uniquely named table for the
// duration of one join.
type SQLPushdownDao struct {
	db      *sql.DB
	dialect *sqlDialect
}

func NewSQLPushdownDao(datasourceType, datasourceName string) (*SQLPushdownDao, error) {
	dialect, err := newSQLDialect(datasourceType)
	if err != nil {
		return nil, err
	}
	db, err := getSQLDB(datasourceType, datasourceName)
	if err != nil {
		return nil, err
	}
	return &SQLPushdownDao{db: db, dialect: dialect}, nil
}

func (d *SQLPushdownDao) DescribeQuery(ctx context.Context, query, timestampField string) (*api.Schema, error) {
	rows, err := d.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM (%s) AS %s LIMIT 0", query, d.dialect.quote("__q")))
	if err != nil {
		return nil, fmt.Errorf("describe entity query: %w", err)
	}
	defer rows.Close()
	return d.schemaOf(rows, timestampField)
}

func (d *SQLPushdownDao) ReadQuery(ctx context.Context, query, timestampField string) (*api.Table, error) {
	rows, err := d.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM (%s) AS %s", query, d.dialect.quote("__q")))
	if err != nil {
		return nil, fmt.Errorf("read entity query: %w", err)
	}
	defer rows.Close()
	schema, err := d.schemaOf(rows, timestampField)
	if err != nil {
		return nil, err
	}
	return d.readTable(rows, schema)
}

func (d *SQLPushdownDao) schemaOf(rows *sql.Rows, timestampField string) (*api.Schema, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	columns := make([]api.Column, len(types))
	for i, ct := range types {
		t := d.dialect.fsTypeOf(ct.DatabaseTypeName())
		if ct.Name() == timestampField {
			t = constants.FS_TIMESTAMP
		}
		columns[i] = api.Column{Name: ct.Name(), Type: t}
	}
	schema, err := api.NewSchema(columns...)
	if err != nil {
		return nil, err
	}
	if !schema.Has(timestampField) {
		return nil, &api.SchemaMismatchError{Table: "entity query", Missing: []string{timestampField}}
	}
	return schema, nil
}

func (d *SQLPushdownDao) readTable(rows *sql.Rows, schema *api.Schema) (*api.Table, error) {
	table := api.NewTable(schema)
	columns := schema.Columns()
	for rows.Next() {
		values, err := scanValues(rows, len(columns))
		if err != nil {
			return nil, err
		}
		for i, c := range columns {
			if values[i], err = d.dialect.decodeValue(c.Type, values[i]); err != nil {
				return nil, fmt.Errorf("column %s: %w", c.Name, err)
			}
		}
		if err := table.Append(values...); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return table, nil
}

func (d *SQLPushdownDao) AsofJoin(ctx context.Context, spine SpineSource, spineSchema *api.Schema, plans []*JoinPlan) (*api.Table, error) {
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var spineRef string
	if spine.Table != nil {
		name := "__spine_" + strings.ReplaceAll(uuid.NewString(), "-", "")
		if err := d.uploadSpine(ctx, conn, name, spine.Table); err != nil {
			d.dropTable(conn, name)
			return nil, err
		}
		defer d.dropTable(conn, name)
		spineRef = d.dialect.quote(name)
	} else {
		spineRef = fmt.Sprintf("(%s) AS %s", spine.Query, d.dialect.quote("__spine_src"))
	}

	query := d.buildAsofQuery(spineRef, spineSchema, spine.TimestampField, plans)
	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("point in time join: %w", err)
	}
	defer rows.Close()

	columns := append([]api.Column(nil), spineSchema.Columns()...)
	for _, plan := range plans {
		for i, field := range plan.Config.Fields {
			columns = append(columns, api.Column{Name: plan.OutputNames[i], Type: plan.Config.fieldType(field)})
		}
	}
	schema, err := api.NewSchema(columns...)
	if err != nil {
		return nil, err
	}
	return d.readTable(rows, schema)
}

func (d *SQLPushdownDao) uploadSpine(ctx context.Context, conn *sql.Conn, name string, table *api.Table) error {
	columns := table.Schema().Columns()
	ctb := sqlbuilder.NewCreateTableBuilder()
	ctb.CreateTable(d.dialect.quote(name))
	for _, c := range columns {
		ctb.Define(d.dialect.quote(c.Name), d.dialect.columnType(c.Type))
	}
	ddl, _ := ctb.BuildWithFlavor(d.dialect.flavor)
	if _, err := conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create spine table: %w", err)
	}

	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = d.dialect.quote(c.Name)
	}
	for start := 0; start < table.NumRows(); start += spineInsertBatch {
		end := start + spineInsertBatch
		if end > table.NumRows() {
			end = table.NumRows()
		}
		ib := sqlbuilder.NewInsertBuilder()
		ib.InsertInto(d.dialect.quote(name))
		ib.Cols(names...)
		for r := start; r < end; r++ {
			row := table.Row(r)
			args := make([]interface{}, len(row))
			for i, v := range row {
				arg, err := d.dialect.encodeArg(columns[i].Type, v)
				if err != nil {
					return fmt.Errorf("spine column %s: %w", columns[i].Name, err)
				}
				args[i] = arg
			}
			ib.Values(args...)
		}
		insert, args := ib.BuildWithFlavor(d.dialect.flavor)
		if _, err := conn.ExecContext(ctx, insert, args...); err != nil {
			return fmt.Errorf("upload spine: %w", err)
		}
	}
	return nil
}

func (d *SQLPushdownDao) dropTable(conn *sql.Conn, name string) {
	// the join context may already be cancelled
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn.ExecContext(ctx, "DROP TABLE IF EXISTS "+d.dialect.quote(name))
}

// buildAsofQuery renders one window query per plan: distinct (keys, ts)
// pairs of the spine are joined to eligible source rows, and the first row
// by event desc, created desc, ordinal asc is kept. Spine rows are then left
// joined to every ranked view so each spine row appears exactly once.
func (d *SQLPushdownDao) buildAsofQuery(spineRef string, spineSchema *api.Schema, tsField string, plans []*JoinPlan) string {
	q := d.dialect.quote
	spineCTE := q("__spine")

	ctes := []string{fmt.Sprintf("%s AS (SELECT * FROM %s)", spineCTE, spineRef)}
	selects := make([]string, 0, spineSchema.Len())
	for _, c := range spineSchema.Columns() {
		selects = append(selects, "sp."+q(c.Name))
	}
	var joins []string

	for i, plan := range plans {
		cfg := &plan.Config
		cteName := q(fmt.Sprintf("__fv_%d", i))
		alias := fmt.Sprintf("fv%d", i)

		var distinct, inner, outer, on, partition, joinOn []string
		for j, k := range cfg.JoinKeys {
			kc := q(fmt.Sprintf("__k%d", j))
			distinct = append(distinct, q(k))
			inner = append(inner, fmt.Sprintf("e.%s AS %s", q(k), kc))
			outer = append(outer, kc)
			on = append(on, fmt.Sprintf("src.%s = e.%s", q(k), q(k)))
			partition = append(partition, "e."+q(k))
			joinOn = append(joinOn, fmt.Sprintf("%s.%s = sp.%s", alias, kc, q(k)))
		}
		ts := "e." + q(tsField)
		distinct = append(distinct, q(tsField))
		inner = append(inner, fmt.Sprintf("%s AS %s", ts, q("__ts")))
		outer = append(outer, q("__ts"))
		partition = append(partition, ts)
		joinOn = append(joinOn, fmt.Sprintf("%s.%s = sp.%s", alias, q("__ts"), q(tsField)))

		for j, f := range cfg.Fields {
			fc := q(fmt.Sprintf("__f%d", j))
			inner = append(inner, fmt.Sprintf("src.%s AS %s", q(f), fc))
			outer = append(outer, fc)
			selects = append(selects, fmt.Sprintf("%s.%s AS %s", alias, fc, q(plan.OutputNames[j])))
		}

		event := "src." + q(cfg.EventTimeField)
		on = append(on, fmt.Sprintf("%s <= %s", event, ts))
		if cfg.TTL > 0 {
			on = append(on, fmt.Sprintf("%s >= %s", event, d.dialect.subtractDuration(ts, cfg.TTL)))
		}
		order := []string{event + " DESC"}
		if cfg.CreatedTimeField != "" {
			created := "src." + q(cfg.CreatedTimeField) + " DESC"
			if d.dialect.datasourceType == constants.Datasource_Type_Hologres {
				created += " NULLS LAST"
			}
			order = append(order, created)
		}
		if ordinal := d.dialect.ordinalExpr(cfg, "src"); ordinal != "" {
			order = append(order, ordinal+" ASC")
		}
		inner = append(inner, fmt.Sprintf("ROW_NUMBER() OVER (PARTITION BY %s ORDER BY %s) AS %s",
			strings.Join(partition, ", "), strings.Join(order, ", "), q("__rn")))

		ranked := fmt.Sprintf("SELECT %s FROM (SELECT DISTINCT %s FROM %s) AS e INNER JOIN %s ON %s",
			strings.Join(inner, ", "), strings.Join(distinct, ", "), spineCTE,
			d.dialect.sourceRef(cfg.TableName, cfg.Query, "src"), strings.Join(on, " AND "))
		ctes = append(ctes, fmt.Sprintf("%s AS (SELECT %s FROM (%s) AS r%d WHERE r%d.%s = 1)",
			cteName, strings.Join(outer, ", "), ranked, i, i, q("__rn")))
		joins = append(joins, fmt.Sprintf("LEFT JOIN %s AS %s ON %s", cteName, alias, strings.Join(joinOn, " AND ")))
	}

	var b strings.Builder
	b.WriteString("WITH ")
	b.WriteString(strings.Join(ctes, ", "))
	b.WriteString(" SELECT ")
	b.WriteString(strings.Join(selects, ", "))
	b.WriteString(" FROM ")
	b.WriteString(spineCTE)
	b.WriteString(" AS sp")
	for _, j := range joins {
		b.WriteByte(' ')
		b.WriteString(j)
	}
	return b.String()
}
