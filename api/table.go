package api

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/featurestore/featurestore-go-sdk/constants"
	"github.com/featurestore/featurestore-go-sdk/utils"
)

type Column struct {
	Name string
	Type constants.FSType
}

// Schema is an ordered set of uniquely named, typed columns.
type Schema struct {
	columns []Column
	index   map[string]int
}

func NewSchema(columns ...Column) (*Schema, error) {
	s := &Schema{
		columns: make([]Column, 0, len(columns)),
		index:   make(map[string]int, len(columns)),
	}
	for _, c := range columns {
		if c.Name == "" {
			return nil, fmt.Errorf("schema column name is empty")
		}
		if _, ok := s.index[c.Name]; ok {
			return nil, fmt.Errorf("schema column %s is duplicated", c.Name)
		}
		s.index[c.Name] = len(s.columns)
		s.columns = append(s.columns, c)
	}
	return s, nil
}

func MustSchema(columns ...Column) *Schema {
	s, err := NewSchema(columns...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Schema) Len() int {
	return len(s.columns)
}

func (s *Schema) Columns() []Column {
	return append([]Column(nil), s.columns...)
}

func (s *Schema) Column(i int) Column {
	return s.columns[i]
}

// Index returns the position of the column or -1.
func (s *Schema) Index(name string) int {
	if i, ok := s.index[name]; ok {
		return i
	}
	return -1
}

func (s *Schema) Has(name string) bool {
	_, ok := s.index[name]
	return ok
}

func (s *Schema) Lookup(name string) (Column, bool) {
	i, ok := s.index[name]
	if !ok {
		return Column{}, false
	}
	return s.columns[i], true
}

func (s *Schema) Names() []string {
	names := make([]string, len(s.columns))
	for i, c := range s.columns {
		names[i] = c.Name
	}
	return names
}

func (s *Schema) Equal(o *Schema) bool {
	if s.Len() != o.Len() {
		return false
	}
	for i, c := range s.columns {
		if c != o.columns[i] {
			return false
		}
	}
	return true
}

// Table is a row oriented, schema carrying table. Values appended to it are
// coerced to the Go type of their column so tables produced by different
// execution paths compare equal.
type Table struct {
	schema *Schema
	rows   [][]interface{}
}

func NewTable(schema *Schema) *Table {
	return &Table{schema: schema}
}

func NewTableFromRecords(schema *Schema, records []map[string]interface{}) (*Table, error) {
	t := NewTable(schema)
	for _, r := range records {
		if err := t.AppendRecord(r); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Table) Schema() *Schema {
	return t.schema
}

func (t *Table) NumRows() int {
	return len(t.rows)
}

func (t *Table) Append(values ...interface{}) error {
	if len(values) != t.schema.Len() {
		return fmt.Errorf("row has %d values, schema has %d columns", len(values), t.schema.Len())
	}
	row := make([]interface{}, len(values))
	for i, v := range values {
		c := t.schema.columns[i]
		cv, err := CoerceValue(c.Type, v)
		if err != nil {
			return fmt.Errorf("column %s: %w", c.Name, err)
		}
		row[i] = cv
	}
	t.rows = append(t.rows, row)
	return nil
}

// AppendRecord appends a row by column name. Missing columns are null.
func (t *Table) AppendRecord(record map[string]interface{}) error {
	values := make([]interface{}, t.schema.Len())
	for i, c := range t.schema.columns {
		values[i] = record[c.Name]
	}
	return t.Append(values...)
}

// Copy returns a table sharing the schema with its own rows.
func (t *Table) Copy() *Table {
	rows := make([][]interface{}, len(t.rows))
	for i, row := range t.rows {
		rows[i] = append([]interface{}(nil), row...)
	}
	return &Table{schema: t.schema, rows: rows}
}

func (t *Table) Row(i int) []interface{} {
	return t.rows[i]
}

func (t *Table) Value(i int, name string) interface{} {
	idx := t.schema.Index(name)
	if idx < 0 {
		return nil
	}
	return t.rows[i][idx]
}

func (t *Table) Column(name string) ([]interface{}, error) {
	idx := t.schema.Index(name)
	if idx < 0 {
		return nil, fmt.Errorf("column %s not found", name)
	}
	values := make([]interface{}, len(t.rows))
	for i, row := range t.rows {
		values[i] = row[idx]
	}
	return values, nil
}

func (t *Table) Records() []map[string]interface{} {
	records := make([]map[string]interface{}, len(t.rows))
	for i, row := range t.rows {
		record := make(map[string]interface{}, len(row))
		for j, c := range t.schema.columns {
			record[c.Name] = row[j]
		}
		records[i] = record
	}
	return records
}

// ToDict returns column name to the ordered column values.
func (t *Table) ToDict() map[string][]interface{} {
	dict := make(map[string][]interface{}, t.schema.Len())
	for j, c := range t.schema.columns {
		values := make([]interface{}, len(t.rows))
		for i, row := range t.rows {
			values[i] = row[j]
		}
		dict[c.Name] = values
	}
	return dict
}

func (t *Table) Select(names ...string) (*Table, error) {
	columns := make([]Column, 0, len(names))
	idx := make([]int, 0, len(names))
	for _, name := range names {
		i := t.schema.Index(name)
		if i < 0 {
			return nil, fmt.Errorf("column %s not found", name)
		}
		columns = append(columns, t.schema.columns[i])
		idx = append(idx, i)
	}
	schema, err := NewSchema(columns...)
	if err != nil {
		return nil, err
	}
	out := &Table{schema: schema, rows: make([][]interface{}, len(t.rows))}
	for r, row := range t.rows {
		newRow := make([]interface{}, len(idx))
		for j, i := range idx {
			newRow[j] = row[i]
		}
		out.rows[r] = newRow
	}
	return out, nil
}

// WithColumns returns a table with extra columns appended. values is
// indexed [column][row].
func (t *Table) WithColumns(columns []Column, values [][]interface{}) (*Table, error) {
	if len(columns) != len(values) {
		return nil, fmt.Errorf("%d columns with %d value lists", len(columns), len(values))
	}
	schema, err := NewSchema(append(t.schema.Columns(), columns...)...)
	if err != nil {
		return nil, err
	}
	out := &Table{schema: schema, rows: make([][]interface{}, len(t.rows))}
	for r, row := range t.rows {
		newRow := make([]interface{}, 0, schema.Len())
		newRow = append(newRow, row...)
		for j, c := range columns {
			if len(values[j]) != len(t.rows) {
				return nil, fmt.Errorf("column %s has %d values, table has %d rows", c.Name, len(values[j]), len(t.rows))
			}
			cv, err := CoerceValue(c.Type, values[j][r])
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", c.Name, err)
			}
			newRow = append(newRow, cv)
		}
		out.rows[r] = newRow
	}
	return out, nil
}

// Rename returns the same rows under new column names.
func (t *Table) Rename(names ...string) (*Table, error) {
	if len(names) != t.schema.Len() {
		return nil, fmt.Errorf("%d names for %d columns", len(names), t.schema.Len())
	}
	columns := t.schema.Columns()
	for i := range columns {
		columns[i].Name = names[i]
	}
	schema, err := NewSchema(columns...)
	if err != nil {
		return nil, err
	}
	return &Table{schema: schema, rows: t.rows}, nil
}

// SortBy stably sorts rows by the named columns, then by every remaining
// column left to right, which makes the order total.
func (t *Table) SortBy(names ...string) {
	order := make([]int, 0, t.schema.Len())
	seen := make(map[int]bool)
	for _, name := range names {
		if i := t.schema.Index(name); i >= 0 && !seen[i] {
			order = append(order, i)
			seen[i] = true
		}
	}
	for i := range t.schema.columns {
		if !seen[i] {
			order = append(order, i)
		}
	}
	sort.SliceStable(t.rows, func(a, b int) bool {
		for _, i := range order {
			if c := utils.CompareValues(t.rows[a][i], t.rows[b][i]); c != 0 {
				return c < 0
			}
		}
		return false
	})
}

// Equal reports whether both tables have the same schema and the same rows in
// the same order.
func (t *Table) Equal(o *Table) bool {
	if !t.schema.Equal(o.schema) || len(t.rows) != len(o.rows) {
		return false
	}
	for i, row := range t.rows {
		for j, v := range row {
			if !valuesIdentical(v, o.rows[i][j]) {
				return false
			}
		}
	}
	return true
}

func (t *Table) String() string {
	var b strings.Builder
	b.WriteString(strings.Join(t.schema.Names(), "\t"))
	for _, row := range t.rows {
		b.WriteByte('\n')
		for j, v := range row {
			if j > 0 {
				b.WriteByte('\t')
			}
			b.WriteString(utils.ToString(v, "<nil>"))
		}
	}
	return b.String()
}

func valuesIdentical(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	return a == b
}

// CoerceValue converts v to the canonical Go type of t: int32, int64,
// float32, float64, string, bool or UTC time.Time. nil stays nil.
func CoerceValue(t constants.FSType, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case constants.FS_INT32:
		i, err := coerceInt(v)
		if err != nil {
			return nil, err
		}
		if i > math.MaxInt32 || i < math.MinInt32 {
			return nil, fmt.Errorf("value %d overflows INT32", i)
		}
		return int32(i), nil
	case constants.FS_INT64:
		return coerceInt(v)
	case constants.FS_FLOAT:
		f, err := coerceFloat(v)
		if err != nil {
			return nil, err
		}
		return float32(f), nil
	case constants.FS_DOUBLE:
		if f, ok := v.(float32); ok {
			return float64(f), nil
		}
		return coerceFloat(v)
	case constants.FS_STRING:
		switch s := v.(type) {
		case string:
			return s, nil
		case []byte:
			return string(s), nil
		}
		return utils.ToString(v, ""), nil
	case constants.FS_BOOLEAN:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string, []byte:
			pb, err := strconv.ParseBool(utils.ToString(b, ""))
			if err != nil {
				return nil, fmt.Errorf("cannot convert %q to BOOLEAN", b)
			}
			return pb, nil
		}
		i, err := coerceInt(v)
		if err != nil {
			return nil, err
		}
		return i != 0, nil
	case constants.FS_TIMESTAMP:
		if ts, ok := utils.ToTime(v); ok {
			return ts, nil
		}
		return nil, fmt.Errorf("cannot convert %v (%T) to TIMESTAMP", v, v)
	}
	return nil, fmt.Errorf("unsupported feature type %s", t)
}

func coerceInt(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int, int8, int16, int32, int64, uint8, uint16, uint32, uint64:
		return utils.ToInt64(n, 0), nil
	case float32:
		if float32(int64(n)) != n {
			return 0, fmt.Errorf("value %v is not integral", n)
		}
		return int64(n), nil
	case float64:
		if float64(int64(n)) != n {
			return 0, fmt.Errorf("value %v is not integral", n)
		}
		return int64(n), nil
	case bool:
		return utils.ToInt64(n, 0), nil
	case string, []byte:
		i, err := strconv.ParseInt(strings.TrimSpace(utils.ToString(n, "")), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert %q to integer", n)
		}
		return i, nil
	}
	return 0, fmt.Errorf("cannot convert %v (%T) to integer", v, v)
}

func coerceFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int, int8, int16, int32, int64, uint8, uint16, uint32, uint64:
		return utils.ToFloat(n, 0), nil
	case string, []byte:
		f, err := strconv.ParseFloat(strings.TrimSpace(utils.ToString(n, "")), 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert %q to float", n)
		}
		return f, nil
	}
	return 0, fmt.Errorf("cannot convert %v (%T) to float", v, v)
}
