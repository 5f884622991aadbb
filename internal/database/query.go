package database

import (
	"strconv"
	"strings"
)

// FilterOp is a comparison operator usable in a WHERE clause.
type FilterOp string

const (
	OpEq  FilterOp = "="
	OpNe  FilterOp = "!="
	OpGt  FilterOp = ">"
	OpGte FilterOp = ">="
	OpLt  FilterOp = "<"
	OpLte FilterOp = "<="
	OpIn  FilterOp = "IN"
)

// QueryBuilder assembles parameterized SELECT statements for a single table.
// Column names are trusted; only values are bound.
type QueryBuilder struct {
	table   string
	columns []string
	where   []string
	args    []any
	order   []string
	limit   int
}

// In converts a typed slice into the value list an OpIn filter expects.
func In[T any](values []T) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func NewQuery(table string) *QueryBuilder {
	return &QueryBuilder{table: table}
}

func (q *QueryBuilder) Select(columns ...string) *QueryBuilder {
	q.columns = columns
	return q
}

// Filter adds a condition. OpIn takes the []any produced by In; an empty list
// matches nothing.
func (q *QueryBuilder) Filter(column string, op FilterOp, value any) *QueryBuilder {
	if op != OpIn {
		q.where = append(q.where, column+" "+string(op)+" ?")
		q.args = append(q.args, value)
		return q
	}

	values, ok := value.([]any)
	if !ok {
		values = []any{value}
	}
	if len(values) == 0 {
		q.where = append(q.where, "0")
		return q
	}
	q.where = append(q.where, column+" IN ("+strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")+")")
	q.args = append(q.args, values...)
	return q
}

func (q *QueryBuilder) Where(column string, value any) *QueryBuilder {
	return q.Filter(column, OpEq, value)
}

func (q *QueryBuilder) OrderBy(column string) *QueryBuilder {
	q.order = append(q.order, column+" ASC")
	return q
}

func (q *QueryBuilder) OrderByDesc(column string) *QueryBuilder {
	q.order = append(q.order, column+" DESC")
	return q
}

func (q *QueryBuilder) Limit(n int) *QueryBuilder {
	q.limit = n
	return q
}

// Build returns the statement and its bind arguments.
func (q *QueryBuilder) Build() (string, []any) {
	cols := "*"
	if len(q.columns) > 0 {
		cols = strings.Join(q.columns, ", ")
	}

	var sb strings.Builder
	sb.WriteString("SELECT " + cols + " FROM " + q.table)
	if len(q.where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(q.where, " AND "))
	}
	if len(q.order) > 0 {
		sb.WriteString(" ORDER BY " + strings.Join(q.order, ", "))
	}
	if q.limit > 0 {
		sb.WriteString(" LIMIT " + strconv.Itoa(q.limit))
	}
	return sb.String(), q.args
}
