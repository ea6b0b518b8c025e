package db

import (
	"fmt"
	"strings"
)

// Query assembles a filtered, paginated SELECT. Clauses use PostgreSQL
// positional parameters; Idx reports the next free one.
type Query struct {
	from    string
	cols    string
	where   []string
	args    []interface{}
	idx     int
	orderBy string
}

// NewQuery starts a query over from, which may include joins.
func NewQuery(from, cols string) *Query {
	return &Query{from: from, cols: cols, idx: 1}
}

func (q *Query) Idx() int { return q.idx }

// Add appends a raw clause whose placeholders start at Idx().
func (q *Query) Add(clause string, args ...interface{}) *Query {
	q.where = append(q.where, clause)
	q.args = append(q.args, args...)
	q.idx += len(args)
	return q
}

// Eq adds "column = $n".
func (q *Query) Eq(column string, value interface{}) *Query {
	return q.Add(fmt.Sprintf("%s = $%d", column, q.idx), value)
}

// Contains adds a case-insensitive substring match against any of columns.
// An empty term adds nothing.
func (q *Query) Contains(term string, columns ...string) *Query {
	term = strings.TrimSpace(term)
	if term == "" || len(columns) == 0 {
		return q
	}
	parts := make([]string, len(columns))
	for i, col := range columns {
		parts[i] = fmt.Sprintf("%s ILIKE $%d", col, q.idx)
	}
	return q.Add("("+strings.Join(parts, " OR ")+")", "%"+EscapeLike(term)+"%")
}

// In adds "column = ANY($n)".
func (q *Query) In(column string, values interface{}) *Query {
	return q.Add(fmt.Sprintf("%s = ANY($%d)", column, q.idx), values)
}

func (q *Query) OrderBy(orderBy string) *Query {
	q.orderBy = orderBy
	return q
}

func (q *Query) whereSQL() string {
	if len(q.where) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(q.where, " AND ")
}

func (q *Query) CountSQL() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s%s", q.from, q.whereSQL())
}

// Args returns the filter arguments, matching CountSQL and SelectSQL.
func (q *Query) Args() []interface{} {
	return q.args
}

// SelectSQL returns the unpaginated query.
func (q *Query) SelectSQL() string {
	sql := fmt.Sprintf("SELECT %s FROM %s%s", q.cols, q.from, q.whereSQL())
	if q.orderBy != "" {
		sql += " ORDER BY " + q.orderBy
	}
	return sql
}

// DataSQL returns the query with LIMIT and OFFSET placeholders appended.
func (q *Query) DataSQL() string {
	return q.SelectSQL() + fmt.Sprintf(" LIMIT $%d OFFSET $%d", q.idx, q.idx+1)
}

func (q *Query) DataArgs(limit, offset int) []interface{} {
	out := make([]interface{}, len(q.args), len(q.args)+2)
	copy(out, q.args)
	return append(out, limit, offset)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// EscapeLike escapes LIKE wildcards so user input matches literally.
func EscapeLike(s string) string {
	return likeEscaper.Replace(s)
}
