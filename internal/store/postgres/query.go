package postgres

import (
	"fmt"
	"strings"
)

// query assembles a SELECT with positional arguments.
type query struct {
	sql  string
	args []any
}

func newQuery(base string, args ...any) *query {
	return &query{sql: base, args: args}
}

// where appends "AND cond", where cond contains one %s for the argument
// placeholder.
func (q *query) where(cond string, arg any) {
	q.args = append(q.args, arg)
	q.sql += " AND " + fmt.Sprintf(cond, fmt.Sprintf("$%d", len(q.args)))
}

func (q *query) order(by string) {
	q.sql += " ORDER BY " + by
}

func (q *query) page(limit, offset int) {
	if limit > 0 {
		q.args = append(q.args, limit)
		q.sql += fmt.Sprintf(" LIMIT $%d", len(q.args))
	}
	if offset > 0 {
		q.args = append(q.args, offset)
		q.sql += fmt.Sprintf(" OFFSET $%d", len(q.args))
	}
}

func (q *query) String() string {
	return strings.Join(strings.Fields(q.sql), " ")
}
