package codex

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// statement is a rendered SQL string with its bound arguments, ready for the
// executor.
type statement struct {
	sql  string
	args []any
}

// sqlWriter accumulates SQL text and numbers bound values into $n
// placeholders as they are appended.
type sqlWriter struct {
	strings.Builder
	args []any
}

// arg binds a value and returns its placeholder.
func (w *sqlWriter) arg(v any) string {
	w.args = append(w.args, v)
	return "$" + strconv.Itoa(len(w.args))
}

func (w *sqlWriter) statement() statement {
	return statement{sql: w.Builder.String(), args: w.args}
}

// quoteIdent quotes a SQL identifier. Identifiers come only from trusted
// schema and manifest declarations, never end-user input; quoting guards
// against reserved words and embedded quotes, not injection.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// qualify renders table.column, quoting both parts. An empty table yields a
// bare quoted column. A column already containing a dot is treated as
// pre-qualified.
func qualify(table, column string) string {
	if i := strings.IndexByte(column, '.'); i >= 0 {
		return quoteIdent(column[:i]) + "." + quoteIdent(column[i+1:])
	}
	if table == "" {
		return quoteIdent(column)
	}
	return quoteIdent(table) + "." + quoteIdent(column)
}

// inferArrayCast picks the parameter array cast for = ANY(...) from the
// value set, keeping parameter typing correct when no explicit cast is
// given: all-uuid strings cast to uuid[], numbers to numeric[], bools to
// boolean[], everything else to text[].
func inferArrayCast(values []any) string {
	if len(values) == 0 {
		return "text[]"
	}
	allUUID, allNumber, allBool := true, true, true
	for _, v := range values {
		if s, ok := v.(string); ok {
			if _, err := uuid.Parse(s); err != nil {
				allUUID = false
			}
		} else {
			allUUID = false
		}
		if _, ok := toFloat(v); !ok {
			allNumber = false
		}
		if _, ok := v.(bool); !ok {
			allBool = false
		}
	}
	switch {
	case allUUID:
		return "uuid[]"
	case allNumber:
		return "numeric[]"
	case allBool:
		return "boolean[]"
	}
	return "text[]"
}

// orderTerm is one ORDER BY entry.
type orderTerm struct {
	column string
	dir    string // "ASC" or "DESC"
}

// joinClause is one rendered LEFT JOIN.
type joinClause struct {
	table string
	alias string
	onRaw []string // pre-rendered hops and gates, e.g. alias.col = parent.col
}

// selectQuery describes a SELECT to render. Columns are explicit select-list
// entries; an unqualified * is never emitted so per-request sensitive-field
// exclusion always holds.
type selectQuery struct {
	table   string
	columns []string
	joins   []joinClause
	where   []Cond
	orderBy []orderTerm
	limit   int
	offset  int
}

func (q *selectQuery) render() statement {
	w := &sqlWriter{}
	qualifier := ""
	if len(q.joins) > 0 {
		qualifier = q.table
	}

	w.WriteString("SELECT ")
	w.WriteString(strings.Join(q.columns, ", "))
	w.WriteString(" FROM ")
	w.WriteString(quoteIdent(q.table))

	for _, j := range q.joins {
		w.WriteString(" LEFT JOIN ")
		w.WriteString(quoteIdent(j.table))
		if j.alias != "" && j.alias != j.table {
			w.WriteString(" AS " + quoteIdent(j.alias))
		}
		w.WriteString(" ON ")
		if len(j.onRaw) == 0 {
			w.WriteString("TRUE")
		} else {
			w.WriteString(strings.Join(j.onRaw, " AND "))
		}
	}

	renderWhere(w, q.where, qualifier)

	if len(q.orderBy) > 0 {
		w.WriteString(" ORDER BY ")
		for i, o := range q.orderBy {
			if i > 0 {
				w.WriteString(", ")
			}
			w.WriteString(qualify(qualifier, o.column))
			if o.dir != "" {
				w.WriteString(" " + o.dir)
			}
		}
	}
	if q.limit > 0 {
		w.WriteString(" LIMIT " + strconv.Itoa(q.limit))
	}
	if q.offset > 0 {
		w.WriteString(" OFFSET " + strconv.Itoa(q.offset))
	}
	return w.statement()
}

func renderWhere(w *sqlWriter, where []Cond, qualifier string) {
	if len(where) == 0 {
		return
	}
	w.WriteString(" WHERE ")
	for i, c := range where {
		if i > 0 {
			w.WriteString(" AND ")
		}
		c.render(w, qualifier)
	}
}

// renderInsert builds INSERT ... RETURNING so generated columns round-trip
// back into the instance.
func renderInsert(table string, columns []string, values []any, returning []string) statement {
	w := &sqlWriter{}
	w.WriteString("INSERT INTO ")
	w.WriteString(quoteIdent(table))
	w.WriteString(" (")
	for i, col := range columns {
		if i > 0 {
			w.WriteString(", ")
		}
		w.WriteString(quoteIdent(col))
	}
	w.WriteString(") VALUES (")
	for i, v := range values {
		if i > 0 {
			w.WriteString(", ")
		}
		w.WriteString(w.arg(v))
	}
	w.WriteString(")")
	if len(returning) > 0 {
		w.WriteString(" RETURNING ")
		for i, col := range returning {
			if i > 0 {
				w.WriteString(", ")
			}
			w.WriteString(quoteIdent(col))
		}
	}
	return w.statement()
}

func renderUpdate(table string, columns []string, values []any, where []Cond) statement {
	w := &sqlWriter{}
	w.WriteString("UPDATE ")
	w.WriteString(quoteIdent(table))
	w.WriteString(" SET ")
	for i, col := range columns {
		if i > 0 {
			w.WriteString(", ")
		}
		w.WriteString(quoteIdent(col))
		w.WriteString(" = ")
		w.WriteString(w.arg(values[i]))
	}
	renderWhere(w, where, "")
	return w.statement()
}

func renderDelete(table string, where []Cond) statement {
	w := &sqlWriter{}
	w.WriteString("DELETE FROM ")
	w.WriteString(quoteIdent(table))
	renderWhere(w, where, "")
	return w.statement()
}
