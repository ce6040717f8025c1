package codex

// Cond is a query predicate. It is a sealed value constructed via the
// combinator functions below and rendered into parameterized SQL by the
// query engine; predicate values are always bound, never inlined.
type Cond interface {
	render(w *sqlWriter, qualifier string)
	mapColumns(fn func(string) string) Cond
}

// basicCond is a single column/operator/value comparison. table optionally
// qualifies the column; cast optionally casts the bound value.
type basicCond struct {
	column string
	op     string
	value  any
	table  string
	cast   string
}

// groupCond combines nested predicates with AND or OR.
type groupCond struct {
	logic string
	conds []Cond
}

// rawCond is a literal SQL fragment carrying its own bound values. The
// fragment uses ? markers which are renumbered during rendering.
type rawCond struct {
	fragment string
	args     []any
}

// Eq matches column = value. A nil value renders IS NULL.
func Eq(column string, value any) Cond {
	return basicCond{column: column, op: "=", value: value}
}

// Ne matches column != value. A nil value renders IS NOT NULL.
func Ne(column string, value any) Cond {
	return basicCond{column: column, op: "!=", value: value}
}

// Gt matches column > value.
func Gt(column string, value any) Cond {
	return basicCond{column: column, op: ">", value: value}
}

// Ge matches column >= value.
func Ge(column string, value any) Cond {
	return basicCond{column: column, op: ">=", value: value}
}

// Lt matches column < value.
func Lt(column string, value any) Cond {
	return basicCond{column: column, op: "<", value: value}
}

// Le matches column <= value.
func Le(column string, value any) Cond {
	return basicCond{column: column, op: "<=", value: value}
}

// Like matches column LIKE pattern.
func Like(column string, pattern string) Cond {
	return basicCond{column: column, op: "LIKE", value: pattern}
}

// IsNull matches column IS NULL.
func IsNull(column string) Cond {
	return basicCond{column: column, op: "=", value: nil}
}

// NotNull matches column IS NOT NULL.
func NotNull(column string) Cond {
	return basicCond{column: column, op: "!=", value: nil}
}

// In matches column = ANY(values). The array cast is inferred from the value
// set unless overridden with Cast.
func In(column string, values ...any) Cond {
	return basicCond{column: column, op: "ANY", value: values}
}

// Contains matches array columns that contain value.
func Contains(column string, value any) Cond {
	return basicCond{column: column, op: "CONTAINS", value: value}
}

// Between matches low <= column <= high.
func Between(column string, low, high any) Cond {
	return basicCond{column: column, op: "BETWEEN", value: []any{low, high}}
}

// On qualifies a basic condition with an explicit table, for predicates that
// target a joined table rather than the query's main table.
func On(table string, c Cond) Cond {
	if b, ok := c.(basicCond); ok {
		b.table = table
		return b
	}
	return c
}

// Cast overrides the rendered parameter cast of a basic condition, e.g.
// Cast("uuid[]", In("id", ids...)).
func Cast(cast string, c Cond) Cond {
	if b, ok := c.(basicCond); ok {
		b.cast = cast
		return b
	}
	return c
}

// And groups predicates conjunctively.
func And(conds ...Cond) Cond {
	return groupCond{logic: "AND", conds: conds}
}

// Or groups predicates disjunctively.
func Or(conds ...Cond) Cond {
	return groupCond{logic: "OR", conds: conds}
}

// Raw embeds a literal predicate fragment with its own bound values. Use ?
// for each value; markers are renumbered into $n placeholders. The fragment
// must come from trusted code, never end-user input.
func Raw(fragment string, args ...any) Cond {
	return rawCond{fragment: fragment, args: args}
}

func (c basicCond) mapColumns(fn func(string) string) Cond {
	c.column = fn(c.column)
	return c
}

func (g groupCond) mapColumns(fn func(string) string) Cond {
	mapped := make([]Cond, len(g.conds))
	for i, c := range g.conds {
		mapped[i] = c.mapColumns(fn)
	}
	return groupCond{logic: g.logic, conds: mapped}
}

func (r rawCond) mapColumns(func(string) string) Cond { return r }

func (c basicCond) render(w *sqlWriter, qualifier string) {
	table := c.table
	if table == "" {
		table = qualifier
	}
	col := qualify(table, c.column)

	switch c.op {
	case "ANY":
		values, _ := c.value.([]any)
		cast := c.cast
		if cast == "" {
			cast = inferArrayCast(values)
		}
		w.WriteString(col)
		w.WriteString(" = ANY(")
		w.WriteString(w.arg(values))
		w.WriteString("::")
		w.WriteString(cast)
		w.WriteString(")")
	case "CONTAINS":
		w.WriteString(w.arg(c.value))
		if c.cast != "" {
			w.WriteString("::" + c.cast)
		}
		w.WriteString(" = ANY(")
		w.WriteString(col)
		w.WriteString(")")
	case "BETWEEN":
		pair, _ := c.value.([]any)
		w.WriteString(col)
		w.WriteString(" BETWEEN ")
		w.WriteString(w.arg(pair[0]))
		w.WriteString(" AND ")
		w.WriteString(w.arg(pair[1]))
	default:
		if c.value == nil {
			// Equality against null is meaningless in SQL; rewrite.
			w.WriteString(col)
			if c.op == "!=" {
				w.WriteString(" IS NOT NULL")
			} else {
				w.WriteString(" IS NULL")
			}
			return
		}
		w.WriteString(col)
		w.WriteString(" ")
		w.WriteString(c.op)
		w.WriteString(" ")
		w.WriteString(w.arg(c.value))
		if c.cast != "" {
			w.WriteString("::" + c.cast)
		}
	}
}

func (g groupCond) render(w *sqlWriter, qualifier string) {
	if len(g.conds) == 0 {
		w.WriteString("TRUE")
		return
	}
	w.WriteString("(")
	for i, c := range g.conds {
		if i > 0 {
			w.WriteString(" " + g.logic + " ")
		}
		c.render(w, qualifier)
	}
	w.WriteString(")")
}

func (r rawCond) render(w *sqlWriter, _ string) {
	w.WriteString("(")
	argIdx := 0
	for _, ch := range r.fragment {
		if ch == '?' && argIdx < len(r.args) {
			w.WriteString(w.arg(r.args[argIdx]))
			argIdx++
			continue
		}
		w.WriteRune(ch)
	}
	w.WriteString(")")
}
