package codex

import (
	"context"
	"fmt"
	"strings"
)

// Cardinality says whether a relation resolves to one record or many.
type Cardinality string

const (
	One  Cardinality = "one"
	Many Cardinality = "many"
)

// Relation declares a join from one record type to another: the target's
// logical key, the join columns on both sides, the cardinality, and an
// optional through-table for many-to-many links. Revisioned targets are
// implicitly filtered to current, non-deleted rows inside the join.
type Relation struct {
	Name        string
	Target      string // logical key of the target type
	Cardinality Cardinality

	// SourceField/TargetField are logical field names. SourceField defaults
	// to "id". For direct relations TargetField is the foreign key on the
	// target; for through relations it is the target-side key the through
	// table points at (default "id").
	SourceField string
	TargetField string

	// Through names the physical many-to-many table; ThroughSource and
	// ThroughTarget are its columns pointing at the source and target sides.
	Through       string
	ThroughSource string
	ThroughTarget string
}

func (rel Relation) sourceField() string {
	if rel.SourceField == "" {
		return "id"
	}
	return rel.SourceField
}

func (rel Relation) targetField() string {
	if rel.TargetField == "" {
		return "id"
	}
	return rel.TargetField
}

// OrderSpec is an explicit join ordering directive.
type OrderSpec struct {
	Field     string
	Direction string // "ASC" (default) or "DESC"
}

// JoinOption refines a requested join. The zero value requests a plain join.
// Setting any directive makes the join complex: it runs as a second query so
// the parent row count is never multiplied.
type JoinOption struct {
	Limit            int
	Offset           int
	OrderBy          OrderSpec
	Filter           map[string]any
	IncludeSensitive bool
}

func (o JoinOption) complex() bool {
	return o.Limit > 0 || o.Offset > 0 || o.OrderBy.Field != "" || len(o.Filter) > 0
}

func (t *Type) relation(name string) (Relation, error) {
	rel, ok := t.relations[name]
	if !ok {
		return Relation{}, &ValidationError{Field: name, Reason: "relation is not declared"}
	}
	return rel, nil
}

// targetType resolves the relation's target through the connection registry.
func (t *Type) targetType(rel Relation) (*Type, error) {
	target, ok := t.c.registry().lookup(rel.Target)
	if !ok {
		return nil, &RegistrationError{Table: rel.Target, Reason: fmt.Sprintf("relation %q targets an unregistered type", rel.Name)}
	}
	return target, nil
}

// joinAlias prefixes a joined column for the folded select list.
func joinAlias(relName, column string) string {
	return relName + "__" + column
}

// revisionGate renders the implicit current+non-deleted filter applied to
// revisioned join targets inside the join condition.
func revisionGate(target *Type, alias string) []string {
	if !target.hasRevisions {
		return nil
	}
	return []string{
		qualify(alias, target.physical(fieldRevisionOf)) + " IS NULL",
		qualify(alias, target.physical(fieldDeleted)) + " = FALSE",
	}
}

// foldedJoin describes one simple join folded into the main SELECT.
type foldedJoin struct {
	rel      Relation
	target   *Type
	logicals []string // target projection in select-list order
	opt      JoinOption
}

// buildFoldedJoin appends the join clauses and aliased columns for a simple
// join. Through-table joins take the two-hop form.
func buildFoldedJoin(q *selectQuery, parent *Type, rel Relation, target *Type, opt JoinOption) foldedJoin {
	alias := rel.Name
	sourceCol := qualify(parent.table, parent.physical(rel.sourceField()))

	if rel.Through != "" {
		viaAlias := rel.Name + "__via"
		q.joins = append(q.joins, joinClause{
			table: rel.Through,
			alias: viaAlias,
			onRaw: []string{qualify(viaAlias, rel.ThroughSource) + " = " + sourceCol},
		})
		onRaw := []string{qualify(alias, target.physical(rel.targetField())) + " = " + qualify(viaAlias, rel.ThroughTarget)}
		q.joins = append(q.joins, joinClause{
			table: target.table,
			alias: alias,
			onRaw: append(onRaw, revisionGate(target, alias)...),
		})
	} else {
		onRaw := []string{qualify(alias, target.physical(rel.targetField())) + " = " + sourceCol}
		q.joins = append(q.joins, joinClause{
			table: target.table,
			alias: alias,
			onRaw: append(onRaw, revisionGate(target, alias)...),
		})
	}

	logicals, cols := target.projection(opt.IncludeSensitive)
	for i, col := range cols {
		q.columns = append(q.columns, qualify(alias, col)+" AS "+quoteIdent(joinAlias(rel.Name, logicals[i])))
	}
	return foldedJoin{rel: rel, target: target, logicals: logicals, opt: opt}
}

// hydrateFolded splits a folded join's column segment back into a nested
// record. An all-null segment means no match and yields nil, never an empty
// record.
func (fj foldedJoin) hydrate(row []any) *Record {
	allNull := true
	for _, v := range row {
		if v != nil {
			allNull = false
			break
		}
	}
	if allNull {
		return nil
	}
	return fj.target.hydrate(fj.logicals, row)
}

// attach wires a hydrated child into the parent according to cardinality,
// deduplicating to-many children that repeat across grouped rows. A to-one
// join with no match stays nil, never an empty record.
func (fj foldedJoin) attach(parent *Record, child *Record, seen map[string]map[string]struct{}) {
	name := fj.rel.Name
	if fj.rel.Cardinality == One {
		if child != nil && parent.joined[name] == nil {
			parent.joined[name] = child
		}
		return
	}
	existing, _ := parent.joined[name].([]*Record)
	if child == nil {
		if parent.joined[name] == nil {
			parent.joined[name] = []*Record{}
		}
		return
	}
	pkey := parent.ID()
	if seen[pkey] == nil {
		seen[pkey] = map[string]struct{}{}
	}
	if _, dup := seen[pkey][child.ID()]; dup {
		return
	}
	seen[pkey][child.ID()] = struct{}{}
	parent.joined[name] = append(existing, child)
}

// attachComplexJoin resolves a join with refinement directives as a second
// query keyed by the distinct source-side values, grouped client-side and
// attached so the parent count is preserved for 0, 1, or many matches.
func attachComplexJoin(ctx context.Context, parents []*Record, parent *Type, rel Relation, target *Type, opt JoinOption) error {
	// Distinct source-side join values.
	var keys []any
	seenKeys := map[any]struct{}{}
	for _, p := range parents {
		v := p.Value(rel.sourceField())
		if v == nil {
			continue
		}
		if _, ok := seenKeys[v]; ok {
			continue
		}
		seenKeys[v] = struct{}{}
		keys = append(keys, v)
	}

	grouped := map[any][]*Record{}
	if len(keys) > 0 {
		var err error
		grouped, err = queryJoinRows(ctx, parent, rel, target, opt, keys)
		if err != nil {
			return err
		}
	}

	for _, p := range parents {
		children := grouped[p.Value(rel.sourceField())]
		// Offset and limit apply per parent, which a single keyed query
		// cannot express; the refinement happens after grouping.
		if opt.Offset > 0 {
			if opt.Offset >= len(children) {
				children = nil
			} else {
				children = children[opt.Offset:]
			}
		}
		if opt.Limit > 0 && len(children) > opt.Limit {
			children = children[:opt.Limit]
		}
		if rel.Cardinality == One {
			if len(children) > 0 {
				p.joined[rel.Name] = children[0]
			} else {
				p.joined[rel.Name] = nil
			}
		} else {
			p.joined[rel.Name] = children
		}
	}
	return nil
}

// queryJoinRows runs the second query of a complex join and groups the
// hydrated records by their source-side key.
func queryJoinRows(ctx context.Context, parent *Type, rel Relation, target *Type, opt JoinOption, keys []any) (map[any][]*Record, error) {
	c := parent.c
	logicals, cols := target.projection(opt.IncludeSensitive)

	w := &sqlWriter{}
	w.WriteString("SELECT ")
	var keyExpr string
	qualified := make([]string, len(cols))
	if rel.Through != "" {
		for i, col := range cols {
			qualified[i] = qualify(target.table, col)
		}
		keyExpr = qualify(rel.Through, rel.ThroughSource)
	} else {
		for i, col := range cols {
			qualified[i] = qualify(target.table, col)
		}
		keyExpr = qualify(target.table, target.physical(rel.targetField()))
	}
	w.WriteString(strings.Join(qualified, ", "))
	w.WriteString(", " + keyExpr + " AS " + quoteIdent("__join_key"))

	if rel.Through != "" {
		w.WriteString(" FROM " + quoteIdent(rel.Through))
		w.WriteString(" JOIN " + quoteIdent(target.table) + " ON ")
		w.WriteString(qualify(target.table, target.physical(rel.targetField())) + " = " + qualify(rel.Through, rel.ThroughTarget))
		for _, gate := range revisionGate(target, target.table) {
			w.WriteString(" AND " + gate)
		}
	} else {
		w.WriteString(" FROM " + quoteIdent(target.table))
	}

	w.WriteString(" WHERE " + keyExpr + " = ANY(" + w.arg(keys) + "::" + inferArrayCast(keys) + ")")
	if rel.Through == "" {
		for _, gate := range revisionGate(target, target.table) {
			w.WriteString(" AND " + gate)
		}
	}
	for _, field := range sortedKeys(opt.Filter) {
		cond := Eq(field, opt.Filter[field]).mapColumns(target.condMapper())
		w.WriteString(" AND ")
		cond.render(w, target.table)
	}
	if opt.OrderBy.Field != "" {
		dir := strings.ToUpper(opt.OrderBy.Direction)
		if dir != "DESC" {
			dir = "ASC"
		}
		w.WriteString(" ORDER BY " + qualify(target.table, target.physical(opt.OrderBy.Field)) + " " + dir)
	}

	st := w.statement()
	rows, err := c.Query(ctx, st.sql, st.args...)
	if err != nil {
		return nil, err
	}
	raw, err := collectRows(rows)
	if err != nil {
		return nil, err
	}

	grouped := map[any][]*Record{}
	// Keys group against parent-side values, so they normalize with the
	// parent's field descriptor.
	keyField := parent.schema[rel.sourceField()]
	for _, row := range raw {
		if len(row) != len(logicals)+1 {
			continue
		}
		key := normalizeStored(keyField, row[len(row)-1])
		grouped[key] = append(grouped[key], target.hydrate(logicals, row[:len(row)-1]))
	}
	return grouped, nil
}
