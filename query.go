package codex

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Query incrementally builds a SELECT against one record type. Hold the
// pointer and chain; Run and One execute it.
type Query struct {
	t                *Type
	where            []Cond
	orderBy          []orderTerm
	limit            int
	offset           int
	includeSensitive bool
	joins            map[string]JoinOption
	joinOrder        []string
	err              error
}

// Query starts a builder for the type.
func (t *Type) Query() *Query {
	return &Query{t: t, joins: map[string]JoinOption{}}
}

// Where adds predicates, combined conjunctively. Field names are logical and
// mapped to physical columns at render time.
func (q *Query) Where(conds ...Cond) *Query {
	q.where = append(q.where, conds...)
	return q
}

// OrderBy appends a sort term. Direction is "ASC" or "DESC"; anything else
// falls back to ASC.
func (q *Query) OrderBy(field, direction string) *Query {
	dir := strings.ToUpper(direction)
	if dir != "DESC" {
		dir = "ASC"
	}
	q.orderBy = append(q.orderBy, orderTerm{column: q.t.physical(field), dir: dir})
	return q
}

// Limit caps the number of parent records returned.
func (q *Query) Limit(n int) *Query {
	q.limit = n
	return q
}

// Offset skips the first n parent records.
func (q *Query) Offset(n int) *Query {
	q.offset = n
	return q
}

// IncludeSensitive adds sensitive fields to the projection for this query
// only.
func (q *Query) IncludeSensitive() *Query {
	q.includeSensitive = true
	return q
}

// Join requests a relation by name. A zero JoinOption folds the join into
// the main SELECT; directives make it a complex join resolved by a second
// query.
func (q *Query) Join(name string, opt JoinOption) *Query {
	if _, err := q.t.relation(name); err != nil {
		q.err = err
		return q
	}
	if _, ok := q.joins[name]; !ok {
		q.joinOrder = append(q.joinOrder, name)
	}
	q.joins[name] = opt
	return q
}

// Run executes the query and hydrates the result rows, resolving requested
// joins. The returned slice preserves storage order (grouped by parent when
// a folded to-many join multiplies rows).
func (q *Query) Run(ctx context.Context) ([]*Record, error) {
	if q.err != nil {
		return nil, q.err
	}
	t := q.t

	parentLogicals, parentCols := t.projection(q.includeSensitive)

	sel := &selectQuery{
		table:   t.table,
		limit:   q.limit,
		offset:  q.offset,
		orderBy: q.orderBy,
	}

	// Split requested joins: simple ones fold into this SELECT, complex ones
	// run afterwards as keyed second queries.
	var folded []foldedJoin
	type complexJoin struct {
		rel    Relation
		target *Type
		opt    JoinOption
	}
	var complexJoins []complexJoin
	for _, name := range q.joinOrder {
		opt := q.joins[name]
		rel := t.relations[name]
		target, err := t.targetType(rel)
		if err != nil {
			return nil, err
		}
		if opt.complex() {
			complexJoins = append(complexJoins, complexJoin{rel: rel, target: target, opt: opt})
		} else {
			// Columns are appended inside buildFoldedJoin, after the parent
			// columns below.
			folded = append(folded, foldedJoin{rel: rel, target: target, opt: opt})
		}
	}

	for _, col := range parentCols {
		sel.columns = append(sel.columns, qualify(t.table, col))
	}
	for i := range folded {
		folded[i] = buildFoldedJoin(sel, t, folded[i].rel, folded[i].target, folded[i].opt)
	}

	mapper := t.condMapper()
	for _, c := range q.where {
		sel.where = append(sel.where, c.mapColumns(mapper))
	}

	st := sel.render()
	rows, err := t.c.Query(ctx, st.sql, st.args...)
	if err != nil {
		return nil, err
	}
	raw, err := collectRows(rows)
	if err != nil {
		return nil, err
	}

	parents := hydrateRows(t, parentLogicals, folded, raw)

	for _, cj := range complexJoins {
		if err := attachComplexJoin(ctx, parents, t, cj.rel, cj.target, cj.opt); err != nil {
			return nil, err
		}
	}
	return parents, nil
}

// One executes the query and returns the first record, raising not-found on
// an empty result.
func (q *Query) One(ctx context.Context) (*Record, error) {
	// LIMIT 1 is only safe when no folded to-many join multiplies rows.
	limited := *q
	if !q.hasFoldedManyJoin() && q.limit == 0 {
		limited.limit = 1
	}
	recs, err := limited.Run(ctx)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, &NotFoundError{Table: q.t.table}
	}
	return recs[0], nil
}

func (q *Query) hasFoldedManyJoin() bool {
	for name, opt := range q.joins {
		if opt.complex() {
			continue
		}
		if rel, ok := q.t.relations[name]; ok && (rel.Cardinality == Many || rel.Through != "") {
			return true
		}
	}
	return false
}

// hydrateRows groups folded-join result rows by parent id and splits each
// row into the parent segment and one segment per folded join.
func hydrateRows(t *Type, parentLogicals []string, folded []foldedJoin, raw [][]any) []*Record {
	parentWidth := len(parentLogicals)
	idIdx := sort.SearchStrings(parentLogicals, "id")

	var parents []*Record
	byID := map[string]*Record{}
	seen := map[string]map[string]struct{}{}

	for _, row := range raw {
		if len(row) < parentWidth {
			continue
		}
		parentRow := row[:parentWidth]

		var pid string
		if idIdx < parentWidth && parentLogicals[idIdx] == "id" {
			pid, _ = normalizeStored(t.schema["id"], parentRow[idIdx]).(string)
		}
		parent, ok := byID[pid]
		if !ok || pid == "" {
			parent = t.hydrate(parentLogicals, parentRow)
			parents = append(parents, parent)
			if pid != "" {
				byID[pid] = parent
			}
		}

		offset := parentWidth
		for _, fj := range folded {
			width := len(fj.logicals)
			if offset+width > len(row) {
				break
			}
			child := fj.hydrate(row[offset : offset+width])
			fj.attach(parent, child, seen)
			offset += width
		}
	}
	return parents
}

// GetOption configures Get, GetAll, and GetJoin.
type GetOption func(*Query)

// IncludeSensitive requests sensitive fields in the projection.
func IncludeSensitive() GetOption {
	return func(q *Query) { q.IncludeSensitive() }
}

// WithJoin requests a relation alongside the fetch.
func WithJoin(name string, opt JoinOption) GetOption {
	return func(q *Query) { q.Join(name, opt) }
}

// Get fetches one record by primary key and raises not-found when it does
// not exist. The identifier is checked before the query is dispatched, so a
// malformed key never reaches storage.
func (t *Type) Get(ctx context.Context, id string, opts ...GetOption) (*Record, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	q := t.Query().Where(Eq("id", id))
	for _, opt := range opts {
		opt(q)
	}
	rec, err := q.One(ctx)
	if err != nil {
		if nf, ok := err.(*NotFoundError); ok {
			nf.ID = id
		}
		return nil, err
	}
	return rec, nil
}

// GetAll fetches the records for a set of primary keys. Missing ids are
// simply absent from the result.
func (t *Type) GetAll(ctx context.Context, ids []string, opts ...GetOption) ([]*Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	values := make([]any, len(ids))
	for i, id := range ids {
		if err := validateID(id); err != nil {
			return nil, err
		}
		values[i] = id
	}
	q := t.Query().Where(In("id", values...))
	for _, opt := range opts {
		opt(q)
	}
	return q.Run(ctx)
}

// GetJoin fetches one record with the given relations resolved.
func (t *Type) GetJoin(ctx context.Context, id string, joins map[string]JoinOption, opts ...GetOption) (*Record, error) {
	getOpts := make([]GetOption, 0, len(joins)+len(opts))
	for _, name := range sortedJoinNames(joins) {
		getOpts = append(getOpts, WithJoin(name, joins[name]))
	}
	getOpts = append(getOpts, opts...)
	return t.Get(ctx, id, getOpts...)
}

// Filter returns the records matching a flat equality map of logical fields.
// Nil values match NULL. For richer predicates use Query().Where with the
// condition combinators.
func (t *Type) Filter(ctx context.Context, criteria map[string]any) ([]*Record, error) {
	q := t.Query()
	for _, field := range sortedKeys(criteria) {
		q.Where(Eq(field, criteria[field]))
	}
	return q.Run(ctx)
}

// OrderBy starts a query sorted by the given field.
func (t *Type) OrderBy(field, direction string) *Query {
	return t.Query().OrderBy(field, direction)
}

// Limit starts a query capped at n records.
func (t *Type) Limit(n int) *Query {
	return t.Query().Limit(n)
}

// Contains returns the records whose array field contains value.
func (t *Type) Contains(ctx context.Context, field string, value any) ([]*Record, error) {
	return t.Query().Where(Contains(field, value)).Run(ctx)
}

// Between returns the records whose field lies in [low, high].
func (t *Type) Between(ctx context.Context, field string, low, high any) ([]*Record, error) {
	return t.Query().Where(Between(field, low, high)).Run(ctx)
}

// Create builds a record from values and saves it.
func (t *Type) Create(ctx context.Context, values map[string]any) (*Record, error) {
	rec, err := t.New(values)
	if err != nil {
		return nil, err
	}
	if err := rec.Save(ctx); err != nil {
		return nil, err
	}
	return rec, nil
}

// Update fetches a record, applies changes, and saves it.
func (t *Type) Update(ctx context.Context, id string, changes map[string]any, opts ...SaveOption) (*Record, error) {
	rec, err := t.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, field := range sortedKeys(changes) {
		if err := rec.SetValue(field, changes[field]); err != nil {
			return nil, err
		}
	}
	if err := rec.Save(ctx, opts...); err != nil {
		return nil, err
	}
	return rec, nil
}

// Delete removes a record by primary key, raising not-found when no row
// matched.
func (t *Type) Delete(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	st := renderDelete(t.table, []Cond{Eq(t.physical("id"), id)})
	affected, err := t.c.Exec(ctx, st.sql, st.args...)
	if err != nil {
		return err
	}
	if affected == 0 {
		return &NotFoundError{Table: t.table, ID: id}
	}
	return nil
}

// validateID rejects malformed primary keys before any storage round-trip.
func validateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return &InvalidIdentifierError{ID: id}
	}
	return nil
}

func sortedJoinNames(joins map[string]JoinOption) []string {
	names := make([]string, 0, len(joins))
	for name := range joins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
