package codex

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Logical names of the fields merged into every revisioned schema.
const (
	fieldRevisionID        = "revision_id"
	fieldRevisionAuthor    = "revision_author"
	fieldRevisionCreatedAt = "revision_created_at"
	fieldRevisionTags      = "revision_tags"
	fieldRevisionOf        = "revision_of" // back-reference; nil marks the current row
	fieldDeleted           = "deleted"
)

// TagDelete marks the revision created by DeleteAllRevisions.
const TagDelete = "delete"

// revisionSchema returns the fields a revisioned type carries on top of its
// declared schema. A row is current while revision_of is null; superseded
// rows point back at their chain id and are immutable. deleted is orthogonal
// to staleness.
func revisionSchema() Schema {
	return Schema{
		fieldRevisionID:        {Kind: String, Format: FormatUUID},
		fieldRevisionAuthor:    {Kind: String},
		fieldRevisionCreatedAt: {Kind: Date},
		fieldRevisionTags:      {Kind: Array},
		fieldRevisionOf:        {Kind: String, Format: FormatUUID},
		fieldDeleted:           {Kind: Bool, Default: false},
	}
}

// NotStaleOrDeleted is the predicate selecting live chain heads:
// revision_of IS NULL AND deleted = false. It is written to line up with a
// partial index on (revision_of IS NULL, deleted).
func NotStaleOrDeleted() Cond {
	return And(IsNull(fieldRevisionOf), Eq(fieldDeleted, false))
}

// stamp is one revision identity: id, author, timestamp, tags.
type stamp struct {
	id        string
	author    string
	createdAt time.Time
	tags      []any
}

func newStamp(author string, tags []string) stamp {
	anyTags := make([]any, len(tags))
	for i, tag := range tags {
		anyTags[i] = tag
	}
	return stamp{
		id:        uuid.NewString(),
		author:    author,
		createdAt: time.Now().UTC(),
		tags:      anyTags,
	}
}

// apply writes the stamp onto the instance without marking fields changed;
// callers persist it themselves.
func (s stamp) apply(r *Record) {
	r.setStored(fieldRevisionID, s.id)
	r.setStored(fieldRevisionAuthor, s.author)
	r.setStored(fieldRevisionCreatedAt, s.createdAt)
	r.setStored(fieldRevisionTags, s.tags)
	r.snapshotField(fieldRevisionTags)
}

// stampColumns returns the physical columns and values persisting the stamp.
func (s stamp) columns(t *Type) ([]string, []any) {
	return []string{
			t.physical(fieldRevisionID),
			t.physical(fieldRevisionAuthor),
			t.physical(fieldRevisionCreatedAt),
			t.physical(fieldRevisionTags),
		}, []any{
			s.id, s.author, s.createdAt, s.tags,
		}
}

// CreateFirstRevision stamps an unsaved instance with a fresh revision
// identity. The record still needs Save to persist.
func (r *Record) CreateFirstRevision(author string, tags []string) error {
	if !r.t.hasRevisions {
		return ErrNoRevisions
	}
	if !r.isNew {
		return &ValidationError{Field: fieldRevisionID, Reason: "first revision requires an unsaved record"}
	}
	s := newStamp(author, tags)
	for _, pair := range []struct {
		field string
		value any
	}{
		{fieldRevisionID, s.id},
		{fieldRevisionAuthor, s.author},
		{fieldRevisionCreatedAt, s.createdAt},
		{fieldRevisionTags, s.tags},
		{fieldRevisionOf, nil},
		{fieldDeleted, false},
	} {
		if err := r.SetValue(pair.field, pair.value); err != nil {
			return err
		}
	}
	return nil
}

// renderArchive copies the stored current row into a new archive row
// entirely server-side: fresh primary key, back-reference at the chain id,
// every other column taken from the row as stored. Copying in SQL keeps
// columns the instance never hydrated (sensitive fields excluded from the
// default projection) intact in the archive.
func renderArchive(t *Type, id string) statement {
	_, cols := t.projection(true)
	idCol := t.physical("id")
	backCol := t.physical(fieldRevisionOf)

	w := &sqlWriter{}
	w.WriteString("INSERT INTO " + quoteIdent(t.table) + " (")
	for i, col := range cols {
		if i > 0 {
			w.WriteString(", ")
		}
		w.WriteString(quoteIdent(col))
	}
	w.WriteString(") SELECT ")
	for i, col := range cols {
		if i > 0 {
			w.WriteString(", ")
		}
		switch col {
		case idCol:
			w.WriteString("gen_random_uuid()")
		case backCol:
			w.WriteString(quoteIdent(idCol))
		default:
			w.WriteString(quoteIdent(col))
		}
	}
	w.WriteString(" FROM " + quoteIdent(t.table) + " WHERE " + quoteIdent(idCol) + " = " + w.arg(id))
	return w.statement()
}

// NewRevision archives the current row and re-stamps this same instance as
// the new pending current. The archive row carries the full stored field
// set under a fresh primary key with its back-reference set; the instance
// keeps its id but gets a new revision id, author, timestamp, and tags.
// Both writes run in one transaction so a failure cannot leave an orphaned
// archive row. Unsaved field changes on the instance stay pending: they
// belong to the new revision, not the archived one.
func (r *Record) NewRevision(ctx context.Context, author string, tags []string) error {
	if !r.t.hasRevisions {
		return ErrNoRevisions
	}
	if r.isNew {
		return ErrUnsavedRecord
	}
	if back := r.Value(fieldRevisionOf); back != nil {
		backID, _ := back.(string)
		return &RevisionStaleError{Table: r.t.table, ID: r.ID(), CurrentID: backID}
	}

	t := r.t
	id := r.ID()
	s := newStamp(author, tags)
	stampCols, stampVals := s.columns(t)

	archive := renderArchive(t, id)
	restamp := renderUpdate(t.table, stampCols, stampVals, []Cond{Eq(t.physical("id"), id)})

	err := t.c.Tx(ctx, func(tx Executor) error {
		archived, err := tx.Exec(ctx, archive.sql, archive.args...)
		if err != nil {
			return err
		}
		if archived == 0 {
			return &NotFoundError{Table: t.table, ID: id}
		}
		affected, err := tx.Exec(ctx, restamp.sql, restamp.args...)
		if err != nil {
			return err
		}
		if affected == 0 {
			return &NotFoundError{Table: t.table, ID: id}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.apply(r)
	return nil
}

// DeleteAllRevisions archives the current row as a revision tagged "delete",
// marks it deleted, and bulk-updates every archived row in the chain to
// deleted, all in one transaction. The chain survives as history; nothing is
// physically removed.
func (r *Record) DeleteAllRevisions(ctx context.Context, author string, tags []string) error {
	if !r.t.hasRevisions {
		return ErrNoRevisions
	}
	if r.isNew {
		return ErrUnsavedRecord
	}

	t := r.t
	id := r.ID()
	idCol := t.physical("id")
	backCol := t.physical(fieldRevisionOf)
	deletedCol := t.physical(fieldDeleted)

	s := newStamp(author, appendDeleteTag(tags))
	stampCols, stampVals := s.columns(t)
	stampCols = append(stampCols, deletedCol)
	stampVals = append(stampVals, true)

	archive := renderArchive(t, id)
	restamp := renderUpdate(t.table, stampCols, stampVals, []Cond{Eq(idCol, id)})
	markChain := renderUpdate(t.table, []string{deletedCol}, []any{true}, []Cond{Eq(backCol, id)})

	err := t.c.Tx(ctx, func(tx Executor) error {
		archived, err := tx.Exec(ctx, archive.sql, archive.args...)
		if err != nil {
			return err
		}
		if archived == 0 {
			return &NotFoundError{Table: t.table, ID: id}
		}
		affected, err := tx.Exec(ctx, restamp.sql, restamp.args...)
		if err != nil {
			return err
		}
		if affected == 0 {
			return &NotFoundError{Table: t.table, ID: id}
		}
		if _, err := tx.Exec(ctx, markChain.sql, markChain.args...); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.apply(r)
	r.setStored(fieldDeleted, true)
	return nil
}

func appendDeleteTag(tags []string) []string {
	for _, tag := range tags {
		if tag == TagDelete {
			return tags
		}
	}
	return append(append([]string{}, tags...), TagDelete)
}

// GetNotStaleOrDeleted fetches a record by id and rejects deleted and stale
// rows with distinct conditions instead of a generic not-found.
func (t *Type) GetNotStaleOrDeleted(ctx context.Context, id string) (*Record, error) {
	if !t.hasRevisions {
		return nil, ErrNoRevisions
	}
	rec, err := t.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if deleted, _ := rec.Value(fieldDeleted).(bool); deleted {
		return nil, &RevisionDeletedError{Table: t.table, ID: id}
	}
	if back := rec.Value(fieldRevisionOf); back != nil {
		backID, _ := back.(string)
		return nil, &RevisionStaleError{Table: t.table, ID: id, CurrentID: backID}
	}
	return rec, nil
}

// FilterNotStaleOrDeleted returns every live chain head of the type.
func (t *Type) FilterNotStaleOrDeleted(ctx context.Context) ([]*Record, error) {
	if !t.hasRevisions {
		return nil, ErrNoRevisions
	}
	return t.Query().Where(NotStaleOrDeleted()).Run(ctx)
}
