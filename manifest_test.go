package codex

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestInitializeRequiresTableAndSchema(t *testing.T) {
	c := newMockConn()

	_, err := initialize(c, Manifest{Schema: Schema{"x": {Kind: String}}})
	var re *RegistrationError
	require.True(t, errors.As(err, &re))

	_, err = initialize(c, Manifest{TableName: "things"})
	require.True(t, errors.As(err, &re))
}

func TestInitializeInjectsIDField(t *testing.T) {
	c := newMockConn()
	typ, err := initialize(c, Manifest{
		TableName: "things",
		Schema:    Schema{"name": {Kind: String}},
	})
	require.NoError(t, err)

	r, err := typ.New(nil)
	require.NoError(t, err)
	_, err = uuid.Parse(r.ID())
	require.NoError(t, err, "injected id field generates a uuid default")

	// A declared id field is left alone.
	c2 := newMockConn()
	typ2, err := initialize(c2, Manifest{
		TableName: "things",
		Schema:    Schema{"id": {Kind: String}},
	})
	require.NoError(t, err)
	r2, err := typ2.New(nil)
	require.NoError(t, err)
	require.Empty(t, r2.ID())
}

func TestInitializeMergesRevisionSchema(t *testing.T) {
	c := newMockConn()
	pages := newPageType(t, c)
	require.True(t, pages.HasRevisions())

	r, err := pages.New(map[string]any{"title": "x"})
	require.NoError(t, err)
	require.Equal(t, false, r.Value("deleted"), "merged deleted field defaults to false")

	// Declared fields may not collide with the revision schema.
	_, err = initialize(newMockConn(), Manifest{
		TableName:    "pages",
		HasRevisions: true,
		Schema:       Schema{"revision_id": {Kind: String}},
	})
	var re *RegistrationError
	require.True(t, errors.As(err, &re))
}

func TestInitializeRejectsDuplicateColumns(t *testing.T) {
	_, err := initialize(newMockConn(), Manifest{
		TableName: "notes",
		Schema: Schema{
			"title":   {Kind: String, Column: "body"},
			"content": {Kind: String, Column: "body"},
		},
	})
	var re *RegistrationError
	require.True(t, errors.As(err, &re))
}

func TestInitializeValidatesRelations(t *testing.T) {
	base := Schema{"title": {Kind: String}}

	cases := map[string]Relation{
		"missing name":           {Target: "users"},
		"missing target":         {Name: "author"},
		"undeclared source":      {Name: "author", Target: "users", SourceField: "author_id"},
		"through without column": {Name: "tags", Target: "tags", Through: "post_tags", ThroughSource: "post_id"},
	}
	for name, rel := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := initialize(newMockConn(), Manifest{
				TableName: "posts",
				Schema:    base,
				Relations: []Relation{rel},
			})
			var re *RegistrationError
			require.True(t, errors.As(err, &re))
		})
	}

	_, err := initialize(newMockConn(), Manifest{
		TableName: "posts",
		Schema:    base,
		Relations: []Relation{
			{Name: "tags", Target: "tags"},
			{Name: "tags", Target: "tags"},
		},
	})
	var re *RegistrationError
	require.True(t, errors.As(err, &re), "duplicate relation names are rejected")
}

func TestInitializeDefaultsCardinality(t *testing.T) {
	c := newMockConn()
	typ, err := initialize(c, Manifest{
		TableName: "posts",
		Schema:    Schema{"title": {Kind: String}},
		Relations: []Relation{
			{Name: "author", Target: "users"},
			{Name: "tags", Target: "tags", Through: "post_tags", ThroughSource: "post_id", ThroughTarget: "tag_id"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, One, typ.relations["author"].Cardinality)
	require.Equal(t, Many, typ.relations["tags"].Cardinality, "through relations default to many")
}
