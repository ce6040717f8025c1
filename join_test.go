package codex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	postID1   = "0a53c6ff-88f7-4b1e-9f52-1f2a3b4c5d6e"
	postID2   = "1b64d7aa-99a8-4c2f-8a63-2a3b4c5d6e7f"
	authorID  = "2c75e8bb-aab9-4d30-9b74-3b4c5d6e7f80"
	commentID = "3d86f9cc-bbca-4e41-8c85-4c5d6e7f8091"
	comment2  = "4e970add-ccdb-4f52-9d96-5d6e7f8091a2"
	comment3  = "5fa81bee-ddec-4063-8ea7-6e7f8091a2b3"
)

// setupBlog registers the fixture graph: posts with a to-one author, to-many
// comments, and a many-to-many tags relation through post_tags.
func setupBlog(t *testing.T) (*mockConn, *Type, *Type, *Type) {
	t.Helper()
	c := newMockConn()

	_, err := initialize(c, Manifest{
		TableName: "users",
		Schema:    Schema{"name": {Kind: String}},
	})
	require.NoError(t, err)

	comments, err := initialize(c, Manifest{
		TableName: "comments",
		Schema: Schema{
			"body":    {Kind: String},
			"post_id": {Kind: String, Format: FormatUUID},
		},
	})
	require.NoError(t, err)

	tags, err := initialize(c, Manifest{
		TableName: "tags",
		Schema:    Schema{"label": {Kind: String}},
	})
	require.NoError(t, err)

	posts, err := initialize(c, Manifest{
		TableName: "posts",
		Schema: Schema{
			"title":     {Kind: String, Required: true},
			"author_id": {Kind: String, Format: FormatUUID},
		},
		Relations: []Relation{
			{Name: "author", Target: "users", SourceField: "author_id", TargetField: "id", Cardinality: One},
			{Name: "comments", Target: "comments", TargetField: "post_id", Cardinality: Many},
			{Name: "tags", Target: "tags", Through: "post_tags", ThroughSource: "post_id", ThroughTarget: "tag_id"},
		},
	})
	require.NoError(t, err)

	return c, posts, comments, tags
}

func TestFoldedToOneJoin(t *testing.T) {
	c, posts, _, _ := setupBlog(t)

	// Post projection: author_id, id, title; author segment: id, name.
	c.pushRows([]any{authorID, postID1, "Hello", authorID, "Alice"})
	r, err := posts.Get(context.Background(), postID1, WithJoin("author", JoinOption{}))
	require.NoError(t, err)

	require.Equal(t,
		`SELECT "posts"."author_id", "posts"."id", "posts"."title", "author"."id" AS "author__id", "author"."name" AS "author__name"`+
			` FROM "posts" LEFT JOIN "users" AS "author" ON "author"."id" = "posts"."author_id"`+
			` WHERE "posts"."id" = $1 LIMIT 1`,
		c.querySQL[0])

	author, ok := r.Join("author").(*Record)
	require.True(t, ok)
	require.Equal(t, "Alice", author.Value("name"))
	require.Equal(t, authorID, author.ID())
}

func TestFoldedToOneJoinNoMatchIsNil(t *testing.T) {
	c, posts, _, _ := setupBlog(t)

	c.pushRows([]any{nil, postID1, "Hello", nil, nil})
	r, err := posts.Get(context.Background(), postID1, WithJoin("author", JoinOption{}))
	require.NoError(t, err)
	require.Nil(t, r.Join("author"), "an all-null join segment is no match, not an empty record")
}

func TestFoldedToManyJoinGroupsRows(t *testing.T) {
	c, posts, _, _ := setupBlog(t)

	// Two rows for the first post, one matchless row for the second: the
	// multiplied rows must collapse back to two parents.
	c.pushRows(
		[]any{nil, postID1, "One", "first!", commentID, postID1},
		[]any{nil, postID1, "One", "second", comment2, postID1},
		[]any{nil, postID2, "Two", nil, nil, nil},
	)
	recs, err := posts.Query().Join("comments", JoinOption{}).Run(context.Background())
	require.NoError(t, err)

	require.Equal(t,
		`SELECT "posts"."author_id", "posts"."id", "posts"."title", "comments"."body" AS "comments__body", "comments"."id" AS "comments__id", "comments"."post_id" AS "comments__post_id"`+
			` FROM "posts" LEFT JOIN "comments" ON "comments"."post_id" = "posts"."id"`,
		c.querySQL[0])

	require.Len(t, recs, 2)
	first := recs[0].Join("comments").([]*Record)
	require.Len(t, first, 2)
	require.Equal(t, "first!", first[0].Value("body"))
	require.Equal(t, "second", first[1].Value("body"))

	second := recs[1].Join("comments").([]*Record)
	require.Empty(t, second)
}

func TestOneSkipsLimitWithFoldedManyJoin(t *testing.T) {
	c, posts, _, _ := setupBlog(t)

	c.pushRows(
		[]any{nil, postID1, "One", "first!", commentID, postID1},
		[]any{nil, postID1, "One", "second", comment2, postID1},
	)
	r, err := posts.Query().
		Where(Eq("id", postID1)).
		Join("comments", JoinOption{}).
		One(context.Background())
	require.NoError(t, err)
	require.NotContains(t, c.querySQL[0], "LIMIT", "a row-multiplying join cannot be capped in SQL")
	require.Len(t, r.Join("comments").([]*Record), 2)
}

func TestThroughJoinTakesTwoHops(t *testing.T) {
	c, posts, _, _ := setupBlog(t)

	c.pushRows([]any{nil, postID1, "One", testID, "go"})
	recs, err := posts.Query().Join("tags", JoinOption{}).Run(context.Background())
	require.NoError(t, err)

	require.Equal(t,
		`SELECT "posts"."author_id", "posts"."id", "posts"."title", "tags"."id" AS "tags__id", "tags"."label" AS "tags__label"`+
			` FROM "posts"`+
			` LEFT JOIN "post_tags" AS "tags__via" ON "tags__via"."post_id" = "posts"."id"`+
			` LEFT JOIN "tags" ON "tags"."id" = "tags__via"."tag_id"`,
		c.querySQL[0])

	attached := recs[0].Join("tags").([]*Record)
	require.Len(t, attached, 1)
	require.Equal(t, "go", attached[0].Value("label"))
}

func TestJoinFiltersRevisionedTargets(t *testing.T) {
	c := newMockConn()
	newPageType(t, c)

	posts, err := initialize(c, Manifest{
		TableName: "posts",
		Schema:    Schema{"title": {Kind: String}},
		Relations: []Relation{
			{Name: "page", Target: "pages", Cardinality: One},
		},
	})
	require.NoError(t, err)

	_, err = posts.Query().Join("page", JoinOption{}).Run(context.Background())
	require.NoError(t, err)
	require.Contains(t, c.querySQL[0],
		`LEFT JOIN "pages" AS "page" ON "page"."id" = "posts"."id"`+
			` AND "page"."revision_of" IS NULL AND "page"."deleted" = FALSE`)
}

func TestComplexJoinRunsSecondQuery(t *testing.T) {
	c, posts, _, _ := setupBlog(t)

	c.pushRows(
		[]any{nil, postID1, "One"},
		[]any{nil, postID2, "Two"},
	)
	// Second query: comment rows carry the grouping key as a trailing column.
	c.pushRows(
		[]any{"first!", commentID, postID1, postID1},
		[]any{"second", comment2, postID1, postID1},
		[]any{"other", comment3, postID2, postID2},
	)

	recs, err := posts.Query().Join("comments", JoinOption{Limit: 1}).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, c.querySQL, 2)
	require.NotContains(t, c.querySQL[0], "LEFT JOIN", "complex joins never fold into the main query")
	require.Equal(t,
		`SELECT "comments"."body", "comments"."id", "comments"."post_id", "comments"."post_id" AS "__join_key"`+
			` FROM "comments" WHERE "comments"."post_id" = ANY($1::uuid[])`,
		c.querySQL[1])

	require.Len(t, recs, 2, "parent count survives the join")
	require.Len(t, recs[0].Join("comments").([]*Record), 1, "limit applies per parent")
	require.Len(t, recs[1].Join("comments").([]*Record), 1)
	require.Equal(t, "other", recs[1].Join("comments").([]*Record)[0].Value("body"))
}

func TestComplexJoinFilterAndOrder(t *testing.T) {
	c, posts, _, _ := setupBlog(t)

	c.pushRows([]any{nil, postID1, "One"})
	c.pushRows() // no matching comments

	recs, err := posts.Query().Join("comments", JoinOption{
		Filter:  map[string]any{"body": "first!"},
		OrderBy: OrderSpec{Field: "body", Direction: "desc"},
	}).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t,
		`SELECT "comments"."body", "comments"."id", "comments"."post_id", "comments"."post_id" AS "__join_key"`+
			` FROM "comments" WHERE "comments"."post_id" = ANY($1::uuid[])`+
			` AND "comments"."body" = $2 ORDER BY "comments"."body" DESC`,
		c.querySQL[1])

	require.Empty(t, recs[0].Join("comments").([]*Record), "no match still attaches an empty slice")
}

func TestSetJoinValidatesShape(t *testing.T) {
	_, posts, commentType, _ := setupBlog(t)

	p, err := posts.New(map[string]any{"title": "One"})
	require.NoError(t, err)

	require.Error(t, p.SetJoin("nonexistent", nil))
	require.Error(t, p.SetJoin("comments", "not records"))
	require.Error(t, p.SetJoin("author", []*Record{}))

	child, err := commentType.New(map[string]any{"body": "hi"})
	require.NoError(t, err)
	require.NoError(t, p.SetJoin("comments", []*Record{child}))
}

func TestSaveAllStampsForeignKeys(t *testing.T) {
	c, posts, commentType, _ := setupBlog(t)

	p, err := posts.New(map[string]any{"title": "One"})
	require.NoError(t, err)
	child, err := commentType.New(map[string]any{"body": "hi"})
	require.NoError(t, err)
	require.NoError(t, p.SetJoin("comments", []*Record{child}))

	require.NoError(t, p.SaveAll(context.Background(), "comments"))
	require.Equal(t, p.ID(), child.Value("post_id"))
	require.False(t, child.IsNew())
	require.Contains(t, c.querySQL[0], `INSERT INTO "posts"`)
	require.Contains(t, c.querySQL[1], `INSERT INTO "comments"`)
}

func TestSaveAllWritesThroughRowsIdempotently(t *testing.T) {
	c, posts, _, tagType := setupBlog(t)

	p, err := posts.New(map[string]any{"title": "One"})
	require.NoError(t, err)
	tag, err := tagType.New(map[string]any{"label": "go"})
	require.NoError(t, err)
	require.NoError(t, p.SetJoin("tags", []*Record{tag}))

	require.NoError(t, p.SaveAll(context.Background(), "tags"))
	require.Equal(t,
		`INSERT INTO "post_tags" ("post_id", "tag_id") VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		c.execSQL[0])
	require.Equal(t, []any{p.ID(), tag.ID()}, c.execArgs[0])
}
