package codex

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRenderSelect(t *testing.T) {
	q := &selectQuery{
		table:   "articles",
		columns: []string{`"id"`, `"title"`},
		where:   []Cond{Eq("state", "published"), Gt("rank", 3)},
		orderBy: []orderTerm{{column: "rank", dir: "DESC"}},
		limit:   10,
		offset:  20,
	}
	st := q.render()
	require.Equal(t,
		`SELECT "id", "title" FROM "articles" WHERE "state" = $1 AND "rank" > $2 ORDER BY "rank" DESC LIMIT 10 OFFSET 20`,
		st.sql)
	require.Equal(t, []any{"published", 3}, st.args)
}

func TestRenderSelectWithJoinQualifiesEverything(t *testing.T) {
	q := &selectQuery{
		table:   "articles",
		columns: []string{`"articles"."id"`, `"author"."name" AS "author__name"`},
		joins: []joinClause{{
			table: "users",
			alias: "author",
			onRaw: []string{`"author"."id" = "articles"."author_id"`},
		}},
		where:   []Cond{Eq("id", "x")},
		orderBy: []orderTerm{{column: "id", dir: "ASC"}},
	}
	st := q.render()
	require.Equal(t,
		`SELECT "articles"."id", "author"."name" AS "author__name" FROM "articles"`+
			` LEFT JOIN "users" AS "author" ON "author"."id" = "articles"."author_id"`+
			` WHERE "articles"."id" = $1 ORDER BY "articles"."id" ASC`,
		st.sql)
}

func TestRenderInsert(t *testing.T) {
	st := renderInsert("articles", []string{"id", "title"}, []any{"a", "b"}, []string{"id", "title", "rank"})
	require.Equal(t,
		`INSERT INTO "articles" ("id", "title") VALUES ($1, $2) RETURNING "id", "title", "rank"`,
		st.sql)
	require.Equal(t, []any{"a", "b"}, st.args)

	noReturn := renderInsert("articles", []string{"id"}, []any{"a"}, nil)
	require.Equal(t, `INSERT INTO "articles" ("id") VALUES ($1)`, noReturn.sql)
}

func TestRenderUpdate(t *testing.T) {
	st := renderUpdate("articles", []string{"title", "rank"}, []any{"x", 2}, []Cond{Eq("id", "a")})
	require.Equal(t, `UPDATE "articles" SET "title" = $1, "rank" = $2 WHERE "id" = $3`, st.sql)
	require.Equal(t, []any{"x", 2, "a"}, st.args)
}

func TestRenderDelete(t *testing.T) {
	st := renderDelete("articles", []Cond{Eq("id", "a")})
	require.Equal(t, `DELETE FROM "articles" WHERE "id" = $1`, st.sql)
	require.Equal(t, []any{"a"}, st.args)
}

func TestQuoteIdentEscapesQuotes(t *testing.T) {
	require.Equal(t, `"weird""name"`, quoteIdent(`weird"name`))
	require.Equal(t, `"articles"."id"`, qualify("articles", "id"))
	require.Equal(t, `"id"`, qualify("", "id"))
}

func TestInferArrayCast(t *testing.T) {
	require.Equal(t, "uuid[]", inferArrayCast([]any{"6f1c3a7e-35c2-4b51-9d7a-9a28f4f5f5a1"}))
	require.Equal(t, "numeric[]", inferArrayCast([]any{1, 2.5}))
	require.Equal(t, "boolean[]", inferArrayCast([]any{true, false}))
	require.Equal(t, "text[]", inferArrayCast([]any{"a", 1}))
	require.Equal(t, "text[]", inferArrayCast(nil))
}
