// Package codex is the data-access core of a content-management
// application: validated CRUD, joins, and an append-only revision model over
// PostgreSQL.
//
// A Manifest declares each record type (schema, relations, revision opt-in);
// Initialize resolves it into a registered *Type whose operations render
// parameterized SQL, execute it over a pooled connection, and hydrate rows
// back into *Record instances. Revisioned types keep every superseded row as
// an immutable archive pointing back at its chain id, so edit history is
// never lost.
//
//	db, err := codex.Connect(ctx, cfg)
//	articles, err := codex.Initialize(db, codex.Manifest{
//		TableName:    "articles",
//		HasRevisions: true,
//		Schema: codex.Schema{
//			"title": {Kind: codex.String, Required: true, MaxLength: 200},
//			"body":  {Kind: codex.Object},
//		},
//	})
//	rec, err := articles.Create(ctx, map[string]any{"title": "Draft"})
package codex
