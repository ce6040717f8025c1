package codex

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockRows replays canned value rows.
type mockRows struct {
	rows   [][]any
	idx    int
	errVal error
	closed bool
}

func (m *mockRows) Next() bool {
	if m.idx < len(m.rows) {
		m.idx++
		return true
	}
	return false
}

func (m *mockRows) Values() ([]any, error) {
	return m.rows[m.idx-1], nil
}

func (m *mockRows) Err() error { return m.errVal }
func (m *mockRows) Close()     { m.closed = true }

type mockExecResult struct {
	affected int64
	err      error
}

// mockConn satisfies conn, recording every statement. Query results and exec
// results pop from queues in call order; an empty queue yields an empty
// result set / one affected row.
type mockConn struct {
	reg *registry

	execSQL  []string
	execArgs [][]any
	execQ    []mockExecResult

	querySQL  []string
	queryArgs [][]any
	queryQ    []*mockRows
	queryErr  error

	txCount int
	txErr   error
}

func newMockConn() *mockConn {
	return &mockConn{reg: newRegistry()}
}

func (m *mockConn) Exec(_ context.Context, sql string, args ...any) (int64, error) {
	m.execSQL = append(m.execSQL, sql)
	m.execArgs = append(m.execArgs, args)
	if len(m.execQ) > 0 {
		res := m.execQ[0]
		m.execQ = m.execQ[1:]
		return res.affected, res.err
	}
	return 1, nil
}

func (m *mockConn) Query(_ context.Context, sql string, args ...any) (Rows, error) {
	m.querySQL = append(m.querySQL, sql)
	m.queryArgs = append(m.queryArgs, args)
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	if len(m.queryQ) > 0 {
		rows := m.queryQ[0]
		m.queryQ = m.queryQ[1:]
		return rows, nil
	}
	return &mockRows{}, nil
}

func (m *mockConn) Tx(_ context.Context, fn func(tx Executor) error) error {
	if m.txErr != nil {
		return m.txErr
	}
	m.txCount++
	return fn(m)
}

func (m *mockConn) registry() *registry { return m.reg }
func (m *mockConn) logger() *zap.Logger { return zap.NewNop() }

func (m *mockConn) pushRows(rows ...[]any) {
	m.queryQ = append(m.queryQ, &mockRows{rows: rows})
}

func (m *mockConn) pushExec(affected int64, err error) {
	m.execQ = append(m.execQ, mockExecResult{affected: affected, err: err})
}

// articleManifest is the standard fixture type. Storable projection order:
// id, tags, title (plus secret when sensitive fields are included).
func articleManifest() Manifest {
	return Manifest{
		TableName: "articles",
		Schema: Schema{
			"title":  {Kind: String, Required: true},
			"tags":   {Kind: Array},
			"secret": {Kind: String, Sensitive: true},
			"title_upper": {Kind: Virtual, Compute: func(r *Record) any {
				s, _ := r.Value("title").(string)
				return strings.ToUpper(s)
			}},
		},
	}
}

func newArticleType(t *testing.T, c conn) *Type {
	t.Helper()
	typ, err := initialize(c, articleManifest())
	require.NoError(t, err)
	return typ
}

// pageManifest opts into revisions. Storable projection order: deleted, id,
// revision_author, revision_created_at, revision_id, revision_of,
// revision_tags, title.
func pageManifest() Manifest {
	return Manifest{
		TableName:    "pages",
		HasRevisions: true,
		Schema: Schema{
			"title": {Kind: String, Required: true},
		},
	}
}

func newPageType(t *testing.T, c conn) *Type {
	t.Helper()
	typ, err := initialize(c, pageManifest())
	require.NoError(t, err)
	return typ
}

// docManifest combines revisions with a sensitive field, so plain Get
// hydrates without the secret column. Full storable projection order:
// deleted, id, revision_author, revision_created_at, revision_id,
// revision_of, revision_tags, secret, title.
func docManifest() Manifest {
	return Manifest{
		TableName:    "docs",
		HasRevisions: true,
		Schema: Schema{
			"title":  {Kind: String, Required: true},
			"secret": {Kind: String, Sensitive: true},
		},
	}
}

func newDocType(t *testing.T, c conn) *Type {
	t.Helper()
	typ, err := initialize(c, docManifest())
	require.NoError(t, err)
	return typ
}
