package codex

import "context"

// Executor runs parameterized SQL. *DB satisfies it over the pool, and the
// executor handed to a Tx closure satisfies it over the open transaction, so
// every engine operation works identically inside and outside transactions
// and tests can substitute mocks.
type Executor interface {
	// Exec runs a statement and returns the number of affected rows.
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
	// Query runs a statement and returns a row iterator. Callers must
	// exhaust or close the iterator to release the underlying connection.
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
}

// Rows iterates a result set positionally; the engine knows the column order
// it requested. The shape matches pgx.Rows so the driver's rows satisfy it
// directly.
type Rows interface {
	Next() bool
	Values() ([]any, error)
	Err() error
	Close()
}

// collectRows drains an iterator into value slices, closing it on all paths
// so the pooled connection is always released.
func collectRows(rows Rows) ([][]any, error) {
	defer rows.Close()
	var out [][]any
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, translateErr(err)
		}
		out = append(out, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, translateErr(err)
	}
	return out, nil
}
