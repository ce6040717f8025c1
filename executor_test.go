package codex

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCollectRowsDrainsAndCloses(t *testing.T) {
	rows := &mockRows{rows: [][]any{{"a"}, {"b"}}}
	out, err := collectRows(rows)
	require.NoError(t, err)
	require.Equal(t, [][]any{{"a"}, {"b"}}, out)
	require.True(t, rows.closed)
}

func TestCollectRowsClosesOnIterationError(t *testing.T) {
	rows := &mockRows{errVal: errors.New("broken stream")}
	_, err := collectRows(rows)
	require.Error(t, err)
	require.True(t, rows.closed, "the iterator is released on the error path too")

	var qe *QueryError
	require.True(t, errors.As(err, &qe), "iteration failures come back translated")
}
