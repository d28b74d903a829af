package dbutil

import (
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
)

func TestFinalizeRewritesLimit(t *testing.T) {
	query, args := Finalize("SELECT id FROM sources WHERE state = ? LIMIT ?,?", []interface{}{"pending", 20, 10})
	require.Equal(t, "SELECT id FROM sources WHERE state = $1 LIMIT $2 OFFSET $3", query)
	require.Equal(t, []interface{}{"pending", 10, 20}, args)
}

func TestFinalizeWithoutLimit(t *testing.T) {
	query, args := Finalize("SELECT id FROM sources WHERE id = ?", []interface{}{int64(3)})
	require.Equal(t, "SELECT id FROM sources WHERE id = $1", query)
	require.Len(t, args, 1)
}

func TestExpandIn(t *testing.T) {
	query, args, err := ExpandIn("SELECT id FROM chunks WHERE id IN (?)", []int64{4, 5, 6})
	require.NoError(t, err)
	require.Contains(t, query, "$3")
	require.NotContains(t, query, "?")
	require.Len(t, args, 3)
}

func TestErrorCodes(t *testing.T) {
	conflict := fmt.Errorf("insert: %w", &pq.Error{Code: "23505"})
	require.True(t, IsConflict(conflict))
	require.False(t, IsForeignKeyViolation(conflict))
	require.True(t, IsForeignKeyViolation(&pq.Error{Code: "23503"}))
	require.False(t, IsConflict(fmt.Errorf("plain")))
}
