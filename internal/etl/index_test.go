package etl_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"dental-etl/internal/etl"
)

func TestEnsureIndexesCreatesInOrder(t *testing.T) {
	db := openTestDB(t)
	seedRows(t, db, 5)

	defs := []etl.IndexDefinition{
		{Name: "idx_procs_fee", DDL: "CREATE INDEX idx_procs_fee ON procs (fee)"},
		{Name: "idx_procs_fee_id", DDL: "CREATE INDEX idx_procs_fee_id ON procs (fee, id)"},
	}

	results, err := etl.IndexManager{}.EnsureIndexes(db, defs)
	require.NoError(t, err)
	require.Equal(t, []etl.IndexResult{
		{Name: "idx_procs_fee", Created: true},
		{Name: "idx_procs_fee_id", Created: true},
	}, results)
}

func TestEnsureIndexesIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	seedRows(t, db, 5)

	defs := []etl.IndexDefinition{
		{Name: "idx_procs_fee", DDL: "CREATE INDEX idx_procs_fee ON procs (fee)"},
	}

	first, err := etl.IndexManager{}.EnsureIndexes(db, defs)
	require.NoError(t, err)
	require.True(t, first[0].Created)

	// Second run against the same schema: no duplicate-index error, same
	// final index state.
	second, err := etl.IndexManager{}.EnsureIndexes(db, defs)
	require.NoError(t, err)
	require.False(t, second[0].Created)
}

func TestEnsureIndexesMalformedDDLIsFatal(t *testing.T) {
	db := openTestDB(t)
	seedRows(t, db, 5)

	defs := []etl.IndexDefinition{
		{Name: "idx_procs_fee", DDL: "CREATE INDEX idx_procs_fee ON procs (fee)"},
		{Name: "idx_broken", DDL: "CREATE INDEX idx_broken ON no_such_table (nope)"},
		{Name: "idx_never_reached", DDL: "CREATE INDEX idx_never_reached ON procs (id)"},
	}

	results, err := etl.IndexManager{}.EnsureIndexes(db, defs)
	require.Error(t, err)

	var indexErr *etl.IndexCreationError
	require.ErrorAs(t, err, &indexErr)
	require.Equal(t, "idx_broken", indexErr.Index)

	// Processing stopped at the failure.
	require.Len(t, results, 1)
}
