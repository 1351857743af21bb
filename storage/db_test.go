package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemDBBatchAppliesAllOperations(t *testing.T) {
	db := NewMemDB()
	require.NoError(t, db.Put([]byte("stale"), []byte("x")))

	batch := NewBatch()
	batch.Put([]byte("a"), []byte("1"))
	batch.Put([]byte("b"), []byte("2"))
	batch.Delete([]byte("stale"))
	require.Equal(t, 3, batch.Len())
	require.NoError(t, db.Write(batch))

	got, err := db.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), got)
	_, err = db.Get([]byte("stale"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLevelDBBatchPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	db1, err := NewLevelDB(dir)
	require.NoError(t, err)
	batch := NewBatch()
	batch.Put([]byte("listing/1"), []byte("active"))
	batch.Put([]byte("ledger/1"), []byte("10"))
	require.NoError(t, db1.Write(batch))
	db1.Close()

	db2, err := NewLevelDB(dir)
	require.NoError(t, err)
	defer db2.Close()

	got, err := db2.Get([]byte("ledger/1"))
	require.NoError(t, err)
	require.Equal(t, []byte("10"), got)

	require.NoError(t, db2.Delete([]byte("ledger/1")))
	_, err = db2.Get([]byte("ledger/1"))
	require.ErrorIs(t, err, ErrNotFound)
}
