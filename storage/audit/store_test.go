package audit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"deedescrow/core/types"
	"deedescrow/native/escrow"
)

type wireEvent struct{ evt *types.Event }

func (w wireEvent) EventType() string    { return w.evt.Type }
func (w wireEvent) Event() *types.Event { return w.evt }

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "audit.db")
	store, err := Open(DriverSQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func settlementEvent(eventType, assetID, round string) wireEvent {
	return wireEvent{evt: &types.Event{Type: eventType, Attributes: map[string]string{
		"assetId":          assetID,
		"round":            round,
		"outcome":          "finalized",
		"purchasePrice":    "10",
		"earnest":          "5",
		"loan":             "5",
		"inspectionPassed": "true",
		"hash":             "ab",
	}}}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("oracle", "dsn")
	require.ErrorIs(t, err, ErrUnknownDriver)
	_, err = Open(DriverSQLite, " ")
	require.ErrorIs(t, err, ErrMissingDSN)
}

func TestStoreRecordsEventsInOrder(t *testing.T) {
	store := newTestStore(t)
	store.Emit(wireEvent{evt: &types.Event{Type: escrow.EventTypeSaleListed, Attributes: map[string]string{"assetId": "1", "round": "1"}}})
	store.Emit(wireEvent{evt: &types.Event{Type: escrow.EventTypeEarnestDeposited, Attributes: map[string]string{"assetId": "1", "round": "1", "amount": "5"}}})
	store.Emit(wireEvent{evt: &types.Event{Type: escrow.EventTypeSaleListed, Attributes: map[string]string{"assetId": "2", "round": "1"}}})

	all, err := store.Events(Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i, rec := range all {
		require.Equal(t, uint64(i+1), rec.Sequence)
	}
	require.Contains(t, all[1].Attributes, `"amount":"5"`)

	asset := uint64(1)
	byAsset, err := store.Events(Filter{AssetID: &asset})
	require.NoError(t, err)
	require.Len(t, byAsset, 2)

	listed, err := store.Events(Filter{Type: escrow.EventTypeSaleListed, Limit: 1})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.Equal(t, uint64(1), listed[0].AssetID)
}

func TestStoreIgnoresUnrenderableEvents(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Record(nil))
	all, err := store.Events(Filter{})
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestStoreCapturesSettlementsOnce(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Record(settlementEvent(escrow.EventTypeSaleFinalized, "3", "1")))
	require.NoError(t, store.Record(settlementEvent(escrow.EventTypeSaleFinalized, "3", "1")))
	require.NoError(t, store.Record(settlementEvent(escrow.EventTypeSaleCancelled, "1", "2")))

	rows, err := store.Settlements()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, uint64(1), rows[0].AssetID)
	require.Equal(t, uint64(2), rows[0].Round)
	require.Equal(t, uint64(3), rows[1].AssetID)
	require.True(t, rows[1].InspectionPassed)
	require.Equal(t, "10", rows[1].PurchasePrice)
}

func TestStoreResumesSequence(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "audit.db")
	store, err := Open(DriverSQLite, dsn)
	require.NoError(t, err)
	require.NoError(t, store.Record(settlementEvent(escrow.EventTypeSaleFinalized, "1", "1")))
	require.NoError(t, store.Close())

	reopened, err := Open(DriverSQLite, dsn)
	require.NoError(t, err)
	defer reopened.Close()
	require.NoError(t, reopened.Record(settlementEvent(escrow.EventTypeSaleFinalized, "2", "1")))
	all, err := reopened.Events(Filter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, uint64(2), all[1].Sequence)
}

func TestExportSettlementsWritesParquet(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Record(settlementEvent(escrow.EventTypeSaleFinalized, "1", "1")))
	require.NoError(t, store.Record(settlementEvent(escrow.EventTypeSaleFinalized, "2", "1")))

	path := filepath.Join(t.TempDir(), "settlements.parquet")
	n, err := store.ExportSettlements(path)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(raw), 8)
	require.Equal(t, "PAR1", string(raw[:4]))
	require.Equal(t, "PAR1", string(raw[len(raw)-4:]))
}
