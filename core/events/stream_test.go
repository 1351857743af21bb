package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"deedescrow/core/types"
)

type testEvent struct {
	kind string
	id   string
}

func (e testEvent) EventType() string { return e.kind }

func (e testEvent) Event() *types.Event {
	return &types.Event{Type: e.kind, Attributes: map[string]string{"id": e.id}}
}

func TestStreamBacklogAndLiveDelivery(t *testing.T) {
	stream := NewStream()
	stream.Emit(testEvent{kind: "escrow.listed", id: "1"})
	stream.Emit(testEvent{kind: "escrow.earnest_deposited", id: "1"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates, unsubscribe, backlog, err := stream.Subscribe(ctx, "1")
	require.NoError(t, err)
	defer unsubscribe()
	require.Len(t, backlog, 1)
	require.Equal(t, "escrow.earnest_deposited", backlog[0].Event.Type)
	require.Equal(t, "2", backlog[0].Cursor)

	stream.Emit(testEvent{kind: "escrow.finalized", id: "1"})
	select {
	case entry := <-updates:
		require.Equal(t, uint64(3), entry.Sequence)
		require.Equal(t, "1", entry.Event.Attributes["id"])
	case <-time.After(time.Second):
		t.Fatal("expected live event")
	}
}

func TestStreamIgnoresUnrenderableEvents(t *testing.T) {
	stream := NewStream()
	stream.Emit(nil)
	require.Empty(t, stream.Since(""))

	var rec Recorder
	Multi{&rec, nil, stream}.Emit(testEvent{kind: "escrow.cancelled", id: "9"})
	require.Len(t, rec.Events(), 1)
	require.Len(t, stream.Since("0"), 1)
}

func TestBufferDeliversOnlyCommittedEvents(t *testing.T) {
	var rec Recorder
	buf := NewBuffer(&rec)

	buf.Emit(testEvent{kind: "escrow.listed", id: "1"})
	buf.Aborted()
	require.Empty(t, rec.Events())

	buf.Emit(testEvent{kind: "escrow.listed", id: "2"})
	buf.Emit(testEvent{kind: "escrow.earnest_deposited", id: "2"})
	buf.Committed()
	got := rec.Events()
	require.Len(t, got, 2)
	require.Equal(t, "escrow.listed", got[0].EventType())
	require.Equal(t, "escrow.earnest_deposited", got[1].EventType())
}
