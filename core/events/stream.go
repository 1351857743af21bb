package events

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"deedescrow/core/types"
)

const streamHistoryLimit = 2048

// StreamEntry is a sequenced event delivered to stream subscribers.
type StreamEntry struct {
	Sequence  uint64
	Cursor    string
	Event     types.Event
	Timestamp int64
}

func cloneEntry(entry StreamEntry) StreamEntry {
	cloned := entry
	cloned.Event.Attributes = cloneAttributes(entry.Event.Attributes)
	return cloned
}

// Stream is an Emitter that keeps a bounded history of events and broadcasts
// them to live subscribers. Slow subscribers drop events rather than block the
// emitting state transition.
type Stream struct {
	mu      sync.Mutex
	seq     uint64
	nextID  uint64
	history []StreamEntry
	subs    map[uint64]chan StreamEntry
	nowFn   func() time.Time
}

// NewStream constructs an empty event stream.
func NewStream() *Stream {
	return &Stream{
		subs:  make(map[uint64]chan StreamEntry),
		nowFn: time.Now,
	}
}

// Emit implements the Emitter interface.
func (s *Stream) Emit(evt Event) {
	if s == nil {
		return
	}
	rendered := ToTypes(evt)
	if rendered == nil {
		return
	}

	s.mu.Lock()
	s.seq++
	entry := StreamEntry{
		Sequence:  s.seq,
		Cursor:    strconv.FormatUint(s.seq, 10),
		Event:     types.Event{Type: rendered.Type, Attributes: cloneAttributes(rendered.Attributes)},
		Timestamp: s.nowFn().Unix(),
	}
	s.history = append(s.history, entry)
	if len(s.history) > streamHistoryLimit {
		excess := len(s.history) - streamHistoryLimit
		trimmed := make([]StreamEntry, streamHistoryLimit)
		copy(trimmed, s.history[excess:])
		s.history = trimmed
	}
	// Sends happen under the lock so cancel cannot close a channel mid-send.
	for _, ch := range s.subs {
		select {
		case ch <- cloneEntry(entry):
		default:
		}
	}
	s.mu.Unlock()
}

// Since returns the retained entries with a sequence greater than cursor.
func (s *Stream) Since(cursor string) []StreamEntry {
	since := parseCursor(cursor)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StreamEntry, 0, len(s.history))
	for _, entry := range s.history {
		if entry.Sequence > since {
			out = append(out, cloneEntry(entry))
		}
	}
	return out
}

// Subscribe registers a subscriber for events emitted after the supplied
// cursor. Retained events newer than the cursor are returned as backlog.
func (s *Stream) Subscribe(ctx context.Context, cursor string) (<-chan StreamEntry, func(), []StreamEntry, error) {
	if s == nil {
		return nil, nil, nil, fmt.Errorf("events: stream not initialised")
	}
	updates := make(chan StreamEntry, 32)
	since := parseCursor(cursor)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = updates
	backlog := make([]StreamEntry, 0, len(s.history))
	for _, entry := range s.history {
		if entry.Sequence > since {
			backlog = append(backlog, cloneEntry(entry))
		}
	}
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			if sub, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(sub)
			}
			s.mu.Unlock()
		})
	}

	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return updates, cancel, backlog, nil
}

func parseCursor(cursor string) uint64 {
	trimmed := strings.TrimSpace(cursor)
	if trimmed == "" {
		return 0
	}
	parsed, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}
