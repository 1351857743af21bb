package events

import "sync"

// Buffer holds events raised inside a state transaction and forwards them to
// the sink once the transaction commits. Events of aborted transactions are
// dropped. Buffer implements both Emitter and the state manager's transaction
// observer.
type Buffer struct {
	mu      sync.Mutex
	sink    Emitter
	pending []Event
}

// NewBuffer returns a buffer delivering to sink.
func NewBuffer(sink Emitter) *Buffer {
	if sink == nil {
		sink = NoopEmitter{}
	}
	return &Buffer{sink: sink}
}

// Emit implements the Emitter interface.
func (b *Buffer) Emit(evt Event) {
	if evt == nil {
		return
	}
	b.mu.Lock()
	b.pending = append(b.pending, evt)
	b.mu.Unlock()
}

// Committed flushes pending events to the sink in emission order.
func (b *Buffer) Committed() {
	b.mu.Lock()
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()
	for _, evt := range pending {
		b.sink.Emit(evt)
	}
}

// Aborted drops pending events.
func (b *Buffer) Aborted() {
	b.mu.Lock()
	b.pending = nil
	b.mu.Unlock()
}
