package events

import "deedescrow/core/types"

// typedEvent is implemented by events that can render themselves into the
// wire representation consumed by RPC and audit subscribers.
type typedEvent interface {
	Event() *types.Event
}

// ToTypes converts a structured event into its wire representation. Events
// that cannot be rendered yield nil.
func ToTypes(evt Event) *types.Event {
	if evt == nil {
		return nil
	}
	rendered, ok := evt.(typedEvent)
	if !ok {
		return nil
	}
	return rendered.Event()
}

func cloneAttributes(attrs map[string]string) map[string]string {
	if attrs == nil {
		return nil
	}
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
