// Package events defines the emitter contract used by the native modules to
// surface state changes to downstream consumers.
package events

// Event is anything with a stable event type tag.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to subscribers such as the RPC layer or an
// indexer. Implementations must not block block application.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter discards every event. Modules default to it so event emission
// is always optional.
type NoopEmitter struct{}

// Emit implements Emitter.
func (NoopEmitter) Emit(Event) {}
