package service

// EventSink delivers lifecycle events to the session that owns a task.
// Emit must not block on network I/O.
type EventSink interface {
	Emit(sessionID string, event any)
}
