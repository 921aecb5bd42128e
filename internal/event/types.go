package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "stage.completed").
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{eventType: eventType, timestamp: time.Now()}
}

// -----------------------------------------------------------------------------
// Session Lifecycle Events
// -----------------------------------------------------------------------------

// SessionStartedEvent is emitted when a new grooming session begins.
type SessionStartedEvent struct {
	baseEvent
	SessionID string
	EventKind string // detected transcript type, if known yet
}

// NewSessionStartedEvent creates a SessionStartedEvent.
func NewSessionStartedEvent(sessionID, eventKind string) SessionStartedEvent {
	return SessionStartedEvent{
		baseEvent: newBaseEvent("session.started"),
		SessionID: sessionID,
		EventKind: eventKind,
	}
}

// SessionResumedEvent is emitted when a suspended session resumes after an
// external decision was submitted.
type SessionResumedEvent struct {
	baseEvent
	SessionID string
	Kind      string // interrupt kind that was resolved: "approval" or "context"
}

// NewSessionResumedEvent creates a SessionResumedEvent.
func NewSessionResumedEvent(sessionID, kind string) SessionResumedEvent {
	return SessionResumedEvent{
		baseEvent: newBaseEvent("session.resumed"),
		SessionID: sessionID,
		Kind:      kind,
	}
}

// SessionCompletedEvent is emitted when a session reaches the done stage.
type SessionCompletedEvent struct {
	baseEvent
	SessionID string
	Approved  int
	Rejected  int
	Exported  int
}

// NewSessionCompletedEvent creates a SessionCompletedEvent.
func NewSessionCompletedEvent(sessionID string, approved, rejected, exported int) SessionCompletedEvent {
	return SessionCompletedEvent{
		baseEvent: newBaseEvent("session.completed"),
		SessionID: sessionID,
		Approved:  approved,
		Rejected:  rejected,
		Exported:  exported,
	}
}

// SessionFailedEvent is emitted when a fatal stage failure halts a session.
type SessionFailedEvent struct {
	baseEvent
	SessionID string
	Stage     string
	Reason    string
}

// NewSessionFailedEvent creates a SessionFailedEvent.
func NewSessionFailedEvent(sessionID, stage, reason string) SessionFailedEvent {
	return SessionFailedEvent{
		baseEvent: newBaseEvent("session.failed"),
		SessionID: sessionID,
		Stage:     stage,
		Reason:    reason,
	}
}

// -----------------------------------------------------------------------------
// Pipeline Events
// -----------------------------------------------------------------------------

// StageCompletedEvent is emitted after a stage's patch has been committed.
type StageCompletedEvent struct {
	baseEvent
	SessionID string
	Stage     string
	NextStage string
	Sequence  uint64 // checkpoint sequence that committed the stage
}

// NewStageCompletedEvent creates a StageCompletedEvent.
func NewStageCompletedEvent(sessionID, stage, nextStage string, seq uint64) StageCompletedEvent {
	return StageCompletedEvent{
		baseEvent: newBaseEvent("stage.completed"),
		SessionID: sessionID,
		Stage:     stage,
		NextStage: nextStage,
		Sequence:  seq,
	}
}

// InterruptRaisedEvent is emitted when the engine suspends for a human
// decision.
type InterruptRaisedEvent struct {
	baseEvent
	SessionID string
	Kind      string // "approval" or "context"
	ItemIDs   []string
	Message   string
}

// NewInterruptRaisedEvent creates an InterruptRaisedEvent.
func NewInterruptRaisedEvent(sessionID, kind string, itemIDs []string, message string) InterruptRaisedEvent {
	return InterruptRaisedEvent{
		baseEvent: newBaseEvent("interrupt.raised"),
		SessionID: sessionID,
		Kind:      kind,
		ItemIDs:   itemIDs,
		Message:   message,
	}
}

// ItemDegradedEvent is emitted when an item-scoped stage failure was
// replaced with a flagged fallback result.
type ItemDegradedEvent struct {
	baseEvent
	SessionID  string
	Stage      string
	WorkItemID string
	Reason     string
}

// NewItemDegradedEvent creates an ItemDegradedEvent.
func NewItemDegradedEvent(sessionID, stage, workItemID, reason string) ItemDegradedEvent {
	return ItemDegradedEvent{
		baseEvent:  newBaseEvent("item.degraded"),
		SessionID:  sessionID,
		Stage:      stage,
		WorkItemID: workItemID,
		Reason:     reason,
	}
}
