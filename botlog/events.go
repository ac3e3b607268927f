package botlog

import "time"

// EventType defines the type of delivery event.
type EventType int

const (
	// EventDelivered indicates that a row was inserted.
	EventDelivered EventType = iota
	// EventRetrying indicates that an attempt failed and another is scheduled.
	EventRetrying
	// EventDeliveryFailed indicates that a row was dropped for good.
	EventDeliveryFailed
	// EventTokenError indicates that no token could be obtained for an attempt.
	EventTokenError
	// EventSkipped indicates that logging is disabled and nothing was sent.
	EventSkipped
)

func (t EventType) String() string {
	switch t {
	case EventDelivered:
		return "delivered"
	case EventRetrying:
		return "retrying"
	case EventDeliveryFailed:
		return "delivery_failed"
	case EventTokenError:
		return "token_error"
	case EventSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Event represents a delivery event.
type Event struct {
	Error      error
	Time       time.Time
	RecordID   string
	Type       EventType
	Attempt    int
	StatusCode int
}

// Events returns the event channel. Nobody has to read it; when the buffer
// is full the oldest event is dropped.
func (l *Logger) Events() <-chan Event {
	return l.eventChan
}

// sendEvent sends an event to the event channel non-blocking.
func (l *Logger) sendEvent(event Event) {
	event.Time = l.now()
	select {
	case l.eventChan <- event:
	default:
		// Channel full, drop oldest
		select {
		case <-l.eventChan:
		default:
		}
		select {
		case l.eventChan <- event:
		default:
		}
	}
}
