package playback

import "github.com/osa030/tabloop/internal/domain/tab"

// EventType represents a playback event type.
type EventType int

const (
	EventStarted       EventType = iota // Playback started from the loop start
	EventChordStarted                   // A chord was handed to the player
	EventLoopRestarted                  // Cursor wrapped back to the loop start
	EventStopped                        // Stop was called
	EventPlaybackEnded                  // Loop span finished without looping
	EventLoopChanged                    // Loop bounds or loop flag changed
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventStarted:
		return "started"
	case EventChordStarted:
		return "chord_started"
	case EventLoopRestarted:
		return "loop_restarted"
	case EventStopped:
		return "stopped"
	case EventPlaybackEnded:
		return "playback_ended"
	case EventLoopChanged:
		return "loop_changed"
	default:
		return "unknown"
	}
}

// Event represents a playback event.
type Event struct {
	Type       EventType
	Chord      *tab.Chord // Chord that started (EventChordStarted only)
	GroupIndex int        // Current group index
	Snapshot   Snapshot   // Engine state after the event
}
