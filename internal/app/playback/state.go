// Package playback drives a timed performance of a tablature's chords.
package playback

// State represents the playback state.
type State int

const (
	StateStopped State = iota // Cursor parked at the loop start
	StatePlaying              // Chords are being advanced on the timer
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StatePlaying:
		return "playing"
	default:
		return "unknown"
	}
}
