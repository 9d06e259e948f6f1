package observer

import (
	"github.com/rs/zerolog"

	"github.com/osa030/tabloop/internal/app/playback"
)

// LogSink writes updates to a zerolog logger. Chord updates are logged at
// info level, everything else at debug.
type LogSink struct {
	Logger zerolog.Logger
}

// Send implements Sink.
func (s LogSink) Send(u *Update) error {
	ev := s.Logger.Debug()
	if u.Type == playback.EventChordStarted {
		ev = s.Logger.Info()
	}
	ev = ev.Uint64("seq", u.SequenceNo).
		Str("event", u.Type.String()).
		Str("state", u.Snapshot.State.String()).
		Float64("cursor", u.Snapshot.Cursor.From)
	if u.Chord != nil {
		ev = ev.Int("position", u.Chord.Position).
			Int("notes", len(u.Chord.Notes)).
			Dur("duration", u.Chord.Duration())
	}
	ev.Msg("playback")
	return nil
}
