// Package tab provides the tablature domain model: notes, chords and layout.
package tab

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// String range of a six-string guitar. String 1 is the highest pitch.
const (
	HighestString = 1
	LowestString  = 6
)

// Errors
var (
	ErrInvalidNote         = errors.New("invalid note")
	ErrEmptyTablature      = errors.New("tablature has no notes")
	ErrNoteIndexOutOfRange = errors.New("note index out of range")
)

// Note represents a single fretted note on the tablature strip.
type Note struct {
	ID       string        // UUID
	String   int           // String number (1 = highest, 6 = lowest)
	Fret     int           // Fret number (0 = open string)
	Position int           // Horizontal slot on the strip
	Duration time.Duration // How long the note sounds
}

// NewNote creates a validated note with a fresh ID.
func NewNote(str, fret, position int, duration time.Duration) (Note, error) {
	n := Note{
		ID:       uuid.New().String(),
		String:   str,
		Fret:     fret,
		Position: position,
		Duration: duration,
	}
	if err := n.Validate(); err != nil {
		return Note{}, err
	}
	return n, nil
}

// Validate checks string, fret, position and duration ranges.
func (n Note) Validate() error {
	if n.String < HighestString || n.String > LowestString {
		return errors.Wrapf(ErrInvalidNote, "string %d outside %d..%d", n.String, HighestString, LowestString)
	}
	if n.Fret < 0 {
		return errors.Wrapf(ErrInvalidNote, "negative fret %d", n.Fret)
	}
	if n.Position < 0 {
		return errors.Wrapf(ErrInvalidNote, "negative position %d", n.Position)
	}
	if n.Duration <= 0 {
		return errors.Wrapf(ErrInvalidNote, "non-positive duration %v", n.Duration)
	}
	return nil
}

// Chord is the set of notes sharing one position.
type Chord struct {
	Position int
	Notes    []Note
}

// Duration returns the duration of the first note.
// Notes of one chord are expected to share it; see Uniform.
func (c Chord) Duration() time.Duration {
	if len(c.Notes) == 0 {
		return 0
	}
	return c.Notes[0].Duration
}

// Uniform reports whether every note of the chord has the same duration.
func (c Chord) Uniform() bool {
	if len(c.Notes) < 2 {
		return true
	}
	for _, n := range c.Notes[1:] {
		if n.Duration != c.Notes[0].Duration {
			return false
		}
	}
	return true
}

// DemoNotes returns the hard-coded demo phrase.
func DemoNotes() []Note {
	phrase := []struct {
		str, fret, pos int
		dur            time.Duration
	}{
		{6, 0, 0, 600 * time.Millisecond},
		{5, 3, 0, 600 * time.Millisecond},
		{4, 0, 1, 600 * time.Millisecond},
		{3, 0, 2, 600 * time.Millisecond},
		{2, 0, 3, 600 * time.Millisecond},
		{1, 7, 4, time.Second},
	}
	notes := make([]Note, 0, len(phrase))
	for _, s := range phrase {
		notes = append(notes, Note{
			ID:       uuid.New().String(),
			String:   s.str,
			Fret:     s.fret,
			Position: s.pos,
			Duration: s.dur,
		})
	}
	return notes
}
