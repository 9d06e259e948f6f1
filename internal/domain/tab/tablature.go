package tab

import (
	"math"
	"sort"

	"github.com/cockroachdb/errors"
)

// Layout of the strip: x = position*SlotWidth + SlotOffset.
const (
	SlotWidth  = 60.0
	SlotOffset = 40.0
)

// Tablature is an immutable note sequence with its derived chord grouping.
type Tablature struct {
	notes  []Note
	groups []Chord
	// noteGroup maps a note index to its chord index.
	noteGroup []int
}

// New creates a tablature from the given notes.
// The slice is copied; later changes by the caller are not observed.
func New(notes []Note) (*Tablature, error) {
	if len(notes) == 0 {
		return nil, ErrEmptyTablature
	}
	for i, n := range notes {
		if err := n.Validate(); err != nil {
			return nil, errors.Wrapf(err, "note %d", i)
		}
	}

	t := &Tablature{notes: make([]Note, len(notes))}
	copy(t.notes, notes)
	t.groups, t.noteGroup = groupByPosition(t.notes)
	return t, nil
}

// groupByPosition partitions notes by position, chords ascending by position.
func groupByPosition(notes []Note) ([]Chord, []int) {
	byPos := make(map[int][]Note)
	for _, n := range notes {
		byPos[n.Position] = append(byPos[n.Position], n)
	}

	positions := make([]int, 0, len(byPos))
	for p := range byPos {
		positions = append(positions, p)
	}
	sort.Ints(positions)

	groups := make([]Chord, len(positions))
	posGroup := make(map[int]int, len(positions))
	for gi, p := range positions {
		groups[gi] = Chord{Position: p, Notes: byPos[p]}
		posGroup[p] = gi
	}

	noteGroup := make([]int, len(notes))
	for i, n := range notes {
		noteGroup[i] = posGroup[n.Position]
	}
	return groups, noteGroup
}

// Len returns the number of notes.
func (t *Tablature) Len() int {
	return len(t.notes)
}

// Notes returns a copy of the notes in their original order.
func (t *Tablature) Notes() []Note {
	result := make([]Note, len(t.notes))
	copy(result, t.notes)
	return result
}

// Note returns the note at index i.
func (t *Tablature) Note(i int) Note {
	return t.notes[i]
}

// Groups returns the chords ordered by ascending position.
func (t *Tablature) Groups() []Chord {
	result := make([]Chord, len(t.groups))
	for i, g := range t.groups {
		notes := make([]Note, len(g.Notes))
		copy(notes, g.Notes)
		result[i] = Chord{Position: g.Position, Notes: notes}
	}
	return result
}

// GroupCount returns the number of chords.
func (t *Tablature) GroupCount() int {
	return len(t.groups)
}

// Group returns the chord at group index gi.
func (t *Tablature) Group(gi int) Chord {
	return t.groups[gi]
}

// CheckNoteIndex returns ErrNoteIndexOutOfRange if i is not a valid note index.
func (t *Tablature) CheckNoteIndex(i int) error {
	if i < 0 || i >= len(t.notes) {
		return errors.Wrapf(ErrNoteIndexOutOfRange, "index %d, have %d notes", i, len(t.notes))
	}
	return nil
}

// GroupIndex returns the index of the chord containing the note at noteIndex.
// Like slice indexing it panics when noteIndex is out of range.
func (t *Tablature) GroupIndex(noteIndex int) int {
	return t.noteGroup[noteIndex]
}

// XCoordinate returns the display x-coordinate of chord gi.
func (t *Tablature) XCoordinate(gi int) float64 {
	return PositionX(t.groups[gi].Position)
}

// PositionX maps a horizontal slot to a display x-coordinate.
func PositionX(position int) float64 {
	return float64(position)*SlotWidth + SlotOffset
}

// NearestNote returns the index of the note whose x-coordinate is closest to x.
// The first note wins on ties.
func (t *Tablature) NearestNote(x float64) int {
	best := 0
	bestDist := math.Inf(1)
	for i, n := range t.notes {
		if d := math.Abs(PositionX(n.Position) - x); d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best
}
