package tab

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func notesAt(positions ...int) []Note {
	notes := make([]Note, len(positions))
	for i, p := range positions {
		notes[i] = Note{
			ID:       string(rune('a' + i)),
			String:   6 - i%6,
			Fret:     i,
			Position: p,
			Duration: 500 * time.Millisecond,
		}
	}
	return notes
}

func TestNewNote_Validation(t *testing.T) {
	tests := []struct {
		name     string
		str      int
		fret     int
		position int
		duration time.Duration
		wantErr  bool
	}{
		{name: "valid open string", str: 6, fret: 0, position: 0, duration: time.Second},
		{name: "valid highest string", str: 1, fret: 12, position: 3, duration: time.Millisecond},
		{name: "string zero", str: 0, fret: 0, position: 0, duration: time.Second, wantErr: true},
		{name: "string seven", str: 7, fret: 0, position: 0, duration: time.Second, wantErr: true},
		{name: "negative fret", str: 3, fret: -1, position: 0, duration: time.Second, wantErr: true},
		{name: "negative position", str: 3, fret: 0, position: -2, duration: time.Second, wantErr: true},
		{name: "zero duration", str: 3, fret: 0, position: 0, duration: 0, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := NewNote(tt.str, tt.fret, tt.position, tt.duration)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidNote)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, n.ID)
			assert.Equal(t, tt.str, n.String)
			assert.Equal(t, tt.fret, n.Fret)
		})
	}
}

func TestNew_Rejects(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrEmptyTablature)

	_, err = New([]Note{{String: 9, Duration: time.Second}})
	assert.ErrorIs(t, err, ErrInvalidNote)
}

func TestNew_CopiesInput(t *testing.T) {
	notes := notesAt(0, 1)
	tb, err := New(notes)
	require.NoError(t, err)

	notes[0].Fret = 99
	assert.Equal(t, 0, tb.Note(0).Fret)
}

func TestTablature_Groups_SharedPosition(t *testing.T) {
	tb, err := New(notesAt(0, 0, 1, 2, 3, 4))
	require.NoError(t, err)

	groups := tb.Groups()
	require.Len(t, groups, 5)
	assert.Len(t, groups[0].Notes, 2)
	for i, g := range groups {
		assert.Equal(t, i, g.Position)
	}
}

func TestTablature_Groups_UnsortedInput(t *testing.T) {
	tb, err := New(notesAt(4, 1, 4, 0))
	require.NoError(t, err)

	groups := tb.Groups()
	require.Len(t, groups, 3)
	assert.Equal(t, 0, groups[0].Position)
	assert.Equal(t, 1, groups[1].Position)
	assert.Equal(t, 4, groups[2].Position)
	// Notes keep their input order inside a chord.
	assert.Equal(t, "a", groups[2].Notes[0].ID)
	assert.Equal(t, "c", groups[2].Notes[1].ID)
}

func TestTablature_GroupingProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 50; round++ {
		count := 1 + rng.Intn(20)
		positions := make([]int, count)
		for i := range positions {
			positions[i] = rng.Intn(8)
		}
		tb, err := New(notesAt(positions...))
		require.NoError(t, err)

		groups := tb.Groups()
		seen := make(map[string]int)
		for gi, g := range groups {
			if gi > 0 {
				assert.Less(t, groups[gi-1].Position, g.Position, "groups must ascend strictly")
			}
			for _, n := range g.Notes {
				assert.Equal(t, g.Position, n.Position)
				seen[n.ID]++
			}
		}
		assert.Len(t, seen, count)
		for id, c := range seen {
			assert.Equal(t, 1, c, "note %s must appear exactly once", id)
		}

		for i := 0; i < tb.Len(); i++ {
			g := tb.Group(tb.GroupIndex(i))
			assert.Contains(t, g.Notes, tb.Note(i))
		}
	}
}

func TestTablature_GroupIndexOutOfRange(t *testing.T) {
	tb, err := New(notesAt(0, 1))
	require.NoError(t, err)

	assert.Panics(t, func() { tb.GroupIndex(2) })
	assert.ErrorIs(t, tb.CheckNoteIndex(2), ErrNoteIndexOutOfRange)
	assert.ErrorIs(t, tb.CheckNoteIndex(-1), ErrNoteIndexOutOfRange)
	assert.NoError(t, tb.CheckNoteIndex(1))
}

func TestTablature_XCoordinate(t *testing.T) {
	tb, err := New(notesAt(0, 0, 2, 5))
	require.NoError(t, err)

	assert.Equal(t, 40.0, tb.XCoordinate(0))
	assert.Equal(t, 160.0, tb.XCoordinate(1))
	assert.Equal(t, 340.0, tb.XCoordinate(2))
	assert.Equal(t, 100.0, PositionX(1))
}

func TestTablature_NearestNote(t *testing.T) {
	tb, err := New(notesAt(0, 0, 1, 2, 3, 4))
	require.NoError(t, err)

	tests := []struct {
		name     string
		x        float64
		expected int
	}{
		{name: "left of strip", x: -100, expected: 0},
		{name: "exact chord picks first note", x: 40, expected: 0},
		{name: "closer to second slot", x: 85, expected: 2},
		{name: "midpoint tie keeps earlier note", x: 70, expected: 0},
		{name: "right of strip", x: 1000, expected: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tb.NearestNote(tt.x))
		})
	}
}

func TestChord_DurationAndUniform(t *testing.T) {
	c := Chord{Notes: []Note{
		{Duration: time.Second},
		{Duration: time.Second},
	}}
	assert.Equal(t, time.Second, c.Duration())
	assert.True(t, c.Uniform())

	c.Notes = append(c.Notes, Note{Duration: 2 * time.Second})
	assert.Equal(t, time.Second, c.Duration())
	assert.False(t, c.Uniform())

	assert.Equal(t, time.Duration(0), Chord{}.Duration())
	assert.True(t, Chord{}.Uniform())
}

func TestDemoNotes(t *testing.T) {
	notes := DemoNotes()
	require.Len(t, notes, 6)

	tb, err := New(notes)
	require.NoError(t, err)
	assert.Equal(t, 5, tb.GroupCount())
	assert.Equal(t, time.Second, tb.Group(4).Duration())
	assert.NotEqual(t, notes[0].ID, notes[1].ID)
}
