package midiout

import (
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/gomidi/midi/v2"

	"github.com/osa030/tabloop/internal/domain/tab"
)

type recorder struct {
	mu   sync.Mutex
	msgs []midi.Message
	err  error
}

func (r *recorder) send(msg midi.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recorder) noteOns() []uint8 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var keys []uint8
	for _, m := range r.msgs {
		var ch, key, vel uint8
		if m.GetNoteOn(&ch, &key, &vel) {
			keys = append(keys, key)
		}
	}
	return keys
}

func (r *recorder) noteOffs() []uint8 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var keys []uint8
	for _, m := range r.msgs {
		var ch, key, vel uint8
		if m.GetNoteOff(&ch, &key, &vel) {
			keys = append(keys, key)
		}
	}
	return keys
}

type deferred struct {
	fns []func()
}

func (d *deferred) afterFunc(_ time.Duration, fn func()) func() {
	d.fns = append(d.fns, fn)
	return func() {}
}

func (d *deferred) fireAll() {
	fns := d.fns
	d.fns = nil
	for _, fn := range fns {
		fn()
	}
}

func openChord() tab.Chord {
	return tab.Chord{Position: 0, Notes: []tab.Note{
		{String: 6, Fret: 0, Duration: 600 * time.Millisecond},
		{String: 5, Fret: 3, Duration: 600 * time.Millisecond},
	}}
}

func newTestPlayer(t *testing.T, rec *recorder) (*Player, *deferred) {
	t.Helper()
	p, err := New(rec.send, Config{Port: "test", Channel: 2, Velocity: 90})
	require.NoError(t, err)
	d := &deferred{}
	p.AfterFunc = d.afterFunc
	return p, d
}

func TestNew_RequiresSend(t *testing.T) {
	_, err := New(nil, Config{Port: "x"})
	assert.Error(t, err)
}

func TestPlayer_NoteOnThenOff(t *testing.T) {
	rec := &recorder{}
	p, d := newTestPlayer(t, rec)

	p.PlayChord(openChord())
	assert.Equal(t, []uint8{40, 48}, rec.noteOns())
	assert.Empty(t, rec.noteOffs())
	assert.Equal(t, 2, p.Pending())

	d.fireAll()
	assert.ElementsMatch(t, []uint8{40, 48}, rec.noteOffs())
	assert.Equal(t, 0, p.Pending())
}

func TestPlayer_ChannelAndVelocity(t *testing.T) {
	rec := &recorder{}
	p, _ := newTestPlayer(t, rec)

	p.PlayChord(tab.Chord{Notes: []tab.Note{{String: 1, Fret: 7, Duration: time.Second}}})

	require.Len(t, rec.msgs, 1)
	var ch, key, vel uint8
	require.True(t, rec.msgs[0].GetNoteOn(&ch, &key, &vel))
	assert.Equal(t, uint8(2), ch)
	assert.Equal(t, uint8(71), key)
	assert.Equal(t, uint8(90), vel)
}

func TestPlayer_SkipsUnplayableNotes(t *testing.T) {
	rec := &recorder{}
	p, _ := newTestPlayer(t, rec)

	p.PlayChord(tab.Chord{Notes: []tab.Note{
		{String: 1, Fret: 80, Duration: time.Second},
		{String: 2, Fret: 0, Duration: time.Second},
	}})
	assert.Equal(t, []uint8{59}, rec.noteOns())
}

func TestPlayer_SendFailureIsNotFatal(t *testing.T) {
	rec := &recorder{err: errors.New("port closed")}
	p, _ := newTestPlayer(t, rec)

	assert.NotPanics(t, func() { p.PlayChord(openChord()) })
	assert.Equal(t, 0, p.Pending())
}

func TestPlayer_CloseReleasesSoundingNotes(t *testing.T) {
	rec := &recorder{}
	p, d := newTestPlayer(t, rec)

	p.PlayChord(openChord())
	require.NoError(t, p.Close())
	assert.ElementsMatch(t, []uint8{40, 48}, rec.noteOffs())

	d.fireAll()
	assert.Len(t, rec.noteOffs(), 2, "no duplicate note offs after close")

	p.PlayChord(openChord())
	assert.Len(t, rec.noteOns(), 2, "closed player ignores chords")
	require.NoError(t, p.Close())
}
