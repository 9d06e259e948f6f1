// Package midiout plays chords as MIDI note on/off messages.
package midiout

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"gitlab.com/gomidi/midi/v2"

	"github.com/osa030/tabloop/internal/app/synth"
	"github.com/osa030/tabloop/internal/domain/tab"
)

// Config represents MIDI output settings.
type Config struct {
	Port     string `mapstructure:"port" validate:"required"`
	Channel  uint8  `mapstructure:"channel" validate:"lte=15"`
	Velocity uint8  `mapstructure:"velocity" default:"100" validate:"gte=1,lte=127"`
}

// SendFunc delivers one MIDI message, typically obtained from midi.SendTo.
type SendFunc func(msg midi.Message) error

type pendingOff struct {
	key    uint8
	cancel func()
}

// Player sends a note on for every note of a chord and the matching note off
// once the note's duration has elapsed.
type Player struct {
	send SendFunc
	cfg  Config

	// AfterFunc schedules note offs. Defaults to time.AfterFunc.
	AfterFunc func(d time.Duration, fn func()) (cancel func())

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]pendingOff
	closed  bool
}

// New creates a MIDI chord player.
func New(send SendFunc, cfg Config) (*Player, error) {
	if send == nil {
		return nil, errors.New("midi send function is required")
	}
	return &Player{
		send:      send,
		cfg:       cfg,
		AfterFunc: wallAfterFunc,
		pending:   make(map[uint64]pendingOff),
	}, nil
}

func wallAfterFunc(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}

// PlayChord sends note ons for the chord and schedules the note offs.
// Notes that cannot be expressed as MIDI keys are logged and skipped.
func (p *Player) PlayChord(chord tab.Chord) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	for _, n := range chord.Notes {
		key, err := synth.MIDIKey(n.String, n.Fret)
		if err != nil {
			zlog.Warn().Err(err).Msgf("midiout: skipped note: string=%d fret=%d", n.String, n.Fret)
			continue
		}
		if err := p.send(midi.NoteOn(p.cfg.Channel, uint8(key), p.cfg.Velocity)); err != nil {
			zlog.Warn().Err(err).Msgf("midiout: note on failed: key=%s", key)
			continue
		}

		id := p.nextID
		p.nextID++
		off := pendingOff{key: uint8(key)}
		off.cancel = p.AfterFunc(n.Duration, func() { p.release(id) })
		p.pending[id] = off
	}
}

// release sends the note off for a pending note.
func (p *Player) release(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	off, ok := p.pending[id]
	if !ok {
		return
	}
	delete(p.pending, id)
	p.noteOffLocked(off.key)
}

func (p *Player) noteOffLocked(key uint8) {
	if err := p.send(midi.NoteOff(p.cfg.Channel, key)); err != nil {
		zlog.Warn().Err(err).Msgf("midiout: note off failed: key=%d", key)
	}
}

// Pending returns the number of sounding notes.
func (p *Player) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Close releases every sounding note.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	for id, off := range p.pending {
		if off.cancel != nil {
			off.cancel()
		}
		p.noteOffLocked(off.key)
		delete(p.pending, id)
	}
	return nil
}
