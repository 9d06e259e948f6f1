package playback

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tabloop/internal/domain/tab"
)

// Event delivery limits. The first eventBuffer events go straight into the
// channel; later ones queue until the reader catches up. Only chord events are
// shed, and only once maxPendingEvents are queued.
const (
	eventBuffer      = 32
	maxPendingEvents = 1024
)

// Errors
var (
	ErrLoopOrder = errors.New("loop start must not be after loop end")
	ErrNoPlayer  = errors.New("chord player is required")
	ErrClosed    = errors.New("engine is closed")
)

// ChordPlayer sounds a chord. PlayChord is called with the engine lock held
// and must return without waiting for the audio to finish.
type ChordPlayer interface {
	PlayChord(chord tab.Chord)
}

// Config holds engine configuration.
type Config struct {
	Loop      bool             // Repeat the loop span until Stop
	LoopStart int              // Note index of the loop start
	LoopEnd   int              // Note index of the loop end; negative means the last note
	Now       func() time.Time // Clock used for cursor motion (defaults to time.Now)
}

// DefaultConfig returns a configuration spanning every note, without looping.
func DefaultConfig() Config {
	return Config{LoopStart: 0, LoopEnd: -1}
}

// Snapshot is a consistent view of the engine state.
type Snapshot struct {
	State          State
	LoopEnabled    bool
	Cursor         Cursor
	CursorPosition float64 // Cursor interpolated at snapshot time
	LoopStart      int     // Note index
	LoopEnd        int     // Note index
	GroupIndex     int     // Next chord to play; meaningful while playing
	Run            uint64  // Incremented by every Start that begins playback
}

// IsPlaying reports whether the snapshot was taken while playing.
func (s Snapshot) IsPlaying() bool {
	return s.State == StatePlaying
}

// Engine advances through the chords of a tablature between loop bounds,
// one chord per scheduler tick.
type Engine struct {
	mu sync.RWMutex

	tab    *tab.Tablature
	player ChordPlayer
	sched  Scheduler
	now    func() time.Time

	// Playback state
	state       State
	loopEnabled bool
	loopStart   int
	loopEnd     int
	groupIndex  int
	cursor      Cursor

	// Timer
	cancelTick func()
	generation uint64 // Bumped on Start/Stop so stale ticks are ignored
	run        uint64

	// Chords already reported as having mixed durations
	warned map[int]bool

	// Events
	eventCh     chan Event
	pending     []Event // Queued behind a full channel, in order
	dispatching bool    // A dispatcher goroutine owns pending
	closed      bool
}

// NewEngine creates a playback engine for the given tablature.
// A nil scheduler uses a WallClock with the default resolution.
func NewEngine(t *tab.Tablature, player ChordPlayer, sched Scheduler, cfg Config) (*Engine, error) {
	if t == nil {
		return nil, tab.ErrEmptyTablature
	}
	if player == nil {
		return nil, ErrNoPlayer
	}
	if sched == nil {
		sched = NewWallClock(DefaultTickResolution)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	loopEnd := cfg.LoopEnd
	if loopEnd < 0 {
		loopEnd = t.Len() - 1
	}
	if err := t.CheckNoteIndex(cfg.LoopStart); err != nil {
		return nil, errors.Wrap(err, "invalid loop start")
	}
	if err := t.CheckNoteIndex(loopEnd); err != nil {
		return nil, errors.Wrap(err, "invalid loop end")
	}
	if cfg.LoopStart > loopEnd {
		return nil, errors.Wrapf(ErrLoopOrder, "start=%d end=%d", cfg.LoopStart, loopEnd)
	}

	e := &Engine{
		tab:         t,
		player:      player,
		sched:       sched,
		now:         now,
		state:       StateStopped,
		loopEnabled: cfg.Loop,
		loopStart:   cfg.LoopStart,
		loopEnd:     loopEnd,
		warned:      make(map[int]bool),
		eventCh:     make(chan Event, eventBuffer),
	}
	e.cursor = Parked(e.loopStartXLocked())
	return e, nil
}

// Events returns the event channel. State changes are never dropped, so the
// channel must be read until it is closed by Close.
func (e *Engine) Events() <-chan Event {
	return e.eventCh
}

// Notes returns the notes of the tablature being played.
func (e *Engine) Notes() []tab.Note {
	return e.tab.Notes()
}

// Tablature returns the tablature being played.
func (e *Engine) Tablature() *tab.Tablature {
	return e.tab
}

// Start starts playback from the loop start. It does nothing when already playing.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	if e.state == StatePlaying {
		return nil
	}

	e.generation++
	e.run++
	e.state = StatePlaying
	e.groupIndex = e.tab.GroupIndex(e.loopStart)
	e.cursor = Parked(e.tab.XCoordinate(e.groupIndex))

	zlog.Debug().Msgf("playback: start: loop=%v start_note=%d end_note=%d group=%d",
		e.loopEnabled, e.loopStart, e.loopEnd, e.groupIndex)
	e.sendEventLocked(EventStarted, nil)

	e.advanceLocked()
	return nil
}

// Stop cancels the pending tick and parks the cursor at the loop start.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopLocked(EventStopped)
}

func (e *Engine) stopLocked(reason EventType) {
	if e.cancelTick != nil {
		e.cancelTick()
		e.cancelTick = nil
	}
	wasPlaying := e.state == StatePlaying
	e.generation++
	e.state = StateStopped
	e.cursor = Parked(e.loopStartXLocked())

	if wasPlaying {
		zlog.Debug().Msgf("playback: %s", reason)
		e.sendEventLocked(reason, nil)
	}
}

// SetLoopStart moves the loop start to the given note index.
// The edit is rejected when the index is out of range or after the loop end.
func (e *Engine) SetLoopStart(noteIndex int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.tab.CheckNoteIndex(noteIndex); err != nil {
		return err
	}
	if noteIndex > e.loopEnd {
		return errors.Wrapf(ErrLoopOrder, "start=%d end=%d", noteIndex, e.loopEnd)
	}

	e.loopStart = noteIndex
	if e.state == StateStopped {
		e.cursor = Parked(e.loopStartXLocked())
	}
	e.sendEventLocked(EventLoopChanged, nil)
	return nil
}

// SetLoopEnd moves the loop end to the given note index.
// The edit is rejected when the index is out of range or before the loop start.
func (e *Engine) SetLoopEnd(noteIndex int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.tab.CheckNoteIndex(noteIndex); err != nil {
		return err
	}
	if noteIndex < e.loopStart {
		return errors.Wrapf(ErrLoopOrder, "start=%d end=%d", e.loopStart, noteIndex)
	}

	e.loopEnd = noteIndex
	e.sendEventLocked(EventLoopChanged, nil)
	return nil
}

// SetLoopEnabled toggles looping. It takes effect at the end of the current span.
func (e *Engine) SetLoopEnabled(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.loopEnabled == enabled {
		return
	}
	e.loopEnabled = enabled
	e.sendEventLocked(EventLoopChanged, nil)
}

// LoopEnabled reports whether looping is enabled.
func (e *Engine) LoopEnabled() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loopEnabled
}

// LoopBounds returns the loop start and end note indices.
func (e *Engine) LoopBounds() (start, end int) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loopStart, e.loopEnd
}

// IsPlaying reports whether the engine is playing.
func (e *Engine) IsPlaying() bool {
	return e.State() == StatePlaying
}

// State returns the current playback state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Cursor returns the current cursor motion.
func (e *Engine) Cursor() Cursor {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cursor
}

// CursorPosition returns the cursor x-coordinate interpolated at the current time.
func (e *Engine) CursorPosition() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cursor.Position(e.now())
}

// Snapshot returns a consistent copy of the engine state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() Snapshot {
	return Snapshot{
		State:          e.state,
		LoopEnabled:    e.loopEnabled,
		Cursor:         e.cursor,
		CursorPosition: e.cursor.Position(e.now()),
		LoopStart:      e.loopStart,
		LoopEnd:        e.loopEnd,
		GroupIndex:     e.groupIndex,
		Run:            e.run,
	}
}

// Close stops playback and closes the event channel once every queued event
// has been delivered.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	e.stopLocked(EventStopped)
	e.closed = true
	if !e.dispatching {
		close(e.eventCh)
	}
}

// onTick handles a fired timer. Ticks from an earlier generation are stale:
// Stop or a restart happened after they were scheduled.
func (e *Engine) onTick(generation uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if generation != e.generation || e.state != StatePlaying {
		return
	}
	e.cancelTick = nil
	e.advanceLocked()
}

// advanceLocked plays the chord at the current group index and schedules the
// next tick, wrapping or stopping at the end of the loop span.
// Must be called with lock held.
func (e *Engine) advanceLocked() {
	for e.state == StatePlaying {
		startGroup := e.tab.GroupIndex(e.loopStart)
		endGroup := e.tab.GroupIndex(e.loopEnd)

		if e.groupIndex <= endGroup {
			e.playGroupLocked(endGroup)
			return
		}

		if !e.loopEnabled {
			e.stopLocked(EventPlaybackEnded)
			return
		}
		// Notes need not be sorted by position, so the loop start note can
		// sit in a later chord than the loop end note. Nothing to play then.
		if startGroup > endGroup {
			zlog.Warn().Msgf("playback: empty loop span: start_group=%d end_group=%d", startGroup, endGroup)
			e.stopLocked(EventPlaybackEnded)
			return
		}

		e.groupIndex = startGroup
		e.cursor = Parked(e.tab.XCoordinate(startGroup))
		e.sendEventLocked(EventLoopRestarted, nil)
	}
}

func (e *Engine) playGroupLocked(endGroup int) {
	gi := e.groupIndex
	chord := e.tab.Group(gi)
	if !chord.Uniform() && !e.warned[gi] {
		e.warned[gi] = true
		zlog.Warn().Msgf("playback: chord at position %d has mixed note durations, using %v",
			chord.Position, chord.Duration())
	}

	e.player.PlayChord(chord)

	duration := chord.Duration()
	target := e.tab.XCoordinate(gi)
	if gi < endGroup {
		target = e.tab.XCoordinate(gi + 1)
	}
	e.cursor = Cursor{
		From:      e.tab.XCoordinate(gi),
		To:        target,
		StartedAt: e.now(),
		Duration:  duration,
	}

	zlog.Debug().Msgf("playback: chord: group=%d position=%d notes=%d duration=%v",
		gi, chord.Position, len(chord.Notes), duration)
	e.sendEventLocked(EventChordStarted, &chord)

	e.groupIndex++
	e.scheduleTickLocked(duration)
}

func (e *Engine) scheduleTickLocked(d time.Duration) {
	if e.cancelTick != nil {
		e.cancelTick()
	}
	generation := e.generation
	e.cancelTick = e.sched.AfterFunc(d, func() {
		e.onTick(generation)
	})
}

func (e *Engine) loopStartXLocked() float64 {
	return e.tab.XCoordinate(e.tab.GroupIndex(e.loopStart))
}

// sendEventLocked delivers an event without blocking the engine.
// Must be called with lock held.
func (e *Engine) sendEventLocked(t EventType, chord *tab.Chord) {
	if e.closed {
		return
	}
	ev := Event{
		Type:       t,
		Chord:      chord,
		GroupIndex: e.groupIndex,
		Snapshot:   e.snapshotLocked(),
	}

	if !e.dispatching {
		select {
		case e.eventCh <- ev:
			return
		default:
		}
	}

	if t == EventChordStarted && len(e.pending) >= maxPendingEvents {
		zlog.Debug().Msgf("playback: event backlog full, dropping chord event: group=%d", e.groupIndex)
		return
	}
	e.pending = append(e.pending, ev)
	if !e.dispatching {
		e.dispatching = true
		go e.dispatch()
	}
}

// dispatch forwards queued events to the channel outside the lock, then
// closes the channel if the engine was closed meanwhile.
func (e *Engine) dispatch() {
	for {
		e.mu.Lock()
		if len(e.pending) == 0 {
			e.dispatching = false
			if e.closed {
				close(e.eventCh)
			}
			e.mu.Unlock()
			return
		}
		ev := e.pending[0]
		e.pending[0] = Event{}
		e.pending = e.pending[1:]
		e.mu.Unlock()

		e.eventCh <- ev
	}
}
