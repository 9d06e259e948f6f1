// Package session owns one playback session: tablature, output, engine and
// observer hub, from construction to shutdown.
package session

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tabloop/internal/app/observer"
	"github.com/osa030/tabloop/internal/app/output"
	"github.com/osa030/tabloop/internal/app/playback"
	"github.com/osa030/tabloop/internal/domain/tab"
	"github.com/osa030/tabloop/internal/infra/config"
)

var ErrSessionClosed = errors.New("session is closed")

// Option customizes a Manager.
type Option func(*options)

type options struct {
	scheduler playback.Scheduler
}

// WithScheduler replaces the wall-clock scheduler built from the config.
func WithScheduler(s playback.Scheduler) Option {
	return func(o *options) { o.scheduler = s }
}

// Manager manages a playback session.
type Manager struct {
	mu sync.Mutex

	id string

	// Components
	tab    *tab.Tablature
	output *output.Output
	engine *playback.Engine
	hub    *observer.Hub

	// Lifecycle
	ctx        context.Context
	cancel     context.CancelFunc
	loopWG     sync.WaitGroup
	running    bool
	closed     bool
	run        uint64             // Engine run that done belongs to
	runCancel  context.CancelFunc // Stops the watcher of the current run
	done       chan struct{}
	doneClosed bool
}

// NewManager builds a session for notes from configuration.
func NewManager(cfg *config.Config, notes []tab.Note, opts ...Option) (*Manager, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.scheduler == nil {
		o.scheduler = playback.NewWallClock(cfg.TickResolution())
	}

	t, err := tab.New(notes)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build tablature")
	}

	out, err := output.New(cfg.Output, cfg.Synth)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create output")
	}

	engine, err := playback.NewEngine(t, out.Player, o.scheduler, playback.Config{
		Loop:      cfg.Playback.Loop,
		LoopStart: cfg.Playback.LoopStart,
		LoopEnd:   cfg.Playback.LoopEndIndex(),
	})
	if err != nil {
		_ = out.Close()
		return nil, errors.Wrap(err, "failed to create playback engine")
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		id:     uuid.New().String(),
		tab:    t,
		output: out,
		engine: engine,
		hub:    observer.NewHub(observer.DefaultSendTimeout),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	zlog.Info().Msgf("session created: session_id=%s notes=%d chords=%d output=%s",
		m.id, t.Len(), t.GroupCount(), cfg.Output.Type)
	return m, nil
}

// ID returns the session ID.
func (m *Manager) ID() string {
	return m.id
}

// Start starts playback and the event loop. Cancelling ctx stops playback.
// Starting again after playback ended re-arms Done for the new run; starting
// while already playing changes nothing.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrSessionClosed
	}
	if !m.running {
		m.running = true
		m.loopWG.Add(1)
		go m.eventLoop()
	}

	if err := m.engine.Start(); err != nil {
		return errors.Wrap(err, "failed to start playback")
	}
	run := m.engine.Snapshot().Run
	if run == m.run {
		return nil
	}

	m.run = run
	if m.doneClosed {
		m.done = make(chan struct{})
		m.doneClosed = false
	}
	if m.runCancel != nil {
		m.runCancel()
	}
	runCtx, runCancel := context.WithCancel(m.ctx)
	m.runCancel = runCancel
	go func() {
		select {
		case <-ctx.Done():
			zlog.Info().Msgf("session context done, stopping playback: session_id=%s", m.id)
			m.Stop()
		case <-runCtx.Done():
		}
	}()

	zlog.Info().Msgf("session started: session_id=%s run=%d", m.id, run)
	return nil
}

// Stop stops playback. The session can be started again.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.runCancel != nil {
		m.runCancel()
		m.runCancel = nil
	}
	m.mu.Unlock()

	m.engine.Stop()
}

// Done is closed when the current run reaches the end of a non-looping span,
// or when the session is closed. Each Start that begins a new run after the
// previous one ended returns a fresh channel here.
func (m *Manager) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// Engine returns the playback engine.
func (m *Manager) Engine() *playback.Engine {
	return m.engine
}

// Hub returns the observer hub.
func (m *Manager) Hub() *observer.Hub {
	return m.hub
}

// Output returns the chord output.
func (m *Manager) Output() *output.Output {
	return m.output
}

// Tablature returns the tablature being played.
func (m *Manager) Tablature() *tab.Tablature {
	return m.tab
}

// eventLoop forwards engine events to the hub until the engine is closed.
func (m *Manager) eventLoop() {
	defer m.loopWG.Done()
	m.hub.Pump(m.ctx, m.engine.Events(), m.handleEvent)
}

// handleEvent runs after an event has been published.
func (m *Manager) handleEvent(ev playback.Event) {
	zlog.Debug().Msgf("playback event: type=%s group=%d run=%d", ev.Type, ev.GroupIndex, ev.Snapshot.Run)

	if ev.Type != playback.EventPlaybackEnded {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// An end event from an earlier run must not close the channel of a newer one.
	if ev.Snapshot.Run != m.run {
		return
	}
	zlog.Info().Msgf("playback ended: session_id=%s run=%d", m.id, ev.Snapshot.Run)
	m.closeDoneLocked()
	if m.runCancel != nil {
		m.runCancel()
		m.runCancel = nil
	}
}

func (m *Manager) closeDoneLocked() {
	if !m.doneClosed {
		m.doneClosed = true
		close(m.done)
	}
}

// Close stops playback and releases the engine, hub and output.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	// Closing the engine closes its event channel, which ends the event loop
	// after the remaining events are published.
	m.engine.Close()
	m.loopWG.Wait()
	m.cancel()
	m.hub.Close()

	m.mu.Lock()
	m.closeDoneLocked()
	m.mu.Unlock()

	if err := m.output.Close(); err != nil {
		return errors.Wrap(err, "failed to close output")
	}
	zlog.Info().Msgf("session closed: session_id=%s", m.id)
	return nil
}
