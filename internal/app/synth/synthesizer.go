package synth

import (
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tabloop/internal/domain/tab"
)

// ErrClosed is returned by PlayNote after Close.
var ErrClosed = errors.New("synthesizer is closed")

// OutputPort is an audio output accepting mono float32 buffers at the
// synthesizer's sample rate. Submit must not wait for playback to finish;
// buffers submitted close together are mixed by the port.
type OutputPort interface {
	Start() error
	Submit(samples []float32) error
	Close() error
}

// Config holds synthesizer configuration.
type Config struct {
	SampleRate int     // Frames per second
	Amplitude  float64 // Peak amplitude of a single tone
}

// DefaultConfig returns 44100 Hz at full amplitude.
func DefaultConfig() Config {
	return Config{SampleRate: DefaultSampleRate, Amplitude: 1.0}
}

// Synthesizer turns notes into sine tones on an output port.
// The port is started on first use and closed by Close.
type Synthesizer struct {
	port OutputPort
	cfg  Config

	startMu sync.Mutex
	started bool

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// New creates a synthesizer writing to port.
func New(port OutputPort, cfg Config) (*Synthesizer, error) {
	if port == nil {
		return nil, errors.New("output port is required")
	}
	if cfg.SampleRate <= 0 {
		return nil, errors.Newf("sample rate must be positive, got %d", cfg.SampleRate)
	}
	return &Synthesizer{port: port, cfg: cfg}, nil
}

// PlayChord renders and submits every note of the chord in the background.
// Failures are logged and the affected note is dropped.
func (s *Synthesizer) PlayChord(chord tab.Chord) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.inflight.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.inflight.Done()
		for _, n := range chord.Notes {
			if err := s.playNote(n); err != nil {
				zlog.Warn().Err(err).Msgf("synth: dropped note: string=%d fret=%d", n.String, n.Fret)
			}
		}
	}()
}

// PlayNote renders one note and submits it to the port.
func (s *Synthesizer) PlayNote(n tab.Note) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return s.playNote(n)
}

func (s *Synthesizer) playNote(n tab.Note) error {
	freq, err := Frequency(n.String, n.Fret)
	if err != nil {
		return err
	}
	samples := Render(freq, n.Duration, s.cfg.SampleRate, s.cfg.Amplitude)
	if len(samples) == 0 {
		return nil
	}

	if err := s.ensureStarted(); err != nil {
		return err
	}

	if key, err := MIDIKey(n.String, n.Fret); err == nil {
		zlog.Debug().Msgf("synth: note %s: string=%d fret=%d freq=%.2fHz frames=%d",
			key, n.String, n.Fret, freq, len(samples))
	}

	if err := s.port.Submit(samples); err != nil {
		return errors.Wrap(err, "failed to submit buffer")
	}
	return nil
}

// ensureStarted starts the port once. A failed start is retried on the next note.
func (s *Synthesizer) ensureStarted() error {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	if s.started {
		return nil
	}
	if err := s.port.Start(); err != nil {
		return errors.Wrap(err, "failed to start audio output")
	}
	s.started = true
	zlog.Debug().Msgf("synth: audio output started: sample_rate=%d", s.cfg.SampleRate)
	return nil
}

// Close waits for in-flight chords and closes the port.
func (s *Synthesizer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.inflight.Wait()
	return s.port.Close()
}
