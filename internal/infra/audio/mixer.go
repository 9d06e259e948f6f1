package audio

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/viterin/vek/vek32"
)

// MixerConfig represents in-memory mixer settings.
type MixerConfig struct {
	SampleRate int     `mapstructure:"-" default:"44100" validate:"gt=0"`
	MaxSeconds float64 `mapstructure:"max_seconds" default:"120" validate:"gt=0"`
}

// Mixer is a headless output port that sums submitted buffers onto a
// timeline, placing each one at the time it was submitted.
type Mixer struct {
	cfg MixerConfig
	now func() time.Time

	mu        sync.Mutex
	started   bool
	startedAt time.Time
	buf       []float32
	submitted int
}

// NewMixer creates a mixer. A nil clock uses time.Now.
func NewMixer(cfg MixerConfig, now func() time.Time) *Mixer {
	if now == nil {
		now = time.Now
	}
	return &Mixer{cfg: cfg, now: now}
}

// Start marks the beginning of the timeline.
func (m *Mixer) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		m.started = true
		m.startedAt = m.now()
	}
	return nil
}

// Submit adds the buffer onto the timeline at the current offset.
// Frames past MaxSeconds are dropped.
func (m *Mixer) Submit(samples []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return errors.New("mixer is not started")
	}
	offset := int(m.now().Sub(m.startedAt).Seconds() * float64(m.cfg.SampleRate))
	if offset < 0 {
		offset = 0
	}
	limit := int(m.cfg.MaxSeconds * float64(m.cfg.SampleRate))
	end := offset + len(samples)
	if end > limit {
		end = limit
	}
	if end <= offset {
		return errors.Newf("mixer timeline full (%.1fs)", m.cfg.MaxSeconds)
	}
	if end > len(m.buf) {
		grown := make([]float32, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	vek32.Add_Inplace(m.buf[offset:end], samples[:end-offset])
	m.submitted++
	return nil
}

// Mixed returns a copy of the mixed timeline.
func (m *Mixer) Mixed() []float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]float32, len(m.buf))
	copy(out, m.buf)
	return out
}

// Submitted returns the number of accepted buffers.
func (m *Mixer) Submitted() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submitted
}

// Peak returns the largest absolute sample value on the timeline.
func (m *Mixer) Peak() float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.buf) == 0 {
		return 0
	}
	return vek32.Max(vek32.Abs(m.buf))
}

// Duration returns the length of the mixed timeline.
func (m *Mixer) Duration() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return time.Duration(len(m.buf)) * time.Second / time.Duration(m.cfg.SampleRate)
}

// Close is a no-op; the timeline stays readable.
func (m *Mixer) Close() error {
	return nil
}
