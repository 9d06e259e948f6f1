// Package audio provides audio output ports for the synthesizer.
package audio

import (
	"io"
	"math"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ebitengine/oto/v3"
	zlog "github.com/rs/zerolog/log"
)

// OtoConfig represents oto output settings.
type OtoConfig struct {
	SampleRate   int `mapstructure:"-" default:"44100" validate:"gt=0"`
	BufferSizeMs int `mapstructure:"buffer_size_ms" default:"0" validate:"gte=0,lte=1000"`
}

// oto allows a single context per process.
var (
	otoOnce       sync.Once
	otoContext    *oto.Context
	otoContextErr error
	otoSampleRate int
)

func sharedOtoContext(cfg OtoConfig) (*oto.Context, error) {
	otoOnce.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   cfg.SampleRate,
			ChannelCount: 1,
			Format:       oto.FormatFloat32LE,
			BufferSize:   time.Duration(cfg.BufferSizeMs) * time.Millisecond,
		})
		if err != nil {
			otoContextErr = err
			return
		}
		<-ready
		otoContext = ctx
		otoSampleRate = cfg.SampleRate
	})
	if otoContextErr != nil {
		return nil, errors.Wrap(otoContextErr, "failed to create oto context")
	}
	if otoSampleRate != cfg.SampleRate {
		return nil, errors.Newf("oto context already running at %d Hz (requested %d Hz)", otoSampleRate, cfg.SampleRate)
	}
	return otoContext, nil
}

// OtoPort plays each submitted buffer on its own oto player; the oto mixer
// sums overlapping players.
type OtoPort struct {
	cfg OtoConfig

	mu      sync.Mutex
	ctx     *oto.Context
	players sync.WaitGroup
}

// NewOtoPort creates a device output port. The device is opened by Start.
func NewOtoPort(cfg OtoConfig) *OtoPort {
	return &OtoPort{cfg: cfg}
}

// Start opens (or reuses) the process-wide oto context.
func (p *OtoPort) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ctx != nil {
		return nil
	}
	ctx, err := sharedOtoContext(p.cfg)
	if err != nil {
		return err
	}
	if err := ctx.Resume(); err != nil {
		return errors.Wrap(err, "failed to resume oto context")
	}
	p.ctx = ctx
	return nil
}

// Submit starts playing the buffer and returns immediately.
func (p *OtoPort) Submit(samples []float32) error {
	p.mu.Lock()
	ctx := p.ctx
	p.mu.Unlock()
	if ctx == nil {
		return errors.New("oto port is not started")
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "oto context failed")
	}

	player := ctx.NewPlayer(&sampleReader{data: EncodeFloat32LE(samples)})
	player.Play()

	p.players.Add(1)
	go func() {
		defer p.players.Done()
		for player.IsPlaying() {
			time.Sleep(10 * time.Millisecond)
		}
		if err := player.Err(); err != nil {
			zlog.Warn().Err(err).Msg("audio: oto player failed")
		}
		_ = player.Close()
	}()
	return nil
}

// Close waits for the submitted buffers to finish and suspends the context.
// The context itself lives until the process exits.
func (p *OtoPort) Close() error {
	p.players.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctx == nil {
		return nil
	}
	err := p.ctx.Suspend()
	p.ctx = nil
	if err != nil {
		return errors.Wrap(err, "failed to suspend oto context")
	}
	return nil
}

type sampleReader struct {
	data []byte
	pos  int
}

func (r *sampleReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

// EncodeFloat32LE encodes samples as little-endian 32-bit floats.
func EncodeFloat32LE(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		v := math.Float32bits(s)
		out[i*4] = byte(v)
		out[i*4+1] = byte(v >> 8)
		out[i*4+2] = byte(v >> 16)
		out[i*4+3] = byte(v >> 24)
	}
	return out
}
