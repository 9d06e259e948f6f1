// Package output builds the configured chord player.
package output

import (
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"
	"gitlab.com/gomidi/midi/v2"

	"github.com/osa030/tabloop/internal/app/playback"
	"github.com/osa030/tabloop/internal/app/synth"
	"github.com/osa030/tabloop/internal/infra/audio"
	"github.com/osa030/tabloop/internal/infra/config"
	"github.com/osa030/tabloop/internal/infra/midiout"
)

// Output is a chord player together with the resources it owns.
type Output struct {
	Player playback.ChordPlayer
	Mixer  *audio.Mixer // Set for the mixer type only

	closers []io.Closer
}

// Close releases the output in reverse construction order.
func (o *Output) Close() error {
	var errs error
	for i := len(o.closers) - 1; i >= 0; i-- {
		if err := o.closers[i].Close(); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	o.closers = nil
	return errs
}

// openMIDIPort resolves an output port by name. Replaced in tests.
var openMIDIPort = func(name string) (midiout.SendFunc, io.Closer, error) {
	out, err := midi.FindOutPort(name)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "midi output port not found: %s", name)
	}
	send, err := midi.SendTo(out)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to open midi output port: %s", name)
	}
	return send, out, nil
}

// New creates the chord player selected by out.Type.
func New(out config.OutputConfig, synthCfg config.SynthConfig) (*Output, error) {
	zlog.Debug().Msgf("creating output: type=%s settings=%+v", out.Type, out.Settings)

	var (
		o   *Output
		err error
	)
	switch strings.ToLower(out.Type) {
	case config.OutputOto:
		o, err = newOto(out.Settings, synthCfg)
	case config.OutputMixer:
		o, err = newMixer(out.Settings, synthCfg)
	case config.OutputMIDI:
		o, err = newMIDI(out.Settings)
	default:
		return nil, errors.Newf("unsupported output type: %s", out.Type)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create output (type %s)", out.Type)
	}

	zlog.Info().Msgf("registered output: type=%s", out.Type)
	return o, nil
}

// decodeSettings fills target from a settings map, then applies defaults and
// validation tags.
func decodeSettings(settings map[string]any, target any) error {
	if err := mapstructure.Decode(settings, target); err != nil {
		return errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(target); err != nil {
		return errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(target); err != nil {
		return errors.Wrap(err, "validation failed")
	}
	return nil
}

func newSynth(port synth.OutputPort, synthCfg config.SynthConfig) (*synth.Synthesizer, error) {
	return synth.New(port, synth.Config{
		SampleRate: synthCfg.SampleRate,
		Amplitude:  synthCfg.Amplitude,
	})
}

func newOto(settings map[string]any, synthCfg config.SynthConfig) (*Output, error) {
	cfg := audio.OtoConfig{SampleRate: synthCfg.SampleRate}
	if err := decodeSettings(settings, &cfg); err != nil {
		return nil, err
	}
	s, err := newSynth(audio.NewOtoPort(cfg), synthCfg)
	if err != nil {
		return nil, err
	}
	// The synthesizer closes its port.
	return &Output{Player: s, closers: []io.Closer{s}}, nil
}

func newMixer(settings map[string]any, synthCfg config.SynthConfig) (*Output, error) {
	cfg := audio.MixerConfig{SampleRate: synthCfg.SampleRate}
	if err := decodeSettings(settings, &cfg); err != nil {
		return nil, err
	}
	mixer := audio.NewMixer(cfg, nil)
	s, err := newSynth(mixer, synthCfg)
	if err != nil {
		return nil, err
	}
	return &Output{Player: s, Mixer: mixer, closers: []io.Closer{s}}, nil
}

func newMIDI(settings map[string]any) (*Output, error) {
	var cfg midiout.Config
	if err := decodeSettings(settings, &cfg); err != nil {
		return nil, err
	}
	send, port, err := openMIDIPort(cfg.Port)
	if err != nil {
		return nil, err
	}
	p, err := midiout.New(send, cfg)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	// Close order: release sounding notes, then the port.
	return &Output{Player: p, closers: []io.Closer{port, p}}, nil
}
