// Package main provides the tabplayer entry point.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"gitlab.com/gomidi/midi/v2"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // autoregisters driver

	"github.com/osa030/tabloop/internal/app/observer"
	"github.com/osa030/tabloop/internal/app/session"
	"github.com/osa030/tabloop/internal/app/synth"
	"github.com/osa030/tabloop/internal/domain/tab"
	"github.com/osa030/tabloop/internal/infra/config"
	"github.com/osa030/tabloop/internal/infra/logger"
)

var (
	app        = kingpin.New("tabplayer", "Guitar tablature loop player")
	configPath = app.Flag("config", "Path to config file").Default("config/tabloop.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stderr)").String()

	// play command (default)
	playCmd    = app.Command("play", "Play the tablature (default)").Default()
	playLoop   = playCmd.Flag("loop", "Repeat the loop span until interrupted").IsSetByUser(&loopSet).Bool()
	loopStart  = playCmd.Flag("loop-start", "Note index of the loop start").IsSetByUser(&loopStartSet).Int()
	loopEnd    = playCmd.Flag("loop-end", "Note index of the loop end (-1 = last note)").IsSetByUser(&loopEndSet).Int()
	playFor    = playCmd.Flag("for", "Stop after this duration (0 = until the end or a signal)").Default("0s").Duration()
	outputType = playCmd.Flag("output", "Output type").Enum(config.OutputOto, config.OutputMixer, config.OutputMIDI)

	loopSet, loopStartSet, loopEndSet bool

	// groups command
	groupsCmd = app.Command("groups", "Print chord groups and exit")

	// frequencies command
	frequenciesCmd = app.Command("frequencies", "Print note frequencies and exit")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	loggerConfig := logger.Config{Level: cfg.Log.Level, File: *logfile}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	closer, err := logger.Init(loggerConfig)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer closer.Close()

	t, err := tab.New(tab.DemoNotes())
	if err != nil {
		zlog.Fatal().Msgf("Failed to build tablature: %v", err)
	}

	switch command {
	case groupsCmd.FullCommand():
		printGroups(os.Stdout, t)
		return
	case frequenciesCmd.FullCommand():
		printFrequencies(os.Stdout, t)
		return
	}

	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		zlog.Fatal().Msgf("Invalid configuration: %v", err)
	}

	if err := run(cfg, t.Notes()); err != nil {
		zlog.Error().Msgf("Playback error: %v", err)
		os.Exit(1)
	}
}

// applyFlags overrides configuration values with command-line flags.
func applyFlags(cfg *config.Config) {
	if loopSet {
		cfg.Playback.Loop = *playLoop
	}
	if loopStartSet {
		cfg.Playback.LoopStart = *loopStart
	}
	if loopEndSet {
		end := *loopEnd
		cfg.Playback.LoopEnd = &end
	}
	if *outputType != "" {
		cfg.Output.Type = *outputType
	}
}

// run plays the notes until playback ends, the duration elapses or a signal
// arrives. Using a separate function ensures defers run on error returns.
func run(cfg *config.Config, notes []tab.Note) error {
	if cfg.Output.Type == config.OutputMIDI {
		defer midi.CloseDriver()
	}

	sessionMgr, err := session.NewManager(cfg, notes)
	if err != nil {
		return errors.Wrap(err, "failed to create session")
	}
	defer func() {
		if err := sessionMgr.Close(); err != nil {
			zlog.Error().Msgf("Failed to close session: %v", err)
		}
		reportMixer(sessionMgr)
	}()

	sessionMgr.Hub().Subscribe(observer.LogSink{Logger: zlog.Logger})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var deadline <-chan time.Time
	if *playFor > 0 {
		timer := time.NewTimer(*playFor)
		defer timer.Stop()
		deadline = timer.C
	}

	start, end := sessionMgr.Engine().LoopBounds()
	zlog.Info().Msgf("Starting playback: output=%s loop=%v loop_start=%d loop_end=%d",
		cfg.Output.Type, cfg.Playback.Loop, start, end)
	if err := sessionMgr.Start(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		zlog.Info().Msg("Received shutdown signal...")
	case <-deadline:
		zlog.Info().Msgf("Play duration elapsed: %v", *playFor)
		sessionMgr.Stop()
	case <-sessionMgr.Done():
		zlog.Info().Msg("Playback ended")
	}
	return nil
}

func reportMixer(m *session.Manager) {
	mixer := m.Output().Mixer
	if mixer == nil {
		return
	}
	zlog.Info().Msgf("Mixed output: buffers=%d duration=%v peak=%.3f",
		mixer.Submitted(), mixer.Duration(), mixer.Peak())
}

func printGroups(w io.Writer, t *tab.Tablature) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "GROUP\tPOSITION\tX\tDURATION\tNOTES")
	for gi, chord := range t.Groups() {
		notes := make([]string, 0, len(chord.Notes))
		for _, n := range chord.Notes {
			notes = append(notes, fmt.Sprintf("%d/%d", n.String, n.Fret))
		}
		fmt.Fprintf(tw, "%d\t%d\t%.0f\t%v\t%s\n",
			gi, chord.Position, t.XCoordinate(gi), chord.Duration(), strings.Join(notes, " "))
	}
	_ = tw.Flush()
}

func printFrequencies(w io.Writer, t *tab.Tablature) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NOTE\tSTRING\tFRET\tFREQ (Hz)\tKEY")
	for i, n := range t.Notes() {
		freq, err := synth.Frequency(n.String, n.Fret)
		if err != nil {
			fmt.Fprintf(tw, "%d\t%d\t%d\t-\t%v\n", i, n.String, n.Fret, err)
			continue
		}
		key := "-"
		if k, err := synth.MIDIKey(n.String, n.Fret); err == nil {
			key = k.String()
		}
		fmt.Fprintf(tw, "%d\t%d\t%d\t%.2f\t%s\n", i, n.String, n.Fret, freq, key)
	}
	_ = tw.Flush()
}
