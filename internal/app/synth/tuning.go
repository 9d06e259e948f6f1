// Package synth renders tablature notes as sine tones and submits them to an
// audio output port.
package synth

import (
	"math"

	"github.com/cockroachdb/errors"
	"gitlab.com/gomidi/midi/v2"

	"github.com/osa030/tabloop/internal/domain/tab"
)

// Errors
var (
	ErrInvalidString = errors.New("string out of range")
	ErrInvalidFret   = errors.New("fret out of range")
)

// StandardTuning holds the open-string frequencies in Hz, string 1 first.
var StandardTuning = [tab.LowestString]float64{329.63, 246.94, 196.00, 146.83, 110.00, 82.41}

// openKeys holds the open-string MIDI keys (E4 B3 G3 D3 A2 E2), string 1 first.
var openKeys = [tab.LowestString]int{64, 59, 55, 50, 45, 40}

func checkString(str, fret int) error {
	if str < tab.HighestString || str > tab.LowestString {
		return errors.Wrapf(ErrInvalidString, "string %d", str)
	}
	if fret < 0 {
		return errors.Wrapf(ErrInvalidFret, "fret %d", fret)
	}
	return nil
}

// Frequency returns the equal-tempered frequency of a fretted string.
func Frequency(str, fret int) (float64, error) {
	if err := checkString(str, fret); err != nil {
		return 0, err
	}
	return StandardTuning[str-1] * math.Pow(2, float64(fret)/12), nil
}

// MIDIKey returns the MIDI note of a fretted string.
func MIDIKey(str, fret int) (midi.Note, error) {
	if err := checkString(str, fret); err != nil {
		return 0, err
	}
	key := openKeys[str-1] + fret
	if key > 127 {
		return 0, errors.Wrapf(ErrInvalidFret, "fret %d exceeds MIDI range on string %d", fret, str)
	}
	return midi.Note(uint8(key)), nil
}
