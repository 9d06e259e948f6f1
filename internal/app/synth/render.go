package synth

import (
	"math"
	"time"
)

// DefaultSampleRate is the output sample rate in Hz.
const DefaultSampleRate = 44100

// Frames returns the number of frames covering d at the given sample rate.
func Frames(d time.Duration, sampleRate int) int {
	return int(d.Seconds() * float64(sampleRate))
}

// Render generates a mono sine buffer. There is no envelope, so the tone can
// click at the buffer edges.
func Render(freq float64, d time.Duration, sampleRate int, amplitude float64) []float32 {
	frames := Frames(d, sampleRate)
	if frames <= 0 {
		return nil
	}
	out := make([]float32, frames)
	step := 2 * math.Pi * freq / float64(sampleRate)
	for i := range out {
		out[i] = float32(amplitude * math.Sin(step*float64(i)))
	}
	return out
}
