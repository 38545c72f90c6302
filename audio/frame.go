// Package audio provides the PCM frame model shared by the whole call
// pipeline, the duplex stream adapter that bridges the telephony carrier and
// the session, a voice activity detector used for barge-in monitoring, and
// the answering-machine detector.
package audio

import (
	"math"
	"time"
)

// Frame is one fixed-duration chunk of mono 16-bit PCM audio.
type Frame struct {
	PCM        []int16   `json:"-"`
	SampleRate int       `json:"sample_rate"`
	Timestamp  time.Time `json:"timestamp"`
}

// Duration returns the play time of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.PCM)) * time.Second / time.Duration(f.SampleRate)
}

// RMS returns the root-mean-square energy of the frame normalized to [0,1].
func (f Frame) RMS() float64 {
	if len(f.PCM) == 0 {
		return 0
	}
	var sum float64
	for _, s := range f.PCM {
		v := float64(s) / math.MaxInt16
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(f.PCM)))
}

// SamplesPerFrame returns the sample count for a frame period at the given
// rate, e.g. 320 for 20ms at 16kHz.
func SamplesPerFrame(sampleRate int, period time.Duration) int {
	return int(int64(sampleRate) * int64(period) / int64(time.Second))
}
