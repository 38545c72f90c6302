package audio

import (
	"math"
	"time"
)

// ToneClip renders a soft sine prompt tone as 20ms frames. It is the
// last-resort canned clip when no recorded audio exists for a topic, so
// a failed synthesizer never leaves the line silent.
func ToneClip(sampleRate int, dur time.Duration) []Frame {
	if sampleRate <= 0 || dur <= 0 {
		return nil
	}
	const (
		freq      = 440.0
		amplitude = 0.12 * math.MaxInt16
	)
	period := 20 * time.Millisecond
	perFrame := SamplesPerFrame(sampleRate, period)
	frameCount := int((dur + period - 1) / period)

	clip := make([]Frame, 0, frameCount)
	sample := 0
	for i := 0; i < frameCount; i++ {
		pcm := make([]int16, perFrame)
		for j := range pcm {
			phase := 2 * math.Pi * freq * float64(sample) / float64(sampleRate)
			pcm[j] = int16(amplitude * math.Sin(phase))
			sample++
		}
		clip = append(clip, Frame{PCM: pcm, SampleRate: sampleRate})
	}
	return clip
}
