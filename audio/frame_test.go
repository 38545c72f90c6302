package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFrame_Duration(t *testing.T) {
	t.Parallel()

	f := Frame{PCM: make([]int16, 320), SampleRate: 16000}
	assert.Equal(t, 20*time.Millisecond, f.Duration())

	assert.Equal(t, time.Duration(0), Frame{}.Duration())
}

func TestFrame_RMS(t *testing.T) {
	t.Parallel()

	silence := Frame{PCM: make([]int16, 160), SampleRate: 16000}
	assert.Equal(t, 0.0, silence.RMS())

	loud := Frame{PCM: make([]int16, 160), SampleRate: 16000}
	for i := range loud.PCM {
		loud.PCM[i] = 16000
	}
	assert.InDelta(t, 0.488, loud.RMS(), 0.01)
	assert.Greater(t, loud.RMS(), silence.RMS())
}

func TestSamplesPerFrame(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 320, SamplesPerFrame(16000, 20*time.Millisecond))
	assert.Equal(t, 160, SamplesPerFrame(8000, 20*time.Millisecond))
}
