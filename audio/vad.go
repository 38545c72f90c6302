package audio

import "time"

// VADConfig tunes the RMS voice activity detector.
type VADConfig struct {
	// RMS level to start speech
	SpeechThreshold float64 `yaml:"speech_threshold" json:"speech_threshold"`
	// RMS level to end speech
	SilenceThreshold float64 `yaml:"silence_threshold" json:"silence_threshold"`
	// Consecutive speech frames needed to enter speech
	SpeechFrames int `yaml:"speech_frames" json:"speech_frames"`
	// Consecutive silence frames needed to leave speech
	SilenceFrames int `yaml:"silence_frames" json:"silence_frames"`
}

// DefaultVADConfig returns thresholds suitable for 16kHz 20ms frames.
func DefaultVADConfig() VADConfig {
	return VADConfig{
		SpeechThreshold:  0.015,
		SilenceThreshold: 0.008,
		SpeechFrames:     3,
		SilenceFrames:    30,
	}
}

// VAD is an RMS-energy voice activity detector with hysteresis, so the
// speech/silence decision does not flicker at the threshold boundary.
type VAD struct {
	cfg          VADConfig
	inSpeech     bool
	speechCount  int
	silenceCount int
}

// NewVAD creates a detector with the given config.
func NewVAD(cfg VADConfig) *VAD {
	if cfg.SpeechThreshold <= 0 {
		cfg = DefaultVADConfig()
	}
	return &VAD{cfg: cfg}
}

// IsSpeech updates the detector with one frame and reports whether the
// caller is currently speaking.
func (v *VAD) IsSpeech(f Frame) bool {
	level := f.RMS()

	if v.inSpeech {
		if level < v.cfg.SilenceThreshold {
			v.silenceCount++
			v.speechCount = 0
			if v.silenceCount >= v.cfg.SilenceFrames {
				v.inSpeech = false
				v.silenceCount = 0
			}
		} else {
			v.silenceCount = 0
		}
	} else {
		if level >= v.cfg.SpeechThreshold {
			v.speechCount++
			v.silenceCount = 0
			if v.speechCount >= v.cfg.SpeechFrames {
				v.inSpeech = true
				v.speechCount = 0
			}
		} else {
			v.speechCount = 0
		}
	}

	return v.inSpeech
}

// Reset clears internal state for the next utterance.
func (v *VAD) Reset() {
	v.inSpeech = false
	v.speechCount = 0
	v.silenceCount = 0
}

// BargeInMonitor watches inbound frames while outbound audio is playing and
// fires once when the caller has spoken continuously for the debounce
// duration. Transient noise shorter than the debounce never triggers.
type BargeInMonitor struct {
	vad      *VAD
	debounce time.Duration
	voiced   time.Duration
	fired    bool
}

// NewBargeInMonitor creates a monitor with the given sustained-voice
// debounce, e.g. 150ms.
func NewBargeInMonitor(cfg VADConfig, debounce time.Duration) *BargeInMonitor {
	return &BargeInMonitor{
		vad:      NewVAD(cfg),
		debounce: debounce,
	}
}

// Observe consumes one inbound frame. It returns true exactly once per
// armed period, when sustained voice has exceeded the debounce. The VAD
// hangover rides out short pauses, but only frames carrying voice
// energy count toward the debounce; trailing silence resets it.
func (m *BargeInMonitor) Observe(f Frame) bool {
	if m.fired {
		return false
	}
	if m.vad.IsSpeech(f) && f.RMS() >= m.vad.cfg.SilenceThreshold {
		m.voiced += f.Duration()
	} else {
		m.voiced = 0
	}
	if m.voiced >= m.debounce {
		m.fired = true
		return true
	}
	return false
}

// Arm resets the monitor for the next playback.
func (m *BargeInMonitor) Arm() {
	m.vad.Reset()
	m.voiced = 0
	m.fired = false
}
