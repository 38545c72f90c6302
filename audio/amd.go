package audio

import (
	"strings"
	"time"
)

// AMDVerdict is the answering-machine classification of a connected call.
type AMDVerdict string

const (
	AMDHuman   AMDVerdict = "human"
	AMDMachine AMDVerdict = "machine"
)

// AMDConfig tunes answering-machine detection.
type AMDConfig struct {
	// Observation window after connect
	Window time.Duration `yaml:"window" json:"window"`
	// Uninterrupted opener at or above this length reads as a machine
	MonologueCutoff time.Duration `yaml:"monologue_cutoff" json:"monologue_cutoff"`
	// Openers with this many words or more read as a machine
	WordCutoff int `yaml:"word_cutoff" json:"word_cutoff"`
}

// DefaultAMDConfig returns detection defaults for a 3s window.
func DefaultAMDConfig() AMDConfig {
	return AMDConfig{
		Window:          3 * time.Second,
		MonologueCutoff: 3 * time.Second,
		WordCutoff:      14,
	}
}

// Greeting fragments that only voicemail systems produce.
var machinePhrases = []string{
	"leave a message",
	"leave your message",
	"after the tone",
	"after the beep",
	"at the tone",
	"is not available",
	"not available right now",
	"cannot take your call",
	"can't take your call",
	"mailbox",
	"voicemail",
	"please record",
	"has been forwarded",
}

// AMD classifies the opening seconds of a connected call as answered by a
// human or a machine. It consumes early transcript evidence plus timing
// heuristics; absent decisive evidence it defaults to human when the window
// closes, so the call is never blocked.
type AMD struct {
	cfg     AMDConfig
	started time.Time

	decided bool
	verdict AMDVerdict
}

// NewAMD creates a detector. The clock starts at the first Observe call.
func NewAMD(cfg AMDConfig) *AMD {
	if cfg.Window <= 0 {
		cfg = DefaultAMDConfig()
	}
	return &AMD{cfg: cfg}
}

// ObserveTranscript feeds one partial or final transcript of the opener.
// speechDur is the accumulated uninterrupted speech duration so far.
func (d *AMD) ObserveTranscript(text string, speechDur time.Duration, isFinal bool) {
	if d.decided {
		return
	}
	d.touch()

	lower := strings.ToLower(text)
	for _, phrase := range machinePhrases {
		if strings.Contains(lower, phrase) {
			d.decide(AMDMachine)
			return
		}
	}

	if speechDur >= d.cfg.MonologueCutoff {
		d.decide(AMDMachine)
		return
	}
	if len(strings.Fields(lower)) >= d.cfg.WordCutoff {
		d.decide(AMDMachine)
		return
	}

	// A short greeting that already finished is the human pattern:
	// "Hello?" followed by a pause waiting for the caller.
	if isFinal && speechDur > 0 && speechDur < d.cfg.MonologueCutoff {
		d.decide(AMDHuman)
	}
}

// ObserveDTMF records a DTMF digit during the window; IVR menus emit tones.
func (d *AMD) ObserveDTMF() {
	if d.decided {
		return
	}
	d.touch()
	d.decide(AMDMachine)
}

// Verdict returns the classification and whether it is decided. After the
// window has elapsed an undecided detector resolves to human.
func (d *AMD) Verdict() (AMDVerdict, bool) {
	if d.decided {
		return d.verdict, true
	}
	if !d.started.IsZero() && time.Since(d.started) >= d.cfg.Window {
		d.decide(AMDHuman)
		return d.verdict, true
	}
	return AMDHuman, false
}

// Window returns the configured observation window.
func (d *AMD) Window() time.Duration {
	return d.cfg.Window
}

func (d *AMD) touch() {
	if d.started.IsZero() {
		d.started = time.Now()
	}
}

func (d *AMD) decide(v AMDVerdict) {
	d.decided = true
	d.verdict = v
}
