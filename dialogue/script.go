package dialogue

import (
	"fmt"

	"github.com/callpilot-ai/callpilot/types"
)

// ScriptPack is the immutable per-tenant script configuration. It is
// resolved once at session creation and never mutated mid-call.
type ScriptPack struct {
	ID       string `yaml:"id"`
	Industry string `yaml:"industry"`

	Opening          string   `yaml:"opening"`
	PitchLines       []string `yaml:"pitch_lines"`
	ClosingLine      string   `yaml:"closing_line"`
	NeutralClose     string   `yaml:"neutral_close"`
	VoicemailMessage string   `yaml:"voicemail_message"`

	// Rebuttals maps each objection intent to its rebuttal template.
	Rebuttals map[types.Intent]string `yaml:"rebuttals"`

	QualifyingQuestions []string `yaml:"qualifying_questions"`
	BookingPrompt       string   `yaml:"booking_prompt"`
	ConfirmPrompt       string   `yaml:"confirm_prompt"`

	// Fillers are short neutral phrases spoken while a slow stage is
	// recovering, so the caller never hears dead air.
	Fillers []string `yaml:"fillers"`

	// ObjectionRecovery is where a handled objection returns the
	// conversation to: pitching or qualifying.
	ObjectionRecovery types.DialogueState `yaml:"objection_recovery"`

	// StateFallbacks are templated lines used when the language model
	// misses its budget, keyed by dialogue state.
	StateFallbacks map[types.DialogueState]string `yaml:"state_fallbacks"`
}

// Validate checks the pack covers everything the policy can ask for.
func (s *ScriptPack) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("script pack: missing id")
	}
	if s.Opening == "" {
		return fmt.Errorf("script pack %s: missing opening", s.ID)
	}
	if len(s.PitchLines) == 0 {
		return fmt.Errorf("script pack %s: missing pitch lines", s.ID)
	}
	for _, intent := range types.AllIntents {
		if !intent.IsObjection() {
			continue
		}
		if s.Rebuttals[intent] == "" {
			return fmt.Errorf("script pack %s: missing rebuttal for %s", s.ID, intent)
		}
	}
	if len(s.QualifyingQuestions) == 0 {
		return fmt.Errorf("script pack %s: missing qualifying questions", s.ID)
	}
	if s.ObjectionRecovery != types.StatePitching && s.ObjectionRecovery != types.StateQualifying {
		return fmt.Errorf("script pack %s: objection_recovery must be pitching or qualifying", s.ID)
	}
	if s.VoicemailMessage == "" {
		return fmt.Errorf("script pack %s: missing voicemail message", s.ID)
	}
	return nil
}

// Filler returns a deterministic filler phrase for the given turn index.
func (s *ScriptPack) Filler(turn int) string {
	if len(s.Fillers) == 0 {
		return "One moment."
	}
	return s.Fillers[turn%len(s.Fillers)]
}

// DefaultScriptPack returns a complete sample pack for the solar
// industry, used as the built-in default and across tests.
func DefaultScriptPack() *ScriptPack {
	return &ScriptPack{
		ID:       "solar-default",
		Industry: "solar",
		Opening:  "Hi, this is Alex calling from Sunward Energy. Do you have a quick minute?",
		PitchLines: []string{
			"We help homeowners in your area cut their electric bill with no-upfront-cost solar panels.",
			"Most of our customers see savings from the first month, and installation is fully handled for you.",
		},
		ClosingLine:      "Great, you're all set. Thanks for your time, and have a wonderful day.",
		NeutralClose:     "Thanks for your time today. Have a great day.",
		VoicemailMessage: "Hi, this is Alex from Sunward Energy about lowering your electric bill. We'll try you again soon.",
		Rebuttals: map[types.Intent]string{
			types.IntentObjectionPrice:         "There's actually zero upfront cost, and most households pay less per month than their current bill.",
			types.IntentObjectionTime:          "I completely understand. This only takes about two minutes, or I can find a better time.",
			types.IntentObjectionNotInterested: "No problem at all. Just so you know, the savings estimate is free and there's no commitment.",
			types.IntentObjectionNeedToThink:   "Of course. Would it help if I sent over the numbers so you can look, and we set a quick follow-up?",
			types.IntentObjectionWrongPerson:   "My apologies. Could you point me to whoever handles the utility decisions for the home?",
		},
		QualifyingQuestions: []string{
			"Do you own your home?",
			"Roughly what does your monthly electric bill run?",
		},
		BookingPrompt: "I'd love to set up a quick consultation. Would tomorrow afternoon or Thursday morning work better?",
		ConfirmPrompt: "Perfect. Just to confirm, that's {{slot}}. Did I get that right?",
		Fillers: []string{
			"One moment.",
			"Bear with me a second.",
			"Let me check that for you.",
		},
		ObjectionRecovery: types.StatePitching,
		StateFallbacks: map[types.DialogueState]string{
			types.StateGreeting:           "Hi, thanks for picking up. Is now an okay time to chat?",
			types.StatePitching:           "In short, we help homeowners save on their electric bill with solar, at no upfront cost.",
			types.StateHandlingObjection:  "That's a fair point. Many of our customers felt the same before seeing the numbers.",
			types.StateQualifying:         "Could you tell me a bit about your current electric bill?",
			types.StateBookingAppointment: "Would tomorrow afternoon or Thursday morning suit you for a quick consultation?",
			types.StateConfirming:         "Just to confirm the time we discussed, does that still work for you?",
			types.StateClosing:            "Thanks so much for your time today.",
		},
	}
}
