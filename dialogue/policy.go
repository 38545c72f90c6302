// Package dialogue holds the conversation state machine, the intent
// classifier, and the script configuration that drives both.
package dialogue

import "github.com/callpilot-ai/callpilot/types"

// ActionType is what the session should do next.
type ActionType string

const (
	// ActionSpeak delivers the decision's topic and then listens.
	ActionSpeak ActionType = "speak"
	// ActionEndCall delivers the topic (if any) and hangs up.
	ActionEndCall ActionType = "end_call"
)

// Topic tells the response generator what kind of line to produce.
type Topic string

const (
	TopicOpening       Topic = "opening"
	TopicPitch         Topic = "pitch"
	TopicRebuttal      Topic = "rebuttal"
	TopicQualifying    Topic = "qualifying_question"
	TopicProposeSlot   Topic = "propose_slot"
	TopicConfirmSlot   Topic = "confirm_slot"
	TopicClarify       Topic = "clarify"
	TopicClosing       Topic = "closing"
	TopicNeutralClose  Topic = "neutral_close"
	TopicVoicemailDrop Topic = "voicemail_message"
)

// Input is everything the policy may consult for one step. All fields
// are plain values so stepping is a pure function.
type Input struct {
	State      types.DialogueState
	Intent     types.Intent
	Confidence float64

	// QualifyingAnswers counts answered qualifying questions so far.
	QualifyingAnswers int
	// UnclearStreak counts consecutive unclear or silence turns,
	// including the current one.
	UnclearStreak int
	// Renegotiations counts prior Confirming -> BookingAppointment
	// round trips.
	Renegotiations int
	// SlotProposed reports whether a concrete date/time has been
	// extracted during booking.
	SlotProposed bool
	// CeilingExceeded reports the global call duration ceiling.
	CeilingExceeded bool
}

// Decision is the policy's verdict for one step.
type Decision struct {
	Next   types.DialogueState
	Action ActionType
	Topic  Topic

	// Objection tags which objection the rebuttal should address. Set
	// only when Topic is TopicRebuttal.
	Objection types.Intent
	// ConfirmSlot instructs the session to mark the pending
	// appointment slot confirmed.
	ConfirmSlot bool
	// Renegotiate instructs the session to discard the pending slot
	// and count a renegotiation round.
	Renegotiate bool
	// PolicyGap flags a (state, intent) pair with no defined
	// transition. The session logs it as a script configuration gap.
	PolicyGap bool
}

// Policy is the deterministic conversation state machine. It holds only
// immutable tunables; all per-call state arrives through Input.
type Policy struct {
	// MaxRenegotiations bounds Confirming -> BookingAppointment loops.
	MaxRenegotiations int
	// MaxUnclearTurns ends the call after this many consecutive
	// unclear or silent turns.
	MaxUnclearTurns int
	// RejectionConfidence is the floor above which a rejection intent
	// terminates the call from any state.
	RejectionConfidence float64
	// ObjectionRecovery is where a handled objection resumes.
	ObjectionRecovery types.DialogueState
	// QualifyingNeeded is how many qualifying answers unlock booking.
	QualifyingNeeded int
}

// NewPolicy builds a policy from the script pack and session tunables.
func NewPolicy(script *ScriptPack, maxRenegotiations, maxUnclearTurns int, rejectionConfidence float64) Policy {
	recovery := types.StatePitching
	if script != nil && script.ObjectionRecovery != "" {
		recovery = script.ObjectionRecovery
	}
	needed := 2
	if script != nil && len(script.QualifyingQuestions) > 0 {
		needed = len(script.QualifyingQuestions)
	}
	return Policy{
		MaxRenegotiations:   maxRenegotiations,
		MaxUnclearTurns:     maxUnclearTurns,
		RejectionConfidence: rejectionConfidence,
		ObjectionRecovery:   recovery,
		QualifyingNeeded:    needed,
	}
}

// Opening returns the decision that starts a human conversation.
func (p Policy) Opening() Decision {
	return Decision{Next: types.StateGreeting, Action: ActionSpeak, Topic: TopicOpening}
}

// MachineDetected returns the decision for an answering machine: drop
// the voicemail message and end the call.
func (p Policy) MachineDetected() Decision {
	return Decision{Next: types.StateVoicemail, Action: ActionEndCall, Topic: TopicVoicemailDrop}
}

// Advance computes the next state and action for one caller turn. It is
// a pure function of (p, in): no clock, no randomness, no hidden state.
func (p Policy) Advance(in Input) Decision {
	if in.State.IsTerminal() {
		return Decision{Next: in.State, Action: ActionEndCall}
	}

	// The duration ceiling overrides everything.
	if in.CeilingExceeded {
		return Decision{Next: types.StateCompleted, Action: ActionEndCall, Topic: TopicNeutralClose}
	}

	// Persistent unclear or silent audio ends the call neutrally.
	if (in.Intent == types.IntentUnclear || in.Intent == types.IntentSilence) &&
		in.UnclearStreak >= p.MaxUnclearTurns {
		return Decision{Next: types.StateCompleted, Action: ActionEndCall, Topic: TopicNeutralClose}
	}

	// In Confirming, a rejection means "that time doesn't work", which
	// is handled by the renegotiation rule below, not by termination.
	if in.Intent == types.IntentRejection &&
		in.Confidence >= p.RejectionConfidence &&
		in.State != types.StateConfirming {
		return Decision{Next: types.StateRejected, Action: ActionEndCall, Topic: TopicNeutralClose}
	}

	switch in.State {
	case types.StateGreeting:
		return p.fromGreeting(in)
	case types.StatePitching:
		return p.fromPitching(in)
	case types.StateHandlingObjection:
		return p.fromHandlingObjection(in)
	case types.StateQualifying:
		return p.fromQualifying(in)
	case types.StateBookingAppointment:
		return p.fromBooking(in)
	case types.StateConfirming:
		return p.fromConfirming(in)
	case types.StateClosing:
		return Decision{Next: types.StateCompleted, Action: ActionEndCall, Topic: TopicClosing}
	}

	return p.gap(in)
}

// fromGreeting moves to pitching once the opening has been answered.
func (p Policy) fromGreeting(in Input) Decision {
	switch in.Intent {
	case types.IntentGreeting, types.IntentInterested, types.IntentConfirmation, types.IntentUnclear, types.IntentSilence:
		return Decision{Next: types.StatePitching, Action: ActionSpeak, Topic: TopicPitch}
	case types.IntentAppointmentRequest:
		return Decision{Next: types.StateBookingAppointment, Action: ActionSpeak, Topic: TopicProposeSlot}
	case types.IntentCallbackRequest:
		return Decision{Next: types.StateClosing, Action: ActionSpeak, Topic: TopicClosing}
	}
	if in.Intent.IsObjection() {
		return p.objection(in)
	}
	return p.gap(in)
}

func (p Policy) fromPitching(in Input) Decision {
	if in.Intent.IsObjection() {
		return p.objection(in)
	}
	switch in.Intent {
	case types.IntentInterested, types.IntentConfirmation:
		return Decision{Next: types.StateQualifying, Action: ActionSpeak, Topic: TopicQualifying}
	case types.IntentAppointmentRequest:
		return Decision{Next: types.StateBookingAppointment, Action: ActionSpeak, Topic: TopicProposeSlot}
	case types.IntentCallbackRequest:
		return Decision{Next: types.StateClosing, Action: ActionSpeak, Topic: TopicClosing}
	case types.IntentGreeting:
		return Decision{Next: types.StatePitching, Action: ActionSpeak, Topic: TopicPitch}
	case types.IntentUnclear, types.IntentSilence:
		return Decision{Next: types.StatePitching, Action: ActionSpeak, Topic: TopicClarify}
	}
	return p.gap(in)
}

func (p Policy) fromHandlingObjection(in Input) Decision {
	if in.Intent.IsObjection() {
		return p.objection(in)
	}
	switch in.Intent {
	case types.IntentInterested, types.IntentConfirmation:
		topic := TopicPitch
		if p.ObjectionRecovery == types.StateQualifying {
			topic = TopicQualifying
		}
		return Decision{Next: p.ObjectionRecovery, Action: ActionSpeak, Topic: topic}
	case types.IntentAppointmentRequest:
		return Decision{Next: types.StateBookingAppointment, Action: ActionSpeak, Topic: TopicProposeSlot}
	case types.IntentCallbackRequest:
		return Decision{Next: types.StateClosing, Action: ActionSpeak, Topic: TopicClosing}
	case types.IntentGreeting, types.IntentUnclear, types.IntentSilence:
		return Decision{Next: types.StateHandlingObjection, Action: ActionSpeak, Topic: TopicClarify, Objection: in.Intent}
	}
	return p.gap(in)
}

func (p Policy) fromQualifying(in Input) Decision {
	if in.Intent.IsObjection() {
		return p.objection(in)
	}
	switch in.Intent {
	case types.IntentAppointmentRequest:
		return Decision{Next: types.StateBookingAppointment, Action: ActionSpeak, Topic: TopicProposeSlot}
	case types.IntentCallbackRequest:
		return Decision{Next: types.StateClosing, Action: ActionSpeak, Topic: TopicClosing}
	case types.IntentUnclear, types.IntentSilence:
		return Decision{Next: types.StateQualifying, Action: ActionSpeak, Topic: TopicClarify}
	case types.IntentGreeting, types.IntentInterested, types.IntentConfirmation:
		if in.QualifyingAnswers >= p.QualifyingNeeded {
			return Decision{Next: types.StateBookingAppointment, Action: ActionSpeak, Topic: TopicProposeSlot}
		}
		return Decision{Next: types.StateQualifying, Action: ActionSpeak, Topic: TopicQualifying}
	}
	return p.gap(in)
}

func (p Policy) fromBooking(in Input) Decision {
	if in.Intent.IsObjection() {
		// Time pushback during booking means propose another slot.
		if in.Intent == types.IntentObjectionTime {
			return Decision{Next: types.StateBookingAppointment, Action: ActionSpeak, Topic: TopicProposeSlot}
		}
		return p.objection(in)
	}
	switch in.Intent {
	case types.IntentConfirmation:
		if in.SlotProposed {
			return Decision{Next: types.StateConfirming, Action: ActionSpeak, Topic: TopicConfirmSlot}
		}
		return Decision{Next: types.StateBookingAppointment, Action: ActionSpeak, Topic: TopicProposeSlot}
	case types.IntentInterested, types.IntentGreeting, types.IntentAppointmentRequest:
		return Decision{Next: types.StateBookingAppointment, Action: ActionSpeak, Topic: TopicProposeSlot}
	case types.IntentCallbackRequest:
		return Decision{Next: types.StateClosing, Action: ActionSpeak, Topic: TopicClosing}
	case types.IntentUnclear, types.IntentSilence:
		return Decision{Next: types.StateBookingAppointment, Action: ActionSpeak, Topic: TopicClarify}
	}
	return p.gap(in)
}

func (p Policy) fromConfirming(in Input) Decision {
	switch in.Intent {
	case types.IntentConfirmation:
		return Decision{Next: types.StateAppointmentSet, Action: ActionEndCall, Topic: TopicClosing, ConfirmSlot: true}
	case types.IntentRejection:
		if in.Renegotiations >= p.MaxRenegotiations {
			return Decision{Next: types.StateCompleted, Action: ActionEndCall, Topic: TopicNeutralClose}
		}
		return Decision{Next: types.StateBookingAppointment, Action: ActionSpeak, Topic: TopicProposeSlot, Renegotiate: true}
	case types.IntentUnclear, types.IntentSilence, types.IntentGreeting:
		return Decision{Next: types.StateConfirming, Action: ActionSpeak, Topic: TopicConfirmSlot}
	case types.IntentInterested, types.IntentAppointmentRequest:
		return Decision{Next: types.StateConfirming, Action: ActionSpeak, Topic: TopicConfirmSlot}
	case types.IntentCallbackRequest:
		return Decision{Next: types.StateClosing, Action: ActionSpeak, Topic: TopicClosing}
	}
	if in.Intent.IsObjection() {
		return p.objection(in)
	}
	return p.gap(in)
}

func (p Policy) objection(in Input) Decision {
	return Decision{
		Next:      types.StateHandlingObjection,
		Action:    ActionSpeak,
		Topic:     TopicRebuttal,
		Objection: in.Intent,
	}
}

// gap handles a (state, intent) pair the script never defined. The call
// closes gracefully instead of crashing, and the session logs the gap.
func (p Policy) gap(in Input) Decision {
	return Decision{
		Next:      types.StateCompleted,
		Action:    ActionEndCall,
		Topic:     TopicNeutralClose,
		PolicyGap: true,
	}
}
