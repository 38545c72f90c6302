package types

import "time"

// Speaker identifies which side of the call produced a turn.
type Speaker string

const (
	SpeakerSystem Speaker = "system"
	SpeakerCaller Speaker = "caller"
)

// Intent is the closed set of caller intents the classifier can emit.
type Intent string

const (
	IntentGreeting               Intent = "greeting"
	IntentInterested             Intent = "interested"
	IntentObjectionPrice         Intent = "objection_price"
	IntentObjectionTime          Intent = "objection_time"
	IntentObjectionNotInterested Intent = "objection_not_interested"
	IntentObjectionNeedToThink   Intent = "objection_need_to_think"
	IntentObjectionWrongPerson   Intent = "objection_wrong_person"
	IntentAppointmentRequest     Intent = "appointment_request"
	IntentCallbackRequest        Intent = "callback_request"
	IntentConfirmation           Intent = "confirmation"
	IntentRejection              Intent = "rejection"
	IntentSilence                Intent = "silence"
	IntentUnclear                Intent = "unclear"
)

// AllIntents lists every valid intent, in a stable order.
var AllIntents = []Intent{
	IntentGreeting, IntentInterested,
	IntentObjectionPrice, IntentObjectionTime, IntentObjectionNotInterested,
	IntentObjectionNeedToThink, IntentObjectionWrongPerson,
	IntentAppointmentRequest, IntentCallbackRequest,
	IntentConfirmation, IntentRejection, IntentSilence, IntentUnclear,
}

// IsObjection reports whether the intent is one of the objection family.
func (i Intent) IsObjection() bool {
	switch i {
	case IntentObjectionPrice, IntentObjectionTime, IntentObjectionNotInterested,
		IntentObjectionNeedToThink, IntentObjectionWrongPerson:
		return true
	}
	return false
}

// Valid reports whether the intent is a member of the closed set.
func (i Intent) Valid() bool {
	for _, v := range AllIntents {
		if i == v {
			return true
		}
	}
	return false
}

// DialogueState is the conversation state machine's position.
type DialogueState string

const (
	StateGreeting           DialogueState = "greeting"
	StatePitching           DialogueState = "pitching"
	StateHandlingObjection  DialogueState = "handling_objection"
	StateQualifying         DialogueState = "qualifying"
	StateBookingAppointment DialogueState = "booking_appointment"
	StateConfirming         DialogueState = "confirming"
	StateClosing            DialogueState = "closing"

	StateCompleted      DialogueState = "completed"
	StateAppointmentSet DialogueState = "appointment_set"
	StateVoicemail      DialogueState = "voicemail"
	StateNoAnswer       DialogueState = "no_answer"
	StateRejected       DialogueState = "rejected"
	StateError          DialogueState = "error"
)

// TerminalStates lists every terminal dialogue state.
var TerminalStates = []DialogueState{
	StateCompleted, StateAppointmentSet, StateVoicemail,
	StateNoAnswer, StateRejected, StateError,
}

// IsTerminal reports whether the state ends the conversation.
func (s DialogueState) IsTerminal() bool {
	for _, t := range TerminalStates {
		if s == t {
			return true
		}
	}
	return false
}

// Outcome is the call-log-facing disposition of a finished call.
type Outcome string

const (
	OutcomeCompleted      Outcome = "completed"
	OutcomeVoicemail      Outcome = "voicemail"
	OutcomeNoAnswer       Outcome = "no_answer"
	OutcomeAppointmentSet Outcome = "appointment_set"
	OutcomeRejected       Outcome = "rejected"
	OutcomeError          Outcome = "error"
)

// Turn is one exchange unit of the transcript. Turns are append-only;
// a turn is never mutated after creation.
type Turn struct {
	Speaker    Speaker       `json:"speaker"`
	Text       string        `json:"text"`
	Timestamp  time.Time     `json:"timestamp"`
	Intent     *Intent       `json:"intent,omitempty"`
	Confidence float64       `json:"confidence,omitempty"`
	AudioDur   time.Duration `json:"audio_dur,omitempty"`
}

// AppointmentSlot is a proposed date and time. Immutable once confirmed.
type AppointmentSlot struct {
	At        time.Time `json:"at"`
	Confirmed bool      `json:"confirmed"`
}

// LatencySample records one budgeted stage invocation.
type LatencySample struct {
	Stage    string        `json:"stage"`
	Duration time.Duration `json:"duration"`
	Exceeded bool          `json:"exceeded"`
}

// LatencySummary aggregates one stage's samples over a whole call.
type LatencySummary struct {
	Stage       string        `json:"stage"`
	Invocations int           `json:"invocations"`
	Exceeded    int           `json:"exceeded"`
	Max         time.Duration `json:"max"`
	Total       time.Duration `json:"total"`
}

// OutcomePackage is the finalized result of one call, handed to the
// CRM sync and archive collaborators. Immutable once built.
type OutcomePackage struct {
	SessionID      string           `json:"session_id"`
	TenantID       string           `json:"tenant_id,omitempty"`
	LeadRef        string           `json:"lead_ref,omitempty"`
	ScriptPackID   string           `json:"script_pack_id,omitempty"`
	Outcome        Outcome          `json:"outcome"`
	FinalState     DialogueState    `json:"final_state"`
	StartedAt      time.Time        `json:"started_at"`
	EndedAt        time.Time        `json:"ended_at"`
	Turns          []Turn           `json:"turns"`
	Slot           *AppointmentSlot `json:"slot,omitempty"`
	Latency        []LatencySample  `json:"latency,omitempty"`
	LatencyByStage []LatencySummary `json:"latency_by_stage,omitempty"`
	ErrorDetail    string           `json:"error_detail,omitempty"`
}
