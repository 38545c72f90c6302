package dialogue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/callpilot-ai/callpilot/types"
)

func testPolicy() Policy {
	return NewPolicy(DefaultScriptPack(), 2, 3, 0.85)
}

func TestPolicy_Transitions(t *testing.T) {
	t.Parallel()
	p := testPolicy()

	tests := []struct {
		name       string
		in         Input
		wantNext   types.DialogueState
		wantAction ActionType
		wantTopic  Topic
	}{
		{
			name:       "greeting moves to pitch",
			in:         Input{State: types.StateGreeting, Intent: types.IntentGreeting},
			wantNext:   types.StatePitching,
			wantAction: ActionSpeak,
			wantTopic:  TopicPitch,
		},
		{
			name:       "price question during pitch",
			in:         Input{State: types.StatePitching, Intent: types.IntentObjectionPrice, Confidence: 0.92},
			wantNext:   types.StateHandlingObjection,
			wantAction: ActionSpeak,
			wantTopic:  TopicRebuttal,
		},
		{
			name:       "objection handled, back to pitch",
			in:         Input{State: types.StateHandlingObjection, Intent: types.IntentInterested},
			wantNext:   types.StatePitching,
			wantAction: ActionSpeak,
			wantTopic:  TopicPitch,
		},
		{
			name:       "high confidence rejection terminates",
			in:         Input{State: types.StatePitching, Intent: types.IntentRejection, Confidence: 0.98},
			wantNext:   types.StateRejected,
			wantAction: ActionEndCall,
			wantTopic:  TopicNeutralClose,
		},
		{
			name:       "low confidence rejection does not terminate from pitch",
			in:         Input{State: types.StatePitching, Intent: types.IntentRejection, Confidence: 0.5},
			wantNext:   types.StateCompleted,
			wantAction: ActionEndCall,
			wantTopic:  TopicNeutralClose,
		},
		{
			name:       "qualified lead unlocks booking",
			in:         Input{State: types.StateQualifying, Intent: types.IntentConfirmation, QualifyingAnswers: 2},
			wantNext:   types.StateBookingAppointment,
			wantAction: ActionSpeak,
			wantTopic:  TopicProposeSlot,
		},
		{
			name:       "still qualifying asks next question",
			in:         Input{State: types.StateQualifying, Intent: types.IntentConfirmation, QualifyingAnswers: 1},
			wantNext:   types.StateQualifying,
			wantAction: ActionSpeak,
			wantTopic:  TopicQualifying,
		},
		{
			name:       "slot plus confirmation moves to confirming",
			in:         Input{State: types.StateBookingAppointment, Intent: types.IntentConfirmation, SlotProposed: true},
			wantNext:   types.StateConfirming,
			wantAction: ActionSpeak,
			wantTopic:  TopicConfirmSlot,
		},
		{
			name:       "confirmation without slot keeps proposing",
			in:         Input{State: types.StateBookingAppointment, Intent: types.IntentConfirmation, SlotProposed: false},
			wantNext:   types.StateBookingAppointment,
			wantAction: ActionSpeak,
			wantTopic:  TopicProposeSlot,
		},
		{
			name:       "time pushback during booking re-proposes",
			in:         Input{State: types.StateBookingAppointment, Intent: types.IntentObjectionTime, Confidence: 0.92},
			wantNext:   types.StateBookingAppointment,
			wantAction: ActionSpeak,
			wantTopic:  TopicProposeSlot,
		},
		{
			name:       "confirmed appointment is terminal",
			in:         Input{State: types.StateConfirming, Intent: types.IntentConfirmation},
			wantNext:   types.StateAppointmentSet,
			wantAction: ActionEndCall,
			wantTopic:  TopicClosing,
		},
		{
			name:       "declined slot renegotiates",
			in:         Input{State: types.StateConfirming, Intent: types.IntentRejection, Confidence: 0.98, Renegotiations: 1},
			wantNext:   types.StateBookingAppointment,
			wantAction: ActionSpeak,
			wantTopic:  TopicProposeSlot,
		},
		{
			name:       "renegotiation budget exhausted ends unconfirmed",
			in:         Input{State: types.StateConfirming, Intent: types.IntentRejection, Confidence: 0.98, Renegotiations: 2},
			wantNext:   types.StateCompleted,
			wantAction: ActionEndCall,
			wantTopic:  TopicNeutralClose,
		},
		{
			name:       "closing always completes",
			in:         Input{State: types.StateClosing, Intent: types.IntentGreeting},
			wantNext:   types.StateCompleted,
			wantAction: ActionEndCall,
			wantTopic:  TopicClosing,
		},
		{
			name:       "callback request heads to closing",
			in:         Input{State: types.StatePitching, Intent: types.IntentCallbackRequest},
			wantNext:   types.StateClosing,
			wantAction: ActionSpeak,
			wantTopic:  TopicClosing,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := p.Advance(tt.in)
			assert.Equal(t, tt.wantNext, got.Next)
			assert.Equal(t, tt.wantAction, got.Action)
			assert.Equal(t, tt.wantTopic, got.Topic)
		})
	}
}

func TestPolicy_PriceObjectionSelectsPriceRebuttal(t *testing.T) {
	t.Parallel()
	p := testPolicy()

	got := p.Advance(Input{State: types.StatePitching, Intent: types.IntentObjectionPrice, Confidence: 0.92})
	require.Equal(t, types.StateHandlingObjection, got.Next)
	require.Equal(t, TopicRebuttal, got.Topic)
	assert.Equal(t, types.IntentObjectionPrice, got.Objection)

	script := DefaultScriptPack()
	assert.NotEmpty(t, script.Rebuttals[got.Objection])
}

func TestPolicy_ThreeUnclearTurnsComplete(t *testing.T) {
	t.Parallel()
	p := testPolicy()

	for _, state := range []types.DialogueState{
		types.StateGreeting, types.StatePitching, types.StateHandlingObjection,
		types.StateQualifying, types.StateBookingAppointment, types.StateConfirming,
	} {
		got := p.Advance(Input{State: state, Intent: types.IntentUnclear, UnclearStreak: 3})
		assert.Equal(t, types.StateCompleted, got.Next, "state %s", state)
		assert.Equal(t, ActionEndCall, got.Action, "state %s", state)

		got = p.Advance(Input{State: state, Intent: types.IntentUnclear, UnclearStreak: 2})
		assert.False(t, got.Next.IsTerminal(), "state %s ended one turn early", state)
	}
}

func TestPolicy_DurationCeilingForcesCompletion(t *testing.T) {
	t.Parallel()
	p := testPolicy()

	got := p.Advance(Input{State: types.StateQualifying, Intent: types.IntentInterested, CeilingExceeded: true})
	assert.Equal(t, types.StateCompleted, got.Next)
	assert.Equal(t, ActionEndCall, got.Action)
	assert.Equal(t, TopicNeutralClose, got.Topic)
}

func TestPolicy_TerminalStatesDoNotAdvance(t *testing.T) {
	t.Parallel()
	p := testPolicy()

	for _, state := range types.TerminalStates {
		got := p.Advance(Input{State: state, Intent: types.IntentConfirmation})
		assert.Equal(t, state, got.Next)
	}
}

func TestPolicy_MachineDetected(t *testing.T) {
	t.Parallel()
	p := testPolicy()

	got := p.MachineDetected()
	assert.Equal(t, types.StateVoicemail, got.Next)
	assert.Equal(t, ActionEndCall, got.Action)
	assert.Equal(t, TopicVoicemailDrop, got.Topic)
}

func TestPolicy_GapClosesGracefully(t *testing.T) {
	t.Parallel()
	p := testPolicy()

	got := p.Advance(Input{State: "haunted", Intent: types.IntentGreeting})
	assert.True(t, got.PolicyGap)
	assert.Equal(t, types.StateCompleted, got.Next)
}

func TestPolicy_AdvanceIsPure(t *testing.T) {
	t.Parallel()
	p := testPolicy()

	nonTerminal := []types.DialogueState{
		types.StateGreeting, types.StatePitching, types.StateHandlingObjection,
		types.StateQualifying, types.StateBookingAppointment, types.StateConfirming,
		types.StateClosing,
	}

	rapid.Check(t, func(t *rapid.T) {
		in := Input{
			State:             rapid.SampledFrom(nonTerminal).Draw(t, "state"),
			Intent:            rapid.SampledFrom(types.AllIntents).Draw(t, "intent"),
			Confidence:        rapid.Float64Range(0, 1).Draw(t, "confidence"),
			QualifyingAnswers: rapid.IntRange(0, 5).Draw(t, "answers"),
			UnclearStreak:     rapid.IntRange(0, 5).Draw(t, "streak"),
			Renegotiations:    rapid.IntRange(0, 4).Draw(t, "renegs"),
			SlotProposed:      rapid.Bool().Draw(t, "slot"),
			CeilingExceeded:   rapid.Bool().Draw(t, "ceiling"),
		}

		first := p.Advance(in)
		second := p.Advance(in)
		assert.Equal(t, first, second, "same input produced different decisions")

		// Every decision lands on a defined state and a defined action.
		assert.NotEmpty(t, first.Next)
		assert.Contains(t, []ActionType{ActionSpeak, ActionEndCall}, first.Action)
		if first.Action == ActionSpeak {
			assert.False(t, first.Next.IsTerminal(), "speak action cannot target a terminal state")
		}
	})
}
