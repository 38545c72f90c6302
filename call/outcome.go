package call

import (
	"time"

	"github.com/callpilot-ai/callpilot/types"
)

// terminalOutcomes is the total mapping from terminal dialogue state to
// call-log disposition. Every terminal state has exactly one entry.
var terminalOutcomes = map[types.DialogueState]types.Outcome{
	types.StateCompleted:      types.OutcomeCompleted,
	types.StateAppointmentSet: types.OutcomeAppointmentSet,
	types.StateVoicemail:      types.OutcomeVoicemail,
	types.StateNoAnswer:       types.OutcomeNoAnswer,
	types.StateRejected:       types.OutcomeRejected,
	types.StateError:          types.OutcomeError,
}

// ResolveOutcome maps a dialogue state to its disposition. Non-terminal
// states can reach the resolver only through early termination (hangup,
// cancellation); they resolve by how far the conversation got so the
// session is never left un-finalized.
func ResolveOutcome(state types.DialogueState, callerTurns int) types.Outcome {
	if outcome, ok := terminalOutcomes[state]; ok {
		return outcome
	}
	if callerTurns == 0 {
		return types.OutcomeNoAnswer
	}
	return types.OutcomeCompleted
}

// BuildPackage assembles the immutable outcome package for the CRM and
// archive collaborators.
func BuildPackage(s *Session) *types.OutcomePackage {
	s.mu.Lock()
	defer s.mu.Unlock()

	callerTurns := 0
	for _, t := range s.turns {
		if t.Speaker == types.SpeakerCaller {
			callerTurns++
		}
	}

	turns := make([]types.Turn, len(s.turns))
	copy(turns, s.turns)

	var slot *types.AppointmentSlot
	if s.slot != nil {
		copied := *s.slot
		slot = &copied
	}

	endedAt := s.endedAt
	if endedAt.IsZero() {
		endedAt = time.Now()
	}

	return &types.OutcomePackage{
		SessionID:      s.cfg.ID,
		TenantID:       s.cfg.TenantID,
		LeadRef:        s.cfg.LeadRef,
		ScriptPackID:   s.cfg.Script.ID,
		Outcome:        ResolveOutcome(s.state, callerTurns),
		FinalState:     s.state,
		StartedAt:      s.startedAt,
		EndedAt:        endedAt,
		Turns:          turns,
		Slot:           slot,
		Latency:        s.enforcer.Samples(),
		LatencyByStage: s.enforcer.Summarize(),
		ErrorDetail:    s.errDetail,
	}
}
