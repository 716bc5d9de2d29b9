package conversation

import "context"

// action runs after the session has moved to the transition's next stage.
type action func(e *Engine, ctx context.Context, t *turn) error

type key struct {
	stage   Stage
	trigger Trigger
}

type transition struct {
	next   Stage
	guard  func(*Session) bool
	action action
}

var (
	// transitions is the complete (stage, trigger) → (next stage, action) table.
	transitions map[key]transition

	// completions fire once when the active buffer of a collecting stage
	// reaches its question count.
	completions map[Stage]transition
)

// Actions refer back to these tables, so they are built in init.
func init() {
	transitions = buildTransitions()
	completions = map[Stage]transition{
		StageInterview:     {next: StageUnpackingDone, action: (*Engine).completeInterview},
		StageProductIntake: {next: StageProductChoice, action: (*Engine).completeProduct},
	}
}

func buildTransitions() map[key]transition {
	t := map[key]transition{
		{StageWelcome, TriggerAgree}: {next: StageInterview, action: (*Engine).beginInterview},

		{StageInterview, TriggerText}:     {next: StageInterview, action: (*Engine).collect},
		{StageProductIntake, TriggerText}: {next: StageProductIntake, action: (*Engine).collect},

		{StageProductChoice, TriggerProductAdd}:     {next: StageProductIntake, action: (*Engine).beginProduct},
		{StageProductChoice, TriggerProductProceed}: {next: StageProductDone, action: (*Engine).finishProducts},

		{StageJTBDPrimary, TriggerJTBDMore}:  {next: StageJTBDDone, action: (*Engine).jtbdExtended},
		{StageJTBDPrimary, TriggerJTBDDone}:  {next: StageJTBDDone, action: (*Engine).jtbdSkip},
		{StageJTBDPrimary, TriggerJTBDRegen}: {next: StageJTBDPrimary, action: (*Engine).jtbdPrimary},

		{StageJTBDDone, TriggerGetAccess}: {next: StageJTBDDone, action: (*Engine).offerAccess},
		{StageJTBDDone, TriggerHave}:      {next: StageJTBDDone, action: (*Engine).acknowledgeOffer},
		{StageJTBDDone, TriggerLater}:     {next: StageJTBDDone, action: (*Engine).acknowledgeOffer},
	}

	for _, s := range doneFamily {
		t[key{s, TriggerBio}] = transition{
			next:   StageBioDone,
			guard:  func(s *Session) bool { return !s.BioDone },
			action: (*Engine).bio,
		}
		t[key{s, TriggerProduct}] = transition{
			next:   StageProductIntake,
			guard:  func(s *Session) bool { return !s.ProductStarted },
			action: (*Engine).beginProduct,
		}
		t[key{s, TriggerJTBD}] = transition{
			next:   StageJTBDPrimary,
			guard:  func(s *Session) bool { return !s.JTBDStarted },
			action: (*Engine).jtbdPrimary,
		}
		t[key{s, TriggerJTBDRegen}] = transition{
			next:   StageJTBDPrimary,
			guard:  func(s *Session) bool { return s.JTBDStarted },
			action: (*Engine).jtbdPrimary,
		}
	}
	return t
}

// lookup returns the transition for the session's stage and trigger, if
// one exists and its guard passes.
func lookup(s *Session, trig Trigger) (transition, bool) {
	tr, ok := transitions[key{s.Stage, trig}]
	if !ok {
		return transition{}, false
	}
	if tr.guard != nil && !tr.guard(s) {
		return transition{}, false
	}
	return tr, true
}
