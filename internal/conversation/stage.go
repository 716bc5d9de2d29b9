// Package conversation implements the per-user interview stage machine.
//
// A session moves through a fixed graph of stages:
//
//	welcome → interview → unpacking_done → {bio | product intake | jtbd}
//
// Inputs are free-text answers, collected into ordered buffers, and button
// presses. Every (stage, trigger) pair that does anything is listed in the
// transition table; anything else is ignored.
package conversation

// Stage is a named point in the conversation graph.
type Stage string

const (
	StageWelcome       Stage = "welcome"
	StageInterview     Stage = "interview"
	StageUnpackingDone Stage = "unpacking_done"
	StageBioDone       Stage = "bio_done"
	StageProductIntake Stage = "product_intake"
	StageProductChoice Stage = "product_choice"
	StageProductDone   Stage = "product_done"
	StageJTBDPrimary   Stage = "jtbd_primary"
	StageJTBDDone      Stage = "jtbd_done"
)

// doneFamily are the menu stages; post-completion menu buttons are honored
// in any of them.
var doneFamily = []Stage{StageUnpackingDone, StageBioDone, StageProductDone, StageJTBDDone}

// IsDone reports whether s is a menu stage.
func (s Stage) IsDone() bool {
	for _, d := range doneFamily {
		if s == d {
			return true
		}
	}
	return false
}

// Trigger is an input event kind. Button triggers equal their callback data.
type Trigger string

const (
	TriggerText           Trigger = "text"
	TriggerAgree          Trigger = "agree"
	TriggerBio            Trigger = "bio"
	TriggerProduct        Trigger = "product"
	TriggerJTBD           Trigger = "jtbd"
	TriggerProductAdd     Trigger = "product_add"
	TriggerProductProceed Trigger = "product_proceed"
	TriggerJTBDMore       Trigger = "jtbd_more"
	TriggerJTBDDone       Trigger = "jtbd_done"
	TriggerJTBDRegen      Trigger = "jtbd_regen"
	TriggerGetAccess      Trigger = "get_access"
	TriggerHave           Trigger = "have"
	TriggerLater          Trigger = "later"
)

var buttonTriggers = map[Trigger]bool{
	TriggerAgree:          true,
	TriggerBio:            true,
	TriggerProduct:        true,
	TriggerJTBD:           true,
	TriggerProductAdd:     true,
	TriggerProductProceed: true,
	TriggerJTBDMore:       true,
	TriggerJTBDDone:       true,
	TriggerJTBDRegen:      true,
	TriggerGetAccess:      true,
	TriggerHave:           true,
	TriggerLater:          true,
}

// Event is one input to the stage machine.
type Event struct {
	Trigger Trigger
	Text    string
}

// TextEvent wraps a free-text answer.
func TextEvent(text string) Event {
	return Event{Trigger: TriggerText, Text: text}
}

// ButtonEvent parses callback data. Unknown data yields ok=false.
func ButtonEvent(data string) (Event, bool) {
	t := Trigger(data)
	if !buttonTriggers[t] {
		return Event{}, false
	}
	return Event{Trigger: t}, true
}
