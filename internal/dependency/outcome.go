package dependency

import "github.com/pitabwire/dastyar/model"

// Outcome is the result of a dependency check: Deletable, Blocked or
// CheckFailed. The set is closed.
type Outcome interface {
	// Kind is "deletable", "blocked" or "failed".
	Kind() string
	// State converts the outcome to the action envelope. A blocked row is a
	// successful check whose data is false.
	State() model.ActionState[bool]
	isOutcome()
}

// Deletable means no referencing row exists.
type Deletable struct{}

// Blocked means a referencing row exists. Reason is the configured message.
type Blocked struct {
	Reason string
}

// CheckFailed means a probe could not be completed.
type CheckFailed struct {
	Err error
}

func (Deletable) Kind() string   { return "deletable" }
func (Blocked) Kind() string     { return "blocked" }
func (CheckFailed) Kind() string { return "failed" }

func (Deletable) State() model.ActionState[bool] { return model.Succeeded(MsgDeletable, true) }
func (b Blocked) State() model.ActionState[bool] { return model.Succeeded(b.Reason, false) }
func (CheckFailed) State() model.ActionState[bool] {
	return model.Failed[bool](MsgCheckFailed)
}

func (Deletable) isOutcome()   {}
func (Blocked) isOutcome()     {}
func (CheckFailed) isOutcome() {}
