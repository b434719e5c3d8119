package conversation

import (
	"time"
)

// Outcome describes what a single Step did.
type Outcome struct {
	// Err is a *ParseError when the input was not accepted. The
	// conversation stays in the same state with its fields untouched.
	Err error

	// Commit is set when the user accepted the confirmation. The caller
	// must append the entry and then finish the conversation.
	Commit bool
}

// Step applies one text input to c and returns the next conversation.
// It never performs I/O.
func Step(c Conversation, input string, now time.Time) (Conversation, Outcome) {
	if c.State.Terminal() || c.State == StateIdle {
		return c, Outcome{Err: &ParseError{State: c.State, Input: input, Reason: "conversation is not active"}}
	}

	c.LastActivityAt = now

	if IsCancel(input) {
		c.State = StateCancelled
		return c, Outcome{}
	}

	switch c.State {
	case StateAwaitingOdometer:
		return stepOdometer(c, input)
	case StateAwaitingFuelVolume:
		return stepFuelVolume(c, input)
	case StateAwaitingFuelCost:
		return stepFuelCost(c, input)
	case StateAwaitingFullTank:
		return stepFullTank(c, input)
	case StateConfirming:
		return stepConfirm(c, input)
	}
	return c, Outcome{Err: &ParseError{State: c.State, Input: input, Reason: "unexpected state"}}
}

// Reset discards all collected fields and asks for the odometer again.
func Reset(c Conversation) Conversation {
	c.Fields = Fields{}
	c.State = StateAwaitingOdometer
	return c
}

func stepOdometer(c Conversation, input string) (Conversation, Outcome) {
	if comp, ok := ParseCompound(input); ok {
		if comp.Odometer < 0 || comp.FuelVolume <= 0 || (comp.FuelCost != nil && *comp.FuelCost < 0) {
			return c, reject(c, input, "values must be positive")
		}
		c.Fields.Odometer = &comp.Odometer
		c.Fields.FuelVolume = &comp.FuelVolume
		c.Fields.FuelCost = comp.FuelCost
		c.State = nextMissing(c.Fields)
		return c, Outcome{}
	}

	v, err := ParseNumber(input, odometerUnits...)
	if err != nil {
		return c, reject(c, input, err.Error())
	}
	if v < 0 {
		return c, reject(c, input, "odometer must not be negative")
	}
	c.Fields.Odometer = &v
	c.State = StateAwaitingFuelVolume
	return c, Outcome{}
}

func stepFuelVolume(c Conversation, input string) (Conversation, Outcome) {
	v, err := ParseNumber(input, volumeUnits...)
	if err != nil {
		return c, reject(c, input, err.Error())
	}
	if v <= 0 {
		return c, reject(c, input, "fuel volume must be greater than zero")
	}
	c.Fields.FuelVolume = &v
	c.State = StateAwaitingFuelCost
	return c, Outcome{}
}

func stepFuelCost(c Conversation, input string) (Conversation, Outcome) {
	if IsSkip(input) {
		c.Fields.FuelCost = nil
		c.Fields.CostSkipped = true
		c.State = StateAwaitingFullTank
		return c, Outcome{}
	}
	v, err := ParseNumber(input, costUnits...)
	if err != nil {
		return c, reject(c, input, err.Error())
	}
	if v < 0 {
		return c, reject(c, input, "cost must not be negative")
	}
	c.Fields.FuelCost = &v
	c.Fields.CostSkipped = false
	c.State = StateAwaitingFullTank
	return c, Outcome{}
}

func stepFullTank(c Conversation, input string) (Conversation, Outcome) {
	full, err := ParseYesNo(input)
	if err != nil {
		return c, reject(c, input, err.Error())
	}
	c.Fields.FullTank = &full
	c.State = StateConfirming
	return c, Outcome{}
}

func stepConfirm(c Conversation, input string) (Conversation, Outcome) {
	ok, err := ParseYesNo(input)
	if err != nil {
		return c, reject(c, input, err.Error())
	}
	if !ok {
		return Reset(c), Outcome{}
	}
	return c, Outcome{Commit: true}
}

func reject(c Conversation, input, reason string) Outcome {
	return Outcome{Err: &ParseError{State: c.State, Input: input, Reason: reason}}
}

func nextMissing(f Fields) State {
	switch {
	case f.Odometer == nil:
		return StateAwaitingOdometer
	case f.FuelVolume == nil:
		return StateAwaitingFuelVolume
	case f.FuelCost == nil && !f.CostSkipped:
		return StateAwaitingFuelCost
	case f.FullTank == nil:
		return StateAwaitingFullTank
	}
	return StateConfirming
}
