package alerts

import "github.com/greendelivery/coldchain/pkg/types"

// Transition is the outcome of evaluating one record against prior state.
type Transition string

const (
	// TransitionNone means the record carried no signal for this machine.
	TransitionNone Transition = "none"
	// TransitionEnter means the condition just became actionable.
	TransitionEnter Transition = "enter"
	// TransitionStay means the condition holds and is already latched.
	TransitionStay Transition = "stay"
	// TransitionBelowThreshold means a bad tick that has not reached the
	// consecutive-events threshold yet.
	TransitionBelowThreshold Transition = "below_threshold"
	// TransitionRecover means a latched condition has returned to normal.
	TransitionRecover Transition = "recover"
	// TransitionReset means a good tick with nothing latched.
	TransitionReset Transition = "reset"
	// TransitionHold means a latched temperature alert is below the alert
	// threshold but still inside the recovery band.
	TransitionHold Transition = "hold"
)

// Notifiable reports whether t may produce a notification at all.
func (t Transition) Notifiable() bool {
	return t == TransitionEnter || t == TransitionRecover
}

// Cause names which input drove a sustained evaluation.
type Cause string

const (
	CauseNone        Cause = ""
	CauseTemperature Cause = "temperature"
	CauseShock       Cause = "shock"
	CauseCombined    Cause = "temperature+shock"
)

// Thresholds configures the evaluator.
type Thresholds struct {
	Temperature       float64
	GForce            float64
	ConsecutiveEvents int
	// RecoveryDelta widens the band a latched temperature alert must drop
	// below before it recovers. Zero recovers on the first good tick.
	RecoveryDelta float64
}

// RecoveryPoint is the temperature at or below which a latched alert clears.
func (th Thresholds) RecoveryPoint() float64 {
	return th.Temperature - th.RecoveryDelta
}

// Evaluation is the result of running one machine on one record.
type Evaluation struct {
	Kind       Kind
	Transition Transition
	// Count is the consecutive bad count after this record. Door
	// evaluations leave it at the prior value.
	Count int
	Cause Cause
}

// EvaluateDoor computes the door transition for rec given prior state.
// Records without a door reading yield TransitionNone.
func EvaluateDoor(rec *types.Record, prior State) Evaluation {
	ev := Evaluation{Kind: KindDoor, Transition: TransitionNone, Count: prior.ConsecutiveBad}
	if rec.DoorOpen == nil {
		return ev
	}

	switch open := *rec.DoorOpen; {
	case open && prior.DoorLatched:
		ev.Transition = TransitionStay
	case open:
		ev.Transition = TransitionEnter
	case prior.DoorLatched:
		ev.Transition = TransitionRecover
	default:
		ev.Transition = TransitionReset
	}
	return ev
}

// EvaluateSustained computes the temperature/shock transition for rec.
//
// A tick is bad when temperature > th.Temperature or g-force > th.GForce.
// A missing g-force counts as 0. A record with neither temperature nor
// g-force yields TransitionNone and leaves the counter as it was.
func EvaluateSustained(rec *types.Record, prior State, th Thresholds) Evaluation {
	ev := Evaluation{Kind: KindSustained, Transition: TransitionNone, Count: prior.ConsecutiveBad}
	if rec.Temperature == nil && rec.GForce == nil {
		return ev
	}

	hot := rec.Temperature != nil && *rec.Temperature > th.Temperature
	shock := rec.Shock() > th.GForce
	switch {
	case hot && shock:
		ev.Cause = CauseCombined
	case hot:
		ev.Cause = CauseTemperature
	case shock:
		ev.Cause = CauseShock
	}

	if hot || shock {
		ev.Count = prior.ConsecutiveBad + 1
		switch {
		case prior.TempLatched:
			ev.Transition = TransitionStay
		case ev.Count >= th.ConsecutiveEvents:
			ev.Transition = TransitionEnter
		default:
			ev.Transition = TransitionBelowThreshold
		}
		return ev
	}

	ev.Count = 0
	switch {
	case !prior.TempLatched:
		ev.Transition = TransitionReset
	case th.RecoveryDelta > 0 && rec.Temperature != nil && *rec.Temperature > th.RecoveryPoint():
		ev.Transition = TransitionHold
	default:
		ev.Transition = TransitionRecover
	}
	return ev
}
