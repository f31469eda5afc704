package alerts

import (
	"testing"

	"github.com/greendelivery/coldchain/pkg/types"
)

var defaultTh = Thresholds{Temperature: 8.0, GForce: 2.5, ConsecutiveEvents: 3}

func temp(id string, c float64) *types.Record {
	return &types.Record{PackageID: id, Temperature: types.Float(c)}
}

func door(id string, open bool) *types.Record {
	return &types.Record{PackageID: id, DoorOpen: types.Bool(open)}
}

func TestEvaluateDoor(t *testing.T) {
	tests := []struct {
		name    string
		rec     *types.Record
		latched bool
		want    Transition
	}{
		{"open fresh", door("p", true), false, TransitionEnter},
		{"open latched", door("p", true), true, TransitionStay},
		{"closed latched", door("p", false), true, TransitionRecover},
		{"closed fresh", door("p", false), false, TransitionReset},
		{"no signal latched", temp("p", 5), true, TransitionNone},
		{"no signal fresh", &types.Record{PackageID: "p"}, false, TransitionNone},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ev := EvaluateDoor(tc.rec, State{DoorLatched: tc.latched, ConsecutiveBad: 2})
			if ev.Transition != tc.want {
				t.Errorf("transition: got %s, want %s", ev.Transition, tc.want)
			}
			if ev.Kind != KindDoor {
				t.Errorf("kind: got %s, want door", ev.Kind)
			}
			if ev.Count != 2 {
				t.Errorf("door evaluation changed count to %d", ev.Count)
			}
		})
	}
}

func TestEvaluateSustained(t *testing.T) {
	withDelta := defaultTh
	withDelta.RecoveryDelta = 0.5

	tests := []struct {
		name      string
		rec       *types.Record
		prior     State
		th        Thresholds
		want      Transition
		wantCount int
		wantCause Cause
	}{
		{"first hot tick", temp("p", 9), State{}, defaultTh, TransitionBelowThreshold, 1, CauseTemperature},
		{"second hot tick", temp("p", 9), State{ConsecutiveBad: 1}, defaultTh, TransitionBelowThreshold, 2, CauseTemperature},
		{"third hot tick", temp("p", 9), State{ConsecutiveBad: 2}, defaultTh, TransitionEnter, 3, CauseTemperature},
		{"hot while latched", temp("p", 9), State{ConsecutiveBad: 3, TempLatched: true}, defaultTh, TransitionStay, 4, CauseTemperature},
		{"equal to threshold is good", temp("p", 8), State{ConsecutiveBad: 2}, defaultTh, TransitionReset, 0, CauseNone},
		{"good mid streak", temp("p", 5), State{ConsecutiveBad: 2}, defaultTh, TransitionReset, 0, CauseNone},
		{"good after latch", temp("p", 5), State{ConsecutiveBad: 5, TempLatched: true}, defaultTh, TransitionRecover, 0, CauseNone},
		{"shock only", &types.Record{PackageID: "p", GForce: types.Float(3)}, State{ConsecutiveBad: 2}, defaultTh, TransitionEnter, 3, CauseShock},
		{"combined", &types.Record{PackageID: "p", Temperature: types.Float(9), GForce: types.Float(3)}, State{}, defaultTh, TransitionBelowThreshold, 1, CauseCombined},
		{"missing g treated as zero", temp("p", 5), State{ConsecutiveBad: 1}, defaultTh, TransitionReset, 0, CauseNone},
		{"no signal keeps count", door("p", true), State{ConsecutiveBad: 2}, defaultTh, TransitionNone, 2, CauseNone},
		{"hysteresis hold", temp("p", 7.8), State{ConsecutiveBad: 3, TempLatched: true}, withDelta, TransitionHold, 0, CauseNone},
		{"hysteresis recover at point", temp("p", 7.5), State{ConsecutiveBad: 3, TempLatched: true}, withDelta, TransitionRecover, 0, CauseNone},
		{"hysteresis unlatched resets", temp("p", 7.8), State{ConsecutiveBad: 1}, withDelta, TransitionReset, 0, CauseNone},
		{"threshold one enters at once", temp("PKG-1", 9), State{}, Thresholds{Temperature: 8, GForce: 2.5, ConsecutiveEvents: 1}, TransitionEnter, 1, CauseTemperature},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ev := EvaluateSustained(tc.rec, tc.prior, tc.th)
			if ev.Transition != tc.want {
				t.Errorf("transition: got %s, want %s", ev.Transition, tc.want)
			}
			if ev.Count != tc.wantCount {
				t.Errorf("count: got %d, want %d", ev.Count, tc.wantCount)
			}
			if ev.Cause != tc.wantCause {
				t.Errorf("cause: got %q, want %q", ev.Cause, tc.wantCause)
			}
		})
	}
}

func TestEvaluate_IsPure(t *testing.T) {
	rec := &types.Record{PackageID: "p", Temperature: types.Float(9), DoorOpen: types.Bool(true)}
	prior := State{ConsecutiveBad: 1}

	first := EvaluateSustained(rec, prior, defaultTh)
	second := EvaluateSustained(rec, prior, defaultTh)
	if first != second {
		t.Errorf("sustained: %+v != %+v", first, second)
	}
	if d1, d2 := EvaluateDoor(rec, prior), EvaluateDoor(rec, prior); d1 != d2 {
		t.Errorf("door: %+v != %+v", d1, d2)
	}
	if prior.ConsecutiveBad != 1 || prior.TempLatched || prior.DoorLatched {
		t.Errorf("prior state mutated: %+v", prior)
	}
}

func TestTransition_Notifiable(t *testing.T) {
	for _, tr := range []Transition{TransitionNone, TransitionStay, TransitionBelowThreshold, TransitionReset, TransitionHold} {
		if tr.Notifiable() {
			t.Errorf("%s should not be notifiable", tr)
		}
	}
	if !TransitionEnter.Notifiable() || !TransitionRecover.Notifiable() {
		t.Error("enter and recover must be notifiable")
	}
}
