package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var t0 = time.Unix(1_700_000_000, 0)

func TestRecordFailure_OpensAtThreshold(t *testing.T) {
	t.Parallel()

	s := State{}
	s = RecordFailure(s, DefaultPolicy, t0)
	assert.Equal(t, Closed, s.Phase)
	s = RecordFailure(s, DefaultPolicy, t0)
	assert.Equal(t, Closed, s.Phase)
	assert.Equal(t, 2, s.Failures)

	s = RecordFailure(s, DefaultPolicy, t0)
	assert.Equal(t, Open, s.Phase)
	assert.Equal(t, 3, s.Failures)
	assert.Equal(t, t0.Add(60*time.Second), s.OpenUntil)
}

func TestRecordSuccess_ResetsCount(t *testing.T) {
	t.Parallel()

	s := RecordFailure(RecordFailure(State{}, DefaultPolicy, t0), DefaultPolicy, t0)
	s = RecordSuccess(s)
	assert.Equal(t, State{Phase: Closed}, s)

	// Two more failures after a reset stay closed.
	s = RecordFailure(RecordFailure(s, DefaultPolicy, t0), DefaultPolicy, t0)
	assert.Equal(t, Closed, s.Phase)
}

func TestCanCall(t *testing.T) {
	t.Parallel()

	open := State{Phase: Open, Failures: 3, OpenUntil: t0.Add(time.Minute)}

	tests := []struct {
		name  string
		state State
		now   time.Time
		want  bool
	}{
		{name: "closed", state: State{}, now: t0, want: true},
		{name: "half-open", state: State{Phase: HalfOpen}, now: t0, want: true},
		{name: "open-before-cooldown", state: open, now: t0.Add(59 * time.Second), want: false},
		{name: "open-at-cooldown", state: open, now: t0.Add(time.Minute), want: true},
		{name: "open-after-cooldown", state: open, now: t0.Add(2 * time.Minute), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, CanCall(tt.state, tt.now))
		})
	}
}

func TestNextState(t *testing.T) {
	t.Parallel()

	open := State{Phase: Open, Failures: 3, OpenUntil: t0.Add(time.Minute)}

	assert.Equal(t, open, NextState(open, t0))
	assert.Equal(t, HalfOpen, NextState(open, t0.Add(time.Minute)).Phase)
	assert.Equal(t, State{}, NextState(State{}, t0))
}

func TestHalfOpen_TrialOutcome(t *testing.T) {
	t.Parallel()

	half := State{Phase: HalfOpen, Failures: 3, OpenUntil: t0}

	closed := RecordSuccess(half)
	assert.Equal(t, Closed, closed.Phase)
	assert.Equal(t, 0, closed.Failures)

	reopened := RecordFailure(half, DefaultPolicy, t0.Add(time.Second))
	assert.Equal(t, Open, reopened.Phase)
	assert.Equal(t, t0.Add(61*time.Second), reopened.OpenUntil)
}

func TestRecordFailure_DoesNotMutateInput(t *testing.T) {
	t.Parallel()

	s := State{Failures: 2}
	_ = RecordFailure(s, DefaultPolicy, t0)
	assert.Equal(t, 2, s.Failures)
	assert.Equal(t, Closed, s.Phase)
}

func TestPhaseString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "CLOSED", Closed.String())
	assert.Equal(t, "OPEN", Open.String())
	assert.Equal(t, "HALF_OPEN", HalfOpen.String())
	assert.Equal(t, "UNKNOWN", Phase(9).String())
}
