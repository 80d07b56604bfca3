package app

import (
	"time"

	"github.com/aenulfahir/tryoutkan-main-sub001/internal/domain"
)

// TimerState is the authoritative countdown for one session. It is a pure
// value: every transition is driven by an explicit wall-clock instant handed
// in by the caller (the countdown loop in production, a fake clock in tests),
// so the core never reads time.Now itself.
type TimerState struct {
	DurationSeconds  int
	RemainingSeconds int
	CheckpointAt     time.Time
	Expired          bool
}

// NewTimerState starts a full countdown anchored at now.
func NewTimerState(durationSeconds int, now time.Time) TimerState {
	return TimerState{
		DurationSeconds:  durationSeconds,
		RemainingSeconds: durationSeconds,
		CheckpointAt:     now,
	}
}

// Tick advances the countdown to now by wall-clock delta rather than by
// decrementing a counter, so drift from a delayed or throttled tick source
// self-corrects on the next call. The second return value is true only on the
// single tick that crosses zero; once Expired has latched, further ticks are
// no-ops that re-confirm remaining = 0.
func (t TimerState) Tick(now time.Time) (TimerState, bool) {
	if t.Expired {
		t.RemainingSeconds = 0
		return t, false
	}

	elapsed := int(now.Sub(t.CheckpointAt) / time.Second)
	if elapsed < 0 {
		// Clock went backwards; hold the remaining value and the anchor.
		return t, false
	}
	t.RemainingSeconds -= elapsed
	// Advance the anchor by whole seconds only. The sub-second remainder
	// stays in the anchor and is counted by a later tick, so irregular tick
	// intervals never leak time.
	t.CheckpointAt = t.CheckpointAt.Add(time.Duration(elapsed) * time.Second)

	if t.RemainingSeconds <= 0 {
		t.RemainingSeconds = 0
		t.Expired = true
		return t, true
	}
	return t, false
}

// Checkpoint snapshots the state for persistence.
func (t TimerState) Checkpoint(sessionID string) domain.TimerCheckpoint {
	return domain.TimerCheckpoint{
		SessionID:        sessionID,
		RemainingSeconds: t.RemainingSeconds,
		CheckpointAt:     t.CheckpointAt,
		Expired:          t.Expired,
	}
}

// ReconcileResult reports what reconciliation decided for a resumed session.
type ReconcileResult struct {
	State TimerState
	// Fired is true when this reconciliation ran the countdown out: the
	// stored checkpoint was live but the elapsed gap consumed it. The caller
	// must route the session through expiry before accepting any input.
	Fired bool
	// SkewAnomaly is set when the stored remaining value was outside
	// [0, duration] and had to be clamped. Logged, never fatal.
	SkewAnomaly bool
}

// Reconcile rebuilds timer state from a stored checkpoint:
// remaining = max(0, storedRemaining - (now - checkpointAt)). An already
// expired checkpoint never fires again; a checkpoint that ran out while the
// session was away fires exactly once, here.
func Reconcile(cp domain.TimerCheckpoint, durationSeconds int, now time.Time) ReconcileResult {
	res := ReconcileResult{}

	stored := cp.RemainingSeconds
	if cp.Expired {
		// A latched checkpoint already ran out; ignore any stale remaining
		// value a late flush may have written next to the flag.
		stored = 0
	}
	if stored < 0 || stored > durationSeconds {
		res.SkewAnomaly = true
		if stored < 0 {
			stored = 0
		} else {
			stored = durationSeconds
		}
	}

	elapsed := int(now.Sub(cp.CheckpointAt) / time.Second)
	if elapsed < 0 {
		res.SkewAnomaly = true
		elapsed = 0
	}

	remaining := stored - elapsed
	if remaining < 0 {
		remaining = 0
	}

	res.State = TimerState{
		DurationSeconds:  durationSeconds,
		RemainingSeconds: remaining,
		CheckpointAt:     now,
		Expired:          cp.Expired,
	}
	if remaining == 0 && !cp.Expired {
		res.State.Expired = true
		res.Fired = true
	}
	return res
}
