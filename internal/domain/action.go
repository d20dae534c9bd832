package domain

import "time"

// farFutureSentinel is the "not scheduled" value for Action.NextTry: an
// action carrying it is new or has just been re-armed by the Reaper for
// immediate processing and must not be mistaken for one still waiting
// out a delay.
var farFutureSentinel = time.Date(9999, time.January, 1, 0, 0, 0, 0, time.UTC)

// FarFutureSentinel returns the sentinel NextTry value.
func FarFutureSentinel() time.Time { return farFutureSentinel }

// GetInfoInitialRepetitions is the repetition budget stamped onto the
// get_info Action enqueued as a follow-up to a deploy or start Request.
// The Ops Worker decrements it by one on each pass that finds no IP yet,
// and the Reaper re-arms the sleeping Action while budget remains and
// times it out once it reaches zero.
const GetInfoInitialRepetitions = 20

// Action is the unit of work claimed by a worker. Exactly one worker may
// observe Lock=LockFree and transition it; the Reaper is the only
// component that moves LockSleeping back to LockFree.
type Action struct {
	ID          int64      `json:"id"`
	Type        ActionType `json:"type"`
	Request     int64      `json:"request"`
	Lock        LockState  `json:"lock"`
	Repetitions int        `json:"repetitions"`
	Delay       int        `json:"delay"` // seconds; the workers' next_try jitter uses the configured retry delay, not this field
	NextTry     time.Time  `json:"next_try"`
	ModifiedAt  time.Time  `json:"modified_at"`
}

// DocumentType implements store.Entity.
func (a *Action) DocumentType() string { return "action" }

// GetID implements store.Entity.
func (a *Action) GetID() int64 { return a.ID }

// SetID implements store.Entity.
func (a *Action) SetID(id int64) { a.ID = id }

// Expired reports whether the repetition budget is exhausted, the
// condition under which the Reaper times out the owning Request instead
// of re-arming the action.
func (a *Action) Expired() bool { return a.Repetitions == 0 }

// Rearm marks the action free again with the sentinel NextTry, the state
// the Reaper leaves a still-retryable action in so workers pick it up on
// their next poll.
func (a *Action) Rearm() {
	a.Lock = LockFree
	a.NextTry = farFutureSentinel
}

// Finish marks the action terminal.
func (a *Action) Finish() { a.Lock = LockDone }
