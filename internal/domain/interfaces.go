package domain

import (
	"fmt"
	"strconv"
	"time"
)

// Scope widens a watched-state mutation beyond a single item.
type Scope string

const (
	ScopeItem   Scope = "item"
	ScopeSeason Scope = "season"
	ScopeShow   Scope = "show"
)

// Target identifies what a mutation applies to. Either TraktID or IMDBID
// must be set; Season/Number narrow show targets.
type Target struct {
	Type    MediaType
	TraktID int64
	IMDBID  string
	Season  int
	Number  int
}

func (t Target) String() string {
	id := t.IMDBID
	if t.TraktID != 0 {
		id = strconv.FormatInt(t.TraktID, 10)
	}
	if t.Type == MediaTypeEpisode {
		return fmt.Sprintf("%s:%s:%dx%d", t.Type, id, t.Season, t.Number)
	}
	return string(t.Type) + ":" + id
}

// MutationState is the lifecycle of an optimistic write.
type MutationState string

const (
	MutationPending    MutationState = "pending"
	MutationConfirmed  MutationState = "confirmed"
	MutationRolledBack MutationState = "rolled_back"
)

// Outcome is the final state of an optimistic write.
type Outcome struct {
	ID      string
	Op      string
	Target  Target
	State   MutationState
	TraktID int64 // canonical ID after reconciliation, when resolved
	Err     error
}

// StateChange is fired after background reconciliation completes.
type StateChange struct {
	Outcome Outcome
	At      time.Time
}

// StateListener receives state-changed signals.
type StateListener interface {
	OnStateChanged(change StateChange)
}

// StateListenerFunc adapts a function to StateListener.
type StateListenerFunc func(StateChange)

func (f StateListenerFunc) OnStateChanged(c StateChange) { f(c) }

// Notification is a user-visible message about a failed action.
type Notification struct {
	Title   string
	Message string
	Err     error
}

// Notifier surfaces user-visible notifications.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }
