package subscription

import (
	"fmt"
	"time"

	"github.com/themeforge/server/internal/module/account"
)

// StateMachine applies provider transitions to an account's subscription
// fields. Transitions are designed to commute: applying activated and
// cancelled in either receipt order converges to the provider's true
// terminal state, because each event mutates only the fields it owns.
type StateMachine struct {
	apply map[EventType]func(*account.Account, *Event, time.Time)
}

// NewStateMachine creates a new subscription state machine.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		apply: map[EventType]func(*account.Account, *Event, time.Time){
			EventActivated: applyActivated,
			EventCancelled: applyCancelled,
			EventSuspended: applySuspended,
			EventExpired:   applyExpired,
		},
	}
}

// Apply mutates acct in place per the transition table.
func (sm *StateMachine) Apply(acct *account.Account, ev *Event, now time.Time) error {
	fn, ok := sm.apply[ev.Type]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEventType, ev.Type)
	}
	fn(acct, ev, now)
	return nil
}

func applyActivated(acct *account.Account, ev *Event, now time.Time) {
	rebinding := acct.SubscriptionID == nil || *acct.SubscriptionID != ev.SubscriptionID

	bind(acct, ev)
	acct.Tier = account.TierPro
	if ev.PeriodStart != nil {
		acct.CurrentPeriodStart = ev.PeriodStart
	}
	if ev.PeriodEnd != nil {
		acct.CurrentPeriodEnd = ev.PeriodEnd
	}

	// A cancellation for this same subscription may already have landed
	// (the channels are unordered). Activation must not erase it, or the
	// two orders would diverge. A fresh subscription id is a resubscribe
	// and starts clean.
	if !rebinding && acct.SubscriptionStatus == account.SubscriptionStatusCancelled {
		return
	}
	acct.SubscriptionStatus = account.SubscriptionStatusActive
	acct.CancelAtPeriodEnd = false
	acct.CancelledAt = nil
}

func applyCancelled(acct *account.Account, ev *Event, now time.Time) {
	bind(acct, ev)
	acct.CancelAtPeriodEnd = true
	if acct.CancelledAt == nil {
		t := now
		acct.CancelledAt = &t
	}
	if ev.PeriodEnd != nil {
		acct.CurrentPeriodEnd = ev.PeriodEnd
	}

	// Suspension or expiry already revoked entitlement; cancellation
	// arriving late only records intent.
	switch acct.SubscriptionStatus {
	case account.SubscriptionStatusSuspended, account.SubscriptionStatusExpired:
		return
	}

	// Cancellation takes effect at period end: the tier stays pro until
	// the lazy demotion observes the lapse.
	acct.SubscriptionStatus = account.SubscriptionStatusCancelled
	acct.Tier = account.TierPro
}

func applySuspended(acct *account.Account, ev *Event, now time.Time) {
	bind(acct, ev)
	// Provider suspension implies a payment problem: immediate downgrade.
	acct.SubscriptionStatus = account.SubscriptionStatusSuspended
	acct.Tier = acct.BaseTier()
}

func applyExpired(acct *account.Account, ev *Event, now time.Time) {
	bind(acct, ev)
	acct.SubscriptionStatus = account.SubscriptionStatusExpired
	acct.Tier = acct.BaseTier()
}

func bind(acct *account.Account, ev *Event) {
	if acct.SubscriptionID == nil || *acct.SubscriptionID != ev.SubscriptionID {
		id := ev.SubscriptionID
		acct.SubscriptionID = &id
	}
}
