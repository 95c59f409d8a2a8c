package reminder

import (
	"sort"
	"time"

	"github.com/kursadbilgin/flight-watch/internal/domain"
)

// Ledger reports which reminder kinds were already delivered for a flight.
type Ledger interface {
	HasSentReminder(kind domain.ReminderKind) bool
}

// Timer is one scheduled reminder of a flight.
type Timer struct {
	Kind     domain.ReminderKind
	Audience domain.AudienceClass
	// VolunteerID is set for volunteer reminders.
	VolunteerID string
	At          time.Time
	// Deadline is the instant after which the reminder is no longer useful.
	Deadline time.Time
}

// TimerSet holds the reminders that apply to one flight, ordered by At.
type TimerSet []Timer

// For builds the timers of a flight. Legs without an assigned volunteer have no timers.
func For(flight domain.Flight) TimerSet {
	dep := flight.ScheduledDeparture.UTC()
	arr := flight.ScheduledArrival.UTC()

	set := make(TimerSet, 0, 5)
	if len(flight.PassengerIDs) > 0 {
		set = append(set, Timer{
			Kind:     domain.ReminderCheckIn24h,
			Audience: domain.AudiencePassenger,
			At:       dep.Add(-24 * time.Hour),
			Deadline: dep,
		})
	}
	if flight.DropoffVolunteerID != nil && *flight.DropoffVolunteerID != "" {
		id := *flight.DropoffVolunteerID
		set = append(set,
			Timer{Kind: domain.ReminderDropoffVolunteer6h, Audience: domain.AudienceVolunteer, VolunteerID: id, At: dep.Add(-6 * time.Hour), Deadline: dep},
			Timer{Kind: domain.ReminderDropoffVolunteer3h, Audience: domain.AudienceVolunteer, VolunteerID: id, At: dep.Add(-3 * time.Hour), Deadline: dep},
		)
	}
	if flight.PickupVolunteerID != nil && *flight.PickupVolunteerID != "" && !arr.IsZero() {
		id := *flight.PickupVolunteerID
		set = append(set,
			Timer{Kind: domain.ReminderPickupVolunteer6h, Audience: domain.AudienceVolunteer, VolunteerID: id, At: arr.Add(-6 * time.Hour), Deadline: arr},
			Timer{Kind: domain.ReminderPickupVolunteer1h, Audience: domain.AudienceVolunteer, VolunteerID: id, At: arr.Add(-1 * time.Hour), Deadline: arr},
		)
	}

	sort.SliceStable(set, func(i, j int) bool { return set[i].At.Before(set[j].At) })
	return set
}

// Due returns the timers whose instant has passed, whose deadline has not, and that are
// absent from the ledger.
func (s TimerSet) Due(sent Ledger, now time.Time) []Timer {
	now = now.UTC()
	due := make([]Timer, 0, len(s))
	for _, timer := range s {
		if now.Before(timer.At) || !now.Before(timer.Deadline) {
			continue
		}
		if sent != nil && sent.HasSentReminder(timer.Kind) {
			continue
		}
		due = append(due, timer)
	}
	return due
}

// Pending reports whether any timer could still become due at or after now.
func (s TimerSet) Pending(sent Ledger, now time.Time) bool {
	now = now.UTC()
	for _, timer := range s {
		if !now.Before(timer.Deadline) {
			continue
		}
		if sent != nil && sent.HasSentReminder(timer.Kind) {
			continue
		}
		return true
	}
	return false
}

// Next returns the earliest instant at or after now when a timer fires.
func (s TimerSet) Next(sent Ledger, now time.Time) (time.Time, bool) {
	for _, timer := range s {
		if sent != nil && sent.HasSentReminder(timer.Kind) {
			continue
		}
		if !now.Before(timer.Deadline) {
			continue
		}
		if timer.At.After(now) {
			return timer.At, true
		}
		return now, true
	}
	return time.Time{}, false
}

// Due lists the reminder kinds due for flight at now.
func Due(flight domain.Flight, sent Ledger, now time.Time) []domain.ReminderKind {
	timers := For(flight).Due(sent, now)
	kinds := make([]domain.ReminderKind, 0, len(timers))
	for _, timer := range timers {
		kinds = append(kinds, timer.Kind)
	}
	return kinds
}
