package domain

import (
	"fmt"
	"strings"
	"time"
)

const (
	// ArmLead is how long before departure a flight enters the reminder horizon.
	ArmLead = 24 * time.Hour
	// ActivationLead is how long before departure delay polling starts.
	ActivationLead = 6 * time.Hour

	DefaultPollIntervalMinutes = 30
	MinPollIntervalMinutes     = 15
	MaxPollIntervalMinutes     = 120
)

// ValidateIntervalMinutes rejects poll intervals outside [15, 120]; values are never clamped.
func ValidateIntervalMinutes(minutes int) error {
	if minutes < MinPollIntervalMinutes || minutes > MaxPollIntervalMinutes {
		return fmt.Errorf("%w: poll interval must be between %d and %d minutes, got %d",
			ErrConfigurationInvalid, MinPollIntervalMinutes, MaxPollIntervalMinutes, minutes)
	}
	return nil
}

// Phase is the monitoring lifecycle position of a flight.
type Phase string

const (
	PhaseDormant   Phase = "DORMANT"
	PhaseArmed     Phase = "ARMED"
	PhaseActive    Phase = "ACTIVE"
	PhaseConcluded Phase = "CONCLUDED"
)

func (p Phase) String() string { return string(p) }

func (p Phase) IsValid() bool {
	switch p {
	case PhaseDormant, PhaseArmed, PhaseActive, PhaseConcluded:
		return true
	}
	return false
}

func ParsePhaseFromString(s string) (Phase, error) {
	p := Phase(strings.ToUpper(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", fmt.Errorf("%w: invalid phase %q", ErrValidation, s)
	}
	return p, nil
}

// Reasons recorded when a flight reaches PhaseConcluded.
const (
	ConcludeDeparted           = "departed"
	ConcludeCancelledUpstream  = "cancelled"
	ConcludeDeletedUpstream    = "deleted"
	ConcludeCancelledByCarrier = "cancelled_by_carrier"
)

// ChangeKind classifies the difference between two polled statuses.
type ChangeKind string

const (
	ChangeNone         ChangeKind = "NO_CHANGE"
	ChangeCancellation ChangeKind = "CANCELLATION"
	ChangeDelay        ChangeKind = "DELAY"
	ChangeLocation     ChangeKind = "LOCATION"
)

func (k ChangeKind) String() string { return string(k) }

// Change is the output of the delay detector.
type Change struct {
	Kind     ChangeKind
	Previous *CanonicalStatus
	Current  CanonicalStatus
}

func (c Change) IsReportable() bool {
	return c.Kind != "" && c.Kind != ChangeNone
}

// EventKey identifies one announced change of a flight in the dedup ledger.
type EventKey struct {
	Kind        ChangeKind
	Fingerprint string
}

func (k EventKey) String() string {
	return string(k.Kind) + "/" + k.Fingerprint
}

// ReminderKind is one of the fixed-offset pre-flight reminders.
type ReminderKind string

const (
	ReminderCheckIn24h         ReminderKind = "CHECKIN_24H"
	ReminderDropoffVolunteer6h ReminderKind = "DROPOFF_VOLUNTEER_6H"
	ReminderDropoffVolunteer3h ReminderKind = "DROPOFF_VOLUNTEER_3H"
	ReminderPickupVolunteer6h  ReminderKind = "PICKUP_VOLUNTEER_6H"
	ReminderPickupVolunteer1h  ReminderKind = "PICKUP_VOLUNTEER_1H"
)

func (k ReminderKind) String() string { return string(k) }

func AllReminderKinds() []ReminderKind {
	return []ReminderKind{
		ReminderCheckIn24h,
		ReminderDropoffVolunteer6h,
		ReminderDropoffVolunteer3h,
		ReminderPickupVolunteer6h,
		ReminderPickupVolunteer1h,
	}
}

// MonitoringState is the per-flight record shared by the scheduler, detector and dispatcher.
// Callers serialize access per flight. The ledgers only grow, except that a reschedule
// drops the reminder ledger.
type MonitoringState struct {
	FlightID            string
	Phase               Phase
	ScheduledDeparture  time.Time
	LastPolledStatus    *CanonicalStatus
	LastPollAt          time.Time
	SentEvents          map[EventKey]time.Time
	SentReminders       map[ReminderKind]time.Time
	ConsecutiveFailures int
	NextRetryAt         time.Time
	Suspended           bool
	ConcludedAt         time.Time
	ConcludeReason      string
}

func NewMonitoringState(flightID string) *MonitoringState {
	return &MonitoringState{
		FlightID:      flightID,
		Phase:         PhaseDormant,
		SentEvents:    make(map[EventKey]time.Time),
		SentReminders: make(map[ReminderKind]time.Time),
	}
}

func (s *MonitoringState) HasSentEvent(key EventKey) bool {
	if s == nil {
		return false
	}
	_, ok := s.SentEvents[key]
	return ok
}

// RecordEvent adds key to the ledger and reports false if it was already present.
func (s *MonitoringState) RecordEvent(key EventKey, at time.Time) bool {
	if s.SentEvents == nil {
		s.SentEvents = make(map[EventKey]time.Time)
	}
	if _, ok := s.SentEvents[key]; ok {
		return false
	}
	s.SentEvents[key] = at
	return true
}

func (s *MonitoringState) HasSentReminder(kind ReminderKind) bool {
	if s == nil {
		return false
	}
	_, ok := s.SentReminders[kind]
	return ok
}

// RecordReminder adds kind to the ledger and reports false if it was already present.
func (s *MonitoringState) RecordReminder(kind ReminderKind, at time.Time) bool {
	if s.SentReminders == nil {
		s.SentReminders = make(map[ReminderKind]time.Time)
	}
	if _, ok := s.SentReminders[kind]; ok {
		return false
	}
	s.SentReminders[kind] = at
	return true
}

// Reschedule records the departure the state follows. When an earlier, different
// departure was recorded, the polling baseline and the reminder ledger are dropped and
// true is returned. The change ledger is kept.
func (s *MonitoringState) Reschedule(departure time.Time) bool {
	previous := s.ScheduledDeparture
	s.ScheduledDeparture = departure.UTC()
	if previous.IsZero() || previous.Equal(departure) {
		return false
	}

	s.LastPolledStatus = nil
	s.LastPollAt = time.Time{}
	s.ConsecutiveFailures = 0
	s.NextRetryAt = time.Time{}
	s.SentReminders = make(map[ReminderKind]time.Time)
	return true
}

// Conclude moves the state to PhaseConcluded; the first reason wins.
func (s *MonitoringState) Conclude(reason string, at time.Time) bool {
	if s.Phase == PhaseConcluded {
		return false
	}
	s.Phase = PhaseConcluded
	s.ConcludedAt = at
	s.ConcludeReason = reason
	return true
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s *MonitoringState) Clone() *MonitoringState {
	if s == nil {
		return nil
	}
	c := *s
	if s.LastPolledStatus != nil {
		status := *s.LastPolledStatus
		c.LastPolledStatus = &status
	}
	c.SentEvents = make(map[EventKey]time.Time, len(s.SentEvents))
	for k, v := range s.SentEvents {
		c.SentEvents[k] = v
	}
	c.SentReminders = make(map[ReminderKind]time.Time, len(s.SentReminders))
	for k, v := range s.SentReminders {
		c.SentReminders[k] = v
	}
	return &c
}
