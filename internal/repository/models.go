package repository

import (
	"time"

	"github.com/kursadbilgin/flight-watch/internal/domain"
)

// FlightModel mirrors the flights table owned by the surrounding application.
type FlightModel struct {
	ID                 string    `gorm:"type:varchar(64);primaryKey"`
	FlightNumber       string    `gorm:"type:varchar(16);not null"`
	ScheduledDeparture time.Time `gorm:"type:timestamptz;not null;index"`
	ScheduledArrival   time.Time `gorm:"type:timestamptz"`
	Origin             string    `gorm:"type:varchar(4)"`
	Destination        string    `gorm:"type:varchar(4)"`
	PassengerIDs       []string  `gorm:"type:jsonb;serializer:json"`
	PickupVolunteerID  *string   `gorm:"type:varchar(64)"`
	DropoffVolunteerID *string   `gorm:"type:varchar(64)"`
	Cancelled          bool      `gorm:"not null;default:false"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (FlightModel) TableName() string {
	return "flights"
}

// PassengerModel is the persistence model for passengers.
type PassengerModel struct {
	ID     string `gorm:"type:varchar(64);primaryKey"`
	Name   string `gorm:"type:varchar(255)"`
	ChatID string `gorm:"type:varchar(64)"`
}

func (PassengerModel) TableName() string {
	return "passengers"
}

// VolunteerModel is the persistence model for volunteers.
type VolunteerModel struct {
	ID     string `gorm:"type:varchar(64);primaryKey"`
	Name   string `gorm:"type:varchar(255)"`
	ChatID string `gorm:"type:varchar(64)"`
}

func (VolunteerModel) TableName() string {
	return "volunteers"
}

// DashboardUserModel is the persistence model for dashboard_users.
type DashboardUserModel struct {
	ID            string   `gorm:"type:varchar(64);primaryKey"`
	Name          string   `gorm:"type:varchar(255)"`
	ChatID        string   `gorm:"type:varchar(64)"`
	AirportAccess []string `gorm:"type:jsonb;serializer:json"`
}

func (DashboardUserModel) TableName() string {
	return "dashboard_users"
}

// MonitoringStateModel stores the scheduler position of one flight.
type MonitoringStateModel struct {
	FlightID            string                  `gorm:"type:varchar(64);primaryKey"`
	Phase               domain.Phase            `gorm:"type:varchar(16);not null"`
	ScheduledDeparture  *time.Time              `gorm:"type:timestamptz"`
	LastPolledStatus    *domain.CanonicalStatus `gorm:"type:jsonb;serializer:json"`
	LastPollAt          *time.Time              `gorm:"type:timestamptz"`
	ConsecutiveFailures int                     `gorm:"not null;default:0"`
	NextRetryAt         *time.Time              `gorm:"type:timestamptz"`
	Suspended           bool                    `gorm:"not null;default:false"`
	ConcludedAt         *time.Time              `gorm:"type:timestamptz"`
	ConcludeReason      string                  `gorm:"type:varchar(32)"`
	UpdatedAt           time.Time
}

func (MonitoringStateModel) TableName() string {
	return "monitoring_states"
}

// SentEventModel is one row of the per-flight change ledger.
type SentEventModel struct {
	ID          string            `gorm:"type:uuid;primaryKey"`
	FlightID    string            `gorm:"type:varchar(64);not null;uniqueIndex:idx_sent_events_flight_key"`
	Kind        domain.ChangeKind `gorm:"type:varchar(16);not null;uniqueIndex:idx_sent_events_flight_key"`
	Fingerprint string            `gorm:"type:varchar(128);not null;uniqueIndex:idx_sent_events_flight_key"`
	SentAt      time.Time         `gorm:"type:timestamptz;not null"`
}

func (SentEventModel) TableName() string {
	return "sent_events"
}

// SentReminderModel is one row of the per-flight reminder ledger.
type SentReminderModel struct {
	ID       string              `gorm:"type:uuid;primaryKey"`
	FlightID string              `gorm:"type:varchar(64);not null;uniqueIndex:idx_sent_reminders_flight_kind"`
	Kind     domain.ReminderKind `gorm:"type:varchar(32);not null;uniqueIndex:idx_sent_reminders_flight_kind"`
	SentAt   time.Time           `gorm:"type:timestamptz;not null"`
}

func (SentReminderModel) TableName() string {
	return "sent_reminders"
}

func flightModelToDomain(m *FlightModel) *domain.Flight {
	if m == nil {
		return nil
	}

	flight := domain.Flight{
		ID:                 m.ID,
		FlightNumber:       m.FlightNumber,
		ScheduledDeparture: m.ScheduledDeparture,
		ScheduledArrival:   m.ScheduledArrival,
		Origin:             m.Origin,
		Destination:        m.Destination,
		PassengerIDs:       append([]string(nil), m.PassengerIDs...),
		PickupVolunteerID:  m.PickupVolunteerID,
		DropoffVolunteerID: m.DropoffVolunteerID,
		Cancelled:          m.Cancelled,
	}.Normalize()

	return &flight
}

func stateModelFromDomain(s *domain.MonitoringState) *MonitoringStateModel {
	if s == nil {
		return nil
	}

	return &MonitoringStateModel{
		FlightID:            s.FlightID,
		Phase:               s.Phase,
		ScheduledDeparture:  timePtr(s.ScheduledDeparture),
		LastPolledStatus:    s.LastPolledStatus,
		LastPollAt:          timePtr(s.LastPollAt),
		ConsecutiveFailures: s.ConsecutiveFailures,
		NextRetryAt:         timePtr(s.NextRetryAt),
		Suspended:           s.Suspended,
		ConcludedAt:         timePtr(s.ConcludedAt),
		ConcludeReason:      s.ConcludeReason,
	}
}

func stateModelToDomain(m *MonitoringStateModel, events []SentEventModel, reminders []SentReminderModel) *domain.MonitoringState {
	if m == nil {
		return nil
	}

	state := domain.NewMonitoringState(m.FlightID)
	state.Phase = m.Phase
	state.ScheduledDeparture = timeValue(m.ScheduledDeparture)
	state.LastPolledStatus = m.LastPolledStatus
	state.LastPollAt = timeValue(m.LastPollAt)
	state.ConsecutiveFailures = m.ConsecutiveFailures
	state.NextRetryAt = timeValue(m.NextRetryAt)
	state.Suspended = m.Suspended
	state.ConcludedAt = timeValue(m.ConcludedAt)
	state.ConcludeReason = m.ConcludeReason

	for _, e := range events {
		state.SentEvents[domain.EventKey{Kind: e.Kind, Fingerprint: e.Fingerprint}] = e.SentAt.UTC()
	}
	for _, r := range reminders {
		state.SentReminders[r.Kind] = r.SentAt.UTC()
	}

	return state
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	v := t.UTC()
	return &v
}

func timeValue(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}
