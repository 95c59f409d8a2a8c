package domain

// AudienceClass groups recipients of a flight notification.
type AudienceClass string

const (
	AudiencePassenger AudienceClass = "PASSENGER"
	AudienceVolunteer AudienceClass = "VOLUNTEER"
	AudienceDashboard AudienceClass = "DASHBOARD"
)

func (a AudienceClass) String() string { return string(a) }

// Outcome is the per-recipient result of a dispatch.
type Outcome string

const (
	OutcomeSent               Outcome = "SENT"
	OutcomeFailed             Outcome = "FAILED"
	OutcomeSkippedDuplicate   Outcome = "SKIPPED_DUPLICATE"
	OutcomeSkippedUnreachable Outcome = "SKIPPED_UNREACHABLE"
	// OutcomeDiscarded marks recipients left out because the fan-out was stopped, for
	// example by a cancellation of the flight.
	OutcomeDiscarded Outcome = "DISCARDED"
)

func (o Outcome) String() string { return string(o) }

// Recipient is a resolved member of an audience.
type Recipient struct {
	ID       string
	Name     string
	ChatID   string
	Audience AudienceClass
}

// NotificationEvent is the ephemeral record of one delivery attempt.
type NotificationEvent struct {
	FlightID  string
	Key       string
	Recipient Recipient
	Message   string
	Channel   string
	Outcome   Outcome
	Err       error
}
