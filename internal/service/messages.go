package service

import (
	"fmt"
	"time"

	"github.com/kursadbilgin/flight-watch/internal/domain"
	"github.com/kursadbilgin/flight-watch/internal/reminder"
)

const messageTimeLayout = "2006-01-02 15:04 UTC"

func formatInstant(t time.Time) string {
	return t.UTC().Format(messageTimeLayout)
}

func formatChange(flight domain.Flight, change domain.Change) string {
	header := fmt.Sprintf("Flight %s %s", flight.FlightNumber, flight.Route())
	current := change.Current

	switch change.Kind {
	case domain.ChangeCancellation:
		return fmt.Sprintf("%s scheduled for %s has been cancelled by the airline.",
			header, formatInstant(flight.ScheduledDeparture))
	case domain.ChangeDelay:
		if current.DelayMinutes <= 0 {
			return fmt.Sprintf("%s is back on schedule. Departure: %s.",
				header, formatInstant(current.BestDeparture()))
		}
		return fmt.Sprintf("%s is delayed by %d min. Expected departure: %s (scheduled %s).",
			header, current.DelayMinutes, formatInstant(current.BestDeparture()), formatInstant(flight.ScheduledDeparture))
	case domain.ChangeLocation:
		return fmt.Sprintf("%s now departs from terminal %s, gate %s.",
			header, valueOrUnknown(current.NormalizedTerminal()), valueOrUnknown(current.NormalizedGate()))
	default:
		return header
	}
}

func formatReminder(flight domain.Flight, timer reminder.Timer) string {
	header := fmt.Sprintf("Flight %s %s", flight.FlightNumber, flight.Route())

	switch timer.Kind {
	case domain.ReminderCheckIn24h:
		return fmt.Sprintf("Reminder: %s departs at %s. Online check-in is open now.",
			header, formatInstant(flight.ScheduledDeparture))
	case domain.ReminderDropoffVolunteer6h, domain.ReminderDropoffVolunteer3h:
		return fmt.Sprintf("Drop-off reminder: %s departs from %s at %s.",
			header, valueOrUnknown(flight.Origin), formatInstant(flight.ScheduledDeparture))
	case domain.ReminderPickupVolunteer6h, domain.ReminderPickupVolunteer1h:
		return fmt.Sprintf("Pick-up reminder: %s lands at %s at %s.",
			header, valueOrUnknown(flight.Destination), formatInstant(flight.ScheduledArrival))
	default:
		return header
	}
}

func valueOrUnknown(v string) string {
	if v == "" {
		return "TBA"
	}
	return v
}
