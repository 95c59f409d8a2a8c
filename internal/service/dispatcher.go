package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/flight-watch/internal/detector"
	"github.com/kursadbilgin/flight-watch/internal/domain"
	"github.com/kursadbilgin/flight-watch/internal/messaging"
	"github.com/kursadbilgin/flight-watch/internal/observability"
	"github.com/kursadbilgin/flight-watch/internal/reminder"
	"github.com/kursadbilgin/flight-watch/internal/repository"
	"go.uber.org/zap"
)

const defaultSendTimeout = 10 * time.Second

// Notifier fans changes and reminders out to the audiences of a flight.
// Callers hold the flight's lock; the in-memory ledgers of state are updated in place.
type Notifier interface {
	DispatchChange(ctx context.Context, flight domain.Flight, state *domain.MonitoringState, change domain.Change) DispatchResult
	DispatchReminder(ctx context.Context, flight domain.Flight, state *domain.MonitoringState, timer reminder.Timer) DispatchResult
}

// DispatchResult carries the per-recipient outcomes of one fan-out.
type DispatchResult struct {
	Key        string
	Events     []domain.NotificationEvent
	Sent       int
	Failed     int
	Skipped    int
	Recorded   bool
	Duplicate  bool
	ResolveErr error
}

// AllFailed reports a fan-out that reached nobody while someone should have been reached.
func (r DispatchResult) AllFailed() bool {
	if r.Sent > 0 {
		return false
	}
	return r.Failed > 0 || r.ResolveErr != nil
}

func (r *DispatchResult) add(event domain.NotificationEvent) {
	switch event.Outcome {
	case domain.OutcomeSent:
		r.Sent++
	case domain.OutcomeFailed:
		r.Failed++
	default:
		r.Skipped++
	}
	r.Events = append(r.Events, event)
}

var _ Notifier = (*Dispatcher)(nil)

type Dispatcher struct {
	directory   repository.ContactDirectory
	ledger      repository.MonitoringRepository
	messenger   messaging.Messenger
	sendTimeout time.Duration
	logger      *zap.Logger
	metrics     *observability.Metrics
	now         func() time.Time
}

func NewDispatcher(
	directory repository.ContactDirectory,
	ledger repository.MonitoringRepository,
	messenger messaging.Messenger,
	sendTimeout time.Duration,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if directory == nil {
		return nil, fmt.Errorf("contact directory is required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("monitoring repository is required")
	}
	if messenger == nil {
		return nil, fmt.Errorf("messenger is required")
	}
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		directory:   directory,
		ledger:      ledger,
		messenger:   messenger,
		sendTimeout: sendTimeout,
		logger:      logger,
		now:         time.Now,
	}, nil
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

// DispatchChange announces change once per flight and (kind, fingerprint).
func (d *Dispatcher) DispatchChange(ctx context.Context, flight domain.Flight, state *domain.MonitoringState, change domain.Change) DispatchResult {
	key := detector.Key(change)
	result := DispatchResult{Key: key.String()}
	logger := observability.WithContextLogger(d.logger, ctx).With(observability.FlightFields(flight.ID, flight.FlightNumber)...)

	recipients, resolveErr := d.resolveChangeAudience(ctx, flight)
	result.ResolveErr = resolveErr
	if resolveErr != nil {
		logger.Warn("partial audience resolution", zap.String("key", key.String()), zap.Error(resolveErr))
	}

	if state.HasSentEvent(key) {
		result.Duplicate = true
		result.ResolveErr = nil
		d.skipAll(&result, flight, recipients, key.String())
		return result
	}

	d.deliver(ctx, &result, flight, recipients, key.String(), formatChange(flight, change))

	if result.Sent > 0 {
		sentAt := d.now().UTC()
		state.RecordEvent(key, sentAt)
		result.Recorded = true
		if _, err := d.ledger.RecordEvent(context.WithoutCancel(ctx), flight.ID, key, sentAt); err != nil {
			logger.Error("failed to persist sent event", zap.String("key", key.String()), zap.Error(err))
		}
	}

	logger.Info("change dispatched",
		zap.String("key", key.String()),
		zap.Int("sent", result.Sent),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped),
	)
	return result
}

// DispatchReminder sends one reminder kind at most once per flight.
func (d *Dispatcher) DispatchReminder(ctx context.Context, flight domain.Flight, state *domain.MonitoringState, timer reminder.Timer) DispatchResult {
	result := DispatchResult{Key: timer.Kind.String()}
	logger := observability.WithContextLogger(d.logger, ctx).With(observability.FlightFields(flight.ID, flight.FlightNumber)...)

	recipients, resolveErr := d.resolveReminderAudience(ctx, flight, timer)
	result.ResolveErr = resolveErr
	if resolveErr != nil {
		logger.Warn("reminder audience resolution failed", zap.String("kind", timer.Kind.String()), zap.Error(resolveErr))
	}

	if state.HasSentReminder(timer.Kind) {
		result.Duplicate = true
		result.ResolveErr = nil
		d.skipAll(&result, flight, recipients, timer.Kind.String())
		return result
	}

	d.deliver(ctx, &result, flight, recipients, timer.Kind.String(), formatReminder(flight, timer))

	if result.Sent > 0 {
		sentAt := d.now().UTC()
		state.RecordReminder(timer.Kind, sentAt)
		result.Recorded = true
		d.metrics.IncReminderSent(timer.Kind.String())
		if _, err := d.ledger.RecordReminder(context.WithoutCancel(ctx), flight.ID, timer.Kind, sentAt); err != nil {
			logger.Error("failed to persist sent reminder", zap.String("kind", timer.Kind.String()), zap.Error(err))
		}
	}

	logger.Info("reminder dispatched",
		zap.String("kind", timer.Kind.String()),
		zap.Int("sent", result.Sent),
		zap.Int("failed", result.Failed),
	)
	return result
}

func (d *Dispatcher) deliver(
	ctx context.Context,
	result *DispatchResult,
	flight domain.Flight,
	recipients []domain.Recipient,
	key string,
	text string,
) {
	stopped := false
	for _, recipient := range recipients {
		event := domain.NotificationEvent{
			FlightID:  flight.ID,
			Key:       key,
			Recipient: recipient,
			Message:   text,
			Channel:   d.messenger.Name(),
		}

		if ctx.Err() != nil {
			if !stopped {
				stopped = true
				observability.WithContextLogger(d.logger, ctx).Info("fan-out stopped, discarding remaining recipients",
					zap.String("flightId", flight.ID),
					zap.String("key", key),
					zap.Error(context.Cause(ctx)),
				)
			}
			event.Outcome = domain.OutcomeDiscarded
			d.record(result, event)
			continue
		}

		if recipient.ChatID == "" {
			event.Outcome = domain.OutcomeSkippedUnreachable
			d.record(result, event)
			continue
		}

		sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
		err := d.messenger.SendMessage(sendCtx, recipient.ChatID, text)
		cancel()

		if err != nil {
			if !errors.Is(err, domain.ErrDeliveryFailed) {
				err = fmt.Errorf("%w: %v", domain.ErrDeliveryFailed, err)
			}
			event.Outcome = domain.OutcomeFailed
			event.Err = err
			d.logger.Warn("delivery failed",
				zap.String("flightId", flight.ID),
				zap.String("recipientId", recipient.ID),
				zap.String("audience", recipient.Audience.String()),
				zap.Error(err),
			)
		} else {
			event.Outcome = domain.OutcomeSent
		}
		d.record(result, event)
	}
}

func (d *Dispatcher) skipAll(result *DispatchResult, flight domain.Flight, recipients []domain.Recipient, key string) {
	for _, recipient := range recipients {
		d.record(result, domain.NotificationEvent{
			FlightID:  flight.ID,
			Key:       key,
			Recipient: recipient,
			Channel:   d.messenger.Name(),
			Outcome:   domain.OutcomeSkippedDuplicate,
		})
	}
}

func (d *Dispatcher) record(result *DispatchResult, event domain.NotificationEvent) {
	result.add(event)
	d.metrics.IncNotification(event.Recipient.Audience.String(), event.Outcome.String())
}

// resolveChangeAudience resolves each audience class independently; one failing class
// does not hide the others. Recipients sharing a chat id are notified once.
func (d *Dispatcher) resolveChangeAudience(ctx context.Context, flight domain.Flight) ([]domain.Recipient, error) {
	var (
		set  recipientSet
		errs []error
	)

	passengers, err := d.directory.PassengersByIDs(ctx, flight.PassengerIDs)
	if err != nil {
		errs = append(errs, fmt.Errorf("passengers: %w", err))
	}
	for _, p := range passengers {
		set.add(domain.Recipient{ID: p.ID, Name: p.Name, ChatID: p.ChatID, Audience: domain.AudiencePassenger})
	}

	for _, id := range volunteerIDs(flight) {
		volunteer, err := d.directory.VolunteerByID(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("volunteer %s: %w", id, err))
			continue
		}
		set.add(domain.Recipient{ID: volunteer.ID, Name: volunteer.Name, ChatID: volunteer.ChatID, Audience: domain.AudienceVolunteer})
	}

	if airports := flight.Airports(); len(airports) > 0 {
		users, err := d.directory.DashboardUsersForAirports(ctx, airports)
		if err != nil {
			errs = append(errs, fmt.Errorf("dashboard users: %w", err))
		}
		for _, u := range users {
			if !u.HasAccessTo(airports...) {
				continue
			}
			set.add(domain.Recipient{ID: u.ID, Name: u.Name, ChatID: u.ChatID, Audience: domain.AudienceDashboard})
		}
	}

	return set.recipients, errors.Join(errs...)
}

func (d *Dispatcher) resolveReminderAudience(ctx context.Context, flight domain.Flight, timer reminder.Timer) ([]domain.Recipient, error) {
	var set recipientSet

	switch timer.Audience {
	case domain.AudiencePassenger:
		passengers, err := d.directory.PassengersByIDs(ctx, flight.PassengerIDs)
		for _, p := range passengers {
			set.add(domain.Recipient{ID: p.ID, Name: p.Name, ChatID: p.ChatID, Audience: domain.AudiencePassenger})
		}
		return set.recipients, err
	case domain.AudienceVolunteer:
		volunteer, err := d.directory.VolunteerByID(ctx, timer.VolunteerID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		set.add(domain.Recipient{ID: volunteer.ID, Name: volunteer.Name, ChatID: volunteer.ChatID, Audience: domain.AudienceVolunteer})
		return set.recipients, nil
	default:
		return nil, fmt.Errorf("%w: unsupported reminder audience %q", domain.ErrValidation, timer.Audience)
	}
}

func volunteerIDs(flight domain.Flight) []string {
	ids := make([]string, 0, 2)
	for _, id := range []*string{flight.PickupVolunteerID, flight.DropoffVolunteerID} {
		if id == nil || *id == "" {
			continue
		}
		if len(ids) == 1 && ids[0] == *id {
			continue
		}
		ids = append(ids, *id)
	}
	return ids
}

// recipientSet keeps insertion order and drops repeated chat ids.
type recipientSet struct {
	recipients []domain.Recipient
	chats      map[string]struct{}
	ids        map[string]struct{}
}

func (s *recipientSet) add(r domain.Recipient) {
	if s.chats == nil {
		s.chats = make(map[string]struct{})
		s.ids = make(map[string]struct{})
	}
	r.ChatID = strings.TrimSpace(r.ChatID)

	if r.ChatID == "" {
		idKey := string(r.Audience) + "/" + r.ID
		if _, ok := s.ids[idKey]; ok {
			return
		}
		s.ids[idKey] = struct{}{}
		s.recipients = append(s.recipients, r)
		return
	}

	if _, ok := s.chats[r.ChatID]; ok {
		return
	}
	s.chats[r.ChatID] = struct{}{}
	s.recipients = append(s.recipients, r)
}
