package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/flight-watch/internal/domain"
	"gorm.io/gorm"
)

// FlightStore is the read-only flight contract consumed by the monitor.
type FlightStore interface {
	ListDepartingBetween(ctx context.Context, from, to time.Time) ([]domain.Flight, error)
	GetByID(ctx context.Context, id string) (*domain.Flight, error)
}

// ContactDirectory resolves the recipients of a flight.
type ContactDirectory interface {
	PassengersByIDs(ctx context.Context, ids []string) ([]domain.Passenger, error)
	VolunteerByID(ctx context.Context, id string) (*domain.Volunteer, error)
	DashboardUsersForAirports(ctx context.Context, codes []string) ([]domain.DashboardUser, error)
}

var (
	_ FlightStore      = (*GormFlightRepo)(nil)
	_ ContactDirectory = (*GormContactRepo)(nil)
)

type GormFlightRepo struct {
	db *gorm.DB
}

func NewGormFlightRepo(db *gorm.DB) *GormFlightRepo {
	return &GormFlightRepo{db: db}
}

func (r *GormFlightRepo) ListDepartingBetween(ctx context.Context, from, to time.Time) ([]domain.Flight, error) {
	var models []FlightModel
	err := r.db.WithContext(ctx).
		Where("scheduled_departure >= ? AND scheduled_departure < ?", from.UTC(), to.UTC()).
		Order("scheduled_departure ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	flights := make([]domain.Flight, 0, len(models))
	for i := range models {
		flights = append(flights, *flightModelToDomain(&models[i]))
	}
	return flights, nil
}

func (r *GormFlightRepo) GetByID(ctx context.Context, id string) (*domain.Flight, error) {
	var model FlightModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return flightModelToDomain(&model), nil
}

type GormContactRepo struct {
	db *gorm.DB
}

func NewGormContactRepo(db *gorm.DB) *GormContactRepo {
	return &GormContactRepo{db: db}
}

// PassengersByIDs returns passengers in the order of ids; unknown ids are skipped.
func (r *GormContactRepo) PassengersByIDs(ctx context.Context, ids []string) ([]domain.Passenger, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var models []PassengerModel
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&models).Error; err != nil {
		return nil, err
	}

	byID := make(map[string]PassengerModel, len(models))
	for _, m := range models {
		byID[m.ID] = m
	}

	passengers := make([]domain.Passenger, 0, len(models))
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			passengers = append(passengers, domain.Passenger{ID: m.ID, Name: m.Name, ChatID: m.ChatID})
		}
	}
	return passengers, nil
}

func (r *GormContactRepo) VolunteerByID(ctx context.Context, id string) (*domain.Volunteer, error) {
	var model VolunteerModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &domain.Volunteer{ID: model.ID, Name: model.Name, ChatID: model.ChatID}, nil
}

// DashboardUsersForAirports returns users whose airport access intersects codes.
func (r *GormContactRepo) DashboardUsersForAirports(ctx context.Context, codes []string) ([]domain.DashboardUser, error) {
	if len(codes) == 0 {
		return nil, nil
	}

	var models []DashboardUserModel
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}

	return filterDashboardUsers(models, codes), nil
}

func filterDashboardUsers(models []DashboardUserModel, codes []string) []domain.DashboardUser {
	users := make([]domain.DashboardUser, 0, len(models))
	for _, m := range models {
		user := domain.DashboardUser{
			ID:            m.ID,
			Name:          m.Name,
			ChatID:        m.ChatID,
			AirportAccess: append([]string(nil), m.AirportAccess...),
		}
		if user.HasAccessTo(codes...) {
			users = append(users, user)
		}
	}
	return users
}
