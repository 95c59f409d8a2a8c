package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/flight-watch/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const flightsCollection = "flights"

// flightDocument is the MongoDB shape of a flight record.
type flightDocument struct {
	ID                 string    `bson:"_id"`
	FlightNumber       string    `bson:"flightNumber"`
	ScheduledDeparture time.Time `bson:"scheduledDeparture"`
	ScheduledArrival   time.Time `bson:"scheduledArrival"`
	Origin             string    `bson:"origin"`
	Destination        string    `bson:"destination"`
	PassengerIDs       []string  `bson:"passengerIds"`
	PickupVolunteerID  *string   `bson:"pickupVolunteerId,omitempty"`
	DropoffVolunteerID *string   `bson:"dropoffVolunteerId,omitempty"`
	Cancelled          bool      `bson:"cancelled"`
}

func (d flightDocument) toDomain() domain.Flight {
	return domain.Flight{
		ID:                 d.ID,
		FlightNumber:       d.FlightNumber,
		ScheduledDeparture: d.ScheduledDeparture,
		ScheduledArrival:   d.ScheduledArrival,
		Origin:             d.Origin,
		Destination:        d.Destination,
		PassengerIDs:       append([]string(nil), d.PassengerIDs...),
		PickupVolunteerID:  d.PickupVolunteerID,
		DropoffVolunteerID: d.DropoffVolunteerID,
		Cancelled:          d.Cancelled,
	}.Normalize()
}

var _ FlightStore = (*MongoFlightRepo)(nil)

// MongoFlightRepo reads flights kept in MongoDB by the surrounding application.
type MongoFlightRepo struct {
	collection *mongo.Collection
}

func NewMongoFlightRepo(ctx context.Context, db *mongo.Database) (*MongoFlightRepo, error) {
	collection := db.Collection(flightsCollection)

	_, err := collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "scheduledDeparture", Value: 1}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ensure flights index: %w", err)
	}

	return &MongoFlightRepo{collection: collection}, nil
}

func (r *MongoFlightRepo) ListDepartingBetween(ctx context.Context, from, to time.Time) ([]domain.Flight, error) {
	filter := departingBetweenFilter(from, to)
	opts := options.Find().SetSort(bson.D{{Key: "scheduledDeparture", Value: 1}})

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []flightDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode flights: %w", err)
	}

	flights := make([]domain.Flight, 0, len(docs))
	for _, doc := range docs {
		flights = append(flights, doc.toDomain())
	}
	return flights, nil
}

func (r *MongoFlightRepo) GetByID(ctx context.Context, id string) (*domain.Flight, error) {
	var doc flightDocument
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	flight := doc.toDomain()
	return &flight, nil
}

func departingBetweenFilter(from, to time.Time) bson.M {
	return bson.M{
		"scheduledDeparture": bson.M{
			"$gte": from.UTC(),
			"$lt":  to.UTC(),
		},
	}
}
