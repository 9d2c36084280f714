// Package planrepo persists a generated TripPlan as Trip/DayCard/SubTrip
// rows, the relational shape the REST layer reads back for saved trips
// (spec §3/§4.I).
package planrepo

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"tripplan-go/internal/apierr"
	"tripplan-go/internal/model"
)

// Repository persists and reloads saved trips.
type Repository interface {
	// Save inserts trip, its day cards and sub-trips in one short
	// transaction, never spanning an LLM or provider call.
	Save(ctx context.Context, plan model.TripPlan) (model.Trip, error)
	FindByID(ctx context.Context, tripID uint, userID uint, isAdmin bool) (model.TripPlan, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository builds the GORM-backed Repository.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// Save writes trip -> day_cards -> sub_trips respecting the DB's
// (trip_id, day_index) and (day_card_id, order_index) uniqueness
// constraints; any conflict rolls back the whole transaction and surfaces
// a structured db_conflict error rather than a partially written trip.
func (r *gormRepository) Save(ctx context.Context, plan model.TripPlan) (model.Trip, error) {
	var trip model.Trip
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		trip = model.Trip{
			UserID:      plan.UserID,
			Title:       plan.Title,
			Destination: plan.Destination,
			StartDate:   plan.StartDate,
			EndDate:     plan.EndDate,
			Status:      model.TripStatusSaved,
			Meta:        plan.Meta,
		}
		if err := tx.Create(&trip).Error; err != nil {
			return err
		}

		for _, card := range plan.DayCards {
			dayCard := model.DayCard{
				TripID:   trip.ID,
				DayIndex: card.DayIndex,
				Date:     card.Date,
				Note:     card.Note,
			}
			if err := tx.Create(&dayCard).Error; err != nil {
				return err
			}
			for _, sub := range card.SubTrips {
				subTrip := model.SubTrip{
					DayCardID:  dayCard.ID,
					OrderIndex: sub.OrderIndex,
					Activity:   sub.Activity,
					PoiID:      sub.PoiID,
					LocName:    sub.LocName,
					Transport:  sub.Transport,
					StartTime:  sub.StartTime,
					EndTime:    sub.EndTime,
					Lat:        sub.Lat,
					Lng:        sub.Lng,
					Ext:        sub.Ext,
				}
				if err := tx.Create(&subTrip).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		if isUniqueConstraintErr(err) {
			return model.Trip{}, apierr.Wrap(apierr.KindDBConflict, "trip already has a conflicting day/order index", err)
		}
		return model.Trip{}, apierr.Wrap(apierr.KindPersistenceFailed, "failed to save trip", err)
	}
	return trip, nil
}

// FindByID reloads a saved trip with its day cards and sub-trips,
// enforcing ownership unless the requester is an admin.
func (r *gormRepository) FindByID(ctx context.Context, tripID uint, userID uint, isAdmin bool) (model.TripPlan, error) {
	var trip model.Trip
	if err := r.db.WithContext(ctx).First(&trip, tripID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.TripPlan{}, apierr.New(apierr.KindInvalidParams, "trip not found").WithPath("trip_id")
		}
		return model.TripPlan{}, apierr.Wrap(apierr.KindPersistenceFailed, "failed to load trip", err)
	}
	if !isAdmin && trip.UserID != userID {
		return model.TripPlan{}, apierr.New(apierr.KindNotAuthorized, "trip does not belong to requester")
	}

	var dayCards []model.DayCard
	if err := r.db.WithContext(ctx).Where("trip_id = ?", tripID).Order("day_index ASC").Find(&dayCards).Error; err != nil {
		return model.TripPlan{}, apierr.Wrap(apierr.KindPersistenceFailed, "failed to load day cards", err)
	}

	dayCardIDs := make([]uint, 0, len(dayCards))
	for _, d := range dayCards {
		dayCardIDs = append(dayCardIDs, d.ID)
	}
	var subTrips []model.SubTrip
	if len(dayCardIDs) > 0 {
		if err := r.db.WithContext(ctx).Where("day_card_id IN ?", dayCardIDs).Order("order_index ASC").Find(&subTrips).Error; err != nil {
			return model.TripPlan{}, apierr.Wrap(apierr.KindPersistenceFailed, "failed to load sub trips", err)
		}
	}
	byDayCard := make(map[uint][]model.PlanSubTrip, len(dayCards))
	for _, s := range subTrips {
		id := s.ID
		byDayCard[s.DayCardID] = append(byDayCard[s.DayCardID], model.PlanSubTrip{
			ID: &id, DayCardID: &s.DayCardID, OrderIndex: s.OrderIndex, Activity: s.Activity,
			PoiID: s.PoiID, LocName: s.LocName, Transport: s.Transport,
			StartTime: s.StartTime, EndTime: s.EndTime, Lat: s.Lat, Lng: s.Lng, Ext: s.Ext,
		})
	}

	planCards := make([]model.PlanDayCard, 0, len(dayCards))
	totalSubTrips := 0
	for _, d := range dayCards {
		id := d.ID
		tripID := d.TripID
		subs := byDayCard[d.ID]
		totalSubTrips += len(subs)
		planCards = append(planCards, model.PlanDayCard{
			ID: &id, TripID: &tripID, DayIndex: d.DayIndex, Date: d.Date, Note: d.Note, SubTrips: subs,
		})
	}

	id := trip.ID
	return model.TripPlan{
		ID: &id, UserID: trip.UserID, Title: trip.Title, Destination: trip.Destination,
		StartDate: trip.StartDate, EndDate: trip.EndDate, Status: trip.Status, Meta: trip.Meta,
		DayCards: planCards, DayCount: len(planCards), SubTripCount: totalSubTrips,
	}, nil
}

func isUniqueConstraintErr(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique constraint") || strings.Contains(msg, "1062")
}
