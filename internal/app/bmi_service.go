package app

import (
	"context"
	"errors"
	"time"

	"healthmate/internal/domain"
)

// ErrBadUnit is returned for a weight unit other than "kg" or "lb".
var ErrBadUnit = errors.New("unit must be \"kg\" or \"lb\"")

// BMIInput is the raw calculator form. Values may use either decimal
// separator.
type BMIInput struct {
	Weight     string
	Height     string
	WeightUnit string
}

// BMIService encapsulates BMI calculator use cases.
type BMIService struct {
	repo domain.BMIRepository
	now  func() time.Time
}

// NewBMIService creates a BMIService backed by the given repository.
func NewBMIService(repo domain.BMIRepository) *BMIService {
	return &BMIService{repo: repo, now: time.Now}
}

// Calculate computes the BMI for in. Signed-in users (userID != 0) get the
// reading recorded in their history; invalid input records nothing.
func (s *BMIService) Calculate(ctx context.Context, userID int64, in BMIInput) (domain.BMIResult, error) {
	unit := in.WeightUnit
	if unit == "" {
		unit = "kg"
	}
	if unit != "kg" && unit != "lb" {
		return domain.BMIResult{}, ErrBadUnit
	}

	m, err := domain.ParseMeasurement(in.Weight, in.Height)
	if err != nil {
		return domain.BMIResult{}, err
	}
	m.WeightKg = domain.WeightToKg(m.WeightKg, unit)

	res, err := domain.ComputeBMI(m)
	if err != nil {
		return domain.BMIResult{}, err
	}
	if userID == 0 {
		return res, nil
	}

	_, err = s.repo.AddBMIReading(ctx, domain.BMIReading{
		UserID:    userID,
		WeightKg:  m.WeightKg,
		HeightCm:  m.HeightCm,
		Value:     res.Value,
		Category:  res.Category,
		CreatedAt: s.now(),
	})
	return res, err
}

// ListRecent returns the most recent readings up to limit.
func (s *BMIService) ListRecent(ctx context.Context, userID int64, limit int) ([]domain.BMIReading, error) {
	return s.repo.ListRecentBMIReadings(ctx, userID, limit)
}

// UndoLast deletes the most recent reading and returns the new latest one.
func (s *BMIService) UndoLast(ctx context.Context, userID int64) (bool, *domain.BMIReading, error) {
	deleted, err := s.repo.DeleteLatestBMIReading(ctx, userID)
	if err != nil {
		return false, nil, err
	}
	items, err := s.repo.ListRecentBMIReadings(ctx, userID, 1)
	if err != nil || len(items) == 0 {
		return deleted, nil, err
	}
	return deleted, &items[0], nil
}
