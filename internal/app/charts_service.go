package app

import (
	"context"
	"time"

	"healthmate/internal/domain"
)

const maxChartDays = 366

// ChartsService builds the dashboard BMI trend.
type ChartsService struct {
	repo domain.BMIRepository
	now  func() time.Time
}

// NewChartsService creates a ChartsService backed by the given repository.
func NewChartsService(repo domain.BMIRepository) *ChartsService {
	return &ChartsService{repo: repo, now: time.Now}
}

// DayPoint is a single data point returned by GetDaily.
type DayPoint struct {
	Day string    `json:"day"`
	BMI *BMIPoint `json:"bmi"`
}

// BMIPoint is the optional reading within a DayPoint.
type BMIPoint struct {
	Value    float64         `json:"value"`
	Category domain.Category `json:"category"`
	Tag      domain.Tag      `json:"tag"`
}

// GetDaily returns the latest reading per local day for the last days days,
// oldest first.
func (s *ChartsService) GetDaily(ctx context.Context, userID int64, days int) ([]DayPoint, error) {
	if days < 1 {
		days = 1
	}
	if days > maxChartDays {
		days = maxChartDays
	}

	today := s.now().In(time.Local)
	points := make([]DayPoint, 0, days)

	for i := days - 1; i >= 0; i-- {
		dayStr := today.AddDate(0, 0, -i).Format("2006-01-02")

		r, err := s.repo.LatestBMIForLocalDay(ctx, userID, dayStr)
		if err != nil {
			return nil, err
		}

		var p *BMIPoint
		if r != nil {
			cat := r.Category
			if cat == "" {
				cat, _ = domain.ClassifyBMI(r.Value)
			}
			p = &BMIPoint{Value: r.Value, Category: cat, Tag: cat.Tag()}
		}
		points = append(points, DayPoint{Day: dayStr, BMI: p})
	}
	return points, nil
}
