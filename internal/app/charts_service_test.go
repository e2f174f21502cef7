package app_test

import (
	"context"
	"errors"
	"testing"

	"healthmate/internal/app"
	"healthmate/internal/domain"
)

func TestGetDaily_Success(t *testing.T) {
	repo := &mockBMIRepo{
		latestFn: func(_ context.Context, _ int64, _ string) (*domain.BMIReading, error) {
			return &domain.BMIReading{ID: 1, Value: 24.1, Category: domain.Overweight}, nil
		},
	}
	svc := app.NewChartsService(repo)
	points, err := svc.GetDaily(context.Background(), 1, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("expected 3 points, got %d", len(points))
	}
	for _, p := range points {
		if p.BMI == nil || p.BMI.Value != 24.1 || p.BMI.Tag != domain.TagAmber {
			t.Errorf("unexpected point %+v", p.BMI)
		}
	}
	if points[0].Day >= points[2].Day {
		t.Errorf("expected oldest first, got %s..%s", points[0].Day, points[2].Day)
	}
}

func TestGetDaily_ClassifiesMissingCategory(t *testing.T) {
	repo := &mockBMIRepo{
		latestFn: func(context.Context, int64, string) (*domain.BMIReading, error) {
			return &domain.BMIReading{Value: 17.2}, nil
		},
	}
	points, err := app.NewChartsService(repo).GetDaily(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if points[0].BMI.Category != domain.Underweight || points[0].BMI.Tag != domain.TagBlue {
		t.Errorf("unexpected point %+v", points[0].BMI)
	}
}

func TestGetDaily_ClampsTo366(t *testing.T) {
	svc := app.NewChartsService(&mockBMIRepo{})
	points, err := svc.GetDaily(context.Background(), 1, 500)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(points) != 366 {
		t.Fatalf("expected 366 points (clamped), got %d", len(points))
	}
}

func TestGetDaily_NoReadings(t *testing.T) {
	svc := app.NewChartsService(&mockBMIRepo{})
	points, err := svc.GetDaily(context.Background(), 1, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(points) != 1 || points[0].BMI != nil {
		t.Fatalf("expected one empty point, got %+v", points)
	}
}

func TestGetDaily_RepoError(t *testing.T) {
	repo := &mockBMIRepo{
		latestFn: func(context.Context, int64, string) (*domain.BMIReading, error) {
			return nil, errors.New("db down")
		},
	}
	if _, err := app.NewChartsService(repo).GetDaily(context.Background(), 1, 7); err == nil {
		t.Fatal("expected error")
	}
}
