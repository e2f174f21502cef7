package domain

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const kgPerLb = 0.45359237

// Category is a BMI classification bucket.
type Category string

// BMI categories.
const (
	Underweight Category = "Underweight"
	Normal      Category = "Normal"
	Overweight  Category = "Overweight"
	Obese       Category = "Obese"
)

// Tag is the display severity token attached to a Category.
type Tag string

// Severity tags.
const (
	TagBlue  Tag = "blue"
	TagGreen Tag = "green"
	TagAmber Tag = "amber"
	TagRed   Tag = "red"
)

// Tag returns the severity tag for c.
func (c Category) Tag() Tag {
	switch c {
	case Underweight:
		return TagBlue
	case Normal:
		return TagGreen
	case Overweight:
		return TagAmber
	case Obese:
		return TagRed
	}
	return ""
}

// Thresholds are exclusive upper bounds on the unrounded value.
const (
	underweightBelow = 18.5
	normalBelow      = 23.0
	overweightBelow  = 27.5
)

// ValidationError reports which measurement field was rejected.
type ValidationError struct {
	Field string
	Value string
}

func (e *ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("invalid %s %q: must be a positive number", e.Field, e.Value)
	}
	return fmt.Sprintf("invalid %s: must be a positive number", e.Field)
}

// Measurement is a validated weight/height pair.
type Measurement struct {
	WeightKg float64 `json:"weightKg"`
	HeightCm float64 `json:"heightCm"`
}

// BMIResult is the outcome of a single BMI computation.
type BMIResult struct {
	Value    float64  `json:"value"`
	Category Category `json:"category"`
	Tag      Tag      `json:"tag"`
}

// BMIReading is a recorded BMI calculation.
type BMIReading struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	WeightKg  float64   `json:"weightKg"`
	HeightCm  float64   `json:"heightCm"`
	Value     float64   `json:"value"`
	Category  Category  `json:"category"`
	CreatedAt time.Time `json:"createdAt"`
}

// BMIRepository is the port for BMI history persistence.
type BMIRepository interface {
	AddBMIReading(ctx context.Context, r BMIReading) (int64, error)
	DeleteLatestBMIReading(ctx context.Context, userID int64) (bool, error)
	ListRecentBMIReadings(ctx context.Context, userID int64, limit int) ([]BMIReading, error)
	LatestBMIForLocalDay(ctx context.Context, userID int64, localDay string) (*BMIReading, error)
}

// ParseMeasurement normalizes locale-formatted inputs ("65,5" or "65.5")
// and validates them. Weight is checked before height.
func ParseMeasurement(weightRaw, heightRaw string) (Measurement, error) {
	w, ok := parseDecimal(weightRaw)
	if !ok || !positive(w) {
		return Measurement{}, &ValidationError{Field: "weight", Value: weightRaw}
	}
	h, ok := parseDecimal(heightRaw)
	if !ok || !positive(h) {
		return Measurement{}, &ValidationError{Field: "height", Value: heightRaw}
	}
	return Measurement{WeightKg: w, HeightCm: h}, nil
}

func parseDecimal(raw string) (float64, bool) {
	s := strings.ReplaceAll(strings.TrimSpace(raw), ",", ".")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func positive(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

// ComputeBMI returns the rounded BMI and its classification. The category
// is derived from the unrounded value.
func ComputeBMI(m Measurement) (BMIResult, error) {
	if !positive(m.WeightKg) {
		return BMIResult{}, &ValidationError{Field: "weight"}
	}
	if !positive(m.HeightCm) {
		return BMIResult{}, &ValidationError{Field: "height"}
	}

	heightM := m.HeightCm / 100
	bmi := m.WeightKg / (heightM * heightM)
	cat, tag := ClassifyBMI(bmi)
	return BMIResult{Value: roundTenths(bmi), Category: cat, Tag: tag}, nil
}

// ComputeBMIFromStrings parses raw form input and computes the BMI.
func ComputeBMIFromStrings(weightRaw, heightRaw string) (BMIResult, error) {
	m, err := ParseMeasurement(weightRaw, heightRaw)
	if err != nil {
		return BMIResult{}, err
	}
	return ComputeBMI(m)
}

// ClassifyBMI maps a BMI value onto its category and tag.
func ClassifyBMI(bmi float64) (Category, Tag) {
	var c Category
	switch {
	case bmi < underweightBelow:
		c = Underweight
	case bmi < normalBelow:
		c = Normal
	case bmi < overweightBelow:
		c = Overweight
	default:
		c = Obese
	}
	return c, c.Tag()
}

// roundTenths rounds half-up at the tenths digit.
func roundTenths(v float64) float64 {
	return math.Floor(v*10+0.5) / 10
}

// WeightToKg converts a weight in "kg" or "lb" to kilograms.
// Returns v unchanged for unrecognised units.
func WeightToKg(v float64, unit string) float64 {
	if unit == "lb" {
		return v * kgPerLb
	}
	return v
}
