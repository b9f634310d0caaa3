package model

import "time"

// PredictionsSchemaVersion is the schema version of predictions/trends.json.
const PredictionsSchemaVersion = 1

// ForecastValue is one projected week.
type ForecastValue struct {
	PeriodStart string  `json:"period_start"`
	Predicted   float64 `json:"predicted"`
	LowerBound  float64 `json:"lower_bound"`
	UpperBound  float64 `json:"upper_bound"`
}

// Forecast holds the projection of a single metric.
type Forecast struct {
	Metric       string          `json:"metric"`
	Unit         string          `json:"unit"`
	HorizonWeeks int             `json:"horizon_weeks"`
	Values       []ForecastValue `json:"values"`
}

// Predictions is the document written to predictions/trends.json.
type Predictions struct {
	SchemaVersion int         `json:"schema_version"`
	GeneratedAt   string      `json:"generated_at"`
	IsStub        bool        `json:"is_stub"`
	GeneratedBy   string      `json:"generated_by"`
	Forecaster    string      `json:"forecaster"`
	DataQuality   DataQuality `json:"data_quality"`
	Forecasts     []Forecast  `json:"forecasts"`
}

// WeeklyMetric is one historical point fed to a forecaster. CycleTimeP50 is
// nil for weeks without cycle-time data.
type WeeklyMetric struct {
	WeekStart    time.Time
	PRCount      int
	CycleTimeP50 *float64
}
