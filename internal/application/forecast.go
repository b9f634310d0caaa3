package application

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/ericfisherdev/prinsights/internal/domain/model"
)

// Data-quality thresholds, counted in distinct weeks with data.
const (
	minWeeksRequired       = 4
	lowConfidenceThreshold = 8
	outlierStdThreshold    = 3.0

	horizonWeeks            = 4
	lowConfidenceHorizon    = 2
	normalMultiplier        = 1.96
	lowConfidenceMultiplier = 2.58
)

// Forecaster identifiers.
const (
	ForecasterLinear   = "linear"
	ForecasterWeighted = "weighted"
	ForecasterAuto     = "auto"
)

// LinearFit is a fitted trend line over week indexes 0..n-1.
type LinearFit struct {
	Slope      float64
	Intercept  float64
	ResidualSE float64
}

// Forecaster fits a trend line to a cleaned weekly series. Implementations
// differ only in the fit; projection and output shape are shared.
type Forecaster interface {
	Name() string
	GeneratedBy() string
	Fit(ys []float64) (LinearFit, error)
}

// ErrTooFewPoints is returned by Fit when the series is too short.
var ErrTooFewPoints = errors.New("too few points to fit")

// qualityGate is the data-quality classification of a weekly history.
type qualityGate struct {
	Status     model.DataQuality
	Horizon    int
	Multiplier float64
}

func (g qualityGate) String() string {
	return fmt.Sprintf("%s (horizon %d, multiplier %.2f)", g.Status, g.Horizon, g.Multiplier)
}

// assessDataQuality classifies a history by its number of distinct weeks.
func assessDataQuality(weeks int) qualityGate {
	switch {
	case weeks < minWeeksRequired:
		return qualityGate{Status: model.DataQualityInsufficient}
	case weeks < lowConfidenceThreshold:
		return qualityGate{
			Status:     model.DataQualityLowConfidence,
			Horizon:    min(horizonWeeks, lowConfidenceHorizon),
			Multiplier: lowConfidenceMultiplier,
		}
	default:
		return qualityGate{
			Status:     model.DataQualityNormal,
			Horizon:    horizonWeeks,
			Multiplier: normalMultiplier,
		}
	}
}

// clipOutliers clamps values to mean ± k population standard deviations.
// NaN values are left in place. Series with fewer than two values or zero
// spread are returned unchanged.
func clipOutliers(values []float64, k float64) []float64 {
	out := append([]float64(nil), values...)
	if len(values) < 2 {
		return out
	}

	mean, std, n := meanStd(values)
	if n == 0 || std == 0 {
		return out
	}

	lower, upper := mean-k*std, mean+k*std
	for i, v := range out {
		if math.IsNaN(v) {
			continue
		}
		out[i] = math.Min(math.Max(v, lower), upper)
	}
	return out
}

func dropNaN(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

type metricDef struct {
	name   string
	unit   string
	values func(model.WeeklyMetric) float64
}

var forecastMetrics = []metricDef{
	{name: "pr_throughput", unit: "count", values: func(w model.WeeklyMetric) float64 {
		return float64(w.PRCount)
	}},
	{name: "cycle_time_minutes", unit: "minutes", values: func(w model.WeeklyMetric) float64 {
		if w.CycleTimeP50 == nil {
			return math.NaN()
		}
		return *w.CycleTimeP50
	}},
}

// ForecastEngine turns a weekly history into a predictions document.
type ForecastEngine struct {
	forecaster Forecaster
	now        func() time.Time
}

// NewForecastEngine creates a ForecastEngine. now supplies both "today" for
// period alignment and the generated_at stamp.
func NewForecastEngine(f Forecaster, now func() time.Time) *ForecastEngine {
	if now == nil {
		now = time.Now
	}
	return &ForecastEngine{forecaster: f, now: now}
}

// Predict builds the predictions document. Weeks must be in chronological
// order. A metric that cannot be fitted is omitted.
func (e *ForecastEngine) Predict(weeks []model.WeeklyMetric) model.Predictions {
	now := e.now()
	gate := assessDataQuality(len(weeks))

	out := model.Predictions{
		SchemaVersion: model.PredictionsSchemaVersion,
		GeneratedAt:   now.UTC().Format(time.RFC3339),
		IsStub:        false,
		GeneratedBy:   e.forecaster.GeneratedBy(),
		Forecaster:    e.forecaster.Name(),
		DataQuality:   gate.Status,
		Forecasts:     []model.Forecast{},
	}

	if gate.Status == model.DataQualityInsufficient {
		slog.Info("insufficient data for predictions", "weeks", len(weeks), "required", minWeeksRequired)
		return out
	}

	start := nextMonday(now)
	for _, m := range forecastMetrics {
		series := make([]float64, len(weeks))
		for i, w := range weeks {
			series[i] = m.values(w)
		}

		fc, err := e.forecastMetric(m, series, gate, start)
		if err != nil {
			slog.Warn("metric forecast skipped", "metric", m.name, "error", err)
			continue
		}
		out.Forecasts = append(out.Forecasts, fc)
	}

	slog.Info("forecast computed",
		"forecaster", out.Forecaster, "data_quality", gate.Status, "metrics", len(out.Forecasts))
	return out
}

func (e *ForecastEngine) forecastMetric(m metricDef, series []float64, gate qualityGate, start time.Time) (model.Forecast, error) {
	ys := dropNaN(clipOutliers(series, outlierStdThreshold))
	if len(ys) < minWeeksRequired {
		return model.Forecast{}, fmt.Errorf("%w: need %d weeks, have %d", ErrTooFewPoints, minWeeksRequired, len(ys))
	}

	fit, err := e.forecaster.Fit(ys)
	if err != nil {
		return model.Forecast{}, err
	}

	return model.Forecast{
		Metric:       m.name,
		Unit:         m.unit,
		HorizonWeeks: gate.Horizon,
		Values:       project(fit, len(ys), gate, start),
	}, nil
}

// project extends the fit forward one point per horizon week. Bounds satisfy
// 0 <= lower <= predicted <= upper after rounding.
func project(fit LinearFit, n int, gate qualityGate, start time.Time) []model.ForecastValue {
	margin := gate.Multiplier * fit.ResidualSE
	values := make([]model.ForecastValue, 0, gate.Horizon)

	for i := range gate.Horizon {
		x := float64(n + i)
		predicted := fit.Slope*x + fit.Intercept

		v := model.ForecastValue{
			PeriodStart: start.AddDate(0, 0, 7*i).Format(time.DateOnly),
			Predicted:   round2(math.Max(0, predicted)),
			LowerBound:  round2(math.Max(0, predicted-margin)),
			UpperBound:  round2(predicted + margin),
		}
		if v.UpperBound < v.Predicted {
			v.UpperBound = v.Predicted
		}
		values = append(values, v)
	}

	return values
}

// LinearForecaster fits an ordinary least-squares line. It has no
// dependencies and is always available.
type LinearForecaster struct{}

func (LinearForecaster) Name() string        { return ForecasterLinear }
func (LinearForecaster) GeneratedBy() string { return "linear-v1.0" }

// Fit computes slope and intercept over x = 0..n-1 and the sample standard
// deviation of the residuals.
func (LinearForecaster) Fit(ys []float64) (LinearFit, error) {
	n := len(ys)
	if n < 2 {
		return LinearFit{}, ErrTooFewPoints
	}

	var sumX, sumY float64
	for i, y := range ys {
		sumX += float64(i)
		sumY += y
	}
	meanX, meanY := sumX/float64(n), sumY/float64(n)

	var sxy, sxx float64
	for i, y := range ys {
		dx := float64(i) - meanX
		sxy += dx * (y - meanY)
		sxx += dx * dx
	}

	fit := LinearFit{Slope: sxy / sxx}
	fit.Intercept = meanY - fit.Slope*meanX

	residuals := make([]float64, n)
	for i, y := range ys {
		residuals[i] = y - (fit.Slope*float64(i) + fit.Intercept)
	}
	fit.ResidualSE = sampleStd(residuals)

	return fit, nil
}

func sampleStd(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return math.Sqrt(sq / float64(len(values)-1))
}
