package application

import (
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/stat"
)

// recencyDecay is the weight ratio between consecutive weeks, newest = 1.
const recencyDecay = 0.9

// WeightedForecaster fits a least-squares line that favours recent weeks.
// Residual spread is the unweighted sample deviation so confidence bands stay
// comparable with LinearForecaster.
type WeightedForecaster struct{}

func (WeightedForecaster) Name() string        { return ForecasterWeighted }
func (WeightedForecaster) GeneratedBy() string { return "weighted-linear-v1.0" }

// Fit runs gonum's weighted linear regression over x = 0..n-1.
func (WeightedForecaster) Fit(ys []float64) (LinearFit, error) {
	n := len(ys)
	if n < 2 {
		return LinearFit{}, ErrTooFewPoints
	}

	xs := make([]float64, n)
	weights := make([]float64, n)
	for i := range ys {
		xs[i] = float64(i)
		weights[i] = math.Pow(recencyDecay, float64(n-1-i))
	}

	alpha, beta := stat.LinearRegression(xs, ys, weights, false)
	if math.IsNaN(alpha) || math.IsNaN(beta) || math.IsInf(alpha, 0) || math.IsInf(beta, 0) {
		return LinearFit{}, fmt.Errorf("weighted regression did not converge")
	}

	residuals := make([]float64, n)
	for i, y := range ys {
		residuals[i] = y - (alpha + beta*xs[i])
	}

	return LinearFit{
		Slope:      beta,
		Intercept:  alpha,
		ResidualSE: stat.StdDev(residuals, nil),
	}, nil
}

// NewForecaster returns the forecaster named by kind. "auto" and "weighted"
// probe the weighted backend with a known series and fall back to the linear
// forecaster when the probe fails.
func NewForecaster(kind string) (Forecaster, error) {
	switch kind {
	case "", ForecasterLinear:
		return LinearForecaster{}, nil
	case ForecasterWeighted, ForecasterAuto:
		if err := probe(WeightedForecaster{}); err != nil {
			slog.Warn("weighted forecaster unavailable, using linear", "error", err)
			return LinearForecaster{}, nil
		}
		return WeightedForecaster{}, nil
	default:
		return nil, fmt.Errorf("unknown forecaster %q", kind)
	}
}

// probe fits y = 2x + 1 and checks the coefficients are recovered.
func probe(f Forecaster) error {
	ys := []float64{1, 3, 5, 7, 9}
	fit, err := f.Fit(ys)
	if err != nil {
		return err
	}
	if math.Abs(fit.Slope-2) > 1e-9 || math.Abs(fit.Intercept-1) > 1e-9 {
		return fmt.Errorf("probe fit mismatch: slope %.4f intercept %.4f", fit.Slope, fit.Intercept)
	}
	return nil
}
