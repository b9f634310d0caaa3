package application

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/ericfisherdev/prinsights/internal/domain/model"
	"github.com/ericfisherdev/prinsights/internal/domain/port/driven"
)

// StubSettings control synthetic predictions and insights. Allowed mirrors
// the ALLOW_ML_STUBS=1 environment guard.
type StubSettings struct {
	Enabled  bool
	Allowed  bool
	SeedBase string
}

// StubGenerator produces deterministic placeholder artifacts flagged
// is_stub=true. The same seed base always yields the same values.
type StubGenerator struct {
	seed [32]byte
	base string
	now  func() time.Time
}

// NewStubGenerator refuses to build a generator unless stubs are explicitly
// allowed.
func NewStubGenerator(settings StubSettings, now func() time.Time) (*StubGenerator, error) {
	if !settings.Allowed {
		return nil, fmt.Errorf("%w: stub generation requires ALLOW_ML_STUBS=1", driven.ErrStubGeneration)
	}
	if now == nil {
		now = time.Now
	}
	return &StubGenerator{
		seed: sha256.Sum256([]byte("prinsights-stubs|" + settings.SeedBase)),
		base: settings.SeedBase,
		now:  now,
	}, nil
}

func (g *StubGenerator) rng(stream string) *rand.Rand {
	h := sha256.Sum256(append(g.seed[:], stream...))
	return rand.New(rand.NewPCG(binary.BigEndian.Uint64(h[:8]), binary.BigEndian.Uint64(h[8:16])))
}

// Predictions returns a stub predictions document with both metrics.
func (g *StubGenerator) Predictions() model.Predictions {
	now := g.now()
	start := nextMonday(now)

	out := model.Predictions{
		SchemaVersion: model.PredictionsSchemaVersion,
		GeneratedAt:   now.UTC().Format(time.RFC3339),
		IsStub:        true,
		GeneratedBy:   "stub-v1.0",
		Forecaster:    "stub",
		DataQuality:   model.DataQualityNormal,
		Forecasts:     []model.Forecast{},
	}

	for _, m := range []struct {
		name, unit string
		lo, hi     float64
	}{
		{"pr_throughput", "count", 5, 25},
		{"cycle_time_minutes", "minutes", 120, 2880},
	} {
		r := g.rng(m.name)
		fc := model.Forecast{Metric: m.name, Unit: m.unit, HorizonWeeks: horizonWeeks}
		for i := range horizonWeeks {
			p := round2(m.lo + r.Float64()*(m.hi-m.lo))
			fc.Values = append(fc.Values, model.ForecastValue{
				PeriodStart: start.AddDate(0, 0, 7*i).Format(time.DateOnly),
				Predicted:   p,
				LowerBound:  round2(p * 0.8),
				UpperBound:  round2(p * 1.2),
			})
		}
		out.Forecasts = append(out.Forecasts, fc)
	}

	return out
}

// Insights returns one stub insight per category.
func (g *StubGenerator) Insights() model.InsightsSummary {
	out := model.InsightsSummary{
		SchemaVersion: model.InsightsSchemaVersion,
		GeneratedAt:   g.now().UTC().Format(time.RFC3339),
		IsStub:        true,
		GeneratedBy:   "stub-v1.0",
		Insights:      []model.Insight{},
	}

	severities := []model.InsightSeverity{model.InsightSeverityInfo, model.InsightSeverityWarning, model.InsightSeverityCritical}
	categories := []model.InsightCategory{model.InsightCategoryBottleneck, model.InsightCategoryTrend, model.InsightCategoryAnomaly}
	for _, cat := range categories {
		r := g.rng(string(cat))
		sum := sha256.Sum256([]byte(g.base + "|" + string(cat)))
		out.Insights = append(out.Insights, model.Insight{
			ID:               string(cat) + "-" + hex.EncodeToString(sum[:])[:12],
			Category:         cat,
			Severity:         severities[r.IntN(len(severities))],
			Title:            fmt.Sprintf("Stub %s insight", cat),
			Description:      "Synthetic insight generated for UI development. Not derived from data.",
			AffectedEntities: []string{},
		})
	}

	return out
}
