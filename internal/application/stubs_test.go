package application_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/prinsights/internal/application"
	"github.com/ericfisherdev/prinsights/internal/domain/port/driven"
)

func TestNewStubGenerator_RequiresAllowed(t *testing.T) {
	_, err := application.NewStubGenerator(application.StubSettings{Enabled: true}, nil)
	require.ErrorIs(t, err, driven.ErrStubGeneration)
}

func TestStubGenerator_Deterministic(t *testing.T) {
	settings := application.StubSettings{Enabled: true, Allowed: true, SeedBase: "contoso/platform"}
	clock := clockAt("2026-01-21T08:00:00Z")

	a, err := application.NewStubGenerator(settings, clock)
	require.NoError(t, err)
	b, err := application.NewStubGenerator(settings, clock)
	require.NoError(t, err)

	assert.Equal(t, a.Predictions(), b.Predictions())
	assert.Equal(t, a.Insights(), b.Insights())

	settings.SeedBase = "contoso/other"
	c, err := application.NewStubGenerator(settings, clock)
	require.NoError(t, err)
	assert.NotEqual(t, a.Predictions().Forecasts, c.Predictions().Forecasts)
}

func TestStubGenerator_Predictions(t *testing.T) {
	gen, err := application.NewStubGenerator(application.StubSettings{Allowed: true}, clockAt("2026-01-21T08:00:00Z"))
	require.NoError(t, err)

	preds := gen.Predictions()
	assert.True(t, preds.IsStub)
	assert.Equal(t, "stub-v1.0", preds.GeneratedBy)
	require.Len(t, preds.Forecasts, 2)

	for _, fc := range preds.Forecasts {
		require.Len(t, fc.Values, 4)
		assert.Equal(t, "2026-01-26", fc.Values[0].PeriodStart)
		for _, v := range fc.Values {
			assert.LessOrEqual(t, v.LowerBound, v.Predicted)
			assert.GreaterOrEqual(t, v.UpperBound, v.Predicted)
		}
	}
}

func TestStubGenerator_Insights(t *testing.T) {
	gen, err := application.NewStubGenerator(application.StubSettings{Allowed: true, SeedBase: "x"}, nil)
	require.NoError(t, err)

	summary := gen.Insights()
	assert.True(t, summary.IsStub)
	require.Len(t, summary.Insights, 3)
	for _, in := range summary.Insights {
		assert.True(t, in.Category.Valid())
		assert.True(t, in.Severity.Valid())
		assert.NotEmpty(t, in.ID)
	}
}
