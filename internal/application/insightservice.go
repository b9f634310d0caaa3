package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/ericfisherdev/prinsights/internal/domain/model"
	"github.com/ericfisherdev/prinsights/internal/domain/port/driven"
)

const (
	insightsGeneratedBy = "openai-v1.0"
	insightSystemPrompt = "You are a DevOps metrics analyst. Respond only with valid JSON."
)

// InsightSettings version and bound the insight generation. PromptVersion is
// part of every cache key and insight ID; changing it invalidates both.
type InsightSettings struct {
	PromptVersion string
	Model         string
	MaxTokens     int
	CacheTTL      time.Duration
	DryRun        bool
}

// InsightService wraps the external insight generator with a deterministic
// cache and stable insight IDs.
type InsightService struct {
	reader    driven.AnalyticsReader
	generator driven.InsightGenerator
	artifacts driven.ArtifactStore
	settings  InsightSettings
	sanitizer *bluemonday.Policy
	now       func() time.Time
}

// InsightOption customises an InsightService.
type InsightOption func(*InsightService)

// WithInsightClock overrides the clock used for cache age and timestamps.
func WithInsightClock(now func() time.Time) InsightOption {
	return func(s *InsightService) { s.now = now }
}

// NewInsightService creates a new InsightService. generator may be nil in
// dry-run mode.
func NewInsightService(
	reader driven.AnalyticsReader,
	generator driven.InsightGenerator,
	artifacts driven.ArtifactStore,
	settings InsightSettings,
	opts ...InsightOption,
) *InsightService {
	if settings.Model == "" && generator != nil {
		settings.Model = generator.Model()
	}
	s := &InsightService{
		reader:    reader,
		generator: generator,
		artifacts: artifacts,
		settings:  settings,
		sanitizer: bluemonday.StrictPolicy(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generate writes insights/summary.json from the cache or the generator and
// reports whether it did. A dry run only writes insights/prompt.json.
func (s *InsightService) Generate(ctx context.Context) (bool, error) {
	stats, err := s.reader.PRStats(ctx)
	if err != nil {
		return false, fmt.Errorf("read PR stats: %w", err)
	}

	prompt := buildInsightPrompt(stats)

	if s.settings.DryRun {
		artifact := model.PromptArtifact{
			Model:       s.settings.Model,
			MaxTokens:   s.settings.MaxTokens,
			Prompt:      prompt,
			GeneratedAt: s.now().UTC().Format(time.RFC3339),
		}
		if err := s.artifacts.WriteJSON(insightsPromptFile, artifact); err != nil {
			return false, fmt.Errorf("write prompt artifact: %w", err)
		}
		slog.Info("dry run: wrote prompt artifact, generator not called", "path", insightsPromptFile)
		return false, nil
	}

	if s.generator == nil {
		return false, errors.New("no insight generator configured")
	}

	markers, err := s.reader.FreshnessMarkers(ctx)
	if err != nil {
		return false, fmt.Errorf("read freshness markers: %w", err)
	}

	key, err := CacheKey(s.settings.PromptVersion, s.settings.Model, markers, stats)
	if err != nil {
		return false, err
	}

	if cached := s.lookupCache(key); cached != nil {
		if err := s.artifacts.WriteJSON(insightsSummary, cached); err != nil {
			return false, fmt.Errorf("write insights summary: %w", err)
		}
		slog.Info("insights served from cache", "insights", len(cached.Insights))
		return true, nil
	}

	raw, err := s.generator.Generate(ctx, driven.InsightPrompt{
		System:    insightSystemPrompt,
		User:      prompt,
		MaxTokens: s.settings.MaxTokens,
	})
	if err != nil {
		return false, fmt.Errorf("generate insights: %w", err)
	}

	insights, err := s.parseInsights(raw, markers)
	if err != nil {
		return false, err
	}

	now := s.now().UTC()
	summary := &model.InsightsSummary{
		SchemaVersion: model.InsightsSchemaVersion,
		GeneratedAt:   now.Format(time.RFC3339),
		IsStub:        false,
		GeneratedBy:   insightsGeneratedBy,
		Insights:      insights,
	}

	if err := s.artifacts.WriteJSON(insightsSummary, summary); err != nil {
		return false, fmt.Errorf("write insights summary: %w", err)
	}

	entry := model.InsightCacheEntry{
		CacheKey:     key,
		CachedAt:     now.Format(time.RFC3339),
		InsightsData: summary,
	}
	if err := s.artifacts.WriteJSON(insightsCacheFile, entry); err != nil {
		slog.Warn("failed to write insight cache", "error", err)
	}

	slog.Info("insights generated", "insights", len(insights), "model", s.settings.Model)
	return true, nil
}

// lookupCache returns the cached summary when the stored key matches and the
// entry is within its TTL.
func (s *InsightService) lookupCache(key string) *model.InsightsSummary {
	var entry model.InsightCacheEntry
	ok, err := s.artifacts.ReadJSON(insightsCacheFile, &entry)
	if err != nil {
		slog.Debug("insight cache unreadable", "error", err)
		return nil
	}
	if !ok {
		return nil
	}

	if entry.CacheKey != key {
		slog.Debug("insight cache miss: key mismatch")
		return nil
	}

	cachedAt, err := time.Parse(time.RFC3339, entry.CachedAt)
	if err != nil {
		slog.Debug("insight cache miss: bad timestamp", "cached_at", entry.CachedAt)
		return nil
	}

	age := s.now().Sub(cachedAt)
	if age > s.settings.CacheTTL {
		slog.Debug("insight cache expired", "age", age.Round(time.Minute), "ttl", s.settings.CacheTTL)
		return nil
	}

	return entry.InsightsData
}

// CacheKey derives the insight cache key from the prompt version, model,
// dataset freshness markers and a hash of the canonical prompt inputs.
func CacheKey(promptVersion, modelID string, markers model.FreshnessMarkers, stats model.PRStats) (string, error) {
	canonical, err := canonicalJSON(map[string]any{
		"prompt_version": promptVersion,
		"stats":          stats,
	})
	if err != nil {
		return "", fmt.Errorf("canonicalize prompt inputs: %w", err)
	}

	parts := []string{
		promptVersion,
		modelID,
		markers.MaxClosed,
		markers.MaxUpdated,
		sha256Hex(string(canonical)),
	}
	return sha256Hex(strings.Join(parts, "|")), nil
}

// InsightID derives the public ID of the insight at index idx of the
// generator's response.
func InsightID(category model.InsightCategory, markers model.FreshnessMarkers, promptVersion string, idx int) string {
	input := fmt.Sprintf("%s|%s|%s|%s|%d", category, markers.MaxClosed, markers.MaxUpdated, promptVersion, idx)
	return string(category) + "-" + sha256Hex(input)[:12]
}

type insightResponse struct {
	Insights *[]json.RawMessage `json:"insights"`
}

type insightRecord struct {
	Category         string   `json:"category"`
	Severity         string   `json:"severity"`
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	AffectedEntities []string `json:"affected_entities"`
}

// parseInsights validates the generator's response into typed insights.
// Malformed entries are dropped; IDs are always derived locally.
func (s *InsightService) parseInsights(raw string, markers model.FreshnessMarkers) ([]model.Insight, error) {
	var resp insightResponse
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &resp); err != nil {
		return nil, fmt.Errorf("parse insight response: %w", err)
	}
	if resp.Insights == nil {
		return nil, errors.New("insight response has no insights array")
	}

	out := []model.Insight{}
	for idx, item := range *resp.Insights {
		var rec insightRecord
		if err := json.Unmarshal(item, &rec); err != nil {
			slog.Warn("dropping malformed insight", "index", idx, "error", err)
			continue
		}

		category := model.InsightCategory(strings.TrimSpace(rec.Category))
		severity := model.InsightSeverity(strings.TrimSpace(rec.Severity))
		if !category.Valid() || !severity.Valid() {
			slog.Warn("dropping insight with unknown category or severity",
				"index", idx, "category", rec.Category, "severity", rec.Severity)
			continue
		}

		title := s.cleanText(rec.Title)
		description := s.cleanText(rec.Description)
		if title == "" || description == "" {
			slog.Warn("dropping insight missing title or description", "index", idx)
			continue
		}

		entities := make([]string, 0, len(rec.AffectedEntities))
		for _, e := range rec.AffectedEntities {
			if clean := s.cleanText(e); clean != "" {
				entities = append(entities, clean)
			}
		}

		out = append(out, model.Insight{
			ID:               InsightID(category, markers, s.settings.PromptVersion, idx),
			Category:         category,
			Severity:         severity,
			Title:            title,
			Description:      description,
			AffectedEntities: entities,
		})
	}

	return out, nil
}

// cleanText strips all markup from model text. Entities produced by the
// sanitizer are decoded again so plain punctuation survives.
func (s *InsightService) cleanText(text string) string {
	return strings.TrimSpace(html.UnescapeString(s.sanitizer.Sanitize(text)))
}

// stripCodeFence removes a surrounding ``` or ```json fence.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

func buildInsightPrompt(stats model.PRStats) string {
	var b strings.Builder
	b.WriteString("You are a DevOps metrics analyst. Analyze the following pull request metrics and provide up to 3 actionable insights.\n\n")
	b.WriteString("**Metrics Summary:**\n")
	fmt.Fprintf(&b, "- Total PRs: %d\n", stats.TotalPRs)
	fmt.Fprintf(&b, "- Date range: %s to %s\n", stats.DateRangeStart, stats.DateRangeEnd)
	fmt.Fprintf(&b, "- Average cycle time: %.1f minutes\n", stats.AvgCycleTimeMinutes)
	fmt.Fprintf(&b, "- P90 cycle time: %.1f minutes\n", stats.P90CycleTimeMinutes)
	fmt.Fprintf(&b, "- Authors: %d\n", stats.AuthorsCount)
	fmt.Fprintf(&b, "- Repositories: %d\n\n", stats.RepositoriesCount)
	b.WriteString(`**Instructions:**
- Provide up to 3 insights, one per category: "bottleneck", "trend", "anomaly"
- For each insight, identify severity: "info", "warning", or "critical"
- Focus on actual patterns, NOT recommendations
- Use descriptive language only - no action items

**Required JSON format:**
{
  "insights": [
    {
      "category": "bottleneck | trend | anomaly",
      "severity": "info | warning | critical",
      "title": "Short summary",
      "description": "Detailed description of the pattern observed",
      "affected_entities": ["entity:name", ...]
    }
  ]
}

Respond ONLY with valid JSON matching this format.`)
	return b.String()
}
