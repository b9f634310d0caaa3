package model

import (
	"fmt"
	"strings"
)

// PRStatus represents the lifecycle state of a pull request.
type PRStatus string

const (
	PRStatusOpen      PRStatus = "open"
	PRStatusCompleted PRStatus = "completed"
	PRStatusAbandoned PRStatus = "abandoned"
)

// IsTerminal reports whether the status is final (completed or abandoned).
func (s PRStatus) IsTerminal() bool {
	return s == PRStatusCompleted || s == PRStatusAbandoned
}

// ParsePRStatus maps a remote status string onto a PRStatus. Both the Azure
// DevOps vocabulary ("active") and the canonical names are accepted.
func ParsePRStatus(raw string) (PRStatus, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "active", "open":
		return PRStatusOpen, nil
	case "completed", "merged":
		return PRStatusCompleted, nil
	case "abandoned", "closed":
		return PRStatusAbandoned, nil
	default:
		return "", fmt.Errorf("unknown pull request status %q", raw)
	}
}

// DataQuality classifies how reliable a forecast is, based on the number of
// historical weeks available.
type DataQuality string

const (
	DataQualityInsufficient  DataQuality = "insufficient"
	DataQualityLowConfidence DataQuality = "low_confidence"
	DataQualityNormal        DataQuality = "normal"
)

// InsightCategory is the kind of narrative insight.
type InsightCategory string

const (
	InsightCategoryBottleneck InsightCategory = "bottleneck"
	InsightCategoryTrend      InsightCategory = "trend"
	InsightCategoryAnomaly    InsightCategory = "anomaly"
)

// Valid reports whether c is one of the known categories.
func (c InsightCategory) Valid() bool {
	switch c {
	case InsightCategoryBottleneck, InsightCategoryTrend, InsightCategoryAnomaly:
		return true
	}
	return false
}

// InsightSeverity is the urgency attached to an insight.
type InsightSeverity string

const (
	InsightSeverityInfo     InsightSeverity = "info"
	InsightSeverityWarning  InsightSeverity = "warning"
	InsightSeverityCritical InsightSeverity = "critical"
)

// Valid reports whether s is one of the known severities.
func (s InsightSeverity) Valid() bool {
	switch s {
	case InsightSeverityInfo, InsightSeverityWarning, InsightSeverityCritical:
		return true
	}
	return false
}

// ProjectStatus is the outcome of one project's extraction.
type ProjectStatus string

const (
	ProjectStatusSuccess ProjectStatus = "success"
	ProjectStatusFailed  ProjectStatus = "failed"
)

// RunStatus is the final status recorded in a run summary.
type RunStatus string

const (
	RunStatusSuccess   RunStatus = "success"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)
