package domain

import "time"

type ExportOptions struct {
	StartTime *time.Time
	EndTime   *time.Time
	Types     []EventType
}

type ExportSummary struct {
	ByType     map[string]int `json:"by_type" yaml:"by_type"`
	BySeverity map[string]int `json:"by_severity" yaml:"by_severity"`
}

// AuditExport is the snapshot document written by exports.
type AuditExport struct {
	ExportedAt  time.Time      `json:"exported_at" yaml:"exported_at"`
	TotalEvents int            `json:"total_events" yaml:"total_events"`
	Summary     *ExportSummary `json:"summary,omitempty" yaml:"summary,omitempty"`
	Events      []AuditEvent   `json:"events" yaml:"events"`
}

type ReportOptions struct {
	StartTime *time.Time
	EndTime   *time.Time
}

type CorrelationCount struct {
	CorrelationID string `json:"correlation_id" yaml:"correlation_id"`
	Events        int    `json:"events" yaml:"events"`
}

type AuditReport struct {
	GeneratedAt      time.Time          `json:"generated_at" yaml:"generated_at"`
	StartTime        *time.Time         `json:"start_time,omitempty" yaml:"start_time,omitempty"`
	EndTime          *time.Time         `json:"end_time,omitempty" yaml:"end_time,omitempty"`
	TotalEvents      int                `json:"total_events" yaml:"total_events"`
	EventsByType     map[string]int     `json:"events_by_type" yaml:"events_by_type"`
	EventsBySeverity map[string]int     `json:"events_by_severity" yaml:"events_by_severity"`
	SuccessRate      float64            `json:"success_rate" yaml:"success_rate"`
	ErrorRate        float64            `json:"error_rate" yaml:"error_rate"`
	TopCorrelations  []CorrelationCount `json:"top_correlations" yaml:"top_correlations"`
	Recommendations  []string           `json:"recommendations" yaml:"recommendations"`
}

const (
	RecommendationNoEvents   = "No events found in the specified time range"
	RecommendationHighErrors = "High error rate detected; review failing operations"
	RecommendationHighVolume = "High event volume; consider aggregation"
)
