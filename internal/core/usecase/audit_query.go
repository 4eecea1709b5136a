package usecase

import (
	"slices"
	"sort"

	"github.com/atvirokodosprendimai/chainaudit/internal/core/domain"
)

const (
	highErrorRate     = 0.10
	highVolumeEvents  = 1000
	topCorrelationCap = 10
)

// QueryAuditTrail filters by type set, time window and field equality, then
// applies offset and limit in that order. A zero limit means no limit.
func (s *EventStore) QueryAuditTrail(q domain.AuditQuery) ([]domain.AuditEvent, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	matched := make([]domain.AuditEvent, 0)
	for _, event := range s.AllEvents() {
		if len(q.Types) > 0 && !slices.Contains(q.Types, event.Type) {
			continue
		}
		if !domain.InRange(event.CreatedAt, q.StartTime, q.EndTime) {
			continue
		}
		if !matchesAll(event, q.Filters) {
			continue
		}
		matched = append(matched, event)
	}

	if q.Offset >= len(matched) {
		return []domain.AuditEvent{}, nil
	}
	matched = matched[q.Offset:]
	if q.Limit > 0 && q.Limit < len(matched) {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

func matchesAll(event domain.AuditEvent, filters map[string]any) bool {
	for path, want := range filters {
		if !event.MatchesFilter(path, want) {
			return false
		}
	}
	return true
}

func (s *EventStore) ExportAuditTrail(opts domain.ExportOptions) (domain.AuditExport, error) {
	events, err := s.QueryAuditTrail(domain.AuditQuery{Types: opts.Types, StartTime: opts.StartTime, EndTime: opts.EndTime})
	if err != nil {
		return domain.AuditExport{}, err
	}
	summary := domain.ExportSummary{ByType: map[string]int{}, BySeverity: map[string]int{}}
	for _, event := range events {
		summary.ByType[string(event.Type)]++
		summary.BySeverity[event.Severity.String()]++
	}
	return domain.AuditExport{
		ExportedAt:  s.clock(),
		TotalEvents: len(events),
		Summary:     &summary,
		Events:      events,
	}, nil
}

// GenerateAuditReport summarises a time window. Success is the LOW share of
// events; errors are the HIGH and CRITICAL share.
func (s *EventStore) GenerateAuditReport(opts domain.ReportOptions) (domain.AuditReport, error) {
	events, err := s.QueryAuditTrail(domain.AuditQuery{StartTime: opts.StartTime, EndTime: opts.EndTime})
	if err != nil {
		return domain.AuditReport{}, err
	}

	report := domain.AuditReport{
		GeneratedAt:      s.clock(),
		StartTime:        opts.StartTime,
		EndTime:          opts.EndTime,
		TotalEvents:      len(events),
		EventsByType:     map[string]int{},
		EventsBySeverity: map[string]int{},
		TopCorrelations:  []domain.CorrelationCount{},
		Recommendations:  []string{},
	}

	perCorrelation := map[string]int{}
	low, errs := 0, 0
	for _, event := range events {
		report.EventsByType[string(event.Type)]++
		report.EventsBySeverity[event.Severity.String()]++
		perCorrelation[event.Context.CorrelationID]++
		switch event.Severity {
		case domain.SeverityLow:
			low++
		case domain.SeverityHigh, domain.SeverityCritical:
			errs++
		}
	}

	if len(events) > 0 {
		report.SuccessRate = float64(low) / float64(len(events))
		report.ErrorRate = float64(errs) / float64(len(events))
	}
	report.TopCorrelations = topCorrelations(perCorrelation, topCorrelationCap)
	report.Recommendations = recommendations(report)
	return report, nil
}

func recommendations(report domain.AuditReport) []string {
	out := []string{}
	if report.TotalEvents == 0 {
		out = append(out, domain.RecommendationNoEvents)
	}
	if report.ErrorRate > highErrorRate {
		out = append(out, domain.RecommendationHighErrors)
	}
	if report.TotalEvents > highVolumeEvents {
		out = append(out, domain.RecommendationHighVolume)
	}
	return out
}

func topCorrelations(counts map[string]int, limit int) []domain.CorrelationCount {
	out := make([]domain.CorrelationCount, 0, len(counts))
	for id, n := range counts {
		out = append(out, domain.CorrelationCount{CorrelationID: id, Events: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Events != out[j].Events {
			return out[i].Events > out[j].Events
		}
		return out[i].CorrelationID < out[j].CorrelationID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
