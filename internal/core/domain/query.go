package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var pathSegmentPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// AuditQuery selects events by type, time window and field equality, then
// paginates with Offset before Limit. Filter keys are top-level event fields
// or one dotted level below context or data, e.g. "context.source".
type AuditQuery struct {
	Types     []EventType
	StartTime *time.Time
	EndTime   *time.Time
	Filters   map[string]any
	Offset    int
	Limit     int
}

func (q AuditQuery) Validate() error {
	if q.StartTime != nil && q.EndTime != nil && q.StartTime.After(*q.EndTime) {
		return ErrInvalidTimeRange
	}
	if q.Offset < 0 || q.Limit < 0 {
		return fmt.Errorf("%w: negative offset or limit", ErrInvalidFilter)
	}
	for _, t := range q.Types {
		if !t.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidEventType, t)
		}
	}
	for path := range q.Filters {
		segments := SplitPath(path)
		if len(segments) == 0 || len(segments) > 2 {
			return fmt.Errorf("%w: path %q", ErrInvalidFilter, path)
		}
		for _, seg := range segments {
			if !pathSegmentPattern.MatchString(seg) {
				return fmt.Errorf("%w: path %q", ErrInvalidFilter, path)
			}
		}
		if len(segments) == 2 && segments[0] != "context" && segments[0] != "data" {
			return fmt.Errorf("%w: path %q", ErrInvalidFilter, path)
		}
	}
	return nil
}

// SplitPath splits a dotted path, returning nil for empty segments.
func SplitPath(path string) []string {
	if path == "" {
		return nil
	}
	segments := strings.Split(path, ".")
	for _, seg := range segments {
		if seg == "" {
			return nil
		}
	}
	return segments
}

// Field resolves a top-level event field or one dotted level below context
// or a map-shaped data payload.
func (e AuditEvent) Field(path string) (any, bool) {
	segments := SplitPath(path)
	switch len(segments) {
	case 1:
		switch segments[0] {
		case "id":
			return e.ID, true
		case "type":
			return string(e.Type), true
		case "severity":
			return e.Severity.String(), true
		case "message":
			return e.Message, true
		case "created_at":
			return e.CreatedAt, true
		case "data":
			return e.Data, true
		}
	case 2:
		switch segments[0] {
		case "context":
			return e.Context.Field(segments[1])
		case "data":
			m, ok := e.Data.(map[string]any)
			if !ok {
				return nil, false
			}
			v, ok := m[segments[1]]
			return v, ok
		}
	}
	return nil, false
}

// MatchesFilter compares by string form so query-string values match typed
// fields such as severity or numeric payload values.
func (e AuditEvent) MatchesFilter(path string, want any) bool {
	got, ok := e.Field(path)
	if !ok {
		return false
	}
	return fmt.Sprint(got) == fmt.Sprint(want)
}
