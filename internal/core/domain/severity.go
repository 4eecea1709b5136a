package domain

// Severity lookup tables. Each mapping is total: keys missing from a table
// resolve to the documented default.

var traceCompletionSeverity = map[TraceStatus]Severity{
	TraceCompleted: SeverityLow,
	TraceFailed:    SeverityHigh,
	TraceCancelled: SeverityMedium,
}

// Cancelled traces share the failed event type; the payload status tells them apart.
var traceCompletionEventType = map[TraceStatus]EventType{
	TraceCompleted: EventTransactionCompleted,
	TraceFailed:    EventTransactionFailed,
	TraceCancelled: EventTransactionFailed,
}

var testCompletionSeverity = map[TestStatus]Severity{
	TestPassed:  SeverityLow,
	TestSkipped: SeverityMedium,
	TestFailed:  SeverityHigh,
	TestTimeout: SeverityHigh,
}

var testDecisionSeverity = map[TestDecisionType]Severity{
	TestDecisionContinue: SeverityLow,
	TestDecisionSkip:     SeverityLow,
	TestDecisionRetry:    SeverityMedium,
	TestDecisionModify:   SeverityMedium,
	TestDecisionAbort:    SeverityHigh,
}

var testOutcomeSeverity = map[TestOutcomeKind]Severity{
	OutcomeSuccess:      SeverityLow,
	OutcomePartial:      SeverityMedium,
	OutcomeInconclusive: SeverityMedium,
	OutcomeFailure:      SeverityHigh,
}

var riskSeverity = map[RiskLevel]Severity{
	RiskHigh:   SeverityHigh,
	RiskMedium: SeverityMedium,
}

// Confidence buckets are checked in order; the first upper bound above the
// value wins.
var confidenceBuckets = []struct {
	below    float64
	severity Severity
}{
	{below: 0.5, severity: SeverityHigh},
	{below: 0.8, severity: SeverityMedium},
}

func lookup[K comparable](table map[K]Severity, key K, fallback Severity) Severity {
	if sev, ok := table[key]; ok {
		return sev
	}
	return fallback
}

func TraceCompletionSeverity(status TraceStatus) Severity {
	return lookup(traceCompletionSeverity, status, SeverityMedium)
}

func TraceCompletionEventType(status TraceStatus) EventType {
	if t, ok := traceCompletionEventType[status]; ok {
		return t
	}
	return EventTransactionFailed
}

func StepSeverity(failed bool) Severity {
	if failed {
		return SeverityHigh
	}
	return SeverityLow
}

func TestCompletionSeverity(status TestStatus) Severity {
	return lookup(testCompletionSeverity, status, SeverityLow)
}

func TestDecisionSeverity(t TestDecisionType) Severity {
	return lookup(testDecisionSeverity, t, SeverityLow)
}

func TestOutcomeSeverity(o TestOutcomeKind) Severity {
	return lookup(testOutcomeSeverity, o, SeverityLow)
}

// DecisionSeverity rates an agent decision: risk first, then transaction
// decisions are at least MEDIUM.
func DecisionSeverity(risk RiskLevel, decisionType string) Severity {
	if sev, ok := riskSeverity[risk]; ok {
		return sev
	}
	if decisionType == DecisionTypeTransaction {
		return SeverityMedium
	}
	return SeverityLow
}

func ConfidenceSeverity(confidence float64) Severity {
	for _, b := range confidenceBuckets {
		if confidence < b.below {
			return b.severity
		}
	}
	return SeverityLow
}
