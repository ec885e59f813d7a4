package analysis

import "go.uber.org/zap"

// Aggregate recomputes the severity breakdown from the raw findings list.
// This output always replaces any service-reported count map: the reasoning
// service is not trusted for arithmetic. Every enum bucket is present in the
// result, zero-valued when empty. A severity outside the closed enum is
// logged and dropped from the count; it is not an error.
func Aggregate(findings []Finding, logger *zap.Logger) map[Severity]int {
	if logger == nil {
		logger = zap.NewNop()
	}

	counts := make(map[Severity]int, len(severityOrder))
	for _, sev := range severityOrder {
		counts[sev] = 0
	}

	for _, f := range findings {
		sev, ok := ParseSeverity(f.Severity)
		if !ok {
			logger.Warn("dropping finding with unknown severity",
				zap.String("severity", f.Severity),
				zap.String("title", f.Title))
			continue
		}
		counts[sev]++
	}
	return counts
}
