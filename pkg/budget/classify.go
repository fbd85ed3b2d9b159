package budget

import "math"

// Status is the verdict for one observation.
type Status string

const (
	Good             Status = "good"
	NeedsImprovement Status = "needs-improvement"
	Poor             Status = "poor"
)

// rank orders statuses from best to worst.
func (s Status) rank() int {
	switch s {
	case NeedsImprovement:
		return 1
	case Poor:
		return 2
	default:
		return 0
	}
}

// Worse reports whether s is a worse verdict than other.
func (s Status) Worse(other Status) bool {
	return s.rank() > other.rank()
}

// Classify rates value against the metric's budget. Both thresholds are
// inclusive on the better side. Unknown metrics are good.
func (t Table) Classify(metric string, value float64) Status {
	b, ok := t.Lookup(metric)
	if !ok {
		return Good
	}
	return b.Classify(value)
}

// Classify rates value against this budget. NaN is treated as good.
func (b Budget) Classify(value float64) Status {
	switch {
	case math.IsNaN(value), value <= b.Good:
		return Good
	case value <= b.Poor:
		return NeedsImprovement
	default:
		return Poor
	}
}

// Classify rates value against the default table.
func Classify(metric string, value float64) Status {
	return defaultTable.Classify(metric, value)
}
