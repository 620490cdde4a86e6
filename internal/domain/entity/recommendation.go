package entity

// Severity уровень срочности
type Severity string

const (
	SeverityLow        Severity = "LOW"
	SeverityLowMedium  Severity = "LOW_MEDIUM"
	SeverityMedium     Severity = "MEDIUM"
	SeverityMediumHigh Severity = "MEDIUM_HIGH"
	SeverityHigh       Severity = "HIGH"
)

// Recommendation рекомендация по итогам каскада
type Recommendation struct {
	Severity Severity
	Action   string
	Details  string
}
