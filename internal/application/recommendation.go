package app

import (
	"fmt"
	"strings"

	"skin-triage/internal/domain/entity"
)

// recommendationRule строка таблицы рекомендаций
type recommendationRule struct {
	name     string
	match    func(label string, escalated bool) bool
	severity entity.Severity
	action   string
}

// recommendationRules проверяются сверху вниз, срабатывает первое совпадение
var recommendationRules = []recommendationRule{
	{
		name:     "malignant",
		match:    labelContains("melanoma", "malignant"),
		severity: entity.SeverityHigh,
		action:   "URGENT: Immediate dermatologist consultation required",
	},
	{
		name:     "carcinoma",
		match:    labelContains("carcinoma"),
		severity: entity.SeverityMediumHigh,
		action:   "Schedule appointment with dermatologist within 1-2 weeks",
	},
	{
		name:     "cancer_related",
		match:    func(_ string, escalated bool) bool { return escalated },
		severity: entity.SeverityLowMedium,
		action:   "Recommend dermatologist check-up for confirmation",
	},
	{
		name:     "eczema",
		match:    labelContains("eczema", "atopic"),
		severity: entity.SeverityLow,
		action:   "Consider over-the-counter moisturizers and anti-itch creams",
	},
	{
		name:     "psoriasis",
		match:    labelContains("psoriasis"),
		severity: entity.SeverityMedium,
		action:   "Dermatologist consultation recommended for treatment plan",
	},
	{
		name:     "infection",
		match:    labelContains("infection"),
		severity: entity.SeverityMedium,
		action:   "May require antifungal/antiviral treatment - see doctor if persists",
	},
}

var defaultRule = recommendationRule{
	name:     "default",
	severity: entity.SeverityLowMedium,
	action:   "Monitor condition, consult dermatologist if worsens",
}

func labelContains(parts ...string) func(string, bool) bool {
	return func(label string, _ bool) bool {
		l := strings.ToLower(label)
		for _, p := range parts {
			if strings.Contains(l, p) {
				return true
			}
		}
		return false
	}
}

// Recommend выводит рекомендацию по итоговой метке каскада
func Recommend(stage1, stage2 *entity.ClassificationOutcome) entity.Recommendation {
	final := stage1
	if stage2 != nil {
		final = stage2
	}

	rule := matchRule(final.Label, stage2 != nil)
	return entity.Recommendation{
		Severity: rule.severity,
		Action:   rule.action,
		Details:  recommendationDetails(stage1, stage2),
	}
}

func matchRule(label string, escalated bool) recommendationRule {
	for _, r := range recommendationRules {
		if r.match(label, escalated) {
			return r
		}
	}
	return defaultRule
}

func recommendationDetails(stage1, stage2 *entity.ClassificationOutcome) string {
	details := fmt.Sprintf("Stage 1 identified %s with %.1f%% confidence.", stage1.Label, stage1.Confidence*100)
	if stage2 == nil {
		return details + " Stage 2 analysis not required."
	}
	return details + fmt.Sprintf(" Stage 2 refined diagnosis to %s with %.1f%% confidence.", stage2.Label, stage2.Confidence*100)
}
