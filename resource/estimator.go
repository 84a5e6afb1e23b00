package resource

import (
	"github.com/kaelforge/taskengine/task"
)

// multipliers is the default category x resource-type table from spec §6.
var multipliers = map[task.Category]map[string]float64{
	task.CategoryFeature:        {"cpu": 1.5, "memory": 1.2, "network": 1.0, "disk": 1.0, "ai_tokens": 2.0},
	task.CategoryBugFix:         {"cpu": 1.0, "memory": 1.0, "network": 0.8, "disk": 0.8, "ai_tokens": 1.0},
	task.CategoryTest:           {"cpu": 2.0, "memory": 1.5, "network": 1.2, "disk": 1.0, "ai_tokens": 1.5},
	task.CategoryDocumentation:  {"cpu": 0.5, "memory": 0.8, "network": 0.5, "disk": 1.5, "ai_tokens": 1.8},
	task.CategoryRefactor:       {"cpu": 1.8, "memory": 1.5, "network": 1.0, "disk": 1.2, "ai_tokens": 2.5},
	task.CategorySecurity:       {"cpu": 2.0, "memory": 1.8, "network": 1.5, "disk": 1.0, "ai_tokens": 2.0},
	task.CategoryPerformance:    {"cpu": 2.5, "memory": 2.0, "network": 1.2, "disk": 1.0, "ai_tokens": 1.5},
	task.CategoryInfrastructure: {"cpu": 1.2, "memory": 1.0, "network": 2.0, "disk": 2.0, "ai_tokens": 1.0},
}

// EstimateUnits computes default resource unit requirements for a task
// that declared only requiredResources types, per spec §4.2/§6: "integer
// units >= 1", scaled by a duration-derived complexity factor.
func EstimateUnits(category task.Category, requiredTypes []string, estimatedDurationMs int64) map[string]int {
	durationMinutes := float64(estimatedDurationMs) / 60_000.0
	complexityFactor := durationMinutes
	if complexityFactor < 1 {
		complexityFactor = 1
	}

	table, ok := multipliers[category]
	out := make(map[string]int, len(requiredTypes))
	for _, rtype := range requiredTypes {
		mult := 1.0
		if ok {
			if m, found := table[rtype]; found {
				mult = m
			}
		}
		units := int(mult * complexityFactor)
		if units < 1 {
			units = 1
		}
		out[rtype] = units
	}
	return out
}
