package scheduler

import (
	"sort"

	"github.com/kaelforge/taskengine/task"
)

// tieBreak implements spec §4.4's universal tie-break chain: effective
// priority -> older createdAt -> smaller estimatedDurationMs -> TaskID
// lexicographic.
func tieBreak(a, b Candidate) bool {
	if a.EffectivePriority != b.EffectivePriority {
		return a.EffectivePriority > b.EffectivePriority
	}
	if !a.View.CreatedAt.Equal(b.View.CreatedAt) {
		return a.View.CreatedAt.Before(b.View.CreatedAt)
	}
	if a.View.EstimatedDurationMs != b.View.EstimatedDurationMs {
		return a.View.EstimatedDurationMs < b.View.EstimatedDurationMs
	}
	return a.View.ID < b.View.ID
}

func sortedCopy(candidates []Candidate, less func(a, b Candidate) bool) []Candidate {
	out := make([]Candidate, len(candidates))
	copy(out, candidates)
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func byFIFO(candidates []Candidate) []Candidate {
	return sortedCopy(candidates, func(a, b Candidate) bool {
		if !a.View.CreatedAt.Equal(b.View.CreatedAt) {
			return a.View.CreatedAt.Before(b.View.CreatedAt)
		}
		return a.View.ID < b.View.ID
	})
}

func byPriority(candidates []Candidate) []Candidate {
	return sortedCopy(candidates, tieBreak)
}

func bySJF(candidates []Candidate) []Candidate {
	return sortedCopy(candidates, func(a, b Candidate) bool {
		if a.View.EstimatedDurationMs != b.View.EstimatedDurationMs {
			return a.View.EstimatedDurationMs < b.View.EstimatedDurationMs
		}
		return tieBreak(a, b)
	})
}

func byDeadline(candidates []Candidate) []Candidate {
	return sortedCopy(candidates, func(a, b Candidate) bool {
		ad, bd := a.View.Deadline, b.View.Deadline
		switch {
		case ad == nil && bd == nil:
			return tieBreak(a, b)
		case ad == nil:
			return false
		case bd == nil:
			return true
		case !ad.Equal(*bd):
			return ad.Before(*bd)
		default:
			return tieBreak(a, b)
		}
	})
}

// byDependency orders by topological level (computed by the caller via
// topoLevel, since level computation needs the live dependency graph),
// falling back to priority then age among equal levels.
func byDependency(candidates []Candidate, topoLevel map[task.ID]int) []Candidate {
	return sortedCopy(candidates, func(a, b Candidate) bool {
		la, lb := topoLevel[a.View.ID], topoLevel[b.View.ID]
		if la != lb {
			return la < lb
		}
		return tieBreak(a, b)
	})
}

// byResourceOptimal scores candidates by (priority*duration)/sum(units)
// and greedily selects by descending score while respecting a residual
// per-type budget, per spec §4.4.
func byResourceOptimal(candidates []Candidate, budget map[string]int) ([]Candidate, map[string]int) {
	type scored struct {
		c     Candidate
		score float64
	}
	scoredList := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		var totalUnits float64
		for _, u := range c.ResourceUnits {
			totalUnits += float64(u)
		}
		if totalUnits == 0 {
			totalUnits = 1
		}
		score := (c.EffectivePriority * float64(c.View.EstimatedDurationMs+1)) / totalUnits
		scoredList = append(scoredList, scored{c, score})
	}
	sort.SliceStable(scoredList, func(i, j int) bool {
		if scoredList[i].score != scoredList[j].score {
			return scoredList[i].score > scoredList[j].score
		}
		return tieBreak(scoredList[i].c, scoredList[j].c)
	})

	residual := make(map[string]int, len(budget))
	for k, v := range budget {
		residual[k] = v
	}

	var selected []Candidate
	for _, s := range scoredList {
		fits := true
		for rtype, units := range s.c.ResourceUnits {
			if residual[rtype] < units {
				fits = false
				break
			}
		}
		if !fits {
			continue
		}
		for rtype, units := range s.c.ResourceUnits {
			residual[rtype] -= units
		}
		selected = append(selected, s.c)
	}
	return selected, residual
}

// priorityBucketQuotas implements spec §4.4's WEIGHTED_FAIR per-bucket
// slot quotas.
func priorityBucketQuotas(availableSlots int) map[task.Priority]float64 {
	return map[task.Priority]float64{
		task.PriorityCritical:   0.4,
		task.PriorityHigh:       0.3,
		task.PriorityMedium:     0.2,
		task.PriorityLow:        0.08,
		task.PriorityBackground: 0.02,
	}
}

func bucketOrder() []task.Priority {
	return []task.Priority{task.PriorityCritical, task.PriorityHigh, task.PriorityMedium, task.PriorityLow, task.PriorityBackground}
}

func groupByBucket(candidates []Candidate) map[task.Priority][]Candidate {
	groups := make(map[task.Priority][]Candidate)
	for _, c := range candidates {
		b := task.Bucket(task.Priority(c.EffectivePriority))
		groups[b] = append(groups[b], byPriority([]Candidate{c})[0])
	}
	for b := range groups {
		groups[b] = byPriority(groups[b])
	}
	return groups
}

// byWeightedFair allocates availableSlots across priority buckets by
// quota (rounded up to >=1 for nonempty buckets), with residual slots
// going to the highest nonempty bucket, per spec §4.4.
func byWeightedFair(candidates []Candidate, availableSlots int) []Candidate {
	groups := groupByBucket(candidates)
	quotas := priorityBucketQuotas(availableSlots)

	allotted := make(map[task.Priority]int)
	used := 0
	for _, b := range bucketOrder() {
		if len(groups[b]) == 0 {
			continue
		}
		q := int(quotas[b] * float64(availableSlots))
		if q < 1 {
			q = 1
		}
		if q > len(groups[b]) {
			q = len(groups[b])
		}
		allotted[b] = q
		used += q
	}

	residual := availableSlots - used
	if residual > 0 {
		for _, b := range bucketOrder() {
			if len(groups[b]) == 0 {
				continue
			}
			extra := len(groups[b]) - allotted[b]
			if extra <= 0 {
				continue
			}
			take := residual
			if take > extra {
				take = extra
			}
			allotted[b] += take
			residual -= take
			if residual <= 0 {
				break
			}
		}
	}

	var selected []Candidate
	for _, b := range bucketOrder() {
		n := allotted[b]
		if n > len(groups[b]) {
			n = len(groups[b])
		}
		selected = append(selected, groups[b][:n]...)
	}
	return selected
}

// byRoundRobin walks priority buckets highest->lowest, taking one task
// per pass until slots are exhausted or no bucket has anything left,
// per spec §4.4.
func byRoundRobin(candidates []Candidate, availableSlots int) []Candidate {
	groups := groupByBucket(candidates)
	offsets := make(map[task.Priority]int)

	var selected []Candidate
	for len(selected) < availableSlots {
		progressed := false
		for _, b := range bucketOrder() {
			if len(selected) >= availableSlots {
				break
			}
			idx := offsets[b]
			if idx >= len(groups[b]) {
				continue
			}
			selected = append(selected, groups[b][idx])
			offsets[b] = idx + 1
			progressed = true
		}
		if !progressed {
			break
		}
	}
	return selected
}
