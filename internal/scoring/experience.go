package scoring

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"time"
)

const maxRequiredYears = 40

// yearsPattern matches "5 years", "5+ years", "3-5 years", "3 to 5 yrs".
// Group 1 is the lower bound.
var yearsPattern = regexp.MustCompile(`(?i)\b(\d{1,2})\s*\+?\s*(?:(?:-|–|to)\s*\d{1,2}\s*\+?\s*)?(?:years?|yrs?)\b`)

// RequiredYears extracts the years of experience a job description asks for.
// The largest lower bound mentioned wins; no mention means zero.
func RequiredYears(description string) float64 {
	required := 0
	for _, m := range yearsPattern.FindAllStringSubmatch(description, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if n > required {
			required = n
		}
	}
	if required > maxRequiredYears {
		required = maxRequiredYears
	}
	return float64(required)
}

type interval struct {
	start, end int // months since year 0
}

func monthIndex(t time.Time) int {
	t = t.UTC()
	return t.Year()*12 + int(t.Month()) - 1
}

// experienceYears sums the merged month intervals of the entries accepted by
// keep, so overlapping positions are not counted twice. An entry without an
// end date is treated as ongoing until asOf.
func experienceYears(entries []ExperienceEntry, asOf time.Time, keep func(ExperienceEntry) bool) float64 {
	now := monthIndex(asOf)

	intervals := make([]interval, 0, len(entries))
	for _, e := range entries {
		if e.StartDate.IsZero() || !keep(e) {
			continue
		}

		end := now
		if !e.IsCurrent && e.EndDate != nil {
			end = monthIndex(*e.EndDate)
		}
		if end > now {
			end = now
		}

		start := monthIndex(e.StartDate)
		if end <= start {
			continue
		}
		intervals = append(intervals, interval{start: start, end: end})
	}

	sort.Slice(intervals, func(i, j int) bool {
		if intervals[i].start != intervals[j].start {
			return intervals[i].start < intervals[j].start
		}
		return intervals[i].end < intervals[j].end
	})

	months := 0
	var current *interval
	for i := range intervals {
		iv := intervals[i]
		if current != nil && iv.start <= current.end {
			if iv.end > current.end {
				current.end = iv.end
			}
			continue
		}
		if current != nil {
			months += current.end - current.start
		}
		current = &iv
	}
	if current != nil {
		months += current.end - current.start
	}

	return float64(months) / 12
}

func scoreExperience(required, total, relevant float64) int {
	switch {
	case required == 0:
		return MaxExperienceScore
	case relevant >= required:
		return MaxExperienceScore
	case total >= required:
		return 20
	}

	score := roundHalfUp(25 * relevant / math.Max(required, 1))
	if score < 0 {
		return 0
	}
	return score
}

// roundHalfUp rounds to the nearest integer, .5 going up.
func roundHalfUp(x float64) int {
	return int(math.Floor(x + 0.5))
}
