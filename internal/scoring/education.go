package scoring

import (
	"regexp"
)

// DegreeLevel is an ordinal education level.
type DegreeLevel int

const (
	DegreeNone DegreeLevel = iota
	DegreeBachelors
	DegreeMasters
	DegreePhD
)

func (d DegreeLevel) String() string {
	switch d {
	case DegreeBachelors:
		return "bachelors"
	case DegreeMasters:
		return "masters"
	case DegreePhD:
		return "phd"
	default:
		return "none"
	}
}

// MarshalText renders the level by name in JSON payloads.
func (d DegreeLevel) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

var degreePatterns = []struct {
	level DegreeLevel
	re    *regexp.Regexp
}{
	{DegreePhD, regexp.MustCompile(`(?i)\b(ph\.?\s?d|doctorate|doctoral)\b`)},
	{DegreeMasters, regexp.MustCompile(`(?i)(\bmaster'?s?\b|\bm\.?sc\b|\bm\.s\.|\bmba\b|\bm\.?eng\b|\bms\s+(in|degree)\b)`)},
	{DegreeBachelors, regexp.MustCompile(`(?i)(\bbachelor'?s?\b|\bb\.?sc\b|\bb\.s\.|\bb\.?a\.?\s+(in|degree)\b|\bb\.?eng\b|\bbs\s+(in|degree)\b|\bundergraduate\s+degree\b)`)},
}

// ParseDegree maps a free-text degree name to its level. Unknown or lower
// degrees map to DegreeNone.
func ParseDegree(degree string) DegreeLevel {
	for _, p := range degreePatterns {
		if p.re.MatchString(degree) {
			return p.level
		}
	}
	return DegreeNone
}

// RequiredEducation returns the lowest degree a job description mentions:
// "Bachelor's or Master's" admits a bachelor.
func RequiredEducation(description string) DegreeLevel {
	required := DegreeNone
	for _, p := range degreePatterns {
		if p.re.MatchString(description) {
			required = p.level
		}
	}
	return required
}

// HighestDegree returns the highest level among the education entries.
func HighestDegree(entries []EducationEntry) DegreeLevel {
	highest := DegreeNone
	for _, e := range entries {
		if level := ParseDegree(e.Degree); level > highest {
			highest = level
		}
	}
	return highest
}

func scoreEducation(required, user DegreeLevel) int {
	switch {
	case required == DegreeNone:
		return MaxEducationScore
	case user >= required:
		return MaxEducationScore
	case required-user == 1:
		return 10
	default:
		return 5
	}
}
