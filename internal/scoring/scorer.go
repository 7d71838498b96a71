package scoring

import (
	"strings"
	"time"
	"unicode"

	"github.com/spigell/jobmatch/internal/skills"
)

const (
	otherFitPoints = 5
	remoteLocation = "remote"
)

// Scorer computes base scores with a fixed skill vocabulary.
type Scorer struct {
	vocab *skills.Vocabulary
}

// NewScorer returns a scorer backed by vocab, or by the built-in vocabulary
// when vocab is nil.
func NewScorer(vocab *skills.Vocabulary) *Scorer {
	if vocab == nil {
		vocab = skills.DefaultVocabulary()
	}
	return &Scorer{vocab: vocab}
}

// ComputeBaseScore scores a profile against a job. asOf is the reference date
// for ongoing positions; identical inputs always give identical output.
// Missing optional fields contribute neutrally, the function never fails.
func (s *Scorer) ComputeBaseScore(job JobDetails, profile UserProfile, asOf time.Time) Result {
	required := s.vocab.Extract(job.Description)
	requiredSet := make(map[string]struct{}, len(required))
	for _, r := range required {
		requiredSet[r.Canonical] = struct{}{}
	}

	userSkills := s.vocab.CanonicalSet(profile.Skills)

	matching := make([]string, 0, len(required))
	missing := make([]string, 0, len(required))
	for _, r := range required {
		if _, ok := userSkills[r.Canonical]; ok {
			matching = append(matching, r.Display)
		} else {
			missing = append(missing, r.Display)
		}
	}

	requiredYears := RequiredYears(job.Description)
	totalYears := experienceYears(profile.Experience, asOf, func(ExperienceEntry) bool { return true })
	relevantYears := experienceYears(profile.Experience, asOf, func(e ExperienceEntry) bool {
		for _, used := range e.SkillsUsed {
			if _, ok := requiredSet[s.vocab.Canonical(used)]; ok {
				return true
			}
		}
		return false
	})

	requiredEducation := RequiredEducation(job.Description)
	userEducation := HighestDegree(profile.Education)

	locationMatch := matchesLocation(job.Location, profile.PreferredLocations)
	jobTypeMatch := matchesJobType(job.JobType, profile.PreferredJobTypes)
	salaryMatch := meetsSalary(job.Salary, profile.SalaryExpectation)

	breakdown := ScoreBreakdown{
		Skills:     Clamp(scoreSkills(len(matching), len(required)), 0, MaxSkillsScore),
		Experience: Clamp(scoreExperience(requiredYears, totalYears, relevantYears), 0, MaxExperienceScore),
		Education:  Clamp(scoreEducation(requiredEducation, userEducation), 0, MaxEducationScore),
		Other:      Clamp(scoreOther(locationMatch, jobTypeMatch, salaryMatch), 0, MaxOtherScore),
	}
	breakdown.Total = breakdown.Skills + breakdown.Experience + breakdown.Education + breakdown.Other

	return Result{
		Breakdown:      breakdown,
		MatchingSkills: matching,
		MissingSkills:  missing,
		Factors: Factors{
			RequiredSkills:    len(required),
			RequiredYears:     requiredYears,
			TotalYears:        totalYears,
			RelevantYears:     relevantYears,
			RequiredEducation: requiredEducation,
			UserEducation:     userEducation,
			LocationMatch:     locationMatch,
			JobTypeMatch:      jobTypeMatch,
			SalaryMatch:       salaryMatch,
		},
	}
}

// ComputeBaseScore scores with the built-in vocabulary.
func ComputeBaseScore(job JobDetails, profile UserProfile, asOf time.Time) Result {
	return NewScorer(nil).ComputeBaseScore(job, profile, asOf)
}

func scoreSkills(matching, required int) int {
	if required == 0 {
		return MaxSkillsScore
	}
	return roundHalfUp(float64(MaxSkillsScore) * float64(matching) / float64(required))
}

func scoreOther(location, jobType, salary bool) int {
	score := 0
	for _, ok := range []bool{location, jobType, salary} {
		if ok {
			score += otherFitPoints
		}
	}
	return score
}

func matchesLocation(location string, preferred []string) bool {
	location = strings.ToLower(strings.TrimSpace(location))
	if location == "" {
		return false
	}
	if isRemote(location) {
		return true
	}

	for _, p := range preferred {
		p = strings.ToLower(strings.TrimSpace(p))
		// a remote preference is only met by isRemote.
		if p == "" || p == remoteLocation {
			continue
		}
		if strings.Contains(location, p) || strings.Contains(p, location) {
			return true
		}
	}
	return false
}

// isRemote reports whether a lowercased location offers remote work: "remote"
// as a whole word not preceded by a negation ("not remote", "non-remote").
func isRemote(location string) bool {
	words := strings.FieldsFunc(location, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	for i, w := range words {
		if w != remoteLocation {
			continue
		}
		negated := false
		for j := max(0, i-2); j < i; j++ {
			switch words[j] {
			case "not", "no", "non":
				negated = true
			}
		}
		if !negated {
			return true
		}
	}
	return false
}

func matchesJobType(jobType string, preferred []string) bool {
	jobType = normalizeJobType(jobType)
	if jobType == "" {
		return false
	}
	for _, p := range preferred {
		if normalizeJobType(p) == jobType {
			return true
		}
	}
	return false
}

func normalizeJobType(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("-", "", "_", "", " ", "").Replace(s)
}

func meetsSalary(job, expectation SalaryRange) bool {
	if job.Min == nil || expectation.Min == nil {
		return false
	}
	if job.Currency != "" && expectation.Currency != "" && !strings.EqualFold(job.Currency, expectation.Currency) {
		return false
	}
	return *job.Min >= *expectation.Min
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
