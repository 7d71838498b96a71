package scoring

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var asOf = time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)

func date(year int, month time.Month) time.Time {
	return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
}

func datePtr(year int, month time.Month) *time.Time {
	d := date(year, month)
	return &d
}

func intPtr(v int) *int { return &v }

func fullStackJob() JobDetails {
	return JobDetails{
		Title:   "Senior Engineer",
		Company: "Acme",
		Description: "We are hiring a Senior Engineer. Requirements: React, TypeScript, Node.js, " +
			"Kubernetes, AWS. 5+ years of experience. Bachelor's degree in Computer Science.",
		Location: "Remote",
		JobType:  "full-time",
		Salary:   SalaryRange{Min: intPtr(120000), Max: intPtr(150000), Currency: "USD"},
	}
}

func fullStackProfile() UserProfile {
	return UserProfile{
		Skills: []string{"React", "TypeScript", "Node.js", "Python"},
		Experience: []ExperienceEntry{{
			Company:    "Globex",
			Position:   "Engineer",
			StartDate:  date(2019, time.January),
			EndDate:    datePtr(2024, time.January),
			SkillsUsed: []string{"React", "node.js"},
		}},
		Education: []EducationEntry{{
			Institution: "State University",
			Degree:      "Bachelor of Science",
		}},
		PreferredLocations: []string{"Remote"},
		PreferredJobTypes:  []string{"Full-time"},
		SalaryExpectation:  SalaryRange{Min: intPtr(100000), Currency: "usd"},
	}
}

func TestComputeBaseScoreEndToEnd(t *testing.T) {
	t.Parallel()

	result := ComputeBaseScore(fullStackJob(), fullStackProfile(), asOf)

	assert.Equal(t, ScoreBreakdown{Skills: 24, Experience: 30, Education: 15, Other: 15, Total: 84}, result.Breakdown)
	assert.Equal(t, []string{"React", "TypeScript", "Node.js"}, result.MatchingSkills)
	assert.Equal(t, []string{"Kubernetes", "AWS"}, result.MissingSkills)
	assert.Equal(t, 5.0, result.Factors.RequiredYears)
	assert.Equal(t, 5.0, result.Factors.RelevantYears)
	assert.Equal(t, DegreeBachelors, result.Factors.RequiredEducation)
}

func TestComputeBaseScoreIsDeterministic(t *testing.T) {
	t.Parallel()

	job, profile := fullStackJob(), fullStackProfile()
	profile.Experience = append(profile.Experience, ExperienceEntry{
		Company:    "Initech",
		StartDate:  date(2024, time.March),
		IsCurrent:  true,
		SkillsUsed: []string{"Kubernetes"},
	})

	first, err := json.Marshal(ComputeBaseScore(job, profile, asOf))
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		again, err := json.Marshal(ComputeBaseScore(job, profile, asOf))
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again))
	}
}

func TestComputeBaseScoreBounds(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		job     JobDetails
		profile UserProfile
	}{
		"empty inputs": {},
		"no requirements": {
			job:     JobDetails{Description: "Friendly team, free snacks."},
			profile: UserProfile{Skills: []string{"Go"}},
		},
		"overqualified": {
			job:     fullStackJob(),
			profile: UserProfile{Skills: []string{"React", "TypeScript", "Node", "K8s", "Amazon Web Services"}},
		},
		"phd required, none held": {
			job:     JobDetails{Description: "PhD in physics and 10 years with Python required."},
			profile: UserProfile{Skills: []string{"Python"}},
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			b := ComputeBaseScore(tc.job, tc.profile, asOf).Breakdown
			assert.Equal(t, b.Skills+b.Experience+b.Education+b.Other, b.Total)
			assert.GreaterOrEqual(t, b.Total, 0)
			assert.LessOrEqual(t, b.Total, MaxTotalScore)
			assert.LessOrEqual(t, b.Skills, MaxSkillsScore)
			assert.LessOrEqual(t, b.Experience, MaxExperienceScore)
			assert.LessOrEqual(t, b.Education, MaxEducationScore)
			assert.LessOrEqual(t, b.Other, MaxOtherScore)
		})
	}
}

func TestSkillsScore(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 24, scoreSkills(3, 5))
	assert.Equal(t, 40, scoreSkills(0, 0))
	assert.Equal(t, 0, scoreSkills(0, 4))
	assert.Equal(t, 40, scoreSkills(2, 2))
	// 40 * 1/3 = 13.33
	assert.Equal(t, 13, scoreSkills(1, 3))
	// 40 * 5/16 = 12.5 rounds up
	assert.Equal(t, 13, scoreSkills(5, 16))

	result := ComputeBaseScore(JobDetails{Description: "No specific stack."}, UserProfile{}, asOf)
	assert.Equal(t, 40, result.Breakdown.Skills)
	assert.Empty(t, result.MissingSkills)
}

func TestExperienceScore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name                      string
		required, total, relevant float64
		expect                    int
	}{
		{"nothing required", 0, 0, 0, 30},
		{"relevant covers requirement", 5, 7, 5, 30},
		{"relevant beyond requirement is capped", 5, 12, 12, 30},
		{"seniority without relevant skills", 5, 7, 3, 20},
		{"short overall experience", 5, 2, 2, 10},
		{"no experience", 5, 0, 0, 0},
		// 25 * 1.5/3 = 12.5 rounds up
		{"half rounds up", 3, 1.5, 1.5, 13},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expect, scoreExperience(tt.required, tt.total, tt.relevant))
		})
	}
}

func TestExperienceYearsMergesOverlaps(t *testing.T) {
	t.Parallel()

	entries := []ExperienceEntry{
		{StartDate: date(2018, time.January), EndDate: datePtr(2020, time.January), SkillsUsed: []string{"Go"}},
		{StartDate: date(2019, time.January), EndDate: datePtr(2021, time.January)},
		{StartDate: date(2024, time.June), IsCurrent: true, SkillsUsed: []string{"golang"}},
		{StartDate: date(2023, time.January), EndDate: datePtr(2022, time.January)},
		{EndDate: datePtr(2022, time.January)},
	}

	all := experienceYears(entries, asOf, func(ExperienceEntry) bool { return true })
	// 2018-01..2021-01 is 36 months, 2024-06..2025-06 is 12 months.
	assert.Equal(t, 4.0, all)

	goOnly := experienceYears(entries, asOf, func(e ExperienceEntry) bool { return len(e.SkillsUsed) > 0 })
	assert.Equal(t, 3.0, goOnly)
}

func TestRelevantYearsUseRequiredSkills(t *testing.T) {
	t.Parallel()

	job := JobDetails{Description: "Go and PostgreSQL, 4 years minimum."}
	profile := UserProfile{
		Skills: []string{"Golang", "Postgres"},
		Experience: []ExperienceEntry{
			{StartDate: date(2015, time.January), EndDate: datePtr(2020, time.January), SkillsUsed: []string{"PHP"}},
			{StartDate: date(2020, time.January), EndDate: datePtr(2022, time.January), SkillsUsed: []string{"postgres"}},
		},
	}

	result := ComputeBaseScore(job, profile, asOf)
	assert.Equal(t, 4.0, result.Factors.RequiredYears)
	assert.Equal(t, 7.0, result.Factors.TotalYears)
	assert.Equal(t, 2.0, result.Factors.RelevantYears)
	assert.Equal(t, 20, result.Breakdown.Experience)
	assert.Equal(t, 40, result.Breakdown.Skills)
}

func TestRequiredYears(t *testing.T) {
	t.Parallel()

	tests := map[string]float64{
		"5+ years of experience":                 5,
		"3-5 years in backend":                   3,
		"at least 2 yrs, ideally 4 years":        4,
		"3 to 6 years":                           3,
		"Founded in 2010, we have 100 employees": 0,
		"no experience needed":                   0,
		"a 99 year old company, 1 year of Go":    maxRequiredYears,
	}

	for text, expect := range tests {
		assert.Equal(t, expect, RequiredYears(text), text)
	}
}

func TestEducationScore(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 10, scoreEducation(DegreeMasters, DegreeBachelors))
	assert.Equal(t, 15, scoreEducation(DegreeNone, DegreeNone))
	assert.Equal(t, 15, scoreEducation(DegreeNone, DegreePhD))
	assert.Equal(t, 15, scoreEducation(DegreeBachelors, DegreeMasters))
	assert.Equal(t, 5, scoreEducation(DegreePhD, DegreeBachelors))
	assert.Equal(t, 5, scoreEducation(DegreeMasters, DegreeNone))
}

func TestParseDegree(t *testing.T) {
	t.Parallel()

	tests := map[string]DegreeLevel{
		"Bachelor of Science":     DegreeBachelors,
		"B.Sc. Computer Science":  DegreeBachelors,
		"BS in Mathematics":       DegreeBachelors,
		"Master's in Engineering": DegreeMasters,
		"MSc":                     DegreeMasters,
		"MBA":                     DegreeMasters,
		"Ph.D. Physics":           DegreePhD,
		"Doctorate":               DegreePhD,
		"High School Diploma":     DegreeNone,
		"":                        DegreeNone,
	}

	for degree, expect := range tests {
		assert.Equal(t, expect, ParseDegree(degree), degree)
	}
}

func TestRequiredEducationTakesLowestMentioned(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DegreeBachelors, RequiredEducation("Bachelor's or Master's degree preferred"))
	assert.Equal(t, DegreeMasters, RequiredEducation("Master's degree in CS"))
	assert.Equal(t, DegreeNone, RequiredEducation("Self-taught welcome"))

	profile := UserProfile{Education: []EducationEntry{{Degree: "Bachelor"}, {Degree: "Master of Science"}}}
	assert.Equal(t, DegreeMasters, HighestDegree(profile.Education))
}

func TestOtherFit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		job     JobDetails
		profile UserProfile
		expect  int
	}{
		{
			name:   "remote only",
			job:    JobDetails{Location: "Fully REMOTE (EU)"},
			expect: 5,
		},
		{
			name:    "negated remote",
			job:     JobDetails{Location: "Not remote - onsite in Berlin"},
			profile: UserProfile{PreferredLocations: []string{"Remote"}},
			expect:  0,
		},
		{
			name:   "non-remote",
			job:    JobDetails{Location: "Munich (non-remote)"},
			expect: 0,
		},
		{
			name:   "remote inside another word",
			job:    JobDetails{Location: "Remoteville, TX"},
			expect: 0,
		},
		{
			name:   "hybrid or remote",
			job:    JobDetails{Location: "Hybrid / Remote-first"},
			expect: 5,
		},
		{
			name:    "preferred city substring",
			job:     JobDetails{Location: "Berlin, Germany", JobType: "Contract"},
			profile: UserProfile{PreferredLocations: []string{"berlin"}, PreferredJobTypes: []string{"contract"}},
			expect:  10,
		},
		{
			name: "salary meets expectation",
			job:  JobDetails{Salary: SalaryRange{Min: intPtr(90000)}},
			profile: UserProfile{
				SalaryExpectation: SalaryRange{Min: intPtr(90000)},
			},
			expect: 5,
		},
		{
			name:    "salary below expectation",
			job:     JobDetails{Salary: SalaryRange{Min: intPtr(80000)}},
			profile: UserProfile{SalaryExpectation: SalaryRange{Min: intPtr(90000)}},
			expect:  0,
		},
		{
			name:    "currency mismatch",
			job:     JobDetails{Salary: SalaryRange{Min: intPtr(100000), Currency: "EUR"}},
			profile: UserProfile{SalaryExpectation: SalaryRange{Min: intPtr(90000), Currency: "USD"}},
			expect:  0,
		},
		{
			name:    "missing salary data is neutral",
			job:     JobDetails{Salary: SalaryRange{Max: intPtr(100000)}},
			profile: UserProfile{SalaryExpectation: SalaryRange{Min: intPtr(90000)}},
			expect:  0,
		},
		{
			name:    "all three",
			job:     JobDetails{Location: "Remote", JobType: "Full Time", Salary: SalaryRange{Min: intPtr(1)}},
			profile: UserProfile{PreferredJobTypes: []string{"full-time"}, SalaryExpectation: SalaryRange{Min: intPtr(1)}},
			expect:  15,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			result := ComputeBaseScore(tt.job, tt.profile, asOf)
			assert.Equal(t, tt.expect, result.Breakdown.Other)
		})
	}
}

func TestClamp(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 100, Clamp(110, 0, 100))
	assert.Equal(t, 0, Clamp(-3, 0, 100))
	assert.Equal(t, 42, Clamp(42, 0, 100))
}
