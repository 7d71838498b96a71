// Package scoring holds the match data model and the deterministic base scorer.
package scoring

import "time"

// SalaryRange is an optional salary band. Nil bounds are unknown.
type SalaryRange struct {
	Min      *int   `json:"min,omitempty"`
	Max      *int   `json:"max,omitempty"`
	Currency string `json:"currency,omitempty"`
}

// JobDetails is the scored side of a job posting.
type JobDetails struct {
	Title       string      `json:"title,omitempty"`
	Company     string      `json:"company,omitempty"`
	Description string      `json:"description"`
	Location    string      `json:"location,omitempty"`
	JobType     string      `json:"job_type,omitempty"`
	Salary      SalaryRange `json:"salary_range"`
}

type ExperienceEntry struct {
	Company    string     `json:"company"`
	Position   string     `json:"position"`
	StartDate  time.Time  `json:"start_date"`
	EndDate    *time.Time `json:"end_date,omitempty"`
	IsCurrent  bool       `json:"is_current"`
	SkillsUsed []string   `json:"skills_used,omitempty"`
}

type EducationEntry struct {
	Institution  string     `json:"institution"`
	Degree       string     `json:"degree"`
	FieldOfStudy string     `json:"field_of_study,omitempty"`
	EndDate      *time.Time `json:"end_date,omitempty"`
}

// UserProfile is a read-only snapshot of the candidate for one scoring call.
type UserProfile struct {
	Skills             []string          `json:"skills"`
	Experience         []ExperienceEntry `json:"experience"`
	Education          []EducationEntry  `json:"education"`
	PreferredLocations []string          `json:"preferred_locations,omitempty"`
	PreferredJobTypes  []string          `json:"preferred_job_types,omitempty"`
	SalaryExpectation  SalaryRange       `json:"salary_expectation"`
}

// Component ceilings.
const (
	MaxSkillsScore     = 40
	MaxExperienceScore = 30
	MaxEducationScore  = 15
	MaxOtherScore      = 15
	MaxTotalScore      = 100
)

// ScoreBreakdown is the four-factor base score. Total is always the sum of
// the components.
type ScoreBreakdown struct {
	Skills     int `json:"skills_score"`
	Experience int `json:"experience_score"`
	Education  int `json:"education_score"`
	Other      int `json:"other_score"`
	Total      int `json:"total"`
}

// Factors are the intermediate values the breakdown was computed from.
type Factors struct {
	RequiredSkills    int         `json:"required_skills"`
	RequiredYears     float64     `json:"required_years"`
	TotalYears        float64     `json:"total_years"`
	RelevantYears     float64     `json:"relevant_years"`
	RequiredEducation DegreeLevel `json:"required_education"`
	UserEducation     DegreeLevel `json:"user_education"`
	LocationMatch     bool        `json:"location_match"`
	JobTypeMatch      bool        `json:"job_type_match"`
	SalaryMatch       bool        `json:"salary_match"`
}

// Result is the output of ComputeBaseScore.
type Result struct {
	Breakdown      ScoreBreakdown `json:"breakdown"`
	MatchingSkills []string       `json:"matching_skills"`
	MissingSkills  []string       `json:"missing_skills"`
	Factors        Factors        `json:"factors"`
}

// MatchAnalysis is the final, adjusted analysis of one application. It is
// created once per successful analysis and never mutated afterwards.
type MatchAnalysis struct {
	ID              string         `json:"id"`
	ApplicationID   string         `json:"application_id"`
	BaseScore       int            `json:"base_score"`
	AdjustedScore   int            `json:"adjusted_score"`
	Adjustment      int            `json:"adjustment"`
	Reasoning       string         `json:"reasoning"`
	MatchingSkills  []string       `json:"matching_skills"`
	MissingSkills   []string       `json:"missing_skills"`
	Strengths       []string       `json:"strengths"`
	Concerns        []string       `json:"concerns"`
	Recommendations []string       `json:"recommendations"`
	Breakdown       ScoreBreakdown `json:"breakdown"`
	Model           string         `json:"model,omitempty"`
	TokensUsed      int            `json:"tokens_used,omitempty"`
	AnalyzedAt      time.Time      `json:"analyzed_at"`
}
