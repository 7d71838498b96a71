package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	_ "embed"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/spigell/jobmatch/internal/ai"
	"github.com/spigell/jobmatch/internal/logger"
	"github.com/spigell/jobmatch/internal/quota"
	"github.com/spigell/jobmatch/internal/scoring"
	"github.com/spigell/jobmatch/internal/utils"
)

const (
	MaxAdjustment = 10

	defaultMaxLogLength = 200
	maxJobSummaryRunes  = 6000
	maxFieldRunes       = 300
	monthLayout         = "2006-01"
)

//go:embed prompt.md
var systemPrompt string

//go:embed schema.json
var responseSchemaJSON string

var responseSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(responseSchemaJSON))
})

type contentGenerator interface {
	Generate(ctx context.Context, system, message string) (*Output, error)
	Model() string
}

// Adjuster asks Gemini for a bounded adjustment of a base score and turns the
// validated answer into a MatchAnalysis.
type Adjuster struct {
	generator contentGenerator
	logger    *zap.Logger
	maxLogLen int
	now       func() time.Time
}

var _ ai.Adjuster = (*Adjuster)(nil)

func NewAdjuster(generator contentGenerator, maxLogLength int, log *zap.Logger) *Adjuster {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}

	return &Adjuster{
		generator: generator,
		logger:    logger.WithCommonFields(log, Provider, generator.Model()),
		maxLogLen: maxLogLength,
		now:       time.Now,
	}
}

func (a *Adjuster) Provider() string {
	return Provider
}

func (a *Adjuster) Model() string {
	return a.generator.Model()
}

// Adjust refuses to call the provider without a valid job_analysis ticket.
// The adjusted score is recomputed locally from the clamped adjustment.
func (a *Adjuster) Adjust(ctx context.Context, req ai.Request) (*scoring.MatchAnalysis, error) {
	if !req.Ticket.Valid(quota.OperationJobAnalysis) {
		return nil, &quota.RateLimitError{Operation: quota.OperationJobAnalysis}
	}

	message, err := buildMessage(req)
	if err != nil {
		return nil, err
	}

	log := a.logger.With(
		zap.String(logger.FieldApplication, req.ApplicationID),
		zap.String(logger.FieldUser, req.Ticket.UserID),
	)

	log.Debug("gemini adjustment request",
		zap.Int("base_score", req.Base.Breakdown.Total),
		zap.Int("prompt_length", utf8.RuneCountInString(message)),
		zap.String("prompt_preview", utils.TruncateForLog(message, a.maxLogLen)),
	)

	out, err := a.generator.Generate(ctx, systemPrompt, message)
	if err != nil {
		return nil, err
	}

	log.Debug("gemini adjustment response",
		zap.Int("tokens_used", out.TokensUsed),
		zap.Int("response_length", utf8.RuneCountInString(out.Text)),
		zap.String("response_preview", utils.TruncateForLog(out.Text, a.maxLogLen)),
	)

	resp, err := parseResponse(out.Text)
	if err != nil {
		return nil, ai.SchemaError(Provider, out.TokensUsed, err)
	}

	adjustment := clampAdjustment(resp.Adjustment)
	if float64(adjustment) != resp.Adjustment {
		log.Warn("adjustment normalized",
			zap.Float64("received", resp.Adjustment),
			zap.Int("applied", adjustment),
		)
	}

	base := req.Base.Breakdown.Total

	return &scoring.MatchAnalysis{
		ID:              uuid.NewString(),
		ApplicationID:   req.ApplicationID,
		BaseScore:       base,
		AdjustedScore:   scoring.Clamp(base+adjustment, 0, scoring.MaxTotalScore),
		Adjustment:      adjustment,
		Reasoning:       resp.Reasoning,
		MatchingSkills:  req.Base.MatchingSkills,
		MissingSkills:   req.Base.MissingSkills,
		Strengths:       nonNil(resp.Strengths),
		Concerns:        nonNil(resp.Concerns),
		Recommendations: nonNil(resp.Recommendations),
		Breakdown:       req.Base.Breakdown,
		Model:           a.generator.Model(),
		TokensUsed:      out.TokensUsed,
		AnalyzedAt:      a.now().UTC(),
	}, nil
}

// clampAdjustment rounds to the nearest integer and bounds it to ±MaxAdjustment.
func clampAdjustment(v float64) int {
	v = math.Max(-MaxAdjustment, math.Min(MaxAdjustment, v))
	return int(math.Round(v))
}

type adjustmentResponse struct {
	Adjustment      float64  `mapstructure:"adjustment"`
	Reasoning       string   `mapstructure:"reasoning"`
	Strengths       []string `mapstructure:"strengths"`
	Concerns        []string `mapstructure:"concerns"`
	Recommendations []string `mapstructure:"recommendations"`
}

func parseResponse(raw string) (*adjustmentResponse, error) {
	cleaned := extractJSON(raw)

	var data any
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		return nil, fmt.Errorf("parse gemini response: %w", err)
	}

	schema, err := responseSchema()
	if err != nil {
		return nil, fmt.Errorf("load response schema: %w", err)
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(data))
	if err != nil {
		return nil, fmt.Errorf("validate gemini response: %w", err)
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return nil, errors.New("invalid gemini response: " + strings.Join(problems, "; "))
	}

	var resp adjustmentResponse
	if err := mapstructure.Decode(data, &resp); err != nil {
		return nil, fmt.Errorf("decode gemini response: %w", err)
	}

	resp.Reasoning = strings.TrimSpace(resp.Reasoning)
	resp.Strengths = trimAll(resp.Strengths)
	resp.Concerns = trimAll(resp.Concerns)
	resp.Recommendations = trimAll(resp.Recommendations)

	return &resp, nil
}

func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")
	return strings.TrimSpace(raw)
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

type requestPayload struct {
	BaseScore      baseScore      `json:"base_score"`
	JobSummary     string         `json:"job_summary"`
	ProfileSummary profileSummary `json:"profile_summary"`
}

type baseScore struct {
	Total          int                    `json:"total"`
	Breakdown      scoring.ScoreBreakdown `json:"breakdown"`
	MatchingSkills []string               `json:"matching_skills"`
	MissingSkills  []string               `json:"missing_skills"`
	Factors        scoring.Factors        `json:"factors"`
}

type profileSummary struct {
	Skills             []string            `json:"skills"`
	Experience         []experienceSummary `json:"experience,omitempty"`
	Education          []string            `json:"education,omitempty"`
	PreferredLocations []string            `json:"preferred_locations,omitempty"`
	PreferredJobTypes  []string            `json:"preferred_job_types,omitempty"`
	SalaryExpectation  string              `json:"salary_expectation,omitempty"`
}

type experienceSummary struct {
	Position   string   `json:"position"`
	Company    string   `json:"company,omitempty"`
	Period     string   `json:"period"`
	SkillsUsed []string `json:"skills_used,omitempty"`
}

func buildMessage(req ai.Request) (string, error) {
	payload := requestPayload{
		BaseScore: baseScore{
			Total:          req.Base.Breakdown.Total,
			Breakdown:      req.Base.Breakdown,
			MatchingSkills: req.Base.MatchingSkills,
			MissingSkills:  req.Base.MissingSkills,
			Factors:        req.Base.Factors,
		},
		JobSummary:     jobSummary(req.Job),
		ProfileSummary: summarizeProfile(req.Profile),
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal adjustment request: %w", err)
	}
	return string(data), nil
}

func jobSummary(job scoring.JobDetails) string {
	var b strings.Builder

	if title := sanitizeLine(job.Title); title != "" {
		fmt.Fprintf(&b, "# %s\n", title)
	}
	for _, field := range []struct{ label, value string }{
		{"Company", job.Company},
		{"Location", job.Location},
		{"Job type", job.JobType},
		{"Salary", formatSalary(job.Salary)},
	} {
		if v := sanitizeLine(field.value); v != "" {
			fmt.Fprintf(&b, "- %s: %s\n", field.label, v)
		}
	}
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	b.WriteString(descriptionMarkdown(job.Description))

	return truncateRunes(strings.TrimSpace(b.String()), maxJobSummaryRunes)
}

// descriptionMarkdown converts HTML descriptions; plain text is kept as is.
func descriptionMarkdown(description string) string {
	description = strings.TrimSpace(description)
	if !strings.Contains(description, "<") || !strings.Contains(description, ">") {
		return description
	}

	md, err := htmltomarkdown.ConvertString(description)
	if err != nil || strings.TrimSpace(md) == "" {
		return description
	}
	return strings.TrimSpace(md)
}

func summarizeProfile(p scoring.UserProfile) profileSummary {
	summary := profileSummary{
		Skills:             sanitizeAll(p.Skills),
		PreferredLocations: sanitizeAll(p.PreferredLocations),
		PreferredJobTypes:  sanitizeAll(p.PreferredJobTypes),
		SalaryExpectation:  formatSalary(p.SalaryExpectation),
	}

	for _, e := range p.Experience {
		period := "unknown"
		if !e.StartDate.IsZero() {
			end := "present"
			if !e.IsCurrent && e.EndDate != nil {
				end = e.EndDate.Format(monthLayout)
			}
			period = e.StartDate.Format(monthLayout) + " - " + end
		}
		summary.Experience = append(summary.Experience, experienceSummary{
			Position:   sanitizeLine(e.Position),
			Company:    sanitizeLine(e.Company),
			Period:     period,
			SkillsUsed: sanitizeAll(e.SkillsUsed),
		})
	}

	for _, e := range p.Education {
		parts := make([]string, 0, 3)
		for _, v := range []string{e.Degree, e.FieldOfStudy, e.Institution} {
			if v = sanitizeLine(v); v != "" {
				parts = append(parts, v)
			}
		}
		if len(parts) > 0 {
			summary.Education = append(summary.Education, strings.Join(parts, ", "))
		}
	}

	return summary
}

func formatSalary(s scoring.SalaryRange) string {
	switch {
	case s.Min != nil && s.Max != nil:
		return strings.TrimSpace(fmt.Sprintf("%d-%d %s", *s.Min, *s.Max, s.Currency))
	case s.Min != nil:
		return strings.TrimSpace(fmt.Sprintf("from %d %s", *s.Min, s.Currency))
	case s.Max != nil:
		return strings.TrimSpace(fmt.Sprintf("up to %d %s", *s.Max, s.Currency))
	default:
		return ""
	}
}

// sanitizeLine collapses whitespace and replaces square brackets, so profile
// text cannot imitate role markers like "[System]".
func sanitizeLine(s string) string {
	s = strings.NewReplacer("[", "(", "]", ")").Replace(s)
	s = strings.Join(strings.Fields(s), " ")
	return truncateRunes(s, maxFieldRunes)
}

func sanitizeAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = sanitizeLine(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
