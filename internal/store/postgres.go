// Package store is the Postgres-backed data store for jobs, profiles,
// applications and their match analyses.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "embed"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spigell/jobmatch/internal/scoring"
)

// ErrNotFound is returned when an application does not exist or belongs to
// another user.
var ErrNotFound = errors.New("not found")

//go:embed schema.sql
var schema string

// Snapshot is the job and profile data of one application. Profile is nil
// when the user has not created one yet.
type Snapshot struct {
	ApplicationID string
	UserID        string
	Job           scoring.JobDetails
	Profile       *scoring.UserProfile
}

// Application is a row of the user's application list.
type Application struct {
	ID         string    `json:"id"`
	JobTitle   string    `json:"job_title"`
	Company    string    `json:"company"`
	Status     string    `json:"status"`
	MatchScore *int      `json:"match_score,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewPostgresPool creates and verifies a pgxpool connection pool.
func NewPostgresPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	return pool, nil
}

type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Migrate creates missing tables.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// LoadJobAndProfile reads the job of the application and the owner's profile.
func (p *Postgres) LoadJobAndProfile(ctx context.Context, applicationID, userID string) (*Snapshot, error) {
	snap := &Snapshot{ApplicationID: applicationID, UserID: userID}
	job := &snap.Job

	err := p.pool.QueryRow(ctx,
		`SELECT j.title, j.company, j.description, j.location, j.job_type,
		        j.salary_min, j.salary_max, j.salary_currency
		 FROM applications a
		 JOIN jobs j ON j.id = a.job_id
		 WHERE a.id = $1 AND a.user_id = $2`,
		applicationID, userID,
	).Scan(
		&job.Title, &job.Company, &job.Description, &job.Location, &job.JobType,
		&job.Salary.Min, &job.Salary.Max, &job.Salary.Currency,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}

	profile, err := p.loadProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	snap.Profile = profile

	return snap, nil
}

func (p *Postgres) loadProfile(ctx context.Context, userID string) (*scoring.UserProfile, error) {
	var profile scoring.UserProfile

	err := p.pool.QueryRow(ctx,
		`SELECT skills, preferred_locations, preferred_job_types,
		        salary_min, salary_max, salary_currency
		 FROM profiles WHERE user_id = $1`,
		userID,
	).Scan(
		&profile.Skills, &profile.PreferredLocations, &profile.PreferredJobTypes,
		&profile.SalaryExpectation.Min, &profile.SalaryExpectation.Max, &profile.SalaryExpectation.Currency,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	rows, err := p.pool.Query(ctx,
		`SELECT company, position, start_date, end_date, is_current, skills_used
		 FROM experiences WHERE user_id = $1 ORDER BY start_date NULLS LAST, id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("load experience: %w", err)
	}
	profile.Experience, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (scoring.ExperienceEntry, error) {
		var (
			e     scoring.ExperienceEntry
			start *time.Time
		)
		err := row.Scan(&e.Company, &e.Position, &start, &e.EndDate, &e.IsCurrent, &e.SkillsUsed)
		if start != nil {
			e.StartDate = *start
		}
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan experience: %w", err)
	}

	rows, err = p.pool.Query(ctx,
		`SELECT institution, degree, field_of_study, end_date
		 FROM educations WHERE user_id = $1 ORDER BY id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("load education: %w", err)
	}
	profile.Education, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (scoring.EducationEntry, error) {
		var e scoring.EducationEntry
		err := row.Scan(&e.Institution, &e.Degree, &e.FieldOfStudy, &e.EndDate)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan education: %w", err)
	}

	return &profile, nil
}

// PersistMatchAnalysis stores the analysis and updates the application's
// score in one transaction. Concurrent analyses of the same application are
// not serialized: the last commit wins.
func (p *Postgres) PersistMatchAnalysis(ctx context.Context, applicationID string, analysis *scoring.MatchAnalysis) error {
	breakdown, err := json.Marshal(analysis.Breakdown)
	if err != nil {
		return fmt.Errorf("marshal breakdown: %w", err)
	}

	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE applications SET match_score = $2, updated_at = now() WHERE id = $1`,
			applicationID, analysis.AdjustedScore,
		)
		if err != nil {
			return fmt.Errorf("update application: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO match_analyses (
			   id, application_id, base_score, adjusted_score, adjustment, reasoning,
			   matching_skills, missing_skills, strengths, concerns, recommendations,
			   breakdown, model, tokens_used, analyzed_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			analysis.ID, applicationID, analysis.BaseScore, analysis.AdjustedScore, analysis.Adjustment, analysis.Reasoning,
			nonNil(analysis.MatchingSkills), nonNil(analysis.MissingSkills), nonNil(analysis.Strengths),
			nonNil(analysis.Concerns), nonNil(analysis.Recommendations),
			breakdown, analysis.Model, analysis.TokensUsed, analysis.AnalyzedAt,
		)
		if err != nil {
			return fmt.Errorf("insert match analysis: %w", err)
		}
		return nil
	})
}

// ListApplications returns the user's applications, most recently updated first.
func (p *Postgres) ListApplications(ctx context.Context, userID string) ([]Application, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT a.id, j.title, j.company, a.status, a.match_score, a.updated_at
		 FROM applications a
		 JOIN jobs j ON j.id = a.job_id
		 WHERE a.user_id = $1
		 ORDER BY a.updated_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listApplications query: %w", err)
	}
	defer rows.Close()

	apps := make([]Application, 0)
	for rows.Next() {
		var a Application
		if err := rows.Scan(&a.ID, &a.JobTitle, &a.Company, &a.Status, &a.MatchScore, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("listApplications scan: %w", err)
		}
		apps = append(apps, a)
	}
	return apps, rows.Err()
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
