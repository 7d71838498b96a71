// Package match runs a job match analysis end to end: load, score, admit,
// adjust, persist.
package match

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/jobmatch/internal/ai"
	"github.com/spigell/jobmatch/internal/logger"
	"github.com/spigell/jobmatch/internal/metrics"
	"github.com/spigell/jobmatch/internal/quota"
	"github.com/spigell/jobmatch/internal/scoring"
	"github.com/spigell/jobmatch/internal/store"
	"github.com/spigell/jobmatch/internal/usage"
)

// Store is the data-store collaborator.
type Store interface {
	LoadJobAndProfile(ctx context.Context, applicationID, userID string) (*store.Snapshot, error)
	PersistMatchAnalysis(ctx context.Context, applicationID string, analysis *scoring.MatchAnalysis) error
}

type Admitter interface {
	TryAdmit(userID string, op quota.Operation) (quota.Decision, error)
}

type UsageRecorder interface {
	Record(entry usage.Entry)
}

type EventPublisher interface {
	PublishMatchAnalyzed(ctx context.Context, userID string, analysis *scoring.MatchAnalysis) error
}

// Deps are the collaborators of an Orchestrator. Store, Quota and Adjuster
// are required.
type Deps struct {
	Store    Store
	Quota    Admitter
	Adjuster ai.Adjuster
	Scorer   *scoring.Scorer
	Usage    UsageRecorder
	Events   EventPublisher
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

type Orchestrator struct {
	store    Store
	quota    Admitter
	adjuster ai.Adjuster
	scorer   *scoring.Scorer
	usage    UsageRecorder
	events   EventPublisher
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

func NewOrchestrator(deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("match: store is required")
	case deps.Quota == nil:
		return nil, errors.New("match: quota tracker is required")
	case deps.Adjuster == nil:
		return nil, errors.New("match: adjuster is required")
	}

	o := &Orchestrator{
		store:    deps.Store,
		quota:    deps.Quota,
		adjuster: deps.Adjuster,
		scorer:   deps.Scorer,
		usage:    deps.Usage,
		events:   deps.Events,
		metrics:  deps.Metrics,
		logger:   logger.WithCommonFields(deps.Logger, deps.Adjuster.Provider(), deps.Adjuster.Model()),
		now:      time.Now,
	}
	if o.scorer == nil {
		o.scorer = scoring.NewScorer(nil)
	}
	return o, nil
}

// AnalyzeJobMatch scores the application's job against the user's profile,
// has the score adjusted by the reasoning service and persists the result.
// Any failure after loading fails the whole call; an unadjusted score is
// never returned.
func (o *Orchestrator) AnalyzeJobMatch(ctx context.Context, userID, applicationID string) (*scoring.MatchAnalysis, error) {
	userID = strings.TrimSpace(userID)
	applicationID = strings.TrimSpace(applicationID)

	log := o.logger.With(logger.RequestFields(userID, applicationID, string(quota.OperationJobAnalysis))...)

	analysis, err := o.analyze(ctx, log, userID, applicationID)

	desc := Describe(err)
	o.metrics.Outcome(desc.Code)
	if err != nil {
		log.Warn("job match analysis failed", zap.String("code", desc.Code), zap.Error(err))
		return nil, err
	}

	log.Info("job match analyzed",
		zap.Int("base_score", analysis.BaseScore),
		zap.Int("adjustment", analysis.Adjustment),
		zap.Int("adjusted_score", analysis.AdjustedScore),
	)
	return analysis, nil
}

func (o *Orchestrator) analyze(ctx context.Context, log *zap.Logger, userID, applicationID string) (*scoring.MatchAnalysis, error) {
	if userID == "" {
		return nil, &ValidationError{Field: "user", Message: "A user is required to analyze a job match."}
	}
	if applicationID == "" {
		return nil, &ValidationError{Field: "application", Message: "Choose an application to analyze."}
	}

	snap, err := o.store.LoadJobAndProfile(ctx, applicationID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &PersistenceError{Op: opLoad, Err: err}
	}

	r := newRun(log)
	defer r.fail()

	if err := validateSnapshot(snap); err != nil {
		return nil, err
	}

	base := o.scorer.ComputeBaseScore(snap.Job, *snap.Profile, o.now().UTC())
	if err := r.advance(StateScored); err != nil {
		return nil, err
	}
	o.metrics.BaseScore(base.Breakdown.Total)

	log.Debug("base score computed",
		zap.Int("skills", base.Breakdown.Skills),
		zap.Int("experience", base.Breakdown.Experience),
		zap.Int("education", base.Breakdown.Education),
		zap.Int("other", base.Breakdown.Other),
		zap.Int("total", base.Breakdown.Total),
	)

	decision, err := o.quota.TryAdmit(userID, quota.OperationJobAnalysis)
	if err != nil {
		return nil, err
	}
	if !decision.Admitted {
		if err := r.advance(StateQuotaRejected); err != nil {
			return nil, err
		}
		rejected := decision.Err(userID, quota.OperationJobAnalysis)
		o.metrics.QuotaRejected(string(quota.OperationJobAnalysis))
		o.recordUsage(userID, nil, 0, rejected)
		return nil, rejected
	}
	if err := r.advance(StateQuotaChecked); err != nil {
		return nil, err
	}

	started := o.now()
	analysis, err := o.adjuster.Adjust(ctx, ai.Request{
		Ticket:        decision.Ticket(),
		ApplicationID: applicationID,
		Base:          base,
		Job:           snap.Job,
		Profile:       *snap.Profile,
	})
	latency := o.now().Sub(started)

	o.recordUsage(userID, analysis, latency, err)
	tokens, _ := billedTokens(analysis, err)
	o.metrics.Upstream(o.adjuster.Provider(), Describe(err).Code, latency, tokens)

	if err != nil {
		return nil, err
	}
	if err := r.advance(StateAdjusted); err != nil {
		return nil, err
	}
	o.metrics.Adjusted(analysis.Adjustment, analysis.AdjustedScore)

	if err := o.store.PersistMatchAnalysis(ctx, applicationID, analysis); err != nil {
		return nil, &PersistenceError{Op: opSave, Err: err}
	}
	if err := r.advance(StatePersisted); err != nil {
		return nil, err
	}

	if o.events != nil {
		if err := o.events.PublishMatchAnalyzed(ctx, userID, analysis); err != nil {
			log.Warn("publish match analyzed event failed", zap.Error(err))
		}
	}

	return analysis, nil
}

func validateSnapshot(snap *store.Snapshot) error {
	switch {
	case snap == nil || snap.Profile == nil:
		return &ValidationError{Field: "profile", Message: "Create your profile before analyzing a job match."}
	case len(nonBlank(snap.Profile.Skills)) == 0:
		return &ValidationError{Field: "skills", Message: "Add at least one skill to your profile before analyzing a job match."}
	case strings.TrimSpace(snap.Job.Description) == "":
		return &ValidationError{Field: "description", Message: "This job has no description to analyze."}
	}
	return nil
}

func nonBlank(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}

// recordUsage logs one attempted adjustment, including quota rejections.
func (o *Orchestrator) recordUsage(userID string, analysis *scoring.MatchAnalysis, latency time.Duration, err error) {
	if o.usage == nil {
		return
	}

	entry := usage.Entry{
		UserID:    userID,
		Operation: quota.OperationJobAnalysis,
		Timestamp: o.now().UTC(),
		Success:   err == nil,
	}
	if err != nil {
		entry.ErrorKind = Describe(err).Code
	}
	if latency > 0 {
		ms := latency.Milliseconds()
		entry.LatencyMS = &ms
	}
	if tokens, ok := billedTokens(analysis, err); ok {
		entry.TokensUsed = &tokens
	}

	o.usage.Record(entry)
}

// billedTokens returns the tokens of a completed adjustment, or those the
// provider billed for an answer that was then rejected.
func billedTokens(analysis *scoring.MatchAnalysis, err error) (int, bool) {
	if analysis != nil {
		return analysis.TokensUsed, true
	}
	return ai.BilledTokens(err)
}
