package ai

import (
	"context"

	"github.com/spigell/jobmatch/internal/quota"
	"github.com/spigell/jobmatch/internal/scoring"
)

// Request carries everything the reasoning service needs to judge a match.
// Ticket is the quota admission for the call and is reused across retries.
type Request struct {
	Ticket        *quota.Ticket
	ApplicationID string
	Base          scoring.Result
	Job           scoring.JobDetails
	Profile       scoring.UserProfile
}

// Adjuster applies a bounded, externally reasoned adjustment to a base score.
type Adjuster interface {
	Adjust(ctx context.Context, req Request) (*scoring.MatchAnalysis, error)
	Provider() string
	Model() string
}
