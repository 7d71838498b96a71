package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spigell/jobmatch/internal/scoring"
)

// EventMatchAnalyzed is published after an analysis has been persisted.
const EventMatchAnalyzed = "EVENT_MATCH_ANALYZED"

// NewRedisClient connects to the Redis instance at url and verifies it.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

type matchAnalyzedEvent struct {
	Type          string    `json:"type"`
	AnalysisID    string    `json:"analysisId"`
	ApplicationID string    `json:"applicationId"`
	UserID        string    `json:"userId"`
	BaseScore     int       `json:"baseScore"`
	AdjustedScore int       `json:"adjustedScore"`
	AnalyzedAt    time.Time `json:"analyzedAt"`
}

// Publisher announces finished analyses on a Redis channel.
type Publisher struct {
	rdb     *redis.Client
	channel string
}

func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{rdb: rdb, channel: EventMatchAnalyzed}
}

func (p *Publisher) PublishMatchAnalyzed(ctx context.Context, userID string, analysis *scoring.MatchAnalysis) error {
	payload, err := encodeMatchAnalyzed(userID, analysis)
	if err != nil {
		return err
	}
	if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", p.channel, err)
	}
	return nil
}

func encodeMatchAnalyzed(userID string, analysis *scoring.MatchAnalysis) ([]byte, error) {
	payload, err := json.Marshal(matchAnalyzedEvent{
		Type:          EventMatchAnalyzed,
		AnalysisID:    analysis.ID,
		ApplicationID: analysis.ApplicationID,
		UserID:        userID,
		BaseScore:     analysis.BaseScore,
		AdjustedScore: analysis.AdjustedScore,
		AnalyzedAt:    analysis.AnalyzedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", EventMatchAnalyzed, err)
	}
	return payload, nil
}
