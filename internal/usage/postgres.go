package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spigell/jobmatch/internal/quota"
)

// PostgresSink appends entries to the usage_log table of the main database.
type PostgresSink struct {
	pool *pgxpool.Pool
}

func NewPostgresSink(pool *pgxpool.Pool) *PostgresSink {
	return &PostgresSink{pool: pool}
}

func (s *PostgresSink) Append(ctx context.Context, e Entry) error {
	var errorKind *string
	if e.ErrorKind != "" {
		errorKind = &e.ErrorKind
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO usage_log (id, user_id, operation, created_at, success, tokens_used, latency_ms, error_kind)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.UserID, string(e.Operation), e.Timestamp, e.Success, e.TokensUsed, e.LatencyMS, errorKind,
	)
	if err != nil {
		return fmt.Errorf("usage insert: %w", err)
	}
	return nil
}

func (s *PostgresSink) Summary(ctx context.Context, userID string, since time.Time) ([]Summary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT operation, COUNT(*)::int, COUNT(*) FILTER (WHERE NOT success)::int, COALESCE(SUM(tokens_used), 0)::int
		 FROM usage_log
		 WHERE user_id = $1 AND created_at >= $2
		 GROUP BY operation
		 ORDER BY operation`,
		userID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("usage summary query: %w", err)
	}
	defer rows.Close()

	out := make([]Summary, 0)
	for rows.Next() {
		var (
			sum Summary
			op  string
		)
		if err := rows.Scan(&op, &sum.Calls, &sum.Failures, &sum.Tokens); err != nil {
			return nil, fmt.Errorf("usage summary scan: %w", err)
		}
		sum.Operation = quota.Operation(op)
		out = append(out, sum)
	}
	return out, rows.Err()
}
