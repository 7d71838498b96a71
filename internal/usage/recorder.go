// Package usage keeps the append-only log of costed operation attempts.
package usage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spigell/jobmatch/internal/quota"
)

const (
	defaultBuffer = 256
	appendTimeout = 5 * time.Second
)

// Entry is one attempted call of a costed operation. Entries are never updated.
type Entry struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	Operation  quota.Operation `json:"operation"`
	Timestamp  time.Time       `json:"timestamp"`
	Success    bool            `json:"success"`
	TokensUsed *int            `json:"tokens_used,omitempty"`
	LatencyMS  *int64          `json:"latency_ms,omitempty"`
	ErrorKind  string          `json:"error_kind,omitempty"`
}

// Summary aggregates entries of one operation type.
type Summary struct {
	Operation quota.Operation `json:"operation"`
	Calls     int             `json:"calls"`
	Failures  int             `json:"failures"`
	Tokens    int             `json:"tokens"`
}

// Sink stores entries.
type Sink interface {
	Append(ctx context.Context, entry Entry) error
}

// Summarizer reports aggregated usage of a user since a point in time.
type Summarizer interface {
	Summary(ctx context.Context, userID string, since time.Time) ([]Summary, error)
}

var ErrClosed = errors.New("usage recorder is closed")

// Recorder appends entries to a sink in the background. Record never blocks
// and never fails the caller: entries are dropped with a warning when the
// buffer is full or the sink fails.
type Recorder struct {
	sink   Sink
	logger *zap.Logger
	now    func() time.Time

	mu      sync.RWMutex
	closed  bool
	entries chan Entry
	done    chan struct{}
}

func NewRecorder(sink Sink, buffer int, logger *zap.Logger) *Recorder {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Recorder{
		sink:    sink,
		logger:  logger,
		now:     time.Now,
		entries: make(chan Entry, buffer),
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

// Record queues entry, filling in the id and timestamp when missing.
func (r *Recorder) Record(entry Entry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = r.now().UTC()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.logger.Warn("usage entry dropped", zap.Error(ErrClosed), zap.String("operation", string(entry.Operation)))
		return
	}

	select {
	case r.entries <- entry:
	default:
		r.logger.Warn("usage entry dropped, buffer is full",
			zap.String("user_id", entry.UserID),
			zap.String("operation", string(entry.Operation)),
		)
	}
}

// Close stops accepting entries and waits until the queue is drained or ctx
// is done.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.entries)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) run() {
	defer close(r.done)

	for entry := range r.entries {
		ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
		if err := r.sink.Append(ctx, entry); err != nil {
			r.logger.Warn("failed to append usage entry",
				zap.String("user_id", entry.UserID),
				zap.String("operation", string(entry.Operation)),
				zap.Error(err),
			)
		}
		cancel()
	}
}

// LogSink writes entries to the log only.
type LogSink struct {
	Logger *zap.Logger
}

func (s LogSink) Append(_ context.Context, entry Entry) error {
	fields := []zap.Field{
		zap.String("id", entry.ID),
		zap.String("user_id", entry.UserID),
		zap.String("operation", string(entry.Operation)),
		zap.Bool("success", entry.Success),
	}
	if entry.TokensUsed != nil {
		fields = append(fields, zap.Int("tokens_used", *entry.TokensUsed))
	}
	if entry.LatencyMS != nil {
		fields = append(fields, zap.Int64("latency_ms", *entry.LatencyMS))
	}
	if entry.ErrorKind != "" {
		fields = append(fields, zap.String("error_kind", entry.ErrorKind))
	}
	if s.Logger != nil {
		s.Logger.Info("usage", fields...)
	}
	return nil
}

// Multi fans an entry out to several sinks and joins their errors.
type Multi []Sink

func (m Multi) Append(ctx context.Context, entry Entry) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Append(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
