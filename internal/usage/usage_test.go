package usage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/jobmatch/internal/quota"
)

type memorySink struct {
	mu      sync.Mutex
	entries []Entry
	err     error
	block   chan struct{}
}

func (s *memorySink) Append(_ context.Context, e Entry) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, e)
	return nil
}

func (s *memorySink) all() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}

func TestRecorderDeliversOnClose(t *testing.T) {
	sink := &memorySink{}
	r := NewRecorder(sink, 8, zap.NewNop())

	tokens := 12
	r.Record(Entry{UserID: "u1", Operation: quota.OperationJobAnalysis, Success: true, TokensUsed: &tokens})
	r.Record(Entry{UserID: "u1", Operation: quota.OperationJobAnalysis, ErrorKind: "rate_limited"})

	require.NoError(t, r.Close(context.Background()))

	entries := sink.all()
	require.Len(t, entries, 2)
	assert.NotEmpty(t, entries[0].ID)
	assert.NotEqual(t, entries[0].ID, entries[1].ID)
	assert.False(t, entries[0].Timestamp.IsZero())
	assert.Equal(t, 12, *entries[0].TokensUsed)
	assert.Equal(t, "rate_limited", entries[1].ErrorKind)
}

func TestRecorderDropsWhenFull(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	sink := &memorySink{block: make(chan struct{})}
	r := NewRecorder(sink, 1, zap.New(core))

	for range 5 {
		r.Record(Entry{UserID: "u1", Operation: quota.OperationJobAnalysis})
	}

	close(sink.block)
	require.NoError(t, r.Close(context.Background()))

	assert.Less(t, len(sink.all()), 5)
	assert.NotZero(t, logs.FilterMessage("usage entry dropped, buffer is full").Len())
}

func TestRecorderSinkErrorsAreOnlyLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	sink := &memorySink{err: errors.New("disk full")}
	r := NewRecorder(sink, 4, zap.New(core))

	r.Record(Entry{UserID: "u1", Operation: quota.OperationJobAnalysis})
	require.NoError(t, r.Close(context.Background()))

	assert.Equal(t, 1, logs.FilterMessage("failed to append usage entry").Len())
}

func TestRecordAfterCloseIsIgnored(t *testing.T) {
	sink := &memorySink{}
	r := NewRecorder(sink, 4, zap.NewNop())
	require.NoError(t, r.Close(context.Background()))
	require.NoError(t, r.Close(context.Background()))

	assert.NotPanics(t, func() {
		r.Record(Entry{UserID: "u1", Operation: quota.OperationJobAnalysis})
	})
	assert.Empty(t, sink.all())
}

func TestMultiJoinsErrors(t *testing.T) {
	good := &memorySink{}
	bad := &memorySink{err: errors.New("nope")}

	err := Multi{good, bad}.Append(context.Background(), Entry{ID: "1"})
	require.Error(t, err)
	assert.Len(t, good.all(), 1)
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	latency := int64(250)

	err := LogSink{Logger: zap.New(core)}.Append(context.Background(), Entry{
		ID: "1", UserID: "u1", Operation: quota.OperationJobAnalysis, Success: true, LatencyMS: &latency,
	})
	require.NoError(t, err)

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "job_analysis", fields["operation"])
	assert.Equal(t, int64(250), fields["latency_ms"])
}

func TestSQLiteSinkSummary(t *testing.T) {
	sink, err := OpenSQLite(filepath.Join(t.TempDir(), "nested", "usage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sink.Close() })

	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	tokens := func(n int) *int { return &n }

	entries := []Entry{
		{ID: "1", UserID: "u1", Operation: quota.OperationJobAnalysis, Timestamp: now, Success: true, TokensUsed: tokens(100)},
		{ID: "2", UserID: "u1", Operation: quota.OperationJobAnalysis, Timestamp: now.Add(time.Minute), Success: true, TokensUsed: tokens(50)},
		{ID: "3", UserID: "u1", Operation: quota.OperationJobAnalysis, Timestamp: now.Add(2 * time.Minute), ErrorKind: "rate_limited"},
		{ID: "4", UserID: "u1", Operation: quota.OperationResumeParse, Timestamp: now.Add(-48 * time.Hour), Success: true},
		{ID: "5", UserID: "u2", Operation: quota.OperationJobAnalysis, Timestamp: now, Success: true, TokensUsed: tokens(7)},
	}
	for _, e := range entries {
		require.NoError(t, sink.Append(ctx, e))
	}

	summary, err := sink.Summary(ctx, "u1", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []Summary{{Operation: quota.OperationJobAnalysis, Calls: 3, Failures: 1, Tokens: 150}}, summary)

	summary, err = sink.Summary(ctx, "u1", now.Add(-72*time.Hour))
	require.NoError(t, err)
	assert.Len(t, summary, 2)
}

func TestSQLiteSinkRejectsDuplicateIDs(t *testing.T) {
	sink, err := OpenSQLite(filepath.Join(t.TempDir(), "usage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sink.Close() })

	e := Entry{ID: "dup", UserID: "u1", Operation: quota.OperationJobAnalysis, Timestamp: time.Now()}
	require.NoError(t, sink.Append(context.Background(), e))
	assert.Error(t, sink.Append(context.Background(), e))
}
