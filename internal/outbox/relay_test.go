package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/article-pipeline-service/internal/database"
	"github.com/helixir/article-pipeline-service/internal/domain"
	"github.com/helixir/article-pipeline-service/internal/observability"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

var pendingColumns = []string{
	"id", "event_version", "aggregate_id", "aggregate_type", "event_type",
	"payload", "metadata", "attempts", "max_attempts", "created_at",
}

func expectLeader(mock pgxmock.PgxPoolIface, leader bool) {
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT pg_try_advisory_xact_lock").
		WithArgs(database.AdvisoryKey(relayLockName)).
		WillReturnRows(pgxmock.NewRows([]string{"pg_try_advisory_xact_lock"}).AddRow(leader))
}

func pendingRows() *pgxmock.Rows {
	now := time.Now().UTC()
	return pgxmock.NewRows(pendingColumns).
		AddRow("e1", 1, "a-1", domain.AggregateArticle, domain.EventTypeArticleQueued,
			[]byte(`{"status":"queued"}`), []byte(`{"source":"test"}`), 0, 5, now).
		AddRow("e2", 1, "a-2", domain.AggregateArticle, domain.EventTypeArticleFailed,
			[]byte(`{"status":"failed"}`), []byte(`{}`), 1, 5, now)
}

func newTestRelay(t *testing.T, w MessageWriter) (*Relay, pgxmock.PgxPoolIface, *observability.Metrics) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	metrics := observability.NewMetricsWithRegistry("outbox_test", prometheus.NewRegistry())
	relay := NewRelay(mock, NewPgRepository(mock), w, RelayConfig{BatchSize: 10}, zerolog.Nop(), metrics)
	return relay, mock, metrics
}

func TestRelay_ProcessBatch_Publishes(t *testing.T) {
	w := &fakeWriter{}
	relay, mock, metrics := newTestRelay(t, w)

	expectLeader(mock, true)
	mock.ExpectQuery("FROM outbox_events").WithArgs(10).WillReturnRows(pendingRows())
	mock.ExpectExec("SET status = 'published'").
		WithArgs([]string{"e1", "e2"}, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	mock.ExpectCommit()

	n, err := relay.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, w.msgs, 2)
	assert.Equal(t, "a-1", string(w.msgs[0].Key))

	var env Envelope
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &env))
	assert.Equal(t, "e1", env.EventID)
	assert.Equal(t, domain.EventTypeArticleQueued, env.EventType)
	assert.JSONEq(t, `{"status":"queued"}`, string(env.Payload))
	assert.Equal(t, "test", env.Metadata["source"])

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.OutboxPublished))
}

func TestRelay_ProcessBatch_NotLeader(t *testing.T) {
	w := &fakeWriter{}
	relay, mock, _ := newTestRelay(t, w)

	expectLeader(mock, false)

	n, err := relay.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, w.msgs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRelay_ProcessBatch_Empty(t *testing.T) {
	relay, mock, _ := newTestRelay(t, &fakeWriter{})

	expectLeader(mock, true)
	mock.ExpectQuery("FROM outbox_events").WithArgs(10).WillReturnRows(pgxmock.NewRows(pendingColumns))
	mock.ExpectCommit()

	n, err := relay.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRelay_ProcessBatch_WriteFailureCountsAttempt(t *testing.T) {
	relay, mock, metrics := newTestRelay(t, &fakeWriter{err: errors.New("broker unavailable")})

	expectLeader(mock, true)
	mock.ExpectQuery("FROM outbox_events").WithArgs(10).WillReturnRows(pendingRows())
	mock.ExpectExec("SET attempts = attempts \\+ 1").
		WithArgs([]string{"e1", "e2"}, "broker unavailable").
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	mock.ExpectCommit()

	n, err := relay.ProcessBatch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker unavailable")
	assert.Zero(t, n)
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.OutboxFailed))
}

func TestRelay_RunStopsOnCancel(t *testing.T) {
	relay, mock, _ := newTestRelay(t, &fakeWriter{})
	mock.MatchExpectationsInOrder(false)
	for i := 0; i < 2; i++ {
		expectLeader(mock, false)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestPgRepository_InsertEvent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	event, err := NewEmitter(EmitterConfig{}).Emit(EmitParams{
		AggregateID: "a-1", AggregateType: domain.AggregateArticle, EventType: domain.EventTypeArticleQueued,
	})
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO outbox_events").
		WithArgs(event.EventID, 1, "a-1", domain.AggregateArticle, domain.EventTypeArticleQueued,
			event.Payload, pgxmock.AnyArg(), DefaultMaxAttempts, event.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, NewPgRepository(mock).InsertEvent(context.Background(), nil, event, 0))
	require.NoError(t, mock.ExpectationsWereMet())
}
