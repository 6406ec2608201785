package workers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"scholarshipboard/contexts/scholarship-fund/distribution-batch-service/adapters/memory"
	"scholarshipboard/contexts/scholarship-fund/distribution-batch-service/application/commands"
	"scholarshipboard/contexts/scholarship-fund/distribution-batch-service/domain/entities"
	"scholarshipboard/contexts/scholarship-fund/distribution-batch-service/ports"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu       sync.Mutex
	failOn   int
	calls    int
	received []ports.EventEnvelope
	topics   []string
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, event ports.EventEnvelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.failOn > 0 && p.calls == p.failOn {
		return errors.New("broker unavailable")
	}
	p.topics = append(p.topics, topic)
	p.received = append(p.received, event)
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seededStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore([]entities.StudentCredit{
		{StudentID: "stu-a", Credits: 100, ScholarshipUSD: decimal.Zero},
	})
	uc := commands.BatchUseCase{
		Batches:   store,
		Approvals: store,
		Execution: store,
		Comments:  store,
		Clock:     store,
		IDGen:     store,
		Logger:    quietLogger(),
	}
	created, err := uc.CreateBatch(context.Background(), commands.CreateBatchCommand{
		Creator:      entities.Member{MemberID: "m-1", IsAdmin: true},
		TotalFundUSD: decimal.NewFromInt(50),
	})
	require.NoError(t, err)
	_, err = uc.ApproveBatch(context.Background(), commands.ApproveBatchCommand{
		BatchID: created.Batch.BatchID,
		Member:  entities.Member{MemberID: "m-2"},
	})
	require.NoError(t, err)
	return store
}

func TestOutboxRelayPublishesPendingRowsOnce(t *testing.T) {
	store := seededStore(t)
	publisher := &recordingPublisher{}
	relay := OutboxRelay{Outbox: store, Publisher: publisher, Clock: store, BatchSize: 10, Logger: quietLogger()}

	published, err := relay.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, published)
	require.Equal(t, []string{commands.EventBatchCreated, commands.EventBatchApproved}, publisher.topics)
	require.Equal(t, "1", publisher.received[0].PartitionKey)

	published, err = relay.RunOnce(context.Background())
	require.NoError(t, err)
	require.Zero(t, published)
	require.Len(t, publisher.received, 2)
}

func TestOutboxRelayStopsAtFirstFailureAndResumes(t *testing.T) {
	store := seededStore(t)
	publisher := &recordingPublisher{failOn: 2}
	relay := OutboxRelay{Outbox: store, Publisher: publisher, Clock: store, Logger: quietLogger()}

	published, err := relay.RunOnce(context.Background())
	require.Error(t, err)
	require.Equal(t, 1, published)

	pending, err := store.ListPendingOutbox(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, commands.EventBatchApproved, pending[0].EventType)

	published, err = relay.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, published)
	require.Equal(t, []string{commands.EventBatchCreated, commands.EventBatchApproved}, publisher.topics)
}

func TestOutboxRelayHonoursBatchSize(t *testing.T) {
	store := seededStore(t)
	publisher := &recordingPublisher{}
	relay := OutboxRelay{Outbox: store, Publisher: publisher, BatchSize: 1, Logger: quietLogger()}

	published, err := relay.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, published)
}

func TestPresenceSweeperPrunesStaleEntries(t *testing.T) {
	store := memory.NewStore(nil)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, store.Touch(ctx, entities.Member{MemberID: "fresh"}, now.Add(-time.Minute)))
	require.NoError(t, store.Touch(ctx, entities.Member{MemberID: "stale"}, now.Add(-time.Hour)))

	sweeper := PresenceSweeper{Presence: store, Clock: store, Retention: 10 * time.Minute, Logger: quietLogger()}
	removed, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	online, err := store.ListOnline(ctx, now, 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, online, 1)
	require.Equal(t, "fresh", online[0].Member.MemberID)
}
