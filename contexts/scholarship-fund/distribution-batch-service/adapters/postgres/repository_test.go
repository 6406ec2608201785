package postgresadapter

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"scholarshipboard/contexts/scholarship-fund/distribution-batch-service/domain/entities"
	domainerrors "scholarshipboard/contexts/scholarship-fund/distribution-batch-service/domain/errors"
	"scholarshipboard/contexts/scholarship-fund/distribution-batch-service/ports"
	"scholarshipboard/internal/platform/db"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const racers = 8

var (
	boardAdmin = entities.Member{MemberID: "m-admin", DisplayName: "Ada", Email: "ada@example.org", IsAdmin: true}
	boardBea   = entities.Member{MemberID: "m-bea", DisplayName: "Bea"}
	boardCal   = entities.Member{MemberID: "m-cal", DisplayName: "Cal"}
	fixedNow   = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

// newTestRepository migrates a throwaway schema on the server named by
// POSTGRES_DSN and drops it when the test ends.
func newTestRepository(t *testing.T) (*Repository, *db.Postgres) {
	t.Helper()
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_DSN not set")
	}
	admin, err := db.Connect(dsn, db.Options{MaxOpenConns: 2})
	require.NoError(t, err)
	schema := "board_test_" + strconv.FormatInt(time.Now().UnixNano(), 10)
	require.NoError(t, admin.DB.Exec("CREATE SCHEMA "+schema).Error)
	t.Cleanup(func() {
		_ = admin.DB.Exec("DROP SCHEMA IF EXISTS " + schema + " CASCADE").Error
		_ = admin.Close()
	})

	pg, err := db.Connect(withSearchPath(dsn, schema), db.Options{MaxOpenConns: racers + 2})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Close() })
	require.NoError(t, pg.Migrate(context.Background()))
	return NewRepository(pg.DB, nil), pg
}

func withSearchPath(dsn string, schema string) string {
	if strings.Contains(dsn, "://") {
		separator := "?"
		if strings.Contains(dsn, "?") {
			separator = "&"
		}
		return dsn + separator + "search_path=" + schema
	}
	return dsn + " search_path=" + schema
}

func seedStudents(t *testing.T, pg *db.Postgres, students ...studentModel) {
	t.Helper()
	for i := range students {
		students[i].UpdatedAt = fixedNow
	}
	require.NoError(t, pg.DB.Create(&students).Error)
}

func testEvent(eventType string) ports.EventFactory {
	return func(batch entities.Batch, data map[string]any) (ports.EventEnvelope, error) {
		body, err := json.Marshal(data)
		if err != nil {
			return ports.EventEnvelope{}, err
		}
		return ports.EventEnvelope{
			EventID:       uuid.NewString(),
			EventType:     eventType,
			OccurredAt:    fixedNow,
			SchemaVersion: 1,
			PartitionKey:  strconv.FormatInt(batch.BatchID, 10),
			Data:          body,
		}, nil
	}
}

func createParams(fund string) ports.CreateBatchParams {
	amount := decimal.RequireFromString(fund)
	return ports.CreateBatchParams{
		TotalFundUSD: amount,
		Creator:      boardAdmin,
		CreatedAt:    fixedNow,
		Plan: func(batchID int64, students []entities.StudentCredit) ([]entities.Allocation, error) {
			return entities.Allocate(batchID, amount, students)
		},
		Event: testEvent("scholarship.batch.created"),
	}
}

func approve(t *testing.T, repo *Repository, batchID int64, members ...entities.Member) {
	t.Helper()
	for _, member := range members {
		_, err := repo.ApproveBatch(context.Background(), ports.ApproveBatchParams{
			BatchID:    batchID,
			Member:     member,
			ApprovedAt: fixedNow,
			Event:      testEvent("scholarship.batch.approved"),
		})
		require.NoError(t, err)
	}
}

func executeParams(batchID int64) ports.ExecuteBatchParams {
	return ports.ExecuteBatchParams{
		BatchID:    batchID,
		ExecutorID: boardAdmin.MemberID,
		Quorum:     entities.DefaultQuorum,
		ExecutedAt: fixedNow.Add(time.Hour),
		Event:      testEvent("scholarship.batch.distributed"),
	}
}

func countOutbox(t *testing.T, pg *db.Postgres, eventType string) int64 {
	t.Helper()
	var count int64
	require.NoError(t, pg.DB.Model(&outboxModel{}).Where("event_type = ?", eventType).Count(&count).Error)
	return count
}

// race runs fn from several goroutines released together and returns the
// errors in no particular order.
func race(fn func() error) []error {
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, racers)
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs[i] = fn()
		}(i)
	}
	close(start)
	wg.Wait()
	return errs
}

func requireOneWinner(t *testing.T, errs []error, loser error) {
	t.Helper()
	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		require.True(t, errors.Is(err, loser), "unexpected error: %v", err)
	}
	require.Equal(t, 1, wins)
}

func TestConcurrentCreateLeavesOnePendingBatch(t *testing.T) {
	repo, pg := newTestRepository(t)
	seedStudents(t, pg,
		studentModel{StudentID: "stu-a", DisplayName: "Ana", Credits: 100},
		studentModel{StudentID: "stu-b", DisplayName: "Ben", Credits: 200},
	)

	errs := race(func() error {
		_, _, err := repo.CreatePendingBatch(context.Background(), createParams("300.00"))
		return err
	})
	requireOneWinner(t, errs, domainerrors.ErrPendingBatchExists)

	var batches int64
	require.NoError(t, pg.DB.Model(&batchModel{}).Count(&batches).Error)
	require.EqualValues(t, 1, batches)
	require.EqualValues(t, 1, countOutbox(t, pg, "scholarship.batch.created"))

	batch, ok, err := repo.GetPendingBatch(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 300, batch.TotalCredits)
	require.Equal(t, "ada@example.org", batch.CreatedBy.Email)

	allocations, err := repo.ListAllocations(context.Background(), batch.BatchID)
	require.NoError(t, err)
	require.Len(t, allocations, 2)
	require.Equal(t, "stu-b", allocations[0].StudentID)
	require.Equal(t, "200.00", allocations[0].USDAmount.StringFixed(2))
}

func TestApprovalsAreUniquePerMember(t *testing.T) {
	repo, pg := newTestRepository(t)
	seedStudents(t, pg, studentModel{StudentID: "stu-a", Credits: 10})
	batch, _, err := repo.CreatePendingBatch(context.Background(), createParams("50.00"))
	require.NoError(t, err)

	errs := race(func() error {
		_, err := repo.ApproveBatch(context.Background(), ports.ApproveBatchParams{
			BatchID:    batch.BatchID,
			Member:     boardBea,
			ApprovedAt: fixedNow,
			Event:      testEvent("scholarship.batch.approved"),
		})
		return err
	})
	requireOneWinner(t, errs, domainerrors.ErrAlreadyApproved)

	approve(t, repo, batch.BatchID, boardAdmin, boardCal)
	approvals, err := repo.ListApprovals(context.Background(), batch.BatchID)
	require.NoError(t, err)
	require.Len(t, approvals, 3)
	require.EqualValues(t, 3, countOutbox(t, pg, "scholarship.batch.approved"))
}

func TestConcurrentExecuteDebitsOnce(t *testing.T) {
	repo, pg := newTestRepository(t)
	seedStudents(t, pg,
		studentModel{StudentID: "stu-a", Credits: 100},
		studentModel{StudentID: "stu-b", Credits: 200},
	)
	batch, _, err := repo.CreatePendingBatch(context.Background(), createParams("300.00"))
	require.NoError(t, err)

	_, err = repo.ExecuteBatch(context.Background(), executeParams(batch.BatchID))
	require.ErrorIs(t, err, domainerrors.ErrNotReady)
	approve(t, repo, batch.BatchID, boardAdmin, boardBea, boardCal)

	var (
		mu      sync.Mutex
		results []entities.ExecutionResult
	)
	errs := race(func() error {
		result, err := repo.ExecuteBatch(context.Background(), executeParams(batch.BatchID))
		if err == nil {
			mu.Lock()
			results = append(results, result)
			mu.Unlock()
		}
		return err
	})
	requireOneWinner(t, errs, domainerrors.ErrAlreadyDistributed)
	require.Len(t, results, 1)
	require.Equal(t, 2, results[0].StudentsProcessed)
	require.Equal(t, "300.00", results[0].TotalUSDDistributed.StringFixed(2))

	var students []studentModel
	require.NoError(t, pg.DB.Order("student_id ASC").Find(&students).Error)
	require.Len(t, students, 2)
	for _, student := range students {
		require.EqualValues(t, 0, student.Credits, student.StudentID)
	}
	require.Equal(t, "100.00", students[0].ScholarshipUSD.StringFixed(2))
	require.Equal(t, "200.00", students[1].ScholarshipUSD.StringFixed(2))
	require.EqualValues(t, 1, countOutbox(t, pg, "scholarship.batch.distributed"))

	stored, err := repo.GetBatch(context.Background(), batch.BatchID)
	require.NoError(t, err)
	require.Equal(t, entities.BatchStatusDistributed, stored.Status)
	require.Equal(t, boardAdmin.MemberID, stored.DistributedBy)

	_, err = repo.ApproveBatch(context.Background(), ports.ApproveBatchParams{
		BatchID: batch.BatchID, Member: entities.Member{MemberID: "m-late"}, ApprovedAt: fixedNow,
	})
	require.ErrorIs(t, err, domainerrors.ErrNotPending)
}

func TestExecuteRollsBackWhenBalanceDropped(t *testing.T) {
	repo, pg := newTestRepository(t)
	seedStudents(t, pg,
		studentModel{StudentID: "stu-a", Credits: 100},
		studentModel{StudentID: "stu-b", Credits: 200},
	)
	batch, _, err := repo.CreatePendingBatch(context.Background(), createParams("300.00"))
	require.NoError(t, err)
	approve(t, repo, batch.BatchID, boardAdmin, boardBea, boardCal)

	require.NoError(t, pg.DB.Model(&studentModel{}).Where("student_id = ?", "stu-b").Update("credits", 150).Error)

	_, err = repo.ExecuteBatch(context.Background(), executeParams(batch.BatchID))
	require.ErrorIs(t, err, domainerrors.ErrStudentBalanceChanged)

	var first studentModel
	require.NoError(t, pg.DB.Where("student_id = ?", "stu-a").First(&first).Error)
	require.EqualValues(t, 100, first.Credits)
	require.True(t, first.ScholarshipUSD.IsZero())

	stored, err := repo.GetBatch(context.Background(), batch.BatchID)
	require.NoError(t, err)
	require.Equal(t, entities.BatchStatusPending, stored.Status)
	require.EqualValues(t, 0, countOutbox(t, pg, "scholarship.batch.distributed"))
}

func TestPendingOutboxKeepsInsertionOrder(t *testing.T) {
	repo, pg := newTestRepository(t)
	seedStudents(t, pg, studentModel{StudentID: "stu-a", Credits: 10})
	batch, _, err := repo.CreatePendingBatch(context.Background(), createParams("10.00"))
	require.NoError(t, err)
	approve(t, repo, batch.BatchID, boardAdmin, boardBea, boardCal)

	pending, err := repo.ListPendingOutbox(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 4)
	require.Equal(t, "scholarship.batch.created", pending[0].EventType)
	for _, message := range pending {
		require.True(t, message.CreatedAt.Equal(fixedNow))
	}

	require.NoError(t, repo.MarkOutboxPublished(context.Background(), pending[0].OutboxID, fixedNow))
	rest, err := repo.ListPendingOutbox(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, rest, 3)
	require.Equal(t, pending[1].OutboxID, rest[0].OutboxID)
}

func TestRecipientsSumDistributedAllocations(t *testing.T) {
	repo, pg := newTestRepository(t)
	seedStudents(t, pg,
		studentModel{StudentID: "stu-a", DisplayName: "Ana", GuardianEmail: "a@example.org", Credits: 100},
		studentModel{StudentID: "stu-b", DisplayName: "Ben", Credits: 200},
	)
	batch, _, err := repo.CreatePendingBatch(context.Background(), createParams("300.00"))
	require.NoError(t, err)

	recipients, err := repo.ListRecipients(context.Background())
	require.NoError(t, err)
	require.Empty(t, recipients)

	approve(t, repo, batch.BatchID, boardAdmin, boardBea, boardCal)
	_, err = repo.ExecuteBatch(context.Background(), executeParams(batch.BatchID))
	require.NoError(t, err)

	recipients, err = repo.ListRecipients(context.Background())
	require.NoError(t, err)
	require.Len(t, recipients, 2)
	require.Equal(t, "stu-b", recipients[0].StudentID)
	require.Equal(t, "200.00", recipients[0].TotalDistributedUSD.StringFixed(2))
	require.Equal(t, 1, recipients[0].DistributionCount)
	require.Equal(t, "a@example.org", recipients[1].GuardianEmail)
	require.NotNil(t, recipients[1].LastDistributedAt)
	require.True(t, recipients[1].LastDistributedAt.Equal(fixedNow.Add(time.Hour)))
}
