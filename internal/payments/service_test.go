package payments

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/podgenhq/podgen-backend/pkg/db/models"
	"github.com/podgenhq/podgen-backend/pkg/enums"
	pkgerrors "github.com/podgenhq/podgen-backend/pkg/errors"
)

type fakeLedgerRepo struct {
	mu      sync.Mutex
	records map[uuid.UUID]*models.PaymentRecord
}

func newFakeLedgerRepo() *fakeLedgerRepo {
	return &fakeLedgerRepo{records: make(map[uuid.UUID]*models.PaymentRecord)}
}

func (f *fakeLedgerRepo) Create(ctx context.Context, userID uuid.UUID) (*models.PaymentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record := &models.PaymentRecord{
		ID:     uuid.New(),
		UserID: userID,
		Status: enums.PaymentStatusPending,
	}
	f.records[record.ID] = record
	return record, nil
}

func (f *fakeLedgerRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *record
	return &copied, nil
}

func (f *fakeLedgerRepo) FindByExternalID(ctx context.Context, externalID string) (*models.PaymentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, record := range f.records {
		if record.ExternalID != nil && *record.ExternalID == externalID {
			copied := *record
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeLedgerRepo) BindExternalID(ctx context.Context, id uuid.UUID, externalID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[id]
	if !ok || record.ExternalID != nil {
		return 0, nil
	}
	record.ExternalID = &externalID
	return 1, nil
}

func (f *fakeLedgerRepo) UpdateStatusByExternalID(ctx context.Context, externalID string, status enums.PaymentStatus, customerID *string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, record := range f.records {
		if record.ExternalID != nil && *record.ExternalID == externalID && record.Status == enums.PaymentStatusPending {
			record.Status = status
			if customerID != nil {
				record.CustomerID = customerID
			}
			return 1, nil
		}
	}
	return 0, nil
}

func newLedger(t *testing.T) (*Service, *fakeLedgerRepo) {
	t.Helper()
	repo := newFakeLedgerRepo()
	svc, err := NewService(ServiceParams{Repo: repo})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, repo
}

func TestCreateOpensPendingEntry(t *testing.T) {
	svc, _ := newLedger(t)
	ctx := context.Background()

	record, err := svc.Create(ctx, uuid.New())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if record.Status != enums.PaymentStatusPending {
		t.Fatalf("expected pending status, got %s", record.Status)
	}
	if record.ExternalID != nil {
		t.Fatalf("fresh entry must not be bound to a session")
	}

	if _, err := svc.Create(ctx, uuid.Nil); !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for nil user, got %v", err)
	}
}

func TestMarkPendingBindsOnce(t *testing.T) {
	svc, _ := newLedger(t)
	ctx := context.Background()

	record, err := svc.Create(ctx, uuid.New())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := svc.MarkPending(ctx, record.ID, "cs_test_123"); err != nil {
		t.Fatalf("first bind: %v", err)
	}
	if err := svc.MarkPending(ctx, record.ID, "cs_test_123"); err != nil {
		t.Fatalf("rebinding the same session should be a no-op: %v", err)
	}
	if err := svc.MarkPending(ctx, record.ID, "cs_test_456"); !errors.Is(err, ErrAlreadyBound) {
		t.Fatalf("expected ErrAlreadyBound, got %v", err)
	}
	if err := svc.MarkPending(ctx, uuid.New(), "cs_test_789"); !pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found for unknown entry, got %v", err)
	}
}

func TestFulfillSettlesExactlyOnce(t *testing.T) {
	svc, repo := newLedger(t)
	ctx := context.Background()

	record, _ := svc.Create(ctx, uuid.New())
	if err := svc.MarkPending(ctx, record.ID, "cs_test_123"); err != nil {
		t.Fatalf("bind: %v", err)
	}

	customer := "cus_abc"
	if err := svc.Fulfill(ctx, "cs_test_123", &customer); err != nil {
		t.Fatalf("fulfill: %v", err)
	}

	stored, _ := repo.FindByID(ctx, record.ID)
	if stored.Status != enums.PaymentStatusFulfilled {
		t.Fatalf("expected fulfilled status, got %s", stored.Status)
	}
	if stored.CustomerID == nil || *stored.CustomerID != customer {
		t.Fatalf("customer id should be captured on settlement")
	}

	if err := svc.Fulfill(ctx, "cs_test_123", &customer); !errors.Is(err, ErrAlreadyFulfilled) {
		t.Fatalf("replay should report ErrAlreadyFulfilled, got %v", err)
	}
	if err := svc.Fulfill(ctx, "cs_test_missing", nil); !pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found for unknown session, got %v", err)
	}
}

func TestFulfillConcurrentDeliveriesMutateOnce(t *testing.T) {
	svc, repo := newLedger(t)
	ctx := context.Background()

	record, _ := svc.Create(ctx, uuid.New())
	if err := svc.MarkPending(ctx, record.ID, "cs_test_123"); err != nil {
		t.Fatalf("bind: %v", err)
	}

	const workers = 8
	results := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- svc.Fulfill(ctx, "cs_test_123", nil)
		}()
	}
	wg.Wait()
	close(results)

	var successes, replays int
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrAlreadyFulfilled):
			replays++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if successes != 1 {
		t.Fatalf("exactly one delivery should win, got %d", successes)
	}
	if replays != workers-1 {
		t.Fatalf("losers should observe the replay signal, got %d", replays)
	}

	stored, _ := repo.FindByID(ctx, record.ID)
	if stored.Status != enums.PaymentStatusFulfilled {
		t.Fatalf("expected fulfilled status, got %s", stored.Status)
	}
}

func TestMarkFailed(t *testing.T) {
	svc, repo := newLedger(t)
	ctx := context.Background()

	record, _ := svc.Create(ctx, uuid.New())
	if err := svc.MarkPending(ctx, record.ID, "cs_test_123"); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := svc.MarkFailed(ctx, "cs_test_123"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	stored, _ := repo.FindByID(ctx, record.ID)
	if stored.Status != enums.PaymentStatusFailed {
		t.Fatalf("expected failed status, got %s", stored.Status)
	}

	// Settled entries are final; a late failure signal is a no-op.
	if err := svc.MarkFailed(ctx, "cs_test_123"); err != nil {
		t.Fatalf("late failure should be swallowed: %v", err)
	}
}
