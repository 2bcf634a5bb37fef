package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/podgenhq/podgen-backend/pkg/db/models"
	"github.com/podgenhq/podgen-backend/pkg/enums"
	pkgerrors "github.com/podgenhq/podgen-backend/pkg/errors"
)

type ledgerRepository interface {
	Create(ctx context.Context, userID uuid.UUID) (*models.PaymentRecord, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentRecord, error)
	FindByExternalID(ctx context.Context, externalID string) (*models.PaymentRecord, error)
	BindExternalID(ctx context.Context, id uuid.UUID, externalID string) (int64, error)
	UpdateStatusByExternalID(ctx context.Context, externalID string, status enums.PaymentStatus, customerID *string) (int64, error)
}

// ErrAlreadyFulfilled marks a fulfillment replay. Callers treat it as a
// success signal, not a failure.
var ErrAlreadyFulfilled = pkgerrors.New(pkgerrors.CodeStateConflict, "payment already fulfilled")

// ErrAlreadyBound marks an attempt to bind a second checkout session to the
// same ledger entry.
var ErrAlreadyBound = pkgerrors.New(pkgerrors.CodeStateConflict, "payment already bound to a checkout session")

// Service is the payment ledger. Entries are created pending, bound to a
// checkout session once, and settled exactly once.
type Service struct {
	repo ledgerRepository
}

// ServiceParams groups dependencies for the ledger service.
type ServiceParams struct {
	Repo ledgerRepository
}

// NewService builds a ledger service with the required dependencies.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("ledger repo required")
	}
	return &Service{repo: params.Repo}, nil
}

// Create opens a pending ledger entry for the user.
func (s *Service) Create(ctx context.Context, userID uuid.UUID) (*models.PaymentRecord, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	record, err := s.repo.Create(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create ledger entry")
	}
	return record, nil
}

// MarkPending binds the checkout session id to the entry. Rebinding the same
// session is a no-op; binding a different session to a bound entry fails.
func (s *Service) MarkPending(ctx context.Context, id uuid.UUID, externalID string) error {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "external id is required")
	}

	rows, err := s.repo.BindExternalID(ctx, id, externalID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "bind checkout session")
	}
	if rows > 0 {
		return nil
	}

	record, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "ledger entry not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load ledger entry")
	}
	if record.ExternalID != nil && *record.ExternalID == externalID {
		return nil
	}
	return ErrAlreadyBound
}

// Fulfill settles the entry bound to the checkout session. A delivery replay
// returns ErrAlreadyFulfilled, which the webhook processor swallows.
func (s *Service) Fulfill(ctx context.Context, externalID string, customerID *string) error {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "external id is required")
	}

	rows, err := s.repo.UpdateStatusByExternalID(ctx, externalID, enums.PaymentStatusFulfilled, customerID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fulfill ledger entry")
	}
	if rows > 0 {
		return nil
	}

	record, err := s.repo.FindByExternalID(ctx, externalID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "ledger entry not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load ledger entry")
	}
	if record.Status == enums.PaymentStatusFulfilled {
		return ErrAlreadyFulfilled
	}
	return pkgerrors.New(pkgerrors.CodeStateConflict,
		fmt.Sprintf("ledger entry in status %s cannot be fulfilled", record.Status))
}

// MarkFailed settles the entry as failed. Replays are swallowed the same way
// fulfillment replays are.
func (s *Service) MarkFailed(ctx context.Context, externalID string) error {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "external id is required")
	}
	if _, err := s.repo.UpdateStatusByExternalID(ctx, externalID, enums.PaymentStatusFailed, nil); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fail ledger entry")
	}
	return nil
}
