package payments

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/podgenhq/podgen-backend/pkg/db/models"
	"github.com/podgenhq/podgen-backend/pkg/enums"
)

// Repository exposes payment ledger persistence operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a payments repo bound to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the provided transaction handle.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

// Create inserts a pending ledger entry for the user.
func (r *Repository) Create(ctx context.Context, userID uuid.UUID) (*models.PaymentRecord, error) {
	record := &models.PaymentRecord{
		ID:     uuid.New(),
		UserID: userID,
		Status: enums.PaymentStatusPending,
	}
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return nil, err
	}
	return record, nil
}

// FindByID loads a ledger entry by its internal id.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentRecord, error) {
	var record models.PaymentRecord
	if err := r.db.WithContext(ctx).First(&record, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// FindByExternalID loads a ledger entry by the checkout session id.
func (r *Repository) FindByExternalID(ctx context.Context, externalID string) (*models.PaymentRecord, error) {
	var record models.PaymentRecord
	if err := r.db.WithContext(ctx).Where("external_id = ?", externalID).First(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// BindExternalID attaches the checkout session id to an unbound entry. Zero
// rows means the entry was already bound or does not exist.
func (r *Repository) BindExternalID(ctx context.Context, id uuid.UUID, externalID string) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PaymentRecord{}).
		Where("id = ? AND external_id IS NULL", id).
		UpdateColumn("external_id", externalID)
	return res.RowsAffected, res.Error
}

// UpdateStatusByExternalID transitions the entry identified by the checkout
// session out of pending. The conditional update is what makes fulfillment
// idempotent: a replayed transition matches zero rows.
func (r *Repository) UpdateStatusByExternalID(ctx context.Context, externalID string, status enums.PaymentStatus, customerID *string) (int64, error) {
	updates := map[string]any{"status": status}
	if customerID != nil {
		updates["customer_id"] = customerID
	}
	res := r.db.WithContext(ctx).
		Model(&models.PaymentRecord{}).
		Where("external_id = ? AND status = ?", externalID, enums.PaymentStatusPending).
		Updates(updates)
	return res.RowsAffected, res.Error
}
