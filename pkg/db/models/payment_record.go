package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/podgenhq/podgen-backend/pkg/enums"
)

// PaymentRecord is an append-only ledger entry for a checkout attempt. The
// internal id is allocated before the external checkout session exists so a
// crash in between leaves an orphaned pending row rather than a lost payment.
type PaymentRecord struct {
	ID         uuid.UUID           `gorm:"type:uuid;primaryKey"`
	UserID     uuid.UUID           `gorm:"column:user_id;type:uuid;not null;index"`
	ExternalID *string             `gorm:"column:external_id;uniqueIndex"`
	CustomerID *string             `gorm:"column:customer_id"`
	Status     enums.PaymentStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	CreatedAt  time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
