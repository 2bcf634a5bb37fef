package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/podgenhq/podgen-backend/pkg/enums"
)

// User is the canonical account record, keyed internally by UUID and
// externally by the identity provider's subject id. Plan and subscription
// fields are mutated only by webhook processing; usage counters only by the
// generation gateway.
type User struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey"`
	SubjectID      string     `gorm:"column:subject_id;not null;uniqueIndex"`
	Email          string     `gorm:"type:text;not null"`
	EmailVerified  bool       `gorm:"column:email_verified;not null;default:false"`
	Plan           enums.Plan `gorm:"column:plan;type:text;not null;default:'free'"`
	SubscriptionID *string    `gorm:"column:subscription_id;index"`
	CustomerID     *string    `gorm:"column:customer_id"`
	PlanEndsAt     *time.Time `gorm:"column:plan_ends_at"`
	FreeThumbnails int        `gorm:"column:free_thumbnails;not null;default:3"`
	TotalPodcasts  int        `gorm:"column:total_podcasts;not null;default:0"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// IsSubscribed reports whether the user holds a paid tier.
func (u *User) IsSubscribed() bool {
	if u == nil {
		return false
	}
	return u.Plan.IsPaid()
}
