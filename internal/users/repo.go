package users

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/podgenhq/podgen-backend/pkg/db"
	"github.com/podgenhq/podgen-backend/pkg/db/models"
	"github.com/podgenhq/podgen-backend/pkg/enums"
)

// Repository exposes user-related persistence operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a users repo bound to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the provided transaction handle.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

// Create inserts a new user and returns the persisted model.
func (r *Repository) Create(ctx context.Context, dto CreateUserDTO) (*models.User, error) {
	user := dto.ToModel()
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, err
	}
	return user, nil
}

// GetOrCreateBySubject loads the user for the identity subject, provisioning a
// fresh free-tier account on first contact. A concurrent first request can
// lose the insert race; the loser re-reads the winner's row.
func (r *Repository) GetOrCreateBySubject(ctx context.Context, dto CreateUserDTO) (*models.User, error) {
	user, err := r.FindBySubject(ctx, dto.SubjectID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	user, err = r.Create(ctx, dto)
	if err != nil {
		if db.IsUniqueViolation(err, "users_subject_id_key") {
			return r.FindBySubject(ctx, dto.SubjectID)
		}
		return nil, err
	}
	return user, nil
}

// FindBySubject retrieves the user matching the identity subject.
func (r *Repository) FindBySubject(ctx context.Context, subjectID string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("subject_id = ?", subjectID).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// FindBySubscriptionID retrieves the user bound to the billing subscription.
func (r *Repository) FindBySubscriptionID(ctx context.Context, subscriptionID string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("subscription_id = ?", subscriptionID).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateSubscriptionBySubject applies a billing refresh to the subject's account.
func (r *Repository) UpdateSubscriptionBySubject(ctx context.Context, subjectID string, dto SubscriptionUpdateDTO) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("subject_id = ?", subjectID).
		Updates(map[string]any{
			"plan":            dto.Plan,
			"subscription_id": dto.SubscriptionID,
			"customer_id":     dto.CustomerID,
			"plan_ends_at":    dto.PlanEndsAt,
		})
	return res.RowsAffected, res.Error
}

// UpdateSubscriptionBySubID refreshes plan state keyed by the subscription id itself.
func (r *Repository) UpdateSubscriptionBySubID(ctx context.Context, subscriptionID string, dto SubscriptionUpdateDTO) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("subscription_id = ?", subscriptionID).
		Updates(map[string]any{
			"plan":         dto.Plan,
			"plan_ends_at": dto.PlanEndsAt,
		})
	return res.RowsAffected, res.Error
}

// ClearSubscriptionBySubID demotes the account to the free tier when the
// subscription ends. The customer id is kept so a returning subscriber reuses
// their billing profile.
func (r *Repository) ClearSubscriptionBySubID(ctx context.Context, subscriptionID string) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("subscription_id = ?", subscriptionID).
		Updates(map[string]any{
			"plan":            enums.PlanFree,
			"subscription_id": nil,
			"plan_ends_at":    nil,
		})
	return res.RowsAffected, res.Error
}

// DebitFreeThumbnail consumes one free thumbnail credit. The conditional
// update keeps the counter at zero under concurrent debits; zero rows means
// no credit was left to spend.
func (r *Repository) DebitFreeThumbnail(ctx context.Context, subjectID string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("subject_id = ? AND free_thumbnails > 0", subjectID).
		UpdateColumn("free_thumbnails", gorm.Expr("free_thumbnails - 1"))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// IncrementTotalPodcasts bumps the lifetime podcast counter while it is still
// below the plan allowance. The conditional update keeps concurrent requests
// from overshooting the limit; zero rows means the allowance was spent.
func (r *Repository) IncrementTotalPodcasts(ctx context.Context, subjectID string, limit int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("subject_id = ? AND total_podcasts < ?", subjectID, limit).
		UpdateColumn("total_podcasts", gorm.Expr("total_podcasts + 1"))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
