package users

import (
	"time"

	"github.com/google/uuid"

	"github.com/podgenhq/podgen-backend/pkg/db/models"
	"github.com/podgenhq/podgen-backend/pkg/enums"
)

// UserDTO is the transport shape for account state.
type UserDTO struct {
	ID             uuid.UUID  `json:"id"`
	SubjectID      string     `json:"subject_id"`
	Email          string     `json:"email"`
	EmailVerified  bool       `json:"email_verified"`
	Plan           enums.Plan `json:"plan"`
	Subscribed     bool       `json:"subscribed"`
	PlanEndsAt     *time.Time `json:"plan_ends_at,omitempty"`
	FreeThumbnails int        `json:"free_thumbnails"`
	TotalPodcasts  int        `json:"total_podcasts"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// CreateUserDTO holds the data required by the repo to persist a new user.
type CreateUserDTO struct {
	SubjectID      string
	Email          string
	EmailVerified  bool
	FreeThumbnails int
}

// SubscriptionUpdateDTO carries the fields refreshed from a billing event.
type SubscriptionUpdateDTO struct {
	Plan           enums.Plan
	SubscriptionID *string
	CustomerID     *string
	PlanEndsAt     *time.Time
}

func FromModel(u *models.User) *UserDTO {
	if u == nil {
		return nil
	}

	return &UserDTO{
		ID:             u.ID,
		SubjectID:      u.SubjectID,
		Email:          u.Email,
		EmailVerified:  u.EmailVerified,
		Plan:           u.Plan,
		Subscribed:     u.IsSubscribed(),
		PlanEndsAt:     u.PlanEndsAt,
		FreeThumbnails: u.FreeThumbnails,
		TotalPodcasts:  u.TotalPodcasts,
		CreatedAt:      u.CreatedAt,
		UpdatedAt:      u.UpdatedAt,
	}
}

func (c CreateUserDTO) ToModel() *models.User {
	return &models.User{
		ID:             uuid.New(),
		SubjectID:      c.SubjectID,
		Email:          c.Email,
		EmailVerified:  c.EmailVerified,
		Plan:           enums.PlanFree,
		FreeThumbnails: c.FreeThumbnails,
	}
}
