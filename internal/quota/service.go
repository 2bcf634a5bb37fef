package quota

import (
	"context"
	"fmt"
	"strings"

	"github.com/podgenhq/podgen-backend/pkg/config"
	"github.com/podgenhq/podgen-backend/pkg/db/models"
	"github.com/podgenhq/podgen-backend/pkg/enums"
	pkgerrors "github.com/podgenhq/podgen-backend/pkg/errors"
)

type userStore interface {
	DebitFreeThumbnail(ctx context.Context, subjectID string) (bool, error)
}

// Service gates podcast creation and subscriber-only features behind the
// account's plan.
type Service struct {
	users        userStore
	limits       map[enums.Plan]int
	defaultVoice string
}

// ServiceParams groups dependencies for the quota service.
type ServiceParams struct {
	Users userStore
	Quota config.QuotaConfig
}

// NewService builds a quota service with the required dependencies.
func NewService(params ServiceParams) (*Service, error) {
	if params.Users == nil {
		return nil, fmt.Errorf("user store required")
	}
	voice := strings.TrimSpace(params.Quota.DefaultVoice)
	if voice == "" {
		return nil, fmt.Errorf("default voice required")
	}
	return &Service{
		users: params.Users,
		limits: map[enums.Plan]int{
			enums.PlanFree:       params.Quota.FreePodcastLimit,
			enums.PlanPro:        params.Quota.ProPodcastLimit,
			enums.PlanEnterprise: params.Quota.EnterprisePodcastLimit,
		},
		defaultVoice: voice,
	}, nil
}

// LimitFor returns the podcast allowance for the plan. Unknown plans fall
// back to the free allowance rather than granting unlimited use.
func (s *Service) LimitFor(plan enums.Plan) int {
	if limit, ok := s.limits[plan]; ok {
		return limit
	}
	return s.limits[enums.PlanFree]
}

// CheckPodcastQuota rejects creation once the account has used its plan allowance.
func (s *Service) CheckPodcastQuota(user *models.User) error {
	limit := s.LimitFor(user.Plan)
	if user.TotalPodcasts >= limit {
		return pkgerrors.New(pkgerrors.CodeQuotaExceeded,
			fmt.Sprintf("podcast limit reached for plan %s", user.Plan)).
			WithDetails(map[string]any{"limit": limit, "plan": user.Plan.String()})
	}
	return nil
}

// CheckVoice rejects non-default voices for accounts without a paid plan.
func (s *Service) CheckVoice(user *models.User, voice string) error {
	if voice == "" || voice == s.defaultVoice {
		return nil
	}
	if user.IsSubscribed() {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeSubscriptionRequired,
		fmt.Sprintf("voice %q requires a subscription", voice))
}

// DefaultVoice returns the voice available to every account.
func (s *Service) DefaultVoice() string {
	return s.defaultVoice
}

// CheckThumbnailAllowance rejects thumbnail generation for unsubscribed
// accounts that have spent all free credits.
func (s *Service) CheckThumbnailAllowance(user *models.User) error {
	if user.IsSubscribed() {
		return nil
	}
	if user.FreeThumbnails <= 0 {
		return pkgerrors.New(pkgerrors.CodeSubscriptionRequired, "free thumbnail credits exhausted")
	}
	return nil
}

// DebitThumbnail consumes a free thumbnail credit for unsubscribed accounts.
// Subscribers generate thumbnails without touching the credit counter. The
// conditional update means a credit that raced to zero is simply not debited.
func (s *Service) DebitThumbnail(ctx context.Context, user *models.User) error {
	if user.IsSubscribed() {
		return nil
	}
	if _, err := s.users.DebitFreeThumbnail(ctx, user.SubjectID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "debit thumbnail credit")
	}
	return nil
}
