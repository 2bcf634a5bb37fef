package generation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/podgenhq/podgen-backend/internal/ratelimit"
	"github.com/podgenhq/podgen-backend/internal/users"
	"github.com/podgenhq/podgen-backend/pkg/auth"
	"github.com/podgenhq/podgen-backend/pkg/config"
	"github.com/podgenhq/podgen-backend/pkg/db/models"
	"github.com/podgenhq/podgen-backend/pkg/enums"
	pkgerrors "github.com/podgenhq/podgen-backend/pkg/errors"
	"github.com/podgenhq/podgen-backend/pkg/logger"
	"github.com/podgenhq/podgen-backend/pkg/metrics"
)

// Provider renders audio and artwork. The production implementation talks to
// OpenAI; tests swap in a fake.
type Provider interface {
	SynthesizeSpeech(ctx context.Context, voice, input string) ([]byte, error)
	GenerateImage(ctx context.Context, prompt string) ([]byte, error)
}

type userRepository interface {
	GetOrCreateBySubject(ctx context.Context, dto users.CreateUserDTO) (*models.User, error)
	IncrementTotalPodcasts(ctx context.Context, subjectID string, limit int) (bool, error)
}

type limiter interface {
	Check(ctx context.Context, action, subject string) (ratelimit.Decision, error)
}

type viewStore interface {
	Incr(ctx context.Context, key string) (int64, error)
	CounterKey(name string) string
}

type quotaGate interface {
	CheckPodcastQuota(user *models.User) error
	CheckVoice(user *models.User, voice string) error
	CheckThumbnailAllowance(user *models.User) error
	DebitThumbnail(ctx context.Context, user *models.User) error
	LimitFor(plan enums.Plan) int
}

// AudioInput is a text-to-speech request.
type AudioInput struct {
	Voice string `json:"voice"`
	Input string `json:"input" validate:"required"`
}

// ThumbnailInput is an artwork request.
type ThumbnailInput struct {
	Prompt string `json:"prompt" validate:"required"`
}

// Service is the gateway every generation request passes through. It orders
// the gates the same way for each operation: identity, rate limit, plan
// checks, then the provider call. Usage counters only move after the provider
// succeeds.
type Service struct {
	users    userRepository
	limiter  limiter
	quota    quotaGate
	provider Provider
	views    viewStore
	metrics  *metrics.GenerationMetrics
	quotaCfg config.QuotaConfig
	timeout  time.Duration
	logger   *logger.Logger
}

// ServiceParams groups dependencies for the generation gateway.
type ServiceParams struct {
	Users           userRepository
	Limiter         limiter
	Quota           quotaGate
	Provider        Provider
	Views           viewStore
	Metrics         *metrics.GenerationMetrics
	QuotaConfig     config.QuotaConfig
	ProviderTimeout time.Duration
	Logger          *logger.Logger
}

// NewService builds a generation gateway with the required dependencies.
func NewService(params ServiceParams) (*Service, error) {
	if params.Users == nil {
		return nil, fmt.Errorf("user repo required")
	}
	if params.Limiter == nil {
		return nil, fmt.Errorf("rate limiter required")
	}
	if params.Quota == nil {
		return nil, fmt.Errorf("quota gate required")
	}
	if params.Provider == nil {
		return nil, fmt.Errorf("provider required")
	}
	timeout := params.ProviderTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Service{
		users:    params.Users,
		limiter:  params.Limiter,
		quota:    params.Quota,
		provider: params.Provider,
		views:    params.Views,
		metrics:  params.Metrics,
		quotaCfg: params.QuotaConfig,
		timeout:  timeout,
		logger:   params.Logger,
	}, nil
}

// GenerateAudio synthesizes speech for the caller's script.
func (s *Service) GenerateAudio(ctx context.Context, identity *auth.Identity, input AudioInput) ([]byte, error) {
	user, err := s.admit(ctx, identity, ratelimit.ActionGenerateAudio)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.Input) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "input text is required")
	}
	if err := s.quota.CheckPodcastQuota(user); err != nil {
		s.count(ratelimit.ActionGenerateAudio, "rejected")
		return nil, err
	}
	if err := s.quota.CheckVoice(user, input.Voice); err != nil {
		s.count(ratelimit.ActionGenerateAudio, "rejected")
		return nil, err
	}

	voice := input.Voice
	if voice == "" {
		voice = s.quotaCfg.DefaultVoice
	}

	audio, err := s.callProvider(ctx, ratelimit.ActionGenerateAudio, func(ctx context.Context) ([]byte, error) {
		return s.provider.SynthesizeSpeech(ctx, voice, input.Input)
	})
	if err != nil {
		return nil, err
	}
	return audio, nil
}

// GenerateThumbnail renders artwork for the prompt, spending one free credit
// for unsubscribed accounts. The credit only moves after the provider
// succeeds, so a failed render costs nothing.
func (s *Service) GenerateThumbnail(ctx context.Context, identity *auth.Identity, input ThumbnailInput) ([]byte, error) {
	user, err := s.admit(ctx, identity, ratelimit.ActionGenerateThumbnail)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.Prompt) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "prompt is required")
	}
	if err := s.quota.CheckPodcastQuota(user); err != nil {
		s.count(ratelimit.ActionGenerateThumbnail, "rejected")
		return nil, err
	}
	if err := s.quota.CheckThumbnailAllowance(user); err != nil {
		s.count(ratelimit.ActionGenerateThumbnail, "rejected")
		return nil, err
	}

	image, err := s.callProvider(ctx, ratelimit.ActionGenerateThumbnail, func(ctx context.Context) ([]byte, error) {
		return s.provider.GenerateImage(ctx, input.Prompt)
	})
	if err != nil {
		return nil, err
	}

	if err := s.quota.DebitThumbnail(ctx, user); err != nil {
		// The artwork was already rendered; losing the debit is better than
		// failing the request.
		if s.logger != nil {
			s.logger.Error(ctx, "thumbnail credit debit failed", err)
		}
	}
	return image, nil
}

// RegisterPodcast admits a new podcast against the plan quota and bumps the
// lifetime counter. The quota check rejects early; the conditional increment
// is the authority, so two requests racing over the last slot cannot both win.
func (s *Service) RegisterPodcast(ctx context.Context, identity *auth.Identity) (*users.UserDTO, error) {
	user, err := s.admit(ctx, identity, ratelimit.ActionCreatePodcast)
	if err != nil {
		return nil, err
	}
	if err := s.quota.CheckPodcastQuota(user); err != nil {
		s.count(ratelimit.ActionCreatePodcast, "rejected")
		return nil, err
	}

	limit := s.quota.LimitFor(user.Plan)
	incremented, err := s.users.IncrementTotalPodcasts(ctx, user.SubjectID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record podcast")
	}
	if !incremented {
		s.count(ratelimit.ActionCreatePodcast, "rejected")
		return nil, pkgerrors.New(pkgerrors.CodeQuotaExceeded,
			fmt.Sprintf("podcast limit reached for plan %s", user.Plan)).
			WithDetails(map[string]any{"limit": limit, "plan": user.Plan.String()})
	}
	s.count(ratelimit.ActionCreatePodcast, "success")

	user.TotalPodcasts++
	return users.FromModel(user), nil
}

// IncrementViews bumps the play counter for a podcast. The tight rate limit
// is the whole point here; the counter itself lives in Redis.
func (s *Service) IncrementViews(ctx context.Context, identity *auth.Identity, podcastID string) (int64, error) {
	if strings.TrimSpace(podcastID) == "" {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "podcast id is required")
	}
	if s.views == nil {
		return 0, pkgerrors.New(pkgerrors.CodeInternal, "view store unavailable")
	}
	if _, err := s.admit(ctx, identity, ratelimit.ActionIncrementViews); err != nil {
		return 0, err
	}

	count, err := s.views.Incr(ctx, s.views.CounterKey("podcast_views:"+podcastID))
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record view")
	}
	return count, nil
}

// AuthorizeUpload admits a pending file upload against the upload rate limit.
// The media bytes themselves never pass through this service.
func (s *Service) AuthorizeUpload(ctx context.Context, identity *auth.Identity) error {
	_, err := s.admit(ctx, identity, ratelimit.ActionUploadFile)
	return err
}

// admit runs the gates shared by every generation operation.
func (s *Service) admit(ctx context.Context, identity *auth.Identity, action string) (*models.User, error) {
	if identity == nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "identity required")
	}

	user, err := s.users.GetOrCreateBySubject(ctx, users.CreateUserDTO{
		SubjectID:      identity.Subject,
		Email:          identity.Email,
		EmailVerified:  identity.EmailVerified,
		FreeThumbnails: s.quotaCfg.FreeThumbnails,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load account")
	}

	decision, err := s.limiter.Check(ctx, action, identity.Subject)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		if s.metrics != nil {
			s.metrics.IncRateLimited(action)
		}
		return nil, pkgerrors.New(pkgerrors.CodeRateLimit,
			fmt.Sprintf("too many %s requests", action)).
			WithDetails(map[string]any{"retry_at": decision.RetryAt.UTC().Format(time.RFC3339)})
	}
	return user, nil
}

func (s *Service) callProvider(ctx context.Context, action string, call func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	payload, err := call(ctx)
	if s.metrics != nil {
		s.metrics.ObserveDuration(action, time.Since(start))
	}
	if err != nil {
		s.count(action, "error")
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "generation failed")
	}
	s.count(action, "success")
	return payload, nil
}

func (s *Service) count(action, outcome string) {
	if s.metrics != nil {
		s.metrics.IncRequest(action, outcome)
	}
}
