package ratelimit

import (
	"time"

	"github.com/podgenhq/podgen-backend/pkg/config"
)

// Action names a rate-limited operation. The names double as Redis key
// segments, so they stay stable across deploys.
const (
	ActionGenerateAudio     = "generateAudio"
	ActionGenerateThumbnail = "generateThumbnail"
	ActionCreatePodcast     = "createPodcast"
	ActionUploadFile        = "uploadFile"
	ActionIncrementViews    = "incrementViews"
)

// Policy is a fixed-window allowance: at most Rate requests per Period.
type Policy struct {
	Rate   int64
	Period time.Duration
}

// PolicyTable maps actions to their window policy.
type PolicyTable map[string]Policy

// PoliciesFromConfig builds the action policy table from configuration.
func PoliciesFromConfig(cfg config.RateLimitConfig) PolicyTable {
	return PolicyTable{
		ActionGenerateAudio:     {Rate: cfg.GenerateAudioRate, Period: cfg.GenerateAudioWindow},
		ActionGenerateThumbnail: {Rate: cfg.GenerateThumbnailRate, Period: cfg.GenerateThumbnailWindow},
		ActionCreatePodcast:     {Rate: cfg.CreatePodcastRate, Period: cfg.CreatePodcastWindow},
		ActionUploadFile:        {Rate: cfg.UploadFileRate, Period: cfg.UploadFileWindow},
		ActionIncrementViews:    {Rate: cfg.IncrementViewsRate, Period: cfg.IncrementViewsWindow},
	}
}
