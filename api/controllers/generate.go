package controllers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/podgenhq/podgen-backend/api/middleware"
	"github.com/podgenhq/podgen-backend/api/responses"
	"github.com/podgenhq/podgen-backend/api/validators"
	"github.com/podgenhq/podgen-backend/internal/generation"
	"github.com/podgenhq/podgen-backend/internal/users"
	"github.com/podgenhq/podgen-backend/pkg/auth"
	"github.com/podgenhq/podgen-backend/pkg/logger"
)

type GenerationService interface {
	GenerateAudio(ctx context.Context, identity *auth.Identity, input generation.AudioInput) ([]byte, error)
	GenerateThumbnail(ctx context.Context, identity *auth.Identity, input generation.ThumbnailInput) ([]byte, error)
	RegisterPodcast(ctx context.Context, identity *auth.Identity) (*users.UserDTO, error)
	IncrementViews(ctx context.Context, identity *auth.Identity, podcastID string) (int64, error)
	AuthorizeUpload(ctx context.Context, identity *auth.Identity) error
}

// GenerateAudio synthesizes speech for the caller's script and streams the
// rendered audio back.
func GenerateAudio(svc GenerationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var input generation.AudioInput
		if err := validators.DecodeJSONBody(r, &input); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		audio, err := svc.GenerateAudio(ctx, middleware.IdentityFromContext(ctx), input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		w.Header().Set("Content-Type", "audio/mpeg")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(audio); err != nil && logg != nil {
			logg.Error(ctx, "failed to write audio response", err)
		}
	}
}

// GenerateThumbnail renders episode artwork for the prompt.
func GenerateThumbnail(svc GenerationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var input generation.ThumbnailInput
		if err := validators.DecodeJSONBody(r, &input); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		image, err := svc.GenerateThumbnail(ctx, middleware.IdentityFromContext(ctx), input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(image); err != nil && logg != nil {
			logg.Error(ctx, "failed to write image response", err)
		}
	}
}

// RegisterPodcast admits a new podcast against the caller's plan quota.
func RegisterPodcast(svc GenerationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		dto, err := svc.RegisterPodcast(ctx, middleware.IdentityFromContext(ctx))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, dto)
	}
}

// IncrementViews bumps the play counter for a podcast.
func IncrementViews(svc GenerationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		count, err := svc.IncrementViews(ctx, middleware.IdentityFromContext(ctx), chi.URLParam(r, "podcastId"))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]int64{"views": count})
	}
}

// AuthorizeUpload admits a pending file upload against the upload rate limit.
func AuthorizeUpload(svc GenerationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if err := svc.AuthorizeUpload(ctx, middleware.IdentityFromContext(ctx)); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]string{"status": "authorized"})
	}
}
