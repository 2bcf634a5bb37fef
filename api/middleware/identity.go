package middleware

import (
	"net/http"
	"strings"

	"github.com/podgenhq/podgen-backend/api/responses"
	pkgauth "github.com/podgenhq/podgen-backend/pkg/auth"
	"github.com/podgenhq/podgen-backend/pkg/config"
	pkgerrors "github.com/podgenhq/podgen-backend/pkg/errors"
	"github.com/podgenhq/podgen-backend/pkg/logger"
)

// Identity validates a bearer token from the identity provider and seeds the
// request context with the verified subject.
func Identity(cfg config.IdentityConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			if raw == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			token := raw
			if strings.HasPrefix(strings.ToLower(token), "bearer ") {
				token = strings.TrimSpace(token[7:])
			}
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			identity, err := pkgauth.ParseIdentityToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			ctx := WithIdentity(r.Context(), identity)
			if logg != nil {
				ctx = logg.WithSubject(ctx, identity.Subject)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
