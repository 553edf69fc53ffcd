package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/information-sharing-networks/incremental-auth/internal/apperrors"
	"github.com/information-sharing-networks/incremental-auth/internal/config"
	"github.com/information-sharing-networks/incremental-auth/internal/logger"
	"github.com/information-sharing-networks/incremental-auth/internal/responses"
)

type contextKey struct {
	name string
}

var recordKey = contextKey{"session-record"}

func ContextWithRecord(ctx context.Context, rec *Record) context.Context {
	return context.WithValue(ctx, recordKey, rec)
}

// FromContext returns the session loaded by Middleware
func FromContext(ctx context.Context) (*Record, bool) {
	rec, ok := ctx.Value(recordKey).(*Record)
	return rec, ok
}

// NewCookie returns the session cookie for rec. secure should be set wherever the page is served over https.
func NewCookie(rec *Record, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     config.SessionCookieName,
		Value:    rec.ID,
		Path:     "/",
		Expires:  rec.ExpiresAt,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// Middleware loads the session named by the session cookie, or starts a new one when the cookie is missing or the session has expired.
// The record is added to the request context and can be read with FromContext.
func Middleware(store Store, secureCookie bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			reqLogger := logger.ContextRequestLogger(ctx)

			var rec *Record
			if cookie, err := r.Cookie(config.SessionCookieName); err == nil && validID(cookie.Value) {
				rec, err = store.Get(ctx, cookie.Value)
				if err != nil && !errors.Is(err, ErrNotFound) {
					reqLogger.Error("could not load session",
						slog.String("component", "session.Middleware"),
						slog.String("error", err.Error()),
					)
					responses.RespondWithError(w, r, http.StatusInternalServerError, apperrors.ErrCodeInternalError, "session store unavailable")
					return
				}
			}

			if rec == nil {
				var err error
				rec, err = store.Create(ctx)
				if err != nil {
					reqLogger.Error("could not create session",
						slog.String("component", "session.Middleware"),
						slog.String("error", err.Error()),
					)
					responses.RespondWithError(w, r, http.StatusInternalServerError, apperrors.ErrCodeInternalError, "session store unavailable")
					return
				}
				http.SetCookie(w, NewCookie(rec, secureCookie))
				reqLogger.Debug("new session started",
					slog.String("component", "session.Middleware"),
				)
			}

			logger.ContextWithLogAttrs(ctx, slog.String("session_id", rec.ID))

			next.ServeHTTP(w, r.WithContext(ContextWithRecord(ctx, rec)))
		})
	}
}
