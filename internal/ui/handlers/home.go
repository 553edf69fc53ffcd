package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/information-sharing-networks/incremental-auth/internal/authz"
	"github.com/information-sharing-networks/incremental-auth/internal/logger"
	"github.com/information-sharing-networks/incremental-auth/internal/picket"
	"github.com/information-sharing-networks/incremental-auth/internal/ui/templates"
)

// HandleHome renders the full page with a badge for every community
func (h *HandlerService) HandleHome(w http.ResponseWriter, r *http.Request) {
	state, err := h.newSessionState(r, picket.NoPrompt)
	if err != nil {
		h.renderInternalError(w, r, "could not load session", err)
		return
	}

	statuses, err := state.controller.Statuses(r.Context())
	if err != nil {
		h.renderInternalError(w, r, "could not read community statuses", err)
		return
	}

	render(w, r, templates.HomePage(templates.HomePageData{
		User:        state.controller.User(),
		Communities: statuses,
	}), "home page")
}

// HandleLogin exchanges the signed nonce posted by wallet.js for a Picket session
func (h *HandlerService) HandleLogin(w http.ResponseWriter, r *http.Request) {
	reqLogger := logger.ContextRequestLogger(r.Context())

	state, err := h.newSessionState(r, formPrompt(r))
	if err != nil {
		h.renderInternalError(w, r, "could not load session", err)
		return
	}

	user, err := state.oracle.Login(r.Context())
	switch {
	case err != nil:
		reqLogger.Error("Wallet login failed", slog.String("error", err.Error()))
		h.renderSession(w, r, state, userMessage(err))
		return
	case user == nil:
		reqLogger.Debug("Wallet login cancelled")
		h.renderSession(w, r, state, noticeLoginCancelled)
		return
	}

	logger.ContextWithLogAttrs(r.Context(), slog.String("wallet_address", user.WalletAddress))
	h.renderSession(w, r, state, "")
}

// HandleLogout ends the Picket session and clears every recorded error
func (h *HandlerService) HandleLogout(w http.ResponseWriter, r *http.Request) {
	state, err := h.newSessionState(r, picket.NoPrompt)
	if err != nil {
		h.renderInternalError(w, r, "could not load session", err)
		return
	}

	if err := state.controller.Logout(r.Context()); err != nil {
		h.renderInternalError(w, r, "logout failed", err)
		return
	}

	h.renderSession(w, r, state, "")
}

// HandleAuthorize runs the authorization workflow for the community in the path.
// The wallet login is started first when the session is not authenticated.
func (h *HandlerService) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	reqLogger := logger.ContextRequestLogger(r.Context())
	communityID := chi.URLParam(r, "communityID")

	if _, ok := h.Catalog.Lookup(communityID); !ok {
		reqLogger.Debug("Authorize requested for unknown community", slog.String("community_id", communityID))
		http.NotFound(w, r)
		return
	}

	state, err := h.newSessionState(r, formPrompt(r))
	if err != nil {
		h.renderInternalError(w, r, "could not load session", err)
		return
	}

	outcome, err := state.controller.Authorize(r.Context(), communityID)

	logger.ContextWithLogAttrs(r.Context(),
		slog.String("community_id", communityID),
		slog.String("outcome", outcome.String()),
	)

	if err != nil {
		if errors.Is(err, authz.ErrUnknownCommunity) {
			http.NotFound(w, r)
			return
		}
		reqLogger.Warn("Authorization did not complete",
			slog.String("outcome", outcome.String()),
			slog.String("error", err.Error()),
		)
	}

	var notice string
	switch outcome {
	case authz.OutcomeLoginCancelled:
		notice = noticeLoginCancelled
	case authz.OutcomeLoginFailed:
		notice = userMessage(err)
	case authz.OutcomeCheckFailed:
		if errors.Is(err, picket.ErrSessionEnded) {
			notice = noticeSessionEnded
		} else {
			notice = noticeCheckFailed
		}
	}

	h.renderSession(w, r, state, notice)
}
