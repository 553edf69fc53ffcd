package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/a-h/templ"
	"github.com/ethereum/go-ethereum/common"

	"github.com/information-sharing-networks/incremental-auth/internal/authz"
	"github.com/information-sharing-networks/incremental-auth/internal/community"
	"github.com/information-sharing-networks/incremental-auth/internal/logger"
	"github.com/information-sharing-networks/incremental-auth/internal/picket"
	"github.com/information-sharing-networks/incremental-auth/internal/session"
	"github.com/information-sharing-networks/incremental-auth/internal/ui/templates"
)

const (
	noticeLoginCancelled = "Login cancelled"
	noticeCheckFailed    = "Unable to verify authorization. Please try again."
	noticeSessionEnded   = "Your wallet session has ended. Please log in again."
	noticeSessionError   = "An error occurred. Please try again."
)

type HandlerService struct {
	Catalog *community.Catalog
	Picket  *picket.Client
	Store   session.Store
}

// sessionState is the per request binding of the browser session to the authorization workflow
type sessionState struct {
	oracle     *picket.Oracle
	controller *authz.Controller
}

// newSessionState builds the oracle and controller for the session loaded by session.Middleware.
// prompt supplies the wallet credentials for requests that can start a login.
func (h *HandlerService) newSessionState(r *http.Request, prompt picket.WalletPrompt) (*sessionState, error) {
	rec, ok := session.FromContext(r.Context())
	if !ok {
		return nil, errors.New("no session in request context")
	}

	oracle := picket.NewOracle(h.Picket, h.Store, rec.ID, rec.Auth, rec.Grants, prompt)
	controller := authz.NewController(h.Catalog, oracle, session.ErrorMap(h.Store, rec.ID), logger.ContextRequestLogger(r.Context()))

	if err := controller.SyncSession(r.Context()); err != nil {
		return nil, err
	}
	return &sessionState{oracle: oracle, controller: controller}, nil
}

// formPrompt reads the credentials wallet.js adds to the request. A missing signature means the user rejected the wallet prompt.
func formPrompt(r *http.Request) picket.WalletPrompt {
	return func(ctx context.Context) (*picket.WalletCredentials, error) {
		signature := strings.TrimSpace(r.PostFormValue("signature"))
		if signature == "" {
			return nil, nil
		}

		address := strings.TrimSpace(r.PostFormValue("wallet_address"))
		if !common.IsHexAddress(address) {
			return nil, fmt.Errorf("invalid wallet address %q", address)
		}

		return &picket.WalletCredentials{
			WalletAddress: common.HexToAddress(address).Hex(),
			Signature:     signature,
			Chain:         r.PostFormValue("chain"),
		}, nil
	}
}

func isHTMXRequest(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("HX-Request"), "true")
}

// renderSession responds with the current state of the session.
// htmx requests get the grid with out of band header and notice updates, other requests are redirected to the home page.
func (h *HandlerService) renderSession(w http.ResponseWriter, r *http.Request, state *sessionState, notice string) {
	reqLogger := logger.ContextRequestLogger(r.Context())

	if !isHTMXRequest(r) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	// the session may have ended while handling the request
	if err := state.controller.SyncSession(r.Context()); err != nil {
		reqLogger.Error("could not sync session", slog.String("error", err.Error()))
	}

	statuses, err := state.controller.Statuses(r.Context())
	if err != nil {
		h.renderInternalError(w, r, "could not read community statuses", err)
		return
	}

	render(w, r, templates.GridFragment(templates.HomePageData{
		User:        state.controller.User(),
		Communities: statuses,
		Notice:      notice,
	}), "community grid")
}

func (h *HandlerService) renderInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	reqLogger := logger.ContextRequestLogger(r.Context())
	reqLogger.Error(msg, slog.String("error", err.Error()))
	http.Error(w, noticeSessionError, http.StatusInternalServerError)
}

// userMessage returns the user facing text for a Picket failure
func userMessage(err error) string {
	var ce *picket.ClientError
	if errors.As(err, &ce) && ce.UserError() != "" {
		return ce.UserError()
	}
	return noticeSessionError
}

func render(w http.ResponseWriter, r *http.Request, component templ.Component, what string) {
	if err := component.Render(r.Context(), w); err != nil {
		reqLogger := logger.ContextRequestLogger(r.Context())
		reqLogger.Error("Failed to render "+what, slog.String("error", err.Error()))
	}
}
