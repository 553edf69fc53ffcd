package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/information-sharing-networks/incremental-auth/internal/apperrors"
	"github.com/information-sharing-networks/incremental-auth/internal/logger"
	"github.com/information-sharing-networks/incremental-auth/internal/picket"
	"github.com/information-sharing-networks/incremental-auth/internal/responses"
	"github.com/information-sharing-networks/incremental-auth/internal/version"
)

type NonceRequest struct {
	WalletAddress string `json:"walletAddress"`
	Chain         string `json:"chain"`
}

// HandleNonce asks Picket for the message the wallet must sign. It is called by wallet.js before personal_sign.
func (h *HandlerService) HandleNonce(w http.ResponseWriter, r *http.Request) {
	reqLogger := logger.ContextRequestLogger(r.Context())

	var req NonceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			responses.RespondWithError(w, r, http.StatusRequestEntityTooLarge, apperrors.ErrCodeRequestTooLarge, "request body too large")
			return
		}
		responses.RespondWithError(w, r, http.StatusBadRequest, apperrors.ErrCodeMalformedBody, "could not decode request body")
		return
	}

	if !common.IsHexAddress(req.WalletAddress) {
		responses.RespondWithError(w, r, http.StatusBadRequest, apperrors.ErrCodeInvalidRequest, "walletAddress must be a hex encoded address")
		return
	}

	res, err := h.Picket.Nonce(r.Context(), picket.NonceRequest{
		WalletAddress: common.HexToAddress(req.WalletAddress).Hex(),
		Chain:         req.Chain,
	})
	if err != nil {
		reqLogger.Error("Nonce request failed", slog.String("error", err.Error()))

		var ce *picket.ClientError
		if errors.As(err, &ce) && ce.StatusCode >= 400 && ce.StatusCode < 500 {
			responses.RespondWithError(w, r, http.StatusBadRequest, apperrors.ErrCodeInvalidRequest, ce.UserError())
			return
		}
		responses.RespondWithError(w, r, http.StatusBadGateway, apperrors.ErrCodeUpstreamUnavailable, userMessage(err))
		return
	}

	responses.RespondWithJSON(w, http.StatusOK, res)
}

// HandleLiveness reports that the process is serving requests
func (h *HandlerService) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *HandlerService) HandleVersion(w http.ResponseWriter, r *http.Request) {
	responses.RespondWithJSON(w, http.StatusOK, version.Get())
}
