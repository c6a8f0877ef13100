package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/cleared-dev/harvest/internal/api/respond"
	"github.com/cleared-dev/harvest/internal/bank"
	"github.com/cleared-dev/harvest/internal/extract"
	"github.com/cleared-dev/harvest/internal/stream"
)

type extractorHandler struct {
	coord  *extract.Coordinator
	logger *zap.Logger
}

func (h *extractorHandler) banks(w http.ResponseWriter, _ *http.Request) {
	respond.JSON(w, h.logger, http.StatusOK, "ok", h.coord.Catalog())
}

// extract streams one account's progress. Failures after the stream has
// started travel inside it as the final extraction chunk.
func (h *extractorHandler) extract(w http.ResponseWriter, r *http.Request) {
	framing, err := stream.ParseFraming(r.URL.Query().Get("framing"))
	if err != nil {
		respond.Error(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}

	var req stream.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("invalid extraction request body", zap.Error(err))
		respond.Error(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Account.ID == "" {
		respond.Error(w, h.logger, http.StatusBadRequest, "account.id is required")
		return
	}
	if !bank.Supports(h.coord.Catalog(), req.Account.BankID) {
		respond.Error(w, h.logger, http.StatusBadRequest, "no adapter registered for bank "+req.Account.BankID)
		return
	}

	w.Header().Set("Content-Type", framing.ContentType())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	enc := stream.NewEncoder(w, framing)
	if err := h.coord.Extract(r.Context(), req, enc); err != nil && !errors.Is(err, r.Context().Err()) {
		h.logger.Info("extraction reported failure",
			zap.String("account_id", req.Account.ID), zap.Error(err))
	}
}
