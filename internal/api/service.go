package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/cleared-dev/harvest/internal/aggregate"
	"github.com/cleared-dev/harvest/internal/api/respond"
	"github.com/cleared-dev/harvest/internal/id"
	"github.com/cleared-dev/harvest/internal/model"
	"github.com/cleared-dev/harvest/internal/store"
)

type serviceHandler struct {
	svc    *aggregate.Service
	db     *store.Store
	logger *zap.Logger
}

// EnqueueRequest is the body of POST /extractions.
type EnqueueRequest struct {
	AccountIDs []string `json:"accountIds"`
}

func (h *serviceHandler) fail(w http.ResponseWriter, msg string, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(msg, zap.Error(err))
		respond.Error(w, h.logger, status, "internal server error")
		return
	}
	respond.Error(w, h.logger, status, err.Error())
}

func (h *serviceHandler) banks(w http.ResponseWriter, r *http.Request) {
	catalog, err := h.svc.Catalog(r.Context())
	if err != nil {
		h.logger.Error("loading bank catalog failed", zap.Error(err))
		respond.Error(w, h.logger, http.StatusBadGateway, "extraction process unavailable")
		return
	}
	respond.JSON(w, h.logger, http.StatusOK, "ok", catalog)
}

func (h *serviceHandler) listAccounts(w http.ResponseWriter, r *http.Request) {
	accts, err := h.db.ListAccounts(r.Context())
	if err != nil {
		h.fail(w, "listing accounts failed", err)
		return
	}
	respond.JSON(w, h.logger, http.StatusOK, "ok", nonNil(accts))
}

func (h *serviceHandler) listTransactions(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	if _, err := h.db.GetAccount(r.Context(), accountID); err != nil {
		h.fail(w, "getting account failed", err)
		return
	}
	txns, err := h.db.ListTransactions(r.Context(), accountID)
	if err != nil {
		h.fail(w, "listing transactions failed", err)
		return
	}
	respond.JSON(w, h.logger, http.StatusOK, "ok", nonNil(txns))
}

func (h *serviceHandler) enqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.AccountIDs) == 0 {
		respond.Error(w, h.logger, http.StatusBadRequest, "accountIds is required")
		return
	}
	queued, err := h.svc.Enqueue(r.Context(), req.AccountIDs)
	if err != nil {
		h.fail(w, "enqueueing extractions failed", err)
		return
	}
	respond.JSON(w, h.logger, http.StatusAccepted, "queued", queued)
}

func (h *serviceHandler) listExtractions(w http.ResponseWriter, r *http.Request) {
	unfinished := false
	if v := r.URL.Query().Get("unfinished"); v != "" {
		var err error
		if unfinished, err = strconv.ParseBool(v); err != nil {
			respond.Error(w, h.logger, http.StatusBadRequest, "unfinished must be a boolean")
			return
		}
	}
	list, err := h.db.ListExtractions(r.Context(), unfinished)
	if err != nil {
		h.fail(w, "listing extractions failed", err)
		return
	}
	respond.JSON(w, h.logger, http.StatusOK, "ok", nonNil(list))
}

func (h *serviceHandler) getExtraction(w http.ResponseWriter, r *http.Request) {
	extractionID := chi.URLParam(r, "id")
	if !id.Valid(extractionID) {
		respond.Error(w, h.logger, http.StatusBadRequest, "malformed extraction id")
		return
	}
	e, err := h.db.GetExtraction(r.Context(), extractionID)
	if err != nil {
		h.fail(w, "getting extraction failed", err)
		return
	}
	respond.JSON(w, h.logger, http.StatusOK, "ok", e)
}

func (h *serviceHandler) getChallenge(w http.ResponseWriter, r *http.Request) {
	ch, err := h.db.GetChallenge(r.Context(), chi.URLParam(r, "bank"))
	if err != nil {
		h.fail(w, "getting challenge failed", err)
		return
	}
	respond.JSON(w, h.logger, http.StatusOK, "ok", ch)
}

// putChallenge registers a challenge on behalf of a relay running in a
// separate extraction process.
func (h *serviceHandler) putChallenge(w http.ResponseWriter, r *http.Request) {
	var ch model.MFAChallenge
	if err := json.NewDecoder(r.Body).Decode(&ch); err != nil {
		respond.Error(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}
	ch.BankID = chi.URLParam(r, "bank")
	if err := h.db.PutChallenge(r.Context(), ch); err != nil {
		h.fail(w, "putting challenge failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *serviceHandler) submitChallenge(w http.ResponseWriter, r *http.Request) {
	var u model.MFAUpdate
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		respond.Error(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}
	if u.Option == nil && (u.Code == nil || *u.Code == "") && len(u.Options) == 0 {
		respond.Error(w, h.logger, http.StatusBadRequest, "option or code is required")
		return
	}
	bankID := chi.URLParam(r, "bank")
	if err := h.db.UpdateChallenge(r.Context(), bankID, u); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respond.Error(w, h.logger, http.StatusNotFound, "no outstanding challenge for "+bankID)
			return
		}
		h.fail(w, "submitting challenge failed", err)
		return
	}
	h.logger.Info("mfa input submitted", zap.String("bank", bankID), zap.Bool("code", u.Code != nil), zap.Bool("option", u.Option != nil))
	w.WriteHeader(http.StatusNoContent)
}

func (h *serviceHandler) deleteChallenge(w http.ResponseWriter, r *http.Request) {
	if err := h.db.DeleteChallenge(r.Context(), chi.URLParam(r, "bank")); err != nil {
		h.fail(w, "deleting challenge failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
