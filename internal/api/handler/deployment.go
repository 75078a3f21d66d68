package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/iac-sandbox/stackd/internal/domain"
	"github.com/iac-sandbox/stackd/internal/storage"
)

// DeploymentHandler serves the persisted deployment history.
type DeploymentHandler struct {
	store storage.Storage
}

// NewDeploymentHandler creates a new DeploymentHandler.
func NewDeploymentHandler(store storage.Storage) *DeploymentHandler {
	return &DeploymentHandler{store: store}
}

func pagination(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// List lists deployments across all stacks, newest first.
func (h *DeploymentHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	records, err := h.store.ListDeployments(r.Context(), limit, offset)
	if err != nil {
		handleError(w, err)
		return
	}
	if records == nil {
		records = []*domain.DeploymentRecord{}
	}
	respondJSON(w, http.StatusOK, records)
}

// ListForStack lists deployments of one stack, newest first.
func (h *DeploymentHandler) ListForStack(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	records, err := h.store.ListDeploymentsForStack(r.Context(), chi.URLParam(r, "name"), limit, offset)
	if err != nil {
		handleError(w, err)
		return
	}
	if records == nil {
		records = []*domain.DeploymentRecord{}
	}
	respondJSON(w, http.StatusOK, records)
}

// Get returns one deployment record by ID.
func (h *DeploymentHandler) Get(w http.ResponseWriter, r *http.Request) {
	record, err := h.store.GetDeployment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, record)
}
