package handler

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/iac-sandbox/stackd/internal/domain"
	"github.com/iac-sandbox/stackd/internal/orchestrator"
	"github.com/iac-sandbox/stackd/internal/storage"
	"github.com/iac-sandbox/stackd/internal/validation"
)

// StackHandler handles stack lifecycle endpoints.
type StackHandler struct {
	orch  *orchestrator.Orchestrator
	store storage.Storage
}

// NewStackHandler creates a new StackHandler.
func NewStackHandler(orch *orchestrator.Orchestrator, store storage.Storage) *StackHandler {
	return &StackHandler{orch: orch, store: store}
}

func stackName(r *http.Request) string {
	return chi.URLParam(r, "name")
}

// List lists all stacks in the engine workspace.
func (h *StackHandler) List(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.orch.ListStacks(r.Context()))
}

// Create gets or creates a stack. The operation is idempotent: posting
// an existing name returns the existing stack unchanged.
func (h *StackHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateStackRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validation.ValidateCreateStack(req.Name, req.Config); err != nil {
		handleError(w, err)
		return
	}

	info, err := h.orch.GetOrCreateStack(r.Context(), req.Name)
	if err != nil {
		handleError(w, err)
		return
	}

	if len(req.Config) > 0 {
		if err := h.orch.UpdateConfig(r.Context(), req.Name, req.Config); err != nil {
			handleError(w, err)
			return
		}
		info, err = h.orch.GetStackInfo(r.Context(), req.Name)
		if err != nil {
			handleError(w, err)
			return
		}
	}

	respondJSON(w, http.StatusCreated, info)
}

// Get returns the full view of one stack.
func (h *StackHandler) Get(w http.ResponseWriter, r *http.Request) {
	info, err := h.orch.GetStackInfo(r.Context(), stackName(r))
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, info)
}

// UpdateConfig applies configuration to a stack and returns the updated view.
func (h *StackHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	name := stackName(r)
	var req domain.UpdateStackConfigRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Config) == 0 {
		respondError(w, http.StatusBadRequest, "config is required")
		return
	}
	if err := validation.ValidateConfig(req.Config); err != nil {
		handleError(w, err)
		return
	}

	if err := h.orch.UpdateConfig(r.Context(), name, req.Config); err != nil {
		handleError(w, err)
		return
	}
	info, err := h.orch.GetStackInfo(r.Context(), name)
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, info)
}

// Preview computes the change set without touching infrastructure.
func (h *StackHandler) Preview(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.orch.PreviewStack)
}

// Up applies the change set.
func (h *StackHandler) Up(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.orch.ApplyStack)
}

// Destroy tears down the stack's resources. The stack itself survives
// and can be applied again.
func (h *StackHandler) Destroy(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.orch.DestroyStack)
}

// Refresh reconciles recorded state with actual infrastructure and
// returns the refreshed stack view.
func (h *StackHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	name := stackName(r)
	if _, err := h.orch.RefreshStack(r.Context(), name); err != nil {
		handleError(w, err)
		return
	}
	info, err := h.orch.GetStackInfo(r.Context(), name)
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, info)
}

func (h *StackHandler) lifecycle(w http.ResponseWriter, r *http.Request, op func(context.Context, string) (*domain.DeploymentResult, error)) {
	result, err := op(r.Context(), stackName(r))
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Outputs returns the stack's output values.
func (h *StackHandler) Outputs(w http.ResponseWriter, r *http.Request) {
	outputs, err := h.orch.GetOutputs(r.Context(), stackName(r))
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"outputs": outputs})
}

// Resources returns the resources recorded in the stack's state.
func (h *StackHandler) Resources(w http.ResponseWriter, r *http.Request) {
	resources, err := h.orch.GetResources(r.Context(), stackName(r))
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resources)
}

// Delete removes a stack from the workspace. Stacks that still hold
// resources are rejected; destroy them first.
func (h *StackHandler) Delete(w http.ResponseWriter, r *http.Request) {
	name := stackName(r)

	resources, err := h.orch.GetResources(r.Context(), name)
	if err != nil {
		handleError(w, err)
		return
	}
	if len(resources) > 0 {
		handleError(w, fmt.Errorf("%w: stack %q still has %d resources, destroy it first",
			domain.ErrPreconditionFailed, name, len(resources)))
		return
	}

	if err := h.orch.DeleteStack(r.Context(), name); err != nil {
		handleError(w, err)
		return
	}

	// The stack is gone; its history goes with it. Failures here are
	// logged, not surfaced, since the deletion itself succeeded.
	if err := h.store.DeleteDeploymentsForStack(r.Context(), name); err != nil {
		log.Printf("Purging deployment history for %s failed: %v", name, err)
	}

	w.WriteHeader(http.StatusNoContent)
}
