package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/iac-sandbox/stackd/internal/domain"
	"github.com/iac-sandbox/stackd/internal/files"
)

// FileHandler exposes the infrastructure source directory.
type FileHandler struct {
	files *files.Service
}

func NewFileHandler(svc *files.Service) *FileHandler {
	return &FileHandler{files: svc}
}

// filePath extracts the wildcard path segment from the route.
func filePath(r *http.Request) string {
	return chi.URLParam(r, "*")
}

// List lists source files, optionally filtered by subdirectory and
// name pattern (?directory=, ?pattern=).
func (h *FileHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	infos, err := h.files.ListFiles(q.Get("directory"), q.Get("pattern"))
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, infos)
}

// Tree returns the nested directory structure (?directory=).
func (h *FileHandler) Tree(w http.ResponseWriter, r *http.Request) {
	tree, err := h.files.Tree(r.URL.Query().Get("directory"))
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tree)
}

// Read returns the content of one file.
func (h *FileHandler) Read(w http.ResponseWriter, r *http.Request) {
	content, err := h.files.ReadFile(filePath(r))
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, content)
}

// Write replaces the content of a file. Go sources are syntax-checked
// unless the request disables validation.
func (h *FileHandler) Write(w http.ResponseWriter, r *http.Request) {
	req := domain.WriteFileRequest{Validate: true}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	path := filePath(r)
	if err := h.files.WriteFile(path, req.Content, req.Validate); err != nil {
		handleError(w, err)
		return
	}

	content, err := h.files.ReadFile(path)
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, content)
}

// Create writes a new file, rejecting paths that already exist.
func (h *FileHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateFileRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		respondError(w, http.StatusBadRequest, "path is required")
		return
	}

	if err := h.files.CreateFile(req.Path, req.Content); err != nil {
		handleError(w, err)
		return
	}

	content, err := h.files.ReadFile(req.Path)
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, content)
}

// Delete removes one file.
func (h *FileHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.files.DeleteFile(filePath(r)); err != nil {
		handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Validate runs a syntax check over source text without writing it.
func (h *FileHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req domain.ValidateSourceRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	name := req.FileName
	if name == "" {
		name = "source.go"
	}
	respondJSON(w, http.StatusOK, files.ValidateGo(name, req.Content))
}
