package domain

import "time"

// FileInfo describes one file under the infrastructure directory.
type FileInfo struct {
	Path      string    `json:"path"`
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	Modified  time.Time `json:"modified"`
	Extension string    `json:"extension"`
}

// DirectoryTree is a nested view of the infrastructure directory.
type DirectoryTree struct {
	Name     string           `json:"name"`
	Path     string           `json:"path"`
	Dir      bool             `json:"dir"`
	Children []*DirectoryTree `json:"children,omitempty"`
}

// FileContent is the body of a read-file response.
type FileContent struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Size    int    `json:"size"`
}

// WriteFileRequest is the request body for writing a file.
type WriteFileRequest struct {
	Content  string `json:"content"`
	Validate bool   `json:"validate,omitempty"`
}

// CreateFileRequest is the request body for creating a file.
type CreateFileRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// ValidateSourceRequest is the request body for a standalone syntax check.
type ValidateSourceRequest struct {
	FileName string `json:"fileName"`
	Content  string `json:"content"`
}

// ValidationResult reports the outcome of a syntax check.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}
