// Package engine defines the contract this service consumes from the
// provisioning engine. The engine's planning and apply algorithms are a
// black box; only session selection, configuration, lifecycle calls and
// state export are modeled here.
package engine

import (
	"context"
	"io"

	"github.com/iac-sandbox/stackd/internal/domain"
)

// Result shapes are deliberately heterogeneous, one variant per
// lifecycle operation, mirroring the engine's own result objects.
// Normalization into the uniform deployment summary happens in the
// orchestrator, nowhere else.

// PreviewResult is the outcome of a dry-run.
type PreviewResult struct {
	ChangeSummary map[string]int
}

// UpdateSummary is the change-count section shared by up, destroy and
// refresh results. ResourceChanges may be nil when the engine reports
// no changes section at all.
type UpdateSummary struct {
	ResourceChanges map[string]int
}

// UpResult is the outcome of an apply.
type UpResult struct {
	Summary UpdateSummary
	Outputs map[string]any
}

// DestroyResult is the outcome of a destroy.
type DestroyResult struct {
	Summary UpdateSummary
}

// RefreshResult is the outcome of a state refresh.
type RefreshResult struct {
	Summary UpdateSummary
}

// StateExport is the exported deployment state of a stack.
type StateExport struct {
	Resources []domain.Resource
}

// Session is a handle on one named stack. Sessions are cheap and
// re-derived per operation; callers must not retain them across calls.
type Session interface {
	GetConfig(ctx context.Context) (map[string]string, error)
	SetConfig(ctx context.Context, key, value string) error
	Outputs(ctx context.Context) (map[string]any, error)
	ExportState(ctx context.Context) (*StateExport, error)

	Preview(ctx context.Context, progress io.Writer) (*PreviewResult, error)
	Up(ctx context.Context, progress io.Writer) (*UpResult, error)
	Destroy(ctx context.Context, progress io.Writer) (*DestroyResult, error)
	Refresh(ctx context.Context, progress io.Writer) (*RefreshResult, error)
}

// Client is the workspace-level engine interface.
type Client interface {
	// Select opens a session on an existing stack. Returns
	// domain.ErrNotFound when the engine does not know the name.
	Select(ctx context.Context, name string) (Session, error)

	// Create creates a new stack and opens a session on it. Returns
	// domain.ErrAlreadyExists when the name is taken.
	Create(ctx context.Context, name string) (Session, error)

	ListStacks(ctx context.Context) ([]domain.StackSummary, error)
	RemoveStack(ctx context.Context, name string) error
}
