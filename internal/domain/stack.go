package domain

import "time"

// StackSummary is one row of the engine workspace listing.
type StackSummary struct {
	Name          string     `json:"name"`
	Current       bool       `json:"current"`
	LastUpdate    *time.Time `json:"lastUpdate,omitempty"`
	ResourceCount int        `json:"resourceCount"`
	URL           string     `json:"url,omitempty"`
}

// StackInfo is the full view of a stack: configuration, outputs and
// the workspace-level metadata cross-referenced from the listing.
// A stack that has never had a successful apply has empty Outputs and
// ResourceCount zero.
type StackInfo struct {
	Name          string            `json:"name"`
	Config        map[string]string `json:"config"`
	Outputs       map[string]any    `json:"outputs"`
	LastUpdate    *time.Time        `json:"lastUpdate,omitempty"`
	ResourceCount int               `json:"resourceCount"`
	URL           string            `json:"url,omitempty"`
}

// CreateStackRequest is the request body for creating a stack.
type CreateStackRequest struct {
	Name   string            `json:"name"`
	Config map[string]string `json:"config,omitempty"`
}

// UpdateStackConfigRequest is the request body for updating stack
// configuration. Keys are applied one at a time; a mid-sequence failure
// leaves earlier keys applied.
type UpdateStackConfigRequest struct {
	Config map[string]string `json:"config"`
}
