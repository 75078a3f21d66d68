package domain

import "fmt"

// Resource is one provisioned unit inside a stack's exported state.
// Parent and Dependencies reference other resources in the same export
// by URN.
type Resource struct {
	URN          string         `json:"urn"`
	Type         string         `json:"type"`
	ID           string         `json:"id,omitempty"`
	Parent       string         `json:"parent,omitempty"`
	Dependencies []string       `json:"dependencies"`
	Properties   map[string]any `json:"properties"`
	Inputs       map[string]any `json:"inputs"`
}

// ValidateResourceGraph checks referential integrity of an exported
// resource set: every Parent and every Dependencies entry must resolve
// to a URN present in the same set. A dangling reference indicates a
// corrupted or partial export and is surfaced, not dropped.
func ValidateResourceGraph(resources []Resource) error {
	urns := make(map[string]struct{}, len(resources))
	for _, r := range resources {
		urns[r.URN] = struct{}{}
	}

	for _, r := range resources {
		if r.Parent != "" {
			if _, ok := urns[r.Parent]; !ok {
				return fmt.Errorf("%w: resource %s has dangling parent %s", ErrCorruptState, r.URN, r.Parent)
			}
		}
		for _, dep := range r.Dependencies {
			if _, ok := urns[dep]; !ok {
				return fmt.Errorf("%w: resource %s has dangling dependency %s", ErrCorruptState, r.URN, dep)
			}
		}
	}
	return nil
}
