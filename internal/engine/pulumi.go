package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/iac-sandbox/stackd/internal/domain"
	"github.com/pulumi/pulumi/sdk/v3/go/auto"
	"github.com/pulumi/pulumi/sdk/v3/go/auto/optdestroy"
	"github.com/pulumi/pulumi/sdk/v3/go/auto/optpreview"
	"github.com/pulumi/pulumi/sdk/v3/go/auto/optrefresh"
	"github.com/pulumi/pulumi/sdk/v3/go/auto/optup"
)

// PulumiClient talks to the Pulumi Automation API against a local
// workspace. The work dir holds the infrastructure program; all durable
// stack state lives in Pulumi's own backend.
type PulumiClient struct {
	workDir string
}

// Ensure PulumiClient implements Client.
var _ Client = (*PulumiClient)(nil)

// NewPulumiClient creates a client rooted at workDir.
func NewPulumiClient(workDir string) *PulumiClient {
	return &PulumiClient{workDir: workDir}
}

// Select opens a session on an existing stack.
func (c *PulumiClient) Select(ctx context.Context, name string) (Session, error) {
	stack, err := auto.SelectStackLocalSource(ctx, name, c.workDir)
	if err != nil {
		if auto.IsSelectStack404Error(err) {
			return nil, fmt.Errorf("stack %q: %w", name, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("selecting stack %q: %w", name, err)
	}
	return &pulumiSession{stack: stack}, nil
}

// Create creates a new stack and opens a session on it.
func (c *PulumiClient) Create(ctx context.Context, name string) (Session, error) {
	stack, err := auto.NewStackLocalSource(ctx, name, c.workDir)
	if err != nil {
		if auto.IsCreateStack409Error(err) {
			return nil, fmt.Errorf("stack %q: %w", name, domain.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("creating stack %q: %w", name, err)
	}
	return &pulumiSession{stack: stack}, nil
}

// ListStacks enumerates all stacks in the workspace.
func (c *PulumiClient) ListStacks(ctx context.Context) ([]domain.StackSummary, error) {
	ws, err := auto.NewLocalWorkspace(ctx, auto.WorkDir(c.workDir))
	if err != nil {
		return nil, fmt.Errorf("opening workspace: %w", err)
	}

	summaries, err := ws.ListStacks(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing stacks: %w", err)
	}

	out := make([]domain.StackSummary, 0, len(summaries))
	for _, s := range summaries {
		summary := domain.StackSummary{
			Name:    s.Name,
			Current: s.Current,
			URL:     s.URL,
		}
		if s.ResourceCount != nil {
			summary.ResourceCount = *s.ResourceCount
		}
		if s.LastUpdate != "" {
			if ts, err := time.Parse(time.RFC3339, s.LastUpdate); err == nil {
				summary.LastUpdate = &ts
			}
		}
		out = append(out, summary)
	}
	return out, nil
}

// RemoveStack removes a stack from the workspace. The engine rejects
// removal of stacks that still own resources.
func (c *PulumiClient) RemoveStack(ctx context.Context, name string) error {
	ws, err := auto.NewLocalWorkspace(ctx, auto.WorkDir(c.workDir))
	if err != nil {
		return fmt.Errorf("opening workspace: %w", err)
	}
	if err := ws.RemoveStack(ctx, name); err != nil {
		return fmt.Errorf("removing stack %q: %w", name, err)
	}
	return nil
}

type pulumiSession struct {
	stack auto.Stack
}

func (s *pulumiSession) GetConfig(ctx context.Context) (map[string]string, error) {
	cfg, err := s.stack.GetAllConfig(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(cfg))
	for k, v := range cfg {
		out[k] = v.Value
	}
	return out, nil
}

func (s *pulumiSession) SetConfig(ctx context.Context, key, value string) error {
	return s.stack.SetConfig(ctx, key, auto.ConfigValue{Value: value})
}

func (s *pulumiSession) Outputs(ctx context.Context) (map[string]any, error) {
	outputs, err := s.stack.Outputs(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(outputs))
	for k, v := range outputs {
		out[k] = v.Value
	}
	return out, nil
}

// exportedDeployment is the subset of the engine's deployment document
// this service reads.
type exportedDeployment struct {
	Resources []struct {
		URN          string         `json:"urn"`
		Type         string         `json:"type"`
		ID           string         `json:"id"`
		Parent       string         `json:"parent"`
		Dependencies []string       `json:"dependencies"`
		Outputs      map[string]any `json:"outputs"`
		Inputs       map[string]any `json:"inputs"`
	} `json:"resources"`
}

func (s *pulumiSession) ExportState(ctx context.Context) (*StateExport, error) {
	deployment, err := s.stack.Export(ctx)
	if err != nil {
		return nil, err
	}

	export := &StateExport{}
	if len(deployment.Deployment) == 0 {
		return export, nil
	}

	var doc exportedDeployment
	if err := json.Unmarshal(deployment.Deployment, &doc); err != nil {
		return nil, fmt.Errorf("parsing exported state: %w", err)
	}

	for _, r := range doc.Resources {
		deps := r.Dependencies
		if deps == nil {
			deps = []string{}
		}
		export.Resources = append(export.Resources, domain.Resource{
			URN:          r.URN,
			Type:         r.Type,
			ID:           r.ID,
			Parent:       r.Parent,
			Dependencies: deps,
			Properties:   r.Outputs,
			Inputs:       r.Inputs,
		})
	}
	return export, nil
}

func (s *pulumiSession) Preview(ctx context.Context, progress io.Writer) (*PreviewResult, error) {
	var opts []optpreview.Option
	if progress != nil {
		opts = append(opts, optpreview.ProgressStreams(progress))
	}

	res, err := s.stack.Preview(ctx, opts...)
	if err != nil {
		return nil, err
	}

	summary := make(map[string]int, len(res.ChangeSummary))
	for op, n := range res.ChangeSummary {
		summary[string(op)] = n
	}
	return &PreviewResult{ChangeSummary: summary}, nil
}

func (s *pulumiSession) Up(ctx context.Context, progress io.Writer) (*UpResult, error) {
	var opts []optup.Option
	if progress != nil {
		opts = append(opts, optup.ProgressStreams(progress))
	}

	res, err := s.stack.Up(ctx, opts...)
	if err != nil {
		return nil, err
	}

	result := &UpResult{Outputs: make(map[string]any, len(res.Outputs))}
	for k, v := range res.Outputs {
		result.Outputs[k] = v.Value
	}
	if res.Summary.ResourceChanges != nil {
		result.Summary.ResourceChanges = *res.Summary.ResourceChanges
	}
	return result, nil
}

func (s *pulumiSession) Destroy(ctx context.Context, progress io.Writer) (*DestroyResult, error) {
	var opts []optdestroy.Option
	if progress != nil {
		opts = append(opts, optdestroy.ProgressStreams(progress))
	}

	res, err := s.stack.Destroy(ctx, opts...)
	if err != nil {
		return nil, err
	}

	result := &DestroyResult{}
	if res.Summary.ResourceChanges != nil {
		result.Summary.ResourceChanges = *res.Summary.ResourceChanges
	}
	return result, nil
}

func (s *pulumiSession) Refresh(ctx context.Context, progress io.Writer) (*RefreshResult, error) {
	var opts []optrefresh.Option
	if progress != nil {
		opts = append(opts, optrefresh.ProgressStreams(progress))
	}

	res, err := s.stack.Refresh(ctx, opts...)
	if err != nil {
		return nil, err
	}

	result := &RefreshResult{}
	if res.Summary.ResourceChanges != nil {
		result.Summary.ResourceChanges = *res.Summary.ResourceChanges
	}
	return result, nil
}
