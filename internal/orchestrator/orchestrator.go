// Package orchestrator owns the stack lifecycle: get-or-create
// semantics, default-configuration seeding, operation dispatch and
// normalization of the engine's heterogeneous results. All engine calls
// run on a bounded worker pool; operations on the same stack name are
// serialized by a per-name lock, distinct names proceed in parallel.
package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/iac-sandbox/stackd/internal/domain"
	"github.com/iac-sandbox/stackd/internal/engine"
)

// Publisher receives deployment lifecycle events and engine progress
// lines. Implemented by the events hub; nil disables publishing.
type Publisher interface {
	DeploymentEvent(result domain.DeploymentResult)
	DeploymentProgress(deploymentID, stackName, line string)
}

// Recorder persists deployment history. Implemented by the storage
// layer; nil disables history. Recording failures are logged, never
// propagated - history is secondary to the operation itself.
type Recorder interface {
	CreateDeployment(ctx context.Context, rec *domain.DeploymentRecord) error
	UpdateDeployment(ctx context.Context, rec *domain.DeploymentRecord) error
}

// Defaults is the configuration seeded into newly created stacks. Keys
// are only written when CloudProject is set; without a backing cloud
// project a new stack starts with no configuration at all.
type Defaults struct {
	Project      string // engine project name, prefixes project-scoped keys
	CloudProject string
	Region       string
	AppImage     string
}

// Options configures an Orchestrator.
type Options struct {
	Workers   int
	Defaults  Defaults
	Publisher Publisher
	Recorder  Recorder
}

// Orchestrator is the core stack lifecycle component. It holds no
// per-stack state: every operation re-derives its engine session from
// the stack name, so the worker pool and the lock table are the only
// shared mutable resources.
type Orchestrator struct {
	engine    engine.Client
	pool      *workerPool
	defaults  Defaults
	publisher Publisher
	recorder  Recorder

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New creates an Orchestrator around the given engine client.
func New(client engine.Client, opts Options) *Orchestrator {
	return &Orchestrator{
		engine:    client,
		pool:      newWorkerPool(opts.Workers),
		defaults:  opts.Defaults,
		publisher: opts.Publisher,
		recorder:  opts.Recorder,
		locks:     make(map[string]*sync.Mutex),
	}
}

// Close stops the worker pool after in-flight operations finish.
func (o *Orchestrator) Close() {
	o.pool.Close()
}

// nameLock returns the mutex serializing mutating operations on one
// stack name.
func (o *Orchestrator) nameLock(name string) *sync.Mutex {
	o.locksMu.Lock()
	defer o.locksMu.Unlock()
	m, ok := o.locks[name]
	if !ok {
		m = &sync.Mutex{}
		o.locks[name] = m
	}
	return m
}

// ListStacks enumerates the engine workspace. Listing is best-effort:
// a failure is logged and reported as an empty workspace, so callers
// cannot distinguish the two from the response alone.
func (o *Orchestrator) ListStacks(ctx context.Context) []domain.StackSummary {
	stacks, err := submit(o.pool, func() ([]domain.StackSummary, error) {
		return o.engine.ListStacks(ctx)
	})
	if err != nil {
		log.Printf("Listing stacks failed, reporting empty workspace: %v", err)
		return []domain.StackSummary{}
	}
	if stacks == nil {
		stacks = []domain.StackSummary{}
	}
	return stacks
}

// GetOrCreateStack selects the named stack, creating it when the engine
// reports it absent. A freshly created stack is seeded with default
// configuration when a backing cloud project is configured. Repeated
// calls with the same name converge on the same stack; losing a create
// race falls back to selecting the winner's stack.
func (o *Orchestrator) GetOrCreateStack(ctx context.Context, name string) (*domain.StackInfo, error) {
	if name == "" {
		return nil, domain.ErrInvalidInput
	}

	m := o.nameLock(name)
	m.Lock()
	defer m.Unlock()

	_, err := submit(o.pool, func() (struct{}, error) {
		return struct{}{}, o.ensureStack(ctx, name)
	})
	if err != nil {
		return nil, domain.NewEngineError(name, "get-or-create", err)
	}

	return o.stackInfo(ctx, name)
}

func (o *Orchestrator) ensureStack(ctx context.Context, name string) error {
	if _, err := o.engine.Select(ctx, name); err == nil {
		log.Printf("Selected existing stack: %s", name)
		return nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	log.Printf("Creating new stack: %s", name)
	sess, err := o.engine.Create(ctx, name)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			// Lost a create race; the stack exists now.
			_, err = o.engine.Select(ctx, name)
		}
		return err
	}

	return o.seedDefaults(ctx, name, sess)
}

// seedDefaults writes the provider/region/image defaults into a newly
// created stack. Without a cloud project the stack stays unconfigured.
func (o *Orchestrator) seedDefaults(ctx context.Context, name string, sess engine.Session) error {
	d := o.defaults
	if d.CloudProject == "" {
		return nil
	}

	pairs := [][2]string{
		{"gcp:project", d.CloudProject},
		{d.Project + ":provider", "gcp"},
		{d.Project + ":region", d.Region},
	}
	if d.AppImage != "" {
		pairs = append(pairs, [2]string{d.Project + ":app_image", d.AppImage})
	}
	for _, kv := range pairs {
		if err := sess.SetConfig(ctx, kv[0], kv[1]); err != nil {
			return err
		}
	}
	log.Printf("Configured stack %s with default settings", name)
	return nil
}

// GetStackInfo returns the full view of a stack. A missing stack
// surfaces as domain.ErrNotFound; a configuration read failure
// propagates; an outputs read failure is tolerated and normalizes to an
// empty map since outputs are enrichment here, not the primary result.
func (o *Orchestrator) GetStackInfo(ctx context.Context, name string) (*domain.StackInfo, error) {
	if name == "" {
		return nil, domain.ErrInvalidInput
	}
	return o.stackInfo(ctx, name)
}

func (o *Orchestrator) stackInfo(ctx context.Context, name string) (*domain.StackInfo, error) {
	return submit(o.pool, func() (*domain.StackInfo, error) {
		sess, err := o.engine.Select(ctx, name)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, err
			}
			return nil, domain.NewEngineError(name, "select", err)
		}

		config, err := sess.GetConfig(ctx)
		if err != nil {
			return nil, domain.NewEngineError(name, "get-config", err)
		}
		if config == nil {
			config = map[string]string{}
		}

		outputs, err := sess.Outputs(ctx)
		if err != nil {
			log.Printf("Reading outputs for stack %s failed, returning empty: %v", name, err)
			outputs = map[string]any{}
		}
		if outputs == nil {
			outputs = map[string]any{}
		}

		info := &domain.StackInfo{
			Name:    name,
			Config:  config,
			Outputs: outputs,
		}

		summaries, err := o.engine.ListStacks(ctx)
		if err != nil {
			return nil, domain.NewEngineError(name, "list", err)
		}
		for _, s := range summaries {
			if s.Name == name {
				info.LastUpdate = s.LastUpdate
				info.ResourceCount = s.ResourceCount
				info.URL = s.URL
				break
			}
		}
		return info, nil
	})
}

// UpdateConfig applies every key/value pair to the stack, in key order.
// A mid-sequence failure leaves earlier keys applied; there is no
// rollback.
func (o *Orchestrator) UpdateConfig(ctx context.Context, name string, config map[string]string) error {
	if name == "" {
		return domain.ErrInvalidInput
	}

	m := o.nameLock(name)
	m.Lock()
	defer m.Unlock()

	_, err := submit(o.pool, func() (struct{}, error) {
		sess, err := o.engine.Select(ctx, name)
		if err != nil {
			return struct{}{}, err
		}

		keys := make([]string, 0, len(config))
		for k := range config {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			if err := sess.SetConfig(ctx, k, config[k]); err != nil {
				return struct{}{}, err
			}
		}
		log.Printf("Updated config for stack %s: %v", name, keys)
		return struct{}{}, nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return domain.NewEngineError(name, "update-config", err)
	}
	return nil
}

// PreviewStack computes the change set without mutating infrastructure.
func (o *Orchestrator) PreviewStack(ctx context.Context, name string) (*domain.DeploymentResult, error) {
	return o.lifecycle(ctx, name, domain.OperationPreview)
}

// ApplyStack executes the change set ("up"). Outputs are read after a
// successful apply; a failure to read them does not fail the apply.
func (o *Orchestrator) ApplyStack(ctx context.Context, name string) (*domain.DeploymentResult, error) {
	return o.lifecycle(ctx, name, domain.OperationUp)
}

// DestroyStack tears down all resources in the stack.
func (o *Orchestrator) DestroyStack(ctx context.Context, name string) (*domain.DeploymentResult, error) {
	return o.lifecycle(ctx, name, domain.OperationDestroy)
}

// RefreshStack reconciles recorded state with actual infrastructure.
func (o *Orchestrator) RefreshStack(ctx context.Context, name string) (*domain.DeploymentResult, error) {
	return o.lifecycle(ctx, name, domain.OperationRefresh)
}

// lifecycle runs one engine lifecycle operation end to end: per-name
// lock, history record, running/completed/failed events, normalization.
func (o *Orchestrator) lifecycle(ctx context.Context, name, op string) (*domain.DeploymentResult, error) {
	if name == "" {
		return nil, domain.ErrInvalidInput
	}

	deploymentID := uuid.New().String()

	m := o.nameLock(name)
	m.Lock()
	defer m.Unlock()

	rec := &domain.DeploymentRecord{
		ID:        deploymentID,
		StackName: name,
		Operation: op,
		Status:    domain.StatusRunning,
		StartedAt: time.Now(),
	}
	o.recordCreate(ctx, rec)
	o.publish(domain.DeploymentResult{
		DeploymentID: deploymentID,
		StackName:    name,
		Operation:    op,
		Status:       domain.StatusRunning,
	})

	progress := o.progressWriter(deploymentID, name)

	result, err := submit(o.pool, func() (*domain.DeploymentResult, error) {
		sess, err := o.engine.Select(ctx, name)
		if err != nil {
			return nil, err
		}

		res := &domain.DeploymentResult{
			DeploymentID: deploymentID,
			StackName:    name,
			Operation:    op,
			Status:       domain.StatusCompleted,
		}

		switch op {
		case domain.OperationPreview:
			pr, err := sess.Preview(ctx, progress)
			if err != nil {
				return nil, err
			}
			res.Summary = normalizePreview(pr)
		case domain.OperationUp:
			ur, err := sess.Up(ctx, progress)
			if err != nil {
				return nil, err
			}
			res.Summary = normalizeUp(ur)
			outputs, err := sess.Outputs(ctx)
			if err != nil {
				log.Printf("Reading outputs after apply of %s failed, returning empty: %v", name, err)
				outputs = map[string]any{}
			}
			if outputs == nil {
				outputs = map[string]any{}
			}
			res.Outputs = outputs
		case domain.OperationDestroy:
			dr, err := sess.Destroy(ctx, progress)
			if err != nil {
				return nil, err
			}
			res.Summary = normalizeDestroy(dr)
		case domain.OperationRefresh:
			rr, err := sess.Refresh(ctx, progress)
			if err != nil {
				return nil, err
			}
			res.Summary = normalizeRefresh(rr)
		}
		return res, nil
	})

	now := time.Now()
	rec.FinishedAt = &now

	if err != nil {
		rec.Status = domain.StatusFailed
		rec.Error = err.Error()
		o.recordUpdate(ctx, rec)
		o.publish(domain.DeploymentResult{
			DeploymentID: deploymentID,
			StackName:    name,
			Operation:    op,
			Status:       domain.StatusFailed,
			Error:        err.Error(),
		})
		return nil, domain.NewEngineError(name, op, err)
	}

	rec.Status = domain.StatusCompleted
	rec.Created = result.Summary.Created
	rec.Updated = result.Summary.Updated
	rec.Deleted = result.Summary.Deleted
	rec.Unchanged = result.Summary.Unchanged
	o.recordUpdate(ctx, rec)
	o.publish(*result)

	return result, nil
}

// GetOutputs reads the stack's outputs. Unlike the enrichment reads in
// GetStackInfo, here outputs are the primary result and failures
// propagate.
func (o *Orchestrator) GetOutputs(ctx context.Context, name string) (map[string]any, error) {
	if name == "" {
		return nil, domain.ErrInvalidInput
	}
	return submit(o.pool, func() (map[string]any, error) {
		sess, err := o.engine.Select(ctx, name)
		if err != nil {
			return nil, wrapUnlessNotFound(name, "select", err)
		}
		outputs, err := sess.Outputs(ctx)
		if err != nil {
			return nil, domain.NewEngineError(name, "outputs", err)
		}
		if outputs == nil {
			outputs = map[string]any{}
		}
		return outputs, nil
	})
}

// GetResources walks the stack's exported state. An export with no
// resources section yields an empty slice; a dangling parent or
// dependency reference is a corrupt export and surfaces as an error.
func (o *Orchestrator) GetResources(ctx context.Context, name string) ([]domain.Resource, error) {
	if name == "" {
		return nil, domain.ErrInvalidInput
	}
	return submit(o.pool, func() ([]domain.Resource, error) {
		sess, err := o.engine.Select(ctx, name)
		if err != nil {
			return nil, wrapUnlessNotFound(name, "select", err)
		}
		export, err := sess.ExportState(ctx)
		if err != nil {
			return nil, domain.NewEngineError(name, "export", err)
		}
		if export == nil || len(export.Resources) == 0 {
			return []domain.Resource{}, nil
		}
		if err := domain.ValidateResourceGraph(export.Resources); err != nil {
			return nil, err
		}
		return export.Resources, nil
	})
}

// DeleteStack removes the stack from the engine workspace. The removal
// is unconditional here; the API layer enforces the zero-resource
// precondition before calling. The engine still rejects removal of a
// non-empty stack.
func (o *Orchestrator) DeleteStack(ctx context.Context, name string) error {
	if name == "" {
		return domain.ErrInvalidInput
	}

	m := o.nameLock(name)
	m.Lock()
	defer m.Unlock()

	_, err := submit(o.pool, func() (struct{}, error) {
		return struct{}{}, o.engine.RemoveStack(ctx, name)
	})
	if err != nil {
		return wrapUnlessNotFound(name, "remove", err)
	}
	log.Printf("Deleted stack: %s", name)
	return nil
}

func (o *Orchestrator) publish(result domain.DeploymentResult) {
	if o.publisher != nil {
		o.publisher.DeploymentEvent(result)
	}
}

func (o *Orchestrator) recordCreate(ctx context.Context, rec *domain.DeploymentRecord) {
	if o.recorder == nil {
		return
	}
	if err := o.recorder.CreateDeployment(ctx, rec); err != nil {
		log.Printf("Recording deployment %s failed: %v", rec.ID, err)
	}
}

func (o *Orchestrator) recordUpdate(ctx context.Context, rec *domain.DeploymentRecord) {
	if o.recorder == nil {
		return
	}
	if err := o.recorder.UpdateDeployment(ctx, rec); err != nil {
		log.Printf("Updating deployment record %s failed: %v", rec.ID, err)
	}
}

// progressWriter returns an io.Writer that feeds engine output lines to
// the publisher, or nil when no publisher is configured.
func (o *Orchestrator) progressWriter(deploymentID, stackName string) io.Writer {
	if o.publisher == nil {
		return nil
	}
	return &lineWriter{
		emit: func(line string) {
			o.publisher.DeploymentProgress(deploymentID, stackName, line)
		},
	}
}

// lineWriter buffers writes and emits complete lines. A trailing
// partial line is held until the next write; lifecycle operations end
// their streams with a newline so nothing is lost in practice.
type lineWriter struct {
	emit func(string)
	buf  bytes.Buffer
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// Partial line, put it back.
			w.buf.WriteString(line)
			break
		}
		if trimmed := line[:len(line)-1]; trimmed != "" {
			w.emit(trimmed)
		}
	}
	return len(p), nil
}

func wrapUnlessNotFound(name, op string, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return domain.NewEngineError(name, op, err)
}
