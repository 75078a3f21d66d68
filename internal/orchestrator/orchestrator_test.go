package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/iac-sandbox/stackd/internal/domain"
	"github.com/iac-sandbox/stackd/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOrchestrator(t *testing.T, opts Options) (*Orchestrator, *engine.LocalFake) {
	t.Helper()
	fake := engine.NewLocalFake()
	orch := New(fake, opts)
	t.Cleanup(orch.Close)
	return orch, fake
}

func TestGetOrCreateIdempotent(t *testing.T) {
	orch, fake := newTestOrchestrator(t, Options{})
	ctx := context.Background()

	first, err := orch.GetOrCreateStack(ctx, "dev-alice")
	require.NoError(t, err)
	second, err := orch.GetOrCreateStack(ctx, "dev-alice")
	require.NoError(t, err)

	assert.Equal(t, "dev-alice", first.Name)
	assert.Equal(t, first.Name, second.Name)
	assert.Equal(t, 1, fake.CreateCalls, "second call must not create again")
}

func TestGetOrCreateNoDefaultsWithoutCloudProject(t *testing.T) {
	orch, _ := newTestOrchestrator(t, Options{})
	ctx := context.Background()

	info, err := orch.GetOrCreateStack(ctx, "dev-alice")
	require.NoError(t, err)
	assert.Empty(t, info.Config)
	assert.Empty(t, info.Outputs)
	assert.Zero(t, info.ResourceCount)
}

func TestGetOrCreateSeedsDefaults(t *testing.T) {
	orch, _ := newTestOrchestrator(t, Options{
		Defaults: Defaults{
			Project:      "iac-sandbox",
			CloudProject: "acme-proj",
			Region:       "us-central1",
			AppImage:     "gcr.io/acme-proj/app:latest",
		},
	})
	ctx := context.Background()

	info, err := orch.GetOrCreateStack(ctx, "dev-bob")
	require.NoError(t, err)

	assert.Equal(t, "acme-proj", info.Config["gcp:project"])
	assert.Equal(t, "gcp", info.Config["iac-sandbox:provider"])
	assert.Equal(t, "us-central1", info.Config["iac-sandbox:region"])
	assert.Equal(t, "gcr.io/acme-proj/app:latest", info.Config["iac-sandbox:app_image"])
}

func TestUpdateConfigThenInfo(t *testing.T) {
	orch, _ := newTestOrchestrator(t, Options{})
	ctx := context.Background()

	_, err := orch.GetOrCreateStack(ctx, "dev-alice")
	require.NoError(t, err)

	err = orch.UpdateConfig(ctx, "dev-alice", map[string]string{
		"provider": "gcp",
		"region":   "us-central1",
	})
	require.NoError(t, err)

	info, err := orch.GetStackInfo(ctx, "dev-alice")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"provider": "gcp", "region": "us-central1"}, info.Config)
}

func TestUpdateConfigPartialApplication(t *testing.T) {
	orch, fake := newTestOrchestrator(t, Options{})
	ctx := context.Background()

	_, err := orch.GetOrCreateStack(ctx, "dev-alice")
	require.NoError(t, err)
	fake.FailConfigKey("dev-alice", "b-key", errors.New("config backend down"))

	err = orch.UpdateConfig(ctx, "dev-alice", map[string]string{
		"a-key": "1",
		"b-key": "2",
		"c-key": "3",
	})
	require.Error(t, err)

	// Keys are applied in order; the one before the failure sticks.
	info, err := orch.GetStackInfo(ctx, "dev-alice")
	require.NoError(t, err)
	assert.Equal(t, "1", info.Config["a-key"])
	_, applied := info.Config["c-key"]
	assert.False(t, applied)
}

func TestGetStackInfoNotFound(t *testing.T) {
	orch, _ := newTestOrchestrator(t, Options{})

	_, err := orch.GetStackInfo(context.Background(), "never-created")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPreviewNotFoundPropagates(t *testing.T) {
	orch, _ := newTestOrchestrator(t, Options{})

	_, err := orch.PreviewStack(context.Background(), "never-created")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	var engErr *domain.EngineError
	assert.ErrorAs(t, err, &engErr)
	assert.Equal(t, "preview", engErr.Op)
}

func TestGetStackInfoToleratesOutputsFailure(t *testing.T) {
	orch, fake := newTestOrchestrator(t, Options{})
	ctx := context.Background()

	_, err := orch.GetOrCreateStack(ctx, "dev-alice")
	require.NoError(t, err)

	fake.FailNext("outputs", errors.New("no outputs yet"))
	info, err := orch.GetStackInfo(ctx, "dev-alice")
	require.NoError(t, err)
	assert.NotNil(t, info.Outputs)
	assert.Empty(t, info.Outputs)
}

func TestGetStackInfoConfigFailurePropagates(t *testing.T) {
	orch, fake := newTestOrchestrator(t, Options{})
	ctx := context.Background()

	_, err := orch.GetOrCreateStack(ctx, "dev-alice")
	require.NoError(t, err)

	fake.FailNext("config", errors.New("config backend down"))
	_, err = orch.GetStackInfo(ctx, "dev-alice")
	require.Error(t, err)
	var engErr *domain.EngineError
	assert.ErrorAs(t, err, &engErr)
}

func TestApplyPopulatesOutputsAndSummary(t *testing.T) {
	orch, fake := newTestOrchestrator(t, Options{})
	ctx := context.Background()

	_, err := orch.GetOrCreateStack(ctx, "dev-alice")
	require.NoError(t, err)
	fake.SetDesired("dev-alice",
		[]domain.Resource{{URN: "urn:1", Type: "gcp:run:Service"}},
		map[string]any{"url": "https://app.example.com"},
	)

	result, err := orch.ApplyStack(ctx, "dev-alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, result.Status)
	assert.Equal(t, domain.OperationUp, result.Operation)
	assert.Equal(t, 1, result.Summary.Created)
	assert.Equal(t, "https://app.example.com", result.Outputs["url"])
	assert.NotEmpty(t, result.DeploymentID)
}

func TestApplyToleratesOutputsReadFailure(t *testing.T) {
	orch, fake := newTestOrchestrator(t, Options{})
	ctx := context.Background()

	_, err := orch.GetOrCreateStack(ctx, "dev-alice")
	require.NoError(t, err)

	fake.FailNext("outputs", errors.New("transient"))
	result, err := orch.ApplyStack(ctx, "dev-alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, result.Status)
	assert.NotNil(t, result.Outputs)
	assert.Empty(t, result.Outputs)
}

func TestDestroyZeroesStack(t *testing.T) {
	orch, fake := newTestOrchestrator(t, Options{})
	ctx := context.Background()

	_, err := orch.GetOrCreateStack(ctx, "dev-alice")
	require.NoError(t, err)
	fake.SetDesired("dev-alice", []domain.Resource{{URN: "urn:1", Type: "t"}}, nil)
	_, err = orch.ApplyStack(ctx, "dev-alice")
	require.NoError(t, err)

	result, err := orch.DestroyStack(ctx, "dev-alice")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Summary.Deleted)

	info, err := orch.GetStackInfo(ctx, "dev-alice")
	require.NoError(t, err)
	assert.Zero(t, info.ResourceCount)
}

func TestGetResourcesEmptyWhenNoResourcesSection(t *testing.T) {
	orch, _ := newTestOrchestrator(t, Options{})
	ctx := context.Background()

	_, err := orch.GetOrCreateStack(ctx, "dev-alice")
	require.NoError(t, err)

	resources, err := orch.GetResources(ctx, "dev-alice")
	require.NoError(t, err)
	assert.NotNil(t, resources)
	assert.Empty(t, resources)
}

func TestGetResourcesFlagsDanglingReference(t *testing.T) {
	orch, fake := newTestOrchestrator(t, Options{})
	ctx := context.Background()

	_, err := orch.GetOrCreateStack(ctx, "dev-alice")
	require.NoError(t, err)
	fake.SetResources("dev-alice", []domain.Resource{
		{URN: "urn:a", Type: "t", Dependencies: []string{"urn:gone"}},
	})

	_, err = orch.GetResources(ctx, "dev-alice")
	assert.ErrorIs(t, err, domain.ErrCorruptState)
}

func TestDeleteStackEngineRejectsNonEmpty(t *testing.T) {
	orch, fake := newTestOrchestrator(t, Options{})
	ctx := context.Background()

	_, err := orch.GetOrCreateStack(ctx, "dev-alice")
	require.NoError(t, err)
	fake.SetDesired("dev-alice", []domain.Resource{{URN: "urn:1", Type: "t"}}, nil)
	_, err = orch.ApplyStack(ctx, "dev-alice")
	require.NoError(t, err)

	err = orch.DeleteStack(ctx, "dev-alice")
	require.Error(t, err)

	// The stack is still there.
	_, err = orch.GetStackInfo(ctx, "dev-alice")
	assert.NoError(t, err)
}

func TestDeleteEmptyStack(t *testing.T) {
	orch, _ := newTestOrchestrator(t, Options{})
	ctx := context.Background()

	_, err := orch.GetOrCreateStack(ctx, "dev-alice")
	require.NoError(t, err)
	require.NoError(t, orch.DeleteStack(ctx, "dev-alice"))

	_, err = orch.GetStackInfo(ctx, "dev-alice")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListStacksBestEffort(t *testing.T) {
	orch, fake := newTestOrchestrator(t, Options{})
	ctx := context.Background()

	assert.Empty(t, orch.ListStacks(ctx))

	_, err := orch.GetOrCreateStack(ctx, "dev-alice")
	require.NoError(t, err)
	assert.Len(t, orch.ListStacks(ctx), 1)

	// A listing fault is reported as an empty workspace, not an error.
	fake.FailNext("list", errors.New("backend unreachable"))
	assert.Empty(t, orch.ListStacks(ctx))
}

func TestConcurrentAppliesOnDistinctStacks(t *testing.T) {
	orch, fake := newTestOrchestrator(t, Options{Workers: 4})
	ctx := context.Background()

	_, err := orch.GetOrCreateStack(ctx, "dev-a")
	require.NoError(t, err)
	_, err = orch.GetOrCreateStack(ctx, "dev-b")
	require.NoError(t, err)
	fake.SetDesired("dev-a", []domain.Resource{{URN: "urn:a", Type: "t"}}, nil)
	fake.SetDesired("dev-b", []domain.Resource{{URN: "urn:b", Type: "t"}}, nil)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, name := range []string{"dev-a", "dev-b"} {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			_, errs[i] = orch.ApplyStack(ctx, name)
		}(i, name)
	}
	wg.Wait()

	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
}

type captureRecorder struct {
	mu      sync.Mutex
	created []domain.DeploymentRecord
	updated []domain.DeploymentRecord
}

func (r *captureRecorder) CreateDeployment(_ context.Context, rec *domain.DeploymentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, *rec)
	return nil
}

func (r *captureRecorder) UpdateDeployment(_ context.Context, rec *domain.DeploymentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updated = append(r.updated, *rec)
	return nil
}

func TestLifecycleRecordsHistory(t *testing.T) {
	rec := &captureRecorder{}
	orch, _ := newTestOrchestrator(t, Options{Recorder: rec})
	ctx := context.Background()

	_, err := orch.GetOrCreateStack(ctx, "dev-alice")
	require.NoError(t, err)
	result, err := orch.ApplyStack(ctx, "dev-alice")
	require.NoError(t, err)

	require.Len(t, rec.created, 1)
	require.Len(t, rec.updated, 1)
	assert.Equal(t, domain.StatusRunning, rec.created[0].Status)
	assert.Equal(t, domain.StatusCompleted, rec.updated[0].Status)
	assert.Equal(t, result.DeploymentID, rec.updated[0].ID)
	assert.NotNil(t, rec.updated[0].FinishedAt)
}

type capturePublisher struct {
	mu     sync.Mutex
	events []domain.DeploymentResult
	lines  []string
}

func (p *capturePublisher) DeploymentEvent(result domain.DeploymentResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, result)
}

func (p *capturePublisher) DeploymentProgress(_, _ string, line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lines = append(p.lines, line)
}

func TestLifecyclePublishesEvents(t *testing.T) {
	pub := &capturePublisher{}
	orch, _ := newTestOrchestrator(t, Options{Publisher: pub})
	ctx := context.Background()

	_, err := orch.GetOrCreateStack(ctx, "dev-alice")
	require.NoError(t, err)
	_, err = orch.PreviewStack(ctx, "dev-alice")
	require.NoError(t, err)

	require.Len(t, pub.events, 2)
	assert.Equal(t, domain.StatusRunning, pub.events[0].Status)
	assert.Equal(t, domain.StatusCompleted, pub.events[1].Status)
	assert.Equal(t, pub.events[0].DeploymentID, pub.events[1].DeploymentID)
	assert.NotEmpty(t, pub.lines)
}
