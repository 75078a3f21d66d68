package engine

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/iac-sandbox/stackd/internal/domain"
)

// LocalFake is an in-memory engine for tests and for running the server
// without a real provisioning backend (ENGINE_FAKE=1). Stacks live in a
// map; Up "provisions" whatever was staged with SetDesired, Destroy
// tears it down.
type LocalFake struct {
	mu       sync.Mutex
	stacks   map[string]*fakeStack
	failures map[string]error // op -> one-shot injected failure

	// CreateCalls counts Create invocations, for idempotence checks.
	CreateCalls int
}

type fakeStack struct {
	config     map[string]string
	outputs    map[string]any
	resources  []domain.Resource
	desired    []domain.Resource
	nextOut    map[string]any
	lastUpdate *time.Time
	failKeys   map[string]error // config keys whose SetConfig fails
}

// Ensure LocalFake implements Client.
var _ Client = (*LocalFake)(nil)

// NewLocalFake creates an empty fake engine.
func NewLocalFake() *LocalFake {
	return &LocalFake{
		stacks:   make(map[string]*fakeStack),
		failures: make(map[string]error),
	}
}

// FailNext injects a one-shot failure for the named operation. Ops:
// select, create, list, remove, config, setconfig, outputs, export,
// preview, up, destroy, refresh.
func (f *LocalFake) FailNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = err
}

func (f *LocalFake) takeFailure(op string) error {
	err, ok := f.failures[op]
	if ok {
		delete(f.failures, op)
	}
	return err
}

// SetDesired stages what the next Up on the stack will provision.
func (f *LocalFake) SetDesired(name string, resources []domain.Resource, outputs map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.stacks[name]; ok {
		s.desired = resources
		s.nextOut = outputs
	}
}

// SetResources overwrites the exported state of the stack directly,
// bypassing Up. Used to stage fixtures such as dangling references.
func (f *LocalFake) SetResources(name string, resources []domain.Resource) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.stacks[name]; ok {
		s.resources = resources
	}
}

// FailConfigKey makes SetConfig of the given key fail on the stack.
func (f *LocalFake) FailConfigKey(name, key string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.stacks[name]; ok {
		if s.failKeys == nil {
			s.failKeys = make(map[string]error)
		}
		s.failKeys[key] = err
	}
}

func (f *LocalFake) Select(ctx context.Context, name string) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure("select"); err != nil {
		return nil, err
	}
	if _, ok := f.stacks[name]; !ok {
		return nil, fmt.Errorf("stack %q: %w", name, domain.ErrNotFound)
	}
	return &fakeSession{fake: f, name: name}, nil
}

func (f *LocalFake) Create(ctx context.Context, name string) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure("create"); err != nil {
		return nil, err
	}
	if _, ok := f.stacks[name]; ok {
		return nil, fmt.Errorf("stack %q: %w", name, domain.ErrAlreadyExists)
	}
	f.CreateCalls++
	f.stacks[name] = &fakeStack{
		config:  make(map[string]string),
		outputs: make(map[string]any),
	}
	return &fakeSession{fake: f, name: name}, nil
}

func (f *LocalFake) ListStacks(ctx context.Context) ([]domain.StackSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure("list"); err != nil {
		return nil, err
	}
	out := make([]domain.StackSummary, 0, len(f.stacks))
	for name, s := range f.stacks {
		out = append(out, domain.StackSummary{
			Name:          name,
			LastUpdate:    s.lastUpdate,
			ResourceCount: len(s.resources),
		})
	}
	return out, nil
}

func (f *LocalFake) RemoveStack(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure("remove"); err != nil {
		return err
	}
	s, ok := f.stacks[name]
	if !ok {
		return fmt.Errorf("stack %q: %w", name, domain.ErrNotFound)
	}
	if len(s.resources) > 0 {
		return fmt.Errorf("stack %q still has %d resources", name, len(s.resources))
	}
	delete(f.stacks, name)
	return nil
}

type fakeSession struct {
	fake *LocalFake
	name string
}

func (s *fakeSession) get() (*fakeStack, error) {
	st, ok := s.fake.stacks[s.name]
	if !ok {
		return nil, fmt.Errorf("stack %q: %w", s.name, domain.ErrNotFound)
	}
	return st, nil
}

func (s *fakeSession) GetConfig(ctx context.Context) (map[string]string, error) {
	s.fake.mu.Lock()
	defer s.fake.mu.Unlock()
	if err := s.fake.takeFailure("config"); err != nil {
		return nil, err
	}
	st, err := s.get()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(st.config))
	for k, v := range st.config {
		out[k] = v
	}
	return out, nil
}

func (s *fakeSession) SetConfig(ctx context.Context, key, value string) error {
	s.fake.mu.Lock()
	defer s.fake.mu.Unlock()
	if err := s.fake.takeFailure("setconfig"); err != nil {
		return err
	}
	st, err := s.get()
	if err != nil {
		return err
	}
	if err := st.failKeys[key]; err != nil {
		return err
	}
	st.config[key] = value
	return nil
}

func (s *fakeSession) Outputs(ctx context.Context) (map[string]any, error) {
	s.fake.mu.Lock()
	defer s.fake.mu.Unlock()
	if err := s.fake.takeFailure("outputs"); err != nil {
		return nil, err
	}
	st, err := s.get()
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(st.outputs))
	for k, v := range st.outputs {
		out[k] = v
	}
	return out, nil
}

func (s *fakeSession) ExportState(ctx context.Context) (*StateExport, error) {
	s.fake.mu.Lock()
	defer s.fake.mu.Unlock()
	if err := s.fake.takeFailure("export"); err != nil {
		return nil, err
	}
	st, err := s.get()
	if err != nil {
		return nil, err
	}
	export := &StateExport{Resources: make([]domain.Resource, len(st.resources))}
	copy(export.Resources, st.resources)
	return export, nil
}

func (s *fakeSession) Preview(ctx context.Context, progress io.Writer) (*PreviewResult, error) {
	s.fake.mu.Lock()
	defer s.fake.mu.Unlock()
	if err := s.fake.takeFailure("preview"); err != nil {
		return nil, err
	}
	st, err := s.get()
	if err != nil {
		return nil, err
	}
	emit(progress, "previewing stack %s", s.name)

	summary := map[string]int{}
	if n := len(st.desired) - len(st.resources); n > 0 {
		summary["create"] = n
	}
	if len(st.resources) > 0 {
		summary["same"] = len(st.resources)
	}
	return &PreviewResult{ChangeSummary: summary}, nil
}

func (s *fakeSession) Up(ctx context.Context, progress io.Writer) (*UpResult, error) {
	s.fake.mu.Lock()
	defer s.fake.mu.Unlock()
	if err := s.fake.takeFailure("up"); err != nil {
		return nil, err
	}
	st, err := s.get()
	if err != nil {
		return nil, err
	}
	emit(progress, "updating stack %s", s.name)

	created := len(st.desired) - len(st.resources)
	if created < 0 {
		created = 0
	}
	st.resources = make([]domain.Resource, len(st.desired))
	copy(st.resources, st.desired)
	st.outputs = make(map[string]any, len(st.nextOut))
	for k, v := range st.nextOut {
		st.outputs[k] = v
	}
	now := time.Now()
	st.lastUpdate = &now

	result := &UpResult{Outputs: make(map[string]any, len(st.outputs))}
	for k, v := range st.outputs {
		result.Outputs[k] = v
	}
	changes := map[string]int{}
	if created > 0 {
		changes["create"] = created
	}
	if same := len(st.resources) - created; same > 0 {
		changes["same"] = same
	}
	if len(changes) > 0 {
		result.Summary.ResourceChanges = changes
	}
	return result, nil
}

func (s *fakeSession) Destroy(ctx context.Context, progress io.Writer) (*DestroyResult, error) {
	s.fake.mu.Lock()
	defer s.fake.mu.Unlock()
	if err := s.fake.takeFailure("destroy"); err != nil {
		return nil, err
	}
	st, err := s.get()
	if err != nil {
		return nil, err
	}
	emit(progress, "destroying stack %s", s.name)

	deleted := len(st.resources)
	st.resources = nil
	st.outputs = make(map[string]any)
	now := time.Now()
	st.lastUpdate = &now

	result := &DestroyResult{}
	if deleted > 0 {
		result.Summary.ResourceChanges = map[string]int{"delete": deleted}
	}
	return result, nil
}

func (s *fakeSession) Refresh(ctx context.Context, progress io.Writer) (*RefreshResult, error) {
	s.fake.mu.Lock()
	defer s.fake.mu.Unlock()
	if err := s.fake.takeFailure("refresh"); err != nil {
		return nil, err
	}
	st, err := s.get()
	if err != nil {
		return nil, err
	}
	emit(progress, "refreshing stack %s", s.name)

	result := &RefreshResult{}
	if len(st.resources) > 0 {
		result.Summary.ResourceChanges = map[string]int{"same": len(st.resources)}
	}
	return result, nil
}

func emit(w io.Writer, format string, args ...any) {
	if w != nil {
		fmt.Fprintf(w, format+"\n", args...)
	}
}
