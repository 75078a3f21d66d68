package api_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/iac-sandbox/stackd/internal/api"
	"github.com/iac-sandbox/stackd/internal/domain"
	"github.com/iac-sandbox/stackd/internal/engine"
	"github.com/iac-sandbox/stackd/internal/events"
	"github.com/iac-sandbox/stackd/internal/files"
	"github.com/iac-sandbox/stackd/internal/orchestrator"
	"github.com/iac-sandbox/stackd/internal/storage/memory"
)

// testServer creates a test server with in-memory storage and a fake engine.
type testServer struct {
	handler      http.Handler
	store        *memory.Store
	fake         *engine.LocalFake
	orch         *orchestrator.Orchestrator
	bootstrapKey string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := memory.New()
	fake := engine.NewLocalFake()
	bootstrapKey := "test-bootstrap-key"

	orch := orchestrator.New(fake, orchestrator.Options{
		Publisher: events.NewHub(),
		Recorder:  store,
	})
	t.Cleanup(orch.Close)

	fileSvc, err := files.NewService(t.TempDir())
	if err != nil {
		t.Fatalf("creating file service: %v", err)
	}

	handler := api.NewRouter(store, orch, fileSvc, events.NewHub(), bootstrapKey, nil, nil)

	return &testServer{
		handler:      handler,
		store:        store,
		fake:         fake,
		orch:         orch,
		bootstrapKey: bootstrapKey,
	}
}

func (ts *testServer) request(method, path string, body any, apiKey string) *httptest.ResponseRecorder {
	var reqBody io.Reader
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewReader(jsonBytes)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.request("GET", "/health", nil, "")

	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}

	var resp map[string]string
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp["status"] != "ok" {
		t.Errorf("Expected status ok, got %s", resp["status"])
	}
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)

	// Request without auth header
	rr := ts.request("GET", "/api/v1/stacks", nil, "")
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rr.Code)
	}

	// Request with invalid auth header format
	req := httptest.NewRequest("GET", "/api/v1/stacks", nil)
	req.Header.Set("Authorization", "Basic invalid")
	rr = httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rr.Code)
	}

	// Request with an unknown API key
	rr = ts.request("GET", "/api/v1/stacks", nil, "invalid-key")
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rr.Code)
	}
}

func TestBootstrapKeyAuth(t *testing.T) {
	ts := newTestServer(t)

	// Bootstrap key works while no API keys exist
	rr := ts.request("GET", "/api/v1/stacks", nil, ts.bootstrapKey)
	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200 with bootstrap key, got %d", rr.Code)
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	ts := newTestServer(t)

	createReq := domain.CreateAPIKeyRequest{Name: "Test Key"}
	rr := ts.request("POST", "/api/v1/keys", createReq, ts.bootstrapKey)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var createResp domain.CreateAPIKeyResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &createResp)
	if createResp.Key == "" {
		t.Error("Expected key to be returned on creation")
	}

	// The new key works
	rr = ts.request("GET", "/api/v1/stacks", nil, createResp.Key)
	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200 with new key, got %d", rr.Code)
	}

	// Bootstrap key stops working once a real key exists
	rr = ts.request("GET", "/api/v1/stacks", nil, ts.bootstrapKey)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 for bootstrap key after key creation, got %d", rr.Code)
	}

	// List hides the key value
	rr = ts.request("GET", "/api/v1/keys", nil, createResp.Key)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	if bytes.Contains(rr.Body.Bytes(), []byte(createResp.Key)) {
		t.Error("API key value must not appear in list responses")
	}

	// Delete
	rr = ts.request("DELETE", "/api/v1/keys/"+createResp.ID, nil, createResp.Key)
	if rr.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", rr.Code)
	}
}

func TestStackCreateIsIdempotent(t *testing.T) {
	ts := newTestServer(t)

	createReq := domain.CreateStackRequest{Name: "dev"}
	rr := ts.request("POST", "/api/v1/stacks", createReq, ts.bootstrapKey)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = ts.request("POST", "/api/v1/stacks", createReq, ts.bootstrapKey)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201 on repeat create, got %d: %s", rr.Code, rr.Body.String())
	}

	if ts.fake.CreateCalls != 1 {
		t.Errorf("Expected exactly one engine create, got %d", ts.fake.CreateCalls)
	}
}

func TestStackCreateValidation(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.request("POST", "/api/v1/stacks", domain.CreateStackRequest{Name: "bad name"}, ts.bootstrapKey)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for invalid stack name, got %d", rr.Code)
	}

	rr = ts.request("POST", "/api/v1/stacks", domain.CreateStackRequest{
		Name:   "dev",
		Config: map[string]string{":bad": "x"},
	}, ts.bootstrapKey)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for invalid config key, got %d", rr.Code)
	}
}

func TestStackCreateAppliesConfig(t *testing.T) {
	ts := newTestServer(t)

	createReq := domain.CreateStackRequest{
		Name:   "dev",
		Config: map[string]string{"gcp:project": "demo", "region": "us-central1"},
	}
	rr := ts.request("POST", "/api/v1/stacks", createReq, ts.bootstrapKey)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var info domain.StackInfo
	_ = json.Unmarshal(rr.Body.Bytes(), &info)
	if info.Config["gcp:project"] != "demo" {
		t.Errorf("Expected config to be applied, got %v", info.Config)
	}
}

func TestGetMissingStack(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.request("GET", "/api/v1/stacks/ghost", nil, ts.bootstrapKey)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestUpdateConfig(t *testing.T) {
	ts := newTestServer(t)
	ts.request("POST", "/api/v1/stacks", domain.CreateStackRequest{Name: "dev"}, ts.bootstrapKey)

	rr := ts.request("PUT", "/api/v1/stacks/dev/config", domain.UpdateStackConfigRequest{
		Config: map[string]string{"gcp:project": "demo"},
	}, ts.bootstrapKey)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var info domain.StackInfo
	_ = json.Unmarshal(rr.Body.Bytes(), &info)
	if info.Config["gcp:project"] != "demo" {
		t.Errorf("Expected updated config, got %v", info.Config)
	}

	// Empty config is rejected
	rr = ts.request("PUT", "/api/v1/stacks/dev/config", domain.UpdateStackConfigRequest{}, ts.bootstrapKey)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for empty config, got %d", rr.Code)
	}
}

func TestLifecycleEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ts.request("POST", "/api/v1/stacks", domain.CreateStackRequest{Name: "dev"}, ts.bootstrapKey)
	ts.fake.SetDesired("dev",
		[]domain.Resource{{URN: "urn:bucket", Type: "gcp:storage:Bucket"}},
		map[string]any{"bucket_url": "gs://demo"})

	// Preview reports the pending create without provisioning
	rr := ts.request("POST", "/api/v1/stacks/dev/preview", nil, ts.bootstrapKey)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var result domain.DeploymentResult
	_ = json.Unmarshal(rr.Body.Bytes(), &result)
	if result.Operation != domain.OperationPreview || result.Status != domain.StatusCompleted {
		t.Errorf("Unexpected preview result: %+v", result)
	}
	if result.Summary.Created != 1 {
		t.Errorf("Expected 1 pending create, got %+v", result.Summary)
	}

	// Up provisions and returns outputs
	rr = ts.request("POST", "/api/v1/stacks/dev/up", nil, ts.bootstrapKey)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &result)
	if result.Summary.Created != 1 {
		t.Errorf("Expected 1 created resource, got %+v", result.Summary)
	}
	if result.Outputs["bucket_url"] != "gs://demo" {
		t.Errorf("Expected outputs after up, got %v", result.Outputs)
	}

	// Outputs endpoint sees the same values
	rr = ts.request("GET", "/api/v1/stacks/dev/outputs", nil, ts.bootstrapKey)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	var outputsResp struct {
		Outputs map[string]any `json:"outputs"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &outputsResp)
	if outputsResp.Outputs["bucket_url"] != "gs://demo" {
		t.Errorf("Expected bucket_url output, got %v", outputsResp.Outputs)
	}

	// Resources endpoint lists the provisioned resource
	rr = ts.request("GET", "/api/v1/stacks/dev/resources", nil, ts.bootstrapKey)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	var resources []domain.Resource
	_ = json.Unmarshal(rr.Body.Bytes(), &resources)
	if len(resources) != 1 || resources[0].URN != "urn:bucket" {
		t.Errorf("Unexpected resources: %+v", resources)
	}

	// Refresh returns the refreshed stack view
	rr = ts.request("POST", "/api/v1/stacks/dev/refresh", nil, ts.bootstrapKey)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	var refreshed domain.StackInfo
	_ = json.Unmarshal(rr.Body.Bytes(), &refreshed)
	if refreshed.Name != "dev" || refreshed.ResourceCount != 1 {
		t.Errorf("Unexpected refreshed view: %+v", refreshed)
	}

	// Destroy removes everything
	rr = ts.request("POST", "/api/v1/stacks/dev/destroy", nil, ts.bootstrapKey)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &result)
	if result.Summary.Deleted != 1 {
		t.Errorf("Expected 1 deleted resource, got %+v", result.Summary)
	}
}

func TestLifecycleOnMissingStack(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.request("POST", "/api/v1/stacks/ghost/up", nil, ts.bootstrapKey)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestDeleteStackRequiresEmptyState(t *testing.T) {
	ts := newTestServer(t)
	ts.request("POST", "/api/v1/stacks", domain.CreateStackRequest{Name: "dev"}, ts.bootstrapKey)
	ts.fake.SetDesired("dev", []domain.Resource{{URN: "urn:bucket", Type: "gcp:storage:Bucket"}}, nil)
	ts.request("POST", "/api/v1/stacks/dev/up", nil, ts.bootstrapKey)

	// Stack still holds a resource
	rr := ts.request("DELETE", "/api/v1/stacks/dev", nil, ts.bootstrapKey)
	if rr.Code != http.StatusConflict {
		t.Errorf("Expected status 409 for non-empty stack, got %d: %s", rr.Code, rr.Body.String())
	}

	// After destroy, deletion succeeds
	ts.request("POST", "/api/v1/stacks/dev/destroy", nil, ts.bootstrapKey)
	rr = ts.request("DELETE", "/api/v1/stacks/dev", nil, ts.bootstrapKey)
	if rr.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = ts.request("GET", "/api/v1/stacks/dev", nil, ts.bootstrapKey)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 after delete, got %d", rr.Code)
	}

	// Deletion takes the deployment history with it
	rr = ts.request("GET", "/api/v1/stacks/dev/deployments", nil, ts.bootstrapKey)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	var records []*domain.DeploymentRecord
	_ = json.Unmarshal(rr.Body.Bytes(), &records)
	if len(records) != 0 {
		t.Errorf("Expected no deployment records after delete, got %d", len(records))
	}
}

func TestDeploymentHistory(t *testing.T) {
	ts := newTestServer(t)
	ts.request("POST", "/api/v1/stacks", domain.CreateStackRequest{Name: "dev"}, ts.bootstrapKey)
	ts.request("POST", "/api/v1/stacks/dev/preview", nil, ts.bootstrapKey)
	ts.request("POST", "/api/v1/stacks/dev/up", nil, ts.bootstrapKey)

	rr := ts.request("GET", "/api/v1/stacks/dev/deployments", nil, ts.bootstrapKey)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	var records []*domain.DeploymentRecord
	_ = json.Unmarshal(rr.Body.Bytes(), &records)
	if len(records) != 2 {
		t.Fatalf("Expected 2 deployment records, got %d", len(records))
	}
	for _, rec := range records {
		if rec.Status != domain.StatusCompleted {
			t.Errorf("Expected completed record, got %+v", rec)
		}
	}

	// Individual lookup
	rr = ts.request("GET", "/api/v1/deployments/"+records[0].ID, nil, ts.bootstrapKey)
	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}

	rr = ts.request("GET", "/api/v1/deployments/nope", nil, ts.bootstrapKey)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rr.Code)
	}
}

func TestFileEndpoints(t *testing.T) {
	ts := newTestServer(t)

	program := "package main\n\nfunc main() {}\n"

	// Create
	rr := ts.request("POST", "/api/v1/files/infra", domain.CreateFileRequest{
		Path:    "main.go",
		Content: program,
	}, ts.bootstrapKey)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	// Duplicate create conflicts
	rr = ts.request("POST", "/api/v1/files/infra", domain.CreateFileRequest{Path: "main.go", Content: program}, ts.bootstrapKey)
	if rr.Code != http.StatusConflict {
		t.Errorf("Expected status 409 for duplicate create, got %d", rr.Code)
	}

	// Read back
	rr = ts.request("GET", "/api/v1/files/infra/main.go", nil, ts.bootstrapKey)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	var content domain.FileContent
	_ = json.Unmarshal(rr.Body.Bytes(), &content)
	if content.Content != program {
		t.Errorf("Unexpected file content: %q", content.Content)
	}

	// Write with broken syntax is rejected
	rr = ts.request("PUT", "/api/v1/files/infra/main.go", domain.WriteFileRequest{
		Content:  "package main\n\nfunc main() {",
		Validate: true,
	}, ts.bootstrapKey)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for broken syntax, got %d: %s", rr.Code, rr.Body.String())
	}

	// Path traversal is rejected
	rr = ts.request("GET", "/api/v1/files/infra/../secret", nil, ts.bootstrapKey)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for traversal, got %d", rr.Code)
	}

	// List
	rr = ts.request("GET", "/api/v1/files/infra", nil, ts.bootstrapKey)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	var infos []domain.FileInfo
	_ = json.Unmarshal(rr.Body.Bytes(), &infos)
	if len(infos) != 1 || infos[0].Path != "main.go" {
		t.Errorf("Unexpected file list: %+v", infos)
	}

	// Standalone validation
	rr = ts.request("POST", "/api/v1/files/infra/validate", domain.ValidateSourceRequest{
		FileName: "broken.go",
		Content:  "package main\n\nfunc broken( {}",
	}, ts.bootstrapKey)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	var result domain.ValidationResult
	_ = json.Unmarshal(rr.Body.Bytes(), &result)
	if result.Valid {
		t.Error("Expected validation failure for broken source")
	}

	// Delete
	rr = ts.request("DELETE", "/api/v1/files/infra/main.go", nil, ts.bootstrapKey)
	if rr.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", rr.Code)
	}
}
