package api_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/avigil/guardlab/internal/api"
	"github.com/avigil/guardlab/internal/domain"
	"github.com/avigil/guardlab/internal/engine"
	"github.com/avigil/guardlab/internal/events"
	"github.com/avigil/guardlab/internal/service"
	"github.com/avigil/guardlab/internal/storage/memory"
)

const testImage = "guardlab/node:1.0"

// testServer creates a test server with in-memory storage and a fake engine
type testServer struct {
	handler      http.Handler
	store        *memory.Store
	engine       *engine.Fake
	recorder     *events.Recorder
	bootstrapKey string
}

func newTestServer() *testServer {
	store := memory.New()
	eng := engine.NewFake()
	recorder := &events.Recorder{}
	bootstrapKey := "test-bootstrap-key"
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// Auto-provisioning stays off so mutations don't race the assertions
	provisionService := service.NewProvisionService(store, eng, recorder, logger, service.Options{
		Debounce:      5 * time.Second,
		AutoProvision: false,
	})
	deltaService := service.NewDeltaService(store, recorder, logger)

	handler := api.NewRouter(store, provisionService, deltaService, eng, bootstrapKey, logger)

	return &testServer{
		handler:      handler,
		store:        store,
		engine:       eng,
		recorder:     recorder,
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

// createEnvironment creates an environment named "lab" and returns it.
func (ts *testServer) createEnvironment(t *testing.T) *domain.Environment {
	t.Helper()

	rr := ts.request("POST", "/api/v1/environments", domain.CreateEnvironmentRequest{Name: "lab"}, ts.bootstrapKey)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201 creating environment, got %d: %s", rr.Code, rr.Body.String())
	}

	var env domain.Environment
	_ = json.Unmarshal(rr.Body.Bytes(), &env)
	return &env
}

// putDefaultTopology uploads the stock five-host topology.
func (ts *testServer) putDefaultTopology(t *testing.T, envID string) {
	t.Helper()

	topology := domain.DefaultTopology(testImage)
	rr := ts.request("PUT", "/api/v1/environments/"+envID+"/topology", topology, ts.bootstrapKey)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200 replacing topology, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer()

	rr := ts.request("GET", "/healthz", nil, "")

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
	ts := newTestServer()

	// Request without auth header
	rr := ts.request("GET", "/api/v1/environments", nil, "")
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rr.Code)
	}

	// Request with invalid auth header format
	req := httptest.NewRequest("GET", "/api/v1/environments", nil)
	req.Header.Set("Authorization", "Basic invalid")
	rr = httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rr.Code)
	}

	// Request with invalid API key
	rr = ts.request("GET", "/api/v1/environments", nil, "invalid-key")
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rr.Code)
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	ts := newTestServer()

	// Create API key using bootstrap key
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
	if createResp.Name != "Test Key" {
		t.Errorf("Expected name 'Test Key', got '%s'", createResp.Name)
	}

	// Use the new API key
	rr = ts.request("GET", "/api/v1/environments", nil, createResp.Key)
	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200 with new API key, got %d", rr.Code)
	}

	// Bootstrap key stops working once a real key exists
	rr = ts.request("GET", "/api/v1/environments", nil, ts.bootstrapKey)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 with bootstrap key after key creation, got %d", rr.Code)
	}

	// List API keys
	rr = ts.request("GET", "/api/v1/keys", nil, createResp.Key)
	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}

	var keys []*domain.APIKey
	_ = json.Unmarshal(rr.Body.Bytes(), &keys)
	if len(keys) != 1 {
		t.Errorf("Expected 1 key, got %d", len(keys))
	}

	// A key cannot delete itself
	rr = ts.request("DELETE", "/api/v1/keys/"+createResp.ID, nil, createResp.Key)
	if rr.Code != http.StatusConflict {
		t.Errorf("Expected status 409 deleting the authenticating key, got %d", rr.Code)
	}

	// A second key can delete the first
	rr = ts.request("POST", "/api/v1/keys", domain.CreateAPIKeyRequest{Name: "Second Key"}, createResp.Key)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var second domain.CreateAPIKeyResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &second)

	rr = ts.request("DELETE", "/api/v1/keys/"+createResp.ID, nil, second.Key)
	if rr.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", rr.Code)
	}

	// The deleted key stops authenticating
	rr = ts.request("GET", "/api/v1/environments", nil, createResp.Key)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 with deleted key, got %d", rr.Code)
	}
}

func TestEnvironmentCRUD(t *testing.T) {
	ts := newTestServer()

	// Create environment
	createReq := domain.CreateEnvironmentRequest{
		Name:        "lab",
		Description: "Cluster sandbox",
		Subnet:      "172.28.0.0/24",
	}
	rr := ts.request("POST", "/api/v1/environments", createReq, ts.bootstrapKey)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var env domain.Environment
	_ = json.Unmarshal(rr.Body.Bytes(), &env)
	if env.Name != "lab" {
		t.Errorf("Expected name 'lab', got '%s'", env.Name)
	}
	if env.Network != "lab-net" {
		t.Errorf("Expected default network 'lab-net', got '%s'", env.Network)
	}

	// Duplicate name is rejected
	rr = ts.request("POST", "/api/v1/environments", createReq, ts.bootstrapKey)
	if rr.Code != http.StatusConflict {
		t.Errorf("Expected status 409 for duplicate name, got %d", rr.Code)
	}

	// Get environment (note trailing slash for the subrouter)
	rr = ts.request("GET", "/api/v1/environments/"+env.ID+"/", nil, ts.bootstrapKey)
	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}
	if rr.Header().Get("ETag") == "" {
		t.Error("Expected ETag header on get")
	}

	// List environments
	rr = ts.request("GET", "/api/v1/environments", nil, ts.bootstrapKey)
	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}

	var envs []*domain.Environment
	_ = json.Unmarshal(rr.Body.Bytes(), &envs)
	if len(envs) != 1 {
		t.Errorf("Expected 1 environment, got %d", len(envs))
	}

	// Update environment
	newDescription := "Updated sandbox"
	updateReq := domain.UpdateEnvironmentRequest{Description: &newDescription}
	rr = ts.request("PUT", "/api/v1/environments/"+env.ID+"/", updateReq, ts.bootstrapKey)
	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}

	var updated domain.Environment
	_ = json.Unmarshal(rr.Body.Bytes(), &updated)
	if updated.Description != "Updated sandbox" {
		t.Errorf("Expected description 'Updated sandbox', got '%s'", updated.Description)
	}

	// Delete environment
	rr = ts.request("DELETE", "/api/v1/environments/"+env.ID+"/", nil, ts.bootstrapKey)
	if rr.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", rr.Code)
	}

	// Verify deleted
	rr = ts.request("GET", "/api/v1/environments/"+env.ID+"/", nil, ts.bootstrapKey)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rr.Code)
	}
}

func TestOptimisticConcurrency(t *testing.T) {
	ts := newTestServer()
	env := ts.createEnvironment(t)

	rr := ts.request("GET", "/api/v1/environments/"+env.ID+"/", nil, ts.bootstrapKey)
	etag := rr.Header().Get("ETag")
	if etag == "" {
		t.Fatal("Expected ETag header on get")
	}

	// Stale ETag is rejected
	newDescription := "racing update"
	body, _ := json.Marshal(domain.UpdateEnvironmentRequest{Description: &newDescription})
	req := httptest.NewRequest("PUT", "/api/v1/environments/"+env.ID+"/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+ts.bootstrapKey)
	req.Header.Set("If-Match", `"environment-stale-0"`)
	stale := httptest.NewRecorder()
	ts.handler.ServeHTTP(stale, req)
	if stale.Code != http.StatusPreconditionFailed {
		t.Errorf("Expected status 412 for stale If-Match, got %d", stale.Code)
	}

	// Current ETag passes
	req = httptest.NewRequest("PUT", "/api/v1/environments/"+env.ID+"/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+ts.bootstrapKey)
	req.Header.Set("If-Match", etag)
	current := httptest.NewRecorder()
	ts.handler.ServeHTTP(current, req)
	if current.Code != http.StatusOK {
		t.Errorf("Expected status 200 with current If-Match, got %d: %s", current.Code, current.Body.String())
	}
}

func TestHostCRUD(t *testing.T) {
	ts := newTestServer()
	env := ts.createEnvironment(t)

	// Create host
	hostReq := domain.CreateHostRequest{
		Hostname: "lab-master",
		Image:    testImage,
		Address:  "172.28.0.10",
		Ports:    []string{"1514:1514/tcp", "55000:55000"},
	}
	rr := ts.request("POST", "/api/v1/environments/"+env.ID+"/hosts", hostReq, ts.bootstrapKey)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var host domain.Host
	_ = json.Unmarshal(rr.Body.Bytes(), &host)
	if host.Hostname != "lab-master" {
		t.Errorf("Expected hostname 'lab-master', got '%s'", host.Hostname)
	}
	if len(host.Ports) != 2 {
		t.Errorf("Expected 2 port bindings, got %d", len(host.Ports))
	}

	// Duplicate hostname is rejected
	rr = ts.request("POST", "/api/v1/environments/"+env.ID+"/hosts", hostReq, ts.bootstrapKey)
	if rr.Code != http.StatusConflict {
		t.Errorf("Expected status 409 for duplicate hostname, got %d", rr.Code)
	}

	// Get host
	rr = ts.request("GET", "/api/v1/environments/"+env.ID+"/hosts/lab-master", nil, ts.bootstrapKey)
	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}

	// Update host image
	newImage := "guardlab/node:1.1"
	updateReq := domain.UpdateHostRequest{Image: &newImage}
	rr = ts.request("PUT", "/api/v1/environments/"+env.ID+"/hosts/lab-master", updateReq, ts.bootstrapKey)
	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}

	var updatedHost domain.Host
	_ = json.Unmarshal(rr.Body.Bytes(), &updatedHost)
	if updatedHost.Image != "guardlab/node:1.1" {
		t.Errorf("Expected image 'guardlab/node:1.1', got '%s'", updatedHost.Image)
	}

	// Delete host
	rr = ts.request("DELETE", "/api/v1/environments/"+env.ID+"/hosts/lab-master", nil, ts.bootstrapKey)
	if rr.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", rr.Code)
	}
}

func TestHostValidation(t *testing.T) {
	ts := newTestServer()
	env := ts.createEnvironment(t)

	// Hostname must start with a letter
	rr := ts.request("POST", "/api/v1/environments/"+env.ID+"/hosts", domain.CreateHostRequest{
		Hostname: "1bad",
		Image:    testImage,
	}, ts.bootstrapKey)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for bad hostname, got %d", rr.Code)
	}

	// Port binding must be host:container
	rr = ts.request("POST", "/api/v1/environments/"+env.ID+"/hosts", domain.CreateHostRequest{
		Hostname: "lab-agent1",
		Image:    testImage,
		Ports:    []string{"70000:80"},
	}, ts.bootstrapKey)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for bad port binding, got %d", rr.Code)
	}

	// Image is required
	rr = ts.request("POST", "/api/v1/environments/"+env.ID+"/hosts", domain.CreateHostRequest{
		Hostname: "lab-agent1",
	}, ts.bootstrapKey)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for missing image, got %d", rr.Code)
	}
}

func TestRoleAssignment(t *testing.T) {
	ts := newTestServer()
	env := ts.createEnvironment(t)

	hostReq := domain.CreateHostRequest{Hostname: "lab-master", Image: testImage}
	rr := ts.request("POST", "/api/v1/environments/"+env.ID+"/hosts", hostReq, ts.bootstrapKey)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	// Assign a role
	assignReq := domain.AssignRoleRequest{
		Role: domain.RoleMaster,
		Vars: map[string]string{"CLUSTER_KEY": "s3cret"},
	}
	rr = ts.request("PUT", "/api/v1/environments/"+env.ID+"/roles/lab-master", assignReq, ts.bootstrapKey)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var ra domain.RoleAssignment
	_ = json.Unmarshal(rr.Body.Bytes(), &ra)
	if ra.Role != domain.RoleMaster {
		t.Errorf("Expected role master, got '%s'", ra.Role)
	}
	if ra.Vars["CLUSTER_KEY"] != "s3cret" {
		t.Errorf("Expected CLUSTER_KEY var to be carried, got %v", ra.Vars)
	}

	// Assigning again replaces the binding
	rr = ts.request("PUT", "/api/v1/environments/"+env.ID+"/roles/lab-master", domain.AssignRoleRequest{
		Role: domain.RoleWorker,
	}, ts.bootstrapKey)
	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200 replacing role, got %d", rr.Code)
	}

	var replaced domain.RoleAssignment
	_ = json.Unmarshal(rr.Body.Bytes(), &replaced)
	if replaced.Role != domain.RoleWorker {
		t.Errorf("Expected role worker after replace, got '%s'", replaced.Role)
	}

	// Unknown role is rejected
	rr = ts.request("PUT", "/api/v1/environments/"+env.ID+"/roles/lab-master", domain.AssignRoleRequest{
		Role: "observer",
	}, ts.bootstrapKey)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for unknown role, got %d", rr.Code)
	}

	// Role for an undeclared host is rejected
	rr = ts.request("PUT", "/api/v1/environments/"+env.ID+"/roles/ghost", assignReq, ts.bootstrapKey)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for undeclared host, got %d", rr.Code)
	}

	// List role assignments
	rr = ts.request("GET", "/api/v1/environments/"+env.ID+"/roles", nil, ts.bootstrapKey)
	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}

	var assignments []*domain.RoleAssignment
	_ = json.Unmarshal(rr.Body.Bytes(), &assignments)
	if len(assignments) != 1 {
		t.Errorf("Expected 1 role assignment, got %d", len(assignments))
	}

	// Delete role assignment
	rr = ts.request("DELETE", "/api/v1/environments/"+env.ID+"/roles/lab-master", nil, ts.bootstrapKey)
	if rr.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", rr.Code)
	}
}

func TestTopologyReplace(t *testing.T) {
	ts := newTestServer()
	env := ts.createEnvironment(t)

	// Declare a stray host that the topology should wipe
	rr := ts.request("POST", "/api/v1/environments/"+env.ID+"/hosts", domain.CreateHostRequest{
		Hostname: "stray",
		Image:    testImage,
	}, ts.bootstrapKey)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	ts.putDefaultTopology(t, env.ID)

	// Verify the stray host is gone
	rr = ts.request("GET", "/api/v1/environments/"+env.ID+"/hosts/stray", nil, ts.bootstrapKey)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected stray host to be deleted, got status %d", rr.Code)
	}

	// Verify the five declared hosts
	rr = ts.request("GET", "/api/v1/environments/"+env.ID+"/hosts", nil, ts.bootstrapKey)
	var hosts []*domain.Host
	_ = json.Unmarshal(rr.Body.Bytes(), &hosts)
	if len(hosts) != 5 {
		t.Errorf("Expected 5 hosts, got %d", len(hosts))
	}

	// Verify the five role assignments
	rr = ts.request("GET", "/api/v1/environments/"+env.ID+"/roles", nil, ts.bootstrapKey)
	var assignments []*domain.RoleAssignment
	_ = json.Unmarshal(rr.Body.Bytes(), &assignments)
	if len(assignments) != 5 {
		t.Errorf("Expected 5 role assignments, got %d", len(assignments))
	}

	// A role for an undeclared host rejects the whole document
	bad := domain.EnvironmentTopology{
		Hosts: []domain.CreateHostRequest{{Hostname: "only-host", Image: testImage}},
		Roles: []domain.TopologyRole{{Hostname: "missing", Role: domain.RoleMaster}},
	}
	rr = ts.request("PUT", "/api/v1/environments/"+env.ID+"/topology", bad, ts.bootstrapKey)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for role on undeclared host, got %d", rr.Code)
	}

	// The previous topology survives a rejected replace
	rr = ts.request("GET", "/api/v1/environments/"+env.ID+"/hosts", nil, ts.bootstrapKey)
	_ = json.Unmarshal(rr.Body.Bytes(), &hosts)
	if len(hosts) != 5 {
		t.Errorf("Expected 5 hosts after rejected replace, got %d", len(hosts))
	}
}

func TestPlanEndpoint(t *testing.T) {
	ts := newTestServer()
	env := ts.createEnvironment(t)
	ts.putDefaultTopology(t, env.ID)

	rr := ts.request("GET", "/api/v1/environments/"+env.ID+"/plan", nil, ts.bootstrapKey)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp domain.PlanResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if len(resp.Plan.Containers) != 5 {
		t.Errorf("Expected 5 containers in plan, got %d", len(resp.Plan.Containers))
	}
	if len(resp.Actions) != 5 {
		t.Errorf("Expected 5 pending actions, got %d", len(resp.Actions))
	}
	for _, action := range resp.Actions {
		if action.Kind != domain.ActionCreate {
			t.Errorf("Expected create action for %s, got %s", action.Hostname, action.Kind)
		}
	}

	// The master renders first
	if resp.Plan.Containers[0].Name != "lab-master" {
		t.Errorf("Expected lab-master first in plan, got %s", resp.Plan.Containers[0].Name)
	}
}

func TestPlanRejectsIncompleteTopology(t *testing.T) {
	ts := newTestServer()
	env := ts.createEnvironment(t)

	// One declared host is not a full cluster
	rr := ts.request("POST", "/api/v1/environments/"+env.ID+"/hosts", domain.CreateHostRequest{
		Hostname: "lab-master",
		Image:    testImage,
	}, ts.bootstrapKey)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = ts.request("GET", "/api/v1/environments/"+env.ID+"/plan", nil, ts.bootstrapKey)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for incomplete topology, got %d", rr.Code)
	}
}

func TestProvisionAndStatus(t *testing.T) {
	ts := newTestServer()
	env := ts.createEnvironment(t)
	ts.putDefaultTopology(t, env.ID)

	// Provision
	rr := ts.request("POST", "/api/v1/environments/"+env.ID+"/provision", nil, ts.bootstrapKey)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp domain.ProvisionResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.Status != domain.RunStatusSuccess {
		t.Errorf("Expected run status success, got '%s' (%s)", resp.Status, resp.Error)
	}
	if resp.RunNumber != 1 {
		t.Errorf("Expected run number 1, got %d", resp.RunNumber)
	}

	if !ts.engine.HasNetwork("lab-net") {
		t.Error("Expected lab-net to exist after provisioning")
	}

	// Status reports all five hosts running
	rr = ts.request("GET", "/api/v1/environments/"+env.ID+"/status", nil, ts.bootstrapKey)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var statuses []domain.HostStatus
	_ = json.Unmarshal(rr.Body.Bytes(), &statuses)
	if len(statuses) != 5 {
		t.Fatalf("Expected 5 host statuses, got %d", len(statuses))
	}
	for _, hs := range statuses {
		if hs.Status != domain.ContainerStatusRunning {
			t.Errorf("Expected %s running, got %s", hs.Hostname, hs.Status)
		}
	}

	// A second pass finds a converged environment
	rr = ts.request("POST", "/api/v1/environments/"+env.ID+"/provision", nil, ts.bootstrapKey)
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.Status != domain.RunStatusSuccess {
		t.Errorf("Expected second run to succeed, got '%s'", resp.Status)
	}
	if resp.RunNumber != 2 {
		t.Errorf("Expected run number 2, got %d", resp.RunNumber)
	}

	// Runs are listed newest first
	rr = ts.request("GET", "/api/v1/environments/"+env.ID+"/runs", nil, ts.bootstrapKey)
	var runs []*domain.ProvisionRun
	_ = json.Unmarshal(rr.Body.Bytes(), &runs)
	if len(runs) != 2 {
		t.Fatalf("Expected 2 runs, got %d", len(runs))
	}
	if runs[0].RunNumber != 2 {
		t.Errorf("Expected newest run first, got run number %d", runs[0].RunNumber)
	}

	// Get one run
	rr = ts.request("GET", "/api/v1/environments/"+env.ID+"/runs/"+runs[0].ID, nil, ts.bootstrapKey)
	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}

	// A run event went out per pass
	runEvents := 0
	for _, ev := range ts.recorder.Events() {
		if ev.Subject == events.RunSubject("lab") {
			runEvents++
		}
	}
	if runEvents != 2 {
		t.Errorf("Expected 2 run events, got %d", runEvents)
	}
}

func TestProvisionReplacesChangedHost(t *testing.T) {
	ts := newTestServer()
	env := ts.createEnvironment(t)
	ts.putDefaultTopology(t, env.ID)

	rr := ts.request("POST", "/api/v1/environments/"+env.ID+"/provision", nil, ts.bootstrapKey)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	// Change one host image
	newImage := "guardlab/node:1.1"
	rr = ts.request("PUT", "/api/v1/environments/"+env.ID+"/hosts/lab-agent1", domain.UpdateHostRequest{
		Image: &newImage,
	}, ts.bootstrapKey)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	// Only that host needs replacing
	rr = ts.request("GET", "/api/v1/environments/"+env.ID+"/plan", nil, ts.bootstrapKey)
	var planResp domain.PlanResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &planResp)
	if len(planResp.Actions) != 1 {
		t.Fatalf("Expected 1 pending action, got %d", len(planResp.Actions))
	}
	if planResp.Actions[0].Kind != domain.ActionReplace || planResp.Actions[0].Hostname != "lab-agent1" {
		t.Errorf("Expected replace of lab-agent1, got %s of %s",
			planResp.Actions[0].Kind, planResp.Actions[0].Hostname)
	}

	rr = ts.request("POST", "/api/v1/environments/"+env.ID+"/provision", nil, ts.bootstrapKey)
	var resp domain.ProvisionResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.Status != domain.RunStatusSuccess {
		t.Errorf("Expected run status success, got '%s' (%s)", resp.Status, resp.Error)
	}
}

func TestProvisionFailure(t *testing.T) {
	ts := newTestServer()
	env := ts.createEnvironment(t)
	ts.putDefaultTopology(t, env.ID)

	ts.engine.FailOn("lab-worker1", errors.New("image pull failed"))

	rr := ts.request("POST", "/api/v1/environments/"+env.ID+"/provision", nil, ts.bootstrapKey)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp domain.ProvisionResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.Status != domain.RunStatusPartial {
		t.Errorf("Expected run status partial, got '%s'", resp.Status)
	}

	// The run record carries the per-action failure
	rr = ts.request("GET", "/api/v1/environments/"+env.ID+"/runs/"+resp.RunID, nil, ts.bootstrapKey)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var run domain.ProvisionRun
	_ = json.Unmarshal(rr.Body.Bytes(), &run)
	if len(run.Results) != 5 {
		t.Fatalf("Expected 5 action results, got %d", len(run.Results))
	}
	failures := 0
	for _, result := range run.Results {
		if result.Error == "" {
			continue
		}
		failures++
		if result.Hostname != "lab-worker1" {
			t.Errorf("Expected the failure on lab-worker1, got %s", result.Hostname)
		}
	}
	if failures != 1 {
		t.Errorf("Expected 1 failed action, got %d", failures)
	}

	// The failed host never came up, the rest did
	rr = ts.request("GET", "/api/v1/environments/"+env.ID+"/status", nil, ts.bootstrapKey)
	var statuses []domain.HostStatus
	_ = json.Unmarshal(rr.Body.Bytes(), &statuses)
	for _, hs := range statuses {
		want := domain.ContainerStatusRunning
		if hs.Hostname == "lab-worker1" {
			want = domain.ContainerStatusNotCreated
		}
		if hs.Status != want {
			t.Errorf("Expected %s %s, got %s", hs.Hostname, want, hs.Status)
		}
	}

	// Once the failure clears, the next pass creates only the missing host
	ts.engine.FailOn("lab-worker1", nil)

	rr = ts.request("POST", "/api/v1/environments/"+env.ID+"/provision", nil, ts.bootstrapKey)
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.Status != domain.RunStatusSuccess {
		t.Errorf("Expected recovery run to succeed, got '%s' (%s)", resp.Status, resp.Error)
	}
	if resp.RunNumber != 2 {
		t.Errorf("Expected run number 2, got %d", resp.RunNumber)
	}
}

func TestTeardown(t *testing.T) {
	ts := newTestServer()
	env := ts.createEnvironment(t)
	ts.putDefaultTopology(t, env.ID)

	rr := ts.request("POST", "/api/v1/environments/"+env.ID+"/provision", nil, ts.bootstrapKey)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = ts.request("POST", "/api/v1/environments/"+env.ID+"/teardown", nil, ts.bootstrapKey)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp domain.TeardownResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.Removed != 5 {
		t.Errorf("Expected 5 containers removed, got %d", resp.Removed)
	}
	if ts.engine.HasNetwork("lab-net") {
		t.Error("Expected lab-net to be gone after teardown")
	}

	// Declarative state survives, containers do not
	rr = ts.request("GET", "/api/v1/environments/"+env.ID+"/status", nil, ts.bootstrapKey)
	var statuses []domain.HostStatus
	_ = json.Unmarshal(rr.Body.Bytes(), &statuses)
	if len(statuses) != 5 {
		t.Fatalf("Expected 5 host statuses, got %d", len(statuses))
	}
	for _, hs := range statuses {
		if hs.Status != domain.ContainerStatusNotCreated {
			t.Errorf("Expected %s not_created after teardown, got %s", hs.Hostname, hs.Status)
		}
	}
}

func TestDeltaIngest(t *testing.T) {
	ts := newTestServer()

	delta := map[string]any{
		"cve_id":    "CVE-2024-12345",
		"data_blob": `{"severity":"high"}`,
		"data_hash": "9f86d081884c7d65",
		"operation": "insert",
	}
	rr := ts.request("POST", "/api/v1/deltas", delta, ts.bootstrapKey)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var record domain.DeltaRecord
	_ = json.Unmarshal(rr.Body.Bytes(), &record)
	if record.CVEID != "CVE-2024-12345" {
		t.Errorf("Expected cve_id 'CVE-2024-12345', got '%s'", record.CVEID)
	}
	if record.Status != domain.DeltaStatusPending {
		t.Errorf("Expected status pending, got '%s'", record.Status)
	}

	// Accepted deltas publish an event
	accepted := 0
	for _, ev := range ts.recorder.Events() {
		if ev.Subject == events.SubjectDeltaAccepted {
			accepted++
		}
	}
	if accepted != 1 {
		t.Errorf("Expected 1 delta event, got %d", accepted)
	}

	// List with the total header
	rr = ts.request("GET", "/api/v1/deltas", nil, ts.bootstrapKey)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	if rr.Header().Get("X-Total-Count") != "1" {
		t.Errorf("Expected X-Total-Count 1, got %q", rr.Header().Get("X-Total-Count"))
	}

	var deltas []*domain.DeltaRecord
	_ = json.Unmarshal(rr.Body.Bytes(), &deltas)
	if len(deltas) != 1 {
		t.Fatalf("Expected 1 delta, got %d", len(deltas))
	}

	// Get by ID
	rr = ts.request("GET", "/api/v1/deltas/"+record.ID, nil, ts.bootstrapKey)
	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}

	// Claim it
	rr = ts.request("PUT", "/api/v1/deltas/"+record.ID+"/status", map[string]string{
		"status": domain.DeltaStatusClaimed,
	}, ts.bootstrapKey)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var claimed domain.DeltaRecord
	_ = json.Unmarshal(rr.Body.Bytes(), &claimed)
	if claimed.Status != domain.DeltaStatusClaimed {
		t.Errorf("Expected status claimed, got '%s'", claimed.Status)
	}

	// Filter by status
	rr = ts.request("GET", "/api/v1/deltas?status=pending", nil, ts.bootstrapKey)
	_ = json.Unmarshal(rr.Body.Bytes(), &deltas)
	if len(deltas) != 0 {
		t.Errorf("Expected 0 pending deltas after claim, got %d", len(deltas))
	}
}

func TestDeltaContract(t *testing.T) {
	ts := newTestServer()

	// Missing field
	rr := ts.request("POST", "/api/v1/deltas", map[string]any{
		"cve_id":    "CVE-2024-1",
		"data_blob": "{}",
		"operation": "insert",
	}, ts.bootstrapKey)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected status 422 for missing data_hash, got %d", rr.Code)
	}

	var v domain.DeltaVerdict
	_ = json.Unmarshal(rr.Body.Bytes(), &v)
	if v.Valid {
		t.Error("Expected verdict to be invalid")
	}
	if len(v.Errors) != 1 || v.Errors[0].Field != "data_hash" {
		t.Errorf("Expected one error on data_hash, got %+v", v.Errors)
	}

	// Non-string value
	rr = ts.request("POST", "/api/v1/deltas", map[string]any{
		"cve_id":    "CVE-2024-1",
		"data_blob": "{}",
		"data_hash": 12345,
		"operation": "insert",
	}, ts.bootstrapKey)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected status 422 for numeric data_hash, got %d", rr.Code)
	}

	// Unknown operation
	rr = ts.request("POST", "/api/v1/deltas", map[string]any{
		"cve_id":    "CVE-2024-1",
		"data_blob": "{}",
		"data_hash": "abc",
		"operation": "upsert",
	}, ts.bootstrapKey)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected status 422 for unknown operation, got %d", rr.Code)
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &v)
	if len(v.Errors) != 1 || v.Errors[0].Field != "operation" {
		t.Errorf("Expected one error on operation, got %+v", v.Errors)
	}

	// Nothing invalid was stored
	rr = ts.request("GET", "/api/v1/deltas", nil, ts.bootstrapKey)
	if rr.Header().Get("X-Total-Count") != "0" {
		t.Errorf("Expected X-Total-Count 0, got %q", rr.Header().Get("X-Total-Count"))
	}

	// The dry-run endpoint reports without storing
	rr = ts.request("POST", "/api/v1/deltas/validate", map[string]any{
		"cve_id": "CVE-2024-1",
	}, ts.bootstrapKey)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &v)
	if v.Valid {
		t.Error("Expected verdict to be invalid")
	}
	if len(v.Errors) != 3 {
		t.Errorf("Expected 3 errors, got %d", len(v.Errors))
	}

	rr = ts.request("POST", "/api/v1/deltas/validate", map[string]any{
		"cve_id":    "CVE-2024-1",
		"data_blob": "{}",
		"data_hash": "abc",
		"operation": "delete",
	}, ts.bootstrapKey)
	_ = json.Unmarshal(rr.Body.Bytes(), &v)
	if !v.Valid {
		t.Errorf("Expected verdict to be valid, got %+v", v.Errors)
	}
}

func TestInvalidRequests(t *testing.T) {
	ts := newTestServer()

	// Create environment with missing name
	rr := ts.request("POST", "/api/v1/environments", map[string]string{}, ts.bootstrapKey)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rr.Code)
	}

	// Environment name must be engine-safe
	rr = ts.request("POST", "/api/v1/environments", domain.CreateEnvironmentRequest{
		Name: "bad name",
	}, ts.bootstrapKey)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for bad name, got %d", rr.Code)
	}

	// Get non-existent environment
	rr = ts.request("GET", "/api/v1/environments/nonexistent/", nil, ts.bootstrapKey)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rr.Code)
	}

	// Create host under non-existent environment
	rr = ts.request("POST", "/api/v1/environments/nonexistent/hosts", domain.CreateHostRequest{
		Hostname: "lab-master",
		Image:    testImage,
	}, ts.bootstrapKey)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rr.Code)
	}

	// Provision an environment that does not exist
	rr = ts.request("POST", "/api/v1/environments/nonexistent/provision", nil, ts.bootstrapKey)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rr.Code)
	}
}
