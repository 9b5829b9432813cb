package api

import (
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"
)

func newTestCLIClient(t *testing.T) *CLIClient {
	t.Helper()
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.router)
	t.Cleanup(srv.Close)

	parsed, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse test server URL: %v", err)
	}
	port, err := strconv.Atoi(parsed.Port())
	if err != nil {
		t.Fatalf("parse test server port: %v", err)
	}
	return NewCLIClient(port)
}

func TestCLIClient_IsAgentRunning(t *testing.T) {
	client := newTestCLIClient(t)
	if !client.IsAgentRunning() {
		t.Fatal("expected agent to report running")
	}
}

func TestCLIClient_CreateThenListDeployments(t *testing.T) {
	client := newTestCLIClient(t)

	dep, err := client.CreateDeployment(map[string]interface{}{"project_id": "proj-1"})
	if err != nil {
		t.Fatalf("create deployment: %v", err)
	}
	if dep.ProjectID != "proj-1" {
		t.Fatalf("expected project_id proj-1, got %q", dep.ProjectID)
	}

	list, err := client.ListDeployments()
	if err != nil {
		t.Fatalf("list deployments: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 deployment, got %d", len(list))
	}
}

func TestCLIClient_GetStatus(t *testing.T) {
	client := newTestCLIClient(t)

	if _, err := client.CreateDeployment(map[string]interface{}{"project_id": "proj-1"}); err != nil {
		t.Fatalf("create deployment: %v", err)
	}

	status, err := client.GetStatus()
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if status.TotalDeployments != 1 {
		t.Fatalf("expected 1 total deployment, got %d", status.TotalDeployments)
	}
}

func TestCLIClient_GetDeploymentLogs(t *testing.T) {
	client := newTestCLIClient(t)

	dep, err := client.CreateDeployment(map[string]interface{}{"project_id": "proj-1"})
	if err != nil {
		t.Fatalf("create deployment: %v", err)
	}

	logs, err := client.GetDeploymentLogs(dep.ID, 0)
	if err != nil {
		t.Fatalf("get deployment logs: %v", err)
	}
	if logs == nil {
		t.Fatal("expected non-nil logs response")
	}
}

func TestCLIClient_GetDeployment_UnknownIDReturnsError(t *testing.T) {
	client := newTestCLIClient(t)

	if _, err := client.GetDeployment("does-not-exist"); err == nil {
		t.Fatal("expected an error for an unknown deployment ID")
	}
}

func TestCLIClient_CancelDeployment_AlreadyTerminalReturnsError(t *testing.T) {
	client := newTestCLIClient(t)

	dep, err := client.CreateDeployment(map[string]interface{}{"project_id": "proj-1"})
	if err != nil {
		t.Fatalf("create deployment: %v", err)
	}

	for i := 0; i < 200; i++ {
		got, err := client.GetDeployment(dep.ID)
		if err != nil {
			t.Fatalf("get deployment: %v", err)
		}
		if got.FinishedAt != "" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := client.CancelDeployment(dep.ID); err == nil {
		t.Fatal("expected an error cancelling an already-terminal deployment")
	}
}
