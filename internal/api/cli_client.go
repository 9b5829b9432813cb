package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"forge/internal/domain"
)

// CLIClient talks to a running Server over its HTTP surface so cmd/agent's
// subcommands can report on and drive a Forge instance without importing
// the orchestrator directly.
type CLIClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewCLIClient builds a client targeting the agent's local API port.
func NewCLIClient(apiPort int) *CLIClient {
	return &CLIClient{
		baseURL: fmt.Sprintf("http://localhost:%d", apiPort),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// IsAgentRunning reports whether the agent's health endpoint answers.
func (c *CLIClient) IsAgentRunning() bool {
	resp, err := c.httpClient.Get(c.baseURL + "/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// StatusResponse is the CLI-facing view of agent health, derived from the
// health endpoint plus a deployment count.
type StatusResponse struct {
	Status            string
	Health            string
	Version           string
	Uptime            string
	ActiveDeployments int
	TotalDeployments  int
	Metadata          map[string]string
}

type healthPayload struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

// GetStatus combines /health with a deployment listing to report overall
// status the way the old admin-panel status report used to.
func (c *CLIClient) GetStatus() (*StatusResponse, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/health")
	if err != nil {
		return nil, fmt.Errorf("get health: %w", err)
	}
	defer resp.Body.Close()

	var health healthPayload
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("decode health response: %w", err)
	}

	deployments, err := c.ListDeployments()
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	active := 0
	for _, d := range deployments {
		if !domain.Status(d.Status).Terminal() {
			active++
		}
	}

	running := "Running"
	if resp.StatusCode != http.StatusOK {
		running = "Degraded"
	}

	return &StatusResponse{
		Status:            running,
		Health:            health.Status,
		Version:           "dev",
		Uptime:            health.Uptime,
		ActiveDeployments: active,
		TotalDeployments:  len(deployments),
		Metadata:          map[string]string{"platform": "docker"},
	}, nil
}

// CreateDeployment submits a new deployment and returns its accepted state.
func (c *CLIClient) CreateDeployment(request map[string]interface{}) (*DeploymentResponse, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("marshal deployment request: %w", err)
	}

	resp, err := c.httpClient.Post(c.baseURL+"/api/v1/deployments", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create deployment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("create deployment failed with status %d: %s", resp.StatusCode, string(raw))
	}

	var dep DeploymentResponse
	if err := json.NewDecoder(resp.Body).Decode(&dep); err != nil {
		return nil, fmt.Errorf("decode deployment response: %w", err)
	}
	return &dep, nil
}

// ListDeployments returns every deployment known to the agent.
func (c *CLIClient) ListDeployments() ([]DeploymentResponse, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/api/v1/deployments?limit=500")
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("list deployments failed with status %d: %s", resp.StatusCode, string(raw))
	}

	var deployments []DeploymentResponse
	if err := json.NewDecoder(resp.Body).Decode(&deployments); err != nil {
		return nil, fmt.Errorf("decode deployments response: %w", err)
	}
	return deployments, nil
}

// GetDeployment fetches a single deployment by ID.
func (c *CLIClient) GetDeployment(id string) (*DeploymentResponse, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/api/v1/deployments/" + id)
	if err != nil {
		return nil, fmt.Errorf("get deployment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("get deployment failed with status %d: %s", resp.StatusCode, string(raw))
	}

	var dep DeploymentResponse
	if err := json.NewDecoder(resp.Body).Decode(&dep); err != nil {
		return nil, fmt.Errorf("decode deployment response: %w", err)
	}
	return &dep, nil
}

// LogsResponse holds the replayed log history for a deployment.
type LogsResponse struct {
	Logs []*domain.LogEntry
}

// GetDeploymentLogs fetches the retained (non-follow) log history for a
// deployment. tail trims to the most recent N entries; 0 returns all.
func (c *CLIClient) GetDeploymentLogs(id string, tail int) (*LogsResponse, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/api/v1/deployments/" + id + "/logs")
	if err != nil {
		return nil, fmt.Errorf("get deployment logs: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("get deployment logs failed with status %d: %s", resp.StatusCode, string(raw))
	}

	var entries []*domain.LogEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode logs response: %w", err)
	}
	if tail > 0 && len(entries) > tail {
		entries = entries[len(entries)-tail:]
	}
	return &LogsResponse{Logs: entries}, nil
}

// CancelDeployment cancels an in-flight deployment.
func (c *CLIClient) CancelDeployment(id string) error {
	resp, err := c.httpClient.Post(c.baseURL+"/api/v1/deployments/"+id+"/cancel", "application/json", nil)
	if err != nil {
		return fmt.Errorf("cancel deployment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("cancel deployment failed with status %d: %s", resp.StatusCode, string(raw))
	}
	return nil
}

// RedeployDeployment re-runs a previous deployment's pipeline.
func (c *CLIClient) RedeployDeployment(id string) (*DeploymentResponse, error) {
	resp, err := c.httpClient.Post(c.baseURL+"/api/v1/deployments/"+id+"/redeploy", "application/json", nil)
	if err != nil {
		return nil, fmt.Errorf("redeploy: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("redeploy failed with status %d: %s", resp.StatusCode, string(raw))
	}
	var dep DeploymentResponse
	if err := json.NewDecoder(resp.Body).Decode(&dep); err != nil {
		return nil, fmt.Errorf("decode redeploy response: %w", err)
	}
	return &dep, nil
}
