// Package cli provides the interactive, menu-driven front end to the
// agent's local HTTP API, for operators who prefer guided prompts over
// one-shot subcommands.
package cli

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"forge/internal/api"
	"forge/internal/config"
	"forge/internal/logging"
)

// InteractiveCLI drives a menu loop against a running agent's API.
type InteractiveCLI struct {
	config      *config.Config
	auditLogger *logging.AuditLogger
	apiClient   *api.CLIClient
}

// NewInteractiveCLI builds an interactive session targeting the agent's
// configured health-check port.
func NewInteractiveCLI(cfg *config.Config, auditLogger *logging.AuditLogger) *InteractiveCLI {
	return &InteractiveCLI{
		config:      cfg,
		auditLogger: auditLogger,
		apiClient:   api.NewCLIClient(cfg.Monitoring.HealthCheckPort),
	}
}

// StartInteractiveCLI runs the menu loop until the operator exits.
func (ic *InteractiveCLI) StartInteractiveCLI() error {
	fmt.Println("Forge Interactive CLI")
	fmt.Println("=====================")

	if !ic.apiClient.IsAgentRunning() {
		fmt.Println("Forge is not running. Starting agent...")
		if err := ic.startAgent(); err != nil {
			return fmt.Errorf("failed to start agent: %w", err)
		}
	}

	return ic.showMainMenu()
}

func (ic *InteractiveCLI) showMainMenu() error {
	for {
		fmt.Println("\nMain Menu:")
		fmt.Println("1. Deploy a project")
		fmt.Println("2. List deployments")
		fmt.Println("3. View deployment logs")
		fmt.Println("4. Cancel a deployment")
		fmt.Println("5. Redeploy")
		fmt.Println("6. System status")
		fmt.Println("0. Exit")

		choice := ic.promptChoice("Select an option", []string{"0", "1", "2", "3", "4", "5", "6"})

		var err error
		switch choice {
		case "0":
			fmt.Println("Goodbye.")
			return nil
		case "1":
			err = ic.deployProject()
		case "2":
			err = ic.listDeployments()
		case "3":
			err = ic.viewLogs()
		case "4":
			err = ic.cancelDeployment()
		case "5":
			err = ic.redeploy()
		case "6":
			err = ic.systemStatus()
		}
		if err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	}
}

func (ic *InteractiveCLI) deployProject() error {
	fmt.Println("\nDeploy a project")
	fmt.Println("----------------")

	projectID := ic.promptString("Project ID", "")
	if projectID == "" {
		return fmt.Errorf("project ID is required")
	}
	environment := ic.promptChoice("Environment", []string{"production", "preview"})
	branch := ic.promptString("Branch (blank uses the project default)", "")

	req := map[string]interface{}{
		"project_id":  projectID,
		"environment": environment,
		"branch":      branch,
	}

	dep, err := ic.apiClient.CreateDeployment(req)
	if err != nil {
		return fmt.Errorf("create deployment: %w", err)
	}

	fmt.Printf("Deployment submitted: %s (status: %s)\n", dep.ID, dep.Status)
	return nil
}

func (ic *InteractiveCLI) listDeployments() error {
	deployments, err := ic.apiClient.ListDeployments()
	if err != nil {
		return fmt.Errorf("list deployments: %w", err)
	}
	if len(deployments) == 0 {
		fmt.Println("No deployments found")
		return nil
	}

	fmt.Printf("\n%-20s %-16s %-12s %-10s %-20s\n", "ID", "PROJECT", "ENV", "STATUS", "CREATED")
	fmt.Println(strings.Repeat("-", 80))
	for _, d := range deployments {
		fmt.Printf("%-20s %-16s %-12s %-10s %-20s\n", d.ID, d.ProjectID, d.Environment, d.Status, d.CreatedAt)
	}
	return nil
}

func (ic *InteractiveCLI) viewLogs() error {
	id := ic.promptString("Deployment ID", "")
	if id == "" {
		return fmt.Errorf("deployment ID is required")
	}
	tailStr := ic.promptString("Tail (number of lines, blank for all)", "")
	tail := 0
	if tailStr != "" {
		n, err := strconv.Atoi(tailStr)
		if err == nil {
			tail = n
		}
	}

	logs, err := ic.apiClient.GetDeploymentLogs(id, tail)
	if err != nil {
		return fmt.Errorf("get logs: %w", err)
	}
	if len(logs.Logs) == 0 {
		fmt.Println("No logs found for this deployment")
		return nil
	}
	for _, entry := range logs.Logs {
		fmt.Printf("[%s] [%s] [%s] %s\n", entry.Ts.Format("2006-01-02 15:04:05"), entry.Level, entry.Step, entry.Line)
	}
	return nil
}

func (ic *InteractiveCLI) cancelDeployment() error {
	id := ic.promptString("Deployment ID to cancel", "")
	if id == "" {
		return fmt.Errorf("deployment ID is required")
	}
	if err := ic.apiClient.CancelDeployment(id); err != nil {
		return fmt.Errorf("cancel deployment: %w", err)
	}
	fmt.Println("Cancellation requested")
	return nil
}

func (ic *InteractiveCLI) redeploy() error {
	id := ic.promptString("Deployment ID to redeploy", "")
	if id == "" {
		return fmt.Errorf("deployment ID is required")
	}
	dep, err := ic.apiClient.RedeployDeployment(id)
	if err != nil {
		return fmt.Errorf("redeploy: %w", err)
	}
	fmt.Printf("Redeploy submitted: %s (status: %s)\n", dep.ID, dep.Status)
	return nil
}

func (ic *InteractiveCLI) systemStatus() error {
	status, err := ic.apiClient.GetStatus()
	if err != nil {
		return fmt.Errorf("get status: %w", err)
	}
	fmt.Println("\nForge Status:")
	fmt.Printf("  Service: %s\n", status.Status)
	fmt.Printf("  Health: %s\n", status.Health)
	fmt.Printf("  Uptime: %s\n", status.Uptime)
	fmt.Printf("  Active Deployments: %d\n", status.ActiveDeployments)
	fmt.Printf("  Total Deployments: %d\n", status.TotalDeployments)
	return nil
}

func (ic *InteractiveCLI) startAgent() error {
	cmd := exec.Command("forge", "start", "-d")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start agent process: %w", err)
	}

	const maxRetries = 10
	for i := 0; i < maxRetries; i++ {
		time.Sleep(1 * time.Second)
		if ic.apiClient.IsAgentRunning() {
			fmt.Println("Agent started successfully")
			return nil
		}
	}
	return fmt.Errorf("agent failed to start within %d seconds", maxRetries)
}

func (ic *InteractiveCLI) promptString(prompt, defaultValue string) string {
	fmt.Printf("%s", prompt)
	if defaultValue != "" {
		fmt.Printf(" (default: %s)", defaultValue)
	}
	fmt.Print(": ")

	reader := bufio.NewReader(os.Stdin)
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultValue
	}
	return input
}

func (ic *InteractiveCLI) promptChoice(prompt string, choices []string) string {
	for {
		fmt.Printf("%s [%s]: ", prompt, strings.Join(choices, "/"))

		reader := bufio.NewReader(os.Stdin)
		input, _ := reader.ReadString('\n')
		input = strings.TrimSpace(strings.ToLower(input))

		for _, choice := range choices {
			if input == choice {
				return choice
			}
		}
		fmt.Printf("Invalid choice. Please enter one of: %s\n", strings.Join(choices, ", "))
	}
}
