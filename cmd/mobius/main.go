package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rocoloco/Mobius1-sub000/pkg/client"
	"github.com/rocoloco/Mobius1-sub000/pkg/events"
	"github.com/rocoloco/Mobius1-sub000/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mobius",
	Short: "Mobius - Self-healing deployment control plane",
	Long: `Mobius deploys AI infrastructure stacks onto a backend node daemon
and keeps them healthy: dependency-ordered deployment, continuous
health polling, failure classification, and bounded automatic
recovery with rollback.`,
	Version: Version,
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Mobius version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	// Connection flags shared by every client command
	rootCmd.PersistentFlags().String("server", "http://127.0.0.1:8080", "Control plane API address")
	rootCmd.PersistentFlags().String("token", "", "Bearer token for the API (falls back to MOBIUS_API_TOKEN)")
	rootCmd.PersistentFlags().Duration("timeout", 30*time.Second, "Per-request timeout for API calls")

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(deploymentCmd)
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(budgetCmd)
	rootCmd.AddCommand(eventsCmd)
}

// newAPIClient builds a control plane client from the connection flags.
func newAPIClient(cmd *cobra.Command) (*client.Client, error) {
	server, _ := cmd.Flags().GetString("server")
	token, _ := cmd.Flags().GetString("token")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	if token == "" {
		token = os.Getenv("MOBIUS_API_TOKEN")
	}

	return client.New(client.Config{
		BaseURL: server,
		Token:   token,
		Timeout: timeout,
	})
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Mobius version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}

// Status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show system health as the control plane sees it",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient(cmd)
		if err != nil {
			return err
		}

		status, err := c.Status(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("Overall:    %s\n", status.Overall)
		fmt.Printf("Uptime:     %s\n", status.Uptime.Truncate(time.Second))
		fmt.Printf("Last check: %s\n", status.LastCheck.Format(time.RFC3339))
		if status.RecoveryInProgress {
			fmt.Println("Recovery:   in progress")
		}

		if len(status.Components) == 0 {
			fmt.Println()
			fmt.Println("No components deployed.")
			return nil
		}

		fmt.Println()
		fmt.Printf("%-24s %-12s %-12s %s\n", "COMPONENT", "STATUS", "RESPONSE", "RECOVERIES")
		for _, comp := range status.Components {
			fmt.Printf("%-24s %-12s %-12s %d\n",
				comp.Name, comp.Status,
				comp.ResponseTime.Truncate(time.Millisecond),
				comp.RecoveryAttempts)
		}
		return nil
	},
}

// Deployment commands
var deploymentCmd = &cobra.Command{
	Use:   "deployment",
	Short: "Inspect recorded deployments",
}

var deploymentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List deployments",
	RunE: func(cmd *cobra.Command, args []string) error {
		workspace, _ := cmd.Flags().GetString("workspace")

		c, err := newAPIClient(cmd)
		if err != nil {
			return err
		}

		results, err := c.ListDeployments(cmd.Context(), workspace)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println("No deployments recorded.")
			return nil
		}

		fmt.Printf("%-38s %-16s %-8s %-10s %s\n", "ID", "WORKSPACE", "OK", "DURATION", "STARTED")
		for _, res := range results {
			fmt.Printf("%-38s %-16s %-8t %-10s %s\n",
				res.ID, res.WorkspaceID, res.Success,
				res.Duration.Truncate(time.Millisecond),
				res.StartedAt.Format(time.RFC3339))
		}
		return nil
	},
}

var deploymentGetCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Show one deployment in full",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient(cmd)
		if err != nil {
			return err
		}

		result, err := c.GetDeployment(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printDeploymentResult(result)
		return nil
	},
}

func init() {
	deploymentCmd.AddCommand(deploymentListCmd)
	deploymentCmd.AddCommand(deploymentGetCmd)

	deploymentListCmd.Flags().String("workspace", "", "Filter by workspace ID")
}

// printDeploymentResult renders one result the same way for deploy and
// deployment get.
func printDeploymentResult(result *types.DeploymentResult) {
	fmt.Printf("Deployment: %s\n", result.ID)
	fmt.Printf("  Workspace: %s\n", result.WorkspaceID)
	fmt.Printf("  Success:   %t\n", result.Success)
	fmt.Printf("  Started:   %s\n", result.StartedAt.Format(time.RFC3339))
	fmt.Printf("  Duration:  %s\n", result.Duration.Truncate(time.Millisecond))
	if result.SLAExceeded {
		fmt.Println("  SLA:       exceeded")
	}

	fmt.Println()
	for _, comp := range result.Components {
		marker := "✓"
		switch comp.Status {
		case types.ComponentStatusFailed:
			marker = "✗"
		case types.ComponentStatusSkipped:
			marker = "-"
		}
		fmt.Printf("  %s %-24s %-10s %s", marker, comp.Name, comp.Status, comp.Duration.Truncate(time.Millisecond))
		if comp.Endpoint != "" {
			fmt.Printf("  %s", comp.Endpoint)
		}
		fmt.Println()
		if comp.Error != "" {
			fmt.Printf("      %s\n", comp.Error)
		}
	}

	for _, derr := range result.Errors {
		fmt.Printf("  Error [%s] %s: %s\n", derr.Code, derr.Component, derr.Message)
		if derr.Hint != "" {
			fmt.Printf("      hint: %s\n", derr.Hint)
		}
	}
}

// Recovery commands
var recoverCmd = &cobra.Command{
	Use:   "recover FAILURE_TYPE COMPONENT",
	Short: "Run the recovery ladder for one component",
	Long: `Ask the control plane to recover a component from a classified
failure. The attempt runs synchronously and reports its outcome.

Failure types: DATABASE_CONNECTION, REDIS_CONNECTION,
OBJECT_STORE_ACCESS, VECTOR_STORE_DOWN, GATEWAY_DOWN,
INFERENCE_RUNTIME_DOWN, HIGH_RESPONSE_TIME.

Examples:
  # Recover a wedged database
  mobius recover DATABASE_CONNECTION postgres`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		failureType := types.FailureType(strings.ToUpper(args[0]))
		component := args[1]

		c, err := newAPIClient(cmd)
		if err != nil {
			return err
		}

		fmt.Printf("Recovering %s from %s...\n", component, failureType)
		if err := c.TriggerRecovery(cmd.Context(), failureType, component); err != nil {
			return err
		}

		fmt.Printf("✓ Recovery succeeded: %s\n", component)
		return nil
	},
}

var recoverHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent recovery attempts",
	RunE: func(cmd *cobra.Command, args []string) error {
		component, _ := cmd.Flags().GetString("component")
		limit, _ := cmd.Flags().GetInt("limit")

		c, err := newAPIClient(cmd)
		if err != nil {
			return err
		}

		attempts, err := c.RecoveryHistory(cmd.Context(), component, limit)
		if err != nil {
			return err
		}
		if len(attempts) == 0 {
			fmt.Println("No recovery attempts recorded.")
			return nil
		}

		fmt.Printf("%-22s %-16s %-20s %-8s %-10s %s\n", "FAILURE", "COMPONENT", "ACTION", "OK", "DURATION", "STARTED")
		for _, attempt := range attempts {
			fmt.Printf("%-22s %-16s %-20s %-8t %-10s %s\n",
				attempt.FailureType, attempt.Component, attempt.Action,
				attempt.Success,
				attempt.Duration.Truncate(time.Millisecond),
				attempt.StartedAt.Format(time.RFC3339))
		}
		return nil
	},
}

func init() {
	recoverCmd.AddCommand(recoverHistoryCmd)

	recoverHistoryCmd.Flags().String("component", "", "Filter by component name")
	recoverHistoryCmd.Flags().Int("limit", 20, "Maximum attempts to show")
}

// Budget commands
var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Manage workspace budgets",
}

var budgetGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show budget configuration and remaining quota",
	RunE: func(cmd *cobra.Command, args []string) error {
		workspace, _ := cmd.Flags().GetString("workspace")

		c, err := newAPIClient(cmd)
		if err != nil {
			return err
		}

		status, err := c.Budget(cmd.Context(), workspace)
		if err != nil {
			return err
		}

		fmt.Printf("Workspace: %s\n", status.WorkspaceID)
		fmt.Printf("  Enabled:         %t\n", status.Config.Enabled)
		fmt.Printf("  Monthly limit:   $%.2f\n", status.Config.MonthlyLimit)
		fmt.Printf("  Alert threshold: %.0f%%\n", status.Config.AlertThreshold*100)
		fmt.Printf("  Current spend:   $%.2f\n", status.Quota.CurrentSpend)
		fmt.Printf("  Remaining:       $%.2f\n", status.Quota.Remaining)
		return nil
	},
}

var budgetSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Set a workspace budget",
	RunE: func(cmd *cobra.Command, args []string) error {
		workspace, _ := cmd.Flags().GetString("workspace")
		limit, _ := cmd.Flags().GetFloat64("monthly-limit")
		threshold, _ := cmd.Flags().GetFloat64("alert-threshold")
		enabled, _ := cmd.Flags().GetBool("enabled")

		c, err := newAPIClient(cmd)
		if err != nil {
			return err
		}

		applied, err := c.SetBudget(cmd.Context(), workspace, types.BudgetConfig{
			Enabled:        enabled,
			MonthlyLimit:   limit,
			AlertThreshold: threshold,
		})
		if err != nil {
			return err
		}

		fmt.Printf("✓ Budget updated: %s at $%.2f/month, alert at %.0f%%\n",
			workspace, applied.MonthlyLimit, applied.AlertThreshold*100)
		return nil
	},
}

func init() {
	budgetCmd.AddCommand(budgetGetCmd)
	budgetCmd.AddCommand(budgetSetCmd)

	budgetGetCmd.Flags().String("workspace", "", "Workspace ID (required)")
	_ = budgetGetCmd.MarkFlagRequired("workspace")

	budgetSetCmd.Flags().String("workspace", "", "Workspace ID (required)")
	budgetSetCmd.Flags().Float64("monthly-limit", 0, "Monthly spend limit in USD")
	budgetSetCmd.Flags().Float64("alert-threshold", 0.8, "Alert at this fraction of the limit")
	budgetSetCmd.Flags().Bool("enabled", true, "Enforce the budget")
	_ = budgetSetCmd.MarkFlagRequired("workspace")
	_ = budgetSetCmd.MarkFlagRequired("monthly-limit")
}

// Events command
var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show recent events or follow the live stream",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient(cmd)
		if err != nil {
			return err
		}

		follow, _ := cmd.Flags().GetBool("follow")
		if follow {
			return followEvents(cmd, c)
		}

		since, _ := cmd.Flags().GetDuration("since")
		limit, _ := cmd.Flags().GetInt("limit")

		var sinceTime time.Time
		if since > 0 {
			sinceTime = time.Now().Add(-since)
		}

		list, err := c.Events(cmd.Context(), sinceTime, limit)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("No events recorded.")
			return nil
		}
		for _, event := range list {
			printEvent(event)
		}
		return nil
	},
}

func followEvents(cmd *cobra.Command, c *client.Client) error {
	stream, err := c.StreamEvents(cmd.Context())
	if err != nil {
		return err
	}
	defer stream.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-sigCh:
			return nil
		case event, ok := <-stream.Events():
			if !ok {
				return stream.Err()
			}
			printEvent(event)
		}
	}
}

func printEvent(event *events.Event) {
	fmt.Printf("%s  %-26s %s\n", event.Timestamp.Format(time.RFC3339), event.Type, event.Message)
}

func init() {
	eventsCmd.Flags().Duration("since", 0, "Only events newer than this age, e.g. 1h")
	eventsCmd.Flags().Int("limit", 50, "Maximum events to show")
	eventsCmd.Flags().Bool("follow", false, "Stream live events until interrupted")
}
