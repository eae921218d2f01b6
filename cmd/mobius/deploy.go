package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rocoloco/Mobius1-sub000/pkg/types"
	"github.com/rocoloco/Mobius1-sub000/pkg/validator"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a deployment spec file",
	Long: `Validate a deployment spec without contacting the control plane.

Checks structure, dependency graph, required components, resource
quantities, compliance constraints, and per-type configuration rules,
and reports every finding at once.

Examples:
  # Check a spec before deploying
  mobius validate -f stack.yaml`,
	RunE: runValidate,
}

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy a spec through the control plane",
	Long: `Submit a deployment spec to the control plane.

Components deploy in dependency order; disabled components are
skipped. With --rollback-on-failure, components that succeeded are
undone when a later one fails.

Examples:
  # Deploy a stack
  mobius deploy -f stack.yaml

  # Retry each component up to 5 times and undo on failure
  mobius deploy -f stack.yaml --attempts 5 --rollback-on-failure`,
	RunE: runDeploy,
}

func init() {
	validateCmd.Flags().StringP("file", "f", "", "Deployment spec YAML file (required)")
	_ = validateCmd.MarkFlagRequired("file")

	deployCmd.Flags().StringP("file", "f", "", "Deployment spec YAML file (required)")
	deployCmd.Flags().Int("attempts", 0, "Per-component retry budget (0 uses the server default)")
	deployCmd.Flags().Bool("rollback-on-failure", false, "Undo succeeded components when the deployment fails")
	deployCmd.Flags().String("idempotency-key", "", "Reuse a prior result instead of redeploying")
	_ = deployCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(deployCmd)
}

// loadSpec reads and parses a deployment spec from a YAML file.
func loadSpec(filename string) (*types.DeploymentSpec, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %v", err)
	}

	var spec types.DeploymentSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %v", err)
	}
	return &spec, nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	spec, err := loadSpec(filename)
	if err != nil {
		return err
	}

	result := validator.Validate(spec)
	for _, issue := range result.Warnings {
		fmt.Printf("warning: %s: %s\n", issue.Field, issue.Message)
	}
	if !result.Valid {
		for _, issue := range result.Errors {
			fmt.Printf("error: %s: %s\n", issue.Field, issue.Message)
		}
		return fmt.Errorf("spec has %d error(s)", len(result.Errors))
	}

	fmt.Printf("✓ Spec is valid: %d component(s) in workspace %s\n", len(spec.Components), spec.WorkspaceID)
	return nil
}

func runDeploy(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	attempts, _ := cmd.Flags().GetInt("attempts")
	rollback, _ := cmd.Flags().GetBool("rollback-on-failure")
	key, _ := cmd.Flags().GetString("idempotency-key")

	spec, err := loadSpec(filename)
	if err != nil {
		return err
	}

	c, err := newAPIClient(cmd)
	if err != nil {
		return err
	}

	fmt.Printf("Deploying %d component(s) to workspace %s...\n", len(spec.Components), spec.WorkspaceID)
	fmt.Println()

	result, err := c.CreateDeployment(cmd.Context(), spec, types.DeployOptions{
		IdempotencyKey:    key,
		MaxAttempts:       attempts,
		RollbackOnFailure: rollback,
	})
	if result != nil {
		printDeploymentResult(result)
		fmt.Println()
	}
	if err != nil {
		return err
	}

	fmt.Println("✓ Deployment succeeded")
	return nil
}
