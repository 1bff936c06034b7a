package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/avigil/guardlab/internal/domain"
)

var (
	serverURL string
	apiKey    string
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "labctl",
		Short: "Control a guardlab server",
		Long: `Labctl talks to a guardlab server to manage lab environments:
declare hosts and roles, provision the container cluster, inspect runs,
and submit vulnerability feed deltas.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("GUARDLAB_SERVER", "http://localhost:8080"), "Server URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("GUARDLAB_API_KEY"), "API key (defaults to GUARDLAB_API_KEY)")

	rootCmd.AddCommand(
		newEnvCmd(),
		newTopologyCmd(),
		newProvisionCmd(),
		newTeardownCmd(),
		newStatusCmd(),
		newRunsCmd(),
		newDeltaCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newEnvCmd() *cobra.Command {
	envCmd := &cobra.Command{
		Use:   "env",
		Short: "Manage environments",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List environments",
		RunE: func(cmd *cobra.Command, args []string) error {
			var envs []*domain.Environment
			if err := newAPIClient().do("GET", "/api/v1/environments", nil, &envs); err != nil {
				return err
			}

			fmt.Printf("%-16s %-20s %-18s %s\n", "NAME", "NETWORK", "SUBNET", "ID")
			for _, env := range envs {
				fmt.Printf("%-16s %-20s %-18s %s\n", env.Name, env.Network, env.Subnet, env.ID)
			}
			return nil
		},
	}

	var description, network, subnet string
	createCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create an environment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := domain.CreateEnvironmentRequest{
				Name:        args[0],
				Description: description,
				Network:     network,
				Subnet:      subnet,
			}

			var env domain.Environment
			if err := newAPIClient().do("POST", "/api/v1/environments", req, &env); err != nil {
				return err
			}

			fmt.Printf("Created environment %s (network %s)\n", env.Name, env.Network)
			return nil
		},
	}
	createCmd.Flags().StringVar(&description, "description", "", "Environment description")
	createCmd.Flags().StringVar(&network, "network", "", "Network name (defaults to <name>-net)")
	createCmd.Flags().StringVar(&subnet, "subnet", "", "Network subnet in CIDR form")

	envCmd.AddCommand(listCmd, createCmd)
	return envCmd
}

func newTopologyCmd() *cobra.Command {
	topologyCmd := &cobra.Command{
		Use:   "topology",
		Short: "Manage environment topologies",
	}

	var file string
	applyCmd := &cobra.Command{
		Use:   "apply <environment>",
		Short: "Replace an environment's hosts and roles from a topology file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(file)
			if err != nil {
				return err
			}

			// Catch malformed documents before they hit the server
			var topology domain.EnvironmentTopology
			if err := json.Unmarshal(data, &topology); err != nil {
				return fmt.Errorf("parsing topology file: %w", err)
			}

			client := newAPIClient()
			env, err := client.resolveEnvironment(args[0])
			if err != nil {
				return err
			}

			if err := client.do("PUT", "/api/v1/environments/"+env.ID+"/topology", topology, nil); err != nil {
				return err
			}

			fmt.Printf("Applied topology to %s: %d hosts, %d roles\n", env.Name, len(topology.Hosts), len(topology.Roles))
			return nil
		},
	}
	applyCmd.Flags().StringVarP(&file, "file", "f", "", "Topology JSON file (- for stdin)")
	_ = applyCmd.MarkFlagRequired("file")

	topologyCmd.AddCommand(applyCmd)
	return topologyCmd
}

func newProvisionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "provision <environment>",
		Short: "Run a provisioning pass",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient()
			env, err := client.resolveEnvironment(args[0])
			if err != nil {
				return err
			}

			var resp domain.ProvisionResponse
			if err := client.do("POST", "/api/v1/environments/"+env.ID+"/provision", nil, &resp); err != nil {
				return err
			}

			fmt.Printf("Run %d: %s\n", resp.RunNumber, resp.Status)
			if resp.Status == domain.RunStatusSuccess {
				return nil
			}

			// Show which actions failed
			var run domain.ProvisionRun
			if err := client.do("GET", "/api/v1/environments/"+env.ID+"/runs/"+resp.RunID, nil, &run); err == nil {
				for _, result := range run.Results {
					if result.Error != "" {
						fmt.Printf("  %s %s: %s\n", result.Action, result.Hostname, result.Error)
					}
				}
			}
			if resp.Error != "" {
				return fmt.Errorf("%s", resp.Error)
			}
			return fmt.Errorf("provisioning finished with status %s", resp.Status)
		},
	}
}

func newTeardownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "teardown <environment>",
		Short: "Remove an environment's containers and network",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient()
			env, err := client.resolveEnvironment(args[0])
			if err != nil {
				return err
			}

			var resp domain.TeardownResponse
			if err := client.do("POST", "/api/v1/environments/"+env.ID+"/teardown", nil, &resp); err != nil {
				return err
			}

			fmt.Printf("Removed %d containers and network %s\n", resp.Removed, resp.Network)
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <environment>",
		Short: "Show declared hosts against what the engine is running",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient()
			env, err := client.resolveEnvironment(args[0])
			if err != nil {
				return err
			}

			var statuses []domain.HostStatus
			if err := client.do("GET", "/api/v1/environments/"+env.ID+"/status", nil, &statuses); err != nil {
				return err
			}

			fmt.Printf("%-16s %-8s %-12s %-16s %s\n", "HOSTNAME", "ROLE", "STATUS", "ADDRESS", "CONTAINER")
			for _, hs := range statuses {
				fmt.Printf("%-16s %-8s %-12s %-16s %s\n", hs.Hostname, hs.Role, hs.Status, hs.Address, hs.Container)
			}
			return nil
		},
	}
}

func newRunsCmd() *cobra.Command {
	var limit int
	runsCmd := &cobra.Command{
		Use:   "runs <environment>",
		Short: "List provisioning runs, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient()
			env, err := client.resolveEnvironment(args[0])
			if err != nil {
				return err
			}

			var runs []*domain.ProvisionRun
			path := fmt.Sprintf("/api/v1/environments/%s/runs?limit=%d", env.ID, limit)
			if err := client.do("GET", path, nil, &runs); err != nil {
				return err
			}

			fmt.Printf("%-5s %-8s %-20s %s\n", "RUN", "STATUS", "STARTED", "ERROR")
			for _, run := range runs {
				fmt.Printf("%-5d %-8s %-20s %s\n", run.RunNumber, run.Status,
					run.CreatedAt.Format(time.RFC3339), run.Error)
			}
			return nil
		},
	}
	runsCmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs to list")
	return runsCmd
}

func newDeltaCmd() *cobra.Command {
	deltaCmd := &cobra.Command{
		Use:   "delta",
		Short: "Submit and validate vulnerability feed deltas",
	}

	var validateFile string
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a delta record without storing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(validateFile)
			if err != nil {
				return err
			}

			status, body, err := newAPIClient().doRaw("POST", "/api/v1/deltas/validate", data)
			if err != nil {
				return err
			}
			if status != 200 {
				return apiError(status, body)
			}

			var verdict domain.DeltaVerdict
			if err := json.Unmarshal(body, &verdict); err != nil {
				return err
			}
			return printVerdict(verdict)
		},
	}
	validateCmd.Flags().StringVarP(&validateFile, "file", "f", "", "Delta JSON file (- for stdin)")
	_ = validateCmd.MarkFlagRequired("file")

	var submitFile string
	submitCmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a delta record to the feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(submitFile)
			if err != nil {
				return err
			}

			status, body, err := newAPIClient().doRaw("POST", "/api/v1/deltas", data)
			if err != nil {
				return err
			}

			switch status {
			case 201:
				var record domain.DeltaRecord
				if err := json.Unmarshal(body, &record); err != nil {
					return err
				}
				fmt.Printf("Accepted delta %s (%s %s)\n", record.ID, record.Operation, record.CVEID)
				return nil
			case 422:
				var verdict domain.DeltaVerdict
				if err := json.Unmarshal(body, &verdict); err != nil {
					return err
				}
				return printVerdict(verdict)
			default:
				return apiError(status, body)
			}
		},
	}
	submitCmd.Flags().StringVarP(&submitFile, "file", "f", "", "Delta JSON file (- for stdin)")
	_ = submitCmd.MarkFlagRequired("file")

	deltaCmd.AddCommand(validateCmd, submitCmd)
	return deltaCmd
}

// printVerdict reports a validation verdict, failing the command when the
// record is invalid so scripts can branch on the exit code.
func printVerdict(verdict domain.DeltaVerdict) error {
	if verdict.Valid {
		fmt.Println("valid")
		return nil
	}
	for _, issue := range verdict.Errors {
		fmt.Printf("  %s: %s\n", issue.Field, issue.Message)
	}
	return fmt.Errorf("delta is invalid")
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
