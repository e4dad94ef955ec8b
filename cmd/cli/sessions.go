package cli

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// sessionsCmd lists the live sessions a running daemon holds.
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List live scan sessions",
	Long: `List the scan sessions currently resident in a running daemon's
registry, including terminal sessions not yet evicted by the reaper.`,
	RunE: runSessions,
}

func init() {
	sessionsCmd.Flags().StringVar(&serverURL, "server", "http://127.0.0.1:8080", "daemon base URL")
	sessionsCmd.Flags().StringVar(&apiToken, "token", "", "API token")
	rootCmd.AddCommand(sessionsCmd)
}

func runSessions(cmd *cobra.Command, _ []string) error {
	client := newAPIClient()

	var response struct {
		Sessions []struct {
			ID        string `json:"id"`
			Target    string `json:"target"`
			Profile   string `json:"profile"`
			Status    string `json:"status"`
			CreatedAt string `json:"created_at"`
			LogLines  int    `json:"log_lines"`
		} `json:"sessions"`
		Count int `json:"count"`
	}
	if err := client.do(cmd.Context(), "GET", "/api/v1/sessions", nil, &response); err != nil {
		return err
	}

	if response.Count == 0 {
		fmt.Println("No live sessions.")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Target", "Profile", "Status", "Created", "Log Lines")
	for _, s := range response.Sessions {
		if err := table.Append(s.ID, s.Target, s.Profile, s.Status,
			s.CreatedAt, fmt.Sprintf("%d", s.LogLines)); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}

	fmt.Printf("\n%d session(s)\n", response.Count)
	return nil
}
