package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	scanProfile string
	scanFollow  bool
)

// scanCmd starts a scan against a running daemon.
var scanCmd = &cobra.Command{
	Use:   "scan <target>",
	Short: "Start a scan",
	Long: `Start a scan of a single target against a running daemon. With
--follow the command attaches to the session's event stream and prints
progress lines until the scan finishes.`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringVar(&serverURL, "server", "http://127.0.0.1:8080", "daemon base URL")
	scanCmd.Flags().StringVar(&apiToken, "token", "", "API token")
	scanCmd.Flags().StringVar(&scanProfile, "profile", "", "scan profile: quick, standard, deep")
	scanCmd.Flags().BoolVarP(&scanFollow, "follow", "f", false, "stream progress until the scan finishes")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	client := newAPIClient()

	request := map[string]string{"target": args[0]}
	if scanProfile != "" {
		request["profile"] = scanProfile
	}

	var response struct {
		SessionID string `json:"session_id"`
		Status    string `json:"status"`
		StreamURL string `json:"stream_url"`
	}
	if err := client.do(cmd.Context(), "POST", "/api/v1/scans", request, &response); err != nil {
		return err
	}

	fmt.Printf("Scan accepted: session %s\n", response.SessionID)
	if !scanFollow {
		fmt.Printf("Follow with: scanwatch scan --follow, or stream %s\n", response.StreamURL)
		return nil
	}

	return followStream(cmd, client, response.StreamURL)
}

// followStream consumes the session's SSE stream and prints events until the
// terminal frame arrives.
func followStream(cmd *cobra.Command, client *apiClient, path string) error {
	resp, err := client.stream(cmd.Context(), path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var eventKind string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			eventKind = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			done, err := printStreamEvent(eventKind, strings.TrimPrefix(line, "data: "))
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
	}
	return scanner.Err()
}

// printStreamEvent renders one stream event and reports whether it was
// terminal.
func printStreamEvent(kind, data string) (bool, error) {
	var frame struct {
		Status  string          `json:"status"`
		Message string          `json:"message"`
		Result  json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal([]byte(data), &frame); err != nil {
		return false, fmt.Errorf("malformed stream frame: %w", err)
	}

	switch kind {
	case "connected":
		fmt.Printf("Connected (status: %s)\n", frame.Status)
	case "log":
		fmt.Println(frame.Message)
	case "status":
		fmt.Printf("Status: %s\n", frame.Status)
	case "done":
		fmt.Println("Scan finished.")
		if len(frame.Result) > 0 {
			fmt.Println(string(frame.Result))
		}
		return true, nil
	case "error":
		return true, fmt.Errorf("scan failed: %s", frame.Message)
	}
	return false, nil
}
