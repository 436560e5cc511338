// cmd/batchctl/main.go
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var serverURL string

func main() {
	rootCmd := &cobra.Command{
		Use:   "batchctl",
		Short: "Submit transform jobs and inspect batch progress",
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("BATCH_SERVER_URL", "http://127.0.0.1:8080"), "simple-batch API base URL")

	rootCmd.AddCommand(submitCmd())
	rootCmd.AddCommand(batchCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(progressCmd())
	rootCmd.AddCommand(cancelCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func submitCmd() *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "submit <command>",
		Short: "Submit one standalone transform job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{"command": args[0]}
			if source != "" {
				body["source"] = source
			}
			return call(http.MethodPost, "/jobs", body)
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "source reference URL")
	return cmd
}

func batchCmd() *cobra.Command {
	var name string
	var jobs []string
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Submit a named batch of transform jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			specs := make([]map[string]string, 0, len(jobs))
			for _, j := range jobs {
				// "command" or "command@source"
				spec := map[string]string{"command": j}
				if at := strings.LastIndex(j, "@"); at > 0 {
					spec["command"] = j[:at]
					spec["source"] = j[at+1:]
				}
				specs = append(specs, spec)
			}
			return call(http.MethodPost, "/jobs/batch", map[string]any{"batch_name": name, "jobs": specs})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "batch name")
	cmd.Flags().StringArrayVar(&jobs, "job", nil, "job spec 'command' or 'command@source' (repeatable)")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show one job's manifest row",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodGet, "/jobs/"+args[0], nil)
		},
	}
}

func progressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "progress <batch-id>",
		Short: "Show aggregated batch progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodGet, "/jobs/batch/"+args[0], nil)
		},
	}
}

func cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <batch-id>",
		Short: "Cancel every non-terminal job in a batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodPost, "/jobs/batch/"+args[0]+"/cancel", map[string]string{})
		},
	}
}

func call(method, path string, body any) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, strings.TrimRight(serverURL, "/")+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var pretty bytes.Buffer
	if json.Indent(&pretty, raw, "", "  ") == nil {
		fmt.Println(pretty.String())
	} else {
		fmt.Println(string(raw))
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	return nil
}

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}
