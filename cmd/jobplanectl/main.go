// jobplanectl is the operator CLI for the jobplane server: submit jobs, check
// status, kill jobs and dry-run resolution against the running control plane.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	apiKey    string
)

func main() {
	root := &cobra.Command{
		Use:           "jobplanectl",
		Short:         "Operator CLI for the jobplane control plane",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&serverURL, "server", envOr("JOBPLANE_SERVER", "http://localhost:8080"), "server base URL")
	root.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("JOBPLANE_API_KEY"), "bearer token for the API")

	root.AddCommand(submitCmd(), getCmd(), statusCmd(), killCmd(), resolveCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func submitCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a job request from a JSON file (or stdin with -f -)",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readInput(file)
			if err != nil {
				return err
			}
			return call(http.MethodPost, "/v1/jobs", body)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "job request JSON file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <job-id>",
		Short: "Print the full job record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodGet, "/v1/jobs/"+url.PathEscape(args[0]), nil)
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Print the job status projection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodGet, "/v1/jobs/"+url.PathEscape(args[0])+"/status", nil)
		},
	}
}

func killCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "kill <job-id>",
		Short: "Kill a job; a no-op if it already finished",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/jobs/" + url.PathEscape(args[0])
			if reason != "" {
				path += "?reason=" + url.QueryEscape(reason)
			}
			return call(http.MethodDelete, path, nil)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "kill reason recorded on the job")
	return cmd
}

func resolveCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Dry-run resolution for a request without creating a job",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readInput(file)
			if err != nil {
				return err
			}
			return call(http.MethodPost, "/v1/resolve", body)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "job request JSON file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func readInput(file string) ([]byte, error) {
	if file == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(file)
}

// call performs the request and pretty-prints the JSON response body.
func call(method, path string, body []byte) error {
	req, err := http.NewRequest(method, serverURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if len(data) > 0 {
		var pretty bytes.Buffer
		if json.Indent(&pretty, data, "", "  ") == nil {
			fmt.Println(pretty.String())
		} else {
			fmt.Println(string(data))
		}
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	return nil
}
