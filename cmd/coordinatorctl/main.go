// Package main is the coordinatorctl operator CLI: a thin HTTP client over
// the coordinator's v1 API.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	baseURL    string
	authCookie string
	workerKey  string
	output     string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "coordinatorctl",
	Short: "Operator CLI for the rebuild verification coordinator",
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&baseURL, "url", "http://127.0.0.1:8484", "coordinator base URL")
	flags.StringVar(&authCookie, "cookie", os.Getenv("REBUILDERD_COOKIE"), "admin auth cookie")
	flags.StringVar(&workerKey, "worker-key", os.Getenv("REBUILDERD_WORKER_KEY"), "worker key")
	flags.StringVarP(&output, "output", "o", "json", "output format: json or yaml")

	rootCmd.AddCommand(queueCmd, buildsCmd, workersCmd, dashboardCmd)
	queueCmd.AddCommand(queueListCmd, queuePopCmd)
	buildsCmd.AddCommand(buildsListCmd, buildsGetCmd)
	workersCmd.AddCommand(workersListCmd, workersGetCmd)
}

// apiClient is a minimal HTTP client for the coordinator's JSON API.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newClient() *apiClient {
	return &apiClient{baseURL: strings.TrimRight(baseURL, "/"), http: &http.Client{Timeout: 30 * time.Second}}
}

func (c *apiClient) do(ctx context.Context, method, path string, body any, admin bool) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if admin && authCookie != "" {
		req.Header.Set("X-Auth-Cookie", authCookie)
	}
	if workerKey != "" {
		req.Header.Set("X-Worker-Key", workerKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s: %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return respBody, nil
}

// render prints a JSON response body re-encoded in the requested output
// format (indented json, or yaml after a round-trip through a generic
// map; yaml output lists object keys in sorted order, not the API's own
// JSON field order).
func render(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if strings.ToLower(output) != "yaml" {
		var buf bytes.Buffer
		if err := json.Indent(&buf, data, "", "  "); err != nil {
			fmt.Println(string(data))
			return nil
		}
		fmt.Println(buf.String())
		return nil
	}

	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	out, err := yaml.Marshal(generic)
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}

var queueCmd = &cobra.Command{Use: "queue", Short: "Inspect or drive the dispatch queue"}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := newClient().do(cmd.Context(), http.MethodGet, "/api/v1/queue", nil, true)
		if err != nil {
			return err
		}
		return render(data)
	},
}

var queuePopCmd = &cobra.Command{
	Use:   "pop",
	Short: "Claim the next eligible job as a worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := newClient().do(cmd.Context(), http.MethodPost, "/api/v1/queue/pop", nil, false)
		if err != nil {
			return err
		}
		return render(data)
	},
}

var buildsCmd = &cobra.Command{Use: "builds", Short: "List or inspect rebuild results"}

var buildsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List builds, most recently ingested first",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := newClient().do(cmd.Context(), http.MethodGet, "/api/v1/builds?direction=desc", nil, false)
		if err != nil {
			return err
		}
		return render(data)
	},
}

var buildsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Fetch one build's current status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := newClient().do(cmd.Context(), http.MethodGet, "/api/v1/builds/"+args[0], nil, false)
		if err != nil {
			return err
		}
		return render(data)
	},
}

var workersCmd = &cobra.Command{Use: "workers", Short: "List or inspect registered workers"}

var workersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := newClient().do(cmd.Context(), http.MethodGet, "/api/v1/workers", nil, true)
		if err != nil {
			return err
		}
		return render(data)
	},
}

var workersGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Fetch one worker's detail and tags",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := newClient().do(cmd.Context(), http.MethodGet, "/api/v1/workers/"+args[0], nil, true)
		if err != nil {
			return err
		}
		return render(data)
	},
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Show the rebuild verdict / queue dashboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := newClient().do(cmd.Context(), http.MethodGet, "/api/v1/dashboard", nil, false)
		if err != nil {
			return err
		}
		return render(data)
	},
}
