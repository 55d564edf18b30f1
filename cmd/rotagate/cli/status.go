package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newStatusCmd() *cobra.Command {
	var url string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check if the rotagate server is running",
		Long:  "Probe the liveness and readiness endpoints of a running server.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if url == "" {
				url = localURL()
			}
			return runStatus(cmd, url)
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "Base URL of the server (default from server.host and server.port)")

	return cmd
}

func localURL() string {
	port := viper.GetInt("server.port")
	if port == 0 {
		port = 8080
	}
	host := viper.GetString("server.host")
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, port)
}

func runStatus(cmd *cobra.Command, base string) error {
	out := cmd.OutOrStdout()
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(base + "/healthz")
	if err != nil {
		fmt.Fprintf(out, "Server is not responding at %s\n", base)
		return fmt.Errorf("health check: %w", err)
	}
	resp.Body.Close()
	fmt.Fprintf(out, "Server is running at %s\n", base)
	fmt.Fprintf(out, "  Health:  %d\n", resp.StatusCode)

	resp, err = client.Get(base + "/readyz")
	if err != nil {
		return fmt.Errorf("readiness check: %w", err)
	}
	defer resp.Body.Close()

	var ready struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ready); err != nil {
		return fmt.Errorf("decode readiness: %w", err)
	}
	fmt.Fprintf(out, "  Ready:   %s (%d)\n", ready.Status, resp.StatusCode)
	for _, name := range []string{"store", "audit"} {
		if v, ok := ready.Checks[name]; ok {
			fmt.Fprintf(out, "    %-6s %s\n", name+":", v)
		}
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server is not ready: %s", ready.Status)
	}
	return nil
}
