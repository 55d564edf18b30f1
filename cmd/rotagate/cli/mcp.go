package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	rmcp "github.com/rotagate/rotagate/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the read-only MCP server for AI agents",
		Long: `Start a Model Context Protocol (MCP) server that lets AI agents inspect API
keys, key statistics and the audit log. No tool can create, rotate or revoke a
key, and no tool ever returns a raw key or hash.

In stdio mode the server speaks JSON-RPC over stdin/stdout, suitable for
clients that launch rotagate as a subprocess. In http mode it serves the
Streamable HTTP transport on the given port.`,
		Example: `  rotagate mcp                             # stdio mode
  rotagate mcp --transport http --port 3001`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCP(viper.GetString("mcp.transport"), viper.GetInt("mcp.port"))
		},
	}

	cmd.Flags().String("transport", "stdio", "Transport mode: stdio or http")
	cmd.Flags().Int("port", 3001, "HTTP port (only used with --transport http)")
	viper.BindPFlag("mcp.transport", cmd.Flags().Lookup("transport"))
	viper.BindPFlag("mcp.port", cmd.Flags().Lookup("port"))

	return cmd
}

func runMCP(transport string, port int) error {
	cfg, err := loadAppConfig(false)
	if err != nil {
		return err
	}
	// stdout belongs to the protocol in stdio mode; logs go to stderr.
	logger := newLogger(cfg.Log, false)

	a, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	mcpSrv := rmcp.NewMCPServer(a.keys, a.audit, a.store, versionString(), logger)

	switch transport {
	case "stdio":
		return mcpSrv.ServeStdio()
	case "http":
		return mcpSrv.ServeHTTP(fmt.Sprintf(":%d", port))
	default:
		return fmt.Errorf("unsupported transport %q; use 'stdio' or 'http'", transport)
	}
}
