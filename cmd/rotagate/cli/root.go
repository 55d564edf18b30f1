package cli

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rotagate/rotagate/internal/config"
)

var (
	cfgFile    string
	cfgErr     error  // set by initConfig when an explicit --config cannot be loaded
	appVersion string // set in Execute, reported by serve, openapi and mcp
)

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	appVersion = version
	rootCmd := newRootCmd(version, commit, date)
	return rootCmd.Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rotagate",
		Short: "Single-use API keys that rotate on every access",
		Long: `rotagate issues API keys that are valid for exactly one use.

Every successful access through /api/v1/access returns the protected asset
together with a freshly rotated key; the presented value stops working
immediately. Operators log in with a username and password to create, list
and revoke keys, and every sensitive transition is written to an audit log.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./rotagate.yaml)")
	cmd.PersistentFlags().String("data-dir", "", "data directory for the SQLite store (default: ~/.rotagate)")
	viper.BindPFlag("store.data_dir", cmd.PersistentFlags().Lookup("data-dir"))

	cobra.OnInitialize(initConfig)

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))
	cmd.AddCommand(newKeyCmd())
	cmd.AddCommand(newAuditCmd())
	cmd.AddCommand(newAdminCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newOpenAPICmd())
	cmd.AddCommand(newMCPCmd())
	cmd.AddCommand(newBenchCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

// initConfig layers configuration as flags > environment > file > defaults.
// An explicit --config file is parsed by config.LoadYAMLConfig, so ${VAR}
// references expand anywhere in it, and its values replace the defaults.
// Otherwise rotagate.yaml is searched for in the working directory and
// ~/.rotagate.
func initConfig() {
	cfgErr = nil
	base := config.DefaultAppConfig()
	if cfgFile != "" {
		loaded, err := config.LoadYAMLConfig(cfgFile)
		if err != nil {
			cfgErr = err
		} else {
			base = loaded
		}
	} else {
		viper.SetConfigName("rotagate")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.rotagate")
	}

	setDefaults(base)
	viper.SetEnvPrefix("ROTAGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	if cfgFile == "" {
		viper.ReadInConfig() // Ignore error - config file is optional
	}
}

// configSource names the file the effective configuration came from, or ""
// when only defaults and environment apply.
func configSource() string {
	if cfgFile != "" {
		return cfgFile
	}
	return viper.ConfigFileUsed()
}
