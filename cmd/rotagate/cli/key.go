package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rotagate/rotagate/internal/service"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long: `Create, list, revoke and rotate API keys directly against the credential
store. Every change is audited with the actor "cli".`,
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRevokeCmd())
	cmd.AddCommand(newKeyRotateCmd())

	return cmd
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		label      string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long:  "Generate a new single-use API key. The raw key is shown once and cannot be retrieved again.",
		Example: `  rotagate key create --label "CI pipeline"
  rotagate key create --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := cmdContext()
			defer cancel()
			created, err := a.keys.CreateKey(ctx, cliActor, label, service.RequestMeta{})
			if err != nil {
				return fmt.Errorf("create api key: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(created)
			}
			fmt.Fprintln(out, "API Key created:")
			fmt.Fprintln(out)
			fmt.Fprintf(out, "  ID:    %d\n", created.ID)
			fmt.Fprintf(out, "  Label: %s\n", created.Label)
			fmt.Fprintf(out, "  Key:   %s\n", created.RawKeyOnce)
			fmt.Fprintln(out)
			fmt.Fprintln(out, "  Save this key now - it cannot be retrieved again, and it is replaced on first use.")
			return nil
		},
	}

	cmd.Flags().StringVar(&label, "label", "", "Human-readable label for the key (default \"default\")")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := cmdContext()
			defer cancel()
			keys, err := a.keys.ListKeys(ctx)
			if err != nil {
				return fmt.Errorf("list api keys: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(keys)
			}
			if len(keys) == 0 {
				fmt.Fprintln(out, "No API keys issued. Use 'rotagate key create' to create one.")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tLABEL\tSTATUS\tLAST4\tROTATIONS\tCREATED")
			for _, k := range keys {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\n",
					k.ID, k.Label, k.Status, k.KeyLast4, k.RotationCount, k.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key by its id",
		Long:  "Revoke an API key. Its current value, and every value it would have rotated to, stops working.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid key id %q", args[0])
			}

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := cmdContext()
			defer cancel()
			if err := a.keys.RevokeKey(ctx, cliActor, id, service.RequestMeta{}); err != nil {
				return fmt.Errorf("revoke api key: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Revoked API key %d\n", id)
			return nil
		},
	}
}

// ---------- key rotate ----------

func newKeyRotateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate <raw-key>",
		Short: "Spend a key and print its successor",
		Long: `Present a raw key exactly as a client would: the key is verified, consumed and
rotated, and the new value is printed. Use this to recover a client whose
stored key is about to be replaced out of band.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := cmdContext()
			defer cancel()
			res, err := a.keys.AccessAndRotate(ctx, args[0], service.RequestMeta{UserAgent: "rotagate-cli/" + versionString()})
			if err != nil {
				return fmt.Errorf("rotate api key: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Rotated API key %d (rotation %d)\n", res.Asset.KeyID, res.Asset.RotationCount)
			fmt.Fprintf(out, "  New key: %s\n", res.RotatedKeyOnce)
			return nil
		},
	}
}
