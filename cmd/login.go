package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mwieland/graphmail/internal/auth"
)

func newLoginCmd() *cobra.Command {
	var (
		clientID  string
		tenantID  string
		tokenFile string
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to Microsoft 365 with the device code flow",
		Long: `Sign in to Microsoft 365 using the OAuth 2.0 device code flow.

The command prints a verification URL and a one-time code. Open the URL in
any browser, enter the code, and sign in with the mailbox account. The
resulting token is saved locally and refreshed automatically by the server.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if clientID == "" {
				clientID = os.Getenv("GRAPH_CLIENT_ID")
			}
			if clientID == "" {
				return fmt.Errorf("client ID is required: set --client-id or GRAPH_CLIENT_ID")
			}
			if !cmd.Flags().Changed("tenant-id") {
				if v := os.Getenv("GRAPH_TENANT_ID"); v != "" {
					tenantID = v
				}
			}
			if tokenFile == "" {
				tokenFile = os.Getenv("GRAPHMAIL_TOKEN_FILE")
			}
			return runLogin(cmd, clientID, tenantID, tokenFile)
		},
	}

	cmd.Flags().StringVar(&clientID, "client-id", "", "Microsoft Entra application (client) ID. Can also use GRAPH_CLIENT_ID env var.")
	cmd.Flags().StringVar(&tenantID, "tenant-id", "common", "Microsoft Entra tenant ID or 'common'. Can also use GRAPH_TENANT_ID env var.")
	cmd.Flags().StringVar(&tokenFile, "token-file", "", "Path of the token cache file (default: XDG cache dir). Can also use GRAPHMAIL_TOKEN_FILE env var.")

	return cmd
}

func runLogin(cmd *cobra.Command, clientID, tenantID, tokenFile string) error {
	conf := auth.OAuthConfig(clientID, tenantID)

	token, err := auth.DeviceLogin(cmd.Context(), conf, cmd.OutOrStdout())
	if err != nil {
		return fmt.Errorf("device login failed: %w", err)
	}

	if tokenFile == "" {
		tokenFile = auth.DefaultTokenPath()
	}
	tokenCache := auth.NewFileCache(tokenFile)
	if err := tokenCache.Save(token); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Signed in. Token saved to %s\n", tokenCache.Path())
	return nil
}
