package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mwieland/graphmail/internal/auth"
)

func newLogoutCmd() *cobra.Command {
	var tokenFile string

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Remove the locally cached token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if tokenFile == "" {
				tokenFile = os.Getenv("GRAPHMAIL_TOKEN_FILE")
			}
			if tokenFile == "" {
				tokenFile = auth.DefaultTokenPath()
			}

			tokenCache := auth.NewFileCache(tokenFile)
			if err := tokenCache.Clear(); err != nil {
				return fmt.Errorf("failed to remove token: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Removed cached token at %s\n", tokenCache.Path())
			return nil
		},
	}

	cmd.Flags().StringVar(&tokenFile, "token-file", "", "Path of the token cache file (default: XDG cache dir). Can also use GRAPHMAIL_TOKEN_FILE env var.")

	return cmd
}
