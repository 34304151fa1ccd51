package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the graphmail application
var rootCmd = &cobra.Command{
	Use:   "graphmail",
	Short: "MCP server for reading Microsoft 365 mail",
	Long: `graphmail exposes Microsoft 365 mailbox reading as MCP (Model Context
Protocol) tools for AI assistants: email search, conversation retrieval,
message bodies, and attachment listings.

Run 'graphmail login' once to sign in with the device code flow, then run
the server (the default command) from your MCP client configuration.`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "graphmail version %s\n" .Version}}`)

	// If no subcommand is provided, run the serve command by default
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newLoginCmd())
	rootCmd.AddCommand(newLogoutCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newGenerateDocsCmd())
}
