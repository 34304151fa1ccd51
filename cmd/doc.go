// Package cmd implements the command-line interface for graphmail.
//
// This package provides the following commands:
//   - serve: Start the MCP server providing Microsoft 365 mail tools
//   - login: Sign in with the OAuth 2.0 device code flow
//   - logout: Remove the locally cached token
//   - version: Display version information
//   - generate-docs: Generate markdown documentation for all MCP tools
//
// The serve command is the default command when no subcommand is specified.
package cmd
