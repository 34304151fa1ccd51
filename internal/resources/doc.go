// Package resources registers MCP resources exposed alongside the mail
// tools: the signed-in user profile and the response cache statistics.
package resources
