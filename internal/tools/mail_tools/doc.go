// Package mail_tools provides MCP tools for reading Microsoft 365 mail.
//
// The tools cover provider search with client-side exact filtering,
// conversation retrieval (single and bulk), message body fetching with
// HTML-to-text conversion, attachment listing, and cache maintenance.
// All tools are read-only.
package mail_tools
