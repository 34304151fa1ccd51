// Package batch parses the ID arguments of bulk MCP tools, accepting a
// single string, an array of strings, or a JSON-encoded array passed as
// a string.
package batch
