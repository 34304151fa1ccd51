// Package common provides shared helpers for MCP tool handlers.
//
// This package includes the instrumentation wrapper that records tool
// invocation metrics for every registered tool.
package common
