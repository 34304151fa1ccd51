// Package server provides the MCP server context and the dedicated
// metrics HTTP server for the graphmail application.
//
// ServerContext owns the process-wide state: the token store, the mail
// service with its response cache, and the metrics recorder. Tool
// handlers reach all of it through the context instead of ambient
// globals, so tests can inject fresh instances per case.
//
// MetricsServer serves Prometheus metrics on a dedicated port, keeping
// operational metrics off the MCP transport.
package server
