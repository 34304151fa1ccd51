// Package instrumentation provides OpenTelemetry metrics for the
// graphmail MCP server, exported in Prometheus format.
//
// # Metrics
//
// MCP tool metrics:
//   - mcp_tool_invocations_total: Counter of tool invocations by tool name and status
//   - mcp_tool_duration_seconds: Histogram of tool execution durations
//
// Provider API metrics:
//   - graph_api_operations_total: Counter of Graph API operations by operation and status
//   - graph_api_operation_duration_seconds: Histogram of Graph API operation durations
//
// Cache and auth metrics:
//   - cache_lookups_total: Counter of response cache lookups by operation and result (hit/miss)
//   - token_refresh_total: Counter of token refresh attempts by result
//
// # Configuration
//
// Instrumentation is configured via environment variables:
//   - INSTRUMENTATION_ENABLED: enable/disable metrics (default: true)
//   - OTEL_SERVICE_NAME: service name (default: graphmail)
//   - PROMETHEUS_ENDPOINT: metrics endpoint path (default: /metrics)
//
// # Example Usage
//
//	provider, err := instrumentation.NewProvider(ctx, instrumentation.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer provider.Shutdown(ctx)
//
//	recorder := provider.Metrics()
//	recorder.RecordToolInvocation(ctx, "search_emails", "success", time.Since(start))
package instrumentation
