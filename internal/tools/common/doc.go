// Package common provides shared helpers for MCP tool implementations:
// the structured error envelope, success responses, identity lookup from
// the request context and the instrumentation wrapper for tool handlers.
package common
