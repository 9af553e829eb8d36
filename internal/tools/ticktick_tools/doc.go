// Package ticktick_tools provides the MCP tools wrapping the TickTick API.
//
// # Available Tools
//
// Read-only:
//   - auth_status: Report whether the caller holds a TickTick authorization
//   - list_projects: List all projects
//   - get_project: Get details of a specific project
//   - list_tasks: List tasks with status, due-date and pagination filters
//   - get_task: Get details of a specific task
//
// Mutating (omitted in read-only mode):
//   - create_task: Create a new task
//   - update_task: Update fields of a task
//   - complete_task: Mark a task as completed
//   - delete_task: Delete a task
//
// # Request admission
//
// Every tool resolves the caller from the bearer-authenticated request
// context and charges a per-user rate budget before doing any work.
// Mutating tools additionally require an idempotencyKey argument; a key
// seen before within its retention window rejects the call without
// touching TickTick.
//
// Results are JSON text content: {"ok":true, ...} on success, or
// {"ok":false, "code", "message", "details"?} on failure.
package ticktick_tools
