package ticktick_tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/ticktick-mcp/internal/apperr"
	"github.com/teemow/ticktick-mcp/internal/instrumentation"
	"github.com/teemow/ticktick-mcp/internal/server"
	"github.com/teemow/ticktick-mcp/internal/ticktick"
	"github.com/teemow/ticktick-mcp/internal/tools/common"
)

// RegisterTickTickTools registers all TickTick tools with the MCP server.
// Mutating tools are skipped in read-only mode.
func RegisterTickTickTools(s *mcpserver.MCPServer, sc *server.ServerContext, readOnly bool) error {
	if err := registerReadTools(s, sc); err != nil {
		return fmt.Errorf("failed to register read tools: %w", err)
	}
	if readOnly {
		return nil
	}
	if err := registerWriteTools(s, sc); err != nil {
		return fmt.Errorf("failed to register write tools: %w", err)
	}
	return nil
}

// admitUser resolves the caller's identity and charges the per-user rate
// budget. A non-nil result is the error to return to the client.
func admitUser(ctx context.Context, sc *server.ServerContext) (string, *mcp.CallToolResult) {
	userID, ok := common.UserFromContext(ctx)
	if !ok {
		return "", common.ToolError(apperr.AuthRequired("no authenticated user on this connection"))
	}
	if !sc.AllowUser(userID) {
		if m := sc.Metrics(); m != nil {
			m.RecordRateLimitRejection(ctx, instrumentation.RateLimitScopeUser)
		}
		return "", common.ToolError(apperr.RateLimited(""))
	}
	return userID, nil
}

// admitMutation performs idempotency admission before any upstream side
// effect. The idempotency key comes from the idempotencyKey argument.
func admitMutation(ctx context.Context, sc *server.ServerContext, userID, operation string, args map[string]interface{}) *mcp.CallToolResult {
	key, _ := args["idempotencyKey"].(string)
	if err := sc.Idempotency().Admit(ctx, userID, operation, key); err != nil {
		if apperr.Is(err, apperr.CodeDuplicateIdempotencyKey) {
			if m := sc.Metrics(); m != nil {
				m.RecordIdempotencyConflict(ctx, operation)
			}
		}
		return common.ToolError(err)
	}
	return nil
}

func requireString(args map[string]interface{}, name string) (string, *mcp.CallToolResult) {
	v, ok := args[name].(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", common.ToolError(apperr.Validation(name+" is required", nil))
	}
	return v, nil
}

// optionalString returns a pointer when the argument was supplied, so
// handlers can distinguish "absent" from "set to empty".
func optionalString(args map[string]interface{}, name string) *string {
	if v, ok := args[name].(string); ok {
		return &v
	}
	return nil
}

// optionalInt reads a JSON number argument. JSON numbers decode as float64.
func optionalInt(args map[string]interface{}, name string) (int, bool, *mcp.CallToolResult) {
	raw, ok := args[name]
	if !ok || raw == nil {
		return 0, false, nil
	}
	f, ok := raw.(float64)
	if !ok {
		return 0, false, common.ToolError(apperr.Validation(name+" must be a number", nil))
	}
	return int(f), true, nil
}

// taskInputFromArgs collects the writable task fields shared by create
// and update. Priority is restricted to TickTick's enumerated levels.
func taskInputFromArgs(args map[string]interface{}) (ticktick.TaskInput, *mcp.CallToolResult) {
	input := ticktick.TaskInput{
		Content:   optionalString(args, "content"),
		StartDate: optionalString(args, "startDate"),
		DueDate:   optionalString(args, "dueDate"),
	}
	if title, ok := args["title"].(string); ok {
		input.Title = title
	}

	priority, present, errResult := optionalInt(args, "priority")
	if errResult != nil {
		return input, errResult
	}
	if present {
		switch priority {
		case 0, 1, 3, 5:
			input.Priority = &priority
		default:
			return input, common.ToolError(apperr.Validation(
				"priority must be one of 0 (none), 1 (low), 3 (medium), 5 (high)",
				map[string]any{"priority": priority}))
		}
	}
	return input, nil
}

func registerReadTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	authStatusTool := mcp.NewTool("auth_status",
		mcp.WithDescription("Report whether the caller has a TickTick authorization and when it expires. Never triggers a token refresh."),
	)
	s.AddTool(authStatusTool, common.InstrumentedToolHandler("auth_status", instrumentation.OperationGet, sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleAuthStatus(ctx, sc)
		}))

	listProjectsTool := mcp.NewTool("list_projects",
		mcp.WithDescription("List all TickTick projects for the authenticated user"),
	)
	s.AddTool(listProjectsTool, common.InstrumentedToolHandler("list_projects", instrumentation.OperationList, sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleListProjects(ctx, sc)
		}))

	getProjectTool := mcp.NewTool("get_project",
		mcp.WithDescription("Get details of a single TickTick project"),
		mcp.WithString("projectId",
			mcp.Required(),
			mcp.Description("The ID of the project to retrieve"),
		),
	)
	s.AddTool(getProjectTool, common.InstrumentedToolHandler("get_project", instrumentation.OperationGet, sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleGetProject(ctx, request, sc)
		}))

	listTasksTool := mcp.NewTool("list_tasks",
		mcp.WithDescription("List tasks, in one project or across all projects, with optional status and due-date filters"),
		mcp.WithString("projectId",
			mcp.Description("Limit the listing to one project. Omit to list across projects."),
		),
		mcp.WithString("status",
			mcp.Description("Filter by status: 'active' or 'completed'"),
		),
		mcp.WithString("dueFilter",
			mcp.Description("Filter by due date: 'today', 'tomorrow', 'overdue' or 'this_week'"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of tasks to return (default 50)"),
		),
		mcp.WithNumber("offset",
			mcp.Description("Number of tasks to skip, for pagination"),
		),
	)
	s.AddTool(listTasksTool, common.InstrumentedToolHandler("list_tasks", instrumentation.OperationList, sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleListTasks(ctx, request, sc)
		}))

	getTaskTool := mcp.NewTool("get_task",
		mcp.WithDescription("Get details of a single task"),
		mcp.WithString("projectId",
			mcp.Required(),
			mcp.Description("The ID of the project containing the task"),
		),
		mcp.WithString("taskId",
			mcp.Required(),
			mcp.Description("The ID of the task to retrieve"),
		),
	)
	s.AddTool(getTaskTool, common.InstrumentedToolHandler("get_task", instrumentation.OperationGet, sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleGetTask(ctx, request, sc)
		}))

	return nil
}

func registerWriteTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	createTaskTool := mcp.NewTool("create_task",
		mcp.WithDescription("Create a new task in a project"),
		mcp.WithString("idempotencyKey",
			mcp.Required(),
			mcp.Description("Client-supplied key that deduplicates retried submissions (1-128 chars of [A-Za-z0-9:_-])"),
		),
		mcp.WithString("projectId",
			mcp.Required(),
			mcp.Description("The ID of the project to create the task in"),
		),
		mcp.WithString("title",
			mcp.Required(),
			mcp.Description("The task title"),
		),
		mcp.WithString("content",
			mcp.Description("Task notes/description"),
		),
		mcp.WithString("startDate",
			mcp.Description("Start date in TickTick datetime format, e.g. 2026-09-01T09:00:00+0000"),
		),
		mcp.WithString("dueDate",
			mcp.Description("Due date in TickTick datetime format, e.g. 2026-09-01T17:00:00+0000"),
		),
		mcp.WithNumber("priority",
			mcp.Description("Priority: 0 (none), 1 (low), 3 (medium) or 5 (high)"),
		),
	)
	s.AddTool(createTaskTool, common.InstrumentedToolHandler("create_task", instrumentation.OperationCreate, sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleCreateTask(ctx, request, sc)
		}))

	updateTaskTool := mcp.NewTool("update_task",
		mcp.WithDescription("Update fields of an existing task"),
		mcp.WithString("idempotencyKey",
			mcp.Required(),
			mcp.Description("Client-supplied key that deduplicates retried submissions (1-128 chars of [A-Za-z0-9:_-])"),
		),
		mcp.WithString("projectId",
			mcp.Required(),
			mcp.Description("The ID of the project containing the task"),
		),
		mcp.WithString("taskId",
			mcp.Required(),
			mcp.Description("The ID of the task to update"),
		),
		mcp.WithString("title",
			mcp.Description("New task title"),
		),
		mcp.WithString("content",
			mcp.Description("New task notes/description"),
		),
		mcp.WithString("startDate",
			mcp.Description("New start date in TickTick datetime format"),
		),
		mcp.WithString("dueDate",
			mcp.Description("New due date in TickTick datetime format"),
		),
		mcp.WithNumber("priority",
			mcp.Description("New priority: 0 (none), 1 (low), 3 (medium) or 5 (high)"),
		),
	)
	s.AddTool(updateTaskTool, common.InstrumentedToolHandler("update_task", instrumentation.OperationUpdate, sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleUpdateTask(ctx, request, sc)
		}))

	completeTaskTool := mcp.NewTool("complete_task",
		mcp.WithDescription("Mark a task as completed"),
		mcp.WithString("idempotencyKey",
			mcp.Required(),
			mcp.Description("Client-supplied key that deduplicates retried submissions (1-128 chars of [A-Za-z0-9:_-])"),
		),
		mcp.WithString("projectId",
			mcp.Required(),
			mcp.Description("The ID of the project containing the task"),
		),
		mcp.WithString("taskId",
			mcp.Required(),
			mcp.Description("The ID of the task to complete"),
		),
	)
	s.AddTool(completeTaskTool, common.InstrumentedToolHandler("complete_task", instrumentation.OperationComplete, sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleCompleteTask(ctx, request, sc)
		}))

	deleteTaskTool := mcp.NewTool("delete_task",
		mcp.WithDescription("Delete a task"),
		mcp.WithString("idempotencyKey",
			mcp.Required(),
			mcp.Description("Client-supplied key that deduplicates retried submissions (1-128 chars of [A-Za-z0-9:_-])"),
		),
		mcp.WithString("projectId",
			mcp.Required(),
			mcp.Description("The ID of the project containing the task"),
		),
		mcp.WithString("taskId",
			mcp.Required(),
			mcp.Description("The ID of the task to delete"),
		),
	)
	s.AddTool(deleteTaskTool, common.InstrumentedToolHandler("delete_task", instrumentation.OperationDelete, sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleDeleteTask(ctx, request, sc)
		}))

	return nil
}

func handleAuthStatus(ctx context.Context, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	userID, errResult := admitUser(ctx, sc)
	if errResult != nil {
		return errResult, nil
	}

	status, err := sc.ClientForUser(userID).AuthStatus(ctx)
	if err != nil {
		return common.ToolError(err), nil
	}

	payload := map[string]any{"authenticated": status.Authenticated}
	if status.Authenticated {
		payload["expired"] = status.Expired
		if !status.ExpiresAt.IsZero() {
			payload["expiresAt"] = status.ExpiresAt
		}
		if status.Scope != "" {
			payload["scope"] = status.Scope
		}
	}
	return common.ToolSuccess(payload), nil
}

func handleListProjects(ctx context.Context, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	userID, errResult := admitUser(ctx, sc)
	if errResult != nil {
		return errResult, nil
	}

	projects, err := sc.ClientForUser(userID).ListProjects(ctx)
	if err != nil {
		return common.ToolError(err), nil
	}
	return common.ToolSuccess(map[string]any{
		"projects": projects,
		"count":    len(projects),
	}), nil
}

func handleGetProject(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	userID, errResult := admitUser(ctx, sc)
	if errResult != nil {
		return errResult, nil
	}
	args := request.GetArguments()

	projectID, errResult := requireString(args, "projectId")
	if errResult != nil {
		return errResult, nil
	}

	project, err := sc.ClientForUser(userID).GetProject(ctx, projectID)
	if err != nil {
		return common.ToolError(err), nil
	}
	return common.ToolSuccess(map[string]any{"project": project}), nil
}

func handleListTasks(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	userID, errResult := admitUser(ctx, sc)
	if errResult != nil {
		return errResult, nil
	}
	args := request.GetArguments()

	opts := ticktick.ListTasksOptions{}
	if v, ok := args["projectId"].(string); ok {
		opts.ProjectID = v
	}
	if v, ok := args["status"].(string); ok && v != "" {
		if v != "active" && v != "completed" {
			return common.ToolError(apperr.Validation(
				"status must be 'active' or 'completed'",
				map[string]any{"status": v})), nil
		}
		opts.Status = v
	}
	if v, ok := args["dueFilter"].(string); ok && v != "" {
		if !ticktick.ValidDueFilter(v) {
			return common.ToolError(apperr.Validation(
				"dueFilter must be 'today', 'tomorrow', 'overdue' or 'this_week'",
				map[string]any{"dueFilter": v})), nil
		}
		opts.DueFilter = v
	}

	limit, present, errResult := optionalInt(args, "limit")
	if errResult != nil {
		return errResult, nil
	}
	if present {
		if limit <= 0 {
			return common.ToolError(apperr.Validation("limit must be positive", nil)), nil
		}
		opts.Limit = limit
	}
	offset, present, errResult := optionalInt(args, "offset")
	if errResult != nil {
		return errResult, nil
	}
	if present {
		if offset < 0 {
			return common.ToolError(apperr.Validation("offset must not be negative", nil)), nil
		}
		opts.Offset = offset
	}

	page, err := sc.ClientForUser(userID).ListTasks(ctx, opts)
	if err != nil {
		return common.ToolError(err), nil
	}
	return common.ToolSuccess(map[string]any{
		"tasks":  page.Tasks,
		"total":  page.Total,
		"limit":  page.Limit,
		"offset": page.Offset,
	}), nil
}

func handleGetTask(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	userID, errResult := admitUser(ctx, sc)
	if errResult != nil {
		return errResult, nil
	}
	args := request.GetArguments()

	projectID, errResult := requireString(args, "projectId")
	if errResult != nil {
		return errResult, nil
	}
	taskID, errResult := requireString(args, "taskId")
	if errResult != nil {
		return errResult, nil
	}

	task, err := sc.ClientForUser(userID).GetTask(ctx, projectID, taskID)
	if err != nil {
		return common.ToolError(err), nil
	}
	return common.ToolSuccess(map[string]any{"task": task}), nil
}

func handleCreateTask(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	userID, errResult := admitUser(ctx, sc)
	if errResult != nil {
		return errResult, nil
	}
	args := request.GetArguments()

	projectID, errResult := requireString(args, "projectId")
	if errResult != nil {
		return errResult, nil
	}
	if _, errResult := requireString(args, "title"); errResult != nil {
		return errResult, nil
	}
	input, errResult := taskInputFromArgs(args)
	if errResult != nil {
		return errResult, nil
	}

	if errResult := admitMutation(ctx, sc, userID, "create_task", args); errResult != nil {
		return errResult, nil
	}

	task, err := sc.ClientForUser(userID).CreateTask(ctx, projectID, input)
	if err != nil {
		return common.ToolError(err), nil
	}
	return common.ToolSuccess(map[string]any{"task": task}), nil
}

func handleUpdateTask(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	userID, errResult := admitUser(ctx, sc)
	if errResult != nil {
		return errResult, nil
	}
	args := request.GetArguments()

	projectID, errResult := requireString(args, "projectId")
	if errResult != nil {
		return errResult, nil
	}
	taskID, errResult := requireString(args, "taskId")
	if errResult != nil {
		return errResult, nil
	}
	input, errResult := taskInputFromArgs(args)
	if errResult != nil {
		return errResult, nil
	}
	if input.Title == "" && input.Content == nil && input.StartDate == nil &&
		input.DueDate == nil && input.Priority == nil {
		return common.ToolError(apperr.Validation(
			"at least one of title, content, startDate, dueDate or priority must be provided", nil)), nil
	}

	if errResult := admitMutation(ctx, sc, userID, "update_task", args); errResult != nil {
		return errResult, nil
	}

	task, err := sc.ClientForUser(userID).UpdateTask(ctx, projectID, taskID, input)
	if err != nil {
		return common.ToolError(err), nil
	}
	return common.ToolSuccess(map[string]any{"task": task}), nil
}

func handleCompleteTask(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	userID, errResult := admitUser(ctx, sc)
	if errResult != nil {
		return errResult, nil
	}
	args := request.GetArguments()

	projectID, errResult := requireString(args, "projectId")
	if errResult != nil {
		return errResult, nil
	}
	taskID, errResult := requireString(args, "taskId")
	if errResult != nil {
		return errResult, nil
	}

	if errResult := admitMutation(ctx, sc, userID, "complete_task", args); errResult != nil {
		return errResult, nil
	}

	if err := sc.ClientForUser(userID).CompleteTask(ctx, projectID, taskID); err != nil {
		return common.ToolError(err), nil
	}
	return common.ToolSuccess(map[string]any{
		"projectId": projectID,
		"taskId":    taskID,
		"completed": true,
	}), nil
}

func handleDeleteTask(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	userID, errResult := admitUser(ctx, sc)
	if errResult != nil {
		return errResult, nil
	}
	args := request.GetArguments()

	projectID, errResult := requireString(args, "projectId")
	if errResult != nil {
		return errResult, nil
	}
	taskID, errResult := requireString(args, "taskId")
	if errResult != nil {
		return errResult, nil
	}

	if errResult := admitMutation(ctx, sc, userID, "delete_task", args); errResult != nil {
		return errResult, nil
	}

	if err := sc.ClientForUser(userID).DeleteTask(ctx, projectID, taskID); err != nil {
		return common.ToolError(err), nil
	}
	return common.ToolSuccess(map[string]any{
		"projectId": projectID,
		"taskId":    taskID,
		"deleted":   true,
	}), nil
}
