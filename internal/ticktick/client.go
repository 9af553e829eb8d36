// Package ticktick implements the upstream API client and token lifecycle:
// lazy hydration from the credential store, proactive and reactive refresh
// with a cross-instance lock, bounded retries with jittered backoff, and a
// short-lived active-task-id cache that lets deletes win over stale
// upstream reads.
package ticktick

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/teemow/ticktick-mcp/internal/apperr"
	"github.com/teemow/ticktick-mcp/internal/instrumentation"
	"github.com/teemow/ticktick-mcp/internal/logging"
	"github.com/teemow/ticktick-mcp/internal/store"
)

// DefaultAPIBaseURL is the upstream Open API root.
const DefaultAPIBaseURL = "https://api.ticktick.com/open/v1"

const (
	apiMaxAttempts = 3
	apiTimeout     = 8 * time.Second
	apiBackoffBase = 150 * time.Millisecond

	// Active-id cache TTL. Short on purpose: it only needs to cover the
	// window between a mutation and the next read.
	activeIDsTTL = 5 * time.Second

	refreshLockTTL  = 30 * time.Second
	refreshLockWait = 300 * time.Millisecond

	// ListTasks without a project id fans out across at most this many
	// projects.
	maxFanOutProjects = 25

	defaultListLimit = 50
)

// ClientConfig configures a per-user API client.
type ClientConfig struct {
	UserID     string
	Store      store.Store
	Vault      *TokenVault
	Gateway    *Gateway
	BaseURL    string // defaults to DefaultAPIBaseURL
	HTTPClient *http.Client
	Logger     *slog.Logger
	Metrics    *instrumentation.Metrics

	// Test overrides.
	BackoffBase time.Duration
	LockWait    time.Duration
}

// Client is the authenticated upstream API client for one local user. A
// single instance may serve concurrent requests for that user; all mutable
// state is guarded by mu. Cross-instance coordination happens only through
// the credential store.
type Client struct {
	userID      string
	kv          store.Store
	vault       *TokenVault
	gateway     *Gateway
	baseURL     string
	httpClient  *http.Client
	logger      *slog.Logger
	metrics     *instrumentation.Metrics
	backoffBase time.Duration
	lockWait    time.Duration
	now         func() time.Time

	mu        sync.Mutex
	hydrated  bool
	tokens    *TokenSet
	activeIDs map[string]*activeIDEntry
}

type activeIDEntry struct {
	ids       map[string]struct{}
	fetchedAt time.Time
}

// NewClient creates a Client for cfg.UserID.
func NewClient(cfg ClientConfig) *Client {
	c := &Client{
		userID:      cfg.UserID,
		kv:          cfg.Store,
		vault:       cfg.Vault,
		gateway:     cfg.Gateway,
		baseURL:     cfg.BaseURL,
		httpClient:  cfg.HTTPClient,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		backoffBase: cfg.BackoffBase,
		lockWait:    cfg.LockWait,
		now:         time.Now,
		activeIDs:   make(map[string]*activeIDEntry),
	}
	if c.baseURL == "" {
		c.baseURL = DefaultAPIBaseURL
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.backoffBase <= 0 {
		c.backoffBase = apiBackoffBase
	}
	if c.lockWait <= 0 {
		c.lockWait = refreshLockWait
	}
	return c
}

// hydrate loads the persisted token set once per instance lifetime.
func (c *Client) hydrate(ctx context.Context) error {
	c.mu.Lock()
	done := c.hydrated
	c.mu.Unlock()
	if done {
		return nil
	}
	return c.rehydrate(ctx)
}

// rehydrate re-reads the store unconditionally, adopting whatever a
// concurrent instance may have written.
func (c *Client) rehydrate(ctx context.Context) error {
	persisted, err := c.vault.Load(ctx, c.userID)
	if err != nil {
		return apperr.Internal(err)
	}
	c.mu.Lock()
	c.hydrated = true
	if persisted != nil {
		c.tokens = persisted.TokenSet()
	} else {
		c.tokens = nil
	}
	c.mu.Unlock()
	return nil
}

func (c *Client) currentTokens() *TokenSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tokens == nil {
		return nil
	}
	ts := *c.tokens
	return &ts
}

// ensureToken hydrates and refreshes proactively when the known expiry
// has passed. No token at all fails fast without a network call.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	if err := c.hydrate(ctx); err != nil {
		return "", err
	}
	ts := c.currentTokens()
	if ts == nil || ts.AccessToken == "" {
		return "", apperr.AuthRequired("")
	}
	if ts.Expired(c.now()) {
		if err := c.refreshTokens(ctx); err != nil {
			return "", err
		}
		ts = c.currentTokens()
		if ts == nil || ts.AccessToken == "" {
			return "", apperr.AuthRequired("")
		}
	}
	return ts.AccessToken, nil
}

// refreshTokens performs one refresh round trip, coordinated across
// instances via a short-TTL advisory lock in the credential store. When
// the lock is held elsewhere, it waits briefly, re-hydrates, and treats a
// changed token as "someone else refreshed for us".
func (c *Client) refreshTokens(ctx context.Context) error {
	before := c.currentTokens()
	if before == nil || before.RefreshToken == "" {
		return apperr.AuthRequired("no refresh token stored, re-authorization required")
	}

	lockKey := store.RefreshLockKey(c.userID)
	acquired, err := c.kv.SetNX(ctx, lockKey, []byte("1"), refreshLockTTL)
	if err != nil {
		return apperr.Internal(fmt.Errorf("failed to acquire refresh lock: %w", err))
	}
	if !acquired {
		if err := sleepContext(ctx, c.lockWait); err != nil {
			return apperr.Internal(err)
		}
		if err := c.rehydrate(ctx); err != nil {
			return err
		}
		if after := c.currentTokens(); after != nil && after.AccessToken != before.AccessToken {
			c.logger.Debug("refresh performed by concurrent instance",
				logging.UserHash(c.userID))
			return nil
		}
		// Lock holder made no visible progress; refresh ourselves without
		// the lock rather than wedge the caller.
	} else {
		defer func() {
			if err := c.kv.Delete(context.WithoutCancel(ctx), lockKey); err != nil {
				c.logger.Warn("failed to release refresh lock", logging.Err(err))
			}
		}()
	}

	refreshed, err := c.gateway.Refresh(ctx, before.RefreshToken)
	if err != nil {
		c.recordRefresh(ctx, err)
		return err
	}
	// Rotation: a missing refresh token in the response keeps the old one.
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = before.RefreshToken
	}
	if err := c.vault.Save(ctx, c.userID, refreshed); err != nil {
		return apperr.Internal(err)
	}
	c.mu.Lock()
	c.tokens = refreshed
	c.mu.Unlock()
	c.recordRefresh(ctx, nil)
	c.logger.Info("refreshed upstream token", logging.UserHash(c.userID))
	return nil
}

// recordRefresh classifies a refresh round trip for metrics. A rejected
// refresh token counts as expired rather than a transient failure.
func (c *Client) recordRefresh(ctx context.Context, err error) {
	if c.metrics == nil {
		return
	}
	switch {
	case err == nil:
		c.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.OAuthResultSuccess)
	case apperr.Is(err, apperr.CodeAuthRequired):
		c.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.OAuthResultExpired)
	default:
		c.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.OAuthResultFailure)
	}
}

// AuthStatus describes the stored credential state without triggering a
// refresh or any upstream call.
type AuthStatus struct {
	Authenticated bool      `json:"authenticated"`
	ExpiresAt     time.Time `json:"expiresAt,omitzero"`
	Expired       bool      `json:"expired,omitempty"`
	Scope         string    `json:"scope,omitempty"`
}

// AuthStatus reports whether a token set exists for the user.
func (c *Client) AuthStatus(ctx context.Context) (*AuthStatus, error) {
	if err := c.hydrate(ctx); err != nil {
		return nil, err
	}
	ts := c.currentTokens()
	if ts == nil || ts.AccessToken == "" {
		return &AuthStatus{Authenticated: false}, nil
	}
	return &AuthStatus{
		Authenticated: true,
		ExpiresAt:     ts.ExpiresAt,
		Expired:       ts.Expired(c.now()),
		Scope:         ts.Scope,
	}, nil
}

// callAPI runs one logical API operation, wrapping the request loop in a
// client span and recording the operation outcome.
func (c *Client) callAPI(ctx context.Context, operation, method, path string, body, out any) error {
	start := c.now()
	spanCtx, span := instrumentation.StartUpstreamSpan(ctx, operation)
	defer span.End()

	err := c.callWithRetry(spanCtx, method, path, body, out)
	if err != nil {
		instrumentation.SetSpanError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	if c.metrics != nil {
		status := instrumentation.StatusSuccess
		if err != nil {
			status = instrumentation.StatusError
		}
		c.metrics.RecordAPIOperation(ctx, operation, status, c.now().Sub(start))
	}
	return err
}

// callWithRetry issues an authenticated request with bounded retries. 401
// gets exactly one refresh-and-retry; 429/5xx honor Retry-After or jittered
// backoff; 204 or an empty body leaves out untouched.
func (c *Client) callWithRetry(ctx context.Context, method, path string, body, out any) error {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return err
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return apperr.Internal(fmt.Errorf("failed to encode request body: %w", err))
		}
	}

	attempt := 0
	refreshedAfterUnauthorized := false
	var lastErr error

	for attempt < apiMaxAttempts {
		attempt++

		status, retryHeader, respBody, err := c.do(ctx, method, path, payload, token)
		if err != nil {
			if ctx.Err() != nil {
				return apperr.Timeout(method + " " + path)
			}
			lastErr = err
			c.logger.Warn("upstream request failed",
				logging.Operation(method+" "+path),
				slog.Int(logging.KeyAttempt, attempt),
				logging.Err(err))
			if attempt < apiMaxAttempts {
				if err := sleepContext(ctx, backoffDelay(c.backoffBase, attempt)); err != nil {
					return apperr.Timeout(method + " " + path)
				}
				continue
			}
			return apperr.Network(lastErr)
		}

		switch {
		case status == http.StatusUnauthorized:
			if refreshedAfterUnauthorized {
				return apperr.AuthRequired("upstream rejected the token after refresh, re-authorization required")
			}
			refreshedAfterUnauthorized = true
			if err := c.refreshTokens(ctx); err != nil {
				return err
			}
			token, err = c.ensureToken(ctx)
			if err != nil {
				return err
			}
			// The single post-refresh retry does not consume the budget.
			attempt--
			continue

		case status == http.StatusTooManyRequests || status >= 500:
			if attempt < apiMaxAttempts {
				delay := retryAfterOr(retryHeader, backoffDelay(c.backoffBase, attempt))
				if err := sleepContext(ctx, delay); err != nil {
					return apperr.Timeout(method + " " + path)
				}
				continue
			}
			if status == http.StatusTooManyRequests {
				return apperr.UpstreamRateLimited("")
			}
			return apperr.UpstreamAPI(status,
				fmt.Sprintf("upstream returned %d for %s %s", status, method, path))

		case status < 200 || status >= 300:
			return apperr.UpstreamAPI(status,
				fmt.Sprintf("upstream returned %d for %s %s: %s", status, method, path, truncate(respBody, 256)))
		}

		if status == http.StatusNoContent || len(bytes.TrimSpace(respBody)) == 0 || out == nil {
			return nil
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return apperr.UpstreamAPI(http.StatusBadGateway,
				fmt.Sprintf("unparseable upstream response for %s %s", method, path))
		}
		return nil
	}

	return apperr.Network(lastErr)
}

// do issues a single attempt with its own timeout.
func (c *Client) do(ctx context.Context, method, path string, payload []byte, token string) (int, string, []byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, apiTimeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, "", nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, "", nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return 0, "", nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, resp.Header.Get("Retry-After"), body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// ListProjects returns the user's projects.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var projects []Project
	if err := c.callAPI(ctx, instrumentation.OperationList, http.MethodGet, "/project", nil, &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

// GetProject returns one project by id.
func (c *Client) GetProject(ctx context.Context, projectID string) (*Project, error) {
	var project Project
	if err := c.callAPI(ctx, instrumentation.OperationGet, http.MethodGet, "/project/"+projectID, nil, &project); err != nil {
		return nil, err
	}
	return &project, nil
}

// fetchProjectTasks returns all tasks of a project via the project-data
// endpoint.
func (c *Client) fetchProjectTasks(ctx context.Context, projectID string) ([]Task, error) {
	var data projectData
	if err := c.callAPI(ctx, instrumentation.OperationList, http.MethodGet, "/project/"+projectID+"/data", nil, &data); err != nil {
		return nil, err
	}
	return data.Tasks, nil
}

// GetActiveTaskIDs returns the set of active task ids for a project. The
// second return value reports whether the set came from the cache; callers
// deciding not-found must treat a cached miss as non-authoritative and
// force one refresh.
func (c *Client) GetActiveTaskIDs(ctx context.Context, projectID string, forceRefresh bool) (map[string]struct{}, bool, error) {
	now := c.now()
	if !forceRefresh {
		c.mu.Lock()
		entry, ok := c.activeIDs[projectID]
		if ok && now.Sub(entry.fetchedAt) < activeIDsTTL {
			ids := make(map[string]struct{}, len(entry.ids))
			for id := range entry.ids {
				ids[id] = struct{}{}
			}
			c.mu.Unlock()
			return ids, true, nil
		}
		c.mu.Unlock()
	}

	tasks, err := c.fetchProjectTasks(ctx, projectID)
	if err != nil {
		return nil, false, err
	}
	ids := make(map[string]struct{}, len(tasks))
	for i := range tasks {
		if tasks[i].Active() {
			ids[tasks[i].ID] = struct{}{}
		}
	}
	c.mu.Lock()
	c.activeIDs[projectID] = &activeIDEntry{ids: ids, fetchedAt: c.now()}
	c.mu.Unlock()

	out := make(map[string]struct{}, len(ids))
	for id := range ids {
		out[id] = struct{}{}
	}
	return out, false, nil
}

// invalidateActiveIDs drops the cached set so the next read reflects a
// just-applied mutation instead of racing the TTL window.
func (c *Client) invalidateActiveIDs(projectID string) {
	c.mu.Lock()
	delete(c.activeIDs, projectID)
	c.mu.Unlock()
}

// GetTask fetches a task. For a task the upstream reports as active, the
// id must also be present in the active set: the detail endpoint serves
// stale data for just-deleted tasks, and the active set is the arbiter. A
// miss against a cached set forces one refresh before concluding
// not-found; a miss against a fresh set is authoritative. Completed tasks
// bypass the membership check.
func (c *Client) GetTask(ctx context.Context, projectID, taskID string) (*Task, error) {
	var task Task
	err := c.callAPI(ctx, instrumentation.OperationGet, http.MethodGet, "/project/"+projectID+"/task/"+taskID, nil, &task)
	if err != nil {
		if ae := apperr.From(err); ae.Code == apperr.CodeUpstreamAPI && ae.Status == http.StatusNotFound {
			return nil, apperr.TaskNotFound(projectID, taskID)
		}
		return nil, err
	}
	if task.ID == "" {
		return nil, apperr.TaskNotFound(projectID, taskID)
	}
	if !task.Active() {
		return &task, nil
	}

	ids, fromCache, err := c.GetActiveTaskIDs(ctx, projectID, false)
	if err != nil {
		return nil, err
	}
	if _, ok := ids[taskID]; ok {
		return &task, nil
	}
	if fromCache {
		ids, _, err = c.GetActiveTaskIDs(ctx, projectID, true)
		if err != nil {
			return nil, err
		}
		if _, ok := ids[taskID]; ok {
			return &task, nil
		}
	}
	return nil, apperr.TaskNotFound(projectID, taskID)
}

// ListTasksOptions filters and paginates ListTasks.
type ListTasksOptions struct {
	ProjectID string
	Status    string // "", "active" or "completed"
	DueFilter string // "", "today", "tomorrow", "overdue", "this_week"
	Limit     int
	Offset    int
}

// ListTasks lists tasks in one project, or across the first
// maxFanOutProjects projects when no project id is given. A project whose
// fetch fails during fan-out is skipped rather than failing the listing.
func (c *Client) ListTasks(ctx context.Context, opts ListTasksOptions) (*TaskPage, error) {
	var tasks []Task
	if opts.ProjectID != "" {
		var err error
		tasks, err = c.fetchProjectTasks(ctx, opts.ProjectID)
		if err != nil {
			return nil, err
		}
	} else {
		projects, err := c.ListProjects(ctx)
		if err != nil {
			return nil, err
		}
		if len(projects) > maxFanOutProjects {
			projects = projects[:maxFanOutProjects]
		}
		for i := range projects {
			projectTasks, err := c.fetchProjectTasks(ctx, projects[i].ID)
			if err != nil {
				if apperr.Is(err, apperr.CodeAuthRequired) {
					return nil, err
				}
				c.logger.Warn("skipping project during task listing",
					logging.ProjectID(projects[i].ID),
					logging.Err(err))
				continue
			}
			tasks = append(tasks, projectTasks...)
		}
	}

	filtered := tasks[:0:0]
	now := c.now()
	for i := range tasks {
		t := &tasks[i]
		switch opts.Status {
		case "active":
			if !t.Active() {
				continue
			}
		case "completed":
			if t.Active() {
				continue
			}
		}
		if opts.DueFilter != "" && !matchesDueFilter(t, opts.DueFilter, now) {
			continue
		}
		filtered = append(filtered, *t)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].SortOrder != filtered[j].SortOrder {
			return filtered[i].SortOrder < filtered[j].SortOrder
		}
		return filtered[i].Title < filtered[j].Title
	})

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	total := len(filtered)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	return &TaskPage{
		Tasks:  filtered[offset:end],
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}, nil
}

// CreateTask creates a task in a project.
func (c *Client) CreateTask(ctx context.Context, projectID string, input TaskInput) (*Task, error) {
	body := map[string]any{
		"projectId": projectID,
		"title":     input.Title,
	}
	applyOptionalFields(body, input)
	var task Task
	if err := c.callAPI(ctx, instrumentation.OperationCreate, http.MethodPost, "/task", body, &task); err != nil {
		return nil, err
	}
	c.invalidateActiveIDs(projectID)
	return &task, nil
}

// UpdateTask updates fields of an existing task.
func (c *Client) UpdateTask(ctx context.Context, projectID, taskID string, input TaskInput) (*Task, error) {
	body := map[string]any{
		"id":        taskID,
		"projectId": projectID,
	}
	if input.Title != "" {
		body["title"] = input.Title
	}
	applyOptionalFields(body, input)
	var task Task
	if err := c.callAPI(ctx, instrumentation.OperationUpdate, http.MethodPost, "/task/"+taskID, body, &task); err != nil {
		return nil, err
	}
	c.invalidateActiveIDs(projectID)
	return &task, nil
}

// CompleteTask marks a task completed.
func (c *Client) CompleteTask(ctx context.Context, projectID, taskID string) error {
	path := "/project/" + projectID + "/task/" + taskID + "/complete"
	if err := c.callAPI(ctx, instrumentation.OperationComplete, http.MethodPost, path, nil, nil); err != nil {
		return err
	}
	c.invalidateActiveIDs(projectID)
	return nil
}

// DeleteTask deletes a task.
func (c *Client) DeleteTask(ctx context.Context, projectID, taskID string) error {
	path := "/project/" + projectID + "/task/" + taskID
	if err := c.callAPI(ctx, instrumentation.OperationDelete, http.MethodDelete, path, nil, nil); err != nil {
		return err
	}
	c.invalidateActiveIDs(projectID)
	return nil
}

func applyOptionalFields(body map[string]any, input TaskInput) {
	if input.Content != nil {
		body["content"] = *input.Content
	}
	if input.StartDate != nil {
		body["startDate"] = *input.StartDate
	}
	if input.DueDate != nil {
		body["dueDate"] = *input.DueDate
	}
	if input.Priority != nil {
		body["priority"] = *input.Priority
	}
}
