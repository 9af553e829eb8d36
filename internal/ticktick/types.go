package ticktick

import "time"

// Task status values used by the upstream API.
const (
	StatusActive    = 0
	StatusCompleted = 2
)

// Valid task priorities. The upstream accepts only this enumerated set.
var ValidPriorities = []int{0, 1, 3, 5}

// Project is an upstream project (list).
type Project struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Color     string `json:"color,omitempty"`
	SortOrder int64  `json:"sortOrder,omitempty"`
	ViewMode  string `json:"viewMode,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Closed    bool   `json:"closed,omitempty"`
}

// Task is an upstream task. Date fields are the upstream's own
// timezone-qualified strings and are passed through unmodified; TimeZone is
// an IANA zone name the due-date filters interpret them in.
type Task struct {
	ID            string   `json:"id"`
	ProjectID     string   `json:"projectId"`
	Title         string   `json:"title"`
	Content       string   `json:"content,omitempty"`
	StartDate     string   `json:"startDate,omitempty"`
	DueDate       string   `json:"dueDate,omitempty"`
	TimeZone      string   `json:"timeZone,omitempty"`
	IsAllDay      bool     `json:"isAllDay,omitempty"`
	Priority      int      `json:"priority"`
	Status        int      `json:"status"`
	CompletedTime string   `json:"completedTime,omitempty"`
	SortOrder     int64    `json:"sortOrder,omitempty"`
	Tags          []string `json:"tags,omitempty"`
}

// Active reports whether the task counts as active (not completed). The
// upstream omits status on some payloads; an absent status decodes to 0
// and is treated as active.
func (t *Task) Active() bool {
	return t.Status == StatusActive
}

// projectData is the upstream "project with tasks" payload.
type projectData struct {
	Project *Project `json:"project"`
	Tasks   []Task   `json:"tasks"`
}

// TaskInput carries the writable task fields for create and update calls.
// Nil pointers mean "leave unset".
type TaskInput struct {
	Title     string  `json:"title,omitempty"`
	Content   *string `json:"content,omitempty"`
	StartDate *string `json:"startDate,omitempty"`
	DueDate   *string `json:"dueDate,omitempty"`
	Priority  *int    `json:"priority,omitempty"`
}

// TaskPage is one page of a task listing.
type TaskPage struct {
	Tasks  []Task `json:"tasks"`
	Total  int    `json:"total"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

// TokenSet is the normalized result of a token exchange or refresh.
type TokenSet struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt,omitzero"`
	Scope        string    `json:"scope,omitempty"`
}

// Expired reports whether the access token's known expiry has passed.
// Tokens with no known expiry never report expired.
func (ts *TokenSet) Expired(now time.Time) bool {
	return !ts.ExpiresAt.IsZero() && now.After(ts.ExpiresAt)
}

// PersistedTokenSet is the stored form of a TokenSet, written after every
// successful exchange or refresh.
type PersistedTokenSet struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt,omitzero"`
	Scope        string    `json:"scope,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// TokenSet converts the persisted form back to the in-memory shape.
func (p *PersistedTokenSet) TokenSet() *TokenSet {
	return &TokenSet{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		ExpiresAt:    p.ExpiresAt,
		Scope:        p.Scope,
	}
}
