package domain

// Organization roles, ordered weakest to strongest. Index comparison is the
// only sanctioned way to rank them; an unknown role ranks below viewer.
var RoleHierarchy = []string{"viewer", "member", "editor", "admin", "owner"}

// RoleIndex returns the position of role in RoleHierarchy, or -1.
func RoleIndex(role string) int {
	for i, r := range RoleHierarchy {
		if r == role {
			return i
		}
	}
	return -1
}

// HasMinimumRole reports whether role ranks at or above required.
// Unknown names on either side yield false rather than an error.
func HasMinimumRole(role, required string) bool {
	ri, qi := RoleIndex(role), RoleIndex(required)
	if ri < 0 || qi < 0 {
		return false
	}
	return ri >= qi
}

type OrganizationSettings struct {
	AICredits   int      `json:"ai_credits"`
	MaxProjects int      `json:"max_projects"`
	Features    []string `json:"features,omitempty"`
}

type OrganizationMember struct {
	UserID      string   `json:"user_id"`
	Role        string   `json:"role" enum:"owner,admin,member,viewer"`
	Permissions []string `json:"permissions,omitempty"`
	JoinedAt    string   `json:"joined_at" format:"date-time"`
}

type Organization struct {
	ID        string               `json:"id"`
	Name      string               `json:"name"`
	Slug      string               `json:"slug"`
	IsActive  bool                 `json:"is_active"`
	Settings  OrganizationSettings `json:"settings"`
	Members   []OrganizationMember `json:"members,omitempty"`
	CreatedAt string               `json:"created_at" format:"date-time"`
	UpdatedAt string               `json:"updated_at" format:"date-time"`
}

type ProjectMember struct {
	UserID  string `json:"user_id"`
	Role    string `json:"role" enum:"owner,editor,viewer"`
	AddedAt string `json:"added_at" format:"date-time"`
}

type ProjectSettings struct {
	AIModel     string `json:"ai_model,omitempty"`
	TokenBudget int    `json:"token_budget"`
	AutoRun     bool   `json:"auto_run"`
}

type Project struct {
	ID             string          `json:"id"`
	OrganizationID string          `json:"organization_id"`
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	Visibility     string          `json:"visibility" enum:"public,private,team"`
	IsActive       bool            `json:"is_active"`
	Settings       ProjectSettings `json:"settings"`
	Members        []ProjectMember `json:"members,omitempty"`
	CreatedAt      string          `json:"created_at" format:"date-time"`
	UpdatedAt      string          `json:"updated_at" format:"date-time"`
}

type AgentSettings struct {
	MaxTokens      int     `json:"max_tokens"`
	Temperature    float64 `json:"temperature"`
	AutoRun        bool    `json:"auto_run"`
	RetryAttempts  int     `json:"retry_attempts"`
	TimeoutSeconds int     `json:"timeout_seconds"`
}

type Agent struct {
	ID             string        `json:"id"`
	OrganizationID string        `json:"organization_id"`
	Name           string        `json:"name"`
	Type           string        `json:"type" enum:"coding,review,testing,documentation,planning,analysis"`
	Model          string        `json:"model"`
	SystemPrompt   string        `json:"system_prompt,omitempty"`
	Settings       AgentSettings `json:"settings"`
	IsPublic       bool          `json:"is_public"`
	IsActive       bool          `json:"is_active"`
	CreatedAt      string        `json:"created_at" format:"date-time"`
	UpdatedAt      string        `json:"updated_at" format:"date-time"`
}

type ColumnSettings struct {
	AutoRun      bool    `json:"auto_run"`
	AutoRunAgent *string `json:"auto_run_agent,omitempty"`
	TaskLimit    *int    `json:"task_limit,omitempty"`
}

type Column struct {
	ID         string         `json:"id"`
	ProjectID  string         `json:"project_id"`
	Title      string         `json:"title"`
	Position   int            `json:"position"`
	Settings   ColumnSettings `json:"settings"`
	Visibility string         `json:"visibility" enum:"public,private,team"`
	CreatedBy  string         `json:"created_by,omitempty"`
	CreatedAt  string         `json:"created_at" format:"date-time"`
	UpdatedAt  string         `json:"updated_at" format:"date-time"`
}

type AssignedAgent struct {
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name"`
}

// AgentHistoryEntry records one assignment. The history is append-only;
// entries are never removed or rewritten.
type AgentHistoryEntry struct {
	ID         int64   `json:"id"`
	TaskID     string  `json:"task_id"`
	AgentID    string  `json:"agent_id"`
	AssignedAt string  `json:"assigned_at" format:"date-time"`
	AssignedBy string  `json:"assigned_by"`
	Result     *string `json:"result,omitempty"`
}

type Task struct {
	ID                 string          `json:"id"`
	ProjectID          string          `json:"project_id"`
	ColumnID           string          `json:"column_id"`
	Title              string          `json:"title"`
	Description        string          `json:"description,omitempty"`
	Status             string          `json:"status" enum:"backlog,ready,in_progress,done,blocked,cancelled"`
	Priority           string          `json:"priority" enum:"low,medium,high,urgent"`
	Position           int             `json:"position"`
	AssignedAgents     []AssignedAgent `json:"assigned_agents,omitempty"`
	TokenEstimate      int             `json:"token_estimate"`
	ActualTokensUsed   int             `json:"actual_tokens_used"`
	ProgressPercentage int             `json:"progress_percentage" minimum:"0" maximum:"100"`
	Assignees          []string        `json:"assignees,omitempty"`
	Tags               []string        `json:"tags,omitempty"`
	Dependencies       []string        `json:"dependencies,omitempty"`
	BlockedBy          []string        `json:"blocked_by,omitempty"`
	ParentTask         *string         `json:"parent_task,omitempty"`
	CreatedBy          string          `json:"created_by,omitempty"`
	CreatedAt          string          `json:"created_at" format:"date-time"`
	UpdatedAt          string          `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
