package server

// Envelope is the uniform response body for every endpoint.
type Envelope struct {
	Success  bool           `json:"success"`
	Data     any            `json:"data,omitempty"`
	Error    *ErrorInfo     `json:"error,omitempty"`
	Message  string         `json:"message,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type ErrorInfo struct {
	Code    string         `json:"code" example:"forbidden"`
	Message string         `json:"message" example:"requires one of roles: owner, admin"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type envelopeOut struct {
	Body Envelope `json:"body"`
}

func ok(data any) *envelopeOut {
	return &envelopeOut{Body: Envelope{Success: true, Data: data}}
}

func okMsg(data any, msg string) *envelopeOut {
	return &envelopeOut{Body: Envelope{Success: true, Data: data, Message: msg}}
}

type CreateOrganizationRequest struct {
	Name        string   `json:"name" minLength:"1"`
	Slug        string   `json:"slug" minLength:"1"`
	AICredits   int      `json:"ai_credits,omitempty"`
	MaxProjects int      `json:"max_projects,omitempty"`
	Features    []string `json:"features,omitempty"`
}

type UpdateOrganizationRequest struct {
	Name        *string   `json:"name,omitempty"`
	AICredits   *int      `json:"ai_credits,omitempty"`
	MaxProjects *int      `json:"max_projects,omitempty"`
	Features    *[]string `json:"features,omitempty"`
}

type AddMemberRequest struct {
	UserID string `json:"user_id" minLength:"1"`
	Role   string `json:"role" minLength:"1"`
}

type CreateProjectRequest struct {
	OrganizationID string `json:"organization_id" minLength:"1"`
	Name           string `json:"name" minLength:"1"`
	Description    string `json:"description,omitempty"`
	Visibility     string `json:"visibility,omitempty" enum:"public,private,team"`
	AIModel        string `json:"ai_model,omitempty"`
	TokenBudget    int    `json:"token_budget,omitempty"`
	AutoRun        bool   `json:"auto_run,omitempty"`
}

type UpdateProjectRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Visibility  *string `json:"visibility,omitempty"`
	AIModel     *string `json:"ai_model,omitempty"`
	TokenBudget *int    `json:"token_budget,omitempty"`
	AutoRun     *bool   `json:"auto_run,omitempty"`
}

type CreateAgentRequest struct {
	OrganizationID string  `json:"organization_id" minLength:"1"`
	Name           string  `json:"name" minLength:"1"`
	Type           string  `json:"type" enum:"coding,review,testing,documentation,planning,analysis"`
	Model          string  `json:"model" minLength:"1"`
	SystemPrompt   string  `json:"system_prompt,omitempty"`
	MaxTokens      int     `json:"max_tokens,omitempty"`
	Temperature    float64 `json:"temperature,omitempty"`
	AutoRun        bool    `json:"auto_run,omitempty"`
	RetryAttempts  int     `json:"retry_attempts,omitempty"`
	TimeoutSeconds int     `json:"timeout_seconds,omitempty"`
	IsPublic       bool    `json:"is_public,omitempty"`
}

type UpdateAgentRequest struct {
	Name           *string  `json:"name,omitempty"`
	Model          *string  `json:"model,omitempty"`
	SystemPrompt   *string  `json:"system_prompt,omitempty"`
	MaxTokens      *int     `json:"max_tokens,omitempty"`
	Temperature    *float64 `json:"temperature,omitempty"`
	AutoRun        *bool    `json:"auto_run,omitempty"`
	RetryAttempts  *int     `json:"retry_attempts,omitempty"`
	TimeoutSeconds *int     `json:"timeout_seconds,omitempty"`
	IsPublic       *bool    `json:"is_public,omitempty"`
}

type CreateColumnRequest struct {
	Title        string  `json:"title" minLength:"1"`
	Visibility   string  `json:"visibility,omitempty"`
	AutoRun      bool    `json:"auto_run,omitempty"`
	AutoRunAgent *string `json:"auto_run_agent,omitempty"`
	TaskLimit    *int    `json:"task_limit,omitempty"`
}

type UpdateColumnRequest struct {
	Title        *string `json:"title,omitempty"`
	Position     *int    `json:"position,omitempty"`
	Visibility   *string `json:"visibility,omitempty"`
	AutoRun      *bool   `json:"auto_run,omitempty"`
	AutoRunAgent *string `json:"auto_run_agent,omitempty"`
	TaskLimit    *int    `json:"task_limit,omitempty"`
}

type CreateTaskRequest struct {
	ColumnID      string   `json:"column_id" minLength:"1"`
	Title         string   `json:"title" minLength:"1"`
	Description   string   `json:"description,omitempty"`
	Status        string   `json:"status,omitempty"`
	Priority      string   `json:"priority,omitempty"`
	TokenEstimate int      `json:"token_estimate,omitempty"`
	Assignees     []string `json:"assignees,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	Dependencies  []string `json:"dependencies,omitempty"`
	ParentTask    *string  `json:"parent_task,omitempty"`
}

type UpdateTaskRequest struct {
	Title              *string   `json:"title,omitempty"`
	Description        *string   `json:"description,omitempty"`
	Status             *string   `json:"status,omitempty"`
	Priority           *string   `json:"priority,omitempty"`
	TokenEstimate      *int      `json:"token_estimate,omitempty"`
	ActualTokensUsed   *int      `json:"actual_tokens_used,omitempty"`
	ProgressPercentage *int      `json:"progress_percentage,omitempty"`
	Assignees          *[]string `json:"assignees,omitempty"`
	Tags               *[]string `json:"tags,omitempty"`
	Dependencies       *[]string `json:"dependencies,omitempty"`
	BlockedBy          *[]string `json:"blocked_by,omitempty"`
}

type MoveTaskRequest struct {
	ColumnID string `json:"column_id" minLength:"1"`
	Position *int   `json:"position,omitempty"`
}

type AssignAgentRequest struct {
	AgentID string `json:"agent_id" minLength:"1"`
}

// AssistantRequest is the orchestration entry body. The user identity comes
// from the bearer token, never from the body.
type AssistantRequest struct {
	Input          string            `json:"input" minLength:"1" maxLength:"2000"`
	ProjectID      string            `json:"projectId" minLength:"1"`
	OrganizationID string            `json:"organizationId,omitempty"`
	AgentID        string            `json:"agentId,omitempty"`
	ConversationID string            `json:"conversationId,omitempty"`
	Options        *AssistantOptions `json:"options,omitempty"`
}

type AssistantOptions struct {
	AutoAssignAgent bool     `json:"autoAssignAgent,omitempty"`
	CreateInColumn  string   `json:"createInColumn,omitempty"`
	MaxTokens       int      `json:"maxTokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	EnableTools     *bool    `json:"enableTools,omitempty"`
	Priority        string   `json:"priority,omitempty"`
}
