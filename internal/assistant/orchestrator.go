// Package assistant turns free-form user input into gated tool executions:
// classify intent, present the tool catalog to the model provider, run the
// proposed calls in order, aggregate the outcome.
package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"boardflow/internal/config"
	"boardflow/internal/domain"
	"boardflow/internal/engine"
	"boardflow/internal/engine/auth"
)

// ValidationError aborts a request before any tool executes.
type ValidationError struct{ Msg string }

func (e ValidationError) Error() string { return e.Msg }

type Options struct {
	AutoAssignAgent bool     `json:"autoAssignAgent,omitempty"`
	CreateInColumn  string   `json:"createInColumn,omitempty"`
	MaxTokens       int      `json:"maxTokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	EnableTools     *bool    `json:"enableTools,omitempty"`
	Priority        string   `json:"priority,omitempty"`
}

type Request struct {
	Input          string  `json:"input"`
	UserID         string  `json:"userId"`
	ProjectID      string  `json:"projectId"`
	OrganizationID string  `json:"organizationId"`
	AgentID        string  `json:"agentId,omitempty"`
	ConversationID string  `json:"conversationId,omitempty"`
	Options        Options `json:"options,omitempty"`
}

type Response struct {
	Type            string           `json:"type" enum:"general_answer,task_creation,task_management,agent_assignment,project_management,error,tool_execution"`
	Message         string           `json:"message"`
	TokensUsed      int              `json:"tokensUsed"`
	ExecutionTime   int64            `json:"executionTime"`
	CreatedTasks    []domain.Task    `json:"createdTasks,omitempty"`
	CreatedColumns  []domain.Column  `json:"createdColumns,omitempty"`
	CreatedProjects []domain.Project `json:"createdProjects,omitempty"`
	UpdatedTasks    []domain.Task    `json:"updatedTasks,omitempty"`
	UpdatedColumns  []domain.Column  `json:"updatedColumns,omitempty"`
	ToolResults     []ToolResult     `json:"toolResults,omitempty"`
	Suggestions     []string         `json:"suggestions,omitempty"`
	Confidence      float64          `json:"confidence,omitempty"`
	FollowUpActions []string         `json:"followUpActions,omitempty"`
}

type Orchestrator struct {
	Engine     engine.Engine
	Provider   *Provider
	Classifier *Classifier
	Tools      *Toolset
	Logger     *slog.Logger
	Config     config.AIConfig
	Now        func() time.Time
}

func NewOrchestrator(eng engine.Engine, cfg config.AIConfig, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	provider := NewProvider(cfg)
	return &Orchestrator{
		Engine:   eng,
		Provider: provider,
		Classifier: &Classifier{
			Provider:    provider,
			MaxTokens:   cfg.ClassifierMaxTokens,
			Temperature: cfg.Temperature,
		},
		Tools:  NewToolset(eng),
		Logger: logger,
		Config: cfg,
		Now:    time.Now,
	}
}

// Handle runs one orchestration turn. Authorization and validation failures
// return errors; provider failures after that point degrade the response
// instead, except rate-limit and credential errors which pass through.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (*Response, error) {
	start := o.now()

	input := strings.TrimSpace(req.Input)
	if len(input) == 0 || len(input) > 2000 {
		return nil, ValidationError{Msg: "input must be 1..2000 characters"}
	}

	acc, err := o.Engine.Gate.ResolveAccess(ctx, auth.KindProject, req.ProjectID, req.UserID)
	if err != nil {
		return nil, err
	}
	if req.OrganizationID == "" {
		req.OrganizationID = acc.Organization.ID
	}

	counts, columns, err := o.projectContext(ctx, req)
	if err != nil {
		return nil, err
	}

	intent := o.Classifier.Classify(ctx, input, counts)
	if intent.Degraded {
		o.Logger.Warn("intent classifier degraded to keyword fallback",
			"user_id", req.UserID, "project_id", req.ProjectID, "intent", intent.Primary)
	} else {
		o.Logger.Info("intent classified",
			"user_id", req.UserID, "project_id", req.ProjectID,
			"intent", intent.Primary, "confidence", intent.Confidence)
	}

	enableTools := req.Options.EnableTools == nil || *req.Options.EnableTools
	var schemas []map[string]any
	if enableTools {
		schemas = o.Tools.JSONSchemas()
	}

	maxTokens := req.Options.MaxTokens
	if maxTokens <= 0 {
		maxTokens = o.Config.MaxTokens
	}
	temperature := o.Config.Temperature
	if req.Options.Temperature != nil {
		temperature = *req.Options.Temperature
	}

	maxRounds := o.Config.MaxToolRounds
	if maxRounds <= 0 {
		maxRounds = 1
	}

	resp := &Response{
		Confidence:  intent.Confidence,
		Suggestions: suggestionsFor(intent.Primary),
	}
	ec := ExecContext{UserID: req.UserID, ProjectID: req.ProjectID, OrganizationID: req.OrganizationID}
	system := o.systemPrompt(req, counts, columns)
	roundInput := input
	for round := 1; ; round++ {
		chat, err := o.Provider.Chat(ctx, ChatRequest{
			System:      system,
			Input:       roundInput,
			Tools:       schemas,
			MaxTokens:   maxTokens,
			Temperature: temperature,
		})
		if err != nil {
			if round > 1 {
				// Earlier rounds already mutated the board; keep their work.
				o.Logger.Warn("follow-up provider round failed, keeping completed work",
					"user_id", req.UserID, "project_id", req.ProjectID, "round", round, "error", err)
				break
			}
			switch err.(type) {
			case RateLimitError, PermissionError:
				return nil, err
			}
			o.Logger.Warn("provider call failed, degrading response",
				"user_id", req.UserID, "project_id", req.ProjectID, "error", err)
			return &Response{
				Type:          "general_answer",
				Message:       "I could not reach the model provider just now. Please try again in a moment.",
				TokensUsed:    0,
				ExecutionTime: o.since(start),
				Confidence:    intent.Confidence,
				Suggestions:   suggestionsFor(intent.Primary),
			}, nil
		}

		resp.TokensUsed += chat.TokensUsed
		if chat.Text != "" {
			if resp.Message != "" {
				resp.Message += "\n"
			}
			resp.Message += chat.Text
		}

		ran := 0
		for _, call := range chat.ToolCalls {
			args := map[string]any{}
			if len(call.RawArgs) > 0 {
				if err := json.Unmarshal(call.RawArgs, &args); err != nil {
					o.Logger.Warn("skipping tool call with malformed arguments",
						"tool", call.Name, "error", err)
					continue
				}
			}
			if req.Options.CreateInColumn != "" && (call.Name == "create_task" || call.Name == "move_task") {
				if _, ok := args["column_id"]; !ok {
					args["column_id"] = req.Options.CreateInColumn
				}
			}
			result := o.Tools.ExecuteTool(ctx, call.Name, args, ec)
			resp.ToolResults = append(resp.ToolResults, result)
			o.collect(resp, result)
			ran++
			if result.Success {
				resp.Message += fmt.Sprintf("\n[%s: ok]", call.Name)
			} else {
				resp.Message += fmt.Sprintf("\n[%s: failed: %s]", call.Name, result.Error)
				o.Logger.Warn("tool execution failed", "tool", call.Name, "error", result.Error)
			}
		}
		if ran == 0 || round >= maxRounds {
			break
		}
		roundInput = followUpInput(input, resp.ToolResults)
	}

	resp.Type = responseType(intent.Primary)
	resp.FollowUpActions = followUps(resp)
	resp.ExecutionTime = o.since(start)
	return resp, nil
}

func (o *Orchestrator) projectContext(ctx context.Context, req Request) (ContextCounts, []domain.Column, error) {
	var counts ContextCounts
	var err error
	if counts.Tasks, err = o.Engine.Repo.CountTasks(ctx, req.ProjectID); err != nil {
		return counts, nil, err
	}
	columns, err := o.Engine.Repo.ListColumns(ctx, req.ProjectID)
	if err != nil {
		return counts, nil, err
	}
	counts.Columns = len(columns)
	if req.OrganizationID != "" {
		if counts.Agents, err = o.Engine.Repo.CountAgentsByOrganization(ctx, req.OrganizationID); err != nil {
			return counts, nil, err
		}
	}
	return counts, columns, nil
}

// systemPrompt grounds the model in the board's current shape without
// dumping the data set.
func (o *Orchestrator) systemPrompt(req Request, counts ContextCounts, columns []domain.Column) string {
	names := make([]string, 0, len(columns))
	for _, c := range columns {
		names = append(names, c.Title)
	}
	var b strings.Builder
	b.WriteString("You are a project management assistant. You act on the user's board through the provided tools.\n")
	fmt.Fprintf(&b, "The project currently has %d tasks across %d columns; the organization has %d agents.\n", counts.Tasks, counts.Columns, counts.Agents)
	if len(names) > 0 {
		fmt.Fprintf(&b, "Columns, in board order: %s.\n", strings.Join(names, ", "))
	}
	if req.Options.Priority != "" {
		fmt.Fprintf(&b, "Default new tasks to priority %s unless the user says otherwise.\n", req.Options.Priority)
	}
	b.WriteString("Use tools for any requested change. Answer plainly when no change is requested.")
	return b.String()
}

func (o *Orchestrator) collect(resp *Response, result ToolResult) {
	if !result.Success {
		return
	}
	switch result.Tool {
	case "create_task":
		if t, ok := result.Data.(domain.Task); ok {
			resp.CreatedTasks = append(resp.CreatedTasks, t)
		}
	case "update_task", "move_task", "assign_agent":
		if t, ok := result.Data.(domain.Task); ok {
			resp.UpdatedTasks = append(resp.UpdatedTasks, t)
		}
	case "create_column":
		if c, ok := result.Data.(domain.Column); ok {
			resp.CreatedColumns = append(resp.CreatedColumns, c)
		}
	case "update_column":
		if c, ok := result.Data.(domain.Column); ok {
			resp.UpdatedColumns = append(resp.UpdatedColumns, c)
		}
	case "create_project":
		if p, ok := result.Data.(domain.Project); ok {
			resp.CreatedProjects = append(resp.CreatedProjects, p)
		}
	}
}

func responseType(primary string) string {
	switch primary {
	case "task_creation", "task_management", "agent_assignment", "project_management", "error":
		return primary
	case "agent_use":
		return "tool_execution"
	default:
		return "general_answer"
	}
}

func suggestionsFor(primary string) []string {
	switch primary {
	case "task_creation":
		return []string{"Set a priority on the new task", "Assign an agent to the task"}
	case "task_management":
		return []string{"Show the board's task stats", "Move blocked tasks to a waiting column"}
	case "agent_assignment":
		return []string{"Review the agent's recent history", "Run the agent against the task"}
	case "project_management":
		return []string{"Check project analytics", "Add a column for work in review"}
	case "agent_use":
		return []string{"Check the task's progress", "Compare token spend against the estimate"}
	default:
		return nil
	}
}

// followUpInput replays the original ask with the tool outcomes so far, so a
// later round can finish multi-step work or wrap up.
func followUpInput(original string, results []ToolResult) string {
	var b strings.Builder
	b.WriteString(original)
	b.WriteString("\n\nTool results so far:\n")
	for _, r := range results {
		if r.Success {
			fmt.Fprintf(&b, "- %s: ok\n", r.Tool)
		} else {
			fmt.Fprintf(&b, "- %s: failed: %s\n", r.Tool, r.Error)
		}
	}
	b.WriteString("Continue with further tool calls if work remains, otherwise summarize what was done.")
	return b.String()
}

func followUps(resp *Response) []string {
	var actions []string
	if len(resp.CreatedTasks) > 0 {
		actions = append(actions, "assign_agent")
	}
	for _, r := range resp.ToolResults {
		if !r.Success {
			actions = append(actions, "retry_failed_tool")
			break
		}
	}
	return actions
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Orchestrator) since(start time.Time) int64 {
	return o.now().Sub(start).Milliseconds()
}
