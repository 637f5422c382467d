// Package server exposes the HTTP API. Every response uses the uniform
// {success, data, error, message, metadata} envelope; handlers translate
// engine and gate errors into it.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"boardflow/internal/assistant"
	"boardflow/internal/engine"
	"boardflow/internal/engine/auth"
	"boardflow/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine    engine.Engine
	Assistant *assistant.Orchestrator
	BasePath  string
	Auth      AuthConfig
	Logger    *slog.Logger
}

// apiError is the error-side envelope: it serializes as the same
// {success:false, error:{...}} shape every endpoint uses.
type apiError struct {
	status int
	Body   Envelope
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string {
	if e.Body.Error != nil {
		return e.Body.Error.Message
	}
	return http.StatusText(e.status)
}

func (e *apiError) MarshalJSON() ([]byte, error) { return json.Marshal(e.Body) }

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: Envelope{
			Success: false,
			Error:   &ErrorInfo{Code: code, Message: message, Details: details},
		},
	}
}

// New returns an HTTP handler exposing the Boardflow API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			strs := make([]string, 0, len(errs))
			for _, e := range errs {
				strs = append(strs, e.Error())
			}
			details = map[string]any{"errors": strs}
		}
		return newAPIError(status, "validation_failed", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Boardflow API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	// The default create hook installs a schema-link transformer that
	// rebuilds response bodies into a generated struct, which skips
	// apiError's envelope marshaling and injects a $schema field.
	// Responses must stay the bare envelope.
	hcfg.CreateHooks = nil
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerAssistant(group, cfg)
	registerOrganizations(group, cfg.Engine)
	registerProjects(group, cfg.Engine)
	registerAgents(group, cfg.Engine)
	registerColumns(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerAnalytics(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ue auth.UnauthenticatedError
	if errors.As(err, &ue) {
		return newAPIError(http.StatusUnauthorized, "unauthenticated", err.Error(), nil)
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		var details map[string]any
		if len(fe.RequiredRoles) > 0 {
			details = map[string]any{"required_roles": fe.RequiredRoles}
		}
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), details)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", "not found", nil)
	}
	var ve assistant.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "validation_failed", err.Error(), nil)
	}
	var rle assistant.RateLimitError
	if errors.As(err, &rle) {
		return newAPIError(http.StatusTooManyRequests, "provider_rate_limited", "model provider rate limited the request", nil)
	}
	var pe assistant.PermissionError
	if errors.As(err, &pe) {
		return newAPIError(http.StatusBadGateway, "provider_error", "model provider rejected the configured credentials", map[string]any{"provider_status": pe.Status})
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "required"),
		strings.Contains(lowered, "unknown"),
		strings.Contains(lowered, "must"),
		strings.Contains(lowered, "cannot decrease"),
		strings.Contains(lowered, "already in use"),
		strings.Contains(lowered, "limit"),
		strings.Contains(lowered, "not in project"),
		strings.Contains(lowered, "at least one owner"):
		return newAPIError(http.StatusBadRequest, "validation_failed", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "validation_failed"
	case http.StatusUnauthorized:
		return "unauthenticated"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*envelopeOut, error) {
		return ok(map[string]string{"status": "ok"}), nil
	})
}

func registerAssistant(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID:   "assistant",
		Method:        http.MethodPost,
		Path:          "/assistant",
		Summary:       "Run the assistant against a project",
		DefaultStatus: http.StatusOK,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusTooManyRequests, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body AssistantRequest `json:"body"`
	}) (*envelopeOut, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		req := assistant.Request{
			Input:          input.Body.Input,
			UserID:         userID,
			ProjectID:      input.Body.ProjectID,
			OrganizationID: input.Body.OrganizationID,
			AgentID:        input.Body.AgentID,
			ConversationID: input.Body.ConversationID,
		}
		if o := input.Body.Options; o != nil {
			req.Options = assistant.Options{
				AutoAssignAgent: o.AutoAssignAgent,
				CreateInColumn:  o.CreateInColumn,
				MaxTokens:       o.MaxTokens,
				Temperature:     o.Temperature,
				EnableTools:     o.EnableTools,
				Priority:        o.Priority,
			}
		}
		resp, err := cfg.Assistant.Handle(ctx, req)
		if err != nil {
			return nil, handleError(err)
		}
		out := ok(resp)
		out.Body.Metadata = map[string]any{
			"tokensUsed":    resp.TokensUsed,
			"executionTime": resp.ExecutionTime,
		}
		return out, nil
	})
}

func registerOrganizations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-organization",
		Method:        http.MethodPost,
		Path:          "/organizations",
		Summary:       "Create organization",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateOrganizationRequest `json:"body"`
	}) (*envelopeOut, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		o, err := e.CreateOrganization(ctx, engine.OrganizationCreateOptions{
			Name:        input.Body.Name,
			Slug:        input.Body.Slug,
			AICredits:   input.Body.AICredits,
			MaxProjects: input.Body.MaxProjects,
			Features:    input.Body.Features,
			ActorID:     userID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return ok(o), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-organizations",
		Method:      http.MethodGet,
		Path:        "/organizations",
		Summary:     "List organizations the caller belongs to",
	}, func(ctx context.Context, _ *struct{}) (*envelopeOut, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		orgs, err := e.ListOrganizations(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(orgs), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-organization",
		Method:      http.MethodGet,
		Path:        "/organizations/{org_id}",
		Summary:     "Get organization",
	}, func(ctx context.Context, input *struct {
		OrgID string `path:"org_id"`
	}) (*envelopeOut, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		o, err := e.GetOrganization(ctx, input.OrgID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(o), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-organization",
		Method:      http.MethodPatch,
		Path:        "/organizations/{org_id}",
		Summary:     "Update organization",
	}, func(ctx context.Context, input *struct {
		OrgID string                    `path:"org_id"`
		Body  UpdateOrganizationRequest `json:"body"`
	}) (*envelopeOut, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		o, err := e.UpdateOrganization(ctx, input.OrgID, engine.OrganizationUpdateOptions{
			Name:        input.Body.Name,
			AICredits:   input.Body.AICredits,
			MaxProjects: input.Body.MaxProjects,
			Features:    input.Body.Features,
			ActorID:     userID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return ok(o), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-organization",
		Method:      http.MethodDelete,
		Path:        "/organizations/{org_id}",
		Summary:     "Deactivate organization",
	}, func(ctx context.Context, input *struct {
		OrgID string `path:"org_id"`
	}) (*envelopeOut, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteOrganization(ctx, input.OrgID, userID); err != nil {
			return nil, handleError(err)
		}
		return okMsg(nil, "organization deactivated"), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-organization-member",
		Method:        http.MethodPost,
		Path:          "/organizations/{org_id}/members",
		Summary:       "Add or update an organization member",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		OrgID string           `path:"org_id"`
		Body  AddMemberRequest `json:"body"`
	}) (*envelopeOut, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.AddOrganizationMember(ctx, input.OrgID, input.Body.UserID, input.Body.Role, userID); err != nil {
			return nil, handleError(err)
		}
		return okMsg(nil, "member added"), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-organization-member",
		Method:      http.MethodDelete,
		Path:        "/organizations/{org_id}/members/{user_id}",
		Summary:     "Remove an organization member",
	}, func(ctx context.Context, input *struct {
		OrgID  string `path:"org_id"`
		UserID string `path:"user_id"`
	}) (*envelopeOut, error) {
		actorID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RemoveOrganizationMember(ctx, input.OrgID, input.UserID, actorID); err != nil {
			return nil, handleError(err)
		}
		return okMsg(nil, "member removed"), nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*envelopeOut, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreateProject(ctx, engine.ProjectCreateOptions{
			OrganizationID: input.Body.OrganizationID,
			Name:           input.Body.Name,
			Description:    input.Body.Description,
			Visibility:     input.Body.Visibility,
			AIModel:        input.Body.AIModel,
			TokenBudget:    input.Body.TokenBudget,
			AutoRun:        input.Body.AutoRun,
			ActorID:        userID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return ok(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/organizations/{org_id}/projects",
		Summary:     "List an organization's projects visible to the caller",
	}, func(ctx context.Context, input *struct {
		OrgID string `path:"org_id"`
	}) (*envelopeOut, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		projects, err := e.ListProjects(ctx, input.OrgID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(projects), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*envelopeOut, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.GetProject(ctx, input.ProjectID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}",
		Summary:     "Update project",
	}, func(ctx context.Context, input *struct {
		ProjectID string               `path:"project_id"`
		Body      UpdateProjectRequest `json:"body"`
	}) (*envelopeOut, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.UpdateProject(ctx, input.ProjectID, engine.ProjectUpdateOptions{
			Name:        input.Body.Name,
			Description: input.Body.Description,
			Visibility:  input.Body.Visibility,
			AIModel:     input.Body.AIModel,
			TokenBudget: input.Body.TokenBudget,
			AutoRun:     input.Body.AutoRun,
			ActorID:     userID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return ok(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-project",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}",
		Summary:     "Deactivate project",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*envelopeOut, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteProject(ctx, input.ProjectID, userID); err != nil {
			return nil, handleError(err)
		}
		return okMsg(nil, "project deactivated"), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-project-member",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/members",
		Summary:       "Add or update a project member",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		ProjectID string           `path:"project_id"`
		Body      AddMemberRequest `json:"body"`
	}) (*envelopeOut, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.AddProjectMember(ctx, input.ProjectID, input.Body.UserID, input.Body.Role, userID); err != nil {
			return nil, handleError(err)
		}
		return okMsg(nil, "member added"), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-project-member",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}/members/{user_id}",
		Summary:     "Remove a project member",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		UserID    string `path:"user_id"`
	}) (*envelopeOut, error) {
		actorID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RemoveProjectMember(ctx, input.ProjectID, input.UserID, actorID); err != nil {
			return nil, handleError(err)
		}
		return okMsg(nil, "member removed"), nil
	})
}

func registerAgents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-agent",
		Method:        http.MethodPost,
		Path:          "/agents",
		Summary:       "Create agent",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateAgentRequest `json:"body"`
	}) (*envelopeOut, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.CreateAgent(ctx, engine.AgentCreateOptions{
			OrganizationID: input.Body.OrganizationID,
			Name:           input.Body.Name,
			Type:           input.Body.Type,
			Model:          input.Body.Model,
			SystemPrompt:   input.Body.SystemPrompt,
			MaxTokens:      input.Body.MaxTokens,
			Temperature:    input.Body.Temperature,
			AutoRun:        input.Body.AutoRun,
			RetryAttempts:  input.Body.RetryAttempts,
			TimeoutSeconds: input.Body.TimeoutSeconds,
			IsPublic:       input.Body.IsPublic,
			ActorID:        userID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return ok(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-agents",
		Method:      http.MethodGet,
		Path:        "/organizations/{org_id}/agents",
		Summary:     "List an organization's agents",
	}, func(ctx context.Context, input *struct {
		OrgID string `path:"org_id"`
	}) (*envelopeOut, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		agents, err := e.ListAgents(ctx, input.OrgID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(agents), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-agent",
		Method:      http.MethodGet,
		Path:        "/agents/{agent_id}",
		Summary:     "Get agent",
	}, func(ctx context.Context, input *struct {
		AgentID string `path:"agent_id"`
	}) (*envelopeOut, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.GetAgent(ctx, input.AgentID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-agent",
		Method:      http.MethodPatch,
		Path:        "/agents/{agent_id}",
		Summary:     "Update agent",
	}, func(ctx context.Context, input *struct {
		AgentID string             `path:"agent_id"`
		Body    UpdateAgentRequest `json:"body"`
	}) (*envelopeOut, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.UpdateAgent(ctx, input.AgentID, engine.AgentUpdateOptions{
			Name:           input.Body.Name,
			Model:          input.Body.Model,
			SystemPrompt:   input.Body.SystemPrompt,
			MaxTokens:      input.Body.MaxTokens,
			Temperature:    input.Body.Temperature,
			AutoRun:        input.Body.AutoRun,
			RetryAttempts:  input.Body.RetryAttempts,
			TimeoutSeconds: input.Body.TimeoutSeconds,
			IsPublic:       input.Body.IsPublic,
			ActorID:        userID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return ok(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-agent",
		Method:      http.MethodDelete,
		Path:        "/agents/{agent_id}",
		Summary:     "Deactivate agent",
	}, func(ctx context.Context, input *struct {
		AgentID string `path:"agent_id"`
	}) (*envelopeOut, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteAgent(ctx, input.AgentID, userID); err != nil {
			return nil, handleError(err)
		}
		return okMsg(nil, "agent deactivated"), nil
	})
}

func registerColumns(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-column",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/columns",
		Summary:       "Create column",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		ProjectID string              `path:"project_id"`
		Body      CreateColumnRequest `json:"body"`
	}) (*envelopeOut, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.CreateColumn(ctx, engine.ColumnCreateOptions{
			ProjectID:    input.ProjectID,
			Title:        input.Body.Title,
			Visibility:   input.Body.Visibility,
			AutoRun:      input.Body.AutoRun,
			AutoRunAgent: input.Body.AutoRunAgent,
			TaskLimit:    input.Body.TaskLimit,
			ActorID:      userID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return ok(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-columns",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/columns",
		Summary:     "List a project's columns in board order",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*envelopeOut, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		cols, err := e.ListColumns(ctx, input.ProjectID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(cols), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-column",
		Method:      http.MethodPatch,
		Path:        "/columns/{column_id}",
		Summary:     "Update column",
	}, func(ctx context.Context, input *struct {
		ColumnID string              `path:"column_id"`
		Body     UpdateColumnRequest `json:"body"`
	}) (*envelopeOut, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.UpdateColumn(ctx, input.ColumnID, engine.ColumnUpdateOptions{
			Title:        input.Body.Title,
			Position:     input.Body.Position,
			Visibility:   input.Body.Visibility,
			AutoRun:      input.Body.AutoRun,
			AutoRunAgent: input.Body.AutoRunAgent,
			TaskLimit:    input.Body.TaskLimit,
			ActorID:      userID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return ok(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-column",
		Method:      http.MethodDelete,
		Path:        "/columns/{column_id}",
		Summary:     "Delete column and its tasks",
	}, func(ctx context.Context, input *struct {
		ColumnID string `path:"column_id"`
	}) (*envelopeOut, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteColumn(ctx, input.ColumnID, userID); err != nil {
			return nil, handleError(err)
		}
		return okMsg(nil, "column deleted"), nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      CreateTaskRequest `json:"body"`
	}) (*envelopeOut, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
			ProjectID:     input.ProjectID,
			ColumnID:      input.Body.ColumnID,
			Title:         input.Body.Title,
			Description:   input.Body.Description,
			Status:        input.Body.Status,
			Priority:      input.Body.Priority,
			TokenEstimate: input.Body.TokenEstimate,
			Assignees:     input.Body.Assignees,
			Tags:          input.Body.Tags,
			Dependencies:  input.Body.Dependencies,
			ParentTask:    input.Body.ParentTask,
			ActorID:       userID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return ok(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks",
		Summary:     "List or search a project's tasks",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		ColumnID  string `query:"column_id"`
		Status    string `query:"status"`
		Priority  string `query:"priority"`
		Assignee  string `query:"assignee"`
		Query     string `query:"query"`
		Limit     int    `query:"limit"`
		Cursor    string `query:"cursor"`
	}) (*envelopeOut, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		limit := input.Limit
		if limit <= 0 || limit > 200 {
			limit = 50
		}
		filters := repo.TaskFilters{
			ProjectID: input.ProjectID,
			ColumnID:  input.ColumnID,
			Status:    input.Status,
			Priority:  input.Priority,
			Assignee:  input.Assignee,
			Query:     input.Query,
			Limit:     limit,
		}
		if input.Cursor != "" {
			createdAt, id, err := decodeCursor(input.Cursor)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "validation_failed", "invalid cursor", nil)
			}
			filters.CursorCreatedAt = createdAt
			filters.CursorID = id
		}
		tasks, err := e.ListTasks(ctx, filters, userID)
		if err != nil {
			return nil, handleError(err)
		}
		out := ok(tasks)
		if len(tasks) == limit {
			last := tasks[len(tasks)-1]
			out.Body.Metadata = map[string]any{"next_cursor": encodeCursor(last.CreatedAt, last.ID)}
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*envelopeOut, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.GetTask(ctx, input.TaskID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}",
		Summary:     "Update task",
	}, func(ctx context.Context, input *struct {
		TaskID string            `path:"task_id"`
		Body   UpdateTaskRequest `json:"body"`
	}) (*envelopeOut, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.UpdateTask(ctx, input.TaskID, engine.TaskUpdateOptions{
			Title:              input.Body.Title,
			Description:        input.Body.Description,
			Status:             input.Body.Status,
			Priority:           input.Body.Priority,
			TokenEstimate:      input.Body.TokenEstimate,
			ActualTokensUsed:   input.Body.ActualTokensUsed,
			ProgressPercentage: input.Body.ProgressPercentage,
			Assignees:          input.Body.Assignees,
			Tags:               input.Body.Tags,
			Dependencies:       input.Body.Dependencies,
			BlockedBy:          input.Body.BlockedBy,
			ActorID:            userID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return ok(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-task",
		Method:      http.MethodDelete,
		Path:        "/tasks/{task_id}",
		Summary:     "Delete task",
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*envelopeOut, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteTask(ctx, input.TaskID, userID); err != nil {
			return nil, handleError(err)
		}
		return okMsg(nil, "task deleted"), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "move-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/move",
		Summary:     "Move task to a column",
	}, func(ctx context.Context, input *struct {
		TaskID string          `path:"task_id"`
		Body   MoveTaskRequest `json:"body"`
	}) (*envelopeOut, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.MoveTask(ctx, input.TaskID, input.Body.ColumnID, input.Body.Position, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "assign-agent",
		Method:        http.MethodPost,
		Path:          "/tasks/{task_id}/agents",
		Summary:       "Assign an agent to a task",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		TaskID string             `path:"task_id"`
		Body   AssignAgentRequest `json:"body"`
	}) (*envelopeOut, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.AssignAgent(ctx, input.TaskID, input.Body.AgentID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "agent-history",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/agents/history",
		Summary:     "List a task's agent assignment history",
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*envelopeOut, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		history, err := e.AgentHistory(ctx, input.TaskID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(history), nil
	})
}

func registerAnalytics(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "project-analytics",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/analytics",
		Summary:     "Project analytics rollup",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*envelopeOut, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.GetProjectAnalytics(ctx, input.ProjectID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-stats",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/stats",
		Summary:     "Task counts by status and priority",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*envelopeOut, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.GetTaskStats(ctx, input.ProjectID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(s), nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/events",
		Summary:     "List a project's audit events",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		After     int64  `query:"after"`
		Limit     int    `query:"limit"`
	}) (*envelopeOut, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		evs, err := e.ListProjectEvents(ctx, input.ProjectID, userID, input.After, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		out := ok(evs)
		if len(evs) > 0 {
			out.Body.Metadata = map[string]any{"last_id": evs[len(evs)-1].ID}
		}
		return out, nil
	})
}

func registerDocs(r chi.Router, basePath string) {
	docsPath := path.Join(basePath, "docs")
	r.Get(docsPath, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", basePath, "openapi.json")
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Boardflow API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui',
        });
      };
    </script>
  </body>
</html>`, specURL)
}

// encodeCursor and decodeCursor serialize the composite keyset cursor
// (created_at, id) as "created_at|id".
func encodeCursor(createdAt, id string) string {
	return createdAt + "|" + id
}

func decodeCursor(cursor string) (createdAt, id string, err error) {
	i := strings.LastIndex(cursor, "|")
	if i <= 0 || i == len(cursor)-1 {
		return "", "", errors.New("malformed cursor")
	}
	return cursor[:i], cursor[i+1:], nil
}
