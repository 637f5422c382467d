package engine

import (
	"context"
	"errors"
	"fmt"

	"boardflow/internal/domain"
	"boardflow/internal/engine/auth"
	"boardflow/internal/events"
)

var agentTypes = map[string]bool{
	"coding": true, "review": true, "testing": true,
	"documentation": true, "planning": true, "analysis": true,
}

// AgentCreateOptions are parameters for creating an agent.
type AgentCreateOptions struct {
	OrganizationID string
	Name           string
	Type           string
	Model          string
	SystemPrompt   string
	MaxTokens      int
	Temperature    float64
	AutoRun        bool
	RetryAttempts  int
	TimeoutSeconds int
	IsPublic       bool
	ActorID        string
}

func (e Engine) CreateAgent(ctx context.Context, opts AgentCreateOptions) (domain.Agent, error) {
	if opts.Name == "" {
		return domain.Agent{}, errors.New("name is required")
	}
	if !agentTypes[opts.Type] {
		return domain.Agent{}, fmt.Errorf("unknown agent type %q", opts.Type)
	}
	if opts.Model == "" {
		return domain.Agent{}, errors.New("model is required")
	}
	if _, err := e.Gate.ResolveAccess(ctx, auth.KindOrganization, opts.OrganizationID, opts.ActorID, auth.RolesMember...); err != nil {
		return domain.Agent{}, err
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = 4096
	}
	if opts.Temperature == 0 {
		opts.Temperature = 0.7
	}
	if opts.RetryAttempts == 0 {
		opts.RetryAttempts = 1
	}
	if opts.TimeoutSeconds == 0 {
		opts.TimeoutSeconds = 120
	}

	now := e.stamp()
	a := domain.Agent{
		ID:             newID(),
		OrganizationID: opts.OrganizationID,
		Name:           opts.Name,
		Type:           opts.Type,
		Model:          opts.Model,
		SystemPrompt:   opts.SystemPrompt,
		Settings: domain.AgentSettings{
			MaxTokens:      opts.MaxTokens,
			Temperature:    opts.Temperature,
			AutoRun:        opts.AutoRun,
			RetryAttempts:  opts.RetryAttempts,
			TimeoutSeconds: opts.TimeoutSeconds,
		},
		IsPublic:  opts.IsPublic,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Agent{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAgent(ctx, tx, a); err != nil {
		return domain.Agent{}, fmt.Errorf("insert agent: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "agent.created", "", "agent", a.ID, opts.ActorID, events.EventPayload{"name": a.Name, "type": a.Type}); err != nil {
		return domain.Agent{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Agent{}, err
	}
	return a, nil
}

func (e Engine) GetAgent(ctx context.Context, id, actorID string) (domain.Agent, error) {
	if _, err := e.Gate.ResolveAccess(ctx, auth.KindAgent, id, actorID); err != nil {
		return domain.Agent{}, err
	}
	return e.Repo.GetAgent(ctx, id)
}

func (e Engine) ListAgents(ctx context.Context, orgID, actorID string) ([]domain.Agent, error) {
	if _, err := e.Gate.ResolveAccess(ctx, auth.KindOrganization, orgID, actorID); err != nil {
		return nil, err
	}
	return e.Repo.ListAgentsByOrganization(ctx, orgID)
}

// AgentUpdateOptions carry patch fields; nil means keep.
type AgentUpdateOptions struct {
	Name           *string
	Model          *string
	SystemPrompt   *string
	MaxTokens      *int
	Temperature    *float64
	AutoRun        *bool
	RetryAttempts  *int
	TimeoutSeconds *int
	IsPublic       *bool
	ActorID        string
}

func (e Engine) UpdateAgent(ctx context.Context, id string, opts AgentUpdateOptions) (domain.Agent, error) {
	if _, err := e.Gate.ResolveAccess(ctx, auth.KindAgent, id, opts.ActorID, auth.RolesEditor...); err != nil {
		return domain.Agent{}, err
	}
	a, err := e.Repo.GetAgent(ctx, id)
	if err != nil {
		return domain.Agent{}, err
	}
	if opts.Name != nil {
		a.Name = *opts.Name
	}
	if opts.Model != nil {
		a.Model = *opts.Model
	}
	if opts.SystemPrompt != nil {
		a.SystemPrompt = *opts.SystemPrompt
	}
	if opts.MaxTokens != nil {
		a.Settings.MaxTokens = *opts.MaxTokens
	}
	if opts.Temperature != nil {
		a.Settings.Temperature = *opts.Temperature
	}
	if opts.AutoRun != nil {
		a.Settings.AutoRun = *opts.AutoRun
	}
	if opts.RetryAttempts != nil {
		a.Settings.RetryAttempts = *opts.RetryAttempts
	}
	if opts.TimeoutSeconds != nil {
		a.Settings.TimeoutSeconds = *opts.TimeoutSeconds
	}
	if opts.IsPublic != nil {
		a.IsPublic = *opts.IsPublic
	}
	a.UpdatedAt = e.stamp()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Agent{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateAgent(ctx, tx, a); err != nil {
		return domain.Agent{}, err
	}
	if err := e.Events.Append(ctx, tx, "agent.updated", "", "agent", a.ID, opts.ActorID, nil); err != nil {
		return domain.Agent{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Agent{}, err
	}
	return a, nil
}

// DeleteAgent soft-deletes; history rows referencing the agent stay valid.
func (e Engine) DeleteAgent(ctx context.Context, id, actorID string) error {
	if _, err := e.Gate.ResolveAccess(ctx, auth.KindAgent, id, actorID, auth.RolesAdmin...); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeactivateAgent(ctx, tx, id, e.stamp()); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "agent.deleted", "", "agent", id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}
