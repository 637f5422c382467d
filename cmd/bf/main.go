package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"boardflow/internal/assistant"
	"boardflow/internal/config"
	"boardflow/internal/db"
	"boardflow/internal/engine"
	"boardflow/internal/migrate"
	"boardflow/internal/repo"
	"boardflow/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "bf",
	Short: "Boardflow CLI",
	Long: `Boardflow is an AI-assisted kanban engine.
Organizations own projects and agents; projects hold columns; columns hold
tasks. The assistant endpoint turns natural language into gated board
operations. All access is role-checked from organization membership down to
private columns.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initViper)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initViper() {
	viper.SetEnvPrefix("BOARDFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user", "local-user", "acting user id")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user", rootCmd.PersistentFlags().Lookup("user"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(orgCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(taskCmd())
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace: write boardflow.yml and run migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			fmt.Printf("Initialized workspace: wrote %s and database %s\n", path, db.Path(workspace))
			return nil
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			secret := os.Getenv("BOARDFLOW_JWT_SECRET")
			if secret == "" {
				secret = cfg.Auth.JWTSecret
			}
			if secret == "" {
				return fmt.Errorf("jwt secret is required: set BOARDFLOW_JWT_SECRET or auth.jwt_secret")
			}
			if key := os.Getenv("BOARDFLOW_AI_API_KEY"); key != "" {
				cfg.AI.APIKey = key
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
			e := engine.New(conn, cfg)
			orch := assistant.NewOrchestrator(e, cfg.AI, logger)
			handler, err := server.New(server.Config{
				Engine:    e,
				Assistant: orch,
				BasePath:  basePath,
				Auth:      server.AuthConfig{JWTSecret: secret, Logger: logger},
				Logger:    logger,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Boardflow API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at %s/docs)\n", addr, basePath, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to config)")
	return cmd
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	var roles []string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development bearer token for --user",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			secret := os.Getenv("BOARDFLOW_JWT_SECRET")
			if secret == "" {
				if cfg, err := config.LoadOptional(workspace); err == nil && cfg != nil {
					secret = cfg.Auth.JWTSecret
				}
			}
			if secret == "" {
				return fmt.Errorf("jwt secret is required: set BOARDFLOW_JWT_SECRET or auth.jwt_secret")
			}
			now := time.Now()
			claims := jwt.MapClaims{
				"sub": viper.GetString("user"),
				"iat": now.Unix(),
				"exp": now.Add(ttl).Unix(),
			}
			if len(roles) > 0 {
				claims["roles"] = roles
			}
			signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
			if err != nil {
				return err
			}
			fmt.Println(signed)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	cmd.Flags().StringArrayVar(&roles, "role", nil, "token role claim (repeatable)")
	return cmd
}

func orgCmd() *cobra.Command {
	org := &cobra.Command{Use: "org", Short: "Manage organizations"}
	org.AddCommand(orgListCmd())
	org.AddCommand(orgCreateCmd())
	org.AddCommand(orgShowCmd())
	org.AddCommand(orgAddMemberCmd())
	return org
}

func orgListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List organizations the acting user belongs to",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				orgs, err := e.ListOrganizations(ctx, viper.GetString("user"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(orgs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Slug", "Projects", "Credits"})
				for _, o := range orgs {
					tw.AppendRow(table.Row{o.ID, o.Name, o.Slug, o.Settings.MaxProjects, o.Settings.AICredits})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func orgCreateCmd() *cobra.Command {
	var opts engine.OrganizationCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("user")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.CreateOrganization(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(o)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "organization name")
	cmd.Flags().StringVar(&opts.Slug, "slug", "", "url-safe slug")
	cmd.Flags().IntVar(&opts.MaxProjects, "max-projects", 0, "project limit (0 uses the default)")
	cmd.Flags().IntVar(&opts.AICredits, "ai-credits", 0, "ai credit balance")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("slug")
	return cmd
}

func orgShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an organization with its members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.GetOrganization(ctx, args[0], viper.GetString("user"))
				if err != nil {
					return err
				}
				return printJSON(o)
			})
		},
	}
	return cmd
}

func orgAddMemberCmd() *cobra.Command {
	var userID, role string
	cmd := &cobra.Command{
		Use:   "add-member <org-id>",
		Short: "Add or update an organization member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.AddOrganizationMember(ctx, args[0], userID, role, viper.GetString("user"))
			})
		},
	}
	cmd.Flags().StringVar(&userID, "member", "", "member user id")
	cmd.Flags().StringVar(&role, "role", "member", "role (viewer, member, editor, admin, owner)")
	_ = cmd.MarkFlagRequired("member")
	return cmd
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectShowCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <org-id>",
		Short: "List an organization's projects visible to the acting user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				projects, err := e.ListProjects(ctx, args[0], viper.GetString("user"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(projects)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Visibility", "Model", "Budget"})
				for _, p := range projects {
					tw.AppendRow(table.Row{p.ID, p.Name, p.Visibility, p.Settings.AIModel, p.Settings.TokenBudget})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func projectCreateCmd() *cobra.Command {
	var opts engine.ProjectCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("user")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreateProject(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.OrganizationID, "org", "", "organization id")
	cmd.Flags().StringVar(&opts.Name, "name", "", "project name")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Visibility, "visibility", "", "public, private, or team")
	cmd.Flags().IntVar(&opts.TokenBudget, "token-budget", 0, "token budget")
	_ = cmd.MarkFlagRequired("org")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.GetProject(ctx, args[0], viper.GetString("user"))
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks"}
	task.AddCommand(taskListCmd())
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskMoveCmd())
	return task
}

func taskListCmd() *cobra.Command {
	var status, priority, query string
	var limit int
	cmd := &cobra.Command{
		Use:   "list <project-id>",
		Short: "List a project's tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.ListTasks(ctx, repo.TaskFilters{
					ProjectID: args[0],
					Status:    status,
					Priority:  priority,
					Query:     query,
					Limit:     limit,
				}, viper.GetString("user"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Priority", "Progress", "Tokens"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, t.Priority, fmt.Sprintf("%d%%", t.ProgressPercentage), t.ActualTokensUsed})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&priority, "priority", "", "priority filter")
	cmd.Flags().StringVar(&query, "query", "", "title/description search")
	cmd.Flags().IntVar(&limit, "limit", 50, "max results")
	return cmd
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("user")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&opts.ColumnID, "column", "", "column id")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Status, "status", "", "status")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "priority")
	cmd.Flags().IntVar(&opts.TokenEstimate, "token-estimate", 0, "token estimate (0 uses the default)")
	cmd.Flags().StringArrayVar(&opts.Assignees, "assignee", nil, "assignee (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Tags, "tag", nil, "tag (repeatable)")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("column")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskMoveCmd() *cobra.Command {
	var columnID string
	var position int
	cmd := &cobra.Command{
		Use:   "move <task-id>",
		Short: "Move a task to a column",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var posPtr *int
			if cmd.Flags().Changed("position") {
				posPtr = &position
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.MoveTask(ctx, args[0], columnID, posPtr, viper.GetString("user"))
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	cmd.Flags().StringVar(&columnID, "column", "", "destination column id")
	cmd.Flags().IntVar(&position, "position", 0, "explicit position")
	_ = cmd.MarkFlagRequired("column")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return fn(ctx, engine.New(conn, cfg))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
