package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"stratline/internal/config"
	"stratline/internal/db"
	"stratline/internal/domain"
	"stratline/internal/engine"
	"stratline/internal/log"
	"stratline/internal/migrate"
	"stratline/internal/repo"
	"stratline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "sl",
	Short: "Stratline CLI",
	Long: `Stratline orchestrates strategy tasks through an approval pipeline.
Core concepts:
- Workspace: the .stratline directory holding the database; stratline.yml holds the rules.
- Tasks: work items that flow backlog -> in_progress -> review -> approved -> done; blocked is a parking state.
- Approvals: a task submitted for review carries exactly one pending approval; a human decision moves the task on.
- Execution: an external runner polls /execute with a shared key; this service only counts eligible work and answers when to come back.
- Logs: the runner reports each run with cost and token usage; 'sl logs' reads them back.
- Stats: status breakdowns, quality averages, and a wide summary for the dashboard.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.GetLogger().Warnf("loading .env: %v", err)
	}
	viper.SetEnvPrefix("STRATLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(approvalCmd())
	rootCmd.AddCommand(triggerCmd())
	rootCmd.AddCommand(scheduleCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(summaryCmd())
	rootCmd.AddCommand(logsCmd())
	rootCmd.AddCommand(milestoneCmd())
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			path := config.Path(workspace)
			if _, err := os.Stat(path); os.IsNotExist(err) {
				if err := config.WriteDefault(path); err != nil {
					return err
				}
				fmt.Printf("wrote %s\n", path)
			}
			fmt.Printf("workspace ready at %s\n", db.Path(workspace))
			return nil
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect config",
	}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate config",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Config.Validate()
			})
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	})
	return cfg
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks flow backlog -> in_progress -> review -> approved -> done. Submitting for review and deciding approvals are separate commands because those transitions carry an approval record.",
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskGetCmd())
	task.AddCommand(taskStatusCmd())
	task.AddCommand(taskProgressCmd())
	task.AddCommand(taskSubmitCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "task id (optional)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Category, "category", "", "category")
	cmd.Flags().IntVar(&opts.Priority, "priority", 3, "priority 1-5 (lower is more urgent)")
	cmd.Flags().StringVar(&opts.AssignedAgent, "agent", "", "assigned agent")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

func taskListCmd() *cobra.Command {
	var status, category string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.ListTasks(ctx, status, category, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Category", "Pri", "Status", "Progress", "Agent"})
				for _, t := range tasks {
					agent := ""
					if t.AssignedAgent != nil {
						agent = *t.AssignedAgent
					}
					tw.AppendRow(table.Row{t.ID, t.Title, t.Category, t.Priority, t.Status, fmt.Sprintf("%d%%", t.Progress), agent})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&category, "category", "", "category filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}

func taskGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.GetTask(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskStatusCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "set-status <id>",
		Short: "Transition task status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.TransitionStatus(ctx, id, status, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func taskProgressCmd() *cobra.Command {
	var progress int
	var quality float64
	var agent string
	cmd := &cobra.Command{
		Use:   "progress <id>",
		Short: "Update task progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.ProgressUpdateOptions{
				ID:       args[0],
				Progress: progress,
				ActorID:  viper.GetString("actor-id"),
			}
			if cmd.Flags().Changed("quality") {
				opts.QualityScore = &quality
			}
			if cmd.Flags().Changed("agent") {
				opts.AssignedAgent = &agent
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UpdateProgress(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().IntVar(&progress, "progress", 0, "progress 0-100")
	cmd.Flags().Float64Var(&quality, "quality", 0, "quality score between 0 and 1")
	cmd.Flags().StringVar(&agent, "agent", "", "assigned agent")
	_ = cmd.MarkFlagRequired("progress")
	return cmd
}

func taskSubmitCmd() *cobra.Command {
	var submittedBy, notes string
	cmd := &cobra.Command{
		Use:   "submit <id>",
		Short: "Submit task for review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			if submittedBy == "" {
				submittedBy = viper.GetString("actor-id")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.SubmitForReview(ctx, id, submittedBy, notes, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&submittedBy, "submitted-by", "", "submitter (defaults to actor)")
	cmd.Flags().StringVar(&notes, "notes", "", "submission notes")
	return cmd
}

func approvalCmd() *cobra.Command {
	a := &cobra.Command{
		Use:   "approval",
		Short: "Manage approvals",
	}
	a.AddCommand(approvalListCmd())
	a.AddCommand(approvalDecideCmd())
	return a
}

func approvalListCmd() *cobra.Command {
	var reviewStatus string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List approvals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListApprovals(ctx, reviewStatus, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Task", "Status", "Submitted by", "Submitted at"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.ID, a.TaskID, a.ReviewStatus, a.SubmittedBy, a.SubmittedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reviewStatus, "review-status", "", "review status filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}

func approvalDecideCmd() *cobra.Command {
	var outcome, reviewedBy, notes string
	cmd := &cobra.Command{
		Use:   "decide <id>",
		Short: "Decide a pending approval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			if reviewedBy == "" {
				reviewedBy = viper.GetString("actor-id")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.DecideApproval(ctx, id, outcome, reviewedBy, notes, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&outcome, "outcome", "", "approved or rejected")
	cmd.Flags().StringVar(&reviewedBy, "reviewed-by", "", "reviewer (defaults to actor)")
	cmd.Flags().StringVar(&notes, "notes", "", "decision notes")
	_ = cmd.MarkFlagRequired("outcome")
	return cmd
}

func triggerCmd() *cobra.Command {
	var limit int
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Request an execution run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.RequestExecution(ctx, e.OrchestratorKey, limit, viper.GetString("actor-id"), dryRun)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "task limit (0 uses config default)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report eligibility without recording the request")
	return cmd
}

func scheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Show execution schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				info, err := e.ScheduleStatus(ctx, e.OrchestratorKey)
				if err != nil {
					return err
				}
				return printJSONOrTable(info)
			})
		},
	}
	return cmd
}

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Task and approval statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.Stats(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				fmt.Printf("Tasks: %d total (backlog %d, in progress %d, review %d, approved %d, done %d, blocked %d)\n",
					s.Tasks.Total, s.Tasks.Backlog, s.Tasks.InProgress, s.Tasks.Review, s.Tasks.Approved, s.Tasks.Done, s.Tasks.Blocked)
				fmt.Printf("Average quality: %.2f\n", s.Tasks.AvgQuality)
				fmt.Printf("Approvals: %d pending, %d approved, %d rejected\n",
					s.Approvals.Pending, s.Approvals.Approved, s.Approvals.Rejected)
				return nil
			})
		},
	}
	return cmd
}

func summaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Full pipeline summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.Summarize(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				fmt.Printf("Tasks: %d, avg progress %.0f%%, avg quality %.2f\n",
					s.Tasks.Total, s.AvgProgress, s.Tasks.AvgQuality)
				fmt.Printf("Execution: %d run(s), success rate %.0f%%, cost $%.2f, %d tokens\n",
					s.ExecutionRuns, s.SuccessRate*100, s.TotalAPICost, s.TotalTokensUsed)
				fmt.Println("Recommendations:")
				for _, r := range s.Recommendations {
					fmt.Printf("  - %s\n", r)
				}
				return nil
			})
		},
	}
	return cmd
}

func logsCmd() *cobra.Command {
	var f repo.LogFilters
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "List execution logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListExecutionLogs(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Agent", "Status", "Tasks", "Cost", "Tokens", "Started"})
				for _, l := range items {
					tw.AppendRow(table.Row{l.ID, l.AgentName, l.Status, len(l.TaskIDs), fmt.Sprintf("$%.2f", l.APICost), l.TokensUsed, l.StartedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.AgentName, "agent", "", "agent filter")
	cmd.Flags().StringVar(&f.TaskID, "task-id", "", "task id filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 100, "maximum rows")
	return cmd
}

func milestoneCmd() *cobra.Command {
	m := &cobra.Command{
		Use:   "milestone",
		Short: "Manage milestones",
	}
	var name, targetDate string
	var taskCount int
	create := &cobra.Command{
		Use:   "create",
		Short: "Create milestone",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.CreateMilestone(ctx, name, targetDate, taskCount, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "milestone name")
	create.Flags().StringVar(&targetDate, "target-date", "", "target date YYYY-MM-DD")
	create.Flags().IntVar(&taskCount, "task-count", 0, "planned task count")
	_ = create.MarkFlagRequired("name")
	m.AddCommand(create)

	m.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List milestones",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListMilestones(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	})

	var status string
	setStatus := &cobra.Command{
		Use:   "set-status <id>",
		Short: "Update milestone status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.SetMilestoneStatus(ctx, id, status, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	setStatus.Flags().StringVar(&status, "status", "", "new status")
	_ = setStatus.MarkFlagRequired("status")
	m.AddCommand(setStatus)
	return m
}

func agentCmd() *cobra.Command {
	a := &cobra.Command{
		Use:   "agent",
		Short: "Agent performance records",
	}
	var activeOnly bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListAgents(ctx, activeOnly)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Agent", "Active", "Completed", "Avg quality", "Success rate"})
				for _, rec := range items {
					tw.AppendRow(table.Row{rec.AgentName, rec.Active, rec.TasksCompleted,
						fmt.Sprintf("%.2f", rec.AvgQualityScore), fmt.Sprintf("%.0f%%", rec.SuccessRate*100)})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().BoolVar(&activeOnly, "active-only", false, "only active agents")
	a.AddCommand(list)

	var rec domain.AgentSkill
	set := &cobra.Command{
		Use:   "set <name>",
		Short: "Record agent performance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec.AgentName = args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.RecordAgentSkill(ctx, rec)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	set.Flags().BoolVar(&rec.Active, "active", true, "agent is active")
	set.Flags().IntVar(&rec.TasksCompleted, "completed", 0, "completed task count")
	set.Flags().Float64Var(&rec.AvgQualityScore, "avg-quality", 0, "average quality score between 0 and 1")
	set.Flags().Float64Var(&rec.SuccessRate, "success-rate", 0, "success rate 0-1")
	a.AddCommand(set)
	return a
}

func apikeyCmd() *cobra.Command {
	k := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}
	var actorID, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create API key (prints the key once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actorID == "" {
				actorID = viper.GetString("actor-id")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				raw := uuid.New().String()
				key := domain.APIKey{
					ID:        uuid.New().String(),
					ActorID:   actorID,
					Name:      name,
					KeyHash:   repo.HashAPIKey(raw),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{"id": key.ID, "actor_id": key.ActorID, "api_key": raw})
			})
		},
	}
	create.Flags().StringVar(&actorID, "actor", "", "actor id (defaults to --actor-id)")
	create.Flags().StringVar(&name, "name", "", "key label")
	k.AddCommand(create)

	var listActor string
	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx, listActor)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	list.Flags().StringVar(&listActor, "actor", "", "actor filter")
	k.AddCommand(list)

	k.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	})
	return k
}

func eventsCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Tail the event log",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := loadConfig(workspace)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			e.OrchestratorKey = os.Getenv("STRATLINE_ORCHESTRATOR_KEY")
			authCfg := server.AuthConfig{
				Mode:      cfg.Auth.Mode,
				JWTSecret: os.Getenv("STRATLINE_JWT_SECRET"),
			}
			if cfg.Auth.Mode == config.AuthStrict {
				if authCfg.JWTSecret == "" {
					return fmt.Errorf("STRATLINE_JWT_SECRET is required in strict mode")
				}
				if e.OrchestratorKey == "" {
					return fmt.Errorf("STRATLINE_ORCHESTRATOR_KEY is required in strict mode")
				}
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
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
			log.GetLogger().Infof("serving Stratline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

// --- helpers ---

func loadConfig(workspace string) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}

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
	cfg, err := loadConfig(workspace)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	e.OrchestratorKey = os.Getenv("STRATLINE_ORCHESTRATOR_KEY")
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
