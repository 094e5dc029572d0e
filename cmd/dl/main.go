package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"docline/internal/app"
	"docline/internal/config"
	"docline/internal/db"
	"docline/internal/domain"
	"docline/internal/engine"
	"docline/internal/migrate"
	"docline/internal/raci"
	"docline/internal/remind"
	"docline/internal/repo"
	"docline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "dl",
	Short: "Docline CLI",
	Long: `Docline governs controlled documents through drafting, review and approval.
Core concepts:
- Workspace: your .docline directory holding only the database; configs are stored in the DB and imported explicitly.
- Project: the governed scope (a production line, a system) that owns documents, members and tasks.
- Documents and versions: each document carries versions that move DRAFT -> IN_REVIEW -> APPROVED, or back to DRAFT on rejection.
- Approval policies: per document type, an ordered chain of roles that must sign off, step by step.
- Separation of duties: authors, temporary members and prior commenters cannot approve where the rules forbid it.
- RACI matrix: stages and tasks mapped to roles; the generator compiles it into creation, review and approval tasks with prerequisites.
- Tasks: work items with assignees, due dates, reminders and escalations.
- Event log: diary of everything that happened, view with 'dl log tail'.`,
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
	viper.SetEnvPrefix("DOCLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().Bool("force", false, "force operation")
	rootCmd.PersistentFlags().String("project", "", "project id (overrides single-project default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("force", rootCmd.PersistentFlags().Lookup("force"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(memberCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(docCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(raciCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectUpdateCmd())
	prj.AddCommand(projectDeleteCmd())
	prj.AddCommand(projectConfigCmd())
	prj.AddCommand(projectUseCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProjects(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func projectCreateCmd() *cobra.Command {
	var id, name, desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
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
			cfg := config.Default(id)
			e := engine.New(conn, cfg)
			p, err := e.InitProject(cmd.Context(), engine.InitProjectOptions{
				ProjectID:   id,
				Name:        name,
				Description: desc,
				ActorID:     viper.GetString("actor-id"),
			})
			if err != nil {
				return err
			}
			return printJSONOrTable(p)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id")
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := viper.GetString("project")
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				if target == "" {
					target = e.Config.Project.ID
				}
				p, err := e.Repo.GetProject(ctx, target)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func projectUpdateCmd() *cobra.Command {
	var status string
	var description string
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := viper.GetString("project")
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				if target == "" {
					target = e.Config.Project.ID
				}
				var descPtr *string
				if cmd.Flags().Changed("description") {
					descPtr = &description
				}
				if err := e.Repo.UpdateProject(ctx, target, status, descPtr); err != nil {
					return err
				}
				p, err := e.Repo.GetProject(ctx, target)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status (ACTIVE, PAUSED, ARCHIVED)")
	cmd.Flags().StringVar(&description, "description", "", "description")
	return cmd
}

func projectDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := viper.GetString("project")
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				if target == "" {
					target = e.Config.Project.ID
				}
				return e.Repo.DeleteProject(ctx, target)
			})
		},
	}
	return cmd
}

func projectUseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "use <id>",
		Short: "Set current project for this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID := strings.TrimSpace(args[0])
			if projectID == "" {
				return fmt.Errorf("project id is required")
			}
			workspace := viper.GetString("workspace")
			if err := setEnvValue(filepath.Join(workspace, ".env"), "DOCLINE_PROJECT", projectID); err != nil {
				return err
			}
			fmt.Printf("Set DOCLINE_PROJECT=%s in %s/.env\n", projectID, workspace)
			return nil
		},
	}
	return cmd
}

func projectConfigCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage project config",
	}
	cfg.AddCommand(projectConfigShowCmd())
	cfg.AddCommand(projectConfigImportCmd())
	cfg.AddCommand(projectConfigInitCmd())
	return cfg
}

func projectConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show project config stored in DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func projectConfigImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import project config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			projectID := cfg.Project.ID
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				if projectID == "" {
					projectID = e.Config.Project.ID
				}
				if err := e.ImportConfig(ctx, projectID, cfg, viper.GetString("actor-id")); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func projectConfigInitCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default docline.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !viper.GetBool("force") {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(id)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "my-project", "project id for the template")
	return cmd
}

func memberCmd() *cobra.Command {
	m := &cobra.Command{
		Use:   "member",
		Short: "Manage project members",
		Long:  "Members bind a user to a project role from the catalog. Temporary members can hold a role with an expiry but never sign approvals.",
	}
	m.AddCommand(memberAddCmd())
	m.AddCommand(memberListCmd())
	m.AddCommand(memberRemoveCmd())
	return m
}

func memberAddCmd() *cobra.Command {
	var userID, role, expiresAt string
	var temporary bool
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a member",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				m, err := e.AddMember(ctx, engine.AddMemberOptions{
					ProjectID:   e.Config.Project.ID,
					UserID:      userID,
					RoleCode:    role,
					IsTemporary: temporary,
					ExpiresAt:   optionalString(expiresAt),
					ActorID:     viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&role, "role", "", "role code from the catalog")
	cmd.Flags().BoolVar(&temporary, "temporary", false, "temporary membership")
	cmd.Flags().StringVar(&expiresAt, "expires-at", "", "expiry (RFC3339)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func memberListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List members",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.Repo.ListMembers(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"User", "Role", "Temporary", "Expires"})
				for _, m := range items {
					expires := ""
					if m.ExpiresAt != nil {
						expires = *m.ExpiresAt
					}
					tw.AppendRow(table.Row{m.UserID, m.RoleCode, m.IsTemporary, expires})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func memberRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <user-id>",
		Short: "Remove a member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return e.RemoveMember(ctx, e.Config.Project.ID, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func statusCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show project status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				projectID = strings.TrimSpace(projectID)
				if projectID == "" {
					projectID = e.Config.Project.ID
				}
				p, err := e.Repo.GetProject(ctx, projectID)
				if err != nil {
					return err
				}
				counts, err := e.Repo.CountTasksByStatus(ctx, projectID)
				if err != nil {
					return err
				}
				docs, err := e.Repo.ListDocuments(ctx, projectID)
				if err != nil {
					return err
				}
				out := map[string]any{
					"project_id":  p.ID,
					"status":      p.Status,
					"documents":   len(docs),
					"task_counts": counts,
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Project: %s (%s)\n", p.ID, p.Status)
				fmt.Printf("Documents: %d\n", len(docs))
				fmt.Println("Tasks:")
				for status, c := range counts {
					fmt.Printf("  %s: %d\n", status, c)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	return cmd
}

func docCmd() *cobra.Command {
	doc := &cobra.Command{
		Use:   "doc",
		Short: "Manage documents and versions",
		Long:  "Documents carry versions through DRAFT -> IN_REVIEW -> APPROVED. Submit opens the approval chain for the document type; approvals resolve in step order and any rejection returns the draft.",
	}
	doc.AddCommand(docCreateCmd())
	doc.AddCommand(docListCmd())
	doc.AddCommand(docShowCmd())
	doc.AddCommand(docVersionCmd())
	doc.AddCommand(docContentCmd())
	doc.AddCommand(docSubmitCmd())
	doc.AddCommand(docApproveCmd())
	doc.AddCommand(docRejectCmd())
	doc.AddCommand(docCommentCmd())
	return doc
}

func docCreateCmd() *cobra.Command {
	var docType, title, templateRef, contentJSON string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a document with its initial draft",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				doc, version, err := e.CreateDocument(ctx, engine.CreateDocumentOptions{
					ProjectID:   e.Config.Project.ID,
					DocType:     docType,
					Title:       title,
					TemplateRef: templateRef,
					ContentJSON: contentJSON,
					ActorID:     viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"document": doc, "version": version})
			})
		},
	}
	cmd.Flags().StringVar(&docType, "type", "", "document type (PDD, SDD, SOP, ...)")
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&templateRef, "template", "", "template reference")
	cmd.Flags().StringVar(&contentJSON, "content-json", "", "content JSON")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func docListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.Repo.ListDocuments(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Title", "Current Version"})
				for _, d := range items {
					current := ""
					if d.CurrentVersionID != nil {
						current = *d.CurrentVersionID
					}
					tw.AppendRow(table.Row{d.ID, d.DocType, d.Title, current})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func docShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <document-id>",
		Short: "Show a document with its versions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				doc, err := e.Repo.GetDocument(ctx, args[0])
				if err != nil {
					return err
				}
				versions, err := e.Repo.ListVersions(ctx, doc.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"document": doc, "versions": versions})
			})
		},
	}
	return cmd
}

func docVersionCmd() *cobra.Command {
	var templateRef, contentJSON string
	cmd := &cobra.Command{
		Use:   "version <document-id>",
		Short: "Open the next draft version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				version, err := e.CreateVersion(ctx, args[0], templateRef, contentJSON, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(version)
			})
		},
	}
	cmd.Flags().StringVar(&templateRef, "template", "", "template reference")
	cmd.Flags().StringVar(&contentJSON, "content-json", "", "content JSON")
	return cmd
}

func docContentCmd() *cobra.Command {
	var contentJSON, fileRef string
	cmd := &cobra.Command{
		Use:   "content <version-id>",
		Short: "Edit draft content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				var filePtr *string
				if cmd.Flags().Changed("file-ref") {
					filePtr = &fileRef
				}
				if err := e.UpdateVersionContent(ctx, args[0], contentJSON, filePtr, viper.GetString("actor-id")); err != nil {
					return err
				}
				version, err := e.Repo.GetVersion(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(version)
			})
		},
	}
	cmd.Flags().StringVar(&contentJSON, "content-json", "", "content JSON")
	cmd.Flags().StringVar(&fileRef, "file-ref", "", "external file reference")
	_ = cmd.MarkFlagRequired("content-json")
	return cmd
}

func docSubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit <version-id>",
		Short: "Submit a draft for review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				res, err := e.SubmitVersion(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	return cmd
}

func docApproveCmd() *cobra.Command {
	var comment, evidenceHash string
	cmd := &cobra.Command{
		Use:   "approve <version-id>",
		Short: "Approve the current pending step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				res, err := e.ApproveStep(ctx, engine.ApproveOptions{
					VersionID:    args[0],
					ActorID:      viper.GetString("actor-id"),
					Comment:      comment,
					EvidenceHash: evidenceHash,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "approval comment")
	cmd.Flags().StringVar(&evidenceHash, "evidence-hash", "", "evidence hash")
	return cmd
}

func docRejectCmd() *cobra.Command {
	var comment string
	cmd := &cobra.Command{
		Use:   "reject <version-id>",
		Short: "Reject the current pending step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				res, err := e.RejectStep(ctx, engine.RejectOptions{
					VersionID: args[0],
					ActorID:   viper.GetString("actor-id"),
					Comment:   comment,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "rejection comment")
	return cmd
}

func docCommentCmd() *cobra.Command {
	var text string
	cmd := &cobra.Command{
		Use:   "comment <version-id>",
		Short: "Add a review comment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				c, err := e.AddComment(ctx, args[0], viper.GetString("actor-id"), text)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "comment text")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks flow OPEN -> IN_PROGRESS -> COMPLETED -> VERIFIED (CLOSED is an exit). Blocking approval tasks come from submissions; RACI tasks come from the generator.",
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskGetCmd())
	task.AddCommand(taskStartCmd())
	task.AddCommand(taskCompleteCmd())
	task.AddCommand(taskVerifyCmd())
	task.AddCommand(taskReassignCmd())
	task.AddCommand(taskOverdueCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var opts engine.CreateTaskOptions
	var assignedTo, dueAt string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an ad hoc task",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			opts.AssignedTo = optionalString(assignedTo)
			opts.DueAt = optionalString(dueAt)
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				if opts.ProjectID == "" {
					opts.ProjectID = e.Config.Project.ID
				}
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.TaskType, "type", "", "task type")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "priority (LOW, MEDIUM, HIGH)")
	cmd.Flags().StringVar(&assignedTo, "assign", "", "assignee user id")
	cmd.Flags().StringVar(&dueAt, "due-at", "", "due date (RFC3339)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				if f.ProjectID == "" {
					f.ProjectID = e.Config.Project.ID
				}
				tasks, err := e.Repo.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Type", "Status", "Assignee", "Due"})
				for _, t := range tasks {
					assignee := ""
					if t.AssignedTo != nil {
						assignee = *t.AssignedTo
					}
					due := ""
					if t.DueAt != nil {
						due = *t.DueAt
					}
					tw.AppendRow(table.Row{t.ID, t.Title, t.TaskType, t.Status, assignee, due})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.TaskType, "type", "", "task type filter")
	cmd.Flags().StringVar(&f.AssignedTo, "assignee", "", "assignee filter")
	cmd.Flags().StringVar(&f.DocumentVersionID, "version", "", "document version filter")
	return cmd
}

func taskGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				t, err := e.Repo.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <id>",
		Short: "Start a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				t, err := e.StartTask(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskCompleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Complete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				res, err := e.CompleteTask(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	return cmd
}

func taskVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <id>",
		Short: "Verify a completed task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				t, err := e.VerifyTask(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskReassignCmd() *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "reassign <id>",
		Short: "Reassign a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				t, err := e.ReassignTask(ctx, args[0], to, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "new assignee user id")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func taskOverdueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "overdue",
		Short: "List overdue tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				now := e.Now().UTC().Format(time.RFC3339)
				tasks, err := e.Repo.OverdueTasks(ctx, e.Config.Project.ID, now)
				if err != nil {
					return err
				}
				return printJSONOrTable(tasks)
			})
		},
	}
	return cmd
}

func raciCmd() *cobra.Command {
	r := &cobra.Command{
		Use:   "raci",
		Short: "Manage the RACI matrix",
		Long:  "The RACI matrix maps stages and tasks to role letters. R produces creation tasks, C review tasks, A blocking approval tasks; I is informational only. The generator is idempotent and chains prerequisites.",
	}
	r.AddCommand(raciShowCmd())
	r.AddCommand(raciImportCmd())
	r.AddCommand(raciGenerateCmd())
	r.AddCommand(raciEscalateCmd())
	return r
}

func raciShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the RACI matrix",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				m, err := e.Repo.GetRaciMatrix(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	return cmd
}

func raciImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import the RACI matrix from JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			m, err := raci.Parse(data)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				if err := e.UpdateMatrix(ctx, e.Config.Project.ID, m, viper.GetString("actor-id")); err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to JSON matrix")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func raciGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate tasks from the RACI matrix",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				res, err := e.GenerateTasks(ctx, e.Config.Project.ID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Created %d tasks, skipped %d\n", len(res.Created), len(res.Skipped))
				for _, t := range res.Created {
					fmt.Printf("  + %s [%s]\n", t.Title, t.TaskType)
				}
				for _, s := range res.Skipped {
					fmt.Printf("  - %s: %s\n", s.Title, s.Reason)
				}
				return nil
			})
		},
	}
	return cmd
}

func raciEscalateCmd() *cobra.Command {
	var reason string
	var level int
	cmd := &cobra.Command{
		Use:   "escalate <task-id>",
		Short: "Escalate a generated task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				esc, err := e.EscalateTask(ctx, args[0], level, reason, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(esc)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "escalation reason")
	cmd.Flags().IntVar(&level, "level", 0, "escalation level (0 picks the next level)")
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: lifecycle transitions, approvals, task changes, reminders.",
	}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var action, entityType, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, e.Config.Project.ID, action, entityType, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&action, "action", "", "action filter")
	cmd.Flags().StringVar(&entityType, "entity-type", "", "entity type")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func apikeyCmd() *cobra.Command {
	k := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}
	k.AddCommand(apikeyCreateCmd())
	k.AddCommand(apikeyListCmd())
	k.AddCommand(apikeyDeleteCmd())
	return k
}

func apikeyCreateCmd() *cobra.Command {
	var userID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				userID = viper.GetString("actor-id")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				secret := uuid.NewString() + uuid.NewString()
				key := domain.APIKey{
					ID:        uuid.NewString(),
					UserID:    userID,
					Name:      name,
					KeyHash:   repo.HashAPIKey(secret),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "user_id": key.UserID, "key": secret})
				}
				fmt.Printf("API key %s for %s\n", key.ID, key.UserID)
				fmt.Printf("Secret (save it now, it is not stored): %s\n", secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (defaults to actor)")
	cmd.Flags().StringVar(&name, "name", "", "key name")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, userID)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "filter by user id")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath, remindSpec string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
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
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveProjectAndConfig(cmd.Context(), viper.GetString("project"), viper.GetString("actor-id"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("DOCLINE_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("DOCLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			scanner := remind.NewScanner(conn)
			if err := scanner.Start(remindSpec); err != nil {
				return err
			}
			defer scanner.Stop()
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Docline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().StringVar(&remindSpec, "remind-schedule", remind.DefaultSchedule, "reminder sweep cron spec")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, *engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveProjectAndConfig(ctx, viper.GetString("project"), viper.GetString("actor-id"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
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
	r := repo.Repo{DB: conn}
	return fn(ctx, r)
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

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
