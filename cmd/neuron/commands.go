package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"neuron/internal/app"
	"neuron/internal/domain"
	"neuron/internal/engine"
)

func programCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "program", Short: "Manage programs"}
	cmd.AddCommand(programCreateCmd(), programListCmd(), programShowCmd(), programUpdateCmd(), programDeleteCmd())
	return cmd
}

func programCreateCmd() *cobra.Command {
	var id, name, desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a program",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.CreateProgram(ctx, engine.ProgramCreateOptions{ID: id, Name: name, Description: desc, ActorID: actorID()})
				if err != nil {
					return err
				}
				return printPrograms(p, []domain.Program{p})
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "program id (generated when empty)")
	cmd.Flags().StringVar(&name, "name", "", "program name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func programListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List programs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Repo.ListPrograms(ctx)
				if err != nil {
					return err
				}
				return printPrograms(items, items)
			})
		},
	}
}

func printPrograms(v any, items []domain.Program) error {
	rows := make([]table.Row, 0, len(items))
	for _, p := range items {
		rows = append(rows, table.Row{p.ID, p.Name, p.Description, p.CreatedAt})
	}
	return printTable(v, table.Row{"ID", "Name", "Description", "Created"}, rows)
}

func programShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a program with its workstreams and initiatives",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.Repo.GetProgram(ctx, args[0])
				if err != nil {
					return err
				}
				tree, err := a.Engine.Repo.FetchWorkTree(ctx, p.ID)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(map[string]any{"program": p, "work": tree})
				}
				fmt.Printf("%s (%s)\n", p.Name, p.ID)
				for i, ws := range tree.Workstreams {
					lastWS := i == len(tree.Workstreams)-1
					fmt.Printf("%s%s\n", branch(lastWS), ws.Name)
					for j, in := range ws.Initiatives {
						points := 0
						for _, st := range in.SubTasks {
							points += st.Points
						}
						fmt.Printf("%s%s%s [%d pts, %d sub-tasks]\n", indent(lastWS), branch(j == len(ws.Initiatives)-1), in.Name, points, len(in.SubTasks))
					}
				}
				return nil
			})
		},
	}
}

func branch(last bool) string {
	if last {
		return "└── "
	}
	return "├── "
}

func indent(last bool) string {
	if last {
		return "    "
	}
	return "│   "
}

func programUpdateCmd() *cobra.Command {
	var name, desc string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Rename or describe a program",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var namePtr, descPtr *string
			if cmd.Flags().Changed("name") {
				namePtr = &name
			}
			if cmd.Flags().Changed("description") {
				descPtr = &desc
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.UpdateProgram(ctx, args[0], namePtr, descPtr, actorID())
				if err != nil {
					return err
				}
				return printPrograms(p, []domain.Program{p})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "new name")
	cmd.Flags().StringVar(&desc, "description", "", "new description")
	return cmd
}

func programDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a program and everything under it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.DeleteProgram(ctx, args[0], actorID()); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

func workstreamCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "workstream", Short: "Manage workstreams"}
	cmd.AddCommand(workstreamCreateCmd(), workstreamListCmd(), workstreamDeleteCmd())
	return cmd
}

func workstreamCreateCmd() *cobra.Command {
	var id, programID, name, desc string
	var order int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a workstream in a program",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.WorkstreamCreateOptions{ID: id, ProgramID: programID, Name: name, Description: desc, ActorID: actorID()}
			if cmd.Flags().Changed("order") {
				opts.SortOrder = &order
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				ws, err := a.Engine.CreateWorkstream(ctx, opts)
				if err != nil {
					return err
				}
				return printWorkstreams(ws, []domain.Workstream{ws})
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "workstream id (generated when empty)")
	cmd.Flags().StringVar(&programID, "program", "", "program id")
	cmd.Flags().StringVar(&name, "name", "", "workstream name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().IntVar(&order, "order", 0, "sort order (appended when omitted)")
	_ = cmd.MarkFlagRequired("program")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func workstreamListCmd() *cobra.Command {
	var programID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a program's workstreams",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if _, err := a.Engine.Repo.GetProgram(ctx, programID); err != nil {
					return err
				}
				items, err := a.Engine.Repo.ListWorkstreams(ctx, programID)
				if err != nil {
					return err
				}
				return printWorkstreams(items, items)
			})
		},
	}
	cmd.Flags().StringVar(&programID, "program", "", "program id")
	_ = cmd.MarkFlagRequired("program")
	return cmd
}

func printWorkstreams(v any, items []domain.Workstream) error {
	rows := make([]table.Row, 0, len(items))
	for _, ws := range items {
		rows = append(rows, table.Row{ws.ID, ws.Name, ws.SortOrder, ws.Description})
	}
	return printTable(v, table.Row{"ID", "Name", "Order", "Description"}, rows)
}

func workstreamDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a workstream and its initiatives",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.DeleteWorkstream(ctx, args[0], actorID()); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

func initiativeCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "initiative", Short: "Manage initiatives"}
	cmd.AddCommand(initiativeCreateCmd(), initiativeListCmd(), initiativeSetCmd())
	return cmd
}

func initiativeCreateCmd() *cobra.Command {
	var opts engine.InitiativeCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an initiative in a workstream",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = actorID()
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				in, err := a.Engine.CreateInitiative(ctx, opts)
				if err != nil {
					return err
				}
				return printInitiatives(in, []domain.Initiative{in})
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "initiative id (generated when empty)")
	cmd.Flags().StringVar(&opts.WorkstreamID, "workstream", "", "workstream id")
	cmd.Flags().StringVar(&opts.Name, "name", "", "initiative name")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Status, "status", domain.InitiativePlanned, "planned, active, blocked or done")
	cmd.Flags().StringVar(&opts.OwnerID, "owner", "", "owner id")
	cmd.Flags().StringVar(&opts.TargetDate, "target-date", "", "target date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("workstream")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func initiativeListCmd() *cobra.Command {
	var workstreamID string
	var archived bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a workstream's initiatives",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if _, err := a.Engine.Repo.GetWorkstream(ctx, workstreamID); err != nil {
					return err
				}
				items, err := a.Engine.Repo.ListInitiatives(ctx, workstreamID, archived)
				if err != nil {
					return err
				}
				return printInitiatives(items, items)
			})
		},
	}
	cmd.Flags().StringVar(&workstreamID, "workstream", "", "workstream id")
	cmd.Flags().BoolVar(&archived, "archived", false, "include archived initiatives")
	_ = cmd.MarkFlagRequired("workstream")
	return cmd
}

func printInitiatives(v any, items []domain.Initiative) error {
	rows := make([]table.Row, 0, len(items))
	for _, in := range items {
		rows = append(rows, table.Row{in.ID, in.Name, in.Status, deref(in.OwnerID), deref(in.TargetDate), in.Archived})
	}
	return printTable(v, table.Row{"ID", "Name", "Status", "Owner", "Target", "Archived"}, rows)
}

func initiativeSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <id> <field>=<value>...",
		Short: "Update initiative fields (name, description, status, owner, target_date, archived)",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields := make([]engine.InitiativeField, 0, len(args)-1)
			for _, arg := range args[1:] {
				name, value, ok := strings.Cut(arg, "=")
				if !ok {
					return fmt.Errorf("expected field=value, got %q", arg)
				}
				f, err := engine.ParseInitiativeField(name, value)
				if err != nil {
					return err
				}
				fields = append(fields, f)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				in, err := a.Engine.UpdateInitiative(ctx, args[0], actorID(), fields...)
				if err != nil {
					return err
				}
				return printInitiatives(in, []domain.Initiative{in})
			})
		},
	}
}

func subtaskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "subtask", Short: "Manage sub-tasks"}
	cmd.AddCommand(subtaskCreateCmd(), subtaskListCmd(), subtaskProgressCmd(), subtaskDeleteCmd())
	return cmd
}

func subtaskCreateCmd() *cobra.Command {
	var opts engine.SubTaskCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a sub-task in an initiative",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = actorID()
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				st, err := a.Engine.CreateSubTask(ctx, opts)
				if err != nil {
					return err
				}
				return printSubTasks(st, []domain.SubTask{st})
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "sub-task id (generated when empty)")
	cmd.Flags().StringVar(&opts.InitiativeID, "initiative", "", "initiative id")
	cmd.Flags().StringVar(&opts.Name, "name", "", "sub-task name")
	cmd.Flags().IntVar(&opts.Points, "points", 0, "story points")
	cmd.Flags().IntVar(&opts.CompletionPercent, "percent", 0, "completion percent (0-100)")
	_ = cmd.MarkFlagRequired("initiative")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func subtaskListCmd() *cobra.Command {
	var initiativeID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List an initiative's sub-tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if _, err := a.Engine.Repo.GetInitiative(ctx, initiativeID); err != nil {
					return err
				}
				items, err := a.Engine.Repo.ListSubTasks(ctx, initiativeID)
				if err != nil {
					return err
				}
				return printSubTasks(items, items)
			})
		},
	}
	cmd.Flags().StringVar(&initiativeID, "initiative", "", "initiative id")
	_ = cmd.MarkFlagRequired("initiative")
	return cmd
}

func printSubTasks(v any, items []domain.SubTask) error {
	rows := make([]table.Row, 0, len(items))
	for _, st := range items {
		rows = append(rows, table.Row{st.ID, st.Name, st.Points, fmt.Sprintf("%d%%", st.CompletionPercent)})
	}
	return printTable(v, table.Row{"ID", "Name", "Points", "Complete"}, rows)
}

func subtaskProgressCmd() *cobra.Command {
	var percent, points int
	cmd := &cobra.Command{
		Use:   "progress <id>",
		Short: "Set a sub-task's completion (and optionally its points)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var pointsPtr *int
			if cmd.Flags().Changed("points") {
				pointsPtr = &points
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				st, err := a.Engine.SetSubTaskProgress(ctx, args[0], actorID(), percent, pointsPtr)
				if err != nil {
					return err
				}
				return printSubTasks(st, []domain.SubTask{st})
			})
		},
	}
	cmd.Flags().IntVar(&percent, "percent", 0, "completion percent (0-100)")
	cmd.Flags().IntVar(&points, "points", 0, "new story points")
	_ = cmd.MarkFlagRequired("percent")
	return cmd
}

func subtaskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a sub-task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.DeleteSubTask(ctx, args[0], actorID()); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "user", Short: "Manage users"}
	cmd.AddCommand(userCreateCmd())
	return cmd
}

func userCreateCmd() *cobra.Command {
	var email, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user; the password is read from NEURON_PASSWORD or prompted",
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				u, err := a.Auth.Register(ctx, email, name, password)
				if err != nil {
					return err
				}
				return printTable(u, table.Row{"ID", "Email", "Name"}, []table.Row{{u.ID, u.Email, u.Name}})
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func readPassword() (string, error) {
	if pw := os.Getenv("NEURON_PASSWORD"); pw != "" {
		return pw, nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("NEURON_PASSWORD is required when stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, "Password: ")
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	cmd.AddCommand(apikeyCreateCmd())
	return cmd
}

func apikeyCreateCmd() *cobra.Command {
	var email, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for a user; the key is shown once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				u, err := a.Engine.Repo.GetUserByEmail(ctx, email)
				if err != nil {
					return err
				}
				key, plain, err := a.Auth.CreateAPIKey(ctx, u.ID, name)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(map[string]any{"api_key": key, "key": plain})
				}
				fmt.Println(plain)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "user email")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}
