package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"neuron/internal/app"
	"neuron/internal/config"
	"neuron/internal/db"
	"neuron/internal/jobs"
	"neuron/internal/migrate"
	"neuron/internal/server"
	"neuron/internal/web"
)

var rootCmd = &cobra.Command{
	Use:   "neuron",
	Short: "Neuron program tracker",
	Long: `Neuron tracks programs of work and their progress over time.
- Program: the top-level effort; owns workstreams, issues, partners, people, costs and documents.
- Workstream: an ordered lane of work inside a program.
- Initiative: a deliverable inside a workstream, broken into point-weighted sub-tasks.
- Period: a biweekly reporting window made of two ISO weeks, keyed by its start date.
- Snapshot: the program's total and completed points recorded once per period;
  taking it again in the same period overwrites it.
- Burndown: remaining points per period; a change in total points is a scope change.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("NEURON")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("config", "", "config file (default <workspace>/neuron.yml)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier recorded in events")
	for _, name := range []string{"workspace", "config", "json", "actor-id"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(programCmd())
	rootCmd.AddCommand(workstreamCmd())
	rootCmd.AddCommand(initiativeCmd())
	rootCmd.AddCommand(subtaskCmd())
	rootCmd.AddCommand(snapshotCmd())
	rootCmd.AddCommand(periodCmd())
	rootCmd.AddCommand(burndownCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(apikeyCmd())
}

// loadConfig reads the config file and applies NEURON_* overrides.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := viper.GetString("config"); path != "" {
		cfg, err = config.FromFile(path)
	} else {
		cfg, err = config.Load(viper.GetString("workspace"))
	}
	if err != nil {
		return nil, err
	}
	override := func(dst *string, key string) {
		if v := viper.GetString(key); v != "" {
			*dst = v
		}
	}
	override(&cfg.Database.Backend, "database_backend")
	override(&cfg.Database.DSN, "database_dsn")
	override(&cfg.Server.Addr, "addr")
	override(&cfg.Server.JWTSecret, "jwt_secret")
	override(&cfg.Server.SessionKey, "session_key")
	override(&cfg.Server.CSRFKey, "csrf_key")
	override(&cfg.Log.Level, "log_level")
	override(&cfg.Log.Format, "log_format")
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := app.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()
	a, err := app.Open(ctx, cfg, viper.GetString("workspace"), logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func actorID() string {
	return viper.GetString("actor-id")
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the workspace, write neuron.yml and migrate the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			path := config.Path(workspace)
			if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
				if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				fmt.Println("wrote", path)
			} else if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				fmt.Println("workspace ready:", workspace)
				return nil
			})
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			dbCfg := app.DBConfig(cfg, viper.GetString("workspace"))
			if err := migrate.Migrate(dbCfg); err != nil {
				return err
			}
			version, dirty, err := migrate.Version(dbCfg)
			if err != nil {
				return err
			}
			if jsonOutput() {
				return printJSON(map[string]any{"version": version, "dirty": dirty})
			}
			fmt.Printf("schema version %d\n", version)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the JSON API, pages and scheduled snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withApp(ctx, func(ctx context.Context, a *app.App) error {
				cfg := a.Config
				if addr != "" {
					cfg.Server.Addr = addr
				}
				if cfg.Server.JWTSecret == "" {
					return fmt.Errorf("NEURON_JWT_SECRET is required for bearer auth")
				}
				handler, err := buildHandler(a)
				if err != nil {
					return err
				}

				runner := jobs.NewRunner(a.Logger.Named("jobs"))
				if cfg.Snapshots.Enabled {
					runner.Register(jobs.SnapshotJob(a.Engine, cfg.Snapshots.Interval.Duration, a.Logger.Named("snapshots")))
				}
				runner.Start(ctx)
				hooksDone := server.StartWebhooks(ctx, a.Engine, cfg.Webhooks, a.Logger.Named("webhooks"))

				srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				errCh := make(chan error, 1)
				go func() {
					errCh <- srv.ListenAndServe()
				}()
				a.Logger.Info("serving",
					zap.String("addr", cfg.Server.Addr),
					zap.String("api", cfg.Server.BasePath),
					zap.Bool("snapshots", cfg.Snapshots.Enabled),
					zap.Int("webhooks", len(cfg.Webhooks)))
				fmt.Printf("Serving Neuron on http://%s (API at %s, Swagger UI at /docs)\n", cfg.Server.Addr, cfg.Server.BasePath)

				var serveErr error
				select {
				case err := <-errCh:
					if !errors.Is(err, http.ErrServerClosed) {
						serveErr = err
					}
					stop()
				case <-ctx.Done():
				}
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					a.Logger.Warn("http shutdown", zap.Error(err))
				}
				if err := runner.Stop(shutdownCtx); err != nil {
					a.Logger.Warn("jobs shutdown", zap.Error(err))
				}
				select {
				case <-hooksDone:
				case <-shutdownCtx.Done():
				}
				return serveErr
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

// buildHandler serves the JSON API under the base path plus /docs, /metrics
// and the OpenAPI documents; every other path goes to the pages.
func buildHandler(a *app.App) (http.Handler, error) {
	cfg := a.Config.Server
	api, err := server.New(server.Config{
		Engine:     a.Engine,
		Auth:       a.Auth,
		BasePath:   cfg.BasePath,
		JWTSecret:  cfg.JWTSecret,
		TokenTTL:   cfg.TokenTTL.Duration,
		Logger:     a.Logger.Named("api"),
		Metrics:    a.Metrics,
		MaxPeriods: cfg.MaxPeriods,
	})
	if err != nil {
		return nil, err
	}
	pages, err := web.New(web.Config{
		Engine:         a.Engine,
		Auth:           a.Auth,
		SessionKey:     cfg.SessionKey,
		CSRFKey:        cfg.CSRFKey,
		SecureCookies:  cfg.SecureCookies,
		AutosaveSettle: cfg.AutosaveSettle.Duration,
		Logger:         a.Logger,
	})
	if err != nil {
		return nil, err
	}
	basePath := "/" + strings.Trim(cfg.BasePath, "/")
	root := chi.NewRouter()
	root.Handle(basePath, api)
	root.Handle(basePath+"/*", api)
	root.Handle("/docs", api)
	root.Handle("/metrics", api)
	root.Handle("/openapi*", api)
	root.Mount("/", pages)
	return root, nil
}

func jsonOutput() bool {
	return viper.GetBool("json")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printTable prints rows under header, or v as JSON with --json.
func printTable(v any, header table.Row, rows []table.Row) error {
	if jsonOutput() {
		return printJSON(v)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	tw.AppendRows(rows)
	tw.Render()
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
