package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo-contrib/pprof"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"board-api/api"
	"board-api/board"
	"board-api/config"
	"board-api/domain"
	"board-api/remote"
	"board-api/storage"
	"board-api/tui"
)

const (
	shutdownTimeout = 10 * time.Second
	loadTimeout     = 30 * time.Second
)

var (
	configPath string
	tuiUser    string
)

var rootCmd = &cobra.Command{
	Use:           "board",
	Short:         "Kanban board with drag and drop reordering",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the board HTTP API",
	RunE:  runServe,
}

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Create the tables, queues and schema the configured backend needs",
	RunE:  runProvision,
}

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Open one user's board in the terminal",
	RunE:  runTUI,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	tuiCmd.Flags().StringVar(&tuiUser, "user", "", "user whose board to open")
	_ = tuiCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(serveCmd, provisionCmd, tuiCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, *log.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger := log.New()
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
		logger.SetLevel(log.DebugLevel)
	}
	return cfg, logger, nil
}

func boardOptions(cfg *config.Config) []board.Option {
	opts := []board.Option{
		board.WithLanes(cfg.Lanes),
		board.WithRequestTimeout(cfg.RequestTimeout),
	}
	if !cfg.ReorderRollback {
		opts = append(opts, board.KeepReorderOnFailure())
	}
	return opts
}

// openStore builds the configured task store, wrapped in the redis cache when
// one is configured. The returned func releases its connections.
func openStore(ctx context.Context, cfg *config.Config) (api.TaskStore, func(), error) {
	var store api.TaskStore
	closers := []func(){}
	switch cfg.TaskStore {
	case config.StoreRemote:
		store = remote.New(cfg.TaskAPIURL, cfg.TaskAPIToken, cfg.RequestTimeout)
	case config.StoreTable:
		ts, err := storage.NewTableStore(cfg.StorageConnectionString, cfg.TasksTable)
		if err != nil {
			return nil, nil, fmt.Errorf("storage: %w", err)
		}
		store = ts
	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		closers = append(closers, pool.Close)
		store = storage.NewPgStore(pool)
	default:
		return nil, nil, fmt.Errorf("unknown TASK_STORE %q", cfg.TaskStore)
	}

	if cfg.RedisConnectionString != "" && cfg.CacheTTL > 0 {
		rc := redis.NewClient(storage.RedisOptions(cfg.RedisConnectionString))
		closers = append(closers, func() { _ = rc.Close() })
		store = storage.NewCache(store, rc, cfg.CacheTTL)
	}
	return store, func() {
		for _, c := range closers {
			c()
		}
	}, nil
}

func newAuth(cfg *config.Config) (*api.Auth, error) {
	if cfg.Auth0TestMode {
		return api.NewTestAuth([]byte(cfg.TestJWTSecret)), nil
	}
	jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.Auth0Domain)
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
	if err != nil {
		return nil, fmt.Errorf("jwks: %w", err)
	}
	return api.NewAuth(jwks, cfg.Auth0Audience, "https://"+cfg.Auth0Domain+"/"), nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	ctx := cmd.Context()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	var events api.Publisher
	if cfg.EventsQueue != "" && cfg.StorageConnectionString != "" {
		q, err := storage.NewEventQueue(cfg.StorageConnectionString, cfg.EventsQueue)
		if err != nil {
			return fmt.Errorf("events queue: %w", err)
		}
		events = q
	}

	auth, err := newAuth(cfg)
	if err != nil {
		return err
	}

	registry := api.NewRegistry(store, events, logger, boardOptions(cfg)...)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	if cfg.Debug {
		pprof.Register(e)
	}
	api.Register(e, registry, auth, logger)

	errc := make(chan error, 1)
	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithField("error", err.Error()).Warn("server shutdown")
	}
	registry.Wait()
	return nil
}

func runProvision(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if cfg.TaskStore == config.StorePostgres {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		if err := storage.NewPgStore(pool).EnsureTable(ctx); err != nil {
			return err
		}
		logger.Info("tasks table ready")
	}

	if cfg.StorageConnectionString == "" {
		return nil
	}
	var tables, queues []string
	if cfg.TaskStore == config.StoreTable {
		tables = append(tables, cfg.TasksTable)
	}
	if cfg.EventsQueue != "" {
		queues = append(queues, cfg.EventsQueue)
	}
	if err := storage.Provision(ctx, cfg.StorageConnectionString, tables, queues); err != nil {
		return err
	}
	logger.WithFields(log.Fields{"tables": tables, "queues": queues}).Info("storage ready")
	return nil
}

func runTUI(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateStore(); err != nil {
		return err
	}
	ctx := cmd.Context()

	// The terminal belongs to the program; logs go to a file when debugging.
	logger.SetOutput(io.Discard)
	if cfg.Debug {
		f, err := tea.LogToFile("board-tui.log", "board")
		if err != nil {
			return err
		}
		defer f.Close()
		logger.SetOutput(f)
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	load := func(ctx context.Context) ([]domain.Task, error) {
		return store.ListTasks(ctx, tuiUser)
	}
	loadCtx, cancel := context.WithTimeout(ctx, loadTimeout)
	tasks, err := load(loadCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("loading tasks: %w", err)
	}

	changes := tui.NewNotifier()
	opts := append(boardOptions(cfg), board.WithLogger(logger), board.OnChange(changes.Notify))
	b := board.New(board.ForUser(store, tuiUser), tasks, opts...)

	p := tea.NewProgram(tui.NewModel(b, load, changes), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err = p.Run()
	b.Wait()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
