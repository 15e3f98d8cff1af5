package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docker/docker/client"
	h "github.com/gorilla/handlers"
	"github.com/rs/zerolog"
	tc "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/stanstork/stratum-replicator/internal/authz"
	"github.com/stanstork/stratum-replicator/internal/config"
	"github.com/stanstork/stratum-replicator/internal/engine"
	"github.com/stanstork/stratum-replicator/internal/handlers"
	"github.com/stanstork/stratum-replicator/internal/jobcontrol"
	"github.com/stanstork/stratum-replicator/internal/middleware"
	"github.com/stanstork/stratum-replicator/internal/migration"
	"github.com/stanstork/stratum-replicator/internal/models"
	"github.com/stanstork/stratum-replicator/internal/notification"
	"github.com/stanstork/stratum-replicator/internal/replication"
	"github.com/stanstork/stratum-replicator/internal/repository"
	"github.com/stanstork/stratum-replicator/internal/resolver"
	"github.com/stanstork/stratum-replicator/internal/routes"
	"github.com/stanstork/stratum-replicator/internal/scheduler"
	"github.com/stanstork/stratum-replicator/internal/temporal"
	"github.com/stanstork/stratum-replicator/internal/temporal/activities"
	"github.com/stanstork/stratum-replicator/internal/temporal/workflows"
	"github.com/stanstork/stratum-replicator/internal/trigger"
	"github.com/stanstork/stratum-replicator/internal/utils"
)

type application struct {
	config     *config.Config
	db         *sql.DB
	logger     zerolog.Logger
	controller *jobcontrol.Controller
	scheduler  *scheduler.Scheduler

	cron           *trigger.CronTrigger
	temporalClient tc.Client
	temporalWorker worker.Worker
}

func main() {
	configPath := flag.String("config", os.Getenv("STRATUM_CONFIG"), "path to the YAML config file")
	flag.Parse()

	// Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := newLogger(cfg.Log)
	log.SetFlags(0)
	log.SetOutput(logger)

	app := &application{config: cfg, logger: logger}
	defer app.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.init(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialise replicator")
	}

	if err := app.startTrigger(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start trigger")
	}

	// Initialize the HTTP router and middleware.
	router := app.initRouter()
	handler := h.RecoveryHandler(h.PrintRecoveryStack(true))(middleware.LoggingMiddleware(logger)(router))

	// Start the HTTP server and handle graceful shutdown.
	app.startServer(ctx, handler)

	logger.Info().Msg("Application terminated.")
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "json" {
		return zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	return zerolog.New(consoleWriter).With().Timestamp().Logger()
}

// init wires resolver, engine, controller and scheduler for the configured task.
func (app *application) init(ctx context.Context) error {
	cfg := app.config

	def, err := cfg.JobDefinition()
	if err != nil {
		return err
	}

	res, err := app.newResolver(ctx)
	if err != nil {
		return err
	}

	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return err
	}

	engineClient := engine.NewClient(dockerClient, res, app.logger,
		engine.WithImage(cfg.Engine.Image),
		engine.WithResources(cfg.Engine.ContainerCPULimit, cfg.Engine.ContainerMemoryLimit),
		engine.WithStopTimeout(cfg.Engine.StopTimeout),
		engine.WithPullTimeout(cfg.Engine.PullTimeout),
	)
	engineClient.Register(def)

	// Pull before the first tick so a start attempt never waits on it.
	pullCtx, cancelPull := context.WithTimeout(ctx, cfg.Engine.PullTimeout)
	if err := engineClient.PullImage(pullCtx); err != nil {
		app.logger.Warn().Err(err).Str("image", cfg.Engine.Image).Msg("Engine image not pulled at startup, ticks will retry")
	}
	cancelPull()

	app.controller = jobcontrol.NewController(engineClient, app.logger,
		jobcontrol.WithAttempts(cfg.Controller.Attempts),
		jobcontrol.WithBackoffBase(cfg.Controller.BackoffBase),
		jobcontrol.WithCallTimeout(cfg.Controller.CallTimeout),
	)

	notifications, err := app.newNotificationService()
	if err != nil {
		return err
	}

	app.scheduler = scheduler.New(replication.NewJob(def), app.controller, app.logger,
		scheduler.WithTickTimeout(cfg.Trigger.TickTimeout),
		scheduler.WithAlerter(notifications),
	)

	app.logger.Info().
		Str("task_id", def.ID).
		Str("source", def.Source.Engine()+"/"+def.Source.ConnectionRef()).
		Str("target", def.Target.Engine()+"/"+def.Target.ConnectionRef()).
		Str("trigger", cfg.Trigger.Mode).
		Str("schedule", cfg.Trigger.Schedule).
		Msg("Replication task configured")
	return nil
}

func (app *application) newResolver(ctx context.Context) (resolver.Resolver, error) {
	cfg := app.config

	var box *utils.SecretBox
	if _, ok := os.LookupEnv("STRATUM_ENC_KEY"); ok {
		b, err := utils.SecretBoxFromEnv()
		if err != nil {
			return nil, err
		}
		box = b
	}

	switch cfg.Resolver.Kind {
	case config.ResolverPostgres:
		if box == nil {
			return nil, errors.New("STRATUM_ENC_KEY is required for the postgres resolver")
		}
		db, err := migration.Open(ctx, cfg.Resolver.DatabaseURL)
		if err != nil {
			return nil, err
		}
		app.db = db
		if err := migration.RunMigrations(ctx, db, app.logger); err != nil {
			return nil, err
		}
		return resolver.NewPostgresResolver(repository.NewConnectionRepository(db), box), nil
	default:
		opts := []resolver.StaticOption{}
		if box != nil {
			opts = append(opts, resolver.WithSecretBox(box))
		}
		return resolver.NewStaticResolver(staticEntries(cfg.Connections), opts...), nil
	}
}

func staticEntries(conns []config.ConnectionConfig) []resolver.StaticEntry {
	entries := make([]resolver.StaticEntry, 0, len(conns))
	for _, c := range conns {
		entries = append(entries, resolver.StaticEntry{
			Connection: models.Connection{
				Ref:      c.Ref,
				Engine:   c.Engine,
				Host:     c.Host,
				Port:     c.Port,
				Username: c.Username,
				DBName:   c.DBName,
				Bucket:   c.Bucket,
				Region:   c.Region,
				Endpoint: c.Endpoint,
			},
			PasswordEnv: c.PasswordEnv,
			PasswordEnc: c.PasswordEnc,
		})
	}
	return entries
}

func (app *application) newNotificationService() (notification.Service, error) {
	notifiers := []notification.Notifier{notification.NewLogNotifier(app.logger)}

	email := app.config.Alerts.Email
	if email.Enabled {
		mailer, err := notification.NewSMTPMailer(email)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, notification.NewEmailNotifier(mailer, email.AlertRecipients, app.logger))
	}
	return notification.NewService(app.logger, notifiers...), nil
}

func (app *application) startTrigger(ctx context.Context) error {
	cfg := app.config
	if cfg.Trigger.Mode == config.TriggerModeTemporal {
		return app.startTemporalTrigger(ctx)
	}

	cronTrigger, err := trigger.NewCronTrigger(cfg.Trigger.Schedule, app.scheduler, app.logger)
	if err != nil {
		return err
	}
	cronTrigger.Start()
	app.cron = cronTrigger
	return nil
}

// startTemporalTrigger runs the worker that executes ticks and registers the
// cron workflow that schedules them.
func (app *application) startTemporalTrigger(ctx context.Context) error {
	cfg := app.config

	temporalClient, err := tc.Dial(tc.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    temporal.NewTemporalAdapter(app.logger),
	})
	if err != nil {
		return err
	}
	app.temporalClient = temporalClient

	taskQueue := cfg.Temporal.TaskQueue
	if taskQueue == "" {
		taskQueue = temporal.TaskQueueName
	}

	activityImpl := &activities.Activities{
		Tickers: map[string]activities.Ticker{app.scheduler.TaskID(): app.scheduler},
	}

	w := worker.New(temporalClient, taskQueue, worker.Options{})
	w.RegisterWorkflow(workflows.TickWorkflow)
	w.RegisterActivity(activityImpl)
	if err := w.Start(); err != nil {
		return err
	}
	app.temporalWorker = w
	app.logger.Info().Str("task_queue", taskQueue).Msg("Temporal worker started")

	run, err := workflows.StartCronTick(ctx, temporalClient, taskQueue, cfg.Trigger.Schedule,
		temporal.TickParams{
			TaskID:          app.scheduler.TaskID(),
			ActivityTimeout: temporal.ActivityTimeout(cfg.Trigger.TickTimeout),
		})
	if err != nil {
		return err
	}
	app.logger.Info().
		Str("workflow_id", run.GetID()).
		Str("run_id", run.GetRunID()).
		Msg("Tick cron workflow registered")
	return nil
}

// initRouter sets up all HTTP handlers and returns the router.
func (app *application) initRouter() http.Handler {
	authHandler := handlers.NewAuthHandler(app.config, app.logger)
	taskHandler := handlers.NewTaskHandler(
		map[string]handlers.Ticker{app.scheduler.TaskID(): app.scheduler},
		app.controller,
		app.logger,
	)
	return routes.NewRouter(authHandler, taskHandler, authz.RequireToken([]byte(app.config.JWTSecret)))
}

// startServer launches the HTTP server and handles graceful shutdown.
func (app *application) startServer(ctx context.Context, handler http.Handler) {
	logger := app.logger
	server := &http.Server{
		Addr:              ":" + app.config.ServerPort,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for server errors
	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("Received shutdown signal. Shutting down...")
	case err := <-serverErrCh:
		logger.Error().Err(err).Msg("Server error occurred")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		logger.Info().Msg("HTTP server shutdown complete.")
	}

	if app.cron != nil {
		if err := app.cron.Stop(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Cron trigger did not stop cleanly")
		}
	}
	if app.temporalWorker != nil {
		logger.Info().Msg("Stopping Temporal worker...")
		app.temporalWorker.Stop()
		logger.Info().Msg("Temporal worker stopped.")
	}
}

func (app *application) close() {
	if app.temporalClient != nil {
		app.temporalClient.Close()
	}
	if app.db != nil {
		_ = app.db.Close()
	}
}
