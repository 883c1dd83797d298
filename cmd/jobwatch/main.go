package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/reqhub/jobwatch/internal/config"
	"github.com/reqhub/jobwatch/internal/ledger"
	"github.com/reqhub/jobwatch/internal/notify"
	"github.com/reqhub/jobwatch/internal/ocr"
	"github.com/reqhub/jobwatch/internal/pipeline"
	"github.com/reqhub/jobwatch/internal/state"
	"github.com/reqhub/jobwatch/internal/transport"
	"github.com/reqhub/jobwatch/internal/upload"
	"github.com/reqhub/jobwatch/internal/watch"
	"github.com/reqhub/jobwatch/shared/logger"
	"github.com/reqhub/jobwatch/shared/postgresql"
	"github.com/reqhub/jobwatch/shared/rabbitmq"
)

const usage = `Usage: jobwatch [flags] <command> [args]

Commands:
  upload <file>...     upload files and print their references
  ocr <file>...        submit files for OCR and watch until completion
  pipeline <file>...   upload files, start a pipeline run, watch until completion
  history              list recent submissions from the ledger

Flags:
`

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

// app bundles everything a subcommand needs.
type app struct {
	cfg     *config.Config
	logger  *logger.Logger
	tc      *transport.Client
	tracker *state.Tracker
	ledger  *ledger.Ledger
	notify  *notify.Publisher
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("JOBWATCH_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/jobwatch/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	pipelineID := flag.String("pipeline", "", "Pipeline to start (pipeline command)")
	orgID := flag.String("org", "", "Organization scope (pipeline command)")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		return fmt.Errorf("a command is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateClient(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting jobwatch",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("base_url", cfg.Client.BaseURL),
	)

	a := &app{
		cfg:     cfg,
		logger:  appLogger,
		tc:      transport.New(cfg.Client.BaseURL, cfg.Client.HTTPTimeout, appLogger.Logger),
		tracker: &state.Tracker{},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Ledger.Enabled {
		dbClient, err := initPostgreSQL(&cfg.Ledger.Database, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize ledger database: %w", err)
		}
		defer dbClient.Close()

		if err := dbClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("ledger database is not usable: %w", err)
		}

		a.ledger = ledger.New(dbClient, appLogger.Logger)
		if err := a.ledger.EnsureSchema(ctx); err != nil {
			return err
		}
	}

	if cfg.Notify.Enabled {
		rabbitClient, err := initRabbitMQ(&cfg.Notify.RabbitMQ, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()

		a.notify = notify.New(rabbitClient, appLogger.Logger)
	}

	switch args[0] {
	case "upload":
		return a.runUpload(ctx, args[1:])
	case "ocr":
		return a.runOCR(ctx, args[1:])
	case "pipeline":
		return a.runPipeline(ctx, args[1:], *pipelineID, *orgID)
	case "history":
		return a.runHistory(ctx)
	default:
		flag.Usage()
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func (a *app) runUpload(ctx context.Context, paths []string) error {
	files, err := readFiles(paths)
	if err != nil {
		return err
	}

	client := upload.NewClient(a.tc, a.tracker, a.logger.Logger)
	refs, err := client.Send(ctx, files)
	if err != nil {
		return err
	}

	for i, ref := range refs {
		fmt.Printf("%s\t%s\n", ref, files[i].Name)
	}
	return nil
}

func (a *app) runOCR(ctx context.Context, paths []string) error {
	files, err := readFiles(paths)
	if err != nil {
		return err
	}

	client := ocr.NewClient(ocr.Config{
		Transport:    a.tc,
		PollInterval: a.cfg.Client.PollInterval,
		FetchTimeout: a.cfg.Client.HTTPTimeout,
		Tracker:      a.tracker,
		Logger:       a.logger.Logger,
	})
	defer client.Close()

	taskIDs, err := client.StartTask(ctx, files)
	if err != nil {
		return err
	}

	for i, taskID := range taskIDs {
		detail := ""
		if i < len(files) {
			detail = files[i].Name
		}
		a.recordSubmission(ctx, taskID, "ocr", detail, string(ocr.StatusStarting))
	}

	a.logger.Info("OCR tasks submitted", slog.Int("count", len(taskIDs)))

	var firstErr error
	for _, h := range client.WatchAll(taskIDs) {
		st, err := awaitOCR(ctx, h)
		h.Close()
		if err != nil {
			firstErr = coalesce(firstErr, err)
			continue
		}

		a.recordOutcome(ctx, h.ID(), "ocr", string(st.Status))
		fmt.Printf("%s\t%s\n", h.ID(), st.Status)
		if st.Status == ocr.StatusFailed {
			firstErr = coalesce(firstErr, fmt.Errorf("task %s failed", h.ID()))
		}
	}
	return firstErr
}

func (a *app) runPipeline(ctx context.Context, paths []string, pipelineID, orgID string) error {
	if pipelineID == "" {
		return fmt.Errorf("-pipeline is required for the pipeline command")
	}
	if orgID == "" {
		return fmt.Errorf("-org is required for the pipeline command")
	}

	files, err := readFiles(paths)
	if err != nil {
		return err
	}

	uploader := upload.NewClient(a.tc, a.tracker, a.logger.Logger)
	refs, err := uploader.Send(ctx, files)
	if err != nil {
		return err
	}

	client := pipeline.NewClient(pipeline.Config{
		Transport:    a.tc,
		PollInterval: a.cfg.Client.PollInterval,
		FetchTimeout: a.cfg.Client.HTTPTimeout,
		Tracker:      a.tracker,
		Logger:       a.logger.Logger,
	})
	defer client.Close()

	res, err := client.Start(ctx, pipeline.StartParams{
		PipelineID:     pipelineID,
		Files:          refs,
		OrganizationID: orgID,
	})
	if err != nil {
		return err
	}

	a.recordSubmission(ctx, res.RunID, "pipeline", pipelineID, string(res.RunState()))
	a.logger.Info("Pipeline run started",
		slog.String("run_id", res.RunID),
		slog.String("state", string(res.RunState())),
	)

	h := client.Watch(res.RunID, orgID)
	defer h.Close()

	st, err := awaitPipeline(ctx, h)
	if err != nil {
		return err
	}

	a.recordOutcome(ctx, res.RunID, "pipeline", string(st.State))
	fmt.Printf("%s\t%s\n", res.RunID, st.State)
	if st.State == pipeline.StateFailed {
		return fmt.Errorf("run %s failed", res.RunID)
	}
	return nil
}

func (a *app) runHistory(ctx context.Context) error {
	if a.ledger == nil {
		return fmt.Errorf("history requires the ledger to be enabled in the config")
	}

	entries, err := a.ledger.ListRecent(ctx, 20)
	if err != nil {
		return err
	}

	for _, e := range entries {
		completed := "-"
		if e.CompletedAt.Valid {
			completed = e.CompletedAt.Time.Format(time.RFC3339)
		}
		fmt.Printf("%s\t%s\t%s\t%s\t%s\n", e.JobID, e.Family, e.Status,
			e.SubmittedAt.Format(time.RFC3339), completed)
	}
	return nil
}

// recordSubmission writes to the ledger when it is configured; ledger
// failures are logged, not fatal.
func (a *app) recordSubmission(ctx context.Context, jobID, family, detail, status string) {
	if err := a.ledger.RecordSubmission(ctx, jobID, family, detail, status); err != nil {
		a.logger.Warn("Failed to record submission", slog.Any("error", err))
	}
}

func (a *app) recordOutcome(ctx context.Context, jobID, family, status string) {
	if err := a.ledger.RecordOutcome(ctx, jobID, status, ""); err != nil {
		a.logger.Warn("Failed to record outcome", slog.Any("error", err))
	}
	if err := a.notify.JobCompleted(ctx, family, jobID, status); err != nil {
		a.logger.Warn("Failed to publish completion event", slog.Any("error", err))
	}
}

// awaitOCR blocks until the task reaches a terminal status.
func awaitOCR(ctx context.Context, h *watch.Handle[ocr.TaskStatus]) (ocr.TaskStatus, error) {
	for {
		snap := h.Snapshot()
		if snap.Data != nil && snap.Data.Terminal() {
			return *snap.Data, nil
		}
		if snap.Err != nil && snap.Data == nil {
			return ocr.TaskStatus{}, snap.Err
		}

		select {
		case <-ctx.Done():
			return ocr.TaskStatus{}, ctx.Err()
		case <-h.Updates():
		}
	}
}

// awaitPipeline blocks until the run reaches a terminal state.
func awaitPipeline(ctx context.Context, h *watch.Handle[pipeline.RunStatus]) (pipeline.RunStatus, error) {
	for {
		snap := h.Snapshot()
		if snap.Data != nil && snap.Data.Terminal() {
			return *snap.Data, nil
		}
		if snap.Err != nil && snap.Data == nil {
			return pipeline.RunStatus{}, snap.Err
		}

		select {
		case <-ctx.Done():
			return pipeline.RunStatus{}, ctx.Err()
		case <-h.Updates():
		}
	}
}

func readFiles(paths []string) ([]transport.File, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("at least one file argument is required")
	}

	files := make([]transport.File, 0, len(paths))
	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		files = append(files, transport.File{
			Name:    filepath.Base(path),
			Content: content,
		})
	}
	return files, nil
}

func coalesce(existing, next error) error {
	if existing != nil {
		return existing
	}
	return next
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ publisher
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}
