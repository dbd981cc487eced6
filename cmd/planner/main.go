package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"golang.org/x/sync/errgroup"

	"github.com/Jackyman666/momentum-ai-backend/internal/config"
	"github.com/Jackyman666/momentum-ai-backend/internal/consumer"
	"github.com/Jackyman666/momentum-ai-backend/internal/jobs"
	"github.com/Jackyman666/momentum-ai-backend/internal/llm"
	"github.com/Jackyman666/momentum-ai-backend/internal/mcp"
	"github.com/Jackyman666/momentum-ai-backend/internal/metrics"
	"github.com/Jackyman666/momentum-ai-backend/internal/planner"
	"github.com/Jackyman666/momentum-ai-backend/internal/queue"
	"github.com/Jackyman666/momentum-ai-backend/internal/storage"
	"github.com/Jackyman666/momentum-ai-backend/internal/stream"
)

var version = "dev"

const (
	// jobGracePeriod bounds how long in-flight plan jobs may keep running after a signal
	jobGracePeriod = 30 * time.Second
	// serverDrainTimeout bounds closing HTTP connections once every job has ended
	serverDrainTimeout = 5 * time.Second
)

func main() {
	logLevel := os.Getenv("MOMENTUM_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}
	var level slog.Level
	switch strings.ToUpper(logLevel) {
	case "DEBUG":
		level = slog.LevelDebug
	case "INFO":
		level = slog.LevelInfo
	case "WARN", "WARNING":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting Momentum planner", "version", version, "port", cfg.Port, "logLevel", logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		slog.Error("Planner stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Planner shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	planStore, err := openPlanStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer planStore.Close()

	var m *metrics.Metrics
	var observers []jobs.Observer
	if cfg.MetricsEnabled {
		m = metrics.NewMetrics(metrics.DefaultNamespace)
		observers = append(observers, m)
		slog.Info("Metrics enabled", "path", "/metrics")
	} else {
		slog.Info("Metrics disabled")
	}

	queueClient, err := openQueueClient(ctx, cfg)
	if err != nil {
		return err
	}
	var relay *queue.Relay
	if queueClient != nil {
		defer queueClient.Close()

		relayOpts := []queue.RelayOption{queue.WithRelayLogger(logger)}
		if m != nil {
			relayOpts = append(relayOpts, queue.WithDropRecorder(m))
		}
		relay = queue.NewRelay(queueClient, relayOpts...)
		observers = append(observers, relay)
	}

	registry := jobs.NewStore(jobs.WithLogger(logger), jobs.WithObserver(observers...))
	runner := jobs.NewRunner(registry, jobs.WithTimeout(cfg.JobTimeout), jobs.WithRunnerLogger(logger))
	service := jobs.NewService(registry, runner,
		jobs.WithMaxConcurrent(cfg.MaxConcurrentJobs),
		jobs.WithServiceLogger(logger),
	)
	janitor := jobs.NewJanitor(registry,
		jobs.WithRetention(cfg.JobRetention, cfg.JobMaxRetention),
		jobs.WithSchedule(cfg.SweepSchedule),
		jobs.WithJanitorLogger(logger),
	)

	generator := planner.NewGenerator(newCompleter(cfg), planStore,
		planner.WithSystemPrompt(cfg.Planner.SystemPrompt),
		planner.WithTaskRange(cfg.Planner.MinTasks, cfg.Planner.MaxTasks),
		planner.WithLogger(logger),
	)
	plans := planner.New(service, generator, planStore, logger)

	streamOpts := []stream.Option{stream.WithKeepAlive(cfg.StreamKeepAlive), stream.WithLogger(logger)}
	handlerOpts := []mcp.HandlerOption{mcp.WithSubmitLimit(cfg.SubmitRate, cfg.SubmitBurst)}
	var recorder mcp.RequestRecorder
	var metricsHandler http.Handler
	if m != nil {
		streamOpts = append(streamOpts, stream.WithObserver(m))
		handlerOpts = append(handlerOpts, mcp.WithRecorder(m))
		recorder = m
		metricsHandler = m.Handler()
	}
	adapter := stream.NewAdapter(service, streamOpts...)

	mcpServer := mcp.NewServer(plans, recorder, version)
	handler := mcp.NewHandler(plans, adapter, mcpServer, handlerOpts...)

	router := mux.NewRouter()
	router.Use(mcp.CORS(cfg.CORSOrigins))
	handler.Routes(router, mcpserver.NewStreamableHTTPServer(mcpServer.GetMCPServer()), metricsHandler)

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Server listening", "addr", server.Addr)
		slog.Info("Plan generation: POST /plans/generate")
		slog.Info("Plan stream: GET /plans/stream/{goal_id} (SSE)")
		slog.Info("MCP endpoint: POST /mcp")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return janitor.Run(gctx)
	})

	// the relay outlives gctx: it stops only after the last job event is buffered
	relayCtx, stopRelay := context.WithCancel(context.Background())
	defer stopRelay()
	if relay != nil {
		g.Go(func() error {
			return relay.Run(relayCtx)
		})
	}

	if queueClient != nil && cfg.RequestQueue != "" {
		var consumed consumer.RequestRecorder
		if m != nil {
			consumed = m
		}
		requests := consumer.NewRequestConsumer(queueClient, cfg.RequestQueue, plans, consumed, logger)
		g.Go(func() error {
			return requests.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Initiating shutdown")
		drain(service, stopRelay, server, jobGracePeriod)
		return nil
	})

	return g.Wait()
}

// drain shuts down in dependency order. Jobs get up to jobGrace to finish
// (new submissions are refused meanwhile), which ends every open stream on
// its terminal frame. The relay is stopped once it has buffered those final
// events, then the HTTP server closes the remaining connections.
func drain(service *jobs.Service, stopRelay context.CancelFunc, server *http.Server, jobGrace time.Duration) {
	jobCtx, cancelJobs := context.WithTimeout(context.Background(), jobGrace)
	defer cancelJobs()
	if err := service.Shutdown(jobCtx); err != nil {
		slog.Warn("Plan jobs aborted at shutdown", "error", err)
	}

	stopRelay()

	serverCtx, cancelServer := context.WithTimeout(context.Background(), serverDrainTimeout)
	defer cancelServer()
	if err := server.Shutdown(serverCtx); err != nil {
		slog.Error("Server shutdown error", "error", err)
	}
}

func openPlanStore(ctx context.Context, cfg *config.Config) (storage.PlanStore, error) {
	switch cfg.DatabaseKind() {
	case config.DatabasePostgres:
		slog.Info("Using PostgreSQL plan store")
		store, err := storage.NewPgStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create PostgreSQL store: %w", err)
		}
		return store, nil
	case config.DatabaseSQLite:
		slog.Info("Using SQLite plan store", "path", cfg.SQLitePath())
		store, err := storage.OpenSQLite(ctx, cfg.SQLitePath())
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		slog.Info("Using in-memory plan store (not recommended for production)")
		return storage.NewMemoryStore(), nil
	}
}

func openQueueClient(ctx context.Context, cfg *config.Config) (queue.Client, error) {
	switch cfg.Transport {
	case config.TransportRabbitMQ:
		slog.Info("RabbitMQ configuration", "exchange", cfg.RabbitMQExchange, "poolSize", cfg.RabbitMQPoolSize)
		client, err := queue.NewRabbitMQClientPooled(cfg.RabbitMQURL, cfg.RabbitMQExchange, cfg.RabbitMQPoolSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
		}
		return client, nil
	case config.TransportSQS:
		slog.Info("SQS configuration", "region", cfg.AWSRegion, "eventsQueue", cfg.SQSEventsQueueURL)
		client, err := queue.NewSQSClient(ctx, cfg.AWSRegion, cfg.SQSEventsQueueURL)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		slog.Info("No message transport configured, job events stay in process")
		return nil, nil
	}
}

func newCompleter(cfg *config.Config) llm.Completer {
	if cfg.LLMFake {
		slog.Warn("Using fake LLM, generated plans are placeholders")
		return &llm.Fake{Tasks: cfg.Planner.MinTasks}
	}
	return llm.NewClient(llm.Config{
		APIKey:    cfg.LLMAPIKey,
		BaseURL:   cfg.LLMBaseURL,
		Model:     cfg.LLMModel,
		MaxTokens: cfg.LLMMaxTokens,
		Timeout:   cfg.LLMTimeout,
	})
}
