package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	restapi "riskstream/internal/adapters/api"
	"riskstream/internal/adapters/approvals"
	"riskstream/internal/adapters/config"
	"riskstream/internal/adapters/errors/noop"
	"riskstream/internal/adapters/errors/sentry"
	"riskstream/internal/adapters/kafka"
	"riskstream/internal/adapters/redis"
	"riskstream/internal/adapters/websocket"
	"riskstream/internal/api"
	"riskstream/internal/api/health"
	"riskstream/internal/dispatcher"
	"riskstream/internal/domain/activity"
	"riskstream/internal/events"
	"riskstream/internal/metrics"
	"riskstream/internal/services/session"
	"riskstream/internal/store"
	"riskstream/internal/timeline"
	"riskstream/pkg/errors"
	"riskstream/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load configuration
	cfg, err := loadConfig()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize logger
	if err := initLogger(cfg); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	defer logger.Sync()

	log := logger.Get()
	log.Infof("Starting %s %s in %s mode", cfg.App.Name, cfg.App.Version, cfg.App.Env)

	// Initialize error tracker
	errorTracker := initErrorTracker(cfg, log)
	logger.SetErrorTracker(errorTracker)

	metrics.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Activity state
	st := store.New(store.Config{
		ActivityLimit:       cfg.Store.ActivityLimit,
		ThoughtLimit:        cfg.Store.ThoughtLimit,
		MerkleLimit:         cfg.Store.MerkleLimit,
		ThinkingDedupWindow: cfg.Store.ThinkingDedupWindow,
	}, log)
	metrics.RegisterSnapshotCollector(metrics.NewSnapshotCollector(st))

	var shutdown []func()

	// Dispatcher, with the Kafka journal when live frames should be kept
	var opts []dispatcher.Option
	if cfg.Kafka.Enabled && cfg.Stream.Source == config.SourceWebSocket {
		producer := kafka.NewProducer(kafka.ProducerConfig{Brokers: cfg.Kafka.Brokers}, log)
		journal := kafka.NewJournal(producer, cfg.Kafka.JournalTopic, 0, log)
		journal.Start(ctx)
		opts = append(opts, dispatcher.WithTap(journal))
		shutdown = append(shutdown, func() {
			journal.Wait()
			if err := producer.Close(); err != nil {
				log.Warnf("Failed to close Kafka producer: %v", err)
			}
		})
		log.Infof("✓ Journaling stream frames to %s", cfg.Kafka.JournalTopic)
	}
	disp := dispatcher.New(st, log, opts...)

	// Approval cache and REST collaborators
	approvalStore, healthDeps, closeApprovals := initApprovals(cfg, log)
	shutdown = append(shutdown, closeApprovals)

	apiClient := restapi.NewClient(cfg.API, log)
	sess := session.NewService(apiClient, st, approvalStore, log)

	// Event source
	shutdown = append(shutdown, startStream(ctx, cfg, disp, errorTracker, log))

	go watchStages(ctx, st, log)

	if cfg.Stream.PortfolioID != "" {
		errorTracker.SetPortfolio(ctx, cfg.Stream.PortfolioID)
		go func() {
			if err := sess.SelectPortfolio(ctx, cfg.Stream.PortfolioID); err != nil {
				log.Warnf("Failed to load portfolio %s: %v", cfg.Stream.PortfolioID, err)
			}
			if err := sess.LoadAuditTail(ctx); err != nil {
				log.Warnf("Failed to load audit tail: %v", err)
			}
		}()
	}

	// HTTP surface
	healthHandler := health.New(log, storeStream{st}, healthDeps, cfg.App.Name, cfg.App.Version)
	server := api.NewServer(api.ServerConfig{
		Addr:        cfg.HTTP.Addr,
		ServiceName: cfg.App.Name,
		Version:     cfg.App.Version,
	}, healthHandler, st, sess, log)

	go func() {
		if err := server.Start(); err != nil {
			log.Errorf("HTTP server error: %v", err)
		}
	}()

	log.Info("System initialized successfully")

	// Wait for shutdown signal
	waitForShutdown(cancel, server, shutdown, st, errorTracker, log)
}

// loadConfig loads application configuration from environment
func loadConfig() (*config.Config, error) {
	return config.Load()
}

// initLogger initializes structured logging
func initLogger(cfg *config.Config) error {
	return logger.Init(cfg.App.LogLevel, cfg.App.Env)
}

// initErrorTracker initializes error tracking (Sentry or no-op)
func initErrorTracker(cfg *config.Config, log *logger.Logger) errors.Tracker {
	if !cfg.ErrorTracking.Enabled || cfg.ErrorTracking.SentryDSN == "" {
		log.Info("Error tracking disabled")
		return noop.New()
	}

	tracker, err := sentry.New(cfg.ErrorTracking.SentryDSN, cfg.ErrorTracking.Environment, cfg.App.Version)
	if err != nil {
		log.Warnf("Failed to initialize Sentry: %v", err)
		return noop.New()
	}

	log.Info("Error tracking initialized (Sentry)")
	return tracker
}

// initApprovals picks the approval cache backend
func initApprovals(cfg *config.Config, log *logger.Logger) (approvals.Store, map[string]health.Pinger, func()) {
	if cfg.Persistence.Backend == config.BackendRedis {
		client, err := redis.NewClient(cfg.Redis)
		if err == nil {
			log.Infof("✓ Approvals cached in Redis at %s", cfg.Redis.Addr())
			return approvals.NewRedisStore(client, log),
				map[string]health.Pinger{"redis": client},
				func() {
					if err := client.Close(); err != nil {
						log.Warnf("Failed to close Redis: %v", err)
					}
				}
		}
		log.Warnf("Redis unavailable, falling back to file cache: %v", err)
	}

	log.Infof("✓ Approvals cached in %s", cfg.Persistence.Path)
	return approvals.NewFileStore(cfg.Persistence.Path, log), nil, func() {}
}

// startStream connects the configured event source to the dispatcher and returns its stopper
func startStream(ctx context.Context, cfg *config.Config, disp *dispatcher.Dispatcher, tracker errors.Tracker, log *logger.Logger) func() {
	if cfg.Stream.Source == config.SourceKafka {
		consumer := kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers: cfg.Kafka.Brokers,
			GroupID: cfg.Kafka.GroupID,
			Topic:   cfg.Kafka.JournalTopic,
		}, log)

		go func() {
			disp.OnConnectionChange(true)
			if err := consumer.Replay(ctx, disp); err != nil && !errors.Is(err, context.Canceled) {
				log.Errorf("Journal replay failed: %v", err)
			}
			disp.OnConnectionChange(false)
		}()

		return func() {
			if err := consumer.Close(); err != nil {
				log.Warnf("Failed to close Kafka consumer: %v", err)
			}
		}
	}

	handler := &streamHandler{Dispatcher: disp, tracker: tracker, log: log}
	client := websocket.NewClient(websocket.ClientConfig{
		URL:              cfg.Stream.URL,
		ReconnectDelay:   cfg.Stream.ReconnectDelay,
		HandshakeTimeout: cfg.Stream.HandshakeTimeout,
		WriteTimeout:     cfg.Stream.WriteTimeout,
	}, handler, log)
	handler.client = client
	handler.portfolioID = cfg.Stream.PortfolioID

	if err := client.Connect(ctx); err != nil {
		log.Warnf("Initial stream connection failed, retrying every %s: %v", cfg.Stream.ReconnectDelay, err)
	}

	return client.Close
}

// streamHandler forwards transport callbacks to the dispatcher and subscribes to the
// tracked portfolio whenever a connection opens
type streamHandler struct {
	*dispatcher.Dispatcher
	client      *websocket.Client
	portfolioID string
	tracker     errors.Tracker
	log         *logger.Logger
}

func (h *streamHandler) OnConnectionChange(connected bool) {
	h.Dispatcher.OnConnectionChange(connected)

	state := "disconnected"
	if connected {
		state = "connected"
	}
	h.tracker.AddBreadcrumb(context.Background(), "stream "+state, "transport", errors.LevelInfo, nil)

	if !connected || h.portfolioID == "" {
		return
	}
	msg, err := events.NewEnvelope("subscribe", map[string]string{"portfolio_id": h.portfolioID})
	if err != nil {
		h.log.Warnf("Failed to encode subscribe message: %v", err)
		return
	}
	// outside the transport callback
	go func() {
		if err := h.client.Send(msg); err != nil {
			h.log.Warnf("Failed to subscribe to portfolio %s: %v", h.portfolioID, err)
		}
	}()
}

// storeStream reports stream readiness from the store's connection flag
type storeStream struct {
	st *store.Store
}

func (s storeStream) IsConnected() bool {
	return s.st.Snapshot().Connected
}

// watchStages logs every change of the pipeline timeline
func watchStages(ctx context.Context, st *store.Store, log *logger.Logger) {
	log = log.Component("timeline")

	var (
		last     string
		runStart time.Time
	)
	for snap := range st.Subscribe(ctx) {
		stages := timeline.DeriveStages(snap)

		parts := make([]string, len(stages))
		for i, s := range stages {
			parts[i] = string(s.ID) + "=" + string(s.Status)
		}
		current := strings.Join(parts, " ")
		if current == last {
			continue
		}
		last = current

		if runStart.IsZero() || snap.ActivityCleared() {
			runStart = time.Now()
		}

		log.Infow("Pipeline "+current,
			"version", humanize.Comma(int64(snap.Version)),
			"activities", len(snap.Activities),
			"active_agents", activeNames(snap.ActiveAgents),
			"run_started", humanize.Time(runStart),
		)
	}
}

func activeNames(agents []activity.Agent) string {
	names := make([]string, len(agents))
	for i, a := range agents {
		names[i] = a.Name
	}
	return strings.Join(names, ",")
}

// waitForShutdown waits for shutdown signal and performs graceful shutdown
func waitForShutdown(cancel context.CancelFunc, server *api.Server, stoppers []func(), st *store.Store, errorTracker errors.Tracker, log *logger.Logger) {
	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	log.Info("Shutting down...")

	// Graceful shutdown
	cancel()

	ctx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()

	if err := server.Shutdown(ctx); err != nil {
		log.Warnf("Failed to stop HTTP server: %v", err)
	}

	for _, stop := range stoppers {
		stop()
	}

	final := st.Snapshot()
	st.Close()
	log.Infof("Applied %s state changes", humanize.Comma(int64(final.Version)))

	// Flush error tracker
	if errorTracker != nil {
		if err := errorTracker.Flush(ctx); err != nil {
			log.Warnf("Failed to flush error tracker: %v", err)
		}
	}

	log.Info("Shutdown complete")
}
