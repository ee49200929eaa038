package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"

	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/activity"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/agent"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/circuitbreaker"
	cfg "github.com/Kocoro-lab/Shannon/go/flowworker/internal/config"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/coordinator"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/coordinator/memory"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/db"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/decider"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/health"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/history"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/httpapi"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/interceptors"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/registry"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/sample"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/streaming"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/temporal"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/tracing"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	configPath := getEnvOrDefault("FLOWWORKER_CONFIG", "")
	config, err := cfg.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	level := zap.NewAtomicLevel()
	logger, err := newLogger(config.Logging, level)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	shutdownTracing, err := tracing.Initialize(config.Tracing, logger)
	if err != nil {
		logger.Warn("Tracing disabled", zap.Error(err))
		shutdownTracing = func(context.Context) error { return nil }
	}

	circuitbreaker.StartMetricsCollection(ctx, 10*time.Second)

	if config.Metrics.Enabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			addr := ":" + strconv.Itoa(config.Metrics.Port)
			logger.Info("Metrics server listening", zap.String("address", addr))
			if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
				logger.Error("Failed to start metrics server", zap.Error(err))
			}
		}()
	}

	// The admin server comes up before the coordinator so health checks answer
	// while the dial is still retrying.
	ring := streaming.NewManager(config.Events.RingCapacity)
	hm := health.NewManager(config.Health.CheckInterval, logger)
	var healthServer *http.Server
	if config.Health.Enabled {
		stream := httpapi.NewStreamingHandler(ring, logger)
		if config.Events.StreamSecret != "" {
			stream.WithAuth(httpapi.NewTokenVerifier(config.Events.StreamSecret))
		}
		healthServer = health.StartHealthServer(hm, config.Health.Port, logger, stream)
		hm.Start(ctx)
	}

	workers := config.Workers
	if len(workers) == 0 {
		workers = defaultWorkers()
		logger.Info("No workers configured, running the greeting sample", zap.Int("workers", len(workers)))
	}

	// Coordinator
	var (
		coord     coordinator.Client
		memCoord  *memory.Coordinator
		sdkClient client.Client
	)
	switch config.Coordinator.Provider {
	case cfg.ProviderMemory:
		memCoord = memory.New(memory.Options{
			PollTimeout: config.Coordinator.PollTimeout,
			PageSize:    int(config.Coordinator.PageSize),
			Logger:      logger,
		})
		wrapped := circuitbreaker.NewCoordinatorWrapper(memCoord, "memory", config.CircuitBreaker, logger)
		_ = hm.RegisterChecker(health.NewBreakerChecker("coordinator", wrapped, true))
		coord = wrapped
	default:
		breaker := circuitbreaker.NewGRPCWrapper("temporal", "coordinator", config.CircuitBreaker, logger)
		tc, sdk, err := temporal.NewCoordinator(ctx,
			temporal.DialConfig{
				HostPort:    config.Coordinator.HostPort,
				Namespace:   config.Coordinator.Namespace,
				DialRetries: config.Coordinator.DialRetries,
			},
			temporal.ClientOptions{
				PollTimeout: config.Coordinator.PollTimeout,
				PageSize:    config.Coordinator.PageSize,
				PageTTL:     config.Coordinator.PageTTL,
				Logger:      logger,
			},
			grpc.WithChainUnaryInterceptor(
				interceptors.WorkerUnaryClientInterceptor(agent.NewIdentity()),
				breaker.UnaryClientInterceptor(),
			),
		)
		if err != nil {
			logger.Fatal("Failed to connect to Temporal", zap.Error(err))
		}
		sdkClient = sdk
		_ = hm.RegisterChecker(health.NewPingChecker("coordinator", pingFunc(func(ctx context.Context) error {
			_, err := sdk.CheckHealth(ctx, &client.CheckHealthRequest{})
			return err
		}), breaker, true))
		coord = tc
	}

	// Registry
	reg := registry.New(logger)
	sample.Register(reg, sampleRegistration(workers), coord, agent.NewIdentity())

	// Event sinks
	observers := []agent.Observer{ring}

	var redisWrapper *circuitbreaker.RedisWrapper
	if config.Events.RedisAddr != "" {
		redisWrapper = circuitbreaker.NewRedisWrapper(redis.NewClient(&redis.Options{
			Addr:     config.Events.RedisAddr,
			Password: config.Events.RedisPassword,
			DB:       config.Events.RedisDB,
		}), logger)
		if err := redisWrapper.Ping(ctx); err != nil {
			logger.Warn("Redis not reachable yet, events will be retried per task", zap.Error(err))
		}
		observers = append(observers, streaming.NewRedisSink(redisWrapper, config.Events.Stream, config.Events.MaxLen, logger))
		_ = hm.RegisterChecker(health.NewPingChecker("redis", redisWrapper, redisWrapper, false))
		logger.Info("Publishing lifecycle events to Redis", zap.String("stream", config.Events.Stream))
	}

	var journal *db.Client
	if config.Journal.Enabled {
		journal, err = db.Open(ctx, config.Journal, logger)
		if err != nil {
			logger.Fatal("Failed to open outcome journal", zap.Error(err))
		}
		if err := journal.EnsureSchema(ctx); err != nil {
			logger.Fatal("Failed to prepare outcome journal", zap.Error(err))
		}
		observers = append(observers, journal)
		_ = hm.RegisterChecker(health.NewPingChecker("journal", journal, journal.Wrapper(), false))
	}

	// Agents
	group, err := buildGroup(coord, reg, workers, agent.Options{
		Logger:    logger,
		Backoff:   config.Poll.Backoff,
		Observers: observers,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to build agents", zap.Error(err))
	}
	group.SetRateLimit(config.Poll.RatePerSecond, config.Poll.Burst)
	_ = hm.RegisterChecker(health.NewAgentGroupChecker(group, len(group.Agents())))

	// Hot reload of the settings that can change without a restart
	if configPath != "" {
		watcher, err := cfg.NewWatcher(configPath, logger)
		if err != nil {
			logger.Warn("Config hot reload disabled", zap.Error(err))
		} else {
			watcher.OnChange(func(c *cfg.Config) {
				if lvl, err := zapcore.ParseLevel(c.Logging.Level); err == nil && lvl != level.Level() {
					level.SetLevel(lvl)
					logger.Info("Log level changed", zap.String("level", lvl.String()))
				}
				group.SetRateLimit(c.Poll.RatePerSecond, c.Poll.Burst)
			})
			watcher.Start()
		}
	}

	done := make(chan error, 1)
	go func() { done <- group.Run(ctx) }()
	logger.Info("Flow worker started",
		zap.String("coordinator", config.Coordinator.Provider),
		zap.Int("agents", len(group.Agents())),
	)

	if memCoord != nil {
		if name := os.Getenv("FLOWWORKER_SAMPLE_GREETING"); name != "" {
			go runSampleGreeting(ctx, memCoord, sampleRegistration(workers), name, logger)
		}
	}

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		logger.Info("Shutting down flow worker", zap.String("signal", sig.String()))
		group.StopAll()
		select {
		case err := <-done:
			if err != nil {
				logger.Error("Agents exited with error", zap.Error(err))
			}
		case <-time.After(2 * config.Coordinator.PollTimeout):
			logger.Warn("Agents did not stop in time, cancelling")
			cancel()
			<-done
		}
	case err := <-done:
		if err != nil {
			logger.Error("Agents exited with error", zap.Error(err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	hm.Stop()
	if healthServer != nil {
		_ = healthServer.Shutdown(shutdownCtx)
	}
	if journal != nil {
		if err := journal.Close(); err != nil {
			logger.Error("Failed to close outcome journal", zap.Error(err))
		}
	}
	if redisWrapper != nil {
		_ = redisWrapper.Close()
	}
	if sdkClient != nil {
		sdkClient.Close()
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("Failed to flush traces", zap.Error(err))
	}
}

func newLogger(c cfg.LoggingConfig, level zap.AtomicLevel) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	level.SetLevel(lvl)

	zc := zap.NewProductionConfig()
	if c.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}

// buildGroup creates instances agents for every worker. Executors are shared
// by the agents of a role; they keep no per-task state.
func buildGroup(coord coordinator.Client, reg *registry.Registry, workers []registry.Worker, base agent.Options, logger *zap.Logger) (*agent.Group, error) {
	actExec, err := activity.NewExecutor(reg, logger)
	if err != nil {
		return nil, err
	}
	decExec, err := decider.NewExecutor(reg, decider.NewEngine(logger), logger)
	if err != nil {
		return nil, err
	}

	group := agent.NewGroup(logger)
	for _, w := range workers {
		opts := base
		opts.Registration = w.Registration
		opts.Logger = logger.With(zap.String("worker", w.Name))
		for i := 0; i < w.Instances; i++ {
			var a *agent.Agent
			switch w.Role {
			case registry.RoleActivity:
				a, err = agent.NewActivityAgent(coord, actExec, opts)
			case registry.RoleDecider:
				a, err = agent.NewDeciderAgent(coord, decExec, opts)
			default:
				err = fmt.Errorf("worker %q: unknown role %q", w.Name, w.Role)
			}
			if err != nil {
				return nil, err
			}
			group.Add(a)
		}
	}
	if len(group.Agents()) == 0 {
		return nil, errors.New("no agents to run")
	}
	return group, nil
}

func defaultWorkers() []registry.Worker {
	reg := registry.Registration{Domain: "samples", TaskList: "greetings", Version: sample.Version}
	return []registry.Worker{
		{Name: "greeting-decider", Role: registry.RoleDecider, Registration: reg, Instances: 1},
		{Name: "greet-activity", Role: registry.RoleActivity, Registration: reg, Instances: 1},
	}
}

// sampleRegistration picks where the greeting activity gets scheduled: the
// first activity worker's task list.
func sampleRegistration(workers []registry.Worker) registry.Registration {
	for _, w := range workers {
		if w.Role == registry.RoleActivity {
			return w.Registration
		}
	}
	return workers[0].Registration
}

func runSampleGreeting(ctx context.Context, c *memory.Coordinator, reg registry.Registration, name string, logger *zap.Logger) {
	exec, err := c.StartWorkflow(ctx, memory.StartWorkflowRequest{
		Domain:       reg.Domain,
		WorkflowID:   "greeting-" + name,
		WorkflowType: history.WorkflowType{Name: sample.WorkflowName, Version: sample.Version},
		TaskList:     reg.TaskList,
		Input:        name,
	})
	if err != nil {
		logger.Error("Failed to start greeting workflow", zap.Error(err))
		return
	}
	out, err := c.Await(ctx, exec)
	if err != nil {
		logger.Error("Greeting workflow did not finish", zap.Error(err))
		return
	}
	logger.Info("Greeting workflow closed",
		zap.String("workflow_id", exec.WorkflowID),
		zap.String("status", string(out.Status)),
		zap.String("result", out.Result),
		zap.String("reason", out.Reason),
	)
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
