package temporal

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/client"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// DialConfig describes how to reach the Temporal frontend
type DialConfig struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	// DialRetries bounds connection attempts; zero retries until ctx is done.
	DialRetries int `mapstructure:"dial_retries"`
}

// dial is replaced in tests
var dial = client.DialContext

// maxDialDelay caps the linear delay between dial attempts
var maxDialDelay = 15 * time.Second

// Dial connects the SDK client, retrying while the server is not ready.
// dialOpts are added to the gRPC connection, e.g. the circuit breaker
// interceptor.
func Dial(ctx context.Context, cfg DialConfig, logger *zap.Logger, dialOpts ...grpc.DialOption) (client.Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    NewSDKLogger(logger),
		ConnectionOptions: client.ConnectionOptions{
			DialOptions: dialOpts,
		},
	}

	for attempt := 1; ; attempt++ {
		c, err := dial(ctx, opts)
		if err == nil {
			logger.Info("Connected to Temporal", zap.String("host", cfg.HostPort), zap.String("namespace", cfg.Namespace))
			return c, nil
		}
		if cfg.DialRetries > 0 && attempt >= cfg.DialRetries {
			return nil, fmt.Errorf("dial temporal %s after %d attempts: %w", cfg.HostPort, attempt, err)
		}
		delay := time.Duration(attempt) * time.Second
		if delay > maxDialDelay {
			delay = maxDialDelay
		}
		logger.Warn("Temporal not ready, retrying", zap.Int("attempt", attempt), zap.String("host", cfg.HostPort), zap.Duration("sleep", delay), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("dial temporal %s: %w", cfg.HostPort, ctx.Err())
		case <-time.After(delay):
		}
	}
}

// NewCoordinator dials Temporal and returns the coordinator client over its
// workflow service along with the SDK client to close on shutdown.
func NewCoordinator(ctx context.Context, cfg DialConfig, opts ClientOptions, dialOpts ...grpc.DialOption) (*Client, client.Client, error) {
	sdk, err := Dial(ctx, cfg, opts.Logger, dialOpts...)
	if err != nil {
		return nil, nil, err
	}
	if opts.Namespace == "" {
		opts.Namespace = cfg.Namespace
	}
	return NewClient(sdk.WorkflowService(), opts), sdk, nil
}
