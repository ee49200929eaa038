package db

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/agent"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/metrics"
)

// ErrUnsupportedDriver is returned for drivers other than postgres and sqlite3
var ErrUnsupportedDriver = errors.New("unsupported journal driver")

// Config holds journal database configuration
type Config struct {
	Enabled         bool          `mapstructure:"enabled"`
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxConnections  int           `mapstructure:"max_connections"`
	IdleConnections int           `mapstructure:"idle_connections"`
	MaxLifetime     time.Duration `mapstructure:"max_lifetime"`
	Workers         int           `mapstructure:"workers"`
	QueueSize       int           `mapstructure:"queue_size"`
}

func (c *Config) applyDefaults() {
	if c.MaxConnections == 0 {
		c.MaxConnections = 10
	}
	if c.IdleConnections == 0 {
		c.IdleConnections = 2
	}
	if c.MaxLifetime == 0 {
		c.MaxLifetime = 5 * time.Minute
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1000
	}
}

// Client journals task outcomes. Writes queued through ObserveTask are
// applied by a small worker pool so agents never wait on the database.
type Client struct {
	db     *circuitbreaker.DatabaseWrapper
	logger *zap.Logger

	writeQueue chan *TaskOutcome
	stopCh     chan struct{}
	workerWg   sync.WaitGroup
	closeOnce  sync.Once
}

var _ agent.Observer = (*Client)(nil)

// Open connects to the journal database and starts the write workers
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.Driver != "postgres" && cfg.Driver != "sqlite3" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, cfg.Driver)
	}
	cfg.applyDefaults()

	rawDB, err := sqlx.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	rawDB.SetMaxOpenConns(cfg.MaxConnections)
	rawDB.SetMaxIdleConns(cfg.IdleConnections)
	rawDB.SetConnMaxLifetime(cfg.MaxLifetime)

	client := NewClient(rawDB, cfg, logger)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.db.PingContext(pingCtx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Journal database initialized",
		zap.String("driver", cfg.Driver),
		zap.Int("max_connections", cfg.MaxConnections),
		zap.Int("workers", cfg.Workers),
	)
	return client, nil
}

// NewClient wraps an open database and starts the write workers
func NewClient(rawDB *sqlx.DB, cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	c := &Client{
		db:         circuitbreaker.NewDatabaseWrapper(rawDB, logger),
		logger:     logger,
		writeQueue: make(chan *TaskOutcome, cfg.QueueSize),
		stopCh:     make(chan struct{}),
	}
	for i := 0; i < cfg.Workers; i++ {
		c.workerWg.Add(1)
		go c.writeWorker(i)
	}
	return c
}

// EnsureSchema creates the journal table if it does not exist
func (c *Client) EnsureSchema(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create task_outcomes: %w", err)
	}
	if _, err := c.db.ExecContext(ctx, schemaIndex); err != nil {
		return fmt.Errorf("create task_outcomes index: %w", err)
	}
	return nil
}

// SaveTaskOutcome writes one journal row
func (c *Client) SaveTaskOutcome(ctx context.Context, rec *TaskOutcome) error {
	_, err := c.db.NamedExecContext(ctx, insertTaskOutcome, rec)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.JournalWrites.WithLabelValues(status).Inc()
	if err != nil {
		return fmt.Errorf("save task outcome for %s: %w", rec.WorkflowID, err)
	}
	return nil
}

// RecentOutcomes returns up to limit journal rows of a workflow, newest first
func (c *Client) RecentOutcomes(ctx context.Context, workflowID string, limit int) ([]TaskOutcome, error) {
	var out []TaskOutcome
	if err := c.db.SelectContext(ctx, &out, c.db.Rebind(selectTaskOutcomes), workflowID, limit); err != nil {
		return nil, fmt.Errorf("list task outcomes for %s: %w", workflowID, err)
	}
	return out, nil
}

// ObserveTask queues the journal row of a processed task. When the queue
// is full the row is written synchronously rather than dropped.
func (c *Client) ObserveTask(ctx context.Context, outcome agent.TaskOutcome) {
	rec := NewTaskOutcome(outcome)
	select {
	case <-c.stopCh:
		c.logger.Warn("Journal closed, dropping task outcome", zap.String("workflow_id", rec.WorkflowID))
		return
	default:
	}
	select {
	case c.writeQueue <- rec:
	default:
		c.logger.Warn("Journal write queue is full, falling back to synchronous write",
			zap.String("workflow_id", rec.WorkflowID))
		c.write(rec)
	}
}

func (c *Client) writeWorker(id int) {
	defer c.workerWg.Done()
	c.logger.Debug("Journal worker started", zap.Int("worker_id", id))
	for {
		select {
		case <-c.stopCh:
			c.drainQueue()
			c.logger.Debug("Journal worker stopped", zap.Int("worker_id", id))
			return
		case rec := <-c.writeQueue:
			c.write(rec)
		}
	}
}

func (c *Client) write(rec *TaskOutcome) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.SaveTaskOutcome(ctx, rec); err != nil {
		c.logger.Error("Failed to journal task outcome", zap.Error(err))
	}
}

// drainQueue writes what is left in the queue during shutdown
func (c *Client) drainQueue() {
	timeout := time.After(10 * time.Second)
	for {
		select {
		case rec := <-c.writeQueue:
			c.write(rec)
		case <-timeout:
			c.logger.Warn("Timeout draining journal queue")
			return
		default:
			return
		}
	}
}

// Ping checks connectivity through the circuit breaker
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Wrapper returns the underlying DatabaseWrapper for health checks
func (c *Client) Wrapper() *circuitbreaker.DatabaseWrapper {
	return c.db
}

// Close drains queued writes and closes the database
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stopCh)
		c.workerWg.Wait()
		if cerr := c.db.Close(); cerr != nil {
			err = fmt.Errorf("failed to close database: %w", cerr)
		}
	})
	return err
}
