package db

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/designdrill/orchestrator/internal/circuitbreaker"
	"github.com/designdrill/orchestrator/internal/metrics"
)

// ErrQueueFull is returned when an async write is dropped because the queue
// is at capacity. Persistence writes are fire-and-forget; callers log and
// move on.
var ErrQueueFull = errors.New("db: write queue full")

// Config holds database configuration
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	WriteQueueSize  int
	WriteWorkers    int
}

// Client manages database connections and operations
type Client struct {
	db     *circuitbreaker.DatabaseWrapper
	logger *zap.Logger

	// Write queue for async operations
	writeQueue chan WriteRequest
	workers    int
	stopCh     chan struct{}
	workerWg   sync.WaitGroup
}

// WriteRequest represents an async write operation
type WriteRequest struct {
	Type     WriteType
	Data     interface{}
	Callback func(error)
}

type WriteType int

const (
	WriteTypeInterview WriteType = iota
	WriteTypeCycle
	WriteTypeReport
	WriteTypeBatch
)

// String returns the string representation of WriteType
func (wt WriteType) String() string {
	switch wt {
	case WriteTypeInterview:
		return "Interview"
	case WriteTypeCycle:
		return "Cycle"
	case WriteTypeReport:
		return "Report"
	case WriteTypeBatch:
		return "Batch"
	default:
		return "Unknown"
	}
}

// entity is the lowercase metric label for this write type.
func (wt WriteType) entity() string {
	switch wt {
	case WriteTypeInterview:
		return "interview"
	case WriteTypeCycle:
		return "cycle"
	case WriteTypeReport:
		return "report"
	case WriteTypeBatch:
		return "batch"
	default:
		return "unknown"
	}
}

// NewClient creates a new database client with connection pool
func NewClient(config *Config, logger *zap.Logger) (*Client, error) {
	if config.MaxOpenConns == 0 {
		config.MaxOpenConns = 25
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 5
	}
	if config.ConnMaxLifetime == 0 {
		config.ConnMaxLifetime = 30 * time.Minute
	}
	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}
	if config.WriteQueueSize == 0 {
		config.WriteQueueSize = 1024
	}
	if config.WriteWorkers == 0 {
		config.WriteWorkers = 2
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.Database, config.SSLMode,
	)

	rawDB, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	wrapped := circuitbreaker.NewDatabaseWrapper(rawDB, logger)
	wrapped.SetMaxOpenConns(config.MaxOpenConns)
	wrapped.SetMaxIdleConns(config.MaxIdleConns)
	wrapped.SetConnMaxLifetime(config.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := wrapped.PingContext(ctx); err != nil {
		rawDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	client := &Client{
		db:         wrapped,
		logger:     logger,
		writeQueue: make(chan WriteRequest, config.WriteQueueSize),
		workers:    config.WriteWorkers,
		stopCh:     make(chan struct{}),
	}

	client.startWorkers()
	go client.healthCheck()

	logger.Info("Database client initialized",
		zap.String("host", config.Host),
		zap.Int("max_connections", config.MaxOpenConns),
		zap.Int("workers", client.workers),
	)

	return client, nil
}

// startWorkers initializes the worker pool for async writes
func (c *Client) startWorkers() {
	for i := 0; i < c.workers; i++ {
		c.workerWg.Add(1)
		go c.writeWorker(i)
	}
}

// writeWorker processes write requests from the queue. Cycle writes arrive in
// bursts when a multi-hypothesis verification pass completes, so they are
// buffered and flushed as a single transaction.
func (c *Client) writeWorker(id int) {
	c.logger.Debug("Write worker started", zap.Int("worker_id", id))

	batchBuffer := make([]WriteRequest, 0, 32)
	batchTicker := time.NewTicker(1 * time.Second)
	defer batchTicker.Stop()

	for {
		select {
		case <-c.stopCh:
			c.drainQueue(batchBuffer)
			c.logger.Info("Write worker stopped", zap.Int("worker_id", id))
			c.workerWg.Done()
			return

		case req := <-c.writeQueue:
			metrics.PersistenceQueueDepth.Set(float64(len(c.writeQueue)))
			switch req.Type {
			case WriteTypeBatch:
				batchBuffer = append(batchBuffer, req)
				if len(batchBuffer) >= 32 {
					c.processBatch(batchBuffer)
					batchBuffer = batchBuffer[:0]
				}
			default:
				c.processWrite(req)
			}

		case <-batchTicker.C:
			if len(batchBuffer) > 0 {
				c.processBatch(batchBuffer)
				batchBuffer = batchBuffer[:0]
			}
		}
	}
}

// processWrite handles a single write request
func (c *Client) processWrite(req WriteRequest) {
	ctx := context.Background()
	var err error

	switch req.Type {
	case WriteTypeInterview:
		if iv, ok := req.Data.(*Interview); ok {
			err = c.SaveInterview(ctx, iv)
		} else {
			err = fmt.Errorf("unexpected payload %T for interview write", req.Data)
		}
	case WriteTypeCycle:
		if cycle, ok := req.Data.(*InterviewCycle); ok {
			err = c.SaveCycle(ctx, cycle)
		} else {
			err = fmt.Errorf("unexpected payload %T for cycle write", req.Data)
		}
	case WriteTypeReport:
		if report, ok := req.Data.(*InterviewReport); ok {
			err = c.SaveReport(ctx, report)
		} else {
			err = fmt.Errorf("unexpected payload %T for report write", req.Data)
		}
	default:
		err = fmt.Errorf("unknown write type %d", req.Type)
	}

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.PersistenceWrites.WithLabelValues(req.Type.entity(), status).Inc()

	if req.Callback != nil {
		req.Callback(err)
	}

	if err != nil {
		c.logger.Error("Failed to process write request",
			zap.String("type", req.Type.String()),
			zap.Error(err),
		)
	}
}

// processBatch handles WriteTypeBatch envelopes. Cycle rows inside an
// envelope are flushed together in one transaction; anything else is
// processed individually.
func (c *Client) processBatch(batch []WriteRequest) {
	if len(batch) == 0 {
		return
	}

	c.logger.Debug("Processing batch writes", zap.Int("count", len(batch)))

	cycles := make([]*InterviewCycle, 0, len(batch))
	callbacks := make([]func(error), 0, len(batch))

	for _, req := range batch {
		inner, ok := req.Data.([]WriteRequest)
		if !ok {
			c.processWrite(req)
			continue
		}
		for _, in := range inner {
			if cycle, isCycle := in.Data.(*InterviewCycle); isCycle && in.Type == WriteTypeCycle {
				cycles = append(cycles, cycle)
				if in.Callback != nil {
					callbacks = append(callbacks, in.Callback)
				}
				continue
			}
			c.processWrite(in)
		}
	}

	if len(cycles) == 0 {
		return
	}

	err := c.BatchSaveCycles(context.Background(), cycles)
	status := "ok"
	if err != nil {
		status = "error"
		c.logger.Error("Failed to batch save cycles", zap.Error(err))
	}
	for range cycles {
		metrics.PersistenceWrites.WithLabelValues(WriteTypeCycle.entity(), status).Inc()
	}
	for _, cb := range callbacks {
		cb(err)
	}
}

// drainQueue processes remaining requests during shutdown
func (c *Client) drainQueue(batchBuffer []WriteRequest) {
	timeout := time.After(10 * time.Second)

	for {
		select {
		case req := <-c.writeQueue:
			c.processWrite(req)
		case <-timeout:
			c.logger.Warn("Timeout draining write queue")
			return
		default:
			if len(batchBuffer) > 0 {
				c.processBatch(batchBuffer)
			}
			return
		}
	}
}

// QueueWrite adds a write request to the async queue. When the queue is full
// the write is dropped and counted; interview state also lives in the
// workflow history and the session, so a dropped row is recoverable.
func (c *Client) QueueWrite(writeType WriteType, data interface{}, callback func(error)) error {
	select {
	case c.writeQueue <- WriteRequest{
		Type:     writeType,
		Data:     data,
		Callback: callback,
	}:
		metrics.PersistenceQueueDepth.Set(float64(len(c.writeQueue)))
		return nil
	default:
		metrics.PersistenceWrites.WithLabelValues(writeType.entity(), "dropped").Inc()
		c.logger.Warn("Write queue full, dropping write",
			zap.String("type", writeType.String()))
		return ErrQueueFull
	}
}

// QueueWriteWithRetry attempts to queue a write with limited retries before
// dropping. Used for the final report, which is the one row worth waiting
// briefly for.
func (c *Client) QueueWriteWithRetry(writeType WriteType, data interface{}, callback func(error)) error {
	const maxRetries = 3
	const retryDelay = 10 * time.Millisecond

	for attempt := 0; attempt < maxRetries; attempt++ {
		select {
		case c.writeQueue <- WriteRequest{
			Type:     writeType,
			Data:     data,
			Callback: callback,
		}:
			metrics.PersistenceQueueDepth.Set(float64(len(c.writeQueue)))
			return nil
		default:
			if attempt < maxRetries-1 {
				time.Sleep(retryDelay)
				continue
			}
		}
	}

	metrics.PersistenceWrites.WithLabelValues(writeType.entity(), "dropped").Inc()
	c.logger.Warn("Write queue full after retries, dropping write",
		zap.String("type", writeType.String()),
		zap.Int("attempts", maxRetries))
	return ErrQueueFull
}

// healthCheck periodically checks database connectivity
func (c *Client) healthCheck() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := c.db.PingContext(ctx); err != nil {
				c.logger.Error("Database health check failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// Ping checks connectivity through the circuit breaker.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close gracefully shuts down the database client
func (c *Client) Close() error {
	c.logger.Info("Shutting down database client")

	close(c.stopCh)

	c.logger.Info("Waiting for write workers to finish")
	c.workerWg.Wait()

	if err := c.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	c.logger.Info("Database client closed")
	return nil
}

// DB returns the underlying sqlx handle for packages that manage their own
// queries, such as the auth service.
func (c *Client) DB() *sqlx.DB {
	return c.db.DB()
}

// Wrapper returns the circuit-breaker wrapper for health checks and monitoring
func (c *Client) Wrapper() *circuitbreaker.DatabaseWrapper {
	return c.db
}

// WithTransaction runs fn inside a circuit-breaker protected transaction.
func (c *Client) WithTransaction(ctx context.Context, fn func(*circuitbreaker.TxWrapper) error) error {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v, original error: %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}

	return nil
}
