package influxdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/Kenox00/door-lock-sub001/internal/infrastructure/config"
)

const (
	pingTimeout = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

// Client is the telemetry writer. It implements dispatch.Telemetry; writes
// never block the caller and are dropped once the client is closed.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI

	// mu orders writes against Close.
	mu     sync.RWMutex
	closed bool

	errMu   sync.Mutex
	onError func(error)
}

// Connect pings the server and sets up the batched write API.
// It returns ErrDisabled when telemetry is turned off in config.
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batch := uint(defaultBatchSize)
	if cfg.BatchSize > 0 {
		batch = uint(cfg.BatchSize)
	}
	flush := defaultFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(batch).
			SetFlushInterval(uint(flush.Milliseconds())))

	if err := ping(ctx, client); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c := &Client{client: client, writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket)}
	go c.forwardErrors(c.writeAPI.Errors())
	return c, nil
}

func ping(ctx context.Context, client influxdb2.Client) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	if !healthy {
		return errors.New("server not healthy")
	}
	return nil
}

func (c *Client) forwardErrors(errs <-chan error) {
	for err := range errs {
		c.errMu.Lock()
		fn := c.onError
		c.errMu.Unlock()
		if fn != nil {
			fn(err)
		}
	}
}

// SetOnError sets the callback for failed batch writes.
func (c *Client) SetOnError(fn func(error)) {
	c.errMu.Lock()
	c.onError = fn
	c.errMu.Unlock()
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if c.client == nil || closed {
		return ErrNotConnected
	}
	if err := ping(ctx, c.client); err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	return nil
}

// Close flushes buffered points and closes the client. Safe on a zero
// Client and safe to call twice.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil || c.closed {
		return nil
	}
	c.closed = true
	c.writeAPI.Flush()
	c.client.Close()
	return nil
}
