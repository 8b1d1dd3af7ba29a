package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wre314954-sudo/wirenew/internal/infra/config"
)

const defaultKeyspace = "storefront:device"

// readinessTTL bounds the marker written by HealthCheck.
const readinessTTL = 10 * time.Second

// Client is the Redis connection shared by the per-device session stores and the attempt limiter.
type Client struct {
	client   *redis.Client
	logger   *zap.Logger
	keyspace string
}

// NewClient connects to Redis and confirms the device keyspace is reachable.
func NewClient(ctx context.Context, cfg config.RedisSettings, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	keyspace := strings.TrimSpace(cfg.DevicePrefix)
	if keyspace == "" {
		keyspace = defaultKeyspace
	}

	opts := &redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		PoolTimeout:     4 * time.Second,
		ConnMaxIdleTime: 5 * time.Minute,
	}

	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	c := &Client{
		client:   redis.NewClient(opts),
		logger:   logger,
		keyspace: keyspace,
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.client.Ping(pingCtx).Err(); err != nil {
		_ = c.client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Info("device session store connected",
		zap.String("addr", opts.Addr),
		zap.Int("db", cfg.DB),
		zap.String("keyspace", keyspace),
		zap.Bool("tls_enabled", cfg.TLSEnabled),
	)

	return c, nil
}

// Client returns the underlying redis.Client for the repositories.
func (c *Client) Client() *redis.Client {
	return c.client
}

// Keyspace is the prefix every device session key lives under.
func (c *Client) Keyspace() string {
	return c.keyspace
}

// HealthCheck writes a short-lived marker into the device keyspace. A replica that
// answers PING but refuses writes cannot hold sessions, so it reports unhealthy.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.client.Set(ctx, c.keyspace+":readyz", time.Now().UTC().Format(time.RFC3339), readinessTTL).Err(); err != nil {
		return fmt.Errorf("device session store not writable: %w", err)
	}
	return nil
}

// Collector exports connection pool stats labelled with the device keyspace.
func (c *Client) Collector() prometheus.Collector {
	return newPoolCollector(c.client, c.keyspace)
}

// Close gracefully closes the Redis connection pool
func (c *Client) Close() error {
	c.logger.Info("closing device session store", zap.String("keyspace", c.keyspace))
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}

type poolCollector struct {
	client   *redis.Client
	hits     *prometheus.Desc
	misses   *prometheus.Desc
	timeouts *prometheus.Desc
	total    *prometheus.Desc
	idle     *prometheus.Desc
}

func newPoolCollector(client *redis.Client, keyspace string) *poolCollector {
	labels := prometheus.Labels{"keyspace": keyspace}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("storefront", "session_store", name), help, nil, labels)
	}
	return &poolCollector{
		client:   client,
		hits:     desc("pool_hits_total", "Connections reused from the pool."),
		misses:   desc("pool_misses_total", "Connections dialed because the pool was empty."),
		timeouts: desc("pool_timeouts_total", "Waits for a free connection that timed out."),
		total:    desc("pool_connections", "Connections currently open."),
		idle:     desc("pool_idle_connections", "Idle connections in the pool."),
	}
}

func (p *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- p.hits
	ch <- p.misses
	ch <- p.timeouts
	ch <- p.total
	ch <- p.idle
}

func (p *poolCollector) Collect(ch chan<- prometheus.Metric) {
	stats := p.client.PoolStats()
	ch <- prometheus.MustNewConstMetric(p.hits, prometheus.CounterValue, float64(stats.Hits))
	ch <- prometheus.MustNewConstMetric(p.misses, prometheus.CounterValue, float64(stats.Misses))
	ch <- prometheus.MustNewConstMetric(p.timeouts, prometheus.CounterValue, float64(stats.Timeouts))
	ch <- prometheus.MustNewConstMetric(p.total, prometheus.GaugeValue, float64(stats.TotalConns))
	ch <- prometheus.MustNewConstMetric(p.idle, prometheus.GaugeValue, float64(stats.IdleConns))
}
