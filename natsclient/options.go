package natsclient

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/lookupkit/metric"
	"github.com/c360/lookupkit/pkg/retry"
)

// clientConfig collects what the options set before the client is built.
type clientConfig struct {
	logger  *slog.Logger
	metrics *metric.Metrics

	name          string
	maxReconnects int
	reconnectWait time.Duration
	pingInterval  time.Duration
	dialTimeout   time.Duration
	drainTimeout  time.Duration
	connectRetry  retry.Config

	breakerThreshold int
	breakerMax       time.Duration

	auth     []nats.Option
	onHealth func(connected bool)
}

func defaultClientConfig() clientConfig {
	return clientConfig{
		logger:           slog.Default(),
		maxReconnects:    -1,
		reconnectWait:    2 * time.Second,
		pingInterval:     30 * time.Second,
		dialTimeout:      5 * time.Second,
		drainTimeout:     30 * time.Second,
		connectRetry:     retry.Quick(),
		breakerThreshold: 5,
		breakerMax:       time.Minute,
	}
}

// ClientOption configures a Client.
type ClientOption func(*clientConfig) error

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *clientConfig) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}

// WithName sets the connection name shown by the server.
func WithName(name string) ClientOption {
	return func(c *clientConfig) error {
		c.name = name
		return nil
	}
}

// WithMaxReconnects bounds reconnection attempts; -1 retries forever.
func WithMaxReconnects(n int) ClientOption {
	return func(c *clientConfig) error {
		c.maxReconnects = n
		return nil
	}
}

// WithReconnectWait sets the pause between reconnection attempts.
func WithReconnectWait(d time.Duration) ClientOption {
	return func(c *clientConfig) error {
		c.reconnectWait = d
		return nil
	}
}

// WithPingInterval sets how often the server is pinged.
func WithPingInterval(d time.Duration) ClientOption {
	return func(c *clientConfig) error {
		c.pingInterval = d
		return nil
	}
}

// WithTimeout sets the dial timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %v", d)
		}
		c.dialTimeout = d
		return nil
	}
}

// WithDrainTimeout caps how long Close waits for pending messages.
func WithDrainTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) error {
		c.drainTimeout = d
		return nil
	}
}

// WithConnectRetry sets the retry policy of Connect.
func WithConnectRetry(cfg retry.Config) ClientOption {
	return func(c *clientConfig) error {
		c.connectRetry = cfg
		return nil
	}
}

// WithCircuitBreaker opens the breaker after threshold consecutive failures
// and caps its backoff at max.
func WithCircuitBreaker(threshold int, max time.Duration) ClientOption {
	return func(c *clientConfig) error {
		if threshold <= 0 {
			return fmt.Errorf("circuit breaker threshold must be positive, got %d", threshold)
		}
		c.breakerThreshold = threshold
		if max > 0 {
			c.breakerMax = max
		}
		return nil
	}
}

// WithCredentials authenticates with a user and password.
func WithCredentials(username, password string) ClientOption {
	return func(c *clientConfig) error {
		if username != "" {
			c.auth = append(c.auth, nats.UserInfo(username, password))
		}
		return nil
	}
}

// WithToken authenticates with a token.
func WithToken(token string) ClientOption {
	return func(c *clientConfig) error {
		if token != "" {
			c.auth = append(c.auth, nats.Token(token))
		}
		return nil
	}
}

// WithTLS presents a client certificate and trusts caFile. Empty arguments
// are skipped.
func WithTLS(certFile, keyFile, caFile string) ClientOption {
	return func(c *clientConfig) error {
		if certFile != "" && keyFile != "" {
			c.auth = append(c.auth, nats.ClientCert(certFile, keyFile))
		}
		if caFile != "" {
			c.auth = append(c.auth, nats.RootCAs(caFile))
		}
		return nil
	}
}

// WithHealthChangeCallback is called, on its own goroutine, whenever the
// connection goes up or down.
func WithHealthChangeCallback(fn func(connected bool)) ClientOption {
	return func(c *clientConfig) error {
		c.onHealth = fn
		return nil
	}
}

// WithMetrics reports connection state and reconnects on registry.
func WithMetrics(registry *metric.MetricsRegistry) ClientOption {
	return func(c *clientConfig) error {
		if registry != nil {
			c.metrics = registry.CoreMetrics()
		}
		return nil
	}
}
