package natsclient

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/c360/lookupkit/pkg/retry"
)

const defaultNATSImage = "nats:2.11.7-alpine"

// TestClient is a connected Client backed by a NATS server running in a
// container. Tests built with the integration tag use it.
type TestClient struct {
	Client *Client
	URL    string
}

type testServer struct {
	image     string
	jetstream bool
	buckets   []string
	startup   time.Duration
}

// TestOption configures the test server.
type TestOption func(*testServer)

// WithJetStream starts the server with JetStream enabled.
func WithJetStream() TestOption {
	return func(s *testServer) { s.jetstream = true }
}

// WithKVBuckets enables JetStream and creates the buckets up front.
func WithKVBuckets(buckets ...string) TestOption {
	return func(s *testServer) {
		s.jetstream = true
		s.buckets = append(s.buckets, buckets...)
	}
}

// WithNATSImage replaces the server image.
func WithNATSImage(image string) TestOption {
	return func(s *testServer) { s.image = image }
}

// NewTestClient starts a server, connects to it and registers the teardown
// with t.
func NewTestClient(t testing.TB, opts ...TestOption) *TestClient {
	t.Helper()

	srv := testServer{image: defaultNATSImage, startup: 30 * time.Second}
	for _, opt := range opts {
		opt(&srv)
	}

	ctx, cancel := context.WithTimeout(context.Background(), srv.startup+10*time.Second)
	defer cancel()

	container, url, err := srv.start(ctx)
	if err != nil {
		t.Fatalf("start NATS: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	client, err := NewClient(url,
		WithTimeout(5*time.Second),
		WithMaxReconnects(0),
		WithConnectRetry(retry.Config{MaxAttempts: 3, InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second}),
	)
	if err != nil {
		t.Fatalf("create NATS client: %v", err)
	}
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("connect to NATS: %v", err)
	}
	t.Cleanup(func() { _ = client.Close(context.Background()) })

	for _, bucket := range srv.buckets {
		if _, err := client.OpenKV(ctx, bucket, true); err != nil {
			t.Fatalf("create bucket %s: %v", bucket, err)
		}
	}
	return &TestClient{Client: client, URL: url}
}

func (s testServer) start(ctx context.Context) (testcontainers.Container, string, error) {
	cmd := []string{"--port", "4222", "--http_port", "8222"}
	if s.jetstream {
		cmd = append(cmd, "--js")
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        s.image,
			ExposedPorts: []string{"4222/tcp", "8222/tcp"},
			Cmd:          cmd,
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("4222/tcp"),
				wait.ForHTTP("/healthz").WithPort("8222/tcp").WithStartupTimeout(s.startup),
			),
		},
		Started: true,
	})
	if err != nil {
		return nil, "", err
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(context.Background())
		return nil, "", fmt.Errorf("resolve NATS host: %w", err)
	}
	port, err := container.MappedPort(ctx, "4222")
	if err != nil {
		_ = container.Terminate(context.Background())
		return nil, "", fmt.Errorf("resolve NATS port: %w", err)
	}
	return container, fmt.Sprintf("nats://%s:%s", host, port.Port()), nil
}
