// Package relay proxies text-completion requests to an external completion
// service over gRPC. Request and response travel as dynamic structs, so the
// relay tracks the remote service without a regenerated schema.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

const completeMethod = "/completion.CompletionService/Complete"

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	errEmptyCompletion          = errors.New("completion service returned no content")
)

// Client is a gRPC client to the completion service.
type Client struct {
	conn   *grpc.ClientConn
	addr   string
	logger *slog.Logger
}

// Config holds configuration for the relay client.
type Config struct {
	Address          string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultConfig returns default relay configuration.
func DefaultConfig() Config {
	return Config{
		Address:          "localhost:50051",
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   30 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// New creates a relay client and verifies the endpoint is reachable.
func New(addr string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg := DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	// Build client connection (no network I/O yet).
	conn, err := grpc.NewClient(cfg.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to completion service at %s: %w", cfg.Address, err)
	}

	// Force a connection attempt during startup so we fail fast on bad endpoints.
	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("completion service at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to completion service", "address", cfg.Address)

	return &Client{
		conn:   conn,
		addr:   cfg.Address,
		logger: logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the gRPC connection.
func (c *Client) Close() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

// Complete sends a prompt to the completion service and returns the text of
// its reply.
func (c *Client) Complete(ctx context.Context, prompt, model string) (string, error) {
	req, err := structpb.NewStruct(map[string]interface{}{
		"inputCode": prompt,
		"model":     model,
	})
	if err != nil {
		return "", fmt.Errorf("build completion request: %w", err)
	}

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, completeMethod, req, resp); err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}

	content, ok := resp.Fields["content"]
	if !ok || content.GetStringValue() == "" {
		return "", errEmptyCompletion
	}

	c.logger.Debug("Completion relayed", "address", c.addr, "model", model)
	return content.GetStringValue(), nil
}
