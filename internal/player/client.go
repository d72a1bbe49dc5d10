package player

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pagevoice-labs/pagevoice-core/internal/bus"
	"github.com/pagevoice-labs/pagevoice-core/internal/config"
	"github.com/pagevoice-labs/pagevoice-core/internal/protocol"
)

// Client is the coordinator's handle on the player service. The handle is
// established lazily on first use; concurrent callers share one in-flight
// ping instead of racing to establish it twice.
type Client struct {
	bus         *bus.Client
	pingTimeout time.Duration
	logger      *slog.Logger

	mu       sync.Mutex
	ready    bool
	lastErr  error
	inflight chan struct{}
}

func NewClient(busClient *bus.Client, cfg config.PlayerConfig, log *slog.Logger) *Client {
	timeout := time.Duration(cfg.PingTimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Client{
		bus:         busClient,
		pingTimeout: timeout,
		logger:      log.With(slog.String("component", "player-client")),
	}
}

// Play sends one audio item to the player and blocks until the player reports
// how playback ended. The caller bounds the wait through ctx.
func (c *Client) Play(ctx context.Context, audioURI string) (protocol.PlayResult, error) {
	if err := c.ensure(ctx); err != nil {
		return protocol.PlayResult{}, fmt.Errorf("player unavailable: %w", err)
	}
	data, err := json.Marshal(protocol.PlayRequest{AudioURI: audioURI})
	if err != nil {
		return protocol.PlayResult{}, err
	}
	msg, err := c.bus.Conn().RequestWithContext(ctx, protocol.SubjectPlayerPlay, data)
	if err != nil {
		return protocol.PlayResult{}, fmt.Errorf("play request: %w", err)
	}
	var res protocol.PlayResult
	if err := json.Unmarshal(msg.Data, &res); err != nil {
		return protocol.PlayResult{}, fmt.Errorf("decode play result: %w", err)
	}
	return res, nil
}

// Stop tells the player to drop whatever it is doing.
func (c *Client) Stop(ctx context.Context) (protocol.PlayResult, error) {
	if err := c.ensure(ctx); err != nil {
		return protocol.PlayResult{}, fmt.Errorf("player unavailable: %w", err)
	}
	rctx, cancel := context.WithTimeout(ctx, c.pingTimeout)
	defer cancel()
	msg, err := c.bus.Conn().RequestWithContext(rctx, protocol.SubjectPlayerStop, nil)
	if err != nil {
		return protocol.PlayResult{}, fmt.Errorf("stop request: %w", err)
	}
	var res protocol.PlayResult
	if err := json.Unmarshal(msg.Data, &res); err != nil {
		return protocol.PlayResult{}, fmt.Errorf("decode stop result: %w", err)
	}
	return res, nil
}

func (c *Client) ensure(ctx context.Context) error {
	c.mu.Lock()
	if c.ready {
		c.mu.Unlock()
		return nil
	}
	if c.inflight != nil {
		ch := c.inflight
		c.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.ready {
			return nil
		}
		return c.lastErr
	}
	ch := make(chan struct{})
	c.inflight = ch
	c.mu.Unlock()

	rctx, cancel := context.WithTimeout(ctx, c.pingTimeout)
	defer cancel()
	_, err := c.bus.Conn().RequestWithContext(rctx, protocol.SubjectPlayerPing, nil)

	c.mu.Lock()
	c.ready = err == nil
	c.lastErr = err
	c.inflight = nil
	close(ch)
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("player ping failed", slogError(err))
		return err
	}
	return nil
}
