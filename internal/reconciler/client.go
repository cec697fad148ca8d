package reconciler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"softphone-queue/internal/calls"
	"softphone-queue/internal/realtime"
	"softphone-queue/pkg/logger"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const (
	DefaultInterval   = 5 * time.Second
	defaultMaxBackoff = 30 * time.Second
	minBackoff        = 500 * time.Millisecond
	requestTimeout    = 5 * time.Second
)

// StatusError is a non-2xx reply from the queue API.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("queue api: %d %s", e.Code, e.Message)
}

// Ack is the API's reply to an agent action.
type Ack struct {
	Message string        `json:"message"`
	Outcome calls.Outcome `json:"outcome"`
}

// Client keeps a Mirror converged with the server: it consumes the websocket
// stream and re-fetches the queue on a fixed interval. Errors never clear the mirror.
type Client struct {
	APIBase string
	WSURL   string

	HTTP       *http.Client
	Interval   time.Duration
	MaxBackoff time.Duration

	Mirror *Mirror

	// OnError receives transient failures for display. The mirror keeps its state.
	OnError func(error)
	// OnConnect reports websocket connection state changes.
	OnConnect func(connected bool)
}

func New(apiBase, wsURL string, m *Mirror) *Client {
	return &Client{
		APIBase:    strings.TrimRight(apiBase, "/"),
		WSURL:      wsURL,
		HTTP:       &http.Client{Timeout: requestTimeout},
		Interval:   DefaultInterval,
		MaxBackoff: defaultMaxBackoff,
		Mirror:     m,
	}
}

// Refresh fetches the authoritative queue and applies it.
func (c *Client) Refresh(ctx context.Context) error {
	var snap calls.Snapshot
	if err := c.do(ctx, http.MethodGet, "/api/queue", nil, &snap); err != nil {
		return err
	}
	c.Mirror.ApplySnapshot(snap)
	return nil
}

// Submit sends an agent action. Benign outcomes (noop, ignored) are not errors.
func (c *Client) Submit(ctx context.Context, action calls.ActionKind, callID string) (Ack, error) {
	body := map[string]string{"action": string(action), "callSid": callID}
	var ack Ack
	if err := c.do(ctx, http.MethodPost, "/api/call-control", body, &ack); err != nil {
		return Ack{}, err
	}
	return ack, nil
}

// Run polls and streams until ctx ends.
func (c *Client) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.pollLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		c.streamLoop(ctx)
	}()
	wg.Wait()
	return ctx.Err()
}

func (c *Client) pollLoop(ctx context.Context) {
	interval := c.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	c.refreshSoft(ctx)

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.refreshSoft(ctx)
		}
	}
}

func (c *Client) refreshSoft(ctx context.Context) {
	if err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
		c.report(fmt.Errorf("refresh queue: %w", err))
	}
}

func (c *Client) streamLoop(ctx context.Context) {
	maxBackoff := c.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	backoff := minBackoff
	for {
		connected, err := c.stream(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			backoff = minBackoff
		}
		c.report(fmt.Errorf("realtime stream: %w", err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// stream runs one websocket session. It reports whether the dial succeeded.
func (c *Client) stream(ctx context.Context) (bool, error) {
	conn, _, err := websocket.Dial(ctx, c.WSURL, nil)
	if err != nil {
		return false, err
	}
	defer conn.CloseNow()
	c.connected(true)
	defer c.connected(false)

	// Anything broadcast while disconnected is recovered from the listing.
	c.refreshSoft(ctx)

	for {
		var env realtime.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			return true, err
		}
		if _, err := c.Mirror.Apply(env); err != nil {
			logger.From(ctx).Debug("skipping realtime frame", "kind", env.Kind, "err", err)
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.APIBase+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&e)
		return &StatusError{Code: resp.StatusCode, Message: e.Error}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("queue api: decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) report(err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	if c.OnError != nil {
		c.OnError(err)
	}
}

func (c *Client) connected(v bool) {
	if c.OnConnect != nil {
		c.OnConnect(v)
	}
}
