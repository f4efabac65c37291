// Package transport connects the desk to the upstream voice bot. The bot
// streams JSON frames over a WebSocket; transcript frames become intake
// events and the socket state becomes lifecycle signals.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wolfman30/physio-voice-intake/internal/intake"
	"github.com/wolfman30/physio-voice-intake/pkg/logging"
)

// ConnectionErrorMessage is shown to the operator when the socket fails.
const ConnectionErrorMessage = "Connection error occurred"

// Sink receives decoded events. *intake.Session implements it.
type Sink interface {
	SubmitEvent(ctx context.Context, ev intake.TranscriptEvent) intake.Outcome
	HandleLifecycle(ctx context.Context, lc intake.Lifecycle)
}

// Frame is the envelope of every message the bot sends.
type Frame struct {
	Type string      `json:"type"`
	Role intake.Role `json:"role"`
}

// BotClient reads one bot WebSocket session into a Sink.
type BotClient struct {
	dialer    *websocket.Dialer
	header    http.Header
	logger    *logging.Logger
	readLimit int64
}

type Option func(*BotClient)

// WithDialer overrides the default gorilla dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *BotClient) { c.dialer = d }
}

// WithHeader adds headers to the handshake request.
func WithHeader(h http.Header) Option {
	return func(c *BotClient) { c.header = h }
}

func NewBotClient(logger *logging.Logger, opts ...Option) *BotClient {
	if logger == nil {
		logger = logging.Default()
	}
	c := &BotClient{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		logger:    logger,
		readLimit: 1 << 20,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run dials wsURL and forwards frames to sink until the socket closes or ctx
// is cancelled. The sink always sees connecting first and disconnected last;
// a failed dial or read reports error before the disconnect.
func (c *BotClient) Run(ctx context.Context, wsURL string, sink Sink) error {
	if sink == nil {
		return errors.New("transport: sink required")
	}
	sink.HandleLifecycle(ctx, intake.Lifecycle{State: intake.StateConnecting})

	conn, resp, err := c.dialer.DialContext(ctx, wsURL, c.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		c.logger.Error("transport: bot dial failed", "url", wsURL, "error", err)
		sink.HandleLifecycle(ctx, intake.Lifecycle{State: intake.StateError, Message: ConnectionErrorMessage})
		sink.HandleLifecycle(ctx, intake.Lifecycle{State: intake.StateDisconnected})
		return fmt.Errorf("transport: dial bot: %w", err)
	}
	defer conn.Close()
	conn.SetReadLimit(c.readLimit)

	sink.HandleLifecycle(ctx, intake.Lifecycle{State: intake.StateConnected})
	c.logger.Info("transport: bot connected", "url", wsURL)

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	readErr := c.readLoop(ctx, conn, sink)

	// Use a fresh context so the final signals run after cancellation.
	final := context.WithoutCancel(ctx)
	if readErr != nil && ctx.Err() == nil {
		c.logger.Error("transport: bot connection lost", "error", readErr)
		sink.HandleLifecycle(final, intake.Lifecycle{State: intake.StateError, Message: ConnectionErrorMessage})
	}
	sink.HandleLifecycle(final, intake.Lifecycle{State: intake.StateDisconnected})
	c.logger.Info("transport: bot disconnected", "url", wsURL)

	if ctx.Err() != nil {
		return nil
	}
	return readErr
}

// readLoop numbers events per connection, in arrival order starting at 1.
func (c *BotClient) readLoop(ctx context.Context, conn *websocket.Conn, sink Sink) error {
	var sequence int64
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("transport: read frame: %w", err)
		}
		if msgType != websocket.TextMessage {
			continue
		}
		ev, ok := c.Decode(data)
		if !ok {
			continue
		}
		sequence++
		ev.Sequence = sequence
		outcome := sink.SubmitEvent(ctx, ev)
		c.logger.Debug("transport: transcript forwarded", "role", ev.Role, "sequence", ev.Sequence, "outcome", outcome)
	}
}

// Decode turns a raw frame into an event. Frames that are not transcripts
// from the patient or the bot are skipped. The whole frame is kept as the
// payload so the normalizer can look up any of its text fields. Sequence is
// left for the caller to assign.
func (c *BotClient) Decode(data []byte) (intake.TranscriptEvent, bool) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.logger.Warn("transport: undecodable frame", "error", err)
		return intake.TranscriptEvent{}, false
	}
	if !strings.EqualFold(frame.Type, "transcript") || !frame.Role.Valid() {
		return intake.TranscriptEvent{}, false
	}
	return intake.TranscriptEvent{
		Role:    frame.Role,
		Payload: json.RawMessage(data),
	}, true
}
