package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/verdantlab/verdant-core/internal/auth"
	"github.com/verdantlab/verdant-core/internal/infrastructure/config"
	"github.com/verdantlab/verdant-core/internal/infrastructure/logging"
	"github.com/verdantlab/verdant-core/internal/kit"
	"github.com/verdantlab/verdant-core/internal/measurement"
	"github.com/verdantlab/verdant-core/internal/stream"
)

// A connected client doubles as a fan-out subscriber.
var _ stream.Subscriber = (*WSClient)(nil)

// Logical streams of the measurement channel.
const (
	StreamSubscribe   = "measurements-subscribe"
	StreamUnsubscribe = "measurements-unsubscribe"
	StreamPublish     = "measurements-publish"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256
)

// wsFrame is the wire envelope for inbound messages. The nonce is an opaque
// caller-supplied correlation token echoed verbatim in the reply.
type wsFrame struct {
	Stream  string          `json:"stream"`
	Nonce   string          `json:"nonce,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// wsReply is the wire envelope for outbound replies and fan-out frames.
// Replies carry the originating nonce as reply-nonce; fan-out frames carry none.
type wsReply struct {
	Stream     string `json:"stream"`
	ReplyNonce string `json:"reply-nonce,omitempty"`
	Payload    any    `json:"payload,omitempty"`
}

// wsSubscribePayload is the payload for subscribe/unsubscribe messages.
type wsSubscribePayload struct {
	Kit string `json:"kit"`
}

// wsMeasurementPayload is the fan-out payload delivered to subscribers of a
// kit's stream.
type wsMeasurementPayload struct {
	Kit             string                   `json:"kit"`
	MeasurementType string                   `json:"measurement_type"`
	Measurement     *measurement.Measurement `json:"measurement"`
}

// Hub tracks connected WebSocket clients so shutdown can close them all.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
}

// WSClient represents a connected WebSocket client: a kit publishing
// measurements, or a dashboard viewer subscribed to one or more kits.
type WSClient struct {
	hub       *Hub
	srv       *Server
	conn      *websocket.Conn
	send      chan []byte
	principal auth.Principal
	unsubOnce sync.Once // guards the disconnect-time UnsubscribeAll

	// ctx spans the connection's lifetime; cancel fires at teardown so
	// in-flight snapshot and store calls stop with the connection.
	ctx    context.Context
	cancel context.CancelFunc
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a new WebSocket hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run starts the hub's main loop. It blocks until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", h.ClientCount())
}

// Unregister removes a client from the hub.
// Only the goroutine that successfully removes the client from the map
// closes the send channel, preventing double-close panics during shutdown.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", h.ClientCount())
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll disconnects all clients and closes their send channels
// so writePump goroutines can exit cleanly.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}

// handleWebSocket upgrades the HTTP connection to a WebSocket connection.
//
// The caller authenticates either with a single-use ticket (obtained from
// POST /auth/ws-ticket, identity resolved at issue time) or with a token
// query parameter (the unattended-kit path). A connection presenting a token
// that does not resolve to an identity is refused; connections without any
// credential path are refused too — anonymous viewers go through the ticket
// endpoint, which admits them.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.connectPrincipal(r)
	if !ok {
		writeUnauthorized(w, "invalid or missing websocket credential")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	// The request context ends when this handler returns, so the connection
	// carries its own, cancelled at teardown.
	ctx, cancel := context.WithCancel(context.Background())
	client := &WSClient{
		hub:       s.hub,
		srv:       s,
		conn:      conn,
		send:      make(chan []byte, wsSendBufferSize),
		principal: principal,
		ctx:       ctx,
		cancel:    cancel,
	}

	s.hub.Register(client)

	if principal.IsDevice() && s.influx != nil {
		s.influx.WriteKitStatus(principal.KitSerial, true)
	}

	// Start read/write pumps
	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// connectPrincipal establishes the connection's identity from the ticket or
// token query parameter.
func (s *Server) connectPrincipal(r *http.Request) (auth.Principal, bool) {
	if ticket := r.URL.Query().Get("ticket"); ticket != "" {
		return s.tickets.redeem(ticket)
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		return auth.Anonymous(), false
	}

	principal, err := s.resolver.Resolve(r.Context(), token)
	if err != nil {
		return auth.Anonymous(), false
	}
	// A presented token must resolve; a device-asserting connection that
	// degrades to anonymous is a failed connect, not a viewer.
	if principal.IsAnonymous() {
		return auth.Anonymous(), false
	}
	return principal, true
}

// readPump reads messages from the WebSocket connection. Messages are handled
// synchronously, preserving per-connection ordering.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.teardown()
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// Any client message resets the read deadline (keeps connection alive
		// even if the client doesn't respond to protocol-level pings).
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	pongWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Hub closed the channel
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// teardown removes the client from every kit stream it subscribed to.
// Runs exactly once per connection, whichever path triggers the disconnect.
func (c *WSClient) teardown() {
	c.unsubOnce.Do(func() {
		c.cancel()
		c.srv.streams.UnsubscribeAll(c)
		if c.principal.IsDevice() && c.srv.influx != nil {
			c.srv.influx.WriteKitStatus(c.principal.KitSerial, false)
		}
	})
}

// Deliver queues a fan-out frame for the client. It reports false when the
// client's buffer is full or the connection is gone; the caller treats that
// as a per-subscriber delivery failure and moves on.
func (c *WSClient) Deliver(data []byte) bool {
	return c.trySend(data)
}

// handleMessage processes one inbound frame. Any failure is converted to an
// in-band error reply; nothing here may close the connection.
func (c *WSClient) handleMessage(data []byte) {
	var frame wsFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.sendError("", "", "invalid JSON message")
		return
	}

	switch frame.Stream {
	case StreamSubscribe:
		c.handleSubscribe(frame)
	case StreamUnsubscribe:
		c.handleUnsubscribe(frame)
	case StreamPublish:
		c.handlePublish(frame)
	default:
		c.sendError(frame.Stream, frame.Nonce, "unknown stream: "+frame.Stream)
	}
}

// handleSubscribe registers the connection for a kit's measurement stream
// after the subscribe policy admits the caller.
func (c *WSClient) handleSubscribe(frame wsFrame) {
	var sub wsSubscribePayload
	if err := json.Unmarshal(frame.Payload, &sub); err != nil || sub.Kit == "" {
		c.sendError(frame.Stream, frame.Nonce, "subscribe payload requires a kit serial")
		return
	}

	snap, err := c.srv.kits.Snapshot(c.ctx, sub.Kit)
	if err != nil {
		if errors.Is(err, kit.ErrKitNotFound) {
			c.sendError(frame.Stream, frame.Nonce, "unknown kit: "+sub.Kit)
			return
		}
		c.hub.logger.Error("kit snapshot failed", "kit", sub.Kit, "error", err)
		c.sendError(frame.Stream, frame.Nonce, "subscribe failed")
		return
	}

	if !auth.CanSubscribe(c.principal, snap) {
		c.sendError(frame.Stream, frame.Nonce, "access to this kit's stream is denied")
		return
	}

	c.srv.streams.Subscribe(sub.Kit, c)
	c.sendReply(frame.Stream, frame.Nonce, map[string]any{
		"action": "subscribe",
		"kit":    sub.Kit,
	})
}

// handleUnsubscribe removes the connection from a kit's stream. Removing a
// subscription that does not exist is not an error.
func (c *WSClient) handleUnsubscribe(frame wsFrame) {
	var sub wsSubscribePayload
	if err := json.Unmarshal(frame.Payload, &sub); err != nil || sub.Kit == "" {
		c.sendError(frame.Stream, frame.Nonce, "unsubscribe payload requires a kit serial")
		return
	}

	c.srv.streams.Unsubscribe(sub.Kit, c)
	c.sendReply(frame.Stream, frame.Nonce, map[string]any{
		"action": "unsubscribe",
		"kit":    sub.Kit,
	})
}

// handlePublish validates a device's measurement, persists REDUCED readings,
// and fans the normalized measurement out to the kit's subscribers.
//
// RAW readings are fanned out only; a REDUCED reading is persisted first and
// a persistence failure is surfaced to the device as an error reply.
func (c *WSClient) handlePublish(frame wsFrame) {
	if !c.principal.IsDevice() {
		c.sendError(frame.Stream, frame.Nonce, "publishing requires device identity")
		return
	}

	ctx := c.ctx
	snap, err := c.srv.kits.Snapshot(ctx, c.principal.KitSerial)
	if err != nil {
		c.hub.logger.Error("kit snapshot failed", "kit", c.principal.KitSerial, "error", err)
		c.sendError(frame.Stream, frame.Nonce, "publish failed")
		return
	}
	if !auth.CanPublish(c.principal, snap.Kit) {
		c.sendError(frame.Stream, frame.Nonce, "publishing to this kit is denied")
		return
	}

	var payload measurement.PublishPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		c.sendError(frame.Stream, frame.Nonce, "malformed measurement payload")
		return
	}

	m, msgKind, err := c.srv.normalizer.Normalize(ctx, snap, payload)
	if err != nil {
		switch {
		case errors.Is(err, measurement.ErrMalformedPayload):
			c.sendError(frame.Stream, frame.Nonce, "malformed measurement payload")
		case errors.Is(err, measurement.ErrUnknownPeripheral):
			c.sendError(frame.Stream, frame.Nonce, "unknown or inactive peripheral")
		default:
			c.hub.logger.Error("measurement normalization failed", "kit", snap.Kit.Serial, "error", err)
			c.sendError(frame.Stream, frame.Nonce, "measurement rejected")
		}
		return
	}

	// REDUCED readings are persisted before any subscriber sees them.
	if msgKind == measurement.KindReduced {
		if err := c.srv.store.Save(ctx, m); err != nil {
			c.hub.logger.Error("measurement persistence failed", "kit", snap.Kit.Serial, "error", err)
			c.sendError(frame.Stream, frame.Nonce, "failed to persist measurement")
			return
		}
	}

	// Telemetry mirror; never affects the publish outcome.
	if c.srv.influx != nil {
		c.srv.influx.WriteMeasurement(snap.Kit.Serial, payload.Measurement.Peripheral,
			string(msgKind), m.PhysicalQuantity, m.Value, m.MeasuredAt)
	}

	c.fanOut(snap.Kit.Serial, msgKind, m)

	c.sendReply(frame.Stream, frame.Nonce, map[string]any{
		"success": "measurement accepted",
	})
}

// fanOut delivers the normalized measurement to every current subscriber of
// the kit's stream. Delivery is best-effort per subscriber.
func (c *WSClient) fanOut(serial string, msgKind measurement.Kind, m *measurement.Measurement) {
	frame := wsReply{
		Stream: StreamSubscribe,
		Payload: wsMeasurementPayload{
			Kit:             serial,
			MeasurementType: string(msgKind),
			Measurement:     m,
		},
	}
	data, err := json.Marshal(frame)
	if err != nil {
		c.hub.logger.Error("failed to marshal fan-out frame", "error", err)
		return
	}
	c.srv.streams.Publish(serial, string(msgKind), data)
}

// trySend attempts to queue data on the client's send channel.
// It silently handles closed channels (client disconnected during fan-out)
// and full buffers (slow client).
func (c *WSClient) trySend(data []byte) (delivered bool) {
	defer func() {
		if recover() != nil {
			delivered = false
		}
	}()

	select {
	case c.send <- data:
		return true
	default:
		// Client buffer full, skip
		return false
	}
}

// sendReply sends a correlated reply to the client.
// Routes through trySend to safely handle closed channels during shutdown.
func (c *WSClient) sendReply(stream, nonce string, payload any) {
	reply := wsReply{
		Stream:     stream,
		ReplyNonce: nonce,
		Payload:    payload,
	}
	data, err := json.Marshal(reply)
	if err != nil {
		return
	}
	c.trySend(data)
}

// sendError sends an in-band error reply.
func (c *WSClient) sendError(stream, nonce, message string) {
	c.sendReply(stream, nonce, map[string]string{"error": message})
}
