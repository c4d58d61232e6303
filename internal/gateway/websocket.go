// ABOUTME: Websocket transport for the message hub: one read pump and one write pump per connection
// ABOUTME: Each connection is a notify.Conn with a bounded send queue; invocations get a Completion reply

package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/2389/chathub/internal/auth"
	"github.com/2389/chathub/internal/hub"
	"github.com/2389/chathub/internal/notify"
	"github.com/2389/chathub/internal/protocol"
)

// CounterpartParam names the query parameter carrying the other participant.
const CounterpartParam = "user"

// wsClient is one websocket connection. Writes happen only on the write
// pump; everyone else enqueues through Send.
type wsClient struct {
	id       string
	identity string
	ws       *websocket.Conn
	send     chan []byte
	done     chan struct{}
	closed   sync.Once
	logger   *slog.Logger

	writeTimeout time.Duration
	pongTimeout  time.Duration
	pingInterval time.Duration

	mu          sync.Mutex
	closeCode   int
	closeReason string
}

var _ notify.Conn = (*wsClient)(nil)

func (g *Gateway) newClient(ws *websocket.Conn, identity string) *wsClient {
	hc := g.config.Hub
	id := uuid.New().String()
	return &wsClient{
		id:           id,
		identity:     identity,
		ws:           ws,
		send:         make(chan []byte, hc.SendBuffer),
		done:         make(chan struct{}),
		logger:       g.logger.With("connection_id", id, "username", identity),
		writeTimeout: hc.WriteTimeout,
		pongTimeout:  hc.PongTimeout,
		pingInterval: hc.PingInterval,
		closeCode:    websocket.CloseNormalClosure,
	}
}

func (c *wsClient) ID() string       { return c.id }
func (c *wsClient) Identity() string { return c.identity }

// Send queues ev without blocking. A client whose queue is full is closed
// so it can reconnect and resynchronize from the thread.
func (c *wsClient) Send(ev protocol.Event) error {
	select {
	case <-c.done:
		return notify.ErrConnClosed
	default:
	}

	data, err := protocol.Encode(ev)
	if err != nil {
		return err
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return notify.ErrConnClosed
	default:
		c.closeWith(websocket.ClosePolicyViolation, "send buffer full")
		return notify.ErrSendBufferFull
	}
}

// closeWith stops the client. The first call decides the close frame.
func (c *wsClient) closeWith(code int, reason string) {
	c.closed.Do(func() {
		c.mu.Lock()
		c.closeCode = code
		c.closeReason = reason
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *wsClient) close() {
	c.closeWith(websocket.CloseNormalClosure, "")
}

// writePump owns all writes to the socket. On close it flushes what is
// queued, sends a close frame and closes the socket, which also ends the
// read pump.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case data := <-c.send:
			if err := c.write(data); err != nil {
				c.logger.Debug("write failed", "error", err)
				c.close()
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(c.writeTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Debug("ping failed", "error", err)
				c.close()
				return
			}
		case <-c.done:
			c.flush()
			c.mu.Lock()
			msg := websocket.FormatCloseMessage(c.closeCode, c.closeReason)
			c.mu.Unlock()
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
			return
		}
	}
}

func (c *wsClient) write(data []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// flush writes whatever is still queued.
func (c *wsClient) flush() {
	for {
		select {
		case data := <-c.send:
			if err := c.write(data); err != nil {
				return
			}
		default:
			return
		}
	}
}

// readPump reads invocations until the socket fails or closes and hands
// each one to handle. Invocations are processed one at a time.
func (c *wsClient) readPump(maxMessageBytes int64, handle func(*protocol.Envelope)) {
	c.ws.SetReadLimit(maxMessageBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.pongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.pongTimeout))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				c.logger.Debug("read failed", "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.pongTimeout))

		env, err := protocol.Decode(data)
		if err != nil {
			c.logger.Debug("dropping malformed frame", "error", err, "bytes", len(data))
			_ = c.Send(protocol.Completion("", protocol.CompletionPayload{Error: err.Error()}))
			continue
		}
		handle(env)
	}
}

// sessionSet tracks live websocket sessions for shutdown.
type sessionSet struct {
	mu      sync.Mutex
	clients map[string]*wsClient
	wg      sync.WaitGroup
}

func newSessionSet() *sessionSet {
	return &sessionSet{clients: make(map[string]*wsClient)}
}

func (s *sessionSet) add(c *wsClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.id] = c
	s.wg.Add(1)
}

func (s *sessionSet) remove(c *wsClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c.id]; ok {
		delete(s.clients, c.id)
		s.wg.Done()
	}
}

func (s *sessionSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// closeAll closes every client and waits for their sessions to tear down
// or for ctx to expire.
func (s *sessionSet) closeAll(ctx context.Context) {
	s.mu.Lock()
	for _, c := range s.clients {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
	}
	s.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
	}
}

// handleMessageHub handles GET /hubs/message?user=<counterpart>: it
// upgrades to a websocket, joins the conversation and serves invocations
// until the connection ends.
func (g *Gateway) handleMessageHub(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())
	counterpart := r.URL.Query().Get(CounterpartParam)
	if counterpart == "" {
		g.sendJSONError(w, http.StatusBadRequest, "user query parameter is required")
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		g.logger.Debug("websocket upgrade failed", "username", caller.Username, "error", err)
		return
	}

	client := g.newClient(ws, caller.Username)
	g.sessions.add(client)
	defer g.sessions.remove(client)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		client.writePump()
	}()

	// The request context ends with this handler, so teardown uses its own.
	ctx := context.WithoutCancel(r.Context())
	session := g.hub.NewSession(client, counterpart)

	if err := session.Join(ctx); err != nil {
		_ = client.Send(protocol.Completion("", protocol.CompletionPayload{Error: err.Error()}))
		client.closeWith(joinCloseCode(err), truncateReason(err.Error()))
		<-writerDone
		return
	}

	// Closing the client (shutdown, slow consumer) must also end the read
	// pump, which only returns once the socket is closed by the write pump.
	client.readPump(g.config.Hub.MaxMessageBytes, func(env *protocol.Envelope) {
		g.handleInvocation(ctx, session, client, env)
	})

	session.Disconnect(ctx)
	client.close()
	<-writerDone
}

// handleInvocation runs one client invocation and replies with a Completion.
// Failures are reported to the caller and never end the connection.
func (g *Gateway) handleInvocation(ctx context.Context, session *hub.Session, client *wsClient, env *protocol.Envelope) {
	switch env.Type {
	case protocol.TypeSendMessage:
		req, err := env.DecodeSendMessage()
		if err != nil {
			_ = client.Send(protocol.Completion(env.ID, protocol.CompletionPayload{Error: err.Error()}))
			return
		}

		msg, err := session.SendMessage(ctx, *req)
		switch {
		case errors.Is(err, hub.ErrDuplicateMessage):
			_ = client.Send(protocol.Completion(env.ID, protocol.CompletionPayload{Duplicate: true}))
		case err != nil:
			client.logger.Info("send rejected", "error", err)
			_ = client.Send(protocol.Completion(env.ID, protocol.CompletionPayload{Error: publicError(err)}))
		default:
			dto := protocol.NewMessageDTO(msg)
			_ = client.Send(protocol.Completion(env.ID, protocol.CompletionPayload{Message: &dto}))
		}
	default:
		_ = client.Send(protocol.Completion(env.ID, protocol.CompletionPayload{
			Error: "unknown invocation " + env.Type,
		}))
	}
}

// joinCloseCode picks the close status for a failed join.
func joinCloseCode(err error) int {
	switch {
	case errors.Is(err, hub.ErrValidation), errors.Is(err, hub.ErrNotFound):
		return websocket.ClosePolicyViolation
	default:
		return websocket.CloseInternalServerErr
	}
}

// truncateReason keeps a close reason within the control frame limit
// without splitting a UTF-8 sequence.
func truncateReason(reason string) string {
	const max = 120
	if len(reason) <= max {
		return reason
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}
