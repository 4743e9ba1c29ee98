// Package client implements the per-document collaboration session: it
// applies locally-originated operations to the document store first, relays
// them to the server when connected, queues them when not, merges remote
// operations and full-state snapshots, and reconnects with exponential
// backoff after a dropped transport.
package client

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"journeysync/journey"
	"journeysync/store"
	"journeysync/wire"
)

// State is the session's connection state.
type State string

const (
	// StateDisconnected means no transport is open and no reconnect is due.
	StateDisconnected State = "disconnected"
	// StateConnecting means a dial is in flight.
	StateConnecting State = "connecting"
	// StateConnected means the transport is open.
	StateConnected State = "connected"
	// StateError means reconnection gave up after the attempt cap.
	StateError State = "error"
)

const (
	defaultBaseDelay   = 500 * time.Millisecond
	defaultMaxAttempts = 10
)

// Config configures a session.
type Config struct {
	// Endpoint is the relay base URL; http(s) schemes are rewritten to
	// ws(s).
	Endpoint  string
	JourneyID string
	UserID    string
	UserName  string

	// ReconnectBaseDelay is the first reconnect delay; each further attempt
	// doubles it. Defaults to 500ms.
	ReconnectBaseDelay time.Duration
	// MaxReconnectAttempts caps reconnection before the session reports a
	// terminal connection error. Defaults to 10.
	MaxReconnectAttempts int
}

// Client is a per-document collaboration session. All exported methods are
// safe for concurrent use; document mutation itself is serialized by the
// underlying store.
type Client struct {
	cfg    Config
	store  *store.DocumentStore
	logger *zap.Logger

	// OnDocument receives every new local snapshot. OnState receives
	// connection-state transitions. OnPresence receives the remote
	// participant set after any presence change. All are optional and are
	// invoked without internal locks held.
	OnDocument func(*journey.Map)
	OnState    func(State)
	OnPresence func([]*wire.Participant)

	mu             sync.Mutex
	conn           *websocket.Conn
	state          State
	pending        []*wire.OperationPayload
	participants   map[string]*wire.Participant
	lastSyncAt     int64
	attempts       int
	backoff        *backoff.ExponentialBackOff
	reconnectTimer *time.Timer
	closed         bool
	ctx            context.Context
}

// New creates a session over the given document store.
func New(cfg Config, ds *store.DocumentStore, logger *zap.Logger) *Client {
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = defaultBaseDelay
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = defaultMaxAttempts
	}
	if cfg.UserID == "" {
		cfg.UserID = uuid.NewString()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.ReconnectBaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	b.Reset()

	return &Client{
		cfg:          cfg,
		store:        ds,
		logger:       logger,
		state:        StateDisconnected,
		participants: make(map[string]*wire.Participant),
		backoff:      b,
	}
}

// Connect dials the relay. On success it resets the reconnect schedule,
// requests a full sync, and flushes any operations queued while offline.
// On failure it schedules a reconnect attempt and returns the dial error.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("session is closed")
	}
	c.ctx = ctx
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	endpoint, err := c.dialURL()
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		c.logger.Warn("dial failed",
			zap.String("journey_id", c.cfg.JourneyID),
			zap.Error(err))
		c.mu.Lock()
		c.setStateLocked(StateDisconnected)
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		return errors.Wrap(err, "failed to dial relay")
	}

	c.mu.Lock()
	c.conn = conn
	c.attempts = 0
	c.backoff.Reset()
	c.setStateLocked(StateConnected)
	c.mu.Unlock()

	c.logger.Info("connected",
		zap.String("journey_id", c.cfg.JourneyID),
		zap.String("user_id", c.cfg.UserID))

	c.requestSync()
	c.flushPending()

	go c.readLoop(conn)
	return nil
}

// Disconnect closes the session for good: the socket is closed, any pending
// reconnect timer is cancelled, and no further reconnects happen. Queued
// operations stay queued; a new session over the same store may flush them.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.closed = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	conn := c.conn
	c.conn = nil
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastSyncAt returns the unix-millisecond time of the last completed sync,
// or zero when none happened yet.
func (c *Client) LastSyncAt() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSyncAt
}

// PendingCount reports the number of operations queued for the next
// successful connection.
func (c *Client) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Execute applies op locally first, for immediate responsiveness, then sends
// it to the relay or queues it when the transport is down. It returns the
// local post-apply snapshot and never blocks on the network.
func (c *Client) Execute(ctx context.Context, op *journey.Operation) (*journey.Map, error) {
	if op.OperationID == "" {
		op.OperationID = uuid.NewString()
	}
	if op.UserID == "" {
		op.UserID = c.cfg.UserID
	}

	doc, err := c.apply(ctx, op)
	if err != nil {
		return nil, err
	}

	payload := &wire.OperationPayload{
		JourneyID:   c.cfg.JourneyID,
		Operation:   op,
		OperationID: op.OperationID,
	}

	// The operation is queued at its submission position before any send
	// attempt and dequeued only on success, so a failed send leaves it in
	// front of everything submitted after it and the flush stays FIFO.
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected && conn != nil
	c.pending = append(c.pending, payload)
	c.mu.Unlock()

	if connected {
		if err := c.sendOperation(conn, payload); err != nil {
			// The transport died under us: the operation stays queued for
			// the next connection, its id lets receivers deduplicate.
			c.logger.Warn("send failed, operation stays queued",
				zap.String("operation_id", payload.OperationID),
				zap.Error(err))
		} else {
			c.dequeue(payload)
		}
	}

	c.notifyDocument(doc)
	return doc, nil
}

// Undo reverts the most recent local operation. The rewrite is local only:
// it is not broadcast, so other participants see it only indirectly.
func (c *Client) Undo(ctx context.Context) (*journey.Map, error) {
	doc, err := c.store.Undo(ctx, c.cfg.JourneyID)
	if err != nil {
		return nil, err
	}
	c.notifyDocument(doc)
	return doc, nil
}

// Redo re-applies the most recently undone local operation.
func (c *Client) Redo(ctx context.Context) (*journey.Map, error) {
	doc, err := c.store.Redo(ctx, c.cfg.JourneyID)
	if err != nil {
		return nil, err
	}
	c.notifyDocument(doc)
	return doc, nil
}

// SendPresence publishes the local cursor position. Presence is ephemeral
// and never queued: when the transport is down the update is dropped.
func (c *Client) SendPresence(x, y float64) {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected && conn != nil
	c.mu.Unlock()
	if !connected {
		return
	}

	msg, err := wire.NewMessage(wire.TypePresence, &wire.PresencePayload{
		Cursor: &wire.Cursor{X: x, Y: y},
	}, c.cfg.UserID)
	if err != nil {
		return
	}
	if err := c.write(conn, msg); err != nil {
		c.logger.Debug("presence send failed", zap.Error(err))
	}
}

// Participants returns the known remote participants.
func (c *Client) Participants() []*wire.Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.participantsLocked()
}

// Document returns the current local snapshot.
func (c *Client) Document(ctx context.Context) (*journey.Map, error) {
	return c.store.Get(ctx, c.cfg.JourneyID)
}

// apply runs op through the document store, creating the document on first
// access.
func (c *Client) apply(ctx context.Context, op *journey.Operation) (*journey.Map, error) {
	doc, err := c.store.Execute(ctx, c.cfg.JourneyID, op)
	if err == nil {
		return doc, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if _, err := c.store.Create(ctx, c.cfg.JourneyID, "", ""); err != nil {
		return nil, err
	}
	return c.store.Execute(ctx, c.cfg.JourneyID, op)
}

func (c *Client) dialURL() (string, error) {
	u, err := url.Parse(c.cfg.Endpoint)
	if err != nil {
		return "", errors.Wrap(err, "invalid relay endpoint")
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = fmt.Sprintf("%s/ws/%s", u.Path, c.cfg.JourneyID)
	q := u.Query()
	q.Set("userId", c.cfg.UserID)
	q.Set("userName", c.cfg.UserName)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) requestSync() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	msg, err := wire.NewMessage(wire.TypeSyncRequest, &wire.SyncRequestPayload{}, c.cfg.UserID)
	if err != nil {
		return
	}
	if err := c.write(conn, msg); err != nil {
		c.logger.Warn("sync request failed", zap.Error(err))
	}
}

// dequeue removes a successfully delivered operation from the queue.
func (c *Client) dequeue(payload *wire.OperationPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, queued := range c.pending {
		if queued == payload {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return
		}
	}
}

// flushPending drains the offline queue in submission order. Operations
// keep their original ids so receivers can deduplicate redeliveries.
func (c *Client) flushPending() {
	c.mu.Lock()
	queued := c.pending
	c.pending = nil
	conn := c.conn
	c.mu.Unlock()

	if len(queued) == 0 || conn == nil {
		return
	}

	c.logger.Info("flushing queued operations",
		zap.String("journey_id", c.cfg.JourneyID),
		zap.Int("count", len(queued)))

	for i, payload := range queued {
		if err := c.sendOperation(conn, payload); err != nil {
			c.logger.Warn("flush interrupted, re-queueing remainder",
				zap.Int("remaining", len(queued)-i),
				zap.Error(err))
			c.mu.Lock()
			c.pending = append(queued[i:], c.pending...)
			c.mu.Unlock()
			return
		}
	}
}

func (c *Client) sendOperation(conn *websocket.Conn, payload *wire.OperationPayload) error {
	msg, err := wire.NewMessage(wire.TypeOperation, payload, c.cfg.UserID)
	if err != nil {
		return err
	}
	return c.write(conn, msg)
}

func (c *Client) write(conn *websocket.Conn, msg *wire.Message) error {
	raw, err := msg.Encode()
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if conn == nil {
		return errors.New("no connection")
	}
	return conn.WriteMessage(websocket.TextMessage, raw)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.handleConnectionLost(conn, err)
			return
		}

		msg, payload, err := wire.Decode(raw)
		if err != nil {
			// Malformed inbound messages never crash the session.
			c.logger.Warn("discarding malformed message", zap.Error(err))
			continue
		}
		c.handleMessage(msg, payload)
	}
}

func (c *Client) handleMessage(msg *wire.Message, payload any) {
	ctx := c.sessionContext()

	switch data := payload.(type) {
	case *wire.OperationPayload:
		// A message carrying the local participant's id is an echo of work
		// already applied locally.
		if msg.UserID == c.cfg.UserID {
			return
		}
		c.applyRemote(ctx, data)

	case *wire.SyncResponsePayload:
		c.handleSyncResponse(ctx, data)

	case *wire.PresencePayload:
		if data.UserID == c.cfg.UserID {
			return
		}
		c.mu.Lock()
		if pr, ok := c.participants[data.UserID]; ok {
			pr.Cursor = data.Cursor
			pr.LastSeen = journey.Now()
		} else {
			c.participants[data.UserID] = &wire.Participant{
				UserID:   data.UserID,
				Cursor:   data.Cursor,
				LastSeen: journey.Now(),
			}
		}
		remotes := c.participantsLocked()
		c.mu.Unlock()
		c.notifyPresence(remotes)

	case *wire.UserJoinedPayload:
		if data.UserID == c.cfg.UserID {
			return
		}
		c.mu.Lock()
		c.participants[data.UserID] = &wire.Participant{
			UserID:   data.UserID,
			UserName: data.UserName,
			Color:    data.Color,
			LastSeen: journey.Now(),
		}
		remotes := c.participantsLocked()
		c.mu.Unlock()
		c.notifyPresence(remotes)

	case *wire.UserLeftPayload:
		c.mu.Lock()
		delete(c.participants, data.UserID)
		remotes := c.participantsLocked()
		c.mu.Unlock()
		c.notifyPresence(remotes)

	default:
		c.logger.Warn("unexpected message type",
			zap.String("message_type", string(msg.Type)))
	}
}

// applyRemote folds a remote operation into local state.
func (c *Client) applyRemote(ctx context.Context, payload *wire.OperationPayload) {
	if payload.Operation == nil {
		return
	}
	doc, err := c.apply(ctx, payload.Operation)
	if err != nil {
		c.logger.Warn("failed to apply remote operation",
			zap.String("operation_id", payload.OperationID),
			zap.Error(err))
		return
	}
	c.notifyDocument(doc)
}

// handleSyncResponse installs the relay's snapshot when present, then
// replays the listed operations on top of it. Replay is unconditional,
// own-origin operations included, to heal any gap between what this client
// applied locally and what the relay saw; idempotent operation semantics
// make the re-application safe.
func (c *Client) handleSyncResponse(ctx context.Context, resp *wire.SyncResponsePayload) {
	if resp.CurrentState != nil {
		if err := c.store.SetDocument(ctx, resp.CurrentState); err != nil {
			c.logger.Error("failed to install sync snapshot", zap.Error(err))
			return
		}
	}

	for _, payload := range resp.Operations {
		if payload.Operation == nil {
			continue
		}
		if _, err := c.apply(ctx, payload.Operation); err != nil {
			c.logger.Warn("failed to replay sync operation",
				zap.String("operation_id", payload.OperationID),
				zap.Error(err))
		}
	}

	c.mu.Lock()
	c.participants = make(map[string]*wire.Participant)
	for _, user := range resp.Users {
		if user.UserID == c.cfg.UserID {
			continue
		}
		cp := *user
		c.participants[user.UserID] = &cp
	}
	c.lastSyncAt = journey.Now()
	remotes := c.participantsLocked()
	c.mu.Unlock()

	c.logger.Info("sync completed",
		zap.String("journey_id", c.cfg.JourneyID),
		zap.Int("replayed", len(resp.Operations)),
		zap.Bool("snapshot", resp.CurrentState != nil))

	c.notifyPresence(remotes)

	doc, err := c.store.Get(ctx, c.cfg.JourneyID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			c.logger.Warn("failed to load document after sync", zap.Error(err))
		}
		return
	}
	c.notifyDocument(doc)
}

func (c *Client) handleConnectionLost(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		// A newer connection already took over.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(StateDisconnected)
	c.scheduleReconnectLocked()
	c.mu.Unlock()

	c.logger.Warn("connection lost",
		zap.String("journey_id", c.cfg.JourneyID),
		zap.Error(cause))
}

// scheduleReconnectLocked arms the next reconnect attempt. Callers hold
// c.mu. After the attempt cap the session reports a terminal error instead.
func (c *Client) scheduleReconnectLocked() {
	if c.closed {
		return
	}
	c.attempts++
	if c.attempts > c.cfg.MaxReconnectAttempts {
		c.setStateLocked(StateError)
		c.logger.Error("giving up on reconnection",
			zap.String("journey_id", c.cfg.JourneyID),
			zap.Int("attempts", c.attempts-1))
		return
	}

	delay := c.backoff.NextBackOff()
	c.logger.Info("scheduling reconnect",
		zap.String("journey_id", c.cfg.JourneyID),
		zap.Int("attempt", c.attempts),
		zap.Duration("delay", delay))

	ctx := c.ctx
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.Connect(ctx)
	})
}

// setStateLocked records a state transition. Callers hold c.mu; the OnState
// callback fires asynchronously so it can never deadlock back into the
// client.
func (c *Client) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	if c.OnState != nil {
		go c.OnState(s)
	}
}

func (c *Client) participantsLocked() []*wire.Participant {
	out := make([]*wire.Participant, 0, len(c.participants))
	for _, pr := range c.participants {
		cp := *pr
		out = append(out, &cp)
	}
	return out
}

func (c *Client) notifyDocument(doc *journey.Map) {
	if c.OnDocument != nil && doc != nil {
		c.OnDocument(doc)
	}
}

func (c *Client) notifyPresence(remotes []*wire.Participant) {
	if c.OnPresence != nil {
		c.OnPresence(remotes)
	}
}

func (c *Client) sessionContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx != nil {
		return c.ctx
	}
	return context.Background()
}
