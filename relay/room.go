// Package relay implements the server-side per-document broadcast hub: one
// room per journey id, a bounded log of recent operations for late joiners,
// presence fan-out, and the transport size guard applied to every outbound
// message.
package relay

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"journeysync/journey"
	"journeysync/wire"
)

// MaxLogEntries is the number of recent operations a room retains to answer
// sync requests.
const MaxLogEntries = 1000

// presenceColors is the palette cycled through as participants join.
var presenceColors = []string{
	"#ff6b6b", "#4ecdc4", "#ffe66d", "#1a936f",
	"#3d5a80", "#ee6c4d", "#9b5de5", "#00bbf9",
}

// Room is the broadcast hub for a single journey document. All room state is
// owned by the room and guarded by its mutex; rooms for different documents
// share nothing.
type Room struct {
	journeyID string
	logger    *zap.Logger
	onEmpty   func(journeyID string)

	mu           sync.Mutex
	participants map[string]*participant
	log          []*wire.OperationPayload
	presence     map[string]*wire.Participant
	joinCount    int
}

func newRoom(journeyID string, logger *zap.Logger, onEmpty func(string)) *Room {
	return &Room{
		journeyID:    journeyID,
		logger:       logger,
		onEmpty:      onEmpty,
		participants: make(map[string]*participant),
		presence:     make(map[string]*wire.Participant),
	}
}

// JourneyID returns the document id this room serves.
func (r *Room) JourneyID() string {
	return r.journeyID
}

// Join registers a new socket with the room. Participants arriving without
// an id get a generated one; everyone gets a palette color. The joiner is
// immediately sent a sync response carrying the retained operation log and
// presence set, and everyone else learns about the join. Handlers go through
// Manager.Join instead, which makes room lookup and registration atomic.
func (r *Room) Join(conn *websocket.Conn, userID, userName string) *participant {
	p, displaced := r.register(conn, userID, userName)
	r.welcome(p, displaced)
	return p
}

// register adds the socket to the participant and presence registries. A
// participant already registered under the same user id is displaced and
// returned so the caller can close it.
func (r *Room) register(conn *websocket.Conn, userID, userName string) (p, displaced *participant) {
	if userID == "" {
		userID = uuid.NewString()
	}
	if userName == "" {
		userName = "anonymous"
	}

	r.mu.Lock()
	displaced = r.participants[userID]
	color := presenceColors[r.joinCount%len(presenceColors)]
	r.joinCount++

	p = &participant{
		room:     r,
		conn:     conn,
		userID:   userID,
		userName: userName,
		color:    color,
		logger:   r.logger,
	}
	r.participants[userID] = p
	r.presence[userID] = &wire.Participant{
		UserID:   userID,
		UserName: userName,
		Color:    color,
		LastSeen: journey.Now(),
	}
	r.mu.Unlock()
	return p, displaced
}

// welcome closes any displaced connection, sends the initial sync response
// to the joiner, and announces the join to the rest of the room.
func (r *Room) welcome(p, displaced *participant) {
	if displaced != nil {
		// The old socket no longer owns the registry entry; its leave is
		// swallowed by the stale-participant guard, so it is closed here.
		displaced.close()
		r.logger.Info("displaced previous connection",
			zap.String("journey_id", r.journeyID),
			zap.String("user_id", p.userID))
	}

	r.mu.Lock()
	resp := r.syncResponseLocked()
	r.mu.Unlock()

	userID := p.userID
	userName := p.userName
	color := p.color

	r.logger.Info("participant joined",
		zap.String("journey_id", r.journeyID),
		zap.String("user_id", userID),
		zap.String("user_name", userName))

	if msg, err := wire.NewMessage(wire.TypeSyncResponse, resp, ""); err == nil {
		if err := p.send(msg); err != nil {
			r.logger.Warn("failed to send sync response",
				zap.String("user_id", userID),
				zap.Error(err))
		}
	}

	joined, err := wire.NewMessage(wire.TypeUserJoined, &wire.UserJoinedPayload{
		UserID:   userID,
		UserName: userName,
		Color:    color,
	}, userID)
	if err == nil {
		r.broadcast(joined, userID)
	}
}

// handleMessage dispatches a decoded inbound message from p.
func (r *Room) handleMessage(p *participant, msg *wire.Message, payload any) {
	switch data := payload.(type) {
	case *wire.OperationPayload:
		r.handleOperation(p, data)
	case *wire.PresencePayload:
		r.handlePresence(p, data)
	case *wire.SyncRequestPayload:
		r.handleSyncRequest(p)
	default:
		r.logger.Warn("unexpected inbound message type",
			zap.String("journey_id", r.journeyID),
			zap.String("user_id", p.userID),
			zap.String("message_type", string(msg.Type)))
	}
}

// handleOperation stamps the operation with relay time and sender identity,
// appends it to the bounded log, and fans it out to everyone but the origin.
func (r *Room) handleOperation(p *participant, payload *wire.OperationPayload) {
	if payload.Operation == nil {
		r.logger.Warn("dropping operation message without an operation",
			zap.String("journey_id", r.journeyID),
			zap.String("user_id", p.userID))
		return
	}

	if payload.JourneyID == "" {
		payload.JourneyID = r.journeyID
	}
	if payload.OperationID == "" {
		payload.OperationID = payload.Operation.OperationID
	}
	if payload.Operation.UserID == "" {
		payload.Operation.UserID = p.userID
	}

	r.mu.Lock()
	r.log = append(r.log, payload)
	if len(r.log) > MaxLogEntries {
		r.log = r.log[len(r.log)-MaxLogEntries:]
	}
	if pr, ok := r.presence[p.userID]; ok {
		pr.LastSeen = journey.Now()
	}
	r.mu.Unlock()

	msg, err := wire.NewMessage(wire.TypeOperation, payload, p.userID)
	if err != nil {
		r.logger.Error("failed to encode operation broadcast", zap.Error(err))
		return
	}

	r.logger.Debug("operation relayed",
		zap.String("journey_id", r.journeyID),
		zap.String("user_id", p.userID),
		zap.String("operation_id", payload.OperationID),
		zap.String("operation_type", string(payload.Operation.Type)))

	r.broadcast(msg, p.userID)
}

// handlePresence updates the sender's presence record and fans it out.
func (r *Room) handlePresence(p *participant, payload *wire.PresencePayload) {
	r.mu.Lock()
	if pr, ok := r.presence[p.userID]; ok {
		pr.Cursor = payload.Cursor
		pr.LastSeen = journey.Now()
	}
	r.mu.Unlock()

	out := &wire.PresencePayload{UserID: p.userID, Cursor: payload.Cursor}
	msg, err := wire.NewMessage(wire.TypePresence, out, p.userID)
	if err != nil {
		return
	}
	r.broadcast(msg, p.userID)
}

// handleSyncRequest re-sends the retained log and presence set to the
// requester only.
func (r *Room) handleSyncRequest(p *participant) {
	r.mu.Lock()
	resp := r.syncResponseLocked()
	r.mu.Unlock()

	msg, err := wire.NewMessage(wire.TypeSyncResponse, resp, "")
	if err != nil {
		return
	}
	if err := p.send(msg); err != nil {
		r.logger.Warn("failed to send sync response",
			zap.String("user_id", p.userID),
			zap.Error(err))
	}
}

// syncResponseLocked snapshots the log and presence set. Callers hold r.mu.
func (r *Room) syncResponseLocked() *wire.SyncResponsePayload {
	ops := make([]*wire.OperationPayload, len(r.log))
	copy(ops, r.log)

	users := make([]*wire.Participant, 0, len(r.presence))
	for _, pr := range r.presence {
		cp := *pr
		users = append(users, &cp)
	}

	return &wire.SyncResponsePayload{Operations: ops, Users: users}
}

// leave removes p from the room, closes its socket, and tells everyone else.
// When the last participant leaves, the room reports itself empty so the
// manager can destroy it.
func (r *Room) leave(p *participant) {
	r.mu.Lock()
	current, ok := r.participants[p.userID]
	if !ok || current != p {
		// A reconnect already replaced this participant.
		r.mu.Unlock()
		p.close()
		return
	}
	delete(r.participants, p.userID)
	delete(r.presence, p.userID)
	empty := len(r.participants) == 0
	r.mu.Unlock()

	p.close()

	r.logger.Info("participant left",
		zap.String("journey_id", r.journeyID),
		zap.String("user_id", p.userID))

	if msg, err := wire.NewMessage(wire.TypeUserLeft, &wire.UserLeftPayload{UserID: p.userID}, p.userID); err == nil {
		r.broadcast(msg, p.userID)
	}

	if empty && r.onEmpty != nil {
		r.onEmpty(r.journeyID)
	}
}

// broadcast sends msg to every participant except the one named by exclude.
// Send failures are logged; the failing socket is reaped by its own read
// loop.
func (r *Room) broadcast(msg *wire.Message, exclude string) {
	r.mu.Lock()
	targets := make([]*participant, 0, len(r.participants))
	for id, p := range r.participants {
		if id == exclude {
			continue
		}
		targets = append(targets, p)
	}
	r.mu.Unlock()

	for _, p := range targets {
		if err := p.send(msg); err != nil {
			r.logger.Warn("failed to broadcast to participant",
				zap.String("journey_id", r.journeyID),
				zap.String("user_id", p.userID),
				zap.Error(err))
		}
	}
}

// ParticipantCount reports the number of connected participants.
func (r *Room) ParticipantCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants)
}

// LogLen reports the number of retained operations.
func (r *Room) LogLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.log)
}
