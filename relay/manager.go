package relay

import (
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Manager owns the mapping from journey id to room. Rooms are created on a
// document's first connection and destroyed when their last participant
// leaves. The manager is passed by handle; there is no package-level room
// registry.
type Manager struct {
	logger *zap.Logger

	mu    sync.Mutex
	rooms map[string]*Room
}

// NewManager creates an empty room manager.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		logger: logger,
		rooms:  make(map[string]*Room),
	}
}

// Room returns the room for the given journey id, creating it on first use.
func (m *Manager) Room(journeyID string) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()

	if room, ok := m.rooms[journeyID]; ok {
		return room
	}

	room := newRoom(journeyID, m.logger, m.release)
	m.rooms[journeyID] = room

	m.logger.Info("room created", zap.String("journey_id", journeyID))
	return room
}

// Join resolves the room for journeyID and registers the socket in it as one
// atomic step under the manager lock, so a concurrent release of the room
// (its last participant leaving) cannot strand the joiner in a destroyed
// room while later joiners land in a fresh one.
func (m *Manager) Join(journeyID string, conn *websocket.Conn, userID, userName string) *participant {
	m.mu.Lock()
	room, ok := m.rooms[journeyID]
	if !ok {
		room = newRoom(journeyID, m.logger, m.release)
		m.rooms[journeyID] = room
		m.logger.Info("room created", zap.String("journey_id", journeyID))
	}
	p, displaced := room.register(conn, userID, userName)
	m.mu.Unlock()

	room.welcome(p, displaced)
	return p
}

// release destroys the room for journeyID if it is still empty. Called by a
// room when its last participant leaves.
func (m *Manager) release(journeyID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[journeyID]
	if !ok || room.ParticipantCount() > 0 {
		return
	}
	delete(m.rooms, journeyID)

	m.logger.Info("room destroyed", zap.String("journey_id", journeyID))
}

// RoomCount reports the number of live rooms.
func (m *Manager) RoomCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}
