package relay

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"journeysync/wire"
)

// participant is one connected socket inside a room. Writes are serialized
// by a mutex; reads happen on the participant's own read loop goroutine.
type participant struct {
	room     *Room
	conn     *websocket.Conn
	userID   string
	userName string
	color    string
	logger   *zap.Logger

	mu     sync.Mutex
	closed bool
}

// send serializes msg, runs it through the transport size guard, and writes
// it to the socket. Sending on a closed participant is an error the room
// logs and otherwise ignores.
func (p *participant) send(msg *wire.Message) error {
	raw, err := wire.EnforceLimit(msg, p.logger)
	if err != nil {
		return errors.Wrap(err, "failed to encode message")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errors.New("participant is closed")
	}
	if err := p.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return errors.Wrap(err, "failed to write message")
	}
	return nil
}

// readLoop pumps inbound messages into the room until the socket dies, then
// removes the participant from the room.
func (p *participant) readLoop() {
	defer p.room.leave(p)

	for {
		_, raw, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				p.logger.Warn("websocket read error",
					zap.String("user_id", p.userID),
					zap.Error(err))
			}
			return
		}

		msg, payload, err := wire.Decode(raw)
		if err != nil {
			// Malformed or unknown messages never kill the session.
			p.logger.Warn("discarding malformed message",
				zap.String("user_id", p.userID),
				zap.Error(err))
			continue
		}

		p.room.handleMessage(p, msg, payload)
	}
}

// close marks the participant closed and closes the socket.
func (p *participant) close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	p.conn.Close()
}
