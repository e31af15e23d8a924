package relay

import (
	"sync"

	"huddle/internal/core/domain"

	"go.uber.org/zap"
)

// RoomTable owns the live connection registry and the room subscription
// index. It implements ports.Broadcaster for the service layer.
//
// Every connection is auto-subscribed to its personal room ("user:<id>") on
// register, which is how ToUser reaches all of a user's live connections.
type RoomTable struct {
	mu          sync.RWMutex
	connections map[domain.ConnectionID]*Connection
	rooms       map[string]map[domain.ConnectionID]*Connection
	memberships map[domain.ConnectionID]map[string]struct{}

	logger *zap.SugaredLogger
}

func NewRoomTable(logger *zap.SugaredLogger) *RoomTable {
	return &RoomTable{
		connections: make(map[domain.ConnectionID]*Connection),
		rooms:       make(map[string]map[domain.ConnectionID]*Connection),
		memberships: make(map[domain.ConnectionID]map[string]struct{}),
		logger:      logger,
	}
}

// Register adds the connection and joins it to its personal room.
func (t *RoomTable) Register(conn *Connection) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.connections[conn.ID] = conn
	t.memberships[conn.ID] = make(map[string]struct{})
	t.joinLocked(conn, domain.PersonalKey(conn.UserID))
}

// Unregister removes the connection from every room it joined and from the
// registry. Safe to call twice.
func (t *RoomTable) Unregister(connID domain.ConnectionID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	conn, ok := t.connections[connID]
	if !ok {
		return
	}
	for key := range t.memberships[connID] {
		t.leaveLocked(conn, key)
	}
	delete(t.memberships, connID)
	delete(t.connections, connID)
	conn.close()
}

// Join subscribes the connection to a room key.
func (t *RoomTable) Join(connID domain.ConnectionID, key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	conn, ok := t.connections[connID]
	if !ok {
		return
	}
	t.joinLocked(conn, key)
}

// Leave unsubscribes the connection from a room key. No-op if not joined.
func (t *RoomTable) Leave(connID domain.ConnectionID, key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	conn, ok := t.connections[connID]
	if !ok {
		return
	}
	t.leaveLocked(conn, key)
}

func (t *RoomTable) joinLocked(conn *Connection, key string) {
	room, ok := t.rooms[key]
	if !ok {
		room = make(map[domain.ConnectionID]*Connection)
		t.rooms[key] = room
	}
	room[conn.ID] = conn
	t.memberships[conn.ID][key] = struct{}{}
}

func (t *RoomTable) leaveLocked(conn *Connection, key string) {
	if room, ok := t.rooms[key]; ok {
		delete(room, conn.ID)
		if len(room) == 0 {
			delete(t.rooms, key)
		}
	}
	if m, ok := t.memberships[conn.ID]; ok {
		delete(m, key)
	}
}

// ToRoom delivers the envelope to every connection subscribed to the key.
func (t *RoomTable) ToRoom(key string, env domain.Envelope) {
	t.mu.RLock()
	targets := make([]*Connection, 0, len(t.rooms[key]))
	for _, conn := range t.rooms[key] {
		targets = append(targets, conn)
	}
	t.mu.RUnlock()

	for _, conn := range targets {
		conn.Send(env)
	}
}

// ToRoomExcept delivers to the room's subscribers, skipping one connection.
// Used for events the originator should not echo back to itself.
func (t *RoomTable) ToRoomExcept(key string, exclude domain.ConnectionID, env domain.Envelope) {
	t.mu.RLock()
	targets := make([]*Connection, 0, len(t.rooms[key]))
	for id, conn := range t.rooms[key] {
		if id == exclude {
			continue
		}
		targets = append(targets, conn)
	}
	t.mu.RUnlock()

	for _, conn := range targets {
		conn.Send(env)
	}
}

// ToUser delivers the envelope to all live connections of one user.
func (t *RoomTable) ToUser(userID domain.UserID, env domain.Envelope) {
	t.ToRoom(domain.PersonalKey(userID), env)
}

// ToAllExcept delivers the envelope to every connection except the given one.
func (t *RoomTable) ToAllExcept(exclude domain.ConnectionID, env domain.Envelope) {
	t.mu.RLock()
	targets := make([]*Connection, 0, len(t.connections))
	for id, conn := range t.connections {
		if id == exclude {
			continue
		}
		targets = append(targets, conn)
	}
	t.mu.RUnlock()

	for _, conn := range targets {
		conn.Send(env)
	}
}

// Get returns the live connection by id.
func (t *RoomTable) Get(connID domain.ConnectionID) (*Connection, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	conn, ok := t.connections[connID]
	return conn, ok
}

// Count reports the number of live connections.
func (t *RoomTable) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.connections)
}
