package upstream

import (
	"time"

	"consolebot-go/internal/upstream/types"
)

// ManagedServer is one server tracked by a Manager. All fields are guarded by
// the owning manager's mutex.
type ManagedServer struct {
	id            int
	state         types.ConnectionState
	lastHeartbeat time.Time
	conn          Conn

	// generation changes whenever a connect attempt is started or abandoned,
	// so signals from a superseded attempt are ignored
	generation uint64

	connectedAt time.Time
	lastError   error
}

func newManagedServer(id int) *ManagedServer {
	return &ManagedServer{
		id:    id,
		state: types.StateDisconnected,
	}
}

// ServerSnapshot is a point-in-time copy of a managed server
type ServerSnapshot struct {
	ID            int                   `json:"id"`
	State         types.ConnectionState `json:"state"`
	LastHeartbeat time.Time             `json:"last_heartbeat,omitempty"`
	ConnectedAt   time.Time             `json:"connected_at,omitempty"`
	LastError     string                `json:"last_error,omitempty"`
}

func (s *ManagedServer) snapshot() ServerSnapshot {
	snap := ServerSnapshot{
		ID:            s.id,
		State:         s.state,
		LastHeartbeat: s.lastHeartbeat,
		ConnectedAt:   s.connectedAt,
	}
	if s.lastError != nil {
		snap.LastError = s.lastError.Error()
	}
	return snap
}
