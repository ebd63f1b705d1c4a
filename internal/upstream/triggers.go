package upstream

import (
	"go.uber.org/zap"

	"consolebot-go/internal/events"
	"consolebot-go/internal/types"
)

// onGroupUpdate re-fetches the member record so role data is current, then
// re-evaluates every server if the permission set changed
func (m *Manager) onGroupUpdate(e events.Event) {
	group, ok := e.Content.(*types.GroupInfo)
	if !ok || group == nil {
		m.unexpectedContent(e)
		return
	}
	if m.isDisposed() {
		return
	}

	member, err := m.metadata.GetGroupMember(m.ctx, m.groupID, m.userID)
	if err != nil {
		m.logger.Error("Failed to re-fetch membership, aborting re-evaluation",
			zap.String("event", string(e.Kind)),
			zap.Error(err))
		return
	}
	perms := types.ResolvePermissions(group, member)

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.group, m.member = group, member
	var stale []Conn
	if !perms.Equal(m.perms) {
		m.logPermissionChange(m.perms, perms)
		m.perms = perms
		stale = m.evaluateAllLocked()
	}
	m.mu.Unlock()

	disposeAll(stale)
}

// onMemberUpdate handles updates of this client's own membership only. The
// group record is re-fetched and every server re-evaluated.
func (m *Manager) onMemberUpdate(e events.Event) {
	member, ok := e.Content.(*types.MemberInfo)
	if !ok || member == nil {
		m.unexpectedContent(e)
		return
	}
	if member.UserID != m.userID {
		m.logger.Debug("Ignoring update of another member", zap.Int("user_id", member.UserID))
		return
	}
	if m.isDisposed() {
		return
	}

	group, err := m.metadata.GetGroupInfo(m.ctx, m.groupID)
	if err != nil {
		m.logger.Error("Failed to re-fetch group, aborting re-evaluation",
			zap.String("event", string(e.Kind)),
			zap.Error(err))
		return
	}
	perms := types.ResolvePermissions(group, member)

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.group, m.member = group, member
	if !perms.Equal(m.perms) {
		m.logPermissionChange(m.perms, perms)
	}
	m.perms = perms
	stale := m.evaluateAllLocked()
	m.mu.Unlock()

	disposeAll(stale)
}

// onServerStatus records the pushed heartbeat and applies policy to that
// server without a metadata fetch
func (m *Manager) onServerStatus(e events.Event) {
	info, ok := e.Content.(*types.ServerInfo)
	if !ok || info == nil {
		m.unexpectedContent(e)
		return
	}

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	s, exists := m.servers[info.ID]
	if !exists {
		m.mu.Unlock()
		m.logger.Warn("Status for unmanaged server", zap.Int("server_id", info.ID))
		return
	}
	s.lastHeartbeat = info.OnlinePing
	stale := m.evaluateLocked(s)
	m.mu.Unlock()

	if stale != nil {
		stale.Dispose()
	}
}

func (m *Manager) onServerCreate(e events.Event) {
	serverID, ok := e.Content.(int)
	if !ok {
		m.unexpectedContent(e)
		return
	}
	if err := m.AddServer(serverID); err != nil {
		m.logger.Error("Failed to register created server",
			zap.Int("server_id", serverID),
			zap.Error(err))
	}
}

func (m *Manager) onServerDelete(e events.Event) {
	serverID, ok := e.Content.(int)
	if !ok {
		m.unexpectedContent(e)
		return
	}
	if err := m.RemoveServer(serverID); err != nil {
		m.logger.Error("Failed to remove deleted server",
			zap.Int("server_id", serverID),
			zap.Error(err))
	}
}

func (m *Manager) logPermissionChange(before, after types.Permissions) {
	had, has := before.Has(types.PermissionConsole), after.Has(types.PermissionConsole)
	switch {
	case !had && has:
		m.logger.Info("Gained console access")
	case had && !has:
		m.logger.Info("Lost console access")
	default:
		m.logger.Info("Permissions changed", zap.Strings("permissions", after.List()))
	}
}

func (m *Manager) unexpectedContent(e events.Event) {
	m.logger.Error("Unexpected notification content",
		zap.String("event", string(e.Kind)),
		zap.Any("content", e.Content))
}

func (m *Manager) isDisposed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disposed
}
