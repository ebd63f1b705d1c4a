// Package upstream keeps the console connections of a group's servers
// consistent with the operator's permissions and the servers' heartbeats.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"consolebot-go/internal/config"
	"consolebot-go/internal/events"
	"consolebot-go/internal/policy"
	"consolebot-go/internal/types"
	upstreamtypes "consolebot-go/internal/upstream/types"
)

// Options configure a Manager
type Options struct {
	GroupID int
	UserID  int

	// Group and Member are the snapshot the manager starts from
	Group  *types.GroupInfo
	Member *types.MemberInfo

	Metadata  Metadata
	Bus       NotificationBus
	Dialer    Dialer
	Publisher Publisher // optional

	HeartbeatTimeout time.Duration
	StatusWorkers    int
	Logger           *zap.Logger
	Clock            func() time.Time
}

func (o *Options) validate() error {
	var errs []error
	if o.Group == nil {
		errs = append(errs, errors.New("group snapshot is required"))
	} else if o.GroupID == 0 {
		o.GroupID = o.Group.ID
	}
	if o.Metadata == nil {
		errs = append(errs, errors.New("metadata service is required"))
	}
	if o.Bus == nil {
		errs = append(errs, errors.New("notification bus is required"))
	}
	if o.Dialer == nil {
		errs = append(errs, errors.New("dialer is required"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid manager options: %w", errors.Join(errs...))
	}

	if o.HeartbeatTimeout <= 0 {
		o.HeartbeatTimeout = config.DefaultHeartbeatTimeout
	}
	if o.StatusWorkers <= 0 {
		o.StatusWorkers = config.DefaultStatusSweepWorkers
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return nil
}

// trigger is one of the notifications a manager reacts to
type trigger struct {
	kind   events.Kind
	handle events.Handler
}

// Manager owns the managed servers of one group
type Manager struct {
	groupID          int
	userID           int
	metadata         Metadata
	bus              NotificationBus
	dialer           Dialer
	publisher        Publisher
	heartbeatTimeout time.Duration
	statusWorkers    int
	logger           *zap.Logger
	now              func() time.Time

	// ctx bounds metadata fetches and dials started by triggers
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	group      *types.GroupInfo
	member     *types.MemberInfo
	perms      types.Permissions
	servers    map[int]*ManagedServer
	subscribed []events.Kind
	disposed   bool
}

// NewManager registers the snapshot's servers, subscribes to the group's
// notifications and runs the first status pass before applying policy.
// A failed status pass is logged; the manager is still returned.
func NewManager(ctx context.Context, opts Options) (*Manager, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	managerCtx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		groupID:          opts.GroupID,
		userID:           opts.UserID,
		metadata:         opts.Metadata,
		bus:              opts.Bus,
		dialer:           opts.Dialer,
		publisher:        opts.Publisher,
		heartbeatTimeout: opts.HeartbeatTimeout,
		statusWorkers:    opts.StatusWorkers,
		logger:           opts.Logger.Named("upstream").With(zap.Int("group_id", opts.GroupID)),
		now:              opts.Clock,
		ctx:              managerCtx,
		cancel:           cancel,
		group:            opts.Group,
		member:           opts.Member,
		perms:            types.ResolvePermissions(opts.Group, opts.Member),
		servers:          make(map[int]*ManagedServer),
	}

	for _, s := range opts.Group.Servers {
		m.servers[s.ID] = newManagedServer(s.ID)
	}

	if err := m.subscribe(ctx); err != nil {
		cancel()
		return nil, err
	}

	m.logger.Info("Manager started",
		zap.Int("servers", len(m.servers)),
		zap.Bool("console_permission", m.perms.Has(types.PermissionConsole)))

	m.refreshStatuses(ctx)
	return m, nil
}

func (m *Manager) triggers() []trigger {
	return []trigger{
		{kind: events.KindGroupUpdate, handle: m.onGroupUpdate},
		{kind: events.KindMemberUpdate, handle: m.onMemberUpdate},
		{kind: events.KindServerStatus, handle: m.onServerStatus},
		{kind: events.KindServerCreate, handle: m.onServerCreate},
		{kind: events.KindServerDelete, handle: m.onServerDelete},
	}
}

// subscribe registers every trigger. On failure the ones already registered
// are removed again.
func (m *Manager) subscribe(ctx context.Context) error {
	for _, t := range m.triggers() {
		if err := m.bus.Subscribe(ctx, t.kind, m.groupID, t.handle); err != nil {
			m.logger.Error("Failed to subscribe to notifications",
				zap.String("event", string(t.kind)),
				zap.Error(err))
			if unwindErr := m.unsubscribe(ctx); unwindErr != nil {
				m.logger.Warn("Failed to unwind notification subscriptions", zap.Error(unwindErr))
			}
			return fmt.Errorf("failed to subscribe to %s for group %d: %w", t.kind, m.groupID, err)
		}
		m.subscribed = append(m.subscribed, t.kind)
	}
	return nil
}

func (m *Manager) unsubscribe(ctx context.Context) error {
	var errs []error
	for _, kind := range m.subscribed {
		if err := m.bus.Unsubscribe(ctx, kind, m.groupID); err != nil {
			errs = append(errs, fmt.Errorf("failed to unsubscribe from %s: %w", kind, err))
		}
	}
	m.subscribed = nil
	return errors.Join(errs...)
}

// refreshStatuses fetches every server's status, records the heartbeats and
// evaluates policy. Any fetch failure aborts the pass.
func (m *Manager) refreshStatuses(ctx context.Context) {
	ids := m.ServerIDs()
	statuses, err := fetchStatuses(ctx, m.metadata, ids, m.statusWorkers, m.logger)
	if err != nil {
		m.logger.Error("Status fetch failed, skipping policy pass", zap.Error(err))
		return
	}

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	for id, info := range statuses {
		if s, ok := m.servers[id]; ok {
			s.lastHeartbeat = info.OnlinePing
		}
	}
	stale := m.evaluateAllLocked()
	m.mu.Unlock()

	disposeAll(stale)
}

// evaluateAllLocked applies policy to every server. The returned connections
// must be disposed after releasing the lock.
func (m *Manager) evaluateAllLocked() []Conn {
	var stale []Conn
	for _, id := range m.sortedIDsLocked() {
		if conn := m.evaluateLocked(m.servers[id]); conn != nil {
			stale = append(stale, conn)
		}
	}
	return stale
}

// evaluateLocked applies policy to one server and commits the resulting
// state before the lock is released, so concurrent triggers cannot issue a
// second connect or disconnect
func (m *Manager) evaluateLocked(s *ManagedServer) Conn {
	hasConsole := m.perms.Has(types.PermissionConsole)
	fresh := policy.HeartbeatFresh(m.now(), s.lastHeartbeat, m.heartbeatTimeout)
	action := policy.Decide(s.state, hasConsole, fresh)

	m.logger.Debug("Policy evaluated",
		zap.Int("server_id", s.id),
		zap.String("state", s.state.String()),
		zap.Bool("console_permission", hasConsole),
		zap.Bool("heartbeat_fresh", fresh),
		zap.String("action", action.String()))

	switch action {
	case policy.ActionConnect:
		s.generation++
		s.lastError = nil
		m.transitionLocked(s, upstreamtypes.StateConnecting)
		m.wg.Add(1)
		go m.connect(s.id, s.generation)
	case policy.ActionDisconnect:
		m.logger.Info("Disconnecting console",
			zap.Int("server_id", s.id),
			zap.Bool("console_permission", hasConsole),
			zap.Bool("heartbeat_fresh", fresh))
		return m.detachLocked(s)
	}
	return nil
}

// detachLocked moves s to Disconnected and hands back its connection
func (m *Manager) detachLocked(s *ManagedServer) Conn {
	conn := s.conn
	s.conn = nil
	s.generation++
	m.transitionLocked(s, upstreamtypes.StateDisconnected)
	return conn
}

func (m *Manager) transitionLocked(s *ManagedServer, to upstreamtypes.ConnectionState) {
	from := s.state
	if from == to {
		return
	}
	if err := upstreamtypes.ValidateTransition(from, to); err != nil {
		m.logger.Warn("Unexpected connection state transition",
			zap.Int("server_id", s.id),
			zap.Error(err))
	}

	s.state = to
	switch to {
	case upstreamtypes.StateConnected:
		s.connectedAt = m.now()
	case upstreamtypes.StateDisconnected:
		s.connectedAt = time.Time{}
	}

	if m.publisher != nil {
		m.publisher.Publish(events.NewConnectionStateEvent(m.groupID, s.id, from, to))
	}
}

// connect requests console details and dials. It runs on its own goroutine
// tracked by m.wg.
func (m *Manager) connect(serverID int, generation uint64) {
	defer m.wg.Done()

	logger := m.logger.With(zap.Int("server_id", serverID))

	details, err := m.metadata.GetConsoleDetails(m.ctx, serverID)
	if err != nil {
		logger.Error("Failed to fetch console details", zap.Error(err))
		m.connectFailed(serverID, generation, err)
		return
	}
	if details == nil || !details.Allowed {
		logger.Warn("Console access refused")
		m.connectFailed(serverID, generation, ErrConsoleRefused)
		return
	}

	conn, err := m.dialer.Dial(m.ctx, serverID, details, Signals{
		Open: func() {
			m.handleOpen(serverID, generation)
		},
		Close: func(code int, reason string) {
			m.handleClose(serverID, generation, code, reason)
		},
		Error: func(err error) {
			logger.Warn("Console transport error", zap.Error(err))
		},
	})
	if err != nil {
		logger.Error("Failed to open console", zap.Error(err))
		m.connectFailed(serverID, generation, err)
		return
	}

	m.mu.Lock()
	s, ok := m.servers[serverID]
	if m.disposed || !ok || s.generation != generation {
		m.mu.Unlock()
		logger.Info("Server left connecting state during dial, closing console")
		conn.Dispose()
		return
	}
	s.conn = conn
	m.mu.Unlock()
}

func (m *Manager) connectFailed(serverID int, generation uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.servers[serverID]
	if !ok || s.generation != generation {
		return
	}
	s.lastError = err
	s.generation++
	m.transitionLocked(s, upstreamtypes.StateDisconnected)
}

func (m *Manager) handleOpen(serverID int, generation uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.servers[serverID]
	if !ok || s.generation != generation || s.state != upstreamtypes.StateConnecting {
		return
	}
	m.transitionLocked(s, upstreamtypes.StateConnected)
	m.logger.Info("Console connected", zap.Int("server_id", serverID))
}

func (m *Manager) handleClose(serverID int, generation uint64, code int, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.servers[serverID]
	if !ok || s.generation != generation {
		return
	}
	m.logger.Info("Console closed",
		zap.Int("server_id", serverID),
		zap.Int("code", code),
		zap.String("reason", reason))
	m.detachLocked(s)
}

// AddServer registers a new managed server. Policy is applied on its first
// status notification.
func (m *Manager) AddServer(serverID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed {
		return ErrManagerDisposed
	}
	if _, exists := m.servers[serverID]; exists {
		return fmt.Errorf("%w: %d", ErrDuplicateServer, serverID)
	}
	m.servers[serverID] = newManagedServer(serverID)
	m.logger.Info("Server registered", zap.Int("server_id", serverID))
	return nil
}

// RemoveServer disposes the server's connection and stops managing it
func (m *Manager) RemoveServer(serverID int) error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return ErrManagerDisposed
	}
	s, exists := m.servers[serverID]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownServer, serverID)
	}
	conn := m.detachLocked(s)
	delete(m.servers, serverID)
	m.mu.Unlock()

	if conn != nil {
		conn.Dispose()
	}
	m.logger.Info("Server removed", zap.Int("server_id", serverID))
	return nil
}

// Dispose cancels the notification subscriptions and disposes every managed
// server's connection. A second call is logged and ignored.
func (m *Manager) Dispose(ctx context.Context) error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		m.logger.Warn("Manager already disposed")
		return nil
	}
	m.disposed = true
	m.mu.Unlock()

	var errs []error
	if err := m.unsubscribe(ctx); err != nil {
		errs = append(errs, err)
	}
	m.cancel()

	m.mu.Lock()
	var conns []Conn
	for id, s := range m.servers {
		if conn := m.detachLocked(s); conn != nil {
			conns = append(conns, conn)
		}
		delete(m.servers, id)
	}
	m.mu.Unlock()
	disposeAll(conns)

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("timed out waiting for pending connects: %w", ctx.Err()))
	}

	m.logger.Info("Manager disposed", zap.Int("closed_connections", len(conns)))
	return errors.Join(errs...)
}

// GroupID returns the id of the managed group
func (m *Manager) GroupID() int {
	return m.groupID
}

// HasConsolePermission reports whether the current permission set grants console access
func (m *Manager) HasConsolePermission() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.perms.Has(types.PermissionConsole)
}

// ServerIDs returns the managed server ids in ascending order
func (m *Manager) ServerIDs() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedIDsLocked()
}

// Servers returns a snapshot of every managed server ordered by id
func (m *Manager) Servers() []ServerSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snaps := make([]ServerSnapshot, 0, len(m.servers))
	for _, id := range m.sortedIDsLocked() {
		snaps = append(snaps, m.servers[id].snapshot())
	}
	return snaps
}

// Server returns a snapshot of one managed server
func (m *Manager) Server(serverID int) (ServerSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.servers[serverID]
	if !ok {
		return ServerSnapshot{}, false
	}
	return s.snapshot(), true
}

func (m *Manager) sortedIDsLocked() []int {
	ids := make([]int, 0, len(m.servers))
	for id := range m.servers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func disposeAll(conns []Conn) {
	for _, conn := range conns {
		conn.Dispose()
	}
}
