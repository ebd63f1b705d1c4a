package upstream

import (
	"context"
	"errors"
	"sync"
	"time"

	"consolebot-go/internal/events"
	"consolebot-go/internal/types"
)

var (
	testNow      = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	freshPing    = testNow.Add(-time.Minute)
	stalePing    = testNow.Add(-time.Hour)
	errMetadata  = errors.New("metadata unavailable")
	testClock    = func() time.Time { return testNow }
	testGroupID  = 10
	testUserID   = 100
	consoleRole  = types.Role{ID: 1, Name: "Admin", Permissions: []string{types.PermissionConsole, "Kick"}}
	observerRole = types.Role{ID: 2, Name: "Observer", Permissions: []string{"Kick"}}
)

func testGroup(serverIDs ...int) *types.GroupInfo {
	g := &types.GroupInfo{
		ID:    testGroupID,
		Name:  "Test Group",
		Roles: []types.Role{consoleRole, observerRole},
	}
	for _, id := range serverIDs {
		g.Servers = append(g.Servers, types.ServerInfo{ID: id, GroupID: testGroupID})
	}
	return g
}

func testMember(userID, roleID int) *types.MemberInfo {
	return &types.MemberInfo{GroupID: testGroupID, UserID: userID, RoleID: roleID}
}

// fakeMetadata serves canned records and counts calls
type fakeMetadata struct {
	mu        sync.Mutex
	group     *types.GroupInfo
	member    *types.MemberInfo
	servers   map[int]*types.ServerInfo
	details   *types.ConsoleDetails
	groupErr  error
	memberErr error
	statusErr map[int]error

	groupCalls   int
	memberCalls  int
	statusCalls  int
	detailsCalls int
}

func newFakeMetadata(group *types.GroupInfo, member *types.MemberInfo) *fakeMetadata {
	return &fakeMetadata{
		group:     group,
		member:    member,
		servers:   make(map[int]*types.ServerInfo),
		statusErr: make(map[int]error),
		details: &types.ConsoleDetails{
			Allowed:    true,
			Connection: types.ConsoleConnection{Address: "127.0.0.1", WebsocketPort: 1760},
			Token:      "console-token",
		},
	}
}

func (f *fakeMetadata) setPing(serverID int, ping time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.servers[serverID] = &types.ServerInfo{ID: serverID, GroupID: testGroupID, OnlinePing: ping}
}

func (f *fakeMetadata) GetGroupInfo(ctx context.Context, groupID int) (*types.GroupInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groupCalls++
	if f.groupErr != nil {
		return nil, f.groupErr
	}
	return f.group, nil
}

func (f *fakeMetadata) GetGroupMember(ctx context.Context, groupID, userID int) (*types.MemberInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.memberCalls++
	if f.memberErr != nil {
		return nil, f.memberErr
	}
	return f.member, nil
}

func (f *fakeMetadata) GetServerInfo(ctx context.Context, serverID int) (*types.ServerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if err := f.statusErr[serverID]; err != nil {
		return nil, err
	}
	if info, ok := f.servers[serverID]; ok {
		return info, nil
	}
	return &types.ServerInfo{ID: serverID, GroupID: testGroupID}, nil
}

func (f *fakeMetadata) GetConsoleDetails(ctx context.Context, serverID int) (*types.ConsoleDetails, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detailsCalls++
	return f.details, nil
}

func (f *fakeMetadata) calls() (group, member int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.groupCalls, f.memberCalls
}

// fakeConn counts disposals
type fakeConn struct {
	mu       sync.Mutex
	disposed int
}

func (c *fakeConn) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disposed++
}

func (c *fakeConn) disposeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}

type dialRecord struct {
	serverID int
	conn     *fakeConn
	signals  Signals
}

// fakeDialer records every dial and hands out fakeConns. When gate is set,
// Dial blocks until it is closed.
type fakeDialer struct {
	mu    sync.Mutex
	dials []dialRecord
	err   error
	gate  chan struct{}
}

func (d *fakeDialer) Dial(ctx context.Context, serverID int, details *types.ConsoleDetails, signals Signals) (Conn, error) {
	if d.gate != nil {
		<-d.gate
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	rec := dialRecord{serverID: serverID, conn: &fakeConn{}, signals: signals}
	d.dials = append(d.dials, rec)
	return rec.conn, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dials)
}

func (d *fakeDialer) last() dialRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials[len(d.dials)-1]
}

// recordingBus is a NotificationBus that records subscriptions and can fail
// the n-th Subscribe call
type recordingBus struct {
	mu           sync.Mutex
	active       map[events.Kind]events.Handler
	subscribes   int
	unsubscribes []events.Kind
	failOn       int
}

func newRecordingBus() *recordingBus {
	return &recordingBus{active: make(map[events.Kind]events.Handler)}
}

func (b *recordingBus) Subscribe(ctx context.Context, kind events.Kind, key int, handler events.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribes++
	if b.failOn > 0 && b.subscribes == b.failOn {
		return errors.New("subscribe rejected")
	}
	b.active[kind] = handler
	return nil
}

func (b *recordingBus) Unsubscribe(ctx context.Context, kind events.Kind, key int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unsubscribes = append(b.unsubscribes, kind)
	delete(b.active, kind)
	return nil
}

func (b *recordingBus) activeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.active)
}

// recordingPublisher collects published events
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) all() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Event(nil), p.events...)
}
