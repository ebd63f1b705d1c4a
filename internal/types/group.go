// Package types provides the group, member and server records shared by the
// metadata client, the notification bus and the lifecycle manager.
package types

import "time"

// PermissionConsole grants access to a server's console.
const PermissionConsole = "Console"

// Role is a named permission bundle defined by a group
type Role struct {
	ID          int      `json:"role_id"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

// GroupInfo is the group record returned by the metadata service and carried
// by group update notifications
type GroupInfo struct {
	ID          int          `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Roles       []Role       `json:"roles"`
	Servers     []ServerInfo `json:"servers,omitempty"`
}

// Role looks up a role by id
func (g *GroupInfo) Role(roleID int) (Role, bool) {
	for _, r := range g.Roles {
		if r.ID == roleID {
			return r, true
		}
	}
	return Role{}, false
}

// MemberInfo is a user's membership record in a group
type MemberInfo struct {
	GroupID  int       `json:"group_id"`
	UserID   int       `json:"user_id"`
	Username string    `json:"username"`
	RoleID   int       `json:"role_id"`
	Joined   time.Time `json:"created_at,omitempty"`
}

// ServerInfo describes a game server and its last reported heartbeat
type ServerInfo struct {
	ID            int       `json:"id"`
	Name          string    `json:"name"`
	GroupID       int       `json:"group_id,omitempty"`
	Region        string    `json:"region,omitempty"`
	IsOnline      bool      `json:"is_online"`
	OnlinePing    time.Time `json:"online_ping"`
	OnlinePlayers []Player  `json:"online_players,omitempty"`
}

// Player is an entry of ServerInfo.OnlinePlayers
type Player struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
}

// ConsoleDetails are the connection parameters granted for a server console.
// Allowed is false when the server refused the request (e.g. offline).
type ConsoleDetails struct {
	Allowed    bool              `json:"allowed"`
	Connection ConsoleConnection `json:"connection"`
	Token      string            `json:"token"`
}

// ConsoleConnection is the socket address part of ConsoleDetails
type ConsoleConnection struct {
	Address       string `json:"address"`
	WebsocketPort int    `json:"websocket_port"`
}
