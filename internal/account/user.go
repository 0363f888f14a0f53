package account

import (
	"context"
	"slices"
	"time"
)

// Role is the access level of a user.
type Role string

const (
	RoleUser       Role = "user"
	RoleSupervisor Role = "supervisor"
	RoleAdmin      Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleSupervisor, RoleAdmin:
		return true
	}
	return false
}

// User is the persisted account record. Team is only meaningful for
// supervisors and is empty for every other role.
type User struct {
	Username     string    `json:"username"`
	PasswordHash string    `json:"password_hash"`
	Role         Role      `json:"role"`
	Team         []string  `json:"team"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Summary is the public view of a user.
type Summary struct {
	Username string   `json:"username"`
	Role     Role     `json:"role"`
	Team     []string `json:"team"`
}

// Summarize returns the public view of u.
func (u *User) Summarize() Summary {
	team := make([]string, 0, len(u.Team))
	if u.Role == RoleSupervisor {
		team = append(team, u.Team...)
	}
	return Summary{Username: u.Username, Role: u.Role, Team: team}
}

// Actor is the identity performing an action, resolved once per request.
type Actor struct {
	Username string
	Role     Role
	Team     []string
}

// ActorFor builds the actor for u. Team is copied and dropped unless u is a
// supervisor.
func ActorFor(u *User) Actor {
	a := Actor{Username: u.Username, Role: u.Role}
	if u.Role == RoleSupervisor {
		a.Team = slices.Clone(u.Team)
	}
	return a
}

func (a Actor) IsAdmin() bool      { return a.Role == RoleAdmin }
func (a Actor) IsSupervisor() bool { return a.Role == RoleSupervisor }

// Supervises reports whether username is on the actor's team.
func (a Actor) Supervises(username string) bool {
	return a.Role == RoleSupervisor && slices.Contains(a.Team, username)
}

// CanManageUsers reports whether the actor may read or change other users'
// role and team.
func (a Actor) CanManageUsers() bool {
	return a.IsAdmin()
}

type contextKey string

const actorContextKey contextKey = "expense_tracker_actor"

// WithActor stores the actor on ctx.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorContextKey, a)
}

// ActorFromContext returns the actor stored by WithActor.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorContextKey).(Actor)
	return a, ok
}
