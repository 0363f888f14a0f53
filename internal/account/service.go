package account

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zombor/expense-tracker/internal/apperr"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// Service implements signup, login and the identity & role model.
type Service struct {
	db  DB
	now func() time.Time
}

// NewService creates a Service backed by db
func NewService(db DB) *Service {
	return &Service{db: db, now: time.Now}
}

// NewServiceWithClock creates a Service with a custom clock for testing
func NewServiceWithClock(db DB, now func() time.Time) *Service {
	return &Service{db: db, now: now}
}

// SignupRequest holds the fields accepted by Signup.
type SignupRequest struct {
	Username string   `json:"username"`
	Password string   `json:"password"`
	Role     Role     `json:"role"`
	Team     []string `json:"team"`
}

// Signup creates a user. Only user and supervisor may be self-assigned; admins
// come from the seed file or from another admin.
func (s *Service) Signup(req SignupRequest) (*User, error) {
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		return nil, apperr.Validation("Username and password are required")
	}
	if !usernamePattern.MatchString(req.Username) {
		return nil, apperr.Validation("Username may only contain letters, digits, '.', '_' and '-'")
	}
	if req.Role == "" {
		req.Role = RoleUser
	}
	if req.Role != RoleUser && req.Role != RoleSupervisor {
		return nil, apperr.Validation("Role must be user or supervisor")
	}
	return s.create(req.Username, req.Password, req.Role, req.Team)
}

func (s *Service) create(username, password string, role Role, team []string) (*User, error) {
	var err error
	team, err = s.teamFor(username, role, team)
	if err != nil {
		return nil, err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	now := s.now()
	user := &User{
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		Team:         team,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.db.CreateUser(user); err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}
	slog.Info("User created", "username", username, "role", role)
	return user, nil
}

// Authenticate checks credentials and returns the matching user.
func (s *Service) Authenticate(username, password string) (*User, error) {
	if username == "" || password == "" {
		return nil, apperr.Validation("Username and password are required")
	}
	user, err := s.db.GetUser(username)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, fmt.Errorf("authenticating: %w", err)
	}
	if user == nil || !CheckPassword(user.PasswordHash, password) {
		return nil, apperr.New(apperr.ErrUnauthenticated, "Invalid username or password")
	}
	return user, nil
}

// Resolve loads the actor for an authenticated username. A session for a user
// that no longer exists is treated as unauthenticated.
func (s *Service) Resolve(username string) (Actor, error) {
	user, err := s.db.GetUser(username)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return Actor{}, apperr.New(apperr.ErrUnauthenticated, "Not authenticated")
		}
		return Actor{}, fmt.Errorf("resolving actor: %w", err)
	}
	return ActorFor(user), nil
}

// RoleOf returns the role of username.
func (s *Service) RoleOf(username string) (Role, error) {
	user, err := s.db.GetUser(username)
	if err != nil {
		return "", err
	}
	return user.Role, nil
}

// TeamOf returns the team of username, empty unless the user is a supervisor.
func (s *Service) TeamOf(username string) ([]string, error) {
	user, err := s.db.GetUser(username)
	if err != nil {
		return nil, err
	}
	return user.Summarize().Team, nil
}

// ListPlainUsers returns every user whose role is exactly user. Any
// authenticated actor may call it.
func (s *Service) ListPlainUsers() ([]Summary, error) {
	users, err := s.db.ListUsers()
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	plain := make([]Summary, 0, len(users))
	for _, u := range users {
		if u.Role == RoleUser {
			plain = append(plain, u.Summarize())
		}
	}
	return plain, nil
}

// GetUserDetail returns another user's role and team. Admin only.
func (s *Service) GetUserDetail(actor Actor, username string) (Summary, error) {
	if !actor.CanManageUsers() {
		slog.Warn("Forbidden user detail request", "actor", actor.Username, "target", username)
		return Summary{}, apperr.Forbidden("Unauthorized")
	}
	user, err := s.db.GetUser(username)
	if err != nil {
		return Summary{}, err
	}
	return user.Summarize(), nil
}

// SetRole changes a user's role and team. Admin only. The team is replaced by
// the supplied list for supervisors and cleared for every other role.
func (s *Service) SetRole(actor Actor, username string, role Role, team []string) (Summary, error) {
	if !actor.CanManageUsers() {
		slog.Warn("Forbidden role change", "actor", actor.Username, "target", username)
		return Summary{}, apperr.Forbidden("Unauthorized")
	}
	if !role.Valid() {
		return Summary{}, apperr.Validation("Invalid role: %q", role)
	}
	if _, err := s.db.GetUser(username); err != nil {
		return Summary{}, err
	}
	team, err := s.teamFor(username, role, team)
	if err != nil {
		return Summary{}, err
	}
	user, err := s.db.UpdateUser(username, func(u *User) error {
		u.Role = role
		u.Team = team
		u.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return Summary{}, fmt.Errorf("setting role: %w", err)
	}
	slog.Info("Role updated", "actor", actor.Username, "username", username, "role", role, "team_size", len(team))
	return user.Summarize(), nil
}

// teamFor normalizes a team for the given role: empty unless supervisor,
// otherwise deduplicated, without the supervisor, and made of existing users.
func (s *Service) teamFor(username string, role Role, team []string) ([]string, error) {
	if role != RoleSupervisor {
		return []string{}, nil
	}
	normalized := make([]string, 0, len(team))
	for _, member := range team {
		member = strings.TrimSpace(member)
		if member == "" || slices.Contains(normalized, member) {
			continue
		}
		if member == username {
			return nil, apperr.Validation("A supervisor cannot be on their own team")
		}
		if _, err := s.db.GetUser(member); err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return nil, apperr.Validation("Unknown team member: %s", member)
			}
			return nil, err
		}
		normalized = append(normalized, member)
	}
	return normalized, nil
}

type usersFile struct {
	Users []struct {
		Username string   `yaml:"username"`
		Password string   `yaml:"password"`
		Role     Role     `yaml:"role"`
		Team     []string `yaml:"team"`
	} `yaml:"users"`
}

// SeedFromFile creates the users listed in a YAML file, skipping usernames that
// already exist. Users are created in file order, so team members must be
// listed before their supervisor.
func (s *Service) SeedFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading users file: %w", err)
	}
	var uf usersFile
	if err := yaml.Unmarshal(data, &uf); err != nil {
		return fmt.Errorf("parsing users file: %w", err)
	}
	for _, u := range uf.Users {
		if u.Username == "" || u.Password == "" {
			continue
		}
		if u.Role == "" {
			u.Role = RoleUser
		}
		if !u.Role.Valid() {
			return fmt.Errorf("seeding %s: invalid role %q", u.Username, u.Role)
		}
		if _, err := s.db.GetUser(u.Username); err == nil {
			continue
		} else if !errors.Is(err, apperr.ErrNotFound) {
			return err
		}
		if _, err := s.create(u.Username, u.Password, u.Role, u.Team); err != nil {
			return fmt.Errorf("seeding %s: %w", u.Username, err)
		}
	}
	return nil
}
