// Package auth holds the static user table and the session tokens issued
// against it.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleViewer Role = "VIEWER"
)

var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrUnknownUser        = errors.New("auth: unknown user")
)

type User struct {
	ID       string `json:"id" yaml:"id"`
	Username string `json:"username" yaml:"username"`
	Email    string `json:"email" yaml:"email"`
	Role     Role   `json:"role" yaml:"role"`

	// Password is optional. When empty any non-empty password is accepted.
	Password string `json:"-" yaml:"password,omitempty"`
}

func (u User) IsAdmin() bool { return u.Role == RoleAdmin }

// DefaultUsers is the built-in table used when no users file is configured.
func DefaultUsers() []User {
	return []User{
		{ID: "1", Username: "admin", Email: "admin@earthquake-monitor.com", Role: RoleAdmin},
		{ID: "2", Username: "viewer", Email: "viewer@earthquake-monitor.com", Role: RoleViewer},
	}
}

type usersFile struct {
	Users []User `yaml:"users"`
}

// Store is a read-only user table.
type Store struct {
	byName map[string]User
	byID   map[string]User
}

func NewStore(users []User) (*Store, error) {
	s := &Store{byName: map[string]User{}, byID: map[string]User{}}
	for i, u := range users {
		u.Username = strings.TrimSpace(u.Username)
		if u.ID == "" || u.Username == "" {
			return nil, fmt.Errorf("auth: user %d: id and username are required", i)
		}
		switch u.Role {
		case RoleAdmin, RoleViewer:
		case "":
			u.Role = RoleViewer
		default:
			return nil, fmt.Errorf("auth: user %q: unknown role %q", u.Username, u.Role)
		}
		if _, dup := s.byName[u.Username]; dup {
			return nil, fmt.Errorf("auth: duplicate username %q", u.Username)
		}
		if _, dup := s.byID[u.ID]; dup {
			return nil, fmt.Errorf("auth: duplicate user id %q", u.ID)
		}
		s.byName[u.Username] = u
		s.byID[u.ID] = u
	}
	return s, nil
}

// LoadStore reads a YAML users file. An empty path yields DefaultUsers.
func LoadStore(path string) (*Store, error) {
	if path == "" {
		return NewStore(DefaultUsers())
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("auth: read users file: %w", err)
	}
	var f usersFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("auth: parse users file %s: %w", path, err)
	}
	if len(f.Users) == 0 {
		return nil, fmt.Errorf("auth: users file %s defines no users", path)
	}
	return NewStore(f.Users)
}

func (s *Store) Authenticate(username, password string) (User, error) {
	u, ok := s.byName[strings.TrimSpace(username)]
	if !ok || password == "" {
		return User{}, ErrInvalidCredentials
	}
	if u.Password != "" && subtle.ConstantTimeCompare([]byte(u.Password), []byte(password)) != 1 {
		return User{}, ErrInvalidCredentials
	}
	return u, nil
}

func (s *Store) ByID(id string) (User, error) {
	u, ok := s.byID[id]
	if !ok {
		return User{}, ErrUnknownUser
	}
	return u, nil
}

func (s *Store) Len() int { return len(s.byID) }
