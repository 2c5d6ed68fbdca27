package directory

import (
	"context"
	"fmt"
	"strings"
)

// User is a locally configured account of the static directory.
type User struct {
	Username     string   `yaml:"username"`
	PasswordHash string   `yaml:"password_hash"`
	Groups       []string `yaml:"groups"`
}

// Static authenticates against a fixed list of users with bcrypt password hashes.
// It is meant for small installations and for tests.
type Static struct {
	users map[string]User
}

var _ Directory = (*Static)(nil)

// NewStatic indexes users by username. Duplicate usernames are rejected.
func NewStatic(users []User) (*Static, error) {
	idx := make(map[string]User, len(users))
	for _, u := range users {
		name := strings.TrimSpace(u.Username)
		if name == "" {
			return nil, fmt.Errorf("directory: static user without username")
		}
		if _, dup := idx[name]; dup {
			return nil, fmt.Errorf("directory: duplicate static user %q", name)
		}
		u.Username = name
		u.Groups = append([]string(nil), u.Groups...)
		idx[name] = u
	}
	return &Static{users: idx}, nil
}

func (s *Static) Authenticate(_ context.Context, username, password string) ([]string, error) {
	u, ok := s.users[username]
	if !ok || password == "" {
		return nil, ErrInvalidCredentials
	}
	if err := VerifyPassword(u.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}
	return append([]string(nil), u.Groups...), nil
}
