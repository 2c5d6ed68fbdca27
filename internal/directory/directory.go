package directory

import (
	"context"
	"errors"
)

// ErrInvalidCredentials is returned when the directory rejects the login or
// finds no entries for it.
var ErrInvalidCredentials = errors.New("directory: invalid credentials")

// Directory resolves a username/password pair to the user's raw group names.
// Any error other than ErrInvalidCredentials means the directory could not be
// consulted.
type Directory interface {
	Authenticate(ctx context.Context, username, password string) ([]string, error)
}
