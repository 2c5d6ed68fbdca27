package session

import "errors"

var (
	ErrInvalidCredentials = errors.New("session: invalid login or password")
	ErrUnauthorized       = errors.New("session: unauthorized access")
	ErrNotFound           = errors.New("session: not found")
)
