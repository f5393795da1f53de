package transport

import "errors"

var (
	ErrInvalidURL  = errors.New("invalid server url")
	ErrRejected    = errors.New("request rejected by server")
	ErrUnreachable = errors.New("server unreachable")
)
