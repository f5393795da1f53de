package localcache

import "errors"

var (
	ErrNotFound   = errors.New("key not found")
	ErrInvalidKey = errors.New("invalid cache key")
	ErrCorrupt    = errors.New("corrupt cache entry")
)
