package model

import "errors"

// ErrInvalidRecord marks a finish record that fails validation.
var ErrInvalidRecord = errors.New("invalid finish record")
