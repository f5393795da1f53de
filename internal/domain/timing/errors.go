package timing

import "errors"

// ErrInvalidElapsed is returned for text that is not an elapsed time.
var ErrInvalidElapsed = errors.New("invalid elapsed time")
