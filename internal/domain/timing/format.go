// Package timing formats race-relative elapsed times and provides the
// stopwatch the recording client reads them from.
package timing

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	msPerSecond = int64(1000)
	msPerMinute = 60 * msPerSecond
	msPerHour   = 60 * msPerMinute
	msPerDay    = 24 * msPerHour
)

// FormatElapsed renders ms as zero-padded HH:MM:SS, truncating milliseconds.
// Hours wrap at 24 and negative input renders as 00:00:00.
func FormatElapsed(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	ms %= msPerDay
	h := ms / msPerHour
	m := (ms % msPerHour) / msPerMinute
	s := (ms % msPerMinute) / msPerSecond
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// ParseElapsed is the inverse of FormatElapsed. Minutes and seconds must be
// below 60; hours are any non-negative integer.
func ParseElapsed(s string) (int64, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("%w: %q is not HH:MM:SS", ErrInvalidElapsed, s)
	}
	var fields [3]int64
	for i, p := range parts {
		if p == "" {
			return 0, fmt.Errorf("%w: %q has an empty field", ErrInvalidElapsed, s)
		}
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("%w: %q has a bad field %q", ErrInvalidElapsed, s, p)
		}
		fields[i] = v
	}
	if fields[1] >= 60 || fields[2] >= 60 {
		return 0, fmt.Errorf("%w: %q minutes and seconds must be below 60", ErrInvalidElapsed, s)
	}
	if fields[0] > (math.MaxInt64-msPerHour)/msPerHour {
		return 0, fmt.Errorf("%w: %q hours out of range", ErrInvalidElapsed, s)
	}
	return fields[0]*msPerHour + fields[1]*msPerMinute + fields[2]*msPerSecond, nil
}

// ParseMillisOrElapsed accepts either a plain millisecond count or HH:MM:SS.
func ParseMillisOrElapsed(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, ":") {
		return ParseElapsed(s)
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: %q is neither milliseconds nor HH:MM:SS", ErrInvalidElapsed, s)
	}
	return v, nil
}
