package core

import (
	"fmt"
	"strings"
	"time"
)

// parseDuration reads a config duration field ("45s", "1h30m"). An empty
// field yields def; malformed and negative values are rejected with the
// field name in the error.
func parseDuration(field, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: bad duration %q: %w", field, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: negative duration %q", field, raw)
	}
	return d, nil
}
