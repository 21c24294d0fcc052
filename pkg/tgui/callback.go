package tgui

import (
	"strings"
)

// MaxCallbackDataLen is Telegram's callback_data size limit in bytes.
// This is the length of the full string: "scope:action:payload".
const MaxCallbackDataLen = 64

// Data formats inline callback data as "scope:action:payload". Payload is
// kept as-is (no escaping). Data longer than MaxCallbackDataLen is clamped
// at a byte boundary; Telegram rejects oversized callback_data outright, so
// a shortened payload beats a button that cannot be sent at all.
func Data(scope, action, payload string) string {
	scope = strings.TrimSpace(scope)
	action = strings.TrimSpace(action)
	d := scope + ":" + action
	if payload != "" {
		d += ":" + payload
	}
	if len(d) > MaxCallbackDataLen {
		d = d[:MaxCallbackDataLen]
	}
	return d
}

// Parse splits callback data produced by Data. The payload part may itself
// contain colons; only the first two separators are significant.
func Parse(data string) (scope, action, payload string, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(data), ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", false
	}
	scope, action = parts[0], parts[1]
	if len(parts) == 3 {
		payload = parts[2]
	}
	return scope, action, payload, true
}
