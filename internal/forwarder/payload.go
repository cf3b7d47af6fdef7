package forwarder

import (
	"encoding/json"
	"fmt"
)

// PayloadBytes renders a payload for transports that carry bytes. Strings
// are sent verbatim, everything else as JSON.
func PayloadBytes(payload any) ([]byte, bool, error) {
	switch p := payload.(type) {
	case nil:
		return nil, false, fmt.Errorf("empty payload")
	case string:
		return []byte(p), false, nil
	case []byte:
		return p, false, nil
	case json.RawMessage:
		return p, true, nil
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, false, fmt.Errorf("encode payload: %w", err)
		}
		return b, true, nil
	}
}

// PayloadText extracts human readable text: the string itself, or the
// "text"/"message"/"summary" member of a map payload.
func PayloadText(payload any, fallback string) string {
	switch p := payload.(type) {
	case string:
		return p
	case map[string]any:
		for _, k := range []string{"text", "message", "summary"} {
			if s, ok := p[k].(string); ok && s != "" {
				return s
			}
		}
	}
	return fallback
}
