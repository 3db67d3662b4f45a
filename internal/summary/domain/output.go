package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ParseOutput decodes the job API output field, which is either a result
// object or a string holding one. A plain string becomes the summary text.
func ParseOutput(raw json.RawMessage) (*Result, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, fmt.Errorf("empty job output")
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("failed to decode job output: %w", err)
		}
		s = strings.TrimSpace(s)
		if strings.HasPrefix(s, "{") {
			var res Result
			if err := json.Unmarshal([]byte(s), &res); err == nil && res.Summary != "" {
				return &res, nil
			}
		}
		if s == "" {
			return nil, fmt.Errorf("empty job output")
		}
		return &Result{Summary: s}, nil
	}

	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("failed to decode job output: %w", err)
	}
	if res.Summary == "" {
		return nil, fmt.Errorf("job output has no summary")
	}
	return &res, nil
}
