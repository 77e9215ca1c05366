package jsonutil

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeWithFallback decodes raw into out, tolerating the ways models wrap
// JSON: a strict pass first, then a fenced-code-block strip, then the
// widest {...} slice of the text.
func DecodeWithFallback(raw string, out any) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("empty json input")
	}
	if err := json.Unmarshal([]byte(raw), out); err == nil {
		return nil
	}

	if stripped := stripFences(raw); stripped != raw {
		if err := json.Unmarshal([]byte(stripped), out); err == nil {
			return nil
		}
	}

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(raw[start:end+1]), out); err == nil {
			return nil
		}
	}
	return fmt.Errorf("no decodable json found")
}

func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return raw
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
