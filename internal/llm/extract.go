package llm

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fencedBlock = regexp.MustCompile("(?s)```(?:json|JSON)?[ \\t]*\\n?(.*?)\\n?```")

type extractStrategy func(text string) (map[string]any, bool)

// strategies run in order; the first success wins.
var strategies = []extractStrategy{
	parseDirect,
	parseFenced,
	parseBraces,
}

// ExtractJSON pulls a JSON object out of loosely structured model output.
// It tries the whole text, then fenced code blocks, then the first
// balanced {...} span that parses.
func ExtractJSON(text string) (map[string]any, bool) {
	for _, s := range strategies {
		if obj, ok := s(text); ok {
			return obj, true
		}
	}
	return nil, false
}

func parseObject(candidate string) (map[string]any, bool) {
	candidate = strings.TrimSpace(candidate)
	if !strings.HasPrefix(candidate, "{") {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(candidate), &obj); err != nil {
		return nil, false
	}
	return obj, true
}

func parseDirect(text string) (map[string]any, bool) {
	return parseObject(text)
}

func parseFenced(text string) (map[string]any, bool) {
	for _, m := range fencedBlock.FindAllStringSubmatch(text, -1) {
		if obj, ok := parseObject(m[1]); ok {
			return obj, true
		}
	}
	return nil, false
}

func parseBraces(text string) (map[string]any, bool) {
	for start := strings.IndexByte(text, '{'); start >= 0; {
		if end := matchBrace(text, start); end > start {
			if obj, ok := parseObject(text[start : end+1]); ok {
				return obj, true
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return nil, false
}

// matchBrace returns the index of the brace closing the one at open,
// ignoring braces inside JSON strings, or -1.
func matchBrace(text string, open int) int {
	depth := 0
	inString := false
	escaped := false
	for i := open; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func stringField(obj map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := obj[k].(string); ok {
			return v, true
		}
	}
	return "", false
}

func floatField(obj map[string]any, key string, fallback float64) float64 {
	switch v := obj[key].(type) {
	case float64:
		return v
	case string:
		var f float64
		if err := json.Unmarshal([]byte(v), &f); err == nil {
			return f
		}
	}
	return fallback
}

func boolField(obj map[string]any, key string) bool {
	switch v := obj[key].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	}
	return false
}

func stringSlice(obj map[string]any, key string) []string {
	raw, ok := obj[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
