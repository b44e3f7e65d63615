// Package parse extracts structured values from free-form model text.
//
// Model responses frequently wrap JSON in markdown fences or surround it with
// explanatory prose. Structured strips both before a strict decode and
// reports failures as editerr parse errors. Nothing here performs I/O;
// retrying a bad response is the caller's decision.
package parse

import (
	"encoding/json"
	"strings"

	"github.com/gomcpgo/replicate_image_edit/pkg/editerr"
)

const fence = "```"

// Structured decodes the JSON document embedded in raw into a T. The label
// names the response in error messages.
func Structured[T any](raw string, label string) (T, error) {
	var out T
	cleaned := Clean(raw)
	if cleaned == "" {
		return out, editerr.Parse(label, cleaned, errEmpty)
	}
	if err := json.Unmarshal([]byte(cleaned), &out); err != nil {
		return out, editerr.Parse(label, cleaned, err)
	}
	return out, nil
}

// Clean returns the JSON candidate inside raw: fences removed and, when the
// text does not start with a JSON container, the first balanced object or
// array found in it. A complete JSON container that opens before the first
// fence wins over the fence, so backticks inside string values survive.
func Clean(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, fence) {
		if candidate, ok := containerBeforeFence(text); ok {
			return candidate
		}
	}
	text = stripFence(text)
	if text == "" || text[0] == '{' || text[0] == '[' {
		return text
	}
	if candidate, ok := firstBalanced(text); ok {
		return candidate
	}
	return text
}

// stripFence returns the interior of the first fenced block, with or without
// a language tag. Text without a complete fence is returned unchanged.
func stripFence(text string) string {
	start := strings.Index(text, fence)
	if start < 0 {
		return text
	}
	body := text[start+len(fence):]
	// Drop the info string (e.g. "json") up to the end of the opening line.
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		info := strings.TrimSpace(body[:nl])
		if info == "" || !strings.ContainsAny(info, "{[") {
			body = body[nl+1:]
		}
	}
	end := strings.Index(body, fence)
	if end < 0 {
		// Unterminated fence, typical of truncated output.
		if start == 0 {
			return strings.TrimSpace(body)
		}
		return text
	}
	return strings.TrimSpace(body[:end])
}

// containerBeforeFence returns the first valid JSON container that opens
// ahead of any fence in text.
func containerBeforeFence(text string) (string, bool) {
	limit := strings.Index(text, fence)
	if limit < 0 {
		limit = len(text)
	}
	for i := 0; i < limit; i++ {
		if text[i] != '{' && text[i] != '[' {
			continue
		}
		end, ok := matchContainer(text, i)
		if ok && json.Valid([]byte(text[i:end+1])) {
			return text[i : end+1], true
		}
	}
	return "", false
}

// firstBalanced scans for the first '{' or '[' that opens a balanced
// container, honouring string literals and escapes.
func firstBalanced(text string) (string, bool) {
	for i := 0; i < len(text); i++ {
		if text[i] != '{' && text[i] != '[' {
			continue
		}
		if end, ok := matchContainer(text, i); ok {
			return text[i : end+1], true
		}
	}
	return "", false
}

func matchContainer(text string, start int) (int, bool) {
	var stack []byte
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
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
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return 0, false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

type parseErr string

func (e parseErr) Error() string { return string(e) }

const errEmpty = parseErr("empty response")
