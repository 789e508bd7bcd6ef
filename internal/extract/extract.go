// Package extract pulls a JSON object out of free-form model output. Models are
// told to answer in JSON but often wrap the object in prose or markdown fences.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoJSON means the text holds no brace-delimited span at all.
	ErrNoJSON = errors.New("no valid JSON response")
	// ErrInvalidJSON means brace spans exist but none parses.
	ErrInvalidJSON = errors.New("invalid JSON in response")
)

type options struct {
	lenient bool
}

// Option tunes extraction.
type Option func(*options)

// Lenient retries each candidate with single quotes turned into double quotes,
// for models that answer with Python-style dicts.
func Lenient() Option {
	return func(o *options) { o.lenient = true }
}

// Object returns the first balanced {...} span in text that is valid JSON.
// Candidates are tried left to right, then the greedy first-{ to last-} span.
func Object(text string, opts ...Option) (json.RawMessage, error) {
	cands, err := Candidates(text, opts...)
	if err != nil {
		return nil, err
	}
	return cands[0], nil
}

// Candidates returns every valid JSON object in text, in the order Object would
// try them: balanced spans by opening brace, then the greedy span when it is
// valid and not already listed. Nested objects are listed after the object
// that contains them. ErrNoJSON means no brace pair exists; ErrInvalidJSON
// means none of the spans parse.
func Candidates(text string, opts ...Option) ([]json.RawMessage, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	greedy, ok := Greedy(text)
	if !ok {
		return nil, ErrNoJSON
	}

	var out []json.RawMessage
	seen := make(map[string]bool)
	add := func(raw json.RawMessage) {
		if !seen[string(raw)] {
			seen[string(raw)] = true
			out = append(out, raw)
		}
	}
	for i := strings.IndexByte(text, '{'); i >= 0; {
		if end := findObjectEnd(text, i); end > 0 {
			if raw, ok := parse(text[i:end], o); ok {
				add(raw)
			}
		}
		next := strings.IndexByte(text[i+1:], '{')
		if next < 0 {
			break
		}
		i += next + 1
	}
	if raw, ok := parse(greedy, o); ok {
		add(raw)
	}

	if len(out) == 0 {
		return nil, ErrInvalidJSON
	}
	return out, nil
}

// Greedy returns the span from the first '{' to the last '}' and whether one exists.
func Greedy(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	end := strings.LastIndexByte(text, '}')
	if end < start {
		return "", false
	}
	return text[start : end+1], true
}

// Decode extracts the first JSON object from text and unmarshals it into v.
func Decode(text string, v interface{}, opts ...Option) error {
	raw, err := Object(text, opts...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return nil
}

func parse(candidate string, o options) (json.RawMessage, bool) {
	if json.Valid([]byte(candidate)) {
		return json.RawMessage(candidate), true
	}
	if o.lenient {
		swapped := strings.ReplaceAll(candidate, "'", `"`)
		if json.Valid([]byte(swapped)) {
			return json.RawMessage(swapped), true
		}
	}
	return nil, false
}

// findObjectEnd returns the index just past the brace closing the object that
// opens at start, or -1 when it never closes. Braces inside strings are ignored.
func findObjectEnd(s string, start int) int {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]

		if escaped {
			escaped = false
			continue
		}

		if c == '\\' && inString {
			escaped = true
			continue
		}

		if c == '"' {
			inString = !inString
			continue
		}

		if inString {
			continue
		}

		switch c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}

	return -1
}
