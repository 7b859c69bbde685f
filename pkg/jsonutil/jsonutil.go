// Package jsonutil validates, formats and queries JSON documents.
package jsonutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/pkg/errors"
	"github.com/tailscale/hujson"
)

// SyntaxError locates a parse failure in the input.
type SyntaxError struct {
	Line   int
	Column int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d, column %d: %s", e.Line, e.Column, e.Msg)
}

// Standardize converts JSONC (comments, trailing commas) into plain JSON.
func Standardize(data []byte) ([]byte, error) {
	out, err := hujson.Standardize(bytes.Clone(data))
	if err != nil {
		return nil, errors.Wrap(err, "invalid JSONC")
	}
	return out, nil
}

// Validate checks that data is a single well-formed JSON value. With jsonc
// set, comments and trailing commas are accepted.
func Validate(data []byte, jsonc bool) error {
	if jsonc {
		var err error
		if data, err = Standardize(data); err != nil {
			return err
		}
	}
	_, err := decode(data)
	return err
}

func decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, locate(data, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, locate(data, errors.New("unexpected data after top-level value"))
	}
	return v, nil
}

func locate(data []byte, err error) error {
	var offset int64
	var syntaxErr *json.SyntaxError
	switch {
	case errors.As(err, &syntaxErr):
		offset = syntaxErr.Offset
	case err.Error() == "unexpected EOF":
		offset = int64(len(data))
	default:
		offset = int64(len(bytes.TrimRight(data, " \t\r\n")))
	}

	line, col := 1, 1
	for i := int64(0); i < offset && i < int64(len(data)); i++ {
		if data[i] == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return &SyntaxError{Line: line, Column: col, Msg: err.Error()}
}

// ValidateSchema validates doc against a JSON Schema document.
func ValidateSchema(doc, schema []byte) error {
	var s jsonschema.Schema
	if err := json.Unmarshal(schema, &s); err != nil {
		return errors.Wrap(err, "invalid schema")
	}
	resolved, err := s.Resolve(nil)
	if err != nil {
		return errors.Wrap(err, "failed to resolve schema")
	}

	var instance any
	if err := json.Unmarshal(doc, &instance); err != nil {
		return locate(doc, err)
	}
	if err := resolved.Validate(instance); err != nil {
		return errors.Wrap(err, "schema validation failed")
	}
	return nil
}

// Pretty re-indents data with indent spaces per level, keeping key order.
// An indent of zero compacts the document instead.
func Pretty(data []byte, indent int) ([]byte, error) {
	if _, err := decode(data); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if indent <= 0 {
		if err := json.Compact(&buf, data); err != nil {
			return nil, errors.Wrap(err, "failed to compact JSON")
		}
		return buf.Bytes(), nil
	}
	if err := json.Indent(&buf, bytes.TrimSpace(data), "", strings.Repeat(" ", indent)); err != nil {
		return nil, errors.Wrap(err, "failed to indent JSON")
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Query walks a path like `items[0].name` (optionally prefixed with `$` or
// `.`) and returns the value found there.
func Query(data []byte, path string) (any, error) {
	v, err := decode(data)
	if err != nil {
		return nil, err
	}

	segments, err := parsePath(path)
	if err != nil {
		return nil, err
	}

	cur := v
	walked := "$"
	for _, seg := range segments {
		switch node := cur.(type) {
		case map[string]any:
			if seg.index >= 0 {
				return nil, errors.Errorf("%s is an object, not an array", walked)
			}
			next, ok := node[seg.key]
			if !ok {
				return nil, errors.Errorf("key %q not found at %s", seg.key, walked)
			}
			cur = next
		case []any:
			if seg.index < 0 {
				return nil, errors.Errorf("%s is an array, not an object", walked)
			}
			if seg.index >= len(node) {
				return nil, errors.Errorf("index %d out of range at %s (length %d)", seg.index, walked, len(node))
			}
			cur = node[seg.index]
		default:
			return nil, errors.Errorf("cannot descend into scalar at %s", walked)
		}
		walked += seg.String()
	}
	return cur, nil
}

type segment struct {
	key   string
	index int
}

func (s segment) String() string {
	if s.index >= 0 {
		return "[" + strconv.Itoa(s.index) + "]"
	}
	return "." + s.key
}

func parsePath(path string) ([]segment, error) {
	path = strings.TrimPrefix(strings.TrimSpace(path), "$")
	var segments []segment

	for len(path) > 0 {
		switch path[0] {
		case '.':
			path = path[1:]
		case '[':
			end := strings.IndexByte(path, ']')
			if end < 0 {
				return nil, errors.Errorf("unterminated index in path")
			}
			n, err := strconv.Atoi(path[1:end])
			if err != nil || n < 0 {
				return nil, errors.Errorf("invalid index %q in path", path[1:end])
			}
			segments = append(segments, segment{index: n})
			path = path[end+1:]
		default:
			end := strings.IndexAny(path, ".[")
			if end < 0 {
				end = len(path)
			}
			segments = append(segments, segment{key: path[:end], index: -1})
			path = path[end:]
		}
	}
	return segments, nil
}
