package document

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/tidwall/gjson"

	"agentconf/internal/cfgerr"
)

// Parse builds a Document from UTF-8 JSON bytes. Fields outside the
// recognized schema land in the extension bag in document order with
// their raw values intact. Malformed input yields a ParseError with a
// line and column when one can be derived.
func Parse(data []byte) (Document, error) {
	if !gjson.ValidBytes(data) {
		return Document{}, syntaxError(data)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return Document{}, &cfgerr.ParseError{Line: 1, Column: 1, Msg: "top-level value must be an object"}
	}

	var doc Document
	var perr error
	root.ForEach(func(key, value gjson.Result) bool {
		switch key.Str {
		case SectionServers:
			perr = decodeSection(key.Str, value, &doc.Servers)
		case SectionPaths:
			perr = decodeSection(key.Str, value, &doc.Paths)
		case SectionSkills:
			perr = decodeSection(key.Str, value, &doc.Skills)
		case SectionInstructions:
			perr = decodeSection(key.Str, value, &doc.Instructions)
		default:
			raw := append(json.RawMessage{}, []byte(value.Raw)...)
			doc.Extra = append(doc.Extra, Field{Key: key.Str, Raw: raw})
		}
		return perr == nil
	})
	if perr != nil {
		return Document{}, perr
	}
	return doc, nil
}

func decodeSection[T any](name string, value gjson.Result, dst *T) error {
	if err := json.Unmarshal([]byte(value.Raw), dst); err != nil {
		return &cfgerr.ParseError{Msg: fmt.Sprintf("section %s: %v", name, err)}
	}
	return nil
}

// syntaxError derives a located ParseError from the stdlib decoder,
// which reports a byte offset for syntax failures.
func syntaxError(data []byte) error {
	var v any
	err := json.Unmarshal(data, &v)
	if err == nil {
		// gjson rejected something the stdlib accepts; no location.
		return &cfgerr.ParseError{Msg: "invalid JSON"}
	}
	var syn *json.SyntaxError
	if errors.As(err, &syn) {
		line, col := lineCol(data, syn.Offset)
		return &cfgerr.ParseError{Line: line, Column: col, Msg: syn.Error()}
	}
	return &cfgerr.ParseError{Msg: err.Error()}
}

func lineCol(data []byte, offset int64) (line, col int) {
	line, col = 1, 1
	if offset > int64(len(data)) {
		offset = int64(len(data))
	}
	for i := int64(0); i < offset; i++ {
		if data[i] == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return line, col
}

// Read loads and parses the document at path. A missing file is a
// NotFoundError; callers that treat absence as an empty layer check
// for it with cfgerr.IsNotFound.
func Read(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Document{}, &cfgerr.NotFoundError{Path: path}
		}
		return Document{}, cfgerr.Filesystem("read", path, err)
	}
	doc, err := Parse(data)
	if err != nil {
		var pe *cfgerr.ParseError
		if errors.As(err, &pe) {
			pe.Path = path
		}
		return Document{}, err
	}
	return doc, nil
}
