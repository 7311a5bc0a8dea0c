// Package export converts documents to and from interchange formats
// so configurations can move between machines or be edited in TOML.
package export

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"agentconf/internal/cfgerr"
	"agentconf/internal/document"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatTOML Format = "toml"
)

// ParseFormat accepts a format name or a file extension.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(name, ".")) {
	case "json":
		return FormatJSON, nil
	case "toml", "tml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("EXPORT_FORMAT: unsupported format %q; use json or toml", name)
	}
}

// FormatForPath guesses the format from a file name, defaulting to
// JSON when the extension is unknown.
func FormatForPath(path string) Format {
	if f, err := ParseFormat(filepath.Ext(path)); err == nil {
		return f
	}
	return FormatJSON
}

// Encode renders a document in the given format. JSON output is the
// canonical serialization; TOML output sorts keys.
func Encode(doc document.Document, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return document.Serialize(doc)
	case FormatTOML:
		blob, err := document.Serialize(doc)
		if err != nil {
			return nil, err
		}
		var tree map[string]any
		if err := json.Unmarshal(blob, &tree); err != nil {
			return nil, fmt.Errorf("EXPORT_ENCODE: %w", err)
		}
		out, err := toml.Marshal(tree)
		if err != nil {
			return nil, fmt.Errorf("EXPORT_ENCODE: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("EXPORT_FORMAT: unsupported format %q", format)
	}
}

// Decode parses an exported document back into the model.
func Decode(data []byte, format Format) (document.Document, error) {
	switch format {
	case FormatJSON:
		return document.Parse(data)
	case FormatTOML:
		var tree map[string]any
		if err := toml.Unmarshal(data, &tree); err != nil {
			return document.Document{}, &cfgerr.ParseError{Msg: err.Error()}
		}
		blob, err := json.Marshal(tree)
		if err != nil {
			return document.Document{}, fmt.Errorf("EXPORT_DECODE: %w", err)
		}
		return document.Parse(blob)
	default:
		return document.Document{}, fmt.Errorf("EXPORT_FORMAT: unsupported format %q", format)
	}
}
