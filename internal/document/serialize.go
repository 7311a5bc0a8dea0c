package document

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/tidwall/pretty"
)

// Serialize renders a document with deterministic ordering: recognized
// sections first in schema order, extension-bag fields after in
// document order, map keys sorted, two-space indentation, and a
// trailing newline. parse(serialize(d)) reproduces d exactly.
func Serialize(d Document) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true

	writeRaw := func(key string, raw []byte) error {
		name, err := json.Marshal(key)
		if err != nil {
			return fmt.Errorf("DOC_ENCODE: key %q: %w", key, err)
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(raw)
		return nil
	}
	writeSection := func(key string, v any) error {
		blob, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("DOC_ENCODE: section %s: %w", key, err)
		}
		return writeRaw(key, blob)
	}

	if d.Servers != nil {
		if err := writeSection(SectionServers, d.Servers); err != nil {
			return nil, err
		}
	}
	if d.Paths != nil {
		if err := writeSection(SectionPaths, d.Paths); err != nil {
			return nil, err
		}
	}
	if d.Skills != nil {
		if err := writeSection(SectionSkills, d.Skills); err != nil {
			return nil, err
		}
	}
	if d.Instructions != nil {
		if err := writeSection(SectionInstructions, d.Instructions); err != nil {
			return nil, err
		}
	}
	for _, f := range d.Extra {
		if len(f.Raw) == 0 || !json.Valid(f.Raw) {
			return nil, fmt.Errorf("DOC_ENCODE: extension field %q holds invalid JSON", f.Key)
		}
		if err := writeRaw(f.Key, f.Raw); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')

	out := pretty.PrettyOptions(buf.Bytes(), &pretty.Options{Width: 80, Indent: "  "})
	if !bytes.HasSuffix(out, []byte("\n")) {
		out = append(out, '\n')
	}
	return out, nil
}
