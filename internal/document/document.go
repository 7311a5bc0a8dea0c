// Package document holds the configuration document model: parsing,
// deterministic serialization, and pure transformations. A Document is
// treated as an immutable value; every transformation returns a new
// one and parsed inputs are never aliased.
package document

import (
	"bytes"
	"encoding/json"
)

// Section names as they appear in the file format.
const (
	SectionServers      = "mcpServers"
	SectionPaths        = "allowedPaths"
	SectionSkills       = "skills"
	SectionInstructions = "customInstructions"
)

// Scope identifies one level of the configuration hierarchy.
type Scope string

const (
	ScopeGlobal  Scope = "global"
	ScopeProject Scope = "project"
	// ScopeSession is an in-memory overlay, never persisted.
	ScopeSession Scope = "session"
)

// Server is one entry of the server map.
type Server struct {
	Enabled bool              `json:"enabled"`
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Skill is one entry of the skill map. Parameters is an opaque value
// tree carried verbatim.
type Skill struct {
	Enabled    bool            `json:"enabled"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// Field is one extension-bag entry: a top-level field outside the
// recognized schema, preserved as raw JSON in document order.
type Field struct {
	Key string
	Raw json.RawMessage
}

// Document is a parsed configuration layer. A nil section means the
// section was absent from the file; a non-nil empty slice or map means
// it was explicitly present and empty. The distinction drives the
// replace-or-inherit merge rule for sequence sections.
type Document struct {
	Servers      map[string]Server
	Paths        []string
	Skills       map[string]Skill
	Instructions []string
	Extra        []Field
}

// Empty returns a document with no sections.
func Empty() Document { return Document{} }

// IsEmpty reports whether no section is present at all.
func (d Document) IsEmpty() bool {
	return d.Servers == nil && d.Paths == nil && d.Skills == nil &&
		d.Instructions == nil && len(d.Extra) == 0
}

// Clone returns a deep copy sharing no mutable state with d.
func (d Document) Clone() Document {
	out := Document{}
	if d.Servers != nil {
		out.Servers = make(map[string]Server, len(d.Servers))
		for name, srv := range d.Servers {
			out.Servers[name] = srv.clone()
		}
	}
	if d.Paths != nil {
		out.Paths = append([]string{}, d.Paths...)
	}
	if d.Skills != nil {
		out.Skills = make(map[string]Skill, len(d.Skills))
		for name, sk := range d.Skills {
			out.Skills[name] = sk.clone()
		}
	}
	if d.Instructions != nil {
		out.Instructions = append([]string{}, d.Instructions...)
	}
	if d.Extra != nil {
		out.Extra = make([]Field, len(d.Extra))
		for i, f := range d.Extra {
			out.Extra[i] = Field{Key: f.Key, Raw: append(json.RawMessage{}, f.Raw...)}
		}
	}
	return out
}

func (s Server) clone() Server {
	if s.Args != nil {
		s.Args = append([]string{}, s.Args...)
	}
	if s.Env != nil {
		env := make(map[string]string, len(s.Env))
		for k, v := range s.Env {
			env[k] = v
		}
		s.Env = env
	}
	return s
}

func (s Skill) clone() Skill {
	if s.Parameters != nil {
		s.Parameters = append(json.RawMessage{}, s.Parameters...)
	}
	return s
}

// WithServer returns a copy of d with the named server entry set.
func (d Document) WithServer(name string, srv Server) Document {
	out := d.Clone()
	if out.Servers == nil {
		out.Servers = map[string]Server{}
	}
	out.Servers[name] = srv.clone()
	return out
}

// WithoutServer returns a copy of d with the named server removed.
// Removing the last entry keeps the section present and empty.
func (d Document) WithoutServer(name string) Document {
	out := d.Clone()
	if out.Servers != nil {
		delete(out.Servers, name)
	}
	return out
}

// WithSkill returns a copy of d with the named skill entry set.
func (d Document) WithSkill(name string, sk Skill) Document {
	out := d.Clone()
	if out.Skills == nil {
		out.Skills = map[string]Skill{}
	}
	out.Skills[name] = sk.clone()
	return out
}

// WithoutSkill returns a copy of d with the named skill removed.
func (d Document) WithoutSkill(name string) Document {
	out := d.Clone()
	if out.Skills != nil {
		delete(out.Skills, name)
	}
	return out
}

// WithPaths returns a copy of d with the path list replaced. Passing
// an empty non-nil slice makes the section explicitly empty.
func (d Document) WithPaths(paths []string) Document {
	out := d.Clone()
	if paths == nil {
		out.Paths = nil
		return out
	}
	out.Paths = append([]string{}, paths...)
	return out
}

// WithInstructions returns a copy of d with the instruction list
// replaced.
func (d Document) WithInstructions(instructions []string) Document {
	out := d.Clone()
	if instructions == nil {
		out.Instructions = nil
		return out
	}
	out.Instructions = append([]string{}, instructions...)
	return out
}

// WithExtra returns a copy of d with the extension-bag field set,
// keeping its position when the key already exists and appending
// otherwise.
func (d Document) WithExtra(key string, raw json.RawMessage) Document {
	out := d.Clone()
	value := append(json.RawMessage{}, raw...)
	for i := range out.Extra {
		if out.Extra[i].Key == key {
			out.Extra[i].Raw = value
			return out
		}
	}
	out.Extra = append(out.Extra, Field{Key: key, Raw: value})
	return out
}

// WithoutExtra returns a copy of d with the extension-bag field
// removed. Later fields keep their relative order.
func (d Document) WithoutExtra(key string) Document {
	out := d.Clone()
	for i := range out.Extra {
		if out.Extra[i].Key == key {
			out.Extra = append(out.Extra[:i], out.Extra[i+1:]...)
			break
		}
	}
	if len(out.Extra) == 0 {
		out.Extra = nil
	}
	return out
}

// ExtraValue returns the raw value of an extension-bag field.
func (d Document) ExtraValue(key string) (json.RawMessage, bool) {
	for _, f := range d.Extra {
		if f.Key == key {
			return f.Raw, true
		}
	}
	return nil, false
}

// Equal reports semantic equality. Serialization is deterministic, so
// two documents are equal exactly when their serialized forms match.
func Equal(a, b Document) bool {
	ab, errA := Serialize(a)
	bb, errB := Serialize(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}
