// Package keypath applies dot-notation assignments to a document,
// e.g. "mcpServers.npx.enabled" or "customInstructions". Known
// sections get typed handling; anything else lands in the extension
// bag. Assignments are pure: the input document is never modified.
package keypath

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"agentconf/internal/document"
)

// Apply returns a copy of doc with the key-path set to value. The
// value is parsed as JSON when it is valid JSON and treated as a
// plain string otherwise, so both `true` and `hello world` work.
func Apply(doc document.Document, keyPath, value string) (document.Document, error) {
	keys := strings.Split(keyPath, ".")
	if keyPath == "" || keys[0] == "" {
		return document.Document{}, fmt.Errorf("KEY_PATH: empty key path")
	}
	raw := coerceValue(value)

	switch keys[0] {
	case document.SectionServers:
		return applyServer(doc, keys[1:], raw)
	case document.SectionPaths:
		if len(keys) > 1 {
			return document.Document{}, fmt.Errorf("KEY_PATH: %s is replaced whole; set it to a JSON list", document.SectionPaths)
		}
		var paths []string
		if err := json.Unmarshal(raw, &paths); err != nil {
			return document.Document{}, fmt.Errorf("KEY_PATH: %s must be a list of strings: %w", document.SectionPaths, err)
		}
		if paths == nil {
			paths = []string{}
		}
		return doc.WithPaths(paths), nil
	case document.SectionSkills:
		return applySkill(doc, keys[1:], raw)
	case document.SectionInstructions:
		if len(keys) > 1 {
			return document.Document{}, fmt.Errorf("KEY_PATH: %s is replaced whole; set it to a JSON list", document.SectionInstructions)
		}
		var instructions []string
		if err := json.Unmarshal(raw, &instructions); err != nil {
			return document.Document{}, fmt.Errorf("KEY_PATH: %s must be a list of strings: %w", document.SectionInstructions, err)
		}
		if instructions == nil {
			instructions = []string{}
		}
		return doc.WithInstructions(instructions), nil
	default:
		return applyExtra(doc, keys, raw)
	}
}

// Remove returns a copy of doc with the key-path deleted: a whole
// entry for map sections, a whole section for sequence sections, an
// env key or nested parameter for deeper paths. Removing something
// that is not set is a no-op.
func Remove(doc document.Document, keyPath string) (document.Document, error) {
	keys := strings.Split(keyPath, ".")
	if keyPath == "" || keys[0] == "" {
		return document.Document{}, fmt.Errorf("KEY_PATH: empty key path")
	}

	switch keys[0] {
	case document.SectionServers:
		return removeServer(doc, keys[1:])
	case document.SectionPaths:
		if len(keys) > 1 {
			return document.Document{}, fmt.Errorf("KEY_PATH: %s is removed whole", document.SectionPaths)
		}
		return doc.WithPaths(nil), nil
	case document.SectionSkills:
		return removeSkill(doc, keys[1:])
	case document.SectionInstructions:
		if len(keys) > 1 {
			return document.Document{}, fmt.Errorf("KEY_PATH: %s is removed whole", document.SectionInstructions)
		}
		return doc.WithInstructions(nil), nil
	default:
		return removeExtra(doc, keys)
	}
}

func removeServer(doc document.Document, keys []string) (document.Document, error) {
	if len(keys) == 0 {
		out := doc.Clone()
		out.Servers = nil
		return out, nil
	}
	name := keys[0]
	if len(keys) == 1 {
		return doc.WithoutServer(name), nil
	}
	if len(keys) == 3 && keys[1] == "env" {
		srv, ok := doc.Servers[name]
		if !ok {
			return doc.Clone(), nil
		}
		env := make(map[string]string, len(srv.Env))
		for k, v := range srv.Env {
			if k != keys[2] {
				env[k] = v
			}
		}
		if len(env) == 0 {
			env = nil
		}
		srv.Env = env
		return doc.WithServer(name, srv), nil
	}
	return document.Document{}, fmt.Errorf("KEY_PATH: remove the server entry or set the field instead")
}

func removeSkill(doc document.Document, keys []string) (document.Document, error) {
	if len(keys) == 0 {
		out := doc.Clone()
		out.Skills = nil
		return out, nil
	}
	name := keys[0]
	if len(keys) == 1 {
		return doc.WithoutSkill(name), nil
	}
	if keys[1] != "parameters" {
		return document.Document{}, fmt.Errorf("KEY_PATH: remove the skill entry or set the field instead")
	}
	sk, ok := doc.Skills[name]
	if !ok {
		return doc.Clone(), nil
	}
	if len(keys) == 2 {
		sk.Parameters = nil
		return doc.WithSkill(name, sk), nil
	}
	if len(sk.Parameters) == 0 {
		return doc.Clone(), nil
	}
	updated, err := sjson.DeleteBytes(sk.Parameters, sjsonPath(keys[2:]))
	if err != nil {
		return document.Document{}, fmt.Errorf("KEY_PATH: parameters.%s: %w", strings.Join(keys[2:], "."), err)
	}
	sk.Parameters = updated
	return doc.WithSkill(name, sk), nil
}

func removeExtra(doc document.Document, keys []string) (document.Document, error) {
	key := keys[0]
	if len(keys) == 1 {
		return doc.WithoutExtra(key), nil
	}
	base, ok := doc.ExtraValue(key)
	if !ok || !gjson.ParseBytes(base).IsObject() {
		return doc.Clone(), nil
	}
	updated, err := sjson.DeleteBytes(base, sjsonPath(keys[1:]))
	if err != nil {
		return document.Document{}, fmt.Errorf("KEY_PATH: %s: %w", strings.Join(keys, "."), err)
	}
	return doc.WithExtra(key, updated), nil
}

// coerceValue interprets value as JSON when possible, else as a bare
// string literal.
func coerceValue(value string) json.RawMessage {
	trimmed := strings.TrimSpace(value)
	if gjson.Valid(trimmed) && trimmed != "" {
		return json.RawMessage(trimmed)
	}
	quoted, _ := json.Marshal(value)
	return quoted
}

func applyServer(doc document.Document, keys []string, raw json.RawMessage) (document.Document, error) {
	if len(keys) == 0 {
		return document.Document{}, fmt.Errorf("KEY_PATH: server name required, e.g. %s.npx.enabled", document.SectionServers)
	}
	name := keys[0]
	if len(keys) == 1 {
		// Whole-entry assignment.
		var srv document.Server
		if err := json.Unmarshal(raw, &srv); err != nil {
			return document.Document{}, fmt.Errorf("KEY_PATH: server %q must be an object: %w", name, err)
		}
		return doc.WithServer(name, srv), nil
	}

	srv := doc.Servers[name]
	switch field := keys[1]; field {
	case "enabled":
		b, err := coerceBool(raw)
		if err != nil {
			return document.Document{}, fmt.Errorf("KEY_PATH: %s.%s.enabled: %w", document.SectionServers, name, err)
		}
		srv.Enabled = b
	case "command":
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return document.Document{}, fmt.Errorf("KEY_PATH: command must be a string: %w", err)
		}
		srv.Command = s
	case "args":
		var args []string
		if err := json.Unmarshal(raw, &args); err != nil {
			return document.Document{}, fmt.Errorf("KEY_PATH: args must be a list of strings: %w", err)
		}
		srv.Args = args
	case "env":
		if len(keys) == 2 {
			var env map[string]string
			if err := json.Unmarshal(raw, &env); err != nil {
				return document.Document{}, fmt.Errorf("KEY_PATH: env must be a string map: %w", err)
			}
			srv.Env = env
			break
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return document.Document{}, fmt.Errorf("KEY_PATH: env values must be strings: %w", err)
		}
		env := make(map[string]string, len(srv.Env)+1)
		for k, v := range srv.Env {
			env[k] = v
		}
		env[keys[2]] = s
		srv.Env = env
	default:
		return document.Document{}, fmt.Errorf("KEY_PATH: unknown server field %q; use enabled, command, args or env", field)
	}
	return doc.WithServer(name, srv), nil
}

func applySkill(doc document.Document, keys []string, raw json.RawMessage) (document.Document, error) {
	if len(keys) == 0 {
		return document.Document{}, fmt.Errorf("KEY_PATH: skill name required, e.g. %s.review.enabled", document.SectionSkills)
	}
	name := keys[0]
	if len(keys) == 1 {
		var sk document.Skill
		if err := json.Unmarshal(raw, &sk); err != nil {
			return document.Document{}, fmt.Errorf("KEY_PATH: skill %q must be an object: %w", name, err)
		}
		return doc.WithSkill(name, sk), nil
	}

	sk := doc.Skills[name]
	switch field := keys[1]; field {
	case "enabled":
		b, err := coerceBool(raw)
		if err != nil {
			return document.Document{}, fmt.Errorf("KEY_PATH: %s.%s.enabled: %w", document.SectionSkills, name, err)
		}
		sk.Enabled = b
	case "parameters":
		if len(keys) == 2 {
			sk.Parameters = raw
			break
		}
		// Deeper paths set inside the opaque parameter tree.
		base := sk.Parameters
		if len(base) == 0 {
			base = json.RawMessage(`{}`)
		}
		updated, err := sjson.SetRawBytes(base, sjsonPath(keys[2:]), raw)
		if err != nil {
			return document.Document{}, fmt.Errorf("KEY_PATH: parameters.%s: %w", strings.Join(keys[2:], "."), err)
		}
		sk.Parameters = updated
	default:
		return document.Document{}, fmt.Errorf("KEY_PATH: unknown skill field %q; use enabled or parameters", field)
	}
	return doc.WithSkill(name, sk), nil
}

func applyExtra(doc document.Document, keys []string, raw json.RawMessage) (document.Document, error) {
	key := keys[0]
	if len(keys) == 1 {
		return doc.WithExtra(key, raw), nil
	}
	base, _ := doc.ExtraValue(key)
	if len(base) == 0 || !gjson.ParseBytes(base).IsObject() {
		base = json.RawMessage(`{}`)
	}
	updated, err := sjson.SetRawBytes(base, sjsonPath(keys[1:]), raw)
	if err != nil {
		return document.Document{}, fmt.Errorf("KEY_PATH: %s: %w", strings.Join(keys, "."), err)
	}
	return doc.WithExtra(key, updated), nil
}

func coerceBool(raw json.RawMessage) (bool, error) {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch strings.ToLower(s) {
		case "true", "yes", "1":
			return true, nil
		case "false", "no", "0":
			return false, nil
		}
	}
	return false, fmt.Errorf("value must be a boolean")
}

// sjsonPath joins segments for sjson, escaping its wildcard
// characters so literal keys stay literal.
func sjsonPath(keys []string) string {
	escaped := make([]string, len(keys))
	for i, k := range keys {
		k = strings.ReplaceAll(k, `\`, `\\`)
		k = strings.ReplaceAll(k, `*`, `\*`)
		k = strings.ReplaceAll(k, `?`, `\?`)
		escaped[i] = k
	}
	return strings.Join(escaped, ".")
}
