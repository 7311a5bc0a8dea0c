// Package merge folds configuration layers into an effective document.
// Map-shaped sections merge by key union with entry-level replace;
// sequence-shaped sections replace when the override supplies them
// (an explicitly empty list counts) and inherit otherwise. Merge is a
// pure function of its inputs.
package merge

import (
	"agentconf/internal/document"
)

// Merge combines base and override into a new document. Neither input
// is modified.
func Merge(base, override document.Document) document.Document {
	out := document.Document{}

	out.Servers = mergeMap(base.Servers, override.Servers)
	out.Skills = mergeSkillMap(base.Skills, override.Skills)
	out.Extra = mergeExtra(base.Extra, override.Extra)

	if override.Paths != nil {
		out.Paths = append([]string{}, override.Paths...)
	} else if base.Paths != nil {
		out.Paths = append([]string{}, base.Paths...)
	}
	if override.Instructions != nil {
		out.Instructions = append([]string{}, override.Instructions...)
	} else if base.Instructions != nil {
		out.Instructions = append([]string{}, base.Instructions...)
	}
	return out
}

// mergeMap unions two server maps; for a key on both sides the
// override entry replaces the base entry whole.
func mergeMap(base, override map[string]document.Server) map[string]document.Server {
	if base == nil && override == nil {
		return nil
	}
	out := make(map[string]document.Server, len(base)+len(override))
	for name, srv := range base {
		out[name] = srv
	}
	for name, srv := range override {
		out[name] = srv
	}
	return cloneServers(out)
}

func mergeSkillMap(base, override map[string]document.Skill) map[string]document.Skill {
	if base == nil && override == nil {
		return nil
	}
	out := make(map[string]document.Skill, len(base)+len(override))
	for name, sk := range base {
		out[name] = sk
	}
	for name, sk := range override {
		out[name] = sk
	}
	return cloneSkills(out)
}

// mergeExtra unions extension bags keeping base order first; override
// values replace in place and new override keys append in their own
// order, so the result is deterministic.
func mergeExtra(base, override []document.Field) []document.Field {
	if base == nil && override == nil {
		return nil
	}
	out := make([]document.Field, 0, len(base)+len(override))
	overrideByKey := make(map[string][]byte, len(override))
	for _, f := range override {
		overrideByKey[f.Key] = f.Raw
	}
	seen := make(map[string]bool, len(base))
	for _, f := range base {
		seen[f.Key] = true
		raw := f.Raw
		if v, ok := overrideByKey[f.Key]; ok {
			raw = v
		}
		out = append(out, document.Field{Key: f.Key, Raw: append([]byte{}, raw...)})
	}
	for _, f := range override {
		if seen[f.Key] {
			continue
		}
		out = append(out, document.Field{Key: f.Key, Raw: append([]byte{}, f.Raw...)})
	}
	return out
}

func cloneServers(m map[string]document.Server) map[string]document.Server {
	doc := document.Document{Servers: m}.Clone()
	return doc.Servers
}

func cloneSkills(m map[string]document.Skill) map[string]document.Skill {
	doc := document.Document{Skills: m}.Clone()
	return doc.Skills
}
