package merge

import (
	"strings"

	"github.com/tidwall/gjson"

	"agentconf/internal/document"
)

// SourceMap records, per leaf key-path, the scope that last determined
// its effective value. It is rebuilt whole on every traced merge.
type SourceMap map[string]document.Scope

// Scope returns the recorded scope for a key-path.
func (s SourceMap) Scope(keyPath string) (document.Scope, bool) {
	scope, ok := s[keyPath]
	return scope, ok
}

// MergeWithTrace merges like Merge and additionally attributes every
// leaf key-path of the result to the scope that supplied it: the
// override's scope where it contributed (a replaced map entry, a
// supplied sequence section, a supplied extension field), the base's
// scope otherwise.
func MergeWithTrace(base, override document.Document, baseScope, overrideScope document.Scope) (document.Document, SourceMap, error) {
	merged := Merge(base, override)
	leaves, err := Leaves(merged)
	if err != nil {
		return document.Document{}, nil, err
	}

	sources := make(SourceMap, len(leaves))
	for path := range leaves {
		top, rest := splitFirst(path)
		scope := baseScope
		switch top {
		case document.SectionServers:
			name, _ := splitFirst(rest)
			if _, ok := override.Servers[name]; ok {
				scope = overrideScope
			}
		case document.SectionSkills:
			name, _ := splitFirst(rest)
			if _, ok := override.Skills[name]; ok {
				scope = overrideScope
			}
		case document.SectionPaths:
			if override.Paths != nil {
				scope = overrideScope
			}
		case document.SectionInstructions:
			if override.Instructions != nil {
				scope = overrideScope
			}
		default:
			// Extension keys may themselves contain dots, so match the
			// whole path against the bag instead of the first segment.
			if hasExtraPrefix(override, path) {
				scope = overrideScope
			}
		}
		sources[path] = scope
	}
	return merged, sources, nil
}

// Leaves flattens a document into leaf key-paths mapped to their raw
// JSON values. Arrays count as leaves: sequence sections replace
// wholesale on merge, so element-level attribution would be
// meaningless.
func Leaves(doc document.Document) (map[string]string, error) {
	blob, err := document.Serialize(doc)
	if err != nil {
		return nil, err
	}
	out := map[string]string{}
	flatten(gjson.ParseBytes(blob), "", out)
	return out, nil
}

func flatten(value gjson.Result, prefix string, out map[string]string) {
	if value.IsObject() {
		empty := true
		value.ForEach(func(key, child gjson.Result) bool {
			empty = false
			flatten(child, joinPath(prefix, key.Str), out)
			return true
		})
		if empty && prefix != "" {
			out[prefix] = value.Raw
		}
		return
	}
	if prefix != "" {
		out[prefix] = value.Raw
	}
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func hasExtraPrefix(doc document.Document, path string) bool {
	for _, f := range doc.Extra {
		if path == f.Key || strings.HasPrefix(path, f.Key+".") {
			return true
		}
	}
	return false
}

func splitFirst(path string) (head, rest string) {
	if i := strings.IndexByte(path, '.'); i >= 0 {
		return path[:i], path[i+1:]
	}
	return path, ""
}
