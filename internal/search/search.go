// Package search finds keys and values across configuration layers
// by substring match over flattened key-paths.
package search

import (
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"agentconf/internal/document"
	"agentconf/internal/merge"
)

// Options narrows what a query matches against. With both Keys and
// Values false the query matches either.
type Options struct {
	Keys          bool
	Values        bool
	CaseSensitive bool
}

// Result is one flattened leaf that matched the query.
type Result struct {
	KeyPath    string         `json:"keyPath"`
	Value      string         `json:"value"`
	Type       string         `json:"type"`
	Scope      document.Scope `json:"scope"`
	ConfigPath string         `json:"configPath,omitempty"`
}

// Layer describes one document to search and how to label its hits.
type Layer struct {
	Doc        document.Document
	Scope      document.Scope
	ConfigPath string
}

// Run searches every layer and returns hits sorted by scope order
// then key-path. An empty query matches nothing.
func Run(layers []Layer, query string, opts Options) ([]Result, error) {
	if query == "" {
		return nil, nil
	}
	matchKeys := opts.Keys || !opts.Values
	matchValues := opts.Values || !opts.Keys

	fold := func(s string) string { return strings.ToLower(s) }
	if opts.CaseSensitive {
		fold = func(s string) string { return s }
	}
	needle := fold(query)

	var results []Result
	for _, layer := range layers {
		leaves, err := merge.Leaves(layer.Doc)
		if err != nil {
			return nil, err
		}
		var hits []Result
		for keyPath, raw := range leaves {
			hit := matchKeys && strings.Contains(fold(keyPath), needle)
			if !hit && matchValues {
				hit = strings.Contains(fold(gjson.Parse(raw).String()), needle)
			}
			if !hit {
				continue
			}
			hits = append(hits, Result{
				KeyPath:    keyPath,
				Value:      raw,
				Type:       typeName(raw),
				Scope:      layer.Scope,
				ConfigPath: layer.ConfigPath,
			})
		}
		sort.Slice(hits, func(i, j int) bool { return hits[i].KeyPath < hits[j].KeyPath })
		results = append(results, hits...)
	}
	return results, nil
}

func typeName(raw string) string {
	v := gjson.Parse(raw)
	switch {
	case v.IsArray():
		return "array"
	case v.IsObject():
		return "object"
	case v.Type == gjson.String:
		return "string"
	case v.Type == gjson.Number:
		return "number"
	case v.Type == gjson.True, v.Type == gjson.False:
		return "boolean"
	case v.Type == gjson.Null:
		return "null"
	default:
		return "unknown"
	}
}
