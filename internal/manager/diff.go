package manager

import (
	"sort"

	"agentconf/internal/document"
	"agentconf/internal/merge"
)

// Change kinds reported by Diff.
const (
	ChangeAdded    = "added"
	ChangeRemoved  = "removed"
	ChangeModified = "modified"
)

// Change describes one leaf that the project layer adds, removes or
// overrides relative to the global document alone.
type Change struct {
	Kind    string `json:"kind"`
	KeyPath string `json:"keyPath"`
	Old     string `json:"old,omitempty"`
	New     string `json:"new,omitempty"`
}

// Diff reports what the project layer changes over the global one,
// sorted by key-path. With no project layer the diff is empty.
func (m *Manager) Diff() ([]Change, merge.SourceMap, error) {
	global, _, err := m.Layer(document.ScopeGlobal)
	if err != nil {
		return nil, nil, err
	}
	project, _, err := m.Layer(document.ScopeProject)
	if err != nil {
		return nil, nil, err
	}

	merged, trace, err := merge.MergeWithTrace(global, project, document.ScopeGlobal, document.ScopeProject)
	if err != nil {
		return nil, nil, err
	}
	before, err := merge.Leaves(global)
	if err != nil {
		return nil, nil, err
	}
	after, err := merge.Leaves(merged)
	if err != nil {
		return nil, nil, err
	}

	var changes []Change
	for key, newVal := range after {
		oldVal, had := before[key]
		switch {
		case !had:
			changes = append(changes, Change{Kind: ChangeAdded, KeyPath: key, New: newVal})
		case oldVal != newVal:
			changes = append(changes, Change{Kind: ChangeModified, KeyPath: key, Old: oldVal, New: newVal})
		}
	}
	for key, oldVal := range before {
		if _, still := after[key]; !still {
			changes = append(changes, Change{Kind: ChangeRemoved, KeyPath: key, Old: oldVal})
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].KeyPath < changes[j].KeyPath })
	return changes, trace, nil
}
