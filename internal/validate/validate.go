// Package validate runs the fixed, ordered rule set over a document.
// Validation is fail-fast: the first violated rule is returned and the
// remaining rules do not run.
package validate

import (
	"fmt"
	"sort"

	"agentconf/internal/cfgerr"
	"agentconf/internal/document"
)

// Rule is one stateless validation check. Implementations are a closed
// set; the active rules and their order are fixed at startup.
type Rule interface {
	Name() string
	Check(doc document.Document) *cfgerr.ValidationError
}

var rules = []Rule{ServersRule{}, PathsRule{}, SkillsRule{}}

// Rules returns the active rule set in evaluation order.
func Rules() []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}

// All runs every rule in declared order and returns the first failure,
// or nil when the document is valid.
func All(doc document.Document) error {
	for _, r := range rules {
		if verr := r.Check(doc); verr != nil {
			return verr
		}
	}
	return nil
}

// ServersRule checks the server map: entry names must be non-empty.
// The enabled flag is boolean by construction of the document model;
// non-boolean input fails at parse time instead.
type ServersRule struct{}

func (ServersRule) Name() string { return "ServersRule" }

func (ServersRule) Check(doc document.Document) *cfgerr.ValidationError {
	for _, name := range sortedKeys(doc.Servers) {
		if name == "" {
			return &cfgerr.ValidationError{
				Rule:       "ServersRule",
				FieldPath:  document.SectionServers,
				Message:    "server name is empty",
				Suggestion: "give every server entry a non-empty name",
			}
		}
	}
	return nil
}

// PathsRule checks that every path list entry is a non-empty string.
type PathsRule struct{}

func (PathsRule) Name() string { return "PathsRule" }

func (PathsRule) Check(doc document.Document) *cfgerr.ValidationError {
	for i, p := range doc.Paths {
		if p == "" {
			return &cfgerr.ValidationError{
				Rule:       "PathsRule",
				FieldPath:  fmt.Sprintf("%s[%d]", document.SectionPaths, i),
				Message:    "path entry is empty",
				Suggestion: "remove the empty entry or replace it with a real path",
			}
		}
	}
	return nil
}

// SkillsRule checks the skill map with the same shape constraint as
// the server map.
type SkillsRule struct{}

func (SkillsRule) Name() string { return "SkillsRule" }

func (SkillsRule) Check(doc document.Document) *cfgerr.ValidationError {
	for _, name := range sortedKeys(doc.Skills) {
		if name == "" {
			return &cfgerr.ValidationError{
				Rule:       "SkillsRule",
				FieldPath:  document.SectionSkills,
				Message:    "skill name is empty",
				Suggestion: "give every skill entry a non-empty name",
			}
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
