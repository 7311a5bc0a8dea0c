package keypath

import (
	"encoding/json"
	"reflect"
	"testing"

	"agentconf/internal/document"
)

func TestApplyServerFields(t *testing.T) {
	doc := document.Empty()

	doc, err := Apply(doc, "mcpServers.npx.enabled", "true")
	if err != nil {
		t.Fatalf("Apply enabled: %v", err)
	}
	doc, err = Apply(doc, "mcpServers.npx.command", "npx")
	if err != nil {
		t.Fatalf("Apply command: %v", err)
	}
	doc, err = Apply(doc, "mcpServers.npx.args", `["-y", "server"]`)
	if err != nil {
		t.Fatalf("Apply args: %v", err)
	}
	doc, err = Apply(doc, "mcpServers.npx.env.API_KEY", "secret")
	if err != nil {
		t.Fatalf("Apply env: %v", err)
	}

	want := document.Server{
		Enabled: true,
		Command: "npx",
		Args:    []string{"-y", "server"},
		Env:     map[string]string{"API_KEY": "secret"},
	}
	if got := doc.Servers["npx"]; !reflect.DeepEqual(got, want) {
		t.Fatalf("server = %+v, want %+v", got, want)
	}
}

func TestApplyServerWholeEntry(t *testing.T) {
	doc, err := Apply(document.Empty(), "mcpServers.db", `{"enabled": false, "command": "db-server"}`)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	want := document.Server{Enabled: false, Command: "db-server"}
	if got := doc.Servers["db"]; !reflect.DeepEqual(got, want) {
		t.Fatalf("server = %+v, want %+v", got, want)
	}
}

func TestApplyBoolCoercion(t *testing.T) {
	for _, tc := range []struct {
		value string
		want  bool
	}{
		{"true", true},
		{"false", false},
		{"yes", true},
		{"no", false},
		{"1", false}, // valid JSON number, not a boolean string
	} {
		if tc.value == "1" {
			if _, err := Apply(document.Empty(), "mcpServers.a.enabled", tc.value); err == nil {
				t.Fatalf("Apply(%q): expected error", tc.value)
			}
			continue
		}
		doc, err := Apply(document.Empty(), "mcpServers.a.enabled", tc.value)
		if err != nil {
			t.Fatalf("Apply(%q): %v", tc.value, err)
		}
		if doc.Servers["a"].Enabled != tc.want {
			t.Fatalf("Apply(%q): enabled = %v, want %v", tc.value, doc.Servers["a"].Enabled, tc.want)
		}
	}
}

func TestApplySequenceSections(t *testing.T) {
	doc, err := Apply(document.Empty(), "allowedPaths", `["~/projects", "/tmp"]`)
	if err != nil {
		t.Fatalf("Apply allowedPaths: %v", err)
	}
	if !reflect.DeepEqual(doc.Paths, []string{"~/projects", "/tmp"}) {
		t.Fatalf("paths = %v", doc.Paths)
	}

	doc, err = Apply(doc, "allowedPaths", `[]`)
	if err != nil {
		t.Fatalf("Apply empty list: %v", err)
	}
	if doc.Paths == nil || len(doc.Paths) != 0 {
		t.Fatalf("paths should be explicitly empty, got %v", doc.Paths)
	}

	if _, err := Apply(doc, "customInstructions.0", `"x"`); err == nil {
		t.Fatal("expected error for indexed assignment into a sequence section")
	}
	if _, err := Apply(doc, "customInstructions", `"not a list"`); err == nil {
		t.Fatal("expected error for non-list value")
	}
}

func TestApplySkillParameters(t *testing.T) {
	doc, err := Apply(document.Empty(), "skills.review.enabled", "true")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	doc, err = Apply(doc, "skills.review.parameters.depth", "3")
	if err != nil {
		t.Fatalf("Apply parameters: %v", err)
	}
	doc, err = Apply(doc, "skills.review.parameters.mode", "strict")
	if err != nil {
		t.Fatalf("Apply parameters: %v", err)
	}

	sk := doc.Skills["review"]
	if !sk.Enabled {
		t.Fatal("skill should be enabled")
	}
	var params map[string]any
	if err := json.Unmarshal(sk.Parameters, &params); err != nil {
		t.Fatalf("parameters: %v", err)
	}
	if params["depth"] != float64(3) || params["mode"] != "strict" {
		t.Fatalf("parameters = %v", params)
	}
}

func TestApplyExtensionField(t *testing.T) {
	doc, err := Apply(document.Empty(), "futureFeature", `{"flag": true}`)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	raw, ok := doc.ExtraValue("futureFeature")
	if !ok {
		t.Fatal("extension field missing")
	}
	if string(raw) != `{"flag": true}` {
		t.Fatalf("raw = %s", raw)
	}

	doc, err = Apply(doc, "futureFeature.nested.limit", "10")
	if err != nil {
		t.Fatalf("Apply nested: %v", err)
	}
	raw, _ = doc.ExtraValue("futureFeature")
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	nested, ok := got["nested"].(map[string]any)
	if !ok || nested["limit"] != float64(10) {
		t.Fatalf("extension = %v", got)
	}
	if got["flag"] != true {
		t.Fatal("existing extension data lost")
	}
}

func TestApplyStringFallback(t *testing.T) {
	// A value that is not valid JSON becomes a string literal.
	doc, err := Apply(document.Empty(), "mcpServers.a.command", "run me now")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if doc.Servers["a"].Command != "run me now" {
		t.Fatalf("command = %q", doc.Servers["a"].Command)
	}
}

func TestApplyPurity(t *testing.T) {
	orig := document.Empty().WithServer("a", document.Server{Enabled: true})
	before, err := document.Serialize(orig)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if _, err := Apply(orig, "mcpServers.a.enabled", "false"); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	after, err := document.Serialize(orig)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if string(before) != string(after) {
		t.Fatal("Apply modified its input")
	}
}

func TestRemoveServerEntry(t *testing.T) {
	doc := document.Empty().
		WithServer("keep", document.Server{Enabled: true}).
		WithServer("drop", document.Server{Enabled: true})

	doc, err := Remove(doc, "mcpServers.drop")
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := doc.Servers["drop"]; ok {
		t.Fatal("entry should be gone")
	}
	if _, ok := doc.Servers["keep"]; !ok {
		t.Fatal("sibling entry lost")
	}
	// The section stays present even when its last entry goes.
	doc, err = Remove(doc, "mcpServers.keep")
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if doc.Servers == nil {
		t.Fatal("section should remain explicitly empty")
	}
}

func TestRemoveServerEnvKey(t *testing.T) {
	doc := document.Empty().WithServer("a", document.Server{
		Enabled: true,
		Env:     map[string]string{"API_KEY": "k", "REGION": "eu"},
	})
	doc, err := Remove(doc, "mcpServers.a.env.API_KEY")
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	want := map[string]string{"REGION": "eu"}
	if !reflect.DeepEqual(doc.Servers["a"].Env, want) {
		t.Fatalf("env = %v", doc.Servers["a"].Env)
	}
}

func TestRemoveSkillAndParameters(t *testing.T) {
	doc := document.Empty().WithSkill("review", document.Skill{
		Enabled:    true,
		Parameters: json.RawMessage(`{"depth":3,"mode":"strict"}`),
	})

	doc, err := Remove(doc, "skills.review.parameters.depth")
	if err != nil {
		t.Fatalf("Remove parameter: %v", err)
	}
	var params map[string]any
	if err := json.Unmarshal(doc.Skills["review"].Parameters, &params); err != nil {
		t.Fatalf("parameters: %v", err)
	}
	if _, ok := params["depth"]; ok {
		t.Fatalf("depth should be gone: %v", params)
	}
	if params["mode"] != "strict" {
		t.Fatalf("sibling parameter lost: %v", params)
	}

	doc, err = Remove(doc, "skills.review")
	if err != nil {
		t.Fatalf("Remove skill: %v", err)
	}
	if _, ok := doc.Skills["review"]; ok {
		t.Fatal("skill should be gone")
	}
}

func TestRemoveSequenceSection(t *testing.T) {
	doc := document.Empty().WithPaths([]string{"~/projects"})
	doc, err := Remove(doc, "allowedPaths")
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if doc.Paths != nil {
		t.Fatalf("paths = %v, want absent", doc.Paths)
	}
	if _, err := Remove(doc, "allowedPaths.0"); err == nil {
		t.Fatal("expected error for indexed removal")
	}
}

func TestRemoveExtensionField(t *testing.T) {
	doc := document.Empty().
		WithExtra("first", json.RawMessage(`1`)).
		WithExtra("second", json.RawMessage(`{"a":1,"b":2}`))

	doc, err := Remove(doc, "second.a")
	if err != nil {
		t.Fatalf("Remove nested: %v", err)
	}
	raw, _ := doc.ExtraValue("second")
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := got["a"]; ok || got["b"] != float64(2) {
		t.Fatalf("extension = %v", got)
	}

	doc, err = Remove(doc, "first")
	if err != nil {
		t.Fatalf("Remove field: %v", err)
	}
	if _, ok := doc.ExtraValue("first"); ok {
		t.Fatal("extension field should be gone")
	}
}

func TestRemoveMissingIsNoop(t *testing.T) {
	orig := document.Empty().WithServer("a", document.Server{Enabled: true})
	doc, err := Remove(orig, "mcpServers.ghost")
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if !document.Equal(orig, doc) {
		t.Fatal("removing an absent entry changed the document")
	}
	if _, err := Remove(orig, ""); err == nil {
		t.Fatal("expected error for empty key path")
	}
	if _, err := Remove(orig, "mcpServers.a.command"); err == nil {
		t.Fatal("expected error for scalar field removal")
	}
}

func TestApplyErrors(t *testing.T) {
	for _, keyPath := range []string{"", "mcpServers", "skills", "mcpServers.a.bogus", "skills.a.bogus"} {
		if _, err := Apply(document.Empty(), keyPath, "true"); err == nil {
			t.Fatalf("Apply(%q): expected error", keyPath)
		}
	}
}
