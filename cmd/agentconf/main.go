package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"agentconf/internal/backup"
	"agentconf/internal/document"
	"agentconf/internal/export"
	"agentconf/internal/manager"
	"agentconf/internal/merge"
	"agentconf/internal/paths"
	"agentconf/internal/project"
	"agentconf/internal/search"
	"agentconf/internal/validate"
)

type ExitCoder interface {
	ExitCode() int
}

type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }
func (e *exitError) ExitCode() int { return e.code }

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if ex, ok := err.(ExitCoder); ok {
			os.Exit(ex.ExitCode())
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	var projectPath string
	var retention int
	var jsonOutput bool

	newMgr := func() *manager.Manager {
		startDir, _ := os.Getwd()
		return manager.New(manager.Options{
			GlobalPath:  configPath,
			ProjectPath: projectPath,
			StartDir:    startDir,
			Retention:   retention,
		})
	}

	cmd := &cobra.Command{
		Use:           "agentconf",
		Short:         "Layered configuration manager for AI agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to global config file")
	cmd.PersistentFlags().StringVar(&projectPath, "project", "", "path to project config file")
	cmd.PersistentFlags().IntVar(&retention, "retention", 0, "backups kept per config file")
	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output JSON")

	cmd.AddCommand(newGetCmd(newMgr, &jsonOutput))
	cmd.AddCommand(newSetCmd(newMgr, &jsonOutput))
	cmd.AddCommand(newUnsetCmd(newMgr, &jsonOutput))
	cmd.AddCommand(newDiffCmd(newMgr, &jsonOutput))
	cmd.AddCommand(newValidateCmd(newMgr, &jsonOutput))
	cmd.AddCommand(newBackupCmd(newMgr, &jsonOutput))
	cmd.AddCommand(newSearchCmd(newMgr, &jsonOutput))
	cmd.AddCommand(newExportCmd(newMgr, &jsonOutput))
	cmd.AddCommand(newImportCmd(newMgr, &jsonOutput))
	cmd.AddCommand(newProjectsCmd(&jsonOutput))
	cmd.AddCommand(newPathsCmd(newMgr, &jsonOutput))

	return cmd
}

func newGetCmd(newMgr func() *manager.Manager, jsonOutput *bool) *cobra.Command {
	var scopeName string
	var trace bool
	cmd := &cobra.Command{
		Use:     "get [key-path]",
		Aliases: []string{"show", "effective"},
		Short:   "Show effective configuration",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := newMgr()
			var cache manager.Cache

			var doc document.Document
			var sources map[string]string
			if scopeName != "" {
				scope, err := parseScope(scopeName)
				if err != nil {
					return err
				}
				layer, _, err := mgr.Layer(scope)
				if err != nil {
					return err
				}
				doc = layer
				if trace {
					// A single layer attributes every leaf to itself.
					leaves, err := merge.Leaves(doc)
					if err != nil {
						return err
					}
					sources = map[string]string{}
					for key := range leaves {
						sources[key] = string(scope)
					}
				}
			} else {
				eff, srcMap, err := mgr.EffectiveWithTrace(&cache)
				if err != nil {
					return err
				}
				doc = eff
				if trace {
					sources = map[string]string{}
					for key, sc := range srcMap {
						sources[key] = string(sc)
					}
				}
			}

			blob, err := document.Serialize(doc)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				value := gjson.GetBytes(blob, args[0])
				if !value.Exists() {
					return fmt.Errorf("DOC_KEY: %q is not set", args[0])
				}
				fmt.Println(value.Raw)
				return nil
			}
			if *jsonOutput && trace {
				return print(true, map[string]any{
					"config":  json.RawMessage(blob),
					"sources": sources,
				}, "")
			}
			fmt.Print(string(blob))
			if trace {
				for _, key := range sortedStringKeys(sources) {
					fmt.Printf("# %s from %s\n", key, sources[key])
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&scopeName, "scope", "", "show one layer: global|project")
	cmd.Flags().BoolVar(&trace, "trace", false, "annotate each value with its source layer")
	return cmd
}

func newSetCmd(newMgr func() *manager.Manager, jsonOutput *bool) *cobra.Command {
	var scopeName string
	cmd := &cobra.Command{
		Use:   "set <key-path> <value>",
		Short: "Set a value by dot-path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := parseScope(scopeName)
			if err != nil {
				return err
			}
			mgr := newMgr()
			var cache manager.Cache
			if err := mgr.Set(&cache, scope, args[0], args[1]); err != nil {
				return err
			}
			return print(*jsonOutput, map[string]string{
				"key":   args[0],
				"scope": string(scope),
			}, fmt.Sprintf("set %s in %s config", args[0], scope))
		},
	}
	cmd.Flags().StringVar(&scopeName, "scope", "global", "target layer: global|project")
	return cmd
}

func newUnsetCmd(newMgr func() *manager.Manager, jsonOutput *bool) *cobra.Command {
	var scopeName string
	cmd := &cobra.Command{
		Use:     "unset <key-path>",
		Aliases: []string{"remove", "rm"},
		Short:   "Remove an entry or section by dot-path",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := parseScope(scopeName)
			if err != nil {
				return err
			}
			mgr := newMgr()
			var cache manager.Cache
			if err := mgr.Unset(&cache, scope, args[0]); err != nil {
				return err
			}
			return print(*jsonOutput, map[string]string{
				"key":   args[0],
				"scope": string(scope),
			}, fmt.Sprintf("removed %s from %s config", args[0], scope))
		},
	}
	cmd.Flags().StringVar(&scopeName, "scope", "global", "target layer: global|project")
	return cmd
}

func newDiffCmd(newMgr func() *manager.Manager, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "diff",
		Short: "Show what the project layer changes over the global one",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := newMgr()
			changes, _, err := mgr.Diff()
			if err != nil {
				return err
			}
			if *jsonOutput {
				return print(true, changes, "")
			}
			if len(changes) == 0 {
				fmt.Println("no project overrides")
				return nil
			}
			for _, ch := range changes {
				switch ch.Kind {
				case manager.ChangeAdded:
					fmt.Printf("+ %s = %s\n", ch.KeyPath, ch.New)
				case manager.ChangeRemoved:
					fmt.Printf("- %s = %s\n", ch.KeyPath, ch.Old)
				default:
					fmt.Printf("~ %s = %s (was %s)\n", ch.KeyPath, ch.New, ch.Old)
				}
			}
			return nil
		},
	}
}

func newValidateCmd(newMgr func() *manager.Manager, jsonOutput *bool) *cobra.Command {
	var scopeName string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration layer",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := newMgr()
			var cache manager.Cache

			var doc document.Document
			var err error
			if scopeName == "" {
				doc, err = mgr.Effective(&cache)
			} else {
				var scope document.Scope
				scope, err = parseScope(scopeName)
				if err == nil {
					doc, _, err = mgr.Layer(scope)
				}
			}
			if err != nil {
				return err
			}
			if err := validate.All(doc); err != nil {
				// Distinguish an invalid document from operational
				// failures for scripted callers.
				return &exitError{code: 2, msg: err.Error()}
			}
			return print(*jsonOutput, map[string]string{"status": "valid"}, "configuration is valid")
		},
	}
	cmd.Flags().StringVar(&scopeName, "scope", "", "layer to check: global|project (default effective)")
	return cmd
}

func newBackupCmd(newMgr func() *manager.Manager, jsonOutput *bool) *cobra.Command {
	var scopeName string

	backupCmd := &cobra.Command{Use: "backup", Aliases: []string{"backups", "bak"}, Short: "Manage config snapshots"}
	backupCmd.PersistentFlags().StringVar(&scopeName, "scope", "global", "target layer: global|project")

	listCmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List snapshots, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := parseScope(scopeName)
			if err != nil {
				return err
			}
			records, err := newMgr().ListBackups(scope)
			if err != nil {
				return err
			}
			if *jsonOutput {
				return print(true, records, "")
			}
			if len(records) == 0 {
				fmt.Println("no snapshots")
				return nil
			}
			for i, rec := range records {
				fmt.Printf("%d: %s (%d bytes)\n", i, filepath.Base(rec.Path), rec.Size)
			}
			return nil
		},
	}

	restoreCmd := &cobra.Command{
		Use:   "restore <index-or-name>",
		Short: "Restore a snapshot over the layer's config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := parseScope(scopeName)
			if err != nil {
				return err
			}
			mgr := newMgr()
			records, err := mgr.ListBackups(scope)
			if err != nil {
				return err
			}
			rec, err := pickRecord(records, args[0])
			if err != nil {
				return err
			}
			var cache manager.Cache
			if err := mgr.RestoreBackup(&cache, scope, rec); err != nil {
				return err
			}
			return print(*jsonOutput, rec, "restored "+filepath.Base(rec.Path))
		},
	}

	cleanupCmd := &cobra.Command{
		Use:     "cleanup",
		Aliases: []string{"prune"},
		Short:   "Delete snapshots beyond the retention limit",
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := parseScope(scopeName)
			if err != nil {
				return err
			}
			removed, err := newMgr().CleanupBackups(scope, 0)
			if err != nil {
				return err
			}
			return print(*jsonOutput, map[string]int{"removed": removed}, fmt.Sprintf("removed %d snapshots", removed))
		},
	}

	backupCmd.AddCommand(listCmd, restoreCmd, cleanupCmd)
	return backupCmd
}

func newSearchCmd(newMgr func() *manager.Manager, jsonOutput *bool) *cobra.Command {
	var keysOnly bool
	var valuesOnly bool
	var caseSensitive bool
	cmd := &cobra.Command{
		Use:     "search <query>",
		Aliases: []string{"find"},
		Short:   "Search keys and values across layers",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := newMgr()
			var layers []search.Layer
			for _, scope := range []document.Scope{document.ScopeGlobal, document.ScopeProject} {
				doc, path, err := mgr.Layer(scope)
				if err != nil {
					return err
				}
				if scope == document.ScopeProject && !mgr.HasProject() {
					continue
				}
				layers = append(layers, search.Layer{Doc: doc, Scope: scope, ConfigPath: path})
			}
			results, err := search.Run(layers, args[0], search.Options{
				Keys:          keysOnly,
				Values:        valuesOnly,
				CaseSensitive: caseSensitive,
			})
			if err != nil {
				return err
			}
			if *jsonOutput {
				return print(true, results, "")
			}
			if len(results) == 0 {
				fmt.Println("no matches")
				return nil
			}
			for _, r := range results {
				fmt.Printf("- [%s] %s = %s (%s)\n", r.Scope, r.KeyPath, r.Value, r.Type)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&keysOnly, "keys", false, "match key-paths only")
	cmd.Flags().BoolVar(&valuesOnly, "values", false, "match values only")
	cmd.Flags().BoolVar(&caseSensitive, "case-sensitive", false, "match case exactly")
	return cmd
}

func newExportCmd(newMgr func() *manager.Manager, jsonOutput *bool) *cobra.Command {
	var scopeName string
	var formatName string
	cmd := &cobra.Command{
		Use:   "export <file>",
		Short: "Write a layer or the effective config to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := newMgr()
			var cache manager.Cache

			var doc document.Document
			var err error
			if scopeName == "" {
				doc, err = mgr.Effective(&cache)
			} else {
				var scope document.Scope
				scope, err = parseScope(scopeName)
				if err == nil {
					doc, _, err = mgr.Layer(scope)
				}
			}
			if err != nil {
				return err
			}

			format := export.FormatForPath(args[0])
			if formatName != "" {
				format, err = export.ParseFormat(formatName)
				if err != nil {
					return err
				}
			}
			blob, err := export.Encode(doc, format)
			if err != nil {
				return err
			}
			if err := os.WriteFile(args[0], blob, 0o644); err != nil {
				return err
			}
			return print(*jsonOutput, map[string]string{
				"file":   args[0],
				"format": string(format),
			}, fmt.Sprintf("exported %s config to %s", orEffective(scopeName), args[0]))
		},
	}
	cmd.Flags().StringVar(&scopeName, "scope", "", "layer to export: global|project (default effective)")
	cmd.Flags().StringVar(&formatName, "format", "", "output format: json|toml (default from extension)")
	return cmd
}

func newImportCmd(newMgr func() *manager.Manager, jsonOutput *bool) *cobra.Command {
	var scopeName string
	var formatName string
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Replace a layer with an exported file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := parseScope(scopeName)
			if err != nil {
				return err
			}
			blob, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			format := export.FormatForPath(args[0])
			if formatName != "" {
				format, err = export.ParseFormat(formatName)
				if err != nil {
					return err
				}
			}
			doc, err := export.Decode(blob, format)
			if err != nil {
				return err
			}
			var cache manager.Cache
			if err := newMgr().WriteScope(&cache, scope, doc); err != nil {
				return err
			}
			return print(*jsonOutput, map[string]string{
				"file":  args[0],
				"scope": string(scope),
			}, fmt.Sprintf("imported %s into %s config", args[0], scope))
		},
	}
	cmd.Flags().StringVar(&scopeName, "scope", "global", "target layer: global|project")
	cmd.Flags().StringVar(&formatName, "format", "", "input format: json|toml (default from extension)")
	return cmd
}

func newProjectsCmd(jsonOutput *bool) *cobra.Command {
	var maxDepth int
	cmd := &cobra.Command{
		Use:   "projects [dir]",
		Short: "List configured projects under a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) == 1 {
				root = args[0]
			}
			found, err := project.Scan(paths.ExpandPath(root), maxDepth)
			if err != nil {
				return err
			}
			if *jsonOutput {
				return print(true, found, "")
			}
			if len(found) == 0 {
				fmt.Println("no configured projects")
				return nil
			}
			for _, p := range found {
				marker := " "
				if p.HasConfig {
					marker = "*"
				}
				fmt.Printf("%s %s (%s)\n", marker, p.Name, p.Root)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&maxDepth, "max-depth", 0, "directory depth limit")
	return cmd
}

func newPathsCmd(newMgr func() *manager.Manager, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Show resolved config locations",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := newMgr()
			info := map[string]string{
				"global":  mgr.GlobalPath(),
				"project": mgr.ProjectPath(),
				"backups": mgr.Backups().Dir(),
			}
			if *jsonOutput {
				return print(true, info, "")
			}
			fmt.Printf("global:  %s\n", info["global"])
			if info["project"] == "" {
				fmt.Println("project: (none)")
			} else {
				fmt.Printf("project: %s\n", info["project"])
			}
			fmt.Printf("backups: %s\n", info["backups"])
			return nil
		},
	}
}

func parseScope(name string) (document.Scope, error) {
	switch name {
	case "global", "":
		return document.ScopeGlobal, nil
	case "project":
		return document.ScopeProject, nil
	default:
		return "", fmt.Errorf("MGR_SCOPE: unknown scope %q; use global or project", name)
	}
}

func pickRecord(records []backup.Record, arg string) (backup.Record, error) {
	if idx, err := strconv.Atoi(arg); err == nil {
		if idx < 0 || idx >= len(records) {
			return backup.Record{}, fmt.Errorf("BAK_PICK: index %d out of range (%d snapshots)", idx, len(records))
		}
		return records[idx], nil
	}
	for _, rec := range records {
		if filepath.Base(rec.Path) == arg {
			return rec, nil
		}
	}
	return backup.Record{}, fmt.Errorf("BAK_PICK: no snapshot named %q", arg)
}

func orEffective(scopeName string) string {
	if scopeName == "" {
		return "effective"
	}
	return scopeName
}

func sortedStringKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func print(jsonOutput bool, payload any, message string) error {
	if jsonOutput {
		blob, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(blob))
		return nil
	}
	if message != "" {
		fmt.Println(message)
	}
	return nil
}
