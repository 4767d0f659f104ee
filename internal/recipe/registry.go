// SPDX-License-Identifier: AGPL-3.0-or-later
package recipe

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var knownMethods = map[string]struct{}{
	"apt": {}, "dnf": {}, "pacman": {}, "zypper": {}, "apk": {},
	"brew": {}, "snap": {}, "pip": {}, "cargo": {}, "npm": {},
	"generic": {}, "github_release": {}, "source": {},
}

// Registry serves immutable recipes loaded from a catalog directory. It is
// explicitly scoped to the caller that constructed it; there is no shared
// global table.
type Registry struct {
	recipes map[string]*Recipe
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{recipes: make(map[string]*Recipe)}
}

// LoadDir reads every *.yaml / *.yml file under dir into the registry.
func LoadDir(dir string) (*Registry, error) {
	reg := NewRegistry()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read recipe dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		if err := reg.LoadFile(filepath.Join(dir, name)); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// LoadFile parses one recipe file and adds it to the registry.
func (g *Registry) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open recipe: %w", err)
	}
	defer f.Close()

	var r Recipe
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&r); err != nil {
		return fmt.Errorf("decode recipe %s: %w", filepath.Base(path), err)
	}
	return g.Add(&r)
}

// Add validates the recipe and stores it. Duplicate ids are rejected.
func (g *Registry) Add(r *Recipe) error {
	if err := Validate(r); err != nil {
		return err
	}
	if _, exists := g.recipes[r.ID]; exists {
		return fmt.Errorf("duplicate recipe id %q", r.ID)
	}
	g.recipes[r.ID] = r.Clone()
	return nil
}

// Get returns a deep copy of the recipe, or false when unknown. Handing out
// copies keeps the registry immutable under choice application.
func (g *Registry) Get(id string) (*Recipe, bool) {
	r, ok := g.recipes[id]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

// IDs returns the sorted recipe identifiers.
func (g *Registry) IDs() []string {
	out := make([]string, 0, len(g.recipes))
	for id := range g.recipes {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Validate checks structural invariants before a recipe enters the registry.
func Validate(r *Recipe) error {
	if r == nil {
		return fmt.Errorf("nil recipe")
	}
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("recipe id is required")
	}
	if len(r.Install) == 0 {
		return fmt.Errorf("recipe %s: at least one install method is required", r.ID)
	}
	for method := range r.Install {
		if _, ok := knownMethods[method]; !ok {
			return fmt.Errorf("recipe %s: unknown install method %q", r.ID, method)
		}
	}
	for method := range r.NeedsSudo {
		if _, ok := r.Install[method]; !ok {
			return fmt.Errorf("recipe %s: needs_sudo references unknown method %q", r.ID, method)
		}
	}
	if strings.TrimSpace(r.Verify) == "" {
		return fmt.Errorf("recipe %s: verify command is required", r.ID)
	}
	seenChoice := make(map[string]struct{})
	for _, c := range r.Choices {
		if strings.TrimSpace(c.ID) == "" {
			return fmt.Errorf("recipe %s: choice id is required", r.ID)
		}
		if _, dup := seenChoice[c.ID]; dup {
			return fmt.Errorf("recipe %s: duplicate choice id %q", r.ID, c.ID)
		}
		seenChoice[c.ID] = struct{}{}
		if len(c.Options) == 0 && c.Versions == nil {
			return fmt.Errorf("recipe %s: choice %s has no options", r.ID, c.ID)
		}
		seenOpt := make(map[string]struct{})
		for _, o := range c.Options {
			if strings.TrimSpace(o.ID) == "" {
				return fmt.Errorf("recipe %s: choice %s: option id is required", r.ID, c.ID)
			}
			if _, dup := seenOpt[o.ID]; dup {
				return fmt.Errorf("recipe %s: choice %s: duplicate option id %q", r.ID, c.ID, o.ID)
			}
			seenOpt[o.ID] = struct{}{}
		}
		if c.Default != "" {
			if _, ok := seenOpt[c.Default]; !ok {
				return fmt.Errorf("recipe %s: choice %s: default references unknown option %q", r.ID, c.ID, c.Default)
			}
		}
		if c.Versions != nil {
			switch c.Versions.Mode {
			case "static", "package_manager", "dynamic":
			default:
				return fmt.Errorf("recipe %s: choice %s: unknown version mode %q", r.ID, c.ID, c.Versions.Mode)
			}
			if c.Versions.Mode == "dynamic" && strings.TrimSpace(c.Versions.Repo) == "" {
				return fmt.Errorf("recipe %s: choice %s: dynamic versions require a repo", r.ID, c.ID)
			}
		}
	}
	seenInput := make(map[string]struct{})
	for _, in := range r.Inputs {
		if strings.TrimSpace(in.Name) == "" {
			return fmt.Errorf("recipe %s: input name is required", r.ID)
		}
		if _, dup := seenInput[in.Name]; dup {
			return fmt.Errorf("recipe %s: duplicate input %q", r.ID, in.Name)
		}
		seenInput[in.Name] = struct{}{}
		switch in.Type {
		case "string", "int", "bool", "password", "path":
		default:
			return fmt.Errorf("recipe %s: input %s: unknown type %q", r.ID, in.Name, in.Type)
		}
		if in.Type == "password" && in.Default != "" {
			return fmt.Errorf("recipe %s: input %s: default forbidden for password", r.ID, in.Name)
		}
	}
	return nil
}

// ApplyChoices folds selected options into a copy of the recipe and reports
// whether any selection raised the recipe's risk bucket. The receiver itself
// is never modified.
func ApplyChoices(r *Recipe, selections map[string]string) (*Recipe, []Option, error) {
	out := r.Clone()
	var applied []Option
	for _, c := range out.Choices {
		sel, ok := selections[c.ID]
		if !ok || sel == "" {
			continue
		}
		var found *Option
		for i := range c.Options {
			if c.Options[i].ID == sel {
				found = &c.Options[i]
				break
			}
		}
		if found == nil {
			return nil, nil, fmt.Errorf("choice %s: unknown option %q", c.ID, sel)
		}
		for method, cmd := range found.InstallOverride {
			out.Install[method] = cmd
		}
		if found.Risk != "" && riskRank(found.Risk) > riskRank(out.Risk) {
			out.Risk = found.Risk
		}
		applied = append(applied, *found)
	}
	return out, applied, nil
}

func riskRank(r string) int {
	switch r {
	case "high":
		return 2
	case "medium":
		return 1
	default:
		return 0
	}
}
