// SPDX-License-Identifier: AGPL-3.0-or-later
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/toolup-org/toolup/internal/types"
)

var (
	placeholderRe = regexp.MustCompile(`\{([a-zA-Z0-9_.-]+)\}`)
	inputValidate = validator.New()
)

// runConfig writes a templated configuration file through a strict pipeline:
// fill defaults, validate every input, render placeholders, reject any left
// unresolved, validate the rendered output format, back up the existing file,
// write, chmod/chown, then run the optional post command.
func (x *Executor) runConfig(ctx context.Context, step types.Step, res types.StepResult) types.StepResult {
	spec := step.Config
	if spec == nil {
		res.OK = false
		res.Error = fmt.Sprintf("step %s: missing config spec", step.ID)
		return res
	}

	values := make(map[string]string, len(spec.Values))
	for k, v := range spec.Values {
		values[k] = v
	}
	for _, decl := range spec.Inputs {
		if _, ok := values[decl.Name]; !ok && decl.Default != "" {
			values[decl.Name] = decl.Default
		}
	}

	for _, decl := range spec.Inputs {
		if err := validateInput(decl, values[decl.Name]); err != nil {
			res.OK = false
			res.Error = fmt.Sprintf("step %s: %v", step.ID, err)
			return res
		}
	}

	rendered := placeholderRe.ReplaceAllStringFunc(spec.Template, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		if v, ok := values[name]; ok {
			return v
		}
		return m
	})
	if left := placeholderRe.FindString(rendered); left != "" {
		res.OK = false
		res.Error = fmt.Sprintf("step %s: unresolved placeholder %s", step.ID, left)
		return res
	}

	if err := validateFormat(rendered, spec.Format, spec.JSONSchema); err != nil {
		res.OK = false
		res.Error = fmt.Sprintf("step %s: %v", step.ID, err)
		return res
	}

	if _, err := os.Stat(spec.Path); err == nil {
		backup := spec.Path + ".bak"
		if err := copyFile(spec.Path, backup, 0o600); err != nil {
			res.OK = false
			res.Error = fmt.Sprintf("step %s: backup existing file: %v", step.ID, err)
			return res
		}
	}

	mode := os.FileMode(0o644)
	if spec.Mode != 0 {
		mode = os.FileMode(spec.Mode)
	}
	if err := os.MkdirAll(filepath.Dir(spec.Path), 0o755); err != nil {
		res.OK = false
		res.Error = fmt.Sprintf("step %s: %v", step.ID, err)
		return res
	}
	if err := os.WriteFile(spec.Path, []byte(rendered), mode); err != nil {
		res.OK = false
		res.Error = fmt.Sprintf("step %s: write config: %v", step.ID, err)
		return res
	}

	if spec.Owner != "" && !x.Profile.IsRoot {
		if x.SudoPassword == "" {
			err := &SudoRequiredError{Step: step.ID}
			res.OK = false
			res.NeedsSudo = true
			res.Error = err.Error()
			return res
		}
		own := step
		own.NeedsSudo = true
		out := x.exec(ctx, own, fmt.Sprintf("chown %s %s", spec.Owner, spec.Path))
		if out.Err != nil {
			return x.finish(step, res, out, "")
		}
	} else if spec.Owner != "" {
		out := x.exec(ctx, step, fmt.Sprintf("chown %s %s", spec.Owner, spec.Path))
		if out.Err != nil {
			return x.finish(step, res, out, "")
		}
	}

	if spec.PostCommand != "" {
		out := x.exec(ctx, step, spec.PostCommand)
		if out.Err != nil {
			return x.finish(step, res, out, "")
		}
	}

	res.OK = true
	res.Message = "wrote " + spec.Path
	return res
}

// validateInput checks one value against its declared type, range and
// pattern.
func validateInput(decl types.InputDecl, value string) error {
	if value == "" {
		if decl.Required {
			return fmt.Errorf("input %s is required", decl.Name)
		}
		return nil
	}
	switch decl.Type {
	case "int":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("input %s: %q is not an integer", decl.Name, value)
		}
		var tags []string
		if decl.Min != nil {
			tags = append(tags, fmt.Sprintf("min=%d", *decl.Min))
		}
		if decl.Max != nil {
			tags = append(tags, fmt.Sprintf("max=%d", *decl.Max))
		}
		if len(tags) > 0 {
			if err := inputValidate.Var(n, strings.Join(tags, ",")); err != nil {
				return fmt.Errorf("input %s: value %d out of range", decl.Name, n)
			}
		}
	case "bool":
		if _, err := strconv.ParseBool(value); err != nil {
			return fmt.Errorf("input %s: %q is not a boolean", decl.Name, value)
		}
	case "path":
		if err := inputValidate.Var(value, "filepath"); err != nil {
			return fmt.Errorf("input %s: %q is not a valid path", decl.Name, value)
		}
	case "string", "password", "":
		var tags []string
		if decl.Min != nil {
			tags = append(tags, fmt.Sprintf("min=%d", *decl.Min))
		}
		if decl.Max != nil {
			tags = append(tags, fmt.Sprintf("max=%d", *decl.Max))
		}
		if len(tags) > 0 {
			if err := inputValidate.Var(value, strings.Join(tags, ",")); err != nil {
				return fmt.Errorf("input %s: length out of range", decl.Name)
			}
		}
	default:
		return fmt.Errorf("input %s: unknown type %q", decl.Name, decl.Type)
	}
	if decl.Pattern != "" {
		re, err := regexp.Compile(decl.Pattern)
		if err != nil {
			return fmt.Errorf("input %s: invalid pattern: %w", decl.Name, err)
		}
		if !re.MatchString(value) {
			return fmt.Errorf("input %s: value does not match %s", decl.Name, decl.Pattern)
		}
	}
	return nil
}

// validateFormat checks the rendered output parses as its declared format,
// plus an optional JSON schema for JSON documents.
func validateFormat(rendered, format, schemaSrc string) error {
	switch format {
	case "":
		return nil
	case "json":
		var doc any
		if err := json.Unmarshal([]byte(rendered), &doc); err != nil {
			return fmt.Errorf("rendered output is not valid JSON: %w", err)
		}
		if schemaSrc != "" {
			sch, err := compileSchema(schemaSrc)
			if err != nil {
				return err
			}
			if err := sch.Validate(doc); err != nil {
				return fmt.Errorf("rendered output rejected by schema: %w", err)
			}
		}
		return nil
	case "yaml":
		var doc any
		if err := yaml.Unmarshal([]byte(rendered), &doc); err != nil {
			return fmt.Errorf("rendered output is not valid YAML: %w", err)
		}
		return nil
	case "ini":
		return validateINI(rendered)
	default:
		return fmt.Errorf("unknown config format %q", format)
	}
}

func compileSchema(src string) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("invalid JSON schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("config.schema.json", doc); err != nil {
		return nil, fmt.Errorf("invalid JSON schema: %w", err)
	}
	sch, err := compiler.Compile("config.schema.json")
	if err != nil {
		return nil, fmt.Errorf("invalid JSON schema: %w", err)
	}
	return sch, nil
}

func validateINI(rendered string) error {
	for i, line := range strings.Split(rendered, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, ";") {
			continue
		}
		if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
			continue
		}
		if !strings.Contains(trimmed, "=") {
			return fmt.Errorf("rendered output is not valid INI: line %d has no key=value", i+1)
		}
	}
	return nil
}
