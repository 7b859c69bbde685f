// Package sop runs standard operating procedures: ordered steps loaded from
// YAML, executed one at a time, pausing at approval gates, with every state
// change written to an audit log.
package sop

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Built-in step actions
const (
	ActionNoop    = "noop"
	ActionSleep   = "sleep"
	ActionHTTPGet = "http_get"
)

// DefaultStepTimeout bounds a step that does not set its own timeout.
const DefaultStepTimeout = 5 * time.Minute

var (
	knownActions = map[string]bool{ActionNoop: true, ActionSleep: true, ActionHTTPGet: true}
	stepIDRe     = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)
)

// Input declares a named value supplied when a run starts.
type Input struct {
	Name        string `yaml:"name" json:"name" jsonschema:"description=Input name referenced as {{ .Inputs.name }}"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Required    bool   `yaml:"required,omitempty" json:"required,omitempty"`
	Default     string `yaml:"default,omitempty" json:"default,omitempty"`
}

// Step is one unit of work in a procedure. Exactly one of Run and Action is set.
type Step struct {
	ID               string         `yaml:"id" json:"id" jsonschema:"description=Unique step identifier made of lowercase letters and digits and - or _"`
	Name             string         `yaml:"name,omitempty" json:"name,omitempty"`
	Run              string         `yaml:"run,omitempty" json:"run,omitempty" jsonschema:"description=Shell command; Go template with .Inputs"`
	Action           string         `yaml:"action,omitempty" json:"action,omitempty" jsonschema:"enum=noop,enum=sleep,enum=http_get"`
	With             map[string]any `yaml:"with,omitempty" json:"with,omitempty" jsonschema:"description=Action parameters"`
	RequiresApproval bool           `yaml:"requires_approval,omitempty" json:"requires_approval,omitempty"`
	Timeout          string         `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"description=Go duration such as 30s or 5m"`
	AllowRisky       bool           `yaml:"allow_risky,omitempty" json:"allow_risky,omitempty" jsonschema:"description=Permit commands rated critical (they are still gated)"`
}

// DisplayName returns the step name, falling back to its id.
func (s Step) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

// TimeoutDuration parses Timeout, defaulting to DefaultStepTimeout.
func (s Step) TimeoutDuration() time.Duration {
	if s.Timeout == "" {
		return DefaultStepTimeout
	}
	d, err := time.ParseDuration(s.Timeout)
	if err != nil || d <= 0 {
		return DefaultStepTimeout
	}
	return d
}

// Definition is a procedure as written in a YAML file.
type Definition struct {
	Name        string  `yaml:"name" json:"name" jsonschema:"description=Procedure name"`
	Version     string  `yaml:"version,omitempty" json:"version,omitempty"`
	Description string  `yaml:"description,omitempty" json:"description,omitempty"`
	Inputs      []Input `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	Steps       []Step  `yaml:"steps" json:"steps"`

	Path string `yaml:"-" json:"-"`
}

// Validate reports every problem with the definition at once.
func (d *Definition) Validate() error {
	var result *multierror.Error

	if strings.TrimSpace(d.Name) == "" {
		result = multierror.Append(result, errors.New("name is required"))
	}
	if len(d.Steps) == 0 {
		result = multierror.Append(result, errors.New("at least one step is required"))
	}

	inputs := map[string]bool{}
	for _, in := range d.Inputs {
		if in.Name == "" {
			result = multierror.Append(result, errors.New("input without a name"))
			continue
		}
		if inputs[in.Name] {
			result = multierror.Append(result, errors.Errorf("duplicate input %q", in.Name))
		}
		inputs[in.Name] = true
	}

	seen := map[string]bool{}
	for i, step := range d.Steps {
		label := fmt.Sprintf("step %d", i+1)
		if step.ID != "" {
			label = fmt.Sprintf("step %q", step.ID)
		}

		switch {
		case step.ID == "":
			result = multierror.Append(result, errors.Errorf("%s: id is required", label))
		case !stepIDRe.MatchString(step.ID):
			result = multierror.Append(result, errors.Errorf("%s: id must match %s", label, stepIDRe.String()))
		case seen[step.ID]:
			result = multierror.Append(result, errors.Errorf("%s: duplicate id", label))
		}
		seen[step.ID] = true

		switch {
		case step.Run == "" && step.Action == "":
			result = multierror.Append(result, errors.Errorf("%s: one of run or action is required", label))
		case step.Run != "" && step.Action != "":
			result = multierror.Append(result, errors.Errorf("%s: run and action are mutually exclusive", label))
		case step.Action != "" && !knownActions[step.Action]:
			result = multierror.Append(result, errors.Errorf("%s: unknown action %q", label, step.Action))
		}

		if step.Run != "" {
			if _, err := template.New(step.ID).Option("missingkey=error").Parse(step.Run); err != nil {
				result = multierror.Append(result, errors.Wrapf(err, "%s: invalid template", label))
			}
		}

		if step.Timeout != "" {
			if dur, err := time.ParseDuration(step.Timeout); err != nil || dur <= 0 {
				result = multierror.Append(result, errors.Errorf("%s: invalid timeout %q", label, step.Timeout))
			}
		}
	}

	return result.ErrorOrNil()
}

// ResolveInputs applies defaults and checks required and unknown inputs.
func (d *Definition) ResolveInputs(given map[string]string) (map[string]string, error) {
	resolved := make(map[string]string, len(d.Inputs))
	declared := map[string]bool{}
	var result *multierror.Error

	for _, in := range d.Inputs {
		declared[in.Name] = true
		if v, ok := given[in.Name]; ok {
			resolved[in.Name] = v
			continue
		}
		if in.Required {
			result = multierror.Append(result, errors.Errorf("missing required input %q", in.Name))
			continue
		}
		resolved[in.Name] = in.Default
	}

	// undeclared inputs are passed through when the definition declares none
	for k, v := range given {
		if declared[k] {
			continue
		}
		if len(d.Inputs) > 0 {
			result = multierror.Append(result, errors.Errorf("unknown input %q", k))
			continue
		}
		resolved[k] = v
	}

	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return resolved, nil
}

// Render expands a step command template against run inputs.
func Render(command string, inputs map[string]string) (string, error) {
	tmpl, err := template.New("step").Option("missingkey=error").Parse(command)
	if err != nil {
		return "", errors.Wrap(err, "failed to parse command template")
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, map[string]any{"Inputs": inputs}); err != nil {
		return "", errors.Wrap(err, "failed to render command template")
	}
	return buf.String(), nil
}

// ParseDefinition decodes a YAML definition, rejecting unknown fields.
func ParseDefinition(data []byte) (*Definition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var def Definition
	if err := dec.Decode(&def); err != nil {
		return nil, errors.Wrap(err, "failed to parse SOP definition")
	}
	return &def, nil
}

// LoadDefinition reads a definition file.
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read SOP definition %s", path)
	}
	def, err := ParseDefinition(data)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	def.Path = path
	return def, nil
}

// LoadDefinitions reads every *.yaml and *.yml file in dir, sorted by name.
// A missing directory yields no definitions.
func LoadDefinitions(dir string) ([]*Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to read SOP directory %s", dir)
	}

	var defs []*Definition
	var result *multierror.Error
	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		def, err := LoadDefinition(filepath.Join(dir, entry.Name()))
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		defs = append(defs, def)
	}

	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs, result.ErrorOrNil()
}

// FindDefinition resolves ref as a file path first, then as a definition
// name inside dir.
func FindDefinition(dir, ref string) (*Definition, error) {
	if _, err := os.Stat(ref); err == nil {
		return LoadDefinition(ref)
	}

	defs, err := LoadDefinitions(dir)
	if err != nil && len(defs) == 0 {
		return nil, err
	}
	for _, def := range defs {
		if def.Name == ref {
			return def, nil
		}
	}
	return nil, errors.Errorf("SOP %q not found in %s", ref, dir)
}

// Schema returns the JSON schema for definition files.
func Schema() ([]byte, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	schema := reflector.Reflect(&Definition{})
	schema.Title = "SOP definition"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal SOP schema")
	}
	return data, nil
}
