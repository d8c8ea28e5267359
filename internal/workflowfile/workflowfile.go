// Package workflowfile models and parses the workflow YAML document: a
// name/description, an optional setup sequence, and either a simple
// "commands" sequence or a "map"/"reduce" mapreduce definition.
package workflowfile

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/corvusmr/prodigy/internal/checkpoint"
)

// Step is one unit of the map/reduce/setup command sequence. Either Shell
// or Claude (an AI-executor call) is populated; both is an error caught by
// Validate.
type Step struct {
	ID             string            `yaml:"id,omitempty"`
	Shell          string            `yaml:"shell,omitempty"`
	Claude         string            `yaml:"claude,omitempty"`
	CommitRequired bool              `yaml:"commit_required,omitempty"`
	OnFailure      *FailureHandler   `yaml:"on_failure,omitempty"`
	Retry          int               `yaml:"retry,omitempty"`
	CaptureOutput  string            `yaml:"capture_output,omitempty"`
}

// FailureHandler is a shell command or claude prompt, invoked when its
// owning Step fails. If it too fails, the step is fatal.
type FailureHandler struct {
	Shell  string `yaml:"shell,omitempty"`
	Claude string `yaml:"claude,omitempty"`
}

// AsStep renders the handler as a Step for reuse by the agent executor.
func (h *FailureHandler) AsStep() Step {
	if h == nil {
		return Step{}
	}
	return Step{Shell: h.Shell, Claude: h.Claude}
}

// IsAI reports whether the step invokes the AI executor rather than a shell
// command.
func (s Step) IsAI() bool { return s.Claude != "" }

// MapSpec is the `map:` section of a mapreduce-mode workflow.
type MapSpec struct {
	Input         string   `yaml:"input"`
	AgentTemplate []Step   `yaml:"agent_template"`
	MaxParallel   int      `yaml:"max_parallel"`
	Filter        string   `yaml:"filter,omitempty"`
	SortBy        string   `yaml:"sort_by,omitempty"`
	JSONPath      string   `yaml:"json_path,omitempty"`
	MaxItems      *int     `yaml:"max_items,omitempty"`
	Offset        int      `yaml:"offset,omitempty"`
	DistinctField string   `yaml:"distinct_field,omitempty"`
	AgentTimeout  string   `yaml:"agent_timeout,omitempty"`
	MaxRetries    int      `yaml:"max_retries,omitempty"`
}

// Definition is the full parsed workflow document.
type Definition struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description,omitempty"`
	Setup       []Step    `yaml:"setup,omitempty"`
	Commands    []Step    `yaml:"commands,omitempty"`
	Map         *MapSpec  `yaml:"map,omitempty"`
	Reduce      []Step    `yaml:"reduce,omitempty"`
}

// IsMapReduce reports whether the document uses mapreduce mode (a `map:`
// section) rather than the simple sequential-`commands:` mode.
func (d *Definition) IsMapReduce() bool { return d.Map != nil }

// Parse decodes workflow YAML bytes into a Definition and validates it.
func Parse(raw []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("workflowfile: parsing yaml: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate checks the structural configuration errors that are fatal,
// no-retry Configuration errors.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return &ConfigError{Field: "name", Message: "must not be empty"}
	}
	if d.Map == nil && len(d.Commands) == 0 {
		return &ConfigError{Field: "commands/map", Message: "workflow must define either commands or map"}
	}
	if d.Map != nil && len(d.Commands) > 0 {
		return &ConfigError{Field: "commands/map", Message: "workflow must not define both commands and map"}
	}
	if d.Map != nil {
		if d.Map.Input == "" {
			return &ConfigError{Field: "map.input", Message: "must not be empty"}
		}
		if len(d.Map.AgentTemplate) == 0 {
			return &ConfigError{Field: "map.agent_template", Message: "must contain at least one step"}
		}
		if d.Map.MaxParallel < 1 {
			d.Map.MaxParallel = 1
		}
	}
	for _, steps := range [][]Step{d.Setup, d.Commands, d.Reduce} {
		for _, s := range steps {
			if err := validateStep(s); err != nil {
				return err
			}
		}
	}
	if d.Map != nil {
		for _, s := range d.Map.AgentTemplate {
			if err := validateStep(s); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateStep(s Step) error {
	if s.Shell == "" && s.Claude == "" {
		return &ConfigError{Field: "step", Message: "must set shell or claude"}
	}
	if s.Shell != "" && s.Claude != "" {
		return &ConfigError{Field: "step", Message: "must not set both shell and claude"}
	}
	return nil
}

// ConfigError reports a fatal workflow configuration problem.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("workflowfile: %s: %s", e.Field, e.Message)
}

// CanonicalJSON renders the definition as a deterministically-keyed JSON
// document suitable for hashing (checkpoint.HashWorkflowDefinition), so two
// byte-identical workflow files always hash identically regardless of map
// key ordering performed by the YAML decoder.
func (d *Definition) CanonicalJSON() ([]byte, error) {
	// encoding/json already sorts map keys; our Definition is an ordered
	// struct so field order is stable by construction.
	return json.Marshal(d)
}

// Phase mirrors the checkpoint package's Phase type for convenience when
// wiring a Definition into the coordinator.
type Phase = checkpoint.Phase
