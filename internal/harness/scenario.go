package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted sequence of pipeline operations with the
// expectations each step and the final state must meet.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Schema is an optional CUE schema file, relative to the scenario.
	Schema string `yaml:"schema,omitempty"`

	// Store is "memory" (default) or "file". File stores live in a
	// temporary directory and survive "reopen" steps.
	Store string `yaml:"store,omitempty"`

	// Policy is the scratch policy: "per-write" (default) or "shared".
	Policy string `yaml:"policy,omitempty"`

	// Steps run in order. Each step finishes before the next starts,
	// except write_async, whose completion is collected by "await".
	Steps []Step `yaml:"steps"`

	// Assertions are checked once every step has run.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one pipeline operation.
type Step struct {
	// Op is one of the Op* constants.
	Op string `yaml:"op"`

	// Entity selects what a read step reports.
	Entity string `yaml:"entity,omitempty"`

	// Actions are the mutations of a write. On suspend and terminate
	// they form a write that is still in its scratch phase when the
	// signal arrives.
	Actions []Action `yaml:"actions,omitempty"`

	// Expect is checked against the step outcome.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Action is one mutation inside a write closure. Exactly one of Create,
// Put, Update, Delete, DeleteAll and Fail is set.
type Action struct {
	Create    string         `yaml:"create,omitempty"`
	Put       string         `yaml:"put,omitempty"`
	Update    string         `yaml:"update,omitempty"`
	Delete    string         `yaml:"delete,omitempty"`
	DeleteAll string         `yaml:"delete_all,omitempty"`
	Fail      string         `yaml:"fail,omitempty"`
	ID        string         `yaml:"id,omitempty"`
	Fields    map[string]any `yaml:"fields,omitempty"`
}

// Expect is a step expectation.
type Expect struct {
	// Error is the expected faults code; empty means success.
	Error string `yaml:"error,omitempty"`

	// Count is the expected record count of a read.
	Count *int `yaml:"count,omitempty"`

	// IDs are the expected record ids of a read, in id order.
	IDs []string `yaml:"ids,omitempty"`
}

// Assertion validates the final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	Entity string         `yaml:"entity,omitempty"`
	ID     string         `yaml:"id,omitempty"`
	Count  int            `yaml:"count,omitempty"`
	Fields map[string]any `yaml:"fields,omitempty"`
}

// Step operations.
const (
	OpWrite      = "write"
	OpWriteAsync = "write_async"
	OpAwait      = "await"
	OpRead       = "read"
	OpFlush      = "flush"
	OpNuke       = "nuke"
	OpSuspend    = "suspend"
	OpTerminate  = "terminate"
	OpReopen     = "reopen"
)

// Assertion types.
const (
	AssertCount        = "count"
	AssertDurableCount = "durable_count"
	AssertRecord       = "record"
	AssertCommits      = "commits"
	AssertPublished    = "published"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields
// are rejected; the schema path is resolved against the file's
// directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.Schema != "" && !filepath.IsAbs(scenario.Schema) {
		scenario.Schema = filepath.Join(filepath.Dir(path), scenario.Schema)
	}
	if scenario.Schema != "" {
		if _, err := os.Stat(scenario.Schema); err != nil {
			return nil, fmt.Errorf("invalid scenario: schema file not found: %s", scenario.Schema)
		}
	}
	return scenario, nil
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	switch s.Store {
	case "", "memory", "file":
	default:
		return fmt.Errorf("store %q: want memory or file", s.Store)
	}
	switch s.Policy {
	case "", "per-write", "shared":
	default:
		return fmt.Errorf("policy %q: want per-write or shared", s.Policy)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step, s.Store == "file"); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step *Step, durable bool) error {
	switch step.Op {
	case OpWrite, OpWriteAsync:
		if len(step.Actions) == 0 {
			return fmt.Errorf("steps[%d]: actions are required for %s", index, step.Op)
		}
	case OpRead:
		if step.Entity == "" {
			return fmt.Errorf("steps[%d]: entity is required for read", index)
		}
	case OpReopen:
		if !durable {
			return fmt.Errorf("steps[%d]: reopen needs store: file", index)
		}
	case OpAwait, OpFlush, OpNuke, OpSuspend, OpTerminate:
	case "":
		return fmt.Errorf("steps[%d]: op is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", index, step.Op)
	}

	for j, a := range step.Actions {
		if err := validateAction(a); err != nil {
			return fmt.Errorf("steps[%d].actions[%d]: %w", index, j, err)
		}
	}
	return nil
}

func validateAction(a Action) error {
	set := 0
	for _, v := range []string{a.Create, a.Put, a.Update, a.Delete, a.DeleteAll, a.Fail} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("exactly one of create, put, update, delete, delete_all, fail is required")
	}
	if (a.Put != "" || a.Update != "" || a.Delete != "") && a.ID == "" {
		return fmt.Errorf("id is required for put, update and delete")
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertCount, AssertDurableCount:
		if a.Entity == "" {
			return fmt.Errorf("assertions[%d]: entity is required for %s", index, a.Type)
		}
	case AssertRecord:
		if a.Entity == "" || a.ID == "" {
			return fmt.Errorf("assertions[%d]: entity and id are required for record", index)
		}
	case AssertCommits, AssertPublished:
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	if a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", index)
	}
	return nil
}
