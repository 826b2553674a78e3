package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/roach88/synclone/internal/replay"
	"github.com/roach88/synclone/internal/store"
)

// Scenario defines one clone, pull and sync round trip.
//
// Origin steps run before the clone. Remote steps run on the clone and are
// what gets pulled; Concurrent steps run on the origin after the clone, so
// they are what the pulled changes can conflict with.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Schema is an optional CUE schema file, relative to the scenario file.
	// Empty uses the built-in schema.
	Schema string `yaml:"schema,omitempty"`

	Origin     []Step `yaml:"origin,omitempty"`
	Remote     []Step `yaml:"remote"`
	Concurrent []Step `yaml:"concurrent,omitempty"`

	// Edits are applied to staged changes before the sync.
	Edits []Edit `yaml:"edits,omitempty"`

	// Remove lists staged change ids to drop before the sync.
	Remove []int64 `yaml:"remove,omitempty"`

	// Resolver scripts the answers to conflicts.
	Resolver ResolverScript `yaml:"resolver,omitempty"`

	// Assertions validate the trace and the final origin state.
	Assertions []Assertion `yaml:"assertions"`

	// Session is an optional fixed session id. If empty, defaults to
	// "session-default" for deterministic golden file comparison.
	Session string `yaml:"session,omitempty"`
}

// Step is one recorded change: op is insert, update or delete.
type Step struct {
	Op     string         `yaml:"op"`
	Table  string         `yaml:"table"`
	ID     int64          `yaml:"id,omitempty"`
	User   string         `yaml:"user,omitempty"`
	Values map[string]any `yaml:"values,omitempty"`
}

// Edit rewrites values of a staged change, as typed by a user.
type Edit struct {
	Staged int64             `yaml:"staged"`
	Values map[string]string `yaml:"values"`
}

// ResolverScript answers conflicts in order, repeating the last decision.
type ResolverScript struct {
	Decisions []string `yaml:"decisions,omitempty"`
	// Resolve holds the COLUMN: VALUE edits applied on a resolve decision.
	Resolve map[string]string `yaml:"resolve,omitempty"`
	Abort   bool              `yaml:"abort,omitempty"`
	Reclone bool              `yaml:"reclone,omitempty"`
}

// Assertion validates the trace or the final origin state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "row_outcome": a row of Table with RemoteID ended with Outcome
	// - "outcome_count": exactly Count rows ended with Outcome
	// - "id_map": RemoteID of Table maps to Local, or is Skipped
	// - "row_count": Table holds exactly Count rows
	// - "final_state": the single row of Table matching Where has Expect
	Type string `yaml:"type"`

	Table     string         `yaml:"table,omitempty"`
	RemoteID  int64          `yaml:"remote_id,omitempty"`
	Operation string         `yaml:"operation,omitempty"`
	Outcome   string         `yaml:"outcome,omitempty"`
	Count     int            `yaml:"count,omitempty"`
	Local     int64          `yaml:"local,omitempty"`
	Skipped   bool           `yaml:"skipped,omitempty"`
	Where     map[string]any `yaml:"where,omitempty"`
	Expect    map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertRowOutcome   = "row_outcome"
	AssertOutcomeCount = "outcome_count"
	AssertIDMap        = "id_map"
	AssertRowCount     = "row_count"
	AssertFinalState   = "final_state"
)

// LoadScenario reads and parses a scenario YAML file. The schema path is
// resolved relative to the file. Returns an error if the file doesn't exist,
// is malformed, contains unknown fields (typos), or is missing required
// fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Schema != "" && !filepath.IsAbs(scenario.Schema) {
		scenario.Schema = filepath.Join(filepath.Dir(path), scenario.Schema)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// ScenarioFiles returns the *.yaml files in dir, sorted.
func ScenarioFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Schema != "" {
		if _, err := os.Stat(s.Schema); os.IsNotExist(err) {
			return fmt.Errorf("schema file not found: %s", s.Schema)
		}
	}

	if len(s.Remote) == 0 {
		return fmt.Errorf("remote list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for name, steps := range map[string][]Step{"origin": s.Origin, "remote": s.Remote, "concurrent": s.Concurrent} {
		for i, step := range steps {
			if err := validateStep(step); err != nil {
				return fmt.Errorf("%s[%d]: %w", name, i, err)
			}
		}
	}

	for i, e := range s.Edits {
		if e.Staged < 1 {
			return fmt.Errorf("edits[%d]: staged id is required", i)
		}
		if len(e.Values) == 0 {
			return fmt.Errorf("edits[%d]: values are required", i)
		}
	}

	for i, d := range s.Resolver.Decisions {
		if _, err := replay.ParseDecision(d); err != nil {
			return fmt.Errorf("resolver.decisions[%d]: %w", i, err)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(step Step) error {
	if step.Table == "" {
		return fmt.Errorf("table is required")
	}
	switch op := store.Operation(step.Op); op {
	case store.OpInsert:
		if step.ID != 0 {
			return fmt.Errorf("insert takes no id")
		}
	case store.OpUpdate, store.OpDelete:
		if step.ID < 1 {
			return fmt.Errorf("%s requires an id", op)
		}
	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
	if step.Op == string(store.OpUpdate) && len(step.Values) == 0 {
		return fmt.Errorf("update requires values")
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertRowOutcome:
		if a.Table == "" || a.RemoteID == 0 || a.Outcome == "" {
			return fmt.Errorf("assertions[%d]: table, remote_id and outcome are required for row_outcome", index)
		}
	case AssertOutcomeCount:
		if a.Outcome == "" {
			return fmt.Errorf("assertions[%d]: outcome is required for outcome_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for outcome_count", index)
		}
	case AssertIDMap:
		if a.Table == "" || a.RemoteID == 0 {
			return fmt.Errorf("assertions[%d]: table and remote_id are required for id_map", index)
		}
		if (a.Local == 0) == !a.Skipped {
			return fmt.Errorf("assertions[%d]: exactly one of local and skipped is required for id_map", index)
		}
	case AssertRowCount:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for row_count", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
