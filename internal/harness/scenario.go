package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/nbkernel/internal/queue"
	"github.com/roach88/nbkernel/internal/session"
)

// Scenario is a sequence of log events and assertions over the folded
// result.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// HeartbeatTimeout overrides session.DefaultTimeout.
	HeartbeatTimeout string `yaml:"heartbeat_timeout,omitempty"`

	// Now is the evaluation time for time-based assertions, as an offset
	// from the scenario epoch.
	Now string `yaml:"now,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`

	timeout time.Duration
	now     time.Duration
	hasNow  bool
}

// Step appends one event.
type Step struct {
	Event string `yaml:"event"`

	// ID fixes the event id, for duplicate-delivery scenarios. Generated
	// when empty.
	ID string `yaml:"id,omitempty"`

	// At moves the scenario clock to this offset before appending. Offsets
	// must not decrease.
	At string `yaml:"at,omitempty"`

	Origin  string         `yaml:"origin,omitempty"`
	Payload map[string]any `yaml:"payload"`

	// Expect is "applied" or "rejected". Unchecked when empty.
	Expect string `yaml:"expect,omitempty"`

	at    time.Duration
	hasAt bool
}

// Assertion checks one property of the final state.
type Assertion struct {
	Type    string         `yaml:"type"`
	Entry   string         `yaml:"entry,omitempty"`
	Cell    string         `yaml:"cell,omitempty"`
	Session *string        `yaml:"session,omitempty"`
	Status  string         `yaml:"status,omitempty"`
	Error   string         `yaml:"error,omitempty"`
	Deleted *bool          `yaml:"deleted,omitempty"`
	Texts   []string       `yaml:"texts,omitempty"`
	IDs     []string       `yaml:"ids,omitempty"`
	Counts  map[string]int `yaml:"counts,omitempty"`
}

// Assertion types.
const (
	AssertEntryStatus    = "entry_status"
	AssertEntrySession   = "entry_session"
	AssertEntryError     = "entry_error"
	AssertCellOutputs    = "cell_outputs"
	AssertCellDeleted    = "cell_deleted"
	AssertCellOrder      = "cell_order"
	AssertEligible       = "eligible"
	AssertNextAssignable = "next_assignable"
	AssertOrphans        = "orphans"
	AssertQueueCounts    = "queue_counts"
)

// Step expectations.
const (
	ExpectApplied  = "applied"
	ExpectRejected = "rejected"
)

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	sc, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

// ParseScenario validates data against the scenario schema, then decodes
// it strictly.
func ParseScenario(data []byte) (*Scenario, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateSchema(doc); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	var sc Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&sc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := sc.validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &sc, nil
}

// LoadDir loads every *.yaml and *.yml scenario in dir, sorted by file name.
func LoadDir(dir string) ([]string, []*Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("read scenario dir: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".yaml", ".yml":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		sc, err := LoadScenario(p)
		if err != nil {
			return nil, nil, err
		}
		scenarios = append(scenarios, sc)
	}
	return paths, scenarios, nil
}

// validate covers what the schema cannot express: durations, monotonic
// step times and per-type assertion fields.
func (s *Scenario) validate() error {
	s.timeout = session.DefaultTimeout
	if s.HeartbeatTimeout != "" {
		d, err := time.ParseDuration(s.HeartbeatTimeout)
		if err != nil || d <= 0 {
			return fmt.Errorf("heartbeat_timeout: invalid duration %q", s.HeartbeatTimeout)
		}
		s.timeout = d
	}
	if s.Now != "" {
		d, err := time.ParseDuration(s.Now)
		if err != nil {
			return fmt.Errorf("now: invalid duration %q", s.Now)
		}
		s.now, s.hasNow = d, true
	}

	var last time.Duration
	for i := range s.Steps {
		step := &s.Steps[i]
		if step.Payload == nil {
			step.Payload = map[string]any{}
		}
		if step.At == "" {
			continue
		}
		d, err := time.ParseDuration(step.At)
		if err != nil {
			return fmt.Errorf("steps[%d].at: invalid duration %q", i, step.At)
		}
		if d < last {
			return fmt.Errorf("steps[%d].at: %s is before the previous step (%s)", i, d, last)
		}
		step.at, step.hasAt = d, true
		last = d
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateAssertion(a Assertion) error {
	need := func(field, value string) error {
		if value == "" {
			return fmt.Errorf("%s is required for %s", field, a.Type)
		}
		return nil
	}

	switch a.Type {
	case AssertEntryStatus:
		if err := need("entry", a.Entry); err != nil {
			return err
		}
		if err := need("status", a.Status); err != nil {
			return err
		}
		if !validEntryStatus(a.Status) {
			return fmt.Errorf("unknown entry status %q", a.Status)
		}
	case AssertEntrySession:
		if err := need("entry", a.Entry); err != nil {
			return err
		}
		if a.Session == nil {
			return fmt.Errorf("session is required for %s", a.Type)
		}
	case AssertEntryError:
		if err := need("entry", a.Entry); err != nil {
			return err
		}
		return need("error", a.Error)
	case AssertCellOutputs:
		return need("cell", a.Cell)
	case AssertCellDeleted:
		if err := need("cell", a.Cell); err != nil {
			return err
		}
		if a.Deleted == nil {
			return fmt.Errorf("deleted is required for %s", a.Type)
		}
	case AssertEligible:
		if a.Session == nil {
			return fmt.Errorf("session is required for %s (use \"\" for none)", a.Type)
		}
	case AssertNextAssignable:
		if a.Session == nil || *a.Session == "" {
			return fmt.Errorf("session is required for %s", a.Type)
		}
	case AssertCellOrder, AssertOrphans:
	case AssertQueueCounts:
		if len(a.Counts) == 0 {
			return fmt.Errorf("counts is required for %s", a.Type)
		}
		for status := range a.Counts {
			if !validEntryStatus(status) {
				return fmt.Errorf("unknown entry status %q", status)
			}
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

func validEntryStatus(s string) bool {
	switch queue.Status(s) {
	case queue.StatusPending, queue.StatusAssigned, queue.StatusExecuting, queue.StatusCompleted, queue.StatusFailed:
		return true
	}
	return false
}
