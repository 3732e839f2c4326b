package sites

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	EnabledSuffix  = ".conf"
	DisabledSuffix = ".disabled"

	// legacyDisabledSuffix is still read but never written.
	legacyDisabledSuffix = EnabledSuffix + DisabledSuffix
)

// State is the lifecycle state of a unit, derived from its filename suffix.
type State int

const (
	Disabled State = iota
	Enabled
)

func (s State) String() string {
	if s == Enabled {
		return "enabled"
	}
	return "disabled"
}

// Suffix returns the filename suffix written for the state.
func (s State) Suffix() string {
	if s == Enabled {
		return EnabledSuffix
	}
	return DisabledSuffix
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw {
	case "enabled":
		*s = Enabled
	case "disabled":
		*s = Disabled
	default:
		return fmt.Errorf("unknown unit state %q", raw)
	}
	return nil
}

// Unit is one site definition as found on disk.
type Unit struct {
	Identifier   string    `json:"identifier"`
	Path         []string  `json:"path"`
	State        State     `json:"state"`
	LastModified time.Time `json:"last_modified"`
	// File is the on-disk path relative to the unit root, slash separated.
	File string `json:"file"`
}

// Enabled reports whether the unit is currently active.
func (u Unit) Enabled() bool {
	return u.State == Enabled
}

// Revision pairs a unit with its body text.
type Revision struct {
	Unit
	Content string `json:"content"`
}

// classifyName inspects a filename and reports the unit base name it encodes,
// the state, and whether the file uses the canonical naming.
func classifyName(name string) (base string, state State, canonical, ok bool) {
	switch {
	case strings.HasSuffix(name, legacyDisabledSuffix):
		base = strings.TrimSuffix(name, legacyDisabledSuffix)
		state, canonical = Disabled, false
	case strings.HasSuffix(name, DisabledSuffix):
		base = strings.TrimSuffix(name, DisabledSuffix)
		state, canonical = Disabled, true
	case strings.HasSuffix(name, EnabledSuffix):
		base = strings.TrimSuffix(name, EnabledSuffix)
		state, canonical = Enabled, true
	default:
		return "", Disabled, false, false
	}
	if base == "" {
		return "", Disabled, false, false
	}
	return base, state, canonical, true
}

// fileName is the canonical filename for base in state.
func fileName(base string, state State) string {
	return base + state.Suffix()
}

// checkBaseName rejects names that would be misread by classifyName.
func checkBaseName(base string) error {
	if strings.HasSuffix(base, EnabledSuffix) || strings.HasSuffix(base, DisabledSuffix) {
		return fmt.Errorf("%w: name %q ends in a reserved suffix", ErrInvalidIdentifier, base)
	}
	return nil
}

// checkUnitPath applies checkBaseName to every segment. A directory named
// like a unit file would make its parent's unit unreachable.
func checkUnitPath(segments []string) error {
	for _, seg := range segments {
		if err := checkBaseName(seg); err != nil {
			return err
		}
	}
	return nil
}

// rank orders competing files for one identifier: enabled beats disabled, and
// the canonical disabled form beats the legacy one.
func rank(state State, canonical bool) int {
	switch {
	case state == Enabled:
		return 2
	case canonical:
		return 1
	default:
		return 0
	}
}
