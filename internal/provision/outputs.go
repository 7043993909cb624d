package provision

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Output is one named infrastructure output. Sensitive values must
// never reach logs or stdout in cleartext.
type Output struct {
	Value     any  `json:"value"`
	Sensitive bool `json:"sensitive"`
}

// Outputs maps symbolic names (cluster identity, endpoints, role
// identifiers) to values produced by a successful apply.
type Outputs map[string]Output

// ParseOutputs decodes the engine's structured output JSON.
func ParseOutputs(data []byte) (Outputs, error) {
	var out Outputs
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parsing outputs: %w", err)
	}
	return out, nil
}

// String returns the named output as a string, failing with
// *OutputNotFoundError when absent.
func (o Outputs) String(name string) (string, error) {
	v, ok := o[name]
	if !ok {
		return "", &OutputNotFoundError{Name: name}
	}
	switch s := v.Value.(type) {
	case string:
		return s, nil
	default:
		return fmt.Sprintf("%v", v.Value), nil
	}
}

// Require checks that every named output is present, reporting the
// first missing one.
func (o Outputs) Require(names ...string) error {
	for _, name := range names {
		if _, ok := o[name]; !ok {
			return &OutputNotFoundError{Name: name}
		}
	}
	return nil
}

// SensitiveValues returns the string forms of all sensitive outputs,
// for registration with the log redactor.
func (o Outputs) SensitiveValues() []string {
	var values []string
	for _, v := range o {
		if !v.Sensitive {
			continue
		}
		if s, ok := v.Value.(string); ok && s != "" {
			values = append(values, s)
		}
	}
	sort.Strings(values)
	return values
}

// Names returns all output names, sorted, for display. Values are
// not included so sensitive outputs cannot leak through listings.
func (o Outputs) Names() []string {
	names := make([]string, 0, len(o))
	for name := range o {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
