// Package target turns a configured VM selection policy into the concrete,
// ordered list of VMs a job runs against.
package target

import (
	"errors"
	"fmt"
	"strings"

	"github.com/IGLOU-EU/go-wildcard/v2"
	"gopkg.in/yaml.v3"

	errs "github.com/jbweber/vmkeep/internal/errors"
)

// Mode is the kind of selection.
type Mode int

const (
	// None selects nothing. It is the zero value so an omitted selection
	// is inert.
	None Mode = iota
	// All selects every VM in the inventory.
	All
	// Explicit selects the named VMs, in the order given.
	Explicit
)

const (
	keywordAll  = "ALL"
	keywordNone = "NONE"
)

// ErrUnknownVM is wrapped by the error returned when an explicit selection
// names a VM missing from the inventory.
var ErrUnknownVM = errors.New("unknown VM")

func (m Mode) String() string {
	switch m {
	case All:
		return "all"
	case Explicit:
		return "explicit"
	default:
		return "none"
	}
}

// Policy is a VM selection.
type Policy struct {
	Mode  Mode
	Names []string
}

// ParsePolicy parses "ALL", "NONE", or a comma-separated list of VM names.
// VM names may contain spaces, so only commas separate entries. An empty
// string selects nothing.
func ParsePolicy(raw string) (Policy, error) {
	value := strings.TrimSpace(raw)
	switch value {
	case "", keywordNone:
		return Policy{Mode: None}, nil
	case keywordAll:
		return Policy{Mode: All}, nil
	}

	var names []string
	for _, part := range strings.Split(value, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return Policy{}, errs.Configuration("parse_selection", raw, errors.New("no VM names given"))
	}
	return Policy{Mode: Explicit, Names: names}, nil
}

// UnmarshalYAML accepts either a scalar ("ALL", "NONE", "a, b") or a
// sequence of VM names.
func (p *Policy) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		parsed, err := ParsePolicy(value.Value)
		if err != nil {
			return err
		}
		*p = parsed
		return nil
	case yaml.SequenceNode:
		var names []string
		if err := value.Decode(&names); err != nil {
			return fmt.Errorf("failed to decode VM list: %w", err)
		}
		if len(names) == 0 {
			*p = Policy{Mode: None}
			return nil
		}
		*p = Policy{Mode: Explicit, Names: names}
		return nil
	default:
		return fmt.Errorf("line %d: VM selection must be a string or a list of names", value.Line)
	}
}

// MarshalYAML renders the policy in the form ParsePolicy reads.
func (p Policy) MarshalYAML() (interface{}, error) {
	return p.String(), nil
}

func (p Policy) String() string {
	switch p.Mode {
	case All:
		return keywordAll
	case Explicit:
		return strings.Join(p.Names, ",")
	default:
		return keywordNone
	}
}

// Resolve returns the VMs selected by p from inventory.
//
// All returns the inventory in its reported order. Explicit returns the
// requested names in the requested order, duplicates included, and fails
// with a configuration error naming every requested VM that is not in the
// inventory.
func Resolve(p Policy, inventory []string) ([]string, error) {
	switch p.Mode {
	case None:
		return []string{}, nil
	case All:
		return append([]string{}, inventory...), nil
	case Explicit:
		known := make(map[string]struct{}, len(inventory))
		for _, name := range inventory {
			known[name] = struct{}{}
		}

		var unknown []string
		for _, name := range p.Names {
			if _, ok := known[name]; !ok {
				unknown = append(unknown, name)
			}
		}
		if len(unknown) > 0 {
			return nil, errs.Configuration("resolve_targets", strings.Join(unknown, ", "), ErrUnknownVM)
		}
		return append([]string{}, p.Names...), nil
	default:
		return nil, errs.Configuration("resolve_targets", "", fmt.Errorf("invalid selection mode %d", p.Mode))
	}
}

// Filter drops VMs matching any exclude pattern. Patterns use go-wildcard
// syntax: '*' matches any run of characters.
type Filter struct {
	Exclude []string
}

// Apply splits names into kept and excluded, preserving order.
func (f Filter) Apply(names []string) (kept, excluded []string) {
	kept = []string{}
	for _, name := range names {
		if f.excludes(name) {
			excluded = append(excluded, name)
			continue
		}
		kept = append(kept, name)
	}
	return kept, excluded
}

func (f Filter) excludes(name string) bool {
	for _, pattern := range f.Exclude {
		if wildcard.Match(pattern, name) {
			return true
		}
	}
	return false
}

// Selection is a policy plus the exclusions applied to All.
type Selection struct {
	Policy  Policy
	Exclude []string
}

// Resolution is the outcome of resolving a Selection.
type Resolution struct {
	Names    []string
	Excluded []string
}

// Resolve resolves the selection against inventory. Exclusions apply to
// All only; a VM named explicitly is always processed.
func (s Selection) Resolve(inventory []string) (Resolution, error) {
	names, err := Resolve(s.Policy, inventory)
	if err != nil {
		return Resolution{}, err
	}
	if s.Policy.Mode != All || len(s.Exclude) == 0 {
		return Resolution{Names: names}, nil
	}
	kept, excluded := Filter{Exclude: s.Exclude}.Apply(names)
	return Resolution{Names: kept, Excluded: excluded}, nil
}
