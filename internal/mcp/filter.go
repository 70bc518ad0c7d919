package mcp

import (
	"fmt"
	"strings"
)

// Mode selects how a SelectionPolicy narrows a catalog.
type Mode string

// Selection modes.
const (
	ModeAll      Mode = "all"
	ModeSelected Mode = "selected"
	ModeExcept   Mode = "except"
)

// ParseMode converts a configuration string to a Mode. The empty string
// selects ModeAll.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeAll:
		return ModeAll, nil
	case ModeSelected:
		return ModeSelected, nil
	case ModeExcept:
		return ModeExcept, nil
	default:
		return "", fmt.Errorf("unknown tool selection mode %q (valid: all, selected, except)", s)
	}
}

// SelectionPolicy decides which catalog entries are exposed. Include is
// consulted only in ModeSelected and Exclude only in ModeExcept.
type SelectionPolicy struct {
	Mode    Mode
	Include []string
	Exclude []string
}

// Select returns the catalog entries allowed by policy, in catalog order.
// Names in Include that the catalog lacks are ignored. When the catalog
// repeats a name, only the first entry with that name is kept. Select
// never fails and does not modify its inputs.
func Select(catalog []ToolDescriptor, policy SelectionPolicy) []ToolDescriptor {
	include := toSet(policy.Include)
	exclude := toSet(policy.Exclude)

	out := make([]ToolDescriptor, 0, len(catalog))
	seen := make(map[string]bool, len(catalog))
	for _, td := range catalog {
		if seen[td.Name] {
			continue
		}
		seen[td.Name] = true

		switch policy.Mode {
		case ModeSelected:
			if !include[td.Name] {
				continue
			}
		case ModeExcept:
			if exclude[td.Name] {
				continue
			}
		}
		out = append(out, td)
	}
	return out
}

// duplicateNames reports names that appear more than once in catalog,
// in order of their first repeat.
func duplicateNames(catalog []ToolDescriptor) []string {
	count := make(map[string]int, len(catalog))
	var dups []string
	for _, td := range catalog {
		count[td.Name]++
		if count[td.Name] == 2 {
			dups = append(dups, td.Name)
		}
	}
	return dups
}

// Tool-count thresholds above which most agent models degrade.
const (
	// SoftToolLimit: more tools than this works, but selection helps.
	SoftToolLimit = 12

	// HardToolLimit: this many tools or more is likely to break the agent.
	HardToolLimit = 17
)

// Advice is a non-fatal recommendation about the size of a tool set.
type Advice int

const (
	AdviceNone Advice = iota
	AdviceNarrow
	AdviceTooMany
)

// String returns a short name for logs.
func (a Advice) String() string {
	switch a {
	case AdviceNarrow:
		return "narrow"
	case AdviceTooMany:
		return "too_many"
	default:
		return "none"
	}
}

// Advise classifies a filtered tool count against the soft and hard limits.
func Advise(count int) Advice {
	switch {
	case count >= HardToolLimit:
		return AdviceTooMany
	case count > SoftToolLimit:
		return AdviceNarrow
	default:
		return AdviceNone
	}
}

// toSet converts a string slice to a set for O(1) lookups.
func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	m := make(map[string]bool, len(items))
	for _, item := range items {
		m[item] = true
	}
	return m
}
