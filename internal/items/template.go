package items

import (
	"fmt"
	"strings"
)

// Mode selects how a template key becomes item identifiers.
type Mode string

const (
	ModeTiered Mode = "TIERED" // T{tier}_{KEY} plus @n suffixes
	ModeExact  Mode = "EXACT"  // KEY verbatim
)

// ParseMode normalizes a stored mode string; empty means TIERED.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToUpper(strings.TrimSpace(s))); m {
	case "", ModeTiered:
		return ModeTiered, nil
	case ModeExact:
		return ModeExact, nil
	default:
		return "", fmt.Errorf("unsupported template mode %q", s)
	}
}

// TemplateSpec describes how one base item name expands into concrete identifiers.
type TemplateSpec struct {
	TemplateKey string `json:"template_key"`
	Mode        Mode   `json:"mode"`
	TierMin     int    `json:"tier_min"`
	TierMax     int    `json:"tier_max"`
	EnchMin     int    `json:"ench_min"`
	EnchMax     int    `json:"ench_max"`
	Qualities   []int  `json:"qualities,omitempty"`
}

// Key returns the normalized (trimmed, upper-cased) template key used for de-duplication.
func (s TemplateSpec) Key() string {
	return strings.ToUpper(strings.TrimSpace(s.TemplateKey))
}

// Validate checks the spec's ranges. EXACT specs only need a key.
func (s TemplateSpec) Validate() error {
	if s.Key() == "" {
		return fmt.Errorf("template key is empty")
	}
	if s.Mode == ModeExact {
		return nil
	}
	return ValidateRanges(s.TierMin, s.TierMax, s.EnchMin, s.EnchMax)
}

// ItemIDs expands the spec into its exact identifier set, in tier-then-enchant order.
func (s TemplateSpec) ItemIDs() ([]string, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if s.Mode == ModeExact {
		return []string{s.Key()}, nil
	}
	return applyEnchants(tierIDs(s.Key(), s.TierMin, s.TierMax), s.EnchMin, s.EnchMax), nil
}

// DedupeSpecs drops specs whose normalized key was already seen, keeping the first.
func DedupeSpecs(specs []TemplateSpec) []TemplateSpec {
	seen := make(map[string]bool, len(specs))
	out := make([]TemplateSpec, 0, len(specs))
	for _, s := range specs {
		k := s.Key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, s)
	}
	return out
}

// UnionItemIDs expands all specs and returns the de-duplicated identifier set in first-seen order.
func UnionItemIDs(specs []TemplateSpec) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, s := range specs {
		ids, err := s.ItemIDs()
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", s.Key(), err)
		}
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out, nil
}
