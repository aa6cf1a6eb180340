package items

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Valid bounds for tiers and enchantments.
const (
	MinTier    = 1
	MaxTier    = 8
	MinEnchant = 0
	MaxEnchant = 4
)

// InvalidRangeError reports malformed tier or enchantment bounds.
type InvalidRangeError struct {
	Field string // "tier" or "enchant"
	Min   int
	Max   int
	Msg   string
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid %s range %d..%d: %s", e.Field, e.Min, e.Max, e.Msg)
}

// ValidateRanges checks tier and enchantment bounds.
func ValidateRanges(tierMin, tierMax, enchMin, enchMax int) error {
	if err := validateTiers(tierMin, tierMax); err != nil {
		return err
	}
	return validateEnchants(enchMin, enchMax)
}

func validateTiers(lo, hi int) error {
	if lo > hi {
		return &InvalidRangeError{Field: "tier", Min: lo, Max: hi, Msg: "min > max"}
	}
	if lo < MinTier || hi > MaxTier {
		return &InvalidRangeError{Field: "tier", Min: lo, Max: hi, Msg: "outside 1..8"}
	}
	return nil
}

func validateEnchants(lo, hi int) error {
	if lo > hi {
		return &InvalidRangeError{Field: "enchant", Min: lo, Max: hi, Msg: "min > max"}
	}
	if lo < MinEnchant {
		return &InvalidRangeError{Field: "enchant", Min: lo, Max: hi, Msg: "min < 0"}
	}
	if hi > MaxEnchant {
		return &InvalidRangeError{Field: "enchant", Min: lo, Max: hi, Msg: "max > 4"}
	}
	return nil
}

var (
	// [T4-T8]BASE, [T4-8]BASE or [T5]BASE
	tierRangeRe = regexp.MustCompile(`^\[T(\d)(?:-T?(\d))?\]\s*(.+)$`)
	// T6_BASE
	tierPrefixRe = regexp.MustCompile(`^T\d+_`)
)

// Expander turns raw item names into concrete item identifiers.
type Expander struct {
	tierMin, tierMax int
	enchMin, enchMax int
}

// NewExpander creates an Expander whose default tier range applies to bare base names.
func NewExpander(tierMin, tierMax, enchMin, enchMax int) (*Expander, error) {
	if err := ValidateRanges(tierMin, tierMax, enchMin, enchMax); err != nil {
		return nil, err
	}
	return &Expander{tierMin: tierMin, tierMax: tierMax, enchMin: enchMin, enchMax: enchMax}, nil
}

// Expand resolves one raw name:
//
//	*ID            -> ID verbatim (escape)
//	ID@n           -> verbatim (already enchanted)
//	[T4-T6]BASE    -> T4_BASE..T6_BASE, each with enchantments
//	T6_BASE        -> fixed tier, enchantments only
//	BASE           -> default tier range, enchantments
func (e *Expander) Expand(raw string) ([]string, error) {
	up := strings.ToUpper(strings.TrimSpace(raw))
	if up == "" {
		return nil, nil
	}

	if strings.HasPrefix(up, "*") {
		return []string{up[1:]}, nil
	}
	if strings.Contains(up, "@") {
		return []string{up}, nil
	}

	if m := tierRangeRe.FindStringSubmatch(up); m != nil {
		start, _ := strconv.Atoi(m[1])
		end := start
		if m[2] != "" {
			end, _ = strconv.Atoi(m[2])
		}
		if err := validateTiers(start, end); err != nil {
			return nil, err
		}
		return e.withEnchants(tierIDs(strings.TrimSpace(m[3]), start, end)), nil
	}

	if tierPrefixRe.MatchString(up) {
		return e.withEnchants([]string{up}), nil
	}

	return e.withEnchants(tierIDs(up, e.tierMin, e.tierMax)), nil
}

// ExpandAll expands every raw name and returns the de-duplicated union in first-seen order.
func (e *Expander) ExpandAll(raws []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, raw := range raws {
		ids, err := e.Expand(raw)
		if err != nil {
			return nil, fmt.Errorf("expand %q: %w", raw, err)
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

func (e *Expander) withEnchants(core []string) []string {
	return applyEnchants(core, e.enchMin, e.enchMax)
}

func tierIDs(base string, lo, hi int) []string {
	ids := make([]string, 0, hi-lo+1)
	for t := lo; t <= hi; t++ {
		ids = append(ids, fmt.Sprintf("T%d_%s", t, base))
	}
	return ids
}

// applyEnchants appends one entry per enchantment level; level 0 adds no suffix.
func applyEnchants(core []string, lo, hi int) []string {
	out := make([]string, 0, len(core)*(hi-lo+1))
	for _, id := range core {
		for ench := lo; ench <= hi; ench++ {
			if ench == 0 {
				out = append(out, id)
			} else {
				out = append(out, fmt.Sprintf("%s@%d", id, ench))
			}
		}
	}
	return out
}
