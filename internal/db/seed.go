package db

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"albion-flipper/internal/items"
	"albion-flipper/internal/logger"
	"albion-flipper/internal/market"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// SeedCategory is one node of the seed file's category tree.
type SeedCategory struct {
	Name     string         `yaml:"name"`
	Slug     string         `yaml:"slug"`
	Children []SeedCategory `yaml:"children"`
}

// SeedTemplate is one template definition. Pointer fields distinguish
// "unset" from zero when group defaults are merged with per-key overrides.
type SeedTemplate struct {
	TemplateKey string      `yaml:"template_key"`
	Mode        string      `yaml:"mode"`
	TierMin     *int        `yaml:"tier_min"`
	TierMax     *int        `yaml:"tier_max"`
	EnchMin     *int        `yaml:"ench_min"`
	EnchMax     *int        `yaml:"ench_max"`
	Qualities   QualityList `yaml:"qualities"`
	IsActive    *bool       `yaml:"is_active"`
	Notes       string      `yaml:"notes"`
	Categories  []string    `yaml:"categories"`
}

// SeedGroup applies shared settings to a list of template keys. Entries of
// template_keys are either plain keys or mappings overriding group fields.
type SeedGroup struct {
	Name         string `yaml:"name"`
	SeedTemplate `yaml:",inline"`
	TemplateKeys []yaml.Node `yaml:"template_keys"`
}

// SeedFile is the catalog seed document.
type SeedFile struct {
	Categories     []SeedCategory `yaml:"categories"`
	Templates      []SeedTemplate `yaml:"templates"`
	TemplateGroups []SeedGroup    `yaml:"template_groups"`
}

// QualityList accepts either a YAML sequence or a CSV string.
type QualityList []int

// UnmarshalYAML implements yaml.Unmarshaler.
func (q *QualityList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*q = market.ParseQualities(value.Value)
		return nil
	}
	var raw []int
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("qualities: %w", err)
	}
	*q = raw
	return nil
}

// SeedStats summarizes a seeding run.
type SeedStats struct {
	Categories int
	Templates  int
	Links      int
}

// ParseSeed decodes a seed document.
func ParseSeed(data []byte) (*SeedFile, error) {
	var f SeedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	return &f, nil
}

// ExpandTemplates flattens plain templates and groups into one list, applying
// per-key overrides on top of group settings.
func (f *SeedFile) ExpandTemplates() ([]SeedTemplate, error) {
	out := append([]SeedTemplate(nil), f.Templates...)
	for _, g := range f.TemplateGroups {
		if len(g.TemplateKeys) == 0 {
			return nil, fmt.Errorf("template group %q has no template_keys", g.Name)
		}
		for i := range g.TemplateKeys {
			node := &g.TemplateKeys[i]
			t := g.SeedTemplate
			switch node.Kind {
			case yaml.ScalarNode:
				t.TemplateKey = node.Value
			case yaml.MappingNode:
				var o SeedTemplate
				if err := node.Decode(&o); err != nil {
					return nil, fmt.Errorf("group %q override: %w", g.Name, err)
				}
				if o.TemplateKey == "" {
					return nil, fmt.Errorf("group %q: override without template_key", g.Name)
				}
				t = t.merge(o)
			default:
				return nil, fmt.Errorf("group %q: template_keys entries must be strings or mappings", g.Name)
			}
			out = append(out, t)
		}
	}
	return out, nil
}

func (t SeedTemplate) merge(o SeedTemplate) SeedTemplate {
	t.TemplateKey = o.TemplateKey
	if o.Mode != "" {
		t.Mode = o.Mode
	}
	if o.TierMin != nil {
		t.TierMin = o.TierMin
	}
	if o.TierMax != nil {
		t.TierMax = o.TierMax
	}
	if o.EnchMin != nil {
		t.EnchMin = o.EnchMin
	}
	if o.EnchMax != nil {
		t.EnchMax = o.EnchMax
	}
	if o.Qualities != nil {
		t.Qualities = o.Qualities
	}
	if o.IsActive != nil {
		t.IsActive = o.IsActive
	}
	if o.Notes != "" {
		t.Notes = o.Notes
	}
	if o.Categories != nil {
		t.Categories = o.Categories
	}
	return t
}

// spec converts a seed template into a validated TemplateSpec.
func (t SeedTemplate) spec() (items.TemplateSpec, error) {
	mode, err := items.ParseMode(t.Mode)
	if err != nil {
		return items.TemplateSpec{}, fmt.Errorf("%s: %w", t.TemplateKey, err)
	}
	s := items.TemplateSpec{
		TemplateKey: strings.ToUpper(strings.TrimSpace(t.TemplateKey)),
		Mode:        mode,
		EnchMin:     intOr(t.EnchMin, 0),
		EnchMax:     intOr(t.EnchMax, 0),
		Qualities:   []int(t.Qualities),
	}
	if len(s.Qualities) == 0 {
		s.Qualities = append([]int(nil), market.AllQualities...)
	}
	if mode == items.ModeTiered {
		if t.TierMin == nil || t.TierMax == nil {
			return items.TemplateSpec{}, fmt.Errorf("%s: TIERED requires tier_min and tier_max", s.TemplateKey)
		}
		s.TierMin, s.TierMax = *t.TierMin, *t.TierMax
	}
	if err := s.Validate(); err != nil {
		return items.TemplateSpec{}, fmt.Errorf("%s: %w", s.TemplateKey, err)
	}
	return s, nil
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

// Seed upserts the categories and templates in data inside one transaction.
// Each template's category links are replaced, so the file is the source of truth.
func (d *DB) Seed(ctx context.Context, data []byte) (SeedStats, error) {
	f, err := ParseSeed(data)
	if err != nil {
		return SeedStats{}, err
	}
	templates, err := f.ExpandTemplates()
	if err != nil {
		return SeedStats{}, err
	}

	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return SeedStats{}, err
	}
	defer tx.Rollback()

	var stats SeedStats
	for _, root := range f.Categories {
		if err := insertCategoryTree(ctx, tx, root, sql.NullInt64{}, &stats); err != nil {
			return SeedStats{}, err
		}
	}

	for _, t := range templates {
		spec, err := t.spec()
		if err != nil {
			return SeedStats{}, err
		}
		if len(t.Categories) == 0 {
			return SeedStats{}, fmt.Errorf("%s: no categories", spec.TemplateKey)
		}
		id, err := upsertTemplate(ctx, tx, spec, t.IsActive == nil || *t.IsActive, t.Notes)
		if err != nil {
			return SeedStats{}, err
		}
		stats.Templates++

		if _, err := tx.ExecContext(ctx, "DELETE FROM template_categories WHERE template_id = ?", id); err != nil {
			return SeedStats{}, err
		}
		for _, slug := range t.Categories {
			var catID int64
			err := tx.QueryRowContext(ctx, "SELECT id FROM categories WHERE slug = ?", strings.TrimSpace(slug)).Scan(&catID)
			if errors.Is(err, sql.ErrNoRows) {
				return SeedStats{}, fmt.Errorf("%s: %w: %s", spec.TemplateKey, ErrCategoryNotFound, slug)
			}
			if err != nil {
				return SeedStats{}, err
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO template_categories (template_id, category_id) VALUES (?, ?)", id, catID); err != nil {
				return SeedStats{}, err
			}
			stats.Links++
		}
	}

	if err := tx.Commit(); err != nil {
		return SeedStats{}, err
	}
	return stats, nil
}

// SeedDefault loads the embedded catalog when the categories table is empty.
// It reports whether seeding happened.
func (d *DB) SeedDefault(ctx context.Context) (bool, error) {
	var n int
	if err := d.sql.QueryRowContext(ctx, "SELECT COUNT(*) FROM categories").Scan(&n); err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	stats, err := d.Seed(ctx, defaultCatalog)
	if err != nil {
		return false, fmt.Errorf("seed default catalog: %w", err)
	}
	logger.Info("DB", fmt.Sprintf("Seeded default catalog: %d categories, %d templates, %d links",
		stats.Categories, stats.Templates, stats.Links))
	return true, nil
}

func insertCategoryTree(ctx context.Context, tx *sql.Tx, node SeedCategory, parent sql.NullInt64, stats *SeedStats) error {
	slug := strings.TrimSpace(node.Slug)
	if slug == "" {
		return fmt.Errorf("category %q has no slug", node.Name)
	}
	var id int64
	err := tx.QueryRowContext(ctx, "SELECT id FROM categories WHERE slug = ?", slug).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		res, err := tx.ExecContext(ctx,
			"INSERT INTO categories (name, slug, parent_id) VALUES (?, ?, ?)", node.Name, slug, parent)
		if err != nil {
			return fmt.Errorf("insert category %s: %w", slug, err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		if _, err := tx.ExecContext(ctx,
			"UPDATE categories SET name = ?, parent_id = ? WHERE id = ?", node.Name, parent, id); err != nil {
			return fmt.Errorf("update category %s: %w", slug, err)
		}
	}
	stats.Categories++

	for _, child := range node.Children {
		if err := insertCategoryTree(ctx, tx, child, sql.NullInt64{Int64: id, Valid: true}, stats); err != nil {
			return err
		}
	}
	return nil
}

func upsertTemplate(ctx context.Context, tx *sql.Tx, s items.TemplateSpec, active bool, notes string) (int64, error) {
	var tierMin, tierMax sql.NullInt64
	if s.Mode == items.ModeTiered {
		tierMin = sql.NullInt64{Int64: int64(s.TierMin), Valid: true}
		tierMax = sql.NullInt64{Int64: int64(s.TierMax), Valid: true}
	}
	isActive := 0
	if active {
		isActive = 1
	}
	var notesVal sql.NullString
	if notes != "" {
		notesVal = sql.NullString{String: notes, Valid: true}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO item_templates (template_key, mode, tier_min, tier_max, ench_min, ench_max, qualities, is_active, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(template_key) DO UPDATE SET
			mode = excluded.mode,
			tier_min = excluded.tier_min,
			tier_max = excluded.tier_max,
			ench_min = excluded.ench_min,
			ench_max = excluded.ench_max,
			qualities = excluded.qualities,
			is_active = excluded.is_active,
			notes = excluded.notes`,
		s.TemplateKey, string(s.Mode), tierMin, tierMax, s.EnchMin, s.EnchMax,
		market.FormatQualities(s.Qualities), isActive, notesVal)
	if err != nil {
		return 0, fmt.Errorf("upsert template %s: %w", s.TemplateKey, err)
	}

	var id int64
	if err := tx.QueryRowContext(ctx, "SELECT id FROM item_templates WHERE template_key = ?", s.TemplateKey).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}
