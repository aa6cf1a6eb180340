package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"albion-flipper/internal/items"
	"albion-flipper/internal/market"
)

// ErrCategoryNotFound is returned for slugs with no matching category row.
var ErrCategoryNotFound = errors.New("category not found")

// Category is one node of the catalog tree.
type Category struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Slug          string `json:"slug"`
	ParentSlug    string `json:"parent_slug,omitempty"`
	TemplateCount int    `json:"template_count"` // active templates linked directly
}

// ListCategories returns every category ordered by slug.
func (d *DB) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := d.sql.QueryContext(ctx, `
		SELECT c.id, c.name, c.slug, COALESCE(p.slug, ''),
		       (SELECT COUNT(*) FROM template_categories tc
		          JOIN item_templates t ON t.id = tc.template_id
		         WHERE tc.category_id = c.id AND t.is_active = 1)
		  FROM categories c
		  LEFT JOIN categories p ON p.id = c.parent_id
		 ORDER BY c.slug`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	out := []Category{}
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Slug, &c.ParentSlug, &c.TemplateCount); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CategoriesWithTemplates returns slugs of categories with at least one
// directly linked active template, ordered by slug.
func (d *DB) CategoriesWithTemplates(ctx context.Context) ([]string, error) {
	rows, err := d.sql.QueryContext(ctx, `
		SELECT DISTINCT c.slug
		  FROM categories c
		  JOIN template_categories tc ON tc.category_id = c.id
		  JOIN item_templates t ON t.id = tc.template_id
		 WHERE t.is_active = 1
		 ORDER BY c.slug`)
	if err != nil {
		return nil, fmt.Errorf("categories with templates: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, err
		}
		out = append(out, slug)
	}
	return out, rows.Err()
}

// CategoryExists reports whether slug names a category.
func (d *DB) CategoryExists(ctx context.Context, slug string) (bool, error) {
	var id int64
	err := d.sql.QueryRowContext(ctx, "SELECT id FROM categories WHERE slug = ?", slug).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

const templateColumns = `t.template_key, t.mode, t.tier_min, t.tier_max, t.ench_min, t.ench_max, t.qualities`

// TemplatesForCategory returns the active templates linked to slug, or to its
// whole subtree when includeChildren is set. An unknown slug returns
// ErrCategoryNotFound; a known slug without templates returns an empty slice.
func (d *DB) TemplatesForCategory(ctx context.Context, slug string, includeChildren bool) ([]items.TemplateSpec, error) {
	ok, err := d.CategoryExists(ctx, slug)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCategoryNotFound, slug)
	}

	var query string
	if includeChildren {
		query = `
			WITH RECURSIVE subtree(id) AS (
				SELECT id FROM categories WHERE slug = ?
				UNION ALL
				SELECT c.id FROM categories c JOIN subtree s ON c.parent_id = s.id
			)
			SELECT DISTINCT ` + templateColumns + `
			  FROM item_templates t
			  JOIN template_categories tc ON tc.template_id = t.id
			  JOIN subtree s ON s.id = tc.category_id
			 WHERE t.is_active = 1
			 ORDER BY t.template_key`
	} else {
		query = `
			SELECT ` + templateColumns + `
			  FROM item_templates t
			  JOIN template_categories tc ON tc.template_id = t.id
			  JOIN categories c ON c.id = tc.category_id
			 WHERE c.slug = ? AND t.is_active = 1
			 ORDER BY t.template_key`
	}

	rows, err := d.sql.QueryContext(ctx, query, slug)
	if err != nil {
		return nil, fmt.Errorf("templates for %s: %w", slug, err)
	}
	defer rows.Close()

	specs := []items.TemplateSpec{}
	for rows.Next() {
		spec, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTemplate(r rowScanner) (items.TemplateSpec, error) {
	var (
		key, mode, quals string
		tierMin, tierMax sql.NullInt64
		enchMin, enchMax int
	)
	if err := r.Scan(&key, &mode, &tierMin, &tierMax, &enchMin, &enchMax, &quals); err != nil {
		return items.TemplateSpec{}, err
	}
	m, err := items.ParseMode(mode)
	if err != nil {
		return items.TemplateSpec{}, fmt.Errorf("template %s: %w", key, err)
	}
	return items.TemplateSpec{
		TemplateKey: key,
		Mode:        m,
		TierMin:     int(tierMin.Int64),
		TierMax:     int(tierMax.Int64),
		EnchMin:     enchMin,
		EnchMax:     enchMax,
		Qualities:   market.ParseQualities(quals),
	}, nil
}

// GetTemplate looks up one template by key (case-insensitive).
func (d *DB) GetTemplate(ctx context.Context, key string) (items.TemplateSpec, bool, error) {
	row := d.sql.QueryRowContext(ctx,
		"SELECT "+templateColumns+" FROM item_templates t WHERE t.template_key = ?",
		items.TemplateSpec{TemplateKey: key}.Key())
	spec, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return items.TemplateSpec{}, false, nil
	}
	if err != nil {
		return items.TemplateSpec{}, false, err
	}
	return spec, true, nil
}
