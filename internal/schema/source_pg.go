package schema

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// PGSource builds the schema from the taxonomy tables. It only reads.
type PGSource struct {
	DB *sql.DB
}

func NewPGSource(db *sql.DB) *PGSource {
	return &PGSource{DB: db}
}

type habitatType struct {
	Name        string
	Description string
	Group       string
}

func (s *PGSource) Current(ctx context.Context) (*ClassificationSchema, error) {
	if s == nil || s.DB == nil {
		return nil, ErrSchemaUnavailable
	}
	groups, err := s.listGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: habitat groups: %w", ErrSchemaUnavailable, err)
	}
	types, err := s.listTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: habitat types: %w", ErrSchemaUnavailable, err)
	}
	if len(types) == 0 {
		return nil, fmt.Errorf("%w: no active habitat types", ErrSchemaUnavailable)
	}
	prompt, err := s.activePrompt(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: prompt templates: %w", ErrSchemaUnavailable, err)
	}

	fields := buildTaxonomyFields(groups, types)
	built, err := New(fields, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSchemaUnavailable, err)
	}
	return built, nil
}

func (s *PGSource) listGroups(ctx context.Context) ([]string, error) {
	const query = `
SELECT name
FROM habitat_groups
ORDER BY sort_order, name`
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (s *PGSource) listTypes(ctx context.Context) ([]habitatType, error) {
	const query = `
SELECT t.name, COALESCE(t.description, ''), COALESCE(g.name, '')
FROM habitat_types t
LEFT JOIN habitat_groups g ON g.id = t.group_id
WHERE t.active = TRUE
ORDER BY g.sort_order, t.sort_order, t.name`
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []habitatType
	for rows.Next() {
		var t habitatType
		if err := rows.Scan(&t.Name, &t.Description, &t.Group); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PGSource) activePrompt(ctx context.Context) (Prompt, error) {
	const query = `
SELECT version, system_prompt, instructions
FROM prompt_templates
WHERE active = TRUE
ORDER BY created_at DESC
LIMIT 1`
	var p Prompt
	err := s.DB.QueryRowContext(ctx, query).Scan(&p.Version, &p.System, &p.Instructions)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultPrompt(), nil
	}
	if err != nil {
		return Prompt{}, err
	}
	return p, nil
}

// buildTaxonomyFields replaces the default habitat type and group domains
// with the stored taxonomy and keeps the remaining default fields.
func buildTaxonomyFields(groups []string, types []habitatType) []Field {
	typeNames := make([]string, 0, len(types))
	var desc strings.Builder
	desc.WriteString("The habitat type that best matches the photographs.")
	for _, t := range types {
		typeNames = append(typeNames, t.Name)
		if t.Description == "" && t.Group == "" {
			continue
		}
		desc.WriteString(" ")
		desc.WriteString(t.Name)
		if t.Group != "" {
			desc.WriteString(" [")
			desc.WriteString(t.Group)
			desc.WriteString("]")
		}
		if t.Description != "" {
			desc.WriteString(": ")
			desc.WriteString(strings.TrimSuffix(t.Description, "."))
		}
		desc.WriteString(".")
	}

	fields := DefaultFields()
	out := make([]Field, 0, len(fields))
	for _, f := range fields {
		switch f.Name {
		case "habitatType":
			f.Values = typeNames
			f.Description = desc.String()
		case "habitatGroup":
			if len(groups) == 0 {
				continue
			}
			f.Values = groups
		}
		out = append(out, f)
	}
	return out
}
