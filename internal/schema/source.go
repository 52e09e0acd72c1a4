package schema

import (
	"context"
)

// Source yields the classification schema active right now.
// Implementations wrap read failures with ErrSchemaUnavailable.
type Source interface {
	Current(ctx context.Context) (*ClassificationSchema, error)
}

// StaticSource always returns the same snapshot.
type StaticSource struct {
	Schema *ClassificationSchema
}

// NewStaticSource returns a source for s, or the built-in default when s is nil.
func NewStaticSource(s *ClassificationSchema) *StaticSource {
	if s == nil {
		s = Default()
	}
	return &StaticSource{Schema: s}
}

func (s *StaticSource) Current(ctx context.Context) (*ClassificationSchema, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.Schema == nil {
		return nil, ErrSchemaUnavailable
	}
	return s.Schema, nil
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (*ClassificationSchema, error)

func (f SourceFunc) Current(ctx context.Context) (*ClassificationSchema, error) {
	return f(ctx)
}
