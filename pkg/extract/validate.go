package extract

import (
	"fmt"

	"github.com/OFFIS-RIT/maintkg/backend/pkg/common"

	"github.com/go-playground/validator"
)

// Validator checks mentions at the pipeline boundary: union consistency,
// struct constraints and the type registry.
type Validator struct {
	schema   *common.Schema
	validate *validator.Validate
}

// NewValidator creates a Validator for the given registry. A nil schema uses
// common.DefaultSchema.
func NewValidator(schema *common.Schema) *Validator {
	if schema == nil {
		schema = common.DefaultSchema()
	}
	return &Validator{schema: schema, validate: validator.New()}
}

// Document validates a document handed over by the normalizer.
func (v *Validator) Document(doc common.Document) error {
	if err := v.validate.Struct(doc); err != nil {
		return fmt.Errorf("%w: %v", common.ErrInvalidDocument, err)
	}
	return nil
}

// Mention validates a single mention.
func (v *Validator) Mention(m common.Mention) error {
	if err := m.CheckUnion(); err != nil {
		return err
	}
	switch m.Kind {
	case common.MentionEntity:
		return v.entity(*m.Entity)
	default:
		r := m.Relation
		if err := v.validate.Struct(r); err != nil {
			return err
		}
		if !v.schema.KnownRelation(r.Relation) {
			return fmt.Errorf("unknown relation type %q", r.Relation)
		}
		if err := v.entity(r.Source); err != nil {
			return fmt.Errorf("source: %w", err)
		}
		if err := v.entity(r.Target); err != nil {
			return fmt.Errorf("target: %w", err)
		}
		if !v.schema.AllowsEndpoints(r.Relation, r.Source.Type, r.Target.Type) {
			return fmt.Errorf("relation %s does not connect %s to %s", r.Relation, r.Source.Type, r.Target.Type)
		}
		return nil
	}
}

func (v *Validator) entity(e common.EntityMention) error {
	if err := v.validate.Struct(e); err != nil {
		return err
	}
	if !v.schema.KnownEntity(e.Type) {
		return fmt.Errorf("unknown entity type %q", e.Type)
	}
	return nil
}
