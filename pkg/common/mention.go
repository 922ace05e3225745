package common

import "fmt"

// MentionKind discriminates the Mention union.
type MentionKind string

const (
	MentionEntity   MentionKind = "entity"
	MentionRelation MentionKind = "relation"
)

// MentionProvenance locates the segment a mention was extracted from.
type MentionProvenance struct {
	DocumentID      string `json:"document_id" validate:"required"`
	DocumentVersion int64  `json:"document_version" validate:"min=0"`
	SectionID       string `json:"section_id"`
	Offset          int    `json:"offset" validate:"min=0"`
}

// Ref returns the document version reference of the provenance.
func (p MentionProvenance) Ref() ProvenanceRef {
	return ProvenanceRef{DocumentID: p.DocumentID, DocumentVersion: p.DocumentVersion}
}

// EntityMention is a candidate entity read from one segment.
type EntityMention struct {
	Type       EntityType        `json:"type" validate:"required"`
	Surface    string            `json:"surface" validate:"required"`
	Normalized string            `json:"normalized" validate:"required"`
	Confidence float64           `json:"confidence" validate:"min=0,max=1"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Provenance MentionProvenance `json:"provenance"`
}

// RelationMention is a candidate relation between two entity mentions of the
// same segment. Its endpoints are resolved before the relation itself.
type RelationMention struct {
	Relation   RelationType      `json:"relation" validate:"required"`
	Source     EntityMention     `json:"source"`
	Target     EntityMention     `json:"target"`
	Confidence float64           `json:"confidence" validate:"min=0,max=1"`
	Provenance MentionProvenance `json:"provenance"`
}

// Mention is a tagged union over entity and relation mentions. Exactly one of
// Entity or Relation is set, matching Kind.
type Mention struct {
	Kind     MentionKind      `json:"kind" validate:"required,oneof=entity relation"`
	Entity   *EntityMention   `json:"entity,omitempty"`
	Relation *RelationMention `json:"relation,omitempty"`
}

// NewEntityMention wraps an entity mention into the union.
func NewEntityMention(m EntityMention) Mention {
	return Mention{Kind: MentionEntity, Entity: &m}
}

// NewRelationMention wraps a relation mention into the union.
func NewRelationMention(m RelationMention) Mention {
	return Mention{Kind: MentionRelation, Relation: &m}
}

// CheckUnion verifies that the populated member matches Kind.
func (m Mention) CheckUnion() error {
	switch m.Kind {
	case MentionEntity:
		if m.Entity == nil || m.Relation != nil {
			return fmt.Errorf("entity mention must carry exactly the entity member")
		}
	case MentionRelation:
		if m.Relation == nil || m.Entity != nil {
			return fmt.Errorf("relation mention must carry exactly the relation member")
		}
	default:
		return fmt.Errorf("unknown mention kind %q", m.Kind)
	}
	return nil
}

// Provenance returns the provenance of whichever member is set.
func (m Mention) Provenance() MentionProvenance {
	if m.Entity != nil {
		return m.Entity.Provenance
	}
	if m.Relation != nil {
		return m.Relation.Provenance
	}
	return MentionProvenance{}
}

// Confidence returns the confidence of whichever member is set.
func (m Mention) Confidence() float64 {
	if m.Entity != nil {
		return m.Entity.Confidence
	}
	if m.Relation != nil {
		return m.Relation.Confidence
	}
	return 0
}

// String renders a short human readable form, used in reports and logs.
func (m Mention) String() string {
	switch {
	case m.Entity != nil:
		return fmt.Sprintf("%s(%q)", m.Entity.Type, m.Entity.Surface)
	case m.Relation != nil:
		return fmt.Sprintf("%s(%q)-[%s]->%s(%q)",
			m.Relation.Source.Type, m.Relation.Source.Surface,
			m.Relation.Relation,
			m.Relation.Target.Type, m.Relation.Target.Surface)
	default:
		return "mention(?)"
	}
}
