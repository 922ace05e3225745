package common

import "slices"

// EntityType is the kind of a graph node.
type EntityType string

const (
	EntityComponent        EntityType = "component"
	EntityProcedure        EntityType = "procedure"
	EntityStep             EntityType = "step"
	EntityTask             EntityType = "task"
	EntityTool             EntityType = "tool"
	EntityThreshold        EntityType = "threshold"
	EntityFaultCode        EntityType = "fault_code"
	EntitySafetyPrecaution EntityType = "safety_precaution"
)

// RelationType is the kind of a graph edge.
type RelationType string

const (
	RelPartOf     RelationType = "part_of"
	RelCauses     RelationType = "causes"
	RelRequires   RelationType = "requires"
	RelSupersedes RelationType = "supersedes"
	RelNextStep   RelationType = "next_step"
	RelRelatedTo  RelationType = "related_to"
)

// RelationSchema constrains the endpoints of one relation type. Empty
// endpoint lists accept any known entity type.
type RelationSchema struct {
	Sources   []EntityType
	Targets   []EntityType
	SameType  bool
	Symmetric bool
}

// Schema is the registry of entity and relation types the core accepts.
type Schema struct {
	Entities  map[EntityType]struct{}
	Relations map[RelationType]RelationSchema
}

// DefaultSchema returns the maintenance-standard type registry.
func DefaultSchema() *Schema {
	entities := map[EntityType]struct{}{}
	for _, t := range []EntityType{
		EntityComponent, EntityProcedure, EntityStep, EntityTask,
		EntityTool, EntityThreshold, EntityFaultCode, EntitySafetyPrecaution,
	} {
		entities[t] = struct{}{}
	}

	return &Schema{
		Entities: entities,
		Relations: map[RelationType]RelationSchema{
			RelPartOf: {},
			RelCauses: {
				Sources: []EntityType{EntityFaultCode, EntityComponent, EntityThreshold},
			},
			RelRequires: {
				Targets: []EntityType{
					EntityProcedure, EntityStep, EntityTask, EntityTool,
					EntityComponent, EntitySafetyPrecaution, EntityThreshold,
				},
			},
			RelSupersedes: {SameType: true},
			RelNextStep: {
				Sources: []EntityType{EntityStep},
				Targets: []EntityType{EntityStep},
			},
			RelRelatedTo: {Symmetric: true},
		},
	}
}

// KnownEntity reports whether t is a registered entity type.
func (s *Schema) KnownEntity(t EntityType) bool {
	_, ok := s.Entities[t]
	return ok
}

// KnownRelation reports whether t is a registered relation type.
func (s *Schema) KnownRelation(t RelationType) bool {
	_, ok := s.Relations[t]
	return ok
}

// Symmetric reports whether the relation has no meaningful direction.
func (s *Schema) Symmetric(t RelationType) bool {
	return s.Relations[t].Symmetric
}

// AllowsEndpoints reports whether a relation of type rel may connect src to tgt.
func (s *Schema) AllowsEndpoints(rel RelationType, src, tgt EntityType) bool {
	rs, ok := s.Relations[rel]
	if !ok {
		return false
	}
	if !s.KnownEntity(src) || !s.KnownEntity(tgt) {
		return false
	}
	if rs.SameType && src != tgt {
		return false
	}
	if len(rs.Sources) > 0 && !slices.Contains(rs.Sources, src) {
		return false
	}
	if len(rs.Targets) > 0 && !slices.Contains(rs.Targets, tgt) {
		return false
	}
	return true
}
