package common

import "testing"

func TestNormalizeValue(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty", input: "", want: ""},
		{name: "collapses whitespace", input: "  Hydraulic \n  Pump ", want: "hydraulic pump"},
		{name: "full width punctuation", input: "液压泵（主）。", want: "液压泵(主)"},
		{name: "keeps inner punctuation", input: "Torque 30 N·m.", want: "torque 30 n·m"},
		{name: "strips nul bytes", input: "val\x00ve", want: "valve"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeValue(tt.input); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestSchemaAllowsEndpoints(t *testing.T) {
	s := DefaultSchema()
	tests := []struct {
		name     string
		rel      RelationType
		src, tgt EntityType
		want     bool
	}{
		{name: "part of any", rel: RelPartOf, src: EntityComponent, tgt: EntityComponent, want: true},
		{name: "next step only between steps", rel: RelNextStep, src: EntityStep, tgt: EntityTool, want: false},
		{name: "supersedes same type", rel: RelSupersedes, src: EntityProcedure, tgt: EntityProcedure, want: true},
		{name: "supersedes mixed type", rel: RelSupersedes, src: EntityProcedure, tgt: EntityThreshold, want: false},
		{name: "causes from fault code", rel: RelCauses, src: EntityFaultCode, tgt: EntityComponent, want: true},
		{name: "causes from tool", rel: RelCauses, src: EntityTool, tgt: EntityComponent, want: false},
		{name: "unknown relation", rel: "mentions", src: EntityTool, tgt: EntityTool, want: false},
		{name: "unknown entity", rel: RelPartOf, src: "person", tgt: EntityComponent, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.AllowsEndpoints(tt.rel, tt.src, tt.tgt); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestMentionCheckUnion(t *testing.T) {
	entity := NewEntityMention(EntityMention{Type: EntityTool, Surface: "wrench", Normalized: "wrench"})
	if err := entity.CheckUnion(); err != nil {
		t.Fatalf("expected valid entity mention, got %v", err)
	}

	broken := Mention{Kind: MentionRelation, Entity: entity.Entity}
	if err := broken.CheckUnion(); err == nil {
		t.Fatalf("expected error for relation kind carrying entity member")
	}

	unknown := Mention{Kind: "attribute"}
	if err := unknown.CheckUnion(); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}
