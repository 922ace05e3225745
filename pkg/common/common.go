package common

import (
	"errors"
	"time"
)

// ErrInvalidDocument is returned when a document handed to the core does not
// carry an id, a positive version or well formed segments.
var ErrInvalidDocument = errors.New("invalid document")

// Document is a normalized maintenance-standard document as produced by the
// upstream normalizer. A document is identified by (ID, Version) and is never
// mutated by the core once handed over.
type Document struct {
	ID         string    `json:"id" validate:"required"`
	Version    int64     `json:"version" validate:"required,min=1"`
	IngestedAt time.Time `json:"ingested_at"`
	Segments   []Segment `json:"segments" validate:"dive"`
}

// Segment is one cleaned block of text with its position inside the source
// document.
type Segment struct {
	Text      string `json:"text"`
	SectionID string `json:"section_id"`
	Offset    int    `json:"offset" validate:"min=0"`
}

// ProvenanceRef identifies the document version that supports a graph fact.
type ProvenanceRef struct {
	DocumentID      string `json:"document_id"`
	DocumentVersion int64  `json:"document_version"`
}

// Less orders refs by document id, then version.
func (r ProvenanceRef) Less(o ProvenanceRef) bool {
	if r.DocumentID != o.DocumentID {
		return r.DocumentID < o.DocumentID
	}
	return r.DocumentVersion < o.DocumentVersion
}

// Evidence points at the exact segment a mention was read from.
type Evidence struct {
	SectionID string `json:"section_id"`
	Offset    int    `json:"offset"`
	Surface   string `json:"surface"`
}

// Provenance links a node or edge to one supporting document version. The
// evidence list keeps every segment of that version which mentioned the fact.
type Provenance struct {
	Ref        ProvenanceRef `json:"ref"`
	Evidence   []Evidence    `json:"evidence"`
	Confidence float64       `json:"confidence"`
}

// State is the validity state of a node or edge.
type State string

const (
	StateActive    State = "active"
	StateRetracted State = "retracted"
)

// Node is a canonical, deduplicated graph entity.
//
// The ID is stable for as long as the resolver keeps matching mentions to the
// node, including across retraction and reactivation.
type Node struct {
	ID         string            `json:"id"`
	Type       EntityType        `json:"type"`
	Label      string            `json:"label"`
	Aliases    []string          `json:"aliases"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Confidence float64           `json:"confidence"`
	Provenance []Provenance      `json:"provenance"`
	State      State             `json:"state"`
	CreatedIn  int64             `json:"created_in"`
	UpdatedIn  int64             `json:"updated_in"`
}

// Edge is a directed, typed relation between two nodes. Edges are keyed by
// (Source, Target, Relation) and are retracted rather than deleted.
type Edge struct {
	ID         string       `json:"id"`
	Source     string       `json:"source"`
	Target     string       `json:"target"`
	Relation   RelationType `json:"relation"`
	Confidence float64      `json:"confidence"`
	Provenance []Provenance `json:"provenance"`
	State      State        `json:"state"`
	CreatedIn  int64        `json:"created_in"`
	UpdatedIn  int64        `json:"updated_in"`
}

// EdgeKey is the natural key of an edge.
type EdgeKey struct {
	Source   string       `json:"source"`
	Target   string       `json:"target"`
	Relation RelationType `json:"relation"`
}

// Key returns the natural key of the edge.
func (e Edge) Key() EdgeKey {
	return EdgeKey{Source: e.Source, Target: e.Target, Relation: e.Relation}
}

// Active reports whether the node is in the active state.
func (n Node) Active() bool { return n.State == StateActive }

// Active reports whether the edge is in the active state.
func (e Edge) Active() bool { return e.State == StateActive }

// VersionEntry is one line of the version log: the batch that produced a
// version and the ids it changed.
type VersionEntry struct {
	Version         int64     `json:"version"`
	DocumentID      string    `json:"document_id"`
	DocumentVersion int64     `json:"document_version"`
	CommittedAt     time.Time `json:"committed_at"`
	ChangedNodes    []string  `json:"changed_nodes"`
	ChangedEdges    []string  `json:"changed_edges"`
}

// Graph is a materialized view of the graph at one version.
type Graph struct {
	Version int64  `json:"version"`
	Nodes   []Node `json:"nodes"`
	Edges   []Edge `json:"edges"`
}
