package query

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/OFFIS-RIT/maintkg/backend/pkg/common"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/store"
)

const (
	maxCitations = 10
	scoreEpsilon = 1e-9
)

// Result is one ranked answer node.
type Result struct {
	Node           common.Node   `json:"node"`
	Score          float64       `json:"score"`
	Depth          int           `json:"depth"`
	Seed           string        `json:"seed"`
	Path           []common.Edge `json:"path"`
	Interpretation int           `json:"interpretation"`
	// InterpretationLabel names the seeds of the reading that produced the
	// result when the question was ambiguous.
	InterpretationLabel string      `json:"interpretation_label,omitempty"`
	Explanation         Explanation `json:"explanation"`
}

// Explanation shows how a result was reached and which documents support it.
type Explanation struct {
	Summary   string     `json:"summary"`
	Citations []Citation `json:"citations"`
}

// Citation is one supporting segment of a document version.
type Citation struct {
	DocumentID      string `json:"document_id"`
	DocumentVersion int64  `json:"document_version"`
	SectionID       string `json:"section_id"`
	Offset          int    `json:"offset"`
	Surface         string `json:"surface,omitempty"`
}

// rank scores matches of one interpretation. A node reached from several
// seeds keeps its best match. Results are ordered by score, then by number of
// supporting documents, then by label and id.
func rank(snap *store.Snapshot, matches []store.Match, interpretation int, label string) []Result {
	best := map[string]Result{}
	for _, m := range matches {
		r := Result{
			Node:                m.Node,
			Score:               score(m),
			Depth:               m.Depth,
			Seed:                m.Seed,
			Path:                m.Path,
			Interpretation:      interpretation,
			InterpretationLabel: label,
		}
		if prev, ok := best[m.Node.ID]; ok && !better(r, prev) {
			continue
		}
		best[m.Node.ID] = r
	}

	out := make([]Result, 0, len(best))
	for _, r := range best {
		r.Explanation = explain(snap, r)
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b Result) int {
		if math.Abs(a.Score-b.Score) > scoreEpsilon {
			return cmp.Compare(b.Score, a.Score)
		}
		if c := cmp.Compare(len(b.Node.Provenance), len(a.Node.Provenance)); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Node.Label, b.Node.Label); c != 0 {
			return c
		}
		return cmp.Compare(a.Node.ID, b.Node.ID)
	})
	return out
}

func score(m store.Match) float64 {
	depth := max(m.Depth, 1)
	return m.Node.Confidence * m.PathConfidence / float64(depth)
}

func better(a, b Result) bool {
	if math.Abs(a.Score-b.Score) > scoreEpsilon {
		return a.Score > b.Score
	}
	if a.Depth != b.Depth {
		return a.Depth < b.Depth
	}
	return a.Seed < b.Seed
}

func explain(snap *store.Snapshot, r Result) Explanation {
	return Explanation{
		Summary:   summary(snap, r),
		Citations: citations(r),
	}
}

// summary renders the path from the seed, e.g.
// "Bleed Procedure <-[requires]- Hydraulic Pump".
func summary(snap *store.Snapshot, r Result) string {
	var b strings.Builder
	b.WriteString(labelOf(snap, r.Seed))
	at := r.Seed
	for _, e := range r.Path {
		if e.Source == at {
			fmt.Fprintf(&b, " -[%s]-> ", e.Relation)
			at = e.Target
		} else {
			fmt.Fprintf(&b, " <-[%s]- ", e.Relation)
			at = e.Source
		}
		b.WriteString(labelOf(snap, at))
	}
	return b.String()
}

func labelOf(snap *store.Snapshot, id string) string {
	if n, ok := snap.Node(id); ok && n.Label != "" {
		return n.Label
	}
	return id
}

// citations collects the evidence of every path edge and of the node itself.
func citations(r Result) []Citation {
	seen := map[Citation]bool{}
	var out []Citation
	add := func(ps []common.Provenance) {
		for _, p := range ps {
			for _, ev := range p.Evidence {
				c := Citation{
					DocumentID:      p.Ref.DocumentID,
					DocumentVersion: p.Ref.DocumentVersion,
					SectionID:       ev.SectionID,
					Offset:          ev.Offset,
				}
				if seen[c] {
					continue
				}
				seen[c] = true
				c.Surface = ev.Surface
				out = append(out, c)
			}
		}
	}
	for _, e := range r.Path {
		add(e.Provenance)
	}
	add(r.Node.Provenance)

	slices.SortFunc(out, func(a, b Citation) int {
		return cmp.Or(
			cmp.Compare(a.DocumentID, b.DocumentID),
			cmp.Compare(a.DocumentVersion, b.DocumentVersion),
			cmp.Compare(a.SectionID, b.SectionID),
			cmp.Compare(a.Offset, b.Offset),
		)
	})
	if len(out) > maxCitations {
		out = out[:maxCitations]
	}
	if out == nil {
		out = []Citation{}
	}
	return out
}
