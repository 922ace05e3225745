package store

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/OFFIS-RIT/maintkg/backend/pkg/common"
)

// DefaultMaxDepth bounds traversals that do not set a depth.
const DefaultMaxDepth = 3

// MaxDepthLimit is the largest depth a pattern may request.
const MaxDepthLimit = 8

// ErrInvalidPattern is returned for patterns that cannot be executed.
var ErrInvalidPattern = errors.New("invalid pattern")

// Direction selects which edges a traversal follows from a node.
type Direction string

const (
	// Outgoing follows edges from source to target.
	Outgoing Direction = "out"
	// Incoming follows edges from target to source.
	Incoming Direction = "in"
	// Both follows edges either way.
	Both Direction = "both"
)

// Pattern is a bounded traversal from seed nodes. Results are the reachable
// active nodes matching TargetType, excluding the seeds themselves.
type Pattern struct {
	Seeds      []string              `json:"seeds" validate:"required,min=1"`
	Relations  []common.RelationType `json:"relations,omitempty"`
	Direction  Direction             `json:"direction,omitempty"`
	TargetType common.EntityType     `json:"target_type,omitempty"`
	MaxDepth   int                   `json:"max_depth,omitempty" validate:"min=0"`
	Limit      int                   `json:"limit,omitempty" validate:"min=0"`
}

// Normalize fills defaults and checks the pattern. Empty and repeated seeds
// are dropped.
func (p Pattern) Normalize() (Pattern, error) {
	p.Seeds = DedupeStrings(p.Seeds)
	if len(p.Seeds) == 0 {
		return p, fmt.Errorf("%w: no seed nodes", ErrInvalidPattern)
	}
	switch p.Direction {
	case "":
		p.Direction = Both
	case Outgoing, Incoming, Both:
	default:
		return p, fmt.Errorf("%w: direction %q", ErrInvalidPattern, p.Direction)
	}
	if p.MaxDepth <= 0 {
		p.MaxDepth = DefaultMaxDepth
	}
	if p.MaxDepth > MaxDepthLimit {
		return p, fmt.Errorf("%w: max depth %d exceeds %d", ErrInvalidPattern, p.MaxDepth, MaxDepthLimit)
	}
	return p, nil
}

// Match is one node reached by a pattern.
type Match struct {
	Node  common.Node   `json:"node"`
	Seed  string        `json:"seed"`
	Depth int           `json:"depth"`
	Path  []common.Edge `json:"path"`
	// PathConfidence is the product of the edge confidences along Path.
	PathConfidence float64 `json:"path_confidence"`
}

type frontierItem struct {
	id   string
	path []common.Edge
	conf float64
}

// Query runs p against the graph as of asOf (latest when non-positive).
func (g *Graph) Query(ctx context.Context, p Pattern, asOf int64) ([]Match, error) {
	snap, err := g.Snapshot(asOf)
	if err != nil {
		return nil, err
	}
	return snap.Query(ctx, p)
}

// Query runs p breadth first from every seed. Each reachable node is reported
// once per seed, at its shortest depth. Cycles are cut by the visited set and
// the depth bound. When ctx ends the matches found so far are returned with
// the context error.
func (s *Snapshot) Query(ctx context.Context, p Pattern) ([]Match, error) {
	p, err := p.Normalize()
	if err != nil {
		return nil, err
	}

	var out []Match
	for _, seed := range p.Seeds {
		start, ok := s.Node(seed)
		if !ok || !start.Active() {
			continue
		}

		visited := map[string]bool{seed: true}
		frontier := []frontierItem{{id: seed, conf: 1}}
		for depth := 1; depth <= p.MaxDepth && len(frontier) > 0; depth++ {
			var next []frontierItem
			for _, item := range frontier {
				if err := ctx.Err(); err != nil {
					return out, err
				}
				for _, step := range s.neighbours(item.id, p) {
					if visited[step.to] {
						continue
					}
					n, ok := s.Node(step.to)
					if !ok || !n.Active() {
						continue
					}
					visited[step.to] = true

					path := append(slices.Clone(item.path), step.edge)
					conf := item.conf * step.edge.Confidence
					if p.TargetType == "" || n.Type == p.TargetType {
						out = append(out, Match{
							Node:           n,
							Seed:           seed,
							Depth:          depth,
							Path:           path,
							PathConfidence: conf,
						})
						if p.Limit > 0 && len(out) >= p.Limit {
							return out, nil
						}
					}
					next = append(next, frontierItem{id: step.to, path: path, conf: conf})
				}
			}
			frontier = next
		}
	}
	return out, nil
}

type hop struct {
	to   string
	edge common.Edge
}

func (s *Snapshot) neighbours(id string, p Pattern) []hop {
	var hops []hop
	allowed := func(e common.Edge) bool {
		return len(p.Relations) == 0 || slices.Contains(p.Relations, e.Relation)
	}
	if p.Direction == Outgoing || p.Direction == Both {
		for _, e := range s.Out(id) {
			if allowed(e) {
				hops = append(hops, hop{to: e.Target, edge: e})
			}
		}
	}
	if p.Direction == Incoming || p.Direction == Both {
		for _, e := range s.In(id) {
			if allowed(e) {
				hops = append(hops, hop{to: e.Source, edge: e})
			}
		}
	}
	return hops
}
