// Package resolve merges extracted mentions into canonical graph nodes and
// edges.
//
// Resolution is pure: it reads a View of the current graph and returns a Plan
// of upsert intents without mutating anything, so that the caller can diff
// and commit the plan atomically.
package resolve

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"

	"github.com/OFFIS-RIT/maintkg/backend/pkg/common"

	mapset "github.com/deckarep/golang-set/v2"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// DefaultThreshold is the similarity above which a mention merges into an
// existing node.
const DefaultThreshold = 0.85

const scoreEpsilon = 1e-9

// ErrResolutionConflict marks an ambiguous merge or contradicting facts. Such
// conflicts are resolved by the tie-break rules and reported for audit.
var ErrResolutionConflict = errors.New("resolution conflict")

// View is the read access the resolver needs. Retracted items must be
// included so that they can be reactivated instead of recreated.
type View interface {
	Version() int64
	NodesByType(t common.EntityType) []common.Node
	Edge(key common.EdgeKey) (common.Edge, bool)
}

// Skip records a mention the resolver could not use.
type Skip struct {
	Mention string `json:"mention"`
	Reason  string `json:"reason"`
}

// Conflict records an ambiguous or contradicting resolution.
type Conflict struct {
	Kind       string   `json:"kind"`
	Mention    string   `json:"mention"`
	Candidates []string `json:"candidates"`
	Chosen     string   `json:"chosen"`
	Reason     string   `json:"reason"`
}

func (c Conflict) Error() string {
	return fmt.Sprintf("%s: %s %s: chose %s among %v (%s)", ErrResolutionConflict, c.Kind, c.Mention, c.Chosen, c.Candidates, c.Reason)
}

func (c Conflict) Unwrap() error { return ErrResolutionConflict }

// Plan is the output of a resolution: nodes and edges to upsert, each
// carrying only the aliases, attributes and provenance contributed by this
// batch. New reports which ids did not exist in the view.
type Plan struct {
	BaseVersion int64             `json:"base_version"`
	Nodes       []common.Node     `json:"nodes"`
	Edges       []common.Edge     `json:"edges"`
	New         map[string]bool   `json:"new"`
	Skipped     []Skip            `json:"skipped,omitempty"`
	Conflicts   []Conflict        `json:"conflicts,omitempty"`
	Matches     map[string]string `json:"-"`
}

// Config configures a Resolver.
type Config struct {
	Threshold  float64
	Similarity Similarity
	Aliases    *AliasTable
	Schema     *common.Schema
	// NewID generates ids for new nodes and edges. Defaults to go-nanoid.
	NewID func() (string, error)
}

// Resolver turns mentions into a Plan.
type Resolver struct {
	threshold float64
	sim       Similarity
	aliases   *AliasTable
	schema    *common.Schema
	newID     func() (string, error)
}

// New creates a Resolver, filling unset Config fields with defaults.
func New(cfg Config) *Resolver {
	r := &Resolver{
		threshold: cfg.Threshold,
		sim:       cfg.Similarity,
		aliases:   cfg.Aliases,
		schema:    cfg.Schema,
		newID:     cfg.NewID,
	}
	if r.threshold <= 0 || r.threshold > 1 {
		r.threshold = DefaultThreshold
	}
	if r.sim == nil {
		r.sim = Levenshtein{}
	}
	if r.aliases == nil {
		r.aliases = NewAliasTable()
	}
	if r.schema == nil {
		r.schema = common.DefaultSchema()
	}
	if r.newID == nil {
		r.newID = func() (string, error) { return gonanoid.New() }
	}
	return r
}

// Threshold returns the configured similarity threshold.
func (r *Resolver) Threshold() float64 { return r.threshold }

type candidate struct {
	id        string
	typ       common.EntityType
	label     string
	keys      mapset.Set[string]
	provCount int
	existing  bool
}

type run struct {
	r          *Resolver
	view       View
	plan       *Plan
	candidates map[common.EntityType][]*candidate
	nodeIdx    map[string]int
	edgeIdx    map[common.EdgeKey]int
}

// Resolve resolves a batch of mentions from one document ingestion against
// view. Entity mentions are processed grouped by type, relation mentions
// afterwards with their endpoints resolved first.
func (r *Resolver) Resolve(mentions []common.Mention, view View) (*Plan, error) {
	st := &run{
		r:    r,
		view: view,
		plan: &Plan{
			BaseVersion: view.Version(),
			New:         map[string]bool{},
			Matches:     map[string]string{},
		},
		candidates: map[common.EntityType][]*candidate{},
		nodeIdx:    map[string]int{},
		edgeIdx:    map[common.EdgeKey]int{},
	}

	var relations []common.RelationMention
	groups := map[common.EntityType][]common.EntityMention{}
	for _, m := range mentions {
		switch {
		case m.Kind == common.MentionEntity && m.Entity != nil:
			groups[m.Entity.Type] = append(groups[m.Entity.Type], *m.Entity)
		case m.Kind == common.MentionRelation && m.Relation != nil:
			relations = append(relations, *m.Relation)
		default:
			st.skip(m.String(), fmt.Sprintf("unrecognized mention kind %q", m.Kind))
		}
	}

	types := make([]common.EntityType, 0, len(groups))
	for t := range groups {
		types = append(types, t)
	}
	slices.Sort(types)

	for _, t := range types {
		for _, em := range groups[t] {
			if _, err := st.entity(em); err != nil {
				return nil, err
			}
		}
	}

	for _, rm := range relations {
		if err := st.relation(rm); err != nil {
			return nil, err
		}
	}
	return st.plan, nil
}

func (st *run) skip(mention, reason string) {
	st.plan.Skipped = append(st.plan.Skipped, Skip{Mention: mention, Reason: reason})
}

func (st *run) loadCandidates(t common.EntityType) []*candidate {
	if c, ok := st.candidates[t]; ok {
		return c
	}
	nodes := st.view.NodesByType(t)
	out := make([]*candidate, 0, len(nodes))
	for _, n := range nodes {
		keys := mapset.NewThreadUnsafeSet[string](common.NormalizeValue(n.Label))
		for _, a := range n.Aliases {
			keys.Add(a)
		}
		out = append(out, &candidate{
			id:        n.ID,
			typ:       n.Type,
			label:     n.Label,
			keys:      keys,
			provCount: len(n.Provenance),
			existing:  true,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	st.candidates[t] = out
	return out
}

// entity resolves one entity mention to a node id and records its
// contribution in the plan. An empty id means the mention was skipped.
func (st *run) entity(em common.EntityMention) (string, error) {
	if !st.r.schema.KnownEntity(em.Type) {
		st.skip(common.NewEntityMention(em).String(), fmt.Sprintf("unrecognized entity type %q", em.Type))
		return "", nil
	}
	// threshold values keep the extractor's canonical form, e.g.
	// "torque <=30 n·m"; every other key is compared normalized
	key := em.Normalized
	switch {
	case key == "":
		key = common.NormalizeValue(em.Surface)
	case em.Type != common.EntityThreshold:
		key = common.NormalizeValue(key)
	}
	if key == "" {
		st.skip(common.NewEntityMention(em).String(), "empty normalized value")
		return "", nil
	}

	label := em.Surface
	lookup := []string{key}
	if canonical, ok := st.r.aliases.Canonical(em.Type, key); ok {
		label = canonical
		if ck := common.NormalizeValue(canonical); ck != key {
			lookup = append(lookup, ck)
		}
	}

	cands := st.loadCandidates(em.Type)
	c := st.match(em, cands, lookup)
	if c == nil {
		id, err := st.r.newID()
		if err != nil {
			return "", fmt.Errorf("generate node id: %w", err)
		}
		c = &candidate{
			id:    id,
			typ:   em.Type,
			label: label,
			keys:  mapset.NewThreadUnsafeSet[string](lookup...),
		}
		st.candidates[em.Type] = append(cands, c)
		st.plan.New[id] = true
	}
	for _, k := range lookup {
		c.keys.Add(k)
	}

	st.contributeNode(c, em, lookup)
	st.plan.Matches[string(em.Type)+"|"+key] = c.id
	return c.id, nil
}

type scored struct {
	c     *candidate
	score float64
}

func (st *run) match(em common.EntityMention, cands []*candidate, lookup []string) *candidate {
	var exact []scored
	for _, c := range cands {
		for _, k := range lookup {
			if c.keys.Contains(k) {
				exact = append(exact, scored{c: c, score: 1})
				break
			}
		}
	}
	if len(exact) > 0 {
		return st.pick(em, exact, "exact alias match")
	}

	var above []scored
	for _, c := range cands {
		best := 0.0
		for _, k := range lookup {
			c.keys.Each(func(ck string) bool {
				if s := st.r.sim.Score(k, ck); s > best {
					best = s
				}
				return false
			})
		}
		if best >= st.r.threshold {
			above = append(above, scored{c: c, score: best})
		}
	}
	if len(above) == 0 {
		return nil
	}
	return st.pick(em, above, "similarity above threshold")
}

// pick applies the tie-break: highest score, then most prior provenance,
// then smallest id. More than one eligible candidate is reported.
func (st *run) pick(em common.EntityMention, options []scored, reason string) *candidate {
	sort.SliceStable(options, func(i, j int) bool {
		a, b := options[i], options[j]
		if math.Abs(a.score-b.score) > scoreEpsilon {
			return a.score > b.score
		}
		if a.c.provCount != b.c.provCount {
			return a.c.provCount > b.c.provCount
		}
		return a.c.id < b.c.id
	})
	chosen := options[0].c
	if len(options) > 1 {
		ids := make([]string, len(options))
		for i, o := range options {
			ids[i] = o.c.id
		}
		st.plan.Conflicts = append(st.plan.Conflicts, Conflict{
			Kind:       "ambiguous_merge",
			Mention:    common.NewEntityMention(em).String(),
			Candidates: ids,
			Chosen:     chosen.id,
			Reason:     reason + ", most established entity wins",
		})
	}
	return chosen
}

func (st *run) contributeNode(c *candidate, em common.EntityMention, keys []string) {
	idx, ok := st.nodeIdx[c.id]
	if !ok {
		st.plan.Nodes = append(st.plan.Nodes, common.Node{
			ID:    c.id,
			Type:  c.typ,
			Label: c.label,
		})
		idx = len(st.plan.Nodes) - 1
		st.nodeIdx[c.id] = idx
	}
	n := &st.plan.Nodes[idx]

	for _, k := range keys {
		if !slices.Contains(n.Aliases, k) {
			n.Aliases = append(n.Aliases, k)
		}
	}
	for k, v := range em.Attributes {
		if n.Attributes == nil {
			n.Attributes = map[string]string{}
		}
		if _, exists := n.Attributes[k]; !exists {
			n.Attributes[k] = v
		}
	}
	n.Confidence = math.Max(n.Confidence, em.Confidence)
	n.Provenance = addProvenance(n.Provenance, em.Provenance, em.Surface, em.Confidence)
}

func (st *run) relation(rm common.RelationMention) error {
	mention := common.NewRelationMention(rm).String()
	if !st.r.schema.KnownRelation(rm.Relation) {
		st.skip(mention, fmt.Sprintf("unrecognized relation type %q", rm.Relation))
		return nil
	}

	src, err := st.entity(rm.Source)
	if err != nil {
		return err
	}
	tgt, err := st.entity(rm.Target)
	if err != nil {
		return err
	}
	if src == "" || tgt == "" {
		st.skip(mention, "unresolved endpoint")
		return nil
	}
	if src == tgt {
		st.skip(mention, "self loop")
		return nil
	}

	symmetric := st.r.schema.Symmetric(rm.Relation)
	if symmetric && tgt < src {
		src, tgt = tgt, src
	}
	key := common.EdgeKey{Source: src, Target: tgt, Relation: rm.Relation}

	idx, ok := st.edgeIdx[key]
	if !ok {
		var id string
		if existing, found := st.view.Edge(key); found {
			id = existing.ID
		} else {
			id, err = st.r.newID()
			if err != nil {
				return fmt.Errorf("generate edge id: %w", err)
			}
			st.plan.New[id] = true
		}
		st.plan.Edges = append(st.plan.Edges, common.Edge{
			ID:       id,
			Source:   src,
			Target:   tgt,
			Relation: rm.Relation,
		})
		idx = len(st.plan.Edges) - 1
		st.edgeIdx[key] = idx

		if !symmetric {
			st.checkDirection(key, id, mention)
		}
	}

	e := &st.plan.Edges[idx]
	e.Confidence = math.Max(e.Confidence, rm.Confidence)
	surface := rm.Source.Surface + " " + string(rm.Relation) + " " + rm.Target.Surface
	e.Provenance = addProvenance(e.Provenance, rm.Provenance, surface, rm.Confidence)
	return nil
}

// checkDirection reports an edge whose reverse is already asserted, by the
// graph or by this batch. Both directions are kept; readers rank the more
// established one first.
func (st *run) checkDirection(key common.EdgeKey, id, mention string) {
	reverse := common.EdgeKey{Source: key.Target, Target: key.Source, Relation: key.Relation}
	var reverseID string
	if e, ok := st.view.Edge(reverse); ok && e.Active() {
		reverseID = e.ID
	} else if i, ok := st.edgeIdx[reverse]; ok {
		reverseID = st.plan.Edges[i].ID
	}
	if reverseID == "" {
		return
	}
	st.plan.Conflicts = append(st.plan.Conflicts, Conflict{
		Kind:       "conflicting_direction",
		Mention:    mention,
		Candidates: []string{reverseID, id},
		Chosen:     reverseID,
		Reason:     "reverse relation already asserted, most established fact wins at query time",
	})
}

func addProvenance(list []common.Provenance, mp common.MentionProvenance, surface string, conf float64) []common.Provenance {
	ref := mp.Ref()
	ev := common.Evidence{SectionID: mp.SectionID, Offset: mp.Offset, Surface: surface}
	for i := range list {
		if list[i].Ref == ref {
			if !slices.Contains(list[i].Evidence, ev) {
				list[i].Evidence = append(list[i].Evidence, ev)
			}
			list[i].Confidence = math.Max(list[i].Confidence, conf)
			return list
		}
	}
	return append(list, common.Provenance{Ref: ref, Evidence: []common.Evidence{ev}, Confidence: conf})
}

// Candidate is a read-only match of free text against the graph.
type Candidate struct {
	NodeID string            `json:"node_id"`
	Type   common.EntityType `json:"type"`
	Label  string            `json:"label"`
	Score  float64           `json:"score"`
	Exact  bool              `json:"exact"`
}

// Match returns every active node of type t (any type when t is empty) whose
// label or aliases match text exactly or above the threshold, best first.
// Near matches are kept next to an exact one so callers can offer every
// reading of an ambiguous name.
func (r *Resolver) Match(view View, t common.EntityType, text string) []Candidate {
	key := common.NormalizeValue(text)
	if key == "" {
		return nil
	}

	types := []common.EntityType{t}
	if t == "" {
		types = types[:0]
		for et := range r.schema.Entities {
			types = append(types, et)
		}
		slices.Sort(types)
	}

	var out []Candidate
	prov := map[string]int{}
	for _, et := range types {
		lookup := []string{key}
		if canonical, ok := r.aliases.Canonical(et, key); ok {
			lookup = append(lookup, common.NormalizeValue(canonical))
		}
		for _, n := range view.NodesByType(et) {
			if !n.Active() {
				continue
			}
			keys := append([]string{common.NormalizeValue(n.Label)}, n.Aliases...)
			best, exact := 0.0, false
			for _, k := range lookup {
				for _, nk := range keys {
					if k == nk {
						exact = true
						best = 1
						continue
					}
					if s := r.sim.Score(k, nk); s > best {
						best = s
					}
				}
			}
			if exact || best >= r.threshold {
				out = append(out, Candidate{NodeID: n.ID, Type: n.Type, Label: n.Label, Score: best, Exact: exact})
				prov[n.ID] = len(n.Provenance)
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if math.Abs(out[i].Score-out[j].Score) > scoreEpsilon {
			return out[i].Score > out[j].Score
		}
		if prov[out[i].NodeID] != prov[out[j].NodeID] {
			return prov[out[i].NodeID] > prov[out[j].NodeID]
		}
		return out[i].NodeID < out[j].NodeID
	})
	return out
}

// Describe renders a compact summary of the plan for logs.
func (p *Plan) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "nodes=%d edges=%d new=%d skipped=%d conflicts=%d",
		len(p.Nodes), len(p.Edges), len(p.New), len(p.Skipped), len(p.Conflicts))
	return b.String()
}
