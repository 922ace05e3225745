package store

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"reflect"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/OFFIS-RIT/maintkg/backend/pkg/common"
)

var errInvalidItem = errors.New("invalid graph item")

// Tx stages changes against the version the update started from. Reads
// through a Tx see the staged state layered over that base version. Nothing
// staged is visible to other readers until the update commits.
type Tx struct {
	g        *Graph
	base     int64
	nodes    map[string]*common.Node
	edges    map[string]*common.Edge
	newKeys  map[common.EdgeKey]string
	newTypes map[common.EntityType][]string
	document *common.ProvenanceRef
}

// Retraction lists the items that lost provenance in a retract call.
type Retraction struct {
	Nodes []string `json:"nodes"`
	Edges []string `json:"edges"`
}

func newTx(g *Graph, base int64) *Tx {
	return &Tx{
		g:        g,
		base:     base,
		nodes:    map[string]*common.Node{},
		edges:    map[string]*common.Edge{},
		newKeys:  map[common.EdgeKey]string{},
		newTypes: map[common.EntityType][]string{},
	}
}

// Version returns the base version of the transaction.
func (tx *Tx) Version() int64 {
	return tx.base
}

// SetDocument attributes the batch to a document version. The version log
// entry and the document record use it.
func (tx *Tx) SetDocument(ref common.ProvenanceRef) {
	tx.document = &ref
}

// Node returns the staged or base state of a node, in any state.
func (tx *Tx) Node(id string) (common.Node, bool) {
	if n, ok := tx.nodes[id]; ok {
		return *n, true
	}
	tx.g.mu.RLock()
	defer tx.g.mu.RUnlock()
	return tx.g.nodeAt(id, tx.base)
}

// NodesByType returns every node of type t, including retracted ones,
// ordered by id.
func (tx *Tx) NodesByType(t common.EntityType) []common.Node {
	tx.g.mu.RLock()
	ids := slices.Clone(tx.g.byType[t])
	tx.g.mu.RUnlock()
	ids = append(ids, tx.newTypes[t]...)
	slices.Sort(ids)

	out := make([]common.Node, 0, len(ids))
	for _, id := range slices.Compact(ids) {
		if n, ok := tx.Node(id); ok {
			out = append(out, n)
		}
	}
	return out
}

// Edge returns the staged or base edge with the given key, in any state.
func (tx *Tx) Edge(key common.EdgeKey) (common.Edge, bool) {
	if id, ok := tx.newKeys[key]; ok {
		return *tx.edges[id], true
	}
	tx.g.mu.RLock()
	id, ok := tx.g.edgeKeys[key]
	tx.g.mu.RUnlock()
	if !ok {
		return common.Edge{}, false
	}
	return tx.EdgeByID(id)
}

// EdgeByID returns the staged or base state of an edge, in any state.
func (tx *Tx) EdgeByID(id string) (common.Edge, bool) {
	if e, ok := tx.edges[id]; ok {
		return *e, true
	}
	tx.g.mu.RLock()
	defer tx.g.mu.RUnlock()
	return tx.g.edgeAt(id, tx.base)
}

func (tx *Tx) stageNode(id string) (*common.Node, bool) {
	if n, ok := tx.nodes[id]; ok {
		return n, true
	}
	tx.g.mu.RLock()
	base, ok := tx.g.nodeAt(id, tx.base)
	tx.g.mu.RUnlock()
	if !ok {
		return nil, false
	}
	n := cloneNode(base)
	tx.nodes[id] = &n
	return &n, true
}

func (tx *Tx) stageEdge(id string) (*common.Edge, bool) {
	if e, ok := tx.edges[id]; ok {
		return e, true
	}
	tx.g.mu.RLock()
	base, ok := tx.g.edgeAt(id, tx.base)
	tx.g.mu.RUnlock()
	if !ok {
		return nil, false
	}
	e := cloneEdge(base)
	tx.edges[id] = &e
	return &e, true
}

// Retract removes the provenance ref from every node and edge it supports.
// Items left without provenance become retracted.
func (tx *Tx) Retract(ref common.ProvenanceRef) Retraction {
	return tx.retract(ref.DocumentID, func(p common.Provenance) bool { return p.Ref == ref })
}

// RetractDocument removes every provenance of the document, whatever its
// version.
func (tx *Tx) RetractDocument(docID string) Retraction {
	return tx.retract(docID, func(p common.Provenance) bool { return p.Ref.DocumentID == docID })
}

func (tx *Tx) retract(docID string, match func(common.Provenance) bool) Retraction {
	var res Retraction

	candidates := tx.g.documentItems(docID)
	for id := range tx.nodes {
		candidates = append(candidates, "n:"+id)
	}
	for id := range tx.edges {
		candidates = append(candidates, "e:"+id)
	}
	slices.Sort(candidates)

	for _, item := range slices.Compact(candidates) {
		kind, id, _ := strings.Cut(item, ":")
		switch kind {
		case "n":
			n, ok := tx.Node(id)
			if !ok || !slices.ContainsFunc(n.Provenance, match) {
				continue
			}
			staged, _ := tx.stageNode(id)
			staged.Provenance = slices.DeleteFunc(staged.Provenance, match)
			settleNode(staged)
			res.Nodes = append(res.Nodes, id)
		case "e":
			e, ok := tx.EdgeByID(id)
			if !ok || !slices.ContainsFunc(e.Provenance, match) {
				continue
			}
			staged, _ := tx.stageEdge(id)
			staged.Provenance = slices.DeleteFunc(staged.Provenance, match)
			settleEdge(staged)
			res.Edges = append(res.Edges, id)
		}
	}
	return res
}

// Upsert merges nodes and edges into the staged state. New items are created
// active. Existing items gain aliases, missing attributes and provenance; a
// retracted item that gains provenance is reactivated under the same id.
// Provenance for a ref already present on an item replaces the old entry.
func (tx *Tx) Upsert(nodes []common.Node, edges []common.Edge) error {
	for _, n := range nodes {
		if err := tx.upsertNode(n); err != nil {
			return err
		}
	}
	for _, e := range edges {
		if err := tx.upsertEdge(e); err != nil {
			return err
		}
	}
	return nil
}

func (tx *Tx) upsertNode(in common.Node) error {
	if in.ID == "" || in.Type == "" {
		return fmt.Errorf("%w: node %q without id or type", errInvalidItem, in.Label)
	}

	n, exists := tx.stageNode(in.ID)
	if !exists {
		fresh := cloneNode(in)
		fresh.CreatedIn, fresh.UpdatedIn = 0, 0
		fresh.Provenance = nil
		fresh.Aliases = nil
		n = &fresh
		tx.nodes[in.ID] = n
		tx.newTypes[in.Type] = append(tx.newTypes[in.Type], in.ID)
	} else if n.Type != in.Type {
		return fmt.Errorf("%w: node %s has type %s, not %s", errInvalidItem, in.ID, n.Type, in.Type)
	}

	for _, a := range in.Aliases {
		if !slices.Contains(n.Aliases, a) {
			n.Aliases = append(n.Aliases, a)
		}
	}
	for k, v := range in.Attributes {
		if n.Attributes == nil {
			n.Attributes = map[string]string{}
		}
		if _, ok := n.Attributes[k]; !ok {
			n.Attributes[k] = v
		}
	}
	n.Provenance = mergeProvenance(n.Provenance, in.Provenance)
	settleNode(n)
	return nil
}

func (tx *Tx) upsertEdge(in common.Edge) error {
	if in.ID == "" || in.Source == "" || in.Target == "" || in.Relation == "" {
		return fmt.Errorf("%w: edge %q incomplete", errInvalidItem, in.ID)
	}
	if in.Source == in.Target {
		return fmt.Errorf("%w: edge %s is a self loop", errInvalidItem, in.ID)
	}
	for _, end := range []string{in.Source, in.Target} {
		if _, ok := tx.Node(end); !ok {
			return fmt.Errorf("%w: edge %s references unknown node %s", errInvalidItem, in.ID, end)
		}
	}

	id := in.ID
	if existing, ok := tx.Edge(in.Key()); ok {
		id = existing.ID
	}

	e, exists := tx.stageEdge(id)
	if !exists {
		fresh := cloneEdge(in)
		fresh.ID = id
		fresh.CreatedIn, fresh.UpdatedIn = 0, 0
		fresh.Provenance = nil
		e = &fresh
		tx.edges[id] = e
		tx.newKeys[in.Key()] = id
	} else if e.Key() != in.Key() {
		return fmt.Errorf("%w: edge %s already connects %s -[%s]-> %s", errInvalidItem, id, e.Source, e.Relation, e.Target)
	}

	e.Provenance = mergeProvenance(e.Provenance, in.Provenance)
	settleEdge(e)
	return nil
}

func mergeProvenance(existing, incoming []common.Provenance) []common.Provenance {
	for _, p := range incoming {
		p.Evidence = slices.Clone(p.Evidence)
		i := slices.IndexFunc(existing, func(e common.Provenance) bool { return e.Ref == p.Ref })
		if i >= 0 {
			existing[i] = p
			continue
		}
		existing = append(existing, p)
	}
	return existing
}

// settleNode derives state and confidence from the provenance set. Retracted
// nodes keep their last confidence and their aliases.
func settleNode(n *common.Node) {
	n.Provenance = settleProvenance(n.Provenance)
	if len(n.Aliases) == 0 {
		n.Aliases = nil
	}
	if len(n.Attributes) == 0 {
		n.Attributes = nil
	}
	if len(n.Provenance) == 0 {
		n.State = common.StateRetracted
		return
	}
	n.State = common.StateActive
	n.Confidence = maxConfidence(n.Provenance)
}

func settleEdge(e *common.Edge) {
	e.Provenance = settleProvenance(e.Provenance)
	if len(e.Provenance) == 0 {
		e.State = common.StateRetracted
		return
	}
	e.State = common.StateActive
	e.Confidence = maxConfidence(e.Provenance)
}

func settleProvenance(ps []common.Provenance) []common.Provenance {
	if len(ps) == 0 {
		return nil
	}
	for i := range ps {
		if len(ps[i].Evidence) == 0 {
			ps[i].Evidence = nil
		}
	}
	sort.SliceStable(ps, func(i, j int) bool { return ps[i].Ref.Less(ps[j].Ref) })
	return ps
}

func maxConfidence(ps []common.Provenance) float64 {
	c := 0.0
	for _, p := range ps {
		c = math.Max(c, p.Confidence)
	}
	return c
}

// commit turns the staged state into a Commit for version v. It reports false
// when no staged item differs from its base state.
func (tx *Tx) commit(v int64, now time.Time) (Commit, bool) {
	c := Commit{
		Entry: common.VersionEntry{
			Version:     v,
			CommittedAt: now.UTC(),
		},
		Document: tx.document,
	}
	if tx.document != nil {
		c.Entry.DocumentID = tx.document.DocumentID
		c.Entry.DocumentVersion = tx.document.DocumentVersion
	}

	tx.g.mu.RLock()
	defer tx.g.mu.RUnlock()

	for _, id := range slices.Sorted(maps.Keys(tx.nodes)) {
		n := *tx.nodes[id]
		base, existed := tx.g.nodeAt(id, tx.base)
		if existed && sameNode(base, n) {
			continue
		}
		if existed {
			n.CreatedIn = base.CreatedIn
		} else {
			n.CreatedIn = v
		}
		n.UpdatedIn = v
		c.Nodes = append(c.Nodes, n)
		c.Entry.ChangedNodes = append(c.Entry.ChangedNodes, id)
	}
	for _, id := range slices.Sorted(maps.Keys(tx.edges)) {
		e := *tx.edges[id]
		base, existed := tx.g.edgeAt(id, tx.base)
		if existed && sameEdge(base, e) {
			continue
		}
		if existed {
			e.CreatedIn = base.CreatedIn
		} else {
			e.CreatedIn = v
		}
		e.UpdatedIn = v
		c.Edges = append(c.Edges, e)
		c.Entry.ChangedEdges = append(c.Entry.ChangedEdges, id)
	}

	// removing a tracked document commits even when it supported nothing
	forget := c.Removal()
	if forget {
		_, forget = tx.g.documents[tx.document.DocumentID]
	}
	return c, len(c.Nodes) > 0 || len(c.Edges) > 0 || forget
}

func sameNode(a, b common.Node) bool {
	a.CreatedIn, a.UpdatedIn = 0, 0
	b.CreatedIn, b.UpdatedIn = 0, 0
	return reflect.DeepEqual(a, b)
}

func sameEdge(a, b common.Edge) bool {
	a.CreatedIn, a.UpdatedIn = 0, 0
	b.CreatedIn, b.UpdatedIn = 0, 0
	return reflect.DeepEqual(a, b)
}
