// Package store holds the versioned knowledge graph.
//
// A Graph keeps every revision of every node and edge, so that any committed
// version can be read back. Writers go through Update, which stages changes
// in a Tx and commits them as exactly one new version, or none when the batch
// changes nothing. Readers pin a version with Snapshot and never observe a
// partially applied batch.
package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/OFFIS-RIT/maintkg/backend/pkg/common"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/logger"

	mapset "github.com/deckarep/golang-set/v2"
)

var (
	// ErrCommitFailure is returned when a batch was aborted and rolled back.
	ErrCommitFailure = errors.New("commit failure")
	// ErrUnknownVersion is returned for reads beyond the latest version.
	ErrUnknownVersion = errors.New("unknown graph version")
)

type nodeRev struct {
	version int64
	node    common.Node
}

type edgeRev struct {
	version int64
	edge    common.Edge
}

// Graph is the versioned graph store. The zero value is not usable; create
// one with New.
type Graph struct {
	mu       sync.RWMutex
	commitMu sync.Mutex

	version   int64
	nodes     map[string][]nodeRev
	edges     map[string][]edgeRev
	byType    map[common.EntityType][]string
	edgeKeys  map[common.EdgeKey]string
	bySource  map[string][]string
	byTarget  map[string][]string
	byDoc     map[string]mapset.Set[string]
	documents map[string]int64
	history   []common.VersionEntry

	journal     Journal
	sinks       []Sink
	sinkTimeout time.Duration
	onSinkError func(error)
	now         func() time.Time
}

// Option configures a Graph.
type Option func(*Graph)

// WithJournal makes every commit durable in j before it is applied.
func WithJournal(j Journal) Option {
	return func(g *Graph) {
		g.journal = j
	}
}

// WithSink adds a post-commit projection.
func WithSink(s Sink) Option {
	return func(g *Graph) {
		if s != nil {
			g.sinks = append(g.sinks, s)
		}
	}
}

// WithSinkTimeout bounds each sink projection. Defaults to 10 seconds.
func WithSinkTimeout(d time.Duration) Option {
	return func(g *Graph) {
		g.sinkTimeout = d
	}
}

// OnSinkError registers a callback for failed projections.
func OnSinkError(fn func(error)) Option {
	return func(g *Graph) {
		g.onSinkError = fn
	}
}

// WithClock overrides the commit timestamp source.
func WithClock(now func() time.Time) Option {
	return func(g *Graph) {
		g.now = now
	}
}

// New creates an empty graph at version 0.
func New(opts ...Option) *Graph {
	g := &Graph{
		nodes:       map[string][]nodeRev{},
		edges:       map[string][]edgeRev{},
		byType:      map[common.EntityType][]string{},
		edgeKeys:    map[common.EdgeKey]string{},
		bySource:    map[string][]string{},
		byTarget:    map[string][]string{},
		byDoc:       map[string]mapset.Set[string]{},
		documents:   map[string]int64{},
		sinkTimeout: 10 * time.Second,
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(g)
	}
	return g
}

// Version returns the latest committed version.
func (g *Graph) Version() int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.version
}

// Latest returns a snapshot of the latest committed version.
func (g *Graph) Latest() *Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return &Snapshot{g: g, version: g.version}
}

// Snapshot pins the graph at version asOf. A non-positive asOf reads the
// latest version.
func (g *Graph) Snapshot(asOf int64) (*Snapshot, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if asOf <= 0 {
		return &Snapshot{g: g, version: g.version}, nil
	}
	if asOf > g.version {
		return nil, fmt.Errorf("%w: %d (latest %d)", ErrUnknownVersion, asOf, g.version)
	}
	return &Snapshot{g: g, version: asOf}, nil
}

// History returns the version log in ascending order.
func (g *Graph) History() []common.VersionEntry {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Clone(g.history)
}

// Documents returns the last committed version of every ingested document
// that has not been removed since.
func (g *Graph) Documents() map[string]int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string]int64, len(g.documents))
	for k, v := range g.documents {
		out[k] = v
	}
	return out
}

// DocumentVersion returns the last committed version of one document.
func (g *Graph) DocumentVersion(id string) (int64, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	v, ok := g.documents[id]
	return v, ok
}

// CommitResult describes the outcome of Update.
type CommitResult struct {
	// Version is the version readers see after the update. It equals
	// BaseVersion when nothing changed.
	Version      int64    `json:"version"`
	BaseVersion  int64    `json:"base_version"`
	Committed    bool     `json:"committed"`
	ChangedNodes []string `json:"changed_nodes,omitempty"`
	ChangedEdges []string `json:"changed_edges,omitempty"`
}

// Update runs fn against a Tx and commits the staged changes as one version.
// Updates are serialized. If fn fails, ctx ends before the commit point or the
// journal rejects the batch, nothing becomes visible and the returned error
// wraps ErrCommitFailure. A batch with an empty net diff is not committed and
// does not bump the version.
func (g *Graph) Update(ctx context.Context, fn func(*Tx) error) (CommitResult, error) {
	g.commitMu.Lock()
	defer g.commitMu.Unlock()

	base := g.Version()
	res := CommitResult{Version: base, BaseVersion: base}

	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("%w: %w", ErrCommitFailure, err)
	}

	tx := newTx(g, base)
	if err := fn(tx); err != nil {
		logger.Debug("[Store][Update] rolled back", "base", base, "err", err)
		return res, fmt.Errorf("%w: %w", ErrCommitFailure, err)
	}
	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("%w: %w", ErrCommitFailure, err)
	}

	commit, ok := tx.commit(base+1, g.now())
	if !ok {
		logger.Debug("[Store][Update] empty diff, no version bump", "base", base)
		return res, nil
	}

	if g.journal != nil {
		if err := g.journal.Append(ctx, commit); err != nil {
			logger.Error("[Store][Update] journal append failed", "version", commit.Version(), "err", err)
			return res, fmt.Errorf("%w: journal: %w", ErrCommitFailure, err)
		}
	}

	if err := g.apply(commit); err != nil {
		return res, fmt.Errorf("%w: %w", ErrCommitFailure, err)
	}

	res.Version = commit.Version()
	res.Committed = true
	res.ChangedNodes = commit.Entry.ChangedNodes
	res.ChangedEdges = commit.Entry.ChangedEdges

	logger.Info("[Store][Update] committed",
		"version", res.Version,
		"document", commit.Entry.DocumentID,
		"nodes", len(res.ChangedNodes),
		"edges", len(res.ChangedEdges),
	)

	g.project(commit)
	return res, nil
}

// Restore replays journal commits newer than the current version. Calling
// it again picks up commits appended by other processes sharing the journal.
func (g *Graph) Restore(ctx context.Context) error {
	if g.journal == nil {
		return nil
	}
	g.commitMu.Lock()
	defer g.commitMu.Unlock()

	from := g.Version()
	n := 0
	err := g.journal.Replay(ctx, func(c Commit) error {
		if c.Version() <= from {
			return nil
		}
		if err := g.apply(c); err != nil {
			return err
		}
		n++
		return nil
	})
	if err != nil {
		return fmt.Errorf("restore graph: %w", err)
	}
	if n > 0 {
		logger.Info("[Store][Restore] journal replayed", "commits", n, "version", g.Version())
	}
	return nil
}

func (g *Graph) apply(c Commit) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	v := c.Version()
	if v != g.version+1 {
		return fmt.Errorf("commit version %d does not follow %d", v, g.version)
	}

	for _, n := range c.Nodes {
		revs, exists := g.nodes[n.ID]
		if !exists {
			g.byType[n.Type] = append(g.byType[n.Type], n.ID)
		}
		g.nodes[n.ID] = append(revs, nodeRev{version: v, node: cloneNode(n)})
		for _, p := range n.Provenance {
			g.docIndex(p.Ref.DocumentID).Add("n:" + n.ID)
		}
	}
	for _, e := range c.Edges {
		revs, exists := g.edges[e.ID]
		if !exists {
			g.edgeKeys[e.Key()] = e.ID
			g.bySource[e.Source] = append(g.bySource[e.Source], e.ID)
			g.byTarget[e.Target] = append(g.byTarget[e.Target], e.ID)
		}
		g.edges[e.ID] = append(revs, edgeRev{version: v, edge: cloneEdge(e)})
		for _, p := range e.Provenance {
			g.docIndex(p.Ref.DocumentID).Add("e:" + e.ID)
		}
	}
	switch {
	case c.Document == nil:
	case c.Removal():
		delete(g.documents, c.Document.DocumentID)
	default:
		g.documents[c.Document.DocumentID] = c.Document.DocumentVersion
	}
	g.history = append(g.history, c.Entry)
	g.version = v
	return nil
}

func (g *Graph) docIndex(docID string) mapset.Set[string] {
	s, ok := g.byDoc[docID]
	if !ok {
		s = mapset.NewThreadUnsafeSet[string]()
		g.byDoc[docID] = s
	}
	return s
}

func (g *Graph) project(c Commit) {
	for _, s := range g.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), g.sinkTimeout)
		err := s.Project(ctx, c)
		cancel()
		if err != nil {
			logger.Warn("[Store][Sink] projection failed", "version", c.Version(), "err", err)
			if g.onSinkError != nil {
				g.onSinkError(err)
			}
		}
	}
}

// nodeAt returns the revision of id visible at version v.
func (g *Graph) nodeAt(id string, v int64) (common.Node, bool) {
	revs := g.nodes[id]
	i := sort.Search(len(revs), func(i int) bool { return revs[i].version > v })
	if i == 0 {
		return common.Node{}, false
	}
	return revs[i-1].node, true
}

func (g *Graph) edgeAt(id string, v int64) (common.Edge, bool) {
	revs := g.edges[id]
	i := sort.Search(len(revs), func(i int) bool { return revs[i].version > v })
	if i == 0 {
		return common.Edge{}, false
	}
	return revs[i-1].edge, true
}

func (g *Graph) documentItems(docID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s, ok := g.byDoc[docID]
	if !ok {
		return nil
	}
	items := s.ToSlice()
	slices.Sort(items)
	return items
}

func cloneNode(n common.Node) common.Node {
	n.Aliases = slices.Clone(n.Aliases)
	if n.Attributes != nil {
		attrs := make(map[string]string, len(n.Attributes))
		for k, v := range n.Attributes {
			attrs[k] = v
		}
		n.Attributes = attrs
	}
	n.Provenance = cloneProvenance(n.Provenance)
	return n
}

func cloneEdge(e common.Edge) common.Edge {
	e.Provenance = cloneProvenance(e.Provenance)
	return e
}

func cloneProvenance(in []common.Provenance) []common.Provenance {
	if in == nil {
		return nil
	}
	out := make([]common.Provenance, len(in))
	for i, p := range in {
		p.Evidence = slices.Clone(p.Evidence)
		out[i] = p
	}
	return out
}
