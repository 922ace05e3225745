package query

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/OFFIS-RIT/maintkg/backend/pkg/common"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/resolve"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/store"
)

type textFunc func(ctx context.Context, text string) ([]common.Mention, error)

func (f textFunc) ExtractText(ctx context.Context, text string) ([]common.Mention, error) {
	return f(ctx, text)
}

func mentions(ms ...common.Mention) textFunc {
	return func(context.Context, string) ([]common.Mention, error) {
		return ms, nil
	}
}

func entityMention(t common.EntityType, surface string) common.Mention {
	return common.NewEntityMention(common.EntityMention{
		Type:       t,
		Surface:    surface,
		Normalized: common.NormalizeValue(surface),
		Confidence: 0.9,
	})
}

func prov(doc, section string, offset int, conf float64) common.Provenance {
	return common.Provenance{
		Ref:        common.ProvenanceRef{DocumentID: doc, DocumentVersion: 1},
		Evidence:   []common.Evidence{{SectionID: section, Offset: offset, Surface: "x"}},
		Confidence: conf,
	}
}

func node(id string, t common.EntityType, label string, ps ...common.Provenance) common.Node {
	return common.Node{
		ID:         id,
		Type:       t,
		Label:      label,
		Aliases:    []string{common.NormalizeValue(label)},
		Provenance: ps,
	}
}

func edge(id, src, tgt string, rel common.RelationType, ps ...common.Provenance) common.Edge {
	return common.Edge{ID: id, Source: src, Target: tgt, Relation: rel, Provenance: ps}
}

func commit(t *testing.T, g *store.Graph, doc string, nodes []common.Node, edges []common.Edge) {
	t.Helper()
	_, err := g.Update(context.Background(), func(tx *store.Tx) error {
		tx.SetDocument(common.ProvenanceRef{DocumentID: doc, DocumentVersion: 1})
		return tx.Upsert(nodes, edges)
	})
	if err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}
}

// requiresGraph holds three components requiring procedure P-7 and P-7
// requiring a torque wrench.
func requiresGraph(t *testing.T) *store.Graph {
	t.Helper()
	g := store.New()
	commit(t, g, "std-1",
		[]common.Node{
			node("proc", common.EntityProcedure, "Procedure P-7", prov("std-1", "4", 0, 0.9)),
			node("c-pump", common.EntityComponent, "Pump", prov("std-1", "4.1", 20, 0.9)),
			node("c-valve", common.EntityComponent, "Valve", prov("std-1", "4.2", 20, 0.6)),
			node("c-motor", common.EntityComponent, "Motor", prov("std-1", "4.3", 20, 0.75)),
			node("wrench", common.EntityTool, "Torque Wrench", prov("std-1", "4", 60, 0.8)),
		},
		[]common.Edge{
			edge("e1", "c-pump", "proc", common.RelRequires, prov("std-1", "4.1", 40, 0.9)),
			edge("e2", "c-valve", "proc", common.RelRequires, prov("std-1", "4.2", 40, 0.8)),
			edge("e3", "c-motor", "proc", common.RelRequires, prov("std-1", "4.3", 40, 0.7)),
			edge("e4", "proc", "wrench", common.RelRequires, prov("std-1", "4", 80, 0.9)),
		},
	)
	return g
}

func newTestEngine(g *store.Graph, ex TextExtractor, cache Cache, timeout time.Duration) *Engine {
	return NewEngine(NewEngineParams{
		Graph:     g,
		Extractor: ex,
		Resolver:  resolve.New(resolve.Config{}),
		Cache:     cache,
		Timeout:   timeout,
	})
}

func resultIDs(rs []Result) []string {
	ids := make([]string, len(rs))
	for i, r := range rs {
		ids[i] = r.Node.ID
	}
	return ids
}

func TestAnswerRanksComponentsRequiringProcedure(t *testing.T) {
	g := requiresGraph(t)
	e := newTestEngine(g, mentions(entityMention(common.EntityProcedure, "procedure P-7")), nil, 0)
	trace := NewQueryTrace()

	ans := e.Answer(context.Background(), "Which components require procedure P-7?", WithTrace(trace))
	if err := ans.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ans.Version != 1 {
		t.Fatalf("expected version 1, got %d", ans.Version)
	}

	want := []string{"c-pump", "c-motor", "c-valve"}
	if got := resultIDs(ans.Results); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	top := ans.Results[0]
	if top.Explanation.Summary != "Procedure P-7 <-[requires]- Pump" {
		t.Fatalf("unexpected summary %q", top.Explanation.Summary)
	}
	wantCitations := []Citation{
		{DocumentID: "std-1", DocumentVersion: 1, SectionID: "4.1", Offset: 20, Surface: "x"},
		{DocumentID: "std-1", DocumentVersion: 1, SectionID: "4.1", Offset: 40, Surface: "x"},
	}
	if !reflect.DeepEqual(top.Explanation.Citations, wantCitations) {
		t.Fatalf("expected citations %+v, got %+v", wantCitations, top.Explanation.Citations)
	}
	if top.Depth != 1 || top.Seed != "proc" {
		t.Fatalf("expected depth 1 from proc, got depth %d from %s", top.Depth, top.Seed)
	}

	snap := trace.Snapshot()
	if !reflect.DeepEqual(snap.SeedIDs, []string{"proc"}) {
		t.Fatalf("expected seed proc, got %v", snap.SeedIDs)
	}
	if !reflect.DeepEqual(snap.VisitedIDs, []string{"c-motor", "c-pump", "c-valve"}) {
		t.Fatalf("unexpected visited ids %v", snap.VisitedIDs)
	}
	if !reflect.DeepEqual(snap.SourceIDs, []string{"std-1"}) {
		t.Fatalf("unexpected sources %v", snap.SourceIDs)
	}
	if !reflect.DeepEqual(snap.Relations, []string{"requires"}) || !reflect.DeepEqual(snap.EntityTypes, []string{"component"}) {
		t.Fatalf("unexpected pattern trace %v %v", snap.Relations, snap.EntityTypes)
	}
}

func TestAnswerFallsBackToExactNames(t *testing.T) {
	g := requiresGraph(t)
	e := newTestEngine(g, mentions(), nil, 0)

	ans := e.Answer(context.Background(), "Which components require procedure P-7?")
	want := []string{"c-pump", "c-motor", "c-valve"}
	if got := resultIDs(ans.Results); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestAnswerAmbiguousEntity(t *testing.T) {
	g := store.New()
	commit(t, g, "std-1",
		[]common.Node{
			node("f1", common.EntityComponent, "Filter", prov("std-1", "1", 0, 0.8), prov("std-2", "1", 0, 0.8)),
			node("f2", common.EntityComponent, "Filter", prov("std-1", "2", 0, 0.8)),
			node("wrench", common.EntityTool, "Wrench", prov("std-1", "1", 10, 0.8)),
			node("gauge", common.EntityTool, "Gauge", prov("std-1", "2", 10, 0.8)),
		},
		[]common.Edge{
			edge("e1", "f1", "wrench", common.RelRequires, prov("std-1", "1", 20, 0.8)),
			edge("e2", "f2", "gauge", common.RelRequires, prov("std-1", "2", 20, 0.8)),
		},
	)
	e := newTestEngine(g, mentions(entityMention(common.EntityComponent, "filter")), nil, 0)

	ans := e.Answer(context.Background(), "Which tools does the filter require?")
	if len(ans.Interpretations) != 2 {
		t.Fatalf("expected 2 interpretations, got %d", len(ans.Interpretations))
	}
	if ans.Interpretations[0].Seeds[0].NodeID != "f1" {
		t.Fatalf("expected better supported filter first, got %s", ans.Interpretations[0].Seeds[0].NodeID)
	}
	if ans.Interpretations[0].Label != "Filter (component)" {
		t.Fatalf("unexpected label %q", ans.Interpretations[0].Label)
	}

	if got := resultIDs(ans.Results); !reflect.DeepEqual(got, []string{"wrench", "gauge"}) {
		t.Fatalf("expected [wrench gauge], got %v", got)
	}
	if ans.Results[0].Interpretation != 0 || ans.Results[1].Interpretation != 1 {
		t.Fatalf("expected results grouped by interpretation, got %d and %d",
			ans.Results[0].Interpretation, ans.Results[1].Interpretation)
	}
}

func TestAnswerUnresolved(t *testing.T) {
	g := requiresGraph(t)
	e := newTestEngine(g, mentions(entityMention(common.EntityComponent, "Gearbox")), nil, 0)
	trace := NewQueryTrace()

	ans := e.Answer(context.Background(), "What does the gearbox require?", WithTrace(trace))
	if !ans.Unresolved {
		t.Fatalf("expected unresolved answer")
	}
	if !errors.Is(ans.Err(), ErrQueryUnresolvable) {
		t.Fatalf("expected ErrQueryUnresolvable, got %v", ans.Err())
	}
	if ans.Message != "could not resolve entities" {
		t.Fatalf("unexpected message %q", ans.Message)
	}
	if len(ans.Results) != 0 {
		t.Fatalf("expected no results, got %d", len(ans.Results))
	}
	if got := trace.Snapshot().Unresolved; !reflect.DeepEqual(got, []string{"Gearbox"}) {
		t.Fatalf("expected unresolved Gearbox, got %v", got)
	}
}

func TestAnswerNoResults(t *testing.T) {
	g := requiresGraph(t)
	e := newTestEngine(g, mentions(entityMention(common.EntityComponent, "Pump")), nil, 0)

	ans := e.Answer(context.Background(), "Which faults are caused by the pump?")
	if ans.Err() != nil {
		t.Fatalf("unexpected error: %v", ans.Err())
	}
	if len(ans.Results) != 0 || ans.Message != "no answer found" {
		t.Fatalf("expected empty answer, got %d results and %q", len(ans.Results), ans.Message)
	}
}

type memoryCache struct {
	mu      sync.Mutex
	entries map[string]Answer
	sets    int
}

func (c *memoryCache) Get(_ context.Context, key string) (Answer, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ans, ok := c.entries[key]
	return ans, ok, nil
}

func (c *memoryCache) Set(_ context.Context, key string, ans Answer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = ans
	c.sets++
	return nil
}

func TestAnswerTimeout(t *testing.T) {
	g := requiresGraph(t)
	blocking := textFunc(func(ctx context.Context, _ string) ([]common.Mention, error) {
		<-ctx.Done()
		return []common.Mention{entityMention(common.EntityProcedure, "procedure P-7")}, nil
	})
	cache := &memoryCache{entries: map[string]Answer{}}
	e := newTestEngine(g, blocking, cache, 20*time.Millisecond)

	ans := e.Answer(context.Background(), "Which components require procedure P-7?")
	if !ans.TimedOut {
		t.Fatalf("expected timed out answer")
	}
	if !errors.Is(ans.Err(), ErrQueryTimeout) {
		t.Fatalf("expected ErrQueryTimeout, got %v", ans.Err())
	}
	if cache.sets != 0 {
		t.Fatalf("expected timed out answer not to be cached, got %d writes", cache.sets)
	}
}

func TestAnswerCapsConfiguredDepth(t *testing.T) {
	g := requiresGraph(t)
	e := NewEngine(NewEngineParams{
		Graph:     g,
		Extractor: mentions(entityMention(common.EntityProcedure, "procedure P-7")),
		Resolver:  resolve.New(resolve.Config{}),
		MaxDepth:  store.MaxDepthLimit + 2,
	})
	if e.maxDepth != store.MaxDepthLimit {
		t.Fatalf("expected depth capped at %d, got %d", store.MaxDepthLimit, e.maxDepth)
	}

	ans := e.Answer(context.Background(), "Which components require procedure P-7?")
	if ans.TimedOut {
		t.Fatalf("expected no timeout, got %q", ans.Message)
	}
	if len(ans.Results) != 3 {
		t.Fatalf("expected 3 results, got %v", resultIDs(ans.Results))
	}
}

func TestAnswerCache(t *testing.T) {
	g := requiresGraph(t)
	cache := &memoryCache{entries: map[string]Answer{}}
	e := newTestEngine(g, mentions(entityMention(common.EntityProcedure, "procedure P-7")), cache, 0)
	trace := NewQueryTrace()
	ctx := context.Background()

	first := e.Answer(ctx, "Which components require procedure P-7?")
	if first.Cached {
		t.Fatalf("expected first answer to be computed")
	}
	second := e.Answer(ctx, "which components  require procedure p-7", WithTrace(trace))
	if !second.Cached {
		t.Fatalf("expected second answer from cache")
	}
	if !reflect.DeepEqual(resultIDs(first.Results), resultIDs(second.Results)) {
		t.Fatalf("expected cached results to match")
	}
	if trace.Snapshot().CacheHits != 1 {
		t.Fatalf("expected one cache hit, got %d", trace.Snapshot().CacheHits)
	}

	commit(t, g, "std-2",
		[]common.Node{node("c-fan", common.EntityComponent, "Fan", prov("std-2", "1", 0, 0.5))},
		[]common.Edge{edge("e5", "c-fan", "proc", common.RelRequires, prov("std-2", "1", 10, 0.5))},
	)
	third := e.Answer(ctx, "Which components require procedure P-7?")
	if third.Cached || third.Version != 2 {
		t.Fatalf("expected fresh answer at version 2, got cached=%v version=%d", third.Cached, third.Version)
	}
	if len(third.Results) != 4 {
		t.Fatalf("expected 4 results after commit, got %d", len(third.Results))
	}
}

func TestRun(t *testing.T) {
	g := requiresGraph(t)
	e := newTestEngine(g, nil, nil, 0)
	ctx := context.Background()

	res, err := e.Run(ctx, store.Pattern{
		Seeds:     []string{"proc"},
		Relations: []common.RelationType{common.RelRequires},
		Direction: store.Incoming,
		Limit:     2,
	}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Version != 1 {
		t.Fatalf("expected version 1, got %d", res.Version)
	}
	if got := resultIDs(res.Results); !reflect.DeepEqual(got, []string{"c-pump", "c-motor"}) {
		t.Fatalf("expected [c-pump c-motor], got %v", got)
	}

	tests := []struct {
		name    string
		pattern store.Pattern
		asOf    int64
		want    error
	}{
		{name: "no seeds", pattern: store.Pattern{}, want: store.ErrInvalidPattern},
		{name: "bad direction", pattern: store.Pattern{Seeds: []string{"proc"}, Direction: "sideways"}, want: store.ErrInvalidPattern},
		{name: "future version", pattern: store.Pattern{Seeds: []string{"proc"}}, asOf: 9, want: store.ErrUnknownVersion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.Run(ctx, tt.pattern, tt.asOf); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}
