package query

import (
	"slices"
	"sync"
)

type TraceEventKind string

const (
	TraceEventSeeds         TraceEventKind = "seeds"
	TraceEventPattern       TraceEventKind = "pattern"
	TraceEventVisited       TraceEventKind = "visited"
	TraceEventCitedSources  TraceEventKind = "cited_sources"
	TraceEventCacheHit      TraceEventKind = "cache_hit"
	TraceEventInterrupted   TraceEventKind = "interrupted"
	TraceEventUnresolvedRef TraceEventKind = "unresolved_reference"
)

// TraceEvent is an extensible event envelope for query tracing.
// Additive changes to this struct are backward compatible for implementers.
type TraceEvent struct {
	Kind TraceEventKind

	NodeIDs     []string
	SourceIDs   []string
	Relations   []string
	EntityTypes []string
	Text        string
	Version     int64
}

// Tracer is a sink for query tracing events.
type Tracer interface {
	Record(event TraceEvent)
}

// MultiTracer fan-outs trace events to multiple tracers.
type MultiTracer []Tracer

func (m MultiTracer) Record(event TraceEvent) {
	for _, t := range m {
		if t == nil {
			continue
		}
		t.Record(event)
	}
}

func recordSeeds(t Tracer, ids ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventSeeds, NodeIDs: ids})
}

func recordPattern(t Tracer, relations, types []string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventPattern, Relations: relations, EntityTypes: types})
}

func recordVisited(t Tracer, ids ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventVisited, NodeIDs: ids})
}

func recordCitedSources(t Tracer, ids ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventCitedSources, SourceIDs: ids})
}

func recordEvent(t Tracer, kind TraceEventKind, text string, version int64) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: kind, Text: text, Version: version})
}

// QueryTrace collects what a question touched: the seed nodes it resolved to,
// the nodes visited while matching, and the documents cited in the answer.
//
// QueryTrace is safe for concurrent use.
type QueryTrace struct {
	mu sync.Mutex

	seeds      map[string]struct{}
	visited    map[string]struct{}
	sources    map[string]struct{}
	relations  map[string]struct{}
	types      map[string]struct{}
	unresolved []string
	cacheHits  int
	interrupts int
}

type QueryTraceSnapshot struct {
	SeedIDs     []string `json:"seed_ids"`
	VisitedIDs  []string `json:"visited_ids"`
	SourceIDs   []string `json:"source_ids"`
	Relations   []string `json:"relations"`
	EntityTypes []string `json:"entity_types"`
	Unresolved  []string `json:"unresolved,omitempty"`
	CacheHits   int      `json:"cache_hits"`
	Interrupts  int      `json:"interrupts"`
}

func NewQueryTrace() *QueryTrace {
	return &QueryTrace{
		seeds:     make(map[string]struct{}),
		visited:   make(map[string]struct{}),
		sources:   make(map[string]struct{}),
		relations: make(map[string]struct{}),
		types:     make(map[string]struct{}),
	}
}

func (t *QueryTrace) Record(event TraceEvent) {
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	add := func(set map[string]struct{}, values []string) {
		for _, v := range values {
			if v == "" {
				continue
			}
			set[v] = struct{}{}
		}
	}

	switch event.Kind {
	case TraceEventSeeds:
		add(t.seeds, event.NodeIDs)
	case TraceEventVisited:
		add(t.visited, event.NodeIDs)
	case TraceEventCitedSources:
		add(t.sources, event.SourceIDs)
	case TraceEventPattern:
		add(t.relations, event.Relations)
		add(t.types, event.EntityTypes)
	case TraceEventUnresolvedRef:
		t.unresolved = append(t.unresolved, event.Text)
	case TraceEventCacheHit:
		t.cacheHits++
	case TraceEventInterrupted:
		t.interrupts++
	default:
		return
	}
}

func (t *QueryTrace) Snapshot() QueryTraceSnapshot {
	if t == nil {
		return QueryTraceSnapshot{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	sorted := func(set map[string]struct{}) []string {
		out := make([]string, 0, len(set))
		for v := range set {
			out = append(out, v)
		}
		slices.Sort(out)
		return out
	}

	return QueryTraceSnapshot{
		SeedIDs:     sorted(t.seeds),
		VisitedIDs:  sorted(t.visited),
		SourceIDs:   sorted(t.sources),
		Relations:   sorted(t.relations),
		EntityTypes: sorted(t.types),
		Unresolved:  slices.Clone(t.unresolved),
		CacheHits:   t.cacheHits,
		Interrupts:  t.interrupts,
	}
}
