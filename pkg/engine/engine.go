// Package engine wires the extraction pipeline, resolver, graph store,
// update coordinator and query engine around one explicit graph and exposes
// the read API and ingestion.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/OFFIS-RIT/maintkg/backend/pkg/common"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/extract"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/graph"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/leaselock"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/logger"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/query"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/resolve"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/store"
)

// Config holds everything needed to build an Engine. Nil fields fall back
// to in-memory defaults: an unjournaled graph, the rule extractor, a
// Levenshtein resolver and an in-process lock.
type Config struct {
	Graph     *store.Graph
	Schema    *common.Schema
	Extractor extract.Extractor
	Resolver  *resolve.Resolver
	Locker    leaselock.Locker
	Cache     query.Cache

	LockWait       bool
	ParallelMax    int
	SegmentTimeout time.Duration
	UpdateTimeout  time.Duration
	QueryTimeout   time.Duration
	QueryMaxDepth  int
	QueryLimit     int

	Tracer query.Tracer
	Hooks  Hooks

	// Closers run on Close in reverse order.
	Closers []func() error
}

// Hooks observe the engine, e.g. to record metrics. Every hook is optional.
type Hooks struct {
	OnIngest            func(graph.Report, error)
	OnAnswer            func(query.Answer, time.Duration)
	OnExtractionFailure func(extract.Failure)
}

// Engine is the facade used by the HTTP server, the worker and the CLI.
type Engine struct {
	graph       *store.Graph
	pipeline    *extract.Pipeline
	resolver    *resolve.Resolver
	coordinator *graph.Coordinator
	query       *query.Engine
	closers     []func() error
}

func New(cfg Config) *Engine {
	schema := cfg.Schema
	if schema == nil {
		schema = common.DefaultSchema()
	}
	g := cfg.Graph
	if g == nil {
		g = store.New()
	}
	ex := cfg.Extractor
	if ex == nil {
		ex = extract.NewRuleExtractor(schema)
	}
	resolver := cfg.Resolver
	if resolver == nil {
		resolver = resolve.New(resolve.Config{Schema: schema})
	}

	pipeline := extract.NewPipeline(extract.NewPipelineParams{
		Extractor:      ex,
		Schema:         schema,
		ParallelMax:    cfg.ParallelMax,
		SegmentTimeout: cfg.SegmentTimeout,
		OnFailure:      cfg.Hooks.OnExtractionFailure,
	})

	var coordOpts []graph.CoordinatorOption
	if cfg.Hooks.OnIngest != nil {
		coordOpts = append(coordOpts, graph.WithObserver(cfg.Hooks.OnIngest))
	}
	coordinator := graph.NewCoordinator(graph.NewCoordinatorParams{
		Graph:    g,
		Pipeline: pipeline,
		Resolver: resolver,
		Locker:   cfg.Locker,
		Wait:     cfg.LockWait,
		Timeout:  cfg.UpdateTimeout,
	}, coordOpts...)

	var queryOpts []query.EngineOption
	if cfg.Tracer != nil {
		queryOpts = append(queryOpts, query.WithTracer(cfg.Tracer))
	}
	if cfg.Hooks.OnAnswer != nil {
		queryOpts = append(queryOpts, query.WithObserver(cfg.Hooks.OnAnswer))
	}
	qe := query.NewEngine(query.NewEngineParams{
		Graph:     g,
		Extractor: pipeline,
		Resolver:  resolver,
		Schema:    schema,
		Cache:     cfg.Cache,
		Timeout:   cfg.QueryTimeout,
		MaxDepth:  cfg.QueryMaxDepth,
		Limit:     cfg.QueryLimit,
	}, queryOpts...)

	return &Engine{
		graph:       g,
		pipeline:    pipeline,
		resolver:    resolver,
		coordinator: coordinator,
		query:       qe,
		closers:     cfg.Closers,
	}
}

// Restore replays the graph journal, if any.
func (e *Engine) Restore(ctx context.Context) error {
	if err := e.graph.Restore(ctx); err != nil {
		return err
	}
	logger.Info("[Engine][Restore] graph restored", "version", e.graph.Version(), "documents", len(e.graph.Documents()))
	return nil
}

// Sync applies journal commits appended by other processes, e.g. a worker
// sharing the postgres journal.
func (e *Engine) Sync(ctx context.Context) error {
	return e.graph.Restore(ctx)
}

// Follow calls Sync every interval until ctx ends.
func (e *Engine) Follow(ctx context.Context, every time.Duration, onSync func(version int64)) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.Sync(ctx); err != nil {
				if ctx.Err() == nil {
					logger.Warn("[Engine][Follow] journal catch-up failed", "err", err)
				}
				continue
			}
			if onSync != nil {
				onSync(e.graph.Version())
			}
		}
	}
}

// Graph returns the graph as of asOf, or the latest version when asOf is
// non-positive. Retracted items are included only when includeRetracted is
// set.
func (e *Engine) Graph(asOf int64, includeRetracted bool) (common.Graph, error) {
	snap, err := e.graph.Snapshot(asOf)
	if err != nil {
		return common.Graph{}, err
	}
	return snap.Graph(includeRetracted), nil
}

// Node returns one node as of asOf.
func (e *Engine) Node(asOf int64, id string) (common.Node, bool, error) {
	snap, err := e.graph.Snapshot(asOf)
	if err != nil {
		return common.Node{}, false, err
	}
	n, ok := snap.Node(id)
	return n, ok, nil
}

// Query runs an explicit traversal pattern.
func (e *Engine) Query(ctx context.Context, p store.Pattern, asOf int64) (query.RunResult, error) {
	return e.query.Run(ctx, p, asOf)
}

// Answer answers a natural-language question against the latest version.
func (e *Engine) Answer(ctx context.Context, question string, opts ...query.AnswerOption) query.Answer {
	return e.query.Answer(ctx, question, opts...)
}

// Ingest turns one document version into at most one graph version.
func (e *Engine) Ingest(ctx context.Context, doc common.Document) (graph.Report, error) {
	return e.coordinator.Ingest(ctx, doc)
}

// Remove retracts everything a document asserted.
func (e *Engine) Remove(ctx context.Context, documentID string) (graph.Report, error) {
	return e.coordinator.Remove(ctx, documentID)
}

// Validate checks a document at the ingestion boundary without ingesting it.
func (e *Engine) Validate(doc common.Document) error {
	return e.pipeline.Validator().Document(doc)
}

// Versions returns the version log in ascending order.
func (e *Engine) Versions() []common.VersionEntry {
	return e.graph.History()
}

// Version returns the latest committed version.
func (e *Engine) Version() int64 {
	return e.graph.Version()
}

// Documents returns the last ingested version of every document.
func (e *Engine) Documents() map[string]int64 {
	return e.graph.Documents()
}

// Match looks up the nodes matching text, for entity search.
func (e *Engine) Match(t common.EntityType, text string) []resolve.Candidate {
	return e.resolver.Match(e.graph.Latest(), t, text)
}

// Close releases journals, sinks and clients in reverse order of creation.
func (e *Engine) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
