// Package query answers natural-language questions over the knowledge graph.
//
// A question is run through the same extraction capability used for
// ingestion. The entities it names are matched against the latest graph
// version and turned into seeds of a bounded traversal pattern, whose
// matches are ranked and explained with the provenance that supports them.
// Answers never fail: unresolvable questions and timeouts are reported in
// the Answer itself.
package query

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/OFFIS-RIT/maintkg/backend/pkg/common"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/logger"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/resolve"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/store"
)

var (
	ErrQueryTimeout      = errors.New("query timed out")
	ErrQueryUnresolvable = errors.New("could not resolve entities")
)

const (
	defaultTimeout     = 5 * time.Second
	defaultLimit       = 20
	maxInterpretations = 8
	maxGram            = 5
	msgNoAnswer        = "no answer found"
	msgTimedOut        = "query timed out, results are partial"
)

// TextExtractor extracts mentions from free text. extract.Pipeline
// implements it.
type TextExtractor interface {
	ExtractText(ctx context.Context, text string) ([]common.Mention, error)
}

// Interpretation is one reading of the question: one node per named entity.
type Interpretation struct {
	Label   string              `json:"label"`
	Seeds   []resolve.Candidate `json:"seeds"`
	Pattern store.Pattern       `json:"pattern"`
}

// Answer is the outcome of a question.
type Answer struct {
	Question        string           `json:"question"`
	Version         int64            `json:"version"`
	Intent          Intent           `json:"intent"`
	Interpretations []Interpretation `json:"interpretations,omitempty"`
	Results         []Result         `json:"results"`
	Unresolved      bool             `json:"unresolved,omitempty"`
	TimedOut        bool             `json:"timed_out,omitempty"`
	Message         string           `json:"message,omitempty"`
	Cached          bool             `json:"cached,omitempty"`
}

// Err returns ErrQueryUnresolvable or ErrQueryTimeout when the answer
// carries one of those conditions.
func (a Answer) Err() error {
	switch {
	case a.Unresolved:
		return ErrQueryUnresolvable
	case a.TimedOut:
		return ErrQueryTimeout
	}
	return nil
}

// RunResult is the outcome of an explicit pattern.
type RunResult struct {
	Version  int64    `json:"version"`
	Results  []Result `json:"results"`
	TimedOut bool     `json:"timed_out,omitempty"`
}

// Engine answers questions against one graph.
type Engine struct {
	graph     *store.Graph
	extractor TextExtractor
	resolver  *resolve.Resolver
	schema    *common.Schema
	cache     Cache

	timeout  time.Duration
	maxDepth int
	limit    int

	tracer   Tracer
	observer func(Answer, time.Duration)
}

// NewEngineParams configures an Engine. Timeout defaults to five seconds,
// MaxDepth to store.DefaultMaxDepth and Limit to 20 results per
// interpretation. MaxDepth is capped at store.MaxDepthLimit.
type NewEngineParams struct {
	Graph     *store.Graph
	Extractor TextExtractor
	Resolver  *resolve.Resolver
	Schema    *common.Schema
	Cache     Cache
	Timeout   time.Duration
	MaxDepth  int
	Limit     int
}

type EngineOption func(*Engine)

// WithTracer records every question on t.
func WithTracer(t Tracer) EngineOption {
	return func(e *Engine) {
		e.tracer = t
	}
}

// WithObserver is called after every answered question.
func WithObserver(fn func(Answer, time.Duration)) EngineOption {
	return func(e *Engine) {
		e.observer = fn
	}
}

func NewEngine(params NewEngineParams, opts ...EngineOption) *Engine {
	e := &Engine{
		graph:     params.Graph,
		extractor: params.Extractor,
		resolver:  params.Resolver,
		schema:    params.Schema,
		cache:     params.Cache,
		timeout:   params.Timeout,
		maxDepth:  params.MaxDepth,
		limit:     params.Limit,
	}
	if e.schema == nil {
		e.schema = common.DefaultSchema()
	}
	if e.timeout <= 0 {
		e.timeout = defaultTimeout
	}
	if e.maxDepth <= 0 {
		e.maxDepth = store.DefaultMaxDepth
	}
	if e.maxDepth > store.MaxDepthLimit {
		logger.Warn("[Query][NewEngine] max depth clamped", "requested", e.maxDepth, "limit", store.MaxDepthLimit)
		e.maxDepth = store.MaxDepthLimit
	}
	if e.limit <= 0 {
		e.limit = defaultLimit
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(e)
	}
	return e
}

type answerConfig struct {
	tracer Tracer
}

type AnswerOption func(*answerConfig)

// WithTrace records this question on t in addition to the engine tracer.
func WithTrace(t Tracer) AnswerOption {
	return func(c *answerConfig) {
		c.tracer = t
	}
}

// Answer answers question against the latest committed version.
func (e *Engine) Answer(ctx context.Context, question string, opts ...AnswerOption) Answer {
	start := time.Now()
	cfg := answerConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	tracer := e.tracerFor(cfg.tracer)

	snap := e.graph.Latest()
	ans := e.answer(ctx, snap, strings.TrimSpace(question), tracer)

	if e.observer != nil {
		e.observer(ans, time.Since(start))
	}
	logger.Debug("[Query][Answer] answered",
		"version", ans.Version,
		"results", len(ans.Results),
		"interpretations", len(ans.Interpretations),
		"unresolved", ans.Unresolved,
		"timed_out", ans.TimedOut,
		"cached", ans.Cached,
		"duration", time.Since(start),
	)
	return ans
}

func (e *Engine) tracerFor(extra Tracer) Tracer {
	switch {
	case e.tracer == nil:
		return extra
	case extra == nil:
		return e.tracer
	}
	return MultiTracer{e.tracer, extra}
}

func (e *Engine) answer(ctx context.Context, snap *store.Snapshot, question string, tracer Tracer) Answer {
	ans := Answer{Question: question, Version: snap.Version(), Results: []Result{}}
	if question == "" {
		ans.Unresolved = true
		ans.Message = ErrQueryUnresolvable.Error()
		return ans
	}

	key := cacheKey(snap.Version(), question)
	if e.cache != nil {
		if cached, ok, err := e.cache.Get(ctx, key); err != nil {
			logger.Warn("[Query][Answer] cache read failed", "err", err)
		} else if ok {
			recordEvent(tracer, TraceEventCacheHit, question, snap.Version())
			cached.Cached = true
			return cached
		}
	}

	qctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var mentions []common.Mention
	if e.extractor != nil {
		var err error
		mentions, err = e.extractor.ExtractText(qctx, question)
		if err != nil {
			logger.Debug("[Query][Answer] extraction yielded nothing", "err", err)
		}
	}

	groups, spans := e.seedGroups(snap, question, mentions, tracer)
	ans.Intent = classify(question, spans, mentions, e.schema)
	if len(groups) == 0 {
		ans.Unresolved = true
		ans.Message = ErrQueryUnresolvable.Error()
		if qctx.Err() != nil {
			ans.TimedOut = true
		}
		return ans
	}

	ans.Interpretations = interpretations(groups, ans.Intent, e.maxDepth)
	var relations, types []string
	for _, r := range ans.Intent.Relations {
		relations = append(relations, string(r))
	}
	if ans.Intent.TargetType != "" {
		types = append(types, string(ans.Intent.TargetType))
	}
	recordPattern(tracer, relations, types)

	for i, in := range ans.Interpretations {
		matches, err := snap.Query(qctx, in.Pattern)
		results := rank(snap, matches, i, in.Label)
		if len(results) > e.limit {
			results = results[:e.limit]
		}
		ans.Results = append(ans.Results, results...)
		if err != nil {
			if qctx.Err() == nil {
				logger.Warn("[Query][Answer] interpretation skipped", "label", in.Label, "err", err)
				continue
			}
			ans.TimedOut = true
			recordEvent(tracer, TraceEventInterrupted, question, snap.Version())
			break
		}
	}

	var visited, sources []string
	for _, r := range ans.Results {
		visited = append(visited, r.Node.ID)
		for _, c := range r.Explanation.Citations {
			sources = append(sources, c.DocumentID)
		}
	}
	recordVisited(tracer, visited...)
	recordCitedSources(tracer, sources...)

	switch {
	case ans.TimedOut:
		ans.Message = msgTimedOut
	case len(ans.Results) == 0:
		ans.Message = msgNoAnswer
	}

	if e.cache != nil && !ans.TimedOut {
		if err := e.cache.Set(ctx, key, ans); err != nil {
			logger.Warn("[Query][Answer] cache write failed", "err", err)
		}
	}
	return ans
}

// seedGroups resolves the entities named by the question. Every group holds
// the candidates of one named entity; more than one candidate means the name
// is ambiguous.
func (e *Engine) seedGroups(snap *store.Snapshot, question string, mentions []common.Mention, tracer Tracer) ([][]resolve.Candidate, []string) {
	var (
		groups [][]resolve.Candidate
		spans  []string
		seen   = map[string]bool{}
	)
	add := func(t common.EntityType, surface string) {
		key := common.NormalizeValue(surface)
		if key == "" || seen[key] {
			return
		}
		seen[key] = true

		cands := e.resolver.Match(snap, t, surface)
		if len(cands) == 0 && t != "" {
			cands = e.resolver.Match(snap, "", surface)
		}
		if len(cands) == 0 {
			recordEvent(tracer, TraceEventUnresolvedRef, surface, snap.Version())
			return
		}
		groups = append(groups, cands)
		spans = append(spans, key)
	}

	for _, m := range mentions {
		switch {
		case m.Entity != nil:
			add(m.Entity.Type, m.Entity.Surface)
		case m.Relation != nil:
			add(m.Relation.Source.Type, m.Relation.Source.Surface)
			add(m.Relation.Target.Type, m.Relation.Target.Surface)
		}
	}

	// Names the extractor missed are found by exact lookup of word n-grams.
	q := common.NormalizeValue(question)
	for _, g := range grams(question, maxGram) {
		if seen[g] || coveredBy(g, spans) {
			continue
		}
		var exact []resolve.Candidate
		for _, c := range e.resolver.Match(snap, "", g) {
			if c.Exact {
				exact = append(exact, c)
			}
		}
		if len(exact) == 0 || !strings.Contains(q, g) {
			continue
		}
		seen[g] = true
		groups = append(groups, exact)
		spans = append(spans, g)
	}

	var ids []string
	for _, g := range groups {
		for _, c := range g {
			ids = append(ids, c.NodeID)
		}
	}
	recordSeeds(tracer, ids...)
	return groups, spans
}

func coveredBy(g string, spans []string) bool {
	return slices.ContainsFunc(spans, func(s string) bool { return strings.Contains(s, g) })
}

// interpretations expands the candidate groups into readings, one candidate
// per group, in order of candidate rank.
func interpretations(groups [][]resolve.Candidate, intent Intent, maxDepth int) []Interpretation {
	combos := [][]resolve.Candidate{{}}
	for _, g := range groups {
		var next [][]resolve.Candidate
		for _, combo := range combos {
			for _, c := range g {
				if len(next) >= maxInterpretations {
					break
				}
				next = append(next, append(slices.Clone(combo), c))
			}
		}
		combos = next
	}

	out := make([]Interpretation, 0, len(combos))
	for _, seeds := range combos {
		ids := make([]string, 0, len(seeds))
		labels := make([]string, 0, len(seeds))
		for _, s := range seeds {
			ids = append(ids, s.NodeID)
			labels = append(labels, fmt.Sprintf("%s (%s)", s.Label, s.Type))
		}
		out = append(out, Interpretation{
			Label: strings.Join(labels, ", "),
			Seeds: seeds,
			Pattern: store.Pattern{
				Seeds:      ids,
				Relations:  intent.Relations,
				Direction:  intent.Direction,
				TargetType: intent.TargetType,
				MaxDepth:   maxDepth,
			},
		})
	}
	return out
}

// Run executes an explicit pattern against the graph as of asOf (latest
// when non-positive). Results are ranked and truncated to p.Limit.
func (e *Engine) Run(ctx context.Context, p store.Pattern, asOf int64) (RunResult, error) {
	snap, err := e.graph.Snapshot(asOf)
	if err != nil {
		return RunResult{}, err
	}
	limit := p.Limit
	p.Limit = 0
	if p.MaxDepth <= 0 {
		p.MaxDepth = e.maxDepth
	}
	if _, err := p.Normalize(); err != nil {
		return RunResult{}, err
	}

	qctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	res := RunResult{Version: snap.Version()}
	matches, err := snap.Query(qctx, p)
	if err != nil {
		if qctx.Err() == nil {
			return RunResult{}, err
		}
		res.TimedOut = true
	}
	res.Results = rank(snap, matches, 0, "")
	if limit > 0 && len(res.Results) > limit {
		res.Results = res.Results[:limit]
	}
	return res, nil
}
