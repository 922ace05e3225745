package extract

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/OFFIS-RIT/maintkg/backend/pkg/common"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// Pipeline runs an Extractor over the segments of a document.
type Pipeline struct {
	extractor      Extractor
	validator      *Validator
	parallelMax    int
	segmentTimeout time.Duration
	observer       func(Failure)
}

// NewPipelineParams configures a Pipeline.
type NewPipelineParams struct {
	Extractor      Extractor
	Schema         *common.Schema
	ParallelMax    int
	SegmentTimeout time.Duration
	// OnFailure is called for every absorbed failure, e.g. to count metrics.
	OnFailure func(Failure)
}

// NewPipeline creates a Pipeline. ParallelMax defaults to 4 and
// SegmentTimeout to 30 seconds.
func NewPipeline(params NewPipelineParams) *Pipeline {
	parallel := params.ParallelMax
	if parallel <= 0 {
		parallel = 4
	}
	timeout := params.SegmentTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Pipeline{
		extractor:      params.Extractor,
		validator:      NewValidator(params.Schema),
		parallelMax:    parallel,
		segmentTimeout: timeout,
		observer:       params.OnFailure,
	}
}

// Validator returns the boundary validator used by the pipeline.
func (p *Pipeline) Validator() *Validator {
	return p.validator
}

type segmentResult struct {
	mentions []common.Mention
	failures []Failure
	// err aborts the document: the extractor failed or timed out, so the
	// segment's facts are unknown rather than absent.
	err error
}

// Run extracts mentions from every segment of doc. Malformed or empty
// segments and invalid mentions are absorbed into the report. An extractor
// error or a segment timeout aborts the run with ErrExtractionFailure, as does
// ctx ending before all segments were processed.
func (p *Pipeline) Run(ctx context.Context, doc common.Document) ([]common.Mention, Report, error) {
	report := Report{
		DocumentID:      doc.ID,
		DocumentVersion: doc.Version,
		Segments:        len(doc.Segments),
	}

	results := make([]segmentResult, len(doc.Segments))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallelMax)

	for i, seg := range doc.Segments {
		in := SegmentInput{DocumentID: doc.ID, DocumentVersion: doc.Version, Segment: seg}
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
			}
			results[i] = p.runSegment(gCtx, in)
			if results[i].err != nil {
				return results[i].err
			}
			return ctx.Err()
		})
	}
	err := g.Wait()

	var mentions []common.Mention
	for _, r := range results {
		mentions = append(mentions, r.mentions...)
		if len(r.failures) > 0 {
			report.Failures = append(report.Failures, r.failures...)
		}
		if len(r.mentions) == 0 && len(r.failures) > 0 {
			report.FailedSegments++
		}
	}
	report.Rejected = len(report.Failures) - report.FailedSegments
	if err != nil {
		return nil, report, err
	}
	sortMentions(mentions)
	report.Mentions = len(mentions)

	logger.Debug("[Extract][Run] document extracted",
		"document", doc.ID,
		"version", doc.Version,
		"segments", report.Segments,
		"mentions", report.Mentions,
		"failures", len(report.Failures),
	)
	return mentions, report, nil
}

// ExtractText runs the extractor on free text outside of any document, such
// as a question. Invalid mentions are dropped.
func (p *Pipeline) ExtractText(ctx context.Context, text string) ([]common.Mention, error) {
	in := SegmentInput{
		DocumentID: "question",
		Segment:    common.Segment{Text: text, SectionID: "question"},
	}
	res := p.runSegment(ctx, in)
	if res.err != nil {
		return nil, res.err
	}
	if len(res.mentions) == 0 && len(res.failures) > 0 {
		return nil, res.failures[0]
	}
	return res.mentions, nil
}

func (p *Pipeline) runSegment(ctx context.Context, in SegmentInput) segmentResult {
	fail := func(reason string) segmentResult {
		f := Failure{
			DocumentID: in.DocumentID,
			SectionID:  in.Segment.SectionID,
			Offset:     in.Segment.Offset,
			Reason:     reason,
		}
		p.absorb(f)
		return segmentResult{failures: []Failure{f}}
	}

	if !utf8.ValidString(in.Segment.Text) {
		return fail("malformed encoding")
	}
	if strings.TrimSpace(in.Segment.Text) == "" {
		return fail("empty segment")
	}

	segCtx, cancel := context.WithTimeout(ctx, p.segmentTimeout)
	defer cancel()

	raw, err := p.extractor.Extract(segCtx, in)
	if err != nil {
		if ctx.Err() != nil {
			return segmentResult{err: ctx.Err()}
		}
		f := Failure{
			DocumentID: in.DocumentID,
			SectionID:  in.Segment.SectionID,
			Offset:     in.Segment.Offset,
			Reason:     err.Error(),
		}
		if errors.Is(err, context.DeadlineExceeded) {
			f.Reason = "segment timed out"
		}
		logger.Error("[Extract][Segment] extractor failed", "document", f.DocumentID, "section", f.SectionID, "offset", f.Offset, "reason", f.Reason)
		if p.observer != nil {
			p.observer(f)
		}
		return segmentResult{failures: []Failure{f}, err: f}
	}

	res := segmentResult{mentions: make([]common.Mention, 0, len(raw))}
	for _, m := range raw {
		m = stamp(m, in)
		if err := p.validator.Mention(m); err != nil {
			f := Failure{
				DocumentID: in.DocumentID,
				SectionID:  in.Segment.SectionID,
				Offset:     in.Segment.Offset,
				Mention:    m.String(),
				Reason:     err.Error(),
			}
			p.absorb(f)
			res.failures = append(res.failures, f)
			continue
		}
		res.mentions = append(res.mentions, m)
	}
	return res
}

func (p *Pipeline) absorb(f Failure) {
	logger.Warn("[Extract][Segment] skipped", "document", f.DocumentID, "section", f.SectionID, "offset", f.Offset, "mention", f.Mention, "reason", f.Reason)
	if p.observer != nil {
		p.observer(f)
	}
}

// stamp overwrites provenance with the segment's, fills missing normalized
// values and rounds confidences so repeated runs compare equal.
func stamp(m common.Mention, in SegmentInput) common.Mention {
	prov := in.Provenance()
	fix := func(e common.EntityMention) common.EntityMention {
		e.Provenance = prov
		e.Surface = common.CleanText(e.Surface)
		if e.Normalized == "" {
			e.Normalized = common.NormalizeValue(e.Surface)
		}
		e.Confidence = roundConfidence(e.Confidence)
		return e
	}

	switch {
	case m.Entity != nil:
		e := fix(*m.Entity)
		m.Entity = &e
	case m.Relation != nil:
		r := *m.Relation
		r.Provenance = prov
		r.Source = fix(r.Source)
		r.Target = fix(r.Target)
		r.Confidence = roundConfidence(r.Confidence)
		m.Relation = &r
	}
	return m
}

func roundConfidence(c float64) float64 {
	return math.Round(c*1000) / 1000
}

func sortMentions(ms []common.Mention) {
	sort.SliceStable(ms, func(i, j int) bool {
		a, b := ms[i].Provenance(), ms[j].Provenance()
		if a.Offset != b.Offset {
			return a.Offset < b.Offset
		}
		if a.SectionID != b.SectionID {
			return a.SectionID < b.SectionID
		}
		return false
	})
}

// String renders a short report line.
func (r Report) String() string {
	return fmt.Sprintf("%s@%d: %d segments, %d mentions, %d failures",
		r.DocumentID, r.DocumentVersion, r.Segments, r.Mentions, len(r.Failures))
}
