package extract

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/OFFIS-RIT/maintkg/backend/internal/util"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/ai"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/common"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/logger"

	"golang.org/x/time/rate"
)

type llmEntity struct {
	Name       string  `json:"name" jsonschema_description:"Exact name of the entity as written in the text"`
	Type       string  `json:"type" jsonschema:"enum=component,enum=procedure,enum=step,enum=task,enum=tool,enum=threshold,enum=fault_code,enum=safety_precaution" jsonschema_description:"Entity type"`
	Confidence float64 `json:"confidence" jsonschema_description:"Confidence between 0 and 1"`
	Severity   string  `json:"severity" jsonschema_description:"High or Medium for safety precautions, empty otherwise"`
}

type llmRelation struct {
	Source     string  `json:"source" jsonschema_description:"Name of the source entity"`
	SourceType string  `json:"source_type" jsonschema:"enum=component,enum=procedure,enum=step,enum=task,enum=tool,enum=threshold,enum=fault_code,enum=safety_precaution"`
	Target     string  `json:"target" jsonschema_description:"Name of the target entity"`
	TargetType string  `json:"target_type" jsonschema:"enum=component,enum=procedure,enum=step,enum=task,enum=tool,enum=threshold,enum=fault_code,enum=safety_precaution"`
	Relation   string  `json:"relation" jsonschema:"enum=part_of,enum=causes,enum=requires,enum=supersedes,enum=next_step,enum=related_to"`
	Confidence float64 `json:"confidence" jsonschema_description:"Confidence between 0 and 1"`
}

type llmResult struct {
	Entities  []llmEntity   `json:"entities" jsonschema_description:"Entities found in the text"`
	Relations []llmRelation `json:"relations" jsonschema_description:"Relations between the entities"`
}

// LLMExtractor uses a structured-output language model as the extraction
// capability. Long segments are split into token windows; calls are rate
// limited and retried.
type LLMExtractor struct {
	client       ai.ExtractionClient
	limiter      *rate.Limiter
	maxRetries   int
	windowTokens int
	opts         []ai.GenerateOption
}

// NewLLMExtractorParams configures an LLMExtractor.
type NewLLMExtractorParams struct {
	Client ai.ExtractionClient
	// RequestsPerSecond limits calls to the model. Zero disables limiting.
	RequestsPerSecond float64
	MaxRetries        int
	// WindowTokens bounds the prompt text per call. Zero sends the segment
	// in one call.
	WindowTokens int
	Options      []ai.GenerateOption
}

// NewLLMExtractor creates an LLMExtractor.
func NewLLMExtractor(params NewLLMExtractorParams) *LLMExtractor {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if params.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(params.RequestsPerSecond), 1)
	}
	retries := params.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	opts := append([]ai.GenerateOption{
		ai.WithSystemPrompts(ai.ExtractionSystemPrompt),
		ai.WithTemperature(0.1),
	}, params.Options...)

	return &LLMExtractor{
		client:       params.Client,
		limiter:      limiter,
		maxRetries:   retries,
		windowTokens: params.WindowTokens,
		opts:         opts,
	}
}

// Extract implements Extractor.
func (l *LLMExtractor) Extract(ctx context.Context, in SegmentInput) ([]common.Mention, error) {
	windows, err := ai.SplitByTokens(in.Segment.Text, l.windowTokens)
	if err != nil {
		return nil, fmt.Errorf("split segment: %w", err)
	}

	var out []common.Mention
	for _, w := range windows {
		res, err := util.RetryWithContext(ctx, l.maxRetries, func(ctx context.Context) (llmResult, error) {
			if err := l.limiter.Wait(ctx); err != nil {
				return llmResult{}, err
			}
			var res llmResult
			err := l.client.GenerateCompletionWithFormat(
				ctx,
				"extract_maintenance_knowledge",
				"Extract typed entities and relations from maintenance text.",
				fmt.Sprintf(ai.ExtractionPrompt, w),
				&res,
				l.opts...,
			)
			return res, err
		})
		if err != nil {
			return nil, err
		}
		out = append(out, toMentions(res, in)...)
	}

	logger.Debug("[Extract][LLM] segment extracted", "document", in.DocumentID, "offset", in.Segment.Offset, "windows", len(windows), "mentions", len(out))
	return out, nil
}

func toMentions(res llmResult, in SegmentInput) []common.Mention {
	out := make([]common.Mention, 0, len(res.Entities)+len(res.Relations))
	for _, e := range res.Entities {
		m := entity(common.EntityType(strings.ToLower(e.Type)), e.Name, clamp(e.Confidence), in)
		if m.Type == common.EntitySafetyPrecaution && e.Severity != "" {
			m.Attributes = map[string]string{"severity": e.Severity}
		}
		out = append(out, common.NewEntityMention(m))
	}
	for _, r := range res.Relations {
		conf := clamp(r.Confidence)
		src := entity(common.EntityType(strings.ToLower(r.SourceType)), r.Source, conf, in)
		tgt := entity(common.EntityType(strings.ToLower(r.TargetType)), r.Target, conf, in)
		out = append(out, common.NewRelationMention(common.RelationMention{
			Relation:   common.RelationType(strings.ToLower(r.Relation)),
			Source:     src,
			Target:     tgt,
			Confidence: conf,
			Provenance: in.Provenance(),
		}))
	}
	return out
}

func clamp(c float64) float64 {
	if math.IsNaN(c) {
		return 0
	}
	return math.Max(0, math.Min(1, c))
}
