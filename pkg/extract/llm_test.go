package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/OFFIS-RIT/maintkg/backend/pkg/ai"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/common"
)

type fakeExtractionClient struct {
	calls    int
	failures int
	result   llmResult
}

func (f *fakeExtractionClient) GenerateCompletionWithFormat(
	ctx context.Context,
	name string,
	description string,
	prompt string,
	out any,
	opts ...ai.GenerateOption,
) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("upstream 503")
	}
	*(out.(*llmResult)) = f.result
	return nil
}

func (f *fakeExtractionClient) ResetMetrics()               {}
func (f *fakeExtractionClient) GetMetrics() ai.ModelMetrics { return ai.ModelMetrics{} }

func TestLLMExtractorConvertsAndRetries(t *testing.T) {
	client := &fakeExtractionClient{
		failures: 2,
		result: llmResult{
			Entities: []llmEntity{
				{Name: "Hydraulic Pump", Type: "component", Confidence: 0.93},
				{Name: "Wear gloves", Type: "safety_precaution", Confidence: 1.4, Severity: "High"},
			},
			Relations: []llmRelation{
				{Source: "Hydraulic Pump", SourceType: "component", Target: "P-12", TargetType: "procedure", Relation: "REQUIRES", Confidence: 0.8},
			},
		},
	}

	x := NewLLMExtractor(NewLLMExtractorParams{Client: client, MaxRetries: 3})
	ms, err := x.Extract(context.Background(), ruleInput("The hydraulic pump requires procedure P-12."))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", client.calls)
	}
	if len(ms) != 3 {
		t.Fatalf("expected 3 mentions, got %d", len(ms))
	}

	pump := hasEntity(ms, common.EntityComponent, "hydraulic pump")
	if pump == nil || pump.Surface != "Hydraulic Pump" {
		t.Fatalf("expected pump mention with original surface, got %+v", pump)
	}
	gloves := hasEntity(ms, common.EntitySafetyPrecaution, "wear gloves")
	if gloves == nil || gloves.Confidence != 1 || gloves.Attributes["severity"] != "High" {
		t.Fatalf("expected clamped precaution with severity, got %+v", gloves)
	}
	if !hasRelation(ms, common.RelRequires, "hydraulic pump", "p-12") {
		t.Fatalf("expected lower-cased requires relation")
	}
}

func TestLLMExtractorGivesUp(t *testing.T) {
	client := &fakeExtractionClient{failures: 10}
	x := NewLLMExtractor(NewLLMExtractorParams{Client: client, MaxRetries: 2})
	if _, err := x.Extract(context.Background(), ruleInput("text")); err == nil {
		t.Fatalf("expected error after retries")
	}
	if client.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", client.calls)
	}
}
