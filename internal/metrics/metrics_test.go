package metrics

import (
	"errors"
	"testing"

	"github.com/OFFIS-RIT/maintkg/backend/pkg/extract"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/graph"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveUpdate(t *testing.T) {
	committed := ingestions.WithLabelValues("remove", "committed")
	before := testutil.ToFloat64(committed)
	retracted := factChanges.WithLabelValues("retracted")
	beforeRetracted := testutil.ToFloat64(retracted)

	ObserveUpdate(graph.Report{
		Operation:       graph.OperationRemove,
		DocumentVersion: 3,
		Version:         7,
		Committed:       true,
		Retracted:       []string{"n1", "e1"},
	}, nil)

	if got := testutil.ToFloat64(committed) - before; got != 1 {
		t.Fatalf("expected one committed removal, got %v", got)
	}
	if got := testutil.ToFloat64(retracted) - beforeRetracted; got != 2 {
		t.Fatalf("expected 2 retracted facts, got %v", got)
	}
	if got := testutil.ToFloat64(graphVersion); got != 7 {
		t.Fatalf("expected version gauge 7, got %v", got)
	}
}

func TestUpdateResult(t *testing.T) {
	tests := []struct {
		name   string
		report graph.Report
		err    error
		want   string
	}{
		{name: "committed", report: graph.Report{Committed: true}, want: "committed"},
		{name: "unchanged", report: graph.Report{}, want: "unchanged"},
		{name: "generic error", err: errors.New("boom"), want: "error"},
		{name: "stage error", err: &graph.UpdateError{Stage: graph.StageExtract, Err: errors.New("boom")}, want: "extract"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := updateResult(tt.report, tt.err); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestObserveExtractionFailure(t *testing.T) {
	mention := extractionFailures.WithLabelValues("mention")
	segment := extractionFailures.WithLabelValues("segment")
	beforeMention, beforeSegment := testutil.ToFloat64(mention), testutil.ToFloat64(segment)

	ObserveExtractionFailure(extract.Failure{SectionID: "4.1", Reason: "timeout"})
	ObserveExtractionFailure(extract.Failure{SectionID: "4.1", Mention: "pump", Reason: "unknown type"})

	if testutil.ToFloat64(mention)-beforeMention != 1 || testutil.ToFloat64(segment)-beforeSegment != 1 {
		t.Fatalf("expected one failure per level")
	}
}
