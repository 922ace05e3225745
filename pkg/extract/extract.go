// Package extract turns normalized document segments into typed mentions.
//
// The Pipeline runs a pluggable Extractor over every segment independently.
// Malformed or empty segments and invalid mentions never abort a document:
// they are collected as Failures in the Report and contribute no mentions.
// An extractor that errors or times out aborts the whole document, since the
// segment's facts would otherwise read as deleted.
package extract

import (
	"context"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/maintkg/backend/pkg/common"
)

// ErrExtractionFailure marks a segment or mention that could not be turned
// into valid mentions, and a document run aborted by its extractor.
var ErrExtractionFailure = errors.New("extraction failure")

// SegmentInput is the unit of work handed to an Extractor.
type SegmentInput struct {
	DocumentID      string
	DocumentVersion int64
	Segment         common.Segment
}

// Provenance returns the mention provenance for this segment.
func (in SegmentInput) Provenance() common.MentionProvenance {
	return common.MentionProvenance{
		DocumentID:      in.DocumentID,
		DocumentVersion: in.DocumentVersion,
		SectionID:       in.Segment.SectionID,
		Offset:          in.Segment.Offset,
	}
}

// Extractor is the pluggable extraction capability. Implementations must be
// safe for concurrent use and must not keep state across segments.
type Extractor interface {
	Extract(ctx context.Context, in SegmentInput) ([]common.Mention, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, in SegmentInput) ([]common.Mention, error)

func (f ExtractorFunc) Extract(ctx context.Context, in SegmentInput) ([]common.Mention, error) {
	return f(ctx, in)
}

// Failure describes one absorbed segment or mention level problem.
type Failure struct {
	DocumentID string `json:"document_id"`
	SectionID  string `json:"section_id"`
	Offset     int    `json:"offset"`
	Mention    string `json:"mention,omitempty"`
	Reason     string `json:"reason"`
}

func (f Failure) Error() string {
	if f.Mention != "" {
		return fmt.Sprintf("%s: %s@%d %s: %s", ErrExtractionFailure, f.SectionID, f.Offset, f.Mention, f.Reason)
	}
	return fmt.Sprintf("%s: %s@%d: %s", ErrExtractionFailure, f.SectionID, f.Offset, f.Reason)
}

func (f Failure) Unwrap() error { return ErrExtractionFailure }

// Report summarizes one pipeline run over a document.
type Report struct {
	DocumentID      string    `json:"document_id"`
	DocumentVersion int64     `json:"document_version"`
	Segments        int       `json:"segments"`
	FailedSegments  int       `json:"failed_segments"`
	Mentions        int       `json:"mentions"`
	Rejected        int       `json:"rejected"`
	Failures        []Failure `json:"failures,omitempty"`
}
