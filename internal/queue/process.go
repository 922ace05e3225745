package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/OFFIS-RIT/maintkg/backend/pkg/engine"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/loader"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/logger"
)

// IngestMsg asks the worker to ingest the document stored under Key.
type IngestMsg struct {
	Key           string `json:"key"`
	DocumentID    string `json:"document_id,omitempty"`
	Version       int64  `json:"version,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// RemoveMsg asks the worker to retract a document.
type RemoveMsg struct {
	DocumentID    string `json:"document_id"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Processor handles queue messages against one engine.
type Processor struct {
	Engine    *engine.Engine
	Source    loader.Source
	MaxTokens int
	// OnRemoved runs after a removal committed, e.g. to delete the stored
	// payloads of the document. A failure is logged, not retried.
	OnRemoved func(ctx context.Context, documentID string) error
}

// Handle implements Handler.
// The graph is synced with the journal first so commits of other workers
// are the base of the update.
func (p *Processor) Handle(ctx context.Context, queueName string, body []byte) error {
	if err := p.Engine.Sync(ctx); err != nil {
		return err
	}
	switch queueName {
	case IngestQueue:
		return p.ProcessIngestMessage(ctx, body)
	case RemoveQueue:
		return p.ProcessRemoveMessage(ctx, body)
	}
	return fmt.Errorf("unknown queue %s", queueName)
}

func (p *Processor) ProcessIngestMessage(ctx context.Context, body []byte) error {
	var msg IngestMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("decode ingest message: %w", err)
	}

	doc, err := loader.Load(ctx, p.Source, loader.LoadParams{
		Key:       msg.Key,
		ID:        msg.DocumentID,
		Version:   msg.Version,
		MaxTokens: p.MaxTokens,
	})
	if err != nil {
		return err
	}

	report, err := p.Engine.Ingest(ctx, doc)
	if err != nil {
		return err
	}
	logger.Info("[Queue][Ingest] document ingested",
		"correlation_id", msg.CorrelationID,
		"document", doc.ID,
		"document_version", doc.Version,
		"graph_version", report.Version,
		"committed", report.Committed,
	)
	return nil
}

func (p *Processor) ProcessRemoveMessage(ctx context.Context, body []byte) error {
	var msg RemoveMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("decode remove message: %w", err)
	}

	report, err := p.Engine.Remove(ctx, msg.DocumentID)
	if err != nil {
		return err
	}
	logger.Info("[Queue][Remove] document removed",
		"correlation_id", msg.CorrelationID,
		"document", msg.DocumentID,
		"graph_version", report.Version,
		"retracted", len(report.Retracted),
	)
	if p.OnRemoved != nil {
		if err := p.OnRemoved(ctx, msg.DocumentID); err != nil {
			logger.Warn("[Queue][Remove] cleanup failed", "document", msg.DocumentID, "err", err)
		}
	}
	return nil
}
