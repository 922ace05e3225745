package store

import (
	"context"

	"github.com/OFFIS-RIT/maintkg/backend/pkg/common"
)

// Commit is one committed batch: the version log entry plus the full state of
// every node and edge the batch changed. Commits are what journals persist and
// what sinks project.
type Commit struct {
	Entry    common.VersionEntry   `json:"entry"`
	Nodes    []common.Node         `json:"nodes"`
	Edges    []common.Edge         `json:"edges"`
	Document *common.ProvenanceRef `json:"document,omitempty"`
}

// Version returns the version the commit produced.
func (c Commit) Version() int64 {
	return c.Entry.Version
}

// Removal reports whether the commit removed its document. Removals carry
// document version zero.
func (c Commit) Removal() bool {
	return c.Document != nil && c.Document.DocumentVersion == 0
}

// Journal durably records commits before they become visible. A failed
// Append aborts the commit.
type Journal interface {
	Append(ctx context.Context, c Commit) error
	// Replay calls fn for every stored commit in ascending version order.
	Replay(ctx context.Context, fn func(Commit) error) error
	Close() error
}

// Sink receives commits after they became visible, e.g. to project the graph
// into a visualization database. Sink failures never affect the commit.
type Sink interface {
	Project(ctx context.Context, c Commit) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, c Commit) error

func (f SinkFunc) Project(ctx context.Context, c Commit) error { return f(ctx, c) }
