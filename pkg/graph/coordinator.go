// Package graph coordinates incremental updates of the knowledge graph.
//
// A Coordinator turns one document version into exactly one graph version:
// it extracts mentions, resolves them against the current graph, retracts
// whatever the previous version of the document asserted and commits the
// result in a single store transaction. A failed update leaves the graph
// untouched.
package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/maintkg/backend/pkg/common"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/extract"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/leaselock"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/logger"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/resolve"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/store"
)

var (
	// ErrUpdateInProgress is returned when another update holds the document
	// and the coordinator is not configured to wait.
	ErrUpdateInProgress = errors.New("update in progress")
	// ErrStaleDocument is returned for a version older than the last one
	// ingested for the same document.
	ErrStaleDocument = errors.New("stale document version")
)

// Stage names the step of an update that failed.
type Stage string

const (
	StageValidate Stage = "validate"
	StageLock     Stage = "lock"
	StageExtract  Stage = "extract"
	StageResolve  Stage = "resolve"
	StageCommit   Stage = "commit"
)

// UpdateError is returned by Ingest and Remove. The graph is unchanged when
// it is returned.
type UpdateError struct {
	DocumentID string
	Stage      Stage
	Err        error
}

func (e *UpdateError) Error() string {
	return fmt.Sprintf("update of document %s failed at %s: %v", e.DocumentID, e.Stage, e.Err)
}

func (e *UpdateError) Unwrap() error { return e.Err }

// Operation names the kind of update.
type Operation string

const (
	OperationIngest Operation = "ingest"
	OperationRemove Operation = "remove"
)

// Report summarizes one update.
type Report struct {
	Operation       Operation `json:"operation"`
	DocumentID      string    `json:"document_id"`
	DocumentVersion int64     `json:"document_version"`
	BaseVersion     int64     `json:"base_version"`
	Version         int64     `json:"version"`
	Committed       bool      `json:"committed"`

	Extraction extract.Report     `json:"extraction"`
	Skipped    []resolve.Skip     `json:"skipped,omitempty"`
	Conflicts  []resolve.Conflict `json:"conflicts,omitempty"`

	Created     []string `json:"created,omitempty"`
	Reactivated []string `json:"reactivated,omitempty"`
	Retracted   []string `json:"retracted,omitempty"`
	Dropped     []string `json:"dropped,omitempty"`

	ChangedNodes []string      `json:"changed_nodes,omitempty"`
	ChangedEdges []string      `json:"changed_edges,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// Coordinator runs document updates against one graph.
type Coordinator struct {
	graph    *store.Graph
	pipeline *extract.Pipeline
	resolver *resolve.Resolver
	locker   leaselock.Locker

	lockOpts     leaselock.Options
	timeout      time.Duration
	beforeCommit func(ctx context.Context, doc common.Document, plan *resolve.Plan) error
	observer     func(Report, error)
}

// NewCoordinatorParams configures a Coordinator.
//
// Locker defaults to an in-process lock. Timeout bounds extraction and
// resolution of one document and defaults to two minutes.
type NewCoordinatorParams struct {
	Graph    *store.Graph
	Pipeline *extract.Pipeline
	Resolver *resolve.Resolver
	Locker   leaselock.Locker
	// Wait queues concurrent updates of the same document instead of
	// failing them with ErrUpdateInProgress.
	Wait    bool
	Timeout time.Duration
}

type CoordinatorOption func(*Coordinator)

// WithBeforeCommit installs a hook that runs after the update is staged and
// before it is committed. A returned error aborts the update.
func WithBeforeCommit(fn func(ctx context.Context, doc common.Document, plan *resolve.Plan) error) CoordinatorOption {
	return func(c *Coordinator) {
		c.beforeCommit = fn
	}
}

// WithObserver installs a callback invoked after every update attempt.
func WithObserver(fn func(Report, error)) CoordinatorOption {
	return func(c *Coordinator) {
		c.observer = fn
	}
}

func NewCoordinator(params NewCoordinatorParams, opts ...CoordinatorOption) *Coordinator {
	locker := params.Locker
	if locker == nil {
		locker = leaselock.NewLocal()
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	c := &Coordinator{
		graph:    params.Graph,
		pipeline: params.Pipeline,
		resolver: params.Resolver,
		locker:   locker,
		lockOpts: leaselock.Options{Wait: params.Wait, TokenPrefix: "ingest-"},
		timeout:  timeout,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(c)
	}
	return c
}

func lockKey(docID string) string {
	return "document:" + docID
}

// Ingest applies one document version to the graph.
//
// Re-ingesting an unchanged document produces an empty diff and no new
// version. Versions older than the last ingested one are rejected with
// ErrStaleDocument.
func (c *Coordinator) Ingest(ctx context.Context, doc common.Document) (Report, error) {
	start := time.Now()
	report := Report{Operation: OperationIngest, DocumentID: doc.ID, DocumentVersion: doc.Version, BaseVersion: c.graph.Version()}

	fail := func(stage Stage, err error) (Report, error) {
		report.Duration = time.Since(start)
		uerr := &UpdateError{DocumentID: doc.ID, Stage: stage, Err: err}
		logger.Error("[Graph][Ingest] update failed", "document", doc.ID, "version", doc.Version, "stage", stage, "err", err)
		c.observe(report, uerr)
		return report, uerr
	}

	if err := c.pipeline.Validator().Document(doc); err != nil {
		return fail(StageValidate, err)
	}
	if err := c.checkStale(doc); err != nil {
		return fail(StageValidate, err)
	}

	lease, err := c.locker.Acquire(ctx, lockKey(doc.ID), c.lockOpts)
	if err != nil {
		if errors.Is(err, leaselock.ErrBusy) {
			err = ErrUpdateInProgress
		}
		return fail(StageLock, err)
	}
	defer func() {
		_ = lease.Release(context.Background())
	}()

	workCtx, cancel := context.WithTimeout(lease.Context, c.timeout)
	defer cancel()

	logger.Info("[Graph][Ingest] extracting", "document", doc.ID, "version", doc.Version, "segments", len(doc.Segments))

	mentions, extraction, err := c.pipeline.Run(workCtx, doc)
	report.Extraction = extraction
	if err != nil {
		return fail(StageExtract, err)
	}

	stage := StageResolve
	res, err := c.graph.Update(workCtx, func(tx *store.Tx) error {
		if err := c.checkStale(doc); err != nil {
			stage = StageValidate
			return err
		}
		report.BaseVersion = tx.Version()
		ref := common.ProvenanceRef{DocumentID: doc.ID, DocumentVersion: doc.Version}
		tx.SetDocument(ref)

		plan, err := c.resolver.Resolve(mentions, tx)
		if err != nil {
			return err
		}
		report.Skipped = plan.Skipped
		report.Conflicts = plan.Conflicts
		logger.Debug("[Graph][Ingest] resolved", "document", doc.ID, "plan", plan.Describe())

		stage = StageCommit
		before := captureStates(tx, plan)
		previous := tx.RetractDocument(doc.ID)
		if err := tx.Upsert(plan.Nodes, plan.Edges); err != nil {
			return err
		}
		d := diffFacts(tx, plan, before, previous)
		report.Created = d.created
		report.Reactivated = d.reactivated
		report.Retracted = d.retracted
		report.Dropped = d.dropped

		if c.beforeCommit != nil {
			if err := c.beforeCommit(workCtx, doc, plan); err != nil {
				return err
			}
		}
		return workCtx.Err()
	})
	if err != nil {
		if errors.Is(err, ErrStaleDocument) {
			stage = StageValidate
		}
		return fail(stage, err)
	}

	report.Version = res.Version
	report.Committed = res.Committed
	report.ChangedNodes = res.ChangedNodes
	report.ChangedEdges = res.ChangedEdges
	report.Duration = time.Since(start)

	logger.Info("[Graph][Ingest] done",
		"document", doc.ID,
		"document_version", doc.Version,
		"graph_version", report.Version,
		"committed", report.Committed,
		"created", len(report.Created),
		"retracted", len(report.Retracted),
		"conflicts", len(report.Conflicts),
	)
	c.observe(report, nil)
	return report, nil
}

// Remove retracts every fact supported only by the document.
func (c *Coordinator) Remove(ctx context.Context, docID string) (Report, error) {
	start := time.Now()
	report := Report{Operation: OperationRemove, DocumentID: docID, BaseVersion: c.graph.Version()}

	fail := func(stage Stage, err error) (Report, error) {
		report.Duration = time.Since(start)
		uerr := &UpdateError{DocumentID: docID, Stage: stage, Err: err}
		logger.Error("[Graph][Remove] update failed", "document", docID, "stage", stage, "err", err)
		c.observe(report, uerr)
		return report, uerr
	}

	if docID == "" {
		return fail(StageValidate, common.ErrInvalidDocument)
	}

	err := leaselock.WithLease(ctx, c.locker, lockKey(docID), c.lockOpts, func(ctx context.Context) error {
		res, err := c.graph.Update(ctx, func(tx *store.Tx) error {
			report.BaseVersion = tx.Version()
			if v, ok := c.graph.DocumentVersion(docID); ok {
				report.DocumentVersion = v
			}
			tx.SetDocument(common.ProvenanceRef{DocumentID: docID})
			r := tx.RetractDocument(docID)
			for _, id := range append(r.Nodes, r.Edges...) {
				if !stagedActive(tx, id) {
					report.Retracted = append(report.Retracted, id)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		report.Version = res.Version
		report.Committed = res.Committed
		report.ChangedNodes = res.ChangedNodes
		report.ChangedEdges = res.ChangedEdges
		return nil
	})
	if err != nil {
		if errors.Is(err, leaselock.ErrBusy) {
			return fail(StageLock, ErrUpdateInProgress)
		}
		if errors.Is(err, store.ErrCommitFailure) {
			return fail(StageCommit, err)
		}
		return fail(StageLock, err)
	}

	report.Duration = time.Since(start)
	logger.Info("[Graph][Remove] done", "document", docID, "graph_version", report.Version, "retracted", len(report.Retracted))
	c.observe(report, nil)
	return report, nil
}

func (c *Coordinator) checkStale(doc common.Document) error {
	last, ok := c.graph.DocumentVersion(doc.ID)
	if ok && doc.Version < last {
		return fmt.Errorf("%w: %s version %d is older than ingested version %d", ErrStaleDocument, doc.ID, doc.Version, last)
	}
	return nil
}

func (c *Coordinator) observe(r Report, err error) {
	if c.observer != nil {
		c.observer(r, err)
	}
}
