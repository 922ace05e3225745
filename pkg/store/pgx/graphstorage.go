// Package pgx persists graph commits in PostgreSQL.
//
// The tables mirror the logical layout of the graph: kg_nodes keyed by id,
// kg_edges keyed by (source, target, relation), kg_provenance keyed by
// (item, document, document version) and kg_versions as the version log.
// kg_revisions keeps every state an item went through so that the database
// alone answers "as of" audits. Each commit is written in one transaction.
package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/maintkg/backend/internal/util"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/common"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/logger"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

const defaultChunkSize = 250

// GraphJournal implements store.Journal on PostgreSQL.
type GraphJournal struct {
	conn      pgxIConn
	chunkSize int
}

// GraphJournalOption configures a GraphJournal.
type GraphJournalOption func(*GraphJournal)

// WithChunkSize bounds the rows sent per bulk statement.
func WithChunkSize(n int) GraphJournalOption {
	return func(j *GraphJournal) {
		if n > 0 {
			j.chunkSize = n
		}
	}
}

// NewGraphJournal creates a journal on an existing connection or pool. The
// schema must be migrated with Migrate first.
func NewGraphJournal(conn pgxIConn, opts ...GraphJournalOption) *GraphJournal {
	j := &GraphJournal{conn: conn, chunkSize: defaultChunkSize}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(j)
	}
	return j
}

// Append writes c and its items in a single transaction.
func (j *GraphJournal) Append(ctx context.Context, c store.Commit) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal commit %d: %w", c.Version(), err)
	}

	tx, err := j.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	v := c.Version()
	_, err = tx.Exec(ctx, insertVersionSQL,
		v,
		c.Entry.DocumentID,
		c.Entry.DocumentVersion,
		c.Entry.CommittedAt,
		nonNil(c.Entry.ChangedNodes),
		nonNil(c.Entry.ChangedEdges),
		payload,
	)
	if err != nil {
		return fmt.Errorf("insert version %d: %w", v, err)
	}

	err = store.ChunkRange(len(c.Nodes), j.chunkSize, func(start, end int) error {
		logger.Debug("[Pgx][Append] upserting nodes", "version", v, "count", end-start)
		return upsertNodes(ctx, tx, v, c.Nodes[start:end])
	})
	if err != nil {
		return err
	}
	err = store.ChunkRange(len(c.Edges), j.chunkSize, func(start, end int) error {
		logger.Debug("[Pgx][Append] upserting edges", "version", v, "count", end-start)
		return upsertEdges(ctx, tx, v, c.Edges[start:end])
	})
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func upsertNodes(ctx context.Context, tx pgxv5.Tx, version int64, nodes []common.Node) error {
	ids := make([]string, len(nodes))
	types := make([]string, len(nodes))
	labels := make([]string, len(nodes))
	aliases := make([]string, len(nodes))
	attributes := make([]string, len(nodes))
	confidences := make([]float64, len(nodes))
	states := make([]string, len(nodes))
	createdIn := make([]int64, len(nodes))
	revisions := make([]string, len(nodes))

	for i, n := range nodes {
		ids[i] = n.ID
		types[i] = string(n.Type)
		labels[i] = util.SanitizePostgresText(n.Label)
		confidences[i] = n.Confidence
		states[i] = string(n.State)
		createdIn[i] = n.CreatedIn

		if err := marshalInto(&aliases[i], util.SanitizePostgresTexts(nonNil(n.Aliases))); err != nil {
			return err
		}
		attrs := n.Attributes
		if attrs == nil {
			attrs = map[string]string{}
		}
		if err := marshalInto(&attributes[i], attrs); err != nil {
			return err
		}
		if err := marshalInto(&revisions[i], n); err != nil {
			return err
		}
	}

	_, err := tx.Exec(ctx, upsertNodesSQL, ids, types, labels, aliases, attributes, confidences, states, createdIn, version)
	if err != nil {
		return fmt.Errorf("upsert nodes: %w", err)
	}
	if _, err := tx.Exec(ctx, insertRevisionsSQL, "node", ids, version, states, revisions); err != nil {
		return fmt.Errorf("insert node revisions: %w", err)
	}
	return replaceProvenance(ctx, tx, "node", ids, func(i int) []common.Provenance { return nodes[i].Provenance })
}

func upsertEdges(ctx context.Context, tx pgxv5.Tx, version int64, edges []common.Edge) error {
	ids := make([]string, len(edges))
	sources := make([]string, len(edges))
	targets := make([]string, len(edges))
	relations := make([]string, len(edges))
	confidences := make([]float64, len(edges))
	states := make([]string, len(edges))
	createdIn := make([]int64, len(edges))
	revisions := make([]string, len(edges))

	for i, e := range edges {
		ids[i] = e.ID
		sources[i] = e.Source
		targets[i] = e.Target
		relations[i] = string(e.Relation)
		confidences[i] = e.Confidence
		states[i] = string(e.State)
		createdIn[i] = e.CreatedIn
		if err := marshalInto(&revisions[i], e); err != nil {
			return err
		}
	}

	_, err := tx.Exec(ctx, upsertEdgesSQL, ids, sources, targets, relations, confidences, states, createdIn, version)
	if err != nil {
		return fmt.Errorf("upsert edges: %w", err)
	}
	if _, err := tx.Exec(ctx, insertRevisionsSQL, "edge", ids, version, states, revisions); err != nil {
		return fmt.Errorf("insert edge revisions: %w", err)
	}
	return replaceProvenance(ctx, tx, "edge", ids, func(i int) []common.Provenance { return edges[i].Provenance })
}

// replaceProvenance rewrites the provenance rows of the given items to match
// their committed state.
func replaceProvenance(ctx context.Context, tx pgxv5.Tx, kind string, ids []string, provOf func(int) []common.Provenance) error {
	if _, err := tx.Exec(ctx, deleteProvenanceSQL, kind, ids); err != nil {
		return fmt.Errorf("delete %s provenance: %w", kind, err)
	}

	var (
		itemIDs     []string
		docIDs      []string
		docVersions []int64
		confidences []float64
		evidence    []string
	)
	for i, id := range ids {
		for _, p := range provOf(i) {
			var ev string
			if err := marshalInto(&ev, nonNil(p.Evidence)); err != nil {
				return err
			}
			itemIDs = append(itemIDs, id)
			docIDs = append(docIDs, p.Ref.DocumentID)
			docVersions = append(docVersions, p.Ref.DocumentVersion)
			confidences = append(confidences, p.Confidence)
			evidence = append(evidence, ev)
		}
	}
	if len(itemIDs) == 0 {
		return nil
	}
	if _, err := tx.Exec(ctx, insertProvenanceSQL, kind, itemIDs, docIDs, docVersions, confidences, evidence); err != nil {
		return fmt.Errorf("insert %s provenance: %w", kind, err)
	}
	return nil
}

// Replay implements store.Journal.
func (j *GraphJournal) Replay(ctx context.Context, fn func(store.Commit) error) error {
	rows, err := j.conn.Query(ctx, selectPayloadsSQL)
	if err != nil {
		return fmt.Errorf("query versions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			version int64
			payload []byte
		)
		if err := rows.Scan(&version, &payload); err != nil {
			return err
		}
		var c store.Commit
		if err := json.Unmarshal(payload, &c); err != nil {
			return fmt.Errorf("decode version %d: %w", version, err)
		}
		if err := fn(c); err != nil {
			return err
		}
	}
	return rows.Err()
}

// LatestVersion returns the highest journaled version, 0 when empty.
func (j *GraphJournal) LatestVersion(ctx context.Context) (int64, error) {
	var v int64
	err := j.conn.QueryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM kg_versions").Scan(&v)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return 0, nil
	}
	return v, err
}

// Close is a no-op; the pool is owned by the caller.
func (j *GraphJournal) Close() error {
	return nil
}

func marshalInto(dst *string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	*dst = string(b)
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
