// Package sqlite persists graph commits in a local SQLite database.
//
// Each commit is stored once as a replayable payload in kg_versions and
// spread over revision tables keyed the way the graph is addressed: nodes by
// id, edges by (source, target, relation), provenance by (item, document,
// document version).
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/OFFIS-RIT/maintkg/backend/pkg/logger"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/store"

	_ "github.com/mattn/go-sqlite3"
)

type migration struct {
	version     int
	description string
	sql         string
}

// New migrations are appended; existing entries never change.
var migrations = []migration{
	{
		version:     1,
		description: "commit journal",
		sql: `
			CREATE TABLE IF NOT EXISTS kg_versions (
				version          INTEGER PRIMARY KEY,
				document_id      TEXT NOT NULL DEFAULT '',
				document_version INTEGER NOT NULL DEFAULT 0,
				committed_at     TEXT NOT NULL,
				payload          BLOB NOT NULL
			);
			CREATE TABLE IF NOT EXISTS kg_node_revisions (
				node_id    TEXT NOT NULL,
				version    INTEGER NOT NULL REFERENCES kg_versions(version),
				type       TEXT NOT NULL,
				label      TEXT NOT NULL,
				state      TEXT NOT NULL,
				confidence REAL NOT NULL,
				PRIMARY KEY (node_id, version)
			);
			CREATE TABLE IF NOT EXISTS kg_edge_revisions (
				edge_id    TEXT NOT NULL,
				version    INTEGER NOT NULL REFERENCES kg_versions(version),
				source_id  TEXT NOT NULL,
				target_id  TEXT NOT NULL,
				relation   TEXT NOT NULL,
				state      TEXT NOT NULL,
				confidence REAL NOT NULL,
				PRIMARY KEY (edge_id, version)
			);
			CREATE INDEX IF NOT EXISTS idx_kg_edge_revisions_key
				ON kg_edge_revisions(source_id, target_id, relation);
		`,
	},
	{
		version:     2,
		description: "provenance rows",
		sql: `
			CREATE TABLE IF NOT EXISTS kg_provenance (
				item_kind        TEXT NOT NULL,
				item_id          TEXT NOT NULL,
				version          INTEGER NOT NULL REFERENCES kg_versions(version),
				document_id      TEXT NOT NULL,
				document_version INTEGER NOT NULL,
				confidence       REAL NOT NULL,
				PRIMARY KEY (item_kind, item_id, version, document_id, document_version)
			);
			CREATE INDEX IF NOT EXISTS idx_kg_provenance_document
				ON kg_provenance(document_id, document_version);
		`,
	},
}

// Journal implements store.Journal on SQLite.
type Journal struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies pending migrations.
func Open(ctx context.Context, path string) (*Journal, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	db.SetMaxOpenConns(1)

	j := &Journal{db: db}
	if err := j.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return j, nil
}

func (j *Journal) migrate(ctx context.Context) error {
	_, err := j.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`)
	if err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var current int
	if err := j.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		logger.Info("[SQLite][Migrate] applying migration", "version", m.version, "description", m.description)

		tx, err := j.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_version (version, description) VALUES (?, ?)",
			m.version, m.description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", m.version, err)
		}
	}
	return nil
}

// Append writes c in one SQLite transaction.
func (j *Journal) Append(ctx context.Context, c store.Commit) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal commit %d: %w", c.Version(), err)
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	v := c.Version()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO kg_versions (version, document_id, document_version, committed_at, payload)
		VALUES (?, ?, ?, ?, ?)`,
		v, c.Entry.DocumentID, c.Entry.DocumentVersion, c.Entry.CommittedAt.Format(time.RFC3339Nano), payload,
	); err != nil {
		return fmt.Errorf("insert version %d: %w", v, err)
	}

	for _, n := range c.Nodes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO kg_node_revisions (node_id, version, type, label, state, confidence)
			VALUES (?, ?, ?, ?, ?, ?)`,
			n.ID, v, string(n.Type), n.Label, string(n.State), n.Confidence,
		); err != nil {
			return fmt.Errorf("insert node %s: %w", n.ID, err)
		}
		for _, p := range n.Provenance {
			if err := insertProvenance(ctx, tx, "node", n.ID, v, p.Ref.DocumentID, p.Ref.DocumentVersion, p.Confidence); err != nil {
				return err
			}
		}
	}
	for _, e := range c.Edges {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO kg_edge_revisions (edge_id, version, source_id, target_id, relation, state, confidence)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.ID, v, e.Source, e.Target, string(e.Relation), string(e.State), e.Confidence,
		); err != nil {
			return fmt.Errorf("insert edge %s: %w", e.ID, err)
		}
		for _, p := range e.Provenance {
			if err := insertProvenance(ctx, tx, "edge", e.ID, v, p.Ref.DocumentID, p.Ref.DocumentVersion, p.Confidence); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

func insertProvenance(ctx context.Context, tx *sql.Tx, kind, id string, version int64, docID string, docVersion int64, conf float64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO kg_provenance (item_kind, item_id, version, document_id, document_version, confidence)
		VALUES (?, ?, ?, ?, ?, ?)`,
		kind, id, version, docID, docVersion, conf,
	)
	if err != nil {
		return fmt.Errorf("insert provenance for %s %s: %w", kind, id, err)
	}
	return nil
}

// Replay implements store.Journal.
func (j *Journal) Replay(ctx context.Context, fn func(store.Commit) error) error {
	rows, err := j.db.QueryContext(ctx, "SELECT version, payload FROM kg_versions ORDER BY version")
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

// History returns the revisions of one node as (version, state) pairs, oldest
// first. It reads the revision table directly and serves audits.
func (j *Journal) History(ctx context.Context, nodeID string) ([]Revision, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT version, state, confidence FROM kg_node_revisions
		WHERE node_id = ? ORDER BY version`, nodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Revision
	for rows.Next() {
		var r Revision
		if err := rows.Scan(&r.Version, &r.State, &r.Confidence); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Revision is one stored state of a node.
type Revision struct {
	Version    int64   `json:"version"`
	State      string  `json:"state"`
	Confidence float64 `json:"confidence"`
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}
