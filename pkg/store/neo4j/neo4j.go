// Package neo4j projects committed graph versions into Neo4j for the
// visualization front-end. The projection is a read model; the versioned
// store stays the source of truth.
package neo4j

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/OFFIS-RIT/maintkg/backend/internal/util"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/common"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/logger"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/store"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

var relTypeRe = regexp.MustCompile(`^[a-z][a-z_]*$`)

// Config configures the sink.
type Config struct {
	URI         string
	User        string
	Password    string
	Database    string
	Timeout     time.Duration
	MaxPoolSize int
}

// Sink implements store.Sink.
type Sink struct {
	driver   neo4j.DriverWithContext
	database string
}

// New connects to Neo4j and ensures the id constraint exists.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("neo4j: uri is empty")
	}
	if cfg.User == "" {
		cfg.User = "neo4j"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxPoolSize <= 0 {
		cfg.MaxPoolSize = 50
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""), func(c *neo4j.Config) {
		c.MaxConnectionPoolSize = cfg.MaxPoolSize
		c.SocketConnectTimeout = cfg.Timeout
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j: init driver: %w", err)
	}

	// the database may still be starting next to us
	err = util.RetryErrWithContext(ctx, 3, func(ctx context.Context) error {
		vctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		return driver.VerifyConnectivity(vctx)
	})
	if err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j: verify connectivity: %w", err)
	}

	s := &Sink{driver: driver, database: cfg.Database}
	s.initSchema(ctx)
	return s, nil
}

func (s *Sink) initSchema(ctx context.Context) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite, DatabaseName: s.database})
	defer session.Close(ctx)

	stmts := []string{
		`CREATE CONSTRAINT kg_node_id_unique IF NOT EXISTS FOR (n:KGNode) REQUIRE n.id IS UNIQUE`,
		`CREATE INDEX kg_node_type IF NOT EXISTS FOR (n:KGNode) ON (n.type)`,
	}
	for _, q := range stmts {
		res, err := session.Run(ctx, q, nil)
		if err != nil {
			logger.Warn("[Neo4j][Schema] init failed, continuing", "err", err)
			continue
		}
		_, _ = res.Consume(ctx)
	}
}

// Project merges the changed nodes and edges of c.
func (s *Sink) Project(ctx context.Context, c store.Commit) error {
	nodes, edgesByRel, err := commitParams(c)
	if err != nil {
		return err
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite, DatabaseName: s.database})
	defer session.Close(ctx)

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if len(nodes) > 0 {
			res, err := tx.Run(ctx, `
UNWIND $nodes AS n
MERGE (k:KGNode {id: n.id})
SET k += n
`, map[string]any{"nodes": nodes})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}

		for _, rel := range slices.Sorted(mapKeys(edgesByRel)) {
			res, err := tx.Run(ctx, edgeQuery(rel), map[string]any{"edges": edgesByRel[rel]})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("neo4j: project version %d: %w", c.Version(), err)
	}

	logger.Debug("[Neo4j][Project] version projected", "version", c.Version(), "nodes", len(nodes), "relations", len(edgesByRel))
	return nil
}

func edgeQuery(rel string) string {
	return fmt.Sprintf(`
UNWIND $edges AS e
MERGE (s:KGNode {id: e.source})
MERGE (t:KGNode {id: e.target})
MERGE (s)-[r:%s {id: e.id}]->(t)
SET r += e.props
`, relationshipType(rel))
}

// relationshipType maps a relation to a Neo4j relationship type, e.g.
// part_of to PART_OF.
func relationshipType(rel string) string {
	return strings.ToUpper(rel)
}

func commitParams(c store.Commit) ([]map[string]any, map[string][]map[string]any, error) {
	nodes := make([]map[string]any, 0, len(c.Nodes))
	for _, n := range c.Nodes {
		nodes = append(nodes, map[string]any{
			"id":         n.ID,
			"type":       string(n.Type),
			"label":      n.Label,
			"aliases":    nonNilStrings(n.Aliases),
			"attributes": attributesJSON(n.Attributes),
			"confidence": n.Confidence,
			"state":      string(n.State),
			"sources":    sources(n.Provenance),
			"created_in": n.CreatedIn,
			"updated_in": n.UpdatedIn,
		})
	}

	edges := map[string][]map[string]any{}
	for _, e := range c.Edges {
		rel := string(e.Relation)
		if !relTypeRe.MatchString(rel) {
			return nil, nil, fmt.Errorf("neo4j: relation %q cannot be projected", rel)
		}
		edges[rel] = append(edges[rel], map[string]any{
			"id":     e.ID,
			"source": e.Source,
			"target": e.Target,
			"props": map[string]any{
				"id":         e.ID,
				"confidence": e.Confidence,
				"state":      string(e.State),
				"sources":    sources(e.Provenance),
				"created_in": e.CreatedIn,
				"updated_in": e.UpdatedIn,
			},
		})
	}
	return nodes, edges, nil
}

// sources flattens provenance into "document@version" strings, since Neo4j
// properties cannot hold nested maps.
func sources(ps []common.Provenance) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, fmt.Sprintf("%s@%d", p.Ref.DocumentID, p.Ref.DocumentVersion))
	}
	return out
}

func attributesJSON(attrs map[string]string) string {
	if len(attrs) == 0 {
		return ""
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return ""
	}
	return string(b)
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func mapKeys[V any](m map[string]V) func(func(string) bool) {
	return func(yield func(string) bool) {
		for k := range m {
			if !yield(k) {
				return
			}
		}
	}
}

// Close closes the driver.
func (s *Sink) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}
