package store

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/OFFIS-RIT/maintkg/backend/pkg/common"
)

func ref(doc string, version int64) common.ProvenanceRef {
	return common.ProvenanceRef{DocumentID: doc, DocumentVersion: version}
}

func provOf(r common.ProvenanceRef, conf float64) []common.Provenance {
	return []common.Provenance{{
		Ref:        r,
		Evidence:   []common.Evidence{{SectionID: "s1", Offset: 0, Surface: "x"}},
		Confidence: conf,
	}}
}

func testNode(id string, t common.EntityType, label string, r common.ProvenanceRef, conf float64) common.Node {
	return common.Node{
		ID:         id,
		Type:       t,
		Label:      label,
		Aliases:    []string{common.NormalizeValue(label)},
		Provenance: provOf(r, conf),
	}
}

func testEdge(id, src, tgt string, rel common.RelationType, r common.ProvenanceRef, conf float64) common.Edge {
	return common.Edge{ID: id, Source: src, Target: tgt, Relation: rel, Provenance: provOf(r, conf)}
}

func mustUpdate(t *testing.T, g *Graph, fn func(*Tx) error) CommitResult {
	t.Helper()
	res, err := g.Update(context.Background(), fn)
	if err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}
	return res
}

func seedPump(t *testing.T, g *Graph) CommitResult {
	t.Helper()
	r := ref("doc-1", 1)
	return mustUpdate(t, g, func(tx *Tx) error {
		tx.SetDocument(r)
		return tx.Upsert(
			[]common.Node{
				testNode("pump", common.EntityComponent, "Hydraulic Pump", r, 0.9),
				testNode("p12", common.EntityProcedure, "Procedure P-12", r, 0.8),
			},
			[]common.Edge{testEdge("e1", "pump", "p12", common.RelRequires, r, 0.8)},
		)
	})
}

func TestUpdateCommitsOneVersion(t *testing.T) {
	g := New()
	res := seedPump(t, g)

	if !res.Committed || res.Version != 1 || res.BaseVersion != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if !reflect.DeepEqual(res.ChangedNodes, []string{"p12", "pump"}) {
		t.Fatalf("expected changed nodes [p12 pump], got %v", res.ChangedNodes)
	}

	n, ok := g.Latest().Node("pump")
	if !ok {
		t.Fatalf("expected pump to exist")
	}
	if n.State != common.StateActive || n.CreatedIn != 1 || n.UpdatedIn != 1 || n.Confidence != 0.9 {
		t.Fatalf("unexpected node %+v", n)
	}

	hist := g.History()
	if len(hist) != 1 || hist[0].DocumentID != "doc-1" || hist[0].DocumentVersion != 1 {
		t.Fatalf("unexpected history %+v", hist)
	}
	if v, ok := g.DocumentVersion("doc-1"); !ok || v != 1 {
		t.Fatalf("expected document record 1, got %d", v)
	}
}

func TestUpdateEmptyDiffDoesNotBumpVersion(t *testing.T) {
	g := New()
	seedPump(t, g)

	r := ref("doc-1", 1)
	res := mustUpdate(t, g, func(tx *Tx) error {
		tx.SetDocument(r)
		tx.RetractDocument("doc-1")
		return tx.Upsert(
			[]common.Node{
				testNode("pump", common.EntityComponent, "Hydraulic Pump", r, 0.9),
				testNode("p12", common.EntityProcedure, "Procedure P-12", r, 0.8),
			},
			[]common.Edge{testEdge("e1", "pump", "p12", common.RelRequires, r, 0.8)},
		)
	})

	if res.Committed || res.Version != 1 {
		t.Fatalf("expected no commit at version 1, got %+v", res)
	}
	if len(g.History()) != 1 {
		t.Fatalf("expected one history entry, got %d", len(g.History()))
	}
}

func TestUpdateRollsBackOnError(t *testing.T) {
	g := New()
	seedPump(t, g)
	before := g.Latest().Graph(true)

	injected := errors.New("injected")
	_, err := g.Update(context.Background(), func(tx *Tx) error {
		tx.RetractDocument("doc-1")
		return injected
	})
	if !errors.Is(err, ErrCommitFailure) || !errors.Is(err, injected) {
		t.Fatalf("expected commit failure wrapping injected error, got %v", err)
	}
	if g.Version() != 1 {
		t.Fatalf("expected version 1, got %d", g.Version())
	}
	if after := g.Latest().Graph(true); !reflect.DeepEqual(before, after) {
		t.Fatalf("expected graph to be unchanged after rollback")
	}
}

func TestUpdateCanceledContext(t *testing.T) {
	g := New()
	ctx, cancel := context.WithCancel(context.Background())

	_, err := g.Update(ctx, func(tx *Tx) error {
		r := ref("doc-1", 1)
		if err := tx.Upsert([]common.Node{testNode("pump", common.EntityComponent, "Pump", r, 0.9)}, nil); err != nil {
			return err
		}
		cancel()
		return nil
	})
	if !errors.Is(err, ErrCommitFailure) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled commit failure, got %v", err)
	}
	if g.Version() != 0 {
		t.Fatalf("expected version 0, got %d", g.Version())
	}
}

type memJournal struct {
	mu      sync.Mutex
	commits []Commit
	fail    error
}

func (j *memJournal) Append(_ context.Context, c Commit) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.fail != nil {
		return j.fail
	}
	j.commits = append(j.commits, c)
	return nil
}

func (j *memJournal) Replay(_ context.Context, fn func(Commit) error) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, c := range j.commits {
		if err := fn(c); err != nil {
			return err
		}
	}
	return nil
}

func (j *memJournal) Close() error { return nil }

func TestUpdateJournalFailureAborts(t *testing.T) {
	j := &memJournal{fail: errors.New("disk full")}
	g := New(WithJournal(j))

	r := ref("doc-1", 1)
	_, err := g.Update(context.Background(), func(tx *Tx) error {
		return tx.Upsert([]common.Node{testNode("pump", common.EntityComponent, "Pump", r, 0.9)}, nil)
	})
	if !errors.Is(err, ErrCommitFailure) {
		t.Fatalf("expected commit failure, got %v", err)
	}
	if g.Version() != 0 {
		t.Fatalf("expected version 0, got %d", g.Version())
	}
	if _, ok := g.Latest().Node("pump"); ok {
		t.Fatalf("expected pump not to be visible")
	}
}

func TestRestoreReplaysJournal(t *testing.T) {
	j := &memJournal{}
	g := New(WithJournal(j))
	seedPump(t, g)
	mustUpdate(t, g, func(tx *Tx) error {
		tx.SetDocument(ref("doc-1", 2))
		tx.RetractDocument("doc-1")
		return nil
	})

	restored := New(WithJournal(j))
	if err := restored.Restore(context.Background()); err != nil {
		t.Fatalf("unexpected restore error: %v", err)
	}
	if restored.Version() != 2 {
		t.Fatalf("expected version 2, got %d", restored.Version())
	}
	for _, v := range []int64{1, 2} {
		want, _ := g.Snapshot(v)
		got, _ := restored.Snapshot(v)
		if !reflect.DeepEqual(want.Graph(true), got.Graph(true)) {
			t.Fatalf("expected restored graph to match at version %d", v)
		}
	}
	if v, _ := restored.DocumentVersion("doc-1"); v != 2 {
		t.Fatalf("expected document version 2, got %d", v)
	}

	r := ref("doc-2", 1)
	mustUpdate(t, g, func(tx *Tx) error {
		tx.SetDocument(r)
		return tx.Upsert([]common.Node{testNode("valve", common.EntityComponent, "Control Valve", r, 0.7)}, nil)
	})
	if err := restored.Restore(context.Background()); err != nil {
		t.Fatalf("unexpected catch-up error: %v", err)
	}
	if restored.Version() != 3 {
		t.Fatalf("expected catch-up to version 3, got %d", restored.Version())
	}
}

func TestRemovalForgetsDocument(t *testing.T) {
	j := &memJournal{}
	g := New(WithJournal(j))
	seedPump(t, g)

	remove := func(tx *Tx) error {
		tx.SetDocument(ref("doc-1", 0))
		tx.RetractDocument("doc-1")
		return nil
	}
	res := mustUpdate(t, g, remove)
	if !res.Committed || res.Version != 2 {
		t.Fatalf("expected removal committed as version 2, got %+v", res)
	}
	if _, ok := g.DocumentVersion("doc-1"); ok {
		t.Fatalf("expected doc-1 to be forgotten")
	}
	if docs := g.Documents(); len(docs) != 0 {
		t.Fatalf("expected no documents, got %v", docs)
	}

	if res := mustUpdate(t, g, remove); res.Committed {
		t.Fatalf("expected repeated removal not to commit, got %+v", res)
	}

	restored := New(WithJournal(j))
	if err := restored.Restore(context.Background()); err != nil {
		t.Fatalf("unexpected restore error: %v", err)
	}
	if _, ok := restored.DocumentVersion("doc-1"); ok {
		t.Fatalf("expected doc-1 to stay forgotten after restore")
	}
}

func TestRetractionAndReactivation(t *testing.T) {
	g := New()
	seedPump(t, g)

	res := mustUpdate(t, g, func(tx *Tx) error {
		tx.SetDocument(ref("doc-1", 2))
		got := tx.RetractDocument("doc-1")
		if len(got.Nodes) != 2 || len(got.Edges) != 1 {
			t.Errorf("expected 2 nodes and 1 edge retracted, got %+v", got)
		}
		return nil
	})
	if res.Version != 2 {
		t.Fatalf("expected version 2, got %d", res.Version)
	}

	snap := g.Latest()
	n, _ := snap.Node("pump")
	if n.State != common.StateRetracted || len(n.Provenance) != 0 {
		t.Fatalf("expected retracted pump without provenance, got %+v", n)
	}
	if !reflect.DeepEqual(n.Aliases, []string{"hydraulic pump"}) {
		t.Fatalf("expected aliases to be kept, got %v", n.Aliases)
	}
	e, _ := snap.EdgeByID("e1")
	if e.State != common.StateRetracted {
		t.Fatalf("expected edge to be retracted, got %s", e.State)
	}
	if out := snap.Out("pump"); len(out) != 0 {
		t.Fatalf("expected no active outgoing edges, got %d", len(out))
	}
	if g := snap.Graph(false); len(g.Nodes) != 0 || len(g.Edges) != 0 {
		t.Fatalf("expected empty active graph, got %+v", g)
	}

	r3 := ref("doc-2", 1)
	mustUpdate(t, g, func(tx *Tx) error {
		tx.SetDocument(r3)
		return tx.Upsert([]common.Node{testNode("pump", common.EntityComponent, "Hydraulic Pump", r3, 0.7)}, nil)
	})

	n, _ = g.Latest().Node("pump")
	if n.State != common.StateActive || n.CreatedIn != 1 || n.UpdatedIn != 3 || n.Confidence != 0.7 {
		t.Fatalf("expected pump reactivated under the same id, got %+v", n)
	}
}

func TestSnapshotAsOf(t *testing.T) {
	g := New()
	seedPump(t, g)
	r := ref("doc-2", 1)
	mustUpdate(t, g, func(tx *Tx) error {
		tx.SetDocument(r)
		return tx.Upsert([]common.Node{testNode("wrench", common.EntityTool, "Torque Wrench", r, 0.7)}, nil)
	})

	v1, err := g.Snapshot(1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := v1.Node("wrench"); ok {
		t.Fatalf("expected wrench to be invisible at version 1")
	}
	if got := len(v1.Graph(false).Nodes); got != 2 {
		t.Fatalf("expected 2 nodes at version 1, got %d", got)
	}

	v0, _ := g.Snapshot(0)
	if v0.Version() != 2 {
		t.Fatalf("expected non-positive as_of to read latest, got %d", v0.Version())
	}
	if _, err := g.Snapshot(5); !errors.Is(err, ErrUnknownVersion) {
		t.Fatalf("expected ErrUnknownVersion, got %v", err)
	}
}

func TestUpsertMergesProvenance(t *testing.T) {
	g := New()
	seedPump(t, g)
	r := ref("doc-2", 4)
	mustUpdate(t, g, func(tx *Tx) error {
		n := testNode("pump", common.EntityComponent, "Hydraulic Pump", r, 0.95)
		n.Aliases = []string{"hp unit"}
		n.Attributes = map[string]string{"location": "bay 2"}
		return tx.Upsert([]common.Node{n}, nil)
	})

	n, _ := g.Latest().Node("pump")
	if len(n.Provenance) != 2 || n.Provenance[0].Ref.DocumentID != "doc-1" {
		t.Fatalf("expected provenance from both documents sorted, got %+v", n.Provenance)
	}
	if n.Confidence != 0.95 {
		t.Fatalf("expected confidence 0.95, got %v", n.Confidence)
	}
	if !reflect.DeepEqual(n.Aliases, []string{"hydraulic pump", "hp unit"}) {
		t.Fatalf("unexpected aliases %v", n.Aliases)
	}
	if n.Label != "Hydraulic Pump" || n.Attributes["location"] != "bay 2" {
		t.Fatalf("unexpected node %+v", n)
	}
}

func TestUpsertRejectsInvalidItems(t *testing.T) {
	r := ref("doc-1", 1)
	tests := []struct {
		name  string
		nodes []common.Node
		edges []common.Edge
	}{
		{name: "node without id", nodes: []common.Node{testNode("", common.EntityTool, "Wrench", r, 0.5)}},
		{name: "dangling edge", edges: []common.Edge{testEdge("e9", "ghost", "pump", common.RelPartOf, r, 0.5)}},
		{name: "self loop", edges: []common.Edge{testEdge("e9", "pump", "pump", common.RelPartOf, r, 0.5)}},
		{name: "type change", nodes: []common.Node{testNode("pump", common.EntityTool, "Hydraulic Pump", r, 0.5)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New()
			seedPump(t, g)
			_, err := g.Update(context.Background(), func(tx *Tx) error {
				return tx.Upsert(tt.nodes, tt.edges)
			})
			if !errors.Is(err, ErrCommitFailure) {
				t.Fatalf("expected commit failure, got %v", err)
			}
			if g.Version() != 1 {
				t.Fatalf("expected version 1, got %d", g.Version())
			}
		})
	}
}

func TestSinkFailureDoesNotAffectCommit(t *testing.T) {
	var sinkErrs int
	var projected []int64
	g := New(
		WithSink(SinkFunc(func(_ context.Context, c Commit) error {
			projected = append(projected, c.Version())
			return errors.New("neo4j down")
		})),
		OnSinkError(func(error) { sinkErrs++ }),
	)
	res := seedPump(t, g)

	if !res.Committed || g.Version() != 1 {
		t.Fatalf("expected commit despite sink failure, got %+v", res)
	}
	if sinkErrs != 1 || !reflect.DeepEqual(projected, []int64{1}) {
		t.Fatalf("expected one failed projection of version 1, got %d %v", sinkErrs, projected)
	}
}

func TestConcurrentUpdatesAreTotallyOrdered(t *testing.T) {
	g := New()
	var wg sync.WaitGroup
	for i, doc := range []string{"doc-a", "doc-b", "doc-c", "doc-d"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := ref(doc, 1)
			_, err := g.Update(context.Background(), func(tx *Tx) error {
				tx.SetDocument(r)
				return tx.Upsert([]common.Node{testNode(doc, common.EntityComponent, doc, r, float64(i+1)/10)}, nil)
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	hist := g.History()
	if len(hist) != 4 {
		t.Fatalf("expected 4 versions, got %d", len(hist))
	}
	for i, e := range hist {
		if e.Version != int64(i+1) || len(e.ChangedNodes) != 1 {
			t.Fatalf("unexpected history entry %d: %+v", i, e)
		}
	}
}
