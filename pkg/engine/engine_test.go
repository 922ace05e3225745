package engine

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/OFFIS-RIT/maintkg/backend/pkg/common"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/graph"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/query"
)

func standard(version int64, lines ...string) common.Document {
	segs := make([]common.Segment, len(lines))
	offset := 0
	for i, l := range lines {
		segs[i] = common.Segment{Text: l, SectionID: "4.1", Offset: offset}
		offset += len(l) + 1
	}
	return common.Document{ID: "std-1", Version: version, Segments: segs}
}

func TestEngineIngestAndAnswer(t *testing.T) {
	ctx := context.Background()
	var ingests int
	e := New(Config{Hooks: Hooks{OnIngest: func(graph.Report, error) { ingests++ }}})
	defer e.Close()

	rep, err := e.Ingest(ctx, standard(1,
		"Hydraulic pump requires procedure P-7",
		"Control valve requires procedure P-7",
	))
	if err != nil {
		t.Fatalf("unexpected ingest error: %v", err)
	}
	if !rep.Committed || rep.Version != 1 {
		t.Fatalf("expected commit of version 1, got %+v", rep)
	}
	if ingests != 1 {
		t.Fatalf("expected ingest hook to run once, got %d", ingests)
	}

	g, err := e.Graph(0, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(g.Nodes) != 3 || len(g.Edges) != 2 {
		t.Fatalf("expected 3 nodes and 2 edges, got %d and %d", len(g.Nodes), len(g.Edges))
	}
	if !reflect.DeepEqual(e.Documents(), map[string]int64{"std-1": 1}) {
		t.Fatalf("unexpected documents %v", e.Documents())
	}
	if len(e.Versions()) != 1 {
		t.Fatalf("expected one version entry, got %d", len(e.Versions()))
	}

	ans := e.Answer(ctx, "Which components require procedure P-7?")
	if ans.Err() != nil {
		t.Fatalf("unexpected answer error: %v", ans.Err())
	}
	if ans.Intent.TargetType != common.EntityComponent {
		t.Fatalf("expected component intent, got %q", ans.Intent.TargetType)
	}
	if len(ans.Results) != 2 {
		t.Fatalf("expected 2 components, got %d", len(ans.Results))
	}
	for _, r := range ans.Results {
		if r.Node.Type != common.EntityComponent {
			t.Fatalf("expected component result, got %s", r.Node.Type)
		}
		if len(r.Explanation.Citations) == 0 || r.Explanation.Citations[0].DocumentID != "std-1" {
			t.Fatalf("expected citation of std-1, got %+v", r.Explanation.Citations)
		}
	}

	if _, err := e.Remove(ctx, "std-1"); err != nil {
		t.Fatalf("unexpected remove error: %v", err)
	}
	if e.Version() != 2 {
		t.Fatalf("expected version 2 after removal, got %d", e.Version())
	}
	if ans := e.Answer(ctx, "Which components require procedure P-7?"); !errors.Is(ans.Err(), query.ErrQueryUnresolvable) {
		t.Fatalf("expected unresolvable question after removal, got %v", ans.Err())
	}

	old, err := e.Graph(1, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(old.Nodes) != 3 {
		t.Fatalf("expected version 1 to keep 3 nodes, got %d", len(old.Nodes))
	}
}

func TestEngineValidate(t *testing.T) {
	e := New(Config{})
	if err := e.Validate(common.Document{Version: 1}); !errors.Is(err, common.ErrInvalidDocument) {
		t.Fatalf("expected ErrInvalidDocument, got %v", err)
	}
	if err := e.Validate(standard(1, "Pump requires procedure P-7")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEngineClose(t *testing.T) {
	var order []int
	boom := errors.New("boom")
	e := New(Config{Closers: []func() error{
		func() error { order = append(order, 1); return nil },
		func() error { order = append(order, 2); return boom },
	}})
	if err := e.Close(); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if !reflect.DeepEqual(order, []int{2, 1}) {
		t.Fatalf("expected reverse close order, got %v", order)
	}
}

func TestEngineFollowStopsWithContext(t *testing.T) {
	e := New(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var synced atomic.Int64
	go func() {
		e.Follow(ctx, time.Millisecond, func(int64) { synced.Add(1) })
		close(done)
	}()
	for synced.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done
}
