package loader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/maintkg/backend/pkg/common"
	fsloader "github.com/OFFIS-RIT/maintkg/backend/pkg/loader/io"
)

type mapSource map[string]string

func (m mapSource) Get(ctx context.Context, key string) ([]byte, error) {
	v, ok := m[key]
	if !ok {
		return nil, os.ErrNotExist
	}
	return []byte(v), nil
}

func TestDecode(t *testing.T) {
	doc, err := Decode([]byte(`{"id":"std-1","version":2,"segments":[{"text":"Check the pump.","section_id":"4.1","offset":10}]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.ID != "std-1" || doc.Version != 2 || len(doc.Segments) != 1 || doc.Segments[0].Offset != 10 {
		t.Fatalf("unexpected document: %+v", doc)
	}

	for _, bad := range []string{`{"id":`, `{"id":"x","version":1,"unknown":true}`} {
		if _, err := Decode([]byte(bad)); !errors.Is(err, common.ErrInvalidDocument) {
			t.Fatalf("expected ErrInvalidDocument for %s, got %v", bad, err)
		}
	}
}

func TestLoad(t *testing.T) {
	src := mapSource{
		"docs/std-1.json": `{"id":"std-1","version":1,"segments":[]}`,
		"docs/std-2.txt":  "Inspect the relief valve.",
	}

	tests := []struct {
		name   string
		params LoadParams
		wantID string
		segs   int
	}{
		{"json", LoadParams{Key: "docs/std-1.json"}, "std-1", 0},
		{"text id from key", LoadParams{Key: "docs/std-2.txt", Version: 1}, "std-2", 1},
		{"text explicit id", LoadParams{Key: "docs/std-2.txt", ID: "custom", Version: 1}, "custom", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := Load(context.Background(), src, tt.params)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if doc.ID != tt.wantID || len(doc.Segments) != tt.segs {
				t.Fatalf("expected %s with %d segments, got %+v", tt.wantID, tt.segs, doc)
			}
		})
	}

	if _, err := Load(context.Background(), src, LoadParams{Key: "missing.json"}); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not exist error, got %v", err)
	}
}

func TestFromText(t *testing.T) {
	text := strings.Join([]string{
		"Scope of this standard.",
		"",
		"4.1 Hydraulic pump",
		"1. Remove the cover.",
		"2. Inspect the seal.",
		"",
		"Tools: torque wrench",
		"",
		"4.2 Relief valve",
		"Check opening pressure.",
	}, "\n")

	doc, err := FromText(TextParams{ID: "std-1", Version: 1, Text: text})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(doc.Segments) != 3 {
		t.Fatalf("expected 3 segments, got %+v", doc.Segments)
	}

	want := []struct {
		section string
		prefix  string
	}{
		{"preamble", "Scope"},
		{"4.1", "4.1 Hydraulic pump\n1. Remove the cover.\n2. Inspect the seal.\n\nTools: torque wrench"},
		{"4.2", "4.2 Relief valve"},
	}
	for i, w := range want {
		seg := doc.Segments[i]
		if seg.SectionID != w.section || !strings.HasPrefix(seg.Text, w.prefix) {
			t.Fatalf("segment %d: expected section %s with prefix %q, got %+v", i, w.section, w.prefix, seg)
		}
		if !strings.HasPrefix(text[seg.Offset:], strings.SplitN(seg.Text, "\n", 2)[0]) {
			t.Fatalf("segment %d: offset %d does not point at its text", i, seg.Offset)
		}
	}
}

func TestFromTextTokenLimit(t *testing.T) {
	text := "First paragraph about the pump.\n\nSecond paragraph about the valve."
	doc, err := FromText(TextParams{ID: "std-1", Version: 1, Text: text, MaxTokens: 8})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(doc.Segments) != 2 {
		t.Fatalf("expected paragraphs split by the token limit, got %+v", doc.Segments)
	}
}

func TestFromTextRejectsMissingIdentity(t *testing.T) {
	if _, err := FromText(TextParams{Text: "x", Version: 1}); !errors.Is(err, common.ErrInvalidDocument) {
		t.Fatalf("expected ErrInvalidDocument, got %v", err)
	}
	if _, err := FromText(TextParams{ID: "x", Text: "x"}); !errors.Is(err, common.ErrInvalidDocument) {
		t.Fatalf("expected ErrInvalidDocument, got %v", err)
	}
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "std-1.txt"), []byte("Check the pump."), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	src := fsloader.NewFileSource(dir)

	doc, err := Load(context.Background(), src, LoadParams{Key: "std-1.txt", Version: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.ID != "std-1" || doc.Version != 3 || doc.Segments[0].Text != "Check the pump." {
		t.Fatalf("unexpected document: %+v", doc)
	}
	if _, err := src.Get(context.Background(), "missing.txt"); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
