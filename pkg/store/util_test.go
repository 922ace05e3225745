package store

import (
	"reflect"
	"testing"
)

func TestChunkRange(t *testing.T) {
	tests := []struct {
		total, size int
		want        [][2]int
	}{
		{total: 5, size: 2, want: [][2]int{{0, 2}, {2, 4}, {4, 5}}},
		{total: 3, size: 0, want: [][2]int{{0, 3}}},
		{total: 0, size: 2, want: nil},
	}
	for _, tt := range tests {
		var got [][2]int
		err := ChunkRange(tt.total, tt.size, func(start, end int) error {
			got = append(got, [2]int{start, end})
			return nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("ChunkRange(%d, %d): expected %v, got %v", tt.total, tt.size, tt.want, got)
		}
	}
}

func TestDedupeStrings(t *testing.T) {
	got := DedupeStrings([]string{"b", "", "a", "b", "a"})
	if !reflect.DeepEqual(got, []string{"b", "a"}) {
		t.Fatalf("expected [b a], got %v", got)
	}
}
