package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/policyflow/go-core/internal/filter"
	"github.com/policyflow/go-core/pkg/types"
)

func TestMemoryStoreSearch(t *testing.T) {
	s := NewMemoryStore()
	s.Put("document", types.Record{"id": 1, "owner_id": "alice", "hidden": false})
	s.Put("document", types.Record{"id": 2, "owner_id": "bob", "hidden": true})
	s.Put("ticket", types.Record{"id": 1, "owner_id": "alice"})

	all, err := s.Search(context.Background(), "document", filter.True())
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("all documents = %d", len(all))
	}

	mine, err := s.Search(context.Background(), "document",
		filter.Compare("owner_id", filter.OpEQ, "alice"))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(mine) != 1 || mine[0]["id"] != 1 {
		t.Errorf("alice's documents = %v", mine)
	}

	none, err := s.Search(context.Background(), "document", filter.False())
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("false predicate returned %v", none)
	}
}

func TestMemoryStoreGet(t *testing.T) {
	s := NewMemoryStore()
	s.Put("document", types.Record{"id": 7, "owner_id": "alice"})

	r, err := s.Get(context.Background(), "document", 7)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if r["owner_id"] != "alice" {
		t.Errorf("owner_id = %v", r["owner_id"])
	}

	// Key comparison is representation-based, so a string key finds a
	// numeric id.
	if _, err := s.Get(context.Background(), "document", "7"); err != nil {
		t.Errorf("string key: %v", err)
	}

	if _, err := s.Get(context.Background(), "document", 8); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if _, err := s.Get(context.Background(), "ghost", 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown entity err = %v, want ErrNotFound", err)
	}
}
