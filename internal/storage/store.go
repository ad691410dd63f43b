// Package storage abstracts the record sources the engine's filter and
// strict phases run against. The engine never touches a database
// directly: it hands a predicate to a RecordStore and gets rows back.
package storage

import (
	"context"
	"errors"

	"github.com/policyflow/go-core/internal/filter"
	"github.com/policyflow/go-core/pkg/types"
)

// ErrNotFound is returned by Get when no record has the given key.
var ErrNotFound = errors.New("storage: record not found")

// RecordStore serves records for one or more entities.
//
// Search applies the predicate at the source where possible; callers
// may still strict-check each returned record, so over-approximate
// results are acceptable, dropped records are not.
type RecordStore interface {
	Search(ctx context.Context, entity string, pred *filter.Predicate) ([]types.Record, error)
	Get(ctx context.Context, entity string, key any) (types.Record, error)
}
