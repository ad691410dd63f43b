package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/policyflow/go-core/internal/filter"
	"github.com/policyflow/go-core/pkg/types"
)

// SQLStore serves records from a relational database through
// database/sql. Each entity maps to one table; predicates are rendered
// to parameterized WHERE clauses in the store's dialect, so filtering
// happens at the database rather than in process.
type SQLStore struct {
	db      *sql.DB
	dialect filter.Dialect
	tables  map[string]string
}

// NewSQLStore wraps an open database handle. tables maps entity names
// to table names; entities without a mapping use their own name.
func NewSQLStore(db *sql.DB, dialect filter.Dialect, tables map[string]string) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, tables: tables}
}

// table resolves the entity's table name. The name is interpolated into
// the query text, so it gets the same identifier validation as fields.
func (s *SQLStore) table(entity string) (string, error) {
	t := entity
	if m, ok := s.tables[entity]; ok {
		t = m
	}
	if !filter.ValidIdent(t) {
		return "", fmt.Errorf("invalid table name %q for entity %q", t, entity)
	}
	return t, nil
}

func (s *SQLStore) Search(ctx context.Context, entity string, pred *filter.Predicate) ([]types.Record, error) {
	table, err := s.table(entity)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	clause, args, err := pred.SQL(s.dialect)
	if err != nil {
		return nil, fmt.Errorf("compile filter for %s: %w", entity, err)
	}

	query := fmt.Sprintf("SELECT * FROM %s WHERE %s", table, clause)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", entity, err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", entity, err)
	}
	return records, rows.Err()
}

func (s *SQLStore) Get(ctx context.Context, entity string, key any) (types.Record, error) {
	table, err := s.table(entity)
	if err != nil {
		return nil, fmt.Errorf("get: %w", err)
	}

	var placeholder string
	if s.dialect == filter.Postgres {
		placeholder = "$1"
	} else {
		placeholder = "?"
	}

	query := fmt.Sprintf("SELECT * FROM %s WHERE id = %s", table, placeholder)
	rows, err := s.db.QueryContext(ctx, query, key)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", entity, err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", entity, err)
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	return records[0], nil
}

// scanRecords materializes every row into a Record keyed by column
// name. Byte slices become strings so predicate comparison sees the
// same representation the in-memory store does.
func scanRecords(rows *sql.Rows) ([]types.Record, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []types.Record
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		record := make(types.Record, len(cols))
		for i, col := range cols {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			record[col] = v
		}
		out = append(out, record)
	}
	return out, nil
}
