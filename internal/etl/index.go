package etl

import (
	"database/sql"

	"dental-etl/internal/dialect"
)

// Conn is the DB-API style handle the core consumes. The connection provider
// (credentials, pooling, retry backoff) lives outside the core; *sql.DB
// satisfies this interface.
type Conn interface {
	Query(query string, args ...any) (*sql.Rows, error)
	Exec(query string, args ...any) (sql.Result, error)
}

// IndexResult reports the outcome of one index definition.
type IndexResult struct {
	Name    string
	Created bool
}

// IndexManager ensures supporting indexes exist on the source tables before
// extraction. Creation is attempted in definition order; an "already exists"
// condition counts as success with Created=false, so consecutive runs against
// the same schema converge on the same index set with no duplicate errors.
type IndexManager struct{}

func (IndexManager) EnsureIndexes(conn Conn, defs []IndexDefinition) ([]IndexResult, error) {
	results := make([]IndexResult, 0, len(defs))
	for _, def := range defs {
		if _, err := conn.Exec(def.DDL); err != nil {
			if dialect.IsDuplicateIndex(err) {
				results = append(results, IndexResult{Name: def.Name})
				continue
			}
			return results, &IndexCreationError{Index: def.Name, Err: err}
		}
		results = append(results, IndexResult{Name: def.Name, Created: true})
	}
	return results, nil
}
