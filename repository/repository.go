package repository

import (
	"context"
)

// Repository is a keyed document store with optimistic concurrency.
// Save of an existing document requires the current revision (_rev) in the body,
// a stale or missing revision returns types.ErrConflict.
type Repository interface {
	GetByID(ctx context.Context, id string) (interface{}, error)
	Find(ctx context.Context, selector map[string]interface{}, limit int) ([]interface{}, error)
	Save(ctx context.Context, docID string, data interface{}) (string, error)
	GetDBName() string
	GetClient() interface{}
}

// DBSelector resolves a repository by database name
type DBSelector interface {
	AddDB(db Repository)
	ChooseDB(dbName string) (Repository, error)
}
