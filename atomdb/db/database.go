package db

import (
	"context"

	"github.com/atomdb/atomdb/atomdb"
)

// Database is a named handle into the catalog. It holds no state of its
// own; every interaction happens through a transaction, which snapshots
// the database's committed root at creation.
type Database struct {
	space *ObjectSpace
	name  string
}

// Name returns the catalog name.
func (d *Database) Name() string { return d.name }

// Space returns the owning object space.
func (d *Database) Space() *ObjectSpace { return d.space }

// NewTransaction begins a transaction against the current committed state
// of this database. It fails if the database no longer exists in the
// catalog.
func (d *Database) NewTransaction(ctx context.Context) (*ObjectTransaction, error) {
	return newObjectTransaction(ctx, d.space, d.name, false)
}

// NewBranchDatabase forks this database under branchName. The branch
// starts from the current committed root, pointer-shared with no data
// copy; commits on either side never affect the other.
func (d *Database) NewBranchDatabase(ctx context.Context, branchName string) (*Database, error) {
	return d.space.NewBranchDatabase(ctx, d.name, branchName)
}

// GetLiteral interns a string in a short-lived transaction of its own and
// commits immediately. Use Transaction.GetLiteral when already inside a
// unit of work.
func (d *Database) GetLiteral(ctx context.Context, s string) (*atomdb.Literal, error) {
	literals, err := d.space.GetLiterals(ctx, []string{s})
	if err != nil {
		return nil, err
	}
	return literals[s], nil
}

// CreatedAt returns the database's creation timestamp from the catalog.
func (d *Database) CreatedAt(ctx context.Context) (atomdb.Value, error) {
	tx, err := d.NewTransaction(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Abort()

	if tx.initialDBRoot == nil {
		return nil, nil
	}
	return tx.initialDBRoot.Get(ctx, keyCreationTimestamp)
}
