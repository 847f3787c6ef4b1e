package db

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/atomdb/atomdb/atomdb"
)

// ObjectSpace is the catalog over one shared store: a set of named
// databases plus the space-wide literal intern table. All databases share
// the store and commit through the same root pointer, so cross-database
// operations like branching are pointer copies.
type ObjectSpace struct {
	storage  atomdb.SharedStorage
	registry *atomdb.Registry
	logger   *zap.Logger
}

// SpaceOption adjusts object space construction.
type SpaceOption func(*ObjectSpace)

// WithRegistry installs a class registry. The default registry knows the
// core and catalog classes; applications with their own atom classes
// extend NewDefaultRegistry and pass the result here.
func WithRegistry(registry *atomdb.Registry) SpaceOption {
	return func(s *ObjectSpace) { s.registry = registry }
}

// WithLogger installs a logger. Spaces log nothing by default.
func WithLogger(logger *zap.Logger) SpaceOption {
	return func(s *ObjectSpace) { s.logger = logger }
}

// NewObjectSpace returns a space over storage.
func NewObjectSpace(storage atomdb.SharedStorage, opts ...SpaceOption) *ObjectSpace {
	s := &ObjectSpace{
		storage:  storage,
		registry: NewDefaultRegistry(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Storage returns the underlying shared store.
func (s *ObjectSpace) Storage() atomdb.SharedStorage { return s.storage }

// Registry returns the class registry.
func (s *ObjectSpace) Registry() *atomdb.Registry { return s.registry }

// Close closes the underlying store.
func (s *ObjectSpace) Close() error { return s.storage.Close() }

func validateDatabaseName(name string) error {
	if name == "" {
		return atomdb.NewValidationError("database name must not be empty")
	}
	if strings.HasPrefix(name, atomdb.ReservedAttributePrefix) {
		return atomdb.NewValidationError("database name %q uses the reserved prefix %q",
			name, atomdb.ReservedAttributePrefix)
	}
	return nil
}

// NewDatabase creates a database, failing if the name is already taken.
func (s *ObjectSpace) NewDatabase(ctx context.Context, name string) (*Database, error) {
	if err := validateDatabaseName(name); err != nil {
		return nil, err
	}
	tx, err := newObjectTransaction(ctx, s, name, true)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	s.logger.Info("database created", zap.String("database", name))
	return &Database{space: s, name: name}, nil
}

// OpenDatabase returns a handle to an existing database.
func (s *ObjectSpace) OpenDatabase(ctx context.Context, name string) (*Database, error) {
	if err := validateDatabaseName(name); err != nil {
		return nil, err
	}
	tx, err := newObjectTransaction(ctx, s, name, false)
	if err != nil {
		return nil, err
	}
	_ = tx.Abort()
	return &Database{space: s, name: name}, nil
}

// commitCatalogEdit runs a catalog rewrite in its own transaction.
func (s *ObjectSpace) commitCatalogEdit(ctx context.Context,
	edit func(ctx context.Context, objectRoot *Dictionary) (*Dictionary, error)) error {

	tx, err := newObjectTransaction(ctx, s, "", false)
	if err != nil {
		return err
	}
	tx.catalogEdit = edit
	return tx.Commit(ctx)
}

// RenameDatabase renames a database. Transactions already running against
// the old name fail at commit, the same way they would against a dropped
// database.
func (s *ObjectSpace) RenameDatabase(ctx context.Context, oldName, newName string) error {
	if err := validateDatabaseName(oldName); err != nil {
		return err
	}
	if err := validateDatabaseName(newName); err != nil {
		return err
	}
	err := s.commitCatalogEdit(ctx, func(ctx context.Context, objectRoot *Dictionary) (*Dictionary, error) {
		value, err := objectRoot.Get(ctx, oldName)
		if err != nil {
			return nil, err
		}
		if value == nil {
			return nil, atomdb.NewValidationError("database %q does not exist", oldName)
		}
		taken, err := objectRoot.Has(ctx, newName)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, atomdb.NewValidationError("database %q already exists", newName)
		}
		objectRoot, err = objectRoot.Without(ctx, oldName)
		if err != nil {
			return nil, err
		}
		return objectRoot.With(ctx, newName, value)
	})
	if err != nil {
		return err
	}
	s.logger.Info("database renamed", zap.String("from", oldName), zap.String("to", newName))
	return nil
}

// RemoveDatabase drops a database from the catalog. Its atoms stay in the
// store; only the catalog entry goes away.
func (s *ObjectSpace) RemoveDatabase(ctx context.Context, name string) error {
	if err := validateDatabaseName(name); err != nil {
		return err
	}
	err := s.commitCatalogEdit(ctx, func(ctx context.Context, objectRoot *Dictionary) (*Dictionary, error) {
		present, err := objectRoot.Has(ctx, name)
		if err != nil {
			return nil, err
		}
		if !present {
			return nil, atomdb.NewValidationError("database %q does not exist", name)
		}
		return objectRoot.Without(ctx, name)
	})
	if err != nil {
		return err
	}
	s.logger.Info("database removed", zap.String("database", name))
	return nil
}

// NewBranchDatabase creates a new database sharing the source's entire
// committed state. Both databases point at the same immutable graph, so
// the copy is a single catalog entry regardless of data size, and the two
// diverge from there without affecting each other.
func (s *ObjectSpace) NewBranchDatabase(ctx context.Context, sourceName, branchName string) (*Database, error) {
	if err := validateDatabaseName(sourceName); err != nil {
		return nil, err
	}
	if err := validateDatabaseName(branchName); err != nil {
		return nil, err
	}
	err := s.commitCatalogEdit(ctx, func(ctx context.Context, objectRoot *Dictionary) (*Dictionary, error) {
		value, err := objectRoot.Get(ctx, sourceName)
		if err != nil {
			return nil, err
		}
		if value == nil {
			return nil, atomdb.NewValidationError("database %q does not exist", sourceName)
		}
		taken, err := objectRoot.Has(ctx, branchName)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, atomdb.NewValidationError("database %q already exists", branchName)
		}
		return objectRoot.With(ctx, branchName, value)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("database branched",
		zap.String("source", sourceName), zap.String("branch", branchName))
	return &Database{space: s, name: branchName}, nil
}

// ListDatabases returns the catalog names in sorted order.
func (s *ObjectSpace) ListDatabases(ctx context.Context) ([]string, error) {
	tx, err := newObjectTransaction(ctx, s, "", false)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Abort() }()

	if tx.initialRoot == nil {
		return nil, nil
	}
	objectRoot, err := tx.initialRoot.ObjectRoot(ctx)
	if err != nil {
		return nil, err
	}
	return objectRoot.Keys(ctx)
}

// GetLiterals interns a batch of strings in one transaction and returns
// the canonical literal per string.
func (s *ObjectSpace) GetLiterals(ctx context.Context, strs []string) (map[string]*atomdb.Literal, error) {
	tx, err := newObjectTransaction(ctx, s, "", false)
	if err != nil {
		return nil, err
	}

	literals := make(map[string]*atomdb.Literal, len(strs))
	for _, str := range strs {
		lit, err := tx.GetLiteral(ctx, str)
		if err != nil {
			_ = tx.Abort()
			return nil, err
		}
		literals[str] = lit
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return literals, nil
}
