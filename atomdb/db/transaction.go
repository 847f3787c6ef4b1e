package db

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atomdb/atomdb/atomdb"
)

// TxState is the lifecycle state of an ObjectTransaction.
type TxState int

const (
	TxRunning TxState = iota
	TxCommitted
	TxAborted
	TxConflicted
)

func (s TxState) String() string {
	switch s {
	case TxRunning:
		return "running"
	case TxCommitted:
		return "committed"
	case TxAborted:
		return "aborted"
	case TxConflicted:
		return "conflicted"
	default:
		return "unknown"
	}
}

// ObjectTransaction is one optimistic unit of work. It snapshots the
// committed root at creation, stages every write in memory, and resolves
// against the then-current committed state only at commit, under the root
// lock. Between transactions nothing is shared but immutable atoms.
type ObjectTransaction struct {
	space    *ObjectSpace
	dbName   string // empty for catalog transactions
	creating bool

	// catalogEdit, when set, rewrites the database catalog inside the
	// commit critical section. Used by the space-level operations.
	catalogEdit func(ctx context.Context, objectRoot *Dictionary) (*Dictionary, error)

	mu             sync.Mutex
	state          TxState
	readCache      map[atomdb.AtomPointer]atomdb.Atom
	newLiterals    map[string]*atomdb.Literal
	stagedMutables map[uuid.UUID]atomdb.Atom
	stagedRoots    map[string]atomdb.Atom
	lockedObjects  map[uuid.UUID]atomdb.Atom

	// Committed state as of transaction start. All nil on an empty store.
	initialRoot        *RootObject
	initialLiteralRoot *Dictionary
	initialDBRoot      *Dictionary
	initialMutableRoot *HashDictionary
}

func newObjectTransaction(ctx context.Context, space *ObjectSpace, dbName string, creating bool) (*ObjectTransaction, error) {
	t := &ObjectTransaction{
		space:          space,
		dbName:         dbName,
		creating:       creating,
		state:          TxRunning,
		readCache:      make(map[atomdb.AtomPointer]atomdb.Atom),
		newLiterals:    make(map[string]*atomdb.Literal),
		stagedMutables: make(map[uuid.UUID]atomdb.Atom),
		stagedRoots:    make(map[string]atomdb.Atom),
		lockedObjects:  make(map[uuid.UUID]atomdb.Atom),
	}

	rootPtr, err := space.storage.ReadCurrentRoot()
	if err != nil {
		return nil, err
	}
	if rootPtr.IsZero() {
		if dbName != "" && !creating {
			return nil, atomdb.NewValidationError("database %q does not exist", dbName)
		}
		return t, nil
	}

	root, err := t.readRootObject(ctx, rootPtr)
	if err != nil {
		return nil, err
	}
	t.initialRoot = root
	if t.initialLiteralRoot, err = root.LiteralRoot(ctx); err != nil {
		return nil, err
	}

	if dbName == "" {
		return t, nil
	}
	objectRoot, err := root.ObjectRoot(ctx)
	if err != nil {
		return nil, err
	}
	value, err := objectRoot.Get(ctx, dbName)
	if err != nil {
		return nil, err
	}
	if value == nil {
		if !creating {
			return nil, atomdb.NewValidationError("database %q does not exist", dbName)
		}
		return t, nil
	}

	dbRoot, ok := value.(*Dictionary)
	if !ok {
		return nil, atomdb.NewCorruptionError("catalog entry for %q is not a dictionary", dbName)
	}
	t.initialDBRoot = dbRoot
	mrValue, err := dbRoot.Get(ctx, keyMutableRoot)
	if err != nil {
		return nil, err
	}
	if mrValue != nil {
		mutableRoot, ok := mrValue.(*HashDictionary)
		if !ok {
			return nil, atomdb.NewCorruptionError("mutable table of %q is not a hash dictionary", dbName)
		}
		t.initialMutableRoot = mutableRoot
	}
	return t, nil
}

func (t *ObjectTransaction) readRootObject(ctx context.Context, pointer atomdb.AtomPointer) (*RootObject, error) {
	atom, err := t.ReadObject(ClassRootObject, pointer)
	if err != nil {
		return nil, err
	}
	root, ok := atom.(*RootObject)
	if !ok {
		return nil, atomdb.NewCorruptionError("root pointer %s does not address a root record", pointer)
	}
	if err := root.Load(ctx); err != nil {
		return nil, err
	}
	return root, nil
}

// State returns the transaction's lifecycle state.
func (t *ObjectTransaction) State() TxState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Storage implements atomdb.Transaction.
func (t *ObjectTransaction) Storage() atomdb.SharedStorage { return t.space.storage }

// Registry implements atomdb.Transaction.
func (t *ObjectTransaction) Registry() *atomdb.Registry { return t.space.registry }

// ReadObject implements atomdb.Transaction. Reads are cached by pointer,
// so the same pointer yields the same instance for the transaction's whole
// life and identity comparison works across paths to it.
func (t *ObjectTransaction) ReadObject(className string, pointer atomdb.AtomPointer) (atomdb.Atom, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if atom, ok := t.readCache[pointer]; ok {
		if atom.ClassName() != className {
			return nil, atomdb.NewCorruptionError("pointer %s referenced as both %q and %q",
				pointer, atom.ClassName(), className)
		}
		return atom, nil
	}
	ctor, ok := t.space.registry.Lookup(className)
	if !ok {
		return nil, atomdb.NewValidationError("class %q is not registered", className)
	}
	atom := ctor(t, pointer)
	t.readCache[pointer] = atom
	return atom, nil
}

// GetLiteral implements atomdb.Transaction. Strings already interned in
// the committed table resolve to their canonical literal; new strings get
// a staged literal merged into the table at commit.
func (t *ObjectTransaction) GetLiteral(ctx context.Context, s string) (*atomdb.Literal, error) {
	t.mu.Lock()
	lit, ok := t.newLiterals[s]
	initial := t.initialLiteralRoot
	t.mu.Unlock()
	if ok {
		return lit, nil
	}

	if initial != nil {
		value, err := initial.Get(ctx, s)
		if err != nil {
			return nil, err
		}
		if canonical, ok := value.(*atomdb.Literal); ok {
			return canonical, nil
		}
	}

	lit = atomdb.NewLiteral(t, s)
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.newLiterals[s]; ok {
		return existing, nil
	}
	t.newLiterals[s] = lit
	return lit, nil
}

// GetMutable implements atomdb.Transaction. Reading a slot does not lock
// it; only a write registers the pre-write snapshot for the commit-time
// conflict check, so pure readers never conflict.
func (t *ObjectTransaction) GetMutable(ctx context.Context, key uuid.UUID) (atomdb.Atom, error) {
	t.mu.Lock()
	if staged, ok := t.stagedMutables[key]; ok {
		t.mu.Unlock()
		return staged, nil
	}
	mutableRoot := t.initialMutableRoot
	t.mu.Unlock()

	if mutableRoot == nil {
		return nil, atomdb.NewValidationError("unknown mutable %s", key)
	}
	value, ok, err := mutableRoot.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, atomdb.NewValidationError("unknown mutable %s", key)
	}
	snapshot, ok := value.(atomdb.Atom)
	if !ok {
		return nil, atomdb.NewCorruptionError("mutable %s does not hold an atom", key)
	}
	return snapshot, nil
}

// SetMutable implements atomdb.Transaction. The first write to a slot
// locks the committed snapshot it replaces, so every write, blind ones
// included, is revalidated at commit.
func (t *ObjectTransaction) SetMutable(ctx context.Context, key uuid.UUID, value atomdb.Atom) error {
	t.mu.Lock()
	if t.state != TxRunning {
		t.mu.Unlock()
		return atomdb.NewValidationError("transaction is %s", t.state)
	}
	_, locked := t.lockedObjects[key]
	_, staged := t.stagedMutables[key]
	mutableRoot := t.initialMutableRoot
	t.mu.Unlock()

	if !locked && !staged && mutableRoot != nil {
		committed, ok, err := mutableRoot.Get(ctx, key)
		if err != nil {
			return err
		}
		if ok {
			snapshot, _ := committed.(atomdb.Atom)
			if err := t.SetLockedObject(key, snapshot); err != nil {
				return err
			}
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.stagedMutables[key] = value
	return nil
}

// SetLockedObject implements atomdb.Transaction. The first snapshot
// registered for a key wins; later registrations are no-ops so rereads
// cannot weaken the check.
func (t *ObjectTransaction) SetLockedObject(key uuid.UUID, snapshot atomdb.Atom) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.lockedObjects[key]; !ok {
		t.lockedObjects[key] = snapshot
	}
	return nil
}

// GetRootObject returns the named root as of the transaction snapshot, or
// the staged value if this transaction rewrote it. Absent roots are nil.
func (t *ObjectTransaction) GetRootObject(ctx context.Context, name string) (atomdb.Atom, error) {
	if strings.HasPrefix(name, atomdb.ReservedAttributePrefix) {
		return nil, atomdb.NewValidationError("root name %q uses the reserved prefix %q",
			name, atomdb.ReservedAttributePrefix)
	}
	t.mu.Lock()
	staged, ok := t.stagedRoots[name]
	dbRoot := t.initialDBRoot
	t.mu.Unlock()
	if ok {
		return staged, nil
	}
	if dbRoot == nil {
		return nil, nil
	}
	value, err := dbRoot.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, nil
	}
	atom, ok := value.(atomdb.Atom)
	if !ok {
		return nil, atomdb.NewCorruptionError("root %q does not hold an atom", name)
	}
	return atom, nil
}

// SetRootObject stages a named root write.
func (t *ObjectTransaction) SetRootObject(name string, value atomdb.Atom) error {
	if strings.HasPrefix(name, atomdb.ReservedAttributePrefix) {
		return atomdb.NewValidationError("root name %q uses the reserved prefix %q",
			name, atomdb.ReservedAttributePrefix)
	}
	if t.dbName == "" {
		return atomdb.NewValidationError("transaction is not bound to a database")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TxRunning {
		return atomdb.NewValidationError("transaction is %s", t.state)
	}
	t.stagedRoots[name] = value
	return nil
}

// RootNames returns the named roots visible to this transaction: the
// snapshot's names plus any staged in this transaction, reserved entries
// excluded.
func (t *ObjectTransaction) RootNames(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	t.mu.Lock()
	for name := range t.stagedRoots {
		seen[name] = struct{}{}
	}
	dbRoot := t.initialDBRoot
	t.mu.Unlock()

	if dbRoot != nil {
		keys, err := dbRoot.Keys(ctx)
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			if strings.HasPrefix(key, atomdb.ReservedAttributePrefix) {
				continue
			}
			seen[key] = struct{}{}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// NewDictionary returns a fresh empty dictionary bound to this
// transaction.
func (t *ObjectTransaction) NewDictionary() *Dictionary { return NewDictionary(t) }

// NewHashDictionary returns a fresh empty hash dictionary bound to this
// transaction.
func (t *ObjectTransaction) NewHashDictionary() *HashDictionary { return NewHashDictionary(t) }

// NewMutable creates a mutable slot handle, stages its initial value, and
// returns the handle.
func (t *ObjectTransaction) NewMutable(ctx context.Context, initial atomdb.Atom) (*atomdb.MutableObject, error) {
	handle := atomdb.NewMutableObject(t)
	if err := handle.Set(ctx, initial); err != nil {
		return nil, err
	}
	return handle, nil
}

// Abort discards all staged work. Nothing was visible outside the
// transaction, so there is nothing to undo in storage. Aborting is always
// safe: a conflicted or already-aborted transaction aborts as a no-op.
func (t *ObjectTransaction) Abort() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == TxCommitted {
		return atomdb.NewValidationError("transaction is %s", t.state)
	}
	t.state = TxAborted
	t.stagedMutables = nil
	t.stagedRoots = nil
	t.newLiterals = nil
	t.lockedObjects = nil
	return nil
}

// failCommit records a commit failure. A conflict leaves the transaction
// conflicted; any other failure leaves it aborted. Either way it cannot
// be reused for further reads or writes.
func (t *ObjectTransaction) failCommit(err error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if atomdb.IsConflict(err) {
		t.state = TxConflicted
	} else {
		t.state = TxAborted
	}
	return err
}

// Commit publishes the staged work atomically.
func (t *ObjectTransaction) Commit(ctx context.Context) error {
	_, err := t.CommitReturning(ctx)
	return err
}

// CommitReturning commits and returns the pointer of the new committed
// root generation.
//
// The protocol: staged atoms are saved before the root lock is taken, so
// the critical section is pointer plumbing only. Under the lock the
// then-current committed state is re-read, every locked snapshot is
// checked against it, staged writes are merged in, and a new root
// generation is published. A failed check leaves the committed root
// untouched and marks the transaction conflicted.
func (t *ObjectTransaction) CommitReturning(ctx context.Context) (atomdb.AtomPointer, error) {
	t.mu.Lock()
	if t.state != TxRunning {
		t.mu.Unlock()
		return atomdb.AtomPointer{}, atomdb.NewValidationError("transaction is %s", t.state)
	}
	stagedMutables := make(map[uuid.UUID]atomdb.Atom, len(t.stagedMutables))
	for k, v := range t.stagedMutables {
		stagedMutables[k] = v
	}
	stagedRoots := make(map[string]atomdb.Atom, len(t.stagedRoots))
	for k, v := range t.stagedRoots {
		stagedRoots[k] = v
	}
	newLiterals := make(map[string]*atomdb.Literal, len(t.newLiterals))
	for k, v := range t.newLiterals {
		newLiterals[k] = v
	}
	locked := make(map[uuid.UUID]atomdb.Atom, len(t.lockedObjects))
	for k, v := range t.lockedObjects {
		locked[k] = v
	}
	t.mu.Unlock()

	if t.dbName == "" && len(stagedMutables)+len(stagedRoots) > 0 {
		return atomdb.AtomPointer{}, atomdb.NewValidationError("transaction is not bound to a database")
	}

	// Pre-lock saves.
	for _, atom := range stagedMutables {
		atom.Bind(t)
		if err := atom.Save(ctx); err != nil {
			return atomdb.AtomPointer{}, t.failCommit(err)
		}
	}
	for _, atom := range stagedRoots {
		atom.Bind(t)
		if err := atom.Save(ctx); err != nil {
			return atomdb.AtomPointer{}, t.failCommit(err)
		}
	}
	for _, lit := range newLiterals {
		if err := lit.Save(ctx); err != nil {
			return atomdb.AtomPointer{}, t.failCommit(err)
		}
	}

	storage := t.space.storage
	committedRootPtr, err := storage.ReadLockCurrentRoot()
	if err != nil {
		return atomdb.AtomPointer{}, t.failCommit(err)
	}

	newRootPtr, err := t.publish(ctx, committedRootPtr, stagedMutables, stagedRoots, newLiterals, locked)
	if err != nil {
		if uerr := storage.UnlockCurrentRoot(); uerr != nil {
			t.space.logger.Error("failed to unlock root after commit error", zap.Error(uerr))
		}
		return atomdb.AtomPointer{}, t.failCommit(err)
	}

	if err := storage.SetCurrentRoot(newRootPtr); err != nil {
		if uerr := storage.UnlockCurrentRoot(); uerr != nil {
			t.space.logger.Error("failed to unlock root after commit error", zap.Error(uerr))
		}
		return atomdb.AtomPointer{}, t.failCommit(err)
	}
	flushErr := storage.FlushWAL()
	if err := storage.UnlockCurrentRoot(); err != nil {
		return atomdb.AtomPointer{}, t.failCommit(err)
	}
	if flushErr != nil {
		return atomdb.AtomPointer{}, t.failCommit(flushErr)
	}

	t.mu.Lock()
	t.state = TxCommitted
	t.mu.Unlock()
	t.space.logger.Debug("transaction committed",
		zap.String("database", t.dbName),
		zap.String("root", newRootPtr.String()),
		zap.Int("mutables", len(stagedMutables)),
		zap.Int("roots", len(stagedRoots)),
		zap.Int("literals", len(newLiterals)))
	return newRootPtr, nil
}

// publish runs inside the root-lock critical section: re-read committed
// state, validate, merge, save the new generation. It never touches the
// committed root pointer itself.
func (t *ObjectTransaction) publish(ctx context.Context, committedRootPtr atomdb.AtomPointer,
	stagedMutables map[uuid.UUID]atomdb.Atom, stagedRoots map[string]atomdb.Atom,
	newLiterals map[string]*atomdb.Literal, locked map[uuid.UUID]atomdb.Atom) (atomdb.AtomPointer, error) {

	var objectRoot, literalRoot *Dictionary
	if committedRootPtr.IsZero() {
		objectRoot = NewDictionary(t)
		literalRoot = NewDictionary(t)
	} else {
		root, err := t.readRootObject(ctx, committedRootPtr)
		if err != nil {
			return atomdb.AtomPointer{}, err
		}
		if objectRoot, err = root.ObjectRoot(ctx); err != nil {
			return atomdb.AtomPointer{}, err
		}
		if literalRoot, err = root.LiteralRoot(ctx); err != nil {
			return atomdb.AtomPointer{}, err
		}
	}

	// Merge new literals, first committer wins per string.
	for s, lit := range newLiterals {
		present, err := literalRoot.Has(ctx, s)
		if err != nil {
			return atomdb.AtomPointer{}, err
		}
		if !present {
			if literalRoot, err = literalRoot.With(ctx, s, lit); err != nil {
				return atomdb.AtomPointer{}, err
			}
		}
	}

	if t.catalogEdit != nil {
		edited, err := t.catalogEdit(ctx, objectRoot)
		if err != nil {
			return atomdb.AtomPointer{}, err
		}
		objectRoot = edited
	}

	if t.dbName != "" {
		dbRoot, mutableRoot, err := t.committedDatabaseRoot(ctx, objectRoot)
		if err != nil {
			return atomdb.AtomPointer{}, err
		}

		// The optimistic check: every snapshot this transaction based
		// itself on must still be the committed value of its slot.
		for key, snapshot := range locked {
			current, ok, err := mutableRoot.Get(ctx, key)
			if err != nil {
				return atomdb.AtomPointer{}, err
			}
			if !ok {
				return atomdb.AtomPointer{}, atomdb.NewConflictError(
					"mutable %s was removed since it was read", key)
			}
			currentAtom, _ := current.(atomdb.Atom)
			if !atomdb.Equal(currentAtom, snapshot) {
				return atomdb.AtomPointer{}, atomdb.NewConflictError(
					"mutable %s changed since it was read", key)
			}
		}

		for key, value := range stagedMutables {
			if mutableRoot, err = mutableRoot.With(ctx, key, value); err != nil {
				return atomdb.AtomPointer{}, err
			}
		}
		if dbRoot, err = dbRoot.With(ctx, keyMutableRoot, mutableRoot); err != nil {
			return atomdb.AtomPointer{}, err
		}
		for name, value := range stagedRoots {
			if dbRoot, err = dbRoot.With(ctx, name, value); err != nil {
				return atomdb.AtomPointer{}, err
			}
		}
		if objectRoot, err = objectRoot.With(ctx, t.dbName, dbRoot); err != nil {
			return atomdb.AtomPointer{}, err
		}
	}

	newRoot := newRootObject(t, objectRoot, literalRoot)
	if err := newRoot.Save(ctx); err != nil {
		return atomdb.AtomPointer{}, err
	}
	return newRoot.Pointer(), nil
}

func (t *ObjectTransaction) committedDatabaseRoot(ctx context.Context, objectRoot *Dictionary) (*Dictionary, *HashDictionary, error) {
	value, err := objectRoot.Get(ctx, t.dbName)
	if err != nil {
		return nil, nil, err
	}
	if value == nil {
		if !t.creating {
			return nil, nil, atomdb.NewValidationError("database %q no longer exists", t.dbName)
		}
		dbRoot := NewDictionary(t)
		if dbRoot, err = dbRoot.With(ctx, keyCreationTimestamp, time.Now().UTC()); err != nil {
			return nil, nil, err
		}
		return dbRoot, NewHashDictionary(t), nil
	}

	dbRoot, ok := value.(*Dictionary)
	if !ok {
		return nil, nil, atomdb.NewCorruptionError("catalog entry for %q is not a dictionary", t.dbName)
	}
	if t.creating {
		return nil, nil, atomdb.NewValidationError("database %q already exists", t.dbName)
	}
	mrValue, err := dbRoot.Get(ctx, keyMutableRoot)
	if err != nil {
		return nil, nil, err
	}
	if mrValue == nil {
		return dbRoot, NewHashDictionary(t), nil
	}
	mutableRoot, ok := mrValue.(*HashDictionary)
	if !ok {
		return nil, nil, atomdb.NewCorruptionError("mutable table of %q is not a hash dictionary", t.dbName)
	}
	return dbRoot, mutableRoot, nil
}
